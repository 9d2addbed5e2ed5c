package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/spacedlabs/recall/internal/bootstrap"
	"github.com/spacedlabs/recall/internal/idempotency"
)

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run the idempotency-key garbage collector until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}

			guard := idempotency.NewDBGuard(db, time.Duration(cfg.Idempotency.TTLSeconds)*time.Second)
			sweeper := idempotency.NewSweeper(guard, time.Duration(cfg.Idempotency.SweepSeconds)*time.Second, slog.Default())

			app := bootstrap.New()
			app.AddShutdownHook(func(ctx context.Context) error {
				return db.Close()
			})

			slog.Info("starting idempotency sweeper",
				"interval_seconds", cfg.Idempotency.SweepSeconds,
				"ttl_seconds", cfg.Idempotency.TTLSeconds)
			return app.Run(cmd.Context(), sweeper.Run)
		},
	}
}
