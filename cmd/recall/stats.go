package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/spacedlabs/recall/internal/review"
	"github.com/spacedlabs/recall/internal/statistics"
)

func newStatsCommand() *cobra.Command {
	var (
		userID int64
		year   int
		month  int
	)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show review statistics computed from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ledger := review.NewDBLedger(db)
			reviews, err := ledger.FindByUserSince(cmd.Context(), userID, time.Time{})
			if err != nil {
				return err
			}

			result := statistics.Calculate(reviews, year, month)
			if len(result.Periods) == 0 {
				color.Yellow("no reviews recorded for user %d", userID)
				return nil
			}

			for _, p := range result.Periods {
				fmt.Printf("%s  reviews=%d accuracy=%.1f%% lapse_rate=%.1f%% mean_latency=%.0fms items=%d\n",
					p.Period, p.Reviews, p.Accuracy*100, p.LapseRate*100, p.MeanLatencyMs, p.UniqueItems)
			}
			agg := result.Aggregate
			color.Green("total  reviews=%d accuracy=%.1f%% lapse_rate=%.1f%% items=%d",
				agg.Reviews, agg.Accuracy*100, agg.LapseRate*100, agg.UniqueItems)
			return nil
		},
	}
	statsCmd.Flags().Int64Var(&userID, "user", 0, "user ID")
	statsCmd.Flags().IntVar(&year, "year", 0, "filter by year (0 for all)")
	statsCmd.Flags().IntVar(&month, "month", 0, "filter by month (0 for all)")
	_ = statsCmd.MarkFlagRequired("user")

	return statsCmd
}
