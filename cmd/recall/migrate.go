package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/spacedlabs/recall/internal/database"
)

func newMigrateCommand() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Schema migration commands",
	}

	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
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

				if err := database.MigrateUp(db); err != nil {
					return err
				}
				color.Green("schema is up to date")
				return nil
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
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

				if err := database.MigrateDown(db); err != nil {
					return err
				}
				color.Yellow("rolled back one migration")
				return nil
			},
		},
	)

	return migrateCmd
}
