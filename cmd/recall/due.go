package main

import (
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newDueCommand() *cobra.Command {
	var userID int64

	dueCmd := &cobra.Command{
		Use:   "due",
		Short: "Show how many items are due for a user",
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

			svc := buildService(cfg, db)
			count, err := svc.GetDueCount(cmd.Context(), userID, time.Now())
			if err != nil {
				return err
			}

			if count == 0 {
				color.Green("user %d has no items due", userID)
				return nil
			}
			color.Yellow("user %d has %d items due", userID, count)
			return nil
		},
	}
	dueCmd.Flags().Int64Var(&userID, "user", 0, "user ID")
	_ = dueCmd.MarkFlagRequired("user")

	return dueCmd
}
