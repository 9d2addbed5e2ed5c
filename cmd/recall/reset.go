package main

import (
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newResetCommand() *cobra.Command {
	var (
		userID int64
		itemID int64
	)

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Soft-reset an item's scheduling state to its seed values",
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
			state, err := svc.ResetItem(cmd.Context(), userID, itemID, time.Now())
			if err != nil {
				return err
			}

			color.Green("reset item %d for user %d: next review due %s (version %d)",
				itemID, userID, state.DueAt.Format(time.RFC3339), state.Version)
			return nil
		},
	}
	resetCmd.Flags().Int64Var(&userID, "user", 0, "user ID")
	resetCmd.Flags().Int64Var(&itemID, "item", 0, "item ID")
	_ = resetCmd.MarkFlagRequired("user")
	_ = resetCmd.MarkFlagRequired("item")

	return resetCmd
}
