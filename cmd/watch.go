package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thatwebagency/ha-superloop/internal/application"
)

func newWatchCmd(app *app) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll usage on an interval until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			account, err := app.resolveAccount(ctx, accountID)
			if err != nil {
				return err
			}

			coordinator, err := app.coordinatorFor(ctx, account)
			if err != nil {
				return err
			}

			updates := coordinator.Subscribe(4)
			go func() {
				for update := range updates {
					logUpdate(app, string(account.ID), update)
				}
			}()

			app.logger.Info("watching usage", "account", account.ID, "interval", app.pollInterval)

			if err := coordinator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Account ID (defaults to the only configured account)")

	return cmd
}

func logUpdate(app *app, accountID string, update application.Update) {
	if update.Err != nil {
		app.logger.Warn("usage refresh failed", "account", accountID, "stale", update.Stale, "error", update.Err)
		return
	}
	if update.Snapshot == nil {
		return
	}

	app.logger.Info("usage refreshed",
		"account", accountID,
		"service", update.Snapshot.ServiceID,
		"used_gb", update.Snapshot.DataUsedGB,
		"unlimited", update.Snapshot.Unlimited(),
		"stale", update.Stale,
	)
}
