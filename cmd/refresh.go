package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thatwebagency/ha-superloop/internal/domain"
)

func newRefreshCmd(app *app) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Force a usage refresh for one account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := app.resolveAccount(cmd.Context(), accountID)
			if err != nil {
				return err
			}

			coordinator, err := app.coordinatorFor(cmd.Context(), account)
			if err != nil {
				return err
			}

			var snapshot domain.UsageSnapshot
			err = runFetchSpinner(cmd.Context(), cmd.OutOrStdout(), "Refreshing usage...", func(ctx context.Context) error {
				var refreshErr error
				snapshot, refreshErr = coordinator.Refresh(ctx)
				return refreshErr
			})
			if err != nil {
				return err
			}

			app.rememberServiceID(cmd.Context(), account, snapshot.ServiceID)

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "service %s: %.2f GB used", snapshot.ServiceID, snapshot.DataUsedGB)
			if snapshot.Unlimited() {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), " (unlimited)")
			} else {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), " of %.2f GB\n", *snapshot.DataLimitGB)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Account ID (defaults to the only configured account)")

	return cmd
}
