package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	statusadapter "github.com/thatwebagency/ha-superloop/internal/adapters/render/status"
	"github.com/thatwebagency/ha-superloop/internal/domain"
)

func newStatusCmd(app *app) *cobra.Command {
	var (
		accountID string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Fetch and display current usage for configured accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			accounts, err := loadAccounts(cmd.Context(), app, accountID)
			if err != nil {
				return err
			}

			statuses := make([]statusadapter.Status, 0, len(accounts))
			for _, account := range accounts {
				statuses = append(statuses, collectStatus(cmd.Context(), app, account))
			}

			return writeStatusesOutput(cmd, app, statuses, asJSON)
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Account ID (defaults to all configured accounts)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of the rendered view")

	return cmd
}

func loadAccounts(ctx context.Context, app *app, accountID string) ([]domain.Account, error) {
	if accountID == "" {
		return app.repo.List(ctx)
	}

	account, err := app.repo.GetByID(ctx, domain.AccountID(accountID))
	if err != nil {
		return nil, err
	}

	return []domain.Account{account}, nil
}

// collectStatus runs one refresh for the account. Failures degrade to a
// stale entry rather than failing the whole command.
func collectStatus(ctx context.Context, app *app, account domain.Account) statusadapter.Status {
	coordinator, err := app.coordinatorFor(ctx, account)
	if err != nil {
		return statusadapter.Status{Account: account, Stale: true, Err: err}
	}

	if _, err := coordinator.Refresh(ctx); err != nil {
		snapshot, _ := coordinator.Current()
		return statusadapter.Status{Account: account, Snapshot: snapshot, Stale: true, Err: err}
	}

	snapshot, stale := coordinator.Current()
	if snapshot != nil {
		app.rememberServiceID(ctx, account, snapshot.ServiceID)
	}

	return statusadapter.Status{Account: account, Snapshot: snapshot, Stale: stale}
}

func writeStatusesOutput(cmd *cobra.Command, app *app, statuses []statusadapter.Status, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}

	rendered, err := app.statusRenderer(statuses, statusadapter.RenderOptions{Now: app.now()})
	if err != nil {
		return fmt.Errorf("render status: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}
