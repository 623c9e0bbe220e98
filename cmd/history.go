package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	historystore "github.com/thatwebagency/ha-superloop/internal/adapters/history"
	"github.com/thatwebagency/ha-superloop/internal/application"
	"github.com/thatwebagency/ha-superloop/internal/domain"
)

func newHistoryCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage the local daily usage history",
	}

	cmd.AddCommand(
		newHistorySyncCmd(app),
		newHistoryListCmd(app),
		newHistoryPruneCmd(app),
	)

	return cmd
}

func newHistorySyncCmd(app *app) *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull the provider's daily usage report into the local store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, store, account, err := historyServiceFor(cmd.Context(), app, accountID)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			serviceID, err := resolveServiceID(cmd.Context(), app, account)
			if err != nil {
				return err
			}

			entries, err := service.Sync(cmd.Context(), serviceID)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Recorded %d daily usage entries for service %s\n", len(entries), serviceID)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Account ID (defaults to the only configured account)")

	return cmd
}

func newHistoryListCmd(app *app) *cobra.Command {
	var (
		accountID string
		days      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored daily usage, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, store, account, err := historyServiceFor(cmd.Context(), app, accountID)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			serviceID, err := resolveServiceID(cmd.Context(), app, account)
			if err != nil {
				return err
			}

			since := app.now().AddDate(0, 0, -days)
			entries, err := service.List(cmd.Context(), serviceID, since)
			if err != nil {
				return err
			}

			for _, entry := range entries {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\tdown %.2f GB\tup %.2f GB\ttotal %.2f GB\n",
					entry.Day.Format("2006-01-02"), entry.DownloadGB, entry.UploadGB, entry.TotalGB)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Account ID (defaults to the only configured account)")
	cmd.Flags().IntVar(&days, "days", 30, "How many days back to list")

	return cmd
}

func newHistoryPruneCmd(app *app) *cobra.Command {
	var (
		accountID     string
		retentionDays int
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop usage entries recorded before the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			service, store, _, err := historyServiceFor(cmd.Context(), app, accountID)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			removed, err := service.Prune(cmd.Context(), time.Duration(retentionDays)*24*time.Hour)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d usage entries\n", removed)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Account ID (defaults to the only configured account)")
	cmd.Flags().IntVar(&retentionDays, "retention-days", 365, "Keep entries recorded within this many days")

	return cmd
}

func historyServiceFor(ctx context.Context, app *app, accountID string) (*application.HistoryService, *historystore.Store, domain.Account, error) {
	account, err := app.resolveAccount(ctx, accountID)
	if err != nil {
		return nil, nil, domain.Account{}, err
	}

	fetcher, err := app.fetcherFor(ctx, account)
	if err != nil {
		return nil, nil, domain.Account{}, err
	}

	store, err := app.openHistoryStore()
	if err != nil {
		return nil, nil, domain.Account{}, err
	}

	return application.NewHistoryService(fetcher, store, app.clock), store, account, nil
}

// resolveServiceID uses the service id pinned on the account, discovering it
// with a one-off refresh when the account has never been polled.
func resolveServiceID(ctx context.Context, app *app, account domain.Account) (string, error) {
	if account.ServiceID != "" {
		return account.ServiceID, nil
	}

	coordinator, err := app.coordinatorFor(ctx, account)
	if err != nil {
		return "", err
	}
	snapshot, err := coordinator.Refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("discover service id: %w", err)
	}

	app.rememberServiceID(ctx, account, snapshot.ServiceID)

	return snapshot.ServiceID, nil
}
