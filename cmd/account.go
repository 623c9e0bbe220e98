package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thatwebagency/ha-superloop/internal/domain"
)

func newAccountCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage configured accounts",
	}

	cmd.AddCommand(
		newAccountListCmd(app),
		newAccountRemoveCmd(app),
	)

	return cmd
}

func newAccountListCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			accounts, err := app.repo.List(cmd.Context())
			if err != nil {
				return err
			}

			for _, account := range accounts {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", account.ID, account.Email, account.Method)
			}

			return nil
		},
	}
}

func newAccountRemoveCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <account-id>",
		Short: "Remove an account and its stored secrets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := app.repo.GetByID(cmd.Context(), domain.AccountID(args[0]))
			if err != nil {
				return err
			}

			// Secrets go first so a failed repo delete leaves no orphaned
			// credentials behind a dangling reference.
			if account.SecretRef != "" {
				if err := app.secretStore.Delete(cmd.Context(), account.SecretRef); err != nil {
					app.logger.Warn("delete stored credentials", "account", account.ID, "error", err)
				}
			}
			if account.RefreshSecretRef != "" {
				if err := app.secretStore.Delete(cmd.Context(), account.RefreshSecretRef); err != nil {
					app.logger.Warn("delete stored refresh token", "account", account.ID, "error", err)
				}
			}

			if err := app.repo.Delete(cmd.Context(), account.ID); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed account %s\n", account.ID)
			return nil
		},
	}
}
