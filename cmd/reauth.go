package cmd

import "github.com/spf13/cobra"

func newReauthCmd(app *app) *cobra.Command {
	var (
		accountID string
		email     string
		password  string
	)

	cmd := &cobra.Command{
		Use:   "reauth",
		Short: "Re-collect credentials for an existing account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := app.resolveAccount(cmd.Context(), accountID)
			if err != nil {
				return err
			}

			flow := newSetupFlow(app)
			if _, err := flow.BeginReauth(cmd.Context(), account.ID); err != nil {
				return err
			}

			if email == "" {
				email = account.Email
			}

			return runPasswordLogin(cmd, flow, email, password)
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Account ID (defaults to the only configured account)")
	cmd.Flags().StringVar(&email, "email", "", "Account email address (defaults to the stored one)")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted when omitted)")

	return cmd
}
