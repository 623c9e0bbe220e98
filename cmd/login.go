package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	authadapter "github.com/thatwebagency/ha-superloop/internal/adapters/auth"
	"github.com/thatwebagency/ha-superloop/internal/application"
)

func newLoginCmd(app *app) *cobra.Command {
	var (
		email    string
		password string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Configure an account with email and password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			flow := newSetupFlow(app)
			return runPasswordLogin(cmd, flow, email, password)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email address")
	cmd.Flags().StringVar(&password, "password", "", "Account password (prompted when omitted)")

	cmd.AddCommand(newLoginBrowserCmd(app))

	return cmd
}

func newLoginBrowserCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "browser",
		Short: "Configure an account via the customer portal in a browser",
		RunE: func(cmd *cobra.Command, _ []string) error {
			flow := newSetupFlow(app)
			return runBrowserLogin(cmd, app, flow)
		},
	}
}

func newSetupFlow(app *app) *application.SetupFlow {
	manager := application.NewSessionManager(app.client, application.SessionManagerOptions{
		Clock:  app.clock,
		Logger: app.logger,
	})

	return application.NewSetupFlow(app.repo, app.secretStore, manager, app.clock)
}

func runPasswordLogin(cmd *cobra.Command, flow *application.SetupFlow, email, password string) error {
	reader := bufio.NewReader(cmd.InOrStdin())

	var err error
	if email == "" {
		email, err = promptLine(cmd, reader, "Email: ")
		if err != nil {
			return err
		}
	}
	if password == "" {
		password, err = promptLine(cmd, reader, "Password: ")
		if err != nil {
			return err
		}
	}

	result, err := flow.SubmitUser(cmd.Context(), email, password)
	if err != nil {
		return err
	}

	return finishFlow(cmd, flow, reader, result)
}

func runBrowserLogin(cmd *cobra.Command, app *app, flow *application.SetupFlow) error {
	state, err := authadapter.NewState()
	if err != nil {
		return fmt.Errorf("generate login state: %w", err)
	}

	server, err := authadapter.StartCallbackServer(app.browserLogin.ListenAddr, state)
	if err != nil {
		return fmt.Errorf("start callback server: %w", err)
	}

	portalURL, err := authadapter.BuildPortalURL(app.browserLogin.PortalURL, server.RedirectURI(), state)
	if err != nil {
		_ = server.Close()
		return fmt.Errorf("build portal url: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Open this URL to sign in:\n%s\n", portalURL)

	token, err := server.WaitForToken(app.browserLogin.Timeout)
	if err != nil {
		return fmt.Errorf("wait for portal callback: %w", err)
	}

	result, err := flow.SubmitBrowserAuth(cmd.Context(), token)
	if err != nil {
		return err
	}

	return finishFlow(cmd, flow, bufio.NewReader(cmd.InOrStdin()), result)
}

// finishFlow walks the wizard to completion: verification code prompts loop
// until the provider accepts a code or kills the challenge.
func finishFlow(cmd *cobra.Command, flow *application.SetupFlow, reader *bufio.Reader, result application.StepResult) error {
	for {
		switch {
		case result.Abort == application.AbortAlreadyConfigured:
			return errors.New("an account with that email is already configured")
		case result.Abort == application.AbortReauthSuccessful:
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Re-authenticated account %s\n", result.Account.ID)
			return nil
		case result.Account != nil:
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configured account %s (%s)\n", result.Account.ID, result.Account.Email)
			return nil
		case result.ErrorCode != "":
			return fmt.Errorf("login failed: %s", result.ErrorCode)
		case result.Step == application.StepTwoFactor:
			code, err := promptLine(cmd, reader, "Verification code: ")
			if err != nil {
				return err
			}
			result, err = flow.SubmitTwoFactor(cmd.Context(), code)
			if err != nil {
				return err
			}
			if result.ErrorCode == application.ErrorCodeInvalidCode {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Invalid code, try again.")
				result = application.StepResult{Step: application.StepTwoFactor}
			}
		default:
			return fmt.Errorf("login flow stopped at step %q", result.Step)
		}
	}
}

func promptLine(cmd *cobra.Command, reader *bufio.Reader, label string) (string, error) {
	_, _ = fmt.Fprint(cmd.OutOrStdout(), label)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read input: %w", err)
	}

	return strings.TrimSpace(line), nil
}
