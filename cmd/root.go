package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "superloopctl",
		Short:         "Superloop broadband account monitor",
		Long:          "superloopctl logs in to a Superloop residential broadband account, polls plan usage, and keeps a local daily usage history.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newLoginCmd(app),
		newReauthCmd(app),
		newAccountCmd(app),
		newStatusCmd(app),
		newRefreshCmd(app),
		newWatchCmd(app),
		newHistoryCmd(app),
	)

	return rootCmd
}
