package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	ctx := newCommandContext(flags)

	rootCmd := &cobra.Command{
		Use:           "trackerctl",
		Short:         "Query the issue tracker through the bridge host",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.addr, "addr", "", "Bridge host websocket URL (default from BRIDGE_ADDR)")
	pf.StringVarP(&flags.trackerFile, "config", "c", "", "Tracker credentials file (yaml or toml)")
	pf.StringVar(&flags.sessionBackend, "session-backend", "", "Session store: memory or redis (default from SESSION_BACKEND)")
	pf.StringVar(&flags.sessionID, "session-id", "", "Redis session namespace shared between invocations")
	pf.StringVar(&flags.cookie, "cookie", "", "Tracker cookie for cookie-mode trackers")
	pf.DurationVar(&flags.timeout, "timeout", 0, "Per-request timeout (default from BRIDGE_TIMEOUT)")

	rootCmd.AddCommand(newMeCommand(ctx))
	rootCmd.AddCommand(newStatusesCommand(ctx))
	rootCmd.AddCommand(newFieldsCommand(ctx))
	rootCmd.AddCommand(newIssueCommand(ctx))
	rootCmd.AddCommand(newSearchCommand(ctx))
	rootCmd.AddCommand(newTransitionsCommand(ctx))
	rootCmd.AddCommand(newTransitionCommand(ctx))
	rootCmd.AddCommand(newAssignCommand(ctx))
	rootCmd.AddCommand(newWorklogCommand(ctx))
	rootCmd.AddCommand(newGuardCommand(ctx))

	return rootCmd
}
