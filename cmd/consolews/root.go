package main

import (
	"github.com/spf13/cobra"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
	verbose    bool
	identity   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "consolews",
		Short: "Console push channel client",
		Long: `consolews opens the console's per-user WebSocket push channel, keeps it
alive with heartbeats and reconnects, and lets you watch or send frames.

The identity comes from --identity, session.identity in the config file, or
the login-user endpoint using the configured session cookie or token.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default: built-in defaults)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.identity, "identity", "", "identity to connect as (overrides config and login lookup)")

	cmd.AddCommand(newTailCmd(opts))
	cmd.AddCommand(newSendCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
