package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root turnstile command.
func NewRootCmd() *cobra.Command {
	var global globalOptions

	root := &cobra.Command{
		Use:   "turnstile",
		Short: "Distributed rate limiting backed by Redis",
		Long: `Turnstile enforces per-identifier request limits shared by every
instance of a service: sliding windows, token buckets, tiered policies,
and a global limit aggregated across nodes.`,
		SilenceUsage: true,
	}
	global.addFlags(root)

	root.AddCommand(
		newServeCmd(&global),
		newCheckCmd(&global),
		newSimulateCmd(),
		newClearCmd(&global),
		newStatsCmd(&global),
	)

	return root
}
