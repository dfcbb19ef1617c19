package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newClearCmd(global *globalOptions) *cobra.Command {
	var (
		so storageOptions
		lo limiterOptions
	)

	cmd := &cobra.Command{
		Use:   "clear <pattern>",
		Short: "Delete rate limit records whose identifier matches a glob",
		Long: `Deletes every sliding window, token bucket, and distributed record whose
identifier matches the Redis glob pattern. Matching uses SCAN, so it is safe
on a live server.`,
		Example: `  turnstile clear 'user:*' --storage redis
  turnstile clear 'anonymous:10.0.0.7:*' --storage redis`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, global, &so, &lo)
			if err != nil {
				return err
			}
			sess, err := openSession(cfg)
			if err != nil {
				return err
			}
			defer sess.Close()

			n, err := sess.svc.Clear(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d records matching %q\n", n, args[0])
			return nil
		},
	}

	so.addFlags(cmd)
	lo.addFlags(cmd)
	return cmd
}

func newStatsCmd(global *globalOptions) *cobra.Command {
	var (
		so storageOptions
		lo limiterOptions
	)

	cmd := &cobra.Command{
		Use:     "stats <identifier>",
		Short:   "Show the retained sliding window entries of an identifier",
		Example: `  turnstile stats user-42 --storage redis`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, global, &so, &lo)
			if err != nil {
				return err
			}
			sess, err := openSession(cfg)
			if err != nil {
				return err
			}
			defer sess.Close()

			stats, err := sess.svc.Stats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}

	so.addFlags(cmd)
	lo.addFlags(cmd)
	return cmd
}
