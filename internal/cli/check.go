package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Turnstile/internal/limiter"
	"github.com/SmitUplenchwar2687/Turnstile/internal/policy"
	"github.com/SmitUplenchwar2687/Turnstile/internal/window"
)

// Check kinds accepted by --algorithm.
const (
	checkSliding     = "sliding_window"
	checkBucket      = "token_bucket"
	checkDistributed = "distributed"
	checkTier        = "tier"
	checkPeek        = "peek"
)

// checkOptions describe one kind of check and its parameters. They are shared
// by the check and simulate commands.
type checkOptions struct {
	algorithm string
	limit     int
	window    string
	rate      int
	burst     int
	tier      string
	endpoint  string
	server    string
}

func (o *checkOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.algorithm, "algorithm", checkSliding, "check to run (sliding_window, token_bucket, distributed, tier, peek)")
	cmd.Flags().IntVar(&o.limit, "limit", 10, "requests allowed per window")
	cmd.Flags().StringVar(&o.window, "window", "1m", "window in <n><s|m|h|d> form")
	cmd.Flags().IntVar(&o.rate, "rate", 10, "tokens refilled per window (token_bucket only)")
	cmd.Flags().IntVar(&o.burst, "burst", 0, "bucket ceiling (token_bucket only, 0 = same as rate)")
	cmd.Flags().StringVar(&o.tier, "tier", string(policy.TierAnonymous), "caller tier (tier only)")
	cmd.Flags().StringVar(&o.endpoint, "endpoint", policy.EndpointDefault, "endpoint class (tier only)")
	cmd.Flags().StringVar(&o.server, "server", "", "node id (distributed only, default --server-id)")
}

func (o checkOptions) validate() error {
	switch o.algorithm {
	case checkSliding, checkBucket, checkDistributed, checkTier, checkPeek:
		return nil
	default:
		return fmt.Errorf("unknown algorithm %q, must be one of: sliding_window, token_bucket, distributed, tier, peek", o.algorithm)
	}
}

// run performs the check for id. Input errors are returned; store failures are
// already resolved by the service's failure policy.
func (o checkOptions) run(ctx context.Context, svc *limiter.Service, id string) (limiter.Result, error) {
	switch o.algorithm {
	case checkSliding:
		return svc.RateLimit(ctx, id, o.limit, o.window)
	case checkTier:
		tier, err := policy.ParseTier(o.tier)
		if err != nil {
			return limiter.Result{}, err
		}
		return svc.MultiTier(ctx, id, tier, o.endpoint)
	}

	w, err := window.Parse(o.window)
	if err != nil {
		return limiter.Result{}, limiter.ErrInvalidInput.Wrap(err)
	}
	switch o.algorithm {
	case checkBucket:
		burst := o.burst
		if burst == 0 {
			burst = o.rate
		}
		return svc.Burst(ctx, id, o.rate, burst, w)
	case checkDistributed:
		return svc.Distributed(ctx, id, o.limit, w, o.server)
	case checkPeek:
		return svc.Peek(ctx, id, o.limit, w)
	default:
		return limiter.Result{}, o.validate()
	}
}

// CheckRecord is one check printed by the check command.
type CheckRecord struct {
	Identifier string         `json:"identifier"`
	Result     limiter.Result `json:"result"`
}

func newCheckCmd(global *globalOptions) *cobra.Command {
	var (
		count      int
		outputJSON bool
		check      checkOptions
		so         storageOptions
		lo         limiterOptions
	)

	cmd := &cobra.Command{
		Use:   "check <identifier>...",
		Short: "Run rate limit checks against the configured store",
		Long: `Runs one or more checks for each identifier and prints the decisions.
Against Redis the checks share state with every running server.`,
		Example: `  turnstile check user-42 --limit 5 --window 1m --count 7
  turnstile check 10.0.0.7 --algorithm tier --tier anonymous --endpoint auth
  turnstile check job --algorithm distributed --storage redis --server node-a`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := check.validate(); err != nil {
				return err
			}
			if count <= 0 {
				return fmt.Errorf("count must be positive, got %d", count)
			}
			cfg, err := resolveConfig(cmd, global, &so, &lo)
			if err != nil {
				return err
			}
			sess, err := openSession(cfg)
			if err != nil {
				return err
			}
			defer sess.Close()

			var records []CheckRecord
			for i := 0; i < count; i++ {
				for _, id := range args {
					res, err := check.run(cmd.Context(), sess.svc, id)
					if err != nil {
						return err
					}
					records = append(records, CheckRecord{Identifier: id, Result: res})
				}
			}

			if outputJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			printCheckRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 1, "checks to run per identifier")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")
	check.addFlags(cmd)
	so.addFlags(cmd)
	lo.addFlags(cmd)

	return cmd
}

func printCheckRecords(w io.Writer, records []CheckRecord) {
	for i, rec := range records {
		fmt.Fprintf(w, "#%03d %s\n", i+1, formatResult(rec.Identifier, rec.Result))
	}
}

func formatResult(id string, res limiter.Result) string {
	status := "ALLOW"
	if !res.Success {
		status = "DENY "
	}
	line := fmt.Sprintf("[%s] key=%s remaining=%d/%d", status, id, res.Remaining, res.Limit)
	if res.RetryAfter > 0 {
		line += fmt.Sprintf(" retry_after=%s", res.RetryAfter)
	}
	return line
}
