package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Turnstile/internal/clock"
	"github.com/SmitUplenchwar2687/Turnstile/internal/limiter"
	"github.com/SmitUplenchwar2687/Turnstile/internal/storage"
)

func newSimulateCmd() *cobra.Command {
	var (
		requests    int
		keys        []string
		fastForward time.Duration
		outputJSON  bool
		check       checkOptions
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a rate limit scenario on a virtual clock",
		Long: `Runs checks against an in-memory store driven by a virtual clock, so
limits can be observed over minutes or hours without waiting.

The scenario sends a batch of requests per key, optionally fast-forwards
time, then sends another batch to show how the limit recovers.`,
		Example: `  turnstile simulate --requests 15 --limit 10 --window 1m --fast-forward 1m
  turnstile simulate --algorithm token_bucket --rate 5 --burst 10 --window 1s --fast-forward 2s
  turnstile simulate --algorithm tier --tier anonymous --endpoint auth --requests 8 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := check.validate(); err != nil {
				return err
			}
			if len(keys) == 0 {
				keys = []string{"test-user"}
			}

			vc := clock.NewVirtualClock(time.Now().Truncate(time.Second))
			store, err := storage.NewMemoryStore(&storage.MemoryConfig{Clock: vc})
			if err != nil {
				return err
			}
			defer store.Close()

			svc, err := limiter.New(store, limiter.WithClock(vc), limiter.WithServerID("simulated"))
			if err != nil {
				return err
			}

			result, err := runSimulation(cmd.Context(), vc, svc, check, keys, requests, fastForward)
			if err != nil {
				return err
			}

			if outputJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printSimulation(cmd.OutOrStdout(), &result)
			return nil
		},
	}

	cmd.Flags().IntVar(&requests, "requests", 15, "number of requests to send per batch")
	cmd.Flags().StringSliceVar(&keys, "keys", nil, "comma-separated identifiers to simulate")
	cmd.Flags().DurationVar(&fastForward, "fast-forward", 0, "time to fast-forward between batches")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")
	check.addFlags(cmd)

	return cmd
}

// SimulationResult captures the full output of a simulation.
type SimulationResult struct {
	Algorithm   string             `json:"algorithm"`
	FastForward string             `json:"fast_forward,omitempty"`
	Batches     []BatchResult      `json:"batches"`
	Summary     map[string]Summary `json:"summary"`
}

// BatchResult captures results for one batch of requests.
type BatchResult struct {
	Label   string        `json:"label"`
	Time    string        `json:"time"`
	Results []CheckRecord `json:"results"`
}

// Summary aggregates outcomes per identifier.
type Summary struct {
	TotalRequests int `json:"total_requests"`
	Allowed       int `json:"allowed"`
	Denied        int `json:"denied"`
}

func runSimulation(ctx context.Context, vc *clock.VirtualClock, svc *limiter.Service, check checkOptions,
	keys []string, requests int, fastForward time.Duration) (SimulationResult, error) {

	result := SimulationResult{
		Algorithm: check.algorithm,
		Summary:   make(map[string]Summary),
	}

	batch := func(label string) error {
		b := BatchResult{Label: label, Time: vc.Now().Format(time.RFC3339)}
		for i := 0; i < requests; i++ {
			for _, key := range keys {
				res, err := check.run(ctx, svc, key)
				if err != nil {
					return err
				}
				b.Results = append(b.Results, CheckRecord{Identifier: key, Result: res})

				s := result.Summary[key]
				s.TotalRequests++
				if res.Success {
					s.Allowed++
				} else {
					s.Denied++
				}
				result.Summary[key] = s
			}
		}
		result.Batches = append(result.Batches, b)
		return nil
	}

	if err := batch("Initial requests"); err != nil {
		return result, err
	}

	if fastForward > 0 {
		vc.Advance(fastForward)
		result.FastForward = fastForward.String()
		if err := batch(fmt.Sprintf("After fast-forward %s", fastForward)); err != nil {
			return result, err
		}
	}

	return result, nil
}

func printSimulation(w io.Writer, r *SimulationResult) {
	fmt.Fprintf(w, "=== Turnstile simulation (%s) ===\n\n", r.Algorithm)

	for _, batch := range r.Batches {
		fmt.Fprintf(w, "--- %s (at %s) ---\n", batch.Label, batch.Time)
		for i, rec := range batch.Results {
			fmt.Fprintf(w, "  #%03d %s\n", i+1, formatResult(rec.Identifier, rec.Result))
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "--- Summary ---")
	keys := make([]string, 0, len(r.Summary))
	for key := range r.Summary {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		s := r.Summary[key]
		fmt.Fprintf(w, "  %s: %d total, %d allowed, %d denied\n", key, s.TotalRequests, s.Allowed, s.Denied)
	}

	if r.FastForward == "" || len(r.Batches) < 2 {
		return
	}
	fmt.Fprintf(w, "\nFast-forwarded %s\n", r.FastForward)

	denied, recovered := false, false
	for _, rec := range r.Batches[0].Results {
		if !rec.Result.Success {
			denied = true
		}
	}
	for _, rec := range r.Batches[1].Results {
		if rec.Result.Success {
			recovered = true
			break
		}
	}
	if denied && recovered {
		fmt.Fprintln(w, strings.Repeat("=", 50))
		fmt.Fprintln(w, "Requests were denied, then allowed again once")
		fmt.Fprintln(w, "the window moved past them.")
		fmt.Fprintln(w, strings.Repeat("=", 50))
	}
}
