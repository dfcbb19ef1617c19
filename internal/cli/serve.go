package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SmitUplenchwar2687/Turnstile/internal/clock"
	"github.com/SmitUplenchwar2687/Turnstile/internal/limiter"
	"github.com/SmitUplenchwar2687/Turnstile/internal/server"
)

func newServeCmd(global *globalOptions) *cobra.Command {
	var (
		addr       string
		adminToken string
		so         storageOptions
		lo         limiterOptions
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Turnstile HTTP server",
		Long: `Starts an HTTP server exposing the rate limit operations.

Endpoints:
  GET    /                                     Server info and current time
  GET    /health                               Health and store reachability
  GET    /metrics                              Prometheus metrics
  GET    /api/check                            Example route guarded by the middleware
  POST   /v1/limit/{id}?limit=&window=         Sliding window check
  POST   /v1/tier/{tier}/{endpoint}/{id}       Tiered policy check
  POST   /v1/burst/{id}?rate=&burst=&window=   Token bucket check
  POST   /v1/distributed/{id}?limit=&window=   Cluster-wide check
  GET    /v1/peek/{id}?limit=&window=          Inspect without consuming
  GET    /v1/stats/{id}                        Retained window entries
  GET    /v1/policies                          Policy table
  DELETE /v1/admin/records?pattern=            Clear records (admin)
  WS     /ws                                   Live decision feed`,
		Example: `  turnstile serve
  turnstile serve --storage redis --redis-host localhost:6379 --addr :9090
  turnstile serve --config turnstile.json --failure-mode closed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, global, &so, &lo)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("admin-token") {
				cfg.Server.AdminToken = adminToken
			}

			log, err := newLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer log.Sync()
			log.Debug("resolved configuration", zap.Stringer("config", cfg))

			store, err := newStore(cfg.Storage, log, clock.NewRealClock())
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			checkStore(ctx, store, cfg.Limiter.FailureMode, log)

			metrics, err := limiter.NewMetrics(prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			hub := server.NewHub(log.Named("ws"))
			svc, err := newService(cfg, store, log, limiter.WithMetrics(metrics), limiter.WithObserver(hub))
			if err != nil {
				return err
			}

			if cfg.Server.AdminToken == "" {
				log.Warn("no admin token configured, admin routes are open")
			}
			srv := server.New(cfg.Server.Addr, svc, server.Options{
				Hub:        hub,
				Logger:     log,
				AdminToken: cfg.Server.AdminToken,
			})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(srv.Start)
			g.Go(func() error {
				hub.Run(gctx)
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	cmd.Flags().StringVar(&adminToken, "admin-token", "", "token required on admin routes")
	so.addFlags(cmd)
	lo.addFlags(cmd)

	return cmd
}
