// Package server exposes the limiter operations over HTTP.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/SmitUplenchwar2687/Turnstile/internal/clock"
	"github.com/SmitUplenchwar2687/Turnstile/internal/limiter"
	"github.com/SmitUplenchwar2687/Turnstile/internal/policy"
)

// Options are the optional collaborators of a Server.
type Options struct {
	// Hub, when set, serves the decision feed on /ws. Register it with the
	// limiter through limiter.WithObserver so it receives events.
	Hub    *Hub
	Logger *zap.Logger
	Clock  clock.Clock
	// AdminToken guards the admin routes. Empty disables the check.
	AdminToken string
	// Gatherer backs /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// ClearRate and ClearBurst throttle the clear endpoint. Defaults to one
	// call per second with a burst of 5.
	ClearRate  rate.Limit
	ClearBurst int
}

// Server is the Turnstile HTTP server.
type Server struct {
	httpServer *http.Server
	svc        *limiter.Service
	clock      clock.Clock
	router     chi.Router
	hub        *Hub
	log        *zap.Logger
	gatherer   prometheus.Gatherer

	adminToken string
	clearLimit *rate.Limiter
}

// New creates a new Turnstile server.
func New(addr string, svc *limiter.Service, opts Options) *Server {
	s := &Server{
		svc:        svc,
		clock:      opts.Clock,
		router:     chi.NewRouter(),
		hub:        opts.Hub,
		log:        opts.Logger,
		gatherer:   opts.Gatherer,
		adminToken: opts.AdminToken,
	}
	if s.clock == nil {
		s.clock = clock.NewRealClock()
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	clearRate, clearBurst := opts.ClearRate, opts.ClearBurst
	if clearRate <= 0 {
		clearRate = rate.Every(time.Second)
	}
	if clearBurst <= 0 {
		clearBurst = 5
	}
	s.clearLimit = rate.NewLimiter(clearRate, clearBurst)

	s.routes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	// Reference caller: an anonymous API endpoint guarded by the middleware.
	r.With(Middleware(s.svc, ClientKey(policy.TierAnonymous, policy.EndpointAPI), s.log)).
		Get("/api/check", s.handleProtected)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/limit/{id}", s.handleLimit)
		r.Post("/tier/{tier}/{endpoint}/{id}", s.handleTier)
		r.Post("/burst/{id}", s.handleBurst)
		r.Post("/distributed/{id}", s.handleDistributed)
		r.Get("/peek/{id}", s.handlePeek)
		r.Get("/stats/{id}", s.handleStats)
		r.Get("/policies", s.handlePolicies)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Delete("/admin/records", s.handleClear)
		})
	})

	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWebSocket)
	}
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening. It blocks until the server is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.StartOnListener(ln)
}

// StartOnListener begins serving on the provided listener.
// Useful for tests that need to pick an ephemeral port.
func (s *Server) StartOnListener(ln net.Listener) error {
	s.log.Info("turnstile server listening", zap.String("addr", ln.Addr().String()))
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
