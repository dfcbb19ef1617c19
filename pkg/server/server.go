// Package server exposes the Turnstile HTTP API and its request middleware.
package server

import (
	"net/http"

	"go.uber.org/zap"

	internalserver "github.com/SmitUplenchwar2687/Turnstile/internal/server"
	"github.com/SmitUplenchwar2687/Turnstile/pkg/limiter"
	"github.com/SmitUplenchwar2687/Turnstile/pkg/policy"
)

type (
	// Server is the Turnstile HTTP server.
	Server = internalserver.Server
	// Options configures optional server features.
	Options = internalserver.Options
	// Hub streams check events to WebSocket clients.
	Hub = internalserver.Hub
	// KeyFunc derives the identifier, tier, and endpoint class of a request.
	KeyFunc = internalserver.KeyFunc
)

// New creates a server listening on addr.
func New(addr string, svc *limiter.Service, opts Options) *Server {
	return internalserver.New(addr, svc, opts)
}

// NewHub creates a WebSocket hub. Pass it to limiter.WithObserver and to
// Options.Hub.
func NewHub(log *zap.Logger) *Hub {
	return internalserver.NewHub(log)
}

// Middleware rate limits every request through svc.MultiTier.
func Middleware(svc *limiter.Service, key KeyFunc, log *zap.Logger) func(http.Handler) http.Handler {
	return internalserver.Middleware(svc, key, log)
}

// ClientKey keys requests by client IP under a fixed tier and endpoint.
func ClientKey(tier policy.Tier, endpoint string) KeyFunc {
	return internalserver.ClientKey(tier, endpoint)
}

// ClientIP returns the originating client address of r.
func ClientIP(r *http.Request) string {
	return internalserver.ClientIP(r)
}
