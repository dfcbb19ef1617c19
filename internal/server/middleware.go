package server

import (
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Turnstile/internal/limiter"
	"github.com/SmitUplenchwar2687/Turnstile/internal/policy"
)

// KeyFunc derives the rate limit identity of a request.
type KeyFunc func(r *http.Request) (id string, tier policy.Tier, endpoint string)

// ClientKey limits by client IP under a fixed tier and endpoint class.
func ClientKey(tier policy.Tier, endpoint string) KeyFunc {
	return func(r *http.Request) (string, policy.Tier, string) {
		return ClientIP(r), tier, endpoint
	}
}

// Middleware applies a tiered check to every request. Denied requests get 429
// and never reach next; allowed ones carry the X-RateLimit headers.
func Middleware(svc *limiter.Service, key KeyFunc, log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, tier, endpoint := key(r)
			res, err := svc.MultiTier(r.Context(), id, tier, endpoint)
			if err != nil {
				// Checks only return input errors; store failures are
				// already resolved by the failure policy.
				log.Warn("rate limit check rejected request", zap.String("identifier", id), zap.Error(err))
				writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
				return
			}

			setRateLimitHeaders(w, res)
			if !res.Success {
				writeJSON(w, http.StatusTooManyRequests, res)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// connection's remote host.
func ClientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
