package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Turnstile/internal/limiter"
	"github.com/SmitUplenchwar2687/Turnstile/internal/policy"
	"github.com/SmitUplenchwar2687/Turnstile/internal/window"
)

// AdminTokenHeader carries the admin token on admin routes.
const AdminTokenHeader = "X-Admin-Token"

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "turnstile",
		"status":  "running",
		"time":    s.clock.Now().Format(time.RFC3339),
	})
}

// handleHealth reports the store as degraded rather than failing: checks keep
// answering under the failure policy while the store is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok", "store": "ok"}
	if err := s.svc.Ping(r.Context()); err != nil {
		body["status"] = "degraded"
		body["store"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleProtected(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// POST /v1/limit/{id}?limit=&window=
func (s *Server) handleLimit(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.svc.RateLimit(r.Context(), chi.URLParam(r, "id"), limit, r.URL.Query().Get("window"))
	s.writeResult(w, res, err)
}

// POST /v1/tier/{tier}/{endpoint}/{id}
func (s *Server) handleTier(w http.ResponseWriter, r *http.Request) {
	tier, err := policy.ParseTier(chi.URLParam(r, "tier"))
	if err != nil {
		s.writeError(w, limiter.ErrInvalidInput.Wrap(err))
		return
	}
	res, err := s.svc.MultiTier(r.Context(), chi.URLParam(r, "id"), tier, chi.URLParam(r, "endpoint"))
	s.writeResult(w, res, err)
}

// POST /v1/burst/{id}?rate=&burst=&window=
func (s *Server) handleBurst(w http.ResponseWriter, r *http.Request) {
	sustained, err := intParam(r, "rate", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	burst, err := intParam(r, "burst", sustained)
	if err != nil {
		s.writeError(w, err)
		return
	}
	win, err := windowParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.svc.Burst(r.Context(), chi.URLParam(r, "id"), sustained, burst, win)
	s.writeResult(w, res, err)
}

// POST /v1/distributed/{id}?limit=&window=&server=
func (s *Server) handleDistributed(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	win, err := windowParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.svc.Distributed(r.Context(), chi.URLParam(r, "id"), limit, win, r.URL.Query().Get("server"))
	s.writeResult(w, res, err)
}

// GET /v1/peek/{id}?limit=&window=
// A full window is reported with 429 so callers can treat peek like a check.
func (s *Server) handlePeek(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	win, err := windowParam(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.svc.Peek(r.Context(), chi.URLParam(r, "id"), limit, win)
	s.writeResult(w, res, err)
}

// GET /v1/stats/{id}
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Stats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /v1/policies
func (s *Server) handlePolicies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Policies().Entries())
}

// DELETE /v1/admin/records?pattern=
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if !s.clearLimit.Allow() {
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "clear is throttled, retry later"})
		return
	}

	pattern := r.URL.Query().Get("pattern")
	n, err := s.svc.Clear(r.Context(), pattern)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Info("admin clear", zap.String("pattern", pattern), zap.Int64("deleted", n),
		zap.String("remote", r.RemoteAddr))
	writeJSON(w, http.StatusOK, map[string]interface{}{"pattern": pattern, "deleted": n})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken != "" {
			got := r.Header.Get(AdminTokenHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.adminToken)) != 1 {
				s.log.Warn("rejected admin request", zap.String("path", r.URL.Path), zap.String("remote", r.RemoteAddr))
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "admin token required"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// writeResult maps a check result to headers and status: 400 for input
// errors, 429 on deny, 200 otherwise.
func (s *Server) writeResult(w http.ResponseWriter, res limiter.Result, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	setRateLimitHeaders(w, res)
	status := http.StatusOK
	if !res.Success {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, res)
}

func setRateLimitHeaders(w http.ResponseWriter, res limiter.Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))
	if !res.Success {
		h.Set("Retry-After", strconv.Itoa(max(res.RetryAfterSeconds(), 1)))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if limiter.ErrInvalidInput.Has(err) {
		status = http.StatusBadRequest
	} else {
		s.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// intParam reads an integer query parameter. A missing
// parameter yields def.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, limiter.ErrInvalidInput.New("%s must be an integer, got %q", name, raw)
	}
	return n, nil
}

func windowParam(r *http.Request) (time.Duration, error) {
	d, err := window.Parse(r.URL.Query().Get("window"))
	if err != nil {
		return 0, limiter.ErrInvalidInput.Wrap(err)
	}
	return d, nil
}
