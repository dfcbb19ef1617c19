// Package limiter implements the rate limiting operations on top of a
// storage.Store: sliding window, token bucket, distributed aggregation,
// tiered policies, and the introspection calls.
package limiter

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/SmitUplenchwar2687/Turnstile/internal/clock"
	"github.com/SmitUplenchwar2687/Turnstile/internal/policy"
	"github.com/SmitUplenchwar2687/Turnstile/internal/storage"
)

var (
	// ErrInvalidInput is returned for malformed arguments. It is never
	// absorbed by the failure policy.
	ErrInvalidInput = errs.Class("invalid input")
	// ErrStore wraps store failures surfaced by the admin operations.
	ErrStore = errs.Class("store")
)

// DefaultTimeout bounds a single check against the store.
const DefaultTimeout = 30 * time.Millisecond

// Algorithm identifies a rate limiting algorithm.
type Algorithm string

const (
	AlgorithmSlidingWindow Algorithm = "sliding_window"
	AlgorithmTokenBucket   Algorithm = "token_bucket"
	AlgorithmDistributed   Algorithm = "distributed"
	AlgorithmPeek          Algorithm = "peek"
)

// Result is the outcome of a rate limit check.
type Result struct {
	Success    bool          `json:"success"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	Reset      time.Time     `json:"reset"`
	RetryAfter time.Duration `json:"-"`
}

// MarshalJSON encodes RetryAfter as whole milliseconds and omits it when zero.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	return json.Marshal(struct {
		plain
		RetryAfterMS int64 `json:"retry_after_ms,omitempty"`
	}{plain(r), r.RetryAfter.Milliseconds()})
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for the
// Retry-After header.
func (r Result) RetryAfterSeconds() int {
	if r.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(r.RetryAfter.Seconds()))
}

// Stats describes the retained sliding window entries of one identifier.
type Stats struct {
	Identifier    string    `json:"identifier"`
	Requests      int64     `json:"requests"`
	WindowStart   time.Time `json:"window_start"`
	OldestRequest time.Time `json:"oldest_request"`
	NewestRequest time.Time `json:"newest_request"`
}

// Service runs rate limit checks against a shared store.
type Service struct {
	store    storage.Store
	clock    clock.Clock
	policies *policy.Table
	failure  FailurePolicy
	timeout  time.Duration
	serverID string
	log      *zap.Logger
	metrics  *Metrics
	observer Observer

	instance string
	seq      atomic.Uint64
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock, typically with a clock.VirtualClock.
func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

// WithPolicies sets the table MultiTier resolves against.
func WithPolicies(t *policy.Table) Option { return func(s *Service) { s.policies = t } }

// WithFailurePolicy sets how checks behave when the store fails.
func WithFailurePolicy(p FailurePolicy) Option { return func(s *Service) { s.failure = p } }

// WithTimeout bounds every store round trip.
func WithTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

// WithServerID sets the node id used by Distributed when the caller passes none.
func WithServerID(id string) Option { return func(s *Service) { s.serverID = id } }

func WithLogger(log *zap.Logger) Option { return func(s *Service) { s.log = log } }

func WithMetrics(m *Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithObserver receives an Event for every check.
func WithObserver(o Observer) Option { return func(s *Service) { s.observer = o } }

// New creates a Service over store.
func New(store storage.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	s := &Service{
		store:    store,
		clock:    clock.NewRealClock(),
		policies: policy.DefaultTable(),
		failure:  FailOpen{},
		timeout:  DefaultTimeout,
		log:      zap.NewNop(),
		instance: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}

	switch {
	case s.clock == nil:
		return nil, fmt.Errorf("clock is required")
	case s.policies == nil:
		return nil, fmt.Errorf("policy table is required")
	case s.failure == nil:
		return nil, fmt.Errorf("failure policy is required")
	case s.timeout <= 0:
		return nil, fmt.Errorf("timeout must be positive, got %s", s.timeout)
	case s.log == nil:
		return nil, fmt.Errorf("logger is required")
	}
	if err := s.policies.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Policies returns the table MultiTier resolves against.
func (s *Service) Policies() *policy.Table { return s.policies }

// ServerID returns the default node id for Distributed.
func (s *Service) ServerID() string { return s.serverID }

// member returns a sorted-set member unique across processes and calls, so
// concurrent requests in the same millisecond are all recorded.
func (s *Service) member(now time.Time) string {
	return fmt.Sprintf("%d-%s-%d", now.UnixMilli(), s.instance, s.seq.Add(1))
}

// check runs op under the service timeout and routes store errors through the
// failure policy. op errors are never returned to the caller.
func (s *Service) check(ctx context.Context, algo Algorithm, id string, limit int, window time.Duration,
	op func(ctx context.Context, now time.Time) (Result, error)) Result {

	start := time.Now()
	now := s.clock.Now()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := op(ctx, now)
	degraded := err != nil
	if degraded {
		res = s.failure.OnStoreError(limit, now, window)
		s.log.Warn("rate limit store unavailable",
			zap.String("algorithm", string(algo)),
			zap.String("identifier", id),
			zap.String("failure_policy", s.failure.Name()),
			zap.Bool("success", res.Success),
			zap.Error(err),
		)
		s.metrics.storeFailure(algo)
	}
	s.metrics.observe(algo, res, time.Since(start))

	if s.observer != nil {
		s.observer.Observe(Event{
			Time:       now,
			Algorithm:  algo,
			Identifier: id,
			Result:     res,
			Degraded:   degraded,
		})
	}
	return res
}

// invalid builds the deny result that accompanies an input error.
func (s *Service) invalid(limit int, err error) (Result, error) {
	return Result{Success: false, Limit: limit, Remaining: 0, Reset: s.clock.Now()}, err
}

func validateWindowArgs(id string, limit int, window time.Duration) error {
	if id == "" {
		return ErrInvalidInput.New("identifier is required")
	}
	if limit <= 0 {
		return ErrInvalidInput.New("limit must be positive, got %d", limit)
	}
	if window < time.Millisecond {
		return ErrInvalidInput.New("window must be at least 1ms, got %s", window)
	}
	return nil
}

// windowResult maps a sliding window store reply to a Result. consumed is
// false for Peek, where the current request is not recorded.
func windowResult(limit int, window time.Duration, now time.Time, wr storage.WindowResult, consumed bool) Result {
	res := Result{Success: wr.Allowed, Limit: limit}

	reset := now.Add(window)
	if !wr.Oldest.IsZero() {
		reset = wr.Oldest.Add(window)
	}
	res.Reset = reset

	if wr.Allowed {
		used := wr.Count
		if consumed {
			used++
		}
		res.Remaining = max(limit-int(used), 0)
		return res
	}

	res.Remaining = 0
	res.RetryAfter = window
	if !wr.Oldest.IsZero() {
		if d := reset.Sub(now); d > 0 && d < window {
			res.RetryAfter = d
		}
	}
	return res
}
