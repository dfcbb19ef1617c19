// Package limiter is the public entry point for rate limit checks.
//
// A Service is built over a storage.Store:
//
//	store, _ := storage.NewRedisStore(&storage.RedisConfig{Host: "localhost", Port: 6379}, log)
//	svc, _ := limiter.New(store, limiter.WithLogger(log))
//	res, err := svc.RateLimit(ctx, "user-42", 100, "1m")
package limiter

import (
	"github.com/prometheus/client_golang/prometheus"

	internallimiter "github.com/SmitUplenchwar2687/Turnstile/internal/limiter"
	"github.com/SmitUplenchwar2687/Turnstile/pkg/storage"
)

type (
	// Service runs rate limit checks against a Store.
	Service = internallimiter.Service
	// Option configures a Service.
	Option = internallimiter.Option
	// Result is the outcome of a check.
	Result = internallimiter.Result
	// Stats describes the retained sliding window entries of an identifier.
	Stats = internallimiter.Stats
	// Algorithm names the kind of check.
	Algorithm = internallimiter.Algorithm
	// FailurePolicy decides a check when the store fails.
	FailurePolicy = internallimiter.FailurePolicy
	// FailOpen allows checks while the store is down.
	FailOpen = internallimiter.FailOpen
	// FailClosed denies checks while the store is down.
	FailClosed = internallimiter.FailClosed
	// Metrics are the Prometheus collectors of a Service.
	Metrics = internallimiter.Metrics
	// Event is emitted to an Observer after every check.
	Event = internallimiter.Event
	// Observer receives check events.
	Observer = internallimiter.Observer
	// ObserverFunc adapts a function to Observer.
	ObserverFunc = internallimiter.ObserverFunc
)

const (
	AlgorithmSlidingWindow = internallimiter.AlgorithmSlidingWindow
	AlgorithmTokenBucket   = internallimiter.AlgorithmTokenBucket
	AlgorithmDistributed   = internallimiter.AlgorithmDistributed
	AlgorithmPeek          = internallimiter.AlgorithmPeek
)

var (
	// ErrInvalidInput classifies malformed arguments.
	ErrInvalidInput = internallimiter.ErrInvalidInput
	// ErrStore classifies store failures surfaced by admin operations.
	ErrStore = internallimiter.ErrStore

	WithClock         = internallimiter.WithClock
	WithPolicies      = internallimiter.WithPolicies
	WithFailurePolicy = internallimiter.WithFailurePolicy
	WithTimeout       = internallimiter.WithTimeout
	WithServerID      = internallimiter.WithServerID
	WithLogger        = internallimiter.WithLogger
	WithMetrics       = internallimiter.WithMetrics
	WithObserver      = internallimiter.WithObserver
)

// New builds a Service over store.
func New(store storage.Store, opts ...Option) (*Service, error) {
	return internallimiter.New(store, opts...)
}

// NewMetrics creates the collectors and registers them with reg when it is
// non-nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	return internallimiter.NewMetrics(reg)
}

// ParseFailurePolicy maps "open" or "closed" to a FailurePolicy.
func ParseFailurePolicy(mode string) (FailurePolicy, error) {
	return internallimiter.ParseFailurePolicy(mode)
}
