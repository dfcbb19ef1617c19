// Package storage holds the backing stores rate limit state lives in.
//
// Every check operation on a Store is a single atomic unit: pruning, counting
// and the conditional write happen without any other caller observing an
// intermediate state. RedisStore achieves this with server-side Lua scripts,
// MemoryStore by serializing all access under one mutex.
package storage

import (
	"context"
	"time"

	"github.com/zeebo/errs"
)

// Error is the class of store failures (connection, script, reply decoding).
var Error = errs.Class("storage")

// Backend names accepted by configuration.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Store is the backing store shared by every limiter algorithm.
// Implementations must be safe for concurrent use.
type Store interface {
	// SlidingWindow prunes the window record of req.Identifier, counts it, and
	// appends req.Member when the count is below req.Limit.
	SlidingWindow(ctx context.Context, req WindowRequest) (WindowResult, error)

	// PeekWindow prunes and counts the window record without appending.
	PeekWindow(ctx context.Context, req WindowRequest) (WindowResult, error)

	// Distributed gates on the global window record of req.Identifier and, on
	// admission, also appends to the record of req.ServerID. A failure of the
	// per-node write never changes the outcome.
	Distributed(ctx context.Context, req DistributedRequest) (WindowResult, error)

	// TokenBucket refills and drains the bucket of req.Identifier.
	TokenBucket(ctx context.Context, req BucketRequest) (BucketResult, error)

	// Clear deletes every record whose identifier matches the glob pattern and
	// returns the number of records removed.
	Clear(ctx context.Context, pattern string) (int64, error)

	// Stats returns a read-only snapshot of the window record of identifier.
	Stats(ctx context.Context, identifier string) (WindowStats, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources. It is idempotent.
	Close() error
}

// WindowRequest describes one sliding window evaluation.
type WindowRequest struct {
	Identifier string
	Now        time.Time
	Window     time.Duration
	Limit      int
	// Member uniquely names the entry appended on admission. Ignored by
	// PeekWindow.
	Member string
}

// DistributedRequest is a WindowRequest evaluated against the global record,
// with bookkeeping for ServerID.
type DistributedRequest struct {
	WindowRequest
	ServerID string
}

// WindowResult is what a window evaluation observed.
type WindowResult struct {
	Allowed bool
	// Count is the number of entries in the window before this request.
	Count int
	// Oldest is the oldest surviving entry after the evaluation, zero if the
	// record is empty.
	Oldest time.Time
}

// BucketRequest describes one token bucket evaluation.
type BucketRequest struct {
	Identifier string
	Now        time.Time
	Window     time.Duration
	// Rate is the number of tokens refilled per Window.
	Rate int
	// Burst is the bucket ceiling.
	Burst int
}

// BucketResult is the bucket state persisted by an evaluation.
type BucketResult struct {
	Allowed bool
	Tokens  float64
}

// WindowStats is a diagnostic snapshot of one window record.
type WindowStats struct {
	Requests int
	Oldest   time.Time
	Newest   time.Time
}

// MaxBucketTTL caps BucketTTL. Redis rejects expiries that overflow once added
// to the current time, so a refill longer than this keeps the bucket for
// MaxBucketTTL instead.
const MaxBucketTTL = 100 * 365 * 24 * time.Hour

// BucketTTL is how long an idle bucket is kept: at least one window, and at
// least long enough to refill the whole burst. A bucket evicted earlier would
// come back full and grant more than it should. The product saturates at
// MaxBucketTTL rather than wrapping.
func BucketTTL(rate, burst int, window time.Duration) time.Duration {
	if rate <= 0 || burst <= 0 {
		return min(window, MaxBucketTTL)
	}
	interval := window / time.Duration(rate)
	if interval > 0 && int64(burst) > int64(MaxBucketTTL/interval) {
		return MaxBucketTTL
	}
	refill := interval * time.Duration(burst)
	return min(max(refill, window), MaxBucketTTL)
}
