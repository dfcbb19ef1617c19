package limiter

import (
	"strings"
	"time"
)

// FailurePolicy decides the result of a check whose store round trip failed.
type FailurePolicy interface {
	OnStoreError(limit int, now time.Time, window time.Duration) Result
	Name() string
}

// FailOpen admits the request as if nothing had been recorded. An outage of the
// store never blocks traffic.
type FailOpen struct{}

func (FailOpen) Name() string { return "open" }

func (FailOpen) OnStoreError(limit int, now time.Time, window time.Duration) Result {
	return Result{
		Success:   true,
		Limit:     limit,
		Remaining: limit,
		Reset:     now.Add(window),
	}
}

// DefaultFailClosedRetry is the RetryAfter of a FailClosed denial.
const DefaultFailClosedRetry = time.Second

// FailClosed denies the request and asks the caller to retry shortly.
type FailClosed struct {
	RetryAfter time.Duration
}

func (FailClosed) Name() string { return "closed" }

func (p FailClosed) OnStoreError(limit int, now time.Time, window time.Duration) Result {
	retry := p.RetryAfter
	if retry <= 0 {
		retry = DefaultFailClosedRetry
	}
	return Result{
		Success:    false,
		Limit:      limit,
		Remaining:  0,
		Reset:      now.Add(window),
		RetryAfter: retry,
	}
}

// ParseFailurePolicy maps "open" or "closed" to a FailurePolicy.
func ParseFailurePolicy(mode string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "open":
		return FailOpen{}, nil
	case "closed":
		return FailClosed{}, nil
	default:
		return nil, ErrInvalidInput.New("unknown failure mode %q, must be one of: open, closed", mode)
	}
}
