package limiter

import (
	"context"
	"math"
	"time"

	"github.com/SmitUplenchwar2687/Turnstile/internal/storage"
)

// Burst runs a token bucket that refills rate tokens per window up to burst,
// starting full. Each admitted request takes one token.
func (s *Service) Burst(ctx context.Context, id string, rate, burst int, window time.Duration) (Result, error) {
	if err := validateBucketArgs(id, rate, burst, window); err != nil {
		return s.invalid(burst, err)
	}

	return s.check(ctx, AlgorithmTokenBucket, id, burst, window, func(ctx context.Context, now time.Time) (Result, error) {
		br, err := s.store.TokenBucket(ctx, storage.BucketRequest{
			Identifier: id,
			Now:        now,
			Window:     window,
			Rate:       rate,
			Burst:      burst,
		})
		if err != nil {
			return Result{}, err
		}
		return bucketResult(rate, burst, window, now, br), nil
	}), nil
}

func validateBucketArgs(id string, rate, burst int, window time.Duration) error {
	if id == "" {
		return ErrInvalidInput.New("identifier is required")
	}
	if rate <= 0 {
		return ErrInvalidInput.New("rate must be positive, got %d", rate)
	}
	if burst <= 0 {
		return ErrInvalidInput.New("burst must be positive, got %d", burst)
	}
	if window < time.Millisecond {
		return ErrInvalidInput.New("window must be at least 1ms, got %s", window)
	}
	return nil
}

// bucketResult reports Reset as the moment the bucket would be full again and,
// on deny, RetryAfter as one refill interval.
func bucketResult(rate, burst int, window time.Duration, now time.Time, br storage.BucketResult) Result {
	interval := window / time.Duration(rate)
	tokens := math.Max(br.Tokens, 0)

	missing := float64(burst) - tokens
	res := Result{
		Success:   br.Allowed,
		Limit:     burst,
		Remaining: int(tokens),
		Reset:     now.Add(time.Duration(math.Ceil(missing)) * interval),
	}
	if !br.Allowed {
		res.Remaining = 0
		res.RetryAfter = interval
	}
	return res
}
