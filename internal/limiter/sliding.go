package limiter

import (
	"context"
	"time"

	"github.com/SmitUplenchwar2687/Turnstile/internal/policy"
	"github.com/SmitUplenchwar2687/Turnstile/internal/storage"
	"github.com/SmitUplenchwar2687/Turnstile/internal/window"
)

// SlidingWindow admits at most limit requests per identifier within any
// trailing window. A non-positive limit always denies and returns an
// ErrInvalidInput error alongside the deny result.
func (s *Service) SlidingWindow(ctx context.Context, id string, limit int, window time.Duration) (Result, error) {
	if err := validateWindowArgs(id, limit, window); err != nil {
		return s.invalid(limit, err)
	}

	return s.check(ctx, AlgorithmSlidingWindow, id, limit, window, func(ctx context.Context, now time.Time) (Result, error) {
		wr, err := s.store.SlidingWindow(ctx, storage.WindowRequest{
			Identifier: id,
			Now:        now,
			Window:     window,
			Limit:      limit,
			Member:     s.member(now),
		})
		if err != nil {
			return Result{}, err
		}
		return windowResult(limit, window, now, wr, true), nil
	}), nil
}

// RateLimit is SlidingWindow with the window in the "<n><s|m|h|d>" grammar.
func (s *Service) RateLimit(ctx context.Context, id string, limit int, period string) (Result, error) {
	w, err := window.Parse(period)
	if err != nil {
		return s.invalid(limit, ErrInvalidInput.Wrap(err))
	}
	return s.SlidingWindow(ctx, id, limit, w)
}

// MultiTier resolves the (tier, endpoint) policy and applies it as a sliding
// window under the composite key "<tier>:<id>:<endpoint>". Unknown endpoint
// classes use the tier's default policy.
func (s *Service) MultiTier(ctx context.Context, id string, tier policy.Tier, endpoint string) (Result, error) {
	if !tier.Valid() {
		_, err := policy.ParseTier(string(tier))
		return s.invalid(0, ErrInvalidInput.Wrap(err))
	}
	if id == "" {
		return s.invalid(0, ErrInvalidInput.New("identifier is required"))
	}
	if endpoint == "" {
		endpoint = policy.EndpointDefault
	}

	p := s.policies.Resolve(tier, endpoint)
	return s.SlidingWindow(ctx, TierKey(tier, id, endpoint), p.Limit, p.Window)
}

// TierKey is the identifier MultiTier checks under.
func TierKey(tier policy.Tier, id, endpoint string) string {
	return string(tier) + ":" + id + ":" + endpoint
}

// Peek reports the sliding window state for id without recording a request.
// Remaining is limit minus the retained count.
func (s *Service) Peek(ctx context.Context, id string, limit int, window time.Duration) (Result, error) {
	if err := validateWindowArgs(id, limit, window); err != nil {
		return s.invalid(limit, err)
	}

	return s.check(ctx, AlgorithmPeek, id, limit, window, func(ctx context.Context, now time.Time) (Result, error) {
		wr, err := s.store.PeekWindow(ctx, storage.WindowRequest{
			Identifier: id,
			Now:        now,
			Window:     window,
			Limit:      limit,
		})
		if err != nil {
			return Result{}, err
		}
		return windowResult(limit, window, now, wr, false), nil
	}), nil
}
