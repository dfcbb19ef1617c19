package limiter

import (
	"context"
	"time"

	"github.com/SmitUplenchwar2687/Turnstile/internal/storage"
)

// Distributed enforces one limit across every node while also recording the
// request under a per-node key. Only the global count gates admission. An
// empty serverID uses the service's configured node id.
func (s *Service) Distributed(ctx context.Context, id string, limit int, window time.Duration, serverID string) (Result, error) {
	if err := validateWindowArgs(id, limit, window); err != nil {
		return s.invalid(limit, err)
	}
	if serverID == "" {
		serverID = s.serverID
	}
	if serverID == "" {
		return s.invalid(limit, ErrInvalidInput.New("server id is required"))
	}

	return s.check(ctx, AlgorithmDistributed, id, limit, window, func(ctx context.Context, now time.Time) (Result, error) {
		wr, err := s.store.Distributed(ctx, storage.DistributedRequest{
			WindowRequest: storage.WindowRequest{
				Identifier: id,
				Now:        now,
				Window:     window,
				Limit:      limit,
				Member:     s.member(now),
			},
			ServerID: serverID,
		})
		if err != nil {
			return Result{}, err
		}
		return windowResult(limit, window, now, wr, true), nil
	}), nil
}
