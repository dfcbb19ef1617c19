package limiter

import (
	"context"

	"go.uber.org/zap"
)

// Clear deletes every record whose identifier matches the glob pattern and
// returns how many store keys were removed. Store errors are returned.
func (s *Service) Clear(ctx context.Context, pattern string) (int64, error) {
	if pattern == "" {
		return 0, ErrInvalidInput.New("pattern is required")
	}

	n, err := s.store.Clear(ctx, pattern)
	if err != nil {
		return 0, ErrStore.New("clearing %q: %w", pattern, err)
	}
	s.log.Info("cleared rate limit records", zap.String("pattern", pattern), zap.Int64("deleted", n))
	return n, nil
}

// Stats reports the retained sliding window entries of id. WindowStart is the
// oldest retained entry.
func (s *Service) Stats(ctx context.Context, id string) (Stats, error) {
	if id == "" {
		return Stats{}, ErrInvalidInput.New("identifier is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ws, err := s.store.Stats(ctx, id)
	if err != nil {
		return Stats{}, ErrStore.New("stats for %q: %w", id, err)
	}
	return Stats{
		Identifier:    id,
		Requests:      int64(ws.Requests),
		WindowStart:   ws.Oldest,
		OldestRequest: ws.Oldest,
		NewestRequest: ws.Newest,
	}, nil
}

// Ping checks that the store is reachable within the check timeout.
func (s *Service) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		return ErrStore.Wrap(err)
	}
	return nil
}
