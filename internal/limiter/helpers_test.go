package limiter

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/SmitUplenchwar2687/Turnstile/internal/clock"
	"github.com/SmitUplenchwar2687/Turnstile/internal/storage"
)

var (
	epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx   = context.Background()
)

// newTestService returns a Service over a memory store, both driven by the
// same virtual clock.
func newTestService(t *testing.T, opts ...Option) (*Service, *clock.VirtualClock) {
	t.Helper()

	vc := clock.NewVirtualClock(epoch)
	store, err := storage.NewMemoryStore(&storage.MemoryConfig{Clock: vc})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return newServiceWith(t, store, vc, opts...), vc
}

// newRedisService returns a Service over the Lua scripts running in miniredis.
func newRedisService(t *testing.T, opts ...Option) (*Service, *clock.VirtualClock, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	host, portStr, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	store, err := storage.NewRedisStore(&storage.RedisConfig{
		Host:        host,
		Port:        port,
		MaxRetries:  -1,
		DialTimeout: time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	vc := clock.NewVirtualClock(epoch)
	// miniredis needs more than the default per-check budget on a busy CI box.
	opts = append([]Option{WithTimeout(2 * time.Second)}, opts...)
	return newServiceWith(t, store, vc, opts...), vc, mr
}

func newServiceWith(t *testing.T, store storage.Store, vc *clock.VirtualClock, opts ...Option) *Service {
	t.Helper()

	all := append([]Option{WithClock(vc), WithLogger(zaptest.NewLogger(t))}, opts...)
	svc, err := New(store, all...)
	require.NoError(t, err)
	return svc
}

// failingStore fails every operation the way an unreachable Redis does.
type failingStore struct{}

var errUnreachable = storage.Error.New("dial tcp 127.0.0.1:6379: connect: connection refused")

func (failingStore) SlidingWindow(context.Context, storage.WindowRequest) (storage.WindowResult, error) {
	return storage.WindowResult{}, errUnreachable
}

func (failingStore) PeekWindow(context.Context, storage.WindowRequest) (storage.WindowResult, error) {
	return storage.WindowResult{}, errUnreachable
}

func (failingStore) Distributed(context.Context, storage.DistributedRequest) (storage.WindowResult, error) {
	return storage.WindowResult{}, errUnreachable
}

func (failingStore) TokenBucket(context.Context, storage.BucketRequest) (storage.BucketResult, error) {
	return storage.BucketResult{}, errUnreachable
}

func (failingStore) Clear(context.Context, string) (int64, error) { return 0, errUnreachable }

func (failingStore) Stats(context.Context, string) (storage.WindowStats, error) {
	return storage.WindowStats{}, errUnreachable
}

func (failingStore) Ping(context.Context) error { return errUnreachable }
func (failingStore) Close() error               { return nil }

// slowStore blocks every check until its context expires.
type slowStore struct{ failingStore }

func (slowStore) SlidingWindow(ctx context.Context, _ storage.WindowRequest) (storage.WindowResult, error) {
	<-ctx.Done()
	return storage.WindowResult{}, storage.Error.Wrap(ctx.Err())
}
