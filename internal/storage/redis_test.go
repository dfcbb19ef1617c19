package storage

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniqueReq(id string, now time.Time, limit int, window time.Duration, seq int) WindowRequest {
	return WindowRequest{
		Identifier: id,
		Now:        now,
		Window:     window,
		Limit:      limit,
		Member:     fmt.Sprintf("%d-%d", now.UnixMilli(), seq),
	}
}

func TestRedisStore_SlidingWindow(t *testing.T) {
	s, mr := newMiniRedisStore(t)

	now := epoch
	for i := 0; i < 3; i++ {
		res, err := s.SlidingWindow(ctx, uniqueReq("u1", now, 3, time.Minute, i))
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i+1)
		assert.Equal(t, i, res.Count)
		assert.True(t, res.Oldest.Equal(epoch))
	}

	res, err := s.SlidingWindow(ctx, uniqueReq("u1", now, 3, time.Minute, 99))
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 3, res.Count)

	members, err := mr.ZMembers(SlidingKey("u1"))
	require.NoError(t, err)
	assert.Len(t, members, 3, "denied request must not be recorded")
	assert.Greater(t, mr.TTL(SlidingKey("u1")), time.Duration(0))

	res, err = s.SlidingWindow(ctx, uniqueReq("u1", now.Add(time.Minute), 3, time.Minute, 100))
	require.NoError(t, err)
	assert.True(t, res.Allowed, "entries should age out of the window")
	assert.Equal(t, 0, res.Count)
}

func TestRedisStore_PeekWindow(t *testing.T) {
	s, mr := newMiniRedisStore(t)

	res, err := s.PeekWindow(ctx, uniqueReq("u1", epoch, 2, time.Minute, 0))
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, 0, res.Count)
	assert.True(t, res.Oldest.IsZero())
	assert.False(t, mr.Exists(SlidingKey("u1")))

	_, err = s.SlidingWindow(ctx, uniqueReq("u1", epoch, 2, time.Minute, 1))
	require.NoError(t, err)
	_, err = s.SlidingWindow(ctx, uniqueReq("u1", epoch, 2, time.Minute, 2))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err = s.PeekWindow(ctx, uniqueReq("u1", epoch, 2, time.Minute, 0))
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, 2, res.Count)
	}

	members, err := mr.ZMembers(SlidingKey("u1"))
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestRedisStore_Distributed(t *testing.T) {
	s, mr := newMiniRedisStore(t)

	for i, node := range []string{"a", "b", "b"} {
		res, err := s.Distributed(ctx, DistributedRequest{
			WindowRequest: uniqueReq("shared", epoch, 3, time.Minute, i),
			ServerID:      node,
		})
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}

	res, err := s.Distributed(ctx, DistributedRequest{
		WindowRequest: uniqueReq("shared", epoch, 3, time.Minute, 9),
		ServerID:      "a",
	})
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	global, err := mr.ZMembers(GlobalKey("shared"))
	require.NoError(t, err)
	assert.Len(t, global, 3)
	a, err := mr.ZMembers(LocalKey("shared", "a"))
	require.NoError(t, err)
	assert.Len(t, a, 1)
	b, err := mr.ZMembers(LocalKey("shared", "b"))
	require.NoError(t, err)
	assert.Len(t, b, 2)
}

func TestRedisStore_Distributed_LocalWriteFailureIsSwallowed(t *testing.T) {
	s, mr := newMiniRedisStore(t)

	// A string under the local key makes every sorted-set command on it fail.
	require.NoError(t, mr.Set(LocalKey("shared", "a"), "not-a-zset"))

	res, err := s.Distributed(ctx, DistributedRequest{
		WindowRequest: uniqueReq("shared", epoch, 1, time.Minute, 0),
		ServerID:      "a",
	})
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	global, err := mr.ZMembers(GlobalKey("shared"))
	require.NoError(t, err)
	assert.Len(t, global, 1)
}

func TestRedisStore_TokenBucket(t *testing.T) {
	s, mr := newMiniRedisStore(t)

	req := BucketRequest{Identifier: "b1", Now: epoch, Window: 10 * time.Second, Rate: 10, Burst: 3}
	for i := 0; i < 3; i++ {
		res, err := s.TokenBucket(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, float64(2-i), res.Tokens)
	}

	res, err := s.TokenBucket(ctx, req)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, float64(0), res.Tokens)

	req.Now = epoch.Add(time.Second)
	res, err = s.TokenBucket(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	assert.Equal(t, "0", mr.HGet(BucketKey("b1"), "tokens"))
	assert.Equal(t, fmt.Sprint(req.Now.UnixMilli()), mr.HGet(BucketKey("b1"), "last"))
	assert.Equal(t, 10*time.Second, mr.TTL(BucketKey("b1")))
}

func TestRedisStore_ClearAndStats(t *testing.T) {
	s, _ := newMiniRedisStore(t)

	_, err := s.SlidingWindow(ctx, uniqueReq("user:1", epoch, 5, time.Minute, 0))
	require.NoError(t, err)
	_, err = s.SlidingWindow(ctx, uniqueReq("user:1", epoch.Add(time.Second), 5, time.Minute, 1))
	require.NoError(t, err)
	_, err = s.SlidingWindow(ctx, uniqueReq("ip:1", epoch, 5, time.Minute, 0))
	require.NoError(t, err)
	_, err = s.TokenBucket(ctx, BucketRequest{Identifier: "user:1", Now: epoch, Window: time.Second, Rate: 1, Burst: 1})
	require.NoError(t, err)
	_, err = s.Distributed(ctx, DistributedRequest{WindowRequest: uniqueReq("user:1", epoch, 5, time.Minute, 2), ServerID: "a"})
	require.NoError(t, err)

	stats, err := s.Stats(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Requests)
	assert.True(t, stats.Oldest.Equal(epoch))
	assert.True(t, stats.Newest.Equal(epoch.Add(time.Second)))

	n, err := s.Clear(ctx, "user:*")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	stats, err = s.Stats(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Requests)
	assert.True(t, stats.Oldest.IsZero())

	stats, err = s.Stats(ctx, "ip:1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Requests)

	_, err = s.Clear(ctx, "")
	assert.Error(t, err)
}

func TestRedisStore_Unreachable(t *testing.T) {
	s, mr := newMiniRedisStore(t)
	mr.Close()

	cctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	_, err := s.SlidingWindow(cctx, uniqueReq("u1", epoch, 1, time.Minute, 0))
	require.Error(t, err)
	assert.True(t, Error.Has(err))

	_, err = s.TokenBucket(cctx, BucketRequest{Identifier: "b", Now: epoch, Window: time.Second, Rate: 1, Burst: 1})
	assert.Error(t, err)
	assert.Error(t, s.Ping(cctx))
	assert.Error(t, s.PingWithRetry(cctx, 1))
}

func TestRedisStore_Concurrent(t *testing.T) {
	s, _ := newMiniRedisStore(t)

	const (
		limit = 50
		total = 300
	)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.SlidingWindow(ctx, uniqueReq("conc", epoch, limit, time.Minute, i))
			if err != nil {
				t.Errorf("SlidingWindow() error = %v", err)
				return
			}
			if res.Allowed {
				allowed.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(limit), allowed.Load())
}

func TestNewRedisStore_Validation(t *testing.T) {
	_, err := NewRedisStore(nil, nil)
	assert.Error(t, err)

	_, err = NewRedisStore(&RedisConfig{Cluster: true}, nil)
	assert.Error(t, err, "cluster without nodes")

	_, err = NewRedisStore(&RedisConfig{Port: 6379}, nil)
	assert.Error(t, err, "missing host")

	_, err = NewRedisStore(&RedisConfig{Host: "localhost"}, nil)
	assert.Error(t, err, "missing port")

	_, err = NewRedisStore(&RedisConfig{
		Host: "localhost", Port: 6379,
		MinRetryBackoff: time.Second, MaxRetryBackoff: time.Millisecond,
	}, nil)
	assert.Error(t, err, "inverted backoff caps")

	s, err := NewRedisStore(&RedisConfig{Host: "127.0.0.1", Port: 1, DialTimeout: 50 * time.Millisecond, MaxRetries: -1}, nil)
	require.NoError(t, err, "construction never dials")
	assert.Error(t, s.Ping(ctx))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "Close is idempotent")
}

func TestBucketTTL(t *testing.T) {
	assert.Equal(t, time.Minute, BucketTTL(10, 5, time.Minute))
	assert.Equal(t, 2*time.Minute, BucketTTL(10, 20, time.Minute))
	assert.Equal(t, time.Minute, BucketTTL(0, 20, time.Minute))
}

func TestBucketTTL_Saturates(t *testing.T) {
	// A full refill of one million tokens at one per day.
	assert.Equal(t, MaxBucketTTL, BucketTTL(1, 1_000_000, 24*time.Hour))
	assert.Equal(t, MaxBucketTTL, BucketTTL(1, math.MaxInt, time.Hour))

	ttl := BucketTTL(1, 1000, 24*time.Hour)
	assert.Equal(t, 1000*24*time.Hour, ttl)
	assert.Greater(t, ttl, 24*time.Hour)
}
