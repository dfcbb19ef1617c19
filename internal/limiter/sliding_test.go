package limiter

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SmitUplenchwar2687/Turnstile/internal/policy"
)

func TestSlidingWindow_Saturation(t *testing.T) {
	svc, _ := newTestService(t)

	for i := 0; i < 3; i++ {
		res, err := svc.SlidingWindow(ctx, "user1", 3, time.Minute)
		if err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		if !res.Success {
			t.Errorf("request %d should be allowed", i+1)
		}
		if res.Remaining != 2-i {
			t.Errorf("request %d: Remaining = %d, want %d", i+1, res.Remaining, 2-i)
		}
		if res.Limit != 3 {
			t.Errorf("Limit = %d, want 3", res.Limit)
		}
		if !res.Reset.Equal(epoch.Add(time.Minute)) {
			t.Errorf("Reset = %v, want %v", res.Reset, epoch.Add(time.Minute))
		}
	}

	res, err := svc.SlidingWindow(ctx, "user1", 3, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("4th request should be denied")
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", res.Remaining)
	}
	if res.RetryAfter != time.Minute {
		t.Errorf("RetryAfter = %v, want 1m", res.RetryAfter)
	}
}

func TestSlidingWindow_SlideRecovers(t *testing.T) {
	svc, vc := newTestService(t)

	for i := 0; i < 3; i++ {
		svc.SlidingWindow(ctx, "user1", 3, time.Minute)
	}

	vc.Advance(30 * time.Second)
	res, _ := svc.SlidingWindow(ctx, "user1", 3, time.Minute)
	if res.Success {
		t.Fatal("should still be denied at 30s")
	}
	if res.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", res.RetryAfter)
	}

	vc.Advance(31 * time.Second)
	res, _ = svc.SlidingWindow(ctx, "user1", 3, time.Minute)
	if !res.Success {
		t.Fatal("should be allowed once the window slides past the first requests")
	}
	if res.Remaining != 2 {
		t.Errorf("Remaining = %d, want 2", res.Remaining)
	}
}

func TestSlidingWindow_GradualExpiry(t *testing.T) {
	svc, vc := newTestService(t)

	svc.SlidingWindow(ctx, "user1", 2, time.Minute)
	vc.Advance(20 * time.Second)
	svc.SlidingWindow(ctx, "user1", 2, time.Minute)

	// t=40s: both in the window
	vc.Advance(20 * time.Second)
	if res, _ := svc.SlidingWindow(ctx, "user1", 2, time.Minute); res.Success {
		t.Fatal("should be denied at 40s")
	}

	// t=60s: the first request sits exactly on the boundary and is pruned
	vc.Advance(20 * time.Second)
	if res, _ := svc.SlidingWindow(ctx, "user1", 2, time.Minute); !res.Success {
		t.Fatal("should be allowed at 60s")
	}
}

func TestSlidingWindow_KeysAreIndependent(t *testing.T) {
	svc, _ := newTestService(t)

	svc.SlidingWindow(ctx, "a", 1, time.Minute)
	if res, _ := svc.SlidingWindow(ctx, "a", 1, time.Minute); res.Success {
		t.Error("a should be exhausted")
	}
	if res, _ := svc.SlidingWindow(ctx, "b", 1, time.Minute); !res.Success {
		t.Error("b should be unaffected by a")
	}
}

func TestSlidingWindow_InvalidInput(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name   string
		id     string
		limit  int
		window time.Duration
	}{
		{"zero limit", "user1", 0, time.Minute},
		{"negative limit", "user1", -3, time.Minute},
		{"empty identifier", "", 5, time.Minute},
		{"zero window", "user1", 5, 0},
		{"sub-millisecond window", "user1", 5, time.Microsecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.SlidingWindow(ctx, tt.id, tt.limit, tt.window)
			require.Error(t, err)
			assert.True(t, ErrInvalidInput.Has(err))
			assert.False(t, res.Success)
			assert.Equal(t, 0, res.Remaining)
		})
	}
}

func TestSlidingWindow_ConcurrentNeverExceedsLimit(t *testing.T) {
	svc, _ := newTestService(t)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.SlidingWindow(ctx, "hot", 50, time.Minute)
			if err == nil && res.Success {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), allowed.Load())
}

func TestSlidingWindow_Redis(t *testing.T) {
	svc, vc, mr := newRedisService(t)

	for i := 0; i < 3; i++ {
		res, err := svc.SlidingWindow(ctx, "user1", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, res.Success)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := svc.SlidingWindow(ctx, "user1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, time.Minute, res.RetryAfter)

	members, err := mr.ZMembers("rl:sw:user1")
	require.NoError(t, err)
	assert.Len(t, members, 3)

	vc.Advance(61 * time.Second)
	res, err = svc.SlidingWindow(ctx, "user1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestRateLimit_ParsesWindow(t *testing.T) {
	svc, vc := newTestService(t)

	res, err := svc.RateLimit(ctx, "user1", 1, "10s")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Reset.Equal(epoch.Add(10*time.Second)))

	res, err = svc.RateLimit(ctx, "user1", 1, "10s")
	require.NoError(t, err)
	assert.False(t, res.Success)

	vc.Advance(11 * time.Second)
	res, err = svc.RateLimit(ctx, "user1", 1, "10s")
	require.NoError(t, err)
	assert.True(t, res.Success)

	for _, bad := range []string{"", "10", "1w", "0m", "-5s", "1.5m"} {
		res, err := svc.RateLimit(ctx, "user2", 1, bad)
		require.Error(t, err, bad)
		assert.True(t, ErrInvalidInput.Has(err), bad)
		assert.False(t, res.Success, bad)
	}
}

func TestMultiTier_UsesPolicyTable(t *testing.T) {
	svc, _ := newTestService(t)

	for i := 0; i < 5; i++ {
		res, err := svc.MultiTier(ctx, "1.2.3.4", policy.TierAnonymous, policy.EndpointAuth)
		require.NoError(t, err)
		require.True(t, res.Success, "request %d", i+1)
		assert.Equal(t, 5, res.Limit)
	}

	res, err := svc.MultiTier(ctx, "1.2.3.4", policy.TierAnonymous, policy.EndpointAuth)
	require.NoError(t, err)
	assert.False(t, res.Success)

	// same caller, different endpoint class: separate record and policy
	res, err = svc.MultiTier(ctx, "1.2.3.4", policy.TierAnonymous, policy.EndpointAPI)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 20, res.Limit)

	// same caller, different tier
	res, err = svc.MultiTier(ctx, "1.2.3.4", policy.TierPremium, policy.EndpointAuth)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 20, res.Limit)

	stats, err := svc.Stats(ctx, TierKey(policy.TierAnonymous, "1.2.3.4", policy.EndpointAuth))
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Requests)
}

func TestMultiTier_FallsBackToTierDefault(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.MultiTier(ctx, "u1", policy.TierAuthenticated, "reports")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 300, res.Limit)

	res, err = svc.MultiTier(ctx, "u1", policy.TierAPI, "")
	require.NoError(t, err)
	assert.Equal(t, 2000, res.Limit)
}

func TestMultiTier_InvalidTier(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.MultiTier(ctx, "u1", policy.Tier("gold"), policy.EndpointAPI)
	require.Error(t, err)
	assert.True(t, ErrInvalidInput.Has(err))
	assert.False(t, res.Success)

	_, err = svc.MultiTier(ctx, "", policy.TierAPI, policy.EndpointAPI)
	require.Error(t, err)
}

func TestPeek_DoesNotConsume(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.Peek(ctx, "user1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Remaining)

	svc.SlidingWindow(ctx, "user1", 3, time.Minute)
	svc.SlidingWindow(ctx, "user1", 3, time.Minute)

	for i := 0; i < 5; i++ {
		res, err = svc.Peek(ctx, "user1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, 1, res.Remaining)
	}

	res, err = svc.SlidingWindow(ctx, "user1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Success, "peeks must not have used the last slot")
	assert.Equal(t, 0, res.Remaining)

	res, err = svc.Peek(ctx, "user1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, time.Minute, res.RetryAfter)
}

func TestPeek_Redis(t *testing.T) {
	svc, _, mr := newRedisService(t)

	svc.SlidingWindow(ctx, "user1", 2, time.Minute)
	for i := 0; i < 3; i++ {
		res, err := svc.Peek(ctx, "user1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, 1, res.Remaining)
	}

	members, err := mr.ZMembers("rl:sw:user1")
	require.NoError(t, err)
	assert.Len(t, members, 1)
}
