package limiter_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/SmitUplenchwar2687/Turnstile/pkg/clock"
	"github.com/SmitUplenchwar2687/Turnstile/pkg/limiter"
	"github.com/SmitUplenchwar2687/Turnstile/pkg/policy"
	"github.com/SmitUplenchwar2687/Turnstile/pkg/storage"
)

func TestService_Memory(t *testing.T) {
	vc := clock.NewVirtualClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	store, err := storage.NewMemoryStore(&storage.MemoryConfig{Clock: vc})
	if err != nil {
		t.Fatalf("NewMemoryStore() error = %v", err)
	}
	defer store.Close()

	svc, err := limiter.New(store, limiter.WithClock(vc))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		res, err := svc.RateLimit(ctx, "user", 3, "1m")
		if err != nil {
			t.Fatal(err)
		}
		if !res.Success {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	res, err := svc.RateLimit(ctx, "user", 3, "1m")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("4th request should be denied")
	}
	if res.RetryAfter != time.Minute {
		t.Errorf("RetryAfter = %s, want 1m", res.RetryAfter)
	}

	vc.Advance(time.Minute)
	res, err = svc.RateLimit(ctx, "user", 3, "1m")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Error("request after the window slid should be allowed")
	}
}

func TestService_RedisTier(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := storage.NewRedisStoreFromClient(client, zaptest.NewLogger(t))
	defer store.Close()

	svc, err := limiter.New(store, limiter.WithTimeout(time.Second))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	allowed := 0
	for i := 0; i < 7; i++ {
		res, err := svc.MultiTier(ctx, "10.0.0.1", policy.TierAnonymous, "auth")
		if err != nil {
			t.Fatal(err)
		}
		if res.Success {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("allowed = %d, want 5", allowed)
	}
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := limiter.ParseFailurePolicy("closed")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(limiter.FailClosed); !ok {
		t.Errorf("ParseFailurePolicy(closed) = %T, want FailClosed", p)
	}

	if _, err := limiter.ParseFailurePolicy("sideways"); err == nil {
		t.Error("expected error for unknown mode")
	}
}
