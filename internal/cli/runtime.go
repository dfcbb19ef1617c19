package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/SmitUplenchwar2687/Turnstile/internal/clock"
	"github.com/SmitUplenchwar2687/Turnstile/internal/config"
	"github.com/SmitUplenchwar2687/Turnstile/internal/limiter"
	"github.com/SmitUplenchwar2687/Turnstile/internal/policy"
	"github.com/SmitUplenchwar2687/Turnstile/internal/storage"
)

const startupPingRetries = 3

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func newStore(cfg config.StorageConfig, log *zap.Logger, clk clock.Clock) (storage.Store, error) {
	switch cfg.Backend {
	case storage.BackendMemory:
		return storage.NewMemoryStore(&storage.MemoryConfig{
			CleanupInterval: cfg.Memory.CleanupInterval,
			Clock:           clk,
		})
	case storage.BackendRedis:
		redisCfg := cfg.Redis
		return storage.NewRedisStore(&redisCfg, log.Named("redis"))
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newService(cfg config.Config, store storage.Store, log *zap.Logger, extra ...limiter.Option) (*limiter.Service, error) {
	failure, err := limiter.ParseFailurePolicy(cfg.Limiter.FailureMode)
	if err != nil {
		return nil, err
	}

	table := policy.DefaultTable()
	if cfg.Limiter.PolicyFile != "" {
		if table, err = policy.LoadFile(cfg.Limiter.PolicyFile); err != nil {
			return nil, err
		}
	}

	opts := []limiter.Option{
		limiter.WithLogger(log),
		limiter.WithFailurePolicy(failure),
		limiter.WithTimeout(cfg.Limiter.Timeout),
		limiter.WithServerID(cfg.Limiter.ServerID),
		limiter.WithPolicies(table),
	}
	return limiter.New(store, append(opts, extra...)...)
}

// checkStore warns when a Redis store is unreachable at startup. It never
// fails: checks keep answering under the failure policy.
func checkStore(ctx context.Context, store storage.Store, failureMode string, log *zap.Logger) {
	rs, ok := store.(*storage.RedisStore)
	if !ok {
		return
	}
	if err := rs.PingWithRetry(ctx, startupPingRetries); err != nil {
		log.Warn("redis unreachable at startup, checks use the failure policy until it recovers",
			zap.String("failure_mode", failureMode), zap.Error(err))
	}
}

// session bundles what a one-shot command needs.
type session struct {
	cfg   config.Config
	log   *zap.Logger
	store storage.Store
	svc   *limiter.Service
}

func openSession(cfg config.Config, extra ...limiter.Option) (*session, error) {
	log, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	store, err := newStore(cfg.Storage, log, clock.NewRealClock())
	if err != nil {
		return nil, err
	}
	svc, err := newService(cfg, store, log, extra...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &session{cfg: cfg, log: log, store: store, svc: svc}, nil
}

func (s *session) Close() error {
	_ = s.log.Sync()
	return s.store.Close()
}
