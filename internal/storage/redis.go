package storage

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultRedisPoolSize        = 20
	defaultRedisMaxRetries      = 2
	defaultRedisDialTimeout     = 5 * time.Second
	defaultRedisMinRetryBackoff = 2 * time.Millisecond
	defaultRedisMaxRetryBackoff = 20 * time.Millisecond

	clearScanCount = 100
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Password        string        `json:"-"`
	DB              int           `json:"db"`
	Cluster         bool          `json:"cluster"`
	ClusterNodes    []string      `json:"cluster_nodes,omitempty"`
	PoolSize        int           `json:"pool_size"`
	MaxRetries      int           `json:"max_retries"`
	DialTimeout     time.Duration `json:"dial_timeout"`
	MinRetryBackoff time.Duration `json:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `json:"max_retry_backoff"`
}

// RedisStore is the Redis implementation of Store. All checks are Lua
// scripts, so each one is a single atomic round trip.
type RedisStore struct {
	client redis.UniversalClient
	log    *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewRedisStore validates cfg and builds a pooled client. It does not dial:
// a store that is down at startup must still let the limiter fail open, so
// connectivity is checked separately with PingWithRetry.
func NewRedisStore(cfg *RedisConfig, log *zap.Logger) (*RedisStore, error) {
	conf, err := normalizeRedisConfig(cfg)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &RedisStore{
		client: newRedisClient(conf),
		log:    log,
	}, nil
}

// NewRedisStoreFromClient wraps an existing client. The caller keeps
// ownership of client configuration; Close still closes it.
func NewRedisStoreFromClient(client redis.UniversalClient, log *zap.Logger) *RedisStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{client: client, log: log}
}

// SlidingWindow implements Store.
func (s *RedisStore) SlidingWindow(ctx context.Context, req WindowRequest) (WindowResult, error) {
	res, err := slidingWindowScript.Run(ctx, s.client,
		[]string{SlidingKey(req.Identifier)},
		req.Now.UnixMilli(), req.Window.Milliseconds(), req.Limit, req.Member,
	).Result()
	if err != nil {
		return WindowResult{}, Error.New("running sliding window script: %w", err)
	}
	return parseWindowReply(res)
}

// PeekWindow implements Store.
func (s *RedisStore) PeekWindow(ctx context.Context, req WindowRequest) (WindowResult, error) {
	res, err := peekWindowScript.Run(ctx, s.client,
		[]string{SlidingKey(req.Identifier)},
		req.Now.UnixMilli(), req.Window.Milliseconds(),
	).Result()
	if err != nil {
		return WindowResult{}, Error.New("running peek script: %w", err)
	}

	values, err := intReply(res, 2)
	if err != nil {
		return WindowResult{}, err
	}
	return WindowResult{
		Allowed: values[0] < int64(req.Limit),
		Count:   int(values[0]),
		Oldest:  scoreTime(values[1]),
	}, nil
}

// Distributed implements Store.
func (s *RedisStore) Distributed(ctx context.Context, req DistributedRequest) (WindowResult, error) {
	res, err := distributedScript.Run(ctx, s.client,
		[]string{GlobalKey(req.Identifier), LocalKey(req.Identifier, req.ServerID)},
		req.Now.UnixMilli(), req.Window.Milliseconds(), req.Limit, req.Member,
	).Result()
	if err != nil {
		return WindowResult{}, Error.New("running distributed script: %w", err)
	}
	return parseWindowReply(res)
}

// TokenBucket implements Store.
func (s *RedisStore) TokenBucket(ctx context.Context, req BucketRequest) (BucketResult, error) {
	ttl := BucketTTL(req.Rate, req.Burst, req.Window)
	res, err := tokenBucketScript.Run(ctx, s.client,
		[]string{BucketKey(req.Identifier)},
		req.Now.UnixMilli(), req.Window.Milliseconds(), req.Rate, req.Burst, ttl.Milliseconds(),
	).Result()
	if err != nil {
		return BucketResult{}, Error.New("running token bucket script: %w", err)
	}

	values, err := intReply(res, 2)
	if err != nil {
		return BucketResult{}, err
	}
	return BucketResult{
		Allowed: values[0] == 1,
		Tokens:  float64(values[1]),
	}, nil
}

// Clear implements Store. Keys are found with SCAN, on every master when
// running against a cluster, and deleted one DEL per key so cluster slots
// never have to agree.
func (s *RedisStore) Clear(ctx context.Context, pattern string) (int64, error) {
	if pattern == "" {
		return 0, Error.New("clear pattern is required")
	}

	var deleted int64
	var mu sync.Mutex
	clearNode := func(ctx context.Context, c redis.UniversalClient) error {
		n, err := clearOnNode(ctx, c, pattern)
		mu.Lock()
		deleted += n
		mu.Unlock()
		return err
	}

	var err error
	if cluster, ok := s.client.(*redis.ClusterClient); ok {
		err = cluster.ForEachMaster(ctx, func(ctx context.Context, c *redis.Client) error {
			return clearNode(ctx, c)
		})
	} else {
		err = clearNode(ctx, s.client)
	}
	if err != nil {
		return deleted, Error.New("clearing %q: %w", pattern, err)
	}

	s.log.Info("cleared rate limit records", zap.String("pattern", pattern), zap.Int64("deleted", deleted))
	return deleted, nil
}

func clearOnNode(ctx context.Context, c redis.UniversalClient, pattern string) (int64, error) {
	var deleted int64
	for _, match := range clearPatterns(pattern) {
		iter := c.Scan(ctx, 0, match, clearScanCount).Iterator()
		var batch []string
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return deleted, err
		}
		if len(batch) == 0 {
			continue
		}

		cmds, err := c.Pipelined(ctx, func(p redis.Pipeliner) error {
			for _, key := range batch {
				p.Del(ctx, key)
			}
			return nil
		})
		if err != nil {
			return deleted, err
		}
		for _, cmd := range cmds {
			deleted += cmd.(*redis.IntCmd).Val()
		}
	}
	return deleted, nil
}

// Stats implements Store. The three reads run in one MULTI so the snapshot is
// consistent.
func (s *RedisStore) Stats(ctx context.Context, identifier string) (WindowStats, error) {
	key := SlidingKey(identifier)

	var card *redis.IntCmd
	var first, last *redis.ZSliceCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		card = p.ZCard(ctx, key)
		first = p.ZRangeWithScores(ctx, key, 0, 0)
		last = p.ZRangeWithScores(ctx, key, -1, -1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return WindowStats{}, Error.New("reading stats for %q: %w", identifier, err)
	}

	stats := WindowStats{Requests: int(card.Val())}
	if z := first.Val(); len(z) > 0 {
		stats.Oldest = scoreTime(int64(z[0].Score))
	}
	if z := last.Val(); len(z) > 0 {
		stats.Newest = scoreTime(int64(z[0].Score))
	}
	return stats, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return Error.Wrap(err)
	}
	return nil
}

// PingWithRetry pings up to maxRetries+1 times, doubling the pause between
// attempts from 100ms.
func (s *RedisStore) PingWithRetry(ctx context.Context, maxRetries int) error {
	attempts := maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	backoff := 100 * time.Millisecond
	var lastErr error
	for i := 0; i < attempts; i++ {
		if lastErr = s.Ping(ctx); lastErr == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		s.log.Debug("redis ping failed, retrying", zap.Int("attempt", i+1), zap.Duration("backoff", backoff), zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return lastErr
}

// Close releases Redis resources. It is idempotent.
func (s *RedisStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

func normalizeRedisConfig(cfg *RedisConfig) (*RedisConfig, error) {
	if cfg == nil {
		return nil, Error.New("redis config is required")
	}

	conf := *cfg
	if conf.PoolSize <= 0 {
		conf.PoolSize = defaultRedisPoolSize
	}
	if conf.MaxRetries == 0 {
		conf.MaxRetries = defaultRedisMaxRetries
	}
	if conf.DialTimeout <= 0 {
		conf.DialTimeout = defaultRedisDialTimeout
	}
	if conf.MinRetryBackoff <= 0 {
		conf.MinRetryBackoff = defaultRedisMinRetryBackoff
	}
	if conf.MaxRetryBackoff <= 0 {
		conf.MaxRetryBackoff = defaultRedisMaxRetryBackoff
	}
	if conf.MaxRetryBackoff < conf.MinRetryBackoff {
		return nil, Error.New("max_retry_backoff %s is below min_retry_backoff %s", conf.MaxRetryBackoff, conf.MinRetryBackoff)
	}

	if conf.Cluster {
		if len(conf.ClusterNodes) == 0 {
			return nil, Error.New("cluster_nodes is required when cluster=true")
		}
	} else {
		if conf.Host == "" {
			return nil, Error.New("host is required when cluster=false")
		}
		if conf.Port <= 0 {
			return nil, Error.New("port must be positive when cluster=false, got %d", conf.Port)
		}
	}

	return &conf, nil
}

// newRedisClient builds the client. ContextTimeoutEnabled makes socket reads
// honor the per-check deadline instead of the client-wide read timeout.
func newRedisClient(cfg *RedisConfig) redis.UniversalClient {
	if cfg.Cluster {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:                 cfg.ClusterNodes,
			Password:              cfg.Password,
			PoolSize:              cfg.PoolSize,
			MaxRetries:            cfg.MaxRetries,
			MinRetryBackoff:       cfg.MinRetryBackoff,
			MaxRetryBackoff:       cfg.MaxRetryBackoff,
			DialTimeout:           cfg.DialTimeout,
			ContextTimeoutEnabled: true,
		})
	}

	return redis.NewClient(&redis.Options{
		Addr:                  cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Password:              cfg.Password,
		DB:                    cfg.DB,
		PoolSize:              cfg.PoolSize,
		MaxRetries:            cfg.MaxRetries,
		MinRetryBackoff:       cfg.MinRetryBackoff,
		MaxRetryBackoff:       cfg.MaxRetryBackoff,
		DialTimeout:           cfg.DialTimeout,
		ContextTimeoutEnabled: true,
	})
}

func parseWindowReply(res interface{}) (WindowResult, error) {
	values, err := intReply(res, 3)
	if err != nil {
		return WindowResult{}, err
	}
	return WindowResult{
		Allowed: values[0] == 1,
		Count:   int(values[1]),
		Oldest:  scoreTime(values[2]),
	}, nil
}

func intReply(res interface{}, n int) ([]int64, error) {
	raw, ok := res.([]interface{})
	if !ok || len(raw) != n {
		return nil, Error.New("unexpected redis script result: %T", res)
	}

	out := make([]int64, n)
	for i, v := range raw {
		x, err := asInt64(v)
		if err != nil {
			return nil, Error.New("parsing script result %d: %w", i, err)
		}
		out[i] = x
	}
	return out, nil
}

func scoreTime(ms int64) time.Time {
	if ms < 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func asInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, err
		}
		return n, nil
	default:
		return 0, errors.New("unsupported numeric type")
	}
}
