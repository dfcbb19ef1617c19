// Package storage exposes the stores that hold rate limit state.
package storage

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	internalstorage "github.com/SmitUplenchwar2687/Turnstile/internal/storage"
)

// Backend names accepted by configuration.
const (
	BackendMemory = internalstorage.BackendMemory
	BackendRedis  = internalstorage.BackendRedis
)

// Error is the class of store failures.
var Error = internalstorage.Error

type (
	// Store executes each rate limit operation atomically.
	Store = internalstorage.Store
	// MemoryStore keeps state in process.
	MemoryStore = internalstorage.MemoryStore
	// MemoryConfig configures a MemoryStore.
	MemoryConfig = internalstorage.MemoryConfig
	// RedisStore keeps state in Redis, shared by every instance.
	RedisStore = internalstorage.RedisStore
	// RedisConfig configures a RedisStore.
	RedisConfig = internalstorage.RedisConfig
)

// NewMemoryStore creates an in-process store.
func NewMemoryStore(cfg *MemoryConfig) (*MemoryStore, error) {
	return internalstorage.NewMemoryStore(cfg)
}

// NewRedisStore connects a store to a standalone or cluster deployment.
func NewRedisStore(cfg *RedisConfig, log *zap.Logger) (*RedisStore, error) {
	return internalstorage.NewRedisStore(cfg, log)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client redis.UniversalClient, log *zap.Logger) *RedisStore {
	return internalstorage.NewRedisStoreFromClient(client, log)
}
