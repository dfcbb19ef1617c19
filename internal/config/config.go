// Package config loads Turnstile settings from defaults, an optional JSON
// file, and the environment. Command-line flags are layered on top by the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/zeebo/errs"

	"github.com/SmitUplenchwar2687/Turnstile/internal/storage"
)

// Error is the class of configuration failures.
var Error = errs.Class("config")

// Config is the top-level configuration for a Turnstile process.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Limiter LimiterConfig `json:"limiter"`
	Storage StorageConfig `json:"storage"`
	Log     LogConfig     `json:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `json:"addr"`
	AdminToken      string        `json:"-"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// LimiterConfig holds the settings shared by every check.
type LimiterConfig struct {
	Timeout     time.Duration `json:"timeout"`
	FailureMode string        `json:"failure_mode"`
	ServerID    string        `json:"server_id"`
	PolicyFile  string        `json:"policy_file,omitempty"`
}

// StorageConfig selects and configures the backing store.
type StorageConfig struct {
	Backend string              `json:"backend"`
	Memory  StorageMemoryConfig `json:"memory"`
	Redis   storage.RedisConfig `json:"redis"`
}

// StorageMemoryConfig configures the in-process store.
type StorageMemoryConfig struct {
	CleanupInterval time.Duration `json:"cleanup_interval"`
}

// LogConfig configures the zap logger built by the CLI.
type LogConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Limiter: LimiterConfig{
			Timeout:     30 * time.Millisecond,
			FailureMode: "open",
			ServerID:    defaultServerID(),
		},
		Storage: StorageConfig{
			Backend: storage.BackendMemory,
			Memory: StorageMemoryConfig{
				CleanupInterval: time.Minute,
			},
			Redis: storage.RedisConfig{
				Host:            "localhost",
				Port:            6379,
				PoolSize:        20,
				MaxRetries:      2,
				DialTimeout:     5 * time.Second,
				MinRetryBackoff: 2 * time.Millisecond,
				MaxRetryBackoff: 20 * time.Millisecond,
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultServerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "turnstile"
	}
	return host
}

// Validate checks that the config is valid.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return Error.New("server.addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return Error.New("server.shutdown_timeout must be positive, got %s", c.Server.ShutdownTimeout)
	}
	if c.Limiter.Timeout <= 0 {
		return Error.New("limiter.timeout must be positive, got %s", c.Limiter.Timeout)
	}
	switch strings.ToLower(c.Limiter.FailureMode) {
	case "open", "closed":
	default:
		return Error.New("unknown failure mode %q, must be one of: open, closed", c.Limiter.FailureMode)
	}

	switch c.Storage.Backend {
	case storage.BackendMemory:
		if c.Storage.Memory.CleanupInterval <= 0 {
			return Error.New("storage.memory.cleanup_interval must be positive, got %s", c.Storage.Memory.CleanupInterval)
		}
	case storage.BackendRedis:
		r := c.Storage.Redis
		if r.Cluster {
			if len(r.ClusterNodes) == 0 {
				return Error.New("storage.redis.cluster_nodes is required in cluster mode")
			}
		} else {
			if r.Host == "" {
				return Error.New("storage.redis.host is required")
			}
			if r.Port <= 0 {
				return Error.New("storage.redis.port must be positive, got %d", r.Port)
			}
		}
		if r.PoolSize < 0 {
			return Error.New("storage.redis.pool_size must not be negative, got %d", r.PoolSize)
		}
	default:
		return Error.New("unknown storage backend %q, must be one of: memory, redis", c.Storage.Backend)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return Error.New("unknown log level %q", c.Log.Level)
	}
	return nil
}

// Load builds a Config from defaults, the JSON file at path when path is not
// empty, and finally the environment. Variables already set in the process
// win over those in envFiles; a missing ./.env is ignored.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return cfg, err
		}
	}

	lookup, err := envLookup(envFiles)
	if err != nil {
		return cfg, err
	}
	if err := ApplyEnv(&cfg, lookup); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func envLookup(files []string) (func(string) (string, bool), error) {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			files = []string{".env"}
		}
	}

	fileVals := map[string]string{}
	if len(files) > 0 {
		var err error
		if fileVals, err = godotenv.Read(files...); err != nil {
			return nil, Error.New("reading env files: %w", err)
		}
	}

	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVals[key]
		return v, ok
	}, nil
}

// ApplyEnv overrides cfg with the variables lookup finds.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return Error.New("parsing %s: %w", key, err)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return Error.New("parsing %s: %w", key, err)
		}
		*dst = d
		return nil
	}

	r := &cfg.Storage.Redis
	str("REDIS_HOST", &r.Host)
	str("REDIS_PASSWORD", &r.Password)
	str("RATELIMIT_STORE", &cfg.Storage.Backend)
	str("RATELIMIT_FAILURE_MODE", &cfg.Limiter.FailureMode)
	str("RATELIMIT_SERVER_ID", &cfg.Limiter.ServerID)
	str("RATELIMIT_POLICY_FILE", &cfg.Limiter.PolicyFile)
	str("SERVER_ADDR", &cfg.Server.Addr)
	str("ADMIN_TOKEN", &cfg.Server.AdminToken)
	str("LOG_LEVEL", &cfg.Log.Level)

	if v, ok := lookup("REDIS_CLUSTER_NODES"); ok && v != "" {
		r.Cluster = true
		r.ClusterNodes = splitList(v)
	}

	for _, step := range []error{
		num("REDIS_PORT", &r.Port),
		num("REDIS_DB", &r.DB),
		num("REDIS_POOL_SIZE", &r.PoolSize),
		num("REDIS_MAX_RETRIES", &r.MaxRetries),
		dur("REDIS_DIAL_TIMEOUT", &r.DialTimeout),
		dur("RATELIMIT_TIMEOUT", &cfg.Limiter.Timeout),
	} {
		if step != nil {
			return step
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadFile reads a JSON config file and merges it with defaults.
// Fields not specified in the file retain their default values.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, Error.New("reading config file: %w", err)
	}

	// Durations are strings in the file.
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return cfg, Error.New("parsing config file: %w", err)
	}

	if raw.Server.Addr != "" {
		cfg.Server.Addr = raw.Server.Addr
	}
	if err := parseDuration("server.shutdown_timeout", raw.Server.ShutdownTimeout, &cfg.Server.ShutdownTimeout); err != nil {
		return cfg, err
	}

	if err := parseDuration("limiter.timeout", raw.Limiter.Timeout, &cfg.Limiter.Timeout); err != nil {
		return cfg, err
	}
	if raw.Limiter.FailureMode != "" {
		cfg.Limiter.FailureMode = raw.Limiter.FailureMode
	}
	if raw.Limiter.ServerID != "" {
		cfg.Limiter.ServerID = raw.Limiter.ServerID
	}
	if raw.Limiter.PolicyFile != "" {
		cfg.Limiter.PolicyFile = raw.Limiter.PolicyFile
	}

	if raw.Storage.Backend != "" {
		cfg.Storage.Backend = raw.Storage.Backend
	}
	if err := parseDuration("storage.memory.cleanup_interval", raw.Storage.Memory.CleanupInterval, &cfg.Storage.Memory.CleanupInterval); err != nil {
		return cfg, err
	}

	rr, r := raw.Storage.Redis, &cfg.Storage.Redis
	if rr.Host != "" {
		r.Host = rr.Host
	}
	if rr.Port > 0 {
		r.Port = rr.Port
	}
	if rr.Password != "" {
		r.Password = rr.Password
	}
	if rr.DB > 0 {
		r.DB = rr.DB
	}
	if rr.Cluster {
		r.Cluster = true
	}
	if len(rr.ClusterNodes) > 0 {
		r.ClusterNodes = rr.ClusterNodes
	}
	if rr.PoolSize > 0 {
		r.PoolSize = rr.PoolSize
	}
	if rr.MaxRetries != 0 {
		r.MaxRetries = rr.MaxRetries
	}
	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"storage.redis.dial_timeout", rr.DialTimeout, &r.DialTimeout},
		{"storage.redis.min_retry_backoff", rr.MinRetryBackoff, &r.MinRetryBackoff},
		{"storage.redis.max_retry_backoff", rr.MaxRetryBackoff, &r.MaxRetryBackoff},
	} {
		if err := parseDuration(d.name, d.raw, d.dst); err != nil {
			return cfg, err
		}
	}

	if raw.Log.Level != "" {
		cfg.Log.Level = raw.Log.Level
	}
	if raw.Log.Development {
		cfg.Log.Development = true
	}

	return cfg, nil
}

func parseDuration(name, raw string, dst *time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return Error.New("parsing %s: %w", name, err)
	}
	*dst = d
	return nil
}

// rawConfig is the JSON-friendly representation with string durations.
type rawConfig struct {
	Server struct {
		Addr            string `json:"addr"`
		ShutdownTimeout string `json:"shutdown_timeout"`
	} `json:"server"`
	Limiter struct {
		Timeout     string `json:"timeout"`
		FailureMode string `json:"failure_mode"`
		ServerID    string `json:"server_id"`
		PolicyFile  string `json:"policy_file"`
	} `json:"limiter"`
	Storage struct {
		Backend string `json:"backend"`
		Memory  struct {
			CleanupInterval string `json:"cleanup_interval"`
		} `json:"memory"`
		Redis struct {
			Host            string   `json:"host"`
			Port            int      `json:"port"`
			Password        string   `json:"password"`
			DB              int      `json:"db"`
			Cluster         bool     `json:"cluster"`
			ClusterNodes    []string `json:"cluster_nodes"`
			PoolSize        int      `json:"pool_size"`
			MaxRetries      int      `json:"max_retries"`
			DialTimeout     string   `json:"dial_timeout"`
			MinRetryBackoff string   `json:"min_retry_backoff"`
			MaxRetryBackoff string   `json:"max_retry_backoff"`
		} `json:"redis"`
	} `json:"storage"`
	Log struct {
		Level       string `json:"level"`
		Development bool   `json:"development"`
	} `json:"log"`
}

// String renders the config as indented JSON with secrets omitted.
func (c Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}
