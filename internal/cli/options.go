package cli

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Turnstile/internal/config"
	"github.com/SmitUplenchwar2687/Turnstile/internal/storage"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configFile string
	envFiles   []string
	logLevel   string
	logDev     bool
}

func (o *globalOptions) addFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&o.configFile, "config", "", "JSON config file")
	cmd.PersistentFlags().StringSliceVar(&o.envFiles, "env-file", nil, "dotenv files to read (default ./.env when present)")
	cmd.PersistentFlags().StringVar(&o.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&o.logDev, "log-dev", false, "human-readable development logging")
}

func (o *globalOptions) applyConfigIfUnset(cmd *cobra.Command, cfg *config.LogConfig) {
	if !cmd.Flags().Changed("log-level") {
		o.logLevel = cfg.Level
	}
	if !cmd.Flags().Changed("log-dev") {
		o.logDev = cfg.Development
	}
}

type storageOptions struct {
	backend               string
	memoryCleanupInterval time.Duration
	redisHost             string
	redisPort             int
	redisPassword         string
	redisDB               int
	redisCluster          bool
	redisClusterNodes     []string
	redisPoolSize         int
	redisMaxRetries       int
	redisDialTimeout      time.Duration
}

func (o *storageOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.backend, "storage", storage.BackendMemory, "storage backend (memory, redis)")
	cmd.Flags().DurationVar(&o.memoryCleanupInterval, "storage-memory-cleanup-interval", time.Minute, "cleanup interval for memory storage backend")
	cmd.Flags().StringVar(&o.redisHost, "redis-host", "localhost", "redis host (or host:port)")
	cmd.Flags().IntVar(&o.redisPort, "redis-port", 6379, "redis port")
	cmd.Flags().StringVar(&o.redisPassword, "redis-password", "", "redis password")
	cmd.Flags().IntVar(&o.redisDB, "redis-db", 0, "redis database index")
	cmd.Flags().BoolVar(&o.redisCluster, "redis-cluster", false, "enable redis cluster mode")
	cmd.Flags().StringSliceVar(&o.redisClusterNodes, "redis-cluster-nodes", nil, "redis cluster nodes host:port list")
	cmd.Flags().IntVar(&o.redisPoolSize, "redis-pool-size", 20, "redis connection pool size")
	cmd.Flags().IntVar(&o.redisMaxRetries, "redis-max-retries", 2, "redis max retries per command (-1 disables)")
	cmd.Flags().DurationVar(&o.redisDialTimeout, "redis-dial-timeout", 5*time.Second, "redis dial timeout")
}

func (o *storageOptions) applyConfigIfUnset(cmd *cobra.Command, cfg *config.StorageConfig) {
	if cfg == nil {
		return
	}

	if !cmd.Flags().Changed("storage") {
		o.backend = cfg.Backend
	}
	if !cmd.Flags().Changed("storage-memory-cleanup-interval") {
		o.memoryCleanupInterval = cfg.Memory.CleanupInterval
	}
	if !cmd.Flags().Changed("redis-host") {
		o.redisHost = cfg.Redis.Host
	}
	if !cmd.Flags().Changed("redis-port") {
		o.redisPort = cfg.Redis.Port
	}
	if !cmd.Flags().Changed("redis-password") {
		o.redisPassword = cfg.Redis.Password
	}
	if !cmd.Flags().Changed("redis-db") {
		o.redisDB = cfg.Redis.DB
	}
	if !cmd.Flags().Changed("redis-cluster") {
		o.redisCluster = cfg.Redis.Cluster
	}
	if !cmd.Flags().Changed("redis-cluster-nodes") {
		o.redisClusterNodes = cfg.Redis.ClusterNodes
	}
	if !cmd.Flags().Changed("redis-pool-size") {
		o.redisPoolSize = cfg.Redis.PoolSize
	}
	if !cmd.Flags().Changed("redis-max-retries") {
		o.redisMaxRetries = cfg.Redis.MaxRetries
	}
	if !cmd.Flags().Changed("redis-dial-timeout") {
		o.redisDialTimeout = cfg.Redis.DialTimeout
	}
}

func (o *storageOptions) normalize() error {
	if o.redisCluster || o.backend != storage.BackendRedis {
		return nil
	}

	host, port, err := normalizeRedisHostPort(o.redisHost, o.redisPort)
	if err != nil {
		return err
	}
	o.redisHost = host
	o.redisPort = port
	return nil
}

// toConfig writes the resolved flags back over base, keeping the settings
// that have no flag.
func (o *storageOptions) toConfig(base config.StorageConfig) config.StorageConfig {
	base.Backend = o.backend
	base.Memory.CleanupInterval = o.memoryCleanupInterval
	base.Redis.Host = o.redisHost
	base.Redis.Port = o.redisPort
	base.Redis.Password = o.redisPassword
	base.Redis.DB = o.redisDB
	base.Redis.Cluster = o.redisCluster
	base.Redis.ClusterNodes = append([]string(nil), o.redisClusterNodes...)
	base.Redis.PoolSize = o.redisPoolSize
	base.Redis.MaxRetries = o.redisMaxRetries
	base.Redis.DialTimeout = o.redisDialTimeout
	return base
}

func normalizeRedisHostPort(host string, port int) (string, int, error) {
	if strings.Contains(host, ":") {
		h, p, err := net.SplitHostPort(host)
		if err != nil {
			return "", 0, fmt.Errorf("invalid --redis-host value %q: %w", host, err)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("invalid redis port in --redis-host %q: %w", host, err)
		}
		host = h
		port = n
	}

	if host == "" {
		return "", 0, fmt.Errorf("redis host cannot be empty")
	}
	if port <= 0 {
		return "", 0, fmt.Errorf("redis port must be positive, got %d", port)
	}

	return host, port, nil
}

type limiterOptions struct {
	timeout     time.Duration
	failureMode string
	serverID    string
	policyFile  string
}

func (o *limiterOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&o.timeout, "timeout", 30*time.Millisecond, "deadline for each store round trip")
	cmd.Flags().StringVar(&o.failureMode, "failure-mode", "open", "behavior when the store fails (open, closed)")
	cmd.Flags().StringVar(&o.serverID, "server-id", "", "node id for distributed checks (default hostname)")
	cmd.Flags().StringVar(&o.policyFile, "policy-file", "", "JSON policy overlay for tiered checks")
}

func (o *limiterOptions) applyConfigIfUnset(cmd *cobra.Command, cfg *config.LimiterConfig) {
	if !cmd.Flags().Changed("timeout") {
		o.timeout = cfg.Timeout
	}
	if !cmd.Flags().Changed("failure-mode") {
		o.failureMode = cfg.FailureMode
	}
	if !cmd.Flags().Changed("server-id") {
		o.serverID = cfg.ServerID
	}
	if !cmd.Flags().Changed("policy-file") {
		o.policyFile = cfg.PolicyFile
	}
}

func (o *limiterOptions) toConfig() config.LimiterConfig {
	return config.LimiterConfig{
		Timeout:     o.timeout,
		FailureMode: o.failureMode,
		ServerID:    o.serverID,
		PolicyFile:  o.policyFile,
	}
}

// resolveConfig layers defaults, the config file, the environment, and any
// flags the user set, then validates the result.
func resolveConfig(cmd *cobra.Command, global *globalOptions, so *storageOptions, lo *limiterOptions) (config.Config, error) {
	cfg, err := config.Load(global.configFile, global.envFiles...)
	if err != nil {
		return cfg, err
	}

	global.applyConfigIfUnset(cmd, &cfg.Log)
	cfg.Log.Level = global.logLevel
	cfg.Log.Development = global.logDev

	if so != nil {
		so.applyConfigIfUnset(cmd, &cfg.Storage)
		if err := so.normalize(); err != nil {
			return cfg, err
		}
		cfg.Storage = so.toConfig(cfg.Storage)
	}
	if lo != nil {
		lo.applyConfigIfUnset(cmd, &cfg.Limiter)
		cfg.Limiter = lo.toConfig()
	}

	return cfg, cfg.Validate()
}
