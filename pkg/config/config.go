// Package config exposes Turnstile's layered configuration.
package config

import internalconfig "github.com/SmitUplenchwar2687/Turnstile/internal/config"

type (
	// Config is the top-level configuration for a Turnstile process.
	Config = internalconfig.Config
	// ServerConfig holds HTTP server settings.
	ServerConfig = internalconfig.ServerConfig
	// LimiterConfig holds the settings shared by every check.
	LimiterConfig = internalconfig.LimiterConfig
	// StorageConfig selects and configures the backing store.
	StorageConfig = internalconfig.StorageConfig
	// StorageMemoryConfig configures the in-process store.
	StorageMemoryConfig = internalconfig.StorageMemoryConfig
	// LogConfig configures logging.
	LogConfig = internalconfig.LogConfig
)

// Default returns a Config with sensible defaults.
func Default() Config {
	return internalconfig.Default()
}

// Load layers defaults, the JSON file at path (if any), and the environment,
// which may be supplemented by dotenv files.
func Load(path string, envFiles ...string) (Config, error) {
	return internalconfig.Load(path, envFiles...)
}

// LoadFile reads a JSON config file and merges it over the defaults.
func LoadFile(path string) (Config, error) {
	return internalconfig.LoadFile(path)
}
