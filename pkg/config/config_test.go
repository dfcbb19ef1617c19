package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() config should be valid: %v", err)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turnstile.json")
	if err := os.WriteFile(path, []byte(`{"limiter": {"timeout": "50ms", "failure_mode": "closed"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Limiter.Timeout != 50*time.Millisecond {
		t.Errorf("timeout = %s, want 50ms", cfg.Limiter.Timeout)
	}
	if cfg.Limiter.FailureMode != "closed" {
		t.Errorf("failure mode = %q, want closed", cfg.Limiter.FailureMode)
	}
	if cfg.Server.Addr != Default().Server.Addr {
		t.Errorf("addr = %q, want default", cfg.Server.Addr)
	}
}
