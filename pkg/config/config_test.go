package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default configuration invalid: %v", err)
	}
	if cfg.Breaker.FailureThreshold != 3 || cfg.Breaker.BaseCooldown != 5*time.Second {
		t.Errorf("breaker defaults = %+v", cfg.Breaker)
	}
	if cfg.Tuner.BaselineThreshold != 5 || cfg.Tuner.TuneInterval != 50 {
		t.Errorf("tuner defaults = %+v", cfg.Tuner)
	}
	if cfg.Ledger.InitialConfidence != 35 {
		t.Errorf("ledger defaults = %+v", cfg.Ledger)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.State.Backend != "file" {
		t.Errorf("backend = %q, want file", cfg.State.Backend)
	}
}

func TestLoadParsesAndDefaults(t *testing.T) {
	raw := `
logging:
  level: debug
  format: text
state:
  backend: sqlite
  sqlite_path: /var/lib/warden/state.db
breaker:
  failure_threshold: 7
tuner:
  domain: edits
  tune_interval: 100
`
	path := filepath.Join(t.TempDir(), "warden.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.State.Backend != "sqlite" || cfg.State.SQLitePath != "/var/lib/warden/state.db" {
		t.Errorf("state = %+v", cfg.State)
	}
	if cfg.Breaker.FailureThreshold != 7 {
		t.Errorf("failure_threshold = %d, want 7", cfg.Breaker.FailureThreshold)
	}
	// Unset fields still get defaults.
	if cfg.Breaker.BaseCooldown != 5*time.Second {
		t.Errorf("base_cooldown = %v, want default 5s", cfg.Breaker.BaseCooldown)
	}
	if cfg.Tuner.Domain != "edits" || cfg.Tuner.TuneInterval != 100 {
		t.Errorf("tuner = %+v", cfg.Tuner)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WARDEN_BREAKER_FAILURE_THRESHOLD", "9")
	t.Setenv("WARDEN_LOGGING_LEVEL", "warn")
	t.Setenv("WARDEN_STATE_LOCK_TIMEOUT", "750ms")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Breaker.FailureThreshold != 9 {
		t.Errorf("failure_threshold = %d, want 9 from env", cfg.Breaker.FailureThreshold)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q, want warn from env", cfg.Logging.Level)
	}
	if cfg.State.LockTimeout != 750*time.Millisecond {
		t.Errorf("lock_timeout = %v, want 750ms from env", cfg.State.LockTimeout)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad backend", func(c *Config) { c.State.Backend = "redis" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"no rule source", func(c *Config) { c.Rules.Path = ""; c.Rules.GitURL = "" }},
		{"tiny tune interval", func(c *Config) { c.Tuner.TuneInterval = 5 }},
		{"confidence too high", func(c *Config) { c.Ledger.InitialConfidence = 150 }},
		{"identical markers", func(c *Config) { c.Override.HardMarker = c.Override.SoftMarker }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Error("Validate accepted a bad configuration")
			}
		})
	}
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.yaml")
	if err := os.WriteFile(path, []byte("logging: [broken"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted invalid YAML")
	}
}
