package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d; want 5000", cfg.Server.Port)
	}
	if cfg.Pool.Size != 3 {
		t.Errorf("Pool.Size = %d; want 3", cfg.Pool.Size)
	}
	if cfg.Fetch.MaxAttempts != 3 {
		t.Errorf("Fetch.MaxAttempts = %d; want 3", cfg.Fetch.MaxAttempts)
	}
	if cfg.Fetch.MinOutputBytes != 1024 {
		t.Errorf("Fetch.MinOutputBytes = %d; want 1024", cfg.Fetch.MinOutputBytes)
	}
	if cfg.Fetch.CookiesFromBrowser != "chrome" {
		t.Errorf("Fetch.CookiesFromBrowser = %q; want chrome", cfg.Fetch.CookiesFromBrowser)
	}
	if cfg.Captcha.CodeLength != 4 {
		t.Errorf("Captcha.CodeLength = %d; want 4", cfg.Captcha.CodeLength)
	}
	if cfg.Retention.SweepIntervalSec != 600 {
		t.Errorf("Retention.SweepIntervalSec = %d; want 600", cfg.Retention.SweepIntervalSec)
	}
	if got := cfg.ProbeTimeout(); got != 30*time.Second {
		t.Errorf("ProbeTimeout() = %v; want 30s", got)
	}
	if got := cfg.BackoffBase(); got != 2*time.Second {
		t.Errorf("BackoffBase() = %v; want 2s", got)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  timeout_seconds: 45
pool:
  size: 5
fetch:
  max_attempts: 4
  backoff_base_ms: 100
  backoff_max_ms: 500
  min_output_bytes: 2048
  cookies_path: /etc/fetchd/cookies.txt
captcha:
  code_length: 6
  session_ttl_seconds: 300
retention:
  sweep_interval_seconds: 60
  grace_window_seconds: 120
  max_age_seconds: 600
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d; want 9090", cfg.Server.Port)
	}
	if cfg.Pool.Size != 5 {
		t.Errorf("Pool.Size = %d; want 5", cfg.Pool.Size)
	}
	if cfg.Fetch.MaxAttempts != 4 {
		t.Errorf("Fetch.MaxAttempts = %d; want 4", cfg.Fetch.MaxAttempts)
	}
	if cfg.Fetch.CookiesPath != "/etc/fetchd/cookies.txt" {
		t.Errorf("Fetch.CookiesPath = %q", cfg.Fetch.CookiesPath)
	}
	if cfg.Captcha.CodeLength != 6 {
		t.Errorf("Captcha.CodeLength = %d; want 6", cfg.Captcha.CodeLength)
	}
	if cfg.Logging.Development {
		t.Error("Logging.Development = true; want false")
	}
	if got := cfg.BackoffMax(); got != 500*time.Millisecond {
		t.Errorf("BackoffMax() = %v; want 500ms", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() with missing file should fail")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base := func(t *testing.T) Config {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		return cfg
	}

	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero pool", func(c *Config) { c.Pool.Size = 0 }},
		{"zero attempts", func(c *Config) { c.Fetch.MaxAttempts = 0 }},
		{"zero min bytes", func(c *Config) { c.Fetch.MinOutputBytes = 0 }},
		{"code too short", func(c *Config) { c.Captcha.CodeLength = 2 }},
		{"code too long", func(c *Config) { c.Captcha.CodeLength = 12 }},
		{"zero sweep interval", func(c *Config) { c.Retention.SweepIntervalSec = 0 }},
		{"max age below grace", func(c *Config) {
			c.Retention.GraceWindowSec = 600
			c.Retention.MaxAgeSec = 300
		}},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base(t)
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Validate() should fail for %s", tc.name)
			}
		})
	}
}
