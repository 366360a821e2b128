// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Captcha   CaptchaConfig   `mapstructure:"captcha"`
	Retention RetentionConfig `mapstructure:"retention"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	RateLimitRPS   float64  `mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
}

// PoolConfig bounds concurrent fetch jobs.
type PoolConfig struct {
	Size int `mapstructure:"size"`
}

// FetchConfig governs the worker routine and the extractor invocation.
type FetchConfig struct {
	MaxAttempts        int     `mapstructure:"max_attempts"`
	BackoffBaseMs      int     `mapstructure:"backoff_base_ms"`
	BackoffMaxMs       int     `mapstructure:"backoff_max_ms"`
	MinOutputBytes     int64   `mapstructure:"min_output_bytes"`
	ProbeTimeoutSec    int     `mapstructure:"probe_timeout_seconds"`
	CookiesPath        string  `mapstructure:"cookies_path"`
	CookiesFromBrowser string  `mapstructure:"cookies_from_browser"`
	UserAgent          string  `mapstructure:"user_agent"`
	WorkDirRoot        string  `mapstructure:"workdir_root"`
	AudioBitrate       string  `mapstructure:"audio_bitrate"`
	FragmentRetries    int     `mapstructure:"fragment_retries"`
	RateLimitMBps      float64 `mapstructure:"rate_limit_mbps"`
}

// CaptchaConfig governs the verification gate.
type CaptchaConfig struct {
	CodeLength      int    `mapstructure:"code_length"`
	ChallengeTTLSec int    `mapstructure:"challenge_ttl_seconds"`
	SessionTTLSec   int    `mapstructure:"session_ttl_seconds"`
	MaxAttempts     int    `mapstructure:"max_attempts"`
	HMACKey         string `mapstructure:"hmac_key"`
}

// RetentionConfig governs the cleanup sweeper.
type RetentionConfig struct {
	SweepIntervalSec     int `mapstructure:"sweep_interval_seconds"`
	GraceWindowSec       int `mapstructure:"grace_window_seconds"`
	MaxAgeSec            int `mapstructure:"max_age_seconds"`
	PostDeliveryDelaySec int `mapstructure:"post_delivery_delay_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FETCHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("server.rate_limit_rps", 5)
	v.SetDefault("server.rate_limit_burst", 10)
	v.SetDefault("pool.size", 3)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.backoff_base_ms", 2000)
	v.SetDefault("fetch.backoff_max_ms", 30000)
	v.SetDefault("fetch.min_output_bytes", 1024)
	v.SetDefault("fetch.probe_timeout_seconds", 30)
	v.SetDefault("fetch.cookies_from_browser", "chrome")
	v.SetDefault("fetch.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	v.SetDefault("fetch.audio_bitrate", "192")
	v.SetDefault("fetch.fragment_retries", 10)
	v.SetDefault("captcha.code_length", 4)
	v.SetDefault("captcha.challenge_ttl_seconds", 120)
	v.SetDefault("captcha.session_ttl_seconds", 600)
	v.SetDefault("captcha.max_attempts", 3)
	v.SetDefault("retention.sweep_interval_seconds", 600)
	v.SetDefault("retention.grace_window_seconds", 3600)
	v.SetDefault("retention.max_age_seconds", 21600)
	v.SetDefault("retention.post_delivery_delay_seconds", 60)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pool.Size <= 0 {
		return fmt.Errorf("pool.size must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.Fetch.MinOutputBytes <= 0 {
		return fmt.Errorf("fetch.min_output_bytes must be > 0")
	}
	if c.Captcha.CodeLength < 4 || c.Captcha.CodeLength > 8 {
		return fmt.Errorf("captcha.code_length must be between 4 and 8")
	}
	if c.Captcha.MaxAttempts <= 0 {
		return fmt.Errorf("captcha.max_attempts must be > 0")
	}
	if c.Retention.SweepIntervalSec <= 0 {
		return fmt.Errorf("retention.sweep_interval_seconds must be > 0")
	}
	if c.Retention.GraceWindowSec <= 0 || c.Retention.MaxAgeSec <= c.Retention.GraceWindowSec {
		return fmt.Errorf("retention.max_age_seconds must be > retention.grace_window_seconds > 0")
	}
	return nil
}

// ProbeTimeout converts the probe deadline into a duration.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Fetch.ProbeTimeoutSec) * time.Second
}

// BackoffBase converts the configured backoff base into a duration.
func (c Config) BackoffBase() time.Duration {
	return time.Duration(c.Fetch.BackoffBaseMs) * time.Millisecond
}

// BackoffMax converts the configured backoff cap into a duration.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.Fetch.BackoffMaxMs) * time.Millisecond
}
