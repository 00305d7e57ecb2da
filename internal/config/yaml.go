package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level apigw configuration file.
type YAMLConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Webhooks  WebhookConfig   `yaml:"webhooks"`
	Audit     AuditConfig     `yaml:"audit"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Orders    OrdersConfig    `yaml:"orders"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string     `yaml:"host"`
	Port            int        `yaml:"port"`
	MaxBodySize     int64      `yaml:"max_body_size"`
	ShutdownTimeout string     `yaml:"shutdown_timeout"`
	CORS            CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// StoreConfig selects the persistence backend. An empty DSN with the sqlite
// driver uses apigw.db inside DataDir.
type StoreConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	DataDir string `yaml:"data_dir"`
}

// AuthConfig controls owner sessions and secret hashing.
type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret"`
	JWTExpiry  string `yaml:"jwt_expiry"`
	BcryptCost int    `yaml:"bcrypt_cost"`
}

// RateLimitConfig controls the per-IP limiter that sits in front of every
// gateway route.
type RateLimitConfig struct {
	IPPerMinute   int    `yaml:"ip_per_minute"`
	IPMaxEntries  int    `yaml:"ip_max_entries"`
	SweepInterval string `yaml:"sweep_interval"`
}

// WebhookConfig controls outbound delivery.
type WebhookConfig struct {
	MaxAttempts      int    `yaml:"max_attempts"`
	BackoffBase      string `yaml:"backoff_base"`
	Timeout          string `yaml:"timeout"`
	FailureThreshold int    `yaml:"failure_threshold"`
	UserAgent        string `yaml:"user_agent"`
}

// AuditConfig controls the asynchronous audit journal.
type AuditConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// UpstreamConfig points at the core delivery service.
type UpstreamConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// OrdersConfig holds order ingestion rules.
type OrdersConfig struct {
	AlcoholWindow AlcoholWindowConfig `yaml:"alcohol_window"`
}

// AlcoholWindowConfig is the local-time window in which alcohol may be
// delivered: StartHour inclusive, EndHour exclusive.
type AlcoholWindowConfig struct {
	StartHour int    `yaml:"start_hour"`
	EndHour   int    `yaml:"end_hour"`
	Timezone  string `yaml:"timezone"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
// Missing fields keep their defaults.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand environment variables: ${VAR_NAME}
	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MaxBodySize:     1 << 20,
			ShutdownTimeout: "30s",
			CORS: CORSConfig{
				Origins: []string{"*"},
			},
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Auth: AuthConfig{
			JWTExpiry:  "1h",
			BcryptCost: 10,
		},
		RateLimit: RateLimitConfig{
			IPPerMinute:   60,
			IPMaxEntries:  100_000,
			SweepInterval: "1m",
		},
		Webhooks: WebhookConfig{
			MaxAttempts:      3,
			BackoffBase:      "1s",
			Timeout:          "10s",
			FailureThreshold: 10,
			UserAgent:        "apigw-webhooks/1.0",
		},
		Audit: AuditConfig{
			BufferSize: 1024,
		},
		Upstream: UpstreamConfig{
			BaseURL: "http://localhost:9000",
			Timeout: "5s",
		},
		Orders: OrdersConfig{
			AlcoholWindow: AlcoholWindowConfig{
				StartHour: 8,
				EndHour:   22,
				Timezone:  "UTC",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks values that would otherwise fail late at startup.
func (c *YAMLConfig) Validate() error {
	durations := map[string]string{
		"server.shutdown_timeout":  c.Server.ShutdownTimeout,
		"auth.jwt_expiry":          c.Auth.JWTExpiry,
		"ratelimit.sweep_interval": c.RateLimit.SweepInterval,
		"webhooks.backoff_base":    c.Webhooks.BackoffBase,
		"webhooks.timeout":         c.Webhooks.Timeout,
		"upstream.timeout":         c.Upstream.Timeout,
	}
	for key, v := range durations {
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("config %s: %w", key, err)
		}
	}
	w := c.Orders.AlcoholWindow
	if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 1 || w.EndHour > 24 || w.StartHour >= w.EndHour {
		return fmt.Errorf("config orders.alcohol_window: invalid hours %d-%d", w.StartHour, w.EndHour)
	}
	if _, err := time.LoadLocation(w.Timezone); err != nil {
		return fmt.Errorf("config orders.alcohol_window.timezone: %w", err)
	}
	if c.Webhooks.MaxAttempts < 1 {
		return fmt.Errorf("config webhooks.max_attempts must be at least 1")
	}
	return nil
}

// Duration parses a duration string, falling back to def when empty or invalid.
func Duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || s == "" {
		return def
	}
	return d
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
