// Package config loads kaigo configuration from YAML with environment
// fallbacks.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	// BackendURL is the base URL of the Kai backend.
	BackendURL string `yaml:"backend_url"`
	// UserID identifies the chatting user.
	UserID string `yaml:"user_id"`
	// RequestTimeout bounds each backend request (e.g. "60s").
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// RateLimit caps outbound requests per second (0 = unlimited).
	RateLimit float64 `yaml:"rate_limit"`
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// Session configures session persistence.
	Session SessionConfig `yaml:"session"`
	// Metrics configures the observability server.
	Metrics MetricsConfig `yaml:"metrics"`
	// Proactive configures proactive check-in polling.
	Proactive ProactiveConfig `yaml:"proactive"`
}

// SessionConfig configures session persistence.
type SessionConfig struct {
	// Enabled determines whether sessions are persisted.
	// Default: true.
	Enabled bool `yaml:"enabled"`

	// Store specifies the storage backend type.
	// Options: "memory", "file", "redis". Default: "file".
	Store string `yaml:"store"`

	// BaseDir is the base directory for file-based storage.
	// Default: ~/.kaigo.
	BaseDir string `yaml:"base_dir"`

	// Redis holds redis-specific settings (store: redis).
	Redis RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// MetricsConfig configures the metrics/health HTTP server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// ProactiveConfig configures proactive check-in polling.
type ProactiveConfig struct {
	Enabled bool `yaml:"enabled"`
	// Schedule is a cron expression (default: every 30 minutes).
	Schedule string `yaml:"schedule"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		BackendURL:     "http://localhost:8000",
		RequestTimeout: 60 * time.Second,
		LogLevel:       "info",
		Session: SessionConfig{
			Enabled: true,
			Store:   "file",
		},
		Metrics: MetricsConfig{
			Port: 9090,
		},
		Proactive: ProactiveConfig{
			Schedule: "*/30 * * * *",
		},
	}
}

// LoadConfig loads configuration from a YAML file, applying defaults and
// environment fallbacks. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Environment fallbacks
	if v := os.Getenv("KAIGO_BACKEND_URL"); v != "" {
		cfg.BackendURL = v
	}
	if v := os.Getenv("KAIGO_USER_ID"); v != "" {
		cfg.UserID = v
	}
	if v := os.Getenv("KAIGO_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" && cfg.Session.Redis.Addr == "" {
		cfg.Session.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" && cfg.Session.Redis.Password == "" {
		cfg.Session.Redis.Password = v
	}
	if v := os.Getenv("KAIGO_METRICS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid KAIGO_METRICS_PORT: %w", err)
		}
		cfg.Metrics.Port = port
	}

	// Apply defaults for zero values a file may have blanked
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = "file"
	}
	if cfg.Proactive.Schedule == "" {
		cfg.Proactive.Schedule = "*/30 * * * *"
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}

	return cfg, nil
}

// SaveConfig saves configuration to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("backend_url is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}

	switch c.Session.Store {
	case "memory", "file":
	case "redis":
		if c.Session.Redis.Addr == "" {
			return fmt.Errorf("session.redis.addr is required for the redis store")
		}
	default:
		return fmt.Errorf("unknown session store %q", c.Session.Store)
	}

	return nil
}
