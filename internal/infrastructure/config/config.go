package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Service   ServiceConfig
	Breaker   BreakerConfig
	Memory    MemoryConfig
	Retry     RetryConfig
	Logging   LogConfig
	HTTP      HTTPConfig
	RateLimit RateLimitConfig
}

// ServiceConfig holds remote capability service configuration.
type ServiceConfig struct {
	Address     string        `envconfig:"CAPS_SERVICE_ADDR" default:"localhost:50061"`
	CallTimeout time.Duration `envconfig:"CAPS_CALL_TIMEOUT" default:"5s"`
	Keepalive   time.Duration `envconfig:"CAPS_KEEPALIVE" default:"60s"`
}

// BreakerConfig holds circuit breaker settings for negotiate calls.
type BreakerConfig struct {
	MaxRequests      uint32        `envconfig:"CAPS_BREAKER_MAX_REQUESTS" default:"3"`
	Interval         time.Duration `envconfig:"CAPS_BREAKER_INTERVAL" default:"30s"`
	Timeout          time.Duration `envconfig:"CAPS_BREAKER_TIMEOUT" default:"10s"`
	FailureThreshold uint32        `envconfig:"CAPS_BREAKER_FAILURES" default:"5"`
}

// MemoryConfig selects the shared memory backend.
type MemoryConfig struct {
	Backend string `envconfig:"CAPS_SHM_BACKEND" default:"heap"`
}

// RetryConfig bounds how long a not-ready service is waited for.
type RetryConfig struct {
	InitialInterval time.Duration `envconfig:"CAPS_RETRY_INITIAL" default:"100ms"`
	MaxInterval     time.Duration `envconfig:"CAPS_RETRY_MAX_INTERVAL" default:"2s"`
	MaxElapsed      time.Duration `envconfig:"CAPS_RETRY_MAX_ELAPSED" default:"15s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
	Output      string `envconfig:"LOG_OUTPUT" default:"stderr"`
}

// HTTPConfig holds the status HTTP surface configuration.
type HTTPConfig struct {
	Address string `envconfig:"CAPS_HTTP_ADDR" default:""`
}

// RateLimitConfig holds rate limiting configuration for the HTTP surface.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"20"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"40"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	// idle per-client buckets are dropped after IdleTTL; at most MaxClients are kept
	IdleTTL    time.Duration `envconfig:"RATE_LIMIT_IDLE" default:"5m"`
	MaxClients int           `envconfig:"RATE_LIMIT_MAX_CLIENTS" default:"4096"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate checks values envconfig cannot express.
func (c *Config) Validate() error {
	switch c.Memory.Backend {
	case "heap", "memfd":
	default:
		return fmt.Errorf("invalid CAPS_SHM_BACKEND %q: want heap or memfd", c.Memory.Backend)
	}
	if c.Service.CallTimeout <= 0 {
		return fmt.Errorf("CAPS_CALL_TIMEOUT must be positive")
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Address:     "localhost:50061",
			CallTimeout: 5 * time.Second,
			Keepalive:   60 * time.Second,
		},
		Breaker: BreakerConfig{
			MaxRequests:      3,
			Interval:         30 * time.Second,
			Timeout:          10 * time.Second,
			FailureThreshold: 5,
		},
		Memory: MemoryConfig{
			Backend: "heap",
		},
		Retry: RetryConfig{
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			MaxElapsed:      15 * time.Second,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
			Output:      "stderr",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
			Enabled:           true,
			IdleTTL:           5 * time.Minute,
			MaxClients:        4096,
		},
	}
}
