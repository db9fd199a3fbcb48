// Package config loads the relay's configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/nfrund/relay/internal/protocol"
	"github.com/nfrund/relay/internal/pubsub"
	"github.com/nfrund/relay/internal/ratelimit"
)

// Rate limit backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all configuration for the relay.
type Config struct {
	Addr           string   `env:"RELAY_ADDR" envDefault:":8080"`
	AllowedOrigins []string `env:"RELAY_ALLOWED_ORIGINS" envSeparator:","`

	RateWindow         time.Duration `env:"RELAY_RATE_WINDOW" envDefault:"1m"`
	RateMessageCeiling int           `env:"RELAY_RATE_MESSAGE_CEILING" envDefault:"30"`
	RateTypingCeiling  int           `env:"RELAY_RATE_TYPING_CEILING" envDefault:"20"`
	RateSweepInterval  time.Duration `env:"RELAY_RATE_SWEEP_INTERVAL" envDefault:"1m"`
	RateBackend        string        `env:"RELAY_RATE_BACKEND" envDefault:"memory"`
	RedisAddr          string        `env:"RELAY_REDIS_ADDR" envDefault:"localhost:6379"`

	MaxNameLen    int `env:"RELAY_MAX_NAME_LEN" envDefault:"32"`
	MaxMessageLen int `env:"RELAY_MAX_MESSAGE_LEN" envDefault:"2000"`
	MaxExcerptLen int `env:"RELAY_MAX_EXCERPT_LEN" envDefault:"200"`

	TypingTTL             time.Duration `env:"RELAY_TYPING_TTL" envDefault:"5s"`
	DeliveryTimeout       time.Duration `env:"RELAY_DELIVERY_TIMEOUT" envDefault:"30s"`
	DeliverySweepInterval time.Duration `env:"RELAY_DELIVERY_SWEEP_INTERVAL" envDefault:"5s"`

	WSSendBuffer   int           `env:"RELAY_WS_SEND_BUFFER" envDefault:"256"`
	WSWriteTimeout time.Duration `env:"RELAY_WS_WRITE_TIMEOUT" envDefault:"10s"`
	WSUpgradeRate  float64       `env:"RELAY_WS_UPGRADE_RATE" envDefault:"5"`
	WSUpgradeBurst int           `env:"RELAY_WS_UPGRADE_BURST" envDefault:"10"`

	TracingEnabled     bool   `env:"RELAY_TRACING_ENABLED" envDefault:"false"`
	TracingServiceName string `env:"RELAY_TRACING_SERVICE_NAME" envDefault:"relay"`
	TracingZipkinURL   string `env:"RELAY_TRACING_ZIPKIN_URL" envDefault:"http://localhost:9411/api/v2/spans"`

	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads an optional .env file, then the environment, and validates the
// result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	} else if err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v int64) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	positive("RELAY_RATE_WINDOW", int64(c.RateWindow))
	positive("RELAY_RATE_MESSAGE_CEILING", int64(c.RateMessageCeiling))
	positive("RELAY_RATE_TYPING_CEILING", int64(c.RateTypingCeiling))
	positive("RELAY_RATE_SWEEP_INTERVAL", int64(c.RateSweepInterval))
	positive("RELAY_MAX_NAME_LEN", int64(c.MaxNameLen))
	positive("RELAY_MAX_MESSAGE_LEN", int64(c.MaxMessageLen))
	positive("RELAY_MAX_EXCERPT_LEN", int64(c.MaxExcerptLen))
	positive("RELAY_TYPING_TTL", int64(c.TypingTTL))
	positive("RELAY_DELIVERY_TIMEOUT", int64(c.DeliveryTimeout))
	positive("RELAY_DELIVERY_SWEEP_INTERVAL", int64(c.DeliverySweepInterval))
	positive("RELAY_WS_SEND_BUFFER", int64(c.WSSendBuffer))
	positive("RELAY_WS_WRITE_TIMEOUT", int64(c.WSWriteTimeout))
	positive("RELAY_WS_UPGRADE_BURST", int64(c.WSUpgradeBurst))
	if c.WSUpgradeRate <= 0 {
		errs = append(errs, errors.New("RELAY_WS_UPGRADE_RATE must be positive"))
	}

	switch c.RateBackend {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, errors.New("RELAY_REDIS_ADDR is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("RELAY_RATE_BACKEND %q is not one of memory, redis", c.RateBackend))
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q is not one of text, json", c.LogFormat))
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Rules returns the rate limiter rules.
func (c *Config) Rules() ratelimit.Rules {
	return ratelimit.Rules{
		ratelimit.CategoryMessage: {Ceiling: c.RateMessageCeiling, Window: c.RateWindow},
		ratelimit.CategoryTyping:  {Ceiling: c.RateTypingCeiling, Window: c.RateWindow},
	}
}

// Limits returns the sanitation limits.
func (c *Config) Limits() protocol.Limits {
	return protocol.Limits{
		MaxName:    c.MaxNameLen,
		MaxMessage: c.MaxMessageLen,
		MaxExcerpt: c.MaxExcerptLen,
	}
}

// Tracing returns the bus tracing settings.
func (c *Config) Tracing() pubsub.TracingConfig {
	return pubsub.TracingConfig{
		Enabled:     c.TracingEnabled,
		ServiceName: c.TracingServiceName,
		ZipkinURL:   c.TracingZipkinURL,
	}
}
