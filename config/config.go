/*
Package config reads runtime configuration from the environment.

VARIABLES (prefix FLEET_):
  FLEET_ENV            development | production     (default development)
  FLEET_ADDR           listen address               (default :8080)
  FLEET_DB_PATH        SQLite path, ":memory:" ok   (default fleet.db)
  FLEET_REDIS_ADDR     view cache; empty disables   (default "")
  FLEET_VIEW_TTL       cached ledger lifetime       (default 10m)
  FLEET_LOG_LEVEL      debug | info | warn | error  (default info)
  FLEET_LOG_FORMAT     json | console               (default json)
  FLEET_CORS_ORIGINS   comma separated              (default localhost dev ports)
  FLEET_RATE_LIMIT     requests per minute per IP   (default 120)
  FLEET_READ_TIMEOUT, FLEET_WRITE_TIMEOUT, FLEET_SHUTDOWN_TIMEOUT
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds runtime configuration for the server.
type Config struct {
	Env             string        `envconfig:"ENV" default:"development"`
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	DBPath string `envconfig:"DB_PATH" default:"fleet.db"`

	RedisAddr string        `envconfig:"REDIS_ADDR"`
	ViewTTL   time.Duration `envconfig:"VIEW_TTL" default:"10m"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:5173,http://localhost:8080"`
	RateLimit   int      `envconfig:"RATE_LIMIT" default:"120"`
}

// Load reads FLEET_* variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("fleet", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("config: rate limit cannot be negative")
	}
	if c.ViewTTL <= 0 {
		return fmt.Errorf("config: view ttl must be positive")
	}
	return nil
}

// IsProduction returns true when the server runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.Env == "production"
}

// CacheEnabled reports whether a Redis address was configured.
func (c *Config) CacheEnabled() bool {
	return strings.TrimSpace(c.RedisAddr) != ""
}

// NewLogger builds the process logger from the log settings.
func NewLogger(cfg *Config) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.Set(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("config: invalid log level %q: %w", cfg.LogLevel, err)
	}

	zc := zap.NewProductionConfig()
	if cfg.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("config: build logger: %w", err)
	}
	return logger.With(zap.String("env", cfg.Env)), nil
}
