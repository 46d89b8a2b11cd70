/*
Package config loads process configuration from the environment.

PURPOSE:
  One Config struct read with caarlos0/env tags. Values come from the
  process environment, optionally seeded from .env and .env.local in the
  working directory (existing variables win).

KEYS:
  PORT                      HTTP port (8080)
  DB_PATH                   SQLite path, ":memory:" for a throwaway database (payroll.db)
  LOG_LEVEL                 debug | info | warn | error (info)
  SCHEDULER_ENABLED         run the daily transition scheduler (true)
  SCHEDULER_CHECK_INTERVAL  how often the scheduler wakes up (1h)
  TRANSITION_CONCURRENCY    worker pool size for the daily batch (4)
  CAPACITY_MAX_RETRIES      re-runs after a concurrent grant write (3)
  TAX_RULES_PATH            YAML/JSON tax rules imported at startup (unset)
  CORS_ALLOWED_ORIGINS      comma-separated origins (http://localhost:3000,http://localhost:5173)

SEE ALSO:
  - cmd/server/main.go: flags override these values
*/
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultEnvFiles are loaded, when present, before the environment is parsed.
var DefaultEnvFiles = []string{".env", ".env.local"}

type SchedulerOptions struct {
	Enabled       bool          `env:"SCHEDULER_ENABLED" envDefault:"true"`
	CheckInterval time.Duration `env:"SCHEDULER_CHECK_INTERVAL" envDefault:"1h"`
}

type Config struct {
	Port     int    `env:"PORT" envDefault:"8080"`
	DBPath   string `env:"DB_PATH" envDefault:"payroll.db"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Scheduler SchedulerOptions

	TransitionConcurrency int    `env:"TRANSITION_CONCURRENCY" envDefault:"4"`
	CapacityMaxRetries    int    `env:"CAPACITY_MAX_RETRIES" envDefault:"3"`
	TaxRulesPath          string `env:"TAX_RULES_PATH"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,http://localhost:5173"`
}

// LoadEnv loads the env files that exist and returns how many were found.
func LoadEnv(files []string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Load reads .env files, parses the environment and validates the result.
func Load() (*Config, error) {
	if _, err := LoadEnv(DefaultEnvFiles); err != nil {
		return nil, fmt.Errorf("failed to load env files: %w", err)
	}
	return Parse()
}

// Parse reads the environment only.
func Parse() (*Config, error) {
	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be in 1..65535, got %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH must not be empty")
	}
	if c.TransitionConcurrency <= 0 {
		return fmt.Errorf("TRANSITION_CONCURRENCY must be positive, got %d", c.TransitionConcurrency)
	}
	if c.CapacityMaxRetries <= 0 {
		return fmt.Errorf("CAPACITY_MAX_RETRIES must be positive, got %d", c.CapacityMaxRetries)
	}
	if c.Scheduler.CheckInterval <= 0 {
		return fmt.Errorf("SCHEDULER_CHECK_INTERVAL must be positive, got %s", c.Scheduler.CheckInterval)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// NewLogger builds a production JSON logger at the given level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
