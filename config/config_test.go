package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_PATH", "LOG_LEVEL", "SCHEDULER_ENABLED", "SCHEDULER_CHECK_INTERVAL",
		"TRANSITION_CONCURRENCY", "CAPACITY_MAX_RETRIES", "TAX_RULES_PATH", "CORS_ALLOWED_ORIGINS"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	c, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Port)
	assert.Equal(t, "payroll.db", c.DBPath)
	assert.Equal(t, "info", c.LogLevel)
	assert.True(t, c.Scheduler.Enabled)
	assert.Equal(t, time.Hour, c.Scheduler.CheckInterval)
	assert.Equal(t, 4, c.TransitionConcurrency)
	assert.Equal(t, 3, c.CapacityMaxRetries)
	assert.Empty(t, c.TaxRulesPath)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, c.CORSAllowedOrigins)
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SCHEDULER_CHECK_INTERVAL", "15m")
	t.Setenv("TRANSITION_CONCURRENCY", "16")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://hr.example.org")

	c, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, 9090, c.Port)
	assert.Equal(t, 15*time.Minute, c.Scheduler.CheckInterval)
	assert.Equal(t, 16, c.TransitionConcurrency)
	assert.Equal(t, []string{"https://hr.example.org"}, c.CORSAllowedOrigins)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Port: 8080, DBPath: "x.db", LogLevel: "info",
			Scheduler:             SchedulerOptions{Enabled: true, CheckInterval: time.Hour},
			TransitionConcurrency: 4, CapacityMaxRetries: 3,
		}
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrency", func(c *Config) { c.TransitionConcurrency = 0 }},
		{"negative retries", func(c *Config) { c.CapacityMaxRetries = -1 }},
		{"bad port", func(c *Config) { c.Port = 70000 }},
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }},
		{"zero interval", func(c *Config) { c.Scheduler.CheckInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadEnv_ReadsExistingFilesOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PAYROLL_TEST_ONLY_KEY=from-file\n"), 0o600))
	t.Setenv("PAYROLL_TEST_ONLY_KEY", "")
	os.Unsetenv("PAYROLL_TEST_ONLY_KEY")

	n, err := LoadEnv([]string{path, filepath.Join(dir, ".env.local")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "from-file", os.Getenv("PAYROLL_TEST_ONLY_KEY"))
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug")
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = NewLogger("nope")
	assert.Error(t, err)
}
