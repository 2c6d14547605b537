package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, int64(300), cfg.Server.RateLimit)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 4, cfg.Scheduler.MaxConcurrentRuns)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.RunTimeout)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.ShutdownTimeout)
	assert.True(t, cfg.Scheduler.OrphanSweep)
	assert.Zero(t, cfg.Scheduler.OrphanThreshold)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_YAML(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeFile(t, t.TempDir(), "resticron.yml", `
server:
  addr: "127.0.0.1:9000"
  rate_limit: 60
database:
  driver: postgres
  dsn: postgres://resticron@localhost/resticron
scheduler:
  max_concurrent_runs: 0
  run_timeout: 6h
  orphan_sweep: false
  orphan_threshold: 1h
log:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, int64(60), cfg.Server.RateLimit)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 0, cfg.Scheduler.MaxConcurrentRuns)
	assert.Equal(t, 6*time.Hour, cfg.Scheduler.RunTimeout)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.ShutdownTimeout, "unset keys keep their default")
	assert.False(t, cfg.Scheduler.OrphanSweep)
	assert.Equal(t, time.Hour, cfg.Scheduler.OrphanThreshold)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeFile(t, t.TempDir(), "bad.yml", "server: [unclosed")

	_, err := Load(path)
	assert.ErrorContains(t, err, "parse config file")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeFile(t, t.TempDir(), "resticron.yml", "server:\n  addr: \":9000\"\n")

	t.Setenv("RESTICRON_SERVER_ADDR", ":7000")
	t.Setenv("RESTICRON_SCHEDULER_MAX_CONCURRENT_RUNS", "8")
	t.Setenv("RESTICRON_SCHEDULER_RUN_TIMEOUT", "0s")
	t.Setenv("RESTICRON_SCHEDULER_ORPHAN_SWEEP", "no")
	t.Setenv("RESTICRON_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 8, cfg.Scheduler.MaxConcurrentRuns)
	assert.Zero(t, cfg.Scheduler.RunTimeout)
	assert.False(t, cfg.Scheduler.OrphanSweep)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
}

func TestLoad_InvalidEnv(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"RESTICRON_SCHEDULER_MAX_CONCURRENT_RUNS", "many"},
		{"RESTICRON_SCHEDULER_RUN_TIMEOUT", "forever"},
		{"RESTICRON_SCHEDULER_ORPHAN_SWEEP", "maybe"},
		{"RESTICRON_SERVER_RATE_LIMIT", "1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(tt.key, tt.value)

			_, err := Load("")
			assert.ErrorContains(t, err, tt.key)
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, ".env", "RESTICRON_LOG_LEVEL=warn\n")

	require.NoError(t, os.Unsetenv("RESTICRON_LOG_LEVEL"))
	t.Cleanup(func() { os.Unsetenv("RESTICRON_LOG_LEVEL") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"missing dsn", func(c *Config) { c.Database.DSN = "" }, "database.dsn"},
		{"negative concurrency", func(c *Config) { c.Scheduler.MaxConcurrentRuns = -1 }, "max_concurrent_runs"},
		{"zero shutdown timeout", func(c *Config) { c.Scheduler.ShutdownTimeout = 0 }, "shutdown_timeout"},
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"missing restic", func(c *Config) { c.Restic.Binary = "" }, "restic.binary"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDataDir(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "data", cfg.DataDir())

	cfg.Database.DSN = "file:/var/lib/resticron/state.db?_pragma=busy_timeout(1000)"
	assert.Equal(t, "/var/lib/resticron", cfg.DataDir())

	cfg.Database.Driver = "postgres"
	assert.Equal(t, ".", cfg.DataDir())
}
