// Package config loads server configuration from a YAML file and
// RESTICRON_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the server reads.
const EnvPrefix = "RESTICRON_"

// Config holds the server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Restic    ResticConfig    `yaml:"restic"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	Redis     RedisConfig     `yaml:"redis"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// RateLimit is the number of requests per minute allowed per client IP.
	RateLimit int64 `yaml:"rate_limit"`
}

// DatabaseConfig selects the store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ResticConfig configures the restic executor.
type ResticConfig struct {
	Binary string `yaml:"binary"`
}

// SchedulerConfig configures the backup scheduler.
type SchedulerConfig struct {
	MaxConcurrentRuns int           `yaml:"max_concurrent_runs"`
	RunTimeout        time.Duration `yaml:"run_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	OrphanSweep       bool          `yaml:"orphan_sweep"`
	OrphanThreshold   time.Duration `yaml:"orphan_threshold"`
}

// SecretsConfig holds the key used to encrypt repository secrets.
type SecretsConfig struct {
	// Key is a base64 encoded 32-byte key. Secrets are stored in plain text
	// when it is empty.
	Key string `yaml:"key"`
}

// RedisConfig enables run event publishing.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      ":8080",
			RateLimit: 300,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "data/resticron.db",
		},
		Restic: ResticConfig{
			Binary: "restic",
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentRuns: 4,
			RunTimeout:        24 * time.Hour,
			ShutdownTimeout:   30 * time.Second,
			OrphanSweep:       true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path and
// the environment, in that order. A .env file in the working directory is
// loaded first when present. An empty path or a missing file skips the YAML
// step.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	envString("SERVER_ADDR", &c.Server.Addr)
	envString("DATABASE_DRIVER", &c.Database.Driver)
	envString("DATABASE_DSN", &c.Database.DSN)
	envString("RESTIC_BINARY", &c.Restic.Binary)
	envString("SECRETS_KEY", &c.Secrets.Key)
	envString("REDIS_URL", &c.Redis.URL)
	envString("LOG_LEVEL", &c.Log.Level)
	envString("LOG_FORMAT", &c.Log.Format)

	return errors.Join(
		envInt64("SERVER_RATE_LIMIT", &c.Server.RateLimit),
		envInt("SCHEDULER_MAX_CONCURRENT_RUNS", &c.Scheduler.MaxConcurrentRuns),
		envDuration("SCHEDULER_RUN_TIMEOUT", &c.Scheduler.RunTimeout),
		envDuration("SCHEDULER_SHUTDOWN_TIMEOUT", &c.Scheduler.ShutdownTimeout),
		envBool("SCHEDULER_ORPHAN_SWEEP", &c.Scheduler.OrphanSweep),
		envDuration("SCHEDULER_ORPHAN_THRESHOLD", &c.Scheduler.OrphanThreshold),
	)
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit cannot be negative"))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Restic.Binary == "" {
		errs = append(errs, errors.New("restic.binary is required"))
	}
	if c.Scheduler.MaxConcurrentRuns < 0 {
		errs = append(errs, errors.New("scheduler.max_concurrent_runs cannot be negative"))
	}
	if c.Scheduler.RunTimeout < 0 {
		errs = append(errs, errors.New("scheduler.run_timeout cannot be negative"))
	}
	if c.Scheduler.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("scheduler.shutdown_timeout must be positive"))
	}
	if c.Scheduler.OrphanThreshold < 0 {
		errs = append(errs, errors.New("scheduler.orphan_threshold cannot be negative"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// DataDir returns the directory holding local server state, used for disk
// health reporting.
func (c *Config) DataDir() string {
	if c.Database.Driver != "sqlite" {
		return "."
	}
	path := strings.TrimPrefix(c.Database.DSN, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return filepath.Dir(path)
}

func envString(key string, dst *string) {
	if val, ok := os.LookupEnv(EnvPrefix + key); ok {
		*dst = val
	}
}

func envInt(key string, dst *int) error {
	val, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || val == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return fmt.Errorf("%s%s: invalid integer %q", EnvPrefix, key, val)
	}
	*dst = n
	return nil
}

func envInt64(key string, dst *int64) error {
	val, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || val == "" {
		return nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	if err != nil {
		return fmt.Errorf("%s%s: invalid integer %q", EnvPrefix, key, val)
	}
	*dst = n
	return nil
}

func envDuration(key string, dst *time.Duration) error {
	val, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || val == "" {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		return fmt.Errorf("%s%s: invalid duration %q", EnvPrefix, key, val)
	}
	*dst = d
	return nil
}

func envBool(key string, dst *bool) error {
	val, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || val == "" {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "yes":
		*dst = true
	case "false", "0", "no":
		*dst = false
	default:
		return fmt.Errorf("%s%s: invalid boolean %q", EnvPrefix, key, val)
	}
	return nil
}
