package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hyperengineering/seventyfive/internal/catalog"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Challenge ChallengeConfig `yaml:"challenge"`
	Retry     RetryConfig     `yaml:"retry"`
	Worker    WorkerConfig    `yaml:"worker"`
	Log       LogConfig       `yaml:"log"`
	Catalog   CatalogConfig   `yaml:"catalog"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects and locates the document store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"-"` // env-only, may carry credentials
}

// ChallengeConfig contains settings for the shared challenge document.
type ChallengeConfig struct {
	Key          string   `yaml:"key"`
	PollInterval Duration `yaml:"poll_interval"`
	WatchBuffer  int      `yaml:"watch_buffer"`
	PageSize     int      `yaml:"page_size"`
}

// RetryConfig bounds retries of transient store failures.
type RetryConfig struct {
	MaxRetries int      `yaml:"max_retries"`
	BaseDelay  Duration `yaml:"base_delay"`
	MaxDelay   Duration `yaml:"max_delay"`
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	CompactionInterval Duration `yaml:"compaction_interval"`
	ChangeRetention    Duration `yaml:"change_retention"`
	DayClockInterval   Duration `yaml:"day_clock_interval"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// CatalogConfig overrides the built-in task catalog.
type CatalogConfig struct {
	Users []catalog.User `yaml:"users"`
}

// TaskCatalog returns the configured catalog, or the built-in one when none
// is configured.
func (c *Config) TaskCatalog() *catalog.Catalog {
	if len(c.Catalog.Users) == 0 {
		return catalog.Default()
	}
	return catalog.New(c.Catalog.Users)
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → .env → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	// Variables already set in the environment win over .env
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	configPath := getEnv("SEVENTYFIVE_CONFIG_PATH", "config/seventyfive.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used by tests; Load resolves the path from SEVENTYFIVE_CONFIG_PATH.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8075,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   "data/seventyfive.db",
		},
		Challenge: ChallengeConfig{
			Key:          "challenge",
			PollInterval: Duration(2 * time.Second),
			WatchBuffer:  16,
			PageSize:     500,
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  Duration(50 * time.Millisecond),
			MaxDelay:   Duration(1 * time.Second),
		},
		Worker: WorkerConfig{
			CompactionInterval: Duration(1 * time.Hour),
			ChangeRetention:    Duration(7 * 24 * time.Hour),
			DayClockInterval:   Duration(1 * time.Minute),
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	setInt("SEVENTYFIVE_PORT", &cfg.Server.Port)
	setDuration("SEVENTYFIVE_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	setDuration("SEVENTYFIVE_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	setDuration("SEVENTYFIVE_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Database (DATABASE_URL is the common convention)
	setString("SEVENTYFIVE_DB_DRIVER", &cfg.Database.Driver)
	setString("SEVENTYFIVE_DB_PATH", &cfg.Database.Path)
	setString("DATABASE_URL", &cfg.Database.DSN)
	setString("SEVENTYFIVE_DATABASE_URL", &cfg.Database.DSN)

	// Challenge
	setString("SEVENTYFIVE_DOC_KEY", &cfg.Challenge.Key)
	setDuration("SEVENTYFIVE_POLL_INTERVAL", &cfg.Challenge.PollInterval)
	setInt("SEVENTYFIVE_WATCH_BUFFER", &cfg.Challenge.WatchBuffer)
	setInt("SEVENTYFIVE_PAGE_SIZE", &cfg.Challenge.PageSize)

	// Retry
	setInt("SEVENTYFIVE_RETRY_MAX", &cfg.Retry.MaxRetries)
	setDuration("SEVENTYFIVE_RETRY_BASE_DELAY", &cfg.Retry.BaseDelay)
	setDuration("SEVENTYFIVE_RETRY_MAX_DELAY", &cfg.Retry.MaxDelay)

	// Worker
	setDuration("SEVENTYFIVE_COMPACTION_INTERVAL", &cfg.Worker.CompactionInterval)
	setDuration("SEVENTYFIVE_CHANGE_RETENTION", &cfg.Worker.ChangeRetention)
	setDuration("SEVENTYFIVE_DAY_CLOCK_INTERVAL", &cfg.Worker.DayClockInterval)

	// Log
	setString("SEVENTYFIVE_LOG_LEVEL", &cfg.Log.Level)
	setString("SEVENTYFIVE_LOG_FORMAT", &cfg.Log.Format)
	setString("SEVENTYFIVE_LOG_FILE", &cfg.Log.File)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// validate checks that the configuration is usable.
func (c *Config) validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if strings.TrimSpace(c.Challenge.Key) == "" {
		return errors.New("challenge key is required")
	}
	if c.Challenge.PollInterval <= 0 {
		return errors.New("challenge poll interval must be positive")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return errors.New("retry max delay must not be below base delay")
	}

	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}

	for _, u := range c.Catalog.Users {
		if u.Key == "" {
			return errors.New("catalog user key is required")
		}
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
