package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Schools   SchoolsConfig   `yaml:"schools"`
	Auth      AuthConfig      `yaml:"auth"`
	Retention RetentionConfig `yaml:"retention"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Backup    BackupConfig    `yaml:"backup"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// SchoolsConfig contains per-school store settings.
type SchoolsConfig struct {
	RootPath string `yaml:"root_path"`
	// AutoProvision creates a school store on first request instead of
	// requiring explicit registration.
	AutoProvision bool `yaml:"auto_provision"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// RetentionConfig contains queue history retention settings.
type RetentionConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Interval  Duration `yaml:"interval"`
	MaxAge    Duration `yaml:"max_age"`
	BatchSize int      `yaml:"batch_size"`
}

// ArchiveConfig contains S3-compatible archive storage settings.
// An empty bucket disables archival.
type ArchiveConfig struct {
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"-"` // env-only, never in YAML
	SecretKey string `yaml:"-"` // env-only, never in YAML
	UseSSL    *bool  `yaml:"use_ssl"`
}

// BackupConfig contains periodic school backup settings. Backups are
// written next to each school's database and uploaded to the archive
// bucket when one is configured.
type BackupConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Interval  Duration `yaml:"interval"`
	URLExpiry Duration `yaml:"url_expiry"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
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

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	// Determine config path
	configPath := getEnv("DARASA_SYNC_CONFIG_PATH", "config/darasa-sync.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadSchoolsConfig loads only the schools section, skipping validation.
// School CLI commands need the root path but not an API key.
func LoadSchoolsConfig() (SchoolsConfig, error) {
	cfg := newDefaults()

	configPath := getEnv("DARASA_SYNC_CONFIG_PATH", "config/darasa-sync.yaml")
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return SchoolsConfig{}, err
	}
	applyEnvOverrides(cfg)

	return cfg.Schools, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	// Load YAML file (file must exist for this function)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	useSSL := true
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Schools: SchoolsConfig{
			RootPath:      "~/.darasa-sync/schools",
			AutoProvision: false,
		},
		Retention: RetentionConfig{
			Enabled:   true,
			Interval:  Duration(24 * time.Hour),
			MaxAge:    Duration(90 * 24 * time.Hour),
			BatchSize: 500,
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
			UseSSL: &useSSL,
		},
		Backup: BackupConfig{
			Enabled:   false,
			Interval:  Duration(24 * time.Hour),
			URLExpiry: Duration(15 * time.Minute),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file is OK; use defaults
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
	if v := os.Getenv("DARASA_SYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DARASA_SYNC_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("DARASA_SYNC_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("DARASA_SYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Schools
	if v := os.Getenv("DARASA_SYNC_SCHOOLS_ROOT"); v != "" {
		cfg.Schools.RootPath = v
	}
	if v := os.Getenv("DARASA_SYNC_AUTO_PROVISION"); v != "" {
		cfg.Schools.AutoProvision = v == "true" || v == "1"
	}

	// Auth
	if v := os.Getenv("DARASA_SYNC_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Retention
	if v := os.Getenv("DARASA_SYNC_RETENTION_ENABLED"); v != "" {
		cfg.Retention.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DARASA_SYNC_RETENTION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retention.Interval = Duration(d)
		}
	}
	if v := os.Getenv("DARASA_SYNC_RETENTION_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Retention.MaxAge = Duration(d)
		}
	}
	if v := os.Getenv("DARASA_SYNC_RETENTION_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retention.BatchSize = n
		}
	}

	// Archive
	if v := os.Getenv("DARASA_SYNC_ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("DARASA_SYNC_S3_ENDPOINT"); v != "" {
		cfg.Archive.Endpoint = v
	}
	if v := os.Getenv("DARASA_SYNC_S3_REGION"); v != "" {
		cfg.Archive.Region = v
	}
	if v := os.Getenv("DARASA_SYNC_S3_ACCESS_KEY"); v != "" {
		cfg.Archive.AccessKey = v
	}
	if v := os.Getenv("DARASA_SYNC_S3_SECRET_KEY"); v != "" {
		cfg.Archive.SecretKey = v
	}
	if v := os.Getenv("DARASA_SYNC_S3_USE_SSL"); v != "" {
		useSSL := v == "true" || v == "1"
		cfg.Archive.UseSSL = &useSSL
	}

	// Backup
	if v := os.Getenv("DARASA_SYNC_BACKUP_ENABLED"); v != "" {
		cfg.Backup.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("DARASA_SYNC_BACKUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backup.Interval = Duration(d)
		}
	}
	if v := os.Getenv("DARASA_SYNC_BACKUP_URL_EXPIRY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backup.URLExpiry = Duration(d)
		}
	}

	// Log
	if v := os.Getenv("DARASA_SYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DARASA_SYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set.
// In dev mode (DARASA_SYNC_DEV_MODE=true), API key validation is skipped.
func (c *Config) validate() error {
	// Dev mode bypasses API key validation
	if os.Getenv("DARASA_SYNC_DEV_MODE") == "true" {
		return nil
	}

	if c.Auth.APIKey == "" {
		return errors.New("DARASA_SYNC_API_KEY is required")
	}
	if c.Archive.Bucket != "" {
		if c.Archive.AccessKey == "" || c.Archive.SecretKey == "" {
			return errors.New("DARASA_SYNC_S3_ACCESS_KEY and DARASA_SYNC_S3_SECRET_KEY are required when archive bucket is set")
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
