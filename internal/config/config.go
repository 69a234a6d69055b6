// Package config loads HabitNexus client and server configuration from a
// YAML file with environment overrides.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/habitnexus/backend/internal/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HABITNEXUS_"

// Config holds all configuration.
type Config struct {
	DataDir  string       `yaml:"data_dir"`
	LogLevel string       `yaml:"log_level"` // debug, info, warn, error
	LogFile  string       `yaml:"log_file"`  // empty logs to stderr
	LogMaxMB int          `yaml:"log_max_mb"`
	Client   ClientConfig `yaml:"client"`
	Server   ServerConfig `yaml:"server"`
}

// ClientConfig configures the syncing device.
type ClientConfig struct {
	ServerURL    string `yaml:"server_url"`
	Token        string `yaml:"token"`
	SyncInterval string `yaml:"sync_interval"`
	RetryBase    string `yaml:"retry_base"`
	RetryMax     string `yaml:"retry_max"`
	SyncTimeout  string `yaml:"sync_timeout"`
	Realtime     bool   `yaml:"realtime"` // listen for changes from other devices
}

// ServerConfig configures the sync server.
type ServerConfig struct {
	Listen string            `yaml:"listen"`
	Tokens map[string]string `yaml:"tokens"` // bearer token -> user id
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir:  defaultDataDir(),
		LogLevel: "info",
		LogMaxMB: 10,
		Client: ClientConfig{
			ServerURL:    "http://localhost:8090",
			SyncInterval: "5m",
			RetryBase:    "5s",
			RetryMax:     "10m",
			SyncTimeout:  "5m",
			Realtime:     true,
		},
		Server: ServerConfig{
			Listen: ":8090",
			Tokens: map[string]string{},
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "habitnexus")
	}
	return ".habitnexus"
}

// DefaultPath returns the config file location used when none is given.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.yaml")
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
		// Defaults only
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Holds tokens
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvPrefix + "DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv(EnvPrefix + "SERVER_URL"); v != "" {
		c.Client.ServerURL = v
	}
	if v := os.Getenv(EnvPrefix + "TOKEN"); v != "" {
		c.Client.Token = v
	}
	if v := os.Getenv(EnvPrefix + "SYNC_INTERVAL"); v != "" {
		c.Client.SyncInterval = v
	}
	if v := os.Getenv(EnvPrefix + "LISTEN"); v != "" {
		c.Server.Listen = v
	}
}

// Validate checks levels and durations.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	for name, v := range map[string]string{
		"client.sync_interval": c.Client.SyncInterval,
		"client.retry_base":    c.Client.RetryBase,
		"client.retry_max":     c.Client.RetryMax,
		"client.sync_timeout":  c.Client.SyncTimeout,
	} {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// LogWriter returns the configured log destination: a rotating file when
// LogFile is set, otherwise fallback.
func (c *Config) LogWriter(fallback io.Writer) io.Writer {
	if c.LogFile == "" {
		return fallback
	}
	size := c.LogMaxMB
	if size <= 0 {
		size = 10
	}
	return logging.RotatingFile(c.LogFile, size, 3)
}

// Level returns the parsed log level.
func (c *Config) Level() logging.LogLevel {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}

// SyncIntervalDuration returns the parsed periodic sync interval.
func (c *ClientConfig) SyncIntervalDuration() time.Duration {
	return parseOr(c.SyncInterval, 5*time.Minute)
}

// RetryBaseDuration returns the parsed first backoff.
func (c *ClientConfig) RetryBaseDuration() time.Duration {
	return parseOr(c.RetryBase, 5*time.Second)
}

// RetryMaxDuration returns the parsed backoff ceiling.
func (c *ClientConfig) RetryMaxDuration() time.Duration {
	return parseOr(c.RetryMax, 10*time.Minute)
}

// SyncTimeoutDuration returns the parsed per-pass timeout.
func (c *ClientConfig) SyncTimeoutDuration() time.Duration {
	return parseOr(c.SyncTimeout, 5*time.Minute)
}

func parseOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
