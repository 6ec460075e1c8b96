// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// ConfigFileEnv names the environment variable pointing at an optional TOML file.
const ConfigFileEnv = "SEALBOX_CONFIG"

// Config holds all application configuration.
type Config struct {
	ListenAddr            string
	DataDir               string
	LogLevel              string
	AppEnv                string
	SyncStaleness         time.Duration
	SyncRefreshInterval   time.Duration
	PushUnregisterTimeout time.Duration
	MaxAttachmentSize     int64
	AllowedOrigins        []string
}

// fileConfig is the layout of the optional TOML file. Durations are written
// the way time.ParseDuration reads them.
type fileConfig struct {
	ListenAddr            string   `toml:"listen_addr"`
	DataDir               string   `toml:"data_dir"`
	LogLevel              string   `toml:"log_level"`
	AppEnv                string   `toml:"app_env"`
	SyncStaleness         string   `toml:"sync_staleness"`
	SyncRefreshInterval   string   `toml:"sync_refresh_interval"`
	PushUnregisterTimeout string   `toml:"push_unregister_timeout"`
	MaxAttachmentSize     int64    `toml:"max_attachment_size"`
	AllowedOrigins        []string `toml:"allowed_origins"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:            "127.0.0.1:8484",
		DataDir:               "./data",
		LogLevel:              "info",
		AppEnv:                "production",
		SyncStaleness:         10 * time.Minute,
		SyncRefreshInterval:   time.Minute,
		PushUnregisterTimeout: 3 * time.Second,
		MaxAttachmentSize:     25 << 20,
		AllowedOrigins:        []string{"http://localhost:5173"},
	}
}

// Load builds the configuration from the defaults, the TOML file at path
// (or the one named by SEALBOX_CONFIG when path is empty), and the
// environment, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	setString(&c.ListenAddr, fc.ListenAddr)
	setString(&c.DataDir, fc.DataDir)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.AppEnv, fc.AppEnv)
	if fc.MaxAttachmentSize != 0 {
		c.MaxAttachmentSize = fc.MaxAttachmentSize
	}
	if len(fc.AllowedOrigins) > 0 {
		c.AllowedOrigins = fc.AllowedOrigins
	}

	durations := []struct {
		key   string
		value string
		dst   *time.Duration
	}{
		{"sync_staleness", fc.SyncStaleness, &c.SyncStaleness},
		{"sync_refresh_interval", fc.SyncRefreshInterval, &c.SyncRefreshInterval},
		{"push_unregister_timeout", fc.PushUnregisterTimeout, &c.PushUnregisterTimeout},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("config file %s: %s: %w", path, d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.ListenAddr = getEnv("LISTEN_ADDR", c.ListenAddr)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.AppEnv = getEnv("APP_ENV", c.AppEnv)

	var err error
	if c.SyncStaleness, err = getEnvDuration("SYNC_STALENESS", c.SyncStaleness); err != nil {
		return err
	}
	if c.SyncRefreshInterval, err = getEnvDuration("SYNC_REFRESH_INTERVAL", c.SyncRefreshInterval); err != nil {
		return err
	}
	if c.PushUnregisterTimeout, err = getEnvDuration("PUSH_UNREGISTER_TIMEOUT", c.PushUnregisterTimeout); err != nil {
		return err
	}
	if c.MaxAttachmentSize, err = getEnvInt64("MAX_ATTACHMENT_SIZE", c.MaxAttachmentSize); err != nil {
		return err
	}
	if origins, ok := os.LookupEnv("ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = splitList(origins)
	}
	return nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR cannot be empty")
	}
	if c.DataDir == "" {
		return errors.New("DATA_DIR cannot be empty")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.SyncStaleness <= 0 {
		return errors.New("SYNC_STALENESS must be > 0")
	}
	if c.SyncRefreshInterval <= 0 {
		return errors.New("SYNC_REFRESH_INTERVAL must be > 0")
	}
	if c.PushUnregisterTimeout <= 0 {
		return errors.New("PUSH_UNREGISTER_TIMEOUT must be > 0")
	}
	if c.MaxAttachmentSize <= 0 {
		return errors.New("MAX_ATTACHMENT_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.AppEnv, "development")
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	level, _ := ParseLevel(c.LogLevel)
	return level
}

// ParseLevel maps a LOG_LEVEL value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", s)
	}
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
