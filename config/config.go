// Package config loads bot settings from a YAML file and KEKEKE_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	kekeke "github.com/kekekebot/kekeke-go"
	"github.com/kekekebot/kekeke-go/handshake"
)

// Config holds all bot settings.
type Config struct {
	NickName    string `yaml:"nickname"`
	Topic       string `yaml:"topic"`
	AnonymousID string `yaml:"anonymous_id"`

	// Service endpoints
	Endpoint   string `yaml:"endpoint"`
	ServiceURL string `yaml:"service_url"`
	ModuleBase string `yaml:"module_base"`

	PingInterval string `yaml:"ping_interval"` // Go duration, e.g. "3m"
	Dedup        *bool  `yaml:"dedup"`

	LogLevel string `yaml:"log_level"` // debug, info, warn, error
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	dedup := true
	return &Config{
		NickName:     "KekekeBot",
		Endpoint:     kekeke.DefaultEndpoint,
		ServiceURL:   handshake.DefaultServiceURL,
		ModuleBase:   handshake.DefaultModuleBase,
		PingInterval: kekeke.DefaultPingInterval.String(),
		Dedup:        &dedup,
		LogLevel:     "info",
	}
}

// Load reads the config like Read and validates it.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read loads path (skipped when empty or missing), applies environment
// overrides and fills an anonymous id when none is set. The result is not
// validated, so callers can layer more settings on top first.
func Read(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if cfg.AnonymousID == "" {
		cfg.AnonymousID = uuid.NewString()
	}
	return cfg, nil
}

// Save writes the config as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// applyEnvOverrides copies non-empty KEKEKE_* variables into c.
func (c *Config) applyEnvOverrides() {
	setString := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setString(&c.NickName, "KEKEKE_NICKNAME")
	setString(&c.Topic, "KEKEKE_TOPIC")
	setString(&c.AnonymousID, "KEKEKE_ANONYMOUS_ID")
	setString(&c.Endpoint, "KEKEKE_ENDPOINT")
	setString(&c.ServiceURL, "KEKEKE_SERVICE_URL")
	setString(&c.ModuleBase, "KEKEKE_MODULE_BASE")
	setString(&c.PingInterval, "KEKEKE_PING_INTERVAL")
	setString(&c.LogLevel, "KEKEKE_LOG_LEVEL")

	if v := strings.TrimSpace(os.Getenv("KEKEKE_DEDUP")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Dedup = &b
		}
	}
}

// Validate checks required fields and formats.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Topic) == "" {
		return errors.New("config: topic is required")
	}
	if strings.TrimSpace(c.NickName) == "" {
		return errors.New("config: nickname is required")
	}
	if _, err := c.PingEvery(); err != nil {
		return err
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// PingEvery parses PingInterval. Empty means zero, letting the client pick
// its default.
func (c *Config) PingEvery() (time.Duration, error) {
	if c.PingInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.PingInterval)
	if err != nil {
		return 0, fmt.Errorf("config: ping_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: ping_interval must be positive, got %s", d)
	}
	return d, nil
}

// DedupEnabled reports whether redelivered messages are dropped.
func (c *Config) DedupEnabled() bool {
	return c.Dedup == nil || *c.Dedup
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return l, nil
}
