// ABOUTME: Configuration loading and parsing for the desk client and dev backend
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete desk configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Auth    AuthConfig    `yaml:"auth" toml:"auth"`
	Sync    SyncConfig    `yaml:"sync" toml:"sync"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds backend endpoints
type ServerConfig struct {
	APIURL string `yaml:"api_url" toml:"api_url"`
	WSURL  string `yaml:"ws_url" toml:"ws_url"`
}

// AuthConfig holds the bearer token or a file containing it
type AuthConfig struct {
	Token     string `yaml:"token" toml:"token"`
	TokenFile string `yaml:"token_file" toml:"token_file"`
}

// SyncConfig holds paging and timing knobs for state synchronization
type SyncConfig struct {
	PageSize int `yaml:"page_size" toml:"page_size"`

	QueueDebounce       time.Duration `yaml:"-" toml:"-"`
	RefreshCooldown     time.Duration `yaml:"-" toml:"-"`
	EndChatDelay        time.Duration `yaml:"-" toml:"-"`
	AcceptGuardTTL      time.Duration `yaml:"-" toml:"-"`
	ReconnectBackoff    time.Duration `yaml:"-" toml:"-"`
	ReconnectMaxBackoff time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	QueueDebounceRaw       string `yaml:"queue_debounce" toml:"queue_debounce"`
	RefreshCooldownRaw     string `yaml:"refresh_cooldown" toml:"refresh_cooldown"`
	EndChatDelayRaw        string `yaml:"end_chat_delay" toml:"end_chat_delay"`
	AcceptGuardTTLRaw      string `yaml:"accept_guard_ttl" toml:"accept_guard_ttl"`
	ReconnectBackoffRaw    string `yaml:"reconnect_backoff" toml:"reconnect_backoff"`
	ReconnectMaxBackoffRaw string `yaml:"reconnect_max_backoff" toml:"reconnect_max_backoff"`
}

// LoggingConfig holds logging configuration. An empty File logs to stderr.
type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	Format     string `yaml:"format" toml:"format"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

// MetricsConfig holds the periodic metrics export configuration
type MetricsConfig struct {
	Enabled  bool          `yaml:"enabled" toml:"enabled"`
	File     string        `yaml:"file" toml:"file"`
	Interval time.Duration `yaml:"-" toml:"-"`

	IntervalRaw string `yaml:"interval" toml:"interval"`
}

// Default returns a configuration with every optional field filled in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			APIURL: "http://localhost:8080",
			WSURL:  "ws://localhost:8080/ws",
		},
		Sync: SyncConfig{
			PageSize:            10,
			QueueDebounce:       500 * time.Millisecond,
			RefreshCooldown:     time.Second,
			EndChatDelay:        3 * time.Second,
			AcceptGuardTTL:      time.Minute,
			ReconnectBackoff:    time.Second,
			ReconnectMaxBackoff: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Metrics: MetricsConfig{
			Interval: 30 * time.Second,
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML; everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if err := checkURL("server.api_url", c.Server.APIURL, "http", "https"); err != nil {
		return err
	}
	if err := checkURL("server.ws_url", c.Server.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if c.Sync.PageSize <= 0 {
		return fmt.Errorf("sync.page_size must be positive, got %d", c.Sync.PageSize)
	}
	if c.Sync.ReconnectMaxBackoff < c.Sync.ReconnectBackoff {
		return fmt.Errorf("sync.reconnect_max_backoff must not be less than sync.reconnect_backoff")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	if c.Metrics.Enabled && c.Metrics.Interval <= 0 {
		return fmt.Errorf("metrics.interval must be positive when metrics are enabled")
	}
	return nil
}

func checkURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s must use one of %v, got %q", field, schemes, u.Scheme)
}

// ResolveToken returns the configured token, reading TokenFile when Token is
// empty. Surrounding whitespace is trimmed.
func (c *Config) ResolveToken() (string, error) {
	if c.Auth.Token != "" {
		return strings.TrimSpace(c.Auth.Token), nil
	}
	if c.Auth.TokenFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Auth.TokenFile)
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"queue_debounce", cfg.Sync.QueueDebounceRaw, &cfg.Sync.QueueDebounce},
		{"refresh_cooldown", cfg.Sync.RefreshCooldownRaw, &cfg.Sync.RefreshCooldown},
		{"end_chat_delay", cfg.Sync.EndChatDelayRaw, &cfg.Sync.EndChatDelay},
		{"accept_guard_ttl", cfg.Sync.AcceptGuardTTLRaw, &cfg.Sync.AcceptGuardTTL},
		{"reconnect_backoff", cfg.Sync.ReconnectBackoffRaw, &cfg.Sync.ReconnectBackoff},
		{"reconnect_max_backoff", cfg.Sync.ReconnectMaxBackoffRaw, &cfg.Sync.ReconnectMaxBackoff},
		{"interval", cfg.Metrics.IntervalRaw, &cfg.Metrics.Interval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("parsing %s %q: must not be negative", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
