// ABOUTME: Configuration loading and parsing for mcphub
// ABOUTME: Supports YAML or TOML files with environment variable expansion, defaults and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete mcphub configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Hub      HubConfig      `yaml:"hub" toml:"hub"`
	Settings SettingsConfig `yaml:"settings" toml:"settings"`
	Streams  StreamsConfig  `yaml:"streams" toml:"streams"`
	Tools    ToolsConfig    `yaml:"tools" toml:"tools"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds the HTTP surface configuration
type ServerConfig struct {
	HTTPAddr    string `yaml:"http_addr" toml:"http_addr"`
	StaticDir   string `yaml:"static_dir" toml:"static_dir"`
	MessagePath string `yaml:"message_path" toml:"message_path"`
	// MaxMessageBytes bounds the body of a posted message
	MaxMessageBytes int64 `yaml:"max_message_bytes" toml:"max_message_bytes"`

	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// HubConfig holds the identity advertised to MCP clients and upstream servers
type HubConfig struct {
	Name    string `yaml:"name" toml:"name"`
	Version string `yaml:"version" toml:"version"`
}

// SettingsConfig selects where server definitions are stored
type SettingsConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"`
	// Watch reloads the file backend on external edits (default true)
	Watch *bool `yaml:"watch" toml:"watch"`
}

// WatchEnabled reports whether the settings file should be watched.
func (s SettingsConfig) WatchEnabled() bool {
	return s.Watch == nil || *s.Watch
}

// StreamsConfig holds keep-alive timing for streaming sessions
type StreamsConfig struct {
	HeartbeatInterval       time.Duration `yaml:"-" toml:"-"`
	CompatHeartbeatInterval time.Duration `yaml:"-" toml:"-"`
	CompatClients           []string      `yaml:"compat_clients" toml:"compat_clients"`

	// Raw string values for unmarshaling
	HeartbeatIntervalRaw       string `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
	CompatHeartbeatIntervalRaw string `yaml:"compat_heartbeat_interval" toml:"compat_heartbeat_interval"`
}

// ToolsConfig holds timing for upstream servers and tool calls
type ToolsConfig struct {
	CallTimeout  time.Duration `yaml:"-" toml:"-"`
	StartTimeout time.Duration `yaml:"-" toml:"-"`

	CallTimeoutRaw  string `yaml:"call_timeout" toml:"call_timeout"`
	StartTimeoutRaw string `yaml:"start_timeout" toml:"start_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default values
const (
	DefaultHTTPAddr        = "localhost:3000"
	DefaultStaticDir       = "frontend/dist"
	DefaultMessagePath     = "/messages"
	DefaultMaxMessageBytes = 4 << 20
	DefaultShutdownTimeout = 5 * time.Second
	DefaultHubName         = "mcphub"
	DefaultHubVersion      = "0.0.1"
	DefaultSettingsBackend = "file"
	DefaultSettingsPath    = "mcp_settings.json"
	DefaultHeartbeat       = 30 * time.Second
	DefaultCompatHeartbeat = 10 * time.Second
	DefaultCallTimeout     = 30 * time.Second
	DefaultStartTimeout    = 30 * time.Second
	DefaultMetricsPath     = "/metrics"
)

// DefaultCompatClients lists User-Agent markers that get the compat heartbeat.
var DefaultCompatClients = []string{"Cursor"}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		format = "toml"
	}
	return Parse(data, format)
}

// LoadOrDefault loads path, falling back to Default when the file does not
// exist and required is false.
func LoadOrDefault(path string, required bool) (*Config, error) {
	cfg, err := Load(path)
	if err != nil && !required && errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Parse decodes configuration content in the given format ("yaml" or "toml").
func Parse(data []byte, format string) (*Config, error) {
	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case "toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case "yaml", "":
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.StaticDir == "" {
		c.Server.StaticDir = DefaultStaticDir
	}
	if c.Server.MessagePath == "" {
		c.Server.MessagePath = DefaultMessagePath
	}
	if c.Server.MaxMessageBytes == 0 {
		c.Server.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Hub.Name == "" {
		c.Hub.Name = DefaultHubName
	}
	if c.Hub.Version == "" {
		c.Hub.Version = DefaultHubVersion
	}
	if c.Settings.Backend == "" {
		c.Settings.Backend = DefaultSettingsBackend
	}
	if c.Settings.Path == "" {
		c.Settings.Path = DefaultSettingsPath
	}
	if c.Streams.HeartbeatInterval == 0 {
		c.Streams.HeartbeatInterval = DefaultHeartbeat
	}
	if c.Streams.CompatHeartbeatInterval == 0 {
		c.Streams.CompatHeartbeatInterval = DefaultCompatHeartbeat
	}
	if c.Streams.CompatClients == nil {
		c.Streams.CompatClients = append([]string(nil), DefaultCompatClients...)
	}
	if c.Tools.CallTimeout == 0 {
		c.Tools.CallTimeout = DefaultCallTimeout
	}
	if c.Tools.StartTimeout == 0 {
		c.Tools.StartTimeout = DefaultStartTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if !strings.HasPrefix(c.Server.MessagePath, "/") {
		return fmt.Errorf("server.message_path must start with '/', got %q", c.Server.MessagePath)
	}
	if isBuiltinRoute(c.Server.MessagePath) {
		return fmt.Errorf("server.message_path %q collides with a built-in route", c.Server.MessagePath)
	}
	if c.Server.MaxMessageBytes < 0 {
		return fmt.Errorf("server.max_message_bytes must not be negative")
	}

	switch c.Settings.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("settings.backend must be \"file\" or \"sqlite\", got %q", c.Settings.Backend)
	}
	if c.Settings.Path == "" {
		return fmt.Errorf("settings.path is required")
	}

	if c.Streams.HeartbeatInterval < 0 || c.Streams.CompatHeartbeatInterval < 0 {
		return fmt.Errorf("streams heartbeat intervals must be positive")
	}
	if c.Tools.CallTimeout < 0 || c.Tools.StartTimeout < 0 {
		return fmt.Errorf("tools timeouts must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be \"text\" or \"json\", got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled {
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path)
		}
		if isBuiltinRoute(c.Metrics.Path) || c.Metrics.Path == c.Server.MessagePath {
			return fmt.Errorf("metrics.path %q collides with another route", c.Metrics.Path)
		}
	}

	return nil
}

// isBuiltinRoute reports whether path is served by the hub itself.
func isBuiltinRoute(path string) bool {
	switch path {
	case "/", "/stream", "/sse", "/health", "/api/health":
		return true
	}
	return strings.HasPrefix(path, "/api/")
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"streams.heartbeat_interval", cfg.Streams.HeartbeatIntervalRaw, &cfg.Streams.HeartbeatInterval},
		{"streams.compat_heartbeat_interval", cfg.Streams.CompatHeartbeatIntervalRaw, &cfg.Streams.CompatHeartbeatInterval},
		{"tools.call_timeout", cfg.Tools.CallTimeoutRaw, &cfg.Tools.CallTimeout},
		{"tools.start_timeout", cfg.Tools.StartTimeoutRaw, &cfg.Tools.StartTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.key, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
