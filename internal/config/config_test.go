// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:3000"
  static_dir: "./public"
  message_path: "/rpc"
  max_message_bytes: 1024
  shutdown_timeout: "2s"

hub:
  name: "test-hub"
  version: "1.2.3"

settings:
  backend: "sqlite"
  path: "./servers.db"
  watch: false

streams:
  heartbeat_interval: "15s"
  compat_heartbeat_interval: "5s"
  compat_clients:
    - "Cursor"
    - "Windsurf"

tools:
  call_timeout: "45s"
  start_timeout: "1m"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/internal/metrics"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:3000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:3000")
	}
	if cfg.Server.StaticDir != "./public" {
		t.Errorf("Server.StaticDir = %q, want %q", cfg.Server.StaticDir, "./public")
	}
	if cfg.Server.MessagePath != "/rpc" {
		t.Errorf("Server.MessagePath = %q, want %q", cfg.Server.MessagePath, "/rpc")
	}
	if cfg.Server.MaxMessageBytes != 1024 {
		t.Errorf("Server.MaxMessageBytes = %d, want 1024", cfg.Server.MaxMessageBytes)
	}
	if cfg.Server.ShutdownTimeout != 2*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 2s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Hub.Name != "test-hub" || cfg.Hub.Version != "1.2.3" {
		t.Errorf("Hub = %+v, want test-hub 1.2.3", cfg.Hub)
	}
	if cfg.Settings.Backend != "sqlite" {
		t.Errorf("Settings.Backend = %q, want %q", cfg.Settings.Backend, "sqlite")
	}
	if cfg.Settings.WatchEnabled() {
		t.Error("Settings.WatchEnabled() = true, want false")
	}
	if cfg.Streams.HeartbeatInterval != 15*time.Second {
		t.Errorf("Streams.HeartbeatInterval = %v, want 15s", cfg.Streams.HeartbeatInterval)
	}
	if cfg.Streams.CompatHeartbeatInterval != 5*time.Second {
		t.Errorf("Streams.CompatHeartbeatInterval = %v, want 5s", cfg.Streams.CompatHeartbeatInterval)
	}
	if len(cfg.Streams.CompatClients) != 2 || cfg.Streams.CompatClients[1] != "Windsurf" {
		t.Errorf("Streams.CompatClients = %v, want [Cursor Windsurf]", cfg.Streams.CompatClients)
	}
	if cfg.Tools.CallTimeout != 45*time.Second {
		t.Errorf("Tools.CallTimeout = %v, want 45s", cfg.Tools.CallTimeout)
	}
	if cfg.Tools.StartTimeout != time.Minute {
		t.Errorf("Tools.StartTimeout = %v, want 1m", cfg.Tools.StartTimeout)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want debug/json", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/internal/metrics" {
		t.Errorf("Metrics = %+v, want enabled at /internal/metrics", cfg.Metrics)
	}
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", ""))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := Default()
	if cfg.Server.HTTPAddr != want.Server.HTTPAddr {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, want.Server.HTTPAddr)
	}
	if cfg.Server.MessagePath != "/messages" {
		t.Errorf("Server.MessagePath = %q, want /messages", cfg.Server.MessagePath)
	}
	if cfg.Server.MaxMessageBytes != 4<<20 {
		t.Errorf("Server.MaxMessageBytes = %d, want 4 MiB", cfg.Server.MaxMessageBytes)
	}
	if cfg.Settings.Backend != "file" || cfg.Settings.Path != "mcp_settings.json" {
		t.Errorf("Settings = %+v, want file backend at mcp_settings.json", cfg.Settings)
	}
	if !cfg.Settings.WatchEnabled() {
		t.Error("Settings.WatchEnabled() = false, want true")
	}
	if cfg.Streams.HeartbeatInterval != 30*time.Second {
		t.Errorf("Streams.HeartbeatInterval = %v, want 30s", cfg.Streams.HeartbeatInterval)
	}
	if cfg.Streams.CompatHeartbeatInterval != 10*time.Second {
		t.Errorf("Streams.CompatHeartbeatInterval = %v, want 10s", cfg.Streams.CompatHeartbeatInterval)
	}
	if len(cfg.Streams.CompatClients) != 1 || cfg.Streams.CompatClients[0] != "Cursor" {
		t.Errorf("Streams.CompatClients = %v, want [Cursor]", cfg.Streams.CompatClients)
	}
	if cfg.Tools.CallTimeout != 30*time.Second {
		t.Errorf("Tools.CallTimeout = %v, want 30s", cfg.Tools.CallTimeout)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = true, want false")
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[server]
http_addr = "127.0.0.1:4000"

[settings]
backend = "file"
path = "servers.json"
watch = true

[streams]
heartbeat_interval = "20s"
compat_clients = ["Cursor", "Zed"]

[logging]
level = "warn"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:4000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:4000")
	}
	if cfg.Settings.Path != "servers.json" {
		t.Errorf("Settings.Path = %q, want servers.json", cfg.Settings.Path)
	}
	if cfg.Streams.HeartbeatInterval != 20*time.Second {
		t.Errorf("Streams.HeartbeatInterval = %v, want 20s", cfg.Streams.HeartbeatInterval)
	}
	if len(cfg.Streams.CompatClients) != 2 {
		t.Errorf("Streams.CompatClients = %v, want two entries", cfg.Streams.CompatClients)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_MCPHUB_ADDR", "10.0.0.1:3000")
	t.Setenv("TEST_MCPHUB_SETTINGS", "/etc/mcphub/servers.json")

	cfg, err := Load(writeConfig(t, "config.yaml", `
server:
  http_addr: "${TEST_MCPHUB_ADDR}"
settings:
  path: "${TEST_MCPHUB_SETTINGS}"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "10.0.0.1:3000" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "10.0.0.1:3000")
	}
	if cfg.Settings.Path != "/etc/mcphub/servers.json" {
		t.Errorf("Settings.Path = %q, want %q", cfg.Settings.Path, "/etc/mcphub/servers.json")
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	// Ensure the env var is NOT set
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	cfg, err := Load(writeConfig(t, "config.yaml", `
hub:
  name: "${UNSET_VAR_FOR_TEST}"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Empty after expansion, so the default applies
	if cfg.Hub.Name != "mcphub" {
		t.Errorf("Hub.Name = %q, want default %q", cfg.Hub.Name, "mcphub")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoadOrDefault(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := LoadOrDefault(missing, false)
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Server.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("Server.HTTPAddr = %q, want default", cfg.Server.HTTPAddr)
	}

	if _, err := LoadOrDefault(missing, true); err == nil {
		t.Error("LoadOrDefault() expected error for required missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", "server:\n  http_addr: [unclosed\n"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	_, err := Load(writeConfig(t, "config.toml", "[server\nhttp_addr = 1"))
	if err == nil {
		t.Error("Load() expected error for invalid TOML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tests := []struct {
		name    string
		content string
		key     string
	}{
		{"heartbeat", "streams:\n  heartbeat_interval: \"soon\"\n", "streams.heartbeat_interval"},
		{"compat heartbeat", "streams:\n  compat_heartbeat_interval: \"10\"\n", "streams.compat_heartbeat_interval"},
		{"call timeout", "tools:\n  call_timeout: \"forever\"\n", "tools.call_timeout"},
		{"shutdown", "server:\n  shutdown_timeout: \"x\"\n", "server.shutdown_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.yaml", tt.content))
			if err == nil {
				t.Fatal("Load() expected error for invalid duration, got nil")
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error %q does not mention %s", err, tt.key)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"relative message path", func(c *Config) { c.Server.MessagePath = "messages" }, "message_path"},
		{"message path collides", func(c *Config) { c.Server.MessagePath = "/stream" }, "collides"},
		{"negative body limit", func(c *Config) { c.Server.MaxMessageBytes = -1 }, "max_message_bytes"},
		{"unknown backend", func(c *Config) { c.Settings.Backend = "redis" }, "settings.backend"},
		{"negative heartbeat", func(c *Config) { c.Streams.HeartbeatInterval = -time.Second }, "heartbeat"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"message path under api", func(c *Config) { c.Server.MessagePath = "/api/messages" }, "collides"},
		{"metrics path", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Path = "metrics" }, "metrics.path"},
		{"metrics path collides", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Path = "/messages" }, "collides"},
		{"disabled metrics path ignored", func(c *Config) { c.Metrics.Path = "/stream" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR_1", "value1")
	t.Setenv("TEST_VAR_2", "value2")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no vars", "plain text", "plain text"},
		{"single var", "${TEST_VAR_1}", "value1"},
		{"multiple vars", "${TEST_VAR_1}-${TEST_VAR_2}", "value1-value2"},
		{"embedded", "prefix_${TEST_VAR_1}_suffix", "prefix_value1_suffix"},
		{"unset var", "${NOT_SET_ANYWHERE_12345}", ""},
		{"bare dollar is kept", "$TEST_VAR_1", "$TEST_VAR_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := expandEnvVars(tt.input); got != tt.want {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParse_UnsupportedFormat(t *testing.T) {
	if _, err := Parse([]byte(""), "ini"); err == nil {
		t.Error("Parse() expected error for unsupported format")
	}
}
