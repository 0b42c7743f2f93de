// Package config handles configuration loading for mcphub.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Every key has a default, so an empty file is a valid
// configuration.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from MCPHUB_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/mcphub/config.yaml
//  3. ~/.config/mcphub/config.yaml
//
// Files ending in .toml are decoded as TOML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	server:
//	  http_addr: "${MCPHUB_ADDR}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	streams:
//	  heartbeat_interval: "30s"
//	  compat_heartbeat_interval: "10s"
//
// # Example
//
//	server:
//	  http_addr: "localhost:3000"
//	  static_dir: "frontend/dist"
//	settings:
//	  backend: "file"
//	  path: "mcp_settings.json"
//	streams:
//	  compat_clients: ["Cursor"]
//	tools:
//	  call_timeout: "30s"
//	logging:
//	  level: "info"
//	  format: "text"
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
