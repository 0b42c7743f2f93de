// Package gateway wires mcphub's components into one HTTP server.
//
// # Overview
//
// The gateway owns every long-lived component of the hub: the settings
// store, the aggregated tool registry, the upstream manager, the MCP
// server, the session registry and the streaming transport. New builds
// them from a config.Config; Run serves until the context is cancelled and
// then shuts everything down in dependency order.
//
// # HTTP Surface
//
// Transport routes come from the sse package:
//
//   - GET /stream (alias /sse) - open a streaming session
//   - POST /messages?sessionId=... - deliver a message to a session
//   - GET /health (alias /api/health) - connection count
//
// Management routes live in api.go and are served by httprouter:
//
//   - GET /api/servers - configured servers with live status and tools
//   - GET /api/settings - the raw server definitions
//   - POST /api/servers - add a server
//   - PUT /api/servers/:name - replace a server's definition
//   - DELETE /api/servers/:name - remove a server
//
// Every mutation re-syncs the upstream manager so running servers follow
// the stored definitions. Anything else is served from server.static_dir,
// with / answered by index.html.
//
// # Middleware
//
// All routes pass through CORS handling (OPTIONS short-circuits with 200)
// and panic recovery, which answers 500 with the standard failure body.
//
// # Shutdown
//
// Shutdown drains the session registry, releases open streams, stops the
// HTTP server, then closes the MCP server, the upstream clients and the
// settings store.
package gateway
