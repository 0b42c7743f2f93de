// Package settings persists the definitions of upstream MCP servers.
//
// Two backends implement Store:
//
//   - FileStore keeps the definitions in a JSON document of the form
//     {"mcpServers": {"<name>": {"command": ..., "args": [...], "env": {...}}}}
//     and can watch it for edits made outside the hub.
//   - SQLiteStore keeps them in a "servers" table.
//
// Open picks a backend by name.
package settings
