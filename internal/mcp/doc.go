// Package mcp implements the Model Context Protocol on top of hub sessions.
//
// # Overview
//
// Every streaming session gets its own protocol handler, created by
// Server.Bind when the stream opens. The handler receives JSON-RPC 2.0
// messages posted to the session's message endpoint and writes replies to
// the session stream as "message" events, following the MCP SSE transport.
//
// # Methods
//
//   - initialize: negotiates the protocol version and advertises capabilities
//   - ping: returns an empty result
//   - tools/list: every tool aggregated from the upstream servers
//   - tools/call: routed through the tool registry to the owning server
//
// Notifications produce no reply. Batches are answered with a single array.
//
// # Tool Discovery
//
//	{"jsonrpc": "2.0", "method": "tools/list", "id": 1}
//
// # Tool Execution
//
//	{
//	  "jsonrpc": "2.0",
//	  "method": "tools/call",
//	  "params": {"name": "echo", "arguments": {"text": "hi"}},
//	  "id": 2
//	}
//
// Tool failures are reported in-band with isError set. Unknown tools and
// arguments that fail schema validation are JSON-RPC errors (-32602).
//
// # Change notifications
//
// When the aggregated tool set changes, every initialized session receives
// notifications/tools/list_changed.
//
// The wire types in protocol.go are shared with the upstream client, which
// speaks the same protocol to worker processes.
package mcp
