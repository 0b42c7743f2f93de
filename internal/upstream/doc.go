// Package upstream runs the MCP servers the hub aggregates.
//
// A Client owns one worker process and speaks newline-delimited JSON-RPC to
// it over stdin and stdout. Responses are matched to calls by request id.
//
// The Manager reconciles the running clients with the stored server
// definitions and keeps the tool registry in step with them.
package upstream
