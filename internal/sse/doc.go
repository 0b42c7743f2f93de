// Package sse implements the streaming transport of the hub.
//
// # Endpoints
//
//   - GET /stream (alias /sse) opens a long-lived Server-Sent Events stream
//   - POST /messages?sessionId=<id> delivers a correlated message
//   - GET /health (alias /api/health) reports the live session count
//
// # Connection lifecycle
//
// On accept the handler disables intermediary buffering, writes a keep-alive
// comment, creates a session, starts its heartbeat, binds the protocol
// handler and finally announces the correlation ID:
//
//	:
//
//	event: endpoint
//	data: /messages?sessionId=2f1c...
//
// The stream stays registered until the client disconnects, a write fails,
// or the handler is closed during shutdown.
//
// # Message routing
//
// Inbound messages are resolved by sessionId and forwarded, unchanged, to the
// session's protocol handler. A missing or unknown ID is a client error
// (400); a handler failure is a server error (500) that leaves the session
// open.
package sse
