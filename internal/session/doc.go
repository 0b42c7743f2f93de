// Package session tracks live streaming connections to the hub.
//
// # Overview
//
// A Session is one open Server-Sent Events response plus its correlation ID
// and heartbeat. Sessions are purely in-memory; a restart loses all of them
// and reconnecting clients always receive a new ID.
//
// # Registry
//
// The Registry owns the ID -> Session mapping. All operations run under a
// single mutex, so a concurrent Create, Get, Remove, Count or Drain never
// observes a partially applied mutation:
//
//	reg := session.NewRegistry(logger, nil)
//	sess, err := reg.Create(stream, client)
//	defer reg.Remove(sess.ID())
//
// # Streams
//
// Stream serializes writes to the underlying http.ResponseWriter and flushes
// after each frame. A failed write marks the stream closed and fires Done(),
// which the connection handler treats the same as a client disconnect.
//
// # Heartbeats
//
// Each session owns exactly one Heartbeat that writes an SSE comment (":")
// at a fixed interval so idle proxies do not cut the connection. The
// interval depends on the ClientClass chosen by HeartbeatPolicy.
package session
