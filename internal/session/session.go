// ABOUTME: Session entity binding one stream to its ID, heartbeat and protocol handler.
// ABOUTME: Defines the Handler contract the router forwards correlated messages to.

package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInvalidPayload is wrapped by handlers when a forwarded message cannot be
// parsed. The router reports it to the caller as a client error.
var ErrInvalidPayload = errors.New("invalid payload")

// Handler consumes messages forwarded to a session. The registry never
// interprets payloads; it only hands them to the bound handler.
type Handler interface {
	// HandleMessage processes one inbound payload. A nil result with a nil
	// error means the message was accepted and any reply goes out on the
	// session stream.
	HandleMessage(ctx context.Context, payload []byte) ([]byte, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload []byte) ([]byte, error)

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, payload []byte) ([]byte, error) {
	return f(ctx, payload)
}

// Session is one active streaming connection.
type Session struct {
	id        ID
	stream    *Stream
	client    ClientClass
	createdAt time.Time
	heartbeat *Heartbeat

	mu      sync.RWMutex
	handler Handler

	endOnce sync.Once
}

// ID returns the session's correlation ID.
func (s *Session) ID() ID {
	return s.id
}

// Stream returns the session's outbound stream.
func (s *Session) Stream() *Stream {
	return s.stream
}

// Client returns the detected client class.
func (s *Session) Client() ClientClass {
	return s.client
}

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Heartbeat returns the session's heartbeat handle.
func (s *Session) Heartbeat() *Heartbeat {
	return s.heartbeat
}

// Bind attaches the protocol handler that consumes forwarded messages.
func (s *Session) Bind(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Handler returns the bound protocol handler, or nil before Bind.
func (s *Session) Handler() Handler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handler
}

// End releases the session's heartbeat. Only the first call has an effect.
// It does not close the stream; the transport owns the socket.
func (s *Session) End() {
	s.endOnce.Do(func() {
		s.heartbeat.Stop()
	})
}
