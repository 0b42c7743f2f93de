// ABOUTME: Process-wide registry mapping session IDs to live sessions.
// ABOUTME: Single-mutex discipline makes create/get/remove/count/drain atomic.

package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNilStream is returned by Create when no stream is supplied.
var ErrNilStream = errors.New("stream is required")

// ErrIDExhausted is returned when no unused ID could be generated.
var ErrIDExhausted = errors.New("could not allocate unique session id")

// maxIDAttempts bounds retries when a generated ID collides with a live one.
const maxIDAttempts = 8

// Observer is notified of session lifecycle events. Implementations must be
// safe for concurrent use and must not call back into the registry.
type Observer interface {
	SessionOpened()
	SessionClosed()
	HeartbeatSent()
}

type nopObserver struct{}

func (nopObserver) SessionOpened() {}
func (nopObserver) SessionClosed() {}
func (nopObserver) HeartbeatSent() {}

// Registry owns the mapping from ID to Session.
type Registry struct {
	mu       sync.Mutex
	sessions map[ID]*Session
	observer Observer
	logger   *slog.Logger

	// newID is swapped in tests to force collisions.
	newID func() ID
	now   func() time.Time
}

// NewRegistry creates an empty registry. Pass nil logger or observer for
// defaults.
func NewRegistry(logger *slog.Logger, observer Observer) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Registry{
		sessions: make(map[ID]*Session),
		observer: observer,
		logger:   logger,
		newID:    NewID,
		now:      time.Now,
	}
}

// Create allocates a fresh ID, builds a Session around stream and inserts
// it. The returned session's heartbeat is not started yet.
func (r *Registry) Create(stream *Stream, client ClientClass) (*Session, error) {
	if stream == nil {
		return nil, ErrNilStream
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var id ID
	for attempt := 0; ; attempt++ {
		if attempt == maxIDAttempts {
			return nil, ErrIDExhausted
		}
		id = r.newID()
		if id.IsZero() {
			continue
		}
		if _, taken := r.sessions[id]; !taken {
			break
		}
	}

	sess := &Session{
		id:        id,
		stream:    stream,
		client:    client,
		createdAt: r.now(),
		heartbeat: NewHeartbeat(stream, client.Interval, r.observer, r.logger.With("session_id", id)),
	}
	// A failed write takes the session out of the registry before the write
	// returns, so no later message can be routed to it.
	if !stream.setFailureHook(func() { r.discard(id) }) {
		return nil, ErrStreamClosed
	}
	r.sessions[id] = sess
	r.observer.SessionOpened()
	return sess, nil
}

// Get looks up a live session.
func (r *Registry) Get(id ID) (*Session, bool) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()
	return sess, ok
}

// Remove deletes the session and stops its heartbeat. Removing an absent ID
// is a no-op. Reports whether a session was removed.
func (r *Registry) Remove(id ID) bool {
	sess, ok := r.take(id)
	if !ok {
		return false
	}
	sess.End()
	r.observer.SessionClosed()
	return true
}

// discard is Remove for a stream whose write just failed. The write may have
// come from the heartbeat loop itself, so the heartbeat is stopped in the
// background instead of waited on.
func (r *Registry) discard(id ID) {
	sess, ok := r.take(id)
	if !ok {
		return
	}
	go sess.End()
	r.observer.SessionClosed()
	r.logger.Debug("session removed after write failure", "session_id", id)
}

func (r *Registry) take(id ID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return sess, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Drain removes every session and stops their heartbeats without closing
// the underlying transports. Returns the removed sessions.
func (r *Registry) Drain() []*Session {
	r.mu.Lock()
	drained := make([]*Session, 0, len(r.sessions))
	for id, sess := range r.sessions {
		drained = append(drained, sess)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, sess := range drained {
		sess.End()
		r.observer.SessionClosed()
	}
	if len(drained) > 0 {
		r.logger.Info("session registry drained", "sessions", len(drained))
	}
	return drained
}
