// ABOUTME: Connection handler for long-lived SSE streams and their session lifecycle.
// ABOUTME: Creates, announces, keeps alive and tears down one session per stream.

package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/2389/mcphub/internal/session"
)

// DefaultMessagePath is where correlated messages are posted.
const DefaultMessagePath = "/messages"

// DefaultMaxMessageSize bounds the body of a correlated message (4 MiB).
const DefaultMaxMessageSize = 4 << 20

// CompatHeader is set on streams opened by compat-class clients.
const CompatHeader = "X-Cursor-Compatible"

// Binder attaches the downstream protocol logic to a freshly created session.
// If the returned handler has a Close method it is called when the stream ends.
type Binder interface {
	Bind(ctx context.Context, sess *session.Session) (session.Handler, error)
}

// BinderFunc adapts a function to the Binder interface.
type BinderFunc func(ctx context.Context, sess *session.Session) (session.Handler, error)

// Bind calls f.
func (f BinderFunc) Bind(ctx context.Context, sess *session.Session) (session.Handler, error) {
	return f(ctx, sess)
}

// MessageRecorder receives the outcome of each routed message.
type MessageRecorder interface {
	MessageRouted(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) MessageRouted(string) {}

// Config holds configuration for the transport handler.
type Config struct {
	Registry       *session.Registry
	Binder         Binder
	Policy         session.HeartbeatPolicy
	MessagePath    string
	MaxMessageSize int64
	Recorder       MessageRecorder
	Logger         *slog.Logger
}

// Handler serves the stream, message and health endpoints.
type Handler struct {
	registry       *session.Registry
	binder         Binder
	policy         session.HeartbeatPolicy
	messagePath    string
	maxMessageSize int64
	recorder       MessageRecorder
	health         *HealthReporter
	logger         *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a transport handler.
func New(cfg Config) (*Handler, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Binder == nil {
		return nil, errors.New("binder is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	messagePath := cfg.MessagePath
	if messagePath == "" {
		messagePath = DefaultMessagePath
	}
	maxSize := cfg.MaxMessageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	var recorder MessageRecorder = nopRecorder{}
	if cfg.Recorder != nil {
		recorder = cfg.Recorder
	}

	return &Handler{
		registry:       cfg.Registry,
		binder:         cfg.Binder,
		policy:         cfg.Policy,
		messagePath:    messagePath,
		maxMessageSize: maxSize,
		recorder:       recorder,
		health:         NewHealthReporter(cfg.Registry),
		logger:         logger,
		done:           make(chan struct{}),
	}, nil
}

// RegisterRoutes registers the transport endpoints on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/stream", h.ServeStream)
	mux.HandleFunc("/sse", h.ServeStream)
	mux.HandleFunc(h.messagePath, h.ServeMessage)
	mux.Handle("/health", h.health)
	mux.Handle("/api/health", h.health)
}

// Health returns the handler's health reporter.
func (h *Handler) Health() *HealthReporter {
	return h.health
}

// Close releases every open stream so their handlers return. Registry
// entries are left to the caller's shutdown sweep. Safe to call multiple times.
func (h *Handler) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}

// ServeStream handles GET /stream. It blocks until the stream ends.
func (h *Handler) ServeStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("streaming not supported by response writer")
		writeFailure(w, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}

	client := h.policy.Classify(r.UserAgent())

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	if client.Compat {
		h.logger.Debug("compat client detected", "client", client.Name, "user_agent", r.UserAgent())
		hdr.Set(CompatHeader, "true")
	}
	w.WriteHeader(http.StatusOK)

	stream := session.NewStream(w, flusher)
	if err := stream.WriteComment(); err != nil {
		h.logger.Warn("stream closed before setup", "error", fmt.Errorf("%w: %w", ErrConnectionSetup, err))
		return
	}

	sess, handler, err := h.establish(r.Context(), stream, client)
	if err != nil {
		h.failSetup(stream, err)
		return
	}

	h.logger.Info("stream opened",
		"session_id", sess.ID(),
		"client", client.Name,
		"heartbeat_interval", client.Interval,
		"connections", h.registry.Count(),
	)

	reason := h.wait(r.Context(), stream)
	h.teardown(sess, handler, reason)
}

// establish creates, binds and announces a session. On error nothing is left
// registered.
func (h *Handler) establish(ctx context.Context, stream *session.Stream, client session.ClientClass) (*session.Session, session.Handler, error) {
	sess, err := h.registry.Create(stream, client)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: creating session: %w", ErrConnectionSetup, err)
	}
	sess.Heartbeat().Start()

	handler, err := h.binder.Bind(ctx, sess)
	if err != nil {
		h.registry.Remove(sess.ID())
		return nil, nil, fmt.Errorf("%w: binding protocol handler: %w", ErrConnectionSetup, err)
	}
	sess.Bind(handler)

	endpoint := h.messagePath + "?sessionId=" + url.QueryEscape(sess.ID().Token())
	if err := stream.WriteEvent("endpoint", endpoint); err != nil {
		h.registry.Remove(sess.ID())
		closeHandler(handler)
		return nil, nil, fmt.Errorf("%w: announcing endpoint: %w", ErrConnectionSetup, err)
	}

	return sess, handler, nil
}

// failSetup reports a setup failure to the client if it can still hear it,
// then closes the stream.
func (h *Handler) failSetup(stream *session.Stream, err error) {
	h.logger.Error("error establishing stream", "error", err)

	if !stream.Closed() {
		data, _ := json.Marshal(map[string]string{"error": err.Error()})
		_ = stream.WriteEvent("error", string(data))
	}
	stream.Close()
}

// wait blocks until the stream ends and reports why.
func (h *Handler) wait(ctx context.Context, stream *session.Stream) string {
	select {
	case <-stream.Done():
		if err := stream.Err(); err != nil {
			return "write failed"
		}
		return "stream closed"
	case <-ctx.Done():
		return "client disconnected"
	case <-h.done:
		return "server shutdown"
	}
}

// teardown runs exactly once per established session.
func (h *Handler) teardown(sess *session.Session, handler session.Handler, reason string) {
	sess.Stream().Close()
	h.registry.Remove(sess.ID())
	closeHandler(handler)

	h.logger.Info("stream closed",
		"session_id", sess.ID(),
		"reason", reason,
		"duration", time.Since(sess.CreatedAt()).Round(time.Millisecond),
		"connections", h.registry.Count(),
	)
}

func closeHandler(handler session.Handler) {
	if c, ok := handler.(interface{ Close() }); ok {
		c.Close()
	}
}
