// ABOUTME: MCP server that binds a JSON-RPC protocol handler to each streaming session.
// ABOUTME: Serves initialize, ping, tools/list and tools/call and fans out list_changed.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/mcphub/internal/session"
	"github.com/2389/mcphub/internal/tools"
)

// ErrServerClosed is returned by Bind after Close.
var ErrServerClosed = errors.New("mcp server closed")

// defaultInputSchema is advertised for tools that declare no schema.
var defaultInputSchema = json.RawMessage(`{"type":"object"}`)

// ToolProvider is the tool catalogue the server exposes.
type ToolProvider interface {
	List() []tools.Tool
	Call(ctx context.Context, name string, args json.RawMessage) (*tools.Result, error)
	Subscribe(fn func()) func()
}

// Config holds configuration for the MCP server.
type Config struct {
	Tools   ToolProvider
	Name    string
	Version string
	Logger  *slog.Logger
}

// Server creates per-session protocol handlers.
type Server struct {
	tools  ToolProvider
	info   Implementation
	logger *slog.Logger

	mu          sync.Mutex
	handlers    map[*sessionHandler]struct{}
	closed      bool
	unsubscribe func()
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Tools == nil {
		return nil, errors.New("tool provider is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = "mcphub"
	}
	version := cfg.Version
	if version == "" {
		version = "0.0.1"
	}

	s := &Server{
		tools:    cfg.Tools,
		info:     Implementation{Name: name, Version: version},
		logger:   logger,
		handlers: make(map[*sessionHandler]struct{}),
	}
	s.unsubscribe = cfg.Tools.Subscribe(s.broadcastToolsChanged)
	return s, nil
}

// Bind creates the protocol handler for sess.
func (s *Server) Bind(_ context.Context, sess *session.Session) (session.Handler, error) {
	h := &sessionHandler{
		server: s,
		sess:   sess,
		logger: s.logger.With("session_id", sess.ID()),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrServerClosed
	}
	s.handlers[h] = struct{}{}
	return h, nil
}

// Sessions returns the number of bound handlers.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// Close stops accepting new sessions. Bound handlers keep working until
// their streams end.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.unsubscribe()
	s.logger.Info("mcp server closed")
}

func (s *Server) release(h *sessionHandler) {
	s.mu.Lock()
	delete(s.handlers, h)
	s.mu.Unlock()
}

// broadcastToolsChanged runs inside tool registry changes, so it only queues
// the notification. Each session writes it from its own goroutine.
func (s *Server) broadcastToolsChanged() {
	s.mu.Lock()
	targets := make([]*sessionHandler, 0, len(s.handlers))
	for h := range s.handlers {
		if h.isInitialized() {
			targets = append(targets, h)
		}
	}
	s.mu.Unlock()

	for _, h := range targets {
		h.queueToolsChanged()
	}
	s.logger.Debug("tools list_changed broadcast", "sessions", len(targets))
}

// sessionHandler is the protocol state of one session.
type sessionHandler struct {
	server *Server
	sess   *session.Session
	logger *slog.Logger

	mu              sync.Mutex
	initialized     bool
	protocolVersion string

	// Changes arriving while a notification is being written collapse
	// into one more notification.
	toolsDirty     bool
	toolsNotifying bool
}

// HandleMessage implements session.Handler. Replies are written to the
// session stream; the returned result is always nil.
func (h *sessionHandler) HandleMessage(ctx context.Context, payload []byte) ([]byte, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty message", session.ErrInvalidPayload)
	}

	if payload[0] == '[' {
		return nil, h.handleBatch(ctx, payload)
	}

	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("%w: %w", session.ErrInvalidPayload, err)
	}
	if req.JSONRPC != "2.0" {
		return nil, fmt.Errorf("%w: invalid JSON-RPC version %q", session.ErrInvalidPayload, req.JSONRPC)
	}

	resp := h.dispatch(ctx, &req)
	if resp == nil {
		return nil, nil
	}
	return nil, h.send(resp)
}

func (h *sessionHandler) handleBatch(ctx context.Context, payload []byte) error {
	var reqs []Request
	if err := json.Unmarshal(payload, &reqs); err != nil {
		return fmt.Errorf("%w: %w", session.ErrInvalidPayload, err)
	}
	if len(reqs) == 0 {
		return fmt.Errorf("%w: empty batch", session.ErrInvalidPayload)
	}

	responses := make([]*Response, 0, len(reqs))
	for i := range reqs {
		req := &reqs[i]
		if req.JSONRPC != "2.0" {
			responses = append(responses, NewError(req.ID, CodeInvalidRequest, "invalid JSON-RPC version"))
			continue
		}
		if resp := h.dispatch(ctx, req); resp != nil {
			responses = append(responses, resp)
		}
	}
	if len(responses) == 0 {
		return nil
	}
	return h.send(responses)
}

// dispatch returns nil for notifications.
func (h *sessionHandler) dispatch(ctx context.Context, req *Request) *Response {
	h.logger.Debug("mcp request", "method", req.Method, "is_notification", req.IsNotification())

	if req.IsNotification() {
		h.handleNotification(req)
		return nil
	}

	switch req.Method {
	case MethodInitialize:
		return h.handleInitialize(req)
	case MethodPing:
		return NewResult(req.ID, map[string]any{})
	case MethodToolsList:
		return h.handleToolsList(req)
	case MethodToolsCall:
		return h.handleToolsCall(ctx, req)
	default:
		return NewError(req.ID, CodeMethodNotFound, "method not found")
	}
}

func (h *sessionHandler) handleNotification(req *Request) {
	switch req.Method {
	case NotifyInitialized:
		h.logger.Debug("client initialized")
	case NotifyCancelled:
		h.logger.Debug("client cancelled request", "params", string(req.Params))
	default:
		h.logger.Debug("ignoring notification", "method", req.Method)
	}
}

func (h *sessionHandler) handleInitialize(req *Request) *Response {
	var params InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewError(req.ID, CodeInvalidParams, "invalid params")
		}
	}

	version := NegotiateVersion(params.ProtocolVersion)

	h.mu.Lock()
	h.initialized = true
	h.protocolVersion = version
	h.mu.Unlock()

	h.logger.Info("mcp session initialized",
		"protocol_version", version,
		"requested_version", params.ProtocolVersion,
		"client_name", params.ClientInfo.Name,
		"client_version", params.ClientInfo.Version,
	)

	return NewResult(req.ID, InitializeResult{
		ProtocolVersion: version,
		Capabilities: ServerCapabilities{
			Tools: &ToolsCapability{ListChanged: true},
		},
		ServerInfo: h.server.info,
	})
}

func (h *sessionHandler) handleToolsList(req *Request) *Response {
	list := h.server.tools.List()
	for i := range list {
		if len(list[i].InputSchema) == 0 {
			list[i].InputSchema = defaultInputSchema
		}
	}

	h.logger.Debug("tools/list", "count", len(list))
	return NewResult(req.ID, ListToolsResult{Tools: list})
}

func (h *sessionHandler) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewError(req.ID, CodeInvalidParams, "invalid params")
		}
	}
	if params.Name == "" {
		return NewError(req.ID, CodeInvalidParams, "tool name is required")
	}

	h.logger.Debug("tools/call", "tool_name", params.Name)

	result, err := h.server.tools.Call(ctx, params.Name, params.Arguments)
	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		return NewError(req.ID, CodeInvalidParams, "tool not found: "+params.Name)
	case errors.Is(err, tools.ErrInvalidArguments):
		return NewError(req.ID, CodeInvalidParams, err.Error())
	case err != nil:
		return NewResult(req.ID, tools.TextResult(err.Error(), true))
	case result == nil:
		return NewResult(req.ID, &tools.Result{Content: []tools.Content{}})
	}
	return NewResult(req.ID, result)
}

func (h *sessionHandler) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	if err := h.sess.Stream().WriteEvent("message", string(data)); err != nil {
		return fmt.Errorf("writing response to stream: %w", err)
	}
	return nil
}

func (h *sessionHandler) isInitialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.initialized
}

// ProtocolVersion returns the negotiated version, or "" before initialize.
func (h *sessionHandler) ProtocolVersion() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.protocolVersion
}

// queueToolsChanged schedules a tools list_changed notification. At most one
// writer goroutine runs per session.
func (h *sessionHandler) queueToolsChanged() {
	h.mu.Lock()
	h.toolsDirty = true
	if h.toolsNotifying {
		h.mu.Unlock()
		return
	}
	h.toolsNotifying = true
	h.mu.Unlock()

	go h.flushToolsChanged()
}

func (h *sessionHandler) flushToolsChanged() {
	note := Request{JSONRPC: "2.0", Method: NotifyToolsListChanged}
	for {
		h.mu.Lock()
		if !h.toolsDirty {
			h.toolsNotifying = false
			h.mu.Unlock()
			return
		}
		h.toolsDirty = false
		h.mu.Unlock()

		if err := h.send(note); err != nil {
			h.logger.Debug("failed to send tools list_changed", "error", err)
		}
	}
}

// Close detaches the handler from the server.
func (h *sessionHandler) Close() {
	h.server.release(h)
}
