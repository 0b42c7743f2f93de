// ABOUTME: Thread-safe registry of upstream servers and their tools.
// ABOUTME: Detects name collisions, validates arguments and dispatches calls with a timeout.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// DefaultCallTimeout bounds a tool call when no timeout is configured.
const DefaultCallTimeout = 30 * time.Second

var (
	// ErrServerRegistered indicates a server with the same name is already registered.
	ErrServerRegistered = errors.New("server already registered")

	// ErrToolCollision indicates a tool name already exists on another server.
	ErrToolCollision = errors.New("tool name collision")

	// ErrToolNotFound indicates no registered server exposes the tool.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidSchema indicates a tool's input schema could not be compiled.
	ErrInvalidSchema = errors.New("invalid input schema")

	// ErrInvalidArguments indicates call arguments do not match the input schema.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// CallObserver is told about every dispatched call.
type CallObserver interface {
	ToolCalled(tool string, err error, elapsed time.Duration)
}

// Config holds registry settings.
type Config struct {
	CallTimeout time.Duration
	Observer    CallObserver
	Logger      *slog.Logger
}

type entry struct {
	tool   Tool
	schema *gojsonschema.Schema
}

type server struct {
	name    string
	invoker Invoker
	tools   []string
}

// Registry maps tool names to the servers that own them.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*server
	tools   map[string]*entry

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int

	timeout  time.Duration
	observer CallObserver
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		servers:  make(map[string]*server),
		tools:    make(map[string]*entry),
		subs:     make(map[int]func()),
		timeout:  timeout,
		observer: cfg.Observer,
		logger:   logger,
	}
}

// RegisterServer adds a server's tools. Nothing is registered if any tool
// collides with another server's tool or carries an invalid schema.
func (r *Registry) RegisterServer(name string, tools []Tool, invoker Invoker) error {
	if invoker == nil {
		return errors.New("invoker is required")
	}

	entries := make(map[string]*entry, len(tools))
	for _, t := range tools {
		if t.Name == "" {
			return fmt.Errorf("%w: server '%s' exposes a tool without a name", ErrInvalidSchema, name)
		}
		if _, dup := entries[t.Name]; dup {
			return fmt.Errorf("%w: tool '%s' listed twice by server '%s'", ErrToolCollision, t.Name, name)
		}
		schema, err := compileSchema(t.InputSchema)
		if err != nil {
			return fmt.Errorf("%w: tool '%s': %w", ErrInvalidSchema, t.Name, err)
		}
		t.Server = name
		entries[t.Name] = &entry{tool: t, schema: schema}
	}

	r.mu.Lock()
	if _, exists := r.servers[name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrServerRegistered, name)
	}
	for toolName := range entries {
		if existing, exists := r.tools[toolName]; exists {
			r.mu.Unlock()
			return fmt.Errorf("%w: tool '%s' already registered by server '%s'",
				ErrToolCollision, toolName, existing.tool.Server)
		}
	}

	srv := &server{name: name, invoker: invoker, tools: make([]string, 0, len(entries))}
	for toolName, e := range entries {
		r.tools[toolName] = e
		srv.tools = append(srv.tools, toolName)
	}
	r.servers[name] = srv
	total := len(r.tools)
	r.mu.Unlock()

	r.logger.Info("server tools registered",
		"server", name,
		"tool_count", len(entries),
		"total_tools", total,
	)
	r.notify()
	return nil
}

// UnregisterServer removes a server and all of its tools. Reports whether
// the server was registered.
func (r *Registry) UnregisterServer(name string) bool {
	r.mu.Lock()
	srv, exists := r.servers[name]
	if !exists {
		r.mu.Unlock()
		return false
	}
	for _, toolName := range srv.tools {
		delete(r.tools, toolName)
	}
	delete(r.servers, name)
	total := len(r.tools)
	r.mu.Unlock()

	r.logger.Info("server tools unregistered", "server", name, "total_tools", total)
	r.notify()
	return true
}

// Servers returns the names of registered servers, sorted.
func (r *Registry) Servers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns every registered tool sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Tool, 0, len(r.tools))
	for _, e := range r.tools {
		list = append(list, e.tool)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return Tool{}, false
	}
	return e.tool, true
}

// Subscribe registers fn to run after every change to the tool set. The
// returned function cancels the subscription.
func (r *Registry) Subscribe(fn func()) func() {
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
	}
}

func (r *Registry) notify() {
	r.subMu.Lock()
	fns := make([]func(), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Call validates args against the tool's schema and dispatches the call to
// the owning server, bounded by the registry's call timeout.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (*Result, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	var invoker Invoker
	if ok {
		invoker = r.servers[e.tool.Server].invoker
	}
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}
	if err := validateArgs(e.schema, args); err != nil {
		return nil, fmt.Errorf("tool '%s': %w", name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	result, err := invoker.CallTool(ctx, name, args)
	elapsed := time.Since(start)
	if r.observer != nil {
		r.observer.ToolCalled(name, err, elapsed)
	}
	if err != nil {
		r.logger.Warn("tool call failed", "tool", name, "server", e.tool.Server, "error", err, "duration", elapsed)
		return nil, fmt.Errorf("calling tool '%s' on server '%s': %w", name, e.tool.Server, err)
	}
	r.logger.Debug("tool call completed", "tool", name, "server", e.tool.Server, "duration", elapsed)
	return result, nil
}

// compileSchema returns nil for an empty schema, which accepts anything.
func compileSchema(raw json.RawMessage) (*gojsonschema.Schema, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
}

func validateArgs(schema *gojsonschema.Schema, args json.RawMessage) error {
	if !json.Valid(args) {
		return fmt.Errorf("%w: arguments are not valid JSON", ErrInvalidArguments)
	}
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArguments, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidArguments, strings.Join(msgs, "; "))
}
