// ABOUTME: Manager that reconciles running upstream clients with stored server definitions.
// ABOUTME: Starts new servers concurrently, stops removed ones and keeps the tool registry in step.

package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/mcphub/internal/mcp"
	"github.com/2389/mcphub/internal/settings"
	"github.com/2389/mcphub/internal/tools"
)

// ErrManagerClosed is returned by Sync after Close.
var ErrManagerClosed = errors.New("upstream manager closed")

// Defaults for ManagerConfig.
const (
	DefaultStartTimeout = 30 * time.Second
	DefaultMaxParallel  = 4
)

// Server states reported by Status.
const (
	StateConnected   = "connected"
	StateError       = "error"
	StateExited      = "exited"
	StateUnsupported = "unsupported"
)

// ToolRegistry receives the tools of each running server.
type ToolRegistry interface {
	RegisterServer(name string, list []tools.Tool, invoker tools.Invoker) error
	UnregisterServer(name string) bool
}

// ManagerConfig holds configuration for the manager.
type ManagerConfig struct {
	Tools        ToolRegistry
	Info         mcp.Implementation
	StartTimeout time.Duration
	MaxParallel  int
	Logger       *slog.Logger
}

// ServerStatus describes one configured server.
type ServerStatus struct {
	Name       string             `json:"name"`
	Transport  string             `json:"transport"`
	State      string             `json:"status"`
	Tools      []string           `json:"tools"`
	Error      string             `json:"error,omitempty"`
	ServerInfo mcp.Implementation `json:"serverInfo"`
}

type managed struct {
	def    settings.ServerDefinition
	client *Client
	status ServerStatus
}

// Manager owns the upstream clients.
type Manager struct {
	tools        ToolRegistry
	info         mcp.Implementation
	startTimeout time.Duration
	maxParallel  int
	logger       *slog.Logger

	syncMu sync.Mutex

	mu      sync.Mutex
	servers map[string]*managed
	closed  bool
}

// NewManager creates a manager with no running servers.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Tools == nil {
		return nil, errors.New("tool registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.StartTimeout
	if timeout <= 0 {
		timeout = DefaultStartTimeout
	}
	parallel := cfg.MaxParallel
	if parallel <= 0 {
		parallel = DefaultMaxParallel
	}
	return &Manager{
		tools:        cfg.Tools,
		info:         cfg.Info,
		startTimeout: timeout,
		maxParallel:  parallel,
		logger:       logger,
		servers:      make(map[string]*managed),
	}, nil
}

// Sync makes the running set match defs. Servers that are new, changed or
// not running are (re)started concurrently; servers missing from defs are
// stopped. A server that fails to start does not prevent the others; the
// first failure is returned after every start has finished.
func (m *Manager) Sync(ctx context.Context, defs []settings.ServerDefinition) error {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	desired := make(map[string]settings.ServerDefinition, len(defs))
	for _, def := range defs {
		desired[def.Name] = def
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	var stale []string
	for name, srv := range m.servers {
		def, keep := desired[name]
		if !keep || !def.Equal(srv.def) || srv.client == nil {
			stale = append(stale, name)
		}
	}
	m.mu.Unlock()

	for _, name := range stale {
		m.stop(name)
	}

	m.mu.Lock()
	var toStart []settings.ServerDefinition
	for _, def := range defs {
		if _, running := m.servers[def.Name]; !running {
			toStart = append(toStart, def)
		}
	}
	m.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(m.maxParallel)
	for _, def := range toStart {
		g.Go(func() error {
			return m.start(ctx, def)
		})
	}
	err := g.Wait()

	m.logger.Info("upstream servers synced",
		"configured", len(defs),
		"started", len(toStart),
		"stopped", len(stale),
	)
	return err
}

func (m *Manager) start(ctx context.Context, def settings.ServerDefinition) error {
	logger := m.logger.With("server", def.Name)
	status := ServerStatus{Name: def.Name, Transport: def.Transport(), Tools: []string{}}

	if def.Transport() != settings.TransportStdio {
		logger.Warn("remote upstream servers are not supported, skipping", "url", def.URL)
		status.State = StateUnsupported
		status.Error = "remote transports are not supported"
		m.record(def, nil, status)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.startTimeout)
	defer cancel()

	client, err := Start(ctx, def, ClientOptions{
		Info:           m.info,
		Logger:         m.logger,
		OnToolsChanged: func() { m.refresh(def.Name) },
	})
	if err != nil {
		return m.fail(def, status, fmt.Errorf("starting upstream %s: %w", def.Name, err))
	}

	list, err := client.ListTools(ctx)
	if err != nil {
		client.Close()
		return m.fail(def, status, fmt.Errorf("listing tools of %s: %w", def.Name, err))
	}
	if err := m.tools.RegisterServer(def.Name, list, client); err != nil {
		client.Close()
		return m.fail(def, status, fmt.Errorf("registering tools of %s: %w", def.Name, err))
	}

	status.State = StateConnected
	status.Tools = toolNames(list)
	status.ServerInfo = client.ServerInfo()
	if !m.record(def, client, status) {
		m.tools.UnregisterServer(def.Name)
		client.Close()
		return ErrManagerClosed
	}

	logger.Info("upstream server connected", "tool_count", len(list))
	go m.watch(def.Name, client)
	return nil
}

func (m *Manager) fail(def settings.ServerDefinition, status ServerStatus, err error) error {
	m.logger.Error("upstream server failed", "server", def.Name, "error", err)
	status.State = StateError
	status.Error = err.Error()
	m.record(def, nil, status)
	return err
}

// record stores the outcome of a start. Reports false if the manager closed
// in the meantime.
func (m *Manager) record(def settings.ServerDefinition, client *Client, status ServerStatus) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.servers[def.Name] = &managed{def: def.Clone(), client: client, status: status}
	return true
}

// watch unregisters a server's tools when its process exits on its own.
func (m *Manager) watch(name string, client *Client) {
	<-client.Done()

	m.mu.Lock()
	srv, ok := m.servers[name]
	current := ok && srv.client == client
	if current {
		srv.client = nil
		srv.status.State = StateExited
		srv.status.Error = "process exited"
		srv.status.Tools = []string{}
	}
	m.mu.Unlock()

	if current {
		m.tools.UnregisterServer(name)
		m.logger.Warn("upstream server exited", "server", name)
	}
}

// refresh re-lists a server's tools after it reports a change.
func (m *Manager) refresh(name string) {
	m.mu.Lock()
	srv, ok := m.servers[name]
	var client *Client
	if ok {
		client = srv.client
	}
	m.mu.Unlock()
	if client == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.startTimeout)
	defer cancel()

	list, err := client.ListTools(ctx)
	if err != nil {
		m.logger.Warn("failed to refresh upstream tools", "server", name, "error", err)
		return
	}
	m.tools.UnregisterServer(name)
	if err := m.tools.RegisterServer(name, list, client); err != nil {
		m.logger.Error("failed to re-register upstream tools", "server", name, "error", err)
		return
	}

	m.mu.Lock()
	if srv, ok := m.servers[name]; ok && srv.client == client {
		srv.status.Tools = toolNames(list)
	}
	m.mu.Unlock()
}

func (m *Manager) stop(name string) {
	m.mu.Lock()
	srv, ok := m.servers[name]
	delete(m.servers, name)
	m.mu.Unlock()
	if !ok {
		return
	}

	if srv.client == nil {
		return
	}
	m.tools.UnregisterServer(name)
	if err := srv.client.Close(); err != nil {
		m.logger.Warn("error stopping upstream server", "server", name, "error", err)
	}
	m.logger.Info("upstream server stopped", "server", name)
}

// Status returns the state of every configured server sorted by name.
func (m *Manager) Status() []ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ServerStatus, 0, len(m.servers))
	for _, srv := range m.servers {
		st := srv.status
		st.Tools = append([]string(nil), srv.status.Tools...)
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close stops every server. Later Syncs fail with ErrManagerClosed.
func (m *Manager) Close() error {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	servers := m.servers
	m.servers = make(map[string]*managed)
	m.mu.Unlock()

	var errs []error
	for name, srv := range servers {
		if srv.client == nil {
			continue
		}
		m.tools.UnregisterServer(name)
		if err := srv.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing upstream %s: %w", name, err))
		}
	}
	m.logger.Info("upstream manager closed", "servers", len(servers))
	return errors.Join(errs...)
}

func toolNames(list []tools.Tool) []string {
	names := make([]string, 0, len(list))
	for _, t := range list {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}
