// ABOUTME: Gateway orchestrator that wires settings, upstreams, tools and the streaming transport
// ABOUTME: Manages the HTTP server, settings watch and ordered shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/2389/mcphub/internal/config"
	"github.com/2389/mcphub/internal/mcp"
	"github.com/2389/mcphub/internal/metrics"
	"github.com/2389/mcphub/internal/session"
	"github.com/2389/mcphub/internal/settings"
	"github.com/2389/mcphub/internal/sse"
	"github.com/2389/mcphub/internal/tools"
	"github.com/2389/mcphub/internal/upstream"
)

// Gateway orchestrates the mcphub server components.
type Gateway struct {
	config     *config.Config
	store      settings.Store
	tools      *tools.Registry
	upstream   *upstream.Manager
	mcpServer  *mcp.Server
	sessions   *session.Registry
	transport  *sse.Handler
	metrics    *metrics.Metrics
	httpServer *http.Server
	logger     *slog.Logger

	// ctx outlives single requests so syncs triggered by the API are not
	// cut short when the caller disconnects. Cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a gateway from cfg. Nothing is started until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	m := metrics.New()

	store, err := settings.Open(cfg.Settings.Backend, cfg.Settings.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("opening settings store: %w", err)
	}

	toolRegistry := tools.NewRegistry(tools.Config{
		CallTimeout: cfg.Tools.CallTimeout,
		Observer:    m,
		Logger:      logger.With("component", "tools"),
	})

	info := mcp.Implementation{Name: cfg.Hub.Name, Version: cfg.Hub.Version}
	manager, err := upstream.NewManager(upstream.ManagerConfig{
		Tools:        toolRegistry,
		Info:         info,
		StartTimeout: cfg.Tools.StartTimeout,
		Logger:       logger.With("component", "upstream"),
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating upstream manager: %w", err)
	}

	mcpServer, err := mcp.NewServer(mcp.Config{
		Tools:   toolRegistry,
		Name:    info.Name,
		Version: info.Version,
		Logger:  logger.With("component", "mcp"),
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	sessions := session.NewRegistry(logger.With("component", "session"), m)
	transport, err := sse.New(sse.Config{
		Registry: sessions,
		Binder:   mcpServer,
		Policy: session.HeartbeatPolicy{
			Default:       cfg.Streams.HeartbeatInterval,
			Compat:        cfg.Streams.CompatHeartbeatInterval,
			CompatClients: cfg.Streams.CompatClients,
		},
		MessagePath:    cfg.Server.MessagePath,
		MaxMessageSize: cfg.Server.MaxMessageBytes,
		Recorder:       m,
		Logger:         logger.With("component", "sse"),
	})
	if err != nil {
		mcpServer.Close()
		_ = store.Close()
		return nil, fmt.Errorf("creating transport: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	gw := &Gateway{
		config:    cfg,
		store:     store,
		tools:     toolRegistry,
		upstream:  manager,
		mcpServer: mcpServer,
		sessions:  sessions,
		transport: transport,
		metrics:   m,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	// Streams stay open indefinitely, so no write timeout.
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// routes builds the full handler tree.
func (g *Gateway) routes() http.Handler {
	api := httprouter.New()
	api.GET("/api/servers", g.handleListServers)
	api.GET("/api/settings", g.handleGetSettings)
	api.POST("/api/servers", g.handleCreateServer)
	api.PUT("/api/servers/:name", g.handleUpdateServer)
	api.DELETE("/api/servers/:name", g.handleDeleteServer)
	api.NotFound = newStaticHandler(g.config.Server.StaticDir)

	mux := http.NewServeMux()
	g.transport.RegisterRoutes(mux)
	if g.config.Metrics.Enabled {
		mux.Handle(g.config.Metrics.Path, g.metrics.Handler())
	}
	mux.Handle("/", api)

	return recoverPanics(g.logger, cors(mux))
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run listens on server.http_addr and serves until ctx is cancelled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	g.logger.Info("starting mcphub",
		"http_addr", ln.Addr().String(),
		"settings_backend", g.config.Settings.Backend,
		"settings_path", g.config.Settings.Path,
	)

	if err := g.syncUpstreams(g.ctx); err != nil {
		g.logger.Warn("some upstream servers failed to start", "error", err)
	}
	g.watchSettings()

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The caller's context is already cancelled at this point.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.shutdownTimeout())
	defer cancel()
	return g.Shutdown(ctx)
}

func (g *Gateway) shutdownTimeout() time.Duration {
	if g.config.Server.ShutdownTimeout > 0 {
		return g.config.Server.ShutdownTimeout
	}
	return config.DefaultShutdownTimeout
}

// syncUpstreams makes the running upstream servers match the store.
func (g *Gateway) syncUpstreams(ctx context.Context) error {
	defs, err := g.store.List(ctx)
	if err != nil {
		return fmt.Errorf("listing server definitions: %w", err)
	}
	return g.upstream.Sync(ctx, defs)
}

// watchSettings re-syncs upstreams whenever the settings are edited outside
// the hub. Only stores that implement settings.Watcher are watched.
func (g *Gateway) watchSettings() {
	if !g.config.Settings.WatchEnabled() {
		return
	}
	watcher, ok := g.store.(settings.Watcher)
	if !ok {
		return
	}

	go func() {
		err := watcher.Watch(g.ctx, func() {
			g.logger.Info("settings changed externally, syncing upstream servers")
			if err := g.syncUpstreams(g.ctx); err != nil {
				g.logger.Warn("upstream sync after settings change failed", "error", err)
			}
		})
		if err != nil {
			g.logger.Error("settings watch stopped", "error", err)
		}
	}()
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the gateway. Open sessions are drained and their streams
// released before the HTTP server stops, so in-flight streams do not hold
// shutdown open. Safe to call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down mcphub")
		g.cancel()

		drained := g.sessions.Drain()
		g.transport.Close()

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

		g.mcpServer.Close()
		errs = appendCloseError(errs, "upstream close", g.upstream.Close())
		errs = appendCloseError(errs, "store close", g.store.Close())

		g.logger.Info("mcphub stopped", "sessions_closed", len(drained))
		if len(errs) > 0 {
			g.shutdownErr = fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
		}
	})
	return g.shutdownErr
}
