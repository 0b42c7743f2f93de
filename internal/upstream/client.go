// ABOUTME: Stdio MCP client that spawns one worker process and exchanges JSON-RPC with it.
// ABOUTME: Correlates responses to calls through a pending map keyed by request id.

package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/mcphub/internal/mcp"
	"github.com/2389/mcphub/internal/settings"
	"github.com/2389/mcphub/internal/tools"
)

// ErrClientClosed is returned for calls on a closed client, and for calls
// still pending when the client closes.
var ErrClientClosed = errors.New("upstream client closed")

// ErrUnsupportedTransport is returned for definitions the client cannot run.
var ErrUnsupportedTransport = errors.New("unsupported transport")

// maxLineSize bounds one JSON-RPC message from a worker.
const maxLineSize = 16 << 20

// exitGrace is how long Close waits for the process after killing it.
const exitGrace = 2 * time.Second

// ClientOptions configures a Client.
type ClientOptions struct {
	// Info identifies the hub to the worker during initialize.
	Info   mcp.Implementation
	Logger *slog.Logger
	// OnToolsChanged runs when the worker sends tools/list_changed.
	OnToolsChanged func()
}

// Client is a connection to one worker process.
type Client struct {
	name   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *slog.Logger

	onToolsChanged func()

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu      sync.Mutex
	pending map[string]chan *mcp.Message
	closed  bool

	done      chan struct{}
	closeOnce sync.Once

	serverInfo      mcp.Implementation
	protocolVersion string
}

// Start spawns the worker for def and performs the initialize handshake.
// ctx bounds the handshake only; the process lives until Close.
func Start(ctx context.Context, def settings.ServerDefinition, opts ClientOptions) (*Client, error) {
	if def.Transport() != settings.TransportStdio {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTransport, def.Transport())
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("server", def.Name)

	cmd := exec.Command(def.Command, def.Args...)
	cmd.Env = os.Environ()
	for k, v := range def.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = &stderrLogger{logger: logger}
	cmd.WaitDelay = exitGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", def.Command, err)
	}

	c := &Client{
		name:           def.Name,
		cmd:            cmd,
		stdin:          stdin,
		logger:         logger,
		onToolsChanged: opts.OnToolsChanged,
		pending:        make(map[string]chan *mcp.Message),
		done:           make(chan struct{}),
	}
	go c.readLoop(stdout)

	logger.Info("upstream process started", "command", def.Command, "pid", cmd.Process.Pid)

	if err := c.initialize(ctx, opts.Info); err != nil {
		c.Close()
		return nil, fmt.Errorf("initializing %s: %w", def.Name, err)
	}
	return c, nil
}

// Name returns the server name.
func (c *Client) Name() string {
	return c.name
}

// ServerInfo returns what the worker reported during initialize.
func (c *Client) ServerInfo() mcp.Implementation {
	return c.serverInfo
}

// ProtocolVersion returns the version the worker agreed to.
func (c *Client) ProtocolVersion() string {
	return c.protocolVersion
}

// Done is closed when the client stops, either by Close or because the
// worker exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) initialize(ctx context.Context, info mcp.Implementation) error {
	params := mcp.InitializeParams{
		ProtocolVersion: mcp.LatestProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      info,
	}
	var result mcp.InitializeResult
	if err := c.call(ctx, mcp.MethodInitialize, params, &result); err != nil {
		return err
	}
	c.serverInfo = result.ServerInfo
	c.protocolVersion = result.ProtocolVersion

	if err := c.notify(mcp.NotifyInitialized, nil); err != nil {
		return err
	}
	c.logger.Info("upstream initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)
	return nil
}

// ListTools fetches the worker's tools, following pagination cursors.
func (c *Client) ListTools(ctx context.Context) ([]tools.Tool, error) {
	var all []tools.Tool
	cursor := ""
	for {
		var params any
		if cursor != "" {
			params = map[string]string{"cursor": cursor}
		}
		var result mcp.ListToolsResult
		if err := c.call(ctx, mcp.MethodToolsList, params, &result); err != nil {
			return nil, err
		}
		all = append(all, result.Tools...)
		if result.NextCursor == "" {
			return all, nil
		}
		cursor = result.NextCursor
	}
}

// CallTool implements tools.Invoker.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (*tools.Result, error) {
	var result tools.Result
	if err := c.call(ctx, mcp.MethodToolsCall, mcp.CallToolParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Ping checks the worker is responsive.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, mcp.MethodPing, nil, nil)
}

// call sends a request and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	id := strconv.FormatInt(c.nextID.Add(1), 10)
	ch, err := c.createRequest(id)
	if err != nil {
		return err
	}
	defer c.closeRequest(id)

	req := mcp.Request{JSONRPC: "2.0", ID: json.RawMessage(id), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encoding %s params: %w", method, err)
		}
		req.Params = raw
	}
	if err := c.writeMessage(req); err != nil {
		return err
	}

	select {
	case msg, ok := <-ch:
		if !ok {
			return ErrClientClosed
		}
		if msg.Error != nil {
			return fmt.Errorf("%s: %w", method, msg.Error)
		}
		if out == nil || len(msg.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(msg.Result, out); err != nil {
			return fmt.Errorf("decoding %s result: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) notify(method string, params any) error {
	req := mcp.Request{JSONRPC: "2.0", Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encoding %s params: %w", method, err)
		}
		req.Params = raw
	}
	return c.writeMessage(req)
}

func (c *Client) writeMessage(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("%w: writing to worker: %w", ErrClientClosed, err)
	}
	return nil
}

// createRequest registers a pending request and returns its response channel.
func (c *Client) createRequest(id string) (<-chan *mcp.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	ch := make(chan *mcp.Message, 1)
	c.pending[id] = ch
	return ch, nil
}

// closeRequest removes the pending entry for id.
func (c *Client) closeRequest(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// handleResponse routes a response to its pending request. Unknown ids are
// logged and discarded.
func (c *Client) handleResponse(msg *mcp.Message) {
	id := string(bytes.Trim(msg.ID, `"`))

	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("received response for unknown request", "request_id", id)
		return
	}
	ch <- msg
}

func (c *Client) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg mcp.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			c.logger.Warn("ignoring malformed line from worker", "error", err)
			continue
		}
		switch {
		case msg.IsResponse():
			c.handleResponse(&msg)
		case msg.Method != "" && len(msg.ID) > 0:
			c.handleServerRequest(&msg)
		case msg.Method != "":
			c.handleNotification(&msg)
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("reading from worker failed", "error", err)
	}

	// The worker may still be running with nobody reading its output.
	c.stop()
	err := c.cmd.Wait()
	c.logger.Info("upstream process exited", "error", err)
	close(c.done)
}

// handleServerRequest answers requests the worker sends to the hub.
func (c *Client) handleServerRequest(msg *mcp.Message) {
	var resp *mcp.Response
	if msg.Method == mcp.MethodPing {
		resp = mcp.NewResult(msg.ID, map[string]any{})
	} else {
		resp = mcp.NewError(msg.ID, mcp.CodeMethodNotFound, "method not found")
	}
	if err := c.writeMessage(resp); err != nil {
		c.logger.Debug("failed to answer worker request", "method", msg.Method, "error", err)
	}
}

func (c *Client) handleNotification(msg *mcp.Message) {
	switch msg.Method {
	case mcp.NotifyToolsListChanged:
		c.logger.Info("upstream tools changed")
		if c.onToolsChanged != nil {
			go c.onToolsChanged()
		}
	default:
		c.logger.Debug("ignoring worker notification", "method", msg.Method)
	}
}

// shutdown marks the client closed and fails every pending call.
func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// stop fails pending calls and kills the worker. Only the first call has an
// effect.
func (c *Client) stop() {
	c.closeOnce.Do(func() {
		c.shutdown()
		_ = c.stdin.Close()
		if c.cmd.Process != nil {
			_ = c.cmd.Process.Kill()
		}
	})
}

// Close stops the worker and fails pending calls with ErrClientClosed. It
// waits for the process to exit.
func (c *Client) Close() error {
	c.stop()

	select {
	case <-c.done:
	case <-time.After(exitGrace * 2):
		return fmt.Errorf("upstream %s did not exit", c.name)
	}
	return nil
}

// stderrLogger forwards worker stderr lines to the debug log.
type stderrLogger struct {
	logger *slog.Logger
	mu     sync.Mutex
	buf    []byte
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(w.buf[:i]); len(line) > 0 {
			w.logger.Debug("upstream stderr", "line", string(line))
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}
