// ABOUTME: Shared fixtures for gateway tests: config, logger and a fake stdio worker
// ABOUTME: The worker is the test binary re-executed with an environment switch

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/2389/mcphub/internal/config"
	"github.com/2389/mcphub/internal/mcp"
	"github.com/2389/mcphub/internal/settings"
)

const workerEnv = "MCPHUB_GATEWAY_WORKER"

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig creates a config with every path inside a temp dir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.StaticDir = filepath.Join(dir, "dist")
	cfg.Settings.Path = filepath.Join(dir, "mcp_settings.json")
	watch := false
	cfg.Settings.Watch = &watch
	return cfg
}

func newTestGateway(t *testing.T, cfg *config.Config) *Gateway {
	t.Helper()

	gw, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw
}

// workerDefinition runs TestWorkerProcess as an upstream server.
func workerDefinition() settings.ServerDefinition {
	return settings.ServerDefinition{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestWorkerProcess", "--"},
		Env:     map[string]string{workerEnv: "1"},
	}
}

// TestWorkerProcess is not a real test. It is a minimal MCP worker with a
// single echo tool.
func TestWorkerProcess(t *testing.T) {
	if os.Getenv(workerEnv) != "1" {
		return
	}

	out := json.NewEncoder(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var msg mcp.Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil || msg.Method == "" || len(msg.ID) == 0 {
			continue
		}

		switch msg.Method {
		case mcp.MethodInitialize:
			_ = out.Encode(mcp.NewResult(msg.ID, mcp.InitializeResult{
				ProtocolVersion: mcp.LatestProtocolVersion,
				Capabilities:    mcp.ServerCapabilities{Tools: &mcp.ToolsCapability{}},
				ServerInfo:      mcp.Implementation{Name: "echo-worker", Version: "0.1.0"},
			}))
		case mcp.MethodToolsList:
			_ = out.Encode(mcp.NewResult(msg.ID, map[string]any{
				"tools": []map[string]any{{
					"name":        "echo",
					"description": "Echo text back",
					"inputSchema": json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
				}},
			}))
		case mcp.MethodToolsCall:
			var params mcp.CallToolParams
			_ = json.Unmarshal(msg.Params, &params)
			var args struct {
				Text string `json:"text"`
			}
			_ = json.Unmarshal(params.Arguments, &args)
			_ = out.Encode(mcp.NewResult(msg.ID, map[string]any{
				"content": []map[string]string{{"type": "text", "text": args.Text}},
			}))
		default:
			_ = out.Encode(mcp.NewError(msg.ID, mcp.CodeMethodNotFound, "method not found"))
		}
	}
	os.Exit(0)
}
