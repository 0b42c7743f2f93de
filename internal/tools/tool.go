// ABOUTME: Tool definitions, call results and the Invoker contract for upstream servers.
// ABOUTME: Results use the MCP content-block shape so they pass through unchanged.

package tools

import (
	"context"
	"encoding/json"
)

// Tool describes one callable tool.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`

	// Server is the name of the upstream server that owns the tool.
	Server string `json:"-"`
}

// Content is one content block of a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Result is the outcome of a tool call.
type Result struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// TextResult builds a single-block text result.
func TextResult(text string, isError bool) *Result {
	return &Result{
		Content: []Content{{Type: "text", Text: text}},
		IsError: isError,
	}
}

// Invoker executes tool calls for one upstream server.
type Invoker interface {
	CallTool(ctx context.Context, name string, args json.RawMessage) (*Result, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, name string, args json.RawMessage) (*Result, error)

// CallTool calls f.
func (f InvokerFunc) CallTool(ctx context.Context, name string, args json.RawMessage) (*Result, error) {
	return f(ctx, name, args)
}
