// Package mcp provides the tool-server abstraction, the registry that
// binds tool names to servers, and prompt/selection helpers for exposing
// tools to models.
package mcp

import (
	"context"
	"encoding/json"
)

// Server is the uniform call surface over one tool provider. Concrete
// implementations wrap remote HTTP or MQTT APIs; the core depends only
// on this interface.
type Server interface {
	// ID returns the stable server identifier used in bindings.
	ID() string

	// ListTools returns the tools the server exposes.
	ListTools(ctx context.Context) ([]ToolInfo, error)

	// ExecuteTool runs one tool call and returns its result payload.
	ExecuteTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error)

	// FetchResource reads a resource by URI.
	FetchResource(ctx context.Context, uri string) (json.RawMessage, error)
}

// PromptRenderer is implemented by servers that expose prompt templates.
type PromptRenderer interface {
	RenderPrompt(ctx context.Context, name string, vars map[string]string) (string, error)
}

// ToolInfo describes one tool as reported by a server.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
}
