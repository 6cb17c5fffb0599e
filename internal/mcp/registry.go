package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/atelierhq/atelier/pkg/models"
)

// binding resolves one tool name to the server that executes it.
type binding struct {
	server Server
	tool   string
	def    models.ToolDefinition
}

// Registry binds tool names to servers and dispatches tool calls.
// Tool names are unique across the registry; a later registration with
// the same name replaces the earlier one.
type Registry struct {
	mu       sync.RWMutex
	servers  map[string]Server
	bindings map[string]binding
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		servers:  make(map[string]Server),
		bindings: make(map[string]binding),
		logger:   logger.With("component", "mcp_registry"),
	}
}

// AddServer registers a server so definitions can bind to it.
func (r *Registry) AddServer(s Server) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[s.ID()] = s
}

// Server returns a registered server by id.
func (r *Registry) Server(id string) (Server, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servers[id]
	return s, ok
}

// Register binds a tool definition. The definition's Server field must
// name a server already added to the registry.
func (r *Registry) Register(def models.ToolDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	server, ok := r.servers[def.Server]
	if !ok {
		return fmt.Errorf("register %s: unknown server %q", def.Name, def.Server)
	}
	tool := def.Tool
	if tool == "" {
		tool = def.Name
	}
	r.bindings[def.Name] = binding{server: server, tool: tool, def: def}
	return nil
}

// RegisterAll binds a batch of definitions, stopping at the first error.
func (r *Registry) RegisterAll(defs []models.ToolDefinition) error {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// Discover asks a registered server for its tool list and binds every
// reported tool, merging server-side schemas with any catalog metadata
// already registered under the same name.
func (r *Registry) Discover(ctx context.Context, serverID string) (int, error) {
	r.mu.RLock()
	server, ok := r.servers[serverID]
	r.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("discover: unknown server %q", serverID)
	}

	tools, err := server.ListTools(ctx)
	if err != nil {
		return 0, fmt.Errorf("discover %s: %w", serverID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, info := range tools {
		def := models.ToolDefinition{
			Name:        info.Name,
			Description: info.Description,
			Parameters:  info.InputSchema,
			Server:      serverID,
			Tool:        info.Name,
		}
		if prior, ok := r.bindings[info.Name]; ok {
			def.Keywords = prior.def.Keywords
			def.Paid = prior.def.Paid
			def.RequiresConfirmation = prior.def.RequiresConfirmation
			if def.Description == "" {
				def.Description = prior.def.Description
			}
		}
		r.bindings[info.Name] = binding{server: server, tool: info.Name, def: def}
	}
	return len(tools), nil
}

// Definitions returns all bound tool definitions sorted by name.
func (r *Registry) Definitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]models.ToolDefinition, 0, len(r.bindings))
	for _, b := range r.bindings {
		defs = append(defs, b.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Definition returns the definition bound to a tool name.
func (r *Registry) Definition(name string) (models.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[name]
	return b.def, ok
}

// Dispatch executes one tool call against its bound server. An unknown
// tool name produces a failed result, not an error: the agent loop
// feeds the failure back to the model as an observation.
func (r *Registry) Dispatch(ctx context.Context, call models.ToolCall) *models.ToolResult {
	r.mu.RLock()
	b, ok := r.bindings[call.Name]
	r.mu.RUnlock()
	if !ok {
		return &models.ToolResult{
			ToolCallID: call.ID,
			Success:    false,
			Error:      fmt.Sprintf("Unknown tool: %s", call.Name),
		}
	}

	data, err := b.server.ExecuteTool(ctx, b.tool, call.Input)
	if err != nil {
		r.logger.Warn("tool execution failed", "tool", call.Name, "server", b.server.ID(), "error", err)
		return &models.ToolResult{
			ToolCallID: call.ID,
			Success:    false,
			Error:      err.Error(),
		}
	}
	return &models.ToolResult{
		ToolCallID: call.ID,
		Success:    true,
		Data:       json.RawMessage(data),
	}
}
