// Package models contains wire types shared across the atelier core.
package models

import "encoding/json"

// ToolCall represents a tool execution request emitted by a model.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the outcome of exactly one tool execution.
// It is never mutated after the executing server returns it.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// Content renders the result as a string observation for the agent loop.
func (r *ToolResult) Content() string {
	if r == nil {
		return ""
	}
	if r.Error != "" {
		return r.Error
	}
	if len(r.Data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Data, &s); err == nil {
		return s
	}
	return string(r.Data)
}

// ToolDefinition describes a tool in OpenAI function-calling form plus
// the selection metadata the registry needs.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`

	// Keywords trigger keyword-based selection.
	Keywords []string `json:"keywords,omitempty"`

	// Paid marks tools that require allow_paid.
	Paid bool `json:"paid,omitempty"`

	// RequiresConfirmation marks tools gated behind the safety gate.
	RequiresConfirmation bool `json:"requires_confirmation,omitempty"`

	// Server and Tool identify the MCP binding resolved at registry build time.
	Server string `json:"server"`
	Tool   string `json:"tool"`
}

// FunctionSchema is the provider-facing function-calling envelope.
type FunctionSchema struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// FunctionSpec carries the schema body of a FunctionSchema.
type FunctionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Schema returns the function-calling envelope for the definition.
func (d ToolDefinition) Schema() FunctionSchema {
	params := d.Parameters
	if len(params) == 0 {
		params = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return FunctionSchema{
		Type: "function",
		Function: FunctionSpec{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  params,
		},
	}
}
