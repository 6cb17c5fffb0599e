package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/atelierhq/atelier/pkg/models"
)

// PromptInput carries everything the system prompt mentions beyond the
// tool list.
type PromptInput struct {
	Mode              SelectionMode
	FreshnessRequired bool
	VisionTargets     []string
}

const roleInstruction = `You are Atelier, a workshop assistant with access to external tools.
When a tool would help, respond with a tool call. Otherwise answer directly and concisely.
Only call tools from the list below; never invent tool names.`

// BuildSystemPrompt assembles the system prompt: role instruction, tool
// schemas, selection mode, freshness flag, and vision targets.
func BuildSystemPrompt(tools []models.ToolDefinition, input PromptInput) string {
	var b strings.Builder
	b.WriteString(roleInstruction)

	if len(tools) > 0 {
		b.WriteString("\n\nAvailable tools:\n")
		for _, def := range tools {
			encoded, err := json.Marshal(def.Schema())
			if err != nil {
				continue
			}
			b.Write(encoded)
			b.WriteByte('\n')
		}
	}

	fmt.Fprintf(&b, "\nTool mode: %s", input.Mode)
	if input.FreshnessRequired {
		b.WriteString("\nThe user needs current, up-to-date information; prefer tools that fetch live data.")
	}
	if len(input.VisionTargets) > 0 {
		fmt.Fprintf(&b, "\nVision targets: %s", strings.Join(input.VisionTargets, ", "))
	}
	return b.String()
}
