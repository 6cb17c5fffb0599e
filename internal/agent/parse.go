package agent

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"github.com/atelierhq/atelier/pkg/models"
)

// RepairJSON fixes common model JSON damage: single quotes, trailing
// commas, unquoted keys, truncated tails.
func RepairJSON(s string) (string, error) {
	return jsonrepair.JSONRepair(s)
}

// inlineCall accepts the envelope shapes local models actually emit.
type inlineCall struct {
	Tool      string          `json:"tool"`
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args"`
	Arguments json.RawMessage `json:"arguments"`
}

func (c inlineCall) toToolCall() (models.ToolCall, bool) {
	name := c.Tool
	if name == "" {
		name = c.Name
	}
	if name == "" {
		return models.ToolCall{}, false
	}
	input := c.Args
	if len(input) == 0 {
		input = c.Arguments
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return models.ToolCall{ID: uuid.NewString(), Name: name, Input: input}, true
}

// ParseInlineToolCalls extracts tool calls a model wrote into its text
// body instead of the structured tool_calls field. It accepts a fenced
// code block or a bare JSON object/array, repairing malformed JSON
// before giving up.
func ParseInlineToolCalls(text string) []models.ToolCall {
	candidate := extractJSON(text)
	if candidate == "" {
		return nil
	}

	if calls := decodeCalls(candidate); len(calls) > 0 {
		return calls
	}
	repaired, err := RepairJSON(candidate)
	if err != nil {
		return nil
	}
	return decodeCalls(repaired)
}

func decodeCalls(s string) []models.ToolCall {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "[") {
		var batch []inlineCall
		if err := json.Unmarshal([]byte(trimmed), &batch); err != nil {
			return nil
		}
		var calls []models.ToolCall
		for _, c := range batch {
			if call, ok := c.toToolCall(); ok {
				calls = append(calls, call)
			}
		}
		return calls
	}

	var single inlineCall
	if err := json.Unmarshal([]byte(trimmed), &single); err != nil {
		return nil
	}
	if call, ok := single.toToolCall(); ok {
		return []models.ToolCall{call}
	}
	return nil
}

// extractJSON pulls the first JSON object or array out of model text:
// a ```json fence wins, otherwise the first balanced {...} or [...].
func extractJSON(text string) string {
	if start := strings.Index(text, "```json"); start >= 0 {
		rest := text[start+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	if start := strings.Index(text, "```"); start >= 0 {
		rest := text[start+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			inner := strings.TrimSpace(rest[:end])
			if strings.HasPrefix(inner, "{") || strings.HasPrefix(inner, "[") {
				return inner
			}
		}
	}

	for _, open := range []byte{'{', '['} {
		if s := balancedFrom(text, open); s != "" {
			return s
		}
	}
	return ""
}

func balancedFrom(text string, open byte) string {
	close := map[byte]byte{'{': '}', '[': ']'}[open]
	start := strings.IndexByte(text, open)
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
