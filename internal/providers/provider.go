// Package providers implements the three inference tiers behind a single
// streaming interface: a local OpenAI-compatible endpoint, a web-grounded
// cloud provider, and a frontier reasoning model.
package providers

import (
	"context"
	"strings"

	"github.com/atelierhq/atelier/pkg/models"
)

// Provider is the interface every tier backend implements.
//
// Implementations must be safe for concurrent use; each Complete call
// owns an independent stream and goroutine.
type Provider interface {
	// Complete sends a request and returns a channel of streamed chunks.
	// The channel is closed after the terminal chunk (Done or Err set).
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *Chunk, error)

	// Name returns the stable lowercase provider identifier.
	Name() string

	// SupportsTools reports whether the provider accepts tool schemas.
	SupportsTools() bool
}

// CompletionRequest carries one model call.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []models.FunctionSchema
	MaxTokens int
}

// Message is one turn of conversation history.
//
// Role is "user", "assistant", or "tool". Tool messages carry the
// ToolCallID they answer; assistant messages may carry the tool calls
// they emitted.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []models.ToolCall
	ToolCallID string
}

// Chunk is one element of a provider stream.
type Chunk struct {
	// Text is a partial response delta.
	Text string

	// Thinking is a partial reasoning delta (frontier models only).
	Thinking string

	// ToolCall is a fully accumulated tool call.
	ToolCall *models.ToolCall

	// Done marks the terminal chunk.
	Done bool

	// StopReason is set on the terminal chunk when known.
	StopReason string

	// Err terminates the stream on transport or API failure.
	Err error
}

// Collect drains a chunk stream into final text, tool calls, and the
// first error encountered. It honors ctx cancellation.
func Collect(ctx context.Context, chunks <-chan *Chunk) (string, []models.ToolCall, error) {
	var sb strings.Builder
	var calls []models.ToolCall
	for {
		select {
		case <-ctx.Done():
			return sb.String(), calls, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				return sb.String(), calls, nil
			}
			if chunk.Err != nil {
				return sb.String(), calls, chunk.Err
			}
			sb.WriteString(chunk.Text)
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
			}
			if chunk.Done {
				return sb.String(), calls, nil
			}
		}
	}
}

// DetectProvider maps a model name to its provider by prefix, for the
// inline "#model:" syntax. Returns "" when the prefix is unknown.
func DetectProvider(model string) string {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "gpt-"), strings.HasPrefix(m, "o1-"):
		return "openai"
	case strings.HasPrefix(m, "claude-"):
		return "anthropic"
	case strings.HasPrefix(m, "mistral-"):
		return "mistral"
	case strings.HasPrefix(m, "sonar"):
		return "perplexity"
	case strings.HasPrefix(m, "gemini-"):
		return "gemini"
	default:
		return ""
	}
}
