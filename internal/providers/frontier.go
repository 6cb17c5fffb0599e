package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Frontier talks to Anthropic's messages API. It serves the FRONTIER
// tier: the most capable and the most expensive backend.
type Frontier struct {
	client       anthropic.Client
	configured   bool
	defaultModel string
	maxTokens    int
}

// FrontierConfig configures the frontier provider.
type FrontierConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// NewFrontier creates a frontier-tier provider.
func NewFrontier(cfg FrontierConfig) *Frontier {
	f := &Frontier{
		defaultModel: cfg.Model,
		maxTokens:    cfg.MaxTokens,
	}
	if f.maxTokens <= 0 {
		f.maxTokens = 4096
	}
	if cfg.APIKey == "" {
		return f
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	f.client = anthropic.NewClient(options...)
	f.configured = true
	return f
}

// Name returns "frontier".
func (p *Frontier) Name() string { return "frontier" }

// SupportsTools reports false; the frontier tier answers escalated
// questions directly, tool use stays on the local tier.
func (p *Frontier) SupportsTools() bool { return false }

// Complete streams a completion from the messages API, forwarding text
// and thinking deltas.
func (p *Frontier) Complete(ctx context.Context, req *CompletionRequest) (<-chan *Chunk, error) {
	if !p.configured {
		return nil, errors.New("frontier provider: API key not configured")
	}
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  toAnthropicMessages(req.Messages),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	chunks := make(chan *Chunk)
	go func() {
		defer close(chunks)
		stopReason := ""
		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						chunks <- &Chunk{Text: delta.Text}
					}
				case "thinking_delta":
					if delta.Thinking != "" {
						chunks <- &Chunk{Thinking: delta.Thinking}
					}
				}
			case "message_delta":
				messageDelta := event.AsMessageDelta()
				if messageDelta.Delta.StopReason != "" {
					stopReason = string(messageDelta.Delta.StopReason)
				}
			}
		}
		if err := stream.Err(); err != nil {
			chunks <- &Chunk{Err: fmt.Errorf("frontier stream: %w", err), Done: true}
			return
		}
		chunks <- &Chunk{Done: true, StopReason: stopReason}
	}()
	return chunks, nil
}

func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	for _, msg := range messages {
		text := msg.Content
		if strings.TrimSpace(text) == "" {
			continue
		}
		block := anthropic.NewTextBlock(text)
		if msg.Role == "assistant" {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}
