package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Web talks to a search-grounded cloud provider over its
// OpenAI-compatible API (Perplexity by default). It serves the WEB tier:
// fresher than local, cheaper than frontier.
type Web struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// WebConfig configures the web provider.
type WebConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// NewWeb creates a web-tier provider. Returns a provider even with an
// empty key; Complete fails until one is configured.
func NewWeb(cfg WebConfig) *Web {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	w := &Web{
		defaultModel: cfg.Model,
		maxRetries:   3,
		retryDelay:   time.Second,
	}
	if cfg.APIKey != "" {
		w.client = openai.NewClientWithConfig(clientCfg)
	}
	return w
}

// Name returns "web".
func (p *Web) Name() string { return "web" }

// SupportsTools reports false; search providers answer directly.
func (p *Web) SupportsTools() bool { return false }

// Complete streams a grounded answer. Tool schemas in the request are
// ignored.
func (p *Web) Complete(ctx context.Context, req *CompletionRequest) (<-chan *Chunk, error) {
	if p.client == nil {
		return nil, errors.New("web provider: API key not configured")
	}
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, fmt.Errorf("web completion: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("web completion: max retries exceeded: %w", lastErr)
	}

	chunks := make(chan *Chunk)
	go func() {
		defer close(chunks)
		defer stream.Close()
		for {
			select {
			case <-ctx.Done():
				chunks <- &Chunk{Err: ctx.Err(), Done: true}
				return
			default:
			}
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					chunks <- &Chunk{Done: true}
					return
				}
				chunks <- &Chunk{Err: err, Done: true}
				return
			}
			if len(response.Choices) == 0 {
				continue
			}
			if text := response.Choices[0].Delta.Content; text != "" {
				chunks <- &Chunk{Text: text}
			}
		}
	}()
	return chunks, nil
}
