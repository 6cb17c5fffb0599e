package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/atelierhq/atelier/pkg/models"
)

// Local talks to an OpenAI-compatible endpoint served by a local runtime
// (llama.cpp, Ollama). Cost is treated as zero by the routing engine.
type Local struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// LocalConfig configures the local provider.
type LocalConfig struct {
	// BaseURL of the OpenAI-compatible server, e.g. "http://127.0.0.1:11434/v1".
	BaseURL string

	// Model is the default model when the request leaves it empty.
	Model string

	// MaxRetries for retryable failures. Default: 3.
	MaxRetries int

	// RetryDelay is the linear backoff base. Default: 1s.
	RetryDelay time.Duration
}

// NewLocal creates a local provider against the configured endpoint.
func NewLocal(cfg LocalConfig) *Local {
	clientCfg := openai.DefaultConfig("local")
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Local{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.Model,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   cfg.RetryDelay,
	}
}

// Name returns "local".
func (p *Local) Name() string { return "local" }

// SupportsTools reports true; local models emit OpenAI-style tool calls.
func (p *Local) SupportsTools() bool { return true }

// Complete streams a completion from the local endpoint. Tool calls
// arrive incrementally and are accumulated per index; they are emitted
// as complete calls when the stream finishes or reports "tool_calls".
func (p *Local) Complete(ctx context.Context, req *CompletionRequest) (<-chan *Chunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    p.model(req.Model),
		Messages: toOpenAIMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOpenAITools(req.Tools)
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
			return nil, fmt.Errorf("local completion: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("local completion: max retries exceeded: %w", lastErr)
	}

	chunks := make(chan *Chunk)
	go processOpenAIStream(ctx, stream, chunks)
	return chunks, nil
}

// Embed returns an embedding for the given text using the local
// endpoint's embedding model.
func (p *Local) Embed(ctx context.Context, model, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embed: empty response")
	}
	return resp.Data[0].Embedding, nil
}

func (p *Local) model(requested string) string {
	if requested != "" {
		return requested
	}
	return p.defaultModel
}

// processOpenAIStream converts an OpenAI-style stream into chunks,
// accumulating tool call fragments keyed by index until the stream
// signals completion.
func processOpenAIStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *Chunk) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)
	var order []int
	stopReason := ""

	flush := func() {
		for _, idx := range order {
			tc := toolCalls[idx]
			if tc != nil && tc.Name != "" {
				chunks <- &Chunk{ToolCall: tc}
			}
		}
		toolCalls = make(map[int]*models.ToolCall)
		order = order[:0]
	}

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
				flush()
				chunks <- &Chunk{Done: true, StopReason: stopReason}
				return
			}
			chunks <- &Chunk{Err: err, Done: true}
			return
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			chunks <- &Chunk{Text: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
				order = append(order, index)
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Input = json.RawMessage(
					string(toolCalls[index].Input) + tc.Function.Arguments)
			}
		}
		if choice.FinishReason != "" {
			stopReason = string(choice.FinishReason)
		}
		if choice.FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

func toOpenAIMessages(messages []Message, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		m := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		if msg.Role == "tool" {
			m.ToolCallID = msg.ToolCallID
		}
		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Input),
				},
			})
		}
		out = append(out, m)
	}
	return out
}

func toOpenAITools(tools []models.FunctionSchema) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return out
}
