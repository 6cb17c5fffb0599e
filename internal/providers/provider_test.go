package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/atelierhq/atelier/pkg/models"
)

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o", "openai"},
		{"o1-mini", "openai"},
		{"claude-sonnet-4-20250514", "anthropic"},
		{"mistral-large", "mistral"},
		{"sonar", "perplexity"},
		{"sonar-pro", "perplexity"},
		{"gemini-2.0-flash", "gemini"},
		{"qwen2.5", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := DetectProvider(tt.model); got != tt.want {
			t.Errorf("DetectProvider(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}

func TestCollect(t *testing.T) {
	ch := make(chan *Chunk, 5)
	ch <- &Chunk{Text: "hello "}
	ch <- &Chunk{Text: "world"}
	ch <- &Chunk{ToolCall: &models.ToolCall{ID: "1", Name: "web_search", Input: json.RawMessage(`{"query":"x"}`)}}
	ch <- &Chunk{Done: true}
	close(ch)

	text, calls, err := Collect(context.Background(), ch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q", text)
	}
	if len(calls) != 1 || calls[0].Name != "web_search" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestCollectPropagatesStreamError(t *testing.T) {
	ch := make(chan *Chunk, 2)
	ch <- &Chunk{Text: "partial"}
	ch <- &Chunk{Err: errors.New("boom"), Done: true}
	close(ch)

	text, _, err := Collect(context.Background(), ch)
	if err == nil {
		t.Fatal("expected error")
	}
	if text != "partial" {
		t.Errorf("partial text should be kept, got %q", text)
	}
}

func TestIsRetryable(t *testing.T) {
	if isRetryable(nil) {
		t.Error("nil should not be retryable")
	}
	if isRetryable(errors.New("bad request")) {
		t.Error("plain errors should not be retryable")
	}
	if !isRetryable(&openai.APIError{HTTPStatusCode: 429}) {
		t.Error("429 should be retryable")
	}
	if !isRetryable(&openai.APIError{HTTPStatusCode: 503}) {
		t.Error("503 should be retryable")
	}
	if isRetryable(&openai.APIError{HTTPStatusCode: 401}) {
		t.Error("401 should not be retryable")
	}
}

func TestUnconfiguredProvidersFail(t *testing.T) {
	req := &CompletionRequest{Messages: []Message{{Role: "user", Content: "hi"}}}
	if _, err := NewWeb(WebConfig{}).Complete(context.Background(), req); err == nil {
		t.Error("web provider without key should fail")
	}
	if _, err := NewFrontier(FrontierConfig{}).Complete(context.Background(), req); err == nil {
		t.Error("frontier provider without key should fail")
	}
}
