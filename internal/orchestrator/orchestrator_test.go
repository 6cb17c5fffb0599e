package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/atelierhq/atelier/internal/agent"
	"github.com/atelierhq/atelier/internal/conversation"
	"github.com/atelierhq/atelier/internal/mcp"
	"github.com/atelierhq/atelier/internal/providers"
	"github.com/atelierhq/atelier/internal/routing"
	"github.com/atelierhq/atelier/internal/safety"
	"github.com/atelierhq/atelier/pkg/models"
)

// scriptedProvider replays responses in order, repeating the last one.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []scriptedResponse
	calls     int
}

type scriptedResponse struct {
	text  string
	calls []models.ToolCall
}

func (p *scriptedProvider) Complete(ctx context.Context, req *providers.CompletionRequest) (<-chan *providers.Chunk, error) {
	p.mu.Lock()
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	resp := p.responses[idx]
	p.calls++
	p.mu.Unlock()

	out := make(chan *providers.Chunk, len(resp.calls)+2)
	if resp.text != "" {
		out <- &providers.Chunk{Text: resp.text}
	}
	for i := range resp.calls {
		out <- &providers.Chunk{ToolCall: &resp.calls[i]}
	}
	out <- &providers.Chunk{Done: true}
	close(out)
	return out, nil
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) SupportsTools() bool { return true }

// homeServer answers lock.unlock for the confirmation tests.
type homeServer struct {
	mu       sync.Mutex
	executed []string
}

func (s *homeServer) ID() string { return "home" }

func (s *homeServer) ListTools(ctx context.Context) ([]mcp.ToolInfo, error) { return nil, nil }

func (s *homeServer) ExecuteTool(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	s.mu.Lock()
	s.executed = append(s.executed, name)
	s.mu.Unlock()
	if name != "lock.unlock" {
		return nil, fmt.Errorf("unknown tool %s", name)
	}
	return json.RawMessage(`"Door unlocked."`), nil
}

func (s *homeServer) FetchResource(ctx context.Context, uri string) (json.RawMessage, error) {
	return nil, nil
}

func (s *homeServer) executions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.executed)
}

func newHazardFixture(t *testing.T) (*Orchestrator, *homeServer) {
	t.Helper()
	home := &homeServer{}
	registry := mcp.NewRegistry(nil)
	registry.AddServer(home)
	def := models.ToolDefinition{
		Name:        "lock.unlock",
		Description: "Unlock a smart lock.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"entity_id":{"type":"string"}},"required":["entity_id"]}`),
		Keywords:    []string{"unlock"},
		Server:      "home",
		Tool:        "lock.unlock",
	}
	if err := registry.Register(def); err != nil {
		t.Fatal(err)
	}
	selector := mcp.NewSelector(mcp.SelectorConfig{Registry: registry})

	provider := &scriptedProvider{responses: []scriptedResponse{
		{calls: []models.ToolCall{{
			ID:    "call-1",
			Name:  "lock.unlock",
			Input: json.RawMessage(`{"entity_id":"lock.welding_bay"}`),
		}}},
	}}
	runner := agent.NewRunner(agent.Config{
		Provider: provider,
		Registry: registry,
		Selector: selector,
	})
	engine := routing.NewEngine(routing.Config{
		Local:    provider,
		Agent:    runner,
		Registry: registry,
		Selector: selector,
	})
	orch := New(Config{
		Engine:        engine,
		Registry:      registry,
		Gate:          safety.NewGate(0),
		Conversations: conversation.NewStore(),
	})
	return orch, home
}

func TestHazardousToolRequiresConfirmation(t *testing.T) {
	ctx := context.Background()
	orch, home := newHazardFixture(t)

	out, err := orch.Handle(ctx, &Inbound{
		ConversationID: "conv-1",
		UserID:         "jordan",
		Prompt:         "unlock the welding bay door",
		UseAgent:       true,
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !out.RequiresConfirmation {
		t.Fatal("hazardous tool should require confirmation")
	}
	if out.ConfirmationPhrase != "confirm unlock welding bay" {
		t.Errorf("phrase = %q", out.ConfirmationPhrase)
	}
	if out.PendingTool != "lock.unlock" || out.HazardClass != "physical_access" {
		t.Errorf("pending = %q class = %q", out.PendingTool, out.HazardClass)
	}
	if home.executions() != 0 {
		t.Error("tool must not execute before confirmation")
	}
	if !strings.Contains(out.Result.Output, out.ConfirmationPhrase) {
		t.Errorf("output should present the phrase: %q", out.Result.Output)
	}

	// Confirmation matches modulo case and whitespace.
	confirmed, err := orch.Handle(ctx, &Inbound{
		ConversationID: "conv-1",
		Prompt:         "Confirm  UNLOCK   welding bay",
	})
	if err != nil {
		t.Fatalf("Handle confirm: %v", err)
	}
	if confirmed.RequiresConfirmation {
		t.Error("confirmed turn should clear the hold")
	}
	if confirmed.Result.Output != "Door unlocked." {
		t.Errorf("output = %q", confirmed.Result.Output)
	}
	if home.executions() != 1 {
		t.Errorf("executions = %d, want 1", home.executions())
	}
}

func TestHazardousToolHeldOnPlainRoutingPath(t *testing.T) {
	ctx := context.Background()
	orch, home := newHazardFixture(t)

	// No use_agent: the turn goes through the plain local-first path,
	// which must hold the hazardous call just like the agent does.
	out, err := orch.Handle(ctx, &Inbound{
		ConversationID: "conv-plain",
		Prompt:         "unlock the welding bay door",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !out.RequiresConfirmation {
		t.Fatal("hazardous tool should require confirmation on the plain path")
	}
	if out.ConfirmationPhrase != "confirm unlock welding bay" {
		t.Errorf("phrase = %q", out.ConfirmationPhrase)
	}
	if home.executions() != 0 {
		t.Errorf("tool must not execute before confirmation, executions = %d", home.executions())
	}

	confirmed, err := orch.Handle(ctx, &Inbound{
		ConversationID: "conv-plain",
		Prompt:         "confirm unlock welding bay",
	})
	if err != nil {
		t.Fatalf("Handle confirm: %v", err)
	}
	if confirmed.Result.Output != "Door unlocked." {
		t.Errorf("output = %q", confirmed.Result.Output)
	}
	if home.executions() != 1 {
		t.Errorf("executions = %d, want 1", home.executions())
	}
}

func TestCancelTokenAbortsPendingTool(t *testing.T) {
	ctx := context.Background()
	orch, home := newHazardFixture(t)

	if _, err := orch.Handle(ctx, &Inbound{
		ConversationID: "conv-2",
		Prompt:         "unlock the welding bay door",
		UseAgent:       true,
	}); err != nil {
		t.Fatal(err)
	}

	out, err := orch.Handle(ctx, &Inbound{ConversationID: "conv-2", Prompt: "cancel"})
	if err != nil {
		t.Fatal(err)
	}
	want := "Action cancelled: lock.unlock was not executed."
	if out.Result.Output != want {
		t.Errorf("output = %q, want %q", out.Result.Output, want)
	}
	if home.executions() != 0 {
		t.Error("cancelled tool must not execute")
	}
}

func TestUnmatchedReplyReprompts(t *testing.T) {
	ctx := context.Background()
	orch, home := newHazardFixture(t)

	if _, err := orch.Handle(ctx, &Inbound{
		ConversationID: "conv-3",
		Prompt:         "unlock the welding bay door",
		UseAgent:       true,
	}); err != nil {
		t.Fatal(err)
	}

	out, err := orch.Handle(ctx, &Inbound{ConversationID: "conv-3", Prompt: "sure go ahead"})
	if err != nil {
		t.Fatal(err)
	}
	if !out.RequiresConfirmation {
		t.Error("non-matching reply should keep the hold")
	}
	if !strings.Contains(out.Result.Output, "confirm unlock welding bay") {
		t.Errorf("reprompt should repeat the phrase: %q", out.Result.Output)
	}
	if home.executions() != 0 {
		t.Error("tool must not execute on reprompt")
	}
}

func TestHandleRoutesPlainPrompt(t *testing.T) {
	ctx := context.Background()
	provider := &scriptedProvider{responses: []scriptedResponse{
		{text: "A 0.4mm nozzle suits most PLA prints."},
	}}
	engine := routing.NewEngine(routing.Config{Local: provider})
	orch := New(Config{Engine: engine})

	out, err := orch.Handle(ctx, &Inbound{
		ConversationID: "conv-4",
		Prompt:         "what nozzle size should I use for PLA",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out.Result.Output != "A 0.4mm nozzle suits most PLA prints." {
		t.Errorf("output = %q", out.Result.Output)
	}
	if out.Routing == nil || out.Routing.Tier != routing.TierLocal {
		t.Errorf("routing = %+v", out.Routing)
	}
	if out.RequiresConfirmation {
		t.Error("plain prompt should not require confirmation")
	}
}

func TestHandleValidation(t *testing.T) {
	orch := New(Config{})
	if _, err := orch.Handle(context.Background(), &Inbound{Prompt: "hi"}); err == nil {
		t.Error("missing conversation_id should error")
	}
	if _, err := orch.Handle(context.Background(), &Inbound{ConversationID: "c", Prompt: "  "}); err == nil {
		t.Error("blank prompt should error")
	}
}

func TestUnsupportedProviderOverrideRejected(t *testing.T) {
	ctx := context.Background()
	provider := &scriptedProvider{responses: []scriptedResponse{{text: "ok"}}}
	orch := New(Config{Engine: routing.NewEngine(routing.Config{Local: provider})})

	tests := []struct {
		prompt  string
		wantErr bool
	}{
		{"@openai: compare these datasheets", true},
		{"#gpt-4o: summarize", true},
		{"@mistral: translate this", true},
		{"#claude-opus-4: plan the enclosure", false},
		{"plain prompt", false},
	}
	for _, tt := range tests {
		_, err := orch.Handle(ctx, &Inbound{ConversationID: "conv-override", Prompt: tt.prompt})
		if tt.wantErr && err == nil {
			t.Errorf("Handle(%q): expected unsupported provider error", tt.prompt)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("Handle(%q): %v", tt.prompt, err)
		}
	}
}

func TestStripOverrideKeyword(t *testing.T) {
	tests := []struct {
		prompt string
		want   string
		found  bool
	}{
		{"sudopay what is the weather", "what is the weather", true},
		{"what is the weather SUDOPAY", "what is the weather", true},
		{"deep research this, sudopay.", "deep research this,", true},
		{"what is sudopayment", "what is sudopayment", false},
		{"no keyword here", "no keyword here", false},
	}
	for _, tt := range tests {
		got, found := StripOverrideKeyword(tt.prompt, "sudopay")
		if got != tt.want || found != tt.found {
			t.Errorf("StripOverrideKeyword(%q) = (%q, %v), want (%q, %v)",
				tt.prompt, got, found, tt.want, tt.found)
		}
	}
}

func TestParseInlineOverrides(t *testing.T) {
	tests := []struct {
		prompt   string
		provider string
		model    string
		rest     string
	}{
		{"@openai: compare these datasheets", "openai", "", "compare these datasheets"},
		{"#claude-opus-4: plan the enclosure", "anthropic", "claude-opus-4", "plan the enclosure"},
		{"#gpt-4o: summarize", "openai", "gpt-4o", "summarize"},
		{"@perplexity: #sonar-pro: latest news", "perplexity", "sonar-pro", "latest news"},
		{"plain prompt", "", "", "plain prompt"},
		{"email me @ 5pm: reminder", "", "", "email me @ 5pm: reminder"},
	}
	for _, tt := range tests {
		provider, model, rest := ParseInlineOverrides(tt.prompt)
		if provider != tt.provider || model != tt.model || rest != tt.rest {
			t.Errorf("ParseInlineOverrides(%q) = (%q, %q, %q), want (%q, %q, %q)",
				tt.prompt, provider, model, rest, tt.provider, tt.model, tt.rest)
		}
	}
}
