// Package orchestrator is the conversational front door. It parses
// inline overrides out of the prompt, resolves pending confirmations,
// enriches the prompt from memory, routes the turn, and shapes the
// outbound message.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/agent"
	"github.com/atelierhq/atelier/internal/conversation"
	"github.com/atelierhq/atelier/internal/mcp"
	"github.com/atelierhq/atelier/internal/memory"
	"github.com/atelierhq/atelier/internal/providers"
	"github.com/atelierhq/atelier/internal/routing"
	"github.com/atelierhq/atelier/internal/safety"
	"github.com/atelierhq/atelier/pkg/models"
)

// DefaultOverrideKeyword unlocks paid escalation when present anywhere
// in the prompt as a whole word.
const DefaultOverrideKeyword = "sudopay"

// Inbound is one conversational request.
type Inbound struct {
	ConversationID string   `json:"conversation_id"`
	UserID         string   `json:"user_id,omitempty"`
	RequestID      string   `json:"request_id,omitempty"`
	Intent         string   `json:"intent,omitempty"`
	Prompt         string   `json:"prompt"`
	ForceTier      string   `json:"force_tier,omitempty"`
	Freshness      bool     `json:"freshness_required,omitempty"`
	UseAgent       bool     `json:"use_agent,omitempty"`
	ToolMode       string   `json:"tool_mode,omitempty"`
	AllowPaid      bool     `json:"allow_paid,omitempty"`
	VisionTargets  []string `json:"vision_targets,omitempty"`
	Provider       string   `json:"provider,omitempty"`
	Model          string   `json:"model,omitempty"`
}

// Outbound is the reply for one turn.
type Outbound struct {
	ConversationID string          `json:"conversation_id"`
	RequestID      string          `json:"request_id,omitempty"`
	Result         Payload         `json:"result"`
	Routing        *routing.Result `json:"routing,omitempty"`

	RequiresConfirmation bool   `json:"requires_confirmation,omitempty"`
	ConfirmationPhrase   string `json:"confirmation_phrase,omitempty"`
	PendingTool          string `json:"pending_tool,omitempty"`
	HazardClass          string `json:"hazard_class,omitempty"`
}

// Payload carries the user-visible output.
type Payload struct {
	Output string `json:"output"`
}

// Orchestrator composes the conversational pipeline.
type Orchestrator struct {
	engine        *routing.Engine
	registry      *mcp.Registry
	gate          *safety.Gate
	conversations *conversation.Store
	memory        *memory.Adapter

	overrideKeyword string
	logger          *slog.Logger
}

// Config wires an Orchestrator. Engine is required; gate, memory, and
// registry degrade gracefully when absent.
type Config struct {
	Engine        *routing.Engine
	Registry      *mcp.Registry
	Gate          *safety.Gate
	Conversations *conversation.Store
	Memory        *memory.Adapter

	// OverrideKeyword defaults to DefaultOverrideKeyword.
	OverrideKeyword string

	Logger *slog.Logger
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	keyword := cfg.OverrideKeyword
	if keyword == "" {
		keyword = DefaultOverrideKeyword
	}
	conversations := cfg.Conversations
	if conversations == nil {
		conversations = conversation.NewStore()
	}
	gate := cfg.Gate
	if gate == nil {
		gate = safety.NewGate(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		engine:          cfg.Engine,
		registry:        cfg.Registry,
		gate:            gate,
		conversations:   conversations,
		memory:          cfg.Memory,
		overrideKeyword: keyword,
		logger:          logger.With("component", "orchestrator"),
	}
}

// Handle processes one turn end to end.
func (o *Orchestrator) Handle(ctx context.Context, msg *Inbound) (*Outbound, error) {
	if msg.ConversationID == "" {
		return nil, errors.New("conversation_id is required")
	}
	if strings.TrimSpace(msg.Prompt) == "" {
		return nil, errors.New("prompt is required")
	}
	state := o.conversations.GetOrCreate(msg.ConversationID, msg.UserID)

	// A held confirmation consumes the turn before any routing.
	if out, done := o.resolveConfirmation(ctx, state, msg); done {
		return out, nil
	}

	req, err := o.buildRequest(msg)
	if err != nil {
		return nil, err
	}

	prompt := req.Prompt
	if o.memory != nil {
		req.Prompt = o.memory.Enrich(ctx, req.Prompt, msg.ConversationID, msg.UserID)
	}

	result, err := o.engine.Route(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("route: %w", err)
	}

	// A turn that stopped on a hazardous tool becomes a hold, whether
	// the agent or the plain tool path intercepted it.
	if pending := pendingTool(result); pending != nil {
		held := o.gate.Hold(state, pending.Tool, pending.Args, pending.HazardClass,
			"requested for: "+prompt)
		return &Outbound{
			ConversationID:       msg.ConversationID,
			RequestID:            msg.RequestID,
			Result:               Payload{Output: confirmationPrompt(held)},
			Routing:              result,
			RequiresConfirmation: true,
			ConfirmationPhrase:   held.Phrase,
			PendingTool:          held.Tool,
			HazardClass:          held.HazardClass,
		}, nil
	}

	if o.memory != nil && !result.Cached && result.Output != "" {
		o.memory.Add(ctx, msg.ConversationID, msg.UserID,
			"User: "+prompt+"\nAssistant: "+result.Output, nil)
	}

	return &Outbound{
		ConversationID: msg.ConversationID,
		RequestID:      msg.RequestID,
		Result:         Payload{Output: result.Output},
		Routing:        result,
	}, nil
}

// resolveConfirmation evaluates the prompt against a pending hold.
// done is true when the turn was consumed by the confirmation flow.
func (o *Orchestrator) resolveConfirmation(ctx context.Context, state *conversation.State, msg *Inbound) (*Outbound, bool) {
	resolution, pending := o.gate.Resolve(state, msg.Prompt)
	switch resolution {
	case safety.ResolutionConfirmed:
		return o.executeConfirmed(ctx, msg, pending), true
	case safety.ResolutionCancelled:
		return &Outbound{
			ConversationID: msg.ConversationID,
			RequestID:      msg.RequestID,
			Result: Payload{
				Output: fmt.Sprintf("Action cancelled: %s was not executed.", pending.Tool),
			},
		}, true
	case safety.ResolutionReprompt:
		return &Outbound{
			ConversationID: msg.ConversationID,
			RequestID:      msg.RequestID,
			Result: Payload{
				Output: fmt.Sprintf("To proceed, reply exactly: %q. Reply %q to abort.",
					pending.Phrase, "cancel"),
			},
			RequiresConfirmation: true,
			ConfirmationPhrase:   pending.Phrase,
			PendingTool:          pending.Tool,
			HazardClass:          pending.HazardClass,
		}, true
	default:
		// None or Expired: route the prompt normally.
		return nil, false
	}
}

// executeConfirmed dispatches the held tool call.
func (o *Orchestrator) executeConfirmed(ctx context.Context, msg *Inbound, pending conversation.PendingConfirmation) *Outbound {
	out := &Outbound{ConversationID: msg.ConversationID, RequestID: msg.RequestID}
	if o.registry == nil {
		out.Result.Output = "No tool registry is available to execute " + pending.Tool + "."
		return out
	}
	res := o.registry.Dispatch(ctx, models.ToolCall{
		ID:    uuid.NewString(),
		Name:  pending.Tool,
		Input: pending.Args,
	})
	if !res.Success {
		o.logger.Warn("confirmed tool failed", "tool", pending.Tool, "error", res.Error)
		out.Result.Output = fmt.Sprintf("%s failed: %s", pending.Tool, res.Error)
		return out
	}
	o.logger.Info("confirmed tool executed", "tool", pending.Tool, "hazard_class", pending.HazardClass)
	output := res.Content()
	if output == "" {
		output = "Done: " + pending.Tool + " executed."
	}
	out.Result.Output = output
	return out
}

// buildRequest translates the inbound message into a routing request,
// applying the override keyword and inline @provider:/#model: syntax.
func (o *Orchestrator) buildRequest(msg *Inbound) (*routing.Request, error) {
	prompt, paidOverride := StripOverrideKeyword(msg.Prompt, o.overrideKeyword)
	provider, model, prompt := ParseInlineOverrides(prompt)
	if provider == "" {
		provider = msg.Provider
	}
	if model == "" {
		model = msg.Model
	}

	tier, err := routing.ParseTier(msg.ForceTier)
	if err != nil {
		return nil, err
	}
	if tier == "" && provider != "" {
		tier, err = tierForProvider(provider)
		if err != nil {
			return nil, err
		}
	}

	requestID := msg.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	return &routing.Request{
		ConversationID:    msg.ConversationID,
		RequestID:         requestID,
		UserID:            msg.UserID,
		Prompt:            prompt,
		ForceTier:         tier,
		FreshnessRequired: msg.Freshness,
		UseAgent:          msg.UseAgent,
		ToolMode:          mcp.SelectionMode(msg.ToolMode),
		AllowPaid:         msg.AllowPaid || paidOverride,
		VisionTargets:     msg.VisionTargets,
		Provider:          provider,
		Model:             model,
	}, nil
}

// pendingTool extracts the turn's pending hazardous call, if any.
func pendingTool(result *routing.Result) *agent.PendingTool {
	if result.Metadata == nil {
		return nil
	}
	pending, _ := result.Metadata["pending"].(*agent.PendingTool)
	return pending
}

func confirmationPrompt(p conversation.PendingConfirmation) string {
	return fmt.Sprintf(
		"This action requires confirmation (%s). To proceed, reply exactly: %q. Reply %q to abort.",
		p.HazardClass, p.Phrase, "cancel")
}

// tierForProvider maps a provider override to the tier that serves it.
// Only providers with a wired client are accepted; anything else is
// rejected rather than silently served by a different backend.
func tierForProvider(provider string) (routing.Tier, error) {
	switch strings.ToLower(provider) {
	case "anthropic":
		return routing.TierFrontier, nil
	case "perplexity":
		return routing.TierWeb, nil
	default:
		return "", fmt.Errorf("unsupported provider override %q (supported: anthropic, perplexity)", provider)
	}
}

// StripOverrideKeyword removes the whole-word, case-insensitive
// override keyword from the prompt and reports whether it was present.
func StripOverrideKeyword(prompt, keyword string) (string, bool) {
	if keyword == "" {
		return prompt, false
	}
	fields := strings.Fields(prompt)
	kept := fields[:0]
	found := false
	for _, f := range fields {
		if strings.EqualFold(strings.Trim(f, ".,!?"), keyword) {
			found = true
			continue
		}
		kept = append(kept, f)
	}
	if !found {
		return prompt, false
	}
	return strings.Join(kept, " "), true
}

// ParseInlineOverrides strips a leading "@provider:" or "#model:"
// token. A model override also resolves its provider by prefix.
func ParseInlineOverrides(prompt string) (provider, model, rest string) {
	rest = strings.TrimSpace(prompt)
	for {
		switch {
		case strings.HasPrefix(rest, "@"):
			token, remainder, ok := cutToken(rest[1:])
			if !ok {
				return provider, model, rest
			}
			provider = strings.ToLower(token)
			rest = remainder
		case strings.HasPrefix(rest, "#"):
			token, remainder, ok := cutToken(rest[1:])
			if !ok {
				return provider, model, rest
			}
			model = token
			if provider == "" {
				provider = providers.DetectProvider(model)
			}
			rest = remainder
		default:
			return provider, model, rest
		}
	}
}

// cutToken splits "name: rest of prompt" at the first colon. The name
// must be a single word so "email me @ 5pm: reminder" passes through.
func cutToken(s string) (token, rest string, ok bool) {
	i := strings.IndexByte(s, ':')
	if i <= 0 {
		return "", "", false
	}
	token = s[:i]
	if strings.ContainsAny(token, " \t") {
		return "", "", false
	}
	return token, strings.TrimSpace(s[i+1:]), true
}
