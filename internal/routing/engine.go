package routing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/atelierhq/atelier/internal/agent"
	"github.com/atelierhq/atelier/internal/audit"
	"github.com/atelierhq/atelier/internal/cache"
	"github.com/atelierhq/atelier/internal/mcp"
	"github.com/atelierhq/atelier/internal/observability"
	"github.com/atelierhq/atelier/internal/providers"
	"github.com/atelierhq/atelier/internal/safety"
	"github.com/atelierhq/atelier/internal/usage"
	"github.com/atelierhq/atelier/pkg/models"
)

// Engine routes each turn to exactly one tier and records exactly one
// audit entry for it.
type Engine struct {
	local    providers.Provider
	web      providers.Provider
	frontier providers.Provider

	cache     cache.Store
	cacheMode string
	vision    *mcp.VisionPipeline
	agent     *agent.Runner
	registry  *mcp.Registry
	selector  *mcp.Selector
	gate      *safety.Gate

	usage      *usage.Tracker
	audit      *audit.Logger
	metrics    *observability.Metrics
	permission PermissionFunc

	threshold         float64
	summarizeModel    string
	summarizeMaxRunes int
	logger            *slog.Logger
}

// Config wires an Engine. Local is required; everything else degrades
// gracefully when absent.
type Config struct {
	Local    providers.Provider
	Web      providers.Provider
	Frontier providers.Provider

	Cache     cache.Store
	CacheMode string
	Vision    *mcp.VisionPipeline
	Agent     *agent.Runner
	Registry  *mcp.Registry
	Selector  *mcp.Selector
	Gate      *safety.Gate

	Usage      *usage.Tracker
	Audit      *audit.Logger
	Metrics    *observability.Metrics
	Permission PermissionFunc

	// ConfidenceThreshold triggers escalation below it. Default 0.7.
	ConfidenceThreshold float64

	// SummarizeModel names the small local model used to tighten long
	// agent answers.
	SummarizeModel string

	// SummarizeMaxRunes triggers the summarizer above it. Default 2000.
	SummarizeMaxRunes int

	Logger *slog.Logger
}

// NewEngine creates a routing engine.
func NewEngine(cfg Config) *Engine {
	threshold := cfg.ConfidenceThreshold
	if threshold <= 0 {
		threshold = 0.7
	}
	maxRunes := cfg.SummarizeMaxRunes
	if maxRunes <= 0 {
		maxRunes = 2000
	}
	permission := cfg.Permission
	if permission == nil {
		permission = AllowAll
	}
	gate := cfg.Gate
	if gate == nil {
		gate = safety.NewGate(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		local:             cfg.Local,
		web:               cfg.Web,
		frontier:          cfg.Frontier,
		cache:             cfg.Cache,
		cacheMode:         cfg.CacheMode,
		vision:            cfg.Vision,
		agent:             cfg.Agent,
		registry:          cfg.Registry,
		selector:          cfg.Selector,
		gate:              gate,
		usage:             cfg.Usage,
		audit:             cfg.Audit,
		metrics:           cfg.Metrics,
		permission:        permission,
		threshold:         threshold,
		summarizeModel:    cfg.SummarizeModel,
		summarizeMaxRunes: maxRunes,
		logger:            logger.With("component", "routing"),
	}
}

// Route produces exactly one result for a request.
func (e *Engine) Route(ctx context.Context, req *Request) (*Result, error) {
	ctx, span := observability.StartSpan(ctx, "routing.turn",
		attribute.String("conversation_id", req.ConversationID))
	result, err := e.route(ctx, req)
	if err == nil {
		span.SetAttributes(
			attribute.String("tier", string(result.Tier)),
			attribute.Bool("cached", result.Cached),
		)
	}
	observability.EndSpan(span, err)
	return result, err
}

func (e *Engine) route(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	// Step 1-2: cache short-circuit.
	if result := e.lookupCache(ctx, req); result != nil {
		e.finish(ctx, req, result, "", false, start)
		return result, nil
	}

	// Step 3: vision pipeline bypasses tiering entirely.
	if len(req.VisionTargets) > 0 && e.vision != nil {
		if result := e.routeVision(ctx, req); result != nil {
			e.finish(ctx, req, result, "", false, start)
			return result, nil
		}
	}

	// Step 4: agent mode. A failed run still produces one result and
	// one audit row: empty output, confidence 0.
	if req.UseAgent && e.agent != nil {
		result, err := e.routeAgent(ctx, req)
		if err != nil {
			e.logger.Warn("agent run failed", "error", err)
			result = &Result{Tier: TierLocal, Confidence: confidenceLocalEmpty}
		}
		e.summarize(ctx, result)
		e.finish(ctx, req, result, "", false, start)
		return result, nil
	}

	// Step 5: local-first with tools. A hazardous call holds the turn
	// for confirmation instead of escalating.
	result := e.routeLocal(ctx, req)
	if result.Metadata != nil && result.Metadata["pending"] != nil {
		e.finish(ctx, req, result, "", false, start)
		return result, nil
	}

	// Steps 6-7: escalation.
	reason := e.escalationReason(req, result)
	if reason != "" {
		if !req.AllowPaid {
			if result.Metadata == nil {
				result.Metadata = map[string]any{}
			}
			result.Metadata["paid_override_required"] = true
			e.finish(ctx, req, result, "blocked:"+reason, false, start)
			return result, nil
		}
		if escalated := e.escalate(ctx, req); escalated != nil {
			e.finish(ctx, req, escalated, reason, false, start)
			return escalated, nil
		}
	}

	e.finish(ctx, req, result, "", false, start)
	return result, nil
}

// lookupCache returns a cached result when the turn is eligible and the
// store hits. Cache failures are silent misses.
func (e *Engine) lookupCache(ctx context.Context, req *Request) *Result {
	if e.cache == nil || !cache.LookupEligible(req.FreshnessRequired, len(req.VisionTargets)) {
		return nil
	}
	response, confidence, ok := e.cache.Get(ctx, req.Prompt)
	if e.metrics != nil {
		outcome := "miss"
		if ok {
			outcome = "hit"
		}
		e.metrics.CacheLookups.WithLabelValues(e.cacheMode, outcome).Inc()
	}
	if !ok {
		return nil
	}
	// Entries persisted before confidence was stored replay the local
	// text default.
	if confidence <= 0 {
		confidence = confidenceLocalText
	}
	return &Result{
		Output:     response,
		Tier:       TierLocal,
		Confidence: confidence,
		LatencyMS:  0,
		Cached:     true,
	}
}

func (e *Engine) routeVision(ctx context.Context, req *Request) *Result {
	query := strings.Join(req.VisionTargets, ", ")
	if query == "" {
		query = req.Prompt
	}
	refs, err := e.vision.Run(ctx, req.ConversationID, query)
	if err != nil {
		e.logger.Warn("vision pipeline failed, falling back to tiering", "error", err)
		return nil
	}
	if len(refs) == 0 {
		return nil
	}
	return &Result{
		Output:     mcp.Markdown(refs),
		Tier:       TierLocal,
		Confidence: confidenceLocalText,
		Metadata:   map[string]any{"references": refs},
	}
}

func (e *Engine) routeAgent(ctx context.Context, req *Request) (*Result, error) {
	run, err := e.agent.Run(ctx, agent.Request{
		Prompt:            req.Prompt,
		FreshnessRequired: req.FreshnessRequired,
		AllowPaid:         req.AllowPaid,
		VisionTargets:     req.VisionTargets,
		ToolMode:          req.ToolMode,
	})
	if err != nil {
		return nil, fmt.Errorf("agent run: %w", err)
	}

	confidence := confidenceAgentFail
	if run.Success {
		confidence = confidenceAgentOK
	}
	metadata := map[string]any{
		"from_agent":  true,
		"tools_used":  len(run.Steps),
		"stop_reason": run.StopReason,
		"steps":       run.Steps,
	}
	if run.Truncated {
		metadata["truncated"] = true
	}
	if run.Pending != nil {
		metadata["pending"] = run.Pending
	}
	return &Result{
		Output:     run.Answer,
		Tier:       TierLocal,
		Confidence: confidence,
		Metadata:   metadata,
	}, nil
}

// routeLocal calls the local model with selected tools, executes any
// returned tool calls in order, and makes one follow-up call with the
// observations. A hazardous call stops execution and returns a pending
// hold; a local failure is an empty result with confidence 0.
func (e *Engine) routeLocal(ctx context.Context, req *Request) *Result {
	var tools []models.ToolDefinition
	mode := req.ToolMode
	if mode == "" {
		mode = mcp.SelectionAuto
	}
	if e.selector != nil {
		tools = e.selector.Select(ctx, req.Prompt, mode, req.AllowPaid)
	}
	schemas := make([]models.FunctionSchema, len(tools))
	for i, def := range tools {
		schemas[i] = def.Schema()
	}
	system := mcp.BuildSystemPrompt(tools, mcp.PromptInput{
		Mode:              mode,
		FreshnessRequired: req.FreshnessRequired,
		VisionTargets:     req.VisionTargets,
	})

	messages := []providers.Message{{Role: "user", Content: req.Prompt}}
	text, calls, err := e.completeLocal(ctx, system, messages, schemas)
	if err != nil {
		e.logger.Warn("local model failed", "error", err)
		return &Result{Tier: TierLocal, Confidence: confidenceLocalEmpty}
	}

	toolsUsed := 0
	if len(calls) > 0 && e.registry != nil {
		messages = append(messages, providers.Message{Role: "assistant", Content: text, ToolCalls: calls})
		for _, call := range calls {
			def, _ := e.registry.Definition(call.Name)
			if class, hazardous := e.gate.Hazardous(def); hazardous {
				return &Result{
					Tier:       TierLocal,
					Confidence: confidenceLocalText,
					Metadata: map[string]any{
						"pending": &agent.PendingTool{Tool: call.Name, Args: call.Input, HazardClass: class},
					},
				}
			}
			if def.Paid && !req.AllowPaid {
				messages = append(messages, providers.Message{
					Role:       "tool",
					Content:    fmt.Sprintf("Tool %s blocked: it requires paid access and paid mode is off.", call.Name),
					ToolCallID: call.ID,
				})
				continue
			}
			res := e.registry.Dispatch(ctx, call)
			toolsUsed++
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    res.Content(),
				ToolCallID: call.ID,
			})
		}
		text, _, err = e.completeLocal(ctx, system, messages, nil)
		if err != nil {
			e.logger.Warn("local follow-up failed", "error", err)
			return &Result{Tier: TierLocal, Confidence: confidenceLocalEmpty}
		}
	}

	confidence := confidenceLocalEmpty
	if text != "" {
		confidence = confidenceLocalText
	}
	result := &Result{Output: text, Tier: TierLocal, Confidence: confidence}
	if toolsUsed > 0 {
		result.Metadata = map[string]any{"tools_used": toolsUsed}
	}
	return result
}

func (e *Engine) completeLocal(ctx context.Context, system string, messages []providers.Message, schemas []models.FunctionSchema) (string, []models.ToolCall, error) {
	chunks, err := e.local.Complete(ctx, &providers.CompletionRequest{
		System:   system,
		Messages: messages,
		Tools:    schemas,
	})
	if err != nil {
		return "", nil, err
	}
	return providers.Collect(ctx, chunks)
}

// escalationReason names why a turn should leave the local tier, or ""
// when it should not.
func (e *Engine) escalationReason(req *Request, local *Result) string {
	if req.ForceTier != "" && req.ForceTier != TierLocal {
		return "forced:" + string(req.ForceTier)
	}
	if req.FreshnessRequired {
		return "freshness"
	}
	if local.Confidence < e.threshold {
		return "low_confidence"
	}
	return ""
}

// escalate tries WEB first, then FRONTIER when WEB is unavailable or
// empty. Each hop asks the permission manager; denial falls through.
// Returns nil when every option failed or was denied.
func (e *Engine) escalate(ctx context.Context, req *Request) *Result {
	tryWeb := req.ForceTier != TierFrontier
	if tryWeb && e.web != nil && e.permission(ctx, TierWeb, UnitCost(TierWeb)) {
		if result := e.completeCloud(ctx, e.web, req, TierWeb, confidenceWeb); result != nil {
			return result
		}
	}
	if e.frontier != nil && e.permission(ctx, TierFrontier, UnitCost(TierFrontier)) {
		if result := e.completeCloud(ctx, e.frontier, req, TierFrontier, confidenceFrontier); result != nil {
			return result
		}
	}
	return nil
}

func (e *Engine) completeCloud(ctx context.Context, provider providers.Provider, req *Request, tier Tier, confidence float64) *Result {
	chunks, err := provider.Complete(ctx, &providers.CompletionRequest{
		Model:    req.Model,
		Messages: []providers.Message{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		e.logger.Warn("escalation failed", "tier", tier, "error", err)
		return nil
	}
	text, _, err := providers.Collect(ctx, chunks)
	if err != nil {
		e.logger.Warn("escalation stream failed", "tier", tier, "error", err)
		return nil
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return &Result{
		Output:     text,
		Tier:       tier,
		Confidence: confidence,
		Metadata:   map[string]any{"provider": provider.Name(), "model": req.Model},
	}
}

// summarize tightens long or truncated agent answers with a small local
// model, keeping the original under metadata.raw_output. Mutates the
// result at most once.
func (e *Engine) summarize(ctx context.Context, result *Result) {
	if result.Metadata == nil || result.Metadata["from_agent"] != true {
		return
	}
	truncated, _ := result.Metadata["truncated"].(bool)
	if !truncated && len([]rune(result.Output)) <= e.summarizeMaxRunes {
		return
	}

	chunks, err := e.local.Complete(ctx, &providers.CompletionRequest{
		Model:  e.summarizeModel,
		System: "Rewrite the following assistant answer to be concise while keeping every fact. Reply with the rewritten answer only.",
		Messages: []providers.Message{
			{Role: "user", Content: result.Output},
		},
	})
	if err != nil {
		e.logger.Warn("summarizer failed", "error", err)
		return
	}
	text, _, err := providers.Collect(ctx, chunks)
	if err != nil || strings.TrimSpace(text) == "" {
		return
	}
	result.Metadata["raw_output"] = result.Output
	result.Output = text
}

// finish freezes the result and persists best-effort: cache insert,
// cost and SLO bookkeeping, one audit row. Every store failure is
// swallowed.
func (e *Engine) finish(ctx context.Context, req *Request, result *Result, escalationReason string, cancelled bool, start time.Time) {
	if !result.Cached {
		result.LatencyMS = time.Since(start).Milliseconds()
	}

	if e.cache != nil && !result.Cached &&
		cache.Eligible(req.FreshnessRequired, len(req.VisionTargets), result.Output) {
		if err := e.cache.Put(ctx, req.Prompt, result.Output, result.Confidence); err != nil {
			e.logger.Warn("cache insert failed", "error", err)
		}
	}

	cost := 0.0
	if !result.Cached {
		cost = UnitCost(result.Tier)
	}
	if e.usage != nil {
		e.usage.RecordTurn(string(result.Tier), cost, result.Cached)
	}
	if e.metrics != nil {
		e.metrics.RoutingLatency.WithLabelValues(string(result.Tier)).Observe(float64(result.LatencyMS) / 1000)
	}
	if e.audit != nil {
		e.audit.Record(ctx, &audit.Entry{
			ID:               uuid.NewString(),
			ConversationID:   req.ConversationID,
			RequestID:        req.RequestID,
			Tier:             string(result.Tier),
			Confidence:       result.Confidence,
			LatencyMS:        result.LatencyMS,
			CostEstimate:     cost,
			EscalationReason: escalationReason,
			UserID:           req.UserID,
			Cancelled:        cancelled,
		})
	}
}
