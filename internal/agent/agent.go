// Package agent implements the bounded reason/act/observe loop: the
// local model proposes tool calls, the core executes them through the
// registry, and observations feed the next iteration.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/atelierhq/atelier/internal/mcp"
	"github.com/atelierhq/atelier/internal/observability"
	"github.com/atelierhq/atelier/internal/providers"
	"github.com/atelierhq/atelier/internal/safety"
	"github.com/atelierhq/atelier/pkg/models"
)

// DefaultMaxIterations is the hard cap on loop iterations.
const DefaultMaxIterations = 10

// Step records one executed (or blocked) tool call.
type Step struct {
	Tool        string          `json:"tool"`
	Input       json.RawMessage `json:"input"`
	Observation string          `json:"observation"`
	Success     bool            `json:"success"`
	DurationMS  int64           `json:"duration_ms"`
}

// PendingTool marks a hazardous call the agent refused to execute; the
// orchestrator turns it into a confirmation hold.
type PendingTool struct {
	Tool        string
	Args        json.RawMessage
	HazardClass string
}

// Result is the outcome of one agent run.
type Result struct {
	Answer     string
	Steps      []Step
	Iterations int
	Success    bool
	Truncated  bool
	StopReason string
	Pending    *PendingTool
}

// Request carries one agent invocation.
type Request struct {
	Prompt            string
	FreshnessRequired bool
	AllowPaid         bool
	VisionTargets     []string
	ToolMode          mcp.SelectionMode
}

// Runner drives the loop against a tool-capable provider.
type Runner struct {
	provider      providers.Provider
	registry      *mcp.Registry
	selector      *mcp.Selector
	gate          *safety.Gate
	maxIterations int
	toolTimeout   time.Duration
	metrics       *observability.Metrics
	logger        *slog.Logger
}

// Config configures a Runner.
type Config struct {
	Provider      providers.Provider
	Registry      *mcp.Registry
	Selector      *mcp.Selector
	Gate          *safety.Gate
	MaxIterations int
	ToolTimeout   time.Duration
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

// NewRunner creates an agent runner.
func NewRunner(cfg Config) *Runner {
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = 60 * time.Second
	}
	gate := cfg.Gate
	if gate == nil {
		gate = safety.NewGate(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		provider:      cfg.Provider,
		registry:      cfg.Registry,
		selector:      cfg.Selector,
		gate:          gate,
		maxIterations: maxIterations,
		toolTimeout:   toolTimeout,
		metrics:       cfg.Metrics,
		logger:        logger.With("component", "agent"),
	}
}

// Run executes the loop until the model answers without tool calls, a
// hazardous call needs confirmation, or the iteration budget runs out.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	mode := req.ToolMode
	if mode == "" {
		mode = mcp.SelectionAuto
	}
	tools := r.selector.Select(ctx, req.Prompt, mode, req.AllowPaid)
	system := mcp.BuildSystemPrompt(tools, mcp.PromptInput{
		Mode:              mode,
		FreshnessRequired: req.FreshnessRequired,
		VisionTargets:     req.VisionTargets,
	})
	schemas := make([]models.FunctionSchema, len(tools))
	for i, def := range tools {
		schemas[i] = def.Schema()
	}

	messages := []providers.Message{{Role: "user", Content: req.Prompt}}
	result := &Result{}
	lastText := ""

	for result.Iterations < r.maxIterations {
		result.Iterations++

		chunks, err := r.provider.Complete(ctx, &providers.CompletionRequest{
			System:   system,
			Messages: messages,
			Tools:    schemas,
		})
		if err != nil {
			return nil, fmt.Errorf("agent iteration %d: %w", result.Iterations, err)
		}
		text, calls, err := providers.Collect(ctx, chunks)
		if err != nil {
			return nil, fmt.Errorf("agent iteration %d: %w", result.Iterations, err)
		}
		if text != "" {
			lastText = text
		}
		if len(calls) == 0 {
			calls = ParseInlineToolCalls(text)
		}
		if len(calls) == 0 {
			result.Answer = text
			result.Success = true
			result.StopReason = "final_answer"
			r.observeIterations(result)
			return result, nil
		}

		messages = append(messages, providers.Message{Role: "assistant", Content: text, ToolCalls: calls})
		for _, call := range calls {
			def, _ := r.registry.Definition(call.Name)
			if class, hazardous := r.gate.Hazardous(def); hazardous {
				result.Pending = &PendingTool{Tool: call.Name, Args: call.Input, HazardClass: class}
				result.StopReason = "pending_confirmation"
				r.observeIterations(result)
				return result, nil
			}

			step := r.executeCall(ctx, def, call, req.AllowPaid)
			result.Steps = append(result.Steps, step)
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    step.Observation,
				ToolCallID: call.ID,
			})
		}
	}

	result.Truncated = true
	result.StopReason = "iteration_limit"
	result.Success = false
	result.Answer = lastText
	if result.Answer == "" {
		result.Answer = r.synthesize(result.Steps)
	}
	r.observeIterations(result)
	return result, nil
}

// executeCall validates, gates, and dispatches one tool call.
func (r *Runner) executeCall(ctx context.Context, def models.ToolDefinition, call models.ToolCall, allowPaid bool) Step {
	step := Step{Tool: call.Name, Input: call.Input}
	start := time.Now()
	defer func() {
		step.DurationMS = time.Since(start).Milliseconds()
		if r.metrics != nil {
			status := "error"
			if step.Success {
				status = "ok"
			}
			r.metrics.ToolExecutions.WithLabelValues(call.Name, status).Inc()
		}
	}()

	if def.Paid && !allowPaid {
		step.Observation = fmt.Sprintf("Tool %s blocked: it requires paid access and paid mode is off.", call.Name)
		return step
	}
	if err := r.validateArgs(def, &call); err != nil {
		step.Observation = fmt.Sprintf("Invalid arguments for %s: %v", call.Name, err)
		return step
	}

	callCtx, cancel := context.WithTimeout(ctx, r.toolTimeout)
	defer cancel()
	res := r.registry.Dispatch(callCtx, call)
	step.Success = res.Success
	step.Observation = res.Content()
	if !res.Success && step.Observation == "" {
		step.Observation = res.Error
	}
	return step
}

// validateArgs checks the call input against the tool's JSON schema,
// running a repair pass first when the input is not valid JSON. The
// repaired input replaces the original so dispatch sees clean JSON.
func (r *Runner) validateArgs(def models.ToolDefinition, call *models.ToolCall) error {
	input := call.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		repaired, repairErr := RepairJSON(string(input))
		if repairErr != nil {
			return fmt.Errorf("arguments are not valid JSON: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &decoded); err != nil {
			return fmt.Errorf("arguments are not valid JSON: %w", err)
		}
		input = json.RawMessage(repaired)
	}
	call.Input = input

	if len(def.Parameters) == 0 {
		return nil
	}
	schema, err := jsonschema.CompileString(def.Name+".json", string(def.Parameters))
	if err != nil {
		r.logger.Warn("tool schema does not compile, skipping validation", "tool", def.Name, "error", err)
		return nil
	}
	return schema.Validate(decoded)
}

// synthesize produces a fallback answer from observations when the
// budget ran out before the model produced text.
func (r *Runner) synthesize(steps []Step) string {
	var parts []string
	for _, step := range steps {
		if step.Success && step.Observation != "" {
			parts = append(parts, step.Observation)
		}
	}
	if len(parts) == 0 {
		return "I could not complete the task within the allowed number of steps."
	}
	return "I ran out of steps before finishing. Here is what I found:\n" + strings.Join(parts, "\n")
}

func (r *Runner) observeIterations(result *Result) {
	if r.metrics != nil {
		r.metrics.AgentIterations.Observe(float64(result.Iterations))
	}
}
