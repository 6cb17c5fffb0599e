package routing

import (
	"context"

	"github.com/atelierhq/atelier/internal/mcp"
)

// Request is one immutable routing turn.
type Request struct {
	ConversationID string
	RequestID      string
	UserID         string

	// Prompt is the post-enrichment prompt text.
	Prompt string

	// ForceTier overrides tier selection; empty means no override.
	ForceTier Tier

	FreshnessRequired bool
	UseAgent          bool
	ToolMode          mcp.SelectionMode
	AllowPaid         bool
	VisionTargets     []string

	// Provider and Model override the cloud backend for escalations.
	Provider string
	Model    string
}

// Result is the single outcome of a routing turn. The engine creates
// it, the summarizer may rewrite Output once, then it is frozen before
// audit.
type Result struct {
	Output     string         `json:"output"`
	Tier       Tier           `json:"tier"`
	Confidence float64        `json:"confidence"`
	LatencyMS  int64          `json:"latency_ms"`
	Cached     bool           `json:"cached"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// PermissionFunc decides whether a paid escalation may proceed. It
// receives the target tier and the estimated cost.
type PermissionFunc func(ctx context.Context, tier Tier, estimatedCost float64) bool

// AllowAll grants every escalation; the default when no permission
// manager is wired.
func AllowAll(ctx context.Context, tier Tier, estimatedCost float64) bool { return true }
