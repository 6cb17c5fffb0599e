// Package routing implements the tiered routing engine: cache
// short-circuit, vision and agent paths, local-first completion, and
// cost-gated escalation to paid tiers.
package routing

import "fmt"

// Tier is the closed set of answer backends, cheapest first.
type Tier string

const (
	TierLocal    Tier = "local"
	TierWeb      Tier = "web"
	TierFrontier Tier = "frontier"
)

// Static unit costs per turn, used for bookkeeping and permission
// prompts. Tokenized cost, when a provider reports it, is recorded
// separately in result metadata.
var unitCost = map[Tier]float64{
	TierLocal:    0,
	TierWeb:      0.005,
	TierFrontier: 0.015,
}

// UnitCost returns the static per-turn cost estimate for a tier.
func UnitCost(t Tier) float64 { return unitCost[t] }

// ParseTier parses a tier name; empty input means no forced tier.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case "", TierLocal, TierWeb, TierFrontier:
		return Tier(s), nil
	default:
		return "", fmt.Errorf("unknown tier %q", s)
	}
}

// Confidence constants per tier. Static heuristics; the engine treats
// them as policy knobs.
const (
	confidenceLocalText  = 0.85
	confidenceLocalEmpty = 0.0
	confidenceWeb        = 0.6
	confidenceFrontier   = 0.9
	confidenceAgentOK    = 0.9
	confidenceAgentFail  = 0.5
)
