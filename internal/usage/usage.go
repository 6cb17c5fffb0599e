// Package usage tracks per-tier spend and the local-answer SLO.
package usage

import (
	"strconv"
	"sync"

	"github.com/atelierhq/atelier/internal/observability"
)

// Tracker accumulates tier costs and the LOCAL-ratio SLO. All methods
// are safe for concurrent use.
type Tracker struct {
	mu          sync.RWMutex
	costByTier  map[string]float64
	turnsByTier map[string]int64
	totalTurns  int64
	localTurns  int64

	metrics *observability.Metrics
}

// NewTracker returns an empty tracker. metrics may be nil.
func NewTracker(metrics *observability.Metrics) *Tracker {
	return &Tracker{
		costByTier:  make(map[string]float64),
		turnsByTier: make(map[string]int64),
		metrics:     metrics,
	}
}

// RecordTurn applies exactly one cost increment for a routing turn and
// updates the LOCAL-ratio SLO. Cache hits are LOCAL turns with zero cost.
func (t *Tracker) RecordTurn(tier string, cost float64, cached bool) {
	t.mu.Lock()
	t.costByTier[tier] += cost
	t.turnsByTier[tier]++
	t.totalTurns++
	if tier == "local" {
		t.localTurns++
	}
	ratio := float64(t.localTurns) / float64(t.totalTurns)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.CostEstimate.WithLabelValues(tier).Add(cost)
		t.metrics.RoutingTurns.WithLabelValues(tier, strconv.FormatBool(cached)).Inc()
		t.metrics.LocalRatio.Set(ratio)
	}
}

// Cost returns the accumulated cost for a tier.
func (t *Tracker) Cost(tier string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.costByTier[tier]
}

// Turns returns the number of turns recorded for a tier.
func (t *Tracker) Turns(tier string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.turnsByTier[tier]
}

// LocalRatio returns the share of turns answered locally, or 1 when no
// turns have been recorded.
func (t *Tracker) LocalRatio() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.totalTurns == 0 {
		return 1
	}
	return float64(t.localTurns) / float64(t.totalTurns)
}
