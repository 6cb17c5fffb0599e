package routing

import (
	"context"
	"strings"
	"time"

	"github.com/atelierhq/atelier/internal/providers"
	"github.com/atelierhq/atelier/pkg/models"
)

// RouteStream streams a routing turn. Concatenating the Delta fields of
// all non-terminal chunks always equals the Output of the terminal
// result. Tool-executing paths (freshness, agent mode, vision) are not
// streamable and degrade to a single terminal chunk.
func (e *Engine) RouteStream(ctx context.Context, req *Request) (<-chan *models.StreamChunk, error) {
	out := make(chan *models.StreamChunk)

	if req.FreshnessRequired || req.UseAgent || len(req.VisionTargets) > 0 {
		go e.streamWhole(ctx, req, out)
		return out, nil
	}

	go e.streamLive(ctx, req, out)
	return out, nil
}

// streamWhole runs the non-streamable pipeline and emits one terminal
// chunk carrying the finished result.
func (e *Engine) streamWhole(ctx context.Context, req *Request, out chan<- *models.StreamChunk) {
	defer close(out)
	result, err := e.Route(ctx, req)
	if err != nil {
		out <- &models.StreamChunk{Type: models.ChunkError, Error: err.Error(), Done: true}
		return
	}
	out <- &models.StreamChunk{Type: models.ChunkComplete, Done: true, Routing: result}
}

// streamLive picks the tier before the first token so escalation never
// invalidates text already emitted, then forwards provider deltas.
func (e *Engine) streamLive(ctx context.Context, req *Request, out chan<- *models.StreamChunk) {
	defer close(out)
	start := time.Now()

	if cached := e.lookupCache(ctx, req); cached != nil {
		e.finish(ctx, req, cached, "", false, start)
		out <- &models.StreamChunk{Type: models.ChunkComplete, Done: true, Routing: cached}
		return
	}

	provider, tier, confidence, blocked := e.pickStreamTier(ctx, req)
	if blocked != nil {
		e.finish(ctx, req, blocked, "blocked:forced:"+string(req.ForceTier), false, start)
		out <- &models.StreamChunk{Type: models.ChunkComplete, Done: true, Routing: blocked}
		return
	}

	chunks, err := provider.Complete(ctx, &providers.CompletionRequest{
		Model:    req.Model,
		Messages: []providers.Message{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		// The provider never opened; the turn still gets its failure
		// result and audit row.
		result := &Result{Tier: tier, Confidence: confidenceLocalEmpty}
		e.finish(ctx, req, result, "", false, start)
		out <- &models.StreamChunk{Type: models.ChunkError, Error: err.Error(), Done: true, Routing: result}
		return
	}

	var text strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			// Partial text already emitted is kept; the audit row marks
			// the cancellation.
			cancelled := ctx.Err() != nil
			result := &Result{Output: text.String(), Tier: tier, Confidence: confidenceLocalEmpty}
			e.finish(ctx, req, result, "", cancelled, start)
			out <- &models.StreamChunk{Type: models.ChunkError, Error: chunk.Err.Error(), Done: true, Routing: result}
			return
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			out <- &models.StreamChunk{Type: models.ChunkDelta, Delta: chunk.Text}
		}
		if chunk.Thinking != "" {
			out <- &models.StreamChunk{Type: models.ChunkDelta, DeltaThinking: chunk.Thinking}
		}
	}

	output := text.String()
	if output == "" {
		confidence = confidenceLocalEmpty
	}
	result := &Result{Output: output, Tier: tier, Confidence: confidence}
	e.finish(ctx, req, result, "", false, start)
	out <- &models.StreamChunk{Type: models.ChunkComplete, Done: true, Routing: result}
}

// pickStreamTier resolves the streaming backend up front. A forced paid
// tier without allow_paid returns a blocked local result instead.
func (e *Engine) pickStreamTier(ctx context.Context, req *Request) (providers.Provider, Tier, float64, *Result) {
	switch req.ForceTier {
	case TierWeb, TierFrontier:
		if !req.AllowPaid {
			return nil, "", 0, &Result{
				Tier:       TierLocal,
				Confidence: confidenceLocalEmpty,
				Metadata:   map[string]any{"paid_override_required": true},
			}
		}
		if req.ForceTier == TierWeb && e.web != nil && e.permission(ctx, TierWeb, UnitCost(TierWeb)) {
			return e.web, TierWeb, confidenceWeb, nil
		}
		if e.frontier != nil && e.permission(ctx, TierFrontier, UnitCost(TierFrontier)) {
			return e.frontier, TierFrontier, confidenceFrontier, nil
		}
	}
	return e.local, TierLocal, confidenceLocalText, nil
}
