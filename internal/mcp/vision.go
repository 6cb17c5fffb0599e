package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/pkg/models"
)

// Vision pipeline defaults. Callers do not tune these per request; the
// composed tool is deliberately fixed.
const (
	visionMaxResults = 8
	visionMinScore   = 0.35
	visionKeepTop    = 3
)

// ImageRef is one scored image reference from the vision server.
type ImageRef struct {
	Title       string  `json:"title"`
	DownloadURL string  `json:"download_url"`
	Source      string  `json:"source"`
	Score       float64 `json:"score,omitempty"`
}

// VisionPipeline composes image_search, image_filter, and
// store_selection into one operation that returns markdown references.
type VisionPipeline struct {
	registry *Registry
	logger   *slog.Logger
}

// NewVisionPipeline creates a vision pipeline over the registry.
func NewVisionPipeline(registry *Registry, logger *slog.Logger) *VisionPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &VisionPipeline{registry: registry, logger: logger.With("component", "vision")}
}

// Run executes the pipeline for one query. The returned references are
// the filtered top selections; Markdown renders them for the reply.
func (p *VisionPipeline) Run(ctx context.Context, sessionID, query string) ([]ImageRef, error) {
	searchArgs, _ := json.Marshal(map[string]any{
		"query":       query,
		"max_results": visionMaxResults,
	})
	searchResult := p.registry.Dispatch(ctx, toolCall("image_search", searchArgs))
	if !searchResult.Success {
		return nil, fmt.Errorf("image_search: %s", searchResult.Error)
	}
	images := decodeImages(searchResult.Data)
	if len(images) == 0 {
		return nil, nil
	}

	filterArgs, _ := json.Marshal(map[string]any{
		"query":     query,
		"images":    images,
		"min_score": visionMinScore,
	})
	filterResult := p.registry.Dispatch(ctx, toolCall("image_filter", filterArgs))
	if !filterResult.Success {
		return nil, fmt.Errorf("image_filter: %s", filterResult.Error)
	}
	filtered := decodeImages(filterResult.Data)
	if len(filtered) > visionKeepTop {
		filtered = filtered[:visionKeepTop]
	}
	if len(filtered) == 0 {
		return nil, nil
	}

	storeArgs, _ := json.Marshal(map[string]any{
		"session_id": sessionID,
		"images":     filtered,
	})
	if storeResult := p.registry.Dispatch(ctx, toolCall("store_selection", storeArgs)); !storeResult.Success {
		// Storage is best effort; references are still usable.
		p.logger.Warn("store_selection failed", "session_id", sessionID, "error", storeResult.Error)
	}
	return filtered, nil
}

// Markdown renders references as a markdown list of title, url, source.
func Markdown(refs []ImageRef) string {
	if len(refs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Here are the references I found:\n")
	for _, ref := range refs {
		fmt.Fprintf(&b, "- [%s](%s) (%s)\n", ref.Title, ref.DownloadURL, ref.Source)
	}
	return b.String()
}

func toolCall(name string, args json.RawMessage) models.ToolCall {
	return models.ToolCall{ID: uuid.NewString(), Name: name, Input: args}
}

func decodeImages(data json.RawMessage) []ImageRef {
	if len(data) == 0 {
		return nil
	}
	var refs []ImageRef
	if err := json.Unmarshal(data, &refs); err == nil {
		return refs
	}
	var wrapped struct {
		Images []ImageRef `json:"images"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil {
		return wrapped.Images
	}
	return nil
}
