package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/philippgille/chromem-go"

	"github.com/atelierhq/atelier/pkg/models"
)

// SelectionMode controls which tools a prompt exposes to the model.
type SelectionMode string

const (
	SelectionOff  SelectionMode = "off"
	SelectionOn   SelectionMode = "on"
	SelectionAuto SelectionMode = "auto"
)

// Heuristic patterns for auto mode when no embedding index is set.
var (
	questionPattern    = regexp.MustCompile(`(?i)\b(what|who|when|where|why|how|which)\b`)
	realtimePattern    = regexp.MustCompile(`(?i)\b(today|current|latest|now|price|weather|news|right now|this week)\b`)
	fabricationPattern = regexp.MustCompile(`(?i)\b(print|printer|mesh|stl|gcode|filament|slice|cad|segment)\b`)
)

// heuristicTools are exposed when the matching pattern fires.
var heuristicTools = map[*regexp.Regexp][]string{
	questionPattern:    {"web_search", "get_entity_state"},
	realtimePattern:    {"web_search", "fetch_webpage"},
	fabricationPattern: {"segment_mesh", "list_printers", "generate_cad_model"},
}

// Selector picks the subset of registry tools to expose for a prompt.
type Selector struct {
	registry *Registry
	index    *chromem.Collection
	topK     int
	minScore float32
	logger   *slog.Logger
}

// SelectorConfig configures a Selector.
type SelectorConfig struct {
	Registry *Registry
	TopK     int
	MinScore float32
	Logger   *slog.Logger
}

// NewSelector creates a keyword + heuristic selector. Call BuildIndex
// to upgrade the heuristic leg to embedding similarity.
func NewSelector(cfg SelectorConfig) *Selector {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	minScore := cfg.MinScore
	if minScore <= 0 {
		minScore = 0.3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		registry: cfg.Registry,
		topK:     topK,
		minScore: minScore,
		logger:   logger.With("component", "tool_selector"),
	}
}

// BuildIndex embeds every registered tool description into an in-memory
// vector collection. The heuristic leg of auto mode is replaced with
// top-K similarity once the index exists.
func (s *Selector) BuildIndex(ctx context.Context, embed chromem.EmbeddingFunc) error {
	db := chromem.NewDB()
	collection, err := db.CreateCollection("tools", nil, embed)
	if err != nil {
		return fmt.Errorf("create tool index: %w", err)
	}
	for _, def := range s.registry.Definitions() {
		doc := chromem.Document{
			ID:      def.Name,
			Content: def.Name + ": " + def.Description,
		}
		if err := collection.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("index tool %s: %w", def.Name, err)
		}
	}
	s.index = collection
	return nil
}

// Select returns the tool definitions to expose for a prompt, sorted by
// name. Paid tools are filtered out unless allowPaid is true.
func (s *Selector) Select(ctx context.Context, prompt string, mode SelectionMode, allowPaid bool) []models.ToolDefinition {
	defs := s.registry.Definitions()

	var picked []models.ToolDefinition
	switch mode {
	case SelectionOff:
		return nil
	case SelectionOn:
		picked = defs
	case SelectionAuto:
		names := s.keywordMatches(prompt, defs)
		if s.index != nil {
			for name := range s.similarityMatches(ctx, prompt) {
				names[name] = true
			}
		} else {
			for name := range heuristicMatches(prompt) {
				names[name] = true
			}
		}
		for _, def := range defs {
			if names[def.Name] {
				picked = append(picked, def)
			}
		}
	default:
		return nil
	}

	out := picked[:0:len(picked)]
	for _, def := range picked {
		if def.Paid && !allowPaid {
			continue
		}
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Selector) keywordMatches(prompt string, defs []models.ToolDefinition) map[string]bool {
	lower := strings.ToLower(prompt)
	names := make(map[string]bool)
	for _, def := range defs {
		for _, kw := range def.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				names[def.Name] = true
				break
			}
		}
	}
	return names
}

func (s *Selector) similarityMatches(ctx context.Context, prompt string) map[string]bool {
	names := make(map[string]bool)
	count := s.topK
	if docs := s.index.Count(); count > docs {
		count = docs
	}
	if count == 0 {
		return names
	}
	results, err := s.index.Query(ctx, prompt, count, nil, nil)
	if err != nil {
		s.logger.Warn("tool similarity query failed, falling back to heuristics", "error", err)
		return heuristicMatches(prompt)
	}
	for _, res := range results {
		if res.Similarity >= s.minScore {
			names[res.ID] = true
		}
	}
	return names
}

func heuristicMatches(prompt string) map[string]bool {
	names := make(map[string]bool)
	for pattern, tools := range heuristicTools {
		if pattern.MatchString(prompt) {
			for _, name := range tools {
				names[name] = true
			}
		}
	}
	return names
}
