// Package memory is a thin, best-effort adapter over a vector memory
// store. Every failure is logged and swallowed; a turn never fails
// because memory was unreachable.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
)

// Memory is one recalled fact.
type Memory struct {
	ID        string
	Content   string
	Score     float32
	CreatedAt time.Time
}

// Adapter wraps the vector store with conversation- and user-scoped
// search and write.
type Adapter struct {
	collection *chromem.Collection
	limit      int
	threshold  float32
	fallback   float32
	timeout    time.Duration
	logger     *slog.Logger
}

// Config configures the adapter.
type Config struct {
	// PersistPath, when set, persists memories across restarts.
	PersistPath string

	// Limit caps results per search.
	Limit int

	// ScoreThreshold gates conversation-scoped recall.
	ScoreThreshold float32

	// FallbackThreshold gates the wider user-scoped recall.
	FallbackThreshold float32

	// Timeout bounds each store operation.
	Timeout time.Duration

	// Embed produces embeddings for contents and queries.
	Embed chromem.EmbeddingFunc

	Logger *slog.Logger
}

// New creates a memory adapter.
func New(cfg Config) (*Adapter, error) {
	limit := cfg.Limit
	if limit <= 0 {
		limit = 5
	}
	threshold := cfg.ScoreThreshold
	if threshold <= 0 {
		threshold = 0.55
	}
	fallback := cfg.FallbackThreshold
	if fallback <= 0 {
		fallback = 0.40
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var db *chromem.DB
	var err error
	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, false)
		if err != nil {
			return nil, fmt.Errorf("open memory store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	collection, err := db.GetOrCreateCollection("memories", nil, cfg.Embed)
	if err != nil {
		return nil, fmt.Errorf("open memory collection: %w", err)
	}
	return &Adapter{
		collection: collection,
		limit:      limit,
		threshold:  threshold,
		fallback:   fallback,
		timeout:    timeout,
		logger:     logger.With("component", "memory"),
	}, nil
}

// Add stores one memory. Best effort: errors are logged, never
// returned to the turn.
func (a *Adapter) Add(ctx context.Context, conversationID, userID, content string, metadata map[string]string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	meta := map[string]string{
		"conversation_id": conversationID,
		"created_at":      time.Now().UTC().Format(time.RFC3339),
	}
	if userID != "" {
		meta["user_id"] = userID
	}
	for k, v := range metadata {
		meta[k] = v
	}
	doc := chromem.Document{ID: uuid.NewString(), Content: content, Metadata: meta}
	if err := a.collection.AddDocument(ctx, doc); err != nil {
		a.logger.Warn("memory add failed", "conversation_id", conversationID, "error", err)
	}
}

// Search recalls memories above the threshold within a metadata scope.
func (a *Adapter) Search(ctx context.Context, query string, scope map[string]string, threshold float32) []Memory {
	if a.collection.Count() == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	limit := a.limit
	if count := a.collection.Count(); limit > count {
		limit = count
	}
	results, err := a.collection.Query(ctx, query, limit, scope, nil)
	if err != nil {
		a.logger.Warn("memory search failed", "error", err)
		return nil
	}
	var memories []Memory
	for _, res := range results {
		if res.Similarity < threshold {
			continue
		}
		mem := Memory{ID: res.ID, Content: res.Content, Score: res.Similarity}
		if ts, err := time.Parse(time.RFC3339, res.Metadata["created_at"]); err == nil {
			mem.CreatedAt = ts
		}
		memories = append(memories, mem)
	}
	return memories
}

// Recall runs the conversation-scoped search and falls back to the
// wider user scope at a lower threshold when it comes back empty.
func (a *Adapter) Recall(ctx context.Context, query, conversationID, userID string) []Memory {
	memories := a.Search(ctx, query, map[string]string{"conversation_id": conversationID}, a.threshold)
	if len(memories) == 0 && userID != "" {
		memories = a.Search(ctx, query, map[string]string{"user_id": userID}, a.fallback)
	}
	return memories
}

// Enrich prepends recalled context to a prompt. With nothing recalled
// the prompt passes through unchanged.
func (a *Adapter) Enrich(ctx context.Context, prompt, conversationID, userID string) string {
	memories := a.Recall(ctx, prompt, conversationID, userID)
	if len(memories) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString("<relevant_context>\n")
	for _, mem := range memories {
		b.WriteString(mem.Content)
		b.WriteByte('\n')
	}
	b.WriteString("</relevant_context>\n\n")
	b.WriteString(prompt)
	return b.String()
}
