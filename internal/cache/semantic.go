package cache

import (
	"context"
	"fmt"
	"strconv"

	"github.com/philippgille/chromem-go"
)

// Semantic caches prompts by embedding similarity: a near-duplicate of
// an earlier prompt hits even when the wording differs.
type Semantic struct {
	collection *chromem.Collection
	threshold  float32
}

// SemanticConfig configures a semantic cache.
type SemanticConfig struct {
	// PersistPath, when set, persists the vector store across restarts.
	PersistPath string

	// SimilarityThreshold is the minimum cosine similarity for a hit.
	SimilarityThreshold float32

	// Embed produces the prompt embedding.
	Embed chromem.EmbeddingFunc
}

// NewSemantic creates a semantic cache backed by a chromem collection.
func NewSemantic(cfg SemanticConfig) (*Semantic, error) {
	threshold := cfg.SimilarityThreshold
	if threshold <= 0 {
		threshold = 0.92
	}

	var db *chromem.DB
	var err error
	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, false)
		if err != nil {
			return nil, fmt.Errorf("open cache store: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	collection, err := db.GetOrCreateCollection("response_cache", nil, cfg.Embed)
	if err != nil {
		return nil, fmt.Errorf("open cache collection: %w", err)
	}
	return &Semantic{collection: collection, threshold: threshold}, nil
}

// Get returns the cached response of the nearest stored prompt when its
// similarity clears the threshold.
func (c *Semantic) Get(ctx context.Context, prompt string) (string, float64, bool) {
	if c.collection.Count() == 0 {
		return "", 0, false
	}
	results, err := c.collection.Query(ctx, prompt, 1, nil, nil)
	if err != nil || len(results) == 0 {
		return "", 0, false
	}
	best := results[0]
	if best.Similarity < c.threshold {
		return "", 0, false
	}
	confidence, _ := strconv.ParseFloat(best.Metadata["confidence"], 64)
	return best.Metadata["response"], confidence, true
}

// Put stores the prompt embedding with the response and its confidence
// as metadata. The fingerprint id makes repeat inserts of the same
// prompt idempotent.
func (c *Semantic) Put(ctx context.Context, prompt, response string, confidence float64) error {
	doc := chromem.Document{
		ID:      Fingerprint(prompt),
		Content: prompt,
		Metadata: map[string]string{
			"response":   response,
			"confidence": strconv.FormatFloat(confidence, 'f', -1, 64),
		},
	}
	return c.collection.AddDocument(ctx, doc)
}
