package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Exact is a fixed-size LRU keyed by the prompt fingerprint. Only an
// identical prompt hits.
type Exact struct {
	entries *lru.Cache[string, Entry]
}

// NewExact creates an exact cache holding up to maxEntries responses.
func NewExact(maxEntries int) (*Exact, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	entries, err := lru.New[string, Entry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &Exact{entries: entries}, nil
}

// Get looks up the prompt by fingerprint.
func (c *Exact) Get(ctx context.Context, prompt string) (string, float64, bool) {
	entry, ok := c.entries.Get(Fingerprint(prompt))
	return entry.Response, entry.Confidence, ok
}

// Put stores the response under the prompt fingerprint.
func (c *Exact) Put(ctx context.Context, prompt, response string, confidence float64) error {
	c.entries.Add(Fingerprint(prompt), Entry{Response: response, Confidence: confidence})
	return nil
}

// Len returns the number of cached entries.
func (c *Exact) Len() int { return c.entries.Len() }
