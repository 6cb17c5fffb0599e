// Package audit records one row per routing turn, best-effort.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one routing audit row.
type Entry struct {
	ID               string    `json:"id"`
	ConversationID   string    `json:"conversation_id"`
	RequestID        string    `json:"request_id"`
	Tier             string    `json:"tier"`
	Confidence       float64   `json:"confidence"`
	LatencyMS        int64     `json:"latency_ms"`
	CostEstimate     float64   `json:"cost_estimate"`
	EscalationReason string    `json:"escalation_reason,omitempty"`
	UserID           string    `json:"user_id,omitempty"`
	Cancelled        bool      `json:"cancelled,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Store persists audit entries.
type Store interface {
	Insert(ctx context.Context, entry *Entry) error
	// List returns the most recent entries, newest first.
	List(ctx context.Context, limit int) ([]*Entry, error)
	Close() error
}

// MemoryStore keeps entries in memory, primarily for tests and dev runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryStore returns an empty in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Insert stores an entry, assigning id and timestamp when unset.
func (s *MemoryStore) Insert(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return nil
	}
	clone := *entry
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	s.mu.Lock()
	s.entries = append(s.entries, &clone)
	s.mu.Unlock()
	return nil
}

// List returns up to limit entries, newest first.
func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}
	out := make([]*Entry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		clone := *s.entries[i]
		out = append(out, &clone)
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }
