// Package conversation holds per-conversation state: history for the
// model context and the single pending-confirmation slot the safety
// gate uses.
package conversation

import (
	"encoding/json"
	"sync"
	"time"
)

// PendingConfirmation is a one-slot hold of a tool invocation awaiting
// user consent.
type PendingConfirmation struct {
	Tool        string          `json:"tool"`
	Args        json.RawMessage `json:"args"`
	Phrase      string          `json:"required_phrase"`
	HazardClass string          `json:"hazard_class"`
	Reason      string          `json:"reason"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// State is one conversation's mutable state. Each state carries its own
// lock so conversations never contend with each other.
type State struct {
	ID     string
	UserID string

	mu      sync.Mutex
	pending *PendingConfirmation
}

// SetPendingConfirmation stores a confirmation hold, replacing any
// prior one.
func (s *State) SetPendingConfirmation(p PendingConfirmation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = &p
}

// Pending returns a copy of the pending slot, if set.
func (s *State) Pending() (PendingConfirmation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return PendingConfirmation{}, false
	}
	return *s.pending, true
}

// HasPending reports whether a confirmation is held.
func (s *State) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// ClearPending drops the pending slot.
func (s *State) ClearPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

// IsExpired reports whether the pending slot exists but is past its
// TTL at the given instant.
func (s *State) IsExpired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil && now.After(s.pending.ExpiresAt)
}

// Store maps conversation ids to their state.
type Store struct {
	mu     sync.RWMutex
	states map[string]*State
}

// NewStore creates an empty conversation store.
func NewStore() *Store {
	return &Store{states: make(map[string]*State)}
}

// GetOrCreate returns the state for a conversation, creating it on
// first use. The user id is recorded on creation only.
func (st *Store) GetOrCreate(conversationID, userID string) *State {
	st.mu.RLock()
	state, ok := st.states[conversationID]
	st.mu.RUnlock()
	if ok {
		return state
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if state, ok := st.states[conversationID]; ok {
		return state
	}
	state = &State{ID: conversationID, UserID: userID}
	st.states[conversationID] = state
	return state
}

// Len returns the number of tracked conversations.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.states)
}
