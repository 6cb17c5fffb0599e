package conversation

import (
	"sync"
	"testing"
	"time"
)

func TestGetOrCreate(t *testing.T) {
	store := NewStore()
	a := store.GetOrCreate("conv-1", "user-1")
	b := store.GetOrCreate("conv-1", "user-2")
	if a != b {
		t.Error("same conversation id should return the same state")
	}
	if a.UserID != "user-1" {
		t.Errorf("user id should stick from first use, got %q", a.UserID)
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d", store.Len())
	}
}

func TestPendingSlotReplaces(t *testing.T) {
	state := &State{ID: "conv-1"}
	if state.HasPending() {
		t.Fatal("fresh state should have no pending slot")
	}

	state.SetPendingConfirmation(PendingConfirmation{Tool: "lock.unlock", Phrase: "confirm unlock welding bay"})
	state.SetPendingConfirmation(PendingConfirmation{Tool: "power.enable", Phrase: "confirm enable power"})

	pending, ok := state.Pending()
	if !ok {
		t.Fatal("expected pending slot")
	}
	if pending.Tool != "power.enable" {
		t.Errorf("new slot should replace prior, got %q", pending.Tool)
	}

	state.ClearPending()
	if state.HasPending() {
		t.Error("ClearPending should drop the slot")
	}
}

func TestIsExpired(t *testing.T) {
	now := time.Now()
	state := &State{ID: "conv-1"}

	if state.IsExpired(now) {
		t.Error("no pending slot is never expired")
	}

	state.SetPendingConfirmation(PendingConfirmation{Tool: "lock.unlock", ExpiresAt: now.Add(time.Minute)})
	if state.IsExpired(now) {
		t.Error("slot within TTL should not be expired")
	}
	if !state.IsExpired(now.Add(2 * time.Minute)) {
		t.Error("slot past TTL should be expired")
	}
}

func TestConcurrentGetOrCreate(t *testing.T) {
	store := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.GetOrCreate("conv-1", "user-1")
		}()
	}
	wg.Wait()
	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}
}
