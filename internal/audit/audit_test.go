package audit

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreInsertAndList(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, tier := range []string{"local", "web", "frontier"} {
		err := store.Insert(ctx, &Entry{
			ConversationID: "c1",
			RequestID:      "req-" + tier,
			Tier:           tier,
			Confidence:     0.85,
		})
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	entries, err := store.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Tier != "frontier" {
		t.Errorf("newest first: got %s, want frontier", entries[0].Tier)
	}
	if entries[0].ID == "" || entries[0].CreatedAt.IsZero() {
		t.Error("expected id and created_at to be assigned")
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store, err := NewSQLiteStore("")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	entry := &Entry{
		ConversationID:   "c1",
		RequestID:        "r1",
		Tier:             "web",
		Confidence:       0.6,
		LatencyMS:        1200,
		CostEstimate:     0.02,
		EscalationReason: "low_confidence",
		UserID:           "u1",
		Cancelled:        true,
	}
	if err := store.Insert(ctx, entry); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	entries, err := store.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	got := entries[0]
	if got.Tier != "web" || got.EscalationReason != "low_confidence" || !got.Cancelled {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestLoggerFlushesOnClose(t *testing.T) {
	store := NewMemoryStore()
	logger := NewLogger(store, LoggerConfig{BufferSize: 8, FlushInterval: time.Hour})

	for i := 0; i < 5; i++ {
		logger.Record(context.Background(), &Entry{RequestID: "r", Tier: "local"})
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, _ := store.List(context.Background(), 0)
	if len(entries) != 5 {
		t.Errorf("got %d entries after close, want 5", len(entries))
	}
}
