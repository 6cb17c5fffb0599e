package printjob

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusScheduled, true},
		{StatusQueued, StatusCancelled, true},
		{StatusScheduled, StatusUploading, true},
		{StatusUploading, StatusPrinting, true},
		{StatusUploading, StatusFailed, true},
		{StatusPrinting, StatusCompleted, true},
		{StatusPrinting, StatusFailed, true},
		{StatusPrinting, StatusCancelled, true},
		{StatusFailed, StatusQueued, true},
		{StatusQueued, StatusPrinting, false},
		{StatusCompleted, StatusQueued, false},
		{StatusCancelled, StatusScheduled, false},
		{StatusFailed, StatusScheduled, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func newJob(id string) *Job {
	return &Job{
		ID:         id,
		Name:       "bracket",
		FilePath:   "/models/bracket.gcode",
		Material:   "PLA",
		Priority:   5,
		MaxRetries: 2,
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Create(ctx, newJob("job-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ok, err := store.Claim(ctx, "job-1", "bamboo", 75, "priority 5", "scheduler")
	if err != nil || !ok {
		t.Fatalf("Claim: ok=%v err=%v", ok, err)
	}
	for _, to := range []Status{StatusUploading, StatusPrinting, StatusCompleted} {
		if _, err := store.Transition(ctx, "job-1", to, "", "executor"); err != nil {
			t.Fatalf("Transition to %s: %v", to, err)
		}
	}

	job, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != StatusCompleted || job.PrinterID != "bamboo" {
		t.Errorf("job = %+v", job)
	}
	if job.StartedAt == nil || job.CompletedAt == nil || job.ScheduledStart == nil {
		t.Error("timestamps should be stamped")
	}

	history, err := store.History(ctx, "job-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history entries = %d, want 4", len(history))
	}
	for _, entry := range history {
		if !ValidTransition(entry.From, entry.To) {
			t.Errorf("history has invalid edge %s → %s", entry.From, entry.To)
		}
	}
}

func TestClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Create(ctx, newJob("job-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var wg sync.WaitGroup
	wins := make(chan string, 8)
	for _, printer := range []string{"bamboo", "elegoo", "prusa", "voron"} {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			ok, err := store.Claim(ctx, "job-1", p, 0, "", "scheduler")
			if err != nil {
				t.Errorf("Claim(%s): %v", p, err)
			}
			if ok {
				wins <- p
			}
		}(printer)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("exactly one claim should win, got %v", winners)
	}
	job, _ := store.Get(ctx, "job-1")
	if job.PrinterID != winners[0] {
		t.Errorf("assigned printer %q != winner %q", job.PrinterID, winners[0])
	}
}

func TestCancelTerminalIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Create(ctx, newJob("job-1"))
	store.Claim(ctx, "job-1", "bamboo", 0, "", "scheduler")
	store.Transition(ctx, "job-1", StatusUploading, "", "executor")
	store.Transition(ctx, "job-1", StatusPrinting, "", "executor")
	store.Transition(ctx, "job-1", StatusCompleted, "", "executor")

	ok, err := store.Cancel(ctx, "job-1", "user request", "user")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ok {
		t.Error("cancel on terminal job should return false")
	}
	job, _ := store.Get(ctx, "job-1")
	if job.Status != StatusCompleted {
		t.Errorf("status mutated to %s", job.Status)
	}
}

func TestCancelNonTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Create(ctx, newJob("job-1"))

	ok, err := store.Cancel(ctx, "job-1", "user request", "user")
	if err != nil || !ok {
		t.Fatalf("Cancel: ok=%v err=%v", ok, err)
	}
	job, _ := store.Get(ctx, "job-1")
	if job.Status != StatusCancelled {
		t.Errorf("status = %s", job.Status)
	}
}

func TestRetrySemantics(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Create(ctx, newJob("job-1"))
	store.Claim(ctx, "job-1", "bamboo", 0, "", "scheduler")
	store.Transition(ctx, "job-1", StatusUploading, "", "executor")
	store.Transition(ctx, "job-1", StatusFailed, "upload failed", "executor")

	job, err := store.Retry(ctx, "job-1", "executor")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if job.Status != StatusQueued || job.RetryCount != 1 {
		t.Errorf("job = %+v", job)
	}
	if job.PrinterID != "" || job.ScheduledStart != nil {
		t.Error("retry should clear the printer assignment")
	}

	if _, err := store.Retry(ctx, "job-1", "executor"); err == nil {
		t.Error("retry from QUEUED should fail")
	}
}

func TestRetryExhausted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	job := newJob("job-1")
	job.MaxRetries = 1
	job.RetryCount = 1
	job.Status = StatusFailed
	store.Create(ctx, job)

	if _, err := store.Retry(ctx, "job-1", "executor"); err == nil {
		t.Error("exhausted retries should fail")
	}
}

func TestUpdatePriority(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Create(ctx, newJob("job-1"))

	if err := store.UpdatePriority(ctx, "job-1", 2, "user"); err != nil {
		t.Fatalf("UpdatePriority: %v", err)
	}
	if err := store.UpdatePriority(ctx, "job-1", 2, "user"); err != nil {
		t.Fatalf("repeat UpdatePriority: %v", err)
	}
	job, _ := store.Get(ctx, "job-1")
	if job.Priority != 2 || job.Status != StatusQueued {
		t.Errorf("job = %+v", job)
	}

	if err := store.UpdatePriority(ctx, "job-1", 0, "user"); err == nil {
		t.Error("priority 0 should be rejected")
	}
}

func TestInvalidTransitionError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Create(ctx, newJob("job-1"))

	_, err := store.Transition(ctx, "job-1", StatusPrinting, "", "executor")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v", err)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	deadline := time.Now().Add(4 * time.Hour).UTC()
	job := newJob("job-1")
	job.Deadline = &deadline
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ok, err := store.Claim(ctx, "job-1", "elegoo", 120, "overdue", "scheduler")
	if err != nil || !ok {
		t.Fatalf("Claim: ok=%v err=%v", ok, err)
	}
	if ok, _ := store.Claim(ctx, "job-1", "bamboo", 0, "", "scheduler"); ok {
		t.Error("second claim should lose")
	}

	if _, err := store.Transition(ctx, "job-1", StatusUploading, "", "executor"); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if _, err := store.Transition(ctx, "job-1", StatusFailed, "printer offline", "executor"); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	retried, err := store.Retry(ctx, "job-1", "executor")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.RetryCount != 1 || retried.Status != StatusQueued {
		t.Errorf("retried = %+v", retried)
	}

	queued, err := store.ListByStatus(ctx, StatusQueued)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != "job-1" {
		t.Errorf("queued = %+v", queued)
	}
	if queued[0].Deadline == nil {
		t.Error("deadline should round-trip")
	}

	history, err := store.History(ctx, "job-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("history = %d entries, want 4", len(history))
	}
	for _, entry := range history {
		if !ValidTransition(entry.From, entry.To) {
			t.Errorf("invalid edge in history: %s → %s", entry.From, entry.To)
		}
	}
}
