package printjob

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store persists jobs and their status history. Every status change is
// one transaction that mutates the job and appends a history row.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)

	// ListByStatus returns jobs in a status, oldest queued first.
	ListByStatus(ctx context.Context, status Status) ([]*Job, error)

	// Claim atomically transitions a QUEUED job to SCHEDULED on a
	// printer. Returns false when the job was no longer claimable;
	// concurrent ticks racing on the same job see exactly one true.
	Claim(ctx context.Context, id, printerID string, score float64, reasoning string, actor string) (bool, error)

	// Transition applies a state-machine edge with reason and actor.
	Transition(ctx context.Context, id string, to Status, reason, actor string) (*Job, error)

	// Cancel moves any non-terminal job to CANCELLED. Returns false as
	// a no-op when the job was already terminal.
	Cancel(ctx context.Context, id, reason, actor string) (bool, error)

	// Retry returns a FAILED job to QUEUED, incrementing the retry
	// counter and clearing the printer assignment. Valid only while
	// retry_count < max_retries.
	Retry(ctx context.Context, id, actor string) (*Job, error)

	// UpdatePriority mutates priority only; no status transition.
	UpdatePriority(ctx context.Context, id string, priority int, actor string) error

	History(ctx context.Context, jobID string) ([]*HistoryEntry, error)
	Close() error
}

// MemoryStore is the in-process Store used by tests and dev runs.
type MemoryStore struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	history []*HistoryEntry
	nextID  int64
}

// NewMemoryStore returns an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

// Create stores a new job in QUEUED.
func (s *MemoryStore) Create(ctx context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	clone := job.Clone()
	if clone.Status == "" {
		clone.Status = StatusQueued
	}
	if clone.QueuedAt.IsZero() {
		clone.QueuedAt = time.Now()
	}
	s.jobs[job.ID] = clone
	return nil
}

// Get returns a copy of a job.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

// ListByStatus returns copies of all jobs in a status, oldest first.
func (s *MemoryStore) ListByStatus(ctx context.Context, status Status) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, job := range s.jobs {
		if job.Status == status {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	return out, nil
}

// Claim implements the serialized QUEUED→SCHEDULED edge.
func (s *MemoryStore) Claim(ctx context.Context, id, printerID string, score float64, reasoning string, actor string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if job.Status != StatusQueued {
		return false, nil
	}
	now := time.Now()
	job.Status = StatusScheduled
	job.PrinterID = printerID
	job.ScheduledStart = &now
	job.Score = score
	job.ScoreReasoning = reasoning
	s.appendHistory(job.ID, StatusQueued, StatusScheduled, "assigned to "+printerID, actor, now)
	return true, nil
}

// Transition applies one state-machine edge.
func (s *MemoryStore) Transition(ctx context.Context, id string, to Status, reason, actor string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !ValidTransition(job.Status, to) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, job.Status, to)
	}
	s.apply(job, to, reason, actor)
	return job.Clone(), nil
}

// Cancel is a no-op returning false on terminal jobs.
func (s *MemoryStore) Cancel(ctx context.Context, id, reason, actor string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if Terminal(job.Status) || job.Status == StatusFailed {
		return false, nil
	}
	s.apply(job, StatusCancelled, reason, actor)
	return true, nil
}

// Retry returns a FAILED job to QUEUED when retries remain.
func (s *MemoryStore) Retry(ctx context.Context, id, actor string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Status != StatusFailed {
		return nil, fmt.Errorf("%w: retry from %s", ErrInvalidTransition, job.Status)
	}
	if job.RetryCount >= job.MaxRetries {
		return nil, fmt.Errorf("job %s exhausted retries (%d/%d)", id, job.RetryCount, job.MaxRetries)
	}
	job.RetryCount++
	job.PrinterID = ""
	job.ScheduledStart = nil
	job.StartedAt = nil
	s.apply(job, StatusQueued, fmt.Sprintf("retry %d/%d", job.RetryCount, job.MaxRetries), actor)
	return job.Clone(), nil
}

// UpdatePriority mutates priority and logs it without a transition.
func (s *MemoryStore) UpdatePriority(ctx context.Context, id string, priority int, actor string) error {
	if priority < 1 || priority > 10 {
		return fmt.Errorf("priority %d out of range 1..10", priority)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Priority == priority {
		return nil
	}
	job.Priority = priority
	return nil
}

// History returns a job's status changes in order.
func (s *MemoryStore) History(ctx context.Context, jobID string) ([]*HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*HistoryEntry
	for _, entry := range s.history {
		if entry.JobID == jobID {
			clone := *entry
			out = append(out, &clone)
		}
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }

// apply mutates the job for a validated transition and appends history.
// Caller holds the lock.
func (s *MemoryStore) apply(job *Job, to Status, reason, actor string) {
	from := job.Status
	now := time.Now()
	job.Status = to
	job.StatusReason = reason
	switch to {
	case StatusPrinting:
		job.StartedAt = &now
	case StatusCompleted, StatusFailed, StatusCancelled:
		job.CompletedAt = &now
	}
	s.appendHistory(job.ID, from, to, reason, actor, now)
}

func (s *MemoryStore) appendHistory(jobID string, from, to Status, reason, actor string, at time.Time) {
	s.nextID++
	s.history = append(s.history, &HistoryEntry{
		ID:        s.nextID,
		JobID:     jobID,
		From:      from,
		To:        to,
		Reason:    reason,
		ChangedAt: at,
		ChangedBy: actor,
	})
}
