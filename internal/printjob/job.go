// Package printjob owns the print job model, its status state machine,
// and the transactional job stores.
package printjob

import (
	"errors"
	"fmt"
	"time"
)

// Status is a print job's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusScheduled Status = "scheduled"
	StatusUploading Status = "uploading"
	StatusPrinting  Status = "printing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// ErrInvalidTransition marks a status change the state machine forbids.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrNotFound marks a missing job id.
var ErrNotFound = errors.New("job not found")

// validNext is the authoritative state machine. FAILED→QUEUED is the
// retry edge and is additionally guarded by the retry counter.
var validNext = map[Status]map[Status]bool{
	StatusQueued:    {StatusScheduled: true, StatusCancelled: true},
	StatusScheduled: {StatusUploading: true, StatusFailed: true, StatusCancelled: true},
	StatusUploading: {StatusPrinting: true, StatusFailed: true, StatusCancelled: true},
	StatusPrinting:  {StatusCompleted: true, StatusFailed: true, StatusCancelled: true},
	StatusFailed:    {StatusQueued: true},
}

// ValidTransition reports whether from→to is allowed.
func ValidTransition(from, to Status) bool {
	return validNext[from][to]
}

// Terminal reports whether a status admits no further transitions
// except the guarded retry edge out of FAILED.
func Terminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Job is one print job. Identity fields are immutable after creation.
type Job struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	FilePath   string     `json:"file_path"`
	Material   string     `json:"material"`
	Priority   int        `json:"priority"` // 1..10, 1 is highest
	Deadline   *time.Time `json:"deadline,omitempty"`
	RetryCount int        `json:"retry_count"`
	MaxRetries int        `json:"max_retries"`

	Status         Status     `json:"status"`
	PrinterID      string     `json:"printer_id,omitempty"`
	QueuedAt       time.Time  `json:"queued_at"`
	ScheduledStart *time.Time `json:"scheduled_start,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	StatusReason   string     `json:"status_reason,omitempty"`

	// Mesh analysis results, consulted by the optimizer.
	MaxDimensionMM float64 `json:"max_dimension_mm,omitempty"`
	AnalysisFailed bool    `json:"analysis_failed,omitempty"`

	// Last optimizer decision for this job.
	Score          float64 `json:"score,omitempty"`
	ScoreReasoning string  `json:"score_reasoning,omitempty"`
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	clone := *j
	clone.Deadline = cloneTime(j.Deadline)
	clone.ScheduledStart = cloneTime(j.ScheduledStart)
	clone.StartedAt = cloneTime(j.StartedAt)
	clone.CompletedAt = cloneTime(j.CompletedAt)
	return &clone
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	clone := *t
	return &clone
}

// Validate checks the immutable fields of a new job.
func (j *Job) Validate() error {
	if j.ID == "" {
		return errors.New("job id is required")
	}
	if j.FilePath == "" {
		return errors.New("job file path is required")
	}
	if j.Priority < 1 || j.Priority > 10 {
		return fmt.Errorf("priority %d out of range 1..10", j.Priority)
	}
	if j.RetryCount > j.MaxRetries {
		return fmt.Errorf("retry count %d exceeds max retries %d", j.RetryCount, j.MaxRetries)
	}
	return nil
}

// HistoryEntry is one status change. The ordered history is the source
// of truth for a job's lifecycle.
type HistoryEntry struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	From      Status    `json:"from_status"`
	To        Status    `json:"to_status"`
	Reason    string    `json:"reason,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
	ChangedBy string    `json:"changed_by"`
}
