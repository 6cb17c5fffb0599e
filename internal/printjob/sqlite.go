package printjob

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists jobs and history in SQLite. Each status change
// runs in one transaction covering the job row and the history append.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the job database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS print_jobs (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL,
			file_path        TEXT NOT NULL,
			material         TEXT NOT NULL DEFAULT '',
			priority         INTEGER NOT NULL,
			deadline         TIMESTAMP,
			retry_count      INTEGER NOT NULL DEFAULT 0,
			max_retries      INTEGER NOT NULL DEFAULT 0,
			status           TEXT NOT NULL,
			printer_id       TEXT NOT NULL DEFAULT '',
			queued_at        TIMESTAMP NOT NULL,
			scheduled_start  TIMESTAMP,
			started_at       TIMESTAMP,
			completed_at     TIMESTAMP,
			status_reason    TEXT NOT NULL DEFAULT '',
			max_dimension_mm REAL NOT NULL DEFAULT 0,
			analysis_failed  INTEGER NOT NULL DEFAULT 0,
			score            REAL NOT NULL DEFAULT 0,
			score_reasoning  TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_print_jobs_status ON print_jobs(status, queued_at);

		CREATE TABLE IF NOT EXISTS job_status_history (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id     TEXT NOT NULL,
			from_status TEXT NOT NULL,
			to_status  TEXT NOT NULL,
			reason     TEXT NOT NULL DEFAULT '',
			changed_at TIMESTAMP NOT NULL,
			changed_by TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_job_history_job ON job_status_history(job_id, id);
	`)
	if err != nil {
		return fmt.Errorf("migrate job store: %w", err)
	}
	return nil
}

// Create inserts a new job in QUEUED.
func (s *SQLiteStore) Create(ctx context.Context, job *Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	clone := job.Clone()
	if clone.Status == "" {
		clone.Status = StatusQueued
	}
	if clone.QueuedAt.IsZero() {
		clone.QueuedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO print_jobs (
			id, name, file_path, material, priority, deadline,
			retry_count, max_retries, status, printer_id, queued_at,
			scheduled_start, started_at, completed_at, status_reason,
			max_dimension_mm, analysis_failed, score, score_reasoning
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		clone.ID, clone.Name, clone.FilePath, clone.Material, clone.Priority, clone.Deadline,
		clone.RetryCount, clone.MaxRetries, string(clone.Status), clone.PrinterID, clone.QueuedAt,
		clone.ScheduledStart, clone.StartedAt, clone.CompletedAt, clone.StatusReason,
		clone.MaxDimensionMM, boolToInt(clone.AnalysisFailed), clone.Score, clone.ScoreReasoning,
	)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

const jobColumns = `id, name, file_path, material, priority, deadline,
	retry_count, max_retries, status, printer_id, queued_at,
	scheduled_start, started_at, completed_at, status_reason,
	max_dimension_mm, analysis_failed, score, score_reasoning`

// Get returns a job by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM print_jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ListByStatus returns jobs in a status, oldest first.
func (s *SQLiteStore) ListByStatus(ctx context.Context, status Status) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM print_jobs WHERE status = ? ORDER BY queued_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Claim performs the conditional QUEUED→SCHEDULED update; the WHERE
// clause on status makes concurrent claims race safely.
func (s *SQLiteStore) Claim(ctx context.Context, id, printerID string, score float64, reasoning string, actor string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", id, err)
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		UPDATE print_jobs
		SET status = ?, printer_id = ?, scheduled_start = ?, score = ?, score_reasoning = ?
		WHERE id = ? AND status = ?`,
		string(StatusScheduled), printerID, now, score, reasoning, id, string(StatusQueued))
	if err != nil {
		return false, fmt.Errorf("claim job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}
	if err := appendHistoryTx(ctx, tx, id, StatusQueued, StatusScheduled, "assigned to "+printerID, actor, now); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// Transition applies one validated state-machine edge transactionally.
func (s *SQLiteStore) Transition(ctx context.Context, id string, to Status, reason, actor string) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("transition job %s: %w", id, err)
	}
	defer tx.Rollback()

	job, err := getJobTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if !ValidTransition(job.Status, to) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, job.Status, to)
	}
	if err := applyTx(ctx, tx, job, to, reason, actor); err != nil {
		return nil, err
	}
	return job, tx.Commit()
}

// Cancel moves a non-terminal job to CANCELLED; false on terminal.
func (s *SQLiteStore) Cancel(ctx context.Context, id, reason, actor string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("cancel job %s: %w", id, err)
	}
	defer tx.Rollback()

	job, err := getJobTx(ctx, tx, id)
	if err != nil {
		return false, err
	}
	if Terminal(job.Status) || job.Status == StatusFailed {
		return false, nil
	}
	if err := applyTx(ctx, tx, job, StatusCancelled, reason, actor); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// Retry returns a FAILED job to QUEUED with an incremented counter.
func (s *SQLiteStore) Retry(ctx context.Context, id, actor string) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("retry job %s: %w", id, err)
	}
	defer tx.Rollback()

	job, err := getJobTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusFailed {
		return nil, fmt.Errorf("%w: retry from %s", ErrInvalidTransition, job.Status)
	}
	if job.RetryCount >= job.MaxRetries {
		return nil, fmt.Errorf("job %s exhausted retries (%d/%d)", id, job.RetryCount, job.MaxRetries)
	}

	now := time.Now()
	job.RetryCount++
	reason := fmt.Sprintf("retry %d/%d", job.RetryCount, job.MaxRetries)
	_, err = tx.ExecContext(ctx, `
		UPDATE print_jobs
		SET status = ?, retry_count = ?, printer_id = '', scheduled_start = NULL,
		    started_at = NULL, status_reason = ?
		WHERE id = ?`,
		string(StatusQueued), job.RetryCount, reason, id)
	if err != nil {
		return nil, fmt.Errorf("retry job %s: %w", id, err)
	}
	if err := appendHistoryTx(ctx, tx, id, StatusFailed, StatusQueued, reason, actor, now); err != nil {
		return nil, err
	}
	job.Status = StatusQueued
	job.PrinterID = ""
	job.ScheduledStart = nil
	job.StartedAt = nil
	job.StatusReason = reason
	return job, tx.Commit()
}

// UpdatePriority mutates priority only.
func (s *SQLiteStore) UpdatePriority(ctx context.Context, id string, priority int, actor string) error {
	if priority < 1 || priority > 10 {
		return fmt.Errorf("priority %d out of range 1..10", priority)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE print_jobs SET priority = ? WHERE id = ?`, priority, id)
	if err != nil {
		return fmt.Errorf("update priority for %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// History returns a job's status changes in order.
func (s *SQLiteStore) History(ctx context.Context, jobID string) ([]*HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, from_status, to_status, reason, changed_at, changed_by
		FROM job_status_history WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("job history: %w", err)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		entry := &HistoryEntry{}
		var from, to string
		if err := rows.Scan(&entry.ID, &entry.JobID, &from, &to, &entry.Reason, &entry.ChangedAt, &entry.ChangedBy); err != nil {
			return nil, err
		}
		entry.From = Status(from)
		entry.To = Status(to)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	job := &Job{}
	var status string
	var analysisFailed int
	err := row.Scan(
		&job.ID, &job.Name, &job.FilePath, &job.Material, &job.Priority, &job.Deadline,
		&job.RetryCount, &job.MaxRetries, &status, &job.PrinterID, &job.QueuedAt,
		&job.ScheduledStart, &job.StartedAt, &job.CompletedAt, &job.StatusReason,
		&job.MaxDimensionMM, &analysisFailed, &job.Score, &job.ScoreReasoning,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.Status = Status(status)
	job.AnalysisFailed = analysisFailed != 0
	return job, nil
}

func getJobTx(ctx context.Context, tx *sql.Tx, id string) (*Job, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM print_jobs WHERE id = ?`, id)
	return scanJob(row)
}

func applyTx(ctx context.Context, tx *sql.Tx, job *Job, to Status, reason, actor string) error {
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
	_, err := tx.ExecContext(ctx, `
		UPDATE print_jobs
		SET status = ?, status_reason = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		string(to), reason, job.StartedAt, job.CompletedAt, job.ID)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	return appendHistoryTx(ctx, tx, job.ID, from, to, reason, actor, now)
}

func appendHistoryTx(ctx context.Context, tx *sql.Tx, jobID string, from, to Status, reason, actor string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO job_status_history (job_id, from_status, to_status, reason, changed_at, changed_by)
		VALUES (?, ?, ?, ?, ?, ?)`,
		jobID, string(from), string(to), reason, at, actor)
	if err != nil {
		return fmt.Errorf("append history for %s: %w", jobID, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
