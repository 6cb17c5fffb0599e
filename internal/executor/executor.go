// Package executor runs a single print job's lifecycle on its assigned
// printer: upload, start, poll to a terminal state, retry on failure.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/atelierhq/atelier/internal/observability"
	"github.com/atelierhq/atelier/internal/printer"
	"github.com/atelierhq/atelier/internal/printjob"
)

const actor = "executor"

// Snapshotter captures camera snapshots during a print. Optional.
type Snapshotter interface {
	Capture(ctx context.Context, printerID, tag string) error
}

// Executor drives job lifecycles. Executions for different jobs run in
// parallel and hold no locks on each other.
type Executor struct {
	store   printjob.Store
	drivers *printer.Cache

	statusPollInterval time.Duration
	snapshotInterval   time.Duration
	retryDelay         time.Duration
	uploadTimeout      time.Duration

	snapshots Snapshotter
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// Config configures an Executor.
type Config struct {
	Store   printjob.Store
	Drivers *printer.Cache

	StatusPollInterval time.Duration // default 10s
	SnapshotInterval   time.Duration // default 5m
	RetryDelay         time.Duration // default 30s
	UploadTimeout      time.Duration // default 300s

	Snapshots Snapshotter
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// New creates an executor.
func New(cfg Config) *Executor {
	statusPoll := cfg.StatusPollInterval
	if statusPoll <= 0 {
		statusPoll = 10 * time.Second
	}
	snapshot := cfg.SnapshotInterval
	if snapshot <= 0 {
		snapshot = 5 * time.Minute
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 30 * time.Second
	}
	uploadTimeout := cfg.UploadTimeout
	if uploadTimeout <= 0 {
		uploadTimeout = 300 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:              cfg.Store,
		drivers:            cfg.Drivers,
		statusPollInterval: statusPoll,
		snapshotInterval:   snapshot,
		retryDelay:         retryDelay,
		uploadTimeout:      uploadTimeout,
		snapshots:          cfg.Snapshots,
		metrics:            cfg.Metrics,
		logger:             logger.With("component", "executor"),
	}
}

// Execute runs one SCHEDULED job to a terminal state. Errors never
// propagate to the caller; they become job status.
func (e *Executor) Execute(ctx context.Context, jobID string) {
	ctx, span := observability.StartSpan(ctx, "job.execute",
		attribute.String("job_id", jobID))
	defer span.End()

	job, err := e.store.Get(ctx, jobID)
	if err != nil {
		e.logger.Error("job lookup failed", "job_id", jobID, "error", err)
		return
	}
	logger := e.logger.With("job_id", job.ID, "printer_id", job.PrinterID)

	driver, err := e.drivers.Get(ctx, job.PrinterID)
	if err != nil {
		logger.Warn("driver unavailable", "error", err)
		e.fail(ctx, job, fmt.Sprintf("driver unavailable: %v", err))
		return
	}

	// Upload.
	if _, err := e.transition(ctx, job, printjob.StatusUploading, ""); err != nil {
		logger.Error("transition to uploading failed", "error", err)
		return
	}
	uploadCtx, cancel := context.WithTimeout(ctx, e.uploadTimeout)
	remoteName, err := driver.UploadGCode(uploadCtx, job.FilePath, filepath.Base(job.FilePath))
	cancel()
	if err != nil {
		logger.Warn("upload failed", "error", err)
		e.fail(ctx, job, fmt.Sprintf("upload failed: %v", err))
		return
	}

	// Start.
	if _, err := e.transition(ctx, job, printjob.StatusPrinting, ""); err != nil {
		logger.Error("transition to printing failed", "error", err)
		return
	}
	if err := driver.StartPrint(ctx, remoteName); err != nil {
		logger.Warn("start print failed", "error", err)
		e.fail(ctx, job, fmt.Sprintf("start failed: %v", err))
		return
	}
	e.capture(ctx, job.PrinterID, "first_layer")

	e.poll(ctx, job, driver, logger)
}

// poll watches the printer until the job reaches a terminal state.
func (e *Executor) poll(ctx context.Context, job *printjob.Job, driver printer.Driver, logger *slog.Logger) {
	ticker := time.NewTicker(e.statusPollInterval)
	defer ticker.Stop()
	lastSnapshot := time.Now()

	for {
		select {
		case <-ctx.Done():
			logger.Info("executor stopped, job remains printing", "error", ctx.Err())
			return
		case <-ticker.C:
		}

		// Cancellation may have landed through the control plane.
		current, err := e.store.Get(ctx, job.ID)
		if err == nil && current.Status == printjob.StatusCancelled {
			if err := driver.CancelPrint(ctx); err != nil {
				logger.Warn("driver cancel failed", "error", err)
			}
			return
		}

		status, err := driver.Status(ctx)
		if err != nil {
			logger.Warn("status poll failed", "error", err)
			if e.metrics != nil {
				e.metrics.DriverErrors.WithLabelValues(job.PrinterID, "status").Inc()
			}
			continue
		}

		switch {
		case !status.Online || status.State == printer.StateOffline:
			e.fail(ctx, job, "printer offline")
			return
		case status.State == printer.StateError:
			msg := status.ErrorMessage
			if msg == "" {
				msg = "printer reported an error"
			}
			e.fail(ctx, job, msg)
			return
		case status.State == printer.StateComplete:
			if _, err := e.transition(ctx, job, printjob.StatusCompleted, ""); err != nil {
				logger.Error("transition to completed failed", "error", err)
			}
			return
		}

		if time.Since(lastSnapshot) >= e.snapshotInterval {
			e.capture(ctx, job.PrinterID, "progress")
			lastSnapshot = time.Now()
		}
	}
}

// fail transitions the job to FAILED and requeues it when retries
// remain.
func (e *Executor) fail(ctx context.Context, job *printjob.Job, reason string) {
	failed, err := e.transition(ctx, job, printjob.StatusFailed, reason)
	if err != nil {
		e.logger.Error("transition to failed failed", "job_id", job.ID, "error", err)
		return
	}
	if failed.RetryCount >= failed.MaxRetries {
		e.logger.Info("job failed permanently", "job_id", job.ID, "reason", reason,
			"retries", failed.RetryCount)
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(e.retryDelay):
	}
	retried, err := e.store.Retry(ctx, job.ID, actor)
	if err != nil {
		e.logger.Warn("retry failed", "job_id", job.ID, "error", err)
		return
	}
	if e.metrics != nil {
		e.metrics.JobTransitions.WithLabelValues(string(printjob.StatusFailed), string(printjob.StatusQueued)).Inc()
	}
	e.logger.Info("job requeued for retry", "job_id", job.ID,
		"retry_count", retried.RetryCount, "max_retries", retried.MaxRetries)
}

func (e *Executor) transition(ctx context.Context, job *printjob.Job, to printjob.Status, reason string) (*printjob.Job, error) {
	from := job.Status
	updated, err := e.store.Transition(ctx, job.ID, to, reason, actor)
	if err != nil {
		// ErrInvalidTransition means another actor won a status race;
		// either way this job is no longer ours to drive.
		return nil, err
	}
	job.Status = updated.Status
	if e.metrics != nil {
		e.metrics.JobTransitions.WithLabelValues(string(from), string(to)).Inc()
	}
	return updated, nil
}

func (e *Executor) capture(ctx context.Context, printerID, tag string) {
	if e.snapshots == nil {
		return
	}
	if err := e.snapshots.Capture(ctx, printerID, tag); err != nil {
		e.logger.Warn("snapshot failed", "printer_id", printerID, "tag", tag, "error", err)
	}
}
