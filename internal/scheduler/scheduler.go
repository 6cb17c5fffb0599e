// Package scheduler assigns queued print jobs to idle printers on a
// fixed tick and hands the claimed jobs to the executor.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/atelierhq/atelier/internal/observability"
	"github.com/atelierhq/atelier/internal/optimizer"
	"github.com/atelierhq/atelier/internal/printer"
	"github.com/atelierhq/atelier/internal/printjob"
)

const actor = "scheduler"

// Dispatcher receives a job that has just been claimed for a printer.
// The executor implements this; tests substitute a recorder.
type Dispatcher interface {
	Execute(ctx context.Context, jobID string)
}

// Scheduler matches queued jobs to idle printers.
type Scheduler struct {
	store    printjob.Store
	drivers  *printer.Cache
	dispatch Dispatcher

	printerIDs      []string
	materials       map[string]string
	forced          map[string]bool
	tickInterval    time.Duration
	deadlineHorizon time.Duration

	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time

	cron    *cron.Cron
	entry   cron.EntryID
	mu      sync.Mutex
	started bool
}

// Config configures a Scheduler.
type Config struct {
	Store    printjob.Store
	Drivers  *printer.Cache
	Dispatch Dispatcher

	// PrinterIDs lists the printers the scheduler considers.
	PrinterIDs []string

	// Materials maps printer id to its loaded filament.
	Materials map[string]string

	// ForcedPrinters bypass the idle check; jobs targeting them are
	// claimed even while the printer reports busy.
	ForcedPrinters []string

	TickInterval    time.Duration // default 30s
	DeadlineHorizon time.Duration // default 24h

	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// New creates a scheduler. Start begins the tick loop.
func New(cfg Config) *Scheduler {
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = 30 * time.Second
	}
	horizon := cfg.DeadlineHorizon
	if horizon <= 0 {
		horizon = optimizer.DefaultDeadlineHorizon
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	forced := make(map[string]bool, len(cfg.ForcedPrinters))
	for _, id := range cfg.ForcedPrinters {
		forced[id] = true
	}
	ids := append([]string(nil), cfg.PrinterIDs...)
	sort.Strings(ids)

	return &Scheduler{
		store:           cfg.Store,
		drivers:         cfg.Drivers,
		dispatch:        cfg.Dispatch,
		printerIDs:      ids,
		materials:       cfg.Materials,
		forced:          forced,
		tickInterval:    tick,
		deadlineHorizon: horizon,
		metrics:         cfg.Metrics,
		logger:          logger.With("component", "scheduler"),
		now:             time.Now,
	}
}

// Start launches the periodic tick. Safe to call once.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	entry, err := s.cron.AddFunc("@every "+s.tickInterval.String(), func() {
		s.TickNow(ctx)
	})
	if err != nil {
		return err
	}
	s.entry = entry
	s.cron.Start()
	s.started = true
	s.logger.Info("scheduler started", "tick_interval", s.tickInterval)
	return nil
}

// Stop halts the tick loop and waits for an in-flight tick.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
	s.logger.Info("scheduler stopped")
}

// TickNow runs one scheduling pass immediately. Each idle printer gets
// at most one job per tick; claims are serialized so two printers never
// take the same job.
func (s *Scheduler) TickNow(ctx context.Context) {
	queued, err := s.store.ListByStatus(ctx, printjob.StatusQueued)
	if err != nil {
		s.logger.Error("list queued jobs failed", "error", err)
		return
	}
	if len(queued) == 0 {
		return
	}

	idle := s.idlePrinters(ctx)
	if len(idle) == 0 {
		return
	}

	for _, id := range idle {
		job := optimizer.Select(queued, optimizer.Printer{
			ID:                  id,
			CurrentMaterial:     s.materials[id],
			MinBuildDimensionMM: s.minDimension(ctx, id),
		}, s.deadlineHorizon, s.now())
		if job == nil {
			continue
		}

		claimed, err := s.store.Claim(ctx, job.ID, id, job.Score, job.ScoreReasoning, actor)
		if err != nil {
			s.logger.Error("claim failed", "job_id", job.ID, "printer_id", id, "error", err)
			continue
		}
		if !claimed {
			// Lost the race to another actor; refresh the snapshot so
			// the next printer does not pick the same job.
			queued = remove(queued, job.ID)
			continue
		}

		queued = remove(queued, job.ID)
		if s.metrics != nil {
			s.metrics.SchedulerAssignments.WithLabelValues(id).Inc()
			s.metrics.JobTransitions.WithLabelValues(
				string(printjob.StatusQueued), string(printjob.StatusScheduled)).Inc()
		}
		s.logger.Info("job assigned", "job_id", job.ID, "printer_id", id,
			"score", job.Score, "reasoning", job.ScoreReasoning)

		if s.dispatch != nil {
			go s.dispatch.Execute(ctx, job.ID)
		}
	}
}

// idlePrinters snapshots every printer's status concurrently and
// returns the ids eligible for work, sorted for deterministic order.
func (s *Scheduler) idlePrinters(ctx context.Context) []string {
	type result struct {
		id   string
		idle bool
	}
	results := make(chan result, len(s.printerIDs))
	var wg sync.WaitGroup
	for _, id := range s.printerIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if s.forced[id] {
				results <- result{id, true}
				return
			}
			driver, err := s.drivers.Get(ctx, id)
			if err != nil {
				s.logger.Warn("printer unreachable", "printer_id", id, "error", err)
				results <- result{id, false}
				return
			}
			status, err := driver.Status(ctx)
			if err != nil {
				results <- result{id, false}
				return
			}
			results <- result{id, status.Idle()}
		}(id)
	}
	wg.Wait()
	close(results)

	var idle []string
	for r := range results {
		if r.idle {
			idle = append(idle, r.id)
		}
	}
	sort.Strings(idle)
	return idle
}

func (s *Scheduler) minDimension(ctx context.Context, id string) float64 {
	if s.forced[id] {
		return 0
	}
	driver, err := s.drivers.Get(ctx, id)
	if err != nil {
		return 0
	}
	return driver.Capabilities().MinBuildDimensionMM()
}

// Cancel cancels a job. Terminal and failed jobs are left untouched
// and reported as not cancelled.
func (s *Scheduler) Cancel(ctx context.Context, jobID, reason string) (bool, error) {
	return s.store.Cancel(ctx, jobID, reason, actor)
}

// Retry requeues a failed job when retries remain.
func (s *Scheduler) Retry(ctx context.Context, jobID string) (*printjob.Job, error) {
	return s.store.Retry(ctx, jobID, actor)
}

// UpdatePriority changes a queued job's priority ahead of the next tick.
func (s *Scheduler) UpdatePriority(ctx context.Context, jobID string, priority int) error {
	return s.store.UpdatePriority(ctx, jobID, priority, actor)
}

func remove(jobs []*printjob.Job, id string) []*printjob.Job {
	out := jobs[:0]
	for _, j := range jobs {
		if j.ID != id {
			out = append(out, j)
		}
	}
	return out
}
