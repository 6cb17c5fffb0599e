// Package optimizer picks the single best queued job for a printer.
// Select is a pure function of the queue snapshot, the printer, and
// the clock; it never touches stores.
package optimizer

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/atelierhq/atelier/internal/printjob"
)

// DefaultDeadlineHorizon is the window in which approaching deadlines
// start raising a job's score.
const DefaultDeadlineHorizon = 24 * time.Hour

// Scoring weights.
const (
	overdueScore      = 1000.0
	deadlineMaxScore  = 500.0
	materialScore     = 50.0
	fifoMaxHours      = 10.0
	priorityUnitScore = 10.0
)

// Printer is the optimizer's view of one target printer.
type Printer struct {
	ID string

	// CurrentMaterial is the loaded filament, used for batching.
	CurrentMaterial string

	// MinBuildDimensionMM is the smallest build-volume axis. Zero
	// disables the fit check.
	MinBuildDimensionMM float64
}

// Select returns the best queued job for the printer, with score and
// reasoning recorded on the returned copy, or nil when nothing fits.
func Select(jobs []*printjob.Job, printer Printer, horizon time.Duration, now time.Time) *printjob.Job {
	if horizon <= 0 {
		horizon = DefaultDeadlineHorizon
	}

	var best *printjob.Job
	var bestScore float64
	for _, job := range jobs {
		if job.Status != printjob.StatusQueued {
			continue
		}
		if job.AnalysisFailed {
			continue
		}
		if printer.MinBuildDimensionMM > 0 && job.MaxDimensionMM > printer.MinBuildDimensionMM {
			continue
		}

		score, reasoning := Score(job, printer.CurrentMaterial, horizon, now)
		if best == nil || score > bestScore ||
			(score == bestScore && job.QueuedAt.Before(best.QueuedAt)) {
			candidate := job.Clone()
			candidate.Score = score
			candidate.ScoreReasoning = reasoning
			best = candidate
			bestScore = score
		}
	}
	return best
}

// Score computes a job's priority score against a printer's loaded
// material. Higher is better.
func Score(job *printjob.Job, currentMaterial string, horizon time.Duration, now time.Time) (float64, string) {
	var score float64
	var reasons []string

	switch {
	case job.Deadline == nil:
		// No deadline contributes nothing.
	case job.Deadline.Before(now):
		score += overdueScore
		reasons = append(reasons, "overdue")
	default:
		remaining := job.Deadline.Sub(now)
		if remaining <= horizon {
			urgency := deadlineMaxScore * (1 - remaining.Hours()/horizon.Hours())
			score += urgency
			reasons = append(reasons, fmt.Sprintf("deadline in %.1fh (+%.0f)", remaining.Hours(), urgency))
		}
	}

	priority := float64(11-job.Priority) * priorityUnitScore
	score += priority
	reasons = append(reasons, fmt.Sprintf("priority %d (+%.0f)", job.Priority, priority))

	if currentMaterial != "" && strings.EqualFold(currentMaterial, job.Material) {
		score += materialScore
		reasons = append(reasons, fmt.Sprintf("material match %s (+%.0f)", job.Material, materialScore))
	}

	waited := math.Min(now.Sub(job.QueuedAt).Hours(), fifoMaxHours)
	if waited > 0 {
		score += waited
		reasons = append(reasons, fmt.Sprintf("queued %.1fh (+%.1f)", waited, waited))
	}

	return score, strings.Join(reasons, ", ")
}
