package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides the prometheus instruments used across the core.
//
// Tracked surfaces:
//   - Routing turns by tier and cache outcome
//   - Estimated spend by tier
//   - Agent loop iterations and tool executions
//   - Print scheduler assignments and job state transitions
//   - Printer driver errors by kind
type Metrics struct {
	// RoutingTurns counts routing results.
	// Labels: tier (local|web|frontier), cached (true|false)
	RoutingTurns *prometheus.CounterVec

	// RoutingLatency measures end-to-end routing latency in seconds.
	// Labels: tier
	RoutingLatency *prometheus.HistogramVec

	// CostEstimate accumulates estimated spend by tier.
	// Labels: tier
	CostEstimate *prometheus.CounterVec

	// LocalRatio is the share of turns answered locally (SLO gauge).
	LocalRatio prometheus.Gauge

	// CacheLookups counts cache lookups.
	// Labels: mode (exact|semantic), outcome (hit|miss|skip)
	CacheLookups *prometheus.CounterVec

	// AgentIterations observes ReAct iterations per run.
	AgentIterations prometheus.Histogram

	// ToolExecutions counts MCP tool dispatches.
	// Labels: tool, status (success|error|blocked)
	ToolExecutions *prometheus.CounterVec

	// SchedulerAssignments counts job→printer assignments.
	// Labels: printer
	SchedulerAssignments *prometheus.CounterVec

	// JobTransitions counts print job status transitions.
	// Labels: from, to
	JobTransitions *prometheus.CounterVec

	// DriverErrors counts driver failures.
	// Labels: printer, kind (file_not_found|connection|invalid_value|timeout)
	DriverErrors *prometheus.CounterVec
}

// NewMetrics registers and returns the core metrics on the given
// registerer (nil uses the default registry).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RoutingTurns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_routing_turns_total",
			Help: "Routing turns by tier and cache outcome.",
		}, []string{"tier", "cached"}),
		RoutingLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "atelier_routing_latency_seconds",
			Help:    "End-to-end routing latency.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"tier"}),
		CostEstimate: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_cost_estimate_total",
			Help: "Estimated spend by tier in unit-cost terms.",
		}, []string{"tier"}),
		LocalRatio: factory.NewGauge(prometheus.GaugeOpts{
			Name: "atelier_local_ratio",
			Help: "Share of turns answered by the local tier.",
		}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_cache_lookups_total",
			Help: "Cache lookups by mode and outcome.",
		}, []string{"mode", "outcome"}),
		AgentIterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "atelier_agent_iterations",
			Help:    "ReAct iterations per agent run.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_tool_executions_total",
			Help: "MCP tool dispatches by status.",
		}, []string{"tool", "status"}),
		SchedulerAssignments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_scheduler_assignments_total",
			Help: "Print job assignments by printer.",
		}, []string{"printer"}),
		JobTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_job_transitions_total",
			Help: "Print job status transitions.",
		}, []string{"from", "to"}),
		DriverErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "atelier_driver_errors_total",
			Help: "Printer driver failures by kind.",
		}, []string{"printer", "kind"}),
	}
}
