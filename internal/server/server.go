// Package server exposes the HTTP API: conversational turns, print job
// management, and operational endpoints.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atelierhq/atelier/internal/orchestrator"
	"github.com/atelierhq/atelier/internal/printjob"
	"github.com/atelierhq/atelier/internal/scheduler"
	"github.com/atelierhq/atelier/internal/usage"
)

// Server serves the atelier HTTP API.
type Server struct {
	orchestrator *orchestrator.Orchestrator
	jobs         printjob.Store
	scheduler    *scheduler.Scheduler
	usage        *usage.Tracker
	registry     prometheus.Gatherer
	logger       *slog.Logger
}

// Config wires a Server. Orchestrator is required for /v1/messages;
// Jobs for the job endpoints. Missing subsystems return 503.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	Jobs         printjob.Store
	Scheduler    *scheduler.Scheduler
	Usage        *usage.Tracker
	Registry     prometheus.Gatherer
	Logger       *slog.Logger
}

// New creates the HTTP API server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		orchestrator: cfg.Orchestrator,
		jobs:         cfg.Jobs,
		scheduler:    cfg.Scheduler,
		usage:        cfg.Usage,
		registry:     cfg.Registry,
		logger:       logger.With("component", "http"),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)
	mux.HandleFunc("POST /v1/messages", s.handleMessage)
	mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /v1/jobs/{id}/history", s.handleJobHistory)
	mux.HandleFunc("POST /v1/jobs/{id}/cancel", s.handleCancelJob)
	mux.HandleFunc("POST /v1/jobs/{id}/retry", s.handleRetryJob)
	mux.HandleFunc("PATCH /v1/jobs/{id}/priority", s.handleJobPriority)
	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		writeError(w, http.StatusServiceUnavailable, "usage tracking is not enabled")
		return
	}
	tiers := map[string]map[string]any{}
	for _, tier := range []string{"local", "web", "frontier"} {
		tiers[tier] = map[string]any{
			"turns":         s.usage.Turns(tier),
			"cost_estimate": s.usage.Cost(tier),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tiers":       tiers,
		"local_ratio": s.usage.LocalRatio(),
	})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, "conversation pipeline is not enabled")
		return
	}
	var msg orchestrator.Inbound
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	out, err := s.orchestrator.Handle(r.Context(), &msg)
	if err != nil {
		s.logger.Warn("message failed", "conversation_id", msg.ConversationID, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// createJobRequest is the POST /v1/jobs body.
type createJobRequest struct {
	Name           string     `json:"name"`
	FilePath       string     `json:"file_path"`
	Material       string     `json:"material"`
	Priority       int        `json:"priority"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	MaxRetries     int        `json:"max_retries"`
	MaxDimensionMM float64    `json:"max_dimension_mm,omitempty"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "print queue is not enabled")
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Priority == 0 {
		req.Priority = 5
	}
	if req.MaxRetries == 0 {
		req.MaxRetries = 2
	}
	job := &printjob.Job{
		ID:             uuid.NewString(),
		Name:           req.Name,
		FilePath:       req.FilePath,
		Material:       req.Material,
		Priority:       req.Priority,
		Deadline:       req.Deadline,
		MaxRetries:     req.MaxRetries,
		MaxDimensionMM: req.MaxDimensionMM,
		Status:         printjob.StatusQueued,
		QueuedAt:       time.Now(),
	}
	if err := s.jobs.Create(r.Context(), job); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "print queue is not enabled")
		return
	}
	status := printjob.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = printjob.StatusQueued
	}
	jobs, err := s.jobs.ListByStatus(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "print queue is not enabled")
		return
	}
	job, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "print queue is not enabled")
		return
	}
	id := r.PathValue("id")
	if _, err := s.jobs.Get(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	history, err := s.jobs.History(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "print queue is not enabled")
		return
	}
	id := r.PathValue("id")
	var cancelled bool
	var err error
	if s.scheduler != nil {
		cancelled, err = s.scheduler.Cancel(r.Context(), id, "cancelled via API")
	} else {
		cancelled, err = s.jobs.Cancel(r.Context(), id, "cancelled via API", "api")
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "cancelled": cancelled})
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "print queue is not enabled")
		return
	}
	job, err := s.jobs.Retry(r.Context(), r.PathValue("id"), "api")
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobPriority(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "print queue is not enabled")
		return
	}
	var body struct {
		Priority int `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	id := r.PathValue("id")
	if err := s.jobs.UpdatePriority(r.Context(), id, body.Priority, "api"); err != nil {
		writeStoreError(w, err)
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, printjob.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, printjob.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
