// Package server exposes optimization jobs over HTTP: submission, status,
// progress streams, results, cancellation and resume from checkpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cwbudde/policyopt/internal/config"
	"github.com/cwbudde/policyopt/internal/opt"
	"github.com/cwbudde/policyopt/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server
type Server struct {
	// Version is reported by the index route.
	Version string

	jobManager   *JobManager
	store        *store.FSStore
	metrics      *metrics
	addr         string
	server       *http.Server
	pingInterval time.Duration

	// ctx is the parent of every job context; Shutdown cancels it.
	ctx     context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// NewServer creates a server listening on addr. st may be nil, in which
// case jobs run without checkpoints, traces or resume support.
func NewServer(addr string, st *store.FSStore) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		Version:      "dev",
		jobManager:   NewJobManager(),
		store:        st,
		metrics:      newMetrics(),
		addr:         addr,
		pingInterval: 30 * time.Second,
		ctx:          ctx,
		cancel:       cancel,
	}
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s
}

// Handler returns the routed handler wrapped in middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/api/v1/checkpoints", s.handleListCheckpoints)

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown cancels all jobs, waits for their workers to save their final
// state and then stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("Timed out waiting for jobs to stop")
	}

	return s.server.Shutdown(ctx)
}

// startJob runs a registered job in the background.
func (s *Server) startJob(job *Job) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.jobManager.setCancel(job.ID, cancel)
	s.metrics.jobsCreated.Inc()

	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		defer cancel()
		if err := runJob(ctx, s.jobManager, s.store, s.metrics, job.ID); err != nil {
			slog.Debug("Job ended with error", "job_id", job.ID, "error", err)
		}
	}()
}

// handleIndex describes the service at GET /.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":    "policyopt",
		"version":    s.Version,
		"functions":  config.Functions,
		"optimizers": opt.Names(),
	})
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}
	jobID := parts[0]
	if err := store.ValidateJobID(jobID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sub := ""
	if len(parts) > 1 {
		sub = parts[1]
	}

	switch sub {
	case "", "status":
		s.handleGetJobStatus(w, r, jobID)
	case "stream":
		s.handleJobStream(w, r, jobID)
	case "coordinates":
		s.handleGetCoordinates(w, r, jobID)
	case "trace":
		s.handleGetTrace(w, r, jobID)
	case "cancel":
		s.handleCancelJob(w, r, jobID)
	case "resume":
		s.handleResumeJob(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateJob handles POST /api/v1/jobs. The body is decoded on top of
// config.Defaults(), so omitted fields keep their defaults.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	cfg := config.Defaults()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}
	if err := cfg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := s.jobManager.CreateJob(cfg)
	s.startJob(job)

	writeJSON(w, http.StatusCreated, job)
}

type jobStatus struct {
	*Job
	Elapsed float64 `json:"elapsed"`
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	end := time.Now()
	if job.EndTime != nil {
		end = *job.EndTime
	}
	// The iterate can be large; it is served by the coordinates route.
	job.Coordinates = nil

	writeJSON(w, http.StatusOK, jobStatus{Job: job, Elapsed: end.Sub(job.StartTime).Seconds()})
}

// handleGetCoordinates handles GET /api/v1/jobs/:id/coordinates. JSON by
// default, CSV with ?format=csv.
func (s *Server) handleGetCoordinates(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if len(job.Coordinates) == 0 {
		http.Error(w, "No coordinates yet", http.StatusNotFound)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		cp := store.Checkpoint{Rows: job.Rows, Cols: job.Cols, Coordinates: job.Coordinates}
		if err := store.WriteCoordinates(w, cp.Matrix()); err != nil {
			slog.Error("Failed to write coordinates", "job_id", jobID, "error", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jobId":       job.ID,
		"rows":        job.Rows,
		"cols":        job.Cols,
		"objective":   job.Objective,
		"coordinates": job.Coordinates,
	})
}

// handleGetTrace handles GET /api/v1/jobs/:id/trace
func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request, jobID string) {
	if s.store == nil {
		http.Error(w, "Tracing disabled", http.StatusNotFound)
		return
	}
	reader, err := store.NewTraceReader(s.store.BaseDir(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Trace not found", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer reader.Close()

	entries, err := reader.ReadAll()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleCancelJob handles POST /api/v1/jobs/:id/cancel
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	err := s.jobManager.CancelJob(jobID)
	switch {
	case errors.Is(err, ErrJobFinished):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	slog.Info("Job cancellation requested", "job_id", jobID)
	w.WriteHeader(http.StatusAccepted)
}

// handleResumeJob handles POST /api/v1/jobs/:id/resume. It starts a new job
// from the checkpoint saved for :id. An optional JSON body replaces the
// checkpoint's configuration, e.g. to switch optimizer; it must still be
// compatible with the checkpoint.
func (s *Server) handleResumeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "Checkpoints disabled", http.StatusNotFound)
		return
	}

	cp, err := s.store.LoadCheckpoint(jobID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Checkpoint not found", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var override *config.Job
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		cfg := cp.Config
		if err := json.Unmarshal(body, &cfg); err != nil {
			http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
			return
		}
		if err := cfg.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		override = &cfg
	}

	target := cp.Config
	if override != nil {
		target = *override
	}
	if err := cp.IsCompatible(target); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	job := s.jobManager.CreateResumedJob(cp, override)
	s.startJob(job)

	slog.Info("Resuming job", "job_id", job.ID, "checkpoint", jobID, "iteration", cp.Iteration)
	writeJSON(w, http.StatusCreated, job)
}

// handleListCheckpoints handles GET /api/v1/checkpoints
func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	infos := []store.CheckpointInfo{}
	if s.store != nil {
		var err error
		if infos, err = s.store.ListCheckpoints(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, infos)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
