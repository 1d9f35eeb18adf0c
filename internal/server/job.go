package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cwbudde/policyopt/internal/config"
	"github.com/cwbudde/policyopt/internal/opt"
	"github.com/cwbudde/policyopt/internal/store"
	"github.com/google/uuid"
)

// JobState represents the lifecycle state of a job.
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Finished reports whether the state is terminal.
func (s JobState) Finished() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Job is an optimization run managed by the server.
type Job struct {
	ID     string     `json:"id"`
	State  JobState   `json:"state"`
	Config config.Job `json:"config"`

	// Rows, Cols and Coordinates hold the latest reported iterate.
	Rows        int       `json:"rows,omitempty"`
	Cols        int       `json:"cols,omitempty"`
	Coordinates []float64 `json:"coordinates,omitempty"`

	Objective        float64    `json:"objective"`
	InitialObjective float64    `json:"initialObjective"`
	Iterations       int        `json:"iterations"`
	Evaluations      int        `json:"evaluations"`
	Status           opt.Status `json:"status"`

	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Error     string     `json:"error,omitempty"`

	// ResumedFrom is the checkpoint this job started from.
	ResumedFrom string `json:"resumedFrom,omitempty"`

	resume *store.Checkpoint
	cancel context.CancelFunc
}

// JobManager tracks jobs by ID. Accessors hand out copies, so callers never
// race with the worker updating a job.
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	broadcaster *EventBroadcaster
}

// NewJobManager creates an empty JobManager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob registers a pending job for cfg.
func (jm *JobManager) CreateJob(cfg config.Job) *Job {
	return jm.add(&Job{Config: cfg})
}

// CreateResumedJob registers a pending job that starts from a checkpoint.
// The checkpoint's configuration is used unless cfg is non-nil.
func (jm *JobManager) CreateResumedJob(cp *store.Checkpoint, cfg *config.Job) *Job {
	job := &Job{
		Config:      cp.Config,
		ResumedFrom: cp.JobID,
		resume:      cp,
	}
	if cfg != nil {
		job.Config = *cfg
	}
	return jm.add(job)
}

func (jm *JobManager) add(job *Job) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job.ID = uuid.New().String()
	job.State = StatePending
	job.StartTime = time.Now()
	jm.jobs[job.ID] = job

	cp := *job
	return &cp
}

// GetJob returns a snapshot of a job.
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	cp := *job
	return &cp, true
}

// ListJobs returns snapshots of all jobs, oldest first.
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		cp := *job
		jobs = append(jobs, &cp)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartTime.Before(jobs[j].StartTime)
	})
	return jobs
}

// UpdateJob atomically updates a job using the provided function.
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}
	updateFn(job)
	return nil
}

// GetRunningJobs returns snapshots of all running jobs.
func (jm *JobManager) GetRunningJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	running := make([]*Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			cp := *job
			running = append(running, &cp)
		}
	}
	return running
}

// setCancel stores the function that stops a job's worker.
func (jm *JobManager) setCancel(id string, cancel context.CancelFunc) {
	jm.UpdateJob(id, func(j *Job) { j.cancel = cancel })
}

// ErrJobFinished is returned when cancelling a job that already stopped.
var ErrJobFinished = fmt.Errorf("job already finished")

// CancelJob asks a pending or running job to stop. The worker records the
// cancelled state once the optimizer returns.
func (jm *JobManager) CancelJob(id string) error {
	var cancel context.CancelFunc
	err := jm.UpdateJob(id, func(j *Job) {
		if !j.State.Finished() {
			cancel = j.cancel
		}
	})
	if err != nil {
		return err
	}
	if cancel == nil {
		return ErrJobFinished
	}
	cancel()
	return nil
}

// CancelAll stops every unfinished job.
func (jm *JobManager) CancelAll() {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	for _, job := range jm.jobs {
		if !job.State.Finished() && job.cancel != nil {
			job.cancel()
		}
	}
}
