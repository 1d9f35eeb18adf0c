package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cwbudde/policyopt/internal/config"
	"github.com/cwbudde/policyopt/internal/opt"
	"github.com/cwbudde/policyopt/internal/store"
	"gonum.org/v1/gonum/mat"
)

// quickJob converges within a few dozen gradient descent steps.
func quickJob() config.Job {
	cfg := config.Defaults()
	cfg.Function = config.FunctionSparseQuadratic
	cfg.Optimizer = "gd"
	cfg.Target = []float64{1, -2, 0.5, 3}
	cfg.Params.StepSize = 0.1
	return cfg
}

// slowJob runs long enough to be cancelled mid-flight.
func slowJob() config.Job {
	cfg := config.Defaults()
	cfg.Function = config.FunctionGeneralizedRosenbrock
	cfg.Dimension = 50
	cfg.Optimizer = "mayfly"
	cfg.Params.MaxIterations = 50000
	return cfg
}

func TestJobManager_CreateJob(t *testing.T) {
	jm := NewJobManager()

	job := jm.CreateJob(quickJob())

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.State != StatePending {
		t.Errorf("Initial state should be pending, got %s", job.State)
	}
	if job.Config.Optimizer != "gd" {
		t.Errorf("Config not set correctly")
	}
	if job.StartTime.IsZero() {
		t.Error("StartTime should be set")
	}
}

func TestJobManager_GetJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(quickJob())

	retrieved, exists := jm.GetJob(job.ID)
	if !exists {
		t.Fatal("Job should exist")
	}
	if retrieved.ID != job.ID {
		t.Error("Retrieved wrong job")
	}

	// Snapshots are independent of the stored job.
	retrieved.State = StateFailed
	again, _ := jm.GetJob(job.ID)
	if again.State != StatePending {
		t.Errorf("Mutating a snapshot changed the job: %s", again.State)
	}

	if _, exists := jm.GetJob("nonexistent"); exists {
		t.Error("Should not find nonexistent job")
	}
}

func TestJobManager_ListJobs(t *testing.T) {
	jm := NewJobManager()

	if len(jm.ListJobs()) != 0 {
		t.Error("Should start with no jobs")
	}

	first := jm.CreateJob(quickJob())
	time.Sleep(time.Millisecond)
	second := jm.CreateJob(quickJob())

	jobs := jm.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != first.ID || jobs[1].ID != second.ID {
		t.Error("Jobs should be listed oldest first")
	}
}

func TestJobManager_UpdateJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(quickJob())

	err := jm.UpdateJob(job.ID, func(j *Job) {
		j.State = StateRunning
		j.Iterations = 10
		j.Objective = 123.45
	})
	if err != nil {
		t.Errorf("Update should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateRunning || updated.Iterations != 10 || updated.Objective != 123.45 {
		t.Errorf("Update not applied: %+v", updated)
	}
	if len(jm.GetRunningJobs()) != 1 {
		t.Error("Expected one running job")
	}

	if err := jm.UpdateJob("nonexistent", func(j *Job) {}); err == nil {
		t.Error("Update of nonexistent job should fail")
	}
}

func TestJobManager_CancelJob(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(quickJob())

	ctx, cancel := context.WithCancel(context.Background())
	jm.setCancel(job.ID, cancel)

	if err := jm.CancelJob(job.ID); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	if ctx.Err() == nil {
		t.Error("Job context should be cancelled")
	}

	jm.UpdateJob(job.ID, func(j *Job) { j.State = StateCancelled })
	if err := jm.CancelJob(job.ID); !errors.Is(err, ErrJobFinished) {
		t.Errorf("Expected ErrJobFinished, got %v", err)
	}
	if err := jm.CancelJob("nonexistent"); err == nil {
		t.Error("Cancel of nonexistent job should fail")
	}
}

func TestJobManager_CreateResumedJob(t *testing.T) {
	jm := NewJobManager()
	cfg := quickJob()
	cp := &store.Checkpoint{
		JobID:     "previous",
		Rows:      1,
		Cols:      4,
		Iteration: 7,
		Status:    opt.Cancelled,
		Config:    cfg,
	}

	job := jm.CreateResumedJob(cp, nil)
	if job.ResumedFrom != "previous" || job.ID == "previous" {
		t.Errorf("Resumed job should get a new ID and remember its checkpoint: %+v", job)
	}
	if job.Config.Optimizer != "gd" {
		t.Errorf("Expected checkpoint config, got optimizer %s", job.Config.Optimizer)
	}

	override := cfg
	override.Optimizer = "lbfgs"
	job = jm.CreateResumedJob(cp, &override)
	if job.Config.Optimizer != "lbfgs" {
		t.Errorf("Expected override config, got optimizer %s", job.Config.Optimizer)
	}
}

func TestJobManager_ThreadSafety(t *testing.T) {
	jm := NewJobManager()
	job := jm.CreateJob(quickJob())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(iteration int) {
			defer wg.Done()
			jm.UpdateJob(job.ID, func(j *Job) {
				j.Iterations = iteration
				j.Coordinates = []float64{float64(iteration)}
			})
		}(i)
		go func() {
			defer wg.Done()
			jm.GetJob(job.ID)
			jm.ListJobs()
		}()
	}
	wg.Wait()

	if _, exists := jm.GetJob(job.ID); !exists {
		t.Error("Job should still exist after concurrent updates")
	}
}

func quickCoordinates() *mat.Dense {
	return mat.NewDense(1, 4, []float64{0, 0, 0, 0})
}
