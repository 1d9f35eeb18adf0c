package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cwbudde/policyopt/internal/function"
	"github.com/cwbudde/policyopt/internal/opt"
	"github.com/cwbudde/policyopt/internal/problem"
	"github.com/cwbudde/policyopt/internal/store"
	"gonum.org/v1/gonum/mat"
)

// progressInterval throttles stream broadcasts to two per second.
const progressInterval = 500 * time.Millisecond

// worker runs one job. st may be nil, in which case nothing is persisted.
type worker struct {
	jm      *JobManager
	st      *store.FSStore
	metrics *metrics
	jobID   string

	// offset is added to reported iterations when resuming.
	offset int
}

// runJob executes an optimization job. It blocks until the optimizer
// returns, so callers start it in a goroutine.
func runJob(ctx context.Context, jm *JobManager, st *store.FSStore, m *metrics, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}
	w := &worker{jm: jm, st: st, metrics: m, jobID: jobID}

	slog.Info("Starting job",
		"job_id", jobID,
		"function", job.Config.Function,
		"optimizer", job.Config.Optimizer,
		"resumed_from", job.ResumedFrom,
	)

	// Build objective and starting point
	p, err := problem.Build(job.Config)
	if err != nil {
		w.fail(err)
		return err
	}
	initial := p.Objective.Evaluate(p.Initial)

	// Continue from the checkpoint's coordinates and iteration count

	if cp := job.resume; cp != nil {
		if err := cp.IsCompatible(job.Config); err != nil {
			w.fail(err)
			return err
		}
		if err := p.Restore(cp.Rows, cp.Cols, cp.Coordinates); err != nil {
			w.fail(err)
			return err
		}
		w.offset = cp.Iteration
		initial = cp.InitialObjective
	}

	// Mark as running
	r, c := p.Initial.Dims()
	current := p.Objective.Evaluate(p.Initial)
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
		j.Rows, j.Cols = r, c
		j.Coordinates = function.Flatten(p.Initial)
		j.Iterations = w.offset
		if finite(initial) {
			j.InitialObjective = initial
		}
		if finite(current) {
			j.Objective = current
		}
	})
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		w.cancelled(nil)
		return ctx.Err()
	default:
	}

	trace := w.openTrace()
	if trace != nil {
		defer func() {
			if err := trace.Close(); err != nil {
				slog.Warn("Failed to close trace", "job_id", jobID, "error", err)
			}
		}()
	}

	// Progress callback updates the job, metrics and trace
	callback := func(pr opt.Progress) {
		coords := function.Flatten(pr.Coordinates)
		w.jm.UpdateJob(jobID, func(j *Job) {
			j.Iterations = pr.Iteration + w.offset
			if finite(pr.Objective) {
				j.Objective = pr.Objective
				j.Coordinates = coords
			}
		})
		w.metrics.progressReports.WithLabelValues(job.Config.Optimizer).Inc()
		if !finite(pr.Objective) {
			return
		}
		w.metrics.lastObjective.WithLabelValues(job.Config.Function).Set(pr.Objective)
		if trace != nil {
			if err := trace.Record(pr, w.offset); err != nil {
				slog.Warn("Failed to record trace entry", "job_id", jobID, "error", err)
			}
		}
	}

	w.metrics.jobsRunning.Inc()
	done := make(chan struct{})
	var monitors sync.WaitGroup
	monitors.Add(1)
	go func() {
		defer monitors.Done()
		w.monitorProgress(ctx, done)
	}()
	if st != nil && job.Config.CheckpointInterval > 0 {
		monitors.Add(1)
		go func() {
			defer monitors.Done()
			w.monitorCheckpoints(ctx, time.Duration(job.Config.CheckpointInterval)*time.Second, done)
		}()
	}

	start := time.Now()
	res, err := problem.Run(ctx, p, job.Config, callback)
	// A periodic save still in flight would overwrite the final checkpoint.
	close(done)
	monitors.Wait()
	w.metrics.jobsRunning.Dec()
	w.metrics.jobDuration.WithLabelValues(job.Config.Optimizer).Observe(time.Since(start).Seconds())

	if res != nil {
		w.record(res)
	}
	if trace != nil {
		if err := trace.Flush(); err != nil {
			slog.Warn("Failed to flush trace", "job_id", jobID, "error", err)
		}
	}

	// Artifacts are written before the terminal state is published
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		w.cancelled(res)
		return err
	case err != nil:
		w.fail(err)
		return err
	}

	if res.Status != opt.Diverged {
		w.saveCheckpoint()
		w.saveCoordinates(res.Coordinates)
	}
	w.finish(StateCompleted, "")

	slog.Info("Job completed",
		"job_id", jobID,
		"status", res.Status,
		"objective", res.Objective,
		"iterations", res.Iterations+w.offset,
		"elapsed", time.Since(start),
	)
	return nil
}

// record copies the optimizer's result into the job. A cancelled run keeps
// the last reported iterate, whose objective is known.
func (w *worker) record(res *opt.Result) {
	coords := function.Flatten(res.Coordinates)
	w.jm.UpdateJob(w.jobID, func(j *Job) {
		j.Status = res.Status
		j.Evaluations = res.Evaluations
		if res.Status == opt.Cancelled {
			return
		}
		j.Iterations = res.Iterations + w.offset
		if finite(res.Objective) {
			j.Objective = res.Objective
			j.Coordinates = coords
		}
	})
}

// openTrace starts a fresh trace.jsonl. Resumed jobs get their own ID, so
// their trace continues the iteration count without sharing a file.
func (w *worker) openTrace() *store.TraceWriter {
	if w.st == nil {
		return nil
	}
	trace, err := store.NewTraceWriter(w.st.BaseDir(), w.jobID, false)
	if err != nil {
		slog.Warn("Tracing disabled", "job_id", w.jobID, "error", err)
		return nil
	}
	return trace
}

func (w *worker) broadcast() {
	if job, ok := w.jm.GetJob(w.jobID); ok {
		w.jm.broadcaster.Broadcast(eventFor(job))
	}
}

// monitorProgress periodically broadcasts progress events during optimization
func (w *worker) monitorProgress(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.broadcast()
		}
	}
}

// monitorCheckpoints periodically saves checkpoints during optimization
func (w *worker) monitorCheckpoints(ctx context.Context, interval time.Duration, done chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.saveCheckpoint()
		}
	}
}

// saveCheckpoint persists the job's latest finite iterate. Failures are
// logged; a missed checkpoint never fails the job.
func (w *worker) saveCheckpoint() {
	if w.st == nil {
		return
	}
	job, exists := w.jm.GetJob(w.jobID)
	if !exists || len(job.Coordinates) == 0 {
		return
	}

	x := mat.NewDense(job.Rows, job.Cols, job.Coordinates)
	cp := store.NewCheckpoint(w.jobID, x, job.Objective, job.InitialObjective, job.Iterations, job.Status, job.Config)
	if err := w.st.SaveCheckpoint(w.jobID, cp); err != nil {
		slog.Error("Failed to save checkpoint", "job_id", w.jobID, "error", err)
		return
	}
	w.metrics.checkpoints.Inc()
	slog.Info("Checkpoint saved", "job_id", w.jobID, "iteration", job.Iterations, "objective", job.Objective)
}

func (w *worker) saveCoordinates(x *mat.Dense) {
	if w.st == nil || x == nil {
		return
	}
	if err := w.st.SaveCoordinates(w.jobID, x); err != nil {
		slog.Warn("Failed to save coordinates", "job_id", w.jobID, "error", err)
	}
}

// fail marks a job as failed with an error message
func (w *worker) fail(err error) {
	slog.Error("Job failed", "job_id", w.jobID, "error", err)
	w.finish(StateFailed, err.Error())
}

// cancelled marks a job as cancelled, saving where it stopped so it can be
// resumed.
func (w *worker) cancelled(res *opt.Result) {
	if res != nil {
		w.saveCheckpoint()
	}
	slog.Info("Job cancelled", "job_id", w.jobID)
	w.finish(StateCancelled, "")
}

// finish moves the job to a terminal state and sends the final event.
// Artifacts must be written before, since clients watch the state.
func (w *worker) finish(state JobState, errMsg string) {
	w.metrics.jobsFinished.WithLabelValues(string(state)).Inc()
	endTime := time.Now()
	w.jm.UpdateJob(w.jobID, func(j *Job) {
		j.State = state
		j.EndTime = &endTime
		switch state {
		case StateFailed:
			j.Status = opt.Failure
			j.Error = errMsg
		case StateCancelled:
			j.Status = opt.Cancelled
		}
	})
	w.broadcast()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
