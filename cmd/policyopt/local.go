package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/cwbudde/policyopt/internal/config"
	"github.com/cwbudde/policyopt/internal/opt"
	"github.com/cwbudde/policyopt/internal/problem"
	"github.com/cwbudde/policyopt/internal/store"
	"gonum.org/v1/gonum/mat"
)

// localRun is an optimization executed in-process, optionally persisted
// under a data directory.
type localRun struct {
	job   config.Job
	jobID string
	st    *store.FSStore // nil disables persistence

	// offset and initial carry over from a checkpoint when resuming.
	offset  int
	initial float64
	resumed bool

	traceCoordinates bool
}

// execute runs the optimizer, tracing progress and writing checkpoints
// every CheckpointInterval seconds, and saves the final state.
func (lr *localRun) execute(ctx context.Context, p *problem.Problem) (*opt.Result, error) {
	var trace *store.TraceWriter
	if lr.st != nil {
		var err error
		trace, err = store.NewTraceWriter(lr.st.BaseDir(), lr.jobID, lr.resumed)
		if err != nil {
			return nil, err
		}
		trace.WithCoordinates = lr.traceCoordinates
		defer trace.Close()
	}

	interval := time.Duration(lr.job.CheckpointInterval) * time.Second
	lastSave := time.Now()
	callback := func(pr opt.Progress) {
		if !finite(pr.Objective) {
			return
		}
		if trace != nil {
			if err := trace.Record(pr, lr.offset); err != nil {
				slog.Warn("Failed to record trace entry", "error", err)
			}
		}
		if lr.st != nil && interval > 0 && time.Since(lastSave) >= interval {
			lr.save(pr.Coordinates, pr.Objective, pr.Iteration+lr.offset, opt.NotTerminated)
			lastSave = time.Now()
		}
	}

	res, err := problem.Run(ctx, p, lr.job, callback)
	if res == nil {
		return nil, err
	}
	res.Iterations += lr.offset

	// A cancelled optimizer may not have evaluated its final iterate.
	objective := res.Objective
	if res.Status == opt.Cancelled {
		objective = p.Objective.Evaluate(res.Coordinates)
	}
	if lr.st != nil && finite(objective) {
		lr.save(res.Coordinates, objective, res.Iterations, res.Status)
		if err := lr.st.SaveCoordinates(lr.jobID, res.Coordinates); err != nil {
			slog.Warn("Failed to save coordinates", "error", err)
		}
	}
	return res, err
}

func (lr *localRun) save(x *mat.Dense, objective float64, iteration int, status opt.Status) {
	cp := store.NewCheckpoint(lr.jobID, x, objective, lr.initial, iteration, status, lr.job)
	if err := lr.st.SaveCheckpoint(lr.jobID, cp); err != nil {
		slog.Error("Failed to save checkpoint", "job_id", lr.jobID, "error", err)
		return
	}
	slog.Info("Checkpoint saved", "job_id", lr.jobID, "iteration", iteration, "objective", objective)
}

// openStore returns nil when dir is empty.
func openStore(dir string) (*store.FSStore, error) {
	if dir == "" {
		return nil, nil
	}
	st, err := store.NewFSStore(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, nil
}

// printResult writes a run summary and, when out is set, the coordinates
// as CSV ("-" for stdout).
func printResult(w io.Writer, lr *localRun, p *problem.Problem, res *opt.Result, out string) error {
	fmt.Fprintf(w, "Job:         %s\n", lr.jobID)
	fmt.Fprintf(w, "Function:    %s\n", lr.job.Function)
	fmt.Fprintf(w, "Optimizer:   %s\n", lr.job.Optimizer)
	fmt.Fprintf(w, "Status:      %s\n", res.Status)
	fmt.Fprintf(w, "Objective:   %.6g -> %.6g\n", lr.initial, res.Objective)
	fmt.Fprintf(w, "Iterations:  %d\n", res.Iterations)
	fmt.Fprintf(w, "Evaluations: %d\n", res.Evaluations)
	fmt.Fprintf(w, "Runtime:     %s\n", res.Runtime.Round(time.Millisecond))
	if acc, ok := p.Accuracy(res.Coordinates); ok {
		fmt.Fprintf(w, "Accuracy:    %.2f%%\n", acc*100)
	}

	switch out {
	case "":
		return nil
	case "-":
		return store.WriteCoordinates(w, res.Coordinates)
	default:
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", out, err)
		}
		defer f.Close()
		if err := store.WriteCoordinates(f, res.Coordinates); err != nil {
			return err
		}
		fmt.Fprintf(w, "Wrote %s\n", out)
		return nil
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
