package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cwbudde/policyopt/internal/problem"
	"github.com/cwbudde/policyopt/internal/store"
	"github.com/spf13/cobra"
)

var (
	resumeDataDir   string
	resumeOut       string
	resumeOptimizer string
	resumeMaxIter   int
	resumeStep      float64
)

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a run from its checkpoint",
	Long: `Loads <data-dir>/jobs/<job-id>/checkpoint.json and continues from the
saved coordinates. Only coordinates are checkpointed, so optimizer state
such as momentum or the L-BFGS history starts afresh. The optimizer and
its step size or iteration limit may be changed; the objective may not.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeDataDir, "data-dir", "./data", "Base directory for checkpoint storage")
	resumeCmd.Flags().StringVar(&resumeOut, "out", "", "Write final coordinates as CSV ('-' for stdout)")
	resumeCmd.Flags().StringVar(&resumeOptimizer, "optimizer", "", "Switch to another optimizer")
	resumeCmd.Flags().IntVar(&resumeMaxIter, "max-iter", 0, "Override the iteration limit (negative removes it)")
	resumeCmd.Flags().Float64Var(&resumeStep, "step", 0, "Override the step size")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	jobID := args[0]
	st, err := store.NewFSStore(resumeDataDir)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	cp, err := st.LoadCheckpoint(jobID)
	if err != nil {
		return err
	}

	job := cp.Config
	if resumeOptimizer != "" {
		job.Optimizer = resumeOptimizer
	}
	if resumeMaxIter != 0 {
		job.Params.MaxIterations = resumeMaxIter
	}
	if resumeStep > 0 {
		job.Params.StepSize = resumeStep
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}
	if err := cp.IsCompatible(job); err != nil {
		return err
	}

	p, err := problem.Build(job)
	if err != nil {
		return err
	}
	if err := p.Restore(cp.Rows, cp.Cols, cp.Coordinates); err != nil {
		return err
	}
	slog.Info("Resuming from checkpoint",
		"job_id", jobID,
		"iteration", cp.Iteration,
		"objective", cp.Objective,
		"optimizer", job.Optimizer,
	)

	lr := &localRun{
		job:     job,
		jobID:   jobID,
		st:      st,
		offset:  cp.Iteration,
		initial: cp.InitialObjective,
		resumed: true,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := lr.execute(ctx, p)
	if res != nil {
		if perr := printResult(cmd.OutOrStdout(), lr, p, res, resumeOut); perr != nil {
			return perr
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
