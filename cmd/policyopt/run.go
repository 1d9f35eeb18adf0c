package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cwbudde/policyopt/internal/problem"
	"github.com/cwbudde/policyopt/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	runDataDir     string
	runJobID       string
	runOut         string
	runTraceCoords bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single optimization",
	Long: `Builds the objective described by flags, --config and POLICYOPT_*
environment variables and minimizes it with the chosen optimizer.

With --data-dir the run writes a checkpoint, trace.jsonl and
coordinates.csv under <data-dir>/jobs/<job-id>/ and can be resumed.
Interrupting the run saves a checkpoint before exiting.`,
	RunE: runOptimization,
}

func init() {
	addJobFlags(runCmd.Flags())
	runCmd.Flags().StringVar(&runDataDir, "data-dir", "", "Store checkpoints and traces here (empty disables)")
	runCmd.Flags().StringVar(&runJobID, "job-id", "", "Job ID for stored artifacts (default: random UUID)")
	runCmd.Flags().StringVar(&runOut, "out", "", "Write final coordinates as CSV ('-' for stdout)")
	runCmd.Flags().BoolVar(&runTraceCoords, "trace-coordinates", false, "Record coordinates in every trace entry")
	rootCmd.AddCommand(runCmd)
}

func runOptimization(cmd *cobra.Command, args []string) error {
	if runJobID != "" {
		if err := store.ValidateJobID(runJobID); err != nil {
			return fmt.Errorf("invalid --job-id: %w", err)
		}
	}
	job, err := loadJob(cmd.Flags())
	if err != nil {
		return err
	}
	st, err := openStore(runDataDir)
	if err != nil {
		return err
	}
	p, err := problem.Build(job)
	if err != nil {
		return err
	}

	jobID := runJobID
	if jobID == "" {
		jobID = uuid.New().String()
	}
	lr := &localRun{
		job:              job,
		jobID:            jobID,
		st:               st,
		initial:          p.Objective.Evaluate(p.Initial),
		traceCoordinates: runTraceCoords,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := lr.execute(ctx, p)
	if res != nil {
		if perr := printResult(cmd.OutOrStdout(), lr, p, res, runOut); perr != nil {
			return perr
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
