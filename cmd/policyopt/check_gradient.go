package main

import (
	"fmt"

	"github.com/cwbudde/policyopt/internal/function"
	"github.com/cwbudde/policyopt/internal/problem"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"
)

var (
	gradStep      float64
	gradTolerance float64
	gradPerturb   bool
)

var checkGradientCmd = &cobra.Command{
	Use:   "check-gradient",
	Short: "Compare an objective's gradient with finite differences",
	Long: `Builds the objective described by the job flags and compares its analytic
gradient at the starting point with a central finite-difference estimate.
Fails when the largest absolute difference exceeds --tolerance.`,
	RunE: runCheckGradient,
}

func init() {
	addJobFlags(checkGradientCmd.Flags())
	checkGradientCmd.Flags().Float64Var(&gradStep, "fd-step", 1e-6, "Finite-difference step")
	checkGradientCmd.Flags().Float64Var(&gradTolerance, "tolerance", 1e-4, "Largest acceptable difference")
	checkGradientCmd.Flags().BoolVar(&gradPerturb, "perturb", true, "Check at a point shifted off the starting point")
	rootCmd.AddCommand(checkGradientCmd)
}

func runCheckGradient(cmd *cobra.Command, args []string) error {
	job, err := loadJob(cmd.Flags())
	if err != nil {
		return err
	}
	p, err := problem.Build(job)
	if err != nil {
		return err
	}
	f, ok := p.Objective.(function.Function)
	if !ok {
		return fmt.Errorf("%s has no gradient", job.Function)
	}

	x := mat.DenseCopyOf(p.Initial)
	if gradPerturb {
		// Zero starting points can hide sign errors.
		r, c := x.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				x.Set(i, j, x.At(i, j)+0.1*float64((i*c+j)%7+1))
			}
		}
	}

	worst := function.CheckGradient(f, x, gradStep)
	fmt.Fprintf(cmd.OutOrStdout(), "%s: max |analytic - numeric| = %.3g\n", job.Function, worst)
	if worst > gradTolerance {
		return fmt.Errorf("gradient check failed: %.3g exceeds tolerance %.3g", worst, gradTolerance)
	}
	return nil
}
