package opt

import (
	"context"
	"log/slog"
	"time"

	"github.com/cwbudde/policyopt/internal/function"
	"gonum.org/v1/gonum/mat"
)

// GradientDescent is plain full-gradient descent on a Function.
type GradientDescent struct {
	StepSize      float64
	MaxIterations int // 0 means no limit
	Tolerance     float64
	Callback      Callback
}

// NewGradientDescent returns gradient descent with step 0.01, 100000
// iterations and tolerance 1e-5.
func NewGradientDescent() *GradientDescent {
	return &GradientDescent{
		StepSize:      0.01,
		MaxIterations: 100000,
		Tolerance:     1e-5,
	}
}

func (gd *GradientDescent) Name() string              { return "gd" }
func (gd *GradientDescent) Requires() function.Policy { return function.PolicyFunction }

func (gd *GradientDescent) Minimize(ctx context.Context, objective any, iterate *mat.Dense) (*Result, error) {
	if err := function.Require(gd.Name(), objective, gd.Requires()); err != nil {
		return nil, err
	}
	return gd.Optimize(ctx, objective.(function.Function), iterate)
}

// Optimize runs gradient descent from iterate, updating it in place.
func (gd *GradientDescent) Optimize(ctx context.Context, f function.Function, iterate *mat.Dense) (*Result, error) {
	start := time.Now()
	r, c := iterate.Dims()
	gradient := mat.NewDense(r, c, nil)
	tracker := NewConvergenceTracker(ConvergenceConfig{Tolerance: gd.Tolerance})
	res := &Result{Coordinates: iterate}

	for i := 1; gd.MaxIterations == 0 || i != gd.MaxIterations; i++ {
		if cancelled(ctx) {
			res.Status = Cancelled
			return finish(res, start), ctx.Err()
		}

		res.Objective = f.Evaluate(iterate)
		res.Evaluations++
		res.Iterations = i
		gd.Callback.report(i, res.Objective, iterate)

		if diverged(res.Objective) {
			slog.Warn("Gradient descent diverged", "iteration", i, "objective", res.Objective)
			res.Status = Diverged
			return finish(res, start), nil
		}
		if tracker.Update(res.Objective) {
			slog.Info("Gradient descent converged", "iteration", i, "objective", res.Objective)
			res.Status = Converged
			return finish(res, start), nil
		}

		f.Gradient(iterate, gradient)
		axpy(iterate, -gd.StepSize, gradient)
	}

	slog.Info("Gradient descent reached iteration limit", "max_iterations", gd.MaxIterations)
	res.Objective = f.Evaluate(iterate)
	res.Evaluations++
	res.Status = IterationLimit
	return finish(res, start), nil
}
