package opt

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cwbudde/policyopt/internal/function"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// LBFGS minimizes a Function with gonum's limited-memory BFGS. The iterate
// is flattened row-major for gonum and copied back when the run ends.
type LBFGS struct {
	Store             int     // history size, 0 uses gonum's default
	MaxIterations     int     // major iterations, 0 means no limit
	GradientThreshold float64 // stop once the gradient infinity norm drops below
	Callback          Callback
}

// NewLBFGS returns L-BFGS with 10 stored updates, 10000 major iterations
// and a gradient threshold of 1e-8.
func NewLBFGS() *LBFGS {
	return &LBFGS{
		Store:             10,
		MaxIterations:     10000,
		GradientThreshold: 1e-8,
	}
}

func (l *LBFGS) Name() string              { return "lbfgs" }
func (l *LBFGS) Requires() function.Policy { return function.PolicyFunction }

func (l *LBFGS) Minimize(ctx context.Context, objective any, iterate *mat.Dense) (*Result, error) {
	if err := function.Require(l.Name(), objective, l.Requires()); err != nil {
		return nil, err
	}
	return l.Optimize(ctx, objective.(function.Function), iterate)
}

// Optimize runs L-BFGS from iterate, updating it in place.
func (l *LBFGS) Optimize(ctx context.Context, f function.Function, iterate *mat.Dense) (*Result, error) {
	start := time.Now()
	r, c := iterate.Dims()

	// gonum hands out slices it owns; wrap them without copying.
	view := func(x []float64) *mat.Dense { return mat.NewDense(r, c, x) }

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return f.Evaluate(view(x))
		},
		Grad: func(grad, x []float64) {
			f.Gradient(view(x), view(grad))
		},
	}
	rec := &lbfgsRecorder{ctx: ctx, rows: r, cols: c, callback: l.Callback}
	settings := &optimize.Settings{
		MajorIterations:   l.MaxIterations,
		GradientThreshold: l.GradientThreshold,
		Recorder:          rec,
	}

	out, err := optimize.Minimize(problem, function.Flatten(iterate), settings, &optimize.LBFGS{Store: l.Store})
	res := &Result{Coordinates: iterate}
	// gonum returns its best location even when the recorder aborted.
	if out != nil {
		iterate.Copy(view(out.X))
		res.Objective = out.F
		res.Iterations = out.Stats.MajorIterations
		res.Evaluations = out.Stats.FuncEvaluations
		res.Status = lbfgsStatus(out.Status)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			res.Status = Cancelled
			return finish(res, start), ctx.Err()
		}
		res.Status = Failure
		return finish(res, start), err
	}
	if diverged(res.Objective) {
		res.Status = Diverged
	}
	slog.Info("L-BFGS finished", "status", res.Status, "iterations", res.Iterations, "objective", res.Objective)
	return finish(res, start), nil
}

type lbfgsRecorder struct {
	ctx        context.Context
	rows, cols int
	callback   Callback
}

func (r *lbfgsRecorder) Init() error { return nil }

// Record is called by gonum after every operation. Returning the context
// error stops the run; progress is reported on major iterations only, since
// line-search evaluations are not iterates.
func (r *lbfgsRecorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	if op == optimize.MajorIteration && r.callback != nil {
		r.callback.report(stats.MajorIterations, loc.F, mat.NewDense(r.rows, r.cols, loc.X))
	}
	return nil
}

func lbfgsStatus(s optimize.Status) Status {
	switch s {
	case optimize.NotTerminated:
		return NotTerminated
	case optimize.Success, optimize.FunctionThreshold, optimize.FunctionConvergence,
		optimize.GradientThreshold, optimize.StepConvergence, optimize.MethodConverge:
		return Converged
	case optimize.IterationLimit, optimize.RuntimeLimit, optimize.FunctionEvaluationLimit,
		optimize.GradientEvaluationLimit, optimize.HessianEvaluationLimit:
		return IterationLimit
	case optimize.FunctionNegativeInfinity:
		return Diverged
	default:
		return Failure
	}
}
