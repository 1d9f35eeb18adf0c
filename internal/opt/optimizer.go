package opt

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/policyopt/internal/function"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Optimizer is the policy-checked entry point shared by every optimizer.
// Minimize verifies that objective implements Requires() before running and
// returns a *function.PolicyError otherwise.
type Optimizer interface {
	// Name identifies the optimizer in logs and errors.
	Name() string

	// Requires returns the objective policy the optimizer consumes.
	Requires() function.Policy

	// Minimize optimizes objective starting from iterate, which is updated
	// in place and also returned as Result.Coordinates.
	Minimize(ctx context.Context, objective any, iterate *mat.Dense) (*Result, error)
}

// Status describes why an optimizer stopped.
type Status int

const (
	NotTerminated Status = iota
	Converged
	IterationLimit
	Diverged
	Cancelled
	Failure
)

var statusNames = map[Status]string{
	NotTerminated:  "not_terminated",
	Converged:      "converged",
	IterationLimit: "iteration_limit",
	Diverged:       "diverged",
	Cancelled:      "cancelled",
	Failure:        "failure",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for k, v := range statusNames {
		if v == string(text) {
			*s = k
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// Result holds the output of an optimization run.
type Result struct {
	Coordinates *mat.Dense
	Objective   float64
	Iterations  int
	Evaluations int
	Status      Status
	Runtime     time.Duration
}

// Progress is reported whenever an optimizer computes its objective for a
// convergence check. Coordinates is the live iterate; copy it to keep it.
type Progress struct {
	Iteration   int
	Objective   float64
	Coordinates *mat.Dense
}

// Callback receives progress reports. It runs on the optimizer's goroutine
// and must not modify Coordinates.
type Callback func(Progress)

func (cb Callback) report(iteration int, objective float64, x *mat.Dense) {
	if cb != nil {
		cb(Progress{Iteration: iteration, Objective: objective, Coordinates: x})
	}
}

func diverged(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// axpy performs dst += alpha*src row by row, so views are handled.
func axpy(dst *mat.Dense, alpha float64, src *mat.Dense) {
	r, _ := dst.Dims()
	for i := 0; i < r; i++ {
		floats.AddScaled(dst.RawRowView(i), alpha, src.RawRowView(i))
	}
}

func finish(res *Result, start time.Time) *Result {
	res.Runtime = time.Since(start)
	return res
}
