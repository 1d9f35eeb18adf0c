// Package problem turns a job configuration into an objective and a
// starting point, and runs the configured optimizer on them.
package problem

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/cwbudde/policyopt/internal/config"
	"github.com/cwbudde/policyopt/internal/dataset"
	"github.com/cwbudde/policyopt/internal/function"
	"github.com/cwbudde/policyopt/internal/objectives"
	"github.com/cwbudde/policyopt/internal/opt"
	"gonum.org/v1/gonum/mat"
)

// Problem is an objective ready to optimize.
type Problem struct {
	// Objective implements one or more function policies.
	Objective function.Evaluator
	// Initial is the starting point; optimizers update it in place.
	Initial *mat.Dense
	// Data is the training set for data-driven objectives, nil otherwise.
	Data *dataset.Dataset
}

type initialPointer interface {
	InitialPoint() *mat.Dense
}

type classifier interface {
	Accuracy(x *mat.Dense) float64
}

// Build loads data if needed and instantiates the job's objective. The
// job is validated first.
func Build(job config.Job) (*Problem, error) {
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}

	p := &Problem{}
	if config.NeedsData(job.Function) {
		ds, err := dataset.Load(job.DataPath, job.Bias)
		if err != nil {
			return nil, fmt.Errorf("failed to load dataset: %w", err)
		}
		p.Data = ds
		slog.Info("Loaded dataset", "path", job.DataPath, "rows", ds.Len(), "features", ds.NumFeatures)
	}

	var err error
	switch job.Function {
	case config.FunctionRosenbrock:
		p.Objective = objectives.Rosenbrock{}
	case config.FunctionGeneralizedRosenbrock:
		p.Objective = objectives.NewGeneralizedRosenbrock(job.Dimension)
	case config.FunctionSGDTest:
		p.Objective = objectives.SGDTest{}
	case config.FunctionSparseQuadratic:
		p.Objective = objectives.NewSparseQuadratic(quadraticTarget(job))
	case config.FunctionLogistic:
		p.Objective, err = objectives.NewLogisticRegression(p.Data, job.Lambda)
	case config.FunctionSoftmax:
		p.Objective, err = objectives.NewSoftmaxRegression(p.Data, job.Lambda)
	default:
		return nil, fmt.Errorf("unknown function %q", job.Function)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build %s: %w", job.Function, err)
	}

	p.Initial = p.Objective.(initialPointer).InitialPoint()
	if seededStart(job.Function) {
		r, c := p.Initial.Dims()
		p.Initial = randomStart(r, c, job.Seed)
	}
	return p, nil
}

// seededStart reports whether the function starts from random values
// rather than its objective's fixed initial point.
func seededStart(name string) bool {
	return name == config.FunctionRosenbrock || name == config.FunctionGeneralizedRosenbrock
}

// randomStart draws every coordinate uniformly from [-0.5, 0.5).
func randomStart(rows, cols int, seed int64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	x := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			x.Set(i, j, rng.Float64()-0.5)
		}
	}
	return x
}

// quadraticTarget returns the configured target, or a seeded random one
// in [-5, 5) when only a dimension is given.
func quadraticTarget(job config.Job) []float64 {
	if len(job.Target) > 0 {
		return append([]float64(nil), job.Target...)
	}
	rng := rand.New(rand.NewSource(job.Seed))
	target := make([]float64, job.Dimension)
	for i := range target {
		target[i] = rng.Float64()*10 - 5
	}
	return target
}

// Restore replaces the starting point with saved coordinates, which must
// match its shape.
func (p *Problem) Restore(rows, cols int, coordinates []float64) error {
	r, c := p.Initial.Dims()
	if rows != r || cols != c || len(coordinates) != r*c {
		return fmt.Errorf("saved coordinates are %dx%d (%d values), objective needs %dx%d", rows, cols, len(coordinates), r, c)
	}
	p.Initial.Copy(mat.NewDense(r, c, append([]float64(nil), coordinates...)))
	return nil
}

// Accuracy returns the training accuracy at x for classification
// objectives.
func (p *Problem) Accuracy(x *mat.Dense) (float64, bool) {
	c, ok := p.Objective.(classifier)
	if !ok {
		return 0, false
	}
	return c.Accuracy(x), true
}

// Policies lists the function policies the objective implements.
func (p *Problem) Policies() []function.Policy {
	return function.Policies(p.Objective)
}

// prototypes carry each objective's method set for policy queries. They
// are never evaluated.
var prototypes = map[string]any{
	config.FunctionRosenbrock:            objectives.Rosenbrock{},
	config.FunctionGeneralizedRosenbrock: &objectives.GeneralizedRosenbrock{},
	config.FunctionSGDTest:               objectives.SGDTest{},
	config.FunctionSparseQuadratic:       &objectives.SparseQuadratic{},
	config.FunctionLogistic:              &objectives.LogisticRegression{},
	config.FunctionSoftmax:               &objectives.SoftmaxRegression{},
}

// FunctionPolicies lists the policies of a named objective without
// building it, so data-driven objectives need no dataset.
func FunctionPolicies(name string) ([]function.Policy, error) {
	proto, ok := prototypes[name]
	if !ok {
		return nil, fmt.Errorf("unknown function %q", name)
	}
	return function.Policies(proto), nil
}

// Run optimizes p with the job's optimizer. A zero Params.Seed inherits
// the job seed.
func Run(ctx context.Context, p *Problem, job config.Job, cb opt.Callback) (*opt.Result, error) {
	params := job.Params
	if params.Seed == 0 {
		params.Seed = job.Seed
	}
	slog.Info("Starting optimization",
		"function", job.Function,
		"optimizer", job.Optimizer,
		"policies", p.Policies(),
	)
	res, err := opt.Dispatch(ctx, job.Optimizer, params, p.Objective, p.Initial, cb)
	if err != nil {
		return res, fmt.Errorf("%s on %s: %w", job.Optimizer, job.Function, err)
	}
	slog.Info("Optimization finished",
		"status", res.Status,
		"objective", res.Objective,
		"iterations", res.Iterations,
		"evaluations", res.Evaluations,
		"runtime", res.Runtime,
	)
	return res, nil
}
