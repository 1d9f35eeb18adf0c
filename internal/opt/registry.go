package opt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ErrUnknownOptimizer is returned by New for names that are not registered.
var ErrUnknownOptimizer = errors.New("unknown optimizer")

// Params carries optimizer hyperparameters in one flat struct so a job
// config can describe any optimizer. Zero fields keep the optimizer's
// default; fields an optimizer does not use are ignored. A negative
// MaxIterations removes the iteration limit and a negative Tolerance
// disables the convergence check.
type Params struct {
	StepSize      float64 `json:"stepSize,omitempty" mapstructure:"stepSize"`
	MaxIterations int     `json:"maxIterations,omitempty" mapstructure:"maxIterations"`
	Tolerance     float64 `json:"tolerance,omitempty" mapstructure:"tolerance"`
	Seed          int64   `json:"seed,omitempty" mapstructure:"seed"`

	// SGD family
	BatchSize int     `json:"batchSize,omitempty" mapstructure:"batchSize"`
	NoShuffle bool    `json:"noShuffle,omitempty" mapstructure:"noShuffle"`
	Momentum  float64 `json:"momentum,omitempty" mapstructure:"momentum"`
	Alpha     float64 `json:"alpha,omitempty" mapstructure:"alpha"`
	Epsilon   float64 `json:"epsilon,omitempty" mapstructure:"epsilon"`

	// ParallelSGD
	Threads           int     `json:"threads,omitempty" mapstructure:"threads"`
	ThreadShareSize   int     `json:"threadShareSize,omitempty" mapstructure:"threadShareSize"`
	Decay             string  `json:"decay,omitempty" mapstructure:"decay"`
	FirstBackoffEpoch int     `json:"firstBackoffEpoch,omitempty" mapstructure:"firstBackoffEpoch"`
	Beta              float64 `json:"beta,omitempty" mapstructure:"beta"`

	// SCD
	UpdateInterval int    `json:"updateInterval,omitempty" mapstructure:"updateInterval"`
	Descent        string `json:"descent,omitempty" mapstructure:"descent"`

	// L-BFGS
	Store             int     `json:"store,omitempty" mapstructure:"store"`
	GradientThreshold float64 `json:"gradientThreshold,omitempty" mapstructure:"gradientThreshold"`

	// Mayfly
	PopulationSize int     `json:"populationSize,omitempty" mapstructure:"populationSize"`
	Lower          float64 `json:"lower,omitempty" mapstructure:"lower"`
	Upper          float64 `json:"upper,omitempty" mapstructure:"upper"`
}

type constructor func(p Params, cb Callback) (Optimizer, error)

var registry = map[string]constructor{
	"gd": func(p Params, cb Callback) (Optimizer, error) {
		o := NewGradientDescent()
		setFloat(&o.StepSize, p.StepSize)
		setLimit(&o.MaxIterations, p.MaxIterations)
		setTolerance(&o.Tolerance, p.Tolerance)
		o.Callback = cb
		return o, nil
	},
	"sgd": func(p Params, cb Callback) (Optimizer, error) {
		return sgdFrom(NewSGD(), p, cb), nil
	},
	"momentum-sgd": func(p Params, cb Callback) (Optimizer, error) {
		m := p.Momentum
		if m == 0 {
			m = 0.5
		}
		return sgdFrom(NewMomentumSGD(m), p, cb), nil
	},
	"rmsprop": func(p Params, cb Callback) (Optimizer, error) {
		s := NewRMSProp()
		u := s.Update.(*RMSPropUpdate)
		setFloat(&u.Alpha, p.Alpha)
		setFloat(&u.Epsilon, p.Epsilon)
		return sgdFrom(s, p, cb), nil
	},
	"adagrad": func(p Params, cb Callback) (Optimizer, error) {
		s := NewAdaGrad()
		setFloat(&s.Update.(*AdaGradUpdate).Epsilon, p.Epsilon)
		return sgdFrom(s, p, cb), nil
	},
	"parallel-sgd": func(p Params, cb Callback) (Optimizer, error) {
		o := NewParallelSGD()
		setLimit(&o.MaxIterations, p.MaxIterations)
		setTolerance(&o.Tolerance, p.Tolerance)
		o.Threads = p.Threads
		o.ThreadShareSize = p.ThreadShareSize
		o.Shuffle = !p.NoShuffle
		o.Seed = p.Seed
		step := p.StepSize
		if step == 0 {
			step = 0.01
		}
		switch p.Decay {
		case "", "constant":
			o.Decay = ConstantStep{Step: step}
		case "exponential":
			first, beta := p.FirstBackoffEpoch, p.Beta
			if first == 0 {
				first = 100
			}
			if beta == 0 {
				beta = 0.5
			}
			if beta < 0 || beta > 1 {
				return nil, fmt.Errorf("parallel-sgd: beta %g not in (0, 1]", beta)
			}
			o.Decay = NewExponentialBackoff(first, step, beta)
		default:
			return nil, fmt.Errorf("parallel-sgd: unknown decay policy %q", p.Decay)
		}
		o.Callback = cb
		return o, nil
	},
	"scd": func(p Params, cb Callback) (Optimizer, error) {
		o := NewSCD(p.Seed)
		setFloat(&o.StepSize, p.StepSize)
		setLimit(&o.MaxIterations, p.MaxIterations)
		setTolerance(&o.Tolerance, p.Tolerance)
		setInt(&o.UpdateInterval, p.UpdateInterval)
		switch p.Descent {
		case "", "random":
		case "greedy":
			o.Descent = GreedyDescent{}
		case "cyclic":
			o.Descent = CyclicDescent{}
		default:
			return nil, fmt.Errorf("scd: unknown descent policy %q", p.Descent)
		}
		o.Callback = cb
		return o, nil
	},
	"lbfgs": func(p Params, cb Callback) (Optimizer, error) {
		o := NewLBFGS()
		setInt(&o.Store, p.Store)
		setLimit(&o.MaxIterations, p.MaxIterations)
		setFloat(&o.GradientThreshold, p.GradientThreshold)
		o.Callback = cb
		return o, nil
	},
	"mayfly": func(p Params, cb Callback) (Optimizer, error) {
		o := NewMayfly(p.Seed)
		// The swarm needs a finite budget; no limit keeps the default.
		if p.MaxIterations > 0 {
			o.MaxIterations = p.MaxIterations
		}
		setInt(&o.PopulationSize, p.PopulationSize)
		if p.Lower != 0 || p.Upper != 0 {
			o.Lower, o.Upper = p.Lower, p.Upper
		}
		o.Callback = cb
		return o, nil
	},
}

func sgdFrom(s *SGD, p Params, cb Callback) *SGD {
	setFloat(&s.StepSize, p.StepSize)
	setInt(&s.BatchSize, p.BatchSize)
	setLimit(&s.MaxIterations, p.MaxIterations)
	setTolerance(&s.Tolerance, p.Tolerance)
	s.Shuffle = !p.NoShuffle
	s.Seed = p.Seed
	s.Callback = cb
	return s
}

func setFloat(dst *float64, v float64) {
	if v != 0 {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// setLimit maps a negative iteration limit to 0, which optimizers read as
// no limit.
func setLimit(dst *int, v int) {
	switch {
	case v < 0:
		*dst = 0
	case v > 0:
		*dst = v
	}
}

// setTolerance maps a negative tolerance to 0, which never converges.
func setTolerance(dst *float64, v float64) {
	switch {
	case v < 0:
		*dst = 0
	case v > 0:
		*dst = v
	}
}

// Names lists the registered optimizers in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds the named optimizer from p, reporting progress to cb.
func New(name string, p Params, cb Callback) (Optimizer, error) {
	ctor, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %s)", ErrUnknownOptimizer, name, strings.Join(Names(), ", "))
	}
	return ctor(p, cb)
}

// Dispatch builds the named optimizer and runs it on objective. An
// objective that lacks the optimizer's policy yields a *function.PolicyError
// before any work is done.
func Dispatch(ctx context.Context, name string, p Params, objective any, iterate *mat.Dense, cb Callback) (*Result, error) {
	o, err := New(name, p, cb)
	if err != nil {
		return nil, err
	}
	return o.Minimize(ctx, objective, iterate)
}
