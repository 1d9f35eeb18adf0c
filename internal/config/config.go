// Package config describes an optimization job: which objective to build,
// which optimizer to run on it and with what hyperparameters. Jobs come from
// CLI flags, JSON request bodies or config files read through viper.
package config

import (
	"fmt"
	"slices"

	"github.com/cwbudde/policyopt/internal/opt"
	"github.com/hashicorp/go-multierror"
)

// Objective function names.
const (
	FunctionRosenbrock            = "rosenbrock"
	FunctionGeneralizedRosenbrock = "generalized-rosenbrock"
	FunctionSGDTest               = "sgd-test"
	FunctionSparseQuadratic       = "sparse-quadratic"
	FunctionLogistic              = "logistic"
	FunctionSoftmax               = "softmax"
)

// Functions lists every objective a job can name.
var Functions = []string{
	FunctionRosenbrock,
	FunctionGeneralizedRosenbrock,
	FunctionSGDTest,
	FunctionSparseQuadratic,
	FunctionLogistic,
	FunctionSoftmax,
}

// NeedsData reports whether the named objective is trained on a dataset.
func NeedsData(function string) bool {
	return function == FunctionLogistic || function == FunctionSoftmax
}

// Job holds the configuration of one optimization run. It is also stored
// verbatim in checkpoints so a run can be resumed.
type Job struct {
	Function  string `json:"function" mapstructure:"function"`
	Optimizer string `json:"optimizer" mapstructure:"optimizer"`

	// DataPath is a LIBSVM or CSV file for the data-driven objectives.
	DataPath string `json:"dataPath,omitempty" mapstructure:"dataPath"`
	// Bias appends a constant feature with this value when >= 0.
	Bias   float64 `json:"bias" mapstructure:"bias"`
	Lambda float64 `json:"lambda,omitempty" mapstructure:"lambda"`

	// Dimension sizes generalized-rosenbrock and, when Target is empty,
	// sparse-quadratic.
	Dimension int       `json:"dimension,omitempty" mapstructure:"dimension"`
	Target    []float64 `json:"target,omitempty" mapstructure:"target"`

	Seed               int64 `json:"seed" mapstructure:"seed"`
	CheckpointInterval int   `json:"checkpointInterval,omitempty" mapstructure:"checkpointInterval"` // seconds, 0 disables

	Params opt.Params `json:"params" mapstructure:"params"`
}

// Defaults returns a job that runs SGD on the SGD test function.
func Defaults() Job {
	return Job{
		Function:  FunctionSGDTest,
		Optimizer: "sgd",
		Bias:      -1,
		Dimension: 10,
		Seed:      1,
	}
}

// Validate reports every problem with the job at once.
func (j Job) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	if !slices.Contains(Functions, j.Function) {
		add("unknown function %q", j.Function)
	}
	if !slices.Contains(opt.Names(), j.Optimizer) {
		add("unknown optimizer %q", j.Optimizer)
	}
	if NeedsData(j.Function) && j.DataPath == "" {
		add("function %s requires a data path", j.Function)
	}
	if j.Function == FunctionGeneralizedRosenbrock && j.Dimension < 2 {
		add("dimension must be at least 2 for %s, got %d", j.Function, j.Dimension)
	}
	if j.Function == FunctionSparseQuadratic && len(j.Target) == 0 && j.Dimension < 1 {
		add("%s needs a target or a positive dimension", j.Function)
	}
	if j.Lambda < 0 {
		add("lambda must be non-negative, got %g", j.Lambda)
	}
	if j.CheckpointInterval < 0 {
		add("checkpoint interval must be non-negative, got %d", j.CheckpointInterval)
	}

	p := j.Params
	if p.StepSize < 0 {
		add("step size must be non-negative, got %g", p.StepSize)
	}
	if p.BatchSize < 0 {
		add("batch size must be non-negative, got %d", p.BatchSize)
	}
	if p.Momentum < 0 || p.Momentum >= 1 {
		add("momentum must be in [0, 1), got %g", p.Momentum)
	}
	if p.Alpha < 0 || p.Alpha >= 1 {
		add("alpha must be in [0, 1), got %g", p.Alpha)
	}
	if p.Beta < 0 || p.Beta > 1 {
		add("beta must be in (0, 1], got %g", p.Beta)
	}
	if p.Threads < 0 || p.ThreadShareSize < 0 {
		add("threads and thread share size must be non-negative")
	}
	if p.Decay != "" && p.Decay != "constant" && p.Decay != "exponential" {
		add("unknown decay policy %q", p.Decay)
	}
	if p.Descent != "" && !slices.Contains([]string{"random", "greedy", "cyclic"}, p.Descent) {
		add("unknown descent policy %q", p.Descent)
	}
	if p.PopulationSize != 0 && p.PopulationSize < 20 {
		add("population size must be at least 20, got %d", p.PopulationSize)
	}
	if (p.Lower != 0 || p.Upper != 0) && p.Lower >= p.Upper {
		add("lower bound %g must be below upper bound %g", p.Lower, p.Upper)
	}

	return result.ErrorOrNil()
}
