package main

import (
	"fmt"

	"github.com/cwbudde/policyopt/internal/config"
	"github.com/spf13/pflag"
)

// jobFlags maps job flags to their viper keys.
var jobFlags = map[string]string{
	"function":            "function",
	"optimizer":           "optimizer",
	"data":                "dataPath",
	"bias":                "bias",
	"lambda":              "lambda",
	"dim":                 "dimension",
	"seed":                "seed",
	"checkpoint-interval": "checkpointInterval",
	"step":                "params.stepSize",
	"max-iter":            "params.maxIterations",
	"tol":                 "params.tolerance",
	"batch":               "params.batchSize",
	"threads":             "params.threads",
	"descent":             "params.descent",
	"decay":               "params.decay",
	"population":          "params.populationSize",
}

// addJobFlags registers the flags that describe a job. Defaults mirror
// config.Defaults so unset flags never override a config file.
func addJobFlags(fs *pflag.FlagSet) {
	d := config.Defaults()
	fs.String("function", d.Function, fmt.Sprintf("Objective function %v", config.Functions))
	fs.String("optimizer", d.Optimizer, "Optimizer name (see 'policyopt policies')")
	fs.String("data", d.DataPath, "LIBSVM or CSV training data for logistic/softmax")
	fs.Float64("bias", d.Bias, "Append a constant bias feature with this value (negative disables)")
	fs.Float64("lambda", d.Lambda, "L2 regularization weight")
	fs.Int("dim", d.Dimension, "Dimension for generalized-rosenbrock and sparse-quadratic")
	fs.Float64Slice("target", nil, "Target point for sparse-quadratic")
	fs.Int64("seed", d.Seed, "Random seed")
	fs.Int("checkpoint-interval", d.CheckpointInterval, "Seconds between checkpoints (0 disables)")
	fs.Float64("step", 0, "Step size (0 keeps the optimizer default)")
	fs.Int("max-iter", 0, "Maximum iterations (0 keeps the optimizer default, negative removes the limit)")
	fs.Float64("tol", 0, "Convergence tolerance (0 keeps the optimizer default, negative disables the check)")
	fs.Int("batch", 0, "Mini-batch size for the SGD family")
	fs.Int("threads", 0, "Worker threads for parallel-sgd (0 uses GOMAXPROCS)")
	fs.String("descent", "", "Feature selection for scd: random, greedy, cyclic")
	fs.String("decay", "", "Step decay for parallel-sgd: constant, exponential")
	fs.Int("population", 0, "Population size for mayfly")
}

// loadJob resolves a job from defaults, the --config file, POLICYOPT_*
// environment variables and flags, in increasing precedence.
func loadJob(fs *pflag.FlagSet) (config.Job, error) {
	v := config.NewViper()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return config.Job{}, fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
	}
	for name, key := range jobFlags {
		if f := fs.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return config.Job{}, fmt.Errorf("failed to bind --%s: %w", name, err)
			}
		}
	}

	job, err := config.Decode(v)
	if err != nil {
		return config.Job{}, err
	}
	if fs.Changed("target") {
		if job.Target, err = fs.GetFloat64Slice("target"); err != nil {
			return config.Job{}, err
		}
	}
	if err := job.Validate(); err != nil {
		return config.Job{}, fmt.Errorf("invalid job: %w", err)
	}
	return job, nil
}
