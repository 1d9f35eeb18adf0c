package opt

import (
	"log/slog"
	"math"
)

// ConvergenceConfig defines when successive objective values count as
// converged.
type ConvergenceConfig struct {
	// Tolerance is the smallest change in objective that counts as progress.
	// A change strictly below Tolerance is stale.
	Tolerance float64

	// Patience is the number of consecutive stale checks before stopping.
	// Values below 1 behave as 1.
	Patience int

	// Relative compares |last - current| / |last| instead of the absolute
	// difference.
	Relative bool
}

// ConvergenceTracker tracks objective history and detects convergence.
type ConvergenceTracker struct {
	config     ConvergenceConfig
	history    []float64
	best       float64
	last       float64
	staleCount int
}

// NewConvergenceTracker creates a tracker with the given config.
func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	if config.Patience < 1 {
		config.Patience = 1
	}
	return &ConvergenceTracker{
		config: config,
		best:   math.Inf(1),
		last:   math.Inf(1),
	}
}

// Update records a new objective value and returns true once convergence
// is detected. The first value never converges.
func (c *ConvergenceTracker) Update(objective float64) bool {
	c.history = append(c.history, objective)
	if objective < c.best {
		c.best = objective
	}

	if len(c.history) == 1 {
		c.last = objective
		return false
	}

	change := math.Abs(c.last - objective)
	if c.config.Relative && c.last != 0 {
		change /= math.Abs(c.last)
	}
	c.last = objective

	if change >= c.config.Tolerance {
		c.staleCount = 0
		return false
	}

	c.staleCount++
	slog.Debug("Objective change below tolerance",
		"objective", objective,
		"change", change,
		"tolerance", c.config.Tolerance,
		"stale_count", c.staleCount,
		"patience", c.config.Patience,
	)
	return c.staleCount >= c.config.Patience
}

// Best returns the lowest objective seen so far.
func (c *ConvergenceTracker) Best() float64 {
	return c.best
}

// History returns a copy of every recorded objective.
func (c *ConvergenceTracker) History() []float64 {
	return append([]float64{}, c.history...)
}

// StaleCount returns the number of consecutive stale checks.
func (c *ConvergenceTracker) StaleCount() int {
	return c.staleCount
}

// Reset clears the tracker's state.
func (c *ConvergenceTracker) Reset() {
	c.history = nil
	c.best = math.Inf(1)
	c.last = math.Inf(1)
	c.staleCount = 0
}
