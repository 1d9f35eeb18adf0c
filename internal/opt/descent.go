package opt

import (
	"math/rand"

	"github.com/cwbudde/policyopt/internal/function"
	"github.com/cwbudde/policyopt/internal/sparse"
	"gonum.org/v1/gonum/mat"
)

// DescentPolicy chooses the feature SCD updates at each iteration.
type DescentPolicy interface {
	DescentFeature(iteration int, iterate *mat.Dense, f function.Resolvable) int
}

// CyclicDescent visits features in order.
type CyclicDescent struct{}

func (CyclicDescent) DescentFeature(iteration int, _ *mat.Dense, f function.Resolvable) int {
	return iteration % f.NumFeatures()
}

// RandomDescent picks a feature uniformly at random.
type RandomDescent struct {
	rng *rand.Rand
}

func NewRandomDescent(seed int64) *RandomDescent {
	return &RandomDescent{rng: rand.New(rand.NewSource(seed))}
}

func (d *RandomDescent) DescentFeature(_ int, _ *mat.Dense, f function.Resolvable) int {
	return d.rng.Intn(f.NumFeatures())
}

// GreedyDescent picks the feature whose partial gradient has the largest
// squared norm. It costs one FeatureGradient call per feature.
type GreedyDescent struct{}

func (GreedyDescent) DescentFeature(_ int, iterate *mat.Dense, f function.Resolvable) int {
	r, c := iterate.Dims()
	g := sparse.New(r, c)
	best, bestNorm := 0, -1.0
	for j := 0; j < f.NumFeatures(); j++ {
		g.Reset()
		f.FeatureGradient(iterate, j, g)
		var norm float64
		g.DoNonZero(func(_, _ int, v float64) {
			norm += v * v
		})
		if norm > bestNorm {
			best, bestNorm = j, norm
		}
	}
	return best
}
