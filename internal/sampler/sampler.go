// Package sampler implements weighted random choice over labelled candidates.
package sampler

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
)

// Epsilon is the floor weight. A candidate missing from the weight table (or
// declared with a non-positive weight) still gets Epsilon, so every supplied
// candidate stays reachable.
const Epsilon = 0.01

// ErrNoCandidates is returned when Choose is given nothing to choose from.
var ErrNoCandidates = errors.New("no candidates to sample")

// Rand is the randomness used for draws. *rand.Rand from math/rand/v2
// satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// globalRand uses the math/rand/v2 top-level source, which is safe for
// concurrent use.
type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

// DefaultRand returns a concurrency-safe Rand backed by the runtime source.
func DefaultRand() Rand { return globalRand{} }

// Sampler draws candidates of type T in proportion to their weights.
type Sampler[T comparable] struct {
	Weights   map[T]float64
	Modifiers map[T]float64 // multiplier per candidate, 1 when absent
	Rand      Rand
	Logger    *slog.Logger
}

// Weight returns the effective weight of c: base × modifier, floored at Epsilon.
func (s Sampler[T]) Weight(c T) float64 {
	base, ok := s.Weights[c]
	if !ok || !(base > 0) {
		base = Epsilon
	}
	mod, ok := s.Modifiers[c]
	if !ok {
		mod = 1
	}
	w := base * mod
	if !(w > 0) {
		return Epsilon
	}
	return w
}

// Total sums the effective weights of candidates.
func (s Sampler[T]) Total(candidates []T) float64 {
	var total float64
	for _, c := range candidates {
		total += s.Weight(c)
	}
	return total
}

// Choose returns one of candidates. A draw u in [0, total) selects the
// candidate whose cumulative weight bracket contains it.
func (s Sampler[T]) Choose(candidates []T) (T, error) {
	var zero T
	if len(candidates) == 0 {
		return zero, ErrNoCandidates
	}
	r := s.rand()

	total := s.Total(candidates)
	if !(total > 0) || math.IsInf(total, 0) {
		s.logger().Warn("degenerate weights, falling back to uniform choice",
			"candidates", len(candidates), "total_weight", total)
		return candidates[r.IntN(len(candidates))], nil
	}

	u := r.Float64() * total
	var cumulative float64
	for _, c := range candidates {
		cumulative += s.Weight(c)
		if u < cumulative {
			return c, nil
		}
	}
	// Float rounding can leave u == total; the last bracket owns it.
	return candidates[len(candidates)-1], nil
}

// Probability returns the chance in percent that selected is drawn from
// candidates. It is for display only.
func (s Sampler[T]) Probability(candidates []T, selected T) float64 {
	total := s.Total(candidates)
	if !(total > 0) {
		return 0
	}
	return s.Weight(selected) / total * 100
}

// FormatProbability renders a percentage the way records store it ("12.5%").
func FormatProbability(p float64) string {
	return fmt.Sprintf("%.1f%%", p)
}

func (s Sampler[T]) rand() Rand {
	if s.Rand == nil {
		return globalRand{}
	}
	return s.Rand
}

func (s Sampler[T]) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
