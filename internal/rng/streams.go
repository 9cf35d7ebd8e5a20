package rng

import (
	"math/rand/v2"

	"abkit/domain/core"
	apperrors "abkit/internal/errors"
	"abkit/ports"
)

// Stream labels. Bootstrap draws and simulation permutations never share a stream
// even under the same base seed.
const (
	LabelBootstrap  = "bootstrap"
	LabelBootstrapC = "bootstrap/control"
	LabelBootstrapT = "bootstrap/treatment"
	LabelPermute    = "permute"
	LabelSynthetic  = "synthetic"
)

// Streams hands out per-iteration PCG generators derived from one base seed
type Streams struct {
	seed   uint64
	seeded bool
}

var _ ports.RNGPort = (*Streams)(nil)

// New builds a stream source. A nil seed draws one from the global generator unless
// determinism is required, in which case it is an input error.
func New(seed *uint64, requireDeterminism bool) (*Streams, error) {
	if seed == nil {
		if requireDeterminism {
			return nil, apperrors.InvalidInput(core.ErrSeedRequired, "deterministic run needs an explicit seed")
		}
		return &Streams{seed: rand.Uint64()}, nil
	}
	return &Streams{seed: *seed, seeded: true}, nil
}

// NewSeeded is New with a fixed seed
func NewSeeded(seed uint64) *Streams {
	return &Streams{seed: seed, seeded: true}
}

// Stream returns the generator for (label, iteration). The label selects the PCG
// state through DeriveSeed and the iteration selects the increment.
func (s *Streams) Stream(label string, iteration int) *rand.Rand {
	return rand.New(rand.NewPCG(core.DeriveSeed(s.seed, label), uint64(iteration)))
}

// Seed returns the effective base seed
func (s *Streams) Seed() uint64 { return s.seed }

// Seeded reports whether the caller supplied the seed
func (s *Streams) Seeded() bool { return s.seeded }

// Permute fills idx with a uniform random permutation of 0..len(idx)-1 (Fisher-Yates)
func Permute(r *rand.Rand, idx []int) {
	for i := range idx {
		idx[i] = i
	}
	for i := len(idx) - 1; i > 0; i-- {
		j := r.IntN(i + 1)
		idx[i], idx[j] = idx[j], idx[i]
	}
}

// Draw fills idx with len(idx) indices drawn uniformly with replacement from [0, n)
func Draw(r *rand.Rand, idx []int, n int) {
	for i := range idx {
		idx[i] = r.IntN(n)
	}
}
