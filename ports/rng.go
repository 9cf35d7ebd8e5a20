package ports

import (
	"math/rand/v2"
)

// RNGPort provides seeded random streams for resampling and simulation
type RNGPort interface {
	// Stream returns the generator for one iteration of a named procedure.
	// The same (seed, label, iteration) always yields the same sequence, independent
	// of which goroutine asks or in which order.
	Stream(label string, iteration int) *rand.Rand

	// Seed is the effective base seed, recorded on results for reproduction
	Seed() uint64

	// Seeded reports whether the seed was supplied by the caller
	Seeded() bool
}
