package mock

import (
	"math/rand/v2"

	"github.com/google/uuid"
)

// NewRand returns an independent generator for one request or stream.
// Seeds come from the runtime's per-goroutine source, so concurrent callers never
// contend on a shared generator.
func NewRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// NewSeededRand returns a deterministic generator, used by tests and benchmarks.
func NewSeededRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// RandIntn returns a value in [0, n) from the global source. Safe for concurrent use.
func RandIntn(n int) int {
	if n <= 0 {
		return 0
	}
	return rand.IntN(n)
}

// RandFloat64 returns a value in [0, 1) from the global source. Safe for concurrent use.
func RandFloat64() float64 {
	return rand.Float64()
}

// RandID returns a random identifier suitable for response ids.
func RandID() string {
	return uuid.NewString()
}
