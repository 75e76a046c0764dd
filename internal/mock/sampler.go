package mock

import (
	"math"
	"math/rand/v2"
)

// SampleTokens draws one output length from Normal(mean, stddev), rounded to the
// nearest integer and floored at 1. A positive maxTokens caps the result.
// r must not be shared with other goroutines; see NewRand.
func SampleTokens(r *rand.Rand, mean, stddev float64, maxTokens int) int {
	v := mean
	if stddev > 0 {
		v += r.NormFloat64() * stddev
	}
	n := 1
	if f := math.Round(v); f > 1 {
		n = int(min(f, math.MaxInt32))
	}
	if maxTokens > 0 && n > maxTokens {
		n = maxTokens
	}
	return n
}
