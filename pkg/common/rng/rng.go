// Package rng builds the explicitly threaded random generators every stage takes.
package rng

import "math/rand/v2"

// New returns a PCG-backed generator; the same seed always yields the same stream.
func New(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Derive returns a child generator for sub-task i, independent of how many
// draws the parent has consumed.
func Derive(seed uint64, i int) *rand.Rand {
	return New(seed*1_000_003 + uint64(i) + 1)
}
