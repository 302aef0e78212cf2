// Package sampler provides seeded random sampling for workloads, so a run
// started with the same seed issues the same sequence of payloads.
package sampler

import (
	"math/rand"
	"time"
)

// Sampler draws random values from a seeded source.
//
// A Sampler is not safe for concurrent use. Each virtual user owns one,
// derived from the run seed and its ID via ForVU.
type Sampler struct {
	rng  *rand.Rand
	seed int64
}

// New creates a sampler from a seed.
func New(seed int64) *Sampler {
	return &Sampler{
		rng:  rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// ForVU derives the sampler for one virtual user. Different VUs of the same
// run get independent streams; the same (seed, vu) pair always gets the same
// stream.
func ForVU(seed int64, vu int) *Sampler {
	return New(mix(seed, int64(vu)))
}

// mix combines two values with the splitmix64 finalizer so that adjacent VU
// IDs do not produce correlated sources.
func mix(seed, id int64) int64 {
	z := uint64(seed) + uint64(id)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return int64(z ^ (z >> 31))
}

// Seed returns the seed the sampler was created with.
func (s *Sampler) Seed() int64 {
	return s.seed
}

// Intn returns a value in [0, n). It returns 0 when n <= 0.
func (s *Sampler) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return s.rng.Intn(n)
}

// IntBetween returns a value in [min, max].
func (s *Sampler) IntBetween(min, max int) int {
	if max <= min {
		return min
	}
	return min + s.rng.Intn(max-min+1)
}

// Float64 returns a value in [0, 1).
func (s *Sampler) Float64() float64 {
	return s.rng.Float64()
}

// Bool returns true with probability p.
func (s *Sampler) Bool(p float64) bool {
	return s.rng.Float64() < p
}

// Duration returns a duration uniformly distributed in [min, max).
func (s *Sampler) Duration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(s.rng.Int63n(int64(max-min)))
}

// Pick returns a uniformly chosen element of items. It panics on an empty
// slice, like indexing would.
func Pick[T any](s *Sampler, items []T) T {
	return items[s.rng.Intn(len(items))]
}

// PickDistinct draws n elements with replacement and returns the distinct
// ones in the order they were first drawn. The result can therefore hold
// fewer than n elements.
func PickDistinct[T comparable](s *Sampler, items []T, n int) []T {
	if len(items) == 0 || n <= 0 {
		return nil
	}
	seen := make(map[T]bool, n)
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		item := items[s.rng.Intn(len(items))]
		if !seen[item] {
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}
