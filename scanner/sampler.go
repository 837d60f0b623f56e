package scanner

import (
	"math/rand/v2"
)

// DefaultSampleRate is the share of elements style-checked per scan.
const DefaultSampleRate = 0.2

// Sampler decides whether an element gets the costly style check.
type Sampler interface {
	Sample() bool
}

// RateSampler samples with a fixed probability from a seeded generator, so
// a given seed reproduces the same selection.
type RateSampler struct {
	rate float64
	rng  *rand.Rand
}

// NewRateSampler returns a sampler accepting roughly rate of all calls.
func NewRateSampler(rate float64, seed uint64) *RateSampler {
	return &RateSampler{
		rate: rate,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (s *RateSampler) Sample() bool {
	switch {
	case s.rate <= 0:
		return false
	case s.rate >= 1:
		return true
	}
	return s.rng.Float64() < s.rate
}

type always struct{}

func (always) Sample() bool { return true }

// Always samples every element.
func Always() Sampler { return always{} }
