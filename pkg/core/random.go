package core

import (
	"math"

	"github.com/chewxy/math32"
)

// Random is a per-invocation PCG hash random state.
// The zero value is valid but every kernel invocation should seed its own.
type Random struct {
	state uint32
}

// PCGHash permutes input with a PCG-style hash; used to advance the state
func PCGHash(input uint32) uint32 {
	state := input*747796405 + 2891336453
	word := (state >> ((state >> 28) + 4)) ^ state
	return (word >> 22) ^ word
}

// NewRandom seeds a random state from a pixel index, frame counter and sample index.
// Distinct frames yield uncorrelated sequences for the same pixel.
func NewRandom(pixel, frame, sample uint32) *Random {
	seed := PCGHash(pixel) ^ PCGHash(frame*0x9E3779B9+1) ^ PCGHash(sample*0x85EBCA6B+2)
	return &Random{state: seed}
}

// Uint32 advances the state and returns it
func (r *Random) Uint32() uint32 {
	r.state = PCGHash(r.state)
	return r.state
}

// Float returns a value in [0, 1]
func (r *Random) Float() float32 {
	return float32(float64(r.Uint32()) / math.MaxUint32)
}

// NormalFloat returns a standard normal sample (Box-Muller)
func (r *Random) NormalFloat() float32 {
	theta := 2 * math32.Pi * r.Float()
	rho := math32.Sqrt(-2 * math32.Log(max(r.Float(), 1e-7)))
	return rho * math32.Cos(theta)
}

// UnitVector returns a uniformly distributed direction on the unit sphere
func (r *Random) UnitVector() Vec3 {
	v := Vec3{r.NormalFloat(), r.NormalFloat(), r.NormalFloat()}
	if v.LengthSquared() == 0 {
		return Vec3{0, 1, 0}
	}
	return v.Normalize()
}
