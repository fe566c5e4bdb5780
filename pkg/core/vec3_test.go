package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVec3_Operations(t *testing.T) {
	a := NewVec3(1, 2, 3)
	b := NewVec3(4, 5, 6)

	tests := []struct {
		name     string
		result   Vec3
		expected Vec3
	}{
		{"Add", a.Add(b), NewVec3(5, 7, 9)},
		{"Subtract", b.Subtract(a), NewVec3(3, 3, 3)},
		{"Multiply", a.Multiply(2), NewVec3(2, 4, 6)},
		{"MultiplyVec", a.MultiplyVec(b), NewVec3(4, 10, 18)},
		{"Cross", NewVec3(1, 0, 0).Cross(NewVec3(0, 1, 0)), NewVec3(0, 0, 1)},
		{"Negate", a.Negate(), NewVec3(-1, -2, -3)},
		{"Lerp", a.Lerp(b, 0.5), NewVec3(2.5, 3.5, 4.5)},
		{"Reflect", NewVec3(1, -1, 0).Reflect(NewVec3(0, 1, 0)), NewVec3(1, 1, 0)},
		{"Clamp", NewVec3(-1, 0.5, 2).Clamp(0, 1), NewVec3(0, 0.5, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.result.ApproxEqual(tt.expected, 1e-6), "expected %v, got %v", tt.expected, tt.result)
		})
	}
}

func TestVec3_Normalize(t *testing.T) {
	v := NewVec3(3, 0, 4).Normalize()
	assert.InDelta(t, 1.0, v.Length(), 1e-6)
	assert.InDelta(t, 0.6, v.X, 1e-6)

	zero := Vec3{}
	assert.Equal(t, zero, zero.Normalize(), "zero vector must not produce NaN")
}

func TestVec3_Dot(t *testing.T) {
	assert.Equal(t, float32(32), NewVec3(1, 2, 3).Dot(NewVec3(4, 5, 6)))
	assert.Equal(t, float32(14), NewVec3(1, 2, 3).LengthSquared())
}

func TestRay_At(t *testing.T) {
	ray := NewRay(NewVec3(0, 0, 6), NewVec3(0, 0, -1))
	assert.Equal(t, NewVec3(0, 0, 1), ray.At(5))
}
