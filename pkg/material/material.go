package material

import (
	"fmt"

	"github.com/df07/go-progressive-pathtracer/pkg/core"
	"github.com/df07/go-progressive-pathtracer/pkg/geometry"
)

// Size is the size in bytes of one encoded material record:
// color vec4, emission vec4, smoothness and padding.
const Size = 48

// Material describes how a surface reflects and emits light.
//
// Materials are shared by pointer between objects and must not be modified
// after construction. The scene compiler deduplicates them by identity, so
// two materials with equal fields created separately occupy two slots.
type Material struct {
	Color         core.Vec3
	EmissionColor core.Vec3
	Smoothness    float32 // 0 = diffuse, 1 = perfect mirror
}

// New creates a non-emissive material
func New(color core.Vec3, smoothness float32) *Material {
	return &Material{Color: color, Smoothness: smoothness}
}

// NewLambertian creates a fully diffuse material
func NewLambertian(color core.Vec3) *Material {
	return New(color, 0)
}

// NewEmissive creates a light-emitting material with emission = color*power
func NewEmissive(color core.Vec3, power float32) *Material {
	return &Material{
		Color:         color,
		EmissionColor: color.Multiply(power),
	}
}

// NewDefault returns the material used in place of invalid material definitions
func NewDefault() *Material {
	return NewEmissive(core.NewVec3(1, 0.8, 0.8), 10)
}

// Validate checks the field ranges
func (m *Material) Validate() error {
	if m.Smoothness < 0 || m.Smoothness > 1 {
		return fmt.Errorf("smoothness must be in [0, 1], got %v", m.Smoothness)
	}
	if m.Color.X < 0 || m.Color.Y < 0 || m.Color.Z < 0 {
		return fmt.Errorf("color must be non-negative, got %v", m.Color)
	}
	if m.EmissionColor.X < 0 || m.EmissionColor.Y < 0 || m.EmissionColor.Z < 0 {
		return fmt.Errorf("emission must be non-negative, got %v", m.EmissionColor)
	}
	return nil
}

// IsEmissive reports whether the material emits light
func (m *Material) IsEmissive() bool {
	return !m.EmissionColor.IsZero()
}

// Scatter picks the next path direction at a surface hit.
// The attenuation applied to the path throughput is the material color.
func (m *Material) Scatter(incoming, normal core.Vec3, random *core.Random) (direction, attenuation core.Vec3) {
	return core.BounceDirection(incoming, normal, m.Smoothness, random), m.Color
}

// Encode writes the material record into dst, which must hold Size bytes
func (m *Material) Encode(dst []byte) {
	clear(dst[:Size])
	geometry.PutVec3(dst[0:], m.Color, 1)
	geometry.PutVec3(dst[16:], m.EmissionColor, 1)
	geometry.PutFloat32(dst[32:], m.Smoothness)
}

// Decode reads one material record
func Decode(src []byte) Material {
	return Material{
		Color:         geometry.Vec3At(src[0:]),
		EmissionColor: geometry.Vec3At(src[16:]),
		Smoothness:    geometry.Float32At(src[32:]),
	}
}

// DecodeAll reads count records from a packed buffer
func DecodeAll(src []byte, count int) ([]Material, error) {
	if len(src) < count*Size {
		return nil, fmt.Errorf("materials buffer holds %d bytes, need %d", len(src), count*Size)
	}
	materials := make([]Material, count)
	for i := range materials {
		materials[i] = Decode(src[i*Size:])
	}
	return materials, nil
}
