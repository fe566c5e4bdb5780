package geometry

import (
	"fmt"

	"github.com/df07/go-progressive-pathtracer/pkg/core"
)

// Kind tags the variant held by a Primitive. The numeric values are part
// of the device record layout.
type Kind uint32

const (
	KindSphere   Kind = 0
	KindTriangle Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindSphere:
		return "sphere"
	case KindTriangle:
		return "triangle"
	default:
		return fmt.Sprintf("Kind(%d)", uint32(k))
	}
}

// HitEpsilon is the smallest accepted ray parameter. Hits closer than this
// are treated as self-intersections of a ray leaving a surface.
const HitEpsilon = 1e-4

// HitRecord describes the closest intersection found so far
type HitRecord struct {
	Point         core.Vec3
	Normal        core.Vec3 // unit length, facing against the incoming ray for triangles
	Distance      float32
	MaterialIndex uint32
}

// Primitive is a closed tagged union over the supported shapes.
// Only the field selected by Kind is meaningful.
type Primitive struct {
	Kind     Kind
	Sphere   Sphere
	Triangle Triangle
}

// SpherePrimitive wraps a sphere
func SpherePrimitive(center core.Vec3, radius float32) Primitive {
	return Primitive{Kind: KindSphere, Sphere: Sphere{Center: center, Radius: radius}}
}

// TrianglePrimitive wraps a triangle
func TrianglePrimitive(v0, v1, v2 core.Vec3) Primitive {
	return Primitive{Kind: KindTriangle, Triangle: Triangle{V0: v0, V1: v1, V2: v2}}
}

// Hit dispatches to the intersection test of the held variant
func (p Primitive) Hit(ray core.Ray, tMin, tMax float32) (HitRecord, bool) {
	switch p.Kind {
	case KindSphere:
		return p.Sphere.Hit(ray, tMin, tMax)
	case KindTriangle:
		return p.Triangle.Hit(ray, tMin, tMax)
	default:
		return HitRecord{}, false
	}
}

// Validate reports malformed primitives
func (p Primitive) Validate() error {
	switch p.Kind {
	case KindSphere:
		if p.Sphere.Radius < 0 {
			return fmt.Errorf("sphere radius must be >= 0, got %v", p.Sphere.Radius)
		}
		return nil
	case KindTriangle:
		return nil
	default:
		return fmt.Errorf("unknown primitive kind %v", p.Kind)
	}
}
