package geometry

import (
	"github.com/chewxy/math32"

	"github.com/df07/go-progressive-pathtracer/pkg/core"
)

// TriangleEpsilon bounds the determinant below which a ray is considered
// parallel to the triangle's plane.
const TriangleEpsilon = 0.001

// Triangle represents a single triangle defined by three vertices.
// The normal is derived at hit time.
type Triangle struct {
	V0, V1, V2 core.Vec3
}

// Normal returns the geometric normal by winding order
func (t Triangle) Normal() core.Vec3 {
	return t.V1.Subtract(t.V0).Cross(t.V2.Subtract(t.V0)).Normalize()
}

// Hit tests if a ray intersects with the triangle using the Möller-Trumbore algorithm
func (t Triangle) Hit(ray core.Ray, tMin, tMax float32) (HitRecord, bool) {
	edge1 := t.V1.Subtract(t.V0)
	edge2 := t.V2.Subtract(t.V0)

	h := ray.Direction.Cross(edge2)
	det := edge1.Dot(h)

	// Ray lies in, or nearly parallel to, the triangle's plane
	if math32.Abs(det) < TriangleEpsilon {
		return HitRecord{}, false
	}

	invDet := 1 / det
	s := ray.Origin.Subtract(t.V0)
	u := invDet * s.Dot(h)
	if u < 0 || u > 1 {
		return HitRecord{}, false
	}

	q := s.Cross(edge1)
	v := invDet * ray.Direction.Dot(q)
	if v < 0 || u+v > 1 {
		return HitRecord{}, false
	}

	dist := invDet * edge2.Dot(q)
	if dist <= tMin || dist >= tMax {
		return HitRecord{}, false
	}

	normal := edge1.Cross(edge2).Normalize()
	if ray.Direction.Dot(normal) > 0 {
		normal = normal.Negate()
	}

	return HitRecord{
		Point:    ray.At(dist),
		Normal:   normal,
		Distance: dist,
	}, true
}
