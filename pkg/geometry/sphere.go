package geometry

import (
	"github.com/chewxy/math32"

	"github.com/df07/go-progressive-pathtracer/pkg/core"
)

// Sphere represents a sphere shape
type Sphere struct {
	Center core.Vec3
	Radius float32
}

// Hit tests if a ray intersects with the sphere.
// Only the nearest root is considered, so a ray starting inside the sphere
// reports a miss.
func (s Sphere) Hit(ray core.Ray, tMin, tMax float32) (HitRecord, bool) {
	// Vector from sphere center to ray origin
	oc := ray.Origin.Subtract(s.Center)

	// Quadratic equation coefficients: at² + bt + c = 0
	a := ray.Direction.Dot(ray.Direction)
	b := 2 * oc.Dot(ray.Direction)
	c := oc.Dot(oc) - s.Radius*s.Radius

	discriminant := b*b - 4*a*c
	if discriminant < 0 || a == 0 {
		return HitRecord{}, false
	}

	root := (-b - math32.Sqrt(discriminant)) / (2 * a)
	if root <= tMin || root >= tMax {
		return HitRecord{}, false
	}

	// Normal from the position relative to the center
	local := oc.Add(ray.Direction.Multiply(root))
	return HitRecord{
		Point:    ray.At(root),
		Normal:   local.Normalize(),
		Distance: root,
	}, true
}
