package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/df07/go-progressive-pathtracer/pkg/core"
)

func floorTriangle() Triangle {
	return Triangle{
		V0: core.NewVec3(-2, -1, -1.5),
		V1: core.NewVec3(2, -1, -1.5),
		V2: core.NewVec3(0, -1, 2),
	}
}

func TestTriangle_Hit(t *testing.T) {
	tri := floorTriangle()

	tests := []struct {
		name   string
		origin core.Vec3
		dir    core.Vec3
		hit    bool
		dist   float32
		normal core.Vec3
	}{
		{"from above", core.NewVec3(0, 1, 0), core.NewVec3(0, -1, 0), true, 2, core.NewVec3(0, 1, 0)},
		{"from below", core.NewVec3(0, -3, 0), core.NewVec3(0, 1, 0), true, 2, core.NewVec3(0, -1, 0)},
		{"outside edge", core.NewVec3(5, 1, 0), core.NewVec3(0, -1, 0), false, 0, core.Vec3{}},
		{"pointing away", core.NewVec3(0, 1, 0), core.NewVec3(0, 1, 0), false, 0, core.Vec3{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := tri.Hit(core.NewRay(tt.origin, tt.dir), HitEpsilon, 1000)
			require.Equal(t, tt.hit, ok)
			if !tt.hit {
				return
			}
			assert.InDelta(t, tt.dist, rec.Distance, 1e-5)
			assert.True(t, rec.Normal.ApproxEqual(tt.normal, 1e-5), "normal %v should face the ray", rec.Normal)
			assert.Less(t, rec.Normal.Dot(tt.dir), float32(0))
		})
	}
}

func TestTriangle_Hit_ParallelRejected(t *testing.T) {
	tri := floorTriangle()

	// In the plane and nearly in the plane
	for _, dir := range []core.Vec3{
		core.NewVec3(0, 0, -1),
		core.NewVec3(0, -0.00001, -1).Normalize(),
	} {
		_, ok := tri.Hit(core.NewRay(core.NewVec3(0, -1, 5), dir), HitEpsilon, 1000)
		assert.False(t, ok, "direction %v is within the determinant epsilon", dir)
	}
}

func TestPrimitive_Hit_Dispatch(t *testing.T) {
	ray := core.NewRay(core.NewVec3(0, 0, 6), core.NewVec3(0, 0, -1))

	sphere := SpherePrimitive(core.NewVec3(0, 0, 0), 1)
	rec, ok := sphere.Hit(ray, HitEpsilon, 1000)
	require.True(t, ok)
	assert.InDelta(t, 5, rec.Distance, 1e-5)

	unknown := Primitive{Kind: Kind(7)}
	_, ok = unknown.Hit(ray, HitEpsilon, 1000)
	assert.False(t, ok)
	assert.Error(t, unknown.Validate())
	assert.Error(t, SpherePrimitive(core.Vec3{}, -1).Validate())
}
