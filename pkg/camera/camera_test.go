package camera

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"

	"github.com/df07/go-progressive-pathtracer/pkg/core"
)

func TestBuild_Matrices(t *testing.T) {
	cam := Build(60, 200, 100, core.NewVec3(1, 2, 3), core.NewVec3(0, 0, -1))

	assert.Equal(t, core.NewVec3(1, 2, 3), cam.Position)
	assert.Equal(t, uint32(200), cam.Width)
	assert.Equal(t, uint32(100), cam.Height)
	assert.Equal(t, 20000, cam.PixelCount())

	// The inverse view maps the view-space origin to the eye
	eye := cam.InvView.Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	assert.True(t, core.Vec3FromMgl(eye.Vec3()).ApproxEqual(cam.Position, 1e-5), "eye %v", eye)

	projection := mgl32.Perspective(mgl32.DegToRad(60), 2, Near, Far)
	assert.True(t, cam.InvProjection.Mul4(projection).ApproxEqualThreshold(mgl32.Ident4(), 1e-4))
}

func TestCamera_Ray(t *testing.T) {
	const w, h = 64, 64
	cam := Build(60, w, h, core.NewVec3(0, 0, 6), core.NewVec3(0, 0, -1))

	t.Run("center looks forward", func(t *testing.T) {
		ray := cam.Ray(h/2*w + w/2)
		assert.Equal(t, core.NewVec3(0, 0, 6), ray.Origin)
		assert.True(t, ray.Direction.ApproxEqual(core.NewVec3(0, 0, -1), 1e-5), "dir %v", ray.Direction)
	})

	t.Run("top-left looks up and left", func(t *testing.T) {
		ray := cam.Ray(0)
		assert.Less(t, ray.Direction.X, float32(0))
		assert.Greater(t, ray.Direction.Y, float32(0))
		assert.InDelta(t, 1, ray.Direction.Length(), 1e-5)
	})

	t.Run("bottom-right looks down and right", func(t *testing.T) {
		ray := cam.Ray(w*h - 1)
		assert.Greater(t, ray.Direction.X, float32(0))
		assert.Less(t, ray.Direction.Y, float32(0))
	})

	t.Run("edges span the field of view", func(t *testing.T) {
		// Top row of the image sits at NDC y = 1, half the vertical fov above center
		ray := cam.Ray(w / 2)
		assert.InDelta(t, 0.5, ray.Direction.Y, 1e-3, "sin(30deg)")
	})
}

func TestCamera_RayFollowsDirection(t *testing.T) {
	dir := core.NewVec3(1, 0, 0)
	cam := Build(45, 32, 32, core.NewVec3(0, 0, 0), dir)
	ray := cam.Ray(16*32 + 16)
	assert.True(t, ray.Direction.ApproxEqual(dir, 1e-5), "dir %v", ray.Direction)
}

func TestController_Update(t *testing.T) {
	newController := func() *Controller {
		return NewController(60, 64, 64, core.NewVec3(0, 0, 6), core.NewVec3(0, 0, -1), Params{Speed: 2, Sensitivity: 1, RotationSpeed: 0.1})
	}

	tests := []struct {
		name     string
		input    Input
		moved    bool
		position core.Vec3
	}{
		{"no look ignores keys", Input{Forward: true}, false, core.NewVec3(0, 0, 6)},
		{"idle", Input{Look: true}, false, core.NewVec3(0, 0, 6)},
		{"forward", Input{Look: true, Forward: true}, true, core.NewVec3(0, 0, 5)},
		{"back", Input{Look: true, Back: true}, true, core.NewVec3(0, 0, 7)},
		{"right", Input{Look: true, Right: true}, true, core.NewVec3(1, 0, 6)},
		{"left", Input{Look: true, Left: true}, true, core.NewVec3(-1, 0, 6)},
		{"up", Input{Look: true, Up: true}, true, core.NewVec3(0, 1, 6)},
		{"down", Input{Look: true, Down: true}, true, core.NewVec3(0, -1, 6)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newController()
			before := c.Camera()
			moved := c.Update(0.5, tt.input)

			assert.Equal(t, tt.moved, moved)
			assert.True(t, c.Position().ApproxEqual(tt.position, 1e-5), "position %v", c.Position())
			if !moved {
				assert.Equal(t, before, c.Camera())
			} else {
				assert.Equal(t, c.Position(), c.Camera().Position)
			}
		})
	}
}

func TestController_MouseLook(t *testing.T) {
	c := NewController(60, 64, 64, core.NewVec3(0, 0, 6), core.NewVec3(0, 0, -1), Params{Speed: 1, Sensitivity: 1, RotationSpeed: 0.1})

	assert.True(t, c.Update(0.016, Input{Look: true, MouseDX: 5}))
	dir := c.Direction()
	assert.InDelta(t, 1, dir.Length(), 1e-5)
	assert.Greater(t, dir.X, float32(0), "positive yaw delta turns right")
	assert.InDelta(t, 0, dir.Y, 1e-5)

	assert.True(t, c.Update(0.016, Input{Look: true, MouseDY: 5}))
	assert.Less(t, c.Direction().Y, float32(0), "positive pitch delta looks down")
}

func TestController_Resize(t *testing.T) {
	c := NewController(60, 64, 64, core.NewVec3(0, 0, 6), core.NewVec3(0, 0, -1), DefaultParams())
	assert.False(t, c.Resize(64, 64))
	assert.True(t, c.Resize(128, 64))
	assert.Equal(t, uint32(128), c.Camera().Width)
	assert.True(t, c.SetFOV(45))
	assert.False(t, c.SetFOV(45))
}
