package camera

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/df07/go-progressive-pathtracer/pkg/core"
)

// Params tunes first-person navigation
type Params struct {
	Speed         float32 // world units per second
	Sensitivity   float32 // scale applied to raw mouse deltas
	RotationSpeed float32 // radians per scaled mouse unit
}

// DefaultParams returns the navigation defaults
func DefaultParams() Params {
	return Params{Speed: 5, Sensitivity: 0.002, RotationSpeed: 0.3}
}

// Input is a snapshot of the navigation controls for one update
type Input struct {
	Forward, Back bool // W / S
	Left, Right   bool // A / D
	Up, Down      bool // Q / E
	MouseDX       float32
	MouseDY       float32
	// Look enables navigation; without it the camera ignores input,
	// matching a right-mouse-button drag.
	Look bool
}

// Controller owns the navigable camera state. The application loop owns
// the controller; the renderer only sees the Camera it produces.
type Controller struct {
	position  core.Vec3
	direction core.Vec3
	fov       float32
	width     uint32
	height    uint32
	params    Params
	camera    Camera
}

// NewController creates a controller and builds its initial camera
func NewController(fov float32, width, height uint32, position, direction core.Vec3, params Params) *Controller {
	c := &Controller{
		position:  position,
		direction: direction.Normalize(),
		fov:       fov,
		width:     width,
		height:    height,
		params:    params,
	}
	c.rebuild()
	return c
}

func (c *Controller) rebuild() {
	c.camera = Build(c.fov, c.width, c.height, c.position, c.direction)
}

// Camera returns the current camera descriptor
func (c *Controller) Camera() Camera {
	return c.camera
}

// Position returns the eye position
func (c *Controller) Position() core.Vec3 {
	return c.position
}

// Direction returns the unit view direction
func (c *Controller) Direction() core.Vec3 {
	return c.direction
}

// Resize changes the image size. It returns true when the size changed.
func (c *Controller) Resize(width, height uint32) bool {
	if width == c.width && height == c.height {
		return false
	}
	c.width, c.height = width, height
	c.rebuild()
	return true
}

// SetFOV changes the vertical field of view. It returns true when it changed.
func (c *Controller) SetFOV(fov float32) bool {
	if fov == c.fov {
		return false
	}
	c.fov = fov
	c.rebuild()
	return true
}

// Place moves the camera to an explicit position and direction
func (c *Controller) Place(position, direction core.Vec3) {
	c.position = position
	c.direction = direction.Normalize()
	c.rebuild()
}

// Update applies dt seconds of input and reports whether the camera moved.
// Callers must reset accumulation when it did.
func (c *Controller) Update(dt float32, in Input) bool {
	if !in.Look {
		return false
	}

	moved := false
	right := c.direction.Cross(Up)
	step := c.params.Speed * dt

	move := func(active bool, dir core.Vec3, sign float32) {
		if active {
			c.position = c.position.Add(dir.Multiply(sign * step))
			moved = true
		}
	}
	move(in.Forward, c.direction, 1)
	move(in.Back, c.direction, -1)
	move(in.Left, right, -1)
	move(in.Right, right, 1)
	move(in.Up, Up, 1)
	move(in.Down, Up, -1)

	dx := in.MouseDX * c.params.Sensitivity
	dy := in.MouseDY * c.params.Sensitivity
	if dx != 0 || dy != 0 {
		yaw := dx * c.params.RotationSpeed
		pitch := dy * c.params.RotationSpeed

		q := mgl32.QuatRotate(-pitch, right.Mgl().Normalize()).
			Mul(mgl32.QuatRotate(-yaw, Up.Mgl())).
			Normalize()
		c.direction = core.Vec3FromMgl(q.Rotate(c.direction.Mgl())).Normalize()
		moved = true
	}

	if moved {
		c.rebuild()
	}
	return moved
}
