// Package camera builds the camera descriptor consumed by the trace kernel
// and provides first-person navigation on top of it.
package camera

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/df07/go-progressive-pathtracer/pkg/core"
)

const (
	// Near is the distance of the near clipping plane
	Near = 0.1
	// Far is the distance of the far clipping plane
	Far = 100.0
)

// Up is the fixed world up direction
var Up = core.NewVec3(0, 1, 0)

// Camera is the kernel-facing camera descriptor. It is a pure value:
// rebuild it whenever the position, direction, fov or image size change.
type Camera struct {
	InvView       mgl32.Mat4
	InvProjection mgl32.Mat4
	Position      core.Vec3
	Width         uint32
	Height        uint32
}

// Build derives the inverse view and projection matrices.
// fov is the vertical field of view in degrees.
func Build(fov float32, width, height uint32, position, direction core.Vec3) Camera {
	aspect := float32(width) / float32(max(height, 1))
	projection := mgl32.Perspective(mgl32.DegToRad(fov), aspect, Near, Far)

	return Camera{
		InvView:       view(position, direction).Inv(),
		InvProjection: projection.Inv(),
		Position:      position,
		Width:         width,
		Height:        height,
	}
}

func view(position, direction core.Vec3) mgl32.Mat4 {
	eye := position.Mgl()
	return mgl32.LookAtV(eye, eye.Add(direction.Mgl()), Up.Mgl())
}

// PixelCount returns Width*Height
func (c Camera) PixelCount() int {
	return int(c.Width) * int(c.Height)
}

// Ray reconstructs the primary ray of a flat pixel index.
// Index 0 is the top-left pixel; Y is flipped into the bottom-up NDC space.
func (c Camera) Ray(index uint32) core.Ray {
	x := index % c.Width
	y := c.Height - index/c.Width

	ndcX := float32(x)/float32(c.Width)*2 - 1
	ndcY := float32(y)/float32(c.Height)*2 - 1

	target := c.InvProjection.Mul4x1(mgl32.Vec4{ndcX, ndcY, 1, 1})
	local := target.Vec3().Mul(1 / target.W()).Normalize()
	world := c.InvView.Mul4x1(local.Vec4(0)).Vec3()

	return core.NewRay(c.Position, core.Vec3FromMgl(world).Normalize())
}
