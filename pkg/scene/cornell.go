package scene

import (
	"github.com/df07/go-progressive-pathtracer/pkg/core"
	"github.com/df07/go-progressive-pathtracer/pkg/material"
)

// addQuad adds the parallelogram corner, corner+u, corner+u+v, corner+v as two triangles
func (s *Scene) addQuad(corner, u, v core.Vec3, mat *material.Material) {
	s.AddObject(NewTriangle(corner, corner.Add(u), corner.Add(u).Add(v), mat))
	s.AddObject(NewTriangle(corner, corner.Add(u).Add(v), corner.Add(v), mat))
}

// NewCornellScene creates a classic Cornell box with triangle walls and an
// emissive ceiling panel. The box spans [-1, 1] on every axis and is open
// towards +Z where the camera sits.
func NewCornellScene() *Scene {
	s := New()
	s.View = View{
		Position:  core.NewVec3(0, 0, 3.4),
		Direction: core.NewVec3(0, 0, -1),
		FOV:       40,
	}

	// Black background: all light comes from the panel
	s.SetBackgroundColor(core.NewVec3(0, 0, 0))

	white := material.NewLambertian(core.NewVec3(0.73, 0.73, 0.73))
	red := material.NewLambertian(core.NewVec3(0.65, 0.05, 0.05))
	green := material.NewLambertian(core.NewVec3(0.12, 0.45, 0.15))
	light := material.NewEmissive(core.NewVec3(1, 0.9, 0.8), 15)

	const size = 2.0

	// Floor, ceiling and back wall
	s.addQuad(core.NewVec3(-1, -1, -1), core.NewVec3(0, 0, size), core.NewVec3(size, 0, 0), white)
	s.addQuad(core.NewVec3(-1, 1, -1), core.NewVec3(size, 0, 0), core.NewVec3(0, 0, size), white)
	s.addQuad(core.NewVec3(-1, -1, -1), core.NewVec3(size, 0, 0), core.NewVec3(0, size, 0), white)

	// Left (red) and right (green) walls
	s.addQuad(core.NewVec3(-1, -1, -1), core.NewVec3(0, size, 0), core.NewVec3(0, 0, size), red)
	s.addQuad(core.NewVec3(1, -1, -1), core.NewVec3(0, 0, size), core.NewVec3(0, size, 0), green)

	// Ceiling light slightly below the ceiling
	const lightSize = 0.5
	s.addQuad(
		core.NewVec3(-lightSize/2, 0.999, -lightSize/2),
		core.NewVec3(lightSize, 0, 0),
		core.NewVec3(0, 0, lightSize),
		light,
	)

	// A mirror sphere and a diffuse sphere
	s.AddObject(NewSphere(core.NewVec3(-0.4, -0.65, -0.35), 0.35, material.New(core.NewVec3(0.8, 0.8, 0.9), 1)))
	s.AddObject(NewSphere(core.NewVec3(0.4, -0.65, 0.25), 0.35, white))

	return s
}
