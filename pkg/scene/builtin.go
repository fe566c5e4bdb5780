package scene

import (
	"sort"

	"github.com/samber/lo"

	"github.com/df07/go-progressive-pathtracer/pkg/core"
	"github.com/df07/go-progressive-pathtracer/pkg/material"
)

// BuiltinScene describes a procedurally constructed scene
type BuiltinScene struct {
	Name        string
	DisplayName string
	Description string
	Build       func() *Scene
}

var builtins = map[string]BuiltinScene{
	"spheres":  {"spheres", "Two Spheres", "Glossy cyan sphere resting on a large pink sphere", NewSpheresScene},
	"triangle": {"triangle", "Sphere and Mirror", "Diffuse blue sphere above a reflective triangle", NewTriangleScene},
	"ground":   {"ground", "Ground Plane", "Two glossy spheres on a green ground sphere", NewGroundScene},
	"cornell":  {"cornell", "Cornell Box", "Triangle Cornell box lit by an emissive ceiling panel", NewCornellScene},
	"grid":     {"grid", "Sphere Grid", "Grid of rainbow-colored spheres with rising smoothness", NewSphereGridScene},
}

// Builtin builds the named scene
func Builtin(name string) (*Scene, bool) {
	b, ok := builtins[name]
	if !ok {
		return nil, false
	}
	return b.Build(), true
}

// BuiltinNames returns the names of all built-in scenes, sorted
func BuiltinNames() []string {
	names := lo.Keys(builtins)
	sort.Strings(names)
	return names
}

// rgb255 converts 8-bit channel values to linear floats
func rgb255(r, g, b float32) core.Vec3 {
	return core.NewVec3(r, g, b).Multiply(1.0 / 255)
}

// NewSpheresScene creates a small glossy sphere resting on a large one
func NewSpheresScene() *Scene {
	cyan := material.New(core.NewVec3(0.2, 0.9, 0.8), 0.3)
	pink := material.New(core.NewVec3(1, 0, 1), 0.7)

	s := New()
	s.AddObject(NewSphere(core.NewVec3(0, 0, 0), 1, cyan))
	s.AddObject(NewSphere(core.NewVec3(0, -6, 0), 5, pink))
	s.SetBackgroundColor(rgb255(210, 210, 230))
	return s
}

// NewTriangleScene creates a diffuse sphere above a mirror triangle
func NewTriangleScene() *Scene {
	blue := material.New(core.NewVec3(0, 0.2, 0.8), 0)
	mirror := material.New(core.NewVec3(0, 1, 1), 1)

	s := New()
	s.AddObject(NewSphere(core.NewVec3(0, 0, 0), 1, blue))
	s.AddObject(NewTriangle(
		core.NewVec3(-2, -1, -1.5),
		core.NewVec3(2, -1, -1.5),
		core.NewVec3(0, -1, 2),
		mirror,
	))
	s.SetBackgroundColor(rgb255(180, 150, 200))
	return s
}

// NewGroundScene creates two spheres on a huge ground sphere
func NewGroundScene() *Scene {
	purple := material.New(core.NewVec3(1, 0, 1), 0.5)
	red := material.New(core.NewVec3(1, 0, 0), 0.6)
	green := material.New(core.NewVec3(0.3, 0.8, 0.3), 0.2)

	s := New()
	s.AddObject(NewSphere(core.NewVec3(0, 0, 0), 1, purple))
	s.AddObject(NewSphere(core.NewVec3(2, 0, 0), 1, red))
	s.AddObject(NewSphere(core.NewVec3(0, -101, 0), 100, green))
	s.SetBackgroundColor(rgb255(225, 225, 255))
	return s
}
