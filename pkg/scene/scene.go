package scene

import (
	"github.com/df07/go-progressive-pathtracer/pkg/core"
	"github.com/df07/go-progressive-pathtracer/pkg/geometry"
	"github.com/df07/go-progressive-pathtracer/pkg/material"
)

// Object is an authored primitive with a reference to its material
type Object struct {
	geometry.Primitive
	Material *material.Material
}

// NewSphere creates a sphere object
func NewSphere(center core.Vec3, radius float32, mat *material.Material) Object {
	return Object{Primitive: geometry.SpherePrimitive(center, radius), Material: mat}
}

// NewTriangle creates a triangle object
func NewTriangle(v0, v1, v2 core.Vec3, mat *material.Material) Object {
	return Object{Primitive: geometry.TrianglePrimitive(v0, v1, v2), Material: mat}
}

// View is the camera placement a scene suggests for viewing it
type View struct {
	Position  core.Vec3
	Direction core.Vec3
	FOV       float32 // vertical, degrees
}

// DefaultView looks down -Z from (0, 0, 6) with a 60 degree field of view
func DefaultView() View {
	return View{
		Position:  core.NewVec3(0, 0, 6),
		Direction: core.NewVec3(0, 0, -1),
		FOV:       60,
	}
}

// Scene contains the objects and background of a render.
// A scene is built once and then compiled; compiling does not modify it.
type Scene struct {
	objects    []Object
	background core.Vec3
	View       View
}

// New creates an empty scene with a black background
func New() *Scene {
	return &Scene{View: DefaultView()}
}

// AddObject appends an object to the scene
func (s *Scene) AddObject(o Object) {
	s.objects = append(s.objects, o)
}

// SetBackgroundColor sets the color returned by rays that hit nothing
func (s *Scene) SetBackgroundColor(c core.Vec3) {
	s.background = c
}

// BackgroundColor returns the background color
func (s *Scene) BackgroundColor() core.Vec3 {
	return s.background
}

// Objects returns the objects in insertion order. The slice must not be modified.
func (s *Scene) Objects() []Object {
	return s.objects
}

// Len returns the number of objects
func (s *Scene) Len() int {
	return len(s.objects)
}

// Materials returns the distinct material instances in first-use order
func (s *Scene) Materials() []*material.Material {
	unique, _ := dedupeMaterials(s.objects)
	return unique
}
