package scene

import (
	"github.com/chewxy/math32"

	"github.com/df07/go-progressive-pathtracer/pkg/core"
	"github.com/df07/go-progressive-pathtracer/pkg/material"
)

// oklchToRGB converts OKLCH color values to RGB
// L: lightness (0-1), C: chroma (0-0.4+), H: hue (0-360 degrees)
func oklchToRGB(l, c, h float32) core.Vec3 {
	hRad := h * math32.Pi / 180

	// OKLCH to OKLAB
	a := c * math32.Cos(hRad)
	b := c * math32.Sin(hRad)

	// OKLAB to LMS
	l_ := l + 0.3963377774*a + 0.2158037573*b
	m_ := l - 0.1055613458*a - 0.0638541728*b
	s_ := l - 0.0894841775*a - 1.2914855480*b

	l_ = l_ * l_ * l_
	m_ = m_ * m_ * m_
	s_ = s_ * s_ * s_

	// LMS to linear RGB
	r := +4.0767416621*l_ - 3.3077115913*m_ + 0.2309699292*s_
	g := -1.2684380046*l_ + 2.6097574011*m_ - 0.3413193965*s_
	blue := -0.0041960863*l_ - 0.7034186147*m_ + 1.7076147010*s_

	return core.NewVec3(r, g, blue).Clamp(0, 1)
}

// gridSize is the number of spheres along each side of the grid
const gridSize = 6

// NewSphereGridScene creates a grid of spheres. Hue varies along X and
// smoothness along Z, so the grid doubles as a material reference chart.
func NewSphereGridScene() *Scene {
	s := New()
	s.View = View{
		Position:  core.NewVec3(0, 4, 9),
		Direction: core.NewVec3(0, -0.45, -1).Normalize(),
		FOV:       45,
	}
	s.SetBackgroundColor(core.NewVec3(0.75, 0.8, 0.95))

	const spacing = 1.1
	const radius = 0.45
	offset := float32(spacing * (gridSize - 1) / 2)

	for i := 0; i < gridSize; i++ {
		hue := float32(i) * 360 / gridSize
		for j := 0; j < gridSize; j++ {
			smoothness := float32(j) / (gridSize - 1)
			mat := material.New(oklchToRGB(0.7, 0.15, hue), smoothness)
			center := core.NewVec3(float32(i)*spacing-offset, 0, float32(j)*spacing-offset)
			s.AddObject(NewSphere(center, radius, mat))
		}
	}

	ground := material.NewLambertian(core.NewVec3(0.5, 0.5, 0.5))
	s.AddObject(NewSphere(core.NewVec3(0, -100-radius, 0), 100, ground))

	return s
}
