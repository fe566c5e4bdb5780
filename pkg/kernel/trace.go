package kernel

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/df07/go-progressive-pathtracer/pkg/camera"
	"github.com/df07/go-progressive-pathtracer/pkg/core"
	"github.com/df07/go-progressive-pathtracer/pkg/device"
	"github.com/df07/go-progressive-pathtracer/pkg/geometry"
	"github.com/df07/go-progressive-pathtracer/pkg/material"
)

// NormalOffset moves bounce origins off the surface they leave
const NormalOffset = 1e-4

// Scene is the kernel view of a compiled scene, staged once per dispatch
type Scene struct {
	Objects    []geometry.Object
	Materials  []material.Material
	Background core.Vec3
}

// DecodeScene stages packed object and material buffers. Every material
// index must address a decoded material.
func DecodeScene(objects, materials []byte, objectCount, materialCount uint32, background core.Vec3) (*Scene, error) {
	objs, err := geometry.DecodeObjects(objects, int(objectCount))
	if err != nil {
		return nil, err
	}
	mats, err := material.DecodeAll(materials, int(materialCount))
	if err != nil {
		return nil, err
	}
	for i, o := range objs {
		if o.MaterialIndex >= materialCount {
			return nil, fmt.Errorf("object %d: material index %d out of range [0, %d)", i, o.MaterialIndex, materialCount)
		}
	}
	return &Scene{Objects: objs, Materials: mats, Background: background}, nil
}

// Hit returns the closest intersection along ray by testing every object
func (s *Scene) Hit(ray core.Ray) (geometry.HitRecord, bool) {
	closest := geometry.HitRecord{Distance: math32.MaxFloat32}
	found := false
	for _, obj := range s.Objects {
		if rec, ok := obj.Hit(ray, geometry.HitEpsilon, closest.Distance); ok {
			closest = rec
			found = true
		}
	}
	return closest, found
}

// TraceArgs are the arguments of one trace dispatch
type TraceArgs struct {
	Camera     camera.Camera
	Scene      *Scene
	FrameIndex uint32
	Frame      []byte // frame buffer, one pixel per invocation
}

// TraceKernel renders one pixel per invocation
type TraceKernel struct {
	sampleCount uint32
	bounceLimit uint32
	format      device.Format
}

// NewTraceKernel specializes the trace program for cfg and format
func NewTraceKernel(cfg Config, format device.Format) *TraceKernel {
	return &TraceKernel{
		sampleCount: cfg.SampleCount,
		bounceLimit: cfg.BounceLimit,
		format:      format,
	}
}

// Run traces every sample of the pixel at index and writes its mean color
func (k *TraceKernel) Run(args *TraceArgs, index int) {
	ray := args.Camera.Ray(uint32(index))

	var color core.Vec3
	for sample := uint32(0); sample < k.sampleCount; sample++ {
		random := core.NewRandom(uint32(index), args.FrameIndex, sample)
		color = color.Add(k.TracePath(args.Scene, ray, random))
	}
	color = color.Multiply(1 / float32(k.sampleCount))

	bpp := k.format.BytesPerPixel()
	k.format.Encode(args.Frame[index*bpp:(index+1)*bpp], color)
}

// TracePath follows one random walk of up to bounceLimit segments and
// returns the light it gathers.
func (k *TraceKernel) TracePath(scene *Scene, ray core.Ray, random *core.Random) core.Vec3 {
	throughput := core.NewVec3(1, 1, 1)
	var light core.Vec3

	for bounce := uint32(0); bounce < k.bounceLimit; bounce++ {
		hit, ok := scene.Hit(ray)
		if !ok {
			return light.Add(scene.Background.MultiplyVec(throughput))
		}

		mat := &scene.Materials[hit.MaterialIndex]
		light = light.Add(mat.EmissionColor.MultiplyVec(throughput))

		dir, attenuation := mat.Scatter(ray.Direction, hit.Normal, random)
		throughput = throughput.MultiplyVec(attenuation)
		ray = core.NewRay(hit.Point.Add(hit.Normal.Multiply(NormalOffset)), dir)
	}

	// Bounce limit reached on a surface: light it with the sky
	return light.Add(scene.Background.MultiplyVec(throughput))
}
