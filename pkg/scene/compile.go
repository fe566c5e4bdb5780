package scene

import (
	"errors"
	"fmt"

	"github.com/samber/lo"

	"github.com/df07/go-progressive-pathtracer/pkg/core"
	"github.com/df07/go-progressive-pathtracer/pkg/device"
	"github.com/df07/go-progressive-pathtracer/pkg/geometry"
	"github.com/df07/go-progressive-pathtracer/pkg/material"
)

var (
	// ErrCapacityExceeded is returned by fixed-capacity compiles over their limits
	ErrCapacityExceeded = errors.New("scene: capacity exceeded")
	// ErrNilMaterial is returned for objects without a material
	ErrNilMaterial = errors.New("scene: object has no material")
)

// CompiledScene is a scene packed into device buffers.
// It is never modified; a scene change produces a new CompiledScene.
type CompiledScene struct {
	Objects         *device.Buffer
	Materials       *device.Buffer
	BackgroundColor core.Vec3
	ObjectCount     uint32
	MaterialCount   uint32

	// MaterialIndices holds the deduplicated material slot of each object
	MaterialIndices []uint32

	renderable bool
	dev        *device.Device
}

// Renderable reports whether the compile succeeded. A failed compile
// yields ObjectCount 0 and must not be dispatched.
func (cs *CompiledScene) Renderable() bool {
	return cs != nil && cs.renderable
}

// Release frees the device buffers
func (cs *CompiledScene) Release() {
	if cs == nil || cs.dev == nil {
		return
	}
	cs.dev.Release(cs.Objects)
	cs.dev.Release(cs.Materials)
	cs.Objects, cs.Materials = nil, nil
}

// CompileOption configures Compile
type CompileOption func(*compileOptions)

type compileOptions struct {
	maxObjects   int
	maxMaterials int
}

// WithCapacity limits the number of objects and distinct materials.
// Zero disables a limit.
func WithCapacity(maxObjects, maxMaterials int) CompileOption {
	return func(o *compileOptions) {
		o.maxObjects = maxObjects
		o.maxMaterials = maxMaterials
	}
}

// dedupeMaterials collects distinct materials by identity in first-use order
// and the slot of each object's material.
func dedupeMaterials(objects []Object) ([]*material.Material, []uint32) {
	var unique []*material.Material
	indices := make([]uint32, len(objects))
	for i, obj := range objects {
		idx := lo.IndexOf(unique, obj.Material)
		if idx < 0 {
			idx = len(unique)
			unique = append(unique, obj.Material)
		}
		indices[i] = uint32(idx)
	}
	return unique, indices
}

// Compile packs a scene into an objects buffer and a deduplicated materials
// buffer on dev. On failure the returned scene is not renderable, has
// ObjectCount 0 and no buffers, and the error says why.
func Compile(dev *device.Device, s *Scene, opts ...CompileOption) (*CompiledScene, error) {
	var options compileOptions
	for _, opt := range opts {
		opt(&options)
	}

	failed := &CompiledScene{BackgroundColor: s.background}

	for i, obj := range s.objects {
		if obj.Material == nil {
			return failed, fmt.Errorf("object %d: %w", i, ErrNilMaterial)
		}
	}

	unique, indices := dedupeMaterials(s.objects)

	if options.maxObjects > 0 && len(s.objects) > options.maxObjects {
		return failed, fmt.Errorf("%d objects, limit %d: %w", len(s.objects), options.maxObjects, ErrCapacityExceeded)
	}
	if options.maxMaterials > 0 && len(unique) > options.maxMaterials {
		return failed, fmt.Errorf("%d materials, limit %d: %w", len(unique), options.maxMaterials, ErrCapacityExceeded)
	}

	objects, err := dev.NewBuffer("objects", len(s.objects)*geometry.ObjectSize)
	if err != nil {
		core.Logger().Error("failed to allocate objects buffer", "objects", len(s.objects), "err", err)
		return failed, fmt.Errorf("compile scene: %w", err)
	}
	materials, err := dev.NewBuffer("materials", len(unique)*material.Size)
	if err != nil {
		dev.Release(objects)
		core.Logger().Error("failed to allocate materials buffer", "materials", len(unique), "err", err)
		return failed, fmt.Errorf("compile scene: %w", err)
	}

	objectData := make([]byte, objects.Size())
	for i, obj := range s.objects {
		record := geometry.Object{Primitive: obj.Primitive, MaterialIndex: indices[i]}
		record.Encode(objectData[i*geometry.ObjectSize:])
	}
	materialData := make([]byte, materials.Size())
	for i, m := range unique {
		m.Encode(materialData[i*material.Size:])
	}

	if err := dev.WriteBuffer(objects, 0, objectData); err != nil {
		dev.Release(objects)
		dev.Release(materials)
		return failed, fmt.Errorf("upload objects: %w", err)
	}
	if err := dev.WriteBuffer(materials, 0, materialData); err != nil {
		dev.Release(objects)
		dev.Release(materials)
		return failed, fmt.Errorf("upload materials: %w", err)
	}

	core.Logger().Debug("scene compiled", "objects", len(s.objects), "materials", len(unique))

	return &CompiledScene{
		Objects:         objects,
		Materials:       materials,
		BackgroundColor: s.background,
		ObjectCount:     uint32(len(s.objects)),
		MaterialCount:   uint32(len(unique)),
		MaterialIndices: indices,
		renderable:      true,
		dev:             dev,
	}, nil
}
