package geometry

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/df07/go-progressive-pathtracer/pkg/core"
)

// ObjectSize is the size in bytes of one encoded Object. The payload holds
// up to three vec4-aligned vertices, followed by the kind tag and the
// material index.
const ObjectSize = 64

const (
	kindOffset     = 48
	materialOffset = 52
)

// Object is the flat device record of a primitive and the index of its
// material in the compiled materials buffer.
type Object struct {
	Primitive
	MaterialIndex uint32
}

// Hit intersects the primitive and stamps the material index on the record
func (o Object) Hit(ray core.Ray, tMin, tMax float32) (HitRecord, bool) {
	rec, ok := o.Primitive.Hit(ray, tMin, tMax)
	if ok {
		rec.MaterialIndex = o.MaterialIndex
	}
	return rec, ok
}

// PutVec3 writes v as a vec4 with w = pad
func PutVec3(dst []byte, v core.Vec3, pad float32) {
	binary.LittleEndian.PutUint32(dst[0:], math.Float32bits(v.X))
	binary.LittleEndian.PutUint32(dst[4:], math.Float32bits(v.Y))
	binary.LittleEndian.PutUint32(dst[8:], math.Float32bits(v.Z))
	binary.LittleEndian.PutUint32(dst[12:], math.Float32bits(pad))
}

// Vec3At reads the xyz of a vec4
func Vec3At(src []byte) core.Vec3 {
	return core.Vec3{
		X: Float32At(src[0:]),
		Y: Float32At(src[4:]),
		Z: Float32At(src[8:]),
	}
}

// PutFloat32 writes a little-endian float32
func PutFloat32(dst []byte, f float32) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(f))
}

// Float32At reads a little-endian float32
func Float32At(src []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(src))
}

// Encode writes the object into dst, which must hold ObjectSize bytes
func (o Object) Encode(dst []byte) {
	clear(dst[:ObjectSize])
	switch o.Kind {
	case KindSphere:
		PutVec3(dst[0:], o.Sphere.Center, 0)
		PutFloat32(dst[16:], o.Sphere.Radius)
	case KindTriangle:
		PutVec3(dst[0:], o.Triangle.V0, 0)
		PutVec3(dst[16:], o.Triangle.V1, 0)
		PutVec3(dst[32:], o.Triangle.V2, 0)
	}
	binary.LittleEndian.PutUint32(dst[kindOffset:], uint32(o.Kind))
	binary.LittleEndian.PutUint32(dst[materialOffset:], o.MaterialIndex)
}

// DecodeObject reads one object record
func DecodeObject(src []byte) (Object, error) {
	if len(src) < ObjectSize {
		return Object{}, fmt.Errorf("object record truncated: %d bytes", len(src))
	}
	o := Object{
		Primitive:     Primitive{Kind: Kind(binary.LittleEndian.Uint32(src[kindOffset:]))},
		MaterialIndex: binary.LittleEndian.Uint32(src[materialOffset:]),
	}
	switch o.Kind {
	case KindSphere:
		o.Sphere = Sphere{Center: Vec3At(src[0:]), Radius: Float32At(src[16:])}
	case KindTriangle:
		o.Triangle = Triangle{V0: Vec3At(src[0:]), V1: Vec3At(src[16:]), V2: Vec3At(src[32:])}
	default:
		return Object{}, fmt.Errorf("unknown object kind %d", uint32(o.Kind))
	}
	return o, nil
}

// DecodeObjects reads count records from a packed buffer
func DecodeObjects(src []byte, count int) ([]Object, error) {
	if len(src) < count*ObjectSize {
		return nil, fmt.Errorf("objects buffer holds %d bytes, need %d", len(src), count*ObjectSize)
	}
	objects := make([]Object, count)
	for i := range objects {
		o, err := DecodeObject(src[i*ObjectSize:])
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", i, err)
		}
		objects[i] = o
	}
	return objects, nil
}
