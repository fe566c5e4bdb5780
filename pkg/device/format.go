package device

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/chewxy/math32"
	"github.com/gogpu/gputypes"
	"github.com/x448/float16"

	"github.com/df07/go-progressive-pathtracer/pkg/core"
)

// Format is the pixel format of frame, accumulation and surface buffers
type Format uint8

const (
	// FormatRGBA8 stores four 8-bit normalized channels
	FormatRGBA8 Format = iota
	// FormatRGBA16F stores four half-float channels
	FormatRGBA16F
	// FormatRGBA32F stores four float channels
	FormatRGBA32F
)

// Formats lists every supported pixel format
var Formats = []Format{FormatRGBA8, FormatRGBA16F, FormatRGBA32F}

// TextureFormat returns the equivalent WebGPU texture format
func (f Format) TextureFormat() gputypes.TextureFormat {
	switch f {
	case FormatRGBA8:
		return gputypes.TextureFormatRGBA8Unorm
	case FormatRGBA16F:
		return gputypes.TextureFormatRGBA16Float
	case FormatRGBA32F:
		return gputypes.TextureFormatRGBA32Float
	default:
		return gputypes.TextureFormatUndefined
	}
}

func (f Format) String() string {
	return f.TextureFormat().String()
}

// BytesPerPixel returns 4, 8 or 16
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatRGBA8:
		return 4
	case FormatRGBA16F:
		return 8
	case FormatRGBA32F:
		return 16
	default:
		return 0
	}
}

// IsFloat reports whether channels are stored as floating point
func (f Format) IsFloat() bool {
	return f == FormatRGBA16F || f == FormatRGBA32F
}

// Valid reports whether f is a known format
func (f Format) Valid() bool {
	return f <= FormatRGBA32F
}

// ParseFormat accepts short names (rgba8, rgba16f, rgba32f) and WebGPU
// texture format names, case-insensitively.
func ParseFormat(s string) (Format, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, f := range Formats {
		if name == strings.ToLower(f.String()) {
			return f, nil
		}
	}
	switch name {
	case "rgba8", "":
		return FormatRGBA8, nil
	case "rgba16f", "half":
		return FormatRGBA16F, nil
	case "rgba32f", "float":
		return FormatRGBA32F, nil
	}
	return 0, fmt.Errorf("unknown pixel format %q", s)
}

// Encode writes an opaque pixel with the given linear color into dst
func (f Format) Encode(dst []byte, c core.Vec3) {
	switch f {
	case FormatRGBA8:
		dst[0] = unorm8(c.X)
		dst[1] = unorm8(c.Y)
		dst[2] = unorm8(c.Z)
		dst[3] = 255
	case FormatRGBA16F:
		binary.LittleEndian.PutUint16(dst[0:], float16.Fromfloat32(c.X).Bits())
		binary.LittleEndian.PutUint16(dst[2:], float16.Fromfloat32(c.Y).Bits())
		binary.LittleEndian.PutUint16(dst[4:], float16.Fromfloat32(c.Z).Bits())
		binary.LittleEndian.PutUint16(dst[6:], float16.Fromfloat32(1).Bits())
	case FormatRGBA32F:
		binary.LittleEndian.PutUint32(dst[0:], math.Float32bits(c.X))
		binary.LittleEndian.PutUint32(dst[4:], math.Float32bits(c.Y))
		binary.LittleEndian.PutUint32(dst[8:], math.Float32bits(c.Z))
		binary.LittleEndian.PutUint32(dst[12:], math.Float32bits(1))
	}
}

// Decode reads the color channels of a pixel
func (f Format) Decode(src []byte) core.Vec3 {
	switch f {
	case FormatRGBA8:
		return core.Vec3{X: float32(src[0]) / 255, Y: float32(src[1]) / 255, Z: float32(src[2]) / 255}
	case FormatRGBA16F:
		return core.Vec3{
			X: float16.Frombits(binary.LittleEndian.Uint16(src[0:])).Float32(),
			Y: float16.Frombits(binary.LittleEndian.Uint16(src[2:])).Float32(),
			Z: float16.Frombits(binary.LittleEndian.Uint16(src[4:])).Float32(),
		}
	case FormatRGBA32F:
		return core.Vec3{
			X: math.Float32frombits(binary.LittleEndian.Uint32(src[0:])),
			Y: math.Float32frombits(binary.LittleEndian.Uint32(src[4:])),
			Z: math.Float32frombits(binary.LittleEndian.Uint32(src[8:])),
		}
	default:
		return core.Vec3{}
	}
}

// unorm8 saturates to [0, 1] and rounds to the nearest 8-bit value
func unorm8(v float32) uint8 {
	if math32.IsNaN(v) {
		return 0
	}
	return uint8(math32.Round(max(0, min(1, v)) * 255))
}
