package device

import (
	"fmt"
	"sync"
)

// Surface is a display image shared between the compute device and a
// presenter. Kernels may write its buffer directly; both sides bracket
// their accesses with Acquire and Release.
type Surface struct {
	width, height int
	format        Format
	buffer        *Buffer
	fence         sync.Mutex
	generation    uint64
}

// NewSurface allocates a shared surface
func (d *Device) NewSurface(width, height int, format Format) (*Surface, error) {
	if !d.opts.Capabilities.SharedSurfaces {
		return nil, fmt.Errorf("device %q does not support shared surfaces", d.opts.Name)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid surface size %dx%d", width, height)
	}
	buf, err := d.NewBuffer("surface", width*height*format.BytesPerPixel())
	if err != nil {
		return nil, err
	}
	return &Surface{width: width, height: height, format: format, buffer: buf}, nil
}

// Acquire takes ownership of the surface, blocking while the other side holds it
func (s *Surface) Acquire() {
	s.fence.Lock()
}

// Release hands the surface back. Releases after a write bump the generation.
func (s *Surface) Release(wrote bool) {
	if wrote {
		s.generation++
	}
	s.fence.Unlock()
}

// Generation counts completed writes; presenters use it to skip unchanged frames
func (s *Surface) Generation() uint64 {
	s.fence.Lock()
	defer s.fence.Unlock()
	return s.generation
}

// Buffer returns the device memory backing the surface
func (s *Surface) Buffer() *Buffer {
	return s.buffer
}

// Size returns the surface dimensions
func (s *Surface) Size() (width, height int) {
	return s.width, s.height
}

// Format returns the pixel format of the surface
func (s *Surface) Format() Format {
	return s.format
}
