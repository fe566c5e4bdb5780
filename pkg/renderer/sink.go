package renderer

import (
	"errors"
	"fmt"

	"github.com/df07/go-progressive-pathtracer/pkg/device"
)

// Sink receives the output of a Raytracer. HostSink copies pixels into host
// memory; SurfaceSink is the shared surface the raytracer already renders
// into, so writing to it moves no data.
type Sink interface {
	Size() (width, height int)
	Format() device.Format
}

// HostSink holds a host copy of the output
type HostSink struct {
	Width, Height int
	PixelFormat   device.Format
	Pixels        []byte
}

// NewHostSink allocates a host sink for a width x height image
func NewHostSink(width, height int, format device.Format) *HostSink {
	return &HostSink{
		Width:       width,
		Height:      height,
		PixelFormat: format,
		Pixels:      make([]byte, width*height*format.BytesPerPixel()),
	}
}

func (s *HostSink) Size() (width, height int) { return s.Width, s.Height }
func (s *HostSink) Format() device.Format { return s.PixelFormat }

// SurfaceSink presents a shared surface
type SurfaceSink struct {
	Surface *device.Surface
}

func (s *SurfaceSink) Size() (width, height int) { return s.Surface.Size() }
func (s *SurfaceSink) Format() device.Format { return s.Surface.Format() }

// ErrSinkMismatch is returned when a sink cannot take the raytracer's output
var ErrSinkMismatch = errors.New("sink does not match raytracer output")

// NewSink returns the sink matching how the raytracer was set up: the shared
// surface in zero-copy mode, otherwise a fresh host sink.
func (rt *Raytracer) NewSink() Sink {
	if rt.surface != nil {
		return &SurfaceSink{Surface: rt.surface}
	}
	return NewHostSink(rt.width, rt.height, rt.format)
}

// WriteInto delivers the current output to sink
func (rt *Raytracer) WriteInto(sink Sink) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if err := rt.checkLocked("write into sink"); err != nil {
		return err
	}

	w, h := sink.Size()
	if w != rt.width || h != rt.height || sink.Format() != rt.format {
		return fmt.Errorf("sink %dx%d %s, output %dx%d %s: %w",
			w, h, sink.Format(), rt.width, rt.height, rt.format, ErrSinkMismatch)
	}

	switch s := sink.(type) {
	case *HostSink:
		return rt.readLocked(s.Pixels)
	case *SurfaceSink:
		if s.Surface != rt.surface {
			// a foreign surface still works, it just costs a copy
			s.Surface.Acquire()
			defer s.Surface.Release(true)
			if rt.surface != nil {
				rt.surface.Acquire()
				defer rt.surface.Release(false)
			}
			return rt.dev.CopyBuffer(s.Surface.Buffer(), rt.outputLocked())
		}
		return nil
	default:
		return fmt.Errorf("sink type %T: %w", sink, ErrSinkMismatch)
	}
}
