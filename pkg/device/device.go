// Package device implements a software compute device: host-visible
// buffers with a memory budget and a synchronous in-order queue that runs
// 1D kernel dispatches on a worker pool.
package device

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/df07/go-progressive-pathtracer/pkg/core"
)

var (
	// ErrOutOfMemory is returned when an allocation exceeds the memory limit
	ErrOutOfMemory = errors.New("device: out of memory")
	// ErrBufferReleased is returned when using a released buffer
	ErrBufferReleased = errors.New("device: buffer released")
	// ErrOutOfRange is returned for reads and writes past the end of a buffer
	ErrOutOfRange = errors.New("device: access out of range")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("device: closed")
)

// DefaultWorkgroupSize is the number of invocations per scheduled workgroup
const DefaultWorkgroupSize = 256

// Capabilities reports optional device features
type Capabilities struct {
	// SharedSurfaces is set when display surfaces can be written by kernels
	// directly, without a host readback.
	SharedSurfaces bool
}

// Options configures a Device
type Options struct {
	Name          string
	Workers       int   // <= 0 uses runtime.NumCPU()
	WorkgroupSize int   // <= 0 uses DefaultWorkgroupSize
	MemoryLimit   int64 // bytes; <= 0 is unlimited
	Capabilities  Capabilities
}

// DefaultOptions returns options for an unlimited device with shared surfaces
func DefaultOptions() Options {
	return Options{
		Name:          "software",
		Workers:       runtime.NumCPU(),
		WorkgroupSize: DefaultWorkgroupSize,
		Capabilities:  Capabilities{SharedSurfaces: true},
	}
}

// Device owns buffers and executes dispatches
type Device struct {
	opts Options
	pool *WorkerPool

	mu        sync.Mutex
	allocated int64
	closed    bool

	// queue serializes dispatches and transfers, keeping submission in order
	queue sync.Mutex
}

// New creates a device and starts its workers
func New(opts Options) *Device {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.WorkgroupSize <= 0 {
		opts.WorkgroupSize = DefaultWorkgroupSize
	}
	if opts.Name == "" {
		opts.Name = "software"
	}

	d := &Device{
		opts: opts,
		pool: NewWorkerPool(opts.Workers),
	}
	d.pool.Start()

	core.Logger().Debug("device created",
		"name", opts.Name,
		"workers", opts.Workers,
		"memoryLimit", opts.MemoryLimit)
	return d
}

// Name returns the device name
func (d *Device) Name() string {
	return d.opts.Name
}

// Capabilities returns the optional features of the device
func (d *Device) Capabilities() Capabilities {
	return d.opts.Capabilities
}

// Allocated returns the number of bytes currently allocated
func (d *Device) Allocated() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocated
}

// Close stops the workers. Buffers must not be used afterwards.
func (d *Device) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.queue.Lock()
	defer d.queue.Unlock()
	d.pool.Stop()
}

func (d *Device) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// NewBuffer allocates a zeroed buffer of size bytes
func (d *Device) NewBuffer(label string, size int) (*Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("buffer %q: negative size %d", label, size)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	if d.opts.MemoryLimit > 0 && d.allocated+int64(size) > d.opts.MemoryLimit {
		return nil, fmt.Errorf("buffer %q of %d bytes (%d of %d in use): %w",
			label, size, d.allocated, d.opts.MemoryLimit, ErrOutOfMemory)
	}
	d.allocated += int64(size)

	return &Buffer{label: label, data: make([]byte, size), device: d}, nil
}

// Release returns a buffer's memory to the device. Releasing twice is a no-op.
func (d *Device) Release(b *Buffer) {
	if b == nil || b.device != d {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if b.data == nil {
		return
	}
	d.allocated -= int64(len(b.data))
	b.data = nil
}

// WriteBuffer uploads src at offset. The call returns after the copy completes.
func (d *Device) WriteBuffer(b *Buffer, offset int, src []byte) error {
	d.queue.Lock()
	defer d.queue.Unlock()

	dst, err := b.span(offset, len(src))
	if err != nil {
		return err
	}
	copy(dst, src)
	return nil
}

// ReadBuffer downloads len(dst) bytes from offset
func (d *Device) ReadBuffer(b *Buffer, offset int, dst []byte) error {
	d.queue.Lock()
	defer d.queue.Unlock()

	src, err := b.span(offset, len(dst))
	if err != nil {
		return err
	}
	copy(dst, src)
	return nil
}

// CopyBuffer copies the whole of src into the start of dst on the device
func (d *Device) CopyBuffer(dst, src *Buffer) error {
	d.queue.Lock()
	defer d.queue.Unlock()

	from, err := src.span(0, src.Size())
	if err != nil {
		return err
	}
	to, err := dst.span(0, len(from))
	if err != nil {
		return err
	}
	copy(to, from)
	return nil
}

// Dispatch runs kernel once for every index in [0, globalSize) and blocks
// until all invocations finished. Invocations run concurrently and must not
// write memory owned by other indices. A panicking invocation fails the
// dispatch with an error instead of crashing the caller.
func (d *Device) Dispatch(label string, globalSize int, kernel func(index int)) error {
	if globalSize <= 0 {
		return nil
	}

	d.queue.Lock()
	defer d.queue.Unlock()

	// Close stops the pool while holding the queue, so checking here is final
	if d.isClosed() {
		return ErrClosed
	}

	groupSize := d.opts.WorkgroupSize
	numGroups := (globalSize + groupSize - 1) / groupSize
	done := make(chan WorkgroupResult, numGroups)

	go func() {
		for g := 0; g < numGroups; g++ {
			start := g * groupSize
			d.pool.SubmitTask(WorkgroupTask{
				ID:     g,
				Start:  start,
				End:    min(start+groupSize, globalSize),
				Kernel: kernel,
				Done:   done,
			})
		}
	}()

	var errs []error
	for range numGroups {
		if result := <-done; result.Err != nil {
			errs = append(errs, result.Err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("dispatch %q: %w", label, errors.Join(errs...))
	}
	return nil
}
