package renderer

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/df07/go-progressive-pathtracer/pkg/camera"
	"github.com/df07/go-progressive-pathtracer/pkg/core"
	"github.com/df07/go-progressive-pathtracer/pkg/device"
	"github.com/df07/go-progressive-pathtracer/pkg/kernel"
	"github.com/df07/go-progressive-pathtracer/pkg/scene"
)

var (
	// ErrInvalidRaytracer is returned by every call on an instance whose
	// construction or first kernel build failed
	ErrInvalidRaytracer = errors.New("raytracer is invalid")
	// ErrSceneNotRenderable is returned for a scene whose compile failed
	ErrSceneNotRenderable = errors.New("scene is not renderable")
	// ErrAccumulationDisabled is returned by Accumulate on a single-frame raytracer
	ErrAccumulationDisabled = errors.New("accumulation is disabled")
	// ErrShortBuffer is returned when a readback target is smaller than PixelBufferSize
	ErrShortBuffer = errors.New("pixel buffer too small")
)

// Option configures a Raytracer
type Option func(*options)

type options struct {
	format     device.Format
	accumulate bool
	manager    *kernel.Manager
	compiler   kernel.Compiler
	sourceDir  string
	surface    *device.Surface
}

// WithFormat selects the pixel format of the frame and accumulation buffers
func WithFormat(format device.Format) Option {
	return func(o *options) {
		o.format = format
	}
}

// WithAccumulation enables or disables progressive accumulation
func WithAccumulation(enabled bool) Option {
	return func(o *options) {
		o.accumulate = enabled
	}
}

// WithManager shares a kernel manager between raytracers. Its format wins
// over WithFormat.
func WithManager(m *kernel.Manager) Option {
	return func(o *options) {
		o.manager = m
	}
}

// WithCompiler builds kernels with c instead of naga
func WithCompiler(c kernel.Compiler) Option {
	return func(o *options) {
		o.compiler = c
	}
}

// WithSourceDir loads kernel sources from dir instead of the embedded copies
func WithSourceDir(dir string) Option {
	return func(o *options) {
		o.sourceDir = dir
	}
}

// WithSurface renders straight into a shared display surface. It is only
// honoured on devices that support shared surfaces.
func WithSurface(s *device.Surface) Option {
	return func(o *options) {
		o.surface = s
	}
}

// Raytracer renders compiled scenes into a frame buffer and, with
// accumulation enabled, averages frames into an accumulation buffer.
// Calls are serialised; a Raytracer is driven by one host goroutine.
type Raytracer struct {
	dev           *device.Device
	width, height int
	format        device.Format
	accumulate    bool
	manager       *kernel.Manager

	mu       sync.Mutex
	kernels  *kernel.Kernels
	frame    *device.Buffer
	accum    *device.Buffer
	surface  *device.Surface
	frames   uint32 // frames blended into accum since the last reset
	rendered uint32 // frames traced over the lifetime, seeds the noise
	traced   bool   // frame holds output not yet accumulated
	err      error
	closed   bool
}

// NewRaytracer allocates the pixel buffers for a width x height image.
// It never returns nil: when allocation fails the raytracer is invalid and
// every later call logs and returns ErrInvalidRaytracer.
func NewRaytracer(dev *device.Device, width, height int, opts ...Option) *Raytracer {
	o := options{format: device.FormatRGBA32F, accumulate: true}
	for _, opt := range opts {
		opt(&o)
	}

	rt := &Raytracer{
		dev:        dev,
		width:      width,
		height:     height,
		format:     o.format,
		accumulate: o.accumulate,
		manager:    o.manager,
	}
	if rt.manager == nil {
		var mopts []kernel.Option
		if o.sourceDir != "" {
			mopts = append(mopts, kernel.WithSourceDir(o.sourceDir))
		}
		rt.manager = kernel.NewManager(o.compiler, o.format, mopts...)
	}
	rt.format = rt.manager.Format()

	log := core.Logger().With("width", width, "height", height, "format", rt.format.String())

	if !rt.format.Valid() {
		rt.invalidate(fmt.Errorf("pixel format %d: %w", rt.format, ErrInvalidRaytracer))
		return rt
	}
	if width <= 0 || height <= 0 {
		rt.invalidate(fmt.Errorf("image size %dx%d: %w", width, height, ErrInvalidRaytracer))
		return rt
	}
	if rt.accumulate && rt.format == device.FormatRGBA8 {
		log.Warn("accumulating in an 8-bit format quantises every blend; prefer rgba16f or rgba32f")
	}

	if o.surface != nil {
		if err := rt.attachSurface(o.surface); err != nil {
			log.Warn("shared surface rejected, falling back to readback", "err", err)
		}
	}

	if err := rt.allocate(); err != nil {
		rt.invalidate(err)
		return rt
	}

	log.Debug("raytracer created", "accumulate", rt.accumulate, "zeroCopy", rt.surface != nil)
	return rt
}

func (rt *Raytracer) attachSurface(s *device.Surface) error {
	if !rt.dev.Capabilities().SharedSurfaces {
		return fmt.Errorf("device %q has no shared surfaces", rt.dev.Name())
	}
	w, h := s.Size()
	if w != rt.width || h != rt.height {
		return fmt.Errorf("surface is %dx%d, image is %dx%d", w, h, rt.width, rt.height)
	}
	if s.Format() != rt.format {
		return fmt.Errorf("surface format %s, image format %s", s.Format(), rt.format)
	}
	rt.surface = s
	return nil
}

// allocate creates the frame and accumulation buffers. The output buffer,
// accum when accumulating and frame otherwise, is the surface buffer in
// zero-copy mode.
func (rt *Raytracer) allocate() error {
	size := rt.PixelBufferSize()

	if rt.surface != nil && !rt.accumulate {
		rt.frame = rt.surface.Buffer()
	} else {
		frame, err := rt.dev.NewBuffer("frame", size)
		if err != nil {
			return fmt.Errorf("allocate frame buffer: %w", err)
		}
		rt.frame = frame
	}

	if !rt.accumulate {
		return nil
	}
	if rt.surface != nil {
		rt.accum = rt.surface.Buffer()
		return nil
	}
	accum, err := rt.dev.NewBuffer("accum", size)
	if err != nil {
		rt.dev.Release(rt.frame)
		rt.frame = nil
		return fmt.Errorf("allocate accumulation buffer: %w", err)
	}
	rt.accum = accum
	return nil
}

func (rt *Raytracer) invalidate(err error) {
	rt.err = err
	core.Logger().Error("raytracer invalid", "err", err)
}

// IsValid reports whether the raytracer can render
func (rt *Raytracer) IsValid() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.err == nil && !rt.closed
}

// Err returns why the raytracer became invalid, or nil
func (rt *Raytracer) Err() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.err
}

// Size returns the image dimensions
func (rt *Raytracer) Size() (width, height int) {
	return rt.width, rt.height
}

// Format returns the pixel format of the output
func (rt *Raytracer) Format() device.Format {
	return rt.format
}

// Accumulating reports whether frames are averaged
func (rt *Raytracer) Accumulating() bool {
	return rt.accumulate
}

// ZeroCopy reports whether output is written straight into a shared surface
func (rt *Raytracer) ZeroCopy() bool {
	return rt.surface != nil
}

// Manager returns the kernel manager in use
func (rt *Raytracer) Manager() *kernel.Manager {
	return rt.manager
}

// PixelBufferSize returns the readback size in bytes
func (rt *Raytracer) PixelBufferSize() int {
	return max(rt.width, 0) * max(rt.height, 0) * rt.format.BytesPerPixel()
}

// checkLocked must be called with rt.mu held
func (rt *Raytracer) checkLocked(op string) error {
	if rt.closed {
		core.Logger().Warn("call on closed raytracer ignored", "op", op)
		return fmt.Errorf("%s: %w", op, ErrInvalidRaytracer)
	}
	if rt.err != nil {
		core.Logger().Warn("call on invalid raytracer ignored", "op", op, "err", rt.err)
		return fmt.Errorf("%s: %w", op, ErrInvalidRaytracer)
	}
	return nil
}

// BuildKernels makes cfg the active configuration, building it if needed.
// A failed build keeps the previous kernels; with no previous kernels the
// raytracer becomes invalid. An invalid cfg is rejected without side effects.
func (rt *Raytracer) BuildKernels(cfg kernel.Config) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if err := rt.checkLocked("build kernels"); err != nil {
		return err
	}
	return rt.useLocked(cfg)
}

func (rt *Raytracer) useLocked(cfg kernel.Config) error {
	if rt.kernels != nil && rt.kernels.Config == cfg {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	k, err := rt.manager.Get(cfg)
	if err != nil {
		var buildErr *kernel.BuildError
		if rt.kernels == nil && (errors.As(err, &buildErr) || errors.Is(err, kernel.ErrMissingSource)) {
			rt.invalidate(err)
		}
		return err
	}
	rt.kernels = k
	return nil
}

// Config returns the active kernel configuration
func (rt *Raytracer) Config() (kernel.Config, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.kernels == nil {
		return kernel.Config{}, false
	}
	return rt.kernels.Config, true
}

// RenderScene traces one frame of cs seen through cam into the frame buffer.
// The call returns once every pixel is written.
func (rt *Raytracer) RenderScene(cs *scene.CompiledScene, cam camera.Camera, cfg kernel.Config) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if err := rt.checkLocked("render"); err != nil {
		return err
	}
	if !cs.Renderable() {
		core.Logger().Warn("scene not renderable, frame skipped")
		return ErrSceneNotRenderable
	}
	if int(cam.Width) != rt.width || int(cam.Height) != rt.height {
		return fmt.Errorf("camera is %dx%d, image is %dx%d", cam.Width, cam.Height, rt.width, rt.height)
	}
	if err := rt.useLocked(cfg); err != nil {
		return err
	}

	sc, err := kernel.DecodeScene(cs.Objects.Bytes(), cs.Materials.Bytes(), cs.ObjectCount, cs.MaterialCount, cs.BackgroundColor)
	if err != nil {
		return fmt.Errorf("stage scene: %w", err)
	}

	output := rt.surface != nil && !rt.accumulate
	if output {
		rt.surface.Acquire()
	}
	args := &kernel.TraceArgs{
		Camera:     cam,
		Scene:      sc,
		FrameIndex: rt.rendered,
		Frame:      rt.frame.Bytes(),
	}
	trace := rt.kernels.Trace
	err = rt.dev.Dispatch(kernel.ProgramTrace, rt.width*rt.height, func(i int) {
		trace.Run(args, i)
	})
	if output {
		rt.surface.Release(err == nil)
	}
	if err != nil {
		return fmt.Errorf("trace: %w", err)
	}

	rt.rendered++
	rt.traced = true
	return nil
}

// Accumulate blends the last rendered frame into the accumulation buffer.
// The first call after a reset copies the frame.
func (rt *Raytracer) Accumulate() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if err := rt.checkLocked("accumulate"); err != nil {
		return err
	}
	if !rt.accumulate {
		core.Logger().Warn("accumulate called without accumulation support")
		return ErrAccumulationDisabled
	}
	if rt.kernels == nil || !rt.traced {
		return errors.New("accumulate: no frame rendered")
	}

	if rt.surface != nil {
		rt.surface.Acquire()
	}
	args := &kernel.AccumulateArgs{
		Frame:      rt.frame.Bytes(),
		Accum:      rt.accum.Bytes(),
		FrameCount: rt.frames + 1,
	}
	acc := rt.kernels.Accumulate
	err := rt.dev.Dispatch(kernel.ProgramAccumulate, rt.width*rt.height, func(i int) {
		acc.Run(args, i)
	})
	if rt.surface != nil {
		rt.surface.Release(err == nil)
	}
	if err != nil {
		return fmt.Errorf("accumulate: %w", err)
	}

	rt.frames++
	rt.traced = false
	return nil
}

// ResetFrameCount restarts accumulation. It waits for any accumulate in
// progress, and the next accumulate overwrites the buffer with its frame.
func (rt *Raytracer) ResetFrameCount() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.frames = 0
}

// FrameCount returns the number of frames in the accumulation buffer
func (rt *Raytracer) FrameCount() uint32 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.frames
}

func (rt *Raytracer) outputLocked() *device.Buffer {
	if rt.accumulate {
		return rt.accum
	}
	return rt.frame
}

// ReadPixels copies the output into out: the accumulation buffer when
// accumulating, the frame buffer otherwise.
func (rt *Raytracer) ReadPixels(out []byte) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if err := rt.checkLocked("read pixels"); err != nil {
		return err
	}
	return rt.readLocked(out)
}

func (rt *Raytracer) readLocked(out []byte) error {
	size := rt.PixelBufferSize()
	if len(out) < size {
		return fmt.Errorf("%d bytes, need %d: %w", len(out), size, ErrShortBuffer)
	}
	if rt.surface != nil {
		rt.surface.Acquire()
		defer rt.surface.Release(false)
	}
	return rt.dev.ReadBuffer(rt.outputLocked(), 0, out[:size])
}

// ReadFrame copies the latest single frame into out regardless of mode
func (rt *Raytracer) ReadFrame(out []byte) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if err := rt.checkLocked("read frame"); err != nil {
		return err
	}
	size := rt.PixelBufferSize()
	if len(out) < size {
		return fmt.Errorf("%d bytes, need %d: %w", len(out), size, ErrShortBuffer)
	}
	return rt.dev.ReadBuffer(rt.frame, 0, out[:size])
}

// Image converts the output to an 8-bit image for display or export
func (rt *Raytracer) Image() (*image.RGBA, error) {
	pixels := make([]byte, rt.PixelBufferSize())
	if err := rt.ReadPixels(pixels); err != nil {
		return nil, err
	}
	return ToRGBA(pixels, rt.width, rt.height, rt.format), nil
}

// ToRGBA converts raw pixels of the given format to an 8-bit image
func ToRGBA(pixels []byte, width, height int, format device.Format) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if format == device.FormatRGBA8 {
		copy(img.Pix, pixels)
		return img
	}
	bpp := format.BytesPerPixel()
	for i := 0; i < width*height; i++ {
		c := format.Decode(pixels[i*bpp : (i+1)*bpp])
		device.FormatRGBA8.Encode(img.Pix[i*4:(i+1)*4], c)
	}
	return img
}

// Close releases the device buffers. A shared surface stays with its owner.
func (rt *Raytracer) Close() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.closed {
		return
	}
	rt.closed = true
	if rt.surface == nil || rt.frame != rt.surface.Buffer() {
		rt.dev.Release(rt.frame)
	}
	if rt.surface == nil || rt.accum != rt.surface.Buffer() {
		rt.dev.Release(rt.accum)
	}
	rt.frame, rt.accum, rt.kernels = nil, nil, nil
}
