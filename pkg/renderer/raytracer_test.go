package renderer

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/df07/go-progressive-pathtracer/pkg/camera"
	"github.com/df07/go-progressive-pathtracer/pkg/core"
	"github.com/df07/go-progressive-pathtracer/pkg/device"
	"github.com/df07/go-progressive-pathtracer/pkg/kernel"
	"github.com/df07/go-progressive-pathtracer/pkg/material"
	"github.com/df07/go-progressive-pathtracer/pkg/scene"
)

const (
	testWidth  = 24
	testHeight = 16
)

var testBackground = core.NewVec3(0.82, 0.82, 0.90)

// stubCompiler stands in for naga and fails on configs matched by fail
type stubCompiler struct {
	mu    sync.Mutex
	calls int
	fail  func(source string) bool
}

func (c *stubCompiler) Compile(name, source string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.fail != nil && c.fail(source) {
		return nil, errors.New("error: expected ';', found 'fn'")
	}
	return []byte(name), nil
}

func newTestDevice(t *testing.T, opts ...func(*device.Options)) *device.Device {
	t.Helper()
	o := device.DefaultOptions()
	o.Workers = 4
	o.WorkgroupSize = 64
	for _, opt := range opts {
		opt(&o)
	}
	dev := device.New(o)
	t.Cleanup(dev.Close)
	return dev
}

func newTestRaytracer(t *testing.T, dev *device.Device, opts ...Option) *Raytracer {
	t.Helper()
	opts = append([]Option{WithCompiler(&stubCompiler{})}, opts...)
	rt := NewRaytracer(dev, testWidth, testHeight, opts...)
	require.NotNil(t, rt)
	t.Cleanup(rt.Close)
	return rt
}

func compileScene(t *testing.T, dev *device.Device, s *scene.Scene) *scene.CompiledScene {
	t.Helper()
	cs, err := scene.Compile(dev, s)
	require.NoError(t, err)
	t.Cleanup(cs.Release)
	return cs
}

func emptyScene(bg core.Vec3) *scene.Scene {
	s := scene.New()
	s.SetBackgroundColor(bg)
	return s
}

func sphereScene(mat *material.Material) *scene.Scene {
	s := emptyScene(testBackground)
	s.AddObject(scene.NewSphere(core.NewVec3(0, 0, 0), 1, mat))
	return s
}

func testCamera() camera.Camera {
	return camera.Build(60, testWidth, testHeight, core.NewVec3(0, 0, 6), core.NewVec3(0, 0, -1))
}

func decodePixels(pixels []byte, format device.Format) []core.Vec3 {
	bpp := format.BytesPerPixel()
	out := make([]core.Vec3, len(pixels)/bpp)
	for i := range out {
		out[i] = format.Decode(pixels[i*bpp:])
	}
	return out
}

func TestRaytracer_AccumulationConvergence(t *testing.T) {
	dev := newTestDevice(t)
	rt := newTestRaytracer(t, dev)
	v := core.NewVec3(0.3, 0.6, 0.9)
	cs := compileScene(t, dev, emptyScene(v))
	cfg := kernel.Config{SampleCount: 2, BounceLimit: 3}

	pixels := make([]byte, rt.PixelBufferSize())
	for k := 1; k <= 8; k++ {
		require.NoError(t, rt.RenderScene(cs, testCamera(), cfg))
		require.NoError(t, rt.Accumulate())
		require.NoError(t, rt.ReadPixels(pixels))

		assert.Equal(t, uint32(k), rt.FrameCount())
		for i, px := range decodePixels(pixels, rt.Format()) {
			require.True(t, px.ApproxEqual(v, 1e-6), "frame %d pixel %d: %v", k, i, px)
		}
	}
}

func TestRaytracer_ResetIdempotence(t *testing.T) {
	for _, format := range device.Formats {
		t.Run(format.String(), func(t *testing.T) {
			dev := newTestDevice(t)
			rt := newTestRaytracer(t, dev, WithFormat(format))
			cs := compileScene(t, dev, sphereScene(material.NewLambertian(core.NewVec3(0.7, 0.3, 0.3))))
			cfg := kernel.Config{SampleCount: 1, BounceLimit: 4}

			for range 5 {
				require.NoError(t, rt.RenderScene(cs, testCamera(), cfg))
				require.NoError(t, rt.Accumulate())
			}

			rt.ResetFrameCount()
			assert.Zero(t, rt.FrameCount())
			require.NoError(t, rt.RenderScene(cs, testCamera(), cfg))
			require.NoError(t, rt.Accumulate())
			assert.Equal(t, uint32(1), rt.FrameCount())

			accum := make([]byte, rt.PixelBufferSize())
			frame := make([]byte, rt.PixelBufferSize())
			require.NoError(t, rt.ReadPixels(accum))
			require.NoError(t, rt.ReadFrame(frame))
			assert.Equal(t, frame, accum)
		})
	}
}

func TestRaytracer_SingleSphere(t *testing.T) {
	dev := newTestDevice(t)
	rt := newTestRaytracer(t, dev, WithFormat(device.FormatRGBA8), WithAccumulation(false))
	mat := material.NewLambertian(core.NewVec3(0.2, 0.9, 0.8))
	cs := compileScene(t, dev, sphereScene(mat))

	require.NoError(t, rt.RenderScene(cs, testCamera(), kernel.Config{SampleCount: 1, BounceLimit: 1}))
	pixels := make([]byte, rt.PixelBufferSize())
	require.NoError(t, rt.ReadPixels(pixels))

	expect := func(c core.Vec3) []byte {
		px := make([]byte, 4)
		device.FormatRGBA8.Encode(px, c)
		return px
	}
	center := (testHeight/2*testWidth + testWidth/2) * 4
	assert.Equal(t, expect(mat.Color.MultiplyVec(testBackground)), pixels[center:center+4])
	assert.Equal(t, expect(testBackground), pixels[0:4], "corner sees the sky")

	last := len(pixels) - 4
	assert.Equal(t, expect(testBackground), pixels[last:], "corner sees the sky")
}

func TestRaytracer_KernelRebuildPolicy(t *testing.T) {
	dev := newTestDevice(t)
	compiler := &stubCompiler{}
	rt := NewRaytracer(dev, testWidth, testHeight, WithCompiler(compiler))
	t.Cleanup(rt.Close)
	cs := compileScene(t, dev, emptyScene(testBackground))

	a := kernel.Config{SampleCount: 1, BounceLimit: 4}
	b := kernel.Config{SampleCount: 4, BounceLimit: 4}

	for _, cfg := range []kernel.Config{a, b, a} {
		require.NoError(t, rt.RenderScene(cs, testCamera(), cfg))
	}
	assert.Equal(t, 2, rt.Manager().Builds())

	for range 10 {
		require.NoError(t, rt.RenderScene(cs, testCamera(), a))
	}
	assert.Equal(t, 2, rt.Manager().Builds(), "steady state does not rebuild")
	assert.Equal(t, 4, compiler.calls)
}

func TestRaytracer_FirstBuildFailureInvalidates(t *testing.T) {
	dev := newTestDevice(t)
	rt := newTestRaytracer(t, dev, WithCompiler(&stubCompiler{fail: func(string) bool { return true }}))
	cs := compileScene(t, dev, emptyScene(testBackground))

	err := rt.RenderScene(cs, testCamera(), kernel.DefaultConfig())
	var buildErr *kernel.BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Contains(t, buildErr.Log, "expected ';'")
	assert.False(t, rt.IsValid())

	assert.ErrorIs(t, rt.RenderScene(cs, testCamera(), kernel.DefaultConfig()), ErrInvalidRaytracer)
	assert.ErrorIs(t, rt.Accumulate(), ErrInvalidRaytracer)
	assert.ErrorIs(t, rt.ReadPixels(make([]byte, rt.PixelBufferSize())), ErrInvalidRaytracer)
}

func TestRaytracer_BuildFailureKeepsPreviousKernels(t *testing.T) {
	dev := newTestDevice(t)
	compiler := &stubCompiler{fail: func(src string) bool {
		return strings.Contains(src, "CONFIG_SAMPLE_COUNT: u32 = 9u")
	}}
	rt := newTestRaytracer(t, dev, WithCompiler(compiler))
	cs := compileScene(t, dev, emptyScene(testBackground))

	good := kernel.Config{SampleCount: 2, BounceLimit: 2}
	require.NoError(t, rt.RenderScene(cs, testCamera(), good))

	var buildErr *kernel.BuildError
	assert.ErrorAs(t, rt.BuildKernels(kernel.Config{SampleCount: 9, BounceLimit: 2}), &buildErr)
	assert.True(t, rt.IsValid())

	active, ok := rt.Config()
	require.True(t, ok)
	assert.Equal(t, good, active)
	require.NoError(t, rt.Accumulate())
}

func TestRaytracer_InvalidConfigKeepsRaytracerValid(t *testing.T) {
	dev := newTestDevice(t)
	compiler := &stubCompiler{}
	rt := newTestRaytracer(t, dev, WithCompiler(compiler))
	cs := compileScene(t, dev, emptyScene(testBackground))

	err := rt.RenderScene(cs, testCamera(), kernel.Config{SampleCount: 0, BounceLimit: 1})
	assert.ErrorIs(t, err, kernel.ErrInvalidConfig)
	assert.ErrorIs(t, rt.BuildKernels(kernel.Config{SampleCount: 1, BounceLimit: 0}), kernel.ErrInvalidConfig)
	assert.True(t, rt.IsValid())
	assert.Zero(t, rt.Manager().Builds())

	require.NoError(t, rt.RenderScene(cs, testCamera(), kernel.DefaultConfig()))
	require.NoError(t, rt.Accumulate())
}

func TestRaytracer_AccumulateDisabledLogs(t *testing.T) {
	var logs bytes.Buffer
	core.SetLogger(slog.New(slog.NewTextHandler(&logs, nil)))
	defer core.SetLogger(nil)

	dev := newTestDevice(t)
	rt := newTestRaytracer(t, dev, WithAccumulation(false))
	cs := compileScene(t, dev, emptyScene(testBackground))
	require.NoError(t, rt.RenderScene(cs, testCamera(), kernel.DefaultConfig()))

	assert.ErrorIs(t, rt.Accumulate(), ErrAccumulationDisabled)
	assert.Contains(t, logs.String(), "accumulate called without accumulation support")
}

func TestRaytracer_AllocationFailure(t *testing.T) {
	dev := newTestDevice(t, func(o *device.Options) { o.MemoryLimit = 64 })
	rt := newTestRaytracer(t, dev)

	assert.False(t, rt.IsValid())
	assert.ErrorIs(t, rt.Err(), device.ErrOutOfMemory)
	assert.Zero(t, dev.Allocated(), "partial allocations are returned")

	cs := &scene.CompiledScene{}
	assert.ErrorIs(t, rt.RenderScene(cs, testCamera(), kernel.DefaultConfig()), ErrInvalidRaytracer)
	assert.ErrorIs(t, rt.BuildKernels(kernel.DefaultConfig()), ErrInvalidRaytracer)
	assert.ErrorIs(t, rt.WriteInto(rt.NewSink()), ErrInvalidRaytracer)
	_, err := rt.Image()
	assert.ErrorIs(t, err, ErrInvalidRaytracer)
}

func TestRaytracer_SceneNotRenderable(t *testing.T) {
	dev := newTestDevice(t)
	rt := newTestRaytracer(t, dev)

	s := sphereScene(material.NewLambertian(core.NewVec3(1, 1, 1)))
	s.AddObject(scene.NewSphere(core.NewVec3(2, 0, 0), 1, material.NewDefault()))
	cs, err := scene.Compile(dev, s, scene.WithCapacity(1, 1))
	require.ErrorIs(t, err, scene.ErrCapacityExceeded)
	assert.Zero(t, cs.ObjectCount)

	assert.ErrorIs(t, rt.RenderScene(cs, testCamera(), kernel.DefaultConfig()), ErrSceneNotRenderable)
	assert.True(t, rt.IsValid(), "a bad scene does not break the raytracer")
}

func TestRaytracer_ReadPixels(t *testing.T) {
	t.Run("buffer size", func(t *testing.T) {
		dev := newTestDevice(t)
		for _, format := range device.Formats {
			rt := newTestRaytracer(t, dev, WithFormat(format))
			assert.Equal(t, testWidth*testHeight*format.BytesPerPixel(), rt.PixelBufferSize(), format.String())
		}
	})

	t.Run("accumulating reads the accumulation buffer", func(t *testing.T) {
		dev := newTestDevice(t)
		rt := newTestRaytracer(t, dev)
		cs := compileScene(t, dev, emptyScene(testBackground))
		require.NoError(t, rt.RenderScene(cs, testCamera(), kernel.DefaultConfig()))

		pixels := make([]byte, rt.PixelBufferSize())
		require.NoError(t, rt.ReadPixels(pixels))
		assert.Equal(t, make([]byte, len(pixels)), pixels, "nothing accumulated yet")

		require.NoError(t, rt.Accumulate())
		require.NoError(t, rt.ReadPixels(pixels))
		assert.Equal(t, testBackground, decodePixels(pixels, rt.Format())[0])
	})

	t.Run("single frame reads the frame buffer", func(t *testing.T) {
		dev := newTestDevice(t)
		rt := newTestRaytracer(t, dev, WithAccumulation(false))
		cs := compileScene(t, dev, emptyScene(testBackground))
		require.NoError(t, rt.RenderScene(cs, testCamera(), kernel.DefaultConfig()))

		pixels := make([]byte, rt.PixelBufferSize())
		require.NoError(t, rt.ReadPixels(pixels))
		assert.Equal(t, testBackground, decodePixels(pixels, rt.Format())[0])
		assert.ErrorIs(t, rt.Accumulate(), ErrAccumulationDisabled)
	})

	t.Run("short buffer", func(t *testing.T) {
		dev := newTestDevice(t)
		rt := newTestRaytracer(t, dev)
		assert.ErrorIs(t, rt.ReadPixels(make([]byte, rt.PixelBufferSize()-1)), ErrShortBuffer)
	})
}

func TestRaytracer_AccumulateBeforeRender(t *testing.T) {
	dev := newTestDevice(t)
	rt := newTestRaytracer(t, dev)
	assert.Error(t, rt.Accumulate())
	assert.Zero(t, rt.FrameCount())
}

func TestRaytracer_CameraSizeMismatch(t *testing.T) {
	dev := newTestDevice(t)
	rt := newTestRaytracer(t, dev)
	cs := compileScene(t, dev, emptyScene(testBackground))
	cam := camera.Build(60, testWidth*2, testHeight, core.NewVec3(0, 0, 6), core.NewVec3(0, 0, -1))
	assert.Error(t, rt.RenderScene(cs, cam, kernel.DefaultConfig()))
}

func TestRaytracer_Close(t *testing.T) {
	dev := newTestDevice(t)
	rt := NewRaytracer(dev, testWidth, testHeight, WithCompiler(&stubCompiler{}))
	require.True(t, rt.IsValid())
	assert.Equal(t, int64(2*rt.PixelBufferSize()), dev.Allocated())

	rt.Close()
	rt.Close()
	assert.False(t, rt.IsValid())
	assert.Zero(t, dev.Allocated())
	assert.ErrorIs(t, rt.ReadPixels(make([]byte, rt.PixelBufferSize())), ErrInvalidRaytracer)
}

func TestRaytracer_Image(t *testing.T) {
	dev := newTestDevice(t)
	rt := newTestRaytracer(t, dev, WithFormat(device.FormatRGBA16F))
	cs := compileScene(t, dev, emptyScene(core.NewVec3(1, 0.5, 0)))
	require.NoError(t, rt.RenderScene(cs, testCamera(), kernel.DefaultConfig()))
	require.NoError(t, rt.Accumulate())

	img, err := rt.Image()
	require.NoError(t, err)
	assert.Equal(t, testWidth, img.Bounds().Dx())
	assert.Equal(t, testHeight, img.Bounds().Dy())

	c := img.RGBAAt(3, 5)
	assert.Equal(t, uint8(255), c.R)
	assert.Equal(t, uint8(128), c.G)
	assert.Equal(t, uint8(0), c.B)
	assert.Equal(t, uint8(255), c.A)
}
