package renderer

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/df07/go-progressive-pathtracer/pkg/camera"
	"github.com/df07/go-progressive-pathtracer/pkg/core"
	"github.com/df07/go-progressive-pathtracer/pkg/kernel"
	"github.com/df07/go-progressive-pathtracer/pkg/scene"
)

// ProgressiveConfig contains configuration for progressive rendering
type ProgressiveConfig struct {
	MaxFrames int // frames to accumulate before stopping, 0 runs until cancelled
}

// DefaultProgressiveConfig returns sensible default values
func DefaultProgressiveConfig() ProgressiveConfig {
	return ProgressiveConfig{MaxFrames: 64}
}

// FrameResult is the image after one more frame was accumulated
type FrameResult struct {
	Frame  int
	Image  *image.RGBA
	Stats  RenderStats
	IsLast bool
}

// Progressive drives a raytracer frame by frame over a fixed scene and camera
type Progressive struct {
	rt     *Raytracer
	scene  *scene.CompiledScene
	camera camera.Camera
	cfg    kernel.Config
	config ProgressiveConfig
}

// NewProgressive prepares a progressive render of cs through cam
func NewProgressive(rt *Raytracer, cs *scene.CompiledScene, cam camera.Camera, cfg kernel.Config, config ProgressiveConfig) *Progressive {
	return &Progressive{rt: rt, scene: cs, camera: cam, cfg: cfg, config: config}
}

// RenderFrame renders and accumulates one frame and returns the image
func (p *Progressive) RenderFrame() (FrameResult, error) {
	start := time.Now()
	if err := p.rt.RenderScene(p.scene, p.camera, p.cfg); err != nil {
		return FrameResult{}, err
	}
	if p.rt.Accumulating() {
		if err := p.rt.Accumulate(); err != nil {
			return FrameResult{}, err
		}
	}
	elapsed := time.Since(start)

	img, err := p.rt.Image()
	if err != nil {
		return FrameResult{}, err
	}

	frame := int(max(p.rt.FrameCount(), 1))
	w, h := p.rt.Size()
	stats := RenderStats{
		Frame:            frame,
		TotalPixels:      w * h,
		SamplesPerPixel:  int(p.cfg.SampleCount),
		TotalSamples:     frame * int(p.cfg.SampleCount),
		AverageLuminance: CalculateAverageLuminance(img),
		FrameTime:        elapsed,
	}
	return FrameResult{
		Frame:  frame,
		Image:  img,
		Stats:  stats,
		IsLast: p.config.MaxFrames > 0 && frame >= p.config.MaxFrames,
	}, nil
}

// Render resets accumulation and renders frames until MaxFrames is reached
// or ctx is cancelled. The caller should drain both channels; the error
// channel carries at most one error and both close when rendering stops.
func (p *Progressive) Render(ctx context.Context) (<-chan FrameResult, <-chan error) {
	frames := make(chan FrameResult, 1)
	errs := make(chan error, 1)

	go func() {
		defer close(frames)
		defer close(errs)

		log := core.Logger().With("samples", p.cfg.SampleCount, "bounces", p.cfg.BounceLimit)
		log.Info("starting progressive rendering", "maxFrames", p.config.MaxFrames)

		if err := p.rt.BuildKernels(p.cfg); err != nil {
			errs <- err
			return
		}
		p.rt.ResetFrameCount()

		for {
			select {
			case <-ctx.Done():
				log.Info("rendering cancelled", "frames", p.rt.FrameCount())
				errs <- ctx.Err()
				return
			default:
			}

			result, err := p.RenderFrame()
			if err != nil {
				if !errors.Is(err, ErrSceneNotRenderable) {
					log.Error("frame failed", "err", err)
				}
				errs <- err
				return
			}
			log.Debug("frame completed", "frame", result.Frame, "time", result.Stats.FrameTime)

			select {
			case frames <- result:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}

			if result.IsLast || !p.rt.Accumulating() {
				log.Info("progressive rendering finished", "frames", result.Frame)
				return
			}
		}
	}()

	return frames, errs
}
