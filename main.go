package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/df07/go-progressive-pathtracer/pkg/camera"
	"github.com/df07/go-progressive-pathtracer/pkg/config"
	"github.com/df07/go-progressive-pathtracer/pkg/core"
	"github.com/df07/go-progressive-pathtracer/pkg/device"
	"github.com/df07/go-progressive-pathtracer/pkg/imageio"
	"github.com/df07/go-progressive-pathtracer/pkg/loaders"
	"github.com/df07/go-progressive-pathtracer/pkg/renderer"
	"github.com/df07/go-progressive-pathtracer/pkg/scene"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run renders a scene progressively and saves the last frame. An interrupt
// stops early and still saves what has accumulated.
func run(ctx context.Context, args []string, stdout io.Writer, opts ...renderer.Option) error {
	fs := flag.NewFlagSet("pathtracer", flag.ContinueOnError)
	fs.SetOutput(stdout)
	configPath := fs.String("config", "", "TOML configuration file")
	sceneName := fs.String("scene", "", "Built-in scene name, scene file, or file name in the scenes directory")
	width := fs.Int("width", 0, "Image width")
	height := fs.Int("height", 0, "Image height")
	samples := fs.Uint("samples", 0, "Samples per pixel per frame")
	bounces := fs.Uint("bounces", 0, "Maximum path segments")
	frames := fs.Int("frames", 0, "Frames to accumulate")
	fov := fs.Float64("fov", 0, "Vertical field of view in degrees (default: the scene's view)")
	format := fs.String("format", "", "Pixel format: rgba8, rgba16f or rgba32f")
	out := fs.String("out", "", "Output image (.png, .bmp, .tif); default output/<scene>/render_<timestamp>.png")
	kernels := fs.String("kernels", "", "Directory with kernel sources overriding the embedded ones")
	verbose := fs.Bool("verbose", false, "Log debug output")
	fs.Usage = func() {
		fmt.Fprintln(stdout, "Progressive Pathtracer")
		fmt.Fprintln(stdout, "Usage: pathtracer [options]")
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Options:")
		fs.PrintDefaults()
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Built-in scenes:", strings.Join(scene.BuiltinNames(), ", "))
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	core.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	defer core.SetLogger(nil)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}

	// Flags override the configuration only when given
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "scene":
			cfg.Render.Scene = *sceneName
		case "width":
			cfg.Render.Width = *width
		case "height":
			cfg.Render.Height = *height
		case "samples":
			cfg.Render.Samples = uint32(*samples)
		case "bounces":
			cfg.Render.Bounces = uint32(*bounces)
		case "frames":
			cfg.Render.Frames = *frames
		case "fov":
			cfg.Camera.FOV = float32(*fov)
		case "format":
			cfg.Render.Format = *format
		case "kernels":
			cfg.Kernels.Dir = *kernels
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Render.Frames < 1 {
		return fmt.Errorf("frames must be at least 1 for a render, got %d", cfg.Render.Frames)
	}

	sc, name, err := createScene(cfg.Render.Scene, cfg.Server.ScenesDir)
	if err != nil {
		return err
	}
	view := sc.View
	if isFlagSet(fs, "fov") {
		view.FOV = cfg.Camera.FOV
	}

	dev := device.New(cfg.DeviceOptions())
	defer dev.Close()

	compiled, err := scene.Compile(dev, sc)
	if err != nil {
		return err
	}
	defer compiled.Release()

	rtOpts := []renderer.Option{
		renderer.WithFormat(cfg.PixelFormat()),
		renderer.WithAccumulation(cfg.Render.Accumulate),
	}
	if cfg.Kernels.Dir != "" {
		rtOpts = append(rtOpts, renderer.WithSourceDir(cfg.Kernels.Dir))
	}
	rt := renderer.NewRaytracer(dev, cfg.Render.Width, cfg.Render.Height, append(rtOpts, opts...)...)
	defer rt.Close()
	if !rt.IsValid() {
		return rt.Err()
	}

	cam := camera.Build(view.FOV, uint32(cfg.Render.Width), uint32(cfg.Render.Height), view.Position, view.Direction)
	progressive := renderer.NewProgressive(rt, compiled, cam, cfg.KernelConfig(),
		renderer.ProgressiveConfig{MaxFrames: cfg.Render.Frames})

	fmt.Fprintf(stdout, "Rendering %s at %dx%d (%s, %s)\n", name, cfg.Render.Width, cfg.Render.Height,
		cfg.KernelConfig(), rt.Format())

	start := time.Now()
	results, errs := progressive.Render(ctx)
	var last *renderer.FrameResult
	for res := range results {
		fmt.Fprintf(stdout, "Frame %d/%d: %d samples per pixel, %v\n",
			res.Frame, cfg.Render.Frames, res.Stats.TotalSamples, res.Stats.FrameTime.Round(time.Microsecond))
		last = &res
	}
	if err := <-errs; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if last == nil {
		return errors.New("no frame was rendered")
	}
	fmt.Fprintf(stdout, "Render completed in %v\n", time.Since(start).Round(time.Millisecond))

	path := *out
	if path == "" {
		path = outputPath(name, time.Now())
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := saveRender(rt, last, path); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Render saved as %s\n", path)
	return nil
}

// saveRender writes 8-bit output straight from the raytracer's pixel buffer.
// Float formats cannot be stored in 8-bit image files, so they are saved
// from the frame's tone-clamped display image instead.
func saveRender(rt *renderer.Raytracer, last *renderer.FrameResult, path string) error {
	if rt.Format() != device.FormatRGBA8 {
		return imageio.SaveImage(path, last.Image)
	}
	pixels := make([]byte, rt.PixelBufferSize())
	if err := rt.ReadPixels(pixels); err != nil {
		return err
	}
	width, height := rt.Size()
	return imageio.Save(path, pixels, width, height, rt.Format())
}

// createScene resolves a built-in scene, a scene file path, or the name of
// a file in scenesDir. It also returns a short name for output paths.
func createScene(name, scenesDir string) (*scene.Scene, string, error) {
	if name == "" {
		return nil, "", errors.New("no scene given")
	}
	if sc, ok := scene.Builtin(name); ok {
		return sc, name, nil
	}

	candidates := []string{name}
	if !scene.IsSceneFile(name) {
		for _, ext := range scene.SceneFileExtensions {
			candidates = append(candidates, filepath.Join(scenesDir, name+ext))
		}
	}
	for _, path := range candidates {
		if !scene.IsSceneFile(path) {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		res, err := loaders.LoadScene(path)
		if err != nil {
			return nil, "", err
		}
		for _, w := range res.Warnings {
			core.Logger().Warn("scene file warning", "file", path, "warning", w.String())
		}
		base := filepath.Base(path)
		return res.Scene, strings.TrimSuffix(base, filepath.Ext(base)), nil
	}
	return nil, "", fmt.Errorf("unknown scene %q (built-in: %s)", name, strings.Join(scene.BuiltinNames(), ", "))
}

// outputPath returns output/<scene>/render_<timestamp>.png
func outputPath(sceneName string, now time.Time) string {
	return filepath.Join("output", sceneName, fmt.Sprintf("render_%s.png", now.Format("20060102_150405")))
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
