// Package config loads renderer settings from TOML files
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/df07/go-progressive-pathtracer/pkg/camera"
	"github.com/df07/go-progressive-pathtracer/pkg/device"
	"github.com/df07/go-progressive-pathtracer/pkg/kernel"
)

// Render holds image and kernel settings
type Render struct {
	Width      int    `toml:"width"`
	Height     int    `toml:"height"`
	Samples    uint32 `toml:"samples"`
	Bounces    uint32 `toml:"bounces"`
	Frames     int    `toml:"frames"`
	Format     string `toml:"format"`
	Accumulate bool   `toml:"accumulate"`
	Scene      string `toml:"scene"`
}

// Camera holds view and interactive control settings
type Camera struct {
	FOV           float32 `toml:"fov"`
	Speed         float32 `toml:"speed"`
	Sensitivity   float32 `toml:"sensitivity"`
	RotationSpeed float32 `toml:"rotation_speed"`
}

// Device holds compute device settings
type Device struct {
	Workers        int   `toml:"workers"`
	WorkgroupSize  int   `toml:"workgroup_size"`
	MemoryLimit    int64 `toml:"memory_limit"`
	SharedSurfaces bool  `toml:"shared_surfaces"`
}

// Kernels holds kernel source settings
type Kernels struct {
	Dir string `toml:"dir"` // empty uses the embedded sources
}

// Server holds web server settings
type Server struct {
	Addr      string `toml:"addr"`
	ScenesDir string `toml:"scenes_dir"`
	Watch     bool   `toml:"watch"`
}

// Config is the complete configuration file
type Config struct {
	Render  Render  `toml:"render"`
	Camera  Camera  `toml:"camera"`
	Device  Device  `toml:"device"`
	Kernels Kernels `toml:"kernels"`
	Server  Server  `toml:"server"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	params := camera.DefaultParams()
	kcfg := kernel.DefaultConfig()
	return Config{
		Render: Render{
			Width:      400,
			Height:     300,
			Samples:    kcfg.SampleCount,
			Bounces:    kcfg.BounceLimit,
			Frames:     64,
			Format:     "rgba32f",
			Accumulate: true,
			Scene:      "spheres",
		},
		Camera: Camera{
			FOV:           60,
			Speed:         params.Speed,
			Sensitivity:   params.Sensitivity,
			RotationSpeed: params.RotationSpeed,
		},
		Device: Device{
			SharedSurfaces: true,
		},
		Server: Server{
			Addr:      ":8080",
			ScenesDir: "scenes",
		},
	}
}

// Load reads path over the defaults. Unknown keys are errors.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	dec := toml.NewDecoder(f).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return cfg, fmt.Errorf("%s: %w\n%s", path, err, strict.String())
		}
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks every setting
func (c Config) Validate() error {
	var errs []error
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		errs = append(errs, fmt.Errorf("render size %dx%d must be positive", c.Render.Width, c.Render.Height))
	}
	if err := c.KernelConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Render.Frames < 0 {
		errs = append(errs, fmt.Errorf("render frames must not be negative, got %d", c.Render.Frames))
	}
	if _, err := device.ParseFormat(c.Render.Format); err != nil {
		errs = append(errs, err)
	}
	if c.Camera.FOV <= 0 || c.Camera.FOV >= 180 {
		errs = append(errs, fmt.Errorf("camera fov must be in (0, 180), got %v", c.Camera.FOV))
	}
	if c.Camera.Speed < 0 || c.Camera.Sensitivity < 0 || c.Camera.RotationSpeed < 0 {
		errs = append(errs, errors.New("camera speeds must not be negative"))
	}
	if c.Device.Workers < 0 || c.Device.WorkgroupSize < 0 || c.Device.MemoryLimit < 0 {
		errs = append(errs, errors.New("device settings must not be negative"))
	}
	return errors.Join(errs...)
}

// KernelConfig returns the kernel build configuration
func (c Config) KernelConfig() kernel.Config {
	return kernel.Config{SampleCount: c.Render.Samples, BounceLimit: c.Render.Bounces}
}

// PixelFormat returns the parsed pixel format, RGBA32F if it does not parse
func (c Config) PixelFormat() device.Format {
	f, err := device.ParseFormat(c.Render.Format)
	if err != nil {
		return device.FormatRGBA32F
	}
	return f
}

// DeviceOptions returns the options for creating the compute device
func (c Config) DeviceOptions() device.Options {
	opts := device.DefaultOptions()
	if c.Device.Workers > 0 {
		opts.Workers = c.Device.Workers
	}
	if c.Device.WorkgroupSize > 0 {
		opts.WorkgroupSize = c.Device.WorkgroupSize
	}
	opts.MemoryLimit = c.Device.MemoryLimit
	opts.Capabilities.SharedSurfaces = c.Device.SharedSurfaces
	return opts
}

// CameraParams returns the interactive controller parameters
func (c Config) CameraParams() camera.Params {
	return camera.Params{
		Speed:         c.Camera.Speed,
		Sensitivity:   c.Camera.Sensitivity,
		RotationSpeed: c.Camera.RotationSpeed,
	}
}
