package kernel

import (
	"fmt"
	"strings"

	"github.com/df07/go-progressive-pathtracer/pkg/device"
)

// Define is a named compile-time constant injected into a program
type Define struct {
	Name  string
	Value uint32
}

// Flags are the build flags of a program
type Flags []Define

// BuildFlags embeds a config and pixel format as compile-time constants
func BuildFlags(cfg Config, format device.Format) Flags {
	return Flags{
		{Name: "CONFIG_SAMPLE_COUNT", Value: cfg.SampleCount},
		{Name: "CONFIG_BOUNCE_LIMIT", Value: cfg.BounceLimit},
		{Name: "PIXEL_FORMAT", Value: uint32(format)},
	}
}

// Prelude renders the flags as WGSL constant declarations
func (f Flags) Prelude() string {
	var b strings.Builder
	for _, d := range f {
		fmt.Fprintf(&b, "const %s: u32 = %du;\n", d.Name, d.Value)
	}
	return b.String()
}

// String renders the flags in compiler command-line style for logs
func (f Flags) String() string {
	parts := make([]string, len(f))
	for i, d := range f {
		parts[i] = fmt.Sprintf("-D%s=%d", d.Name, d.Value)
	}
	return strings.Join(parts, " ")
}
