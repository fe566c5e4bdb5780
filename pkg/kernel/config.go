// Package kernel builds and caches the trace and accumulate compute
// programs and implements their per-invocation logic.
package kernel

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned for configurations outside the supported range
var ErrInvalidConfig = errors.New("kernel: invalid config")

// Config selects the compile-time constants of the trace program.
// It is comparable and used as the program cache key.
type Config struct {
	SampleCount uint32 // samples traced per pixel per frame, >= 1
	BounceLimit uint32 // maximum path segments, >= 1
}

// DefaultConfig traces one sample with up to five bounces
func DefaultConfig() Config {
	return Config{SampleCount: 1, BounceLimit: 5}
}

// Validate rejects zero sample counts and bounce limits
func (c Config) Validate() error {
	if c.SampleCount < 1 {
		return fmt.Errorf("sample count %d: %w", c.SampleCount, ErrInvalidConfig)
	}
	if c.BounceLimit < 1 {
		return fmt.Errorf("bounce limit %d: %w", c.BounceLimit, ErrInvalidConfig)
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("samples=%d bounces=%d", c.SampleCount, c.BounceLimit)
}
