package kernel

import (
	"errors"
	"io/fs"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/df07/go-progressive-pathtracer/pkg/core"
	"github.com/df07/go-progressive-pathtracer/pkg/device"
)

// Kernels is a built pair of programs, ready to dispatch
type Kernels struct {
	Config           Config
	Format           device.Format
	Flags            Flags
	TraceBinary      []byte
	AccumulateBinary []byte
	Trace            *TraceKernel
	Accumulate       *AccumulateKernel
}

// Manager owns built programs, keyed by Config. The pixel format is fixed
// for the lifetime of a manager. The cache is unbounded; the practical
// space of configs is small.
type Manager struct {
	compiler Compiler
	format   device.Format
	sources  fs.FS

	mu     sync.Mutex
	cache  map[Config]*Kernels
	builds int
}

// Option configures a Manager
type Option func(*Manager)

// WithSources reads kernel sources from fsys instead of the embedded copies
func WithSources(fsys fs.FS) Option {
	return func(m *Manager) {
		m.sources = fsys
	}
}

// WithSourceDir reads kernel sources from a directory
func WithSourceDir(dir string) Option {
	return WithSources(DirSources(dir))
}

// NewManager creates a manager. A nil compiler uses naga.
func NewManager(compiler Compiler, format device.Format, opts ...Option) *Manager {
	if compiler == nil {
		compiler = NewNagaCompiler()
	}
	m := &Manager{
		compiler: compiler,
		format:   format,
		sources:  EmbeddedSources(),
		cache:    make(map[Config]*Kernels),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Format returns the pixel format programs are built for
func (m *Manager) Format() device.Format {
	return m.format
}

// Get returns the kernels for cfg, building them on a cache miss.
// A failed build leaves the cache unchanged and returns a *BuildError,
// ErrMissingSource or ErrInvalidConfig.
func (m *Manager) Get(cfg Config) (*Kernels, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if k, ok := m.cache[cfg]; ok {
		return k, nil
	}

	k, err := m.build(cfg)
	if err != nil {
		return nil, err
	}
	m.cache[cfg] = k
	m.builds++
	return k, nil
}

func (m *Manager) build(cfg Config) (*Kernels, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	src, err := LoadSources(m.sources)
	if err != nil {
		core.Logger().Error("failed to load kernel sources", "err", err)
		return nil, err
	}

	flags := BuildFlags(cfg, m.format)
	prelude := flags.Prelude()
	log := core.Logger().With("config", cfg.String(), "flags", flags.String())
	log.Info("building kernels")

	k := &Kernels{Config: cfg, Format: m.format, Flags: flags}

	var g errgroup.Group
	g.Go(func() error {
		bin, err := m.compiler.Compile(ProgramTrace, prelude+src.Trace)
		if err != nil {
			return &BuildError{Program: ProgramTrace, Flags: flags, Log: err.Error()}
		}
		k.TraceBinary = bin
		return nil
	})
	g.Go(func() error {
		bin, err := m.compiler.Compile(ProgramAccumulate, prelude+src.Accumulate)
		if err != nil {
			return &BuildError{Program: ProgramAccumulate, Flags: flags, Log: err.Error()}
		}
		k.AccumulateBinary = bin
		return nil
	})
	if err := g.Wait(); err != nil {
		var buildErr *BuildError
		if errors.As(err, &buildErr) {
			log.Error("kernel build failed", "program", buildErr.Program, "log", buildErr.Log)
		}
		return nil, err
	}

	k.Trace = NewTraceKernel(cfg, m.format)
	k.Accumulate = NewAccumulateKernel(m.format)
	return k, nil
}

// Cached reports whether kernels for cfg are built
func (m *Manager) Cached(cfg Config) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.cache[cfg]
	return ok
}

// Builds returns how many configs were built over the manager's lifetime
func (m *Manager) Builds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.builds
}

// Len returns the number of cached configs
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}

// Purge evicts every cached config
func (m *Manager) Purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.cache)
}
