package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/df07/go-progressive-pathtracer/pkg/config"
	"github.com/df07/go-progressive-pathtracer/pkg/core"
	"github.com/df07/go-progressive-pathtracer/pkg/device"
	"github.com/df07/go-progressive-pathtracer/pkg/kernel"
	"github.com/df07/go-progressive-pathtracer/pkg/loaders"
	"github.com/df07/go-progressive-pathtracer/pkg/scene"
)

// ErrUnknownScene is returned for scene IDs that name neither a built-in
// scene nor a file in the scenes directory
var ErrUnknownScene = errors.New("unknown scene")

// Server handles web requests for the progressive pathtracer
type Server struct {
	cfg      config.Config
	dev      *device.Device
	manager  *kernel.Manager
	compiler kernel.Compiler
	console  *ConsoleHub
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// Option customises a Server
type Option func(*Server)

// WithCompiler replaces the naga compiler used for kernel builds
func WithCompiler(c kernel.Compiler) Option {
	return func(s *Server) {
		s.compiler = c
	}
}

// NewServer creates a web server with its own compute device. Every render
// shares one kernel manager, so repeated configurations build once.
func NewServer(cfg config.Config, opts ...Option) *Server {
	s := &Server{cfg: cfg, console: NewConsoleHub()}
	for _, opt := range opts {
		opt(s)
	}

	s.dev = device.New(cfg.DeviceOptions())
	var kopts []kernel.Option
	if cfg.Kernels.Dir != "" {
		kopts = append(kopts, kernel.WithSourceDir(cfg.Kernels.Dir))
	}
	s.manager = kernel.NewManager(s.compiler, cfg.PixelFormat(), kopts...)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/scenes", s.handleScenes)
	s.mux.HandleFunc("/api/render", s.handleRender)
	s.mux.HandleFunc("/api/view", s.handleView)
	s.mux.HandleFunc("/api/inspect", s.handleInspect)
	return s
}

// Handler returns the HTTP handler serving the API
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Console returns the hub receiving log records for streaming to clients
func (s *Server) Console() *ConsoleHub {
	return s.console
}

// Start serves on the configured address until the listener fails
func (s *Server) Start() error {
	core.Logger().Info("starting web server", "addr", s.cfg.Server.Addr, "device", s.dev.Name())
	return http.ListenAndServe(s.cfg.Server.Addr, s.mux)
}

// Close releases the compute device
func (s *Server) Close() {
	s.dev.Close()
}

// handleHealth provides a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleScenes lists the built-in scenes and the files in the scenes directory
func (s *Server) handleScenes(w http.ResponseWriter, r *http.Request) {
	scenes, err := scene.ListAllScenes(s.cfg.Server.ScenesDir)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, scenes)
}

// loadScene resolves a scene ID from /api/scenes. File scenes are looked
// up in the listing, so IDs never reach the filesystem as paths. The
// returned path is empty for built-in scenes.
func (s *Server) loadScene(id string) (*scene.Scene, string, error) {
	if !strings.HasPrefix(id, "file:") {
		sc, ok := scene.Builtin(id)
		if !ok {
			return nil, "", fmt.Errorf("%w: %q", ErrUnknownScene, id)
		}
		return sc, "", nil
	}

	files, err := scene.ListSceneFiles(s.cfg.Server.ScenesDir)
	if err != nil {
		return nil, "", err
	}
	info, ok := lo.Find(files, func(f scene.SceneInfo) bool { return f.ID == id })
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownScene, id)
	}
	res, err := loaders.LoadScene(info.FilePath)
	if err != nil {
		return nil, "", err
	}
	logWarnings(info.FilePath, res.Warnings)
	return res.Scene, info.FilePath, nil
}

func logWarnings(path string, warnings []loaders.Warning) {
	for _, w := range warnings {
		core.Logger().Warn("scene file warning", "file", path, "warning", w.String())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Limits on client-supplied render settings. A dispatch cannot be
// interrupted and holds the shared device, so every endpoint applies them.
const (
	maxImageSize = 4096
	maxSamples   = 1024
	maxBounces   = 64
	maxFrames    = 100000
	minFOV       = 1
	maxFOV       = 179
)

// parseIntParam parses an integer parameter from URL query with validation
func parseIntParam(values url.Values, key string, defaultValue, min, max int) (int, error) {
	if value := values.Get(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %s", key, value)
		}
		if err := checkIntRange(key, parsed, min, max); err != nil {
			return 0, err
		}
		return parsed, nil
	}
	return defaultValue, nil
}

// parseFloatParam parses a float parameter from URL query with validation
func parseFloatParam(values url.Values, key string, defaultValue, min, max float64) (float64, error) {
	if value := values.Get(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %s", key, value)
		}
		if err := checkFloatRange(key, parsed, min, max); err != nil {
			return 0, err
		}
		return parsed, nil
	}
	return defaultValue, nil
}

func checkIntRange(key string, v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%s must be between %d and %d, got: %d", key, min, max, v)
	}
	return nil
}

func checkFloatRange(key string, v, min, max float64) error {
	if v < min || v > max {
		return fmt.Errorf("%s must be between %g and %g, got: %g", key, min, max, v)
	}
	return nil
}
