package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"sync"
	"time"

	"github.com/df07/go-progressive-pathtracer/pkg/camera"
	"github.com/df07/go-progressive-pathtracer/pkg/core"
	"github.com/df07/go-progressive-pathtracer/pkg/imageio"
	"github.com/df07/go-progressive-pathtracer/pkg/kernel"
	"github.com/df07/go-progressive-pathtracer/pkg/renderer"
	"github.com/df07/go-progressive-pathtracer/pkg/scene"
)

// RenderRequest represents a render request from the client
type RenderRequest struct {
	Scene   string  `json:"scene"`   // scene ID from /api/scenes
	Width   int     `json:"width"`   // image width
	Height  int     `json:"height"`  // image height
	Samples int     `json:"samples"` // samples per pixel per frame
	Bounces int     `json:"bounces"` // maximum path segments
	Frames  int     `json:"frames"`  // frames to accumulate
	FOV     float64 `json:"fov"`     // vertical degrees, 0 keeps the scene's view
}

// FrameUpdate represents a single progressive frame sent via SSE
type FrameUpdate struct {
	Frame       int    `json:"frame"`
	TotalFrames int    `json:"totalFrames"`
	ImageData   string `json:"imageData"` // Base64 encoded PNG
	Stats       Stats  `json:"stats"`
	IsLast      bool   `json:"isLast"`
	ElapsedMs   int64  `json:"elapsedMs"`
}

// Stats represents render statistics
type Stats struct {
	TotalPixels      int     `json:"totalPixels"`
	SamplesPerPixel  int     `json:"samplesPerPixel"`
	TotalSamples     int     `json:"totalSamples"`
	AverageLuminance float64 `json:"averageLuminance"`
	FrameTimeMs      float64 `json:"frameTimeMs"`
	ObjectCount      int     `json:"objectCount"`
	MaterialCount    int     `json:"materialCount"`
}

// SSEEvent represents a unified SSE event for thread-safe writing
type SSEEvent struct {
	Type string `json:"type"` // "console", "frame", "error", "complete"
	Data string `json:"data"` // JSON-encoded data
}

// renderPipeline holds the device resources of one render request
type renderPipeline struct {
	compiled  *scene.CompiledScene
	raytracer *renderer.Raytracer
	camera    camera.Camera
	config    kernel.Config
}

func (p *renderPipeline) Close() {
	p.raytracer.Close()
	p.compiled.Release()
}

// handleRender handles progressive rendering with real-time frame streaming via SSE
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	s.setSSEHeaders(w)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Single writer goroutine; everything else sends through the channel
	sseEventChan := make(chan SSEEvent, 100)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeSSEEvents(ctx, cancel, w, sseEventChan)
	}()

	consoleCtx, stopConsole := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.streamConsoleMessages(consoleCtx, sseEventChan)
	}()

	defer func() {
		stopConsole()
		wg.Wait()
		close(sseEventChan)
		<-writerDone
	}()

	req, err := s.parseRenderRequest(r)
	if err != nil {
		s.handleError(ctx, sseEventChan, fmt.Sprintf("Invalid request: %v", err))
		return
	}

	pipeline, err := s.setupRenderingPipeline(req)
	if err != nil {
		s.handleError(ctx, sseEventChan, err.Error())
		return
	}
	defer pipeline.Close()

	startTime := time.Now()
	progressive := renderer.NewProgressive(pipeline.raytracer, pipeline.compiled, pipeline.camera,
		pipeline.config, renderer.ProgressiveConfig{MaxFrames: req.Frames})
	frames, errs := progressive.Render(ctx)

	s.handleRenderingEvents(ctx, sseEventChan, frames, errs, pipeline, req, startTime)
}

// setSSEHeaders sets the required headers for Server-Sent Events
func (s *Server) setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

// writeSSEEvents handles writing all SSE events in a single goroutine
// until the channel is closed. A failed write cancels the render.
func (s *Server) writeSSEEvents(ctx context.Context, cancel context.CancelFunc, w http.ResponseWriter, sseEventChan <-chan SSEEvent) {
	flusher, _ := w.(http.Flusher)
	broken := false
	for event := range sseEventChan {
		if broken || ctx.Err() != nil {
			continue // drain so senders never block
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, event.Data); err != nil {
			broken = true
			cancel()
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// streamConsoleMessages forwards log records to the SSE stream until ctx ends
func (s *Server) streamConsoleMessages(ctx context.Context, sseEventChan chan<- SSEEvent) {
	consoleChan := s.console.Subscribe(50)
	defer s.console.Unsubscribe(consoleChan)

	for {
		select {
		case msg := <-consoleChan:
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			select {
			case sseEventChan <- SSEEvent{Type: "console", Data: string(data)}:
			case <-ctx.Done():
				return
			default:
				// Channel full, skip message to avoid blocking
			}
		case <-ctx.Done():
			return
		}
	}
}

// setupRenderingPipeline compiles the scene and creates the raytracer
func (s *Server) setupRenderingPipeline(req *RenderRequest) (*renderPipeline, error) {
	sc, _, err := s.loadScene(req.Scene)
	if err != nil {
		return nil, err
	}

	cfg := kernel.Config{SampleCount: uint32(req.Samples), BounceLimit: uint32(req.Bounces)}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	compiled, err := scene.Compile(s.dev, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to compile scene: %w", err)
	}

	rt := renderer.NewRaytracer(s.dev, req.Width, req.Height,
		renderer.WithManager(s.manager),
		renderer.WithAccumulation(s.cfg.Render.Accumulate))
	if !rt.IsValid() {
		compiled.Release()
		return nil, rt.Err()
	}

	view := sc.View
	if req.FOV > 0 {
		view.FOV = float32(req.FOV)
	}
	cam := camera.Build(view.FOV, uint32(req.Width), uint32(req.Height), view.Position, view.Direction)
	core.Logger().Info("render requested", "scene", req.Scene, "width", req.Width, "height", req.Height,
		"objects", compiled.ObjectCount, "materials", compiled.MaterialCount)

	return &renderPipeline{compiled: compiled, raytracer: rt, camera: cam, config: cfg}, nil
}

// handleRenderingEvents streams frames until the render stops
func (s *Server) handleRenderingEvents(ctx context.Context, sseEventChan chan<- SSEEvent,
	frames <-chan renderer.FrameResult, errs <-chan error,
	pipeline *renderPipeline, req *RenderRequest, startTime time.Time) {

	for result := range frames {
		s.handleFrame(ctx, sseEventChan, result, pipeline, req, startTime)
	}

	if err := <-errs; err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.handleError(ctx, sseEventChan, fmt.Sprintf("Rendering failed: %v", err))
		return
	}

	select {
	case sseEventChan <- SSEEvent{Type: "complete", Data: "Rendering completed"}:
	case <-ctx.Done():
	}
}

// handleFrame encodes one frame and sends it as a frame event
func (s *Server) handleFrame(ctx context.Context, sseEventChan chan<- SSEEvent, result renderer.FrameResult,
	pipeline *renderPipeline, req *RenderRequest, startTime time.Time) {

	imageData, err := s.imageToBase64PNG(result.Image)
	if err != nil {
		core.Logger().Error("failed to encode frame", "frame", result.Frame, "err", err)
		return
	}

	update := FrameUpdate{
		Frame:       result.Frame,
		TotalFrames: req.Frames,
		ImageData:   imageData,
		Stats: Stats{
			TotalPixels:      result.Stats.TotalPixels,
			SamplesPerPixel:  result.Stats.SamplesPerPixel,
			TotalSamples:     result.Stats.TotalSamples,
			AverageLuminance: result.Stats.AverageLuminance,
			FrameTimeMs:      float64(result.Stats.FrameTime.Microseconds()) / 1000,
			ObjectCount:      int(pipeline.compiled.ObjectCount),
			MaterialCount:    int(pipeline.compiled.MaterialCount),
		},
		IsLast:    result.IsLast,
		ElapsedMs: time.Since(startTime).Milliseconds(),
	}

	data, err := json.Marshal(update)
	if err != nil {
		core.Logger().Error("failed to marshal frame update", "err", err)
		return
	}

	select {
	case sseEventChan <- SSEEvent{Type: "frame", Data: string(data)}:
	case <-ctx.Done():
	}
}

// parseRenderRequest parses request parameters
func (s *Server) parseRenderRequest(r *http.Request) (*RenderRequest, error) {
	q := r.URL.Query()
	req := &RenderRequest{Scene: q.Get("scene")}
	if req.Scene == "" {
		req.Scene = s.cfg.Render.Scene
	}

	var err error
	if req.Width, err = parseIntParam(q, "width", s.cfg.Render.Width, 1, maxImageSize); err != nil {
		return nil, err
	}
	if req.Height, err = parseIntParam(q, "height", s.cfg.Render.Height, 1, maxImageSize); err != nil {
		return nil, err
	}
	if req.Samples, err = parseIntParam(q, "samples", int(s.cfg.Render.Samples), 1, maxSamples); err != nil {
		return nil, err
	}
	if req.Bounces, err = parseIntParam(q, "bounces", int(s.cfg.Render.Bounces), 1, maxBounces); err != nil {
		return nil, err
	}
	if req.Frames, err = parseIntParam(q, "frames", s.cfg.Render.Frames, 1, maxFrames); err != nil {
		return nil, err
	}
	if req.FOV, err = parseFloatParam(q, "fov", 0, minFOV, maxFOV); err != nil {
		return nil, err
	}

	if req.Width*req.Height > 800*600 && req.Samples > 16 {
		core.Logger().Warn("large image with high samples may render slowly",
			"width", req.Width, "height", req.Height, "samples", req.Samples)
	}
	return req, nil
}

// imageToBase64PNG converts an image to base64-encoded PNG
func (s *Server) imageToBase64PNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := imageio.Encode(&buf, img, imageio.PNG); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// handleError sends an error event to the SSE channel
func (s *Server) handleError(ctx context.Context, sseEventChan chan<- SSEEvent, message string) {
	select {
	case sseEventChan <- SSEEvent{Type: "error", Data: message}:
	case <-ctx.Done():
	}
}
