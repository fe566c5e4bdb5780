package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/df07/go-progressive-pathtracer/pkg/camera"
	"github.com/df07/go-progressive-pathtracer/pkg/core"
	"github.com/df07/go-progressive-pathtracer/pkg/device"
	"github.com/df07/go-progressive-pathtracer/pkg/imageio"
	"github.com/df07/go-progressive-pathtracer/pkg/kernel"
	"github.com/df07/go-progressive-pathtracer/pkg/loaders"
	"github.com/df07/go-progressive-pathtracer/pkg/renderer"
	"github.com/df07/go-progressive-pathtracer/pkg/scene"
)

// frameInterval paces the interactive loop at roughly 30 frames per second
const frameInterval = 33 * time.Millisecond

// ViewMessage is a client message on the /api/view websocket
type ViewMessage struct {
	Type    string      `json:"type"` // "input", "scene", "config", "reset"
	Input   *InputState `json:"input,omitempty"`
	Scene   string      `json:"scene,omitempty"`
	Samples int         `json:"samples,omitempty"`
	Bounces int         `json:"bounces,omitempty"`
	FOV     float32     `json:"fov,omitempty"`
}

// InputState is the navigation state of the client, sent whenever it changes
type InputState struct {
	Forward bool    `json:"forward"`
	Back    bool    `json:"back"`
	Left    bool    `json:"left"`
	Right   bool    `json:"right"`
	Up      bool    `json:"up"`
	Down    bool    `json:"down"`
	Look    bool    `json:"look"`
	MouseDX float32 `json:"mouseDX"`
	MouseDY float32 `json:"mouseDY"`
}

// ViewStatus is sent as a text message after scene or config changes and on errors
type ViewStatus struct {
	Type     string `json:"type"` // "status", "error"
	Scene    string `json:"scene,omitempty"`
	Samples  uint32 `json:"samples,omitempty"`
	Bounces  uint32 `json:"bounces,omitempty"`
	Frame    uint32 `json:"frame"`
	ZeroCopy bool   `json:"zeroCopy"`
	Message  string `json:"message,omitempty"`
}

// viewSession is one interactive viewer. The session goroutine owns every
// field; the read loop and the scene watcher only send on channels.
type viewSession struct {
	s    *Server
	conn *websocket.Conn

	width, height int
	sceneID       string
	compiled      *scene.CompiledScene
	surface       *device.Surface
	raytracer     *renderer.Raytracer
	sink          renderer.Sink
	controller    *camera.Controller
	config        kernel.Config
	input         camera.Input
	maxFrames     int

	watcher   *loaders.Watcher
	reloads   chan sceneReload
	presented uint64
}

// handleView upgrades to a websocket and runs an interactive viewer
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	width, err := parseIntParam(q, "width", s.cfg.Render.Width, 1, maxImageSize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	height, err := parseIntParam(q, "height", s.cfg.Render.Height, 1, maxImageSize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sceneID := q.Get("scene")
	if sceneID == "" {
		sceneID = s.cfg.Render.Scene
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		core.Logger().Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	sess, err := s.newViewSession(conn, width, height)
	if err != nil {
		sendViewError(conn, err)
		return
	}
	defer sess.Close()

	if err := sess.switchScene(sceneID); err != nil {
		sendViewError(conn, err)
		return
	}
	sess.sendStatus()
	sess.run(r.Context())
}

func (s *Server) newViewSession(conn *websocket.Conn, width, height int) (*viewSession, error) {
	sess := &viewSession{
		s:         s,
		conn:      conn,
		width:     width,
		height:    height,
		config:    s.cfg.KernelConfig(),
		maxFrames: s.cfg.Render.Frames,
		reloads:   make(chan sceneReload, 1),
	}

	opts := []renderer.Option{
		renderer.WithManager(s.manager),
		renderer.WithAccumulation(s.cfg.Render.Accumulate),
	}
	if s.dev.Capabilities().SharedSurfaces {
		surface, err := s.dev.NewSurface(width, height, s.manager.Format())
		if err != nil {
			core.Logger().Warn("shared surface unavailable, reading back frames", "err", err)
		} else {
			sess.surface = surface
			opts = append(opts, renderer.WithSurface(surface))
		}
	}

	sess.raytracer = renderer.NewRaytracer(s.dev, width, height, opts...)
	if !sess.raytracer.IsValid() {
		err := sess.raytracer.Err()
		sess.Close()
		return nil, err
	}
	if err := sess.raytracer.BuildKernels(sess.config); err != nil {
		sess.Close()
		return nil, err
	}
	sess.sink = sess.raytracer.NewSink()

	view := scene.DefaultView()
	sess.controller = camera.NewController(s.cfg.Camera.FOV, uint32(width), uint32(height),
		view.Position, view.Direction, s.cfg.CameraParams())
	return sess, nil
}

// Close releases the session's device resources
func (v *viewSession) Close() {
	if v.watcher != nil {
		v.watcher.Close()
	}
	v.raytracer.Close()
	if v.surface != nil {
		v.s.dev.Release(v.surface.Buffer())
	}
	v.compiled.Release()
}

// run renders until the client disconnects or the renderer fails
func (v *viewSession) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	messages := make(chan ViewMessage)
	go func() {
		defer cancel()
		for {
			var msg ViewMessage
			if err := v.conn.ReadJSON(&msg); err != nil {
				return
			}
			select {
			case messages <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-messages:
			if err := v.handleMessage(msg); err != nil {
				sendViewError(v.conn, err)
			}

		case reload := <-v.reloads:
			// drop reloads of a scene the client already left
			if reload.id != v.sceneID {
				continue
			}
			if err := v.setScene(reload.scene); err != nil {
				sendViewError(v.conn, err)
				continue
			}
			core.Logger().Info("scene reloaded", "scene", v.sceneID)
			v.sendStatus()

		case now := <-ticker.C:
			dt := float32(now.Sub(last).Seconds())
			last = now
			if v.controller.Update(dt, v.input) {
				v.raytracer.ResetFrameCount()
			}
			if err := v.frame(); err != nil {
				sendViewError(v.conn, err)
				if !v.raytracer.IsValid() || errors.Is(err, websocket.ErrCloseSent) {
					return
				}
			}
			// mouse deltas apply once
			v.input.MouseDX, v.input.MouseDY = 0, 0
		}
	}
}

func (v *viewSession) handleMessage(msg ViewMessage) error {
	switch msg.Type {
	case "input":
		if msg.Input == nil {
			return errors.New("input message without input")
		}
		v.input = camera.Input{
			Forward: msg.Input.Forward,
			Back:    msg.Input.Back,
			Left:    msg.Input.Left,
			Right:   msg.Input.Right,
			Up:      msg.Input.Up,
			Down:    msg.Input.Down,
			Look:    msg.Input.Look,
			MouseDX: v.input.MouseDX + msg.Input.MouseDX,
			MouseDY: v.input.MouseDY + msg.Input.MouseDY,
		}
		return nil

	case "scene":
		if err := v.switchScene(msg.Scene); err != nil {
			return err
		}
		v.sendStatus()
		return nil

	case "config":
		cfg := v.config
		// zero leaves a setting unchanged
		if msg.Samples != 0 {
			if err := checkIntRange("samples", msg.Samples, 1, maxSamples); err != nil {
				return err
			}
			cfg.SampleCount = uint32(msg.Samples)
		}
		if msg.Bounces != 0 {
			if err := checkIntRange("bounces", msg.Bounces, 1, maxBounces); err != nil {
				return err
			}
			cfg.BounceLimit = uint32(msg.Bounces)
		}
		if msg.FOV != 0 {
			if err := checkFloatRange("fov", float64(msg.FOV), minFOV, maxFOV); err != nil {
				return err
			}
		}
		if msg.FOV != 0 && v.controller.SetFOV(msg.FOV) {
			v.raytracer.ResetFrameCount()
		}
		if cfg != v.config {
			// a failed build keeps the previous kernels in use
			if err := v.raytracer.BuildKernels(cfg); err != nil {
				return err
			}
			v.config = cfg
			v.raytracer.ResetFrameCount()
		}
		v.sendStatus()
		return nil

	case "reset":
		v.raytracer.ResetFrameCount()
		return nil

	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// switchScene loads a scene by ID, moves the camera to its view and
// watches its file when watching is enabled
func (v *viewSession) switchScene(id string) error {
	sc, path, err := v.s.loadScene(id)
	if err != nil {
		return err
	}
	if err := v.setScene(sc); err != nil {
		return err
	}
	v.sceneID = id
	v.controller.Place(sc.View.Position, sc.View.Direction)
	v.controller.SetFOV(sc.View.FOV)

	if v.watcher != nil {
		v.watcher.Close()
		v.watcher = nil
	}
	if path != "" && v.s.cfg.Server.Watch {
		w, err := loaders.WatchScene(path, loaders.DefaultDebounce, func(res *loaders.LoadResult, err error) {
			v.onReload(id, res, err)
		})
		if err != nil {
			core.Logger().Warn("scene watching disabled", "file", path, "err", err)
		} else {
			v.watcher = w
		}
	}
	return nil
}

// sceneReload is a reloaded scene file and the ID it was loaded for
type sceneReload struct {
	id    string
	scene *scene.Scene
}

// onReload runs on the watcher goroutine and hands the scene to the session.
// It must not touch session state other than the reloads channel.
func (v *viewSession) onReload(id string, res *loaders.LoadResult, err error) {
	if err != nil {
		core.Logger().Warn("scene reload failed, keeping previous scene", "scene", id, "err", err)
		return
	}
	logWarnings(id, res.Warnings)
	// a newer reload replaces one still waiting
	select {
	case <-v.reloads:
	default:
	}
	select {
	case v.reloads <- sceneReload{id: id, scene: res.Scene}:
	default:
	}
}

// setScene compiles sc and swaps it in, restarting accumulation
func (v *viewSession) setScene(sc *scene.Scene) error {
	compiled, err := scene.Compile(v.s.dev, sc)
	if err != nil {
		return fmt.Errorf("failed to compile scene: %w", err)
	}
	v.compiled.Release()
	v.compiled = compiled
	v.raytracer.ResetFrameCount()
	return nil
}

// frame traces and presents one frame. Converged images are not re-sent.
func (v *viewSession) frame() error {
	if v.maxFrames > 0 && int(v.raytracer.FrameCount()) >= v.maxFrames {
		return nil
	}
	if err := v.raytracer.RenderScene(v.compiled, v.controller.Camera(), v.config); err != nil {
		return err
	}
	if v.raytracer.Accumulating() {
		if err := v.raytracer.Accumulate(); err != nil {
			return err
		}
	}
	if err := v.raytracer.WriteInto(v.sink); err != nil {
		return err
	}
	return v.present()
}

// present encodes the sink contents and sends them as a binary PNG message
func (v *viewSession) present() error {
	var img *image.RGBA
	switch sink := v.sink.(type) {
	case *renderer.SurfaceSink:
		gen := sink.Surface.Generation()
		if gen == v.presented {
			return nil
		}
		v.presented = gen
		sink.Surface.Acquire()
		w, h := sink.Size()
		img = renderer.ToRGBA(sink.Surface.Buffer().Bytes(), w, h, sink.Format())
		sink.Surface.Release(false)
	case *renderer.HostSink:
		img = renderer.ToRGBA(sink.Pixels, sink.Width, sink.Height, sink.PixelFormat)
	default:
		return fmt.Errorf("unsupported sink %T", v.sink)
	}

	var buf bytes.Buffer
	if err := imageio.Encode(&buf, img, imageio.PNG); err != nil {
		return err
	}
	return v.conn.WriteMessage(websocket.BinaryMessage, buf.Bytes())
}

func (v *viewSession) sendStatus() {
	err := v.conn.WriteJSON(ViewStatus{
		Type:     "status",
		Scene:    v.sceneID,
		Samples:  v.config.SampleCount,
		Bounces:  v.config.BounceLimit,
		Frame:    v.raytracer.FrameCount(),
		ZeroCopy: v.raytracer.ZeroCopy(),
	})
	if err != nil {
		core.Logger().Debug("failed to send view status", "err", err)
	}
}

func sendViewError(conn *websocket.Conn, err error) {
	core.Logger().Warn("viewer error", "err", err)
	if werr := conn.WriteJSON(ViewStatus{Type: "error", Message: err.Error()}); werr != nil {
		core.Logger().Debug("failed to send viewer error", "err", werr)
	}
}
