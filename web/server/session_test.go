package server

import (
	"bytes"
	"encoding/json"
	"image/png"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialView(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/view?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// nextStatus reads messages until a text message arrives, skipping frames
func nextStatus(t *testing.T, conn *websocket.Conn) ViewStatus {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		typ, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if typ != websocket.TextMessage {
			continue
		}
		var status ViewStatus
		require.NoError(t, json.Unmarshal(data, &status))
		return status
	}
}

// nextFrame reads messages until a binary PNG frame arrives
func nextFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		typ, data, err := conn.ReadMessage()
		require.NoError(t, err)
		if typ == websocket.BinaryMessage {
			return data
		}
	}
}

func TestView_StreamsFrames(t *testing.T) {
	tests := []struct {
		name     string
		shared   bool
		zeroCopy bool
	}{
		{"shared surface", true, true},
		{"host readback", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Device.SharedSurfaces = tt.shared
			_, ts := newTestServer(t, cfg)
			conn := dialView(t, ts, "scene=spheres")

			status := nextStatus(t, conn)
			assert.Equal(t, "status", status.Type)
			assert.Equal(t, "spheres", status.Scene)
			assert.Equal(t, tt.zeroCopy, status.ZeroCopy)

			img, err := png.Decode(bytes.NewReader(nextFrame(t, conn)))
			require.NoError(t, err)
			assert.Equal(t, testWidth, img.Bounds().Dx())
			assert.Equal(t, testHeight, img.Bounds().Dy())
		})
	}
}

func TestView_ConfigChange(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))
	conn := dialView(t, ts, "scene=spheres")
	nextStatus(t, conn)

	require.NoError(t, conn.WriteJSON(ViewMessage{Type: "config", Samples: 3, Bounces: 2}))

	status := nextStatus(t, conn)
	assert.Equal(t, "status", status.Type)
	assert.Equal(t, uint32(3), status.Samples)
	assert.Equal(t, uint32(2), status.Bounces)
	assert.LessOrEqual(t, status.Frame, uint32(1))
}

func TestView_ConfigOutOfRangeRejected(t *testing.T) {
	cfg := testConfig(t)
	_, ts := newTestServer(t, cfg)
	conn := dialView(t, ts, "scene=spheres")
	nextStatus(t, conn)

	tests := []struct {
		name   string
		msg    ViewMessage
		expect string
	}{
		{"samples too high", ViewMessage{Type: "config", Samples: 5000000, Bounces: 1000000}, "samples must be between 1 and 1024"},
		{"bounces too high", ViewMessage{Type: "config", Bounces: 1000000}, "bounces must be between 1 and 64"},
		{"negative samples", ViewMessage{Type: "config", Samples: -1}, "samples must be between"},
		{"fov too wide", ViewMessage{Type: "config", FOV: 200}, "fov must be between"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conn.WriteJSON(tt.msg))
			status := nextStatus(t, conn)
			assert.Equal(t, "error", status.Type)
			assert.Contains(t, status.Message, tt.expect)
		})
	}

	// the session keeps its previous settings
	require.NoError(t, conn.WriteJSON(ViewMessage{Type: "config"}))
	status := nextStatus(t, conn)
	assert.Equal(t, "status", status.Type)
	assert.Equal(t, cfg.Render.Samples, status.Samples)
	assert.Equal(t, cfg.Render.Bounces, status.Bounces)
}

func TestView_SceneSwitch(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))
	conn := dialView(t, ts, "scene=spheres")
	nextStatus(t, conn)

	require.NoError(t, conn.WriteJSON(ViewMessage{Type: "scene", Scene: "file:room"}))
	status := nextStatus(t, conn)
	assert.Equal(t, "file:room", status.Scene)
	assert.Equal(t, uint32(0), status.Frame)

	require.NoError(t, conn.WriteJSON(ViewMessage{Type: "scene", Scene: "nope"}))
	status = nextStatus(t, conn)
	assert.Equal(t, "error", status.Type)
	assert.Contains(t, status.Message, "unknown scene")

	// the previous scene keeps rendering
	nextFrame(t, conn)
}

func TestView_UnknownMessage(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))
	conn := dialView(t, ts, "scene=spheres")
	nextStatus(t, conn)

	require.NoError(t, conn.WriteJSON(ViewMessage{Type: "teleport"}))
	status := nextStatus(t, conn)
	assert.Equal(t, "error", status.Type)
	assert.Contains(t, status.Message, "teleport")
}

func TestView_UnknownInitialScene(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))
	conn := dialView(t, ts, "scene=nope")

	status := nextStatus(t, conn)
	assert.Equal(t, "error", status.Type)
}

func TestView_ReleasesDeviceMemory(t *testing.T) {
	s, ts := newTestServer(t, testConfig(t))
	conn := dialView(t, ts, "scene=spheres")
	nextFrame(t, conn)
	conn.Close()

	assert.Eventually(t, func() bool { return s.dev.Allocated() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestView_ReloadsWatchedScene(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Watch = true
	_, ts := newTestServer(t, cfg)
	conn := dialView(t, ts, "scene=file:room")
	assert.Equal(t, "file:room", nextStatus(t, conn).Scene)

	path := filepath.Join(cfg.Server.ScenesDir, "room.yaml")
	updated := strings.Replace(roomScene, "radius: 1}", "radius: 2}", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	status := nextStatus(t, conn)
	assert.Equal(t, "status", status.Type)
	assert.Equal(t, "file:room", status.Scene)
}

func TestView_SwitchAwayFromWatchedScene(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Watch = true
	_, ts := newTestServer(t, cfg)
	conn := dialView(t, ts, "scene=file:room")
	assert.Equal(t, "file:room", nextStatus(t, conn).Scene)

	// the reload may still be in flight while the scene changes
	path := filepath.Join(cfg.Server.ScenesDir, "room.yaml")
	require.NoError(t, os.WriteFile(path, []byte(roomScene), 0o644))
	require.NoError(t, conn.WriteJSON(ViewMessage{Type: "scene", Scene: "spheres"}))

	for {
		status := nextStatus(t, conn)
		require.Equal(t, "status", status.Type, status.Message)
		if status.Scene == "spheres" {
			break
		}
	}
	nextFrame(t, conn)
}
