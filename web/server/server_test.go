package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/df07/go-progressive-pathtracer/pkg/config"
	"github.com/df07/go-progressive-pathtracer/pkg/scene"
)

// stubCompiler stands in for naga; the software device runs the Go kernels
type stubCompiler struct{}

func (stubCompiler) Compile(name, source string) ([]byte, error) {
	return []byte(name), nil
}

// roomScene is a red sphere at the origin, seen from the default view
const roomScene = `# Scene: Test Room
# Group: Test Scenes
materials:
  - color: [0.8, 0.2, 0.2]
    smoothness: 0.0
objects:
  - {type: sphere, matIdx: 0, position: [0, 0, 0], radius: 1}
backgroundColor: [0.5, 0.7, 1.0]
`

const (
	testWidth  = 16
	testHeight = 12
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Render.Width = testWidth
	cfg.Render.Height = testHeight
	cfg.Render.Frames = 3
	cfg.Device.Workers = 2
	cfg.Device.WorkgroupSize = 32
	cfg.Server.ScenesDir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Server.ScenesDir, "room.yaml"), []byte(roomScene), 0o644))
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(cfg, WithCompiler(stubCompiler{}))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

func get(t *testing.T, ts *httptest.Server, path string, query url.Values) (*http.Response, []byte) {
	t.Helper()
	u := ts.URL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	resp, err := http.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestHandleHealth(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))

	resp, body := get(t, ts, "/api/health", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestHandleScenes(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))

	resp, body := get(t, ts, "/api/scenes", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var scenes scene.ScenesResponse
	require.NoError(t, json.Unmarshal(body, &scenes))
	require.Len(t, scenes.Groups, 2)

	assert.Equal(t, "Built-in Scenes", scenes.Groups[0].Name)
	assert.Len(t, scenes.Groups[0].Scenes, len(scene.BuiltinNames()))

	files := scenes.Groups[1]
	assert.Equal(t, "Test Scenes", files.Name)
	require.Len(t, files.Scenes, 1)
	assert.Equal(t, "file:room", files.Scenes[0].ID)
	assert.Equal(t, "Test Room", files.Scenes[0].DisplayName)
}

func TestLoadScene(t *testing.T) {
	s, _ := newTestServer(t, testConfig(t))

	sc, path, err := s.loadScene("cornell")
	require.NoError(t, err)
	assert.NotZero(t, sc.Len())
	assert.Empty(t, path)

	sc, path, err = s.loadScene("file:room")
	require.NoError(t, err)
	assert.Equal(t, 1, sc.Len())
	assert.Equal(t, "room.yaml", filepath.Base(path))

	for _, id := range []string{"nope", "file:missing", "file:../room", ""} {
		_, _, err := s.loadScene(id)
		assert.ErrorIs(t, err, ErrUnknownScene, id)
	}
}

type sseEvent struct {
	Type string
	Data string
}

func parseSSE(body []byte) []sseEvent {
	var events []sseEvent
	for _, block := range strings.Split(string(body), "\n\n") {
		var ev sseEvent
		for _, line := range strings.Split(block, "\n") {
			if v, ok := strings.CutPrefix(line, "event: "); ok {
				ev.Type = v
			}
			if v, ok := strings.CutPrefix(line, "data: "); ok {
				ev.Data = v
			}
		}
		if ev.Type != "" {
			events = append(events, ev)
		}
	}
	return events
}

func eventsOfType(events []sseEvent, typ string) []sseEvent {
	var out []sseEvent
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestHandleRender_StreamsFrames(t *testing.T) {
	for _, id := range []string{"spheres", "file:room"} {
		t.Run(id, func(t *testing.T) {
			_, ts := newTestServer(t, testConfig(t))

			resp, body := get(t, ts, "/api/render", url.Values{"scene": {id}, "frames": {"3"}, "samples": {"2"}})
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

			events := parseSSE(body)
			require.Empty(t, eventsOfType(events, "error"))
			frames := eventsOfType(events, "frame")
			require.Len(t, frames, 3)

			for i, ev := range frames {
				var update FrameUpdate
				require.NoError(t, json.Unmarshal([]byte(ev.Data), &update))
				assert.Equal(t, i+1, update.Frame)
				assert.Equal(t, 3, update.TotalFrames)
				assert.Equal(t, i == 2, update.IsLast)
				assert.Equal(t, testWidth*testHeight, update.Stats.TotalPixels)
				assert.Equal(t, 2, update.Stats.SamplesPerPixel)
				assert.Equal(t, (i+1)*2, update.Stats.TotalSamples)

				raw, err := base64.StdEncoding.DecodeString(update.ImageData)
				require.NoError(t, err)
				img, err := png.Decode(bytes.NewReader(raw))
				require.NoError(t, err)
				assert.Equal(t, testWidth, img.Bounds().Dx())
				assert.Equal(t, testHeight, img.Bounds().Dy())
			}
			assert.Equal(t, "complete", events[len(events)-1].Type)
		})
	}
}

func TestHandleRender_Errors(t *testing.T) {
	tests := []struct {
		name   string
		query  url.Values
		expect string
	}{
		{"invalid width", url.Values{"width": {"0"}}, "Invalid request"},
		{"not a number", url.Values{"samples": {"many"}}, "invalid samples"},
		{"unknown scene", url.Values{"scene": {"nope"}}, "unknown scene"},
	}

	_, ts := newTestServer(t, testConfig(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, body := get(t, ts, "/api/render", tt.query)

			events := parseSSE(body)
			require.Len(t, events, 1)
			assert.Equal(t, "error", events[0].Type)
			assert.Contains(t, events[0].Data, tt.expect)
		})
	}
}

func TestHandleRender_WithoutAccumulationSendsOneFrame(t *testing.T) {
	cfg := testConfig(t)
	cfg.Render.Accumulate = false
	_, ts := newTestServer(t, cfg)

	_, body := get(t, ts, "/api/render", url.Values{"scene": {"spheres"}, "frames": {"5"}})

	events := parseSSE(body)
	assert.Len(t, eventsOfType(events, "frame"), 1)
	assert.Equal(t, "complete", events[len(events)-1].Type)
}

func TestHandleRender_ReleasesDeviceMemory(t *testing.T) {
	s, ts := newTestServer(t, testConfig(t))

	get(t, ts, "/api/render", url.Values{"scene": {"spheres"}, "frames": {"2"}})

	assert.Zero(t, s.dev.Allocated())
}

func TestHandleInspect(t *testing.T) {
	_, ts := newTestServer(t, testConfig(t))

	t.Run("hit", func(t *testing.T) {
		resp, body := get(t, ts, "/api/inspect", url.Values{
			"scene": {"file:room"}, "x": {"8"}, "y": {"6"},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

		var res InspectResponse
		require.NoError(t, json.Unmarshal(body, &res))
		assert.True(t, res.Hit)
		assert.Equal(t, "sphere", res.GeometryType)
		assert.Equal(t, "diffuse", res.MaterialType)
		assert.Equal(t, 0, res.ObjectIndex)
		assert.Equal(t, 0, res.MaterialIndex)
		assert.InDelta(t, 5, res.Distance, 1e-3)
		assert.InDelta(t, 1, res.Normal[2], 1e-3)
		assert.True(t, res.FrontFace)
	})

	t.Run("miss", func(t *testing.T) {
		resp, body := get(t, ts, "/api/inspect", url.Values{
			"scene": {"file:room"}, "x": {"0"}, "y": {"0"},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var res InspectResponse
		require.NoError(t, json.Unmarshal(body, &res))
		assert.False(t, res.Hit)
		assert.Equal(t, -1, res.ObjectIndex)
	})

	bad := []struct {
		name  string
		query url.Values
	}{
		{"missing x", url.Values{"y": {"1"}}},
		{"out of bounds", url.Values{"x": {"16"}, "y": {"0"}}},
		{"negative", url.Values{"x": {"-1"}, "y": {"0"}}},
		{"unknown scene", url.Values{"scene": {"nope"}, "x": {"1"}, "y": {"1"}}},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := get(t, ts, "/api/inspect", tt.query)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, string(body), "error")
		})
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    int
		wantErr bool
	}{
		{"default", "", 7, false},
		{"valid", "12", 12, false},
		{"min", "1", 1, false},
		{"below min", "0", 0, true},
		{"above max", "101", 0, true},
		{"not a number", "x", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := url.Values{}
			if tt.value != "" {
				values.Set("n", tt.value)
			}
			got, err := parseIntParam(values, "n", 7, 1, 100)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFloatParam(t *testing.T) {
	got, err := parseFloatParam(url.Values{}, "fov", 60, 1, 179)
	require.NoError(t, err)
	assert.Equal(t, 60.0, got)

	got, err = parseFloatParam(url.Values{"fov": {"45.5"}}, "fov", 60, 1, 179)
	require.NoError(t, err)
	assert.Equal(t, 45.5, got)

	_, err = parseFloatParam(url.Values{"fov": {"180"}}, "fov", 60, 1, 179)
	assert.Error(t, err)
}
