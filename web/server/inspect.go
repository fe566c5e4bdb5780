package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/df07/go-progressive-pathtracer/pkg/camera"
	"github.com/df07/go-progressive-pathtracer/pkg/core"
	"github.com/df07/go-progressive-pathtracer/pkg/device"
	"github.com/df07/go-progressive-pathtracer/pkg/geometry"
	"github.com/df07/go-progressive-pathtracer/pkg/kernel"
	"github.com/df07/go-progressive-pathtracer/pkg/material"
	"github.com/df07/go-progressive-pathtracer/pkg/scene"
)

// InspectResponse represents the JSON response for object inspection
type InspectResponse struct {
	Hit           bool           `json:"hit"`
	MaterialType  string         `json:"materialType,omitempty"`
	GeometryType  string         `json:"geometryType,omitempty"`
	ObjectIndex   int            `json:"objectIndex"`
	MaterialIndex int            `json:"materialIndex"`
	Point         [3]float32     `json:"point"`
	Normal        [3]float32     `json:"normal"`
	Distance      float32        `json:"distance"`
	FrontFace     bool           `json:"frontFace"`
	Properties    map[string]any `json:"properties"`
}

// InspectResult is the closest object under a pixel, as the trace kernel sees it
type InspectResult struct {
	Hit         bool
	Ray         core.Ray
	Record      geometry.HitRecord
	ObjectIndex int
	Object      geometry.Object
	Material    material.Material
}

// inspectPixel compiles sc, reads the packed buffers back from the device
// and casts the primary ray of pixel (x, y) against them
func inspectPixel(dev *device.Device, sc *scene.Scene, width, height, x, y int) (InspectResult, error) {
	compiled, err := scene.Compile(dev, sc)
	if err != nil {
		return InspectResult{}, err
	}
	defer compiled.Release()

	objects := make([]byte, compiled.Objects.Size())
	if err := dev.ReadBuffer(compiled.Objects, 0, objects); err != nil {
		return InspectResult{}, err
	}
	materials := make([]byte, compiled.Materials.Size())
	if err := dev.ReadBuffer(compiled.Materials, 0, materials); err != nil {
		return InspectResult{}, err
	}
	staged, err := kernel.DecodeScene(objects, materials, compiled.ObjectCount, compiled.MaterialCount, compiled.BackgroundColor)
	if err != nil {
		return InspectResult{}, err
	}

	view := sc.View
	cam := camera.Build(view.FOV, uint32(width), uint32(height), view.Position, view.Direction)
	ray := cam.Ray(uint32(y*width + x))

	rec, ok := staged.Hit(ray)
	if !ok {
		return InspectResult{Ray: ray, ObjectIndex: -1}, nil
	}

	// Hit does not report which object it was, so find the one at that distance
	for i, obj := range staged.Objects {
		if objRec, objOk := obj.Hit(ray, geometry.HitEpsilon, rec.Distance+geometry.HitEpsilon); objOk && objRec.Distance == rec.Distance {
			return InspectResult{
				Hit:         true,
				Ray:         ray,
				Record:      rec,
				ObjectIndex: i,
				Object:      obj,
				Material:    staged.Materials[rec.MaterialIndex],
			}, nil
		}
	}
	return InspectResult{}, errors.New("closest hit not found among objects")
}

// extractMaterialInfo classifies a material and lists its parameters
func extractMaterialInfo(m *material.Material) (string, map[string]any) {
	properties := map[string]any{
		"color":      vec3(m.Color),
		"colorHex":   hexColor(m.Color),
		"smoothness": m.Smoothness,
	}
	if m.IsEmissive() {
		properties["emission"] = vec3(m.EmissionColor)
		return "emissive", properties
	}
	switch {
	case m.Smoothness <= 0:
		return "diffuse", properties
	case m.Smoothness >= 1:
		return "mirror", properties
	default:
		return "glossy", properties
	}
}

// extractGeometryInfo lists the parameters of a primitive
func extractGeometryInfo(p geometry.Primitive) (string, map[string]any) {
	properties := make(map[string]any)
	switch p.Kind {
	case geometry.KindSphere:
		properties["center"] = vec3(p.Sphere.Center)
		properties["radius"] = p.Sphere.Radius
	case geometry.KindTriangle:
		properties["v0"] = vec3(p.Triangle.V0)
		properties["v1"] = vec3(p.Triangle.V1)
		properties["v2"] = vec3(p.Triangle.V2)
	}
	return p.Kind.String(), properties
}

// handleInspect handles ray casting inspection requests
func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	q := r.URL.Query()

	width, err := parseIntParam(q, "width", s.cfg.Render.Width, 1, maxImageSize)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	height, err := parseIntParam(q, "height", s.cfg.Render.Height, 1, maxImageSize)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	pixelX, err := strconv.Atoi(q.Get("x"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid x coordinate"})
		return
	}
	pixelY, err := strconv.Atoi(q.Get("y"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid y coordinate"})
		return
	}
	if pixelX < 0 || pixelX >= width || pixelY < 0 || pixelY >= height {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Pixel coordinates out of bounds"})
		return
	}

	sceneID := q.Get("scene")
	if sceneID == "" {
		sceneID = s.cfg.Render.Scene
	}
	sc, _, err := s.loadScene(sceneID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrUnknownScene) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	result, err := inspectPixel(s.dev, sc, width, height, pixelX, pixelY)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("Inspection failed: %v", err)})
		return
	}

	response := InspectResponse{Hit: result.Hit, ObjectIndex: -1, MaterialIndex: -1}
	if result.Hit {
		rec := result.Record
		response.ObjectIndex = result.ObjectIndex
		response.MaterialIndex = int(rec.MaterialIndex)
		response.Point = vec3(rec.Point)
		response.Normal = vec3(rec.Normal)
		response.Distance = rec.Distance
		response.FrontFace = result.Ray.Direction.Dot(rec.Normal) < 0

		materialType, materialProps := extractMaterialInfo(&result.Material)
		geometryType, geometryProps := extractGeometryInfo(result.Object.Primitive)
		response.MaterialType = materialType
		response.GeometryType = geometryType
		response.Properties = map[string]any{
			"material": materialProps,
			"geometry": geometryProps,
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func vec3(v core.Vec3) [3]float32 {
	return [3]float32{v.X, v.Y, v.Z}
}

func hexColor(c core.Vec3) string {
	clamp := func(v float32) int {
		return int(min(max(v, 0), 1) * 255)
	}
	return fmt.Sprintf("#%02x%02x%02x", clamp(c.X), clamp(c.Y), clamp(c.Z))
}
