package loaders

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/df07/go-progressive-pathtracer/pkg/core"
	"github.com/df07/go-progressive-pathtracer/pkg/material"
	"github.com/df07/go-progressive-pathtracer/pkg/scene"
)

// ErrInvalidScene is returned for scene documents missing a required field
var ErrInvalidScene = errors.New("invalid scene")

// Warning describes a material or object that was replaced or skipped
type Warning struct {
	Kind  string // "material" or "object"
	Index int
	Msg   string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s %d: %s", w.Kind, w.Index, w.Msg)
}

// LoadResult is a loaded scene and what went wrong while loading it
type LoadResult struct {
	Scene    *scene.Scene
	Warnings []Warning
}

// LoadScene reads a scene file, picking the decoder by extension
// (.json, .yaml, .yml, .toml). Mesh objects are resolved relative to the
// file's directory.
func LoadScene(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene file: %w", err)
	}
	doc, err := decodeDocument(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return buildScene(doc, filepath.Dir(path))
}

// ParseScene builds a scene from document data in the format named by ext.
// Mesh files are resolved relative to baseDir.
func ParseScene(data []byte, ext, baseDir string) (*LoadResult, error) {
	doc, err := decodeDocument(data, ext)
	if err != nil {
		return nil, err
	}
	return buildScene(doc, baseDir)
}

func decodeDocument(data []byte, ext string) (map[string]any, error) {
	var doc map[string]any
	switch strings.ToLower(ext) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, err
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	case ".toml":
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported scene file extension %q", ext)
	}
	if doc == nil {
		return nil, fmt.Errorf("empty document: %w", ErrInvalidScene)
	}
	return doc, nil
}

func buildScene(doc map[string]any, baseDir string) (*LoadResult, error) {
	materials, ok := doc["materials"].([]any)
	if !ok {
		return nil, fmt.Errorf("'materials' must be an array: %w", ErrInvalidScene)
	}
	objects, ok := doc["objects"].([]any)
	if !ok {
		return nil, fmt.Errorf("'objects' must be an array: %w", ErrInvalidScene)
	}
	background, err := vec3(doc["backgroundColor"])
	if err != nil {
		return nil, fmt.Errorf("'backgroundColor': %v: %w", err, ErrInvalidScene)
	}
	for _, c := range []float32{background.X, background.Y, background.Z} {
		if c < 0 || c > 1 {
			return nil, fmt.Errorf("'backgroundColor' components must be in [0, 1]: %w", ErrInvalidScene)
		}
	}

	result := &LoadResult{Scene: scene.New()}
	result.Scene.SetBackgroundColor(background)
	log := core.Logger()

	mats := make([]*material.Material, len(materials))
	for i, raw := range materials {
		m, err := parseMaterial(raw)
		if err != nil {
			log.Warn("invalid material replaced by default", "index", i, "err", err)
			result.Warnings = append(result.Warnings, Warning{Kind: "material", Index: i, Msg: err.Error()})
			m = material.NewDefault()
		}
		mats[i] = m
	}

	for i, raw := range objects {
		objs, err := parseObject(raw, mats, baseDir)
		if err != nil {
			log.Warn("invalid object skipped", "index", i, "err", err)
			result.Warnings = append(result.Warnings, Warning{Kind: "object", Index: i, Msg: err.Error()})
			continue
		}
		for _, o := range objs {
			result.Scene.AddObject(o)
		}
	}

	if raw, ok := doc["view"]; ok {
		view, err := parseView(raw)
		if err != nil {
			return nil, fmt.Errorf("'view': %v: %w", err, ErrInvalidScene)
		}
		result.Scene.View = view
	}

	log.Debug("scene loaded",
		"materials", len(mats),
		"objects", result.Scene.Len(),
		"warnings", len(result.Warnings))
	return result, nil
}

func parseMaterial(raw any) (*material.Material, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, errors.New("not an object")
	}

	if c, ok := obj["color"]; ok {
		color, err := vec3(c)
		if err != nil {
			return nil, fmt.Errorf("color: %w", err)
		}
		smoothness, err := number(obj["smoothness"])
		if err != nil {
			return nil, fmt.Errorf("smoothness: %w", err)
		}
		if smoothness < 0 || smoothness > 1 {
			return nil, fmt.Errorf("smoothness must be in [0, 1], got %v", smoothness)
		}
		return material.New(color, smoothness), nil
	}

	if c, ok := obj["emissionColor"]; ok {
		color, err := vec3(c)
		if err != nil {
			return nil, fmt.Errorf("emissionColor: %w", err)
		}
		power, err := number(obj["emissionPower"])
		if err != nil {
			return nil, fmt.Errorf("emissionPower: %w", err)
		}
		if power < 0 {
			return nil, fmt.Errorf("emissionPower must not be negative, got %v", power)
		}
		return material.NewEmissive(color, power), nil
	}

	return nil, errors.New("needs 'color' or 'emissionColor'")
}

func parseObject(raw any, mats []*material.Material, baseDir string) ([]scene.Object, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, errors.New("not an object")
	}
	typ, ok := obj["type"].(string)
	if !ok {
		return nil, errors.New("'type' must be a string")
	}
	idx, err := integer(obj["matIdx"])
	if err != nil {
		return nil, fmt.Errorf("matIdx: %w", err)
	}
	if idx < 0 || idx >= len(mats) {
		return nil, fmt.Errorf("matIdx %d out of range [0, %d)", idx, len(mats))
	}
	mat := mats[idx]

	switch typ {
	case "sphere":
		center, err := vec3(obj["position"])
		if err != nil {
			return nil, fmt.Errorf("position: %w", err)
		}
		radius, err := number(obj["radius"])
		if err != nil {
			return nil, fmt.Errorf("radius: %w", err)
		}
		if radius < 0 {
			return nil, fmt.Errorf("radius must not be negative, got %v", radius)
		}
		return []scene.Object{scene.NewSphere(center, radius, mat)}, nil

	case "triangle":
		var v [3]core.Vec3
		for i, key := range []string{"v0", "v1", "v2"} {
			if v[i], err = vec3(obj[key]); err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
		}
		return []scene.Object{scene.NewTriangle(v[0], v[1], v[2], mat)}, nil

	case "mesh":
		return parseMesh(obj, mat, baseDir)

	default:
		return nil, fmt.Errorf("unknown type %q", typ)
	}
}

func parseMesh(obj map[string]any, mat *material.Material, baseDir string) ([]scene.Object, error) {
	file, ok := obj["file"].(string)
	if !ok || file == "" {
		return nil, errors.New("'file' must be a path")
	}
	if !filepath.IsAbs(file) {
		file = filepath.Join(baseDir, file)
	}

	offset := core.Vec3{}
	if raw, ok := obj["position"]; ok {
		var err error
		if offset, err = vec3(raw); err != nil {
			return nil, fmt.Errorf("position: %w", err)
		}
	}
	scale := float32(1)
	if raw, ok := obj["scale"]; ok {
		var err error
		if scale, err = number(raw); err != nil {
			return nil, fmt.Errorf("scale: %w", err)
		}
	}

	mesh, err := LoadPLY(file)
	if err != nil {
		return nil, err
	}
	return mesh.Objects(offset, scale, mat), nil
}

func parseView(raw any) (scene.View, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return scene.View{}, errors.New("not an object")
	}
	view := scene.DefaultView()
	var err error
	if v, ok := obj["position"]; ok {
		if view.Position, err = vec3(v); err != nil {
			return view, fmt.Errorf("position: %w", err)
		}
	}
	if v, ok := obj["direction"]; ok {
		if view.Direction, err = vec3(v); err != nil {
			return view, fmt.Errorf("direction: %w", err)
		}
		if view.Direction.IsZero() {
			return view, errors.New("direction must not be zero")
		}
		view.Direction = view.Direction.Normalize()
	}
	if v, ok := obj["fov"]; ok {
		if view.FOV, err = number(v); err != nil {
			return view, fmt.Errorf("fov: %w", err)
		}
		if view.FOV <= 0 || view.FOV >= 180 {
			return view, fmt.Errorf("fov must be in (0, 180), got %v", view.FOV)
		}
	}
	return view, nil
}

// number accepts the numeric types produced by the JSON, YAML and TOML decoders
func number(raw any) (float32, error) {
	var f float64
	switch v := raw.(type) {
	case json.Number:
		var err error
		if f, err = v.Float64(); err != nil {
			return 0, err
		}
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint64:
		f = float64(v)
	case nil:
		return 0, errors.New("missing")
	default:
		return 0, fmt.Errorf("%v is not a number", raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not finite", f)
	}
	return float32(f), nil
}

func integer(raw any) (int, error) {
	switch v := raw.(type) {
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		return int(i), nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case nil:
		return 0, errors.New("missing")
	default:
		return 0, fmt.Errorf("%v is not an integer", raw)
	}
}

func vec3(raw any) (core.Vec3, error) {
	arr, ok := raw.([]any)
	if !ok || len(arr) != 3 {
		return core.Vec3{}, errors.New("must be an array of 3 numbers")
	}
	var c [3]float32
	for i, el := range arr {
		v, err := number(el)
		if err != nil {
			return core.Vec3{}, fmt.Errorf("[%d]: %w", i, err)
		}
		c[i] = v
	}
	return core.NewVec3(c[0], c[1], c[2]), nil
}
