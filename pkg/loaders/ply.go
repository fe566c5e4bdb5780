package loaders

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/df07/go-progressive-pathtracer/pkg/core"
	"github.com/df07/go-progressive-pathtracer/pkg/material"
	"github.com/df07/go-progressive-pathtracer/pkg/scene"
)

// PLYHeader is the parsed header of a PLY file
type PLYHeader struct {
	Format      string // "ascii" or "binary_little_endian"
	VertexCount int
	FaceCount   int
	VertexProps []PLYProperty
	FaceProps   []PLYProperty
}

// PLYProperty is a property declaration in the PLY header
type PLYProperty struct {
	Name     string
	Type     string
	IsList   bool
	ListType string // type of the list count
}

// Mesh is a triangle mesh read from a PLY file
type Mesh struct {
	Vertices []core.Vec3
	Faces    [][3]int
}

// Objects converts the mesh into triangles, scaled and then offset,
// all sharing mat.
func (m *Mesh) Objects(offset core.Vec3, scale float32, mat *material.Material) []scene.Object {
	objs := make([]scene.Object, len(m.Faces))
	place := func(i int) core.Vec3 {
		return m.Vertices[i].Multiply(scale).Add(offset)
	}
	for i, f := range m.Faces {
		objs[i] = scene.NewTriangle(place(f[0]), place(f[1]), place(f[2]), mat)
	}
	return objs
}

// LoadPLY loads the vertex positions and faces of a PLY file. Polygons
// with more than three vertices are split into triangle fans.
func LoadPLY(filename string) (*Mesh, error) {
	start := time.Now()

	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open PLY file: %w", err)
	}
	defer file.Close()

	mesh, err := ReadPLY(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	core.Logger().Debug("loaded PLY mesh",
		"file", filename,
		"vertices", len(mesh.Vertices),
		"triangles", len(mesh.Faces),
		"elapsed", time.Since(start))
	return mesh, nil
}

// ReadPLY parses a PLY stream
func ReadPLY(r io.Reader) (*Mesh, error) {
	reader := bufio.NewReader(r)
	header, err := parsePLYHeader(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PLY header: %w", err)
	}

	var read plyReader
	switch header.Format {
	case "ascii":
		read = &asciiReader{scanner: bufio.NewScanner(reader)}
	case "binary_little_endian":
		read = &binaryReader{r: reader}
	default:
		return nil, fmt.Errorf("unsupported PLY format: %s", header.Format)
	}

	mesh := &Mesh{
		Vertices: make([]core.Vec3, 0, header.VertexCount),
		Faces:    make([][3]int, 0, header.FaceCount),
	}

	for i := 0; i < header.VertexCount; i++ {
		var v [3]float64
		for _, prop := range header.VertexProps {
			if prop.IsList {
				return nil, fmt.Errorf("list property %q on vertices", prop.Name)
			}
			value, err := read.scalar(prop.Type)
			if err != nil {
				return nil, fmt.Errorf("vertex %d: %w", i, err)
			}
			switch prop.Name {
			case "x":
				v[0] = value
			case "y":
				v[1] = value
			case "z":
				v[2] = value
			}
		}
		mesh.Vertices = append(mesh.Vertices, core.NewVec3(float32(v[0]), float32(v[1]), float32(v[2])))
	}

	for i := 0; i < header.FaceCount; i++ {
		for _, prop := range header.FaceProps {
			if !prop.IsList {
				if _, err := read.scalar(prop.Type); err != nil {
					return nil, fmt.Errorf("face %d: %w", i, err)
				}
				continue
			}
			count, err := read.scalar(prop.ListType)
			if err != nil {
				return nil, fmt.Errorf("face %d: %w", i, err)
			}
			indices := make([]int, int(count))
			for j := range indices {
				value, err := read.scalar(prop.Type)
				if err != nil {
					return nil, fmt.Errorf("face %d: %w", i, err)
				}
				indices[j] = int(value)
			}
			if prop.Name != "vertex_indices" && prop.Name != "vertex_index" {
				continue
			}
			for _, idx := range indices {
				if idx < 0 || idx >= len(mesh.Vertices) {
					return nil, fmt.Errorf("face %d: vertex index %d out of range", i, idx)
				}
			}
			for j := 1; j+1 < len(indices); j++ {
				mesh.Faces = append(mesh.Faces, [3]int{indices[0], indices[j], indices[j+1]})
			}
		}
	}

	return mesh, nil
}

func parsePLYHeader(reader *bufio.Reader) (*PLYHeader, error) {
	header := &PLYHeader{}
	var currentElement string

	magic, err := reader.ReadString('\n')
	if err != nil || strings.TrimSpace(magic) != "ply" {
		return nil, fmt.Errorf("missing 'ply' magic")
	}

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("header ended without end_header: %w", err)
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "end_header":
			return header, nil
		case "format":
			if len(parts) < 2 {
				return nil, fmt.Errorf("invalid format line %q", strings.TrimSpace(line))
			}
			header.Format = parts[1]
		case "element":
			if len(parts) < 3 {
				return nil, fmt.Errorf("invalid element line %q", strings.TrimSpace(line))
			}
			count, err := strconv.Atoi(parts[2])
			if err != nil || count < 0 {
				return nil, fmt.Errorf("invalid element count: %s", parts[2])
			}
			currentElement = parts[1]
			switch currentElement {
			case "vertex":
				header.VertexCount = count
			case "face":
				header.FaceCount = count
			default:
				if count > 0 {
					return nil, fmt.Errorf("unsupported element %q", currentElement)
				}
			}
		case "property":
			prop, err := parsePLYProperty(parts[1:])
			if err != nil {
				return nil, err
			}
			switch currentElement {
			case "vertex":
				header.VertexProps = append(header.VertexProps, prop)
			case "face":
				header.FaceProps = append(header.FaceProps, prop)
			}
		}
	}
}

func parsePLYProperty(parts []string) (PLYProperty, error) {
	if len(parts) >= 4 && parts[0] == "list" {
		return PLYProperty{IsList: true, ListType: parts[1], Type: parts[2], Name: parts[3]}, nil
	}
	if len(parts) == 2 {
		return PLYProperty{Type: parts[0], Name: parts[1]}, nil
	}
	return PLYProperty{}, fmt.Errorf("invalid property definition %q", strings.Join(parts, " "))
}

// getTypeSize returns the size in bytes of a PLY scalar type, or 0 if unknown
func getTypeSize(dataType string) int {
	switch dataType {
	case "char", "int8", "uchar", "uint8":
		return 1
	case "short", "int16", "ushort", "uint16":
		return 2
	case "int", "int32", "uint", "uint32", "float", "float32":
		return 4
	case "double", "float64":
		return 8
	default:
		return 0
	}
}

type plyReader interface {
	scalar(dataType string) (float64, error)
}

type asciiReader struct {
	scanner *bufio.Scanner
	fields  []string
}

func (a *asciiReader) scalar(dataType string) (float64, error) {
	if getTypeSize(dataType) == 0 {
		return 0, fmt.Errorf("unsupported data type: %s", dataType)
	}
	for len(a.fields) == 0 {
		if !a.scanner.Scan() {
			if err := a.scanner.Err(); err != nil {
				return 0, err
			}
			return 0, io.ErrUnexpectedEOF
		}
		a.fields = strings.Fields(a.scanner.Text())
	}
	field := a.fields[0]
	a.fields = a.fields[1:]
	return strconv.ParseFloat(field, 64)
}

type binaryReader struct {
	r   io.Reader
	buf [8]byte
}

func (b *binaryReader) scalar(dataType string) (float64, error) {
	size := getTypeSize(dataType)
	if size == 0 {
		return 0, fmt.Errorf("unsupported data type: %s", dataType)
	}
	data := b.buf[:size]
	if _, err := io.ReadFull(b.r, data); err != nil {
		return 0, err
	}
	le := binary.LittleEndian
	switch dataType {
	case "char", "int8":
		return float64(int8(data[0])), nil
	case "uchar", "uint8":
		return float64(data[0]), nil
	case "short", "int16":
		return float64(int16(le.Uint16(data))), nil
	case "ushort", "uint16":
		return float64(le.Uint16(data)), nil
	case "int", "int32":
		return float64(int32(le.Uint32(data))), nil
	case "uint", "uint32":
		return float64(le.Uint32(data)), nil
	case "float", "float32":
		return float64(math.Float32frombits(le.Uint32(data))), nil
	default:
		return math.Float64frombits(le.Uint64(data)), nil
	}
}
