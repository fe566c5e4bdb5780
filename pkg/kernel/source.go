package kernel

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// ErrMissingSource is returned when a kernel source is absent or empty
var ErrMissingSource = errors.New("kernel: missing source")

// Program names. Each program is read from "<name>.wgsl".
const (
	ProgramTrace      = "trace"
	ProgramAccumulate = "accumulate"
)

//go:embed wgsl/*.wgsl
var embedded embed.FS

// EmbeddedSources returns the kernel sources built into the binary
func EmbeddedSources() fs.FS {
	sub, err := fs.Sub(embedded, "wgsl")
	if err != nil {
		// The embed pattern guarantees the directory exists
		panic(err)
	}
	return sub
}

// DirSources reads kernel sources from a directory on disk
func DirSources(dir string) fs.FS {
	return os.DirFS(dir)
}

// Sources holds the text of both programs
type Sources struct {
	Trace      string
	Accumulate string
}

// LoadSources reads the trace and accumulate programs from fsys.
// A missing or blank source is a fatal configuration error.
func LoadSources(fsys fs.FS) (Sources, error) {
	var src Sources
	for _, p := range []struct {
		name string
		dst  *string
	}{
		{ProgramTrace, &src.Trace},
		{ProgramAccumulate, &src.Accumulate},
	} {
		data, err := fs.ReadFile(fsys, p.name+".wgsl")
		if err != nil {
			return Sources{}, fmt.Errorf("%s: %w: %w", p.name, ErrMissingSource, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return Sources{}, fmt.Errorf("%s: empty file: %w", p.name, ErrMissingSource)
		}
		*p.dst = string(data)
	}
	return src, nil
}
