package kernel

import (
	"fmt"

	"github.com/gogpu/naga"
)

// Compiler turns program source into a device binary
type Compiler interface {
	Compile(name, source string) ([]byte, error)
}

// BuildError reports a failed program build with the compiler diagnostics
type BuildError struct {
	Program string
	Flags   Flags
	Log     string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s program (%s): %s", e.Program, e.Flags, e.Log)
}

// NagaCompiler compiles WGSL to SPIR-V
type NagaCompiler struct {
	Options naga.CompileOptions
}

// NewNagaCompiler returns a compiler using naga's default options
func NewNagaCompiler() *NagaCompiler {
	return &NagaCompiler{Options: naga.DefaultOptions()}
}

// Compile implements Compiler
func (c *NagaCompiler) Compile(name, source string) ([]byte, error) {
	spirv, err := naga.CompileWithOptions(source, c.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", name, err)
	}
	return spirv, nil
}
