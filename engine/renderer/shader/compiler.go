package shader

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/Carmen-Shannon/oxy-render/engine/renderer/device"
	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"
)

// irStages maps the stages WGSL can express to their naga IR stage.
var irStages = map[device.Stage]ir.ShaderStage{
	device.StageVertex:  ir.StageVertex,
	device.StagePixel:   ir.StageFragment,
	device.StageCompute: ir.StageCompute,
}

// Binary is one compiled shader stage.
type Binary struct {
	Stage      device.Stage
	Path       string
	EntryPoint string

	// Source is the pre-processed WGSL text the stage was compiled from.
	Source string

	// Code is the SPIR-V binary generated for the stage.
	Code []byte

	// Module is the validated naga IR of the stage, consumed by reflection.
	Module *ir.Module

	// Dependencies lists every file read while compiling, the stage source first.
	Dependencies []string
}

// Compiler turns a stage description into a compiled Binary.
// Implementations must be safe for concurrent use; Preload compiles stages in parallel.
type Compiler interface {
	// Compile reads, pre-processes and compiles one stage.
	//
	// Parameters:
	//   - desc: the stage description
	//
	// Returns:
	//   - *Binary: the compiled stage
	//   - error: a *CompileError if the source could not be read or compiled
	Compile(desc StageDesc) (*Binary, error)
}

// nagaCompiler compiles WGSL with the pure Go naga toolchain.
type nagaCompiler struct {
	fsys      fs.FS
	validate  bool
	debugInfo bool
}

var _ Compiler = &nagaCompiler{}

// NewCompiler creates a Compiler that reads stage sources from fsys.
//
// Parameters:
//   - fsys: the shader root
//   - options: functional options that configure the compiler
//
// Returns:
//   - Compiler: the compiler
func NewCompiler(fsys fs.FS, options ...CompilerBuilderOption) Compiler {
	c := &nagaCompiler{
		fsys:     fsys,
		validate: true,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *nagaCompiler) Compile(desc StageDesc) (*Binary, error) {
	fail := func(diagnostic string, err error) (*Binary, error) {
		return nil, &CompileError{Path: desc.Path, Stage: desc.Stage, Diagnostic: diagnostic, Err: err}
	}

	irStage, ok := irStages[desc.Stage]
	if !ok {
		return fail(ErrUnsupportedStage.Error(), ErrUnsupportedStage)
	}

	pp := NewPreProcessor(c.fsys)
	source, err := pp.Process(desc.Path, desc.Macros)
	if err != nil {
		return fail(err.Error(), err)
	}

	ast, err := naga.Parse(source)
	if err != nil {
		return fail(err.Error(), err)
	}
	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return fail(err.Error(), err)
	}

	if c.validate {
		issues, err := naga.Validate(module)
		if err != nil {
			return fail(err.Error(), err)
		}
		if len(issues) > 0 {
			msgs := make([]string, len(issues))
			errs := make([]error, len(issues))
			for i := range issues {
				msgs[i] = issues[i].Error()
				errs[i] = issues[i]
			}
			return fail(strings.Join(msgs, "; "), errors.Join(errs...))
		}
	}

	if !hasEntryPoint(module, desc.EntryPoint, irStage) {
		err := fmt.Errorf("no %s entry point named %q", desc.Stage, desc.EntryPoint)
		return fail(err.Error(), err)
	}

	code, err := naga.GenerateSPIRV(module, spirv.Options{
		Version: spirv.Version1_3,
		Debug:   c.debugInfo,
	})
	if err != nil {
		return fail(err.Error(), err)
	}

	return &Binary{
		Stage:        desc.Stage,
		Path:         desc.Path,
		EntryPoint:   desc.EntryPoint,
		Source:       source,
		Code:         code,
		Module:       module,
		Dependencies: append([]string(nil), pp.Dependencies()...),
	}, nil
}

// CompileAll compiles every stage of desc in registration order, stopping at the first failure.
//
// Parameters:
//   - c: the compiler
//   - desc: the program descriptor
//
// Returns:
//   - []*Binary: one binary per stage
//   - error: the first compile error
func CompileAll(c Compiler, desc Descriptor) ([]*Binary, error) {
	stages := desc.sortedStages()
	binaries := make([]*Binary, 0, len(stages))
	for _, s := range stages {
		bin, err := c.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("shader %q: %w", desc.Name, err)
		}
		binaries = append(binaries, bin)
	}
	return binaries, nil
}

func hasEntryPoint(module *ir.Module, name string, stage ir.ShaderStage) bool {
	for _, ep := range module.EntryPoints {
		if ep.Name == name && ep.Stage == stage {
			return true
		}
	}
	return false
}
