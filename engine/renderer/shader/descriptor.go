package shader

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/Carmen-Shannon/oxy-render/engine/renderer/device"
)

// stageFileSuffix and stageEntryPoint give the conventional file suffix and entry point name
// for each stage, e.g. Tonemapping_ps.wgsl with entry point ps_main.
var (
	stageFileSuffix = map[device.Stage]string{
		device.StageVertex:   "vs",
		device.StageGeometry: "gs",
		device.StagePixel:    "ps",
		device.StageCompute:  "cs",
	}
	stageEntryPoint = map[device.Stage]string{
		device.StageVertex:   "vs_main",
		device.StageGeometry: "gs_main",
		device.StagePixel:    "ps_main",
		device.StageCompute:  "cs_main",
	}
)

// Macro is a compile-time definition handed to the pre-processor.
type Macro struct {
	Name  string
	Value string
}

// IntMacro is a convenience for integer-valued macros such as INSTANCE_COUNT.
func IntMacro(name string, value int) Macro {
	return Macro{Name: name, Value: strconv.Itoa(value)}
}

// StageDesc describes the source of one shader stage.
type StageDesc struct {
	// Stage is the pipeline stage compiled from the file.
	Stage device.Stage

	// Path is the source file path relative to the shader root.
	Path string

	// EntryPoint is the entry point function name.
	EntryPoint string

	// Macros are the definitions visible to the pre-processor for this stage.
	Macros []Macro
}

// Descriptor describes a shader program: a logical name plus one source per stage.
// Two descriptors are the same program if and only if they are Equal.
type Descriptor struct {
	Name   string
	Stages []StageDesc
}

// NewDescriptor builds a descriptor using the conventional per-stage file names
// (<name>_vs.wgsl, <name>_ps.wgsl, ...) and entry points (vs_main, ps_main, ...).
//
// Parameters:
//   - name: the logical program name
//   - stages: the stages the program uses
//
// Returns:
//   - Descriptor: the descriptor
func NewDescriptor(name string, stages ...device.Stage) Descriptor {
	d := Descriptor{Name: name}
	for _, s := range stages {
		d.Stages = append(d.Stages, StageDesc{
			Stage:      s,
			Path:       fmt.Sprintf("%s_%s.wgsl", name, stageFileSuffix[s]),
			EntryPoint: stageEntryPoint[s],
		})
	}
	return d
}

// WithStage returns a copy of d where the given stage reads its source from path. Used for
// programs that share a stage source with another program, such as the full-screen quad.
//
// Parameters:
//   - stage: the stage to override
//   - path: the source path for that stage
//
// Returns:
//   - Descriptor: the updated copy
func (d Descriptor) WithStage(stage device.Stage, path string) Descriptor {
	out := d.clone()
	for i := range out.Stages {
		if out.Stages[i].Stage == stage {
			out.Stages[i].Path = path
			return out
		}
	}
	out.Stages = append(out.Stages, StageDesc{Stage: stage, Path: path, EntryPoint: stageEntryPoint[stage]})
	return out
}

// WithMacros returns a copy of d where every stage also receives the given macros.
//
// Parameters:
//   - macros: the macro definitions to append
//
// Returns:
//   - Descriptor: the updated copy
func (d Descriptor) WithMacros(macros ...Macro) Descriptor {
	out := d.clone()
	for i := range out.Stages {
		out.Stages[i].Macros = append(out.Stages[i].Macros, macros...)
	}
	return out
}

// Stage returns the description of the given stage, if the program uses it.
func (d Descriptor) Stage(stage device.Stage) (StageDesc, bool) {
	for _, s := range d.Stages {
		if s.Stage == stage {
			return s, true
		}
	}
	return StageDesc{}, false
}

// Validate checks the descriptor is usable: a name, at least one stage, no stage twice, and a
// path and entry point for every stage.
//
// Returns:
//   - error: a description of the first problem found, or nil
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return errors.New("shader descriptor has no name")
	}
	if len(d.Stages) == 0 {
		return fmt.Errorf("shader %q has no stages", d.Name)
	}
	seen := make(map[device.Stage]bool, len(d.Stages))
	for _, s := range d.Stages {
		if seen[s.Stage] {
			return fmt.Errorf("shader %q declares the %s stage twice", d.Name, s.Stage)
		}
		seen[s.Stage] = true
		if s.Path == "" {
			return fmt.Errorf("shader %q: %s stage has no source path", d.Name, s.Stage)
		}
		if s.EntryPoint == "" {
			return fmt.Errorf("shader %q: %s stage has no entry point", d.Name, s.Stage)
		}
	}
	return nil
}

// Equal reports whether two descriptors describe the same program.
func (d Descriptor) Equal(o Descriptor) bool {
	return d.Name == o.Name && slices.EqualFunc(d.Stages, o.Stages, func(a, b StageDesc) bool {
		return a.Stage == b.Stage && a.Path == b.Path && a.EntryPoint == b.EntryPoint && slices.Equal(a.Macros, b.Macros)
	})
}

// sortedStages returns the stage descriptions in registration order.
func (d Descriptor) sortedStages() []StageDesc {
	out := slices.Clone(d.Stages)
	slices.SortStableFunc(out, func(a, b StageDesc) int {
		return int(a.Stage) - int(b.Stage)
	})
	return out
}

func (d Descriptor) clone() Descriptor {
	out := Descriptor{Name: d.Name, Stages: make([]StageDesc, len(d.Stages))}
	for i, s := range d.Stages {
		s.Macros = slices.Clone(s.Macros)
		out.Stages[i] = s
	}
	return out
}
