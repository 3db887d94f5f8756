package shader

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-render/engine/renderer/device"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gogpu/naga/ir"
)

// ResourceKind distinguishes the non-buffer resources a stage binds.
type ResourceKind int

const (
	ResourceTexture ResourceKind = iota
	ResourceSampler
)

// Resource is a texture or sampler declared by a stage.
type Resource struct {
	Name    string
	Kind    ResourceKind
	Group   uint32
	Binding uint32
}

// Reflection is everything a Program needs to know about one compiled stage.
type Reflection struct {
	Stage device.Stage

	// Buffers are the stage's constant buffers in declaration order. Slots are assigned by
	// the Program at registration.
	Buffers []ConstantBufferLayout

	// Resources are the stage's textures and samplers in declaration order.
	Resources []Resource

	// VertexLayouts is the vertex input layout of a vertex stage's entry point, nil otherwise.
	VertexLayouts []wgpu.VertexBufferLayout

	// Workgroup is the workgroup size of a compute stage's entry point.
	Workgroup [3]uint32
}

// Reflector enumerates the constant buffers and resources of a compiled stage.
type Reflector interface {
	// Reflect inspects one compiled stage.
	//
	// Parameters:
	//   - bin: the compiled stage
	//
	// Returns:
	//   - *Reflection: the stage's resources
	//   - error: a *ReflectionError if the stage cannot be reflected
	Reflect(bin *Binary) (*Reflection, error)
}

// nagaReflector reflects over the naga IR carried by a Binary.
type nagaReflector struct{}

var _ Reflector = nagaReflector{}

// NewReflector creates a Reflector over naga IR.
//
// Returns:
//   - Reflector: the reflector
func NewReflector() Reflector {
	return nagaReflector{}
}

func (nagaReflector) Reflect(bin *Binary) (*Reflection, error) {
	fail := func(err error) (*Reflection, error) {
		return nil, &ReflectionError{Path: bin.Path, Stage: bin.Stage, Err: err}
	}
	if bin.Module == nil {
		return fail(errors.New("binary carries no IR module"))
	}
	module := bin.Module
	r := &Reflection{Stage: bin.Stage}

	for _, gv := range module.GlobalVariables {
		switch gv.Space {
		case ir.SpaceUniform:
			layout, err := uniformLayout(module, gv)
			if err != nil {
				return fail(err)
			}
			layout.Stage = bin.Stage
			r.Buffers = append(r.Buffers, layout)
		case ir.SpaceHandle:
			res := Resource{Name: gv.Name}
			if gv.Binding != nil {
				res.Group = gv.Binding.Group
				res.Binding = gv.Binding.Binding
			}
			if int(gv.Type) >= len(module.Types) {
				return fail(fmt.Errorf("global %q: type handle %d out of range", gv.Name, gv.Type))
			}
			switch module.Types[gv.Type].Inner.(type) {
			case ir.ImageType:
				res.Kind = ResourceTexture
			case ir.SamplerType:
				res.Kind = ResourceSampler
			default:
				continue
			}
			r.Resources = append(r.Resources, res)
		}
	}

	ep, fn, err := findEntryPoint(module, bin.EntryPoint)
	if err != nil {
		return fail(err)
	}
	r.Workgroup = ep.Workgroup
	if bin.Stage == device.StageVertex {
		layouts, err := vertexLayouts(module, fn)
		if err != nil {
			return fail(err)
		}
		r.VertexLayouts = layouts
	}

	return r, nil
}

// uniformLayout builds the layout of one var<uniform> global. A struct-typed uniform
// contributes one variable per member; any other type contributes a single variable named
// after the global. A variable's size is its natural size, cut short at the next member's
// offset when the lowering packed members tighter than the natural size.
func uniformLayout(module *ir.Module, gv ir.GlobalVariable) (ConstantBufferLayout, error) {
	layout := ConstantBufferLayout{Name: gv.Name}
	if gv.Binding != nil {
		layout.Group = gv.Binding.Group
		layout.Binding = gv.Binding.Binding
	}
	if int(gv.Type) >= len(module.Types) {
		return layout, fmt.Errorf("uniform %q: type handle %d out of range", gv.Name, gv.Type)
	}

	st, ok := module.Types[gv.Type].Inner.(ir.StructType)
	if !ok {
		size, err := naturalSize(module, gv.Type)
		if err != nil {
			return layout, fmt.Errorf("uniform %q: %w", gv.Name, err)
		}
		layout.Size = int(size)
		layout.Variables = []Variable{{Name: gv.Name, Offset: 0, Size: int(size)}}
		return layout, nil
	}

	layout.Size = int(st.Span)
	for i, m := range st.Members {
		size, err := naturalSize(module, m.Type)
		if err != nil {
			return layout, fmt.Errorf("uniform %q member %q: %w", gv.Name, m.Name, err)
		}
		limit := st.Span
		if i+1 < len(st.Members) {
			limit = st.Members[i+1].Offset
		}
		if m.Offset+size > limit && limit >= m.Offset {
			size = limit - m.Offset
		}
		layout.Variables = append(layout.Variables, Variable{
			Name:   m.Name,
			Offset: int(m.Offset),
			Size:   int(size),
		})
	}
	return layout, nil
}

func findEntryPoint(module *ir.Module, name string) (ir.EntryPoint, *ir.Function, error) {
	for _, ep := range module.EntryPoints {
		if ep.Name != name {
			continue
		}
		if int(ep.Function) >= len(module.Functions) {
			return ep, nil, fmt.Errorf("entry point %q: function handle %d out of range", name, ep.Function)
		}
		return ep, &module.Functions[ep.Function], nil
	}
	return ir.EntryPoint{}, nil, fmt.Errorf("entry point %q not found", name)
}

// vertexLayouts derives a single interleaved vertex buffer layout from the @location inputs of
// a vertex entry point, following argument and member declaration order. Built-in inputs are
// skipped. Returns nil when the entry point takes no located inputs.
func vertexLayouts(module *ir.Module, fn *ir.Function) ([]wgpu.VertexBufferLayout, error) {
	var attrs []wgpu.VertexAttribute
	var offset uint64

	add := func(name string, binding *ir.Binding, typ ir.TypeHandle) error {
		if binding == nil {
			return nil
		}
		loc, ok := (*binding).(ir.LocationBinding)
		if !ok {
			return nil
		}
		info, ok := vertexFormatOf(module, typ)
		if !ok {
			return fmt.Errorf("vertex input %q at location %d has no vertex format", name, loc.Location)
		}
		attrs = append(attrs, wgpu.VertexAttribute{
			Format:         info.format,
			Offset:         offset,
			ShaderLocation: loc.Location,
		})
		offset += info.size
		return nil
	}

	for _, arg := range fn.Arguments {
		if arg.Binding != nil {
			if err := add(arg.Name, arg.Binding, arg.Type); err != nil {
				return nil, err
			}
			continue
		}
		if int(arg.Type) >= len(module.Types) {
			return nil, fmt.Errorf("vertex input %q: type handle %d out of range", arg.Name, arg.Type)
		}
		st, ok := module.Types[arg.Type].Inner.(ir.StructType)
		if !ok {
			continue
		}
		for _, m := range st.Members {
			if err := add(m.Name, m.Binding, m.Type); err != nil {
				return nil, err
			}
		}
	}

	if len(attrs) == 0 {
		return nil, nil
	}
	return []wgpu.VertexBufferLayout{{
		ArrayStride: offset,
		StepMode:    wgpu.VertexStepModeVertex,
		Attributes:  attrs,
	}}, nil
}
