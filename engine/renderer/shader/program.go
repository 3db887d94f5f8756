package shader

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/constant"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/device"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/go-gl/mathgl/mgl32"
)

// FatalHandler is invoked for unrecoverable conditions: reflection failures, pool exhaustion,
// typed size mismatches and packing mismatches. The default handler panics with the error.
type FatalHandler func(err error)

// DefaultFatalHandler panics with err.
func DefaultFatalHandler(err error) {
	panic(err)
}

// BindPoint is a named texture or sampler slot in one stage.
type BindPoint struct {
	Name  string
	Stage device.Stage
	Slot  int
}

// BufferState is a snapshot of one constant buffer binding.
type BufferState struct {
	Name  string
	Stage device.Stage
	Slot  int
	Size  int
	Dirty bool
}

// constantBuffer is a program's GPU binding for one reflected layout.
type constantBuffer struct {
	layout int
	buffer device.Buffer
	dirty  bool
}

// constantMapping ties a pool constant to the buffer and layout variable it is packed into.
type constantMapping struct {
	buffer   int
	variable int
	id       constant.ID
}

// program is the implementation of the Program interface.
type program struct {
	desc      Descriptor
	device    device.Device
	pool      *constant.Pool
	reflector Reflector
	logger    *slog.Logger
	fatal     FatalHandler

	binaries     []*Binary
	modules      []device.Module
	layouts      []ConstantBufferLayout
	buffers      []constantBuffer
	inputLayout  []wgpu.VertexBufferLayout
	textures     []BindPoint
	samplers     []BindPoint
	dependencies []string

	// mappings is in declaration order, which is the packing order.
	mappings []constantMapping
	// sortedMappings is ordered by constant name and only used for diagnostics.
	sortedMappings []constantMapping
	// byName resolves a constant name to its index in mappings; the first registration wins.
	byName map[string]int

	released bool
}

// Program is a compiled, reflected shader program: its device modules, constant buffers and
// the named constants packed into them. A Program is used from the render thread only.
type Program interface {
	// Name returns the program's logical name.
	//
	// Returns:
	//   - string: the logical name
	Name() string

	// Descriptor returns the descriptor the program was built from.
	//
	// Returns:
	//   - Descriptor: the descriptor
	Descriptor() Descriptor

	// SetConstant copies data into the named constant and marks its buffer dirty. Only the
	// buffer that owns the constant is marked.
	//
	// Parameters:
	//   - name: the constant's variable name
	//   - data: the new value, exactly as many bytes as the declared size
	//
	// Returns:
	//   - error: ErrUnknownConstant if no constant has that name (nothing is modified),
	//     ErrSizeMismatch if len(data) differs from the declared size
	SetConstant(name string, data []byte) error

	// SetConstantMatrix writes a 4x4 matrix (64 bytes, column-major).
	// A declared size other than 64 is fatal.
	//
	// Parameters:
	//   - name: the constant's variable name
	//   - m: the matrix
	//
	// Returns:
	//   - error: ErrUnknownConstant or ErrSizeMismatch
	SetConstantMatrix(name string, m mgl32.Mat4) error

	// SetConstantVector3 writes a 3-component vector (12 bytes). A declared size other than 12 is fatal.
	//
	// Parameters:
	//   - name: the constant's variable name
	//   - v: the vector
	//
	// Returns:
	//   - error: ErrUnknownConstant or ErrSizeMismatch
	SetConstantVector3(name string, v mgl32.Vec3) error

	// SetConstantVector4 writes a 4-component vector (16 bytes). A declared size other than 16 is fatal.
	//
	// Parameters:
	//   - name: the constant's variable name
	//   - v: the vector
	//
	// Returns:
	//   - error: ErrUnknownConstant or ErrSizeMismatch
	SetConstantVector4(name string, v mgl32.Vec4) error

	// SetConstantScalar writes a float (4 bytes). A declared size other than 4 is fatal.
	//
	// Parameters:
	//   - name: the constant's variable name
	//   - v: the value
	//
	// Returns:
	//   - error: ErrUnknownConstant or ErrSizeMismatch
	SetConstantScalar(name string, v float32) error

	// SetConstantInt writes a signed integer (4 bytes). A declared size other than 4 is fatal.
	//
	// Parameters:
	//   - name: the constant's variable name
	//   - v: the value
	//
	// Returns:
	//   - error: ErrUnknownConstant or ErrSizeMismatch
	SetConstantInt(name string, v int32) error

	// SetConstantStruct writes the little-endian encoding of a fixed-size value such as a
	// struct or an array of matrices. An encoding whose length differs from the declared size
	// is fatal.
	//
	// Parameters:
	//   - name: the constant's variable name
	//   - v: the value, or a pointer to it
	//
	// Returns:
	//   - error: ErrUnknownConstant or ErrSizeMismatch
	SetConstantStruct(name string, v any) error

	// ClearDirtyFlags marks every constant buffer dirty so the next Commit uploads all of them.
	// Called each time the program becomes the active program.
	ClearDirtyFlags()

	// Commit packs and uploads every dirty constant buffer and binds it at its stage slot.
	// Clean buffers are neither uploaded nor re-bound.
	//
	// Returns:
	//   - error: a device error, or ErrPackingMismatch (after the fatal handler ran)
	Commit() error

	// Layouts returns the reflected constant buffer layouts in registration order.
	//
	// Returns:
	//   - []ConstantBufferLayout: the layouts
	Layouts() []ConstantBufferLayout

	// Buffers returns a snapshot of every constant buffer binding in registration order.
	//
	// Returns:
	//   - []BufferState: the buffer states
	Buffers() []BufferState

	// Textures returns the texture bind points in registration order.
	//
	// Returns:
	//   - []BindPoint: the texture bind points
	Textures() []BindPoint

	// Samplers returns the sampler bind points in registration order.
	//
	// Returns:
	//   - []BindPoint: the sampler bind points
	Samplers() []BindPoint

	// TextureSlot returns the first registered texture bind point with the given name.
	//
	// Parameters:
	//   - name: the texture's variable name
	//
	// Returns:
	//   - BindPoint: the bind point
	//   - bool: false if the program declares no such texture
	TextureSlot(name string) (BindPoint, bool)

	// SamplerSlot returns the first registered sampler bind point with the given name.
	//
	// Parameters:
	//   - name: the sampler's variable name
	//
	// Returns:
	//   - BindPoint: the bind point
	//   - bool: false if the program declares no such sampler
	SamplerSlot(name string) (BindPoint, bool)

	// InputLayout returns the vertex input layout derived from the vertex stage.
	//
	// Returns:
	//   - []wgpu.VertexBufferLayout: the layout, nil if the program takes no vertex inputs
	InputLayout() []wgpu.VertexBufferLayout

	// Modules returns the program's device modules in stage order.
	//
	// Returns:
	//   - []device.Module: the modules
	Modules() []device.Module

	// Binaries returns the compiled stages in stage order.
	//
	// Returns:
	//   - []*Binary: the binaries
	Binaries() []*Binary

	// Dependencies returns every source file the program was compiled from, without duplicates.
	//
	// Returns:
	//   - []string: paths relative to the shader root
	Dependencies() []string

	// Constant returns a copy of the named constant's current bytes.
	//
	// Parameters:
	//   - name: the constant's variable name
	//
	// Returns:
	//   - []byte: the value
	//   - bool: false if no constant has that name
	Constant(name string) ([]byte, bool)

	// ConstantNames returns the resolvable constant names in declaration order.
	//
	// Returns:
	//   - []string: the names
	ConstantNames() []string

	// LogLayouts writes every constant buffer layout and the name-sorted constant table to the
	// program's logger.
	LogLayouts()

	// Release releases every device resource the program owns. Repeated calls are no-ops.
	Release()
}

var _ Program = &program{}

// NewProgram reflects the compiled stages of desc, creates one device module per stage and one
// constant buffer per reflected layout, and allocates one pool constant per layout variable.
// All buffers start dirty.
//
// Reflection failures, malformed layouts and pool exhaustion invoke the fatal handler before
// the error is returned. On any failure every device resource created so far is released.
//
// Parameters:
//   - desc: the program descriptor
//   - binaries: the compiled stages of desc, any order
//   - dev: the device that owns modules and buffers
//   - options: functional options that configure the program
//
// Returns:
//   - Program: the program
//   - error: an error if the program could not be built
func NewProgram(desc Descriptor, binaries []*Binary, dev device.Device, options ...ProgramBuilderOption) (_ Program, err error) {
	p := &program{
		desc:      desc,
		device:    dev,
		reflector: NewReflector(),
		fatal:     DefaultFatalHandler,
		byName:    make(map[string]int),
	}
	for _, opt := range options {
		opt(p)
	}
	if p.pool == nil {
		p.pool = constant.NewPool(constant.DefaultCapacity)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "shader", "program", desc.Name)

	p.binaries = slices.Clone(binaries)
	slices.SortStableFunc(p.binaries, func(a, b *Binary) int {
		return int(a.Stage) - int(b.Stage)
	})

	var rel device.Releaser
	defer func() {
		if err != nil {
			rel.ReleaseAll()
		}
	}()

	for _, bin := range p.binaries {
		refl, err := p.reflector.Reflect(bin)
		if err != nil {
			var re *ReflectionError
			if !errors.As(err, &re) {
				err = &ReflectionError{Path: bin.Path, Stage: bin.Stage, Err: err}
			}
			p.fatal(err)
			return nil, err
		}

		mod, err := dev.CreateModule(device.ModuleDescriptor{
			Label:      fmt.Sprintf("%s %s", desc.Name, bin.Stage),
			Stage:      bin.Stage,
			EntryPoint: bin.EntryPoint,
			Source:     bin.Source,
			Code:       bin.Code,
			Bindings:   moduleBindings(refl),
		})
		if err != nil {
			return nil, fmt.Errorf("shader %q: %w", desc.Name, err)
		}
		rel.Track(mod)
		p.modules = append(p.modules, mod)

		if err := p.registerBuffers(bin, refl, &rel); err != nil {
			return nil, err
		}
		p.registerResources(bin.Stage, refl)
		if bin.Stage == device.StageVertex {
			p.inputLayout = refl.VertexLayouts
		}
		for _, dep := range bin.Dependencies {
			if !slices.Contains(p.dependencies, dep) {
				p.dependencies = append(p.dependencies, dep)
			}
		}
	}

	p.sortedMappings = slices.Clone(p.mappings)
	slices.SortStableFunc(p.sortedMappings, func(a, b constantMapping) int {
		return strings.Compare(p.pool.Get(a.id).Name, p.pool.Get(b.id).Name)
	})

	rel.Forget()
	return p, nil
}

// registerBuffers assigns stage slots from 0 in declaration order, creates one device buffer per
// layout and allocates a pool constant per variable.
func (p *program) registerBuffers(bin *Binary, refl *Reflection, rel *device.Releaser) error {
	for slot, layout := range refl.Buffers {
		layout.Stage = bin.Stage
		layout.Slot = slot
		layout.Variables = slices.Clone(layout.Variables)
		if err := layout.Validate(); err != nil {
			err = &ReflectionError{Path: bin.Path, Stage: bin.Stage, Err: err}
			p.fatal(err)
			return err
		}

		buf, err := p.device.CreateBuffer(device.BufferDescriptor{
			Label: fmt.Sprintf("%s %s %s", p.desc.Name, bin.Stage, layout.Name),
			Size:  layout.Size,
		})
		if err != nil {
			return fmt.Errorf("shader %q: %w", p.desc.Name, err)
		}
		rel.Track(buf)

		p.layouts = append(p.layouts, layout)
		p.buffers = append(p.buffers, constantBuffer{
			layout: len(p.layouts) - 1,
			buffer: buf,
			dirty:  true,
		})
		bufIdx := len(p.buffers) - 1

		for vi, v := range layout.Variables {
			id, err := p.pool.Allocate(v.Name, v.Size)
			if err != nil {
				err = fmt.Errorf("shader %q: %w", p.desc.Name, err)
				p.fatal(err)
				return err
			}
			p.mappings = append(p.mappings, constantMapping{buffer: bufIdx, variable: vi, id: id})
			if _, dup := p.byName[v.Name]; dup {
				p.logger.Warn("duplicate constant name, first declaration wins",
					"constant", v.Name, "stage", bin.Stage.String(), "buffer", layout.Name)
				continue
			}
			p.byName[v.Name] = len(p.mappings) - 1
		}
	}
	return nil
}

// moduleBindings maps the stage slots a Program assigns to the shader's @group / @binding.
// Slots follow registerBuffers and registerResources.
func moduleBindings(refl *Reflection) []device.ModuleBinding {
	var out []device.ModuleBinding
	for slot, layout := range refl.Buffers {
		out = append(out, device.ModuleBinding{
			Kind:    device.BindingConstantBuffer,
			Slot:    slot,
			Group:   layout.Group,
			Binding: layout.Binding,
		})
	}
	texSlot, sampSlot := 0, 0
	for _, res := range refl.Resources {
		b := device.ModuleBinding{Group: res.Group, Binding: res.Binding}
		switch res.Kind {
		case ResourceTexture:
			b.Kind, b.Slot = device.BindingTexture, texSlot
			texSlot++
		case ResourceSampler:
			b.Kind, b.Slot = device.BindingSampler, sampSlot
			sampSlot++
		}
		out = append(out, b)
	}
	return out
}

// registerResources assigns texture and sampler slots per stage from 0 in declaration order.
func (p *program) registerResources(stage device.Stage, refl *Reflection) {
	texSlot, sampSlot := 0, 0
	for _, res := range refl.Resources {
		switch res.Kind {
		case ResourceTexture:
			p.textures = append(p.textures, BindPoint{Name: res.Name, Stage: stage, Slot: texSlot})
			texSlot++
		case ResourceSampler:
			p.samplers = append(p.samplers, BindPoint{Name: res.Name, Stage: stage, Slot: sampSlot})
			sampSlot++
		}
	}
}

func (p *program) Name() string {
	return p.desc.Name
}

func (p *program) Descriptor() Descriptor {
	return p.desc.clone()
}

func (p *program) SetConstant(name string, data []byte) error {
	idx, ok := p.byName[name]
	if !ok {
		p.logger.Debug("constant not found", "constant", name)
		return fmt.Errorf("shader %q: constant %q: %w", p.desc.Name, name, ErrUnknownConstant)
	}
	m := p.mappings[idx]
	c := p.pool.Get(m.id)
	if len(data) != c.Size() {
		return fmt.Errorf("shader %q: constant %q is %d bytes, got %d: %w", p.desc.Name, name, c.Size(), len(data), ErrSizeMismatch)
	}
	copy(c.Data, data)
	p.buffers[m.buffer].dirty = true
	return nil
}

// setTyped writes a typed value; a size mismatch means the caller and the shader disagree on
// the constant's type, which is fatal.
func (p *program) setTyped(name string, data []byte) error {
	err := p.SetConstant(name, data)
	if errors.Is(err, ErrSizeMismatch) {
		p.fatal(err)
	}
	return err
}

func (p *program) SetConstantMatrix(name string, m mgl32.Mat4) error {
	return p.setTyped(name, common.Mat4Bytes(m))
}

func (p *program) SetConstantVector3(name string, v mgl32.Vec3) error {
	return p.setTyped(name, common.Vec3Bytes(v))
}

func (p *program) SetConstantVector4(name string, v mgl32.Vec4) error {
	return p.setTyped(name, common.Vec4Bytes(v))
}

func (p *program) SetConstantScalar(name string, v float32) error {
	return p.setTyped(name, common.Float32Bytes(v))
}

func (p *program) SetConstantInt(name string, v int32) error {
	return p.setTyped(name, common.Int32Bytes(v))
}

func (p *program) SetConstantStruct(name string, v any) error {
	data, err := common.ValueBytes(v)
	if err != nil {
		err = fmt.Errorf("shader %q: constant %q: %v: %w", p.desc.Name, name, err, ErrSizeMismatch)
		p.fatal(err)
		return err
	}
	return p.setTyped(name, data)
}

func (p *program) ClearDirtyFlags() {
	for i := range p.buffers {
		p.buffers[i].dirty = true
	}
}

func (p *program) Commit() error {
	if p.released {
		return fmt.Errorf("shader %q: %w", p.desc.Name, ErrReleased)
	}
	for bi := range p.buffers {
		b := &p.buffers[bi]
		if !b.dirty {
			continue
		}
		layout := p.layouts[b.layout]

		data, err := p.device.Map(b.buffer)
		if err != nil {
			return fmt.Errorf("shader %q: buffer %q: %w", p.desc.Name, layout.Name, err)
		}
		written, packErr := p.pack(bi, layout, data)
		if packErr == nil && written != layout.Size {
			packErr = fmt.Errorf("shader %q: buffer %q: wrote %d of %d bytes: %w", p.desc.Name, layout.Name, written, layout.Size, ErrPackingMismatch)
		}
		if packErr != nil {
			// A partially packed buffer never reaches the device.
			clear(data)
		}
		if err := p.device.Unmap(b.buffer); err != nil {
			return fmt.Errorf("shader %q: buffer %q: %w", p.desc.Name, layout.Name, err)
		}
		if packErr != nil {
			p.fatal(packErr)
			return packErr
		}

		if err := p.device.BindConstantBuffer(layout.Stage, layout.Slot, b.buffer); err != nil {
			return fmt.Errorf("shader %q: buffer %q: %w", p.desc.Name, layout.Name, err)
		}
		b.dirty = false
	}
	return nil
}

// pack writes the constants of buffer bi into data in stored order, each at its reflected
// offset, zero-filling the gaps and the tail. It returns the number of bytes written.
func (p *program) pack(bi int, layout ConstantBufferLayout, data []byte) (int, error) {
	written := 0
	for _, m := range p.mappings {
		if m.buffer != bi {
			continue
		}
		v := layout.Variables[m.variable]
		c := p.pool.Get(m.id)
		if v.Offset < written || v.Offset+c.Size() > len(data) {
			return written, fmt.Errorf("shader %q: buffer %q: constant %q (%d bytes at %d) does not fit after %d of %d bytes: %w",
				p.desc.Name, layout.Name, c.Name, c.Size(), v.Offset, written, len(data), ErrPackingMismatch)
		}
		clear(data[written:v.Offset])
		written = v.Offset
		written += copy(data[written:], c.Data)
	}
	if written < len(data) {
		clear(data[written:])
		written = len(data)
	}
	return written, nil
}

func (p *program) Layouts() []ConstantBufferLayout {
	out := make([]ConstantBufferLayout, len(p.layouts))
	for i, l := range p.layouts {
		l.Variables = slices.Clone(l.Variables)
		out[i] = l
	}
	return out
}

func (p *program) Buffers() []BufferState {
	out := make([]BufferState, len(p.buffers))
	for i, b := range p.buffers {
		l := p.layouts[b.layout]
		out[i] = BufferState{Name: l.Name, Stage: l.Stage, Slot: l.Slot, Size: l.Size, Dirty: b.dirty}
	}
	return out
}

func (p *program) Textures() []BindPoint {
	return slices.Clone(p.textures)
}

func (p *program) Samplers() []BindPoint {
	return slices.Clone(p.samplers)
}

func (p *program) TextureSlot(name string) (BindPoint, bool) {
	return findBindPoint(p.textures, name)
}

func (p *program) SamplerSlot(name string) (BindPoint, bool) {
	return findBindPoint(p.samplers, name)
}

func (p *program) InputLayout() []wgpu.VertexBufferLayout {
	return p.inputLayout
}

func (p *program) Modules() []device.Module {
	return slices.Clone(p.modules)
}

func (p *program) Binaries() []*Binary {
	return slices.Clone(p.binaries)
}

func (p *program) Dependencies() []string {
	return slices.Clone(p.dependencies)
}

func (p *program) Constant(name string) ([]byte, bool) {
	idx, ok := p.byName[name]
	if !ok {
		return nil, false
	}
	return slices.Clone(p.pool.Get(p.mappings[idx].id).Data), true
}

func (p *program) ConstantNames() []string {
	names := make([]string, 0, len(p.byName))
	for i, m := range p.mappings {
		name := p.pool.Get(m.id).Name
		if p.byName[name] == i {
			names = append(names, name)
		}
	}
	return names
}

func (p *program) LogLayouts() {
	for _, l := range p.layouts {
		p.logger.Info("constant buffer",
			"buffer", l.Name, "stage", l.Stage.String(), "slot", l.Slot, "size", l.Size, "variables", len(l.Variables))
		for _, v := range l.Variables {
			p.logger.Info("constant buffer variable",
				"buffer", l.Name, "variable", v.Name, "offset", v.Offset, "size", v.Size)
		}
	}
	for _, m := range p.sortedMappings {
		c := p.pool.Get(m.id)
		l := p.layouts[p.buffers[m.buffer].layout]
		p.logger.Info("constant", "constant", c.Name, "buffer", l.Name, "stage", l.Stage.String(), "slot", l.Slot, "size", c.Size())
	}
	for _, t := range p.textures {
		p.logger.Info("texture", "texture", t.Name, "stage", t.Stage.String(), "slot", t.Slot)
	}
	for _, s := range p.samplers {
		p.logger.Info("sampler", "sampler", s.Name, "stage", s.Stage.String(), "slot", s.Slot)
	}
}

func (p *program) Release() {
	if p.released {
		return
	}
	p.released = true
	for _, b := range p.buffers {
		b.buffer.Release()
	}
	for _, m := range p.modules {
		m.Release()
	}
}

func findBindPoint(points []BindPoint, name string) (BindPoint, bool) {
	for _, bp := range points {
		if bp.Name == name {
			return bp, true
		}
	}
	return BindPoint{}, false
}
