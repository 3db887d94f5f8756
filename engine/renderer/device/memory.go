package device

import (
	"fmt"
	"sync"
)

// BindPoint addresses a stage slot.
type BindPoint struct {
	Stage Stage
	Slot  int
}

// Upload records the bytes published by one Unmap.
type Upload struct {
	Label string
	Data  []byte
}

// DrawCall records one Draw or DrawIndexed issued on a MemoryDevice.
type DrawCall struct {
	Indexed       bool
	Mesh          MeshID
	VertexCount   int
	InstanceCount int
	Modules       []Module
}

// MemoryBuffer is the Buffer implementation of MemoryDevice.
type MemoryBuffer struct {
	label    string
	data     []byte
	mapped   bool
	releases int
}

var _ Buffer = &MemoryBuffer{}

func (b *MemoryBuffer) Label() string { return b.label }
func (b *MemoryBuffer) Size() int     { return len(b.data) }

// Release marks the buffer released. Repeated calls are counted but otherwise ignored.
func (b *MemoryBuffer) Release() {
	b.releases++
}

// Releases returns how many times Release was called.
func (b *MemoryBuffer) Releases() int { return b.releases }

// Contents returns a copy of the last published contents.
func (b *MemoryBuffer) Contents() []byte {
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// MemoryModule is the Module implementation of MemoryDevice.
type MemoryModule struct {
	label      string
	stage      Stage
	entryPoint string
	source     string
	bindings   []ModuleBinding
	releases   int
}

var _ Module = &MemoryModule{}

func (m *MemoryModule) Label() string      { return m.label }
func (m *MemoryModule) Stage() Stage       { return m.stage }
func (m *MemoryModule) EntryPoint() string { return m.entryPoint }
func (m *MemoryModule) Source() string     { return m.source }
func (m *MemoryModule) Release()           { m.releases++ }
func (m *MemoryModule) Releases() int      { return m.releases }

// Bindings returns the bindings the module was created with.
func (m *MemoryModule) Bindings() []ModuleBinding {
	return append([]ModuleBinding(nil), m.bindings...)
}

// MemoryDevice is a headless Device that keeps buffer contents in memory and records every
// upload, bind and draw. It backs the test-suite and the oxyshade inspector.
type MemoryDevice struct {
	mu *sync.Mutex

	maxBuffers int

	buffers []*MemoryBuffer
	modules []*MemoryModule
	staging map[*MemoryBuffer][]byte
	uploads []Upload

	constantBuffers map[BindPoint]Buffer
	textures        map[BindPoint]TextureID
	samplers        map[BindPoint]SamplerID
	boundModules    []Module

	renderTarget    RenderTargetID
	hasRenderTarget bool
	depthBound      bool

	draws []DrawCall

	textureLabels []string
	samplerLabels []string
	renderTargets int
}

var (
	_ Device          = &MemoryDevice{}
	_ ResourceFactory = &MemoryDevice{}
)

// NewMemoryDevice creates an empty MemoryDevice.
//
// Parameters:
//   - options: functional options that configure the device
//
// Returns:
//   - *MemoryDevice: the new device
func NewMemoryDevice(options ...MemoryDeviceBuilderOption) *MemoryDevice {
	d := &MemoryDevice{
		mu:              &sync.Mutex{},
		maxBuffers:      -1,
		staging:         make(map[*MemoryBuffer][]byte),
		constantBuffers: make(map[BindPoint]Buffer),
		textures:        make(map[BindPoint]TextureID),
		samplers:        make(map[BindPoint]SamplerID),
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

func (d *MemoryDevice) CreateModule(desc ModuleDescriptor) (Module, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m := &MemoryModule{
		label:      desc.Label,
		stage:      desc.Stage,
		entryPoint: desc.EntryPoint,
		source:     desc.Source,
		bindings:   append([]ModuleBinding(nil), desc.Bindings...),
	}
	d.modules = append(d.modules, m)
	return m, nil
}

func (d *MemoryDevice) CreateBuffer(desc BufferDescriptor) (Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if desc.Size <= 0 {
		return nil, fmt.Errorf("failed to create buffer %q: invalid size %d", desc.Label, desc.Size)
	}
	if d.maxBuffers >= 0 && len(d.buffers) >= d.maxBuffers {
		return nil, fmt.Errorf("failed to create buffer %q: device limit of %d buffers reached", desc.Label, d.maxBuffers)
	}
	b := &MemoryBuffer{
		label: desc.Label,
		data:  make([]byte, desc.Size),
	}
	d.buffers = append(d.buffers, b)
	return b, nil
}

func (d *MemoryDevice) Map(buf Buffer) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := d.buffer(buf)
	if err != nil {
		return nil, err
	}
	if b.mapped {
		return nil, fmt.Errorf("map %q: %w", b.label, ErrAlreadyMapped)
	}
	b.mapped = true
	// Map discards: hand out fresh bytes so stale contents never leak into an upload.
	staging := make([]byte, len(b.data))
	d.staging[b] = staging
	return staging, nil
}

func (d *MemoryDevice) Unmap(buf Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := d.buffer(buf)
	if err != nil {
		return err
	}
	if !b.mapped {
		return fmt.Errorf("unmap %q: %w", b.label, ErrNotMapped)
	}
	staging := d.staging[b]
	delete(d.staging, b)
	b.mapped = false
	copy(b.data, staging)
	d.uploads = append(d.uploads, Upload{Label: b.label, Data: b.Contents()})
	return nil
}

func (d *MemoryDevice) BindConstantBuffer(stage Stage, slot int, buf Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.buffer(buf); err != nil {
		return err
	}
	d.constantBuffers[BindPoint{Stage: stage, Slot: slot}] = buf
	return nil
}

func (d *MemoryDevice) BindModules(modules []Module) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, m := range modules {
		if mm, ok := m.(*MemoryModule); ok && mm.releases > 0 {
			return fmt.Errorf("bind module %q: %w", mm.label, ErrReleased)
		}
	}
	d.boundModules = append([]Module(nil), modules...)
	return nil
}

func (d *MemoryDevice) BindTexture(stage Stage, slot int, tex TextureID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.textures[BindPoint{Stage: stage, Slot: slot}] = tex
	return nil
}

func (d *MemoryDevice) BindSampler(stage Stage, slot int, s SamplerID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.samplers[BindPoint{Stage: stage, Slot: slot}] = s
	return nil
}

func (d *MemoryDevice) BindRenderTarget(rt RenderTargetID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.renderTarget = rt
	d.hasRenderTarget = true
	d.depthBound = true
	return nil
}

func (d *MemoryDevice) UnbindDepthTarget() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.hasRenderTarget {
		return fmt.Errorf("unbind depth target: %w", ErrNoRenderPass)
	}
	d.depthBound = false
	return nil
}

func (d *MemoryDevice) Draw(vertexCount, instanceCount int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.draws = append(d.draws, DrawCall{
		VertexCount:   vertexCount,
		InstanceCount: instanceCount,
		Modules:       append([]Module(nil), d.boundModules...),
	})
	return nil
}

func (d *MemoryDevice) DrawIndexed(mesh MeshID, instanceCount int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.draws = append(d.draws, DrawCall{
		Indexed:       true,
		Mesh:          mesh,
		InstanceCount: instanceCount,
		Modules:       append([]Module(nil), d.boundModules...),
	})
	return nil
}

// CreateTexture records the label and hands out the next texture handle. Pixel data is not kept.
func (d *MemoryDevice) CreateTexture(label string, width, height uint32, pixels []byte) (TextureID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if want := int(width) * int(height) * 4; len(pixels) != want {
		return -1, fmt.Errorf("failed to create texture %q: %d bytes of pixel data, want %d", label, len(pixels), want)
	}
	d.textureLabels = append(d.textureLabels, label)
	return TextureID(len(d.textureLabels) - 1), nil
}

func (d *MemoryDevice) CreateSampler(desc SamplerDescriptor) (SamplerID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.samplerLabels = append(d.samplerLabels, desc.Label)
	return SamplerID(len(d.samplerLabels) - 1), nil
}

// CreateRenderTarget hands out the next render target handle and registers its color target as
// a texture labelled "<label> Color".
func (d *MemoryDevice) CreateRenderTarget(label string, width, height uint32) (RenderTargetID, TextureID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if width == 0 || height == 0 {
		return -1, -1, fmt.Errorf("failed to create render target %q: empty size %dx%d", label, width, height)
	}
	d.renderTargets++
	d.textureLabels = append(d.textureLabels, label+" Color")
	return RenderTargetID(d.renderTargets - 1), TextureID(len(d.textureLabels) - 1), nil
}

// TextureLabel returns the label a texture handle was created with.
func (d *MemoryDevice) TextureLabel(tex TextureID) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if tex < 0 || int(tex) >= len(d.textureLabels) {
		return "", false
	}
	return d.textureLabels[tex], true
}

// Release is a no-op; a MemoryDevice owns no external objects.
func (d *MemoryDevice) Release() {}

// Buffers returns every buffer created so far, in creation order.
func (d *MemoryDevice) Buffers() []*MemoryBuffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*MemoryBuffer(nil), d.buffers...)
}

// Modules returns every module created so far, in creation order.
func (d *MemoryDevice) Modules() []*MemoryModule {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*MemoryModule(nil), d.modules...)
}

// Uploads returns every Unmap upload in order.
func (d *MemoryDevice) Uploads() []Upload {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Upload(nil), d.uploads...)
}

// ResetUploads forgets the recorded uploads.
func (d *MemoryDevice) ResetUploads() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uploads = nil
}

// ConstantBuffer returns the buffer bound at (stage, slot), or nil.
func (d *MemoryDevice) ConstantBuffer(stage Stage, slot int) Buffer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.constantBuffers[BindPoint{Stage: stage, Slot: slot}]
}

// Texture returns the texture bound at (stage, slot).
func (d *MemoryDevice) Texture(stage Stage, slot int) (TextureID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[BindPoint{Stage: stage, Slot: slot}]
	return t, ok
}

// Sampler returns the sampler bound at (stage, slot).
func (d *MemoryDevice) Sampler(stage Stage, slot int) (SamplerID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.samplers[BindPoint{Stage: stage, Slot: slot}]
	return s, ok
}

// BoundModules returns the modules made active by the last BindModules.
func (d *MemoryDevice) BoundModules() []Module {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Module(nil), d.boundModules...)
}

// RenderTarget returns the bound render target and whether its depth target is attached.
func (d *MemoryDevice) RenderTarget() (rt RenderTargetID, depth bool, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.renderTarget, d.depthBound, d.hasRenderTarget
}

// Draws returns every draw issued so far.
func (d *MemoryDevice) Draws() []DrawCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DrawCall(nil), d.draws...)
}

func (d *MemoryDevice) buffer(buf Buffer) (*MemoryBuffer, error) {
	b, ok := buf.(*MemoryBuffer)
	if !ok || b == nil {
		return nil, fmt.Errorf("buffer %T was not created by a memory device", buf)
	}
	if b.releases > 0 {
		return nil, fmt.Errorf("buffer %q: %w", b.label, ErrReleased)
	}
	return b, nil
}
