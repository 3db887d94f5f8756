package device

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/cogentcore/webgpu/wgpu"
)

// uniformAlignment is the byte granularity WebGPU uniform buffers are allocated with.
const uniformAlignment = 16

// SamplerDescriptor configures a sampler created by WGPUDevice. Zero fields take the defaults
// used by the material system: repeat addressing, linear filtering, LOD clamp [0, 32].
type SamplerDescriptor struct {
	Label         string
	AddressModeU  wgpu.AddressMode
	AddressModeV  wgpu.AddressMode
	AddressModeW  wgpu.AddressMode
	MagFilter     wgpu.FilterMode
	MinFilter     wgpu.FilterMode
	MipmapFilter  wgpu.MipmapFilterMode
	LodMinClamp   float32
	LodMaxClamp   float32
	MaxAnisotropy uint16
	Compare       wgpu.CompareFunction
}

type wgpuBuffer struct {
	label    string
	size     int
	buffer   *wgpu.Buffer
	staging  []byte
	mapped   bool
	released bool
}

var _ Buffer = &wgpuBuffer{}

func (b *wgpuBuffer) Label() string { return b.label }
func (b *wgpuBuffer) Size() int     { return b.size }

func (b *wgpuBuffer) Release() {
	if b.released {
		return
	}
	b.released = true
	b.buffer.Release()
	b.buffer = nil
}

type wgpuModule struct {
	device     *WGPUDevice
	label      string
	stage      Stage
	entryPoint string
	bindings   []ModuleBinding
	module     *wgpu.ShaderModule
}

var _ Module = &wgpuModule{}

func (m *wgpuModule) Label() string      { return m.label }
func (m *wgpuModule) Stage() Stage       { return m.stage }
func (m *wgpuModule) EntryPoint() string { return m.entryPoint }

// Release frees the shader module and every cached pipeline built from it.
func (m *wgpuModule) Release() {
	if m.module == nil {
		return
	}
	m.device.forgetModule(m)
	m.module.Release()
	m.module = nil
}

type wgpuRenderTarget struct {
	colorTexture *wgpu.Texture
	colorView    *wgpu.TextureView
	depthTexture *wgpu.Texture
	depthView    *wgpu.TextureView
}

func (t *wgpuRenderTarget) release() {
	t.colorView.Release()
	t.colorTexture.Release()
	t.depthView.Release()
	t.depthTexture.Release()
}

// WGPUDevice is the WebGPU implementation of Device.
//
// Constant buffers are uniform buffers with a CPU staging copy: Map hands out the staging slice
// and Unmap uploads it with Queue.WriteBuffer. Bind calls record the resources into per-stage
// slot tables. Draw encodes one render pass over the bound offscreen render target: the
// pipeline of the bound modules is created on first use and cached, and its bind groups are
// assembled from the slot tables through each module's bindings. The device owns no
// presentation surface and has no thread affinity.
type WGPUDevice struct {
	mu *sync.Mutex

	label                string
	forceFallbackAdapter bool

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	textureViews  []*wgpu.TextureView
	textures      []*wgpu.Texture
	samplers      []*wgpu.Sampler
	renderTargets []*wgpuRenderTarget

	constantBuffers map[BindPoint]*wgpuBuffer
	boundTextures   map[BindPoint]TextureID
	boundSamplers   map[BindPoint]SamplerID
	boundModules    []Module
	renderTarget    RenderTargetID
	hasRenderTarget bool
	depthBound      bool
	clearColor      bool
	clearDepth      bool

	pipelines map[wgpuPipelineKey]*wgpuPipeline
}

var (
	_ Device          = &WGPUDevice{}
	_ ResourceFactory = &WGPUDevice{}
)

// NewWGPUDevice requests a WebGPU adapter and device without a presentation surface.
//
// Parameters:
//   - options: functional options that configure the device
//
// Returns:
//   - *WGPUDevice: the new device
//   - error: an error if no adapter or device could be acquired
func NewWGPUDevice(options ...WGPUDeviceBuilderOption) (*WGPUDevice, error) {
	d := &WGPUDevice{
		mu:              &sync.Mutex{},
		label:           "Main Device",
		constantBuffers: make(map[BindPoint]*wgpuBuffer),
		boundTextures:   make(map[BindPoint]TextureID),
		boundSamplers:   make(map[BindPoint]SamplerID),
		pipelines:       make(map[wgpuPipelineKey]*wgpuPipeline),
	}
	for _, opt := range options {
		opt(d)
	}

	d.instance = wgpu.CreateInstance(nil)
	a, err := d.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: d.forceFallbackAdapter,
	})
	if err != nil {
		d.instance.Release()
		return nil, fmt.Errorf("failed to request adapter: %w", err)
	}
	d.adapter = a

	dev, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: d.label,
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: wgpu.DefaultLimits(),
		},
	})
	if err != nil {
		d.adapter.Release()
		d.instance.Release()
		return nil, fmt.Errorf("failed to request device: %w", err)
	}
	d.device = dev
	d.queue = dev.GetQueue()

	return d, nil
}

func (d *WGPUDevice) CreateModule(desc ModuleDescriptor) (Module, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sm, err := d.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: desc.Label,
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: desc.Source,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create shader module %q: %w", desc.Label, err)
	}
	return &wgpuModule{
		device:     d,
		label:      desc.Label,
		stage:      desc.Stage,
		entryPoint: desc.EntryPoint,
		bindings:   append([]ModuleBinding(nil), desc.Bindings...),
		module:     sm,
	}, nil
}

func (d *WGPUDevice) CreateBuffer(desc BufferDescriptor) (Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if desc.Size <= 0 {
		return nil, fmt.Errorf("failed to create buffer %q: invalid size %d", desc.Label, desc.Size)
	}
	gpuSize := (desc.Size + uniformAlignment - 1) / uniformAlignment * uniformAlignment
	buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            desc.Label,
		Size:             uint64(gpuSize),
		Usage:            wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer %q: %w", desc.Label, err)
	}
	return &wgpuBuffer{
		label:   desc.Label,
		size:    desc.Size,
		buffer:  buf,
		staging: make([]byte, gpuSize),
	}, nil
}

func (d *WGPUDevice) Map(buf Buffer) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := wgpuBufferOf(buf)
	if err != nil {
		return nil, err
	}
	if b.mapped {
		return nil, fmt.Errorf("map %q: %w", b.label, ErrAlreadyMapped)
	}
	b.mapped = true
	return b.staging[:b.size], nil
}

func (d *WGPUDevice) Unmap(buf Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := wgpuBufferOf(buf)
	if err != nil {
		return err
	}
	if !b.mapped {
		return fmt.Errorf("unmap %q: %w", b.label, ErrNotMapped)
	}
	b.mapped = false
	if err := d.queue.WriteBuffer(b.buffer, 0, b.staging); err != nil {
		return fmt.Errorf("failed to upload buffer %q: %w", b.label, err)
	}
	return nil
}

func (d *WGPUDevice) BindConstantBuffer(stage Stage, slot int, buf Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	b, err := wgpuBufferOf(buf)
	if err != nil {
		return err
	}
	d.constantBuffers[BindPoint{Stage: stage, Slot: slot}] = b
	return nil
}

func (d *WGPUDevice) BindModules(modules []Module) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, m := range modules {
		wm, ok := m.(*wgpuModule)
		if !ok {
			return fmt.Errorf("module %T was not created by a WebGPU device", m)
		}
		if wm.module == nil {
			return fmt.Errorf("bind module %q: %w", wm.label, ErrReleased)
		}
	}
	d.boundModules = append([]Module(nil), modules...)
	return nil
}

func (d *WGPUDevice) BindTexture(stage Stage, slot int, tex TextureID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if int(tex) < 0 || int(tex) >= len(d.textureViews) {
		return fmt.Errorf("bind texture: unknown texture %d", tex)
	}
	d.boundTextures[BindPoint{Stage: stage, Slot: slot}] = tex
	return nil
}

func (d *WGPUDevice) BindSampler(stage Stage, slot int, s SamplerID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if int(s) < 0 || int(s) >= len(d.samplers) {
		return fmt.Errorf("bind sampler: unknown sampler %d", s)
	}
	d.boundSamplers[BindPoint{Stage: stage, Slot: slot}] = s
	return nil
}

func (d *WGPUDevice) BindRenderTarget(rt RenderTargetID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if int(rt) < 0 || int(rt) >= len(d.renderTargets) {
		return fmt.Errorf("bind render target: unknown render target %d", rt)
	}
	d.renderTarget = rt
	d.hasRenderTarget = true
	d.depthBound = true
	d.clearColor = true
	d.clearDepth = true
	return nil
}

func (d *WGPUDevice) UnbindDepthTarget() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.hasRenderTarget {
		return fmt.Errorf("unbind depth target: %w", ErrNoRenderPass)
	}
	d.depthBound = false
	return nil
}

func (d *WGPUDevice) Draw(vertexCount, instanceCount int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.encodeDraw(vertexCount, instanceCount); err != nil {
		return fmt.Errorf("draw %d vertices x %d: %w", vertexCount, instanceCount, err)
	}
	return nil
}

// DrawIndexed fails with ErrUnknownMesh: the device creates no vertex or index buffers, so it
// owns no meshes.
func (d *WGPUDevice) DrawIndexed(mesh MeshID, instanceCount int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.hasRenderTarget {
		return fmt.Errorf("draw mesh %d x %d: %w", mesh, instanceCount, ErrNoRenderPass)
	}
	return fmt.Errorf("draw mesh %d x %d: %w", mesh, instanceCount, ErrUnknownMesh)
}

// CreateTexture creates an RGBA8 sRGB texture, uploads pixels and returns a handle to its view.
//
// Parameters:
//   - label: the debug label
//   - width: the texture width in pixels
//   - height: the texture height in pixels
//   - pixels: tightly packed RGBA8 pixel data
//
// Returns:
//   - TextureID: the handle of the texture view
//   - error: an error if the texture could not be created
func (d *WGPUDevice) CreateTexture(label string, width, height uint32, pixels []byte) (TextureID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     label,
		Usage:     wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
		Format:        wgpu.TextureFormatRGBA8UnormSrgb,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return -1, fmt.Errorf("failed to create texture %q: %w", label, err)
	}

	err = d.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  tex,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		pixels,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  width * 4,
			RowsPerImage: height,
		},
		&wgpu.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
	)
	if err != nil {
		tex.Release()
		return -1, fmt.Errorf("failed to upload texture %q: %w", label, err)
	}

	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return -1, fmt.Errorf("failed to create texture view %q: %w", label, err)
	}
	d.textures = append(d.textures, tex)
	d.textureViews = append(d.textureViews, view)
	return TextureID(len(d.textureViews) - 1), nil
}

// CreateSampler creates a sampler, applying defaults to zero fields.
//
// Parameters:
//   - desc: the sampler descriptor
//
// Returns:
//   - SamplerID: the handle of the sampler
//   - error: an error if the sampler could not be created
func (d *WGPUDevice) CreateSampler(desc SamplerDescriptor) (SamplerID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	samp, err := d.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         desc.Label,
		AddressModeU:  common.Coalesce(desc.AddressModeU, wgpu.AddressModeRepeat),
		AddressModeV:  common.Coalesce(desc.AddressModeV, wgpu.AddressModeRepeat),
		AddressModeW:  common.Coalesce(desc.AddressModeW, wgpu.AddressModeRepeat),
		MagFilter:     common.Coalesce(desc.MagFilter, wgpu.FilterModeLinear),
		MinFilter:     common.Coalesce(desc.MinFilter, wgpu.FilterModeLinear),
		MipmapFilter:  common.Coalesce(desc.MipmapFilter, wgpu.MipmapFilterModeLinear),
		LodMinClamp:   common.Coalesce(desc.LodMinClamp, 0.0),
		LodMaxClamp:   common.Coalesce(desc.LodMaxClamp, 32.0),
		MaxAnisotropy: common.Coalesce(desc.MaxAnisotropy, 1),
		Compare:       desc.Compare,
	})
	if err != nil {
		return -1, fmt.Errorf("failed to create sampler %q: %w", desc.Label, err)
	}
	d.samplers = append(d.samplers, samp)
	return SamplerID(len(d.samplers) - 1), nil
}

// CreateRenderTarget creates an offscreen RGBA8 color target with a Depth32Float depth target.
// The color target is also registered as a texture so later passes can sample it.
//
// Parameters:
//   - label: the debug label
//   - width: the target width in pixels
//   - height: the target height in pixels
//
// Returns:
//   - RenderTargetID: the handle of the render target
//   - TextureID: the handle of the color target's view for sampling
//   - error: an error if the textures could not be created
func (d *WGPUDevice) CreateRenderTarget(label string, width, height uint32) (RenderTargetID, TextureID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	size := wgpu.Extent3D{
		Width:              width,
		Height:             height,
		DepthOrArrayLayers: 1,
	}
	color, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         label + " Color",
		Size:          size,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatRGBA8Unorm,
		Usage:         wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding,
	})
	if err != nil {
		return -1, -1, fmt.Errorf("failed to create render target %q: %w", label, err)
	}
	colorView, err := color.CreateView(nil)
	if err != nil {
		color.Release()
		return -1, -1, fmt.Errorf("failed to create render target view %q: %w", label, err)
	}
	depth, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         label + " Depth",
		Size:          size,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatDepth32Float,
		Usage:         wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding,
	})
	if err != nil {
		colorView.Release()
		color.Release()
		return -1, -1, fmt.Errorf("failed to create depth target %q: %w", label, err)
	}
	depthView, err := depth.CreateView(nil)
	if err != nil {
		depth.Release()
		colorView.Release()
		color.Release()
		return -1, -1, fmt.Errorf("failed to create depth target view %q: %w", label, err)
	}

	d.renderTargets = append(d.renderTargets, &wgpuRenderTarget{
		colorTexture: color,
		colorView:    colorView,
		depthTexture: depth,
		depthView:    depthView,
	})
	d.textureViews = append(d.textureViews, colorView)
	return RenderTargetID(len(d.renderTargets) - 1), TextureID(len(d.textureViews) - 1), nil
}

// Release frees every pipeline, texture, sampler and render target the device created, then
// the device, adapter and instance. Buffers and modules are owned by their programs.
func (d *WGPUDevice) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, p := range d.pipelines {
		p.release()
		delete(d.pipelines, key)
	}

	for _, rt := range d.renderTargets {
		rt.release()
	}
	for i, tex := range d.textures {
		d.textureViews[i].Release()
		tex.Release()
	}
	for _, s := range d.samplers {
		s.Release()
	}
	d.renderTargets = nil
	d.textures = nil
	d.textureViews = nil
	d.samplers = nil

	if d.queue != nil {
		d.queue.Release()
		d.queue = nil
	}
	if d.device != nil {
		d.device.Release()
		d.device = nil
	}
	if d.adapter != nil {
		d.adapter.Release()
		d.adapter = nil
	}
	if d.instance != nil {
		d.instance.Release()
		d.instance = nil
	}
}

func wgpuBufferOf(buf Buffer) (*wgpuBuffer, error) {
	b, ok := buf.(*wgpuBuffer)
	if !ok || b == nil {
		return nil, fmt.Errorf("buffer %T was not created by a WebGPU device", buf)
	}
	if b.released {
		return nil, fmt.Errorf("buffer %q: %w", b.label, ErrReleased)
	}
	return b, nil
}
