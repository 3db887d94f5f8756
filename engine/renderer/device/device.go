// Package device defines the graphics capability the shader core needs from a GPU API.
//
// The core never talks to a concrete graphics API directly. Programs create their modules and
// constant buffers through a Device, write constant data through Map / Unmap, and bind buffers,
// textures and samplers at (stage, slot) bind points. Two implementations ship with the engine:
// MemoryDevice, a headless recorder used by tests and tooling, and WGPUDevice, backed by WebGPU.
package device

import (
	"errors"
	"fmt"
)

// Stage identifies a programmable pipeline stage.
type Stage int

const (
	StageVertex Stage = iota
	StageGeometry
	StagePixel
	StageCompute
)

// Stages lists every stage in registration order.
var Stages = []Stage{StageVertex, StageGeometry, StagePixel, StageCompute}

// String returns the short name of the stage.
func (s Stage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageGeometry:
		return "geometry"
	case StagePixel:
		return "pixel"
	case StageCompute:
		return "compute"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

var (
	// ErrReleased is returned when a released resource is used.
	ErrReleased = errors.New("device resource already released")

	// ErrNotMapped is returned by Unmap for a buffer that is not currently mapped.
	ErrNotMapped = errors.New("buffer is not mapped")

	// ErrAlreadyMapped is returned by Map for a buffer that is already mapped.
	ErrAlreadyMapped = errors.New("buffer is already mapped")

	// ErrNoRenderPass is returned by draw calls when the device has no open render pass.
	ErrNoRenderPass = errors.New("no render pass is open")

	// ErrUnboundResource is returned by draw calls when a binding of the active modules has
	// nothing bound to it.
	ErrUnboundResource = errors.New("shader binding has no resource bound")

	// ErrUnknownMesh is returned by DrawIndexed for a mesh the device does not own.
	ErrUnknownMesh = errors.New("unknown mesh")
)

// BindingKind is the kind of resource behind a module binding.
type BindingKind int

const (
	BindingConstantBuffer BindingKind = iota
	BindingTexture
	BindingSampler
)

// String returns the short name of the binding kind.
func (k BindingKind) String() string {
	switch k {
	case BindingConstantBuffer:
		return "constant buffer"
	case BindingTexture:
		return "texture"
	case BindingSampler:
		return "sampler"
	default:
		return fmt.Sprintf("binding(%d)", int(k))
	}
}

// ModuleBinding maps a stage slot of one kind to the shader's @group / @binding.
type ModuleBinding struct {
	Kind    BindingKind
	Slot    int
	Group   uint32
	Binding uint32
}

// TextureID is an opaque handle to a texture view owned by the device.
type TextureID int

// SamplerID is an opaque handle to a sampler owned by the device.
type SamplerID int

// RenderTargetID is an opaque handle to a render target owned by the device.
type RenderTargetID int

// MeshID is an opaque handle to vertex and index buffers owned by the device.
type MeshID int

// Resource is anything created by a Device that must be released exactly once.
type Resource interface {
	// Release frees the underlying GPU object. Releasing twice is a no-op.
	Release()
}

// Buffer is a GPU constant buffer.
type Buffer interface {
	Resource

	// Label returns the debug label given at creation.
	//
	// Returns:
	//   - string: the debug label
	Label() string

	// Size returns the byte size of the buffer.
	//
	// Returns:
	//   - int: the byte size
	Size() int
}

// Module is a compiled shader stage loaded on the device.
type Module interface {
	Resource

	// Label returns the debug label given at creation.
	//
	// Returns:
	//   - string: the debug label
	Label() string

	// Stage returns the pipeline stage the module runs in.
	//
	// Returns:
	//   - Stage: the module's stage
	Stage() Stage

	// EntryPoint returns the entry point function name.
	//
	// Returns:
	//   - string: the entry point name
	EntryPoint() string
}

// BufferDescriptor describes a constant buffer to create.
type BufferDescriptor struct {
	Label string
	Size  int
}

// ModuleDescriptor describes a shader stage to load.
// Source carries the pre-processed shading-language text and Code the compiled binary;
// a device uses whichever representation its API consumes. Bindings lists where each bound
// slot of the stage lives in the shader's bind groups.
type ModuleDescriptor struct {
	Label      string
	Stage      Stage
	EntryPoint string
	Source     string
	Code       []byte
	Bindings   []ModuleBinding
}

// Device is the graphics capability consumed by shader programs and the renderer.
// All methods are called from the render thread.
type Device interface {
	// CreateModule loads a compiled shader stage.
	//
	// Parameters:
	//   - desc: the module descriptor
	//
	// Returns:
	//   - Module: the loaded module
	//   - error: an error if the device rejected the module
	CreateModule(desc ModuleDescriptor) (Module, error)

	// CreateBuffer creates a CPU-writable constant buffer of desc.Size bytes.
	//
	// Parameters:
	//   - desc: the buffer descriptor
	//
	// Returns:
	//   - Buffer: the created buffer
	//   - error: an error if the buffer could not be created
	CreateBuffer(desc BufferDescriptor) (Buffer, error)

	// Map returns a writable view of the buffer's full contents. The previous contents are
	// discarded; callers must write every byte before calling Unmap.
	//
	// Parameters:
	//   - buf: the buffer to map
	//
	// Returns:
	//   - []byte: a slice of exactly buf.Size() bytes
	//   - error: an error if the buffer cannot be mapped
	Map(buf Buffer) ([]byte, error)

	// Unmap publishes the bytes written since Map to the GPU.
	//
	// Parameters:
	//   - buf: the mapped buffer
	//
	// Returns:
	//   - error: an error if the buffer is not mapped or the upload failed
	Unmap(buf Buffer) error

	// BindConstantBuffer binds a constant buffer at a stage slot.
	//
	// Parameters:
	//   - stage: the pipeline stage
	//   - slot: the constant buffer slot within the stage
	//   - buf: the buffer to bind
	//
	// Returns:
	//   - error: an error if the bind failed
	BindConstantBuffer(stage Stage, slot int, buf Buffer) error

	// BindModules makes the given modules the active shader stages.
	//
	// Parameters:
	//   - modules: the stage modules of one program
	//
	// Returns:
	//   - error: an error if the bind failed
	BindModules(modules []Module) error

	// BindTexture binds a texture view at a stage slot.
	//
	// Parameters:
	//   - stage: the pipeline stage
	//   - slot: the texture slot within the stage
	//   - tex: the texture handle
	//
	// Returns:
	//   - error: an error if the texture is unknown
	BindTexture(stage Stage, slot int, tex TextureID) error

	// BindSampler binds a sampler at a stage slot.
	//
	// Parameters:
	//   - stage: the pipeline stage
	//   - slot: the sampler slot within the stage
	//   - s: the sampler handle
	//
	// Returns:
	//   - error: an error if the sampler is unknown
	BindSampler(stage Stage, slot int, s SamplerID) error

	// BindRenderTarget makes rt the current color (and depth) target.
	//
	// Parameters:
	//   - rt: the render target handle
	//
	// Returns:
	//   - error: an error if the render target is unknown
	BindRenderTarget(rt RenderTargetID) error

	// UnbindDepthTarget detaches the depth target from the current render target.
	//
	// Returns:
	//   - error: an error if no render target is bound
	UnbindDepthTarget() error

	// Draw issues a non-indexed draw with the current bindings.
	//
	// Parameters:
	//   - vertexCount: the number of vertices
	//   - instanceCount: the number of instances
	//
	// Returns:
	//   - error: an error if the draw could not be issued
	Draw(vertexCount, instanceCount int) error

	// DrawIndexed issues an indexed draw of a mesh with the current bindings.
	//
	// Parameters:
	//   - mesh: the mesh handle
	//   - instanceCount: the number of instances
	//
	// Returns:
	//   - error: an error if the draw could not be issued
	DrawIndexed(mesh MeshID, instanceCount int) error

	// Release frees every object owned by the device itself.
	Release()
}

// ResourceFactory creates the textures, samplers and render targets that render passes bind by
// handle. Both device implementations provide it.
type ResourceFactory interface {
	// CreateTexture creates a sampled 2D texture from RGBA8 pixels.
	//
	// Parameters:
	//   - label: the debug label
	//   - width: the width in pixels
	//   - height: the height in pixels
	//   - pixels: tightly packed RGBA8 pixel data
	//
	// Returns:
	//   - TextureID: the texture handle
	//   - error: an error if the texture could not be created
	CreateTexture(label string, width, height uint32, pixels []byte) (TextureID, error)

	// CreateSampler creates a sampler, applying defaults to zero fields.
	//
	// Parameters:
	//   - desc: the sampler descriptor
	//
	// Returns:
	//   - SamplerID: the sampler handle
	//   - error: an error if the sampler could not be created
	CreateSampler(desc SamplerDescriptor) (SamplerID, error)

	// CreateRenderTarget creates an offscreen color target with a depth attachment.
	//
	// Parameters:
	//   - label: the debug label
	//   - width: the width in pixels
	//   - height: the height in pixels
	//
	// Returns:
	//   - RenderTargetID: the render target handle
	//   - TextureID: the handle of the color target for sampling in later passes
	//   - error: an error if the target could not be created
	CreateRenderTarget(label string, width, height uint32) (RenderTargetID, TextureID, error)
}
