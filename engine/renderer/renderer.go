package renderer

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/Carmen-Shannon/oxy-render/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/registry"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/shader"
	"github.com/go-gl/mathgl/mgl32"
)

var (
	// ErrNoActiveShader is returned by constant, resource and draw calls made before SetShader.
	ErrNoActiveShader = errors.New("no active shader")

	// ErrNoResourceFactory is returned when the device cannot create textures or render targets.
	ErrNoResourceFactory = errors.New("device cannot create resources")
)

// renderer is the implementation of the Renderer interface.
type renderer struct {
	mu *sync.Mutex

	backendType RendererBackendType
	device      device.Device
	ownsDevice  bool
	registry    registry.Registry
	watcher     *registry.Watcher
	logger      *slog.Logger

	// Pre-creation config collected from builder options
	forceFallbackAdapter bool
	shaderFS             fs.FS
	shaderDir            string
	hotReload            bool
	compiler             shader.Compiler
	registryOptions      []registry.RegistryBuilderOption
	watcherOptions       []registry.WatcherBuilderOption

	active   registry.ShaderID
	bound    shader.Program
	textures map[string]device.TextureID
	samplers map[string]device.SamplerID

	exited bool
}

// Renderer is the name-based shader API used by render passes.
//
// A pass selects a program with SetShader, writes constants and resources by the names the
// shader source declares, and draws. Constants are uploaded lazily: every draw commits the
// active program's dirty constant buffers first. All methods must be called from the render
// thread.
type Renderer interface {
	// Device returns the device the renderer draws with.
	//
	// Returns:
	//   - device.Device: the device
	Device() device.Device

	// Registry returns the shader registry.
	//
	// Returns:
	//   - registry.Registry: the registry
	Registry() registry.Registry

	// CreateShader returns the id of the program registered under desc.Name, compiling it on
	// first use.
	//
	// Parameters:
	//   - desc: the program descriptor
	//
	// Returns:
	//   - registry.ShaderID: the program id
	//   - error: a compile or descriptor error
	CreateShader(desc shader.Descriptor) (registry.ShaderID, error)

	// PreloadShaders compiles and registers every descriptor, compiling stages in parallel.
	//
	// Parameters:
	//   - descs: the descriptors
	//
	// Returns:
	//   - error: every failure, joined
	PreloadShaders(descs ...shader.Descriptor) error

	// SetShader makes a program active: its modules are bound and every one of its constant
	// buffers is marked dirty so the next draw uploads all of them. On error the previously
	// active program stays bound.
	//
	// Parameters:
	//   - id: the program id
	//
	// Returns:
	//   - error: registry.ErrUnknownShader or a device error
	SetShader(id registry.ShaderID) error

	// ActiveShader returns the id of the active program.
	//
	// Returns:
	//   - registry.ShaderID: the id
	//   - bool: false if no program is active
	ActiveShader() (registry.ShaderID, bool)

	// SetConstant writes raw bytes to a constant of the active program. Unknown names are
	// logged and ignored.
	//
	// Parameters:
	//   - name: the constant name
	//   - data: the value, exactly the declared size
	//
	// Returns:
	//   - error: ErrNoActiveShader or shader.ErrSizeMismatch
	SetConstant(name string, data []byte) error

	// SetConstant1f writes a float constant of the active program.
	//
	// Parameters:
	//   - name: the constant name
	//   - v: the value
	//
	// Returns:
	//   - error: ErrNoActiveShader or shader.ErrSizeMismatch
	SetConstant1f(name string, v float32) error

	// SetConstant1i writes a signed integer constant of the active program.
	//
	// Parameters:
	//   - name: the constant name
	//   - v: the value
	//
	// Returns:
	//   - error: ErrNoActiveShader or shader.ErrSizeMismatch
	SetConstant1i(name string, v int32) error

	// SetConstant3f writes a vec3 constant of the active program.
	//
	// Parameters:
	//   - name: the constant name
	//   - v: the value
	//
	// Returns:
	//   - error: ErrNoActiveShader or shader.ErrSizeMismatch
	SetConstant3f(name string, v mgl32.Vec3) error

	// SetConstant4f writes a vec4 constant of the active program.
	//
	// Parameters:
	//   - name: the constant name
	//   - v: the value
	//
	// Returns:
	//   - error: ErrNoActiveShader or shader.ErrSizeMismatch
	SetConstant4f(name string, v mgl32.Vec4) error

	// SetConstant4x4f writes a 4x4 matrix constant of the active program.
	//
	// Parameters:
	//   - name: the constant name
	//   - m: the value
	//
	// Returns:
	//   - error: ErrNoActiveShader or shader.ErrSizeMismatch
	SetConstant4x4f(name string, m mgl32.Mat4) error

	// SetConstantStruct writes the little-endian encoding of a fixed-size value.
	//
	// Parameters:
	//   - name: the constant name
	//   - v: the value
	//
	// Returns:
	//   - error: ErrNoActiveShader or shader.ErrSizeMismatch
	SetConstantStruct(name string, v any) error

	// SetTexture binds a texture to every stage slot the active program declares under name.
	// Unknown names are logged and ignored.
	//
	// Parameters:
	//   - name: the texture variable name
	//   - tex: the texture handle
	//
	// Returns:
	//   - error: ErrNoActiveShader or a device error
	SetTexture(name string, tex device.TextureID) error

	// SetSampler binds a sampler to every stage slot the active program declares under name.
	// Unknown names are logged and ignored.
	//
	// Parameters:
	//   - name: the sampler variable name
	//   - s: the sampler handle
	//
	// Returns:
	//   - error: ErrNoActiveShader or a device error
	SetSampler(name string, s device.SamplerID) error

	// CreateTexture creates a sampled RGBA8 texture.
	//
	// Parameters:
	//   - label: the debug label
	//   - width: the width in pixels
	//   - height: the height in pixels
	//   - pixels: tightly packed RGBA8 pixel data
	//
	// Returns:
	//   - device.TextureID: the texture handle
	//   - error: ErrNoResourceFactory or a device error
	CreateTexture(label string, width, height uint32, pixels []byte) (device.TextureID, error)

	// CreateSampler creates a sampler.
	//
	// Parameters:
	//   - desc: the sampler descriptor
	//
	// Returns:
	//   - device.SamplerID: the sampler handle
	//   - error: ErrNoResourceFactory or a device error
	CreateSampler(desc device.SamplerDescriptor) (device.SamplerID, error)

	// CreateRenderTarget creates an offscreen color target with a depth attachment.
	//
	// Parameters:
	//   - label: the debug label
	//   - width: the width in pixels
	//   - height: the height in pixels
	//
	// Returns:
	//   - device.RenderTargetID: the render target handle
	//   - device.TextureID: the color target as a texture
	//   - error: ErrNoResourceFactory or a device error
	CreateRenderTarget(label string, width, height uint32) (device.RenderTargetID, device.TextureID, error)

	// BindRenderTarget makes rt the current color and depth target.
	//
	// Parameters:
	//   - rt: the render target handle
	//
	// Returns:
	//   - error: a device error
	BindRenderTarget(rt device.RenderTargetID) error

	// UnbindDepthTarget detaches the depth target of the current render target.
	//
	// Returns:
	//   - error: a device error
	UnbindDepthTarget() error

	// Apply uploads and binds the active program's dirty constant buffers.
	//
	// Returns:
	//   - error: ErrNoActiveShader or a commit error
	Apply() error

	// Draw applies pending constants and issues a non-indexed draw.
	//
	// Parameters:
	//   - vertexCount: the number of vertices
	//   - instanceCount: the number of instances
	//
	// Returns:
	//   - error: ErrNoActiveShader, a commit error or a device error
	Draw(vertexCount, instanceCount int) error

	// DrawIndexed applies pending constants and issues an indexed draw of a mesh.
	//
	// Parameters:
	//   - mesh: the mesh handle
	//   - instanceCount: the number of instances
	//
	// Returns:
	//   - error: ErrNoActiveShader, a commit error or a device error
	DrawIndexed(mesh device.MeshID, instanceCount int) error

	// PollShaderFiles reloads programs whose source files changed on disk. It is a no-op when
	// hot reload is disabled.
	//
	// Returns:
	//   - []error: reload failures; the affected programs keep their previous version
	PollShaderFiles() []error

	// Exit releases every program, stops the file watcher and releases the device if the
	// renderer created it. Repeated calls are no-ops.
	Exit()
}

var _ Renderer = &renderer{}

// NewRenderer creates a Renderer on a new device of the given backend type, or on the device
// passed with WithDevice.
//
// Parameters:
//   - backendType: the device backend
//   - options: variadic list of RendererBuilderOption functions to configure the Renderer
//
// Returns:
//   - Renderer: the renderer
//   - error: an error if the device or the file watcher could not be created
func NewRenderer(backendType RendererBackendType, options ...RendererBuilderOption) (Renderer, error) {
	r := &renderer{
		mu:          &sync.Mutex{},
		backendType: backendType,
		active:      registry.InvalidShaderID,
		textures:    make(map[string]device.TextureID),
		samplers:    make(map[string]device.SamplerID),
	}

	// Apply options first so config flags (e.g. forceFallbackAdapter) are
	// available before the backend requests a GPU adapter.
	for _, opt := range options {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "renderer")

	if r.shaderFS == nil {
		dir := r.shaderDir
		if dir == "" {
			dir = "."
		}
		r.shaderFS = os.DirFS(dir)
	}
	if r.compiler == nil {
		r.compiler = shader.NewCompiler(r.shaderFS)
	}

	if r.device == nil {
		dev, err := newDevice(backendType, r.forceFallbackAdapter)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s device: %w", backendType, err)
		}
		r.device = dev
		r.ownsDevice = true
	}

	regOpts := append([]registry.RegistryBuilderOption{registry.WithLogger(r.logger)}, r.registryOptions...)
	r.registry = registry.NewRegistry(r.device, r.compiler, regOpts...)

	if r.hotReload && r.shaderDir != "" {
		watchOpts := append([]registry.WatcherBuilderOption{registry.WithWatcherLogger(r.logger)}, r.watcherOptions...)
		w, err := registry.NewWatcher(r.registry, r.shaderDir, watchOpts...)
		if err != nil {
			if r.ownsDevice {
				r.device.Release()
			}
			return nil, err
		}
		r.watcher = w
	}
	return r, nil
}

func (r *renderer) Device() device.Device {
	return r.device
}

func (r *renderer) Registry() registry.Registry {
	return r.registry
}

func (r *renderer) CreateShader(desc shader.Descriptor) (registry.ShaderID, error) {
	id, _, err := r.registry.GetOrCreate(desc)
	r.syncWatcher()
	return id, err
}

func (r *renderer) PreloadShaders(descs ...shader.Descriptor) error {
	err := r.registry.Preload(descs...)
	r.syncWatcher()
	return err
}

// syncWatcher watches the source directories of newly registered programs, so edits made
// before the next PollShaderFiles are not missed.
func (r *renderer) syncWatcher() {
	if r.watcher != nil {
		r.watcher.Sync()
	}
}

func (r *renderer) SetShader(id registry.ShaderID) error {
	p, ok := r.registry.Get(id)
	if !ok {
		return fmt.Errorf("set shader %d: %w", id, registry.ErrUnknownShader)
	}
	if err := r.bind(p); err != nil {
		return err
	}
	r.active = id
	clear(r.textures)
	clear(r.samplers)
	return nil
}

// bind makes p the bound program and marks all its buffers for upload.
func (r *renderer) bind(p shader.Program) error {
	if err := r.device.BindModules(p.Modules()); err != nil {
		return fmt.Errorf("set shader %q: %w", p.Name(), err)
	}
	p.ClearDirtyFlags()
	r.bound = p
	return nil
}

// current returns the active program. A program replaced by a hot reload is rebound and gets the
// textures and samplers set since activation.
func (r *renderer) current() (shader.Program, error) {
	if r.active == registry.InvalidShaderID {
		return nil, ErrNoActiveShader
	}
	p, ok := r.registry.Get(r.active)
	if !ok {
		return nil, ErrNoActiveShader
	}
	if p == r.bound {
		return p, nil
	}
	if err := r.bind(p); err != nil {
		return nil, err
	}
	for name, tex := range r.textures {
		if err := r.bindTexture(p, name, tex); err != nil {
			return nil, err
		}
	}
	for name, s := range r.samplers {
		if err := r.bindSampler(p, name, s); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (r *renderer) ActiveShader() (registry.ShaderID, bool) {
	return r.active, r.active != registry.InvalidShaderID
}

// setConstant runs one program write and drops unknown-name errors, which the program already logged.
func (r *renderer) setConstant(set func(p shader.Program) error) error {
	p, err := r.current()
	if err != nil {
		return err
	}
	if err := set(p); err != nil && !errors.Is(err, shader.ErrUnknownConstant) {
		return err
	}
	return nil
}

func (r *renderer) SetConstant(name string, data []byte) error {
	return r.setConstant(func(p shader.Program) error { return p.SetConstant(name, data) })
}

func (r *renderer) SetConstant1f(name string, v float32) error {
	return r.setConstant(func(p shader.Program) error { return p.SetConstantScalar(name, v) })
}

func (r *renderer) SetConstant1i(name string, v int32) error {
	return r.setConstant(func(p shader.Program) error { return p.SetConstantInt(name, v) })
}

func (r *renderer) SetConstant3f(name string, v mgl32.Vec3) error {
	return r.setConstant(func(p shader.Program) error { return p.SetConstantVector3(name, v) })
}

func (r *renderer) SetConstant4f(name string, v mgl32.Vec4) error {
	return r.setConstant(func(p shader.Program) error { return p.SetConstantVector4(name, v) })
}

func (r *renderer) SetConstant4x4f(name string, m mgl32.Mat4) error {
	return r.setConstant(func(p shader.Program) error { return p.SetConstantMatrix(name, m) })
}

func (r *renderer) SetConstantStruct(name string, v any) error {
	return r.setConstant(func(p shader.Program) error { return p.SetConstantStruct(name, v) })
}

func (r *renderer) SetTexture(name string, tex device.TextureID) error {
	p, err := r.current()
	if err != nil {
		return err
	}
	r.textures[name] = tex
	return r.bindTexture(p, name, tex)
}

func (r *renderer) bindTexture(p shader.Program, name string, tex device.TextureID) error {
	found := false
	for _, bp := range p.Textures() {
		if bp.Name != name {
			continue
		}
		found = true
		if err := r.device.BindTexture(bp.Stage, bp.Slot, tex); err != nil {
			return fmt.Errorf("shader %q: texture %q: %w", p.Name(), name, err)
		}
	}
	if !found {
		r.logger.Debug("texture not found", "shader", p.Name(), "texture", name)
	}
	return nil
}

func (r *renderer) SetSampler(name string, s device.SamplerID) error {
	p, err := r.current()
	if err != nil {
		return err
	}
	r.samplers[name] = s
	return r.bindSampler(p, name, s)
}

func (r *renderer) bindSampler(p shader.Program, name string, s device.SamplerID) error {
	found := false
	for _, bp := range p.Samplers() {
		if bp.Name != name {
			continue
		}
		found = true
		if err := r.device.BindSampler(bp.Stage, bp.Slot, s); err != nil {
			return fmt.Errorf("shader %q: sampler %q: %w", p.Name(), name, err)
		}
	}
	if !found {
		r.logger.Debug("sampler not found", "shader", p.Name(), "sampler", name)
	}
	return nil
}

func (r *renderer) factory() (device.ResourceFactory, error) {
	f, ok := r.device.(device.ResourceFactory)
	if !ok {
		return nil, fmt.Errorf("%T: %w", r.device, ErrNoResourceFactory)
	}
	return f, nil
}

func (r *renderer) CreateTexture(label string, width, height uint32, pixels []byte) (device.TextureID, error) {
	f, err := r.factory()
	if err != nil {
		return -1, err
	}
	return f.CreateTexture(label, width, height, pixels)
}

func (r *renderer) CreateSampler(desc device.SamplerDescriptor) (device.SamplerID, error) {
	f, err := r.factory()
	if err != nil {
		return -1, err
	}
	return f.CreateSampler(desc)
}

func (r *renderer) CreateRenderTarget(label string, width, height uint32) (device.RenderTargetID, device.TextureID, error) {
	f, err := r.factory()
	if err != nil {
		return -1, -1, err
	}
	return f.CreateRenderTarget(label, width, height)
}

func (r *renderer) BindRenderTarget(rt device.RenderTargetID) error {
	return r.device.BindRenderTarget(rt)
}

func (r *renderer) UnbindDepthTarget() error {
	return r.device.UnbindDepthTarget()
}

func (r *renderer) Apply() error {
	p, err := r.current()
	if err != nil {
		return err
	}
	return p.Commit()
}

func (r *renderer) Draw(vertexCount, instanceCount int) error {
	if err := r.Apply(); err != nil {
		return err
	}
	return r.device.Draw(vertexCount, instanceCount)
}

func (r *renderer) DrawIndexed(mesh device.MeshID, instanceCount int) error {
	if err := r.Apply(); err != nil {
		return err
	}
	return r.device.DrawIndexed(mesh, instanceCount)
}

func (r *renderer) PollShaderFiles() []error {
	if r.watcher == nil {
		return nil
	}
	errs := r.watcher.Poll()
	for _, err := range errs {
		r.logger.Error("shader reload failed", "error", err)
	}
	return errs
}

func (r *renderer) Exit() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.exited {
		return
	}
	r.exited = true
	if r.watcher != nil {
		if err := r.watcher.Close(); err != nil {
			r.logger.Warn("failed to close shader watcher", "error", err)
		}
	}
	r.registry.TeardownAll()
	r.active = registry.InvalidShaderID
	r.bound = nil
	if r.ownsDevice {
		r.device.Release()
	}
}
