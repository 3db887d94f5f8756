// Package registry owns every shader program of a renderer, keyed by logical name.
//
// Programs are created once per name and cached. The registry compiles stage sources,
// hands the binaries to shader.NewProgram, and later recompiles programs whose source files
// changed on disk, swapping them in place so a ShaderID stays valid across reloads.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"

	"github.com/Carmen-Shannon/oxy-render/engine/renderer/constant"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/shader"
)

// ShaderID identifies a program inside its Registry. IDs are dense and never reused.
type ShaderID int

// InvalidShaderID is returned alongside errors.
const InvalidShaderID ShaderID = -1

var (
	// ErrDescriptorConflict is returned when a name is requested with a descriptor that differs
	// from the one it was registered with.
	ErrDescriptorConflict = errors.New("shader descriptor conflicts with the registered program")

	// ErrUnknownShader is returned for an id the registry never issued.
	ErrUnknownShader = errors.New("unknown shader id")
)

// entry is one registered program and the descriptor it was built from.
type entry struct {
	desc    shader.Descriptor
	program shader.Program
}

// registry is the implementation of the Registry interface.
type registry struct {
	device    device.Device
	compiler  shader.Compiler
	pool      *constant.Pool
	capacity  int
	reflector shader.Reflector
	fatal     shader.FatalHandler
	logger    *slog.Logger
	workers   int

	entries []*entry
	byName  map[string]ShaderID
}

// Registry maps logical shader names to compiled programs. It is used from the render thread
// only; Preload parallelizes compilation internally.
type Registry interface {
	// GetOrCreate returns the program registered under desc.Name, compiling and building it on
	// the first request. Later requests return the cached program without recompiling.
	//
	// Parameters:
	//   - desc: the program descriptor
	//
	// Returns:
	//   - ShaderID: the program's id
	//   - shader.Program: the program
	//   - error: ErrDescriptorConflict, a *shader.CompileError, or a program construction error
	GetOrCreate(desc shader.Descriptor) (ShaderID, shader.Program, error)

	// Get returns the current program for an id. After a reload the returned program is the
	// replacement.
	//
	// Parameters:
	//   - id: the program id
	//
	// Returns:
	//   - shader.Program: the program
	//   - bool: false if the id is unknown
	Get(id ShaderID) (shader.Program, bool)

	// Lookup resolves a logical name to its id.
	//
	// Parameters:
	//   - name: the logical name
	//
	// Returns:
	//   - ShaderID: the id
	//   - bool: false if no program is registered under name
	Lookup(name string) (ShaderID, bool)

	// Len returns the number of registered programs.
	//
	// Returns:
	//   - int: the count
	Len() int

	// Preload registers every descriptor that is not registered yet. Stage compilation fans out
	// over a worker pool; program construction then runs on the calling goroutine in
	// descriptor order. A descriptor that fails does not prevent the others from loading.
	//
	// Parameters:
	//   - descs: the descriptors to load
	//
	// Returns:
	//   - error: every failure, joined
	Preload(descs ...shader.Descriptor) error

	// Reload recompiles a program from its descriptor and swaps in the replacement. Constant
	// values whose name and size survive the edit are carried over. On failure the previous
	// program stays registered.
	//
	// Parameters:
	//   - id: the program id
	//
	// Returns:
	//   - error: ErrUnknownShader, a *shader.CompileError, or a program construction error
	Reload(id ShaderID) error

	// ReloadPath reloads every program that was compiled from the given file.
	//
	// Parameters:
	//   - file: a path relative to the shader root
	//
	// Returns:
	//   - []error: one error per program that failed to reload
	ReloadPath(file string) []error

	// Programs returns the ids of all registered programs in registration order.
	//
	// Returns:
	//   - []ShaderID: the ids
	Programs() []ShaderID

	// Dependencies returns every source file any registered program was compiled from.
	//
	// Returns:
	//   - []string: paths relative to the shader root
	Dependencies() []string

	// Pool returns the constant pool shared by all programs.
	//
	// Returns:
	//   - *constant.Pool: the pool
	Pool() *constant.Pool

	// TeardownAll releases every program exactly once and clears the constant pool.
	// The registry is empty afterwards.
	TeardownAll()
}

var _ Registry = &registry{}

// NewRegistry creates an empty Registry.
//
// Parameters:
//   - dev: the device programs create their modules and buffers on
//   - compiler: the stage compiler
//   - options: functional options that configure the registry
//
// Returns:
//   - Registry: the registry
func NewRegistry(dev device.Device, compiler shader.Compiler, options ...RegistryBuilderOption) Registry {
	r := &registry{
		device:   dev,
		compiler: compiler,
		capacity: constant.DefaultCapacity,
		workers:  DefaultPreloadWorkers,
		byName:   make(map[string]ShaderID),
	}
	for _, opt := range options {
		opt(r)
	}
	if r.pool == nil {
		r.pool = constant.NewPool(r.capacity)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "registry")
	return r
}

func (r *registry) GetOrCreate(desc shader.Descriptor) (ShaderID, shader.Program, error) {
	if id, ok, err := r.cached(desc); ok || err != nil {
		if err != nil {
			return InvalidShaderID, nil, err
		}
		return id, r.entries[id].program, nil
	}
	if err := desc.Validate(); err != nil {
		return InvalidShaderID, nil, err
	}

	binaries, err := shader.CompileAll(r.compiler, desc)
	if err != nil {
		r.logger.Error("shader compilation failed", "shader", desc.Name, "error", err)
		return InvalidShaderID, nil, err
	}
	return r.register(desc, binaries)
}

// cached resolves desc against the registered programs.
func (r *registry) cached(desc shader.Descriptor) (ShaderID, bool, error) {
	id, ok := r.byName[desc.Name]
	if !ok {
		return InvalidShaderID, false, nil
	}
	if !r.entries[id].desc.Equal(desc) {
		return InvalidShaderID, false, fmt.Errorf("shader %q: %w", desc.Name, ErrDescriptorConflict)
	}
	return id, true, nil
}

// register builds a program from compiled binaries and stores it under a new id.
func (r *registry) register(desc shader.Descriptor, binaries []*shader.Binary) (ShaderID, shader.Program, error) {
	p, err := shader.NewProgram(desc, binaries, r.device, r.programOptions()...)
	if err != nil {
		return InvalidShaderID, nil, err
	}
	id := ShaderID(len(r.entries))
	r.entries = append(r.entries, &entry{desc: desc, program: p})
	r.byName[desc.Name] = id
	r.logger.Info("shader registered", "shader", desc.Name, "id", int(id), "buffers", len(p.Layouts()))
	return id, p, nil
}

func (r *registry) programOptions() []shader.ProgramBuilderOption {
	opts := []shader.ProgramBuilderOption{
		shader.WithPool(r.pool),
		shader.WithLogger(r.logger),
	}
	if r.fatal != nil {
		opts = append(opts, shader.WithFatalHandler(r.fatal))
	}
	if r.reflector != nil {
		opts = append(opts, shader.WithReflector(r.reflector))
	}
	return opts
}

func (r *registry) Get(id ShaderID) (shader.Program, bool) {
	if id < 0 || int(id) >= len(r.entries) {
		return nil, false
	}
	return r.entries[id].program, true
}

func (r *registry) Lookup(name string) (ShaderID, bool) {
	id, ok := r.byName[name]
	return id, ok
}

func (r *registry) Len() int {
	return len(r.entries)
}

func (r *registry) Reload(id ShaderID) error {
	if id < 0 || int(id) >= len(r.entries) {
		return fmt.Errorf("reload %d: %w", id, ErrUnknownShader)
	}
	e := r.entries[id]

	binaries, err := shader.CompileAll(r.compiler, e.desc)
	if err != nil {
		r.logger.Warn("shader reload failed, keeping previous program", "shader", e.desc.Name, "error", err)
		return err
	}
	usedBefore := r.pool.Len()
	next, err := shader.NewProgram(e.desc, binaries, r.device, r.programOptions()...)
	if err != nil {
		r.logger.Warn("shader reload failed, keeping previous program", "shader", e.desc.Name, "error", err)
		return err
	}

	carried := 0
	for _, name := range e.program.ConstantNames() {
		data, _ := e.program.Constant(name)
		if next.SetConstant(name, data) == nil {
			carried++
		}
	}

	e.program.Release()
	e.program = next

	// Released programs keep their pool slots until TeardownAll.
	used, capacity := r.pool.Len(), r.pool.Cap()
	r.logger.Info("shader reloaded", "shader", e.desc.Name, "id", int(id), "constants_carried", carried,
		"pool_used", used, "pool_capacity", capacity)
	if slots := used - usedBefore; capacity-used < slots {
		r.logger.Warn("constant pool cannot fit another reload of this shader, raise the pool capacity",
			"shader", e.desc.Name, "pool_free", capacity-used, "slots_per_reload", slots)
	}
	return nil
}

func (r *registry) ReloadPath(file string) []error {
	file = path.Clean(file)
	var errs []error
	for id, e := range r.entries {
		if !slices.Contains(e.program.Dependencies(), file) {
			continue
		}
		if err := r.Reload(ShaderID(id)); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (r *registry) Programs() []ShaderID {
	ids := make([]ShaderID, len(r.entries))
	for i := range ids {
		ids[i] = ShaderID(i)
	}
	return ids
}

func (r *registry) Dependencies() []string {
	var deps []string
	for _, e := range r.entries {
		for _, d := range e.program.Dependencies() {
			if !slices.Contains(deps, d) {
				deps = append(deps, d)
			}
		}
	}
	return deps
}

func (r *registry) Pool() *constant.Pool {
	return r.pool
}

func (r *registry) TeardownAll() {
	for _, e := range r.entries {
		e.program.Release()
	}
	r.entries = nil
	r.byName = make(map[string]ShaderID)
	r.pool.Clear()
}
