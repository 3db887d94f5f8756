package renderer

import (
	"io/fs"
	"log/slog"

	"github.com/Carmen-Shannon/oxy-render/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/registry"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/shader"
)

// RendererBuilderOption is a functional option applied to a renderer during construction via NewRenderer.
type RendererBuilderOption func(*renderer)

// WithDevice makes the renderer draw with an existing device instead of creating one for its
// backend type. The renderer does not release a device it did not create.
//
// Parameters:
//   - dev: the device
//
// Returns:
//   - RendererBuilderOption: a function that applies the device option to a renderer
func WithDevice(dev device.Device) RendererBuilderOption {
	return func(r *renderer) {
		r.device = dev
	}
}

// WithShaderDir sets the directory shader sources are read from. Hot reload watches it.
//
// Parameters:
//   - dir: the shader root directory
//
// Returns:
//   - RendererBuilderOption: a function that applies the shader directory option to a renderer
func WithShaderDir(dir string) RendererBuilderOption {
	return func(r *renderer) {
		r.shaderDir = dir
	}
}

// WithShaderFS reads shader sources from fsys, for example an embed.FS. Takes precedence over
// WithShaderDir for reading; hot reload still watches the directory given to WithShaderDir.
//
// Parameters:
//   - fsys: the shader root
//
// Returns:
//   - RendererBuilderOption: a function that applies the shader file system option to a renderer
func WithShaderFS(fsys fs.FS) RendererBuilderOption {
	return func(r *renderer) {
		r.shaderFS = fsys
	}
}

// WithCompiler replaces the naga stage compiler.
//
// Parameters:
//   - c: the compiler
//
// Returns:
//   - RendererBuilderOption: a function that applies the compiler option to a renderer
func WithCompiler(c shader.Compiler) RendererBuilderOption {
	return func(r *renderer) {
		r.compiler = c
	}
}

// WithHotReload enables reloading programs when their source files change in the shader
// directory. Changes are applied by PollShaderFiles.
//
// Parameters:
//   - enabled: true to watch the shader directory
//
// Returns:
//   - RendererBuilderOption: a function that applies the hot reload option to a renderer
func WithHotReload(enabled bool) RendererBuilderOption {
	return func(r *renderer) {
		r.hotReload = enabled
	}
}

// WithRegistryOptions passes options through to the shader registry, such as
// registry.WithPoolCapacity or registry.WithFatalHandler.
//
// Parameters:
//   - options: the registry options
//
// Returns:
//   - RendererBuilderOption: a function that applies the registry options to a renderer
func WithRegistryOptions(options ...registry.RegistryBuilderOption) RendererBuilderOption {
	return func(r *renderer) {
		r.registryOptions = append(r.registryOptions, options...)
	}
}

// WithWatcherOptions appends options passed to the hot reload watcher.
//
// Parameters:
//   - options: the watcher options
//
// Returns:
//   - RendererBuilderOption: a function that applies the watcher options to a renderer
func WithWatcherOptions(options ...registry.WatcherBuilderOption) RendererBuilderOption {
	return func(r *renderer) {
		r.watcherOptions = append(r.watcherOptions, options...)
	}
}

// WithLogger sets the structured logger shared with the registry. Defaults to slog.Default().
//
// Parameters:
//   - l: the logger
//
// Returns:
//   - RendererBuilderOption: a function that applies the logger option to a renderer
func WithLogger(l *slog.Logger) RendererBuilderOption {
	return func(r *renderer) {
		r.logger = l
	}
}

// WithForceSoftwareRenderer forces WGPU to use a CPU/software fallback adapter instead of
// hardware GPU acceleration. This requires a software Vulkan ICD to be installed on the system
// (e.g. SwiftShader or lavapipe). Ignored by the memory backend.
//
// Parameters:
//   - force: true to force the software fallback adapter, false to use hardware (default)
//
// Returns:
//   - RendererBuilderOption: a function that applies the force software renderer option to a renderer
func WithForceSoftwareRenderer(force bool) RendererBuilderOption {
	return func(r *renderer) {
		r.forceFallbackAdapter = force
	}
}
