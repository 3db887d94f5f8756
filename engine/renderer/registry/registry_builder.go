package registry

import (
	"log/slog"
	"time"

	"github.com/Carmen-Shannon/oxy-render/engine/renderer/constant"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/shader"
)

// RegistryBuilderOption is a functional option applied to a registry during construction via NewRegistry.
type RegistryBuilderOption func(*registry)

// WithPool shares an existing constant pool with the registry's programs.
//
// Parameters:
//   - pool: the constant pool
//
// Returns:
//   - RegistryBuilderOption: a function that applies the pool option to a registry
func WithPool(pool *constant.Pool) RegistryBuilderOption {
	return func(r *registry) {
		r.pool = pool
	}
}

// WithPoolCapacity sets the capacity of the registry's own constant pool. Ignored when WithPool
// is also given. Defaults to constant.DefaultCapacity.
//
// Slots are only reclaimed by TeardownAll. Every reload allocates a fresh slot per constant of
// the reloaded program, so a hot-reload session needs headroom beyond the constants of the
// loaded programs; Reload logs the remaining headroom and warns once the next reload of a
// program would exhaust the pool.
//
// Parameters:
//   - capacity: the maximum number of constants across all programs
//
// Returns:
//   - RegistryBuilderOption: a function that applies the capacity option to a registry
func WithPoolCapacity(capacity int) RegistryBuilderOption {
	return func(r *registry) {
		r.capacity = capacity
	}
}

// WithReflector overrides the reflector programs are built with.
//
// Parameters:
//   - reflector: the reflector
//
// Returns:
//   - RegistryBuilderOption: a function that applies the reflector option to a registry
func WithReflector(reflector shader.Reflector) RegistryBuilderOption {
	return func(r *registry) {
		r.reflector = reflector
	}
}

// WithFatalHandler sets the handler programs invoke for unrecoverable conditions.
// Defaults to shader.DefaultFatalHandler.
//
// Parameters:
//   - h: the handler
//
// Returns:
//   - RegistryBuilderOption: a function that applies the fatal handler option to a registry
func WithFatalHandler(h shader.FatalHandler) RegistryBuilderOption {
	return func(r *registry) {
		r.fatal = h
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
//
// Parameters:
//   - l: the logger
//
// Returns:
//   - RegistryBuilderOption: a function that applies the logger option to a registry
func WithLogger(l *slog.Logger) RegistryBuilderOption {
	return func(r *registry) {
		r.logger = l
	}
}

// WithPreloadWorkers sets how many goroutines Preload compiles stages on. Values below 2
// compile sequentially.
//
// Parameters:
//   - n: the worker count
//
// Returns:
//   - RegistryBuilderOption: a function that applies the worker count option to a registry
func WithPreloadWorkers(n int) RegistryBuilderOption {
	return func(r *registry) {
		r.workers = n
	}
}

// WatcherBuilderOption is a functional option applied to a Watcher during construction via NewWatcher.
type WatcherBuilderOption func(*Watcher)

// WithDebounce sets how long a changed file must stay quiet before it is reloaded.
// Defaults to DefaultDebounce.
//
// Parameters:
//   - d: the debounce interval
//
// Returns:
//   - WatcherBuilderOption: a function that applies the debounce option to a watcher
func WithDebounce(d time.Duration) WatcherBuilderOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithClock replaces the watcher's time source.
//
// Parameters:
//   - now: the time source
//
// Returns:
//   - WatcherBuilderOption: a function that applies the clock option to a watcher
func WithClock(now func() time.Time) WatcherBuilderOption {
	return func(w *Watcher) {
		w.now = now
	}
}

// WithWatcherLogger sets the watcher's structured logger. Defaults to slog.Default().
//
// Parameters:
//   - l: the logger
//
// Returns:
//   - WatcherBuilderOption: a function that applies the logger option to a watcher
func WithWatcherLogger(l *slog.Logger) WatcherBuilderOption {
	return func(w *Watcher) {
		w.logger = l
	}
}
