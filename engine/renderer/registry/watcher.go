package registry

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must stay quiet before Poll reloads the programs using it.
// Editors commonly save in several writes.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reloads programs when their source files change on disk. File events are collected
// on a background goroutine; reloads only happen inside Poll, which must be called from the
// render thread.
type Watcher struct {
	registry Registry
	root     string
	fsw      *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration
	now      func() time.Time

	changes chan string
	done    chan struct{}
	once    *sync.Once

	watched map[string]bool
	pending map[string]time.Time
}

// NewWatcher starts watching the shader root and the directories of every file the registry's
// programs depend on. Call Sync after registering programs whose sources live elsewhere.
//
// Parameters:
//   - reg: the registry whose programs are reloaded
//   - root: the shader root directory on disk that dependency paths are relative to
//   - options: functional options that configure the watcher
//
// Returns:
//   - *Watcher: the running watcher
//   - error: an error if the file system watcher could not be created
func NewWatcher(reg Registry, root string, options ...WatcherBuilderOption) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create shader watcher: %w", err)
	}
	w := &Watcher{
		registry: reg,
		root:     filepath.Clean(root),
		fsw:      fsw,
		debounce: DefaultDebounce,
		now:      time.Now,
		changes:  make(chan string, 256),
		done:     make(chan struct{}),
		once:     &sync.Once{},
		watched:  make(map[string]bool),
		pending:  make(map[string]time.Time),
	}
	for _, opt := range options {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("component", "shader-watcher")

	w.watch(w.root)
	w.Sync()
	go w.run()
	return w, nil
}

// run forwards relevant file events as root-relative slash paths until Close.
func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			rel, err := filepath.Rel(w.root, event.Name)
			if err != nil {
				continue
			}
			select {
			case w.changes <- filepath.ToSlash(rel):
			case <-w.done:
				return
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

// Sync adds watches for dependency directories not watched yet. It must be called from the
// render thread.
func (w *Watcher) Sync() {
	for _, dep := range w.registry.Dependencies() {
		w.watch(filepath.Dir(filepath.Join(w.root, filepath.FromSlash(dep))))
	}
}

func (w *Watcher) watch(dir string) {
	dir = filepath.Clean(dir)
	if w.watched[dir] {
		return
	}
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Warn("failed to watch shader directory", "dir", dir, "error", err)
		return
	}
	w.watched[dir] = true
	w.logger.Debug("watching shader directory", "dir", dir)
}

// Watched reports whether dir, relative to the shader root, is being watched.
//
// Parameters:
//   - dir: the directory, relative to the shader root
//
// Returns:
//   - bool: true if file events from dir are received
func (w *Watcher) Watched(dir string) bool {
	return w.watched[filepath.Join(w.root, filepath.FromSlash(dir))]
}

// Notify queues a change to a root-relative path as if it had been reported by the file system.
//
// Parameters:
//   - file: the changed path, relative to the shader root
func (w *Watcher) Notify(file string) {
	select {
	case w.changes <- file:
	case <-w.done:
	}
}

// Poll drains pending file events and reloads the programs of every file that has been quiet
// for the debounce interval. It must be called from the render thread.
//
// Returns:
//   - []error: the reload failures; the affected programs keep their previous version
func (w *Watcher) Poll() []error {
	w.Sync()

	now := w.now()
	for drained := false; !drained; {
		select {
		case file := <-w.changes:
			w.pending[file] = now
		default:
			drained = true
		}
	}

	var errs []error
	for file, seen := range w.pending {
		if now.Sub(seen) < w.debounce {
			continue
		}
		delete(w.pending, file)
		w.logger.Info("shader source changed", "file", file)
		errs = append(errs, w.registry.ReloadPath(file)...)
	}
	return errs
}

// Close stops the watcher. Repeated calls are no-ops.
//
// Returns:
//   - error: an error from closing the file system watcher
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}
