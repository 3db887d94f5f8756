package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-render/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/shader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeShaderTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, f := range shaderFS() {
		full := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, f.Data, 0o644))
	}
	return dir
}

func TestWatcherDebouncesNotifications(t *testing.T) {
	f := newRegistryFixture()
	id, old, err := f.reg.GetOrCreate(tonemapDesc())
	require.NoError(t, err)

	now := time.Unix(1000, 0)
	w, err := NewWatcher(f.reg, t.TempDir(), WithDebounce(50*time.Millisecond), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	defer w.Close()

	w.Notify("common/tonemap.wgsl")
	assert.Empty(t, w.Poll())
	got, _ := f.reg.Get(id)
	assert.Same(t, old, got, "a change is not reloaded before the debounce interval")

	now = now.Add(20 * time.Millisecond)
	w.Notify("common/tonemap.wgsl")
	w.Poll()
	now = now.Add(40 * time.Millisecond)
	w.Poll()
	got, _ = f.reg.Get(id)
	assert.Same(t, old, got, "a repeated change restarts the interval")

	now = now.Add(20 * time.Millisecond)
	assert.Empty(t, w.Poll())
	got, _ = f.reg.Get(id)
	assert.NotSame(t, old, got)
}

func TestWatcherReportsReloadFailures(t *testing.T) {
	f := newRegistryFixture()
	_, _, err := f.reg.GetOrCreate(tonemapDesc())
	require.NoError(t, err)
	w, err := NewWatcher(f.reg, t.TempDir(), WithDebounce(0))
	require.NoError(t, err)
	defer w.Close()

	f.fsys["Tonemapping_ps.wgsl"].Data = []byte("fn ps_main( {")
	w.Notify("Tonemapping_ps.wgsl")
	errs := w.Poll()
	require.Len(t, errs, 1)
	var ce *shader.CompileError
	assert.ErrorAs(t, errs[0], &ce)
}

func TestWatcherReloadsOnDiskChange(t *testing.T) {
	dir := writeShaderTree(t)
	reg := NewRegistry(device.NewMemoryDevice(), shader.NewCompiler(os.DirFS(dir)))
	id, old, err := reg.GetOrCreate(tonemapDesc())
	require.NoError(t, err)

	w, err := NewWatcher(reg, dir, WithDebounce(0))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "common", "tonemap.wgsl"), []byte(tonemapIncludeEdited), 0o644))

	require.Eventually(t, func() bool {
		w.Poll()
		p, _ := reg.Get(id)
		return p != old
	}, 5*time.Second, 20*time.Millisecond)

	p, _ := reg.Get(id)
	_, ok := p.Constant("isSingleChannel")
	assert.True(t, ok)
}

func TestWatcherSyncPicksUpLaterPrograms(t *testing.T) {
	dir := writeShaderTree(t)
	reg := NewRegistry(device.NewMemoryDevice(), shader.NewCompiler(os.DirFS(dir)))
	w, err := NewWatcher(reg, dir, WithDebounce(0))
	require.NoError(t, err)
	defer w.Close()
	assert.True(t, w.Watched("."), "the shader root is watched before any program exists")
	assert.False(t, w.Watched("common"))

	id, old, err := reg.GetOrCreate(tonemapDesc())
	require.NoError(t, err)
	w.Sync()
	assert.True(t, w.Watched("common"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "common", "tonemap.wgsl"), []byte(tonemapIncludeEdited), 0o644))
	require.Eventually(t, func() bool {
		w.Poll()
		p, _ := reg.Get(id)
		return p != old
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatcherCloseIsIdempotent(t *testing.T) {
	f := newRegistryFixture()
	w, err := NewWatcher(f.reg, t.TempDir())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
	w.Notify("ignored.wgsl")
}
