package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmptyIsDefault(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseOverridesAndKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[renderer]
backend = "memory"

[shaders]
hot_reload = true
preload = ["Tonemapping", "AAResolve"]

[postprocess]
exposure = 2.5
hdr = false

[shadow]
instance_count = 64
`))
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Renderer.Backend)
	assert.Equal(t, uint32(DefaultWidth), cfg.Renderer.Width)
	assert.True(t, cfg.Shaders.HotReload)
	assert.Equal(t, []string{"Tonemapping", "AAResolve"}, cfg.Shaders.Preload)
	assert.Equal(t, DefaultPoolCapacity, cfg.Shaders.PoolCapacity)
	assert.Equal(t, float32(2.5), cfg.PostProcess.Exposure)
	assert.False(t, cfg.PostProcess.HDR)
	assert.Equal(t, 64, cfg.Shadow.InstanceCount)
	assert.Equal(t, uint32(DefaultShadowMapDimension), cfg.Shadow.MapDimension)
}

func TestParseZeroFallsBackToDefault(t *testing.T) {
	cfg, err := Parse([]byte(`
[shaders]
pool_capacity = 0
preload_workers = 0

[renderer]
backend = ""
`))
	require.NoError(t, err)
	assert.Equal(t, DefaultPoolCapacity, cfg.Shaders.PoolCapacity)
	assert.Equal(t, DefaultPreloadWorkers, cfg.Shaders.PreloadWorkers)
	assert.Equal(t, DefaultBackend, cfg.Renderer.Backend)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte("[shaders]\nhot_reloads = true\n"))
	var strict *toml.StrictMissingError
	assert.ErrorAs(t, err, &strict)

	_, err = Parse([]byte("[shaders]\npool_capacity = -1\n"))
	assert.ErrorContains(t, err, "pool_capacity")

	_, err = Parse([]byte("[shadow]\ninstance_count = -4\n"))
	assert.ErrorContains(t, err, "instance_count")

	_, err = Parse([]byte("[engine\n"))
	assert.Error(t, err)
}

func TestLoadResolvesShaderDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oxy.toml")
	require.NoError(t, os.WriteFile(path, []byte("[shaders]\ndir = \"shaders\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "shaders"), cfg.Shaders.Dir)

	_, err = Load(filepath.Join(dir, "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })

	require.NoError(t, os.WriteFile(filepath.Join(home, "oxy.toml"), []byte("[shaders]\ndir = \"~/wgsl\"\n"), 0o644))
	cfg, err := Load("~/oxy.toml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "wgsl"), cfg.Shaders.Dir)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "oxy.toml")
	want := Default()
	want.Renderer.Backend = "memory"
	want.Shaders.Dir = "/srv/shaders"
	want.Shaders.Preload = []string{"DepthShader"}
	want.PostProcess.Exposure = 0.75

	require.NoError(t, Save(path, want))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
