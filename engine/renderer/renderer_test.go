package renderer

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/Carmen-Shannon/oxy-render/common"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/registry"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/shader"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVS = `
struct Camera {
    world: mat4x4<f32>,
    tint: vec4<f32>,
}

struct VertexOutput {
    @builtin(position) position: vec4<f32>,
    @location(0) uv: vec2<f32>,
}

@group(0) @binding(0) var<uniform> camera: Camera;

@vertex
fn vs_main(@location(0) pos: vec3<f32>, @location(1) uv: vec2<f32>) -> VertexOutput {
    var out: VertexOutput;
    out.position = camera.world * vec4<f32>(pos.x, pos.y, pos.z, 1.0) + camera.tint;
    out.uv = uv;
    return out;
}
`

const testPS = `
struct VertexOutput {
    @builtin(position) position: vec4<f32>,
    @location(0) uv: vec2<f32>,
}

struct Material {
    diffuse: vec3<f32>,
    isDiffuseMap: f32,
}

@group(0) @binding(1) var<uniform> material: Material;
@group(0) @binding(2) var gDiffuseMap: texture_2d<f32>;
@group(0) @binding(3) var Sampler: sampler;

@fragment
fn ps_main(input: VertexOutput) -> @location(0) vec4<f32> {
    let tex = textureSample(gDiffuseMap, Sampler, input.uv);
    return tex * material.isDiffuseMap + vec4<f32>(material.diffuse.x, material.diffuse.y, material.diffuse.z, 1.0);
}
`

const testPSEdited = `
struct VertexOutput {
    @builtin(position) position: vec4<f32>,
    @location(0) uv: vec2<f32>,
}

struct Material {
    isDiffuseMap: f32,
    diffuse: vec3<f32>,
    gamma: f32,
}

@group(0) @binding(1) var<uniform> material: Material;
@group(0) @binding(2) var Sampler: sampler;
@group(0) @binding(3) var gDiffuseMap: texture_2d<f32>;

@fragment
fn ps_main(input: VertexOutput) -> @location(0) vec4<f32> {
    let tex = textureSample(gDiffuseMap, Sampler, input.uv);
    return tex * material.isDiffuseMap * material.gamma + vec4<f32>(material.diffuse.x, material.diffuse.y, material.diffuse.z, 1.0);
}
`

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"Skydome_vs.wgsl": {Data: []byte(testVS)},
		"Skydome_ps.wgsl": {Data: []byte(testPS)},
		"Other_vs.wgsl":   {Data: []byte(testVS)},
		"Other_ps.wgsl":   {Data: []byte(testPS)},
	}
}

func skydome() shader.Descriptor {
	return shader.NewDescriptor("Skydome", device.StageVertex, device.StagePixel)
}

func newMemoryRenderer(t *testing.T, fsys fstest.MapFS) (Renderer, *device.MemoryDevice) {
	t.Helper()
	dev := device.NewMemoryDevice()
	r, err := NewRenderer(BackendTypeMemory, WithDevice(dev), WithShaderFS(fsys))
	require.NoError(t, err)
	t.Cleanup(r.Exit)
	return r, dev
}

func TestCallsWithoutActiveShader(t *testing.T) {
	r, _ := newMemoryRenderer(t, testFS())

	require.ErrorIs(t, r.SetConstant1f("isDiffuseMap", 1), ErrNoActiveShader)
	require.ErrorIs(t, r.SetTexture("gDiffuseMap", 0), ErrNoActiveShader)
	require.ErrorIs(t, r.Apply(), ErrNoActiveShader)
	require.ErrorIs(t, r.Draw(3, 1), ErrNoActiveShader)
	_, ok := r.ActiveShader()
	assert.False(t, ok)
}

func TestSetShaderUnknownKeepsPrevious(t *testing.T) {
	r, dev := newMemoryRenderer(t, testFS())
	id, err := r.CreateShader(skydome())
	require.NoError(t, err)
	require.NoError(t, r.SetShader(id))
	bound := dev.BoundModules()

	require.ErrorIs(t, r.SetShader(99), registry.ErrUnknownShader)
	active, ok := r.ActiveShader()
	require.True(t, ok)
	assert.Equal(t, id, active)
	assert.Equal(t, bound, dev.BoundModules())
}

func TestDrawCommitsOnlyDirtyBuffers(t *testing.T) {
	r, dev := newMemoryRenderer(t, testFS())
	id, err := r.CreateShader(skydome())
	require.NoError(t, err)
	require.NoError(t, r.SetShader(id))

	require.NoError(t, r.SetConstant4x4f("world", mgl32.Translate3D(1, 2, 3)))
	require.NoError(t, r.SetConstant3f("diffuse", mgl32.Vec3{1, 1, 1}))
	require.NoError(t, r.SetConstant1f("isDiffuseMap", 1))
	require.NoError(t, r.Draw(36, 1))
	assert.Len(t, dev.Uploads(), 2, "activation uploads every buffer")
	assert.NotNil(t, dev.ConstantBuffer(device.StageVertex, 0))
	assert.NotNil(t, dev.ConstantBuffer(device.StagePixel, 0))

	dev.ResetUploads()
	require.NoError(t, r.DrawIndexed(5, 2))
	assert.Empty(t, dev.Uploads())

	require.NoError(t, r.SetConstant4f("tint", mgl32.Vec4{0, 0, 0, 1}))
	require.NoError(t, r.Draw(36, 1))
	uploads := dev.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, "Skydome vertex camera", uploads[0].Label)

	draws := dev.Draws()
	require.Len(t, draws, 3)
	assert.True(t, draws[1].Indexed)
	assert.Equal(t, device.MeshID(5), draws[1].Mesh)
}

func TestReactivationUploadsEveryBuffer(t *testing.T) {
	r, dev := newMemoryRenderer(t, testFS())
	a, err := r.CreateShader(skydome())
	require.NoError(t, err)
	b, err := r.CreateShader(shader.NewDescriptor("Other", device.StageVertex, device.StagePixel))
	require.NoError(t, err)

	require.NoError(t, r.SetShader(a))
	require.NoError(t, r.Draw(3, 1))
	require.NoError(t, r.SetShader(b))
	require.NoError(t, r.Draw(3, 1))

	dev.ResetUploads()
	require.NoError(t, r.SetShader(a))
	require.NoError(t, r.Draw(3, 1))
	assert.Len(t, dev.Uploads(), 2)
}

func TestUnknownNamesAreSoft(t *testing.T) {
	r, dev := newMemoryRenderer(t, testFS())
	id, err := r.CreateShader(skydome())
	require.NoError(t, err)
	require.NoError(t, r.SetShader(id))

	assert.NoError(t, r.SetConstant1f("bogus", 1))
	assert.NoError(t, r.SetConstant("bogus", []byte{1}))
	assert.NoError(t, r.SetTexture("bogus", 3))
	assert.NoError(t, r.SetSampler("bogus", 3))
	require.NoError(t, r.Draw(3, 1))
	assert.Len(t, dev.Draws(), 1)
}

func TestRawSizeMismatchIsReturned(t *testing.T) {
	r, _ := newMemoryRenderer(t, testFS())
	id, err := r.CreateShader(skydome())
	require.NoError(t, err)
	require.NoError(t, r.SetShader(id))

	assert.ErrorIs(t, r.SetConstant("isDiffuseMap", []byte{1, 2}), shader.ErrSizeMismatch)
	assert.NoError(t, r.SetConstant("isDiffuseMap", common.Float32Bytes(1)))
	assert.Panics(t, func() {
		_ = r.SetConstant1i("diffuse", 1)
	}, "typed mismatches are fatal")
}

func TestSetTextureAndSampler(t *testing.T) {
	r, dev := newMemoryRenderer(t, testFS())
	id, err := r.CreateShader(skydome())
	require.NoError(t, err)
	require.NoError(t, r.SetShader(id))

	tex, err := r.CreateTexture("sky", 1, 1, []byte{0, 0, 255, 255})
	require.NoError(t, err)
	samp, err := r.CreateSampler(device.SamplerDescriptor{Label: "Sampler"})
	require.NoError(t, err)

	require.NoError(t, r.SetTexture("gDiffuseMap", tex))
	require.NoError(t, r.SetSampler("Sampler", samp))

	got, ok := dev.Texture(device.StagePixel, 0)
	require.True(t, ok)
	assert.Equal(t, tex, got)
	gotSamp, ok := dev.Sampler(device.StagePixel, 0)
	require.True(t, ok)
	assert.Equal(t, samp, gotSamp)
}

func TestReloadedProgramIsRebound(t *testing.T) {
	fsys := testFS()
	r, dev := newMemoryRenderer(t, fsys)
	id, err := r.CreateShader(skydome())
	require.NoError(t, err)
	require.NoError(t, r.SetShader(id))
	require.NoError(t, r.SetConstant1f("isDiffuseMap", 1))
	require.NoError(t, r.SetTexture("gDiffuseMap", 4))
	require.NoError(t, r.SetSampler("Sampler", 2))
	require.NoError(t, r.Draw(3, 1))
	before := dev.BoundModules()

	fsys["Skydome_ps.wgsl"] = &fstest.MapFile{Data: []byte(testPSEdited)}
	require.NoError(t, r.Registry().Reload(id))
	require.NoError(t, dev.BindTexture(device.StagePixel, 0, 99))
	require.NoError(t, dev.BindSampler(device.StagePixel, 0, 99))

	dev.ResetUploads()
	require.NoError(t, r.Draw(3, 1))
	assert.NotEqual(t, before, dev.BoundModules())
	assert.Len(t, dev.Uploads(), 2, "the replacement uploads every buffer")

	p, _ := r.Registry().Get(id)
	value, ok := p.Constant("isDiffuseMap")
	require.True(t, ok)
	assert.Equal(t, common.Float32Bytes(1), value)

	tex, ok := dev.Texture(device.StagePixel, 0)
	require.True(t, ok)
	assert.Equal(t, device.TextureID(4), tex)
	samp, ok := dev.Sampler(device.StagePixel, 0)
	require.True(t, ok)
	assert.Equal(t, device.SamplerID(2), samp)
}

func TestRenderTargets(t *testing.T) {
	r, dev := newMemoryRenderer(t, testFS())

	assert.ErrorIs(t, r.UnbindDepthTarget(), device.ErrNoRenderPass)
	rt, _, err := r.CreateRenderTarget("HDR", 64, 64)
	require.NoError(t, err)
	require.NoError(t, r.BindRenderTarget(rt))
	require.NoError(t, r.UnbindDepthTarget())

	got, depth, ok := dev.RenderTarget()
	require.True(t, ok)
	assert.Equal(t, rt, got)
	assert.False(t, depth)
}

// bareDevice hides the resource factory of the wrapped device.
type bareDevice struct {
	device.Device
}

func TestResourceCreationNeedsFactory(t *testing.T) {
	r, err := NewRenderer(BackendTypeMemory, WithDevice(bareDevice{device.NewMemoryDevice()}), WithShaderFS(testFS()))
	require.NoError(t, err)
	defer r.Exit()

	_, err = r.CreateTexture("x", 1, 1, make([]byte, 4))
	assert.ErrorIs(t, err, ErrNoResourceFactory)
	_, err = r.CreateSampler(device.SamplerDescriptor{})
	assert.ErrorIs(t, err, ErrNoResourceFactory)
	_, _, err = r.CreateRenderTarget("x", 1, 1)
	assert.ErrorIs(t, err, ErrNoResourceFactory)
}

func TestExitReleasesPrograms(t *testing.T) {
	dev := device.NewMemoryDevice()
	r, err := NewRenderer(BackendTypeMemory, WithDevice(dev), WithShaderFS(testFS()))
	require.NoError(t, err)
	require.NoError(t, r.PreloadShaders(skydome(), shader.NewDescriptor("Other", device.StageVertex, device.StagePixel)))
	assert.Equal(t, 2, r.Registry().Len())

	r.Exit()
	r.Exit()
	for _, b := range dev.Buffers() {
		assert.Equal(t, 1, b.Releases())
	}
	assert.Equal(t, 0, r.Registry().Len())
	_, ok := r.ActiveShader()
	assert.False(t, ok)
}

func TestHotReloadFromShaderDir(t *testing.T) {
	dir := t.TempDir()
	for name, f := range testFS() {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), f.Data, 0o644))
	}
	r, err := NewRenderer(BackendTypeMemory, WithShaderDir(dir), WithHotReload(true))
	require.NoError(t, err)
	defer r.Exit()

	id, err := r.CreateShader(skydome())
	require.NoError(t, err)
	old, _ := r.Registry().Get(id)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Skydome_ps.wgsl"), []byte(testPSEdited), 0o644))
	require.Eventually(t, func() bool {
		r.PollShaderFiles()
		p, _ := r.Registry().Get(id)
		return p != old
	}, 5*time.Second, 25*time.Millisecond)
}

func TestPollWithoutHotReload(t *testing.T) {
	r, _ := newMemoryRenderer(t, testFS())
	assert.Nil(t, r.PollShaderFiles())
}

func TestParseBackendType(t *testing.T) {
	bt, err := ParseBackendType("memory")
	require.NoError(t, err)
	assert.Equal(t, BackendTypeMemory, bt)
	assert.Equal(t, "memory", bt.String())

	bt, err = ParseBackendType("")
	require.NoError(t, err)
	assert.Equal(t, BackendTypeWGPU, bt)

	_, err = ParseBackendType("vulkan")
	assert.Error(t, err)
	assert.Equal(t, "backend(7)", RendererBackendType(7).String())
}
