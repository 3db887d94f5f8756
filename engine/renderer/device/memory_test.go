package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeviceMapUnmapPublishes(t *testing.T) {
	d := NewMemoryDevice()
	buf, err := d.CreateBuffer(BufferDescriptor{Label: "cb", Size: 8})
	require.NoError(t, err)

	data, err := d.Map(buf)
	require.NoError(t, err)
	require.Len(t, data, 8)
	copy(data, []byte{1, 2, 3, 4, 5, 6, 7, 8})

	// Nothing is visible until Unmap.
	assert.Equal(t, make([]byte, 8), buf.(*MemoryBuffer).Contents())

	require.NoError(t, d.Unmap(buf))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, buf.(*MemoryBuffer).Contents())

	uploads := d.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, "cb", uploads[0].Label)
}

func TestMemoryDeviceMapDiscardsPreviousContents(t *testing.T) {
	d := NewMemoryDevice()
	buf, err := d.CreateBuffer(BufferDescriptor{Label: "cb", Size: 4})
	require.NoError(t, err)

	data, err := d.Map(buf)
	require.NoError(t, err)
	copy(data, []byte{9, 9, 9, 9})
	require.NoError(t, d.Unmap(buf))

	data, err = d.Map(buf)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 4), data)
	require.NoError(t, d.Unmap(buf))
}

func TestMemoryDeviceMapErrors(t *testing.T) {
	d := NewMemoryDevice()
	buf, err := d.CreateBuffer(BufferDescriptor{Label: "cb", Size: 4})
	require.NoError(t, err)

	require.ErrorIs(t, d.Unmap(buf), ErrNotMapped)

	_, err = d.Map(buf)
	require.NoError(t, err)
	_, err = d.Map(buf)
	require.ErrorIs(t, err, ErrAlreadyMapped)

	require.NoError(t, d.Unmap(buf))
	buf.Release()
	_, err = d.Map(buf)
	require.ErrorIs(t, err, ErrReleased)
}

func TestMemoryDeviceBindings(t *testing.T) {
	d := NewMemoryDevice()
	buf, err := d.CreateBuffer(BufferDescriptor{Label: "cb", Size: 16})
	require.NoError(t, err)

	require.NoError(t, d.BindConstantBuffer(StagePixel, 1, buf))
	require.NoError(t, d.BindTexture(StagePixel, 0, TextureID(7)))
	require.NoError(t, d.BindSampler(StagePixel, 0, SamplerID(3)))

	assert.Same(t, buf, d.ConstantBuffer(StagePixel, 1))
	assert.Nil(t, d.ConstantBuffer(StageVertex, 1))

	tex, ok := d.Texture(StagePixel, 0)
	require.True(t, ok)
	assert.Equal(t, TextureID(7), tex)

	s, ok := d.Sampler(StagePixel, 0)
	require.True(t, ok)
	assert.Equal(t, SamplerID(3), s)
}

func TestMemoryDeviceRenderTarget(t *testing.T) {
	d := NewMemoryDevice()
	require.ErrorIs(t, d.UnbindDepthTarget(), ErrNoRenderPass)

	require.NoError(t, d.BindRenderTarget(RenderTargetID(2)))
	rt, depth, ok := d.RenderTarget()
	require.True(t, ok)
	assert.Equal(t, RenderTargetID(2), rt)
	assert.True(t, depth)

	require.NoError(t, d.UnbindDepthTarget())
	_, depth, _ = d.RenderTarget()
	assert.False(t, depth)
}

func TestMemoryDeviceDrawRecordsModules(t *testing.T) {
	d := NewMemoryDevice()
	vs, err := d.CreateModule(ModuleDescriptor{Label: "vs", Stage: StageVertex, EntryPoint: "vs_main"})
	require.NoError(t, err)
	require.NoError(t, d.BindModules([]Module{vs}))

	require.NoError(t, d.Draw(3, 1))
	require.NoError(t, d.DrawIndexed(MeshID(4), 10))

	draws := d.Draws()
	require.Len(t, draws, 2)
	assert.Equal(t, 3, draws[0].VertexCount)
	assert.False(t, draws[0].Indexed)
	assert.Equal(t, []Module{vs}, draws[0].Modules)
	assert.True(t, draws[1].Indexed)
	assert.Equal(t, MeshID(4), draws[1].Mesh)
	assert.Equal(t, 10, draws[1].InstanceCount)
}

func TestMemoryDeviceBindReleasedModule(t *testing.T) {
	d := NewMemoryDevice()
	vs, err := d.CreateModule(ModuleDescriptor{Label: "vs", Stage: StageVertex})
	require.NoError(t, err)
	vs.Release()
	require.ErrorIs(t, d.BindModules([]Module{vs}), ErrReleased)
}

func TestMemoryDeviceMaxBuffers(t *testing.T) {
	d := NewMemoryDevice(WithMaxBuffers(1))
	_, err := d.CreateBuffer(BufferDescriptor{Label: "a", Size: 4})
	require.NoError(t, err)
	_, err = d.CreateBuffer(BufferDescriptor{Label: "b", Size: 4})
	assert.Error(t, err)
}

func TestMemoryDeviceInvalidBufferSize(t *testing.T) {
	d := NewMemoryDevice()
	_, err := d.CreateBuffer(BufferDescriptor{Label: "a", Size: 0})
	assert.Error(t, err)
}

func TestReleaserReleasesInReverse(t *testing.T) {
	d := NewMemoryDevice()
	var r Releaser
	a, _ := d.CreateBuffer(BufferDescriptor{Label: "a", Size: 4})
	b, _ := d.CreateBuffer(BufferDescriptor{Label: "b", Size: 4})
	r.Track(a)
	r.Track(b)
	r.Track(nil)
	assert.Equal(t, 2, r.Len())

	r.ReleaseAll()
	assert.Equal(t, 1, a.(*MemoryBuffer).Releases())
	assert.Equal(t, 1, b.(*MemoryBuffer).Releases())
	assert.Equal(t, 0, r.Len())

	r.ReleaseAll()
	assert.Equal(t, 1, a.(*MemoryBuffer).Releases())
}

func TestReleaserForget(t *testing.T) {
	d := NewMemoryDevice()
	var r Releaser
	a, _ := d.CreateBuffer(BufferDescriptor{Label: "a", Size: 4})
	r.Track(a)
	r.Forget()
	r.ReleaseAll()
	assert.Equal(t, 0, a.(*MemoryBuffer).Releases())
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "vertex", StageVertex.String())
	assert.Equal(t, "pixel", StagePixel.String())
	assert.Equal(t, "stage(9)", Stage(9).String())
}

func TestMemoryDeviceResourceFactory(t *testing.T) {
	d := NewMemoryDevice()

	tex, err := d.CreateTexture("white", 1, 1, []byte{255, 255, 255, 255})
	require.NoError(t, err)
	assert.Equal(t, TextureID(0), tex)
	_, err = d.CreateTexture("bad", 2, 2, []byte{0})
	assert.Error(t, err)

	samp, err := d.CreateSampler(SamplerDescriptor{Label: "LinearSampler"})
	require.NoError(t, err)
	assert.Equal(t, SamplerID(0), samp)

	rt, color, err := d.CreateRenderTarget("HDR", 640, 480)
	require.NoError(t, err)
	assert.Equal(t, RenderTargetID(0), rt)
	label, ok := d.TextureLabel(color)
	require.True(t, ok)
	assert.Equal(t, "HDR Color", label)

	_, _, err = d.CreateRenderTarget("Empty", 0, 10)
	assert.Error(t, err)
	_, ok = d.TextureLabel(99)
	assert.False(t, ok)
}
