package shader

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/Carmen-Shannon/oxy-render/engine/renderer/constant"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/device"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedReflector returns canned reflections keyed by stage.
type scriptedReflector struct {
	byStage map[device.Stage]*Reflection
	err     error
}

func (r *scriptedReflector) Reflect(bin *Binary) (*Reflection, error) {
	if r.err != nil {
		return nil, r.err
	}
	refl, ok := r.byStage[bin.Stage]
	if !ok {
		return &Reflection{Stage: bin.Stage}, nil
	}
	return refl, nil
}

// fatalRecorder captures fatal errors instead of panicking.
type fatalRecorder struct {
	errs []error
}

func (f *fatalRecorder) handle(err error) {
	f.errs = append(f.errs, err)
}

func buf(name string, size int, vars ...Variable) ConstantBufferLayout {
	return ConstantBufferLayout{Name: name, Size: size, Variables: vars}
}

func binaries(stages ...device.Stage) []*Binary {
	out := make([]*Binary, len(stages))
	for i, s := range stages {
		out[i] = &Binary{Stage: s, Path: "test_" + s.String() + ".wgsl", EntryPoint: "main", Dependencies: []string{"test_" + s.String() + ".wgsl", "common.wgsl"}}
	}
	return out
}

type programFixture struct {
	dev     *device.MemoryDevice
	pool    *constant.Pool
	fatal   *fatalRecorder
	program Program
}

func newFixture(t *testing.T, refl map[device.Stage]*Reflection, stages ...device.Stage) *programFixture {
	t.Helper()
	f := &programFixture{
		dev:   device.NewMemoryDevice(),
		pool:  constant.NewPool(64),
		fatal: &fatalRecorder{},
	}
	p, err := NewProgram(Descriptor{Name: "Test"}, binaries(stages...), f.dev,
		WithPool(f.pool),
		WithReflector(&scriptedReflector{byStage: refl}),
		WithFatalHandler(f.fatal.handle),
	)
	require.NoError(t, err)
	f.program = p
	return f
}

func f32(v float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	return b
}

func filled(n int, v byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = v
	}
	return b
}

func TestRegistrationAssignsSequentialSlots(t *testing.T) {
	f := newFixture(t, map[device.Stage]*Reflection{
		device.StagePixel: {Stage: device.StagePixel, Buffers: []ConstantBufferLayout{
			buf("Tonemap", 16, Variable{"exposure", 0, 4}, Variable{"isHDR", 4, 4}, Variable{"isSingleChannel", 8, 4}),
			buf("Extra", 16, Variable{"gamma", 0, 4}),
		}},
	}, device.StageVertex, device.StagePixel)

	layouts := f.program.Layouts()
	require.Len(t, layouts, 2)
	assert.Equal(t, 0, layouts[0].Slot)
	assert.Equal(t, 1, layouts[1].Slot)
	assert.Equal(t, device.StagePixel, layouts[0].Stage)

	assert.Equal(t, 4, f.pool.Len())
	for _, b := range f.program.Buffers() {
		assert.True(t, b.Dirty, "buffers start dirty")
	}
	assert.Len(t, f.dev.Buffers(), 2)
	assert.Len(t, f.dev.Modules(), 2)
	assert.Equal(t, []string{"exposure", "isHDR", "isSingleChannel", "gamma"}, f.program.ConstantNames())
}

func TestCommitPacksInDeclarationOrder(t *testing.T) {
	f := newFixture(t, map[device.Stage]*Reflection{
		device.StagePixel: {Buffers: []ConstantBufferLayout{
			buf("CB", 32, Variable{"A", 0, 4}, Variable{"B", 4, 12}, Variable{"C", 16, 16}),
		}},
	}, device.StagePixel)

	require.NoError(t, f.program.SetConstant("A", filled(4, 0xA)))
	require.NoError(t, f.program.SetConstant("B", filled(12, 0xB)))
	require.NoError(t, f.program.SetConstant("C", filled(16, 0xC)))
	require.NoError(t, f.program.Commit())

	uploads := f.dev.Uploads()
	require.Len(t, uploads, 1)
	want := append(append(filled(4, 0xA), filled(12, 0xB)...), filled(16, 0xC)...)
	assert.Equal(t, want, uploads[0].Data)

	bound := f.dev.ConstantBuffer(device.StagePixel, 0)
	require.NotNil(t, bound)
	assert.Equal(t, 32, bound.Size())
}

func TestCommitZeroFillsPadding(t *testing.T) {
	f := newFixture(t, map[device.Stage]*Reflection{
		device.StageVertex: {Buffers: []ConstantBufferLayout{
			buf("Light", 48, Variable{"intensity", 0, 4}, Variable{"lightPos", 16, 12}),
		}},
	}, device.StageVertex)

	require.NoError(t, f.program.SetConstant("intensity", f32(2)))
	require.NoError(t, f.program.SetConstantVector3("lightPos", mgl32.Vec3{1, 2, 3}))
	require.NoError(t, f.program.Commit())

	data := f.dev.Uploads()[0].Data
	require.Len(t, data, 48)
	assert.Equal(t, f32(2), data[0:4])
	assert.Equal(t, make([]byte, 12), data[4:16])
	assert.Equal(t, f32(1), data[16:20])
	assert.Equal(t, f32(3), data[24:28])
	assert.Equal(t, make([]byte, 20), data[28:48])
}

func TestSetConstantMarksOnlyOwningBufferDirty(t *testing.T) {
	f := newFixture(t, map[device.Stage]*Reflection{
		device.StageVertex: {Buffers: []ConstantBufferLayout{
			buf("PerFrame", 64, Variable{"view", 0, 64}),
			buf("PerObject", 64, Variable{"world", 0, 64}),
		}},
	}, device.StageVertex)

	require.NoError(t, f.program.Commit())
	for _, b := range f.program.Buffers() {
		assert.False(t, b.Dirty)
	}
	f.dev.ResetUploads()

	require.NoError(t, f.program.SetConstantMatrix("world", mgl32.Translate3D(1, 2, 3)))
	states := f.program.Buffers()
	assert.False(t, states[0].Dirty)
	assert.True(t, states[1].Dirty)

	require.NoError(t, f.program.Commit())
	uploads := f.dev.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, "Test vertex PerObject", uploads[0].Label)
	assert.Equal(t, f32(1), uploads[0].Data[48:52])
}

func TestCommitSkipsCleanBuffers(t *testing.T) {
	f := newFixture(t, map[device.Stage]*Reflection{
		device.StagePixel: {Buffers: []ConstantBufferLayout{buf("CB", 4, Variable{"exposure", 0, 4})}},
	}, device.StagePixel)

	require.NoError(t, f.program.Commit())
	require.NoError(t, f.program.Commit())
	assert.Len(t, f.dev.Uploads(), 1)
}

func TestClearDirtyFlagsMarksEveryBuffer(t *testing.T) {
	f := newFixture(t, map[device.Stage]*Reflection{
		device.StageVertex: {Buffers: []ConstantBufferLayout{buf("A", 4, Variable{"a", 0, 4})}},
		device.StagePixel:  {Buffers: []ConstantBufferLayout{buf("B", 4, Variable{"b", 0, 4})}},
	}, device.StageVertex, device.StagePixel)

	require.NoError(t, f.program.Commit())
	f.program.ClearDirtyFlags()
	for _, b := range f.program.Buffers() {
		assert.True(t, b.Dirty)
	}

	f.dev.ResetUploads()
	require.NoError(t, f.program.Commit())
	assert.Len(t, f.dev.Uploads(), 2)
	assert.NotNil(t, f.dev.ConstantBuffer(device.StageVertex, 0))
	assert.NotNil(t, f.dev.ConstantBuffer(device.StagePixel, 0))
}

func TestUnknownConstantIsSoft(t *testing.T) {
	f := newFixture(t, map[device.Stage]*Reflection{
		device.StagePixel: {Buffers: []ConstantBufferLayout{buf("CB", 4, Variable{"exposure", 0, 4})}},
	}, device.StagePixel)
	require.NoError(t, f.program.Commit())

	err := f.program.SetConstant("bogus", f32(1))
	require.ErrorIs(t, err, ErrUnknownConstant)

	err = f.program.SetConstantScalar("bogus", 1)
	require.ErrorIs(t, err, ErrUnknownConstant)

	assert.Empty(t, f.fatal.errs)
	assert.False(t, f.program.Buffers()[0].Dirty)
}

func TestSizeMismatch(t *testing.T) {
	f := newFixture(t, map[device.Stage]*Reflection{
		device.StagePixel: {Buffers: []ConstantBufferLayout{buf("CB", 16, Variable{"lightPos", 0, 12})}},
	}, device.StagePixel)
	require.NoError(t, f.program.Commit())

	err := f.program.SetConstant("lightPos", f32(1))
	require.ErrorIs(t, err, ErrSizeMismatch)
	assert.Empty(t, f.fatal.errs, "raw writes report the mismatch without the fatal handler")
	assert.False(t, f.program.Buffers()[0].Dirty)

	err = f.program.SetConstantScalar("lightPos", 1)
	require.ErrorIs(t, err, ErrSizeMismatch)
	require.Len(t, f.fatal.errs, 1)
	assert.ErrorIs(t, f.fatal.errs[0], ErrSizeMismatch)
}

func TestTypedSizeMismatchPanicsByDefault(t *testing.T) {
	p, err := NewProgram(Descriptor{Name: "Test"}, binaries(device.StagePixel), device.NewMemoryDevice(),
		WithReflector(&scriptedReflector{byStage: map[device.Stage]*Reflection{
			device.StagePixel: {Buffers: []ConstantBufferLayout{buf("CB", 4, Variable{"exposure", 0, 4})}},
		}}),
	)
	require.NoError(t, err)
	assert.Panics(t, func() {
		_ = p.SetConstantMatrix("exposure", mgl32.Ident4())
	})
}

func TestTypedSetters(t *testing.T) {
	f := newFixture(t, map[device.Stage]*Reflection{
		device.StageVertex: {Buffers: []ConstantBufferLayout{
			buf("CB", 112,
				Variable{"world", 0, 64},
				Variable{"color", 64, 16},
				Variable{"isSingleChannel", 80, 4},
				Variable{"ObjMats", 96, 16}),
		}},
	}, device.StageVertex)

	require.NoError(t, f.program.SetConstantMatrix("world", mgl32.Translate3D(5, 6, 7)))
	require.NoError(t, f.program.SetConstantVector4("color", mgl32.Vec4{1, 0, 0, 1}))
	require.NoError(t, f.program.SetConstantInt("isSingleChannel", 1))
	require.NoError(t, f.program.SetConstantStruct("ObjMats", [4]float32{1, 2, 3, 4}))

	world, ok := f.program.Constant("world")
	require.True(t, ok)
	assert.Equal(t, f32(5), world[48:52])

	single, ok := f.program.Constant("isSingleChannel")
	require.True(t, ok)
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(single))

	mats, ok := f.program.Constant("ObjMats")
	require.True(t, ok)
	assert.Equal(t, f32(4), mats[12:16])

	err := f.program.SetConstantStruct("ObjMats", [2]float32{1, 2})
	require.ErrorIs(t, err, ErrSizeMismatch)
	assert.Len(t, f.fatal.errs, 1)

	err = f.program.SetConstantStruct("ObjMats", struct{ S string }{})
	require.ErrorIs(t, err, ErrSizeMismatch)
	assert.Len(t, f.fatal.errs, 2)
}

func TestStageWithoutBuffersRegistersNothing(t *testing.T) {
	f := newFixture(t, map[device.Stage]*Reflection{}, device.StageVertex, device.StagePixel)

	assert.Empty(t, f.program.Layouts())
	assert.Equal(t, 0, f.pool.Len())
	require.NoError(t, f.program.Commit())
	assert.Empty(t, f.dev.Uploads())
}

func TestDuplicateConstantNameFirstWins(t *testing.T) {
	f := newFixture(t, map[device.Stage]*Reflection{
		device.StageVertex: {Buffers: []ConstantBufferLayout{buf("VS", 4, Variable{"time", 0, 4})}},
		device.StagePixel:  {Buffers: []ConstantBufferLayout{buf("PS", 4, Variable{"time", 0, 4})}},
	}, device.StagePixel, device.StageVertex)

	require.NoError(t, f.program.Commit())
	f.dev.ResetUploads()

	require.NoError(t, f.program.SetConstantScalar("time", 3))
	states := f.program.Buffers()
	assert.Equal(t, device.StageVertex, states[0].Stage)
	assert.True(t, states[0].Dirty)
	assert.False(t, states[1].Dirty)
	assert.Equal(t, []string{"time"}, f.program.ConstantNames())
	assert.Equal(t, 2, f.pool.Len())
}

func TestTexturesAndSamplersGetSequentialSlots(t *testing.T) {
	f := newFixture(t, map[device.Stage]*Reflection{
		device.StagePixel: {Resources: []Resource{
			{Name: "ColorTexture", Kind: ResourceTexture},
			{Name: "Sampler", Kind: ResourceSampler},
			{Name: "BloomTexture", Kind: ResourceTexture},
			{Name: "LinearSampler", Kind: ResourceSampler},
		}},
	}, device.StagePixel)

	bp, ok := f.program.TextureSlot("BloomTexture")
	require.True(t, ok)
	assert.Equal(t, BindPoint{Name: "BloomTexture", Stage: device.StagePixel, Slot: 1}, bp)

	bp, ok = f.program.SamplerSlot("LinearSampler")
	require.True(t, ok)
	assert.Equal(t, 1, bp.Slot)

	_, ok = f.program.TextureSlot("Missing")
	assert.False(t, ok)
	assert.Len(t, f.program.Textures(), 2)
	assert.Len(t, f.program.Samplers(), 2)
}

func TestDependenciesAreDeduplicated(t *testing.T) {
	f := newFixture(t, map[device.Stage]*Reflection{}, device.StageVertex, device.StagePixel)
	assert.Equal(t, []string{"test_vertex.wgsl", "common.wgsl", "test_pixel.wgsl"}, f.program.Dependencies())
}

func TestOverlappingLayoutIsFatal(t *testing.T) {
	dev := device.NewMemoryDevice()
	fatal := &fatalRecorder{}
	_, err := NewProgram(Descriptor{Name: "Bad"}, binaries(device.StageVertex, device.StagePixel), dev,
		WithReflector(&scriptedReflector{byStage: map[device.Stage]*Reflection{
			device.StageVertex: {Buffers: []ConstantBufferLayout{buf("Ok", 4, Variable{"a", 0, 4})}},
			device.StagePixel:  {Buffers: []ConstantBufferLayout{buf("CB", 8, Variable{"a2", 0, 8}, Variable{"b", 4, 4})}},
		}}),
		WithFatalHandler(fatal.handle),
	)
	require.ErrorIs(t, err, ErrPackingMismatch)
	var re *ReflectionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, device.StagePixel, re.Stage)
	require.Len(t, fatal.errs, 1)

	for _, b := range dev.Buffers() {
		assert.Equal(t, 1, b.Releases(), "buffers created before the failure are released")
	}
	for _, m := range dev.Modules() {
		assert.Equal(t, 1, m.Releases())
	}
}

func TestReflectionFailureIsFatal(t *testing.T) {
	fatal := &fatalRecorder{}
	_, err := NewProgram(Descriptor{Name: "Bad"}, binaries(device.StagePixel), device.NewMemoryDevice(),
		WithReflector(&scriptedReflector{err: errors.New("boom")}),
		WithFatalHandler(fatal.handle),
	)
	var re *ReflectionError
	require.ErrorAs(t, err, &re)
	require.Len(t, fatal.errs, 1)
}

func TestPoolExhaustionIsFatal(t *testing.T) {
	dev := device.NewMemoryDevice()
	fatal := &fatalRecorder{}
	_, err := NewProgram(Descriptor{Name: "Big"}, binaries(device.StagePixel), dev,
		WithPool(constant.NewPool(1)),
		WithReflector(&scriptedReflector{byStage: map[device.Stage]*Reflection{
			device.StagePixel: {Buffers: []ConstantBufferLayout{buf("CB", 8, Variable{"a", 0, 4}, Variable{"b", 4, 4})}},
		}}),
		WithFatalHandler(fatal.handle),
	)
	require.ErrorIs(t, err, constant.ErrPoolExhausted)
	require.Len(t, fatal.errs, 1)
	require.Len(t, dev.Buffers(), 1)
	assert.Equal(t, 1, dev.Buffers()[0].Releases())
}

func TestBufferCreationFailureReleasesPartialProgram(t *testing.T) {
	dev := device.NewMemoryDevice(device.WithMaxBuffers(1))
	fatal := &fatalRecorder{}
	_, err := NewProgram(Descriptor{Name: "Two"}, binaries(device.StagePixel), dev,
		WithReflector(&scriptedReflector{byStage: map[device.Stage]*Reflection{
			device.StagePixel: {Buffers: []ConstantBufferLayout{
				buf("A", 4, Variable{"a", 0, 4}),
				buf("B", 4, Variable{"b", 0, 4}),
			}},
		}}),
		WithFatalHandler(fatal.handle),
	)
	require.Error(t, err)
	assert.Empty(t, fatal.errs, "device failures are returned, not fatal")
	assert.Equal(t, 1, dev.Buffers()[0].Releases())
}

// shortMapDevice hands out mapped slices one byte short to provoke a packing mismatch.
type shortMapDevice struct {
	*device.MemoryDevice
}

func (d shortMapDevice) Map(b device.Buffer) ([]byte, error) {
	data, err := d.MemoryDevice.Map(b)
	if err != nil {
		return nil, err
	}
	return data[:len(data)-1], nil
}

func TestCommitPackingMismatchIsFatal(t *testing.T) {
	dev := shortMapDevice{device.NewMemoryDevice()}
	fatal := &fatalRecorder{}
	p, err := NewProgram(Descriptor{Name: "Short"}, binaries(device.StagePixel), dev,
		WithReflector(&scriptedReflector{byStage: map[device.Stage]*Reflection{
			device.StagePixel: {Buffers: []ConstantBufferLayout{buf("CB", 8, Variable{"a", 0, 4})}},
		}}),
		WithFatalHandler(fatal.handle),
	)
	require.NoError(t, err)

	err = p.Commit()
	require.ErrorIs(t, err, ErrPackingMismatch)
	require.Len(t, fatal.errs, 1)
	assert.True(t, p.Buffers()[0].Dirty)
	assert.Nil(t, dev.ConstantBuffer(device.StagePixel, 0), "a failed buffer is not bound")
}

func TestCommitPackingMismatchUploadsZeros(t *testing.T) {
	dev := shortMapDevice{device.NewMemoryDevice()}
	fatal := &fatalRecorder{}
	p, err := NewProgram(Descriptor{Name: "Short"}, binaries(device.StagePixel), dev,
		WithReflector(&scriptedReflector{byStage: map[device.Stage]*Reflection{
			device.StagePixel: {Buffers: []ConstantBufferLayout{buf("CB", 8, Variable{"a", 0, 4})}},
		}}),
		WithFatalHandler(fatal.handle),
	)
	require.NoError(t, err)
	require.NoError(t, p.SetConstant("a", f32(1)))

	require.ErrorIs(t, p.Commit(), ErrPackingMismatch)
	uploads := dev.Uploads()
	require.Len(t, uploads, 1, "the mapped buffer is still unmapped")
	assert.Equal(t, make([]byte, 8), uploads[0].Data, "no partially packed bytes are published")

	_, err = dev.Map(dev.Buffers()[0])
	assert.NoError(t, err, "the buffer is left unmapped")
}

func TestModulesCarryShaderBindings(t *testing.T) {
	f := newFixture(t, map[device.Stage]*Reflection{
		device.StageVertex: {Buffers: []ConstantBufferLayout{
			{Name: "light", Size: 4, Group: 0, Binding: 0, Variables: []Variable{{"LightSpace", 0, 4}}},
			{Name: "ObjMats", Size: 4, Group: 0, Binding: 1, Variables: []Variable{{"ObjMats", 0, 4}}},
		}},
		device.StagePixel: {
			Buffers: []ConstantBufferLayout{
				{Name: "params", Size: 4, Group: 1, Binding: 0, Variables: []Variable{{"exposure", 0, 4}}},
			},
			Resources: []Resource{
				{Name: "ColorTexture", Kind: ResourceTexture, Group: 1, Binding: 1},
				{Name: "Sampler", Kind: ResourceSampler, Group: 1, Binding: 2},
				{Name: "BloomTexture", Kind: ResourceTexture, Group: 1, Binding: 3},
			},
		},
	}, device.StageVertex, device.StagePixel)

	modules := f.dev.Modules()
	require.Len(t, modules, 2)
	assert.Equal(t, []device.ModuleBinding{
		{Kind: device.BindingConstantBuffer, Slot: 0, Group: 0, Binding: 0},
		{Kind: device.BindingConstantBuffer, Slot: 1, Group: 0, Binding: 1},
	}, modules[0].Bindings())
	assert.Equal(t, []device.ModuleBinding{
		{Kind: device.BindingConstantBuffer, Slot: 0, Group: 1, Binding: 0},
		{Kind: device.BindingTexture, Slot: 0, Group: 1, Binding: 1},
		{Kind: device.BindingSampler, Slot: 0, Group: 1, Binding: 2},
		{Kind: device.BindingTexture, Slot: 1, Group: 1, Binding: 3},
	}, modules[1].Bindings())

	bp, ok := f.program.TextureSlot("BloomTexture")
	require.True(t, ok)
	assert.Equal(t, 1, bp.Slot, "module bindings use the program's slots")
}

func TestReleaseIsIdempotent(t *testing.T) {
	f := newFixture(t, map[device.Stage]*Reflection{
		device.StagePixel: {Buffers: []ConstantBufferLayout{buf("CB", 4, Variable{"a", 0, 4})}},
	}, device.StageVertex, device.StagePixel)

	f.program.Release()
	f.program.Release()
	for _, b := range f.dev.Buffers() {
		assert.Equal(t, 1, b.Releases())
	}
	for _, m := range f.dev.Modules() {
		assert.Equal(t, 1, m.Releases())
	}
	require.ErrorIs(t, f.program.Commit(), ErrReleased)
}

func TestInputLayoutFromVertexStage(t *testing.T) {
	f := newFixture(t, map[device.Stage]*Reflection{
		device.StageVertex: {VertexLayouts: nil},
	}, device.StageVertex)
	assert.Nil(t, f.program.InputLayout())
}

func TestLogLayoutsDoesNotPanic(t *testing.T) {
	f := newFixture(t, map[device.Stage]*Reflection{
		device.StagePixel: {Buffers: []ConstantBufferLayout{buf("CB", 8, Variable{"b", 0, 4}, Variable{"a", 4, 4})}},
	}, device.StagePixel)
	assert.NotPanics(t, f.program.LogLayouts)
}
