package light

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// project transforms p by m and returns normalized device coordinates.
func project(m mgl32.Mat4, p mgl32.Vec3) mgl32.Vec3 {
	clip := m.Mul4x1(p.Vec4(1))
	return clip.Vec3().Mul(1 / clip.W())
}

func TestDirectionalLightSpace(t *testing.T) {
	l := NewLight(LightTypeDirectional,
		WithDirection(0, -2, 0),
		WithShadowFrustum(10, 0.1, 100),
		WithCastsShadows(true),
	)
	assert.True(t, l.CastsShadows())
	assert.InDelta(t, 1, l.Direction().Len(), 1e-6)

	center := mgl32.Vec3{5, 0, 5}
	m, ok := l.LightSpace(center)
	require.True(t, ok)

	ndc := project(m, center)
	assert.InDelta(t, 0, ndc.X(), 1e-4)
	assert.InDelta(t, 0, ndc.Y(), 1e-4)
	assert.InDelta(t, 0.5, ndc.Z(), 1e-3, "the center sits mid-way between near and far")

	edge := project(m, center.Add(mgl32.Vec3{10, 0, 0}))
	assert.InDelta(t, 1, mgl32.Abs(edge.X())+mgl32.Abs(edge.Y()), 1e-4, "half extent maps to the frustum edge")
}

func TestOrthoDepthRange(t *testing.T) {
	m := Ortho(-1, 1, -1, 1, 1, 11)
	assert.InDelta(t, 0, project(m, mgl32.Vec3{0, 0, -1}).Z(), 1e-6)
	assert.InDelta(t, 1, project(m, mgl32.Vec3{0, 0, -11}).Z(), 1e-6)
}

func TestPerspectiveDepthRange(t *testing.T) {
	m := Perspective(mgl32.DegToRad(90), 1, 1, 10)
	assert.InDelta(t, 0, project(m, mgl32.Vec3{0, 0, -1}).Z(), 1e-5)
	assert.InDelta(t, 1, project(m, mgl32.Vec3{0, 0, -10}).Z(), 1e-5)
}

func TestSpotLightSpace(t *testing.T) {
	l := NewLight(LightTypeSpot, WithPosition(0, 5, 0), WithDirection(0, 0, -1), WithRange(20), WithSpotCone(45))
	m, ok := l.LightSpace(mgl32.Vec3{})
	require.True(t, ok)

	ahead := project(m, mgl32.Vec3{0, 5, -10})
	assert.InDelta(t, 0, ahead.X(), 1e-4)
	assert.InDelta(t, 0, ahead.Y(), 1e-4)
	assert.True(t, ahead.Z() > 0 && ahead.Z() < 1)
}

func TestPointLightHasNoLightSpace(t *testing.T) {
	l := NewLight(LightTypePoint)
	m, ok := l.LightSpace(mgl32.Vec3{})
	assert.False(t, ok)
	assert.Equal(t, mgl32.Ident4(), m)

	l.SetDirection(0, 0, 0)
	assert.Equal(t, mgl32.Vec3{0, -1, 0}, l.Direction())
}
