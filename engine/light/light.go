// Package light describes shadow-casting lights and the light-space matrices the shadow pass
// renders with.
package light

import (
	"github.com/go-gl/mathgl/mgl32"
)

// LightType identifies the kind of light source.
type LightType int

const (
	// LightTypeDirectional represents a light with no position, only direction.
	// Used for large distant sources like the sun or moon.
	LightTypeDirectional LightType = iota

	// LightTypePoint represents a light that emits in all directions from a position.
	LightTypePoint

	// LightTypeSpot represents a light that emits in a cone from a position along a direction.
	LightTypeSpot
)

// lightImpl is the implementation of the Light interface.
type lightImpl struct {
	lightType    LightType
	position     mgl32.Vec3
	direction    mgl32.Vec3
	color        mgl32.Vec3
	intensity    float32
	lightRange   float32
	outerCone    float32 // half angle in radians
	castsShadows bool

	halfExtent float32
	near       float32
	far        float32
}

// Light is a light source that can cast shadows.
type Light interface {
	// Type returns the kind of light source.
	//
	// Returns:
	//   - LightType: the light type (directional, point, or spot)
	Type() LightType

	// Position returns the world-space position of the light.
	// Meaningless for directional lights.
	//
	// Returns:
	//   - mgl32.Vec3: the position
	Position() mgl32.Vec3

	// Direction returns the normalized direction the light points.
	// Meaningless for point lights.
	//
	// Returns:
	//   - mgl32.Vec3: the direction
	Direction() mgl32.Vec3

	// Color returns the linear RGB color of the light.
	//
	// Returns:
	//   - mgl32.Vec3: the color
	Color() mgl32.Vec3

	// Intensity returns the scalar intensity multiplier.
	//
	// Returns:
	//   - float32: the intensity
	Intensity() float32

	// CastsShadows reports whether the shadow pass renders this light.
	//
	// Returns:
	//   - bool: true if the light casts shadows
	CastsShadows() bool

	// SetPosition sets the world-space position of the light.
	//
	// Parameters:
	//   - x, y, z: the position
	SetPosition(x, y, z float32)

	// SetDirection sets the direction of the light. The direction is normalized.
	//
	// Parameters:
	//   - x, y, z: the direction
	SetDirection(x, y, z float32)

	// SetCastsShadows enables or disables shadow casting.
	//
	// Parameters:
	//   - castsShadows: true to cast shadows
	SetCastsShadows(castsShadows bool)

	// LightSpace returns the view-projection matrix the shadow pass renders this light with.
	// Directional lights use an orthographic frustum centered on center; spot lights use a
	// perspective frustum covering their cone. Point lights have no single light space.
	//
	// Parameters:
	//   - center: the world-space point the directional frustum is centered on, usually the camera position
	//
	// Returns:
	//   - mgl32.Mat4: the light view-projection matrix
	//   - bool: false for point lights
	LightSpace(center mgl32.Vec3) (mgl32.Mat4, bool)
}

var _ Light = &lightImpl{}

// NewLight creates a new light of the given type.
//
// Parameters:
//   - lightType: the kind of light to create (directional, point, or spot)
//   - opts: variadic list of LightBuilderOption functions to configure the light
//
// Returns:
//   - Light: a new Light instance
func NewLight(lightType LightType, opts ...LightBuilderOption) Light {
	l := &lightImpl{
		lightType:  lightType,
		direction:  mgl32.Vec3{0, -1, 0},
		color:      mgl32.Vec3{1, 1, 1},
		intensity:  1.0,
		lightRange: 10.0,
		outerCone:  mgl32.DegToRad(35),
		halfExtent: DefaultShadowHalfExtent,
		near:       DefaultShadowNear,
		far:        DefaultShadowFar,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *lightImpl) Type() LightType {
	return l.lightType
}

func (l *lightImpl) Position() mgl32.Vec3 {
	return l.position
}

func (l *lightImpl) Direction() mgl32.Vec3 {
	return l.direction
}

func (l *lightImpl) Color() mgl32.Vec3 {
	return l.color
}

func (l *lightImpl) Intensity() float32 {
	return l.intensity
}

func (l *lightImpl) CastsShadows() bool {
	return l.castsShadows
}

func (l *lightImpl) SetPosition(x, y, z float32) {
	l.position = mgl32.Vec3{x, y, z}
}

func (l *lightImpl) SetDirection(x, y, z float32) {
	l.direction = normalize(mgl32.Vec3{x, y, z})
}

func (l *lightImpl) SetCastsShadows(castsShadows bool) {
	l.castsShadows = castsShadows
}

func (l *lightImpl) LightSpace(center mgl32.Vec3) (mgl32.Mat4, bool) {
	switch l.lightType {
	case LightTypeDirectional:
		return DirectionalLightSpace(l.direction, center, l.halfExtent, l.near, l.far), true
	case LightTypeSpot:
		return SpotLightSpace(l.position, l.direction, l.outerCone, l.near, l.lightRange), true
	default:
		return mgl32.Ident4(), false
	}
}

// normalize returns v scaled to unit length, or straight down for a zero vector.
func normalize(v mgl32.Vec3) mgl32.Vec3 {
	if v.Len() == 0 {
		return mgl32.Vec3{0, -1, 0}
	}
	return v.Normalize()
}
