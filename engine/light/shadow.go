package light

import "github.com/go-gl/mathgl/mgl32"

// DefaultShadowHalfExtent is the default orthographic half-extent (in world units)
// used for the directional light shadow frustum. Controls how much of the scene
// around the center is captured in the shadow map.
const DefaultShadowHalfExtent float32 = 40.0

// DefaultShadowNear is the default near plane for shadow projections.
const DefaultShadowNear float32 = 0.1

// DefaultShadowFar is the default far plane for the directional light's
// orthographic shadow projection.
const DefaultShadowFar float32 = 200.0

// DirectionalLightSpace builds an orthographic view-projection matrix for a directional
// light. The frustum is centered on center and looks along lightDir.
//
// Parameters:
//   - lightDir: normalized direction the light points (from light toward scene)
//   - center: world-space center of the shadow frustum
//   - halfExtent: half-size of the orthographic frustum in world units
//   - near: near plane distance
//   - far: far plane distance
//
// Returns:
//   - mgl32.Mat4: the light view-projection matrix
func DirectionalLightSpace(lightDir, center mgl32.Vec3, halfExtent, near, far float32) mgl32.Mat4 {
	// The eye sits behind the center, opposite the light direction.
	eye := center.Sub(lightDir.Mul(far * 0.5))
	view := mgl32.LookAtV(eye, center, stableUp(lightDir))
	return Ortho(-halfExtent, halfExtent, -halfExtent, halfExtent, near, far).Mul4(view)
}

// SpotLightSpace builds a perspective view-projection matrix covering a spot light's cone.
//
// Parameters:
//   - position: the light position
//   - dir: normalized direction the light points
//   - outerCone: the outer half angle in radians
//   - near: near plane distance
//   - far: far plane distance, usually the light range
//
// Returns:
//   - mgl32.Mat4: the light view-projection matrix
func SpotLightSpace(position, dir mgl32.Vec3, outerCone, near, far float32) mgl32.Mat4 {
	view := mgl32.LookAtV(position, position.Add(dir), stableUp(dir))
	return Perspective(2*outerCone, 1, near, far).Mul4(view)
}

// Ortho returns an orthographic projection with WebGPU's [0, 1] depth range.
func Ortho(left, right, bottom, top, near, far float32) mgl32.Mat4 {
	rl := right - left
	tb := top - bottom
	fn := far - near

	m := mgl32.Ident4()
	m[0] = 2.0 / rl
	m[5] = 2.0 / tb
	m[10] = -1.0 / fn // WebGPU Z: [0, 1]
	m[12] = -(right + left) / rl
	m[13] = -(top + bottom) / tb
	m[14] = -near / fn
	return m
}

// Perspective returns a perspective projection with WebGPU's [0, 1] depth range.
func Perspective(fovY, aspect, near, far float32) mgl32.Mat4 {
	// Remap mgl32's [-1, 1] depth to [0, 1].
	remap := mgl32.Ident4()
	remap[10] = 0.5
	remap[14] = 0.5
	return remap.Mul4(mgl32.Perspective(fovY, aspect, near, far))
}

// stableUp returns an up vector that is not parallel to dir.
func stableUp(dir mgl32.Vec3) mgl32.Vec3 {
	if mgl32.Abs(dir.Y()) > 0.99 {
		return mgl32.Vec3{1, 0, 0}
	}
	return mgl32.Vec3{0, 1, 0}
}
