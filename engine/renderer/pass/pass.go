// Package pass holds the render passes built on the renderer's name-based shader API.
package pass

import (
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/registry"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/shader"
	"github.com/go-gl/mathgl/mgl32"
)

// FullScreenVertexCount is the vertex count of the full-screen triangle drawn by
// FullScreenQuad_vs.wgsl.
const FullScreenVertexCount = 3

// FullScreenQuadVS is the vertex stage shared by full-screen passes.
const FullScreenQuadVS = "FullScreenQuad_vs.wgsl"

// Renderer is the part of the renderer a pass uses.
type Renderer interface {
	CreateShader(desc shader.Descriptor) (registry.ShaderID, error)
	SetShader(id registry.ShaderID) error

	SetConstant1f(name string, v float32) error
	SetConstant1i(name string, v int32) error
	SetConstant4x4f(name string, m mgl32.Mat4) error
	SetConstantStruct(name string, v any) error
	SetTexture(name string, tex device.TextureID) error
	SetSampler(name string, s device.SamplerID) error

	CreateSampler(desc device.SamplerDescriptor) (device.SamplerID, error)
	CreateRenderTarget(label string, width, height uint32) (device.RenderTargetID, device.TextureID, error)
	BindRenderTarget(rt device.RenderTargetID) error
	UnbindDepthTarget() error

	Draw(vertexCount, instanceCount int) error
	DrawIndexed(mesh device.MeshID, instanceCount int) error
}

// Pass is one stage of a frame.
type Pass interface {
	// Name returns the pass name used in logs and profiles.
	//
	// Returns:
	//   - string: the name
	Name() string
}

// FullScreenDescriptor describes a program made of the full-screen vertex stage and a pixel stage.
func FullScreenDescriptor(name string) shader.Descriptor {
	return shader.NewDescriptor(name, device.StagePixel).WithStage(device.StageVertex, FullScreenQuadVS)
}
