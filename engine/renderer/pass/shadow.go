package pass

import (
	"fmt"
	"maps"
	"slices"

	"github.com/Carmen-Shannon/oxy-render/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/registry"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/shader"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	// DefaultShadowMapDimension is the edge length of the shadow map in texels.
	DefaultShadowMapDimension = 2048

	// DefaultInstanceCount is the batch size of the instanced depth shader.
	DefaultInstanceCount = 256
)

// ShadowCaster is a mesh drawn into the shadow map with its own world matrix.
type ShadowCaster struct {
	Mesh  device.MeshID
	World mgl32.Mat4
}

// ShadowPass renders scene depth from a light into a shadow map. Individual casters use
// DepthShader; meshes with many instances use the INSTANCED variant in fixed-size batches.
type ShadowPass struct {
	r             Renderer
	dimension     uint32
	instanceCount int

	shader    registry.ShaderID
	instanced registry.ShaderID
	target    device.RenderTargetID
	depthMap  device.TextureID

	// batch is reused across frames; it always holds instanceCount matrices.
	batch []mgl32.Mat4
}

var _ Pass = &ShadowPass{}

// NewShadowPass creates the depth programs and the shadow map target.
//
// Parameters:
//   - r: the renderer
//   - options: functional options that configure the pass
//
// Returns:
//   - *ShadowPass: the pass
//   - error: an error if a program or the target could not be created
func NewShadowPass(r Renderer, options ...ShadowPassBuilderOption) (*ShadowPass, error) {
	p := &ShadowPass{
		r:             r,
		dimension:     DefaultShadowMapDimension,
		instanceCount: DefaultInstanceCount,
	}
	for _, opt := range options {
		opt(p)
	}
	if p.instanceCount <= 0 {
		return nil, fmt.Errorf("shadow pass: invalid instance count %d", p.instanceCount)
	}
	p.batch = make([]mgl32.Mat4, p.instanceCount)

	var err error
	if p.shader, err = r.CreateShader(DepthShaderDescriptor()); err != nil {
		return nil, fmt.Errorf("shadow pass: %w", err)
	}
	if p.instanced, err = r.CreateShader(InstancedDepthShaderDescriptor(p.instanceCount)); err != nil {
		return nil, fmt.Errorf("shadow pass: %w", err)
	}
	if p.target, p.depthMap, err = r.CreateRenderTarget("ShadowMap", p.dimension, p.dimension); err != nil {
		return nil, fmt.Errorf("shadow pass: %w", err)
	}
	return p, nil
}

// DepthShaderDescriptor describes the single-object depth program.
func DepthShaderDescriptor() shader.Descriptor {
	return shader.NewDescriptor("DepthShader", device.StageVertex, device.StagePixel)
}

// InstancedDepthShaderDescriptor describes the instanced depth program drawing up to count
// objects per draw.
func InstancedDepthShaderDescriptor(count int) shader.Descriptor {
	d := shader.Descriptor{Name: "DepthShaderInstanced"}
	return d.WithStage(device.StageVertex, "DepthShader_vs.wgsl").
		WithMacros(shader.Macro{Name: "INSTANCED", Value: "1"}, shader.IntMacro("INSTANCE_COUNT", count)).
		WithStage(device.StagePixel, "DepthShader_ps.wgsl")
}

func (p *ShadowPass) Name() string {
	return "ShadowMap"
}

// ShadowMap returns the texture the pass renders into.
func (p *ShadowPass) ShadowMap() device.TextureID {
	return p.depthMap
}

// Render draws every caster individually, then every instanced mesh in batches of the
// configured instance count.
//
// Parameters:
//   - lightSpace: the light's view-projection matrix
//   - casters: objects drawn one at a time
//   - instanced: world matrices of instanced objects, keyed by mesh
//
// Returns:
//   - error: the first renderer error
func (p *ShadowPass) Render(lightSpace mgl32.Mat4, casters []ShadowCaster, instanced map[device.MeshID][]mgl32.Mat4) error {
	if len(casters) == 0 && len(instanced) == 0 {
		return nil
	}

	if err := p.r.SetShader(p.shader); err != nil {
		return err
	}
	if err := p.r.BindRenderTarget(p.target); err != nil {
		return err
	}
	if err := p.r.SetConstant4x4f("lightSpaceMat", lightSpace); err != nil {
		return err
	}
	for _, c := range casters {
		if err := p.r.SetConstant4x4f("ObjMats", c.World); err != nil {
			return err
		}
		if err := p.r.DrawIndexed(c.Mesh, 1); err != nil {
			return err
		}
	}

	if len(instanced) == 0 {
		return nil
	}
	if err := p.r.SetShader(p.instanced); err != nil {
		return err
	}
	if err := p.r.SetConstant4x4f("lightSpaceMat", lightSpace); err != nil {
		return err
	}
	for _, mesh := range slices.Sorted(maps.Keys(instanced)) {
		worlds := instanced[mesh]
		for start := 0; start < len(worlds); start += p.instanceCount {
			n := copy(p.batch, worlds[start:])
			clear(p.batch[n:])
			if err := p.r.SetConstantStruct("ObjMats", p.batch); err != nil {
				return err
			}
			if err := p.r.DrawIndexed(mesh, n); err != nil {
				return err
			}
		}
	}
	return nil
}
