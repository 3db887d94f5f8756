package pass

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-render/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/registry"
	"github.com/cogentcore/webgpu/wgpu"
)

// ResolvePass resolves an anti-aliased color texture into its own render target with a linear
// filter.
type ResolvePass struct {
	r Renderer

	shader  registry.ShaderID
	sampler device.SamplerID
	target  device.RenderTargetID
	output  device.TextureID
	input   device.TextureID
}

var _ Pass = &ResolvePass{}

// NewResolvePass creates the resolve program, a clamped linear sampler and a width x height target.
//
// Parameters:
//   - r: the renderer
//   - input: the texture to resolve; can be changed later with SetInput
//   - width: the target width in pixels
//   - height: the target height in pixels
//
// Returns:
//   - *ResolvePass: the pass
//   - error: an error if a resource could not be created
func NewResolvePass(r Renderer, input device.TextureID, width, height uint32) (*ResolvePass, error) {
	p := &ResolvePass{r: r, input: input}

	var err error
	if p.shader, err = r.CreateShader(FullScreenDescriptor("AAResolve")); err != nil {
		return nil, fmt.Errorf("resolve pass: %w", err)
	}
	p.sampler, err = r.CreateSampler(device.SamplerDescriptor{
		Label:        "LinearSampler",
		AddressModeU: wgpu.AddressModeClampToEdge,
		AddressModeV: wgpu.AddressModeClampToEdge,
		AddressModeW: wgpu.AddressModeClampToEdge,
		MagFilter:    wgpu.FilterModeLinear,
		MinFilter:    wgpu.FilterModeLinear,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve pass: %w", err)
	}
	if p.target, p.output, err = r.CreateRenderTarget("AAResolve", width, height); err != nil {
		return nil, fmt.Errorf("resolve pass: %w", err)
	}
	return p, nil
}

func (p *ResolvePass) Name() string {
	return "AAResolve"
}

// SetInput changes the texture resolved by Render.
func (p *ResolvePass) SetInput(tex device.TextureID) {
	p.input = tex
}

// Output returns the resolved texture.
func (p *ResolvePass) Output() device.TextureID {
	return p.output
}

// Render resolves the input texture.
//
// Returns:
//   - error: the first renderer error
func (p *ResolvePass) Render() error {
	if err := p.r.SetShader(p.shader); err != nil {
		return err
	}
	if err := p.r.BindRenderTarget(p.target); err != nil {
		return err
	}
	if err := p.r.UnbindDepthTarget(); err != nil {
		return err
	}
	if err := p.r.SetSampler("LinearSampler", p.sampler); err != nil {
		return err
	}
	if err := p.r.SetTexture("ColorTexture", p.input); err != nil {
		return err
	}
	return p.r.Draw(FullScreenVertexCount, 1)
}
