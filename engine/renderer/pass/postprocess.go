package pass

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-render/engine/renderer/device"
	"github.com/Carmen-Shannon/oxy-render/engine/renderer/registry"
)

// TonemappingSettings are the per-frame inputs of the tonemapping pass.
type TonemappingSettings struct {
	Exposure   float32
	HDREnabled bool

	// SingleChannel broadcasts the red channel, for viewing single-channel targets such as
	// ambient occlusion.
	SingleChannel bool
}

// PostProcessPass tonemaps a color texture into its own render target.
type PostProcessPass struct {
	r Renderer

	shader  registry.ShaderID
	sampler device.SamplerID
	target  device.RenderTargetID
	output  device.TextureID
}

var _ Pass = &PostProcessPass{}

// NewPostProcessPass creates the tonemapping program, its sampler and a width x height target.
//
// Parameters:
//   - r: the renderer
//   - width: the target width in pixels
//   - height: the target height in pixels
//
// Returns:
//   - *PostProcessPass: the pass
//   - error: an error if a resource could not be created
func NewPostProcessPass(r Renderer, width, height uint32) (*PostProcessPass, error) {
	p := &PostProcessPass{r: r}

	var err error
	if p.shader, err = r.CreateShader(FullScreenDescriptor("Tonemapping")); err != nil {
		return nil, fmt.Errorf("post process pass: %w", err)
	}
	if p.sampler, err = r.CreateSampler(device.SamplerDescriptor{Label: "Tonemapping Sampler"}); err != nil {
		return nil, fmt.Errorf("post process pass: %w", err)
	}
	if p.target, p.output, err = r.CreateRenderTarget("Tonemapping", width, height); err != nil {
		return nil, fmt.Errorf("post process pass: %w", err)
	}
	return p, nil
}

func (p *PostProcessPass) Name() string {
	return "Tonemapping"
}

// Output returns the tonemapped texture.
func (p *PostProcessPass) Output() device.TextureID {
	return p.output
}

// Render tonemaps input.
//
// Parameters:
//   - input: the color texture to tonemap
//   - settings: the tonemapping settings
//
// Returns:
//   - error: the first renderer error
func (p *PostProcessPass) Render(input device.TextureID, settings TonemappingSettings) error {
	if err := p.r.SetShader(p.shader); err != nil {
		return err
	}
	if err := p.r.BindRenderTarget(p.target); err != nil {
		return err
	}
	if err := p.r.UnbindDepthTarget(); err != nil {
		return err
	}
	if err := p.r.SetSampler("Sampler", p.sampler); err != nil {
		return err
	}
	if err := p.r.SetConstant1f("exposure", settings.Exposure); err != nil {
		return err
	}
	if err := p.r.SetConstant1f("isHDR", boolf(settings.HDREnabled)); err != nil {
		return err
	}
	if err := p.r.SetTexture("ColorTexture", input); err != nil {
		return err
	}
	single := int32(0)
	if settings.SingleChannel {
		single = 1
	}
	if err := p.r.SetConstant1i("isSingleChannel", single); err != nil {
		return err
	}
	return p.r.Draw(FullScreenVertexCount, 1)
}

func boolf(b bool) float32 {
	if b {
		return 1
	}
	return 0
}
