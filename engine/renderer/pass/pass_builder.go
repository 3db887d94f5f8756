package pass

// ShadowPassBuilderOption is a functional option applied to a ShadowPass during construction via NewShadowPass.
type ShadowPassBuilderOption func(*ShadowPass)

// WithShadowMapDimension sets the shadow map edge length in texels.
// Defaults to DefaultShadowMapDimension.
//
// Parameters:
//   - dim: the edge length
//
// Returns:
//   - ShadowPassBuilderOption: a function that applies the dimension option to a shadow pass
func WithShadowMapDimension(dim uint32) ShadowPassBuilderOption {
	return func(p *ShadowPass) {
		p.dimension = dim
	}
}

// WithInstanceCount sets how many objects one instanced depth draw covers. The value is compiled
// into the instanced program as INSTANCE_COUNT. Defaults to DefaultInstanceCount.
//
// Parameters:
//   - n: the batch size
//
// Returns:
//   - ShadowPassBuilderOption: a function that applies the instance count option to a shadow pass
func WithInstanceCount(n int) ShadowPassBuilderOption {
	return func(p *ShadowPass) {
		p.instanceCount = n
	}
}
