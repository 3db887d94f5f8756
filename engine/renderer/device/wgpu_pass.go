package device

import (
	"fmt"
	"slices"

	"github.com/cogentcore/webgpu/wgpu"
)

const (
	colorTargetFormat = wgpu.TextureFormatRGBA8Unorm
	depthTargetFormat = wgpu.TextureFormatDepth32Float
)

// wgpuPipelineKey identifies a render pipeline by its stage modules and depth attachment.
type wgpuPipelineKey struct {
	vertex *wgpuModule
	pixel  *wgpuModule
	depth  bool
}

// wgpuPipeline is a render pipeline with the bind group layouts it was created with.
// layouts is indexed by group; groups no module uses get an empty layout.
type wgpuPipeline struct {
	pipeline *wgpu.RenderPipeline
	layout   *wgpu.PipelineLayout
	layouts  []*wgpu.BindGroupLayout
}

func (p *wgpuPipeline) release() {
	p.pipeline.Release()
	p.layout.Release()
	for _, l := range p.layouts {
		l.Release()
	}
}

// boundEntry is one merged @group / @binding and the stage slot that feeds it.
type boundEntry struct {
	stage   Stage
	binding ModuleBinding
	layout  wgpu.BindGroupLayoutEntry
}

// shaderStage maps a device stage to the WebGPU visibility flag.
func shaderStage(stage Stage) wgpu.ShaderStage {
	switch stage {
	case StageVertex:
		return wgpu.ShaderStageVertex
	case StagePixel:
		return wgpu.ShaderStageFragment
	case StageCompute:
		return wgpu.ShaderStageCompute
	default:
		return wgpu.ShaderStageNone
	}
}

// layoutEntry builds the bind group layout entry of a module binding.
func layoutEntry(stage Stage, b ModuleBinding) wgpu.BindGroupLayoutEntry {
	e := wgpu.BindGroupLayoutEntry{
		Binding:    b.Binding,
		Visibility: shaderStage(stage),
	}
	switch b.Kind {
	case BindingConstantBuffer:
		e.Buffer = wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeUniform}
	case BindingTexture:
		e.Texture = wgpu.TextureBindingLayout{
			SampleType:    wgpu.TextureSampleTypeFloat,
			ViewDimension: wgpu.TextureViewDimension2D,
		}
	case BindingSampler:
		e.Sampler = wgpu.SamplerBindingLayout{Type: wgpu.SamplerBindingTypeFiltering}
	}
	return e
}

// mergeBindings merges the bindings of every module by group and binding number. A binding
// declared by several stages is fed by the first stage's slot and visible to all of them.
// Entries of each group are sorted by binding.
func mergeBindings(modules ...*wgpuModule) map[uint32][]boundEntry {
	merged := make(map[uint32][]boundEntry)
	for _, m := range modules {
		if m == nil {
			continue
		}
		for _, b := range m.bindings {
			entries := merged[b.Group]
			i := slices.IndexFunc(entries, func(e boundEntry) bool { return e.binding.Binding == b.Binding })
			if i >= 0 {
				entries[i].layout.Visibility |= shaderStage(m.stage)
				continue
			}
			merged[b.Group] = append(entries, boundEntry{
				stage:   m.stage,
				binding: b,
				layout:  layoutEntry(m.stage, b),
			})
		}
	}
	for g := range merged {
		slices.SortFunc(merged[g], func(a, b boundEntry) int {
			return int(a.binding.Binding) - int(b.binding.Binding)
		})
	}
	return merged
}

// groupCount returns one past the highest group index in merged.
func groupCount(merged map[uint32][]boundEntry) int {
	n := 0
	for g := range merged {
		n = max(n, int(g)+1)
	}
	return n
}

// activeModules returns the bound vertex and pixel modules. Caller holds d.mu.
func (d *WGPUDevice) activeModules() (vertex, pixel *wgpuModule) {
	for _, m := range d.boundModules {
		wm := m.(*wgpuModule)
		switch wm.stage {
		case StageVertex:
			vertex = wm
		case StagePixel:
			pixel = wm
		}
	}
	return vertex, pixel
}

// renderPipeline returns the cached pipeline of the bound modules, creating it on first use.
// Caller holds d.mu.
func (d *WGPUDevice) renderPipeline(key wgpuPipelineKey) (*wgpuPipeline, error) {
	if p, ok := d.pipelines[key]; ok {
		return p, nil
	}
	merged := mergeBindings(key.vertex, key.pixel)
	label := key.vertex.label

	p := &wgpuPipeline{}
	fail := func(err error) (*wgpuPipeline, error) {
		for _, l := range p.layouts {
			l.Release()
		}
		if p.layout != nil {
			p.layout.Release()
		}
		return nil, err
	}

	for g := range groupCount(merged) {
		entries := make([]wgpu.BindGroupLayoutEntry, 0, len(merged[uint32(g)]))
		for _, e := range merged[uint32(g)] {
			entries = append(entries, e.layout)
		}
		layout, err := d.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s group %d", label, g),
			Entries: entries,
		})
		if err != nil {
			return fail(fmt.Errorf("failed to create bind group layout %d of %q: %w", g, label, err))
		}
		p.layouts = append(p.layouts, layout)
	}

	layout, err := d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: p.layouts,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to create pipeline layout of %q: %w", label, err))
	}
	p.layout = layout

	desc := &wgpu.RenderPipelineDescriptor{
		Label:  label + " Render Pipeline",
		Layout: layout,
		Vertex: wgpu.VertexState{
			Module:     key.vertex.module,
			EntryPoint: key.vertex.entryPoint,
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	}
	if key.pixel != nil {
		desc.Fragment = &wgpu.FragmentState{
			Module:     key.pixel.module,
			EntryPoint: key.pixel.entryPoint,
			Targets: []wgpu.ColorTargetState{{
				Format:    colorTargetFormat,
				WriteMask: wgpu.ColorWriteMaskAll,
			}},
		}
	}
	if key.depth {
		desc.DepthStencil = &wgpu.DepthStencilState{
			Format:            depthTargetFormat,
			DepthWriteEnabled: true,
			DepthCompare:      wgpu.CompareFunctionLessEqual,
			StencilFront:      wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
			StencilBack:       wgpu.StencilFaceState{Compare: wgpu.CompareFunctionAlways},
		}
	}
	rp, err := d.device.CreateRenderPipeline(desc)
	if err != nil {
		return fail(fmt.Errorf("failed to create render pipeline of %q: %w", label, err))
	}
	p.pipeline = rp

	d.pipelines[key] = p
	return p, nil
}

// bindGroups assembles one bind group per pipeline group from the current stage slot
// bindings. Caller holds d.mu and releases the groups after submission.
func (d *WGPUDevice) bindGroups(key wgpuPipelineKey, p *wgpuPipeline) ([]*wgpu.BindGroup, error) {
	merged := mergeBindings(key.vertex, key.pixel)
	groups := make([]*wgpu.BindGroup, 0, len(p.layouts))
	release := func() {
		for _, g := range groups {
			g.Release()
		}
	}

	for gi, layout := range p.layouts {
		entries := make([]wgpu.BindGroupEntry, 0, len(merged[uint32(gi)]))
		for _, e := range merged[uint32(gi)] {
			entry, err := d.bindGroupEntry(e)
			if err != nil {
				release()
				return nil, err
			}
			entries = append(entries, entry)
		}
		g, err := d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:   fmt.Sprintf("%s group %d", key.vertex.label, gi),
			Layout:  layout,
			Entries: entries,
		})
		if err != nil {
			release()
			return nil, fmt.Errorf("failed to create bind group %d of %q: %w", gi, key.vertex.label, err)
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// bindGroupEntry resolves the resource bound at the entry's stage slot. Caller holds d.mu.
func (d *WGPUDevice) bindGroupEntry(e boundEntry) (wgpu.BindGroupEntry, error) {
	bp := BindPoint{Stage: e.stage, Slot: e.binding.Slot}
	entry := wgpu.BindGroupEntry{Binding: e.binding.Binding}
	unbound := func() (wgpu.BindGroupEntry, error) {
		return entry, fmt.Errorf("%s %s slot %d (@group(%d) @binding(%d)): %w",
			e.stage, e.binding.Kind, e.binding.Slot, e.binding.Group, e.binding.Binding, ErrUnboundResource)
	}

	switch e.binding.Kind {
	case BindingConstantBuffer:
		b, ok := d.constantBuffers[bp]
		if !ok || b.released {
			return unbound()
		}
		entry.Buffer = b.buffer
		entry.Size = uint64(len(b.staging))
	case BindingTexture:
		tex, ok := d.boundTextures[bp]
		if !ok {
			return unbound()
		}
		entry.TextureView = d.textureViews[tex]
	case BindingSampler:
		s, ok := d.boundSamplers[bp]
		if !ok {
			return unbound()
		}
		entry.Sampler = d.samplers[s]
	}
	return entry, nil
}

// passDescriptor describes a render pass over the bound render target. The first pass after
// BindRenderTarget clears each attachment it writes; later passes load them. Caller holds d.mu.
func (d *WGPUDevice) passDescriptor(key wgpuPipelineKey) *wgpu.RenderPassDescriptor {
	rt := d.renderTargets[d.renderTarget]
	loadOp := func(clear bool) wgpu.LoadOp {
		if clear {
			return wgpu.LoadOpClear
		}
		return wgpu.LoadOpLoad
	}

	desc := &wgpu.RenderPassDescriptor{Label: key.vertex.label}
	if key.pixel != nil {
		desc.ColorAttachments = []wgpu.RenderPassColorAttachment{{
			View:       rt.colorView,
			LoadOp:     loadOp(d.clearColor),
			StoreOp:    wgpu.StoreOpStore,
			ClearValue: wgpu.Color{A: 1},
		}}
	}
	if key.depth {
		desc.DepthStencilAttachment = &wgpu.RenderPassDepthStencilAttachment{
			View:            rt.depthView,
			DepthLoadOp:     loadOp(d.clearDepth),
			DepthStoreOp:    wgpu.StoreOpStore,
			DepthClearValue: 1,
			StencilLoadOp:   wgpu.LoadOpUndefined,
			StencilStoreOp:  wgpu.StoreOpUndefined,
		}
	}
	return desc
}

// encodeDraw records one render pass with a single draw over the bound target and submits it.
// Caller holds d.mu.
func (d *WGPUDevice) encodeDraw(vertexCount, instanceCount int) error {
	if !d.hasRenderTarget {
		return ErrNoRenderPass
	}
	vertex, pixel := d.activeModules()
	if vertex == nil {
		return fmt.Errorf("no vertex module bound: %w", ErrNoRenderPass)
	}
	key := wgpuPipelineKey{vertex: vertex, pixel: pixel, depth: d.depthBound}
	if pixel == nil && !key.depth {
		return fmt.Errorf("pass of %q has no attachments: %w", vertex.label, ErrNoRenderPass)
	}

	p, err := d.renderPipeline(key)
	if err != nil {
		return err
	}
	groups, err := d.bindGroups(key, p)
	if err != nil {
		return err
	}
	defer func() {
		for _, g := range groups {
			g.Release()
		}
	}()

	encoder, err := d.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: vertex.label})
	if err != nil {
		return fmt.Errorf("failed to create command encoder: %w", err)
	}
	defer encoder.Release()

	pass := encoder.BeginRenderPass(d.passDescriptor(key))
	pass.SetPipeline(p.pipeline)
	for i, g := range groups {
		pass.SetBindGroup(uint32(i), g, nil)
	}
	pass.Draw(uint32(vertexCount), uint32(instanceCount), 0, 0)
	err = pass.End()
	pass.Release()
	if err != nil {
		return fmt.Errorf("failed to end render pass: %w", err)
	}

	cmd, err := encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("failed to finish command buffer: %w", err)
	}
	d.queue.Submit(cmd)
	cmd.Release()

	if pixel != nil {
		d.clearColor = false
	}
	if key.depth {
		d.clearDepth = false
	}
	return nil
}

// forgetModule releases every cached pipeline built from m.
func (d *WGPUDevice) forgetModule(m *wgpuModule) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, p := range d.pipelines {
		if key.vertex == m || key.pixel == m {
			p.release()
			delete(d.pipelines, key)
		}
	}
}
