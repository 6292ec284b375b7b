package vulkan

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/celer/vkcore/hal"
)

type setLayout struct {
	device *device
	handle vk.DescriptorSetLayout
}

func (d *device) CreateDescriptorSetLayout(bindings []hal.LayoutBinding) (hal.DescriptorSetLayout, error) {
	vb := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		vb[i] = vk.DescriptorSetLayoutBinding{
			Binding:         uint32(b.Binding),
			DescriptorType:  descriptorType(b.Type),
			DescriptorCount: uint32(b.Count),
			StageFlags:      shaderStages(b.Stages),
		}
	}
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vb)),
		PBindings:    vb,
	}
	var l vk.DescriptorSetLayout
	if err := check(vk.CreateDescriptorSetLayout(d.handle, &info, nil, &l), "create descriptor set layout"); err != nil {
		return nil, err
	}
	return &setLayout{device: d, handle: l}, nil
}

func (l *setLayout) Destroy() {
	vk.DestroyDescriptorSetLayout(l.device.handle, l.handle, nil)
}

type pipelineLayout struct {
	device *device
	handle vk.PipelineLayout
}

func (d *device) CreatePipelineLayout(sets []hal.DescriptorSetLayout) (hal.PipelineLayout, error) {
	handles := make([]vk.DescriptorSetLayout, len(sets))
	for i, s := range sets {
		handles[i] = s.(*setLayout).handle
	}
	info := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(handles)),
		PSetLayouts:    handles,
	}
	var l vk.PipelineLayout
	if err := check(vk.CreatePipelineLayout(d.handle, &info, nil, &l), "create pipeline layout"); err != nil {
		return nil, err
	}
	return &pipelineLayout{device: d, handle: l}, nil
}

func (l *pipelineLayout) Destroy() {
	vk.DestroyPipelineLayout(l.device.handle, l.handle, nil)
}

type pipeline struct {
	device *device
	handle vk.Pipeline
}

func (p *pipeline) Destroy() {
	vk.DestroyPipeline(p.device.handle, p.handle, nil)
}

func (d *device) CreateComputePipeline(desc *hal.ComputePipelineDesc) (hal.Pipeline, error) {
	info := vk.ComputePipelineCreateInfo{
		SType:  vk.StructureTypeComputePipelineCreateInfo,
		Stage:  desc.Module.(*shaderModule).stage(hal.StageCompute, desc.EntryPoint),
		Layout: desc.Layout.(*pipelineLayout).handle,
	}
	pipelines := make([]vk.Pipeline, 1)
	err := check(vk.CreateComputePipelines(d.handle, d.cache, 1, []vk.ComputePipelineCreateInfo{info}, nil, pipelines), "create compute pipeline")
	if err != nil {
		return nil, err
	}
	return &pipeline{device: d, handle: pipelines[0]}, nil
}

func (d *device) CreateGraphicsPipeline(desc *hal.GraphicsPipelineDesc) (hal.Pipeline, error) {
	stages := make([]vk.PipelineShaderStageCreateInfo, len(desc.Stages))
	for i, s := range desc.Stages {
		stages[i] = s.Module.(*shaderModule).stage(s.Stage, s.EntryPoint)
	}

	bindings := make([]vk.VertexInputBindingDescription, len(desc.VertexBindings))
	for i, b := range desc.VertexBindings {
		rate := vk.VertexInputRateVertex
		if b.PerInstance {
			rate = vk.VertexInputRateInstance
		}
		bindings[i] = vk.VertexInputBindingDescription{Binding: uint32(b.Binding), Stride: b.Stride, InputRate: rate}
	}
	attributes := make([]vk.VertexInputAttributeDescription, len(desc.VertexAttributes))
	for i, a := range desc.VertexAttributes {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: uint32(a.Location),
			Binding:  uint32(a.Binding),
			Format:   format(a.Format),
			Offset:   a.Offset,
		}
	}
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: topology(desc.Topology),
	}

	v := desc.Viewport
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports: []vk.Viewport{{
			X: v.X, Y: v.Y, Width: v.Width, Height: v.Height,
			MinDepth: v.MinDepth, MaxDepth: v.MaxDepth,
		}},
		ScissorCount: 1,
		PScissors: []vk.Rect2D{{
			Offset: vk.Offset2D{X: desc.Scissor.X, Y: desc.Scissor.Y},
			Extent: vk.Extent2D{Width: desc.Scissor.Width, Height: desc.Scissor.Height},
		}},
	}

	r := desc.Rasterization
	lineWidth := r.LineWidth
	if lineWidth == 0 {
		lineWidth = 1
	}
	raster := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: polygonMode(r.PolygonMode),
		CullMode:    cullMode(r.CullMode),
		FrontFace:   frontFace(r.FrontFace),
		LineWidth:   lineWidth,
	}
	multisample := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: samples(desc.Multisample.Samples),
	}
	depth := vk.PipelineDepthStencilStateCreateInfo{
		SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:  bool32(desc.Depth.TestEnable),
		DepthWriteEnable: bool32(desc.Depth.WriteEnable),
		DepthCompareOp:   compareOps[desc.Depth.Compare],
		MaxDepthBounds:   1,
	}
	blends := make([]vk.PipelineColorBlendAttachmentState, len(desc.Blend))
	for i, b := range desc.Blend {
		blends[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable:         bool32(b.Enable),
			SrcColorBlendFactor: blendFactor(b.SrcColor),
			DstColorBlendFactor: blendFactor(b.DstColor),
			ColorBlendOp:        blendOp(b.ColorOp),
			SrcAlphaBlendFactor: blendFactor(b.SrcAlpha),
			DstAlphaBlendFactor: blendFactor(b.DstAlpha),
			AlphaBlendOp:        blendOp(b.AlphaOp),
			ColorWriteMask:      colorMask(b.WriteMask),
		}
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		AttachmentCount: uint32(len(blends)),
		PAttachments:    blends,
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &raster,
		PMultisampleState:   &multisample,
		PDepthStencilState:  &depth,
		PColorBlendState:    &colorBlend,
		Layout:              desc.Layout.(*pipelineLayout).handle,
		RenderPass:          desc.RenderPass.(*renderPass).handle,
		Subpass:             uint32(desc.Subpass),
	}
	pipelines := make([]vk.Pipeline, 1)
	err := check(vk.CreateGraphicsPipelines(d.handle, d.cache, 1, []vk.GraphicsPipelineCreateInfo{info}, nil, pipelines), "create graphics pipeline")
	if err != nil {
		return nil, err
	}
	return &pipeline{device: d, handle: pipelines[0]}, nil
}

type renderPass struct {
	device *device
	handle vk.RenderPass
	depth  []bool
}

func (d *device) CreateRenderPass(desc *hal.RenderPassDesc) (hal.RenderPass, error) {
	attachments := make([]vk.AttachmentDescription, len(desc.Attachments))
	depth := make([]bool, len(desc.Attachments))
	for i, a := range desc.Attachments {
		depth[i] = a.Format.IsDepth()
		initial := vk.ImageLayoutGeneral
		if a.Load != hal.LoadOpLoad {
			initial = vk.ImageLayoutUndefined
		}
		attachments[i] = vk.AttachmentDescription{
			Format:         format(a.Format),
			Samples:        samples(a.Samples),
			LoadOp:         loadOp(a.Load),
			StoreOp:        storeOp(a.Store),
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  initial,
			FinalLayout:    vk.ImageLayoutGeneral,
		}
	}
	subpasses := make([]vk.SubpassDescription, len(desc.Subpasses))
	for i, s := range desc.Subpasses {
		colors := make([]vk.AttachmentReference, len(s.ColorAttachments))
		for n, c := range s.ColorAttachments {
			colors[n] = vk.AttachmentReference{Attachment: uint32(c), Layout: vk.ImageLayoutColorAttachmentOptimal}
		}
		subpasses[i] = vk.SubpassDescription{
			PipelineBindPoint:    vk.PipelineBindPointGraphics,
			ColorAttachmentCount: uint32(len(colors)),
			PColorAttachments:    colors,
		}
		if s.DepthAttachment >= 0 {
			subpasses[i].PDepthStencilAttachment = &vk.AttachmentReference{
				Attachment: uint32(s.DepthAttachment),
				Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
			}
		}
	}
	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit | vk.PipelineStageEarlyFragmentTestsBit),
		SrcAccessMask: vk.AccessFlags(vk.AccessMemoryWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit | vk.AccessDepthStencilAttachmentWriteBit),
	}
	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    uint32(len(subpasses)),
		PSubpasses:      subpasses,
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}
	var rp vk.RenderPass
	if err := check(vk.CreateRenderPass(d.handle, &info, nil, &rp), "create render pass"); err != nil {
		return nil, err
	}
	return &renderPass{device: d, handle: rp, depth: depth}, nil
}

func (r *renderPass) Destroy() {
	vk.DestroyRenderPass(r.device.handle, r.handle, nil)
}

type framebuffer struct {
	device *device
	handle vk.Framebuffer
}

func (d *device) CreateFramebuffer(desc *hal.FramebufferDesc) (hal.Framebuffer, error) {
	views := make([]vk.ImageView, len(desc.Attachments))
	for i, v := range desc.Attachments {
		views[i] = v.(*imageView).handle
	}
	layers := desc.Layers
	if layers == 0 {
		layers = 1
	}
	info := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      desc.RenderPass.(*renderPass).handle,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           desc.Width,
		Height:          desc.Height,
		Layers:          layers,
	}
	var fb vk.Framebuffer
	if err := check(vk.CreateFramebuffer(d.handle, &info, nil, &fb), "create framebuffer"); err != nil {
		return nil, err
	}
	return &framebuffer{device: d, handle: fb}, nil
}

func (f *framebuffer) Destroy() {
	vk.DestroyFramebuffer(f.device.handle, f.handle, nil)
}

type descriptorPool struct {
	device *device
	handle vk.DescriptorPool
}

func (d *device) CreateDescriptorPool(desc *hal.DescriptorPoolDesc) (hal.DescriptorPool, error) {
	sizes := make([]vk.DescriptorPoolSize, 0, len(desc.Sizes))
	for _, s := range desc.Sizes {
		if s.Count == 0 {
			continue
		}
		sizes = append(sizes, vk.DescriptorPoolSize{Type: descriptorType(s.Type), DescriptorCount: uint32(s.Count)})
	}
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       uint32(desc.MaxSets),
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	var p vk.DescriptorPool
	if err := check(vk.CreateDescriptorPool(d.handle, &info, nil, &p), "create descriptor pool"); err != nil {
		return nil, err
	}
	return &descriptorPool{device: d, handle: p}, nil
}

func (p *descriptorPool) Allocate(layout hal.DescriptorSetLayout) (hal.DescriptorSet, error) {
	info := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.handle,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout.(*setLayout).handle},
	}
	var set vk.DescriptorSet
	res := vk.AllocateDescriptorSets(p.device.handle, &info, &set)
	if res == vk.ErrorOutOfPoolMemory || res == vk.ErrorFragmentedPool {
		return nil, errors.Wrap(hal.ErrTooManyObjects, "descriptor pool exhausted")
	}
	if err := check(res, "allocate descriptor set"); err != nil {
		return nil, err
	}
	return &descriptorSet{pool: p, handle: set}, nil
}

func (p *descriptorPool) Free(set hal.DescriptorSet) error {
	h := set.(*descriptorSet).handle
	return check(vk.FreeDescriptorSets(p.device.handle, p.handle, 1, &h), "free descriptor set")
}

func (p *descriptorPool) Reset() error {
	return check(vk.ResetDescriptorPool(p.device.handle, p.handle, 0), "reset descriptor pool")
}

func (p *descriptorPool) Destroy() {
	vk.DestroyDescriptorPool(p.device.handle, p.handle, nil)
}

type descriptorSet struct {
	pool   *descriptorPool
	handle vk.DescriptorSet
}

func (s *descriptorSet) Write(writes []hal.DescriptorWrite) error {
	vw := make([]vk.WriteDescriptorSet, len(writes))
	for i, w := range writes {
		vw[i] = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          s.handle,
			DstBinding:      uint32(w.Binding),
			DescriptorCount: 1,
			DescriptorType:  descriptorType(w.Type),
		}
		switch {
		case w.Type.IsBuffer():
			rng := vk.DeviceSize(w.Range)
			if w.Range == 0 {
				rng = vk.DeviceSize(vk.WholeSize)
			}
			vw[i].PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: w.Buffer.(*buffer).handle,
				Offset: vk.DeviceSize(w.Offset),
				Range:  rng,
			}}
		case w.Type == hal.DescriptorSampler:
			vw[i].PImageInfo = []vk.DescriptorImageInfo{{Sampler: s.pool.device.sampler}}
		default:
			vw[i].PImageInfo = []vk.DescriptorImageInfo{{
				Sampler:     s.pool.device.sampler,
				ImageView:   w.View.(*imageView).handle,
				ImageLayout: vk.ImageLayoutGeneral,
			}}
		}
	}
	vk.UpdateDescriptorSets(s.pool.device.handle, uint32(len(vw)), vw, 0, nil)
	return nil
}
