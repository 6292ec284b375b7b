package soft

import (
	"github.com/pkg/errors"

	"github.com/celer/vkcore/hal"
	"github.com/celer/vkcore/spirv"
)

type shaderModule struct {
	module *spirv.Module
}

func (m *shaderModule) Destroy() {}

type setLayout struct {
	bindings map[int]hal.LayoutBinding
}

func (l *setLayout) Destroy() {}

type pipelineLayout struct {
	sets []*setLayout
}

func (l *pipelineLayout) Destroy() {}

type computePipeline struct {
	layout    *pipelineLayout
	program   ComputeFunc
	localSize [3]uint32
}

func (p *computePipeline) Destroy() {}

type graphicsPipeline struct {
	desc     hal.GraphicsPipelineDesc
	layout   *pipelineLayout
	pass     *renderPass
	vertex   VertexFunc
	fragment FragmentFunc
}

func (p *graphicsPipeline) Destroy() {}

type renderPass struct {
	desc hal.RenderPassDesc
}

func (r *renderPass) Destroy() {}

type framebuffer struct {
	pass          *renderPass
	views         []*imageView
	width, height uint32
}

func (f *framebuffer) Destroy() {}

func (d *device) entryPoint(m hal.ShaderModule, name string, model spirv.ExecutionModel) (*spirv.EntryPoint, error) {
	sm, ok := m.(*shaderModule)
	if !ok {
		return nil, hal.ErrInvalidHandle
	}
	ep, ok := sm.module.EntryPoint(name)
	if !ok || ep.Model != model {
		return nil, errors.Wrapf(hal.ErrInvalidHandle, "module has no %v entry point %q", model, name)
	}
	return ep, nil
}

func (d *device) CreateComputePipeline(desc *hal.ComputePipelineDesc) (hal.Pipeline, error) {
	ep, err := d.entryPoint(desc.Module, desc.EntryPoint, spirv.ModelGLCompute)
	if err != nil {
		return nil, err
	}
	lim := d.adapter.limits.MaxComputeWorkGroupSize
	for i, n := range ep.LocalSize {
		if n == 0 || n > lim[i] {
			return nil, errors.Wrapf(hal.ErrLimitExceeded, "local size %v", ep.LocalSize)
		}
	}
	layout, ok := desc.Layout.(*pipelineLayout)
	if !ok {
		return nil, hal.ErrInvalidHandle
	}
	prog, err := d.adapter.backend.program(desc.EntryPoint)
	if err != nil {
		return nil, err
	}
	if prog.Compute == nil {
		return nil, errors.Wrapf(hal.ErrUnknownProgram, "%q has no compute program", desc.EntryPoint)
	}
	return &computePipeline{layout: layout, program: prog.Compute, localSize: ep.LocalSize}, nil
}

func (d *device) CreateGraphicsPipeline(desc *hal.GraphicsPipelineDesc) (hal.Pipeline, error) {
	if desc.Topology != hal.TopologyTriangleList && desc.Topology != hal.TopologyTriangleStrip {
		return nil, errors.Wrap(hal.ErrUnsupported, "only triangle topologies are rasterized")
	}
	if desc.Rasterization.PolygonMode != hal.PolygonFill {
		return nil, errors.Wrap(hal.ErrUnsupported, "only filled polygons are rasterized")
	}
	if desc.Multisample.Samples > 1 {
		return nil, errors.Wrap(hal.ErrUnsupported, "multisampling")
	}
	layout, ok := desc.Layout.(*pipelineLayout)
	if !ok {
		return nil, hal.ErrInvalidHandle
	}
	rp, ok := desc.RenderPass.(*renderPass)
	if !ok || desc.Subpass < 0 || desc.Subpass >= len(rp.desc.Subpasses) {
		return nil, errors.Wrap(hal.ErrInvalidHandle, "render pass or subpass")
	}
	p := &graphicsPipeline{desc: *desc, layout: layout, pass: rp}
	for _, s := range desc.Stages {
		switch s.Stage {
		case hal.StageVertex:
			if _, err := d.entryPoint(s.Module, s.EntryPoint, spirv.ModelVertex); err != nil {
				return nil, err
			}
			prog, err := d.adapter.backend.program(s.EntryPoint)
			if err != nil {
				return nil, err
			}
			p.vertex = prog.Vertex
		case hal.StageFragment:
			if _, err := d.entryPoint(s.Module, s.EntryPoint, spirv.ModelFragment); err != nil {
				return nil, err
			}
			prog, err := d.adapter.backend.program(s.EntryPoint)
			if err != nil {
				return nil, err
			}
			p.fragment = prog.Fragment
		default:
			return nil, errors.Wrapf(hal.ErrUnsupported, "stage %v in graphics pipeline", s.Stage)
		}
	}
	if p.vertex == nil {
		return nil, errors.Wrap(hal.ErrUnknownProgram, "graphics pipeline without vertex program")
	}
	return p, nil
}

func (d *device) CreateRenderPass(desc *hal.RenderPassDesc) (hal.RenderPass, error) {
	if len(desc.Subpasses) == 0 {
		return nil, errors.Wrap(hal.ErrInvalidHandle, "render pass without subpasses")
	}
	for _, sp := range desc.Subpasses {
		if len(sp.ColorAttachments) > d.adapter.limits.MaxColorAttachments {
			return nil, errors.Wrapf(hal.ErrLimitExceeded, "%d color attachments", len(sp.ColorAttachments))
		}
		for _, a := range sp.ColorAttachments {
			if a < 0 || a >= len(desc.Attachments) {
				return nil, errors.Wrapf(hal.ErrInvalidHandle, "color attachment %d", a)
			}
		}
		if sp.DepthAttachment >= len(desc.Attachments) {
			return nil, errors.Wrapf(hal.ErrInvalidHandle, "depth attachment %d", sp.DepthAttachment)
		}
	}
	c := *desc
	c.Attachments = append([]hal.AttachmentDesc(nil), desc.Attachments...)
	c.Subpasses = append([]hal.SubpassDesc(nil), desc.Subpasses...)
	return &renderPass{desc: c}, nil
}

func (d *device) CreateFramebuffer(desc *hal.FramebufferDesc) (hal.Framebuffer, error) {
	rp, ok := desc.RenderPass.(*renderPass)
	if !ok {
		return nil, hal.ErrInvalidHandle
	}
	if len(desc.Attachments) != len(rp.desc.Attachments) {
		return nil, errors.Wrapf(hal.ErrInvalidHandle, "%d views for %d attachments", len(desc.Attachments), len(rp.desc.Attachments))
	}
	fb := &framebuffer{pass: rp, width: desc.Width, height: desc.Height}
	for _, v := range desc.Attachments {
		iv, ok := v.(*imageView)
		if !ok {
			return nil, hal.ErrInvalidHandle
		}
		fb.views = append(fb.views, iv)
	}
	return fb, nil
}
