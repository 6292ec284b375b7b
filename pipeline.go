package vkcore

import (
	"github.com/pkg/errors"

	"github.com/celer/vkcore/hal"
)

type PipelineKind int

const (
	PipelineCompute PipelineKind = iota
	PipelineGraphics
)

func (k PipelineKind) String() string {
	if k == PipelineCompute {
		return "compute"
	}
	return "graphics"
}

// Pipeline is an immutable compute or graphics pipeline. It is safe to
// record into many command buffers concurrently.
type Pipeline struct {
	handle
	Device *Device
	HAL    hal.Pipeline
	Kind   PipelineKind
	Layout *PipelineLayout

	// graphics only
	RenderPass     *RenderPass
	Subpass        int
	VertexBindings []VertexBinding

	// compute only
	LocalSize [3]uint32
}

type ComputePipelineConfig struct {
	Shader Stage
	// Layout defaults to one derived from Shader.
	Layout *PipelineLayout
}

// resolveLayout returns given after checking it serves the stages, or a new
// layout derived from them. owned reports whether the caller must drop the
// returned handle once the pipeline retains it.
func (d *Device) resolveLayout(given *PipelineLayout, stages ...Stage) (layout *PipelineLayout, owned bool, err error) {
	derived, err := DerivePipelineLayout(stages...)
	if err != nil {
		return nil, false, err
	}
	if given == nil {
		layout, err = d.CreatePipelineLayout(derived)
		return layout, true, err
	}
	if err := given.check(); err != nil {
		return nil, false, err
	}
	if err := d.owns(given.Device); err != nil {
		return nil, false, err
	}
	if err := given.Desc.covers(derived); err != nil {
		return nil, false, err
	}
	return given, false, nil
}

// BuildComputePipeline builds a pipeline running one compute stage.
func (d *Device) BuildComputePipeline(cfg ComputePipelineConfig) (*Pipeline, error) {
	st := cfg.Shader
	if !st.valid() || st.Kind() != StageCompute {
		return nil, errors.Wrapf(ErrShaderInterfaceMismatch, "compute pipeline needs a compute stage, got %v", st.Kind())
	}
	if err := d.owns(st.Module.Device); err != nil {
		return nil, err
	}
	ls := st.entry.LocalSize
	lim := d.Limits().MaxComputeWorkGroupSize
	for i := range ls {
		if ls[i] == 0 || ls[i] > lim[i] {
			return nil, errors.Wrapf(ErrPipelineCreationFailed, "local size %v exceeds %v", ls, lim)
		}
	}
	layout, owned, err := d.resolveLayout(cfg.Layout, st)
	if err != nil {
		return nil, err
	}
	hp, err := d.HAL.CreateComputePipeline(&hal.ComputePipelineDesc{
		Module:     st.Module.HAL,
		EntryPoint: st.EntryPoint,
		Layout:     layout.HAL,
	})
	if err != nil {
		if owned {
			_ = layout.Release()
		}
		return nil, errors.Wrapf(translate(err, ErrPipelineCreationFailed), "compute pipeline %q", st.EntryPoint)
	}
	p := &Pipeline{
		handle:    newHandle(newLifetime(hp.Destroy, layout.life)),
		Device:    d,
		HAL:       hp,
		Kind:      PipelineCompute,
		Layout:    layout,
		LocalSize: ls,
	}
	if owned {
		_ = layout.Release()
	}
	d.log.Debug("compute pipeline built", "entry", st.EntryPoint, "layout", layout.Desc.String())
	return p, nil
}

// BuildGraphicsPipeline builds a pipeline from a vertex stage, an optional
// fragment stage and the fixed function state of cfg. Vertex input and
// stage interface mismatches are reported here rather than at draw time.
func (d *Device) BuildGraphicsPipeline(cfg *GraphicsPipelineConfig) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.Wrap(ErrPipelineCreationFailed, "nil graphics pipeline config")
	}
	if cfg.Device == nil {
		cfg.Device = d
	}
	if err := d.owns(cfg.Device); err != nil {
		return nil, errors.Wrap(err, "graphics pipeline config")
	}
	if !cfg.Vertex.valid() || cfg.Vertex.Kind() != StageVertex {
		return nil, errors.Wrapf(ErrShaderInterfaceMismatch, "vertex slot holds a %v stage", cfg.Vertex.Kind())
	}
	stages := []Stage{cfg.Vertex}
	if cfg.Fragment.Module != nil {
		if !cfg.Fragment.valid() || cfg.Fragment.Kind() != StageFragment {
			return nil, errors.Wrapf(ErrShaderInterfaceMismatch, "fragment slot holds a %v stage", cfg.Fragment.Kind())
		}
		stages = append(stages, cfg.Fragment)
	}
	for _, s := range stages {
		if err := d.owns(s.Module.Device); err != nil {
			return nil, err
		}
	}
	if cfg.RenderPass != nil {
		if err := d.owns(cfg.RenderPass.Device); err != nil {
			return nil, err
		}
	}

	layout, owned, err := d.resolveLayout(cfg.PipelineLayout, stages...)
	if err != nil {
		return nil, err
	}
	release := func() {
		if owned {
			_ = layout.Release()
		}
	}
	desc, err := cfg.halDesc(layout)
	if err != nil {
		release()
		return nil, err
	}
	hp, err := d.HAL.CreateGraphicsPipeline(desc)
	if err != nil {
		release()
		return nil, errors.Wrap(translate(err, ErrPipelineCreationFailed), "graphics pipeline")
	}
	p := &Pipeline{
		handle:         newHandle(newLifetime(hp.Destroy, layout.life, cfg.RenderPass.life)),
		Device:         d,
		HAL:            hp,
		Kind:           PipelineGraphics,
		Layout:         layout,
		RenderPass:     cfg.RenderPass,
		Subpass:        cfg.Subpass,
		VertexBindings: desc.VertexBindings,
	}
	release()
	d.log.Debug("graphics pipeline built", "vertex", cfg.Vertex.EntryPoint, "layout", layout.Desc.String())
	return p, nil
}

func (p *Pipeline) bindPoint() hal.BindPoint {
	if p.Kind == PipelineCompute {
		return hal.BindPointCompute
	}
	return hal.BindPointGraphics
}
