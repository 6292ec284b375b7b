package vkcore

import (
	"github.com/pkg/errors"

	"github.com/celer/vkcore/hal"
	"github.com/celer/vkcore/spirv"
)

type (
	PrimitiveTopology = hal.PrimitiveTopology
	PolygonMode       = hal.PolygonMode
	CullMode          = hal.CullMode
	FrontFace         = hal.FrontFace
	CompareOp         = hal.CompareOp
	BlendAttachment   = hal.BlendAttachment
	VertexBinding     = hal.VertexBinding
	VertexAttribute   = hal.VertexAttribute
	Viewport          = hal.Viewport
	Rect              = hal.Rect
)

const (
	TopologyTriangleList  = hal.TopologyTriangleList
	TopologyTriangleStrip = hal.TopologyTriangleStrip
	TopologyLineList      = hal.TopologyLineList
	TopologyPointList     = hal.TopologyPointList

	PolygonFill  = hal.PolygonFill
	PolygonLine  = hal.PolygonLine
	PolygonPoint = hal.PolygonPoint

	CullNone         = hal.CullNone
	CullFront        = hal.CullFront
	CullBack         = hal.CullBack
	CullFrontAndBack = hal.CullFrontAndBack

	FrontFaceCounterClockwise = hal.FrontFaceCounterClockwise
	FrontFaceClockwise        = hal.FrontFaceClockwise

	CompareLess        = hal.CompareLess
	CompareLessOrEqual = hal.CompareLessOrEqual
	CompareAlways      = hal.CompareAlways
)

// GraphicsPipelineConfig is a utility object to ease construction of graphics pipelines
type GraphicsPipelineConfig struct {
	Device   *Device
	Vertex   Stage
	Fragment Stage

	// PipelineLayout defaults to one derived from the stages.
	PipelineLayout *PipelineLayout

	RenderPass *RenderPass
	Subpass    int

	VertexBindings   []VertexBinding
	VertexAttributes []VertexAttribute

	// PrimitiveTopology defaults to TopologyTriangleList
	PrimitiveTopology PrimitiveTopology

	// PolygonMode defaults to PolygonFill
	PolygonMode PolygonMode

	// LineWidth of rasterized lines, defaults to 1.0
	LineWidth float32

	// CullMode defaults to CullBack
	CullMode CullMode

	// FrontFace defaults to FrontFaceCounterClockwise
	FrontFace FrontFace

	// Viewport must be set, see SetViewport. Scissor defaults to the
	// viewport rectangle.
	Viewport *Viewport
	Scissor  *Rect

	// Samples per pixel, defaults to 1
	Samples int

	// DepthTestEnable defaults to true, it has no effect without a depth
	// attachment.
	DepthTestEnable bool
	// DepthWriteEnable defaults to true
	DepthWriteEnable bool
	// DepthCompare defaults to CompareLess
	DepthCompare CompareOp

	// BlendAttachments, one per color attachment of the subpass. Empty
	// means no blending with every channel written.
	BlendAttachments []BlendAttachment
}

// CreateGraphicsPipelineConfig creates a new config object
func (d *Device) CreateGraphicsPipelineConfig() *GraphicsPipelineConfig {
	return &GraphicsPipelineConfig{
		Device:            d,
		PrimitiveTopology: TopologyTriangleList,
		PolygonMode:       PolygonFill,
		LineWidth:         1.0,
		CullMode:          CullBack,
		FrontFace:         FrontFaceCounterClockwise,
		Samples:           1,
		DepthTestEnable:   true,
		DepthWriteEnable:  true,
		DepthCompare:      CompareLess,
	}
}

// SetShaderStages sets the vertex and fragment stages
func (g *GraphicsPipelineConfig) SetShaderStages(vertex, fragment Stage) *GraphicsPipelineConfig {
	g.Vertex, g.Fragment = vertex, fragment
	return g
}

// SetPipelineLayout sets the pipeline layout
func (g *GraphicsPipelineConfig) SetPipelineLayout(layout *PipelineLayout) *GraphicsPipelineConfig {
	g.PipelineLayout = layout
	return g
}

// SetRenderPass sets the render pass and subpass the pipeline draws in
func (g *GraphicsPipelineConfig) SetRenderPass(rp *RenderPass, subpass int) *GraphicsPipelineConfig {
	g.RenderPass, g.Subpass = rp, subpass
	return g
}

// SetCullMode sets the cull mode
func (g *GraphicsPipelineConfig) SetCullMode(mode CullMode) *GraphicsPipelineConfig {
	g.CullMode = mode
	return g
}

// SetFrontFace sets the winding of front facing triangles
func (g *GraphicsPipelineConfig) SetFrontFace(f FrontFace) *GraphicsPipelineConfig {
	g.FrontFace = f
	return g
}

// SetTopology sets the primitive topology
func (g *GraphicsPipelineConfig) SetTopology(t PrimitiveTopology) *GraphicsPipelineConfig {
	g.PrimitiveTopology = t
	return g
}

// SetViewport sets a viewport and scissor covering width x height
func (g *GraphicsPipelineConfig) SetViewport(width, height uint32) *GraphicsPipelineConfig {
	g.Viewport = &Viewport{Width: float32(width), Height: float32(height), MaxDepth: 1}
	g.Scissor = &Rect{Width: width, Height: height}
	return g
}

// SetDepth configures the depth test
func (g *GraphicsPipelineConfig) SetDepth(test, write bool, compare CompareOp) *GraphicsPipelineConfig {
	g.DepthTestEnable, g.DepthWriteEnable, g.DepthCompare = test, write, compare
	return g
}

// AddBlendAttachment adds a new blend attachment
func (g *GraphicsPipelineConfig) AddBlendAttachment(ba BlendAttachment) *GraphicsPipelineConfig {
	g.BlendAttachments = append(g.BlendAttachments, ba)
	return g
}

// AddVertexBinding adds one vertex buffer binding and its attributes
func (g *GraphicsPipelineConfig) AddVertexBinding(b VertexBinding, attrs ...VertexAttribute) *GraphicsPipelineConfig {
	g.VertexBindings = append(g.VertexBindings, b)
	g.VertexAttributes = append(g.VertexAttributes, attrs...)
	return g
}

// AddVertexDescriptor adds vertex descriptors based off the specified interface
func (g *GraphicsPipelineConfig) AddVertexDescriptor(binding int, v VertexDescriptor) *GraphicsPipelineConfig {
	return g.AddVertexBinding(v.BindingDescription(binding), v.AttributeDescriptions(binding)...)
}

// validateVertexInput checks the attributes against the vertex stage's
// inputs: one attribute per input at the same location, a format of the
// same numeric class and width, and a binding whose stride holds it.
func (g *GraphicsPipelineConfig) validateVertexInput(inputs []spirv.Variable) error {
	lim := g.Device.Limits()
	if len(g.VertexAttributes) > lim.MaxVertexInputAttributes || len(g.VertexBindings) > lim.MaxVertexInputBindings {
		return errors.Wrapf(ErrPipelineCreationFailed, "%d attributes over %d bindings exceeds device limits",
			len(g.VertexAttributes), len(g.VertexBindings))
	}
	if len(g.VertexAttributes) != len(inputs) {
		return errors.Wrapf(ErrVertexInputMismatch, "%d attributes for %d shader inputs", len(g.VertexAttributes), len(inputs))
	}
	bindings := map[int]VertexBinding{}
	for _, b := range g.VertexBindings {
		if _, dup := bindings[b.Binding]; dup {
			return errors.Wrapf(ErrVertexInputMismatch, "binding %d described twice", b.Binding)
		}
		bindings[b.Binding] = b
	}
	attrs := map[int]VertexAttribute{}
	for _, a := range g.VertexAttributes {
		if _, dup := attrs[a.Location]; dup {
			return errors.Wrapf(ErrVertexInputMismatch, "location %d described twice", a.Location)
		}
		attrs[a.Location] = a
	}
	for _, in := range inputs {
		a, ok := attrs[int(in.Location)]
		if !ok {
			return errors.Wrapf(ErrVertexInputMismatch, "no attribute for input %q at location %d", in.Name, in.Location)
		}
		if !formatMatchesVariable(a.Format, in) {
			return errors.Wrapf(ErrVertexInputMismatch, "location %d: attribute format %v, shader reads %v", a.Location, a.Format, variableFormat(in))
		}
		b, ok := bindings[a.Binding]
		if !ok {
			return errors.Wrapf(ErrVertexInputMismatch, "location %d uses undescribed binding %d", a.Location, a.Binding)
		}
		if !inBounds(uint64(a.Offset), uint64(a.Format.Size()), uint64(b.Stride)) {
			return errors.Wrapf(ErrVertexInputMismatch, "location %d: %d bytes at offset %d overflow stride %d", a.Location, a.Format.Size(), a.Offset, b.Stride)
		}
	}
	return nil
}

// validateStageInterface checks that every fragment input is written by
// the vertex stage and every fragment output lands on a color attachment
// of a matching numeric class.
func (g *GraphicsPipelineConfig) validateStageInterface(vs, fs *spirv.EntryPoint, colors []Format) error {
	outs := map[uint32]spirv.Variable{}
	for _, o := range vs.Outputs {
		outs[o.Location] = o
	}
	for _, in := range fs.Inputs {
		o, ok := outs[in.Location]
		if !ok {
			return errors.Wrapf(ErrShaderInterfaceMismatch, "fragment input %q at location %d is not written by the vertex stage", in.Name, in.Location)
		}
		if o.Type != in.Type || o.Components != in.Components {
			return errors.Wrapf(ErrShaderInterfaceMismatch, "location %d: vertex writes %v, fragment reads %v", in.Location, variableFormat(o), variableFormat(in))
		}
	}
	for _, o := range fs.Outputs {
		if int(o.Location) >= len(colors) {
			return errors.Wrapf(ErrShaderInterfaceMismatch, "fragment output %d has no color attachment (subpass has %d)", o.Location, len(colors))
		}
		f := colors[o.Location]
		integer := f.ComponentType() == hal.ComponentUint || f.ComponentType() == hal.ComponentSint
		if integer != (o.Type != spirv.Float) {
			return errors.Wrapf(ErrShaderInterfaceMismatch, "fragment output %d writes %v into a %v attachment", o.Location, variableFormat(o), f)
		}
	}
	return nil
}

// halDesc validates the config against its stages and render pass and
// assembles the backend description.
func (g *GraphicsPipelineConfig) halDesc(layout *PipelineLayout) (*hal.GraphicsPipelineDesc, error) {
	rp := g.RenderPass
	if rp == nil {
		return nil, errors.Wrap(ErrPipelineCreationFailed, "no render pass")
	}
	if g.Subpass < 0 || g.Subpass >= len(rp.Config.Subpasses) {
		return nil, errors.Wrapf(ErrPipelineCreationFailed, "subpass %d of %d", g.Subpass, len(rp.Config.Subpasses))
	}
	if g.Viewport == nil {
		return nil, errors.Wrap(ErrPipelineCreationFailed, "no viewport")
	}
	samples := max(g.Samples, 1)
	sp := rp.Config.Subpasses[g.Subpass]
	colors := make([]Format, len(sp.ColorAttachments))
	for i, c := range sp.ColorAttachments {
		colors[i] = rp.Config.Attachments[c].Format
		if s := rp.Config.Attachments[c].Samples; s != samples {
			return nil, errors.Wrapf(ErrPipelineCreationFailed, "pipeline samples %d, attachment %d has %d", samples, c, s)
		}
	}
	if len(g.BlendAttachments) != 0 && len(g.BlendAttachments) != len(colors) {
		return nil, errors.Wrapf(ErrPipelineCreationFailed, "%d blend attachments for %d color attachments", len(g.BlendAttachments), len(colors))
	}
	if err := g.validateVertexInput(g.Vertex.entry.Inputs); err != nil {
		return nil, err
	}
	if g.Fragment.valid() {
		if err := g.validateStageInterface(g.Vertex.entry, g.Fragment.entry, colors); err != nil {
			return nil, err
		}
	}

	blend := append([]BlendAttachment(nil), g.BlendAttachments...)
	if len(blend) == 0 {
		for range colors {
			blend = append(blend, BlendAttachment{WriteMask: hal.ColorMaskAll})
		}
	}
	scissor := Rect{Width: uint32(g.Viewport.Width), Height: uint32(g.Viewport.Height)}
	if g.Scissor != nil {
		scissor = *g.Scissor
	}
	desc := &hal.GraphicsPipelineDesc{
		Stages:           []hal.StageDesc{g.Vertex.halDesc()},
		VertexBindings:   append([]VertexBinding(nil), g.VertexBindings...),
		VertexAttributes: append([]VertexAttribute(nil), g.VertexAttributes...),
		Topology:         g.PrimitiveTopology,
		Viewport:         *g.Viewport,
		Scissor:          scissor,
		Rasterization: hal.RasterizationState{
			PolygonMode: g.PolygonMode,
			CullMode:    g.CullMode,
			FrontFace:   g.FrontFace,
			LineWidth:   g.LineWidth,
		},
		Multisample: hal.MultisampleState{Samples: samples},
		Depth: hal.DepthState{
			TestEnable:  g.DepthTestEnable && sp.UseDepth,
			WriteEnable: g.DepthWriteEnable && sp.UseDepth,
			Compare:     g.DepthCompare,
		},
		Blend:      blend,
		Layout:     layout.HAL,
		RenderPass: rp.HAL,
		Subpass:    g.Subpass,
	}
	if g.Fragment.valid() {
		desc.Stages = append(desc.Stages, g.Fragment.halDesc())
	}
	return desc, nil
}
