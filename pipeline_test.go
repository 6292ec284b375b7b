package vkcore

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celer/vkcore/spirv"
)

func module(t *testing.T, d *Device, b *spirv.Builder) *ShaderModule {
	t.Helper()
	m, err := d.CreateShaderModule(b.Build())
	require.NoError(t, err)
	t.Cleanup(m.Destroy)
	return m
}

func TestCreateShaderModuleRejectsGarbage(t *testing.T) {
	env := defaultEnv(t)
	_, err := env.device.CreateShaderModule([]uint32{1, 2, 3})
	assert.True(t, errors.Is(err, ErrInvalidShader), "got %v", err)

	m := computeModule(t, env.device, "times12")
	_, err = m.Stage("main")
	assert.True(t, errors.Is(err, ErrShaderInterfaceMismatch))

	bytes := spirv.NewBuilder(spirv.ModelGLCompute, "times12").LocalSize(1, 1, 1).Bytes()
	fromBytes, err := env.device.CreateShaderModuleFromBytes(bytes)
	require.NoError(t, err)
	fromBytes.Destroy()
}

func TestDerivePipelineLayout(t *testing.T) {
	env := defaultEnv(t)
	d := env.device
	vs := module(t, d, spirv.NewBuilder(spirv.ModelVertex, "vs").
		UniformBuffer(0, 0, "camera").Position()).MustStage("vs")
	fs := module(t, d, spirv.NewBuilder(spirv.ModelFragment, "fs").
		UniformBuffer(0, 0, "camera").
		CombinedImageSampler(0, 1, "albedo").
		StorageBuffer(2, 0, "lights").
		Output(0, spirv.Float, 4, "color")).MustStage("fs")

	a, err := DerivePipelineLayout(vs, fs)
	require.NoError(t, err)
	b, err := DerivePipelineLayout(fs, vs)
	require.NoError(t, err)
	assert.True(t, a.Equal(b), "%v != %v", a, b)

	require.Len(t, a.Sets, 3)
	assert.Empty(t, a.Sets[1].Bindings, "skipped sets stay empty")
	require.Len(t, a.Sets[0].Bindings, 2)
	camera := a.Sets[0].Bindings[0]
	assert.Equal(t, DescriptorUniformBuffer, camera.Type)
	assert.Equal(t, StageVertex|StageFragment, camera.Stages)
	albedo, ok := a.Slot(0, 1)
	require.True(t, ok)
	assert.Equal(t, DescriptorCombinedImageSampler, albedo.Type)
	assert.Equal(t, StageFragment, albedo.Stages)
	_, ok = a.Slot(1, 0)
	assert.False(t, ok)
}

func TestDerivePipelineLayoutConflicts(t *testing.T) {
	env := defaultEnv(t)
	d := env.device
	vs := module(t, d, spirv.NewBuilder(spirv.ModelVertex, "vs").StorageBuffer(0, 0, "data").Position()).MustStage("vs")
	fs := module(t, d, spirv.NewBuilder(spirv.ModelFragment, "fs").UniformBuffer(0, 0, "data")).MustStage("fs")
	_, err := DerivePipelineLayout(vs, fs)
	assert.True(t, errors.Is(err, ErrShaderInterfaceMismatch), "got %v", err)

	arrays := module(t, d, spirv.NewBuilder(spirv.ModelFragment, "fs").SampledImageArray(0, 0, 4, "textures")).MustStage("fs")
	other := module(t, d, spirv.NewBuilder(spirv.ModelFragment, "fs").SampledImageArray(0, 0, 2, "textures")).MustStage("fs")
	desc, err := DerivePipelineLayout(arrays)
	require.NoError(t, err)
	assert.Equal(t, 4, desc.Sets[0].Bindings[0].Count)
	_, err = DerivePipelineLayout(arrays, other)
	assert.True(t, errors.Is(err, ErrShaderInterfaceMismatch), "got %v", err)

	_, err = DerivePipelineLayout(Stage{})
	assert.True(t, errors.Is(err, ErrShaderInterfaceMismatch))
}

func TestPipelineLayoutLimits(t *testing.T) {
	env := defaultEnv(t)
	d := env.device

	tooManySets := spirv.NewBuilder(spirv.ModelGLCompute, "times12").LocalSize(1, 1, 1).StorageBuffer(4, 0, "data")
	_, err := d.BuildComputePipeline(ComputePipelineConfig{Shader: module(t, d, tooManySets).MustStage("times12")})
	assert.True(t, errors.Is(err, ErrLayoutCreationFailed), "got %v", err)

	tooManyBuffers := spirv.NewBuilder(spirv.ModelGLCompute, "times12").LocalSize(1, 1, 1)
	for i := uint32(0); i < 9; i++ {
		tooManyBuffers.StorageBuffer(0, i, "data")
	}
	_, err = d.BuildComputePipeline(ComputePipelineConfig{Shader: module(t, d, tooManyBuffers).MustStage("times12")})
	assert.True(t, errors.Is(err, ErrLayoutCreationFailed), "got %v", err)
}

func TestComputePipeline(t *testing.T) {
	env := defaultEnv(t)
	d := env.device

	p := computePipeline(t, d, "times12")
	assert.Equal(t, PipelineCompute, p.Kind)
	assert.Equal(t, [3]uint32{64, 1, 1}, p.LocalSize)
	require.Len(t, p.Layout.SetLayouts, 1)
	assert.Equal(t, DescriptorStorageBuffer, p.Layout.Desc.Sets[0].Bindings[0].Type)

	for _, size := range [][3]uint32{{2048, 1, 1}, {1, 1, 65}, {0, 1, 1}} {
		b := spirv.NewBuilder(spirv.ModelGLCompute, "times12").LocalSize(size[0], size[1], size[2])
		_, err := d.BuildComputePipeline(ComputePipelineConfig{Shader: module(t, d, b).MustStage("times12")})
		assert.True(t, errors.Is(err, ErrPipelineCreationFailed), "local size %v: %v", size, err)
	}

	vs, _ := triangleStages(t, d)
	_, err := d.BuildComputePipeline(ComputePipelineConfig{Shader: vs})
	assert.True(t, errors.Is(err, ErrShaderInterfaceMismatch))

	_, err = d.BuildComputePipeline(ComputePipelineConfig{Shader: computeModule(t, d, "unregistered").MustStage("unregistered")})
	assert.True(t, errors.Is(err, ErrPipelineCreationFailed), "got %v", err)
}

func TestIdenticalModulesYieldEqualLayouts(t *testing.T) {
	env := defaultEnv(t)
	d := env.device
	code := spirv.NewBuilder(spirv.ModelGLCompute, "times12").
		LocalSize(64, 1, 1).
		StorageBuffer(0, 0, "data").
		UniformBuffer(1, 0, "params").
		Build()
	first, err := d.CreateShaderModule(code)
	require.NoError(t, err)
	defer first.Destroy()
	second, err := d.CreateShaderModule(append([]uint32(nil), code...))
	require.NoError(t, err)
	defer second.Destroy()

	a, err := d.BuildComputePipeline(ComputePipelineConfig{Shader: first.MustStage("times12")})
	require.NoError(t, err)
	b, err := d.BuildComputePipeline(ComputePipelineConfig{Shader: second.MustStage("times12")})
	require.NoError(t, err)
	assert.NotSame(t, a.Layout, b.Layout)
	assert.True(t, a.Layout.Desc.Equal(b.Layout.Desc), "%v != %v", a.Layout.Desc, b.Layout.Desc)

	// a set allocated for one pipeline binds to the other
	buf := filled(t, env, 64, func(i int) uint32 { return uint32(i) })
	set, err := a.AllocateSet(0, BindBuffer(0, buf))
	require.NoError(t, err)
	params, err := CreateBuffer[uint32](d.Arena, 4, BufferUsageUniform, PreferHost)
	require.NoError(t, err)
	paramSet, err := a.AllocateSet(1, BindBuffer(0, params))
	require.NoError(t, err)
	cb := recordBuilt(t, env.commandBuffer(t, OneTimeSubmit), func(cb *CommandBuffer) {
		require.NoError(t, cb.BindPipeline(b))
		require.NoError(t, cb.BindDescriptorSets(0, set, paramSet))
		require.NoError(t, cb.Dispatch(1, 1, 1))
	})
	require.NoError(t, env.queue.SubmitWait(cb))
	got, err := buf.ToSlice()
	require.NoError(t, err)
	assert.Equal(t, uint32(12*63), got[63])
}

func TestComputePipelineExplicitLayout(t *testing.T) {
	env := defaultEnv(t)
	d := env.device
	st := computeModule(t, d, "times12").MustStage("times12")

	desc, err := DerivePipelineLayout(st)
	require.NoError(t, err)
	layout, err := d.CreatePipelineLayout(desc)
	require.NoError(t, err)

	a, err := d.BuildComputePipeline(ComputePipelineConfig{Shader: st, Layout: layout})
	require.NoError(t, err)
	b, err := d.BuildComputePipeline(ComputePipelineConfig{Shader: computeModule(t, d, "double").MustStage("double"), Layout: layout})
	require.NoError(t, err)
	assert.Same(t, a.Layout, b.Layout)

	// the pipelines keep the layout alive
	require.NoError(t, layout.Release())
	assert.True(t, layout.life.alive())
	require.NoError(t, a.Release())
	require.NoError(t, b.Release())
	assert.False(t, layout.life.alive())

	empty, err := d.CreatePipelineLayout(PipelineLayoutDesc{})
	require.NoError(t, err)
	_, err = d.BuildComputePipeline(ComputePipelineConfig{Shader: st, Layout: empty})
	assert.True(t, errors.Is(err, ErrShaderInterfaceMismatch), "got %v", err)
}

func TestGraphicsPipeline(t *testing.T) {
	env := defaultEnv(t)
	d := env.device
	rp := colorPass(t, d)
	p := trianglePipeline(t, d, rp, 16, 16)
	assert.Equal(t, PipelineGraphics, p.Kind)
	assert.Same(t, rp, p.RenderPass)
	require.Len(t, p.VertexBindings, 1)
	assert.Equal(t, uint32(12), p.VertexBindings[0].Stride)
}

func TestGraphicsPipelineValidation(t *testing.T) {
	env := defaultEnv(t)
	d := env.device
	rp := colorPass(t, d)
	vs, fs := triangleStages(t, d)

	base := func() *GraphicsPipelineConfig {
		return d.CreateGraphicsPipelineConfig().
			SetShaderStages(vs, fs).
			SetRenderPass(rp, 0).
			SetViewport(8, 8)
	}
	tests := []struct {
		name string
		cfg  *GraphicsPipelineConfig
		want error
	}{
		{"no attributes", base(), ErrVertexInputMismatch},
		{"wrong format", base().AddVertexBinding(VertexBinding{Binding: 0, Stride: 12},
			VertexAttribute{Location: 0, Binding: 0, Format: FormatR32G32Sfloat}), ErrVertexInputMismatch},
		{"wrong location", base().AddVertexBinding(VertexBinding{Binding: 0, Stride: 12},
			VertexAttribute{Location: 1, Binding: 0, Format: FormatR32G32B32Sfloat}), ErrVertexInputMismatch},
		{"stride overflow", base().AddVertexBinding(VertexBinding{Binding: 0, Stride: 8},
			VertexAttribute{Location: 0, Binding: 0, Format: FormatR32G32B32Sfloat}), ErrVertexInputMismatch},
		{"attribute offset wraps", base().AddVertexBinding(VertexBinding{Binding: 0, Stride: 12},
			VertexAttribute{Location: 0, Binding: 0, Format: FormatR32G32B32Sfloat, Offset: math.MaxUint32 - 3}), ErrVertexInputMismatch},
		{"undescribed binding", base().AddVertexBinding(VertexBinding{Binding: 0, Stride: 12},
			VertexAttribute{Location: 0, Binding: 1, Format: FormatR32G32B32Sfloat}), ErrVertexInputMismatch},
		{"no viewport", func() *GraphicsPipelineConfig {
			c := base().AddVertexBinding(VertexBinding{Binding: 0, Stride: 12},
				VertexAttribute{Location: 0, Binding: 0, Format: FormatR32G32B32Sfloat})
			c.Viewport = nil
			return c
		}(), ErrPipelineCreationFailed},
		{"no render pass", d.CreateGraphicsPipelineConfig().SetShaderStages(vs, fs).SetViewport(8, 8), ErrPipelineCreationFailed},
		{"bad subpass", base().SetRenderPass(rp, 1), ErrPipelineCreationFailed},
		{"swapped stages", base().SetShaderStages(fs, vs), ErrShaderInterfaceMismatch},
		{"nil config", nil, ErrPipelineCreationFailed},
		{"config of another device", func() *GraphicsPipelineConfig {
			c := base().AddVertexBinding(VertexBinding{Binding: 0, Stride: 12},
				VertexAttribute{Location: 0, Binding: 0, Format: FormatR32G32B32Sfloat})
			c.Device = defaultEnv(t).device
			return c
		}(), ErrWrongDevice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.BuildGraphicsPipeline(tt.cfg)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestGraphicsStageInterface(t *testing.T) {
	env := defaultEnv(t)
	d := env.device
	rp := colorPass(t, d)
	vs, _ := triangleStages(t, d)

	build := func(fs *spirv.Builder) error {
		cfg := d.CreateGraphicsPipelineConfig().
			SetShaderStages(vs, module(t, d, fs).MustStage("solid_fs")).
			SetRenderPass(rp, 0).
			SetViewport(8, 8).
			AddVertexBinding(VertexBinding{Binding: 0, Stride: 12},
				VertexAttribute{Location: 0, Binding: 0, Format: FormatR32G32B32Sfloat})
		_, err := d.BuildGraphicsPipeline(cfg)
		return err
	}

	err := build(spirv.NewBuilder(spirv.ModelFragment, "solid_fs").
		Input(0, spirv.Float, 3, "normal").Output(0, spirv.Float, 4, "color"))
	assert.True(t, errors.Is(err, ErrShaderInterfaceMismatch), "unwritten input: %v", err)

	err = build(spirv.NewBuilder(spirv.ModelFragment, "solid_fs").Output(0, spirv.Uint, 4, "color"))
	assert.True(t, errors.Is(err, ErrShaderInterfaceMismatch), "integer output: %v", err)

	err = build(spirv.NewBuilder(spirv.ModelFragment, "solid_fs").Output(1, spirv.Float, 4, "color"))
	assert.True(t, errors.Is(err, ErrShaderInterfaceMismatch), "missing attachment: %v", err)

	assert.NoError(t, build(spirv.NewBuilder(spirv.ModelFragment, "solid_fs").Output(0, spirv.Float, 4, "color")))
}

func TestRenderPassAndFramebuffer(t *testing.T) {
	env := defaultEnv(t)
	d := env.device

	_, err := d.CreateRenderPass(RenderPassConfig{})
	assert.True(t, errors.Is(err, ErrInvalidRenderPass))
	_, err = d.CreateRenderPass(RenderPassConfig{
		Attachments: []AttachmentConfig{{Format: FormatD32Sfloat}},
		Subpasses:   []SubpassConfig{{ColorAttachments: []int{0}}},
	})
	assert.True(t, errors.Is(err, ErrInvalidRenderPass))

	rp := colorPass(t, d)
	require.Len(t, rp.Config.Subpasses, 1)
	assert.Equal(t, []int{0}, rp.Config.Subpasses[0].ColorAttachments)

	target := func(f Format, w, h uint32, usage ImageUsage) *ImageView {
		img, err := d.Arena.CreateImage(ImageCreateInfo{Format: f, Extent: Extent2D(w, h), Usage: usage})
		require.NoError(t, err)
		v, err := img.View()
		require.NoError(t, err)
		require.NoError(t, img.Release())
		return v
	}

	tests := []struct {
		name  string
		views []*ImageView
		size  [2]uint32
	}{
		{"no views", nil, [2]uint32{}},
		{"format", []*ImageView{target(FormatB8G8R8A8Unorm, 8, 8, ImageUsageColorAttachment)}, [2]uint32{}},
		{"extent", []*ImageView{target(FormatR8G8B8A8Unorm, 8, 8, ImageUsageColorAttachment)}, [2]uint32{8, 4}},
		{"usage", []*ImageView{target(FormatR8G8B8A8Unorm, 8, 8, ImageUsageSampled)}, [2]uint32{}},
		{"unbound", []*ImageView{nil}, [2]uint32{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.CreateFramebuffer(FramebufferConfig{RenderPass: rp, Attachments: tt.views, Width: tt.size[0], Height: tt.size[1]})
			assert.True(t, errors.Is(err, ErrFramebufferMismatch), "got %v", err)
		})
	}

	img, fb := renderTarget(t, d, rp, 8, 8)
	assert.Equal(t, uint32(8), fb.Width)
	require.NoError(t, img.Release())
	assert.True(t, img.core.life.alive(), "the framebuffer keeps its attachment")
	require.NoError(t, fb.Release())
	assert.False(t, img.core.life.alive())
}
