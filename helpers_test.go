package vkcore

import (
	"io"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/celer/vkcore/hal"
	"github.com/celer/vkcore/hal/soft"
	"github.com/celer/vkcore/spirv"
)

type testEnv struct {
	backend  *soft.Backend
	instance *Instance
	device   *Device
	queue    *Queue
	queues   []*Queue
	pool     *CommandPool
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEnv opens the first family of a soft device. register may add
// programs before any pipeline is built.
func newTestEnv(t *testing.T, opts soft.Options, register func(b *soft.Backend)) *testEnv {
	t.Helper()
	return openTestEnv(t, opts, register, nil, DeviceSelection{Queues: []QueueFlags{QueueGraphics | QueueCompute}})
}

// openTestEnv opens the queues sel asks for. wrap, when set, decorates the
// backend the instance drives. The pool belongs to the first queue.
func openTestEnv(t *testing.T, opts soft.Options, register func(b *soft.Backend), wrap func(hal.Backend) hal.Backend, sel DeviceSelection) *testEnv {
	t.Helper()
	opts.Logger = quietLogger()
	b := soft.New(opts)
	if register != nil {
		register(b)
	}
	var backend hal.Backend = b
	if wrap != nil {
		backend = wrap(b)
	}
	app := &App{Name: t.Name(), Backend: backend, Logger: opts.Logger}
	inst, err := app.CreateInstance()
	require.NoError(t, err)
	dev, queues, err := inst.OpenDevice(sel)
	require.NoError(t, err)
	pool, err := queues[0].CreateCommandPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Destroy()
		dev.Destroy()
		inst.Destroy()
	})
	return &testEnv{backend: b, instance: inst, device: dev, queue: queues[0], queues: queues, pool: pool}
}

func defaultEnv(t *testing.T) *testEnv {
	return newTestEnv(t, soft.Options{}, registerPrograms)
}

// registerPrograms installs the programs behind the modules built by the
// helpers below.
func registerPrograms(b *soft.Backend) {
	b.Register("times12", soft.Program{Compute: func(inv *soft.Invocation) {
		data := inv.Uint32s(0, 0)
		if i := inv.GlobalIndex(); i < len(data) {
			data[i] *= 12
		}
	}})
	b.Register("increment", soft.Program{Compute: func(inv *soft.Invocation) {
		data := inv.Uint32s(0, 0)
		if i := inv.GlobalIndex(); i < len(data) {
			data[i]++
		}
	}})
	b.Register("double", soft.Program{Compute: func(inv *soft.Invocation) {
		data := inv.Uint32s(0, 0)
		if i := inv.GlobalIndex(); i < len(data) {
			data[i] *= 2
		}
	}})
	b.Register("boom", soft.Program{Compute: func(*soft.Invocation) { panic("fault") }})
	b.Register("triangle_vs", soft.Program{Vertex: func(in *soft.VertexInput, out *soft.VertexOutput) {
		out.Position = in.Vec3(0).Vec4(1)
	}})
	b.Register("solid_fs", soft.Program{Fragment: func(*soft.FragmentInput) mgl32.Vec4 {
		return mgl32.Vec4{1, 0, 0, 1}
	}})
}

func computeModule(t *testing.T, d *Device, entry string) *ShaderModule {
	t.Helper()
	code := spirv.NewBuilder(spirv.ModelGLCompute, entry).
		LocalSize(64, 1, 1).
		StorageBuffer(0, 0, "data").
		Build()
	m, err := d.CreateShaderModule(code)
	require.NoError(t, err)
	t.Cleanup(m.Destroy)
	return m
}

func computePipeline(t *testing.T, d *Device, entry string) *Pipeline {
	t.Helper()
	p, err := d.BuildComputePipeline(ComputePipelineConfig{Shader: computeModule(t, d, entry).MustStage(entry)})
	require.NoError(t, err)
	return p
}

func triangleStages(t *testing.T, d *Device) (Stage, Stage) {
	t.Helper()
	vs, err := d.CreateShaderModule(spirv.NewBuilder(spirv.ModelVertex, "triangle_vs").
		Input(0, spirv.Float, 3, "position").Position().Build())
	require.NoError(t, err)
	fs, err := d.CreateShaderModule(spirv.NewBuilder(spirv.ModelFragment, "solid_fs").
		Output(0, spirv.Float, 4, "color").Build())
	require.NoError(t, err)
	t.Cleanup(vs.Destroy)
	t.Cleanup(fs.Destroy)
	return vs.MustStage("triangle_vs"), fs.MustStage("solid_fs")
}

func colorPass(t *testing.T, d *Device) *RenderPass {
	t.Helper()
	rp, err := d.CreateRenderPass(RenderPassConfig{
		Attachments: []AttachmentConfig{{Format: FormatR8G8B8A8Unorm, Load: LoadOpClear, Store: StoreOpStore}},
	})
	require.NoError(t, err)
	return rp
}

func renderTarget(t *testing.T, d *Device, rp *RenderPass, w, h uint32) (*Image, *Framebuffer) {
	t.Helper()
	img, err := d.Arena.CreateImage(ImageCreateInfo{
		Format: FormatR8G8B8A8Unorm,
		Extent: Extent2D(w, h),
		Usage:  ImageUsageColorAttachment | ImageUsageTransferSrc,
	})
	require.NoError(t, err)
	view, err := img.View()
	require.NoError(t, err)
	fb, err := d.CreateFramebuffer(FramebufferConfig{RenderPass: rp, Attachments: []*ImageView{view}})
	require.NoError(t, err)
	// the framebuffer keeps the view and image alive
	require.NoError(t, view.Release())
	return img, fb
}

func trianglePipeline(t *testing.T, d *Device, rp *RenderPass, w, h uint32) *Pipeline {
	t.Helper()
	vs, fs := triangleStages(t, d)
	cfg := d.CreateGraphicsPipelineConfig().
		SetShaderStages(vs, fs).
		SetRenderPass(rp, 0).
		SetViewport(w, h).
		SetCullMode(CullNone).
		AddVertexBinding(VertexBinding{Binding: 0, Stride: 12},
			VertexAttribute{Location: 0, Binding: 0, Format: FormatR32G32B32Sfloat})
	p, err := d.BuildGraphicsPipeline(cfg)
	require.NoError(t, err)
	return p
}

func (e *testEnv) commandBuffer(t *testing.T, usage CommandBufferUsage) *CommandBuffer {
	t.Helper()
	cb, err := e.pool.AllocateCommandBuffer(usage)
	require.NoError(t, err)
	return cb
}

// recordBuilt begins cb, runs record and builds it.
func recordBuilt(t *testing.T, cb *CommandBuffer, record func(cb *CommandBuffer)) *CommandBuffer {
	t.Helper()
	require.NoError(t, cb.Begin())
	record(cb)
	require.NoError(t, cb.Build())
	return cb
}
