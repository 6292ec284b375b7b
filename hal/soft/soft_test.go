package soft

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celer/vkcore/hal"
	"github.com/celer/vkcore/spirv"
)

func openDevice(t *testing.T, b *Backend) (hal.Device, hal.Queue) {
	t.Helper()
	adapters, err := b.Adapters()
	require.NoError(t, err)
	dev, err := adapters[0].Open([]int{0})
	require.NoError(t, err)
	t.Cleanup(dev.Destroy)
	q, err := dev.Queue(0)
	require.NoError(t, err)
	return dev, q
}

func hostBuffer(t *testing.T, dev hal.Device, size uint64, usage hal.BufferUsage) (hal.Buffer, hal.Memory) {
	t.Helper()
	buf, err := dev.CreateBuffer(&hal.BufferDesc{Size: size, Usage: usage})
	require.NoError(t, err)
	req := buf.Requirements()
	mem, err := dev.AllocateMemory(req.Size, 1)
	require.NoError(t, err)
	require.NoError(t, buf.Bind(mem, 0))
	return buf, mem
}

func submitAndWait(t *testing.T, dev hal.Device, q hal.Queue, record func(cb hal.CommandBuffer)) error {
	t.Helper()
	pool, err := dev.CreateCommandPool(0)
	require.NoError(t, err)
	cb, err := pool.Allocate()
	require.NoError(t, err)
	require.NoError(t, cb.Begin(true))
	record(cb)
	require.NoError(t, cb.End())
	f, err := dev.CreateFence(false)
	require.NoError(t, err)
	if err := q.Submit([]hal.Submission{{CommandBuffers: []hal.CommandBuffer{cb}}}, f); err != nil {
		return err
	}
	return f.Wait(-1)
}

func TestMemoryMapping(t *testing.T) {
	dev, _ := openDevice(t, New(Options{}))

	local, err := dev.AllocateMemory(256, 0)
	require.NoError(t, err)
	_, err = local.Map(0, 256)
	assert.True(t, errors.Is(err, hal.ErrMemoryMapFailed))

	host, err := dev.AllocateMemory(256, 1)
	require.NoError(t, err)
	view, err := host.Map(0, 256)
	require.NoError(t, err)
	assert.Len(t, view, 256)
	_, err = host.Map(0, 16)
	assert.True(t, errors.Is(err, hal.ErrMemoryMapFailed), "double map")
	host.Unmap()
	_, err = host.Map(0, 16)
	assert.NoError(t, err)
}

func TestHeapExhaustion(t *testing.T) {
	cfg := DefaultAdapter()
	cfg.DeviceHeap = 1024
	dev, _ := openDevice(t, New(Options{Adapters: []AdapterConfig{cfg}}))

	m, err := dev.AllocateMemory(1024, 0)
	require.NoError(t, err)
	_, err = dev.AllocateMemory(1, 0)
	assert.True(t, errors.Is(err, hal.ErrOutOfDeviceMemory))
	m.Destroy()
	_, err = dev.AllocateMemory(1024, 0)
	assert.NoError(t, err)
}

func TestComputeDispatch(t *testing.T) {
	b := New(Options{Workers: 4})
	b.Register("main", Program{Compute: func(inv *Invocation) {
		data := inv.Uint32s(0, 0)
		if i := inv.GlobalIndex(); i < len(data) {
			data[i] *= 12
		}
	}})
	dev, q := openDevice(t, b)

	const n = 1000
	buf, mem := hostBuffer(t, dev, n*4, hal.BufferUsageStorage)
	view, err := mem.Map(0, n*4)
	require.NoError(t, err)
	words := make([]uint32, n)
	for i := range words {
		words[i] = uint32(i)
	}
	copy(view, u32bytes(words))
	mem.Unmap()

	mod, err := dev.CreateShaderModule(spirv.NewBuilder(spirv.ModelGLCompute, "main").LocalSize(64, 1, 1).StorageBuffer(0, 0, "data").Build())
	require.NoError(t, err)
	sl, err := dev.CreateDescriptorSetLayout([]hal.LayoutBinding{{Binding: 0, Type: hal.DescriptorStorageBuffer, Count: 1, Stages: hal.StageCompute}})
	require.NoError(t, err)
	pl, err := dev.CreatePipelineLayout([]hal.DescriptorSetLayout{sl})
	require.NoError(t, err)
	pipe, err := dev.CreateComputePipeline(&hal.ComputePipelineDesc{Module: mod, EntryPoint: "main", Layout: pl})
	require.NoError(t, err)
	pool, err := dev.CreateDescriptorPool(&hal.DescriptorPoolDesc{MaxSets: 1, Sizes: []hal.PoolSize{{Type: hal.DescriptorStorageBuffer, Count: 1}}})
	require.NoError(t, err)
	set, err := pool.Allocate(sl)
	require.NoError(t, err)
	require.NoError(t, set.Write([]hal.DescriptorWrite{{Binding: 0, Type: hal.DescriptorStorageBuffer, Buffer: buf, Range: n * 4}}))

	err = submitAndWait(t, dev, q, func(cb hal.CommandBuffer) {
		cb.BindPipeline(hal.BindPointCompute, pipe)
		cb.BindDescriptorSets(hal.BindPointCompute, pl, 0, []hal.DescriptorSet{set})
		cb.Dispatch((n+63)/64, 1, 1)
	})
	require.NoError(t, err)

	view, err = mem.Map(0, n*4)
	require.NoError(t, err)
	defer mem.Unmap()
	got := bytesU32(view)
	for i, v := range got {
		require.Equal(t, uint32(i*12), v, "element %d", i)
	}
}

func TestDispatchOverLimitRejectedAtSubmit(t *testing.T) {
	b := New(Options{})
	dev, q := openDevice(t, b)
	err := submitAndWait(t, dev, q, func(cb hal.CommandBuffer) {
		cb.Dispatch(70000, 1, 1)
	})
	assert.True(t, errors.Is(err, hal.ErrLimitExceeded))
}

func TestProgramPanicLosesDevice(t *testing.T) {
	b := New(Options{})
	b.Register("boom", Program{Compute: func(*Invocation) { panic("fault") }})
	dev, q := openDevice(t, b)

	mod, err := dev.CreateShaderModule(spirv.NewBuilder(spirv.ModelGLCompute, "boom").Build())
	require.NoError(t, err)
	pl, err := dev.CreatePipelineLayout(nil)
	require.NoError(t, err)
	pipe, err := dev.CreateComputePipeline(&hal.ComputePipelineDesc{Module: mod, EntryPoint: "boom", Layout: pl})
	require.NoError(t, err)

	err = submitAndWait(t, dev, q, func(cb hal.CommandBuffer) {
		cb.BindPipeline(hal.BindPointCompute, pipe)
		cb.Dispatch(1, 1, 1)
	})
	assert.True(t, errors.Is(err, hal.ErrDeviceLost))

	err = submitAndWait(t, dev, q, func(hal.CommandBuffer) {})
	assert.True(t, errors.Is(err, hal.ErrDeviceLost), "device loss is sticky")
	_, err = dev.AllocateMemory(16, 1)
	assert.True(t, errors.Is(err, hal.ErrDeviceLost))
}

func TestSemaphoreOrdersQueues(t *testing.T) {
	b := New(Options{})
	release := make(chan struct{})
	var order []string
	b.Register("slow", Program{Compute: func(*Invocation) {
		<-release
		order = append(order, "slow")
	}})
	b.Register("fast", Program{Compute: func(*Invocation) { order = append(order, "fast") }})
	adapters, _ := b.Adapters()
	dev, err := adapters[0].Open([]int{0, 1})
	require.NoError(t, err)
	defer dev.Destroy()
	q0, _ := dev.Queue(0)
	q1, _ := dev.Queue(1)

	record := func(family int, entry string) hal.CommandBuffer {
		mod, err := dev.CreateShaderModule(spirv.NewBuilder(spirv.ModelGLCompute, entry).Build())
		require.NoError(t, err)
		pl, _ := dev.CreatePipelineLayout(nil)
		pipe, err := dev.CreateComputePipeline(&hal.ComputePipelineDesc{Module: mod, EntryPoint: entry, Layout: pl})
		require.NoError(t, err)
		pool, _ := dev.CreateCommandPool(family)
		cb, _ := pool.Allocate()
		require.NoError(t, cb.Begin(true))
		cb.BindPipeline(hal.BindPointCompute, pipe)
		cb.Dispatch(1, 1, 1)
		require.NoError(t, cb.End())
		return cb
	}
	sem, _ := dev.CreateSemaphore()
	done, _ := dev.CreateFence(false)
	require.NoError(t, q0.Submit([]hal.Submission{{CommandBuffers: []hal.CommandBuffer{record(0, "slow")}, Signal: []hal.Semaphore{sem}}}, nil))
	require.NoError(t, q1.Submit([]hal.Submission{{CommandBuffers: []hal.CommandBuffer{record(1, "fast")}, Wait: []hal.Semaphore{sem}}}, done))

	assert.True(t, errors.Is(done.Wait(20*time.Millisecond), hal.ErrTimeout))
	close(release)
	require.NoError(t, done.Wait(-1))
	assert.Equal(t, []string{"slow", "fast"}, order)
}

func TestDrawTriangle(t *testing.T) {
	b := New(Options{})
	b.Register("vs", Program{Vertex: func(in *VertexInput, out *VertexOutput) {
		out.Position = in.Vec3(0).Vec4(1)
	}})
	b.Register("fs", Program{Fragment: func(*FragmentInput) mgl32.Vec4 { return mgl32.Vec4{1, 0, 0, 1} }})
	dev, q := openDevice(t, b)

	const w, h = 16, 16
	img, err := dev.CreateImage(&hal.ImageDesc{Format: hal.FormatR8G8B8A8Unorm, Extent: hal.Extent3D{Width: w, Height: h, Depth: 1}})
	require.NoError(t, err)
	imem, err := dev.AllocateMemory(img.Requirements().Size, 0)
	require.NoError(t, err)
	require.NoError(t, img.Bind(imem, 0))
	view, err := dev.CreateImageView(img, &hal.ImageViewDesc{Format: hal.FormatR8G8B8A8Unorm})
	require.NoError(t, err)

	vb, vmem := hostBuffer(t, dev, 36, hal.BufferUsageVertex)
	vview, _ := vmem.Map(0, 36)
	copy(vview, f32bytes([]float32{-1, -1, 0, 1, -1, 0, -1, 1, 0}))
	vmem.Unmap()
	out, omem := hostBuffer(t, dev, w*h*4, hal.BufferUsageTransferDst)

	rp, err := dev.CreateRenderPass(&hal.RenderPassDesc{
		Attachments: []hal.AttachmentDesc{{Format: hal.FormatR8G8B8A8Unorm, Load: hal.LoadOpClear}},
		Subpasses:   []hal.SubpassDesc{{ColorAttachments: []int{0}, DepthAttachment: -1}},
	})
	require.NoError(t, err)
	fb, err := dev.CreateFramebuffer(&hal.FramebufferDesc{RenderPass: rp, Attachments: []hal.ImageView{view}, Width: w, Height: h, Layers: 1})
	require.NoError(t, err)
	vsm, _ := dev.CreateShaderModule(spirv.NewBuilder(spirv.ModelVertex, "vs").Input(0, spirv.Float, 3, "pos").Build())
	fsm, _ := dev.CreateShaderModule(spirv.NewBuilder(spirv.ModelFragment, "fs").Output(0, spirv.Float, 4, "color").Build())
	pl, _ := dev.CreatePipelineLayout(nil)
	pipe, err := dev.CreateGraphicsPipeline(&hal.GraphicsPipelineDesc{
		Stages: []hal.StageDesc{
			{Stage: hal.StageVertex, Module: vsm, EntryPoint: "vs"},
			{Stage: hal.StageFragment, Module: fsm, EntryPoint: "fs"},
		},
		VertexBindings:   []hal.VertexBinding{{Binding: 0, Stride: 12}},
		VertexAttributes: []hal.VertexAttribute{{Location: 0, Binding: 0, Format: hal.FormatR32G32B32Sfloat}},
		Viewport:         hal.Viewport{Width: w, Height: h, MaxDepth: 1},
		Rasterization:    hal.RasterizationState{CullMode: hal.CullNone},
		Layout:           pl,
		RenderPass:       rp,
	})
	require.NoError(t, err)

	err = submitAndWait(t, dev, q, func(cb hal.CommandBuffer) {
		cb.BeginRenderPass(rp, fb, hal.Rect{Width: w, Height: h}, []hal.ClearValue{{Color: hal.ClearColor{0, 0, 1, 1}}})
		cb.BindPipeline(hal.BindPointGraphics, pipe)
		cb.BindVertexBuffers(0, []hal.Buffer{vb}, []uint64{0})
		cb.Draw(3, 1, 0, 0)
		cb.EndRenderPass()
		cb.CopyImageToBuffer(img, out, hal.BufferImageCopy{ImageExtent: hal.Extent3D{Width: w, Height: h, Depth: 1}})
	})
	require.NoError(t, err)

	px, err := omem.Map(0, w*h*4)
	require.NoError(t, err)
	at := func(x, y int) []byte { return px[(y*w+x)*4 : (y*w+x)*4+4] }
	assert.Equal(t, []byte{255, 0, 0, 255}, at(1, 1), "inside the triangle")
	assert.Equal(t, []byte{0, 0, 255, 255}, at(w-2, h-2), "cleared background")
}

func u32bytes(v []uint32) []byte {
	out := make([]byte, len(v)*4)
	for i, w := range v {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

func bytesU32(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return out
}

func f32bytes(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func TestDestroyedFenceRejectsUse(t *testing.T) {
	dev, q := openDevice(t, New(Options{}))
	f, err := dev.CreateFence(false)
	require.NoError(t, err)
	require.NoError(t, q.Submit(nil, f))
	require.NoError(t, f.Wait(-1))
	f.Destroy()

	assert.True(t, errors.Is(f.Wait(0), hal.ErrInvalidHandle))
	_, err = f.Status()
	assert.True(t, errors.Is(err, hal.ErrInvalidHandle))
	assert.True(t, errors.Is(f.Reset(), hal.ErrInvalidHandle))
}
