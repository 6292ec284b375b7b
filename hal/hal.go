// Package hal is the thin hardware interface the vkcore package drives.
//
// It is shaped after Vulkan: explicit memory binding, descriptor pools,
// command buffers recorded then submitted with fences and binary
// semaphores. Validation beyond handle hygiene is the caller's job; a
// backend is free to assume the core already rejected malformed input.
//
// Two backends ship with the module: hal/soft, a CPU reference device, and
// hal/vulkan, a binding over github.com/vulkan-go/vulkan.
package hal

import "time"

// Backend enumerates adapters of one driver.
type Backend interface {
	Name() string
	Adapters() ([]Adapter, error)
	Destroy()
}

// Adapter is a physical device.
type Adapter interface {
	Info() AdapterInfo
	QueueFamilies() []QueueFamilyInfo
	MemoryProperties() MemoryProperties
	Limits() Limits
	// Open creates a logical device with one queue in each listed family.
	Open(families []int) (Device, error)
}

type Destroyer interface {
	Destroy()
}

type Device interface {
	Queue(family int) (Queue, error)
	AllocateMemory(size uint64, typeIndex int) (Memory, error)
	CreateBuffer(desc *BufferDesc) (Buffer, error)
	CreateImage(desc *ImageDesc) (Image, error)
	CreateImageView(image Image, desc *ImageViewDesc) (ImageView, error)
	CreateShaderModule(code []uint32) (ShaderModule, error)
	CreateDescriptorSetLayout(bindings []LayoutBinding) (DescriptorSetLayout, error)
	CreatePipelineLayout(sets []DescriptorSetLayout) (PipelineLayout, error)
	CreateComputePipeline(desc *ComputePipelineDesc) (Pipeline, error)
	CreateGraphicsPipeline(desc *GraphicsPipelineDesc) (Pipeline, error)
	CreateRenderPass(desc *RenderPassDesc) (RenderPass, error)
	CreateFramebuffer(desc *FramebufferDesc) (Framebuffer, error)
	CreateDescriptorPool(desc *DescriptorPoolDesc) (DescriptorPool, error)
	CreateCommandPool(family int) (CommandPool, error)
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)
	WaitIdle() error
	Destroy()
}

// Memory is one device allocation. Map returns a view of the whole range
// [offset, offset+size); Unmap invalidates every view handed out.
type Memory interface {
	Destroyer
	Size() uint64
	Map(offset, size uint64) ([]byte, error)
	Unmap()
}

type Buffer interface {
	Destroyer
	Requirements() MemoryRequirements
	Bind(mem Memory, offset uint64) error
}

type Image interface {
	Destroyer
	Requirements() MemoryRequirements
	Bind(mem Memory, offset uint64) error
}

type ImageView interface{ Destroyer }

type ShaderModule interface{ Destroyer }

type DescriptorSetLayout interface{ Destroyer }

type PipelineLayout interface{ Destroyer }

type Pipeline interface{ Destroyer }

type RenderPass interface{ Destroyer }

type Framebuffer interface{ Destroyer }

type DescriptorPool interface {
	Destroyer
	Allocate(layout DescriptorSetLayout) (DescriptorSet, error)
	Free(set DescriptorSet) error
	Reset() error
}

type DescriptorSet interface {
	Write(writes []DescriptorWrite) error
}

type CommandPool interface {
	Destroyer
	Allocate() (CommandBuffer, error)
	Free(cb CommandBuffer)
}

// CommandBuffer records device commands between Begin and End.
type CommandBuffer interface {
	Begin(oneTime bool) error
	End() error
	Reset() error

	CopyBuffer(src, dst Buffer, regions []BufferCopy)
	CopyBufferToImage(src Buffer, dst Image, region BufferImageCopy)
	CopyImageToBuffer(src Image, dst Buffer, region BufferImageCopy)
	ClearColorImage(img Image, color ClearColor)
	Barrier()

	BindPipeline(point BindPoint, p Pipeline)
	BindDescriptorSets(point BindPoint, layout PipelineLayout, first int, sets []DescriptorSet)
	BindVertexBuffers(first int, buffers []Buffer, offsets []uint64)
	Dispatch(x, y, z uint32)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	BeginRenderPass(rp RenderPass, fb Framebuffer, area Rect, clears []ClearValue)
	EndRenderPass()
}

type Queue interface {
	// Submit enqueues work and returns without waiting for it. The fence,
	// when non-nil, is signalled after every submission completed.
	Submit(submits []Submission, fence Fence) error
	WaitIdle() error
}

// Fence.Wait with a negative timeout waits forever.
type Fence interface {
	Destroyer
	Wait(timeout time.Duration) error
	Status() (bool, error)
	Reset() error
}

type Semaphore interface{ Destroyer }
