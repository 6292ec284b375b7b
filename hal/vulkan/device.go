package vulkan

import (
	"sync"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/exp/slog"

	"github.com/celer/vkcore/hal"
)

type device struct {
	adapter *adapter
	handle  vk.Device
	log     *slog.Logger
	cache   vk.PipelineCache
	sampler vk.Sampler
	queues  map[int]*queue

	// layouts moves freshly bound images into GENERAL.
	layoutMu   sync.Mutex
	layoutPool vk.CommandPool
	layoutQ    *queue
}

func newDevice(a *adapter, handle vk.Device, families []int) (*device, error) {
	d := &device{
		adapter: a,
		handle:  handle,
		log:     a.backend.log.With("adapter", a.info.Name),
		queues:  map[int]*queue{},
	}
	for _, f := range families {
		var q vk.Queue
		vk.GetDeviceQueue(handle, uint32(f), 0, &q)
		d.queues[f] = &queue{device: d, family: f, handle: q}
	}
	d.layoutQ = d.queues[families[0]]

	cacheInfo := vk.PipelineCacheCreateInfo{SType: vk.StructureTypePipelineCacheCreateInfo}
	if err := check(vk.CreatePipelineCache(handle, &cacheInfo, nil, &d.cache), "create pipeline cache"); err != nil {
		vk.DestroyDevice(handle, nil)
		return nil, err
	}
	samplerInfo := vk.SamplerCreateInfo{
		SType:        vk.StructureTypeSamplerCreateInfo,
		MagFilter:    vk.FilterLinear,
		MinFilter:    vk.FilterLinear,
		MipmapMode:   vk.SamplerMipmapModeNearest,
		AddressModeU: vk.SamplerAddressModeClampToEdge,
		AddressModeV: vk.SamplerAddressModeClampToEdge,
		AddressModeW: vk.SamplerAddressModeClampToEdge,
		MaxLod:       1,
	}
	if err := check(vk.CreateSampler(handle, &samplerInfo, nil, &d.sampler), "create sampler"); err != nil {
		vk.DestroyPipelineCache(handle, d.cache, nil)
		vk.DestroyDevice(handle, nil)
		return nil, err
	}
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
		QueueFamilyIndex: uint32(d.layoutQ.family),
	}
	if err := check(vk.CreateCommandPool(handle, &poolInfo, nil, &d.layoutPool), "create command pool"); err != nil {
		d.Destroy()
		return nil, err
	}
	d.log.Debug("vulkan device opened", "families", families)
	return d, nil
}

func (d *device) Queue(family int) (hal.Queue, error) {
	q, ok := d.queues[family]
	if !ok {
		return nil, errors.Wrapf(hal.ErrInvalidHandle, "queue family %d was not opened", family)
	}
	return q, nil
}

func (d *device) AllocateMemory(size uint64, typeIndex int) (hal.Memory, error) {
	if typeIndex < 0 || typeIndex >= len(d.adapter.memory.Types) {
		return nil, errors.Wrapf(hal.ErrInvalidHandle, "memory type %d", typeIndex)
	}
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: uint32(typeIndex),
	}
	var mem vk.DeviceMemory
	if err := check(vk.AllocateMemory(d.handle, &info, nil, &mem), "allocate memory"); err != nil {
		return nil, err
	}
	return &memory{
		device:   d,
		handle:   mem,
		size:     size,
		coherent: d.adapter.memory.Types[typeIndex].Flags&hal.MemoryHostCoherent != 0,
	}, nil
}

func (d *device) CreateFence(signaled bool) (hal.Fence, error) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var f vk.Fence
	if err := check(vk.CreateFence(d.handle, &info, nil, &f), "create fence"); err != nil {
		return nil, err
	}
	return &fence{device: d, handle: f}, nil
}

func (d *device) CreateSemaphore() (hal.Semaphore, error) {
	info := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	var s vk.Semaphore
	if err := check(vk.CreateSemaphore(d.handle, &info, nil, &s), "create semaphore"); err != nil {
		return nil, err
	}
	return &semaphore{device: d, handle: s}, nil
}

func (d *device) WaitIdle() error {
	return check(vk.DeviceWaitIdle(d.handle), "wait idle")
}

func (d *device) Destroy() {
	vk.DeviceWaitIdle(d.handle)
	if d.layoutPool != nil {
		vk.DestroyCommandPool(d.handle, d.layoutPool, nil)
	}
	vk.DestroySampler(d.handle, d.sampler, nil)
	vk.DestroyPipelineCache(d.handle, d.cache, nil)
	vk.DestroyDevice(d.handle, nil)
}

// toGeneral records and waits on a one-off barrier taking img from
// UNDEFINED to GENERAL.
func (d *device) toGeneral(img *image) error {
	d.layoutMu.Lock()
	defer d.layoutMu.Unlock()

	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.layoutPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	cbs := make([]vk.CommandBuffer, 1)
	if err := check(vk.AllocateCommandBuffers(d.handle, &allocInfo, cbs), "allocate layout command buffer"); err != nil {
		return err
	}
	defer vk.FreeCommandBuffers(d.handle, d.layoutPool, 1, cbs)
	cb := cbs[0]

	begin := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := check(vk.BeginCommandBuffer(cb, &begin), "begin layout command buffer"); err != nil {
		return err
	}
	barrier := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		OldLayout:           vk.ImageLayoutUndefined,
		NewLayout:           vk.ImageLayoutGeneral,
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.handle,
		SubresourceRange:    img.subresource(),
		DstAccessMask:       vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
	}
	vk.CmdPipelineBarrier(cb,
		vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit),
		vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit),
		0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{barrier})
	if err := check(vk.EndCommandBuffer(cb), "end layout command buffer"); err != nil {
		return err
	}

	f, err := d.CreateFence(false)
	if err != nil {
		return err
	}
	defer f.Destroy()
	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    cbs,
	}
	d.layoutQ.mu.Lock()
	res := vk.QueueSubmit(d.layoutQ.handle, 1, []vk.SubmitInfo{submit}, f.(*fence).handle)
	d.layoutQ.mu.Unlock()
	if err := check(res, "submit layout transition"); err != nil {
		return err
	}
	return f.Wait(-1)
}

type queue struct {
	device *device
	family int
	handle vk.Queue

	// vkQueueSubmit needs external synchronization.
	mu sync.Mutex
}

func (q *queue) Submit(submits []hal.Submission, f hal.Fence) error {
	infos := make([]vk.SubmitInfo, len(submits))
	for i, s := range submits {
		cbs := make([]vk.CommandBuffer, len(s.CommandBuffers))
		for n, cb := range s.CommandBuffers {
			cbs[n] = cb.(*commandBuffer).handle
		}
		wait := make([]vk.Semaphore, len(s.Wait))
		stages := make([]vk.PipelineStageFlags, len(s.Wait))
		for n, sem := range s.Wait {
			wait[n] = sem.(*semaphore).handle
			stages[n] = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
		}
		signal := make([]vk.Semaphore, len(s.Signal))
		for n, sem := range s.Signal {
			signal[n] = sem.(*semaphore).handle
		}
		infos[i] = vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   uint32(len(wait)),
			PWaitSemaphores:      wait,
			PWaitDstStageMask:    stages,
			CommandBufferCount:   uint32(len(cbs)),
			PCommandBuffers:      cbs,
			SignalSemaphoreCount: uint32(len(signal)),
			PSignalSemaphores:    signal,
		}
	}
	var handle vk.Fence
	if f != nil {
		handle = f.(*fence).handle
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return check(vk.QueueSubmit(q.handle, uint32(len(infos)), infos, handle), "queue submit")
}

func (q *queue) WaitIdle() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return check(vk.QueueWaitIdle(q.handle), "queue wait idle")
}

type memory struct {
	device   *device
	handle   vk.DeviceMemory
	size     uint64
	coherent bool

	mapped bool
	offset uint64
	length uint64
}

func (m *memory) Size() uint64 { return m.size }

func (m *memory) Map(offset, size uint64) ([]byte, error) {
	var ptr unsafe.Pointer
	err := check(vk.MapMemory(m.device.handle, m.handle, vk.DeviceSize(offset), vk.DeviceSize(size), 0, &ptr), "map memory")
	if err != nil {
		return nil, err
	}
	m.mapped, m.offset, m.length = true, offset, size
	if !m.coherent {
		vk.InvalidateMappedMemoryRanges(m.device.handle, 1, []vk.MappedMemoryRange{m.mappedRange()})
	}
	return unsafe.Slice((*byte)(ptr), size), nil
}

func (m *memory) Unmap() {
	if !m.mapped {
		return
	}
	if !m.coherent {
		vk.FlushMappedMemoryRanges(m.device.handle, 1, []vk.MappedMemoryRange{m.mappedRange()})
	}
	vk.UnmapMemory(m.device.handle, m.handle)
	m.mapped = false
}

func (m *memory) mappedRange() vk.MappedMemoryRange {
	return vk.MappedMemoryRange{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: m.handle,
		Offset: vk.DeviceSize(m.offset),
		Size:   vk.DeviceSize(vk.WholeSize),
	}
}

func (m *memory) Destroy() {
	vk.FreeMemory(m.device.handle, m.handle, nil)
}

type fence struct {
	device *device
	handle vk.Fence
}

func (f *fence) Wait(timeout time.Duration) error {
	ns := uint64(vk.MaxUint64)
	if timeout >= 0 {
		ns = uint64(timeout.Nanoseconds())
	}
	return check(vk.WaitForFences(f.device.handle, 1, []vk.Fence{f.handle}, vk.True, ns), "wait for fence")
}

func (f *fence) Status() (bool, error) {
	switch res := vk.GetFenceStatus(f.device.handle, f.handle); res {
	case vk.Success:
		return true, nil
	case vk.NotReady:
		return false, nil
	default:
		return false, check(res, "fence status")
	}
}

func (f *fence) Reset() error {
	return check(vk.ResetFences(f.device.handle, 1, []vk.Fence{f.handle}), "reset fence")
}

func (f *fence) Destroy() {
	vk.DestroyFence(f.device.handle, f.handle, nil)
}

type semaphore struct {
	device *device
	handle vk.Semaphore
}

func (s *semaphore) Destroy() {
	vk.DestroySemaphore(s.device.handle, s.handle, nil)
}
