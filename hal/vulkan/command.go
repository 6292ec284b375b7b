package vulkan

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"

	"github.com/celer/vkcore/hal"
)

type commandPool struct {
	device *device
	handle vk.CommandPool
}

func (d *device) CreateCommandPool(family int) (hal.CommandPool, error) {
	info := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: uint32(family),
	}
	var p vk.CommandPool
	if err := check(vk.CreateCommandPool(d.handle, &info, nil, &p), "create command pool"); err != nil {
		return nil, err
	}
	return &commandPool{device: d, handle: p}, nil
}

func (p *commandPool) Allocate() (hal.CommandBuffer, error) {
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.handle,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	cbs := make([]vk.CommandBuffer, 1)
	if err := check(vk.AllocateCommandBuffers(p.device.handle, &info, cbs), "allocate command buffer"); err != nil {
		return nil, err
	}
	return &commandBuffer{pool: p, handle: cbs[0]}, nil
}

func (p *commandPool) Free(cb hal.CommandBuffer) {
	vk.FreeCommandBuffers(p.device.handle, p.handle, 1, []vk.CommandBuffer{cb.(*commandBuffer).handle})
}

func (p *commandPool) Destroy() {
	vk.DestroyCommandPool(p.device.handle, p.handle, nil)
}

// commandBuffer records straight into a Vulkan command buffer. Images are
// always addressed in GENERAL.
type commandBuffer struct {
	pool   *commandPool
	handle vk.CommandBuffer
}

func (c *commandBuffer) Begin(oneTime bool) error {
	info := vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo}
	if oneTime {
		info.Flags = vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	return check(vk.BeginCommandBuffer(c.handle, &info), "begin command buffer")
}

func (c *commandBuffer) End() error {
	return check(vk.EndCommandBuffer(c.handle), "end command buffer")
}

func (c *commandBuffer) Reset() error {
	return check(vk.ResetCommandBuffer(c.handle, vk.CommandBufferResetFlags(vk.CommandBufferResetReleaseResourcesBit)), "reset command buffer")
}

func (c *commandBuffer) CopyBuffer(src, dst hal.Buffer, regions []hal.BufferCopy) {
	vr := make([]vk.BufferCopy, len(regions))
	for i, r := range regions {
		vr[i] = vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		}
	}
	vk.CmdCopyBuffer(c.handle, src.(*buffer).handle, dst.(*buffer).handle, uint32(len(vr)), vr)
}

func imageCopy(img *image, r hal.BufferImageCopy) vk.BufferImageCopy {
	return vk.BufferImageCopy{
		BufferOffset:     vk.DeviceSize(r.BufferOffset),
		BufferRowLength:  r.RowLength,
		ImageSubresource: img.layers(),
		ImageOffset:      vk.Offset3D{X: r.ImageOffset.X, Y: r.ImageOffset.Y, Z: r.ImageOffset.Z},
		ImageExtent:      vk.Extent3D{Width: r.ImageExtent.Width, Height: r.ImageExtent.Height, Depth: r.ImageExtent.Depth},
	}
}

func (c *commandBuffer) CopyBufferToImage(src hal.Buffer, dst hal.Image, region hal.BufferImageCopy) {
	img := dst.(*image)
	vk.CmdCopyBufferToImage(c.handle, src.(*buffer).handle, img.handle, vk.ImageLayoutGeneral,
		1, []vk.BufferImageCopy{imageCopy(img, region)})
}

func (c *commandBuffer) CopyImageToBuffer(src hal.Image, dst hal.Buffer, region hal.BufferImageCopy) {
	img := src.(*image)
	vk.CmdCopyImageToBuffer(c.handle, img.handle, vk.ImageLayoutGeneral, dst.(*buffer).handle,
		1, []vk.BufferImageCopy{imageCopy(img, region)})
}

func (c *commandBuffer) ClearColorImage(target hal.Image, color hal.ClearColor) {
	img := target.(*image)
	var value vk.ClearColorValue
	*(*[4]float32)(unsafe.Pointer(&value)) = color
	vk.CmdClearColorImage(c.handle, img.handle, vk.ImageLayoutGeneral, &value, 1, []vk.ImageSubresourceRange{img.subresource()})
}

// Barrier orders everything recorded before it against everything after.
func (c *commandBuffer) Barrier() {
	mb := vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(vk.AccessMemoryWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
	}
	all := vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	vk.CmdPipelineBarrier(c.handle, all, all, 0, 1, []vk.MemoryBarrier{mb}, 0, nil, 0, nil)
}

func (c *commandBuffer) BindPipeline(point hal.BindPoint, p hal.Pipeline) {
	vk.CmdBindPipeline(c.handle, bindPoint(point), p.(*pipeline).handle)
}

func (c *commandBuffer) BindDescriptorSets(point hal.BindPoint, layout hal.PipelineLayout, first int, sets []hal.DescriptorSet) {
	handles := make([]vk.DescriptorSet, len(sets))
	for i, s := range sets {
		handles[i] = s.(*descriptorSet).handle
	}
	vk.CmdBindDescriptorSets(c.handle, bindPoint(point), layout.(*pipelineLayout).handle,
		uint32(first), uint32(len(handles)), handles, 0, nil)
}

func (c *commandBuffer) BindVertexBuffers(first int, buffers []hal.Buffer, offsets []uint64) {
	handles := make([]vk.Buffer, len(buffers))
	vo := make([]vk.DeviceSize, len(buffers))
	for i, b := range buffers {
		handles[i] = b.(*buffer).handle
		if i < len(offsets) {
			vo[i] = vk.DeviceSize(offsets[i])
		}
	}
	vk.CmdBindVertexBuffers(c.handle, uint32(first), uint32(len(handles)), handles, vo)
}

func (c *commandBuffer) Dispatch(x, y, z uint32) {
	vk.CmdDispatch(c.handle, x, y, z)
}

func (c *commandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(c.handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (c *commandBuffer) BeginRenderPass(rp hal.RenderPass, fb hal.Framebuffer, area hal.Rect, clears []hal.ClearValue) {
	pass := rp.(*renderPass)
	values := make([]vk.ClearValue, len(clears))
	for i, cv := range clears {
		if i < len(pass.depth) && pass.depth[i] {
			values[i] = vk.NewClearDepthStencil(cv.Depth, 0)
		} else {
			values[i] = vk.NewClearValue(cv.Color[:])
		}
	}
	info := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  pass.handle,
		Framebuffer: fb.(*framebuffer).handle,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: area.X, Y: area.Y},
			Extent: vk.Extent2D{Width: area.Width, Height: area.Height},
		},
		ClearValueCount: uint32(len(values)),
		PClearValues:    values,
	}
	vk.CmdBeginRenderPass(c.handle, &info, vk.SubpassContentsInline)
}

func (c *commandBuffer) EndRenderPass() {
	vk.CmdEndRenderPass(c.handle)
}
