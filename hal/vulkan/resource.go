package vulkan

import (
	vk "github.com/vulkan-go/vulkan"

	"github.com/celer/vkcore/hal"
)

type buffer struct {
	device *device
	handle vk.Buffer
	size   uint64
}

func (d *device) CreateBuffer(desc *hal.BufferDesc) (hal.Buffer, error) {
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       bufferUsage(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	var b vk.Buffer
	if err := check(vk.CreateBuffer(d.handle, &info, nil, &b), "create buffer"); err != nil {
		return nil, err
	}
	return &buffer{device: d, handle: b, size: desc.Size}, nil
}

func (b *buffer) Requirements() hal.MemoryRequirements {
	var req vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(b.device.handle, b.handle, &req)
	req.Deref()
	return hal.MemoryRequirements{Size: uint64(req.Size), Alignment: uint64(req.Alignment), TypeBits: req.MemoryTypeBits}
}

func (b *buffer) Bind(mem hal.Memory, offset uint64) error {
	return check(vk.BindBufferMemory(b.device.handle, b.handle, mem.(*memory).handle, vk.DeviceSize(offset)), "bind buffer memory")
}

func (b *buffer) Destroy() {
	vk.DestroyBuffer(b.device.handle, b.handle, nil)
}

type image struct {
	device *device
	handle vk.Image
	desc   hal.ImageDesc
}

func (d *device) CreateImage(desc *hal.ImageDesc) (hal.Image, error) {
	info := vk.ImageCreateInfo{
		SType:         vk.StructureTypeImageCreateInfo,
		ImageType:     vk.ImageType2d,
		Format:        format(desc.Format),
		Extent:        vk.Extent3D{Width: desc.Extent.Width, Height: desc.Extent.Height, Depth: desc.Extent.Depth},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         imageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if desc.Extent.Depth > 1 {
		info.ImageType = vk.ImageType3d
	}
	var img vk.Image
	if err := check(vk.CreateImage(d.handle, &info, nil, &img), "create image"); err != nil {
		return nil, err
	}
	return &image{device: d, handle: img, desc: *desc}, nil
}

func (i *image) subresource() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask: aspect(i.desc.Format),
		LevelCount: 1,
		LayerCount: 1,
	}
}

func (i *image) layers() vk.ImageSubresourceLayers {
	return vk.ImageSubresourceLayers{AspectMask: aspect(i.desc.Format), LayerCount: 1}
}

func (i *image) Requirements() hal.MemoryRequirements {
	var req vk.MemoryRequirements
	vk.GetImageMemoryRequirements(i.device.handle, i.handle, &req)
	req.Deref()
	return hal.MemoryRequirements{Size: uint64(req.Size), Alignment: uint64(req.Alignment), TypeBits: req.MemoryTypeBits}
}

// Bind attaches memory and moves the image into GENERAL, the only layout
// command buffers record against.
func (i *image) Bind(mem hal.Memory, offset uint64) error {
	err := check(vk.BindImageMemory(i.device.handle, i.handle, mem.(*memory).handle, vk.DeviceSize(offset)), "bind image memory")
	if err != nil {
		return err
	}
	return i.device.toGeneral(i)
}

func (i *image) Destroy() {
	vk.DestroyImage(i.device.handle, i.handle, nil)
}

type imageView struct {
	device *device
	handle vk.ImageView
}

func (d *device) CreateImageView(img hal.Image, desc *hal.ImageViewDesc) (hal.ImageView, error) {
	im := img.(*image)
	viewType := vk.ImageViewType2d
	if im.desc.Extent.Depth > 1 {
		viewType = vk.ImageViewType3d
	}
	info := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    im.handle,
		ViewType: viewType,
		Format:   format(desc.Format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleR,
			G: vk.ComponentSwizzleG,
			B: vk.ComponentSwizzleB,
			A: vk.ComponentSwizzleA,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect(desc.Format),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	var view vk.ImageView
	if err := check(vk.CreateImageView(d.handle, &info, nil, &view), "create image view"); err != nil {
		return nil, err
	}
	return &imageView{device: d, handle: view}, nil
}

func (v *imageView) Destroy() {
	vk.DestroyImageView(v.device.handle, v.handle, nil)
}

type shaderModule struct {
	device *device
	handle vk.ShaderModule
}

func (d *device) CreateShaderModule(code []uint32) (hal.ShaderModule, error) {
	info := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code) * 4),
		PCode:    code,
	}
	var m vk.ShaderModule
	if err := check(vk.CreateShaderModule(d.handle, &info, nil, &m), "create shader module"); err != nil {
		return nil, err
	}
	return &shaderModule{device: d, handle: m}, nil
}

func (s *shaderModule) Destroy() {
	vk.DestroyShaderModule(s.device.handle, s.handle, nil)
}

func (s *shaderModule) stage(stage hal.ShaderStage, entry string) vk.PipelineShaderStageCreateInfo {
	return vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  shaderStage(stage),
		Module: s.handle,
		PName:  safeString(entry),
	}
}
