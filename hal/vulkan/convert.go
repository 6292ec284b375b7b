package vulkan

import (
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"

	"github.com/celer/vkcore/hal"
)

// check turns a failed vk.Result into the matching hal error.
func check(res vk.Result, what string) error {
	if res == vk.Success {
		return nil
	}
	var base error
	switch res {
	case vk.ErrorDeviceLost:
		base = hal.ErrDeviceLost
	case vk.Timeout:
		base = hal.ErrTimeout
	case vk.ErrorOutOfDeviceMemory:
		base = hal.ErrOutOfDeviceMemory
	case vk.ErrorOutOfHostMemory:
		base = hal.ErrOutOfHostMemory
	case vk.ErrorTooManyObjects:
		base = hal.ErrTooManyObjects
	case vk.ErrorMemoryMapFailed:
		base = hal.ErrMemoryMapFailed
	case vk.ErrorFeatureNotPresent, vk.ErrorFormatNotSupported, vk.ErrorExtensionNotPresent, vk.ErrorLayerNotPresent:
		base = hal.ErrUnsupported
	default:
		return errors.Wrap(vk.Error(res), what)
	}
	return errors.Wrapf(base, "%s: %v", what, vk.Error(res))
}

func bool32(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}

func adapterType(t vk.PhysicalDeviceType) hal.AdapterType {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return hal.AdapterIntegrated
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return hal.AdapterDiscrete
	case vk.PhysicalDeviceTypeVirtualGpu:
		return hal.AdapterVirtual
	case vk.PhysicalDeviceTypeCpu:
		return hal.AdapterCPU
	}
	return hal.AdapterOther
}

func queueFlags(f vk.QueueFlagBits) hal.QueueFlags {
	var ret hal.QueueFlags
	if f&vk.QueueGraphicsBit != 0 {
		ret |= hal.QueueGraphics
	}
	if f&vk.QueueComputeBit != 0 {
		ret |= hal.QueueCompute
	}
	// graphics and compute families transfer implicitly
	if f&(vk.QueueTransferBit|vk.QueueGraphicsBit|vk.QueueComputeBit) != 0 {
		ret |= hal.QueueTransfer
	}
	return ret
}

func memoryFlags(f vk.MemoryPropertyFlagBits) hal.MemoryPropertyFlags {
	var ret hal.MemoryPropertyFlags
	if f&vk.MemoryPropertyDeviceLocalBit != 0 {
		ret |= hal.MemoryDeviceLocal
	}
	if f&vk.MemoryPropertyHostVisibleBit != 0 {
		ret |= hal.MemoryHostVisible
	}
	if f&vk.MemoryPropertyHostCoherentBit != 0 {
		ret |= hal.MemoryHostCoherent
	}
	if f&vk.MemoryPropertyHostCachedBit != 0 {
		ret |= hal.MemoryHostCached
	}
	return ret
}

var formats = map[hal.Format]vk.Format{
	hal.FormatR8G8B8A8Unorm:      vk.FormatR8g8b8a8Unorm,
	hal.FormatB8G8R8A8Unorm:      vk.FormatB8g8r8a8Unorm,
	hal.FormatR8G8B8A8Uint:       vk.FormatR8g8b8a8Uint,
	hal.FormatR32Uint:            vk.FormatR32Uint,
	hal.FormatR32Sint:            vk.FormatR32Sint,
	hal.FormatR32Sfloat:          vk.FormatR32Sfloat,
	hal.FormatR32G32Sfloat:       vk.FormatR32g32Sfloat,
	hal.FormatR32G32B32Sfloat:    vk.FormatR32g32b32Sfloat,
	hal.FormatR32G32B32A32Sfloat: vk.FormatR32g32b32a32Sfloat,
	hal.FormatD32Sfloat:          vk.FormatD32Sfloat,
}

func format(f hal.Format) vk.Format {
	if v, ok := formats[f]; ok {
		return v
	}
	return vk.FormatUndefined
}

func aspect(f hal.Format) vk.ImageAspectFlags {
	if f.IsDepth() {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

func bufferUsage(u hal.BufferUsage) vk.BufferUsageFlags {
	var ret vk.BufferUsageFlagBits
	pairs := []struct {
		h hal.BufferUsage
		v vk.BufferUsageFlagBits
	}{
		{hal.BufferUsageTransferSrc, vk.BufferUsageTransferSrcBit},
		{hal.BufferUsageTransferDst, vk.BufferUsageTransferDstBit},
		{hal.BufferUsageUniform, vk.BufferUsageUniformBufferBit},
		{hal.BufferUsageStorage, vk.BufferUsageStorageBufferBit},
		{hal.BufferUsageIndex, vk.BufferUsageIndexBufferBit},
		{hal.BufferUsageVertex, vk.BufferUsageVertexBufferBit},
	}
	for _, p := range pairs {
		if u&p.h != 0 {
			ret |= p.v
		}
	}
	return vk.BufferUsageFlags(ret)
}

func imageUsage(u hal.ImageUsage) vk.ImageUsageFlags {
	var ret vk.ImageUsageFlagBits
	pairs := []struct {
		h hal.ImageUsage
		v vk.ImageUsageFlagBits
	}{
		{hal.ImageUsageTransferSrc, vk.ImageUsageTransferSrcBit},
		{hal.ImageUsageTransferDst, vk.ImageUsageTransferDstBit},
		{hal.ImageUsageSampled, vk.ImageUsageSampledBit},
		{hal.ImageUsageStorage, vk.ImageUsageStorageBit},
		{hal.ImageUsageColorAttachment, vk.ImageUsageColorAttachmentBit},
		{hal.ImageUsageDepthStencilAttachment, vk.ImageUsageDepthStencilAttachmentBit},
	}
	for _, p := range pairs {
		if u&p.h != 0 {
			ret |= p.v
		}
	}
	return vk.ImageUsageFlags(ret)
}

func shaderStages(s hal.ShaderStage) vk.ShaderStageFlags {
	var ret vk.ShaderStageFlagBits
	if s&hal.StageVertex != 0 {
		ret |= vk.ShaderStageVertexBit
	}
	if s&hal.StageFragment != 0 {
		ret |= vk.ShaderStageFragmentBit
	}
	if s&hal.StageCompute != 0 {
		ret |= vk.ShaderStageComputeBit
	}
	return vk.ShaderStageFlags(ret)
}

func shaderStage(s hal.ShaderStage) vk.ShaderStageFlagBits {
	return vk.ShaderStageFlagBits(shaderStages(s))
}

func descriptorType(t hal.DescriptorType) vk.DescriptorType {
	switch t {
	case hal.DescriptorUniformBuffer:
		return vk.DescriptorTypeUniformBuffer
	case hal.DescriptorStorageBuffer:
		return vk.DescriptorTypeStorageBuffer
	case hal.DescriptorSampledImage:
		return vk.DescriptorTypeSampledImage
	case hal.DescriptorStorageImage:
		return vk.DescriptorTypeStorageImage
	case hal.DescriptorCombinedImageSampler:
		return vk.DescriptorTypeCombinedImageSampler
	}
	return vk.DescriptorTypeSampler
}

func topology(t hal.PrimitiveTopology) vk.PrimitiveTopology {
	switch t {
	case hal.TopologyTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	case hal.TopologyLineList:
		return vk.PrimitiveTopologyLineList
	case hal.TopologyPointList:
		return vk.PrimitiveTopologyPointList
	}
	return vk.PrimitiveTopologyTriangleList
}

func blendFactor(f hal.BlendFactor) vk.BlendFactor {
	switch f {
	case hal.BlendOne:
		return vk.BlendFactorOne
	case hal.BlendSrcAlpha:
		return vk.BlendFactorSrcAlpha
	case hal.BlendOneMinusSrcAlpha:
		return vk.BlendFactorOneMinusSrcAlpha
	case hal.BlendDstAlpha:
		return vk.BlendFactorDstAlpha
	case hal.BlendOneMinusDstAlpha:
		return vk.BlendFactorOneMinusDstAlpha
	}
	return vk.BlendFactorZero
}

func blendOp(o hal.BlendOp) vk.BlendOp {
	if o == hal.BlendOpSubtract {
		return vk.BlendOpSubtract
	}
	return vk.BlendOpAdd
}

func polygonMode(m hal.PolygonMode) vk.PolygonMode {
	switch m {
	case hal.PolygonLine:
		return vk.PolygonModeLine
	case hal.PolygonPoint:
		return vk.PolygonModePoint
	}
	return vk.PolygonModeFill
}

func cullMode(m hal.CullMode) vk.CullModeFlags {
	switch m {
	case hal.CullFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case hal.CullBack:
		return vk.CullModeFlags(vk.CullModeBackBit)
	case hal.CullFrontAndBack:
		return vk.CullModeFlags(vk.CullModeFrontAndBack)
	}
	return vk.CullModeFlags(vk.CullModeNone)
}

func frontFace(f hal.FrontFace) vk.FrontFace {
	if f == hal.FrontFaceClockwise {
		return vk.FrontFaceClockwise
	}
	return vk.FrontFaceCounterClockwise
}

var compareOps = [...]vk.CompareOp{
	hal.CompareNever:          vk.CompareOpNever,
	hal.CompareLess:           vk.CompareOpLess,
	hal.CompareEqual:          vk.CompareOpEqual,
	hal.CompareLessOrEqual:    vk.CompareOpLessOrEqual,
	hal.CompareGreater:        vk.CompareOpGreater,
	hal.CompareNotEqual:       vk.CompareOpNotEqual,
	hal.CompareGreaterOrEqual: vk.CompareOpGreaterOrEqual,
	hal.CompareAlways:         vk.CompareOpAlways,
}

func loadOp(o hal.LoadOp) vk.AttachmentLoadOp {
	switch o {
	case hal.LoadOpClear:
		return vk.AttachmentLoadOpClear
	case hal.LoadOpDontCare:
		return vk.AttachmentLoadOpDontCare
	}
	return vk.AttachmentLoadOpLoad
}

func storeOp(o hal.StoreOp) vk.AttachmentStoreOp {
	if o == hal.StoreOpDontCare {
		return vk.AttachmentStoreOpDontCare
	}
	return vk.AttachmentStoreOpStore
}

func samples(n int) vk.SampleCountFlagBits {
	if n <= 1 {
		return vk.SampleCount1Bit
	}
	return vk.SampleCountFlagBits(n)
}

func bindPoint(p hal.BindPoint) vk.PipelineBindPoint {
	if p == hal.BindPointCompute {
		return vk.PipelineBindPointCompute
	}
	return vk.PipelineBindPointGraphics
}

func colorMask(m hal.ColorMask) vk.ColorComponentFlags {
	var ret vk.ColorComponentFlagBits
	if m&hal.ColorMaskR != 0 {
		ret |= vk.ColorComponentRBit
	}
	if m&hal.ColorMaskG != 0 {
		ret |= vk.ColorComponentGBit
	}
	if m&hal.ColorMaskB != 0 {
		ret |= vk.ColorComponentBBit
	}
	if m&hal.ColorMaskA != 0 {
		ret |= vk.ColorComponentABit
	}
	return vk.ColorComponentFlags(ret)
}
