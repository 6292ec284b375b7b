package hal

import "fmt"

// QueueFlags describes what a queue family can execute.
type QueueFlags uint32

const (
	QueueGraphics QueueFlags = 1 << iota
	QueueCompute
	QueueTransfer
)

func (f QueueFlags) Has(o QueueFlags) bool { return f&o == o }

func (f QueueFlags) String() string {
	s := ""
	add := func(n string) {
		if s != "" {
			s += "|"
		}
		s += n
	}
	if f&QueueGraphics != 0 {
		add("graphics")
	}
	if f&QueueCompute != 0 {
		add("compute")
	}
	if f&QueueTransfer != 0 {
		add("transfer")
	}
	if s == "" {
		return "none"
	}
	return s
}

// MemoryPropertyFlags mirrors VkMemoryPropertyFlags for the subset the core cares about.
type MemoryPropertyFlags uint32

const (
	MemoryDeviceLocal MemoryPropertyFlags = 1 << iota
	MemoryHostVisible
	MemoryHostCoherent
	MemoryHostCached
)

type BufferUsage uint32

const (
	BufferUsageTransferSrc BufferUsage = 1 << iota
	BufferUsageTransferDst
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageIndex
	BufferUsageVertex
)

type ImageUsage uint32

const (
	ImageUsageTransferSrc ImageUsage = 1 << iota
	ImageUsageTransferDst
	ImageUsageSampled
	ImageUsageStorage
	ImageUsageColorAttachment
	ImageUsageDepthStencilAttachment
)

// ShaderStage is a bit mask so a binding can be visible to several stages.
type ShaderStage uint32

const (
	StageVertex ShaderStage = 1 << iota
	StageFragment
	StageCompute
)

func (s ShaderStage) String() string {
	switch s {
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	case StageCompute:
		return "compute"
	}
	return fmt.Sprintf("stages(%#x)", uint32(s))
}

type DescriptorType uint32

const (
	DescriptorUniformBuffer DescriptorType = iota
	DescriptorStorageBuffer
	DescriptorSampledImage
	DescriptorStorageImage
	DescriptorCombinedImageSampler
	DescriptorSampler
)

func (t DescriptorType) String() string {
	switch t {
	case DescriptorUniformBuffer:
		return "uniform-buffer"
	case DescriptorStorageBuffer:
		return "storage-buffer"
	case DescriptorSampledImage:
		return "sampled-image"
	case DescriptorStorageImage:
		return "storage-image"
	case DescriptorCombinedImageSampler:
		return "combined-image-sampler"
	case DescriptorSampler:
		return "sampler"
	}
	return fmt.Sprintf("descriptor(%d)", uint32(t))
}

// IsBuffer reports whether the descriptor type binds a buffer range.
func (t DescriptorType) IsBuffer() bool {
	return t == DescriptorUniformBuffer || t == DescriptorStorageBuffer
}

type AdapterType int

const (
	AdapterOther AdapterType = iota
	AdapterIntegrated
	AdapterDiscrete
	AdapterVirtual
	AdapterCPU
)

func (t AdapterType) String() string {
	return [...]string{"other", "integrated", "discrete", "virtual", "cpu"}[t]
}

type AdapterInfo struct {
	Name       string
	Type       AdapterType
	VendorID   uint32
	DeviceID   uint32
	APIVersion string
	Driver     string
}

type QueueFamilyInfo struct {
	Index int
	Flags QueueFlags
	Count int
}

type MemoryType struct {
	Flags     MemoryPropertyFlags
	HeapIndex int
}

type MemoryHeap struct {
	Size        uint64
	DeviceLocal bool
}

type MemoryProperties struct {
	Types []MemoryType
	Heaps []MemoryHeap
}

// Limits is the subset of device limits the core validates against.
type Limits struct {
	MaxMemoryAllocationCount            int
	MaxBoundDescriptorSets              int
	MaxPerStageDescriptorUniformBuffers int
	MaxPerStageDescriptorStorageBuffers int
	MaxPerStageDescriptorSampledImages  int
	MaxPerStageDescriptorStorageImages  int
	MaxComputeWorkGroupCount            [3]uint32
	MaxComputeWorkGroupSize             [3]uint32
	MaxVertexInputAttributes            int
	MaxVertexInputBindings              int
	MaxImageDimension2D                 uint32
	MaxColorAttachments                 int
	MinStorageBufferOffsetAlignment     uint64
	MinUniformBufferOffsetAlignment     uint64
	NonCoherentAtomSize                 uint64
}

type MemoryRequirements struct {
	Size      uint64
	Alignment uint64
	TypeBits  uint32
}

type Extent3D struct {
	Width, Height, Depth uint32
}

type Offset3D struct {
	X, Y, Z int32
}

type Rect struct {
	X, Y          int32
	Width, Height uint32
}

type BufferDesc struct {
	Size  uint64
	Usage BufferUsage
}

type ImageDesc struct {
	Format Format
	Extent Extent3D
	Usage  ImageUsage
}

type ImageViewDesc struct {
	Format Format
}

type LayoutBinding struct {
	Binding int
	Type    DescriptorType
	Count   int
	Stages  ShaderStage
}

type ComputePipelineDesc struct {
	Module     ShaderModule
	EntryPoint string
	Layout     PipelineLayout
}

type PrimitiveTopology int

const (
	TopologyTriangleList PrimitiveTopology = iota
	TopologyTriangleStrip
	TopologyLineList
	TopologyPointList
)

type PolygonMode int

const (
	PolygonFill PolygonMode = iota
	PolygonLine
	PolygonPoint
)

type CullMode int

const (
	CullNone CullMode = iota
	CullFront
	CullBack
	CullFrontAndBack
)

type FrontFace int

const (
	FrontFaceCounterClockwise FrontFace = iota
	FrontFaceClockwise
)

type CompareOp int

const (
	CompareNever CompareOp = iota
	CompareLess
	CompareEqual
	CompareLessOrEqual
	CompareGreater
	CompareNotEqual
	CompareGreaterOrEqual
	CompareAlways
)

type BlendFactor int

const (
	BlendZero BlendFactor = iota
	BlendOne
	BlendSrcAlpha
	BlendOneMinusSrcAlpha
	BlendDstAlpha
	BlendOneMinusDstAlpha
)

type BlendOp int

const (
	BlendOpAdd BlendOp = iota
	BlendOpSubtract
)

type ColorMask uint32

const (
	ColorMaskR ColorMask = 1 << iota
	ColorMaskG
	ColorMaskB
	ColorMaskA
	ColorMaskAll = ColorMaskR | ColorMaskG | ColorMaskB | ColorMaskA
)

type Viewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

type StageDesc struct {
	Stage      ShaderStage
	Module     ShaderModule
	EntryPoint string
}

type VertexBinding struct {
	Binding     int
	Stride      uint32
	PerInstance bool
}

type VertexAttribute struct {
	Location int
	Binding  int
	Format   Format
	Offset   uint32
}

type RasterizationState struct {
	PolygonMode PolygonMode
	CullMode    CullMode
	FrontFace   FrontFace
	LineWidth   float32
}

type MultisampleState struct {
	Samples int
}

type DepthState struct {
	TestEnable  bool
	WriteEnable bool
	Compare     CompareOp
}

type BlendAttachment struct {
	Enable    bool
	SrcColor  BlendFactor
	DstColor  BlendFactor
	ColorOp   BlendOp
	SrcAlpha  BlendFactor
	DstAlpha  BlendFactor
	AlphaOp   BlendOp
	WriteMask ColorMask
}

type GraphicsPipelineDesc struct {
	Stages           []StageDesc
	VertexBindings   []VertexBinding
	VertexAttributes []VertexAttribute
	Topology         PrimitiveTopology
	Viewport         Viewport
	Scissor          Rect
	Rasterization    RasterizationState
	Multisample      MultisampleState
	Depth            DepthState
	Blend            []BlendAttachment
	Layout           PipelineLayout
	RenderPass       RenderPass
	Subpass          int
}

type LoadOp int

const (
	LoadOpLoad LoadOp = iota
	LoadOpClear
	LoadOpDontCare
)

type StoreOp int

const (
	StoreOpStore StoreOp = iota
	StoreOpDontCare
)

type AttachmentDesc struct {
	Format  Format
	Samples int
	Load    LoadOp
	Store   StoreOp
}

// SubpassDesc references attachments by index. DepthAttachment is -1 when unused.
type SubpassDesc struct {
	ColorAttachments []int
	DepthAttachment  int
}

type RenderPassDesc struct {
	Attachments []AttachmentDesc
	Subpasses   []SubpassDesc
}

type FramebufferDesc struct {
	RenderPass  RenderPass
	Attachments []ImageView
	Width       uint32
	Height      uint32
	Layers      uint32
}

type PoolSize struct {
	Type  DescriptorType
	Count int
}

type DescriptorPoolDesc struct {
	MaxSets int
	Sizes   []PoolSize
}

// DescriptorWrite binds either Buffer (with Offset/Range) or View.
type DescriptorWrite struct {
	Binding int
	Type    DescriptorType
	Buffer  Buffer
	Offset  uint64
	Range   uint64
	View    ImageView
}

type BindPoint int

const (
	BindPointGraphics BindPoint = iota
	BindPointCompute
)

type BufferCopy struct {
	SrcOffset, DstOffset, Size uint64
}

// BufferImageCopy copies a tightly packed region when RowLength is zero.
type BufferImageCopy struct {
	BufferOffset uint64
	RowLength    uint32
	ImageOffset  Offset3D
	ImageExtent  Extent3D
}

type ClearColor [4]float32

type ClearValue struct {
	Color ClearColor
	Depth float32
}

type Submission struct {
	CommandBuffers []CommandBuffer
	Wait           []Semaphore
	Signal         []Semaphore
}
