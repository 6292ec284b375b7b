package vkcore

// Releaser is a reference counted handle: buffers, images, views,
// pipelines, layouts and descriptor sets.
type Releaser interface {
	Release() error
	Released() bool
	InUse() bool
}

// Destroyer is an object destroyed explicitly, like pools, shader modules
// and devices.
type Destroyer interface {
	Destroy()
}

// VertexDescriptor is implemented by vertex types that describe their own
// layout in a vertex buffer.
type VertexDescriptor interface {
	BindingDescription(binding int) VertexBinding
	AttributeDescriptions(binding int) []VertexAttribute
}

var (
	_ Releaser  = (*BufferResource)(nil)
	_ Releaser  = (*Image)(nil)
	_ Releaser  = (*ImageView)(nil)
	_ Releaser  = (*Pipeline)(nil)
	_ Releaser  = (*PipelineLayout)(nil)
	_ Releaser  = (*DescriptorSet)(nil)
	_ Releaser  = (*Framebuffer)(nil)
	_ Destroyer = (*CommandPool)(nil)
	_ Destroyer = (*DescriptorPool)(nil)
	_ Destroyer = (*ShaderModule)(nil)
	_ Destroyer = (*Device)(nil)
)
