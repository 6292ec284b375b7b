package soft

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"

	"github.com/celer/vkcore/hal"
)

const (
	bufferAlignment = 16
	imageAlignment  = 256
)

type memory struct {
	dev   *device
	data  []byte
	flags hal.MemoryPropertyFlags
	heap  int

	mu        sync.Mutex
	mapped    bool
	destroyed bool
}

func (m *memory) Size() uint64 { return uint64(len(m.data)) }

func (m *memory) Map(offset, size uint64) ([]byte, error) {
	if m.flags&hal.MemoryHostVisible == 0 {
		return nil, errors.Wrap(hal.ErrMemoryMapFailed, "memory is not host visible")
	}
	if offset+size > uint64(len(m.data)) {
		return nil, errors.Wrapf(hal.ErrMemoryMapFailed, "range [%d,%d) outside %d bytes", offset, offset+size, len(m.data))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mapped {
		return nil, errors.Wrap(hal.ErrMemoryMapFailed, "memory already mapped")
	}
	m.mapped = true
	return m.data[offset : offset+size : offset+size], nil
}

func (m *memory) Unmap() {
	m.mu.Lock()
	m.mapped = false
	m.mu.Unlock()
}

func (m *memory) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}
	m.destroyed = true
	m.dev.freeMemory(m)
}

type buffer struct {
	dev    *device
	desc   hal.BufferDesc
	mem    *memory
	offset uint64
}

func alignUp(v, a uint64) uint64 { return (v + a - 1) / a * a }

func (b *buffer) Requirements() hal.MemoryRequirements {
	return hal.MemoryRequirements{
		Size:      alignUp(b.desc.Size, 4),
		Alignment: bufferAlignment,
		TypeBits:  (1 << len(b.dev.adapter.memory.Types)) - 1,
	}
}

func (b *buffer) Bind(mem hal.Memory, offset uint64) error {
	m, ok := mem.(*memory)
	if !ok {
		return hal.ErrInvalidHandle
	}
	if b.mem != nil {
		return errors.Wrap(hal.ErrInvalidHandle, "buffer already bound")
	}
	if offset%bufferAlignment != 0 || offset+b.desc.Size > m.Size() {
		return errors.Wrapf(hal.ErrInvalidHandle, "bind offset %d for %d bytes in %d byte memory", offset, b.desc.Size, m.Size())
	}
	b.mem, b.offset = m, offset
	return nil
}

func (b *buffer) bytes() []byte {
	if b.mem == nil {
		return nil
	}
	return b.mem.data[b.offset : b.offset+b.desc.Size : b.offset+b.desc.Size]
}

func (b *buffer) Destroy() { b.mem = nil }

type image struct {
	dev    *device
	desc   hal.ImageDesc
	mem    *memory
	offset uint64
}

func (i *image) texelCount() uint64 {
	e := i.desc.Extent
	return uint64(e.Width) * uint64(e.Height) * uint64(e.Depth)
}

func (i *image) Requirements() hal.MemoryRequirements {
	var bits uint32
	for n, t := range i.dev.adapter.memory.Types {
		if t.Flags&hal.MemoryDeviceLocal != 0 {
			bits |= 1 << n
		}
	}
	return hal.MemoryRequirements{
		Size:      alignUp(i.texelCount()*uint64(i.desc.Format.Size()), imageAlignment),
		Alignment: imageAlignment,
		TypeBits:  bits,
	}
}

func (i *image) Bind(mem hal.Memory, offset uint64) error {
	m, ok := mem.(*memory)
	if !ok {
		return hal.ErrInvalidHandle
	}
	size := i.texelCount() * uint64(i.desc.Format.Size())
	if i.mem != nil || offset%imageAlignment != 0 || offset+size > m.Size() {
		return errors.Wrapf(hal.ErrInvalidHandle, "bind image at %d in %d byte memory", offset, m.Size())
	}
	i.mem, i.offset = m, offset
	return nil
}

func (i *image) bytes() []byte {
	if i.mem == nil {
		return nil
	}
	size := i.texelCount() * uint64(i.desc.Format.Size())
	return i.mem.data[i.offset : i.offset+size]
}

func (i *image) texel(x, y, z int) []byte {
	e := i.desc.Extent
	ts := int(i.desc.Format.Size())
	off := ((z*int(e.Height)+y)*int(e.Width) + x) * ts
	return i.bytes()[off : off+ts]
}

func (i *image) Destroy() { i.mem = nil }

type imageView struct {
	image *image
}

func (v *imageView) Destroy() {}

func unorm(f float32) byte {
	return byte(math.Round(float64(mgl32.Clamp(f, 0, 1) * 255)))
}

func storeTexel(f hal.Format, dst []byte, c mgl32.Vec4) {
	switch f {
	case hal.FormatR8G8B8A8Unorm:
		dst[0], dst[1], dst[2], dst[3] = unorm(c[0]), unorm(c[1]), unorm(c[2]), unorm(c[3])
	case hal.FormatB8G8R8A8Unorm:
		dst[0], dst[1], dst[2], dst[3] = unorm(c[2]), unorm(c[1]), unorm(c[0]), unorm(c[3])
	case hal.FormatR8G8B8A8Uint:
		for i := 0; i < 4; i++ {
			dst[i] = byte(mgl32.Clamp(c[i], 0, 255))
		}
	case hal.FormatR32Uint:
		binary.LittleEndian.PutUint32(dst, uint32(c[0]))
	case hal.FormatR32Sint:
		binary.LittleEndian.PutUint32(dst, uint32(int32(c[0])))
	default:
		for i := 0; i < f.Components(); i++ {
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(c[i]))
		}
	}
}

func loadTexel(f hal.Format, src []byte) mgl32.Vec4 {
	c := mgl32.Vec4{0, 0, 0, 1}
	switch f {
	case hal.FormatR8G8B8A8Unorm:
		for i := 0; i < 4; i++ {
			c[i] = float32(src[i]) / 255
		}
	case hal.FormatB8G8R8A8Unorm:
		c = mgl32.Vec4{float32(src[2]) / 255, float32(src[1]) / 255, float32(src[0]) / 255, float32(src[3]) / 255}
	case hal.FormatR8G8B8A8Uint:
		for i := 0; i < 4; i++ {
			c[i] = float32(src[i])
		}
	case hal.FormatR32Uint:
		c[0] = float32(binary.LittleEndian.Uint32(src))
	case hal.FormatR32Sint:
		c[0] = float32(int32(binary.LittleEndian.Uint32(src)))
	default:
		for i := 0; i < f.Components(); i++ {
			c[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
		}
	}
	return c
}
