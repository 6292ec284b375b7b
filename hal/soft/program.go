package soft

import (
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/celer/vkcore/hal"
)

// MaxVaryings is the number of vec4 locations passed from vertex to fragment programs.
const MaxVaryings = 8

// Program is the executable side of a shader entry point. Only the field
// matching the module's execution model is used.
type Program struct {
	Compute  ComputeFunc
	Vertex   VertexFunc
	Fragment FragmentFunc
}

// ComputeFunc runs once per invocation.
type ComputeFunc func(inv *Invocation)

// VertexFunc transforms one vertex.
type VertexFunc func(in *VertexInput, out *VertexOutput)

// FragmentFunc shades one fragment and returns the color for the first
// color attachment of the subpass.
type FragmentFunc func(in *FragmentInput) mgl32.Vec4

// Resources gives programs access to the bound descriptor sets.
type Resources struct {
	sets []*descriptorSet
}

func (r *Resources) write(set, binding int) *hal.DescriptorWrite {
	if set >= len(r.sets) || r.sets[set] == nil {
		return nil
	}
	w, ok := r.sets[set].writes[binding]
	if !ok {
		return nil
	}
	return &w
}

// Buffer returns the bytes bound at (set, binding), or nil.
func (r *Resources) Buffer(set, binding int) []byte {
	w := r.write(set, binding)
	if w == nil || w.Buffer == nil {
		return nil
	}
	data := w.Buffer.(*buffer).bytes()
	end := w.Offset + w.Range
	if w.Range == 0 || end > uint64(len(data)) {
		end = uint64(len(data))
	}
	return data[w.Offset:end]
}

// Uint32s views the buffer at (set, binding) as uint32 elements.
func (r *Resources) Uint32s(set, binding int) []uint32 {
	b := r.Buffer(set, binding)
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), len(b)/4)
}

func (r *Resources) Float32s(set, binding int) []float32 {
	b := r.Buffer(set, binding)
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Texel loads the texel at (x, y) of the view bound at (set, binding).
// Coordinates outside the image read as zero.
func (r *Resources) Texel(set, binding, x, y int) mgl32.Vec4 {
	img := r.image(set, binding)
	if img == nil || x < 0 || y < 0 || x >= int(img.desc.Extent.Width) || y >= int(img.desc.Extent.Height) {
		return mgl32.Vec4{}
	}
	return loadTexel(img.desc.Format, img.texel(x, y, 0))
}

// SetTexel stores c at (x, y) of the view bound at (set, binding).
func (r *Resources) SetTexel(set, binding, x, y int, c mgl32.Vec4) {
	img := r.image(set, binding)
	if img == nil || x < 0 || y < 0 || x >= int(img.desc.Extent.Width) || y >= int(img.desc.Extent.Height) {
		return
	}
	storeTexel(img.desc.Format, img.texel(x, y, 0), c)
}

func (r *Resources) image(set, binding int) *image {
	w := r.write(set, binding)
	if w == nil || w.View == nil {
		return nil
	}
	return w.View.(*imageView).image
}

type Invocation struct {
	Resources
	GlobalID      [3]uint32
	LocalID       [3]uint32
	WorkGroupID   [3]uint32
	NumWorkGroups [3]uint32
}

// GlobalIndex flattens GlobalID for one-dimensional dispatches.
func (inv *Invocation) GlobalIndex() int { return int(inv.GlobalID[0]) }

type VertexInput struct {
	Resources
	VertexIndex   uint32
	InstanceIndex uint32
	attrs         [16][]byte
	formats       [16]hal.Format
}

// Vec4 decodes the attribute at location, filling missing components with (0, 0, 0, 1).
func (in *VertexInput) Vec4(location int) mgl32.Vec4 {
	v := mgl32.Vec4{0, 0, 0, 1}
	if location >= len(in.attrs) || in.attrs[location] == nil {
		return v
	}
	b, f := in.attrs[location], in.formats[location]
	for i := 0; i < f.Components() && i < 4; i++ {
		w := binary.LittleEndian.Uint32(b[i*4:])
		switch f.ComponentType() {
		case hal.ComponentUint:
			v[i] = float32(w)
		case hal.ComponentSint:
			v[i] = float32(int32(w))
		default:
			v[i] = math.Float32frombits(w)
		}
	}
	return v
}

func (in *VertexInput) Vec3(location int) mgl32.Vec3 { return in.Vec4(location).Vec3() }

func (in *VertexInput) Vec2(location int) mgl32.Vec2 { return in.Vec4(location).Vec2() }

func (in *VertexInput) Float(location int) float32 { return in.Vec4(location)[0] }

type VertexOutput struct {
	Position mgl32.Vec4
	Varyings [MaxVaryings]mgl32.Vec4
}

type FragmentInput struct {
	Resources
	FragCoord mgl32.Vec4
	Varyings  [MaxVaryings]mgl32.Vec4
}
