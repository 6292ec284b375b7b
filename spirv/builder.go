package spirv

import (
	"encoding/binary"
	"fmt"
)

// Builder emits SPIR-V 1.0 modules that declare an interface (entry point,
// descriptor bindings, stage inputs and outputs) around an empty body.
// The soft backend pairs such modules with Go programs; tests use them to
// exercise reflection and layout derivation.
type Builder struct {
	model     ExecutionModel
	name      string
	localSize [3]uint32

	bound   uint32
	types   map[string]uint32
	consts  map[uint32]uint32
	debug   []uint32
	annot   []uint32
	globals []uint32
	iface   []uint32
}

func NewBuilder(model ExecutionModel, entryPoint string) *Builder {
	b := &Builder{
		model:  model,
		name:   entryPoint,
		bound:  1,
		types:  map[string]uint32{},
		consts: map[uint32]uint32{},
	}
	if model == ModelGLCompute {
		b.localSize = [3]uint32{1, 1, 1}
	}
	return b
}

func (b *Builder) id() uint32 {
	id := b.bound
	b.bound++
	return id
}

func inst(op uint32, ops ...uint32) []uint32 {
	return append([]uint32{uint32(len(ops)+1)<<16 | op}, ops...)
}

func encodeString(s string) []uint32 {
	buf := append([]byte(s), 0)
	for len(buf)%4 != 0 {
		buf = append(buf, 0)
	}
	out := make([]uint32, len(buf)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return out
}

func (b *Builder) typ(key string, op uint32, ops ...uint32) uint32 {
	if id, ok := b.types[key]; ok {
		return id
	}
	id := b.id()
	b.types[key] = id
	b.globals = append(b.globals, inst(op, append([]uint32{id}, ops...)...)...)
	return id
}

func (b *Builder) scalar(t ScalarType) uint32 {
	switch t {
	case Uint:
		return b.typ("u32", opTypeInt, 32, 0)
	case Int:
		return b.typ("i32", opTypeInt, 32, 1)
	}
	return b.typ("f32", opTypeFloat, 32)
}

func (b *Builder) vector(t ScalarType, n int) uint32 {
	s := b.scalar(t)
	if n == 1 {
		return s
	}
	return b.typ(fmt.Sprintf("v%d.%d", n, t), opTypeVector, s, uint32(n))
}

func (b *Builder) constant(v uint32) uint32 {
	if id, ok := b.consts[v]; ok {
		return id
	}
	u := b.scalar(Uint)
	id := b.id()
	b.consts[v] = id
	b.globals = append(b.globals, inst(opConstant, u, id, v)...)
	return id
}

func (b *Builder) pointer(storage, pointee uint32) uint32 {
	return b.typ(fmt.Sprintf("p%d.%d", storage, pointee), opTypePointer, storage, pointee)
}

func (b *Builder) variable(storage, pointee uint32, name string) uint32 {
	ptr := b.pointer(storage, pointee)
	id := b.id()
	b.globals = append(b.globals, inst(opVariable, ptr, id, storage)...)
	if name != "" {
		b.debug = append(b.debug, inst(opName, append([]uint32{id}, encodeString(name)...)...)...)
	}
	return id
}

func (b *Builder) decorate(id uint32, ops ...uint32) {
	b.annot = append(b.annot, inst(opDecorate, append([]uint32{id}, ops...)...)...)
}

func (b *Builder) resource(set, binding, count uint32, storage, typ uint32, name string) *Builder {
	if count > 1 {
		typ = b.typ(fmt.Sprintf("a%d.%d", typ, count), opTypeArray, typ, b.constant(count))
	}
	v := b.variable(storage, typ, name)
	b.decorate(v, decorationSet, set)
	b.decorate(v, decorationBinding, binding)
	return b
}

// LocalSize sets the compute work-group size.
func (b *Builder) LocalSize(x, y, z uint32) *Builder {
	b.localSize = [3]uint32{x, y, z}
	return b
}

// StorageBuffer declares a buffer block holding a runtime array of uint.
func (b *Builder) StorageBuffer(set, binding uint32, name string) *Builder {
	return b.block(set, binding, decorationBuffer, name)
}

func (b *Builder) UniformBuffer(set, binding uint32, name string) *Builder {
	return b.block(set, binding, decorationBlock, name)
}

func (b *Builder) block(set, binding, deco uint32, name string) *Builder {
	u := b.scalar(Uint)
	var member uint32
	if deco == decorationBuffer {
		_, seen := b.types["rt.u32"]
		member = b.typ("rt.u32", opTypeRuntimeArray, u)
		if !seen {
			b.decorate(member, decorationStride, 4)
		}
	} else {
		member = b.vector(Float, 4)
	}
	st := b.id()
	b.globals = append(b.globals, inst(opTypeStruct, st, member)...)
	b.decorate(st, deco)
	b.annot = append(b.annot, inst(opMemberDecorate, st, 0, decorationOffset, 0)...)
	return b.resource(set, binding, 1, storageUniform, st, name)
}

func (b *Builder) image(sampled uint32) uint32 {
	f := b.scalar(Float)
	format := uint32(0)
	if sampled == 2 {
		format = 1 // Rgba32f
	}
	return b.typ(fmt.Sprintf("img%d", sampled), opTypeImage, f, 1, 0, 0, 0, sampled, format)
}

func (b *Builder) SampledImage(set, binding uint32, name string) *Builder {
	return b.resource(set, binding, 1, storageUniformConst, b.image(1), name)
}

func (b *Builder) StorageImage(set, binding uint32, name string) *Builder {
	return b.resource(set, binding, 1, storageUniformConst, b.image(2), name)
}

func (b *Builder) CombinedImageSampler(set, binding uint32, name string) *Builder {
	img := b.image(1)
	return b.resource(set, binding, 1, storageUniformConst, b.typ("sampled", opTypeSampledImage, img), name)
}

// SampledImageArray declares an array of count sampled images.
func (b *Builder) SampledImageArray(set, binding, count uint32, name string) *Builder {
	return b.resource(set, binding, count, storageUniformConst, b.image(1), name)
}

func (b *Builder) stage(storage, location uint32, t ScalarType, components int, name string) *Builder {
	v := b.variable(storage, b.vector(t, components), name)
	b.decorate(v, decorationLocation, location)
	b.iface = append(b.iface, v)
	return b
}

func (b *Builder) Input(location uint32, t ScalarType, components int, name string) *Builder {
	return b.stage(storageInput, location, t, components, name)
}

func (b *Builder) Output(location uint32, t ScalarType, components int, name string) *Builder {
	return b.stage(storageOutput, location, t, components, name)
}

// Position declares the gl_Position built-in output.
func (b *Builder) Position() *Builder {
	v := b.variable(storageOutput, b.vector(Float, 4), "gl_Position")
	b.decorate(v, decorationBuiltIn, builtinPosition)
	b.iface = append(b.iface, v)
	return b
}

// Build assembles the module words. The builder may be reused afterwards.
func (b *Builder) Build() []uint32 {
	void := b.typ("void", opTypeVoid)
	fnType := b.typ("fn", opTypeFunction, void)
	fn := b.id()
	label := b.id()

	var out []uint32
	out = append(out, Magic, 0x00010000, 0, b.bound, 0)
	out = append(out, inst(opCapability, 1)...)
	out = append(out, inst(opMemoryModel, 0, 1)...)
	ep := append([]uint32{uint32(b.model), fn}, encodeString(b.name)...)
	out = append(out, inst(opEntryPoint, append(ep, b.iface...)...)...)
	switch b.model {
	case ModelGLCompute:
		out = append(out, inst(opExecutionMode, fn, modeLocalSize, b.localSize[0], b.localSize[1], b.localSize[2])...)
	case ModelFragment:
		out = append(out, inst(opExecutionMode, fn, modeOriginUpperLeft)...)
	}
	out = append(out, b.debug...)
	out = append(out, b.annot...)
	out = append(out, b.globals...)
	out = append(out, inst(opFunction, void, fn, 0, fnType)...)
	out = append(out, inst(opLabel, label)...)
	out = append(out, inst(opReturn)...)
	out = append(out, inst(opFunctionEnd)...)
	return out
}

// Bytes returns Build as a little-endian byte stream, the layout of .spv files.
func (b *Builder) Bytes() []byte {
	words := b.Build()
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}
