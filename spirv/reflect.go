package spirv

import (
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"
)

type typeInfo struct {
	op       uint32
	width    uint32
	signed   bool
	elem     uint32
	count    uint32 // vector size, or array length constant id
	sampled  uint32
	storage  uint32
	builtins bool // struct carries BuiltIn members (gl_PerVertex)
}

type decoration struct {
	set, binding, location   uint32
	hasSet, hasBinding       bool
	hasLocation              bool
	block, bufferBlock, isBI bool
}

type variable struct {
	id, typ, storage uint32
}

type entry struct {
	model     uint32
	id        uint32
	name      string
	iface     []uint32
	localSize [3]uint32
}

type reflector struct {
	names     map[uint32]string
	decor     map[uint32]*decoration
	types     map[uint32]*typeInfo
	constants map[uint32]uint32
	vars      []variable
	entries   []*entry
}

// ReflectBytes reflects a module stored as a byte stream in either endianness.
func ReflectBytes(data []byte) (*Module, error) {
	if len(data)%4 != 0 || len(data) < 20 {
		return nil, errors.Wrapf(ErrInvalidModule, "%d bytes is not a word stream", len(data))
	}
	var order binary.ByteOrder = binary.LittleEndian
	if binary.LittleEndian.Uint32(data) != Magic {
		if binary.BigEndian.Uint32(data) != Magic {
			return nil, errors.Wrap(ErrInvalidModule, "bad magic")
		}
		order = binary.BigEndian
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = order.Uint32(data[i*4:])
	}
	return Reflect(words)
}

// Reflect parses the interface of a SPIR-V module.
func Reflect(code []uint32) (*Module, error) {
	if len(code) < 5 {
		return nil, errors.Wrap(ErrInvalidModule, "truncated header")
	}
	if code[0] != Magic {
		return nil, errors.Wrapf(ErrInvalidModule, "bad magic %#x", code[0])
	}
	r := &reflector{
		names:     map[uint32]string{},
		decor:     map[uint32]*decoration{},
		types:     map[uint32]*typeInfo{},
		constants: map[uint32]uint32{},
	}
	words := code[5:]
	for i := 0; i < len(words); {
		wc := int(words[i] >> 16)
		op := words[i] & 0xffff
		if wc == 0 || i+wc > len(words) {
			return nil, errors.Wrapf(ErrInvalidModule, "instruction %d at word %d overruns module", op, i+5)
		}
		if err := r.instruction(op, words[i+1:i+wc]); err != nil {
			return nil, err
		}
		i += wc
	}
	return r.module(code[1])
}

func (r *reflector) dec(id uint32) *decoration {
	d, ok := r.decor[id]
	if !ok {
		d = &decoration{}
		r.decor[id] = d
	}
	return d
}

func need(ops []uint32, n int, what string) error {
	if len(ops) < n {
		return errors.Wrapf(ErrInvalidModule, "%s: want %d operands, got %d", what, n, len(ops))
	}
	return nil
}

func (r *reflector) instruction(op uint32, ops []uint32) error {
	switch op {
	case opName:
		if err := need(ops, 1, "OpName"); err != nil {
			return err
		}
		r.names[ops[0]], _ = literalString(ops[1:])
	case opEntryPoint:
		if err := need(ops, 3, "OpEntryPoint"); err != nil {
			return err
		}
		name, n := literalString(ops[2:])
		r.entries = append(r.entries, &entry{
			model: ops[0],
			id:    ops[1],
			name:  name,
			iface: append([]uint32(nil), ops[2+n:]...),
		})
	case opExecutionMode:
		if err := need(ops, 2, "OpExecutionMode"); err != nil {
			return err
		}
		if ops[1] == modeLocalSize {
			if err := need(ops, 5, "LocalSize"); err != nil {
				return err
			}
			for _, e := range r.entries {
				if e.id == ops[0] {
					copy(e.localSize[:], ops[2:5])
				}
			}
		}
	case opDecorate:
		if err := need(ops, 2, "OpDecorate"); err != nil {
			return err
		}
		d := r.dec(ops[0])
		switch ops[1] {
		case decorationBlock:
			d.block = true
		case decorationBuffer:
			d.bufferBlock = true
		case decorationBuiltIn:
			d.isBI = true
		case decorationSet, decorationBinding, decorationLocation:
			if err := need(ops, 3, "OpDecorate"); err != nil {
				return err
			}
			switch ops[1] {
			case decorationSet:
				d.set, d.hasSet = ops[2], true
			case decorationBinding:
				d.binding, d.hasBinding = ops[2], true
			default:
				d.location, d.hasLocation = ops[2], true
			}
		}
	case opMemberDecorate:
		if len(ops) >= 3 && ops[2] == decorationBuiltIn {
			r.dec(ops[0]).isBI = true
		}
	case opTypeInt:
		if err := need(ops, 3, "OpTypeInt"); err != nil {
			return err
		}
		r.types[ops[0]] = &typeInfo{op: op, width: ops[1], signed: ops[2] == 1}
	case opTypeFloat:
		if err := need(ops, 2, "OpTypeFloat"); err != nil {
			return err
		}
		r.types[ops[0]] = &typeInfo{op: op, width: ops[1]}
	case opTypeVector:
		if err := need(ops, 3, "OpTypeVector"); err != nil {
			return err
		}
		r.types[ops[0]] = &typeInfo{op: op, elem: ops[1], count: ops[2]}
	case opTypeImage:
		if err := need(ops, 8, "OpTypeImage"); err != nil {
			return err
		}
		r.types[ops[0]] = &typeInfo{op: op, elem: ops[1], sampled: ops[6]}
	case opTypeSampler:
		if err := need(ops, 1, "OpTypeSampler"); err != nil {
			return err
		}
		r.types[ops[0]] = &typeInfo{op: op}
	case opTypeSampledImage, opTypeRuntimeArray:
		if err := need(ops, 2, "type"); err != nil {
			return err
		}
		r.types[ops[0]] = &typeInfo{op: op, elem: ops[1]}
	case opTypeArray:
		if err := need(ops, 3, "OpTypeArray"); err != nil {
			return err
		}
		r.types[ops[0]] = &typeInfo{op: op, elem: ops[1], count: ops[2]}
	case opTypeStruct:
		if err := need(ops, 1, "OpTypeStruct"); err != nil {
			return err
		}
		r.types[ops[0]] = &typeInfo{op: op}
	case opTypePointer:
		if err := need(ops, 3, "OpTypePointer"); err != nil {
			return err
		}
		r.types[ops[0]] = &typeInfo{op: op, storage: ops[1], elem: ops[2]}
	case opConstant:
		if err := need(ops, 3, "OpConstant"); err != nil {
			return err
		}
		r.constants[ops[1]] = ops[2]
	case opVariable:
		if err := need(ops, 3, "OpVariable"); err != nil {
			return err
		}
		r.vars = append(r.vars, variable{typ: ops[0], id: ops[1], storage: ops[2]})
	}
	return nil
}

func (r *reflector) module(version uint32) (*Module, error) {
	m := &Module{Version: version}
	stage := map[uint32]Variable{}
	isInput := map[uint32]bool{}
	for _, v := range r.vars {
		ptr, ok := r.types[v.typ]
		if !ok || ptr.op != opTypePointer {
			return nil, errors.Wrapf(ErrInvalidModule, "variable %%%d has non-pointer type", v.id)
		}
		switch v.storage {
		case storageUniform, storageUniformConst, storageBuffer:
			b, ok, err := r.binding(v, ptr.elem)
			if err != nil {
				return nil, err
			}
			if ok {
				m.Bindings = append(m.Bindings, b)
			}
		case storageInput, storageOutput:
			sv, ok := r.stageVariable(v, ptr.elem)
			if ok {
				stage[v.id] = sv
				isInput[v.id] = v.storage == storageInput
			}
		}
	}
	sort.Slice(m.Bindings, func(i, j int) bool {
		a, b := m.Bindings[i], m.Bindings[j]
		if a.Set != b.Set {
			return a.Set < b.Set
		}
		return a.Binding < b.Binding
	})
	for _, e := range r.entries {
		ep := EntryPoint{Name: e.name, Model: ExecutionModel(e.model), LocalSize: e.localSize}
		for _, id := range e.iface {
			sv, ok := stage[id]
			if !ok {
				continue
			}
			if isInput[id] {
				ep.Inputs = append(ep.Inputs, sv)
			} else {
				ep.Outputs = append(ep.Outputs, sv)
			}
		}
		sortVars(ep.Inputs)
		sortVars(ep.Outputs)
		m.EntryPoints = append(m.EntryPoints, ep)
	}
	if len(m.EntryPoints) == 0 {
		return nil, errors.Wrap(ErrInvalidModule, "no entry point")
	}
	return m, nil
}

func sortVars(v []Variable) {
	sort.Slice(v, func(i, j int) bool { return v[i].Location < v[j].Location })
}

func (r *reflector) binding(v variable, typ uint32) (Binding, bool, error) {
	d := r.decor[v.id]
	b := Binding{Count: 1, Name: r.names[v.id]}
	if d != nil {
		b.Set, b.Binding = d.set, d.binding
	}
	t, ok := r.types[typ]
	if !ok {
		return b, false, errors.Wrapf(ErrInvalidModule, "variable %%%d: unknown type %%%d", v.id, typ)
	}
	switch t.op {
	case opTypeArray:
		b.Count = r.constants[t.count]
		typ, t = t.elem, r.types[t.elem]
	case opTypeRuntimeArray:
		b.Count = 0
		typ, t = t.elem, r.types[t.elem]
	}
	if t == nil {
		return b, false, errors.Wrapf(ErrInvalidModule, "variable %%%d: unknown element type", v.id)
	}
	td := r.decor[typ]
	switch t.op {
	case opTypeStruct:
		switch {
		case v.storage == storageBuffer, td != nil && td.bufferBlock:
			b.Kind = StorageBuffer
		case td != nil && td.block:
			b.Kind = UniformBuffer
		default:
			return b, false, nil
		}
	case opTypeImage:
		if t.sampled == 2 {
			b.Kind = StorageImage
		} else {
			b.Kind = SampledImage
		}
	case opTypeSampledImage:
		b.Kind = CombinedImageSampler
	case opTypeSampler:
		b.Kind = Sampler
	default:
		return b, false, nil
	}
	return b, true, nil
}

func (r *reflector) stageVariable(v variable, typ uint32) (Variable, bool) {
	d := r.decor[v.id]
	if d == nil || d.isBI || !d.hasLocation {
		return Variable{}, false
	}
	if td := r.decor[typ]; td != nil && td.isBI {
		return Variable{}, false
	}
	t := r.types[typ]
	if t == nil {
		return Variable{}, false
	}
	sv := Variable{Location: d.location, Components: 1, Name: r.names[v.id]}
	if t.op == opTypeVector {
		sv.Components = int(t.count)
		t = r.types[t.elem]
		if t == nil {
			return Variable{}, false
		}
	}
	switch t.op {
	case opTypeFloat:
		sv.Type = Float
	case opTypeInt:
		if t.signed {
			sv.Type = Int
		} else {
			sv.Type = Uint
		}
	default:
		return Variable{}, false
	}
	return sv, true
}

// literalString decodes a nul-terminated UTF-8 literal and reports the
// number of words it occupied.
func literalString(words []uint32) (string, int) {
	var buf []byte
	for i, w := range words {
		for s := 0; s < 32; s += 8 {
			c := byte(w >> s)
			if c == 0 {
				return string(buf), i + 1
			}
			buf = append(buf, c)
		}
	}
	return string(buf), len(words)
}
