// Package spirv reflects the resource interface of SPIR-V binaries: entry
// points, descriptor bindings and stage inputs/outputs. It does not
// validate or execute code.
package spirv

import "github.com/pkg/errors"

const Magic = 0x07230203

var ErrInvalidModule = errors.New("spirv: invalid module")

type ExecutionModel uint32

const (
	ModelVertex    ExecutionModel = 0
	ModelFragment  ExecutionModel = 4
	ModelGLCompute ExecutionModel = 5
)

func (m ExecutionModel) String() string {
	switch m {
	case ModelVertex:
		return "vertex"
	case ModelFragment:
		return "fragment"
	case ModelGLCompute:
		return "compute"
	}
	return "unknown"
}

// ResourceKind classifies a descriptor-bound variable.
type ResourceKind int

const (
	UniformBuffer ResourceKind = iota
	StorageBuffer
	SampledImage
	StorageImage
	CombinedImageSampler
	Sampler
)

func (k ResourceKind) String() string {
	return [...]string{"uniform-buffer", "storage-buffer", "sampled-image", "storage-image", "combined-image-sampler", "sampler"}[k]
}

type ScalarType int

const (
	Float ScalarType = iota
	Uint
	Int
)

type Binding struct {
	Set     uint32
	Binding uint32
	Kind    ResourceKind
	// Count is 0 for runtime-sized arrays.
	Count uint32
	Name  string
}

// Variable is a user-defined stage input or output.
type Variable struct {
	Location   uint32
	Type       ScalarType
	Components int
	Name       string
}

type EntryPoint struct {
	Name      string
	Model     ExecutionModel
	LocalSize [3]uint32
	Inputs    []Variable
	Outputs   []Variable
}

type Module struct {
	Version     uint32
	EntryPoints []EntryPoint
	Bindings    []Binding
}

// EntryPoint returns the entry point with the given name.
func (m *Module) EntryPoint(name string) (*EntryPoint, bool) {
	for i := range m.EntryPoints {
		if m.EntryPoints[i].Name == name {
			return &m.EntryPoints[i], true
		}
	}
	return nil, false
}

const (
	opName              = 5
	opMemoryModel       = 14
	opEntryPoint        = 15
	opExecutionMode     = 16
	opCapability        = 17
	opTypeVoid          = 19
	opTypeInt           = 21
	opTypeFloat         = 22
	opTypeVector        = 23
	opTypeImage         = 25
	opTypeSampler       = 26
	opTypeSampledImage  = 27
	opTypeArray         = 28
	opTypeRuntimeArray  = 29
	opTypeStruct        = 30
	opTypePointer       = 32
	opTypeFunction      = 33
	opConstant          = 43
	opFunction          = 54
	opFunctionEnd       = 56
	opVariable          = 59
	opDecorate          = 71
	opMemberDecorate    = 72
	opLabel             = 248
	opReturn            = 253
	decorationBlock     = 2
	decorationBuffer    = 3
	decorationStride    = 6
	decorationBuiltIn   = 11
	decorationLocation  = 30
	decorationBinding   = 33
	decorationSet       = 34
	decorationOffset    = 35
	storageUniformConst = 0
	storageInput        = 1
	storageUniform      = 2
	storageOutput       = 3
	storagePushConstant = 9
	storageBuffer       = 12
	modeOriginUpperLeft = 7
	modeLocalSize       = 17
	builtinPosition     = 0
)
