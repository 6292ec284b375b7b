package hal

import "fmt"

type Format uint32

const (
	FormatUndefined Format = iota
	FormatR8G8B8A8Unorm
	FormatB8G8R8A8Unorm
	FormatR8G8B8A8Uint
	FormatR32Uint
	FormatR32Sint
	FormatR32Sfloat
	FormatR32G32Sfloat
	FormatR32G32B32Sfloat
	FormatR32G32B32A32Sfloat
	FormatD32Sfloat
)

// ComponentType is the numeric class of a format's components.
type ComponentType int

const (
	ComponentFloat ComponentType = iota
	ComponentUint
	ComponentSint
	ComponentUnorm
)

type formatInfo struct {
	name       string
	size       uint32
	components int
	kind       ComponentType
	depth      bool
}

var formats = map[Format]formatInfo{
	FormatR8G8B8A8Unorm:      {"R8G8B8A8_UNORM", 4, 4, ComponentUnorm, false},
	FormatB8G8R8A8Unorm:      {"B8G8R8A8_UNORM", 4, 4, ComponentUnorm, false},
	FormatR8G8B8A8Uint:       {"R8G8B8A8_UINT", 4, 4, ComponentUint, false},
	FormatR32Uint:            {"R32_UINT", 4, 1, ComponentUint, false},
	FormatR32Sint:            {"R32_SINT", 4, 1, ComponentSint, false},
	FormatR32Sfloat:          {"R32_SFLOAT", 4, 1, ComponentFloat, false},
	FormatR32G32Sfloat:       {"R32G32_SFLOAT", 8, 2, ComponentFloat, false},
	FormatR32G32B32Sfloat:    {"R32G32B32_SFLOAT", 12, 3, ComponentFloat, false},
	FormatR32G32B32A32Sfloat: {"R32G32B32A32_SFLOAT", 16, 4, ComponentFloat, false},
	FormatD32Sfloat:          {"D32_SFLOAT", 4, 1, ComponentFloat, true},
}

// Size is the size in bytes of one texel or vertex element.
func (f Format) Size() uint32 { return formats[f].size }

func (f Format) Components() int { return formats[f].components }

func (f Format) ComponentType() ComponentType { return formats[f].kind }

func (f Format) IsDepth() bool { return formats[f].depth }

func (f Format) Valid() bool {
	_, ok := formats[f]
	return ok
}

func (f Format) String() string {
	if i, ok := formats[f]; ok {
		return i.name
	}
	return fmt.Sprintf("Format(%d)", uint32(f))
}

// VertexFormat returns the 32-bit format with the given component class and count.
func VertexFormat(kind ComponentType, components int) Format {
	switch kind {
	case ComponentFloat:
		switch components {
		case 1:
			return FormatR32Sfloat
		case 2:
			return FormatR32G32Sfloat
		case 3:
			return FormatR32G32B32Sfloat
		case 4:
			return FormatR32G32B32A32Sfloat
		}
	case ComponentUint:
		if components == 1 {
			return FormatR32Uint
		}
	case ComponentSint:
		if components == 1 {
			return FormatR32Sint
		}
	}
	return FormatUndefined
}
