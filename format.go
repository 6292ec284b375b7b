package vkcore

import (
	"github.com/celer/vkcore/hal"
	"github.com/celer/vkcore/spirv"
)

type Format = hal.Format

const (
	FormatUndefined          = hal.FormatUndefined
	FormatR8G8B8A8Unorm      = hal.FormatR8G8B8A8Unorm
	FormatB8G8R8A8Unorm      = hal.FormatB8G8R8A8Unorm
	FormatR8G8B8A8Uint       = hal.FormatR8G8B8A8Uint
	FormatR32Uint            = hal.FormatR32Uint
	FormatR32Sint            = hal.FormatR32Sint
	FormatR32Sfloat          = hal.FormatR32Sfloat
	FormatR32G32Sfloat       = hal.FormatR32G32Sfloat
	FormatR32G32B32Sfloat    = hal.FormatR32G32B32Sfloat
	FormatR32G32B32A32Sfloat = hal.FormatR32G32B32A32Sfloat
	FormatD32Sfloat          = hal.FormatD32Sfloat
)

type Extent3D = hal.Extent3D

// Extent2D is a width by height extent with depth one.
func Extent2D(width, height uint32) Extent3D {
	return Extent3D{Width: width, Height: height, Depth: 1}
}

// variableFormat is the 32-bit format a reflected stage variable is read
// with.
func variableFormat(v spirv.Variable) Format {
	kind := hal.ComponentFloat
	switch v.Type {
	case spirv.Uint:
		kind = hal.ComponentUint
	case spirv.Int:
		kind = hal.ComponentSint
	}
	return hal.VertexFormat(kind, v.Components)
}

// formatMatchesVariable reports whether attribute data in f can feed a
// shader variable v: same numeric class and component count.
func formatMatchesVariable(f Format, v spirv.Variable) bool {
	if !f.Valid() || f.IsDepth() || f.Components() != v.Components {
		return false
	}
	switch f.ComponentType() {
	case hal.ComponentFloat, hal.ComponentUnorm:
		return v.Type == spirv.Float
	case hal.ComponentUint:
		return v.Type == spirv.Uint
	case hal.ComponentSint:
		return v.Type == spirv.Int
	}
	return false
}
