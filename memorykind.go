package vkcore

import (
	"math"
	"math/bits"

	"github.com/celer/vkcore/hal"
)

// MemoryKind classifies memory by residency and host access pattern.
type MemoryKind int

const (
	// DeviceLocal memory is fastest for the device and never mapped.
	DeviceLocal MemoryKind = iota
	// HostVisibleSequential memory is written once by the host in order and
	// read by the device: uploads, vertex and uniform data.
	HostVisibleSequential
	// HostVisibleRandomAccess memory is cached on the host: readbacks and
	// data the host reads or updates in place.
	HostVisibleRandomAccess
)

var memoryKindNames = [...]string{"device-local", "host-sequential", "host-random-access"}

func (k MemoryKind) String() string {
	if k < 0 || int(k) >= len(memoryKindNames) {
		return "unknown"
	}
	return memoryKindNames[k]
}

// HostVisible reports whether memory of this kind can be mapped.
func (k MemoryKind) HostVisible() bool {
	return k != DeviceLocal
}

// flags returns the property flags a memory type must have, should have,
// and should rather not have to serve the kind.
func (k MemoryKind) flags() (required, preferred, notPreferred hal.MemoryPropertyFlags) {
	switch k {
	case HostVisibleSequential:
		return hal.MemoryHostVisible | hal.MemoryHostCoherent, hal.MemoryDeviceLocal, hal.MemoryHostCached
	case HostVisibleRandomAccess:
		return hal.MemoryHostVisible | hal.MemoryHostCoherent, hal.MemoryHostCached, hal.MemoryDeviceLocal
	default:
		return hal.MemoryDeviceLocal, 0, hal.MemoryHostVisible
	}
}

// incompatibleBufferUsage lists the usages a kind cannot back. Sequential
// host memory is write-combined, so the device must not write into it;
// random-access memory is a poor fit for geometry the device streams.
var incompatibleBufferUsage = map[MemoryKind]BufferUsage{
	DeviceLocal:             0,
	HostVisibleSequential:   BufferUsageTransferDst,
	HostVisibleRandomAccess: BufferUsageIndex | BufferUsageVertex,
}

// SupportsBuffer reports whether a buffer with usage may live in memory of
// this kind.
func (k MemoryKind) SupportsBuffer(usage BufferUsage) bool {
	bad, ok := incompatibleBufferUsage[k]
	return ok && usage&bad == 0
}

// SupportsImage reports whether an optimally tiled image may live in
// memory of this kind. Only device-local memory qualifies.
func (k MemoryKind) SupportsImage(ImageUsage) bool {
	return k == DeviceLocal
}

// MemoryPreference is an ordered list of acceptable kinds. The arena uses
// the first kind that is compatible with the resource usage, exists on the
// device and still has room.
type MemoryPreference []MemoryKind

func Prefer(kinds ...MemoryKind) MemoryPreference {
	return MemoryPreference(kinds)
}

var (
	// PreferDevice falls back to sequential host memory when the device has
	// no room left.
	PreferDevice = Prefer(DeviceLocal, HostVisibleSequential)
	PreferUpload = Prefer(HostVisibleSequential, HostVisibleRandomAccess)
	PreferHost   = Prefer(HostVisibleRandomAccess, HostVisibleSequential)
)

// findMemoryType picks the memory type with the lowest cost for the kind:
// every missing preferred flag and every present unwanted flag costs one.
func findMemoryType(props hal.MemoryProperties, typeBits uint32, kind MemoryKind) (int, bool) {
	required, preferred, notPreferred := kind.flags()
	best, minCost := -1, math.MaxInt
	for i, mt := range props.Types {
		if typeBits&(1<<uint(i)) == 0 {
			continue
		}
		if mt.Flags&required != required {
			continue
		}
		cost := bits.OnesCount32(uint32(preferred&^mt.Flags)) + bits.OnesCount32(uint32(notPreferred&mt.Flags))
		if cost == 0 {
			return i, true
		}
		if cost < minCost {
			best, minCost = i, cost
		}
	}
	return best, best >= 0
}
