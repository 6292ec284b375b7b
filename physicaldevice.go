package vkcore

import (
	"fmt"

	gu "github.com/docker/go-units"

	"github.com/celer/vkcore/hal"
)

type PhysicalDevice struct {
	Index            int
	DeviceName       string
	Adapter          hal.Adapter
	Info             hal.AdapterInfo
	Limits           hal.Limits
	MemoryProperties hal.MemoryProperties

	instance *Instance
	families QueueFamilySlice
}

func newPhysicalDevice(i *Instance, index int, a hal.Adapter) *PhysicalDevice {
	info := a.Info()
	p := &PhysicalDevice{
		Index:            index,
		DeviceName:       info.Name,
		Adapter:          a,
		Info:             info,
		Limits:           a.Limits(),
		MemoryProperties: a.MemoryProperties(),
		instance:         i,
	}
	for _, f := range a.QueueFamilies() {
		p.families = append(p.families, &QueueFamily{
			Index:          f.Index,
			PhysicalDevice: p,
			Flags:          f.Flags,
			Count:          f.Count,
		})
	}
	return p
}

func (p *PhysicalDevice) String() string {
	return p.DeviceName
}

func (p *PhysicalDevice) QueueFamilies() QueueFamilySlice {
	return p.families
}

// FindMemoryType returns the index of the cheapest memory type allowed by
// typeBits that serves kind.
func (p *PhysicalDevice) FindMemoryType(typeBits uint32, kind MemoryKind) (int, error) {
	i, ok := findMemoryType(p.MemoryProperties, typeBits, kind)
	if !ok {
		return -1, ErrUnsupportedKind
	}
	return i, nil
}

// Describe renders adapter details for diagnostics.
func (p *PhysicalDevice) Describe() string {
	s := fmt.Sprintf("%d: %s (%s, api %s, driver %s)\n", p.Index, p.DeviceName, p.Info.Type, p.Info.APIVersion, p.Info.Driver)
	for _, f := range p.families {
		s += fmt.Sprintf("  queue family %d: %v x%d\n", f.Index, f.Flags, f.Count)
	}
	for i, h := range p.MemoryProperties.Heaps {
		s += fmt.Sprintf("  heap %d: %s device-local=%v\n", i, gu.BytesSize(float64(h.Size)), h.DeviceLocal)
	}
	for i, t := range p.MemoryProperties.Types {
		s += fmt.Sprintf("  memory type %d: heap %d %s\n", i, t.HeapIndex, memoryFlagsString(t.Flags))
	}
	return s
}

func memoryFlagsString(f hal.MemoryPropertyFlags) string {
	names := []struct {
		bit  hal.MemoryPropertyFlags
		name string
	}{
		{hal.MemoryDeviceLocal, "device-local"},
		{hal.MemoryHostVisible, "host-visible"},
		{hal.MemoryHostCoherent, "host-coherent"},
		{hal.MemoryHostCached, "host-cached"},
	}
	s := ""
	for _, n := range names {
		if f&n.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	if s == "" {
		return "none"
	}
	return s
}
