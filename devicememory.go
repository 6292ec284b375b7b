package vkcore

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/celer/vkcore/hal"
)

// DeviceMemory is one device allocation, either a pooled block shared by
// many resources or dedicated to a single large one.
type DeviceMemory struct {
	Device    *Device
	Memory    hal.Memory
	Size      uint64
	TypeIndex int
	Flags     hal.MemoryPropertyFlags
	Dedicated bool
	MapCount  int32

	alloc SubAllocator

	mu  sync.Mutex
	ptr []byte
}

// IsMapped returns true if the device memory is currently mapped
func (d *DeviceMemory) IsMapped() bool {
	return atomic.LoadInt32(&d.MapCount) > 0
}

// HostVisible reports whether the memory type can be mapped at all.
func (d *DeviceMemory) HostVisible() bool {
	return d.Flags&hal.MemoryHostVisible != 0
}

// Map maps the whole block. Nested calls share the mapping; the block is
// unmapped when the last caller calls Unmap.
func (d *DeviceMemory) Map() ([]byte, error) {
	if !d.HostVisible() {
		return nil, ErrHostAccessDenied
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ptr == nil {
		p, err := d.Memory.Map(0, d.Size)
		if err != nil {
			return nil, errors.Wrap(translate(err, ErrHostAccessDenied), "map device memory")
		}
		d.ptr = p
	}
	atomic.AddInt32(&d.MapCount, 1)
	return d.ptr, nil
}

// Unmap drops one mapping reference.
func (d *DeviceMemory) Unmap() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ptr == nil {
		return
	}
	if atomic.AddInt32(&d.MapCount, -1) == 0 {
		d.Memory.Unmap()
		d.ptr = nil
	}
}

// Destroy frees the memory, dropping any mapping still held.
func (d *DeviceMemory) Destroy() {
	d.mu.Lock()
	if d.ptr != nil {
		d.Memory.Unmap()
		d.ptr = nil
		atomic.StoreInt32(&d.MapCount, 0)
	}
	d.mu.Unlock()
	d.Memory.Destroy()
}
