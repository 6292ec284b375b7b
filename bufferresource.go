package vkcore

import (
	"github.com/pkg/errors"

	"github.com/celer/vkcore/hal"
)

type BufferUsage = hal.BufferUsage

const (
	BufferUsageTransferSrc = hal.BufferUsageTransferSrc
	BufferUsageTransferDst = hal.BufferUsageTransferDst
	BufferUsageUniform     = hal.BufferUsageUniform
	BufferUsageStorage     = hal.BufferUsageStorage
	BufferUsageIndex       = hal.BufferUsageIndex
	BufferUsageVertex      = hal.BufferUsageVertex
)

type bufferCore struct {
	device *Device
	hal    hal.Buffer
	size   uint64
	usage  BufferUsage
	alloc  *Allocation
	life   *lifetime
}

// BufferResource is an untyped buffer carved out of an arena block. Each
// BufferResource is one handle; CloneResource hands out another one for the
// same buffer.
type BufferResource struct {
	handle
	core *bufferCore

	// StagingResource is a host-visible copy source for device-local
	// buffers, see AllocateStagingResource.
	StagingResource *BufferResource
}

// AnyBuffer is implemented by BufferResource and every Buffer[T].
type AnyBuffer interface {
	resource() *BufferResource
}

// CreateBufferResource allocates a buffer of size bytes.
func (a *Arena) CreateBufferResource(size uint64, usage BufferUsage, pref MemoryPreference) (*BufferResource, error) {
	if size == 0 {
		return nil, ErrEmptyBuffer
	}
	if err := a.Device.checkLost(); err != nil {
		return nil, err
	}
	hb, err := a.Device.HAL.CreateBuffer(&hal.BufferDesc{Size: size, Usage: usage})
	if err != nil {
		return nil, errors.Wrap(translate(err, ErrOutOfMemory), "create buffer")
	}
	alloc, err := a.Allocate(hb.Requirements(), BufferResourceUsage(usage), pref)
	if err != nil {
		hb.Destroy()
		return nil, err
	}
	if err := hb.Bind(alloc.Memory.Memory, alloc.Offset()); err != nil {
		hb.Destroy()
		alloc.Free()
		return nil, errors.Wrap(translate(err, ErrOutOfMemory), "bind buffer memory")
	}
	core := &bufferCore{device: a.Device, hal: hb, size: size, usage: usage, alloc: alloc}
	core.life = newLifetime(func() {
		hb.Destroy()
		alloc.Free()
	})
	a.log.Debug("buffer created", "size", size, "kind", alloc.Kind)
	return &BufferResource{handle: newHandle(core.life), core: core}, nil
}

func (r *BufferResource) resource() *BufferResource { return r }

func (r *BufferResource) Device() *Device { return r.core.device }

func (r *BufferResource) Size() uint64 { return r.core.size }

func (r *BufferResource) Usage() BufferUsage { return r.core.usage }

// Kind is the memory kind the arena resolved for this buffer.
func (r *BufferResource) Kind() MemoryKind { return r.core.alloc.Kind }

// RequiresStaging indicates the buffer lives in device-local memory and can
// only be filled or read through a copy.
func (r *BufferResource) RequiresStaging() bool {
	return !r.core.alloc.Kind.HostVisible()
}

func (r *BufferResource) String() string {
	return r.core.alloc.Kind.String() + " buffer"
}

// CloneResource returns another handle to the same buffer.
func (r *BufferResource) CloneResource() *BufferResource {
	return &BufferResource{handle: r.handle.clone(), core: r.core}
}

// Release drops this handle and its staging resource.
func (r *BufferResource) Release() error {
	if err := r.handle.Release(); err != nil {
		return err
	}
	r.FreeStagingResource()
	return nil
}

// ReadBytes maps the buffer for the duration of fn.
func (r *BufferResource) ReadBytes(fn func([]byte) error) error {
	return r.access(fn)
}

// WriteBytes maps the buffer for the duration of fn. Writes are visible to
// the device once fn returns.
func (r *BufferResource) WriteBytes(fn func([]byte) error) error {
	return r.access(fn)
}

// MapCopyUnmap copies data into the buffer at offset.
func (r *BufferResource) MapCopyUnmap(offset uint64, data []byte) error {
	if !inBounds(offset, uint64(len(data)), r.Size()) {
		return errors.Wrapf(ErrOutOfRange, "copy of %d bytes at %d into %d byte buffer", len(data), offset, r.Size())
	}
	return r.access(func(p []byte) error {
		copy(p[offset:], data)
		return nil
	})
}

// access maps the buffer around fn. The mapping is dropped on every exit,
// panics included.
func (r *BufferResource) access(fn func([]byte) error) error {
	if err := r.check(); err != nil {
		return err
	}
	if r.RequiresStaging() {
		return errors.Wrap(ErrHostAccessDenied, "device-local buffer")
	}
	r.core.device.CleanupFinished()
	if r.core.life.busy() {
		return ErrResourceInUse
	}
	p, err := r.core.alloc.Map()
	if err != nil {
		return err
	}
	defer r.core.alloc.Unmap()
	return fn(p[:r.core.size])
}

// AllocateStagingResource allocates a host-visible transfer source of the
// same size. It must be freed with FreeStagingResource or Release.
func (r *BufferResource) AllocateStagingResource() error {
	if err := r.check(); err != nil {
		return err
	}
	if !r.RequiresStaging() {
		return errors.New("resource does not require staging")
	}
	if r.StagingResource != nil {
		return nil
	}
	s, err := r.core.device.Arena.CreateBufferResource(r.core.size, BufferUsageTransferSrc, PreferUpload)
	if err != nil {
		return errors.Wrap(err, "allocate staging resource")
	}
	r.StagingResource = s
	return nil
}

// FreeStagingResource will free the staged resource associated with this resource
func (r *BufferResource) FreeStagingResource() {
	if r.StagingResource != nil {
		_ = r.StagingResource.Release()
		r.StagingResource = nil
	}
}
