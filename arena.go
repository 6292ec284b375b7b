package vkcore

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/celer/vkcore/hal"
)

const (
	MiB = 1 << 20

	// DefaultBlockSize is the size of pooled memory blocks, capped at an
	// eighth of the heap they come from.
	DefaultBlockSize = 64 * MiB
)

type MemoryRequirements = hal.MemoryRequirements

// ResourceUsage is the usage of the resource an allocation backs. Exactly
// one of Buffer or Image is meaningful, depending on IsImage.
type ResourceUsage struct {
	Buffer  BufferUsage
	Image   ImageUsage
	IsImage bool
}

func BufferResourceUsage(u BufferUsage) ResourceUsage { return ResourceUsage{Buffer: u} }

func ImageResourceUsage(u ImageUsage) ResourceUsage { return ResourceUsage{Image: u, IsImage: true} }

func (u ResourceUsage) compatible(k MemoryKind) bool {
	if u.IsImage {
		return k.SupportsImage(u.Image)
	}
	return k.SupportsBuffer(u.Buffer)
}

// Allocation is a region of a DeviceMemory block owned by one resource.
type Allocation struct {
	Memory *DeviceMemory
	Region *Region
	Kind   MemoryKind

	arena *Arena
	maps  int32
	freed bool
}

func (a *Allocation) Offset() uint64 { return a.Region.Offset }

func (a *Allocation) Size() uint64 { return a.Region.Size }

// Map returns the host view of the allocation. Every successful Map must
// be paired with Unmap.
func (a *Allocation) Map() ([]byte, error) {
	p, err := a.Memory.Map()
	if err != nil {
		return nil, err
	}
	atomic.AddInt32(&a.maps, 1)
	atomic.AddInt64(&a.arena.mappings, 1)
	end := a.Region.Offset + a.Region.Size
	return p[a.Region.Offset:end:end], nil
}

func (a *Allocation) Unmap() {
	if atomic.AddInt32(&a.maps, -1) < 0 {
		atomic.AddInt32(&a.maps, 1)
		return
	}
	atomic.AddInt64(&a.arena.mappings, -1)
	a.Memory.Unmap()
}

// Free returns the region to its block.
func (a *Allocation) Free() {
	a.arena.free(a)
}

type memoryPool struct {
	typeIndex int
	blocks    []*DeviceMemory
}

// Arena sub-allocates resources from pooled device memory blocks, one pool
// per memory type.
type Arena struct {
	Device    *Device
	BlockSize uint64

	log      *slog.Logger
	props    hal.MemoryProperties
	mappings int64

	mu    sync.Mutex
	pools map[int]*memoryPool
}

// ArenaStats is a snapshot of the arena's bookkeeping.
type ArenaStats struct {
	Blocks      int
	Dedicated   int
	Allocations int
	Reserved    uint64
	Used        uint64
}

func newArena(d *Device, blockSize uint64) *Arena {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	return &Arena{
		Device:    d,
		BlockSize: blockSize,
		log:       d.log.With("component", "arena"),
		props:     d.PhysicalDevice.MemoryProperties,
		pools:     map[int]*memoryPool{},
	}
}

// Allocate finds memory for a resource with the given requirements. The
// preference is resolved once, here: the first kind that is compatible with
// usage, has a matching memory type and has room wins. It fails with
// ErrIncompatibleUsage when no preferred kind suits the usage,
// ErrUnsupportedKind when no memory type serves any suitable kind and
// ErrOutOfMemory when every candidate is exhausted.
func (a *Arena) Allocate(req MemoryRequirements, usage ResourceUsage, pref MemoryPreference) (*Allocation, error) {
	if err := a.Device.checkLost(); err != nil {
		return nil, err
	}
	if len(pref) == 0 {
		pref = PreferDevice
	}
	compatible, supported := false, false
	var lastErr error
	for _, kind := range pref {
		if !usage.compatible(kind) {
			continue
		}
		compatible = true
		ti, ok := findMemoryType(a.props, req.TypeBits, kind)
		if !ok {
			a.log.Debug("no memory type for kind", "kind", kind, "typeBits", req.TypeBits)
			continue
		}
		supported = true
		alloc, err := a.allocateFromType(ti, req)
		if err == nil {
			alloc.Kind = kind
			if kind != pref[0] {
				a.log.Warn("memory kind fallback", "wanted", pref[0], "got", kind, "size", req.Size)
			}
			return alloc, nil
		}
		if !errors.Is(err, ErrOutOfMemory) {
			return nil, err
		}
		lastErr = err
	}
	switch {
	case !compatible:
		return nil, errors.Wrapf(ErrIncompatibleUsage, "usage %+v with preference %v", usage, pref)
	case !supported:
		return nil, errors.Wrapf(ErrUnsupportedKind, "preference %v", pref)
	}
	return nil, lastErr
}

func (a *Arena) blockSizeFor(typeIndex int) uint64 {
	heap := a.props.Heaps[a.props.Types[typeIndex].HeapIndex].Size
	size := a.BlockSize
	if heap > 0 && heap/8 < size {
		size = heap / 8
	}
	return size
}

func (a *Arena) allocateFromType(typeIndex int, req MemoryRequirements) (*Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pool, ok := a.pools[typeIndex]
	if !ok {
		pool = &memoryPool{typeIndex: typeIndex}
		a.pools[typeIndex] = pool
	}
	align := req.Alignment
	if align == 0 {
		align = 1
	}

	blockSize := a.blockSizeFor(typeIndex)
	dedicated := req.Size > blockSize/2
	if !dedicated {
		for _, b := range pool.blocks {
			if b.Dedicated {
				continue
			}
			if r := b.alloc.Allocate(req.Size, align); r != nil {
				return &Allocation{Memory: b, Region: r, arena: a}, nil
			}
		}
	}

	size := blockSize
	if dedicated {
		size = makeAlignUp(req.Size, align)
	}
	b, err := a.newBlock(typeIndex, size, dedicated)
	if err != nil && !dedicated && errors.Is(err, ErrOutOfMemory) {
		// the heap may still fit the request on its own
		size = makeAlignUp(req.Size, align)
		b, err = a.newBlock(typeIndex, size, true)
	}
	if err != nil {
		return nil, err
	}
	pool.blocks = append(pool.blocks, b)
	r := b.alloc.Allocate(req.Size, align)
	if r == nil {
		return nil, errors.Wrapf(ErrOutOfMemory, "request of %d bytes does not fit a fresh %d byte block", req.Size, size)
	}
	return &Allocation{Memory: b, Region: r, arena: a}, nil
}

func (a *Arena) newBlock(typeIndex int, size uint64, dedicated bool) (*DeviceMemory, error) {
	mem, err := a.Device.HAL.AllocateMemory(size, typeIndex)
	if err != nil {
		return nil, errors.Wrapf(translate(err, ErrOutOfMemory), "allocate %d bytes of memory type %d", size, typeIndex)
	}
	a.log.Debug("allocated block", "type", typeIndex, "size", size, "dedicated", dedicated)
	return &DeviceMemory{
		Device:    a.Device,
		Memory:    mem,
		Size:      size,
		TypeIndex: typeIndex,
		Flags:     a.props.Types[typeIndex].Flags,
		Dedicated: dedicated,
		alloc:     &LinearAllocator{Size: size},
	}, nil
}

func (a *Arena) free(alloc *Allocation) {
	for atomic.LoadInt32(&alloc.maps) > 0 {
		a.log.Warn("freeing mapped allocation", "size", alloc.Size())
		alloc.Unmap()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if alloc.freed {
		return
	}
	alloc.freed = true
	b := alloc.Memory
	b.alloc.Free(alloc.Region)
	if !b.alloc.Empty() {
		return
	}
	pool := a.pools[b.TypeIndex]
	if !b.Dedicated {
		spare := 0
		for _, o := range pool.blocks {
			if !o.Dedicated && o.alloc.Empty() {
				spare++
			}
		}
		if spare <= 1 {
			return
		}
	}
	for i, o := range pool.blocks {
		if o == b {
			pool.blocks = append(pool.blocks[:i], pool.blocks[i+1:]...)
			break
		}
	}
	a.log.Debug("released block", "type", b.TypeIndex, "size", b.Size)
	b.Destroy()
}

// ActiveMappings is the number of allocation mappings not yet unmapped.
func (a *Arena) ActiveMappings() int {
	return int(atomic.LoadInt64(&a.mappings))
}

func (a *Arena) Stats() ArenaStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	var s ArenaStats
	for _, p := range a.pools {
		for _, b := range p.blocks {
			s.Blocks++
			if b.Dedicated {
				s.Dedicated++
			}
			s.Reserved += b.Size
			s.Used += b.alloc.Used()
			if la, ok := b.alloc.(*LinearAllocator); ok {
				s.Allocations += len(la.regions)
			}
		}
	}
	return s
}

// destroy frees every block. Resources still holding allocations must not
// be used afterwards.
func (a *Arena) destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.pools {
		for _, b := range p.blocks {
			b.Destroy()
		}
	}
	a.pools = map[int]*memoryPool{}
}
