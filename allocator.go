package vkcore

import (
	"fmt"
	"strings"
)

// Region is a sub-range of a memory block.
type Region struct {
	Offset uint64
	Size   uint64
}

func (r *Region) String() string {
	return fmt.Sprintf("[%d %d]", r.Offset, r.Size)
}

// SubAllocator hands out regions of a fixed size block.
type SubAllocator interface {
	Allocate(size uint64, align uint64) *Region
	Free(r *Region)
	Used() uint64
	Empty() bool
}

// LinearAllocator is a first-fit allocator over a block of Size bytes. Live
// regions are kept sorted by offset. It is not safe for concurrent use.
type LinearAllocator struct {
	Size    uint64
	regions []*Region
	used    uint64
}

func makeAlignUp(a uint64, align uint64) uint64 {
	if align <= 1 {
		return a
	}
	m := a % align
	if m == 0 {
		return a
	}
	return a - m + align
}

// Allocate returns the lowest aligned region of size bytes that fits, or
// nil when the block has no gap large enough.
func (p *LinearAllocator) Allocate(size uint64, align uint64) *Region {
	if size == 0 || size > p.Size {
		return nil
	}
	cursor := uint64(0)
	for i, r := range p.regions {
		start := makeAlignUp(cursor, align)
		if start+size <= r.Offset {
			return p.insert(i, start, size)
		}
		cursor = r.Offset + r.Size
	}
	start := makeAlignUp(cursor, align)
	if start+size > p.Size {
		return nil
	}
	return p.insert(len(p.regions), start, size)
}

func (p *LinearAllocator) insert(i int, offset, size uint64) *Region {
	na := &Region{Offset: offset, Size: size}
	p.regions = append(p.regions, nil)
	copy(p.regions[i+1:], p.regions[i:])
	p.regions[i] = na
	p.used += size
	return na
}

// Free releases r. Regions not handed out by p are ignored.
func (p *LinearAllocator) Free(r *Region) {
	for i, a := range p.regions {
		if a == r {
			p.regions = append(p.regions[:i], p.regions[i+1:]...)
			p.used -= r.Size
			return
		}
	}
}

func (p *LinearAllocator) Used() uint64 { return p.used }

func (p *LinearAllocator) Empty() bool { return len(p.regions) == 0 }

func (p *LinearAllocator) String() string {
	parts := make([]string, len(p.regions))
	for i, r := range p.regions {
		parts[i] = r.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}
