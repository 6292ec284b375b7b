package vkcore

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/celer/vkcore/hal"
)

// DefaultSetsPerPool is the capacity of the first device pool. Each pool
// added after it doubles the capacity.
const DefaultSetsPerPool = 64

// descriptorsPerSet sizes every descriptor type of a new pool relative to
// its set capacity.
const descriptorsPerSet = 4

var pooledTypes = []DescriptorType{
	DescriptorUniformBuffer,
	DescriptorStorageBuffer,
	DescriptorSampledImage,
	DescriptorStorageImage,
	DescriptorCombinedImageSampler,
}

type descriptorChunk struct {
	hal     hal.DescriptorPool
	maxSets int
	live    int
}

// DescriptorPool hands out descriptor sets from a growing list of device
// pools. When every pool is exhausted a larger one is appended, so
// allocation only fails when the device itself runs out.
type DescriptorPool struct {
	Device      *Device
	SetsPerPool int

	mu        sync.Mutex
	chunks    []*descriptorChunk
	destroyed bool
}

// CreateDescriptorPool creates a pool whose first chunk holds setsPerPool
// sets. The caller destroys it once its sets are released.
func (d *Device) CreateDescriptorPool(setsPerPool int) *DescriptorPool {
	if setsPerPool <= 0 {
		setsPerPool = DefaultSetsPerPool
	}
	return &DescriptorPool{Device: d, SetsPerPool: setsPerPool}
}

// DescriptorPool returns the pool shared by Pipeline.AllocateSet. It lives
// as long as the device.
func (d *Device) DescriptorPool() *DescriptorPool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.descriptors == nil {
		d.descriptors = d.CreateDescriptorPool(DefaultSetsPerPool)
	}
	return d.descriptors
}

// allocate returns a raw set for layout and the chunk it came from.
func (p *DescriptorPool) allocate(layout *DescriptorSetLayout) (hal.DescriptorSet, *descriptorChunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return nil, nil, errors.New("descriptor pool destroyed")
	}
	for _, c := range p.chunks {
		hs, err := c.hal.Allocate(layout.HAL)
		if err == nil {
			c.live++
			return hs, c, nil
		}
		if !errors.Is(err, hal.ErrTooManyObjects) && !errors.Is(err, hal.ErrOutOfHostMemory) {
			return nil, nil, translate(err, ErrOutOfMemory)
		}
	}

	c, err := p.grow(layout)
	if err != nil {
		return nil, nil, err
	}
	hs, err := c.hal.Allocate(layout.HAL)
	if err != nil {
		return nil, nil, errors.Wrap(translate(err, ErrOutOfMemory), "allocate descriptor set")
	}
	c.live++
	return hs, c, nil
}

func (p *DescriptorPool) grow(layout *DescriptorSetLayout) (*descriptorChunk, error) {
	maxSets := p.SetsPerPool
	if n := len(p.chunks); n > 0 {
		maxSets = p.chunks[n-1].maxSets * 2
	}
	need := layout.poolSizes(maxSets)
	desc := &hal.DescriptorPoolDesc{MaxSets: maxSets}
	for _, t := range pooledTypes {
		desc.Sizes = append(desc.Sizes, hal.PoolSize{Type: t, Count: max(maxSets*descriptorsPerSet, need[t])})
	}
	hp, err := p.Device.HAL.CreateDescriptorPool(desc)
	if err != nil {
		return nil, errors.Wrap(translate(err, ErrOutOfMemory), "create descriptor pool")
	}
	c := &descriptorChunk{hal: hp, maxSets: maxSets}
	p.chunks = append(p.chunks, c)
	p.Device.log.Debug("descriptor pool grown", "chunks", len(p.chunks), "sets", maxSets)
	return c, nil
}

func (p *DescriptorPool) free(c *descriptorChunk, hs hal.DescriptorSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	if err := c.hal.Free(hs); err != nil {
		p.Device.log.Warn("free descriptor set", "err", err)
		return
	}
	c.live--
}

// Stats returns the number of chunks and live sets.
func (p *DescriptorPool) Stats() (chunks, sets int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.chunks {
		sets += c.live
	}
	return len(p.chunks), sets
}

// Destroy frees every chunk. Sets still alive become unusable.
func (p *DescriptorPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return
	}
	p.destroyed = true
	for _, c := range p.chunks {
		c.hal.Destroy()
	}
	p.chunks = nil
}
