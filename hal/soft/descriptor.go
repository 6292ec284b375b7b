package soft

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/celer/vkcore/hal"
)

type descriptorPool struct {
	mu        sync.Mutex
	maxSets   int
	capacity  map[hal.DescriptorType]int
	free      map[hal.DescriptorType]int
	allocated map[*descriptorSet]struct{}
}

func (p *descriptorPool) Allocate(layout hal.DescriptorSetLayout) (hal.DescriptorSet, error) {
	l, ok := layout.(*setLayout)
	if !ok {
		return nil, hal.ErrInvalidHandle
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.allocated) >= p.maxSets {
		return nil, errors.Wrapf(hal.ErrTooManyObjects, "pool holds %d sets", p.maxSets)
	}
	need := map[hal.DescriptorType]int{}
	for _, b := range l.bindings {
		need[b.Type] += b.Count
	}
	for t, n := range need {
		if p.free[t] < n {
			return nil, errors.Wrapf(hal.ErrTooManyObjects, "pool out of %v descriptors", t)
		}
	}
	for t, n := range need {
		p.free[t] -= n
	}
	s := &descriptorSet{layout: l, writes: map[int]hal.DescriptorWrite{}}
	p.allocated[s] = struct{}{}
	return s, nil
}

func (p *descriptorPool) Free(set hal.DescriptorSet) error {
	s, ok := set.(*descriptorSet)
	if !ok {
		return hal.ErrInvalidHandle
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.allocated[s]; !ok {
		return errors.Wrap(hal.ErrInvalidHandle, "set not from this pool")
	}
	delete(p.allocated, s)
	for _, b := range s.layout.bindings {
		p.free[b.Type] += b.Count
	}
	return nil
}

func (p *descriptorPool) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allocated = map[*descriptorSet]struct{}{}
	p.free = map[hal.DescriptorType]int{}
	for t, n := range p.capacity {
		p.free[t] = n
	}
	return nil
}

func (p *descriptorPool) Destroy() {}

type descriptorSet struct {
	layout *setLayout
	writes map[int]hal.DescriptorWrite
}

func (s *descriptorSet) Write(writes []hal.DescriptorWrite) error {
	for _, w := range writes {
		b, ok := s.layout.bindings[w.Binding]
		if !ok || b.Type != w.Type {
			return errors.Wrapf(hal.ErrInvalidHandle, "write to binding %d", w.Binding)
		}
		s.writes[w.Binding] = w
	}
	return nil
}
