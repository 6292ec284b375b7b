package vkcore

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/celer/vkcore/hal"
)

// CommandBufferUsage says whether a built command buffer may be submitted
// once or many times.
type CommandBufferUsage int

const (
	OneTimeSubmit CommandBufferUsage = iota
	MultipleSubmit
)

func (u CommandBufferUsage) String() string {
	if u == OneTimeSubmit {
		return "one-time"
	}
	return "multiple"
}

// CommandPool allocates command buffers for one queue family.
type CommandPool struct {
	Device      *Device
	QueueFamily *QueueFamily
	HAL         hal.CommandPool

	mu        sync.Mutex
	buffers   map[*CommandBuffer]struct{}
	destroyed bool
}

// CreateCommandPool creates a pool for the queue family q.
func (d *Device) CreateCommandPool(q *QueueFamily) (*CommandPool, error) {
	if q == nil {
		return nil, errors.New("nil queue family")
	}
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	hp, err := d.HAL.CreateCommandPool(q.Index)
	if err != nil {
		return nil, errors.Wrapf(translate(err, ErrOutOfMemory), "command pool for family %d", q.Index)
	}
	return &CommandPool{Device: d, QueueFamily: q, HAL: hp, buffers: map[*CommandBuffer]struct{}{}}, nil
}

// CreateCommandPool creates a pool for the queue's family.
func (q *Queue) CreateCommandPool() (*CommandPool, error) {
	return q.Device.CreateCommandPool(q.QueueFamily)
}

// AllocateCommandBuffer returns an Empty command buffer.
func (c *CommandPool) AllocateCommandBuffer(usage CommandBufferUsage) (*CommandBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return nil, errors.New("command pool destroyed")
	}
	hb, err := c.HAL.Allocate()
	if err != nil {
		return nil, errors.Wrap(translate(err, ErrOutOfMemory), "allocate command buffer")
	}
	cb := &CommandBuffer{Pool: c, Usage: usage, HAL: hb, log: c.Device.log}
	c.buffers[cb] = struct{}{}
	return cb, nil
}

// AllocateCommandBuffers allocates count buffers of the same usage.
func (c *CommandPool) AllocateCommandBuffers(count int, usage CommandBufferUsage) ([]*CommandBuffer, error) {
	ret := make([]*CommandBuffer, 0, count)
	for i := 0; i < count; i++ {
		cb, err := c.AllocateCommandBuffer(usage)
		if err != nil {
			for _, b := range ret {
				c.FreeCommandBuffer(b)
			}
			return nil, err
		}
		ret = append(ret, cb)
	}
	return ret, nil
}

// FreeCommandBuffer returns cb to the pool. A buffer still executing is
// kept until its Future resolves.
func (c *CommandPool) FreeCommandBuffer(cb *CommandBuffer) {
	c.mu.Lock()
	_, ok := c.buffers[cb]
	delete(c.buffers, cb)
	c.mu.Unlock()
	if ok {
		cb.free()
	}
}

// Destroy frees the pool and every buffer allocated from it.
func (c *CommandPool) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	buffers := c.buffers
	c.buffers = nil
	c.mu.Unlock()
	for cb := range buffers {
		cb.free()
	}
	c.HAL.Destroy()
}
