package soft

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/celer/vkcore/hal"
	"github.com/celer/vkcore/spirv"
)

type device struct {
	adapter *adapter
	log     *slog.Logger
	queues  map[int]*queue

	mu          sync.Mutex
	heapUsed    []uint64
	allocations int

	lost     chan struct{}
	lostOnce sync.Once
	lostErr  atomic.Value
}

func newDevice(a *adapter) *device {
	return &device{
		adapter:  a,
		log:      a.backend.log.With("adapter", a.cfg.Name),
		queues:   map[int]*queue{},
		heapUsed: make([]uint64, len(a.memory.Heaps)),
		lost:     make(chan struct{}),
	}
}

// lose marks the device lost. Every pending and future wait fails afterwards.
func (d *device) lose(cause error) {
	d.lostOnce.Do(func() {
		d.lostErr.Store(cause)
		d.log.Error("device lost", "cause", cause)
		close(d.lost)
	})
}

func (d *device) isLost() bool {
	select {
	case <-d.lost:
		return true
	default:
		return false
	}
}

func (d *device) lostError() error {
	if cause, ok := d.lostErr.Load().(error); ok {
		return errors.Wrap(hal.ErrDeviceLost, cause.Error())
	}
	return hal.ErrDeviceLost
}

func (d *device) Queue(family int) (hal.Queue, error) {
	q, ok := d.queues[family]
	if !ok {
		return nil, errors.Wrapf(hal.ErrInvalidHandle, "no queue opened in family %d", family)
	}
	return q, nil
}

func (d *device) AllocateMemory(size uint64, typeIndex int) (hal.Memory, error) {
	if d.isLost() {
		return nil, d.lostError()
	}
	types := d.adapter.memory.Types
	if typeIndex < 0 || typeIndex >= len(types) {
		return nil, errors.Wrapf(hal.ErrInvalidHandle, "memory type %d", typeIndex)
	}
	heap := types[typeIndex].HeapIndex

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.allocations >= d.adapter.limits.MaxMemoryAllocationCount {
		return nil, errors.Wrapf(hal.ErrTooManyObjects, "%d live allocations", d.allocations)
	}
	if d.heapUsed[heap]+size > d.adapter.memory.Heaps[heap].Size {
		return nil, errors.Wrapf(hal.ErrOutOfDeviceMemory, "heap %d: %d of %d bytes used, %d requested",
			heap, d.heapUsed[heap], d.adapter.memory.Heaps[heap].Size, size)
	}
	d.heapUsed[heap] += size
	d.allocations++
	return &memory{
		dev:   d,
		data:  make([]byte, size),
		flags: types[typeIndex].Flags,
		heap:  heap,
	}, nil
}

func (d *device) freeMemory(m *memory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.heapUsed[m.heap] -= uint64(len(m.data))
	d.allocations--
}

func (d *device) CreateBuffer(desc *hal.BufferDesc) (hal.Buffer, error) {
	if desc.Size == 0 {
		return nil, errors.Wrap(hal.ErrInvalidHandle, "zero sized buffer")
	}
	return &buffer{dev: d, desc: *desc}, nil
}

func (d *device) CreateImage(desc *hal.ImageDesc) (hal.Image, error) {
	e := desc.Extent
	if !desc.Format.Valid() || e.Width == 0 || e.Height == 0 || e.Depth == 0 {
		return nil, errors.Wrapf(hal.ErrUnsupported, "image %v %+v", desc.Format, e)
	}
	if e.Width > d.adapter.limits.MaxImageDimension2D || e.Height > d.adapter.limits.MaxImageDimension2D {
		return nil, errors.Wrapf(hal.ErrLimitExceeded, "image extent %dx%d", e.Width, e.Height)
	}
	return &image{dev: d, desc: *desc}, nil
}

func (d *device) CreateImageView(img hal.Image, desc *hal.ImageViewDesc) (hal.ImageView, error) {
	i, ok := img.(*image)
	if !ok {
		return nil, hal.ErrInvalidHandle
	}
	if desc.Format != i.desc.Format {
		return nil, errors.Wrapf(hal.ErrUnsupported, "view format %v on %v image", desc.Format, i.desc.Format)
	}
	return &imageView{image: i}, nil
}

func (d *device) CreateShaderModule(code []uint32) (hal.ShaderModule, error) {
	m, err := spirv.Reflect(code)
	if err != nil {
		return nil, err
	}
	return &shaderModule{module: m}, nil
}

func (d *device) CreateDescriptorSetLayout(bindings []hal.LayoutBinding) (hal.DescriptorSetLayout, error) {
	l := &setLayout{bindings: map[int]hal.LayoutBinding{}}
	for _, b := range bindings {
		if _, dup := l.bindings[b.Binding]; dup {
			return nil, errors.Wrapf(hal.ErrInvalidHandle, "binding %d declared twice", b.Binding)
		}
		l.bindings[b.Binding] = b
	}
	return l, nil
}

func (d *device) CreatePipelineLayout(sets []hal.DescriptorSetLayout) (hal.PipelineLayout, error) {
	if len(sets) > d.adapter.limits.MaxBoundDescriptorSets {
		return nil, errors.Wrapf(hal.ErrLimitExceeded, "%d descriptor sets", len(sets))
	}
	l := &pipelineLayout{}
	for _, s := range sets {
		sl, ok := s.(*setLayout)
		if !ok {
			return nil, hal.ErrInvalidHandle
		}
		l.sets = append(l.sets, sl)
	}
	return l, nil
}

func (d *device) CreateDescriptorPool(desc *hal.DescriptorPoolDesc) (hal.DescriptorPool, error) {
	p := &descriptorPool{maxSets: desc.MaxSets, capacity: map[hal.DescriptorType]int{}}
	for _, s := range desc.Sizes {
		p.capacity[s.Type] += s.Count
	}
	p.Reset()
	return p, nil
}

func (d *device) CreateCommandPool(family int) (hal.CommandPool, error) {
	if _, ok := d.queues[family]; !ok {
		return nil, errors.Wrapf(hal.ErrInvalidHandle, "no queue opened in family %d", family)
	}
	return &commandPool{dev: d, family: family}, nil
}

func (d *device) CreateFence(signaled bool) (hal.Fence, error) {
	f := &fence{dev: d, done: make(chan struct{})}
	if signaled {
		f.signal()
	}
	return f, nil
}

func (d *device) CreateSemaphore() (hal.Semaphore, error) {
	return &semaphore{ch: make(chan struct{}, 1)}, nil
}

func (d *device) WaitIdle() error {
	for _, q := range d.queues {
		if err := q.WaitIdle(); err != nil {
			return err
		}
	}
	return nil
}

func (d *device) Destroy() {
	for _, q := range d.queues {
		q.stop()
	}
}
