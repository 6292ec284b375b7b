package vkcore

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/celer/vkcore/hal"
)

type ClearColor = hal.ClearColor

type ClearValue = hal.ClearValue

// RecordingState is the position of a CommandBuffer in its
// Empty → Recording → Built life cycle.
type RecordingState int

const (
	StateEmpty RecordingState = iota
	StateRecording
	StateBuilt
)

func (s RecordingState) String() string {
	return [...]string{"empty", "recording", "built"}[s]
}

// CommandBuffer is an append-only list of device commands. It is recorded
// from one goroutine at a time; a second goroutine touching it while a call
// is in progress gets ErrInvalidRecordingState.
//
// A rejected command is not appended and leaves the buffer recording.
type CommandBuffer struct {
	Pool  *CommandPool
	Usage CommandBufferUsage
	HAL   hal.CommandBuffer

	log *slog.Logger

	// guard detects concurrent recording
	guard sync.Mutex

	state     atomic.Int32
	commands  atomic.Int32
	uses      []*lifetime
	used      map[*lifetime]bool
	pipelines map[hal.BindPoint]*Pipeline
	last      *Pipeline
	sets      map[hal.BindPoint]map[int]*DescriptorSet
	vertex    map[int]bool
	pass      *Framebuffer

	// submission state, shared with the Future executing the buffer
	mu        sync.Mutex
	submitted bool
	pending   *Future
	freed     bool
}

func (c *CommandBuffer) device() *Device { return c.Pool.Device }

// State returns the recording state.
func (c *CommandBuffer) State() RecordingState {
	return RecordingState(c.state.Load())
}

func (c *CommandBuffer) setState(s RecordingState) {
	c.state.Store(int32(s))
}

// Len returns the number of recorded commands.
func (c *CommandBuffer) Len() int {
	return int(c.commands.Load())
}

func (c *CommandBuffer) String() string {
	return fmt.Sprintf("{ %s command buffer, %s, %d commands }", c.Usage, c.State(), c.Len())
}

// exclusive runs fn holding the recording guard. Errors are logged and
// returned wrapped with op.
func (c *CommandBuffer) exclusive(op string, fn func() error) error {
	if !c.guard.TryLock() {
		err := errors.Wrap(ErrInvalidRecordingState, "command buffer used from two goroutines")
		c.log.Error("command rejected", "op", op, "err", err)
		return err
	}
	defer c.guard.Unlock()
	c.mu.Lock()
	freed := c.freed
	c.mu.Unlock()
	var err error
	if freed {
		err = errors.Wrap(ErrInvalidRecordingState, "command buffer freed")
	} else {
		err = fn()
	}
	if err != nil {
		c.log.Error("command rejected", "op", op, "state", c.State().String(), "err", err)
		return errors.WithMessage(err, op)
	}
	return nil
}

// record runs fn for an append. fn validates first and only then touches
// the hal buffer, so a failing fn appends nothing.
func (c *CommandBuffer) record(op string, fn func() error) error {
	return c.exclusive(op, func() error {
		switch c.State() {
		case StateEmpty:
			return errors.Wrap(ErrInvalidRecordingState, "command buffer not begun")
		case StateBuilt:
			return ErrAlreadyBuilt
		}
		if err := c.device().checkLost(); err != nil {
			return err
		}
		if err := fn(); err != nil {
			return err
		}
		c.commands.Add(1)
		return nil
	})
}

// keep pins l for as long as the command buffer holds its commands.
func (c *CommandBuffer) keep(ls ...*lifetime) {
	for _, l := range ls {
		if c.used[l] {
			continue
		}
		l.retain()
		c.used[l] = true
		c.uses = append(c.uses, l)
	}
}

// barrier separates a transfer or dispatch from the commands before it.
func (c *CommandBuffer) barrier() {
	if c.commands.Load() > 0 {
		c.HAL.Barrier()
	}
}

func (c *CommandBuffer) outsidePass(what string) error {
	if c.pass != nil {
		return errors.Wrapf(ErrInvalidRecordingState, "%s inside a render pass", what)
	}
	return nil
}

func (c *CommandBuffer) ownBuffer(b AnyBuffer, usage BufferUsage) (*BufferResource, error) {
	if b == nil {
		return nil, errors.Wrap(ErrInvalidRecordingState, "nil buffer")
	}
	r := b.resource()
	if err := r.check(); err != nil {
		return nil, err
	}
	if err := c.device().owns(r.Device()); err != nil {
		return nil, err
	}
	if usage != 0 && r.Usage()&usage != usage {
		return nil, errors.Wrapf(ErrIncompatibleUsage, "buffer usage %#x lacks %#x", uint32(r.Usage()), uint32(usage))
	}
	return r, nil
}

func (c *CommandBuffer) ownImage(img *Image, usage ImageUsage) error {
	if img == nil {
		return errors.Wrap(ErrInvalidRecordingState, "nil image")
	}
	if err := img.check(); err != nil {
		return err
	}
	if err := c.device().owns(img.Device()); err != nil {
		return err
	}
	if img.Usage()&usage != usage {
		return errors.Wrapf(ErrIncompatibleUsage, "image usage %#x lacks %#x", uint32(img.Usage()), uint32(usage))
	}
	return nil
}

// Begin starts recording. Only an Empty buffer can begin.
func (c *CommandBuffer) Begin() error {
	return c.exclusive("begin", func() error {
		if c.State() != StateEmpty {
			return ErrAlreadyBuilt
		}
		if err := c.HAL.Begin(c.Usage == OneTimeSubmit); err != nil {
			return translate(err, ErrInvalidRecordingState)
		}
		c.setState(StateRecording)
		c.commands.Store(0)
		c.used = map[*lifetime]bool{}
		c.pipelines = map[hal.BindPoint]*Pipeline{}
		c.sets = map[hal.BindPoint]map[int]*DescriptorSet{}
		c.vertex = map[int]bool{}
		return nil
	})
}

// CopyBuffer copies all of src to the start of dst.
func (c *CommandBuffer) CopyBuffer(src, dst AnyBuffer) error {
	return c.record("copy buffer", func() error {
		s, d, err := c.copyEnds(src, dst)
		if err != nil {
			return err
		}
		return c.copyRegion(s, d, hal.BufferCopy{Size: s.Size()})
	})
}

// CopyBufferRegion copies size bytes from srcOffset in src to dstOffset in
// dst.
func (c *CommandBuffer) CopyBufferRegion(src, dst AnyBuffer, srcOffset, dstOffset, size uint64) error {
	return c.record("copy buffer region", func() error {
		s, d, err := c.copyEnds(src, dst)
		if err != nil {
			return err
		}
		return c.copyRegion(s, d, hal.BufferCopy{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size})
	})
}

// CopyBufferFromStagingResource copies the staging resource of dst into
// dst. See BufferResource.AllocateStagingResource.
func (c *CommandBuffer) CopyBufferFromStagingResource(dst AnyBuffer) error {
	return c.record("copy from staging", func() error {
		if dst == nil {
			return errors.Wrap(ErrInvalidRecordingState, "nil buffer")
		}
		r := dst.resource()
		if r.StagingResource == nil {
			return errors.Wrap(ErrInvalidRecordingState, "buffer has no staging resource")
		}
		s, d, err := c.copyEnds(r.StagingResource, dst)
		if err != nil {
			return err
		}
		return c.copyRegion(s, d, hal.BufferCopy{Size: d.Size()})
	})
}

func (c *CommandBuffer) copyEnds(src, dst AnyBuffer) (*BufferResource, *BufferResource, error) {
	if err := c.outsidePass("copy"); err != nil {
		return nil, nil, err
	}
	s, err := c.ownBuffer(src, BufferUsageTransferSrc)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "source")
	}
	d, err := c.ownBuffer(dst, BufferUsageTransferDst)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "destination")
	}
	return s, d, nil
}

func (c *CommandBuffer) copyRegion(s, d *BufferResource, r hal.BufferCopy) error {
	if r.Size == 0 || !inBounds(r.SrcOffset, r.Size, s.Size()) || !inBounds(r.DstOffset, r.Size, d.Size()) {
		return errors.Wrapf(ErrInvalidRecordingState, "copy of %d bytes from %d/%d to %d/%d out of bounds",
			r.Size, r.SrcOffset, s.Size(), r.DstOffset, d.Size())
	}
	c.barrier()
	c.HAL.CopyBuffer(s.core.hal, d.core.hal, []hal.BufferCopy{r})
	c.keep(s.core.life, d.core.life)
	return nil
}

// CopyBufferToImage uploads tightly packed texels from src into img.
func (c *CommandBuffer) CopyBufferToImage(src AnyBuffer, img *Image) error {
	return c.record("copy buffer to image", func() error {
		if err := c.outsidePass("copy"); err != nil {
			return err
		}
		s, err := c.ownBuffer(src, BufferUsageTransferSrc)
		if err != nil {
			return err
		}
		if err := c.ownImage(img, ImageUsageTransferDst); err != nil {
			return err
		}
		if s.Size() < img.ByteSize() {
			return errors.Wrapf(ErrInvalidRecordingState, "%d byte buffer for %d byte image", s.Size(), img.ByteSize())
		}
		c.barrier()
		c.HAL.CopyBufferToImage(s.core.hal, img.core.hal, hal.BufferImageCopy{ImageExtent: img.Extent()})
		c.keep(s.core.life, img.core.life)
		return nil
	})
}

// CopyImageToBuffer reads img back into dst, tightly packed.
func (c *CommandBuffer) CopyImageToBuffer(img *Image, dst AnyBuffer) error {
	return c.record("copy image to buffer", func() error {
		if err := c.outsidePass("copy"); err != nil {
			return err
		}
		if err := c.ownImage(img, ImageUsageTransferSrc); err != nil {
			return err
		}
		d, err := c.ownBuffer(dst, BufferUsageTransferDst)
		if err != nil {
			return err
		}
		if d.Size() < img.ByteSize() {
			return errors.Wrapf(ErrInvalidRecordingState, "%d byte buffer for %d byte image", d.Size(), img.ByteSize())
		}
		c.barrier()
		c.HAL.CopyImageToBuffer(img.core.hal, d.core.hal, hal.BufferImageCopy{ImageExtent: img.Extent()})
		c.keep(img.core.life, d.core.life)
		return nil
	})
}

// ClearImage fills a color image with color.
func (c *CommandBuffer) ClearImage(img *Image, color ClearColor) error {
	return c.record("clear image", func() error {
		if err := c.outsidePass("clear"); err != nil {
			return err
		}
		if err := c.ownImage(img, ImageUsageTransferDst); err != nil {
			return err
		}
		if img.Format().IsDepth() {
			return errors.Wrapf(ErrIncompatibleUsage, "color clear of %v image", img.Format())
		}
		c.barrier()
		c.HAL.ClearColorImage(img.core.hal, color)
		c.keep(img.core.life)
		return nil
	})
}

// BindPipeline binds p at its bind point. Descriptor sets bound before
// stay bound.
func (c *CommandBuffer) BindPipeline(p *Pipeline) error {
	return c.record("bind pipeline", func() error {
		if p == nil {
			return errors.Wrap(ErrInvalidRecordingState, "nil pipeline")
		}
		if err := p.check(); err != nil {
			return err
		}
		if err := c.device().owns(p.Device); err != nil {
			return err
		}
		if p.Kind == PipelineGraphics && c.pass != nil {
			if err := c.compatiblePass(p); err != nil {
				return err
			}
		}
		c.HAL.BindPipeline(p.bindPoint(), p.HAL)
		c.pipelines[p.bindPoint()] = p
		c.last = p
		c.keep(p.life)
		return nil
	})
}

func (c *CommandBuffer) compatiblePass(p *Pipeline) error {
	if !p.RenderPass.compatible(c.pass.RenderPass) || p.Subpass != 0 {
		return errors.Wrapf(ErrInvalidRecordingState, "pipeline built for another render pass or subpass %d", p.Subpass)
	}
	return nil
}

// BindDescriptorSets binds sets starting at set index first for the most
// recently bound pipeline. Each set must have been allocated for the
// layout the pipeline declares at its index.
func (c *CommandBuffer) BindDescriptorSets(first int, sets ...*DescriptorSet) error {
	return c.record("bind descriptor sets", func() error {
		p := c.last
		if p == nil {
			return errors.Wrap(ErrInvalidRecordingState, "no pipeline bound")
		}
		if len(sets) == 0 {
			return errors.Wrap(ErrInvalidRecordingState, "no descriptor sets")
		}
		want := p.Layout.Desc.Sets
		hs := make([]hal.DescriptorSet, len(sets))
		for i, s := range sets {
			idx := first + i
			if s == nil {
				return errors.Wrapf(ErrInvalidRecordingState, "nil descriptor set %d", idx)
			}
			if err := s.check(); err != nil {
				return err
			}
			if err := c.device().owns(s.Device); err != nil {
				return err
			}
			if idx < 0 || idx >= len(want) || !s.Layout.Desc.Equal(want[idx]) {
				return errors.Wrapf(ErrInvalidRecordingState, "set %d does not match the %s pipeline layout", idx, p.Kind)
			}
			hs[i] = s.HAL
		}
		c.HAL.BindDescriptorSets(p.bindPoint(), p.Layout.HAL, first, hs)
		bound := c.sets[p.bindPoint()]
		if bound == nil {
			bound = map[int]*DescriptorSet{}
			c.sets[p.bindPoint()] = bound
		}
		for i, s := range sets {
			bound[first+i] = s
			c.keep(s.life)
		}
		return nil
	})
}

// BindVertexBuffers binds buffers to consecutive vertex bindings starting
// at first.
func (c *CommandBuffer) BindVertexBuffers(first int, buffers ...AnyBuffer) error {
	return c.record("bind vertex buffers", func() error {
		if len(buffers) == 0 || first < 0 {
			return errors.Wrap(ErrInvalidRecordingState, "no vertex buffers")
		}
		hb := make([]hal.Buffer, len(buffers))
		rs := make([]*BufferResource, len(buffers))
		for i, b := range buffers {
			r, err := c.ownBuffer(b, BufferUsageVertex)
			if err != nil {
				return err
			}
			hb[i], rs[i] = r.core.hal, r
		}
		c.HAL.BindVertexBuffers(first, hb, make([]uint64, len(hb)))
		for i, r := range rs {
			c.vertex[first+i] = true
			c.keep(r.core.life)
		}
		return nil
	})
}

// boundFor returns the pipeline bound at point after checking that every
// non-empty set of its layout has a matching set bound.
func (c *CommandBuffer) boundFor(kind PipelineKind) (*Pipeline, error) {
	point := hal.BindPointCompute
	if kind == PipelineGraphics {
		point = hal.BindPointGraphics
	}
	p := c.pipelines[point]
	if p == nil {
		return nil, errors.Wrapf(ErrInvalidRecordingState, "no %s pipeline bound", kind)
	}
	for i, s := range p.Layout.Desc.Sets {
		if len(s.Bindings) == 0 {
			continue
		}
		bound := c.sets[point][i]
		if bound == nil || !bound.Layout.Desc.Equal(s) {
			return nil, errors.Wrapf(ErrInvalidRecordingState, "descriptor set %d not bound", i)
		}
	}
	return p, nil
}

// Dispatch runs the bound compute pipeline over x*y*z work groups. Counts
// are only checked for zero here; the device rejects counts above its
// limits at submission.
func (c *CommandBuffer) Dispatch(x, y, z uint32) error {
	return c.record("dispatch", func() error {
		if err := c.outsidePass("dispatch"); err != nil {
			return err
		}
		if x == 0 || y == 0 || z == 0 {
			return errors.Wrapf(ErrInvalidRecordingState, "work-group count %dx%dx%d", x, y, z)
		}
		if !c.Pool.QueueFamily.IsCompute() {
			return errors.Wrapf(ErrInvalidRecordingState, "dispatch on %s", c.Pool.QueueFamily)
		}
		if _, err := c.boundFor(PipelineCompute); err != nil {
			return err
		}
		c.barrier()
		c.HAL.Dispatch(x, y, z)
		return nil
	})
}

// BeginRenderPass starts the render pass of fb over its whole area. clears
// gives the clear value of each attachment loaded with LoadOpClear.
func (c *CommandBuffer) BeginRenderPass(fb *Framebuffer, clears ...ClearValue) error {
	return c.record("begin render pass", func() error {
		if c.pass != nil {
			return errors.Wrap(ErrInvalidRecordingState, "render pass already active")
		}
		if fb == nil {
			return errors.Wrap(ErrInvalidRecordingState, "nil framebuffer")
		}
		if err := fb.check(); err != nil {
			return err
		}
		if err := c.device().owns(fb.Device); err != nil {
			return err
		}
		if !c.Pool.QueueFamily.IsGraphics() {
			return errors.Wrapf(ErrInvalidRecordingState, "render pass on %s", c.Pool.QueueFamily)
		}
		if len(clears) > len(fb.RenderPass.Config.Attachments) {
			return errors.Wrapf(ErrInvalidRecordingState, "%d clear values for %d attachments", len(clears), len(fb.RenderPass.Config.Attachments))
		}
		c.barrier()
		area := hal.Rect{Width: fb.Width, Height: fb.Height}
		c.HAL.BeginRenderPass(fb.RenderPass.HAL, fb.HAL, area, clears)
		c.pass = fb
		c.keep(fb.life)
		return nil
	})
}

// Draw draws vertexCount vertices with the bound graphics pipeline. A zero
// vertex count records a draw that produces nothing.
func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) error {
	return c.record("draw", func() error {
		if c.pass == nil {
			return errors.Wrap(ErrInvalidRecordingState, "draw outside a render pass")
		}
		if instanceCount == 0 {
			return errors.Wrap(ErrInvalidRecordingState, "instance count 0")
		}
		p, err := c.boundFor(PipelineGraphics)
		if err != nil {
			return err
		}
		if err := c.compatiblePass(p); err != nil {
			return err
		}
		for _, vb := range p.VertexBindings {
			if !c.vertex[vb.Binding] {
				return errors.Wrapf(ErrInvalidRecordingState, "vertex binding %d has no buffer", vb.Binding)
			}
		}
		c.HAL.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
		return nil
	})
}

func (c *CommandBuffer) EndRenderPass() error {
	return c.record("end render pass", func() error {
		if c.pass == nil {
			return errors.Wrap(ErrInvalidRecordingState, "no active render pass")
		}
		c.HAL.EndRenderPass()
		c.pass = nil
		return nil
	})
}

// Build finishes recording. An empty OneTimeSubmit buffer or one with an
// open render pass fails with ErrEmptyOrInvalid and keeps recording.
func (c *CommandBuffer) Build() error {
	return c.exclusive("build", func() error {
		switch c.State() {
		case StateEmpty:
			return errors.Wrap(ErrInvalidRecordingState, "command buffer not begun")
		case StateBuilt:
			return ErrAlreadyBuilt
		}
		if c.pass != nil {
			return errors.Wrap(ErrEmptyOrInvalid, "render pass still active")
		}
		if c.commands.Load() == 0 && c.Usage == OneTimeSubmit {
			return errors.Wrap(ErrEmptyOrInvalid, "no commands recorded")
		}
		if err := c.HAL.End(); err != nil {
			return translate(err, ErrEmptyOrInvalid)
		}
		c.setState(StateBuilt)
		c.log.Debug("command buffer built", "commands", c.Len(), "usage", c.Usage.String())
		return nil
	})
}

// Reset returns the buffer to Empty, dropping its commands and the
// resources they referenced. A buffer still executing cannot be reset.
func (c *CommandBuffer) Reset() error {
	return c.exclusive("reset", func() error {
		if c.busy() {
			return ErrCommandBufferBusy
		}
		if err := c.HAL.Reset(); err != nil {
			return translate(err, ErrInvalidRecordingState)
		}
		c.mu.Lock()
		c.submitted = false
		c.mu.Unlock()
		c.clear()
		return nil
	})
}

func (c *CommandBuffer) clear() {
	for _, l := range c.uses {
		l.release()
	}
	c.uses, c.used = nil, nil
	c.pipelines, c.last, c.sets, c.vertex, c.pass = nil, nil, nil, nil, nil
	c.commands.Store(0)
	c.setState(StateEmpty)
}

func (c *CommandBuffer) busy() bool {
	c.mu.Lock()
	f := c.pending
	c.mu.Unlock()
	return f != nil && !f.Done()
}

// free drops the commands and hands the hal buffer back to its pool, once
// no Future still executes it.
func (c *CommandBuffer) free() {
	c.mu.Lock()
	if c.freed {
		c.mu.Unlock()
		return
	}
	c.freed = true
	executing := c.pending != nil
	c.mu.Unlock()
	if !executing {
		c.release()
	}
}

func (c *CommandBuffer) release() {
	c.guard.Lock()
	c.clear()
	c.guard.Unlock()
	c.Pool.HAL.Free(c.HAL)
}

// finished is called by the Future that executed the buffer.
func (c *CommandBuffer) finished(f *Future) {
	c.mu.Lock()
	if c.pending != f {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	freed := c.freed
	c.mu.Unlock()
	if freed {
		c.release()
	}
}

// claim marks the buffer as executed by f.
func (c *CommandBuffer) claim(f *Future) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.freed:
		return errors.Wrap(ErrInvalidRecordingState, "command buffer freed")
	case c.Usage == OneTimeSubmit && c.submitted:
		return ErrAlreadySubmitted
	case c.pending != nil:
		return ErrCommandBufferBusy
	}
	c.pending, c.submitted = f, true
	return nil
}

// unclaim undoes claim after a failed submission.
func (c *CommandBuffer) unclaim(f *Future) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == f {
		c.pending, c.submitted = nil, false
	}
}
