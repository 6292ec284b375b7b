package soft

import (
	"fmt"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/celer/vkcore/hal"
)

type commandPool struct {
	dev    *device
	family int
}

func (p *commandPool) Allocate() (hal.CommandBuffer, error) {
	return &commandBuffer{pool: p}, nil
}

func (p *commandPool) Free(cb hal.CommandBuffer) {
	if c, ok := cb.(*commandBuffer); ok {
		c.Reset()
	}
}

func (p *commandPool) Destroy() {}

type cbState int

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
)

type op func(x *executor) error

type commandBuffer struct {
	pool *commandPool

	mu         sync.Mutex
	state      cbState
	oneTime    bool
	submitted  bool
	ops        []op
	dispatches [][3]uint32
}

func (c *commandBuffer) Begin(oneTime bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == cbRecording {
		return errors.Wrap(hal.ErrNotReady, "already recording")
	}
	c.state, c.oneTime, c.submitted = cbRecording, oneTime, false
	c.ops, c.dispatches = nil, nil
	return nil
}

func (c *commandBuffer) End() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != cbRecording {
		return errors.Wrap(hal.ErrNotReady, "not recording")
	}
	c.state = cbExecutable
	return nil
}

func (c *commandBuffer) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state, c.submitted = cbInitial, false
	c.ops, c.dispatches = nil, nil
	return nil
}

func (c *commandBuffer) record(o op) {
	c.ops = append(c.ops, o)
}

func invalid(what string) op {
	return func(*executor) error { return errors.Wrap(hal.ErrInvalidHandle, what) }
}

func (c *commandBuffer) CopyBuffer(src, dst hal.Buffer, regions []hal.BufferCopy) {
	s, ok1 := src.(*buffer)
	d, ok2 := dst.(*buffer)
	if !ok1 || !ok2 {
		c.record(invalid("copy buffer"))
		return
	}
	regions = append([]hal.BufferCopy(nil), regions...)
	c.record(func(*executor) error {
		sb, db := s.bytes(), d.bytes()
		for _, r := range regions {
			if r.SrcOffset+r.Size > uint64(len(sb)) || r.DstOffset+r.Size > uint64(len(db)) {
				return errors.Errorf("copy region %+v out of bounds", r)
			}
			copy(db[r.DstOffset:r.DstOffset+r.Size], sb[r.SrcOffset:r.SrcOffset+r.Size])
		}
		return nil
	})
}

func (c *commandBuffer) CopyBufferToImage(src hal.Buffer, dst hal.Image, region hal.BufferImageCopy) {
	b, ok1 := src.(*buffer)
	img, ok2 := dst.(*image)
	if !ok1 || !ok2 {
		c.record(invalid("copy buffer to image"))
		return
	}
	c.record(func(*executor) error {
		return copyImageRows(img, b, region, true)
	})
}

func (c *commandBuffer) CopyImageToBuffer(src hal.Image, dst hal.Buffer, region hal.BufferImageCopy) {
	img, ok1 := src.(*image)
	b, ok2 := dst.(*buffer)
	if !ok1 || !ok2 {
		c.record(invalid("copy image to buffer"))
		return
	}
	c.record(func(*executor) error {
		return copyImageRows(img, b, region, false)
	})
}

func copyImageRows(img *image, b *buffer, r hal.BufferImageCopy, toImage bool) error {
	e, ie := r.ImageExtent, img.desc.Extent
	if r.ImageOffset.X < 0 || r.ImageOffset.Y < 0 || r.ImageOffset.Z < 0 ||
		uint32(r.ImageOffset.X)+e.Width > ie.Width ||
		uint32(r.ImageOffset.Y)+e.Height > ie.Height ||
		uint32(r.ImageOffset.Z)+e.Depth > ie.Depth {
		return errors.Errorf("image region %+v outside %+v", r, ie)
	}
	ts := uint64(img.desc.Format.Size())
	rowLen := uint64(r.RowLength)
	if rowLen == 0 {
		rowLen = uint64(e.Width)
	}
	buf, pixels := b.bytes(), img.bytes()
	row := uint64(e.Width) * ts
	for z := uint64(0); z < uint64(e.Depth); z++ {
		for y := uint64(0); y < uint64(e.Height); y++ {
			bo := r.BufferOffset + ((z*uint64(e.Height)+y)*rowLen)*ts
			io := (((uint64(r.ImageOffset.Z)+z)*uint64(ie.Height)+uint64(r.ImageOffset.Y)+y)*uint64(ie.Width) + uint64(r.ImageOffset.X)) * ts
			if bo+row > uint64(len(buf)) {
				return errors.Errorf("buffer of %d bytes too small for image region", len(buf))
			}
			if toImage {
				copy(pixels[io:io+row], buf[bo:bo+row])
			} else {
				copy(buf[bo:bo+row], pixels[io:io+row])
			}
		}
	}
	return nil
}

func (c *commandBuffer) ClearColorImage(img hal.Image, color hal.ClearColor) {
	i, ok := img.(*image)
	if !ok {
		c.record(invalid("clear image"))
		return
	}
	c.record(func(*executor) error {
		fillImage(i, mgl32.Vec4(color), hal.Rect{Width: i.desc.Extent.Width, Height: i.desc.Extent.Height})
		return nil
	})
}

func fillImage(i *image, c mgl32.Vec4, area hal.Rect) {
	ts := int(i.desc.Format.Size())
	texel := make([]byte, ts)
	storeTexel(i.desc.Format, texel, c)
	for z := 0; z < int(i.desc.Extent.Depth); z++ {
		for y := int(area.Y); y < int(area.Y)+int(area.Height); y++ {
			for x := int(area.X); x < int(area.X)+int(area.Width); x++ {
				copy(i.texel(x, y, z), texel)
			}
		}
	}
}

// Barrier is a no-op: recorded commands already execute in order.
func (c *commandBuffer) Barrier() {}

func (c *commandBuffer) BindPipeline(point hal.BindPoint, p hal.Pipeline) {
	switch pl := p.(type) {
	case *computePipeline:
		c.record(func(x *executor) error { x.compute = pl; return nil })
	case *graphicsPipeline:
		c.record(func(x *executor) error { x.graphics = pl; return nil })
	default:
		c.record(invalid("bind pipeline"))
	}
}

func (c *commandBuffer) BindDescriptorSets(point hal.BindPoint, layout hal.PipelineLayout, first int, sets []hal.DescriptorSet) {
	ds := make([]*descriptorSet, len(sets))
	for i, s := range sets {
		d, ok := s.(*descriptorSet)
		if !ok {
			c.record(invalid("bind descriptor sets"))
			return
		}
		ds[i] = d
	}
	c.record(func(x *executor) error {
		bound := x.sets[point]
		for len(bound) < first+len(ds) {
			bound = append(bound, nil)
		}
		copy(bound[first:], ds)
		x.sets[point] = bound
		return nil
	})
}

func (c *commandBuffer) BindVertexBuffers(first int, buffers []hal.Buffer, offsets []uint64) {
	bs := make([]vertexBinding, len(buffers))
	for i, b := range buffers {
		vb, ok := b.(*buffer)
		if !ok {
			c.record(invalid("bind vertex buffers"))
			return
		}
		bs[i].buf = vb
		if i < len(offsets) {
			bs[i].offset = offsets[i]
		}
	}
	c.record(func(x *executor) error {
		for i, b := range bs {
			x.vertexBuffers[first+i] = b
		}
		return nil
	})
}

func (c *commandBuffer) Dispatch(gx, gy, gz uint32) {
	c.dispatches = append(c.dispatches, [3]uint32{gx, gy, gz})
	c.record(func(x *executor) error { return x.dispatch([3]uint32{gx, gy, gz}) })
}

func (c *commandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	c.record(func(x *executor) error {
		return x.draw(vertexCount, instanceCount, firstVertex, firstInstance)
	})
}

func (c *commandBuffer) BeginRenderPass(rp hal.RenderPass, fb hal.Framebuffer, area hal.Rect, clears []hal.ClearValue) {
	p, ok1 := rp.(*renderPass)
	f, ok2 := fb.(*framebuffer)
	if !ok1 || !ok2 {
		c.record(invalid("begin render pass"))
		return
	}
	clears = append([]hal.ClearValue(nil), clears...)
	c.record(func(x *executor) error {
		x.pass, x.fb, x.area = p, f, clampRect(area, f.width, f.height)
		for i, a := range p.desc.Attachments {
			if a.Load != hal.LoadOpClear || i >= len(clears) {
				continue
			}
			v := mgl32.Vec4(clears[i].Color)
			if a.Format.IsDepth() {
				v = mgl32.Vec4{clears[i].Depth}
			}
			fillImage(f.views[i].image, v, x.area)
		}
		return nil
	})
}

func (c *commandBuffer) EndRenderPass() {
	c.record(func(x *executor) error {
		x.pass, x.fb = nil, nil
		return nil
	})
}

func clampRect(r hal.Rect, w, h uint32) hal.Rect {
	x0, y0 := max(int64(r.X), 0), max(int64(r.Y), 0)
	x1 := min(int64(r.X)+int64(r.Width), int64(w))
	y1 := min(int64(r.Y)+int64(r.Height), int64(h))
	if x1 <= x0 || y1 <= y0 {
		return hal.Rect{}
	}
	return hal.Rect{X: int32(x0), Y: int32(y0), Width: uint32(x1 - x0), Height: uint32(y1 - y0)}
}

type vertexBinding struct {
	buf    *buffer
	offset uint64
}

// executor carries the bound state while a command buffer runs.
type executor struct {
	dev           *device
	compute       *computePipeline
	graphics      *graphicsPipeline
	sets          map[hal.BindPoint][]*descriptorSet
	vertexBuffers map[int]vertexBinding
	pass          *renderPass
	fb            *framebuffer
	area          hal.Rect
}

func (c *commandBuffer) execute(d *device) (err error) {
	x := &executor{
		dev:           d,
		sets:          map[hal.BindPoint][]*descriptorSet{},
		vertexBuffers: map[int]vertexBinding{},
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("command buffer panicked: %v", r)
		}
	}()
	for _, o := range c.ops {
		if err := o(x); err != nil {
			return err
		}
	}
	return nil
}

func (x *executor) dispatch(groups [3]uint32) error {
	p := x.compute
	if p == nil {
		return errors.New("dispatch without compute pipeline")
	}
	sets := x.sets[hal.BindPointCompute]
	g := errgroup.Group{}
	g.SetLimit(x.dev.adapter.backend.opts.Workers)
	for gz := uint32(0); gz < groups[2]; gz++ {
		for gy := uint32(0); gy < groups[1]; gy++ {
			for gx := uint32(0); gx < groups[0]; gx++ {
				wg := [3]uint32{gx, gy, gz}
				g.Go(func() (err error) {
					defer func() {
						if r := recover(); r != nil {
							err = fmt.Errorf("work-group %v panicked: %v", wg, r)
						}
					}()
					runWorkGroup(p, sets, wg, groups)
					return nil
				})
			}
		}
	}
	return g.Wait()
}

func runWorkGroup(p *computePipeline, sets []*descriptorSet, wg, groups [3]uint32) {
	inv := Invocation{Resources: Resources{sets: sets}, WorkGroupID: wg, NumWorkGroups: groups}
	ls := p.localSize
	for z := uint32(0); z < ls[2]; z++ {
		for y := uint32(0); y < ls[1]; y++ {
			for lx := uint32(0); lx < ls[0]; lx++ {
				inv.LocalID = [3]uint32{lx, y, z}
				inv.GlobalID = [3]uint32{wg[0]*ls[0] + lx, wg[1]*ls[1] + y, wg[2]*ls[2] + z}
				p.program(&inv)
			}
		}
	}
}
