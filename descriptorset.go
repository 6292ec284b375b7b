package vkcore

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/celer/vkcore/hal"
)

// DescriptorWrite binds one resource to one binding of a set. Build it
// with BindBuffer, BindBufferRange or BindImageView.
type DescriptorWrite struct {
	Binding int
	Buffer  AnyBuffer
	View    *ImageView
	Offset  uint64
	// Range is the bound byte count; zero binds the rest of the buffer.
	Range uint64
}

func BindBuffer(binding int, b AnyBuffer) DescriptorWrite {
	return DescriptorWrite{Binding: binding, Buffer: b}
}

func BindBufferRange(binding int, b AnyBuffer, offset, size uint64) DescriptorWrite {
	return DescriptorWrite{Binding: binding, Buffer: b, Offset: offset, Range: size}
}

func BindImageView(binding int, v *ImageView) DescriptorWrite {
	return DescriptorWrite{Binding: binding, View: v}
}

// DescriptorSet is an immutable snapshot of resources bound to a set
// layout. Bound resources stay alive as long as the set does.
type DescriptorSet struct {
	handle
	Device *Device
	HAL    hal.DescriptorSet
	Layout *DescriptorSetLayout
}

// AllocateSet allocates a set for layout and binds writes to it. Every
// binding of the layout must be written exactly once.
func (p *DescriptorPool) AllocateSet(layout *DescriptorSetLayout, writes ...DescriptorWrite) (*DescriptorSet, error) {
	d := p.Device
	if layout == nil || !layout.life.alive() {
		return nil, ErrResourceReleased
	}
	if err := d.owns(layout.Device); err != nil {
		return nil, err
	}
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	hw, deps, err := d.resolveWrites(layout, writes)
	if err != nil {
		d.log.Error("descriptor set rejected", "set", layout.Desc.Set, "err", err)
		return nil, err
	}

	hs, chunk, err := p.allocate(layout)
	if err != nil {
		return nil, err
	}
	if err := hs.Write(hw); err != nil {
		p.free(chunk, hs)
		return nil, errors.Wrap(translate(err, ErrTypeMismatch), "write descriptor set")
	}
	deps = append(deps, layout.life)
	life := newLifetime(func() { p.free(chunk, hs) }, deps...)
	return &DescriptorSet{handle: newHandle(life), Device: d, HAL: hs, Layout: layout}, nil
}

// resolveWrites validates writes against layout and converts them to hal
// writes, returning the lifetimes of the bound resources.
func (d *Device) resolveWrites(layout *DescriptorSetLayout, writes []DescriptorWrite) ([]hal.DescriptorWrite, []*lifetime, error) {
	seen := map[int]bool{}
	hw := make([]hal.DescriptorWrite, 0, len(writes))
	deps := make([]*lifetime, 0, len(writes))

	for _, w := range writes {
		slot, ok := layout.Desc.Slot(w.Binding)
		if !ok {
			return nil, nil, errors.Wrapf(ErrUnknownBinding, "set %d binding %d", layout.Desc.Set, w.Binding)
		}
		if seen[w.Binding] {
			return nil, nil, errors.Wrapf(ErrDuplicateBinding, "set %d binding %d", layout.Desc.Set, w.Binding)
		}
		seen[w.Binding] = true

		out := hal.DescriptorWrite{Binding: w.Binding, Type: slot.Type}
		switch {
		case slot.Type.IsBuffer():
			if w.Buffer == nil || w.View != nil {
				return nil, nil, errors.Wrapf(ErrTypeMismatch, "binding %d is a %v, not an image", w.Binding, slot.Type)
			}
			r := w.Buffer.resource()
			if err := r.check(); err != nil {
				return nil, nil, err
			}
			if err := d.owns(r.Device()); err != nil {
				return nil, nil, err
			}
			if err := d.checkBufferWrite(slot, r, w); err != nil {
				return nil, nil, err
			}
			out.Buffer, out.Offset, out.Range = r.core.hal, w.Offset, w.Range
			if out.Range == 0 {
				out.Range = r.Size() - w.Offset
			}
			deps = append(deps, r.core.life)
		case slot.Type == DescriptorSampler:
			return nil, nil, errors.Wrapf(ErrTypeMismatch, "binding %d: standalone samplers are not supported", w.Binding)
		default:
			if w.View == nil || w.Buffer != nil {
				return nil, nil, errors.Wrapf(ErrTypeMismatch, "binding %d is a %v, not a buffer", w.Binding, slot.Type)
			}
			if err := w.View.check(); err != nil {
				return nil, nil, err
			}
			if err := d.owns(w.View.Device()); err != nil {
				return nil, nil, err
			}
			want := ImageUsageSampled
			if slot.Type == DescriptorStorageImage {
				want = ImageUsageStorage
			}
			if w.View.Usage()&want == 0 {
				return nil, nil, errors.Wrapf(ErrTypeMismatch, "binding %d is a %v but the image lacks %v usage", w.Binding, slot.Type, want)
			}
			out.View = w.View.core.hal
			deps = append(deps, w.View.core.life)
		}
		hw = append(hw, out)
	}

	var missing []int
	for _, b := range layout.Desc.Bindings {
		if !seen[b.Binding] {
			missing = append(missing, b.Binding)
		}
	}
	if len(missing) > 0 {
		sort.Ints(missing)
		return nil, nil, errors.Wrapf(ErrIncompleteBinding, "set %d bindings %v", layout.Desc.Set, missing)
	}
	return hw, deps, nil
}

func (d *Device) checkBufferWrite(slot BindingSlot, r *BufferResource, w DescriptorWrite) error {
	want, align := BufferUsageStorage, d.Limits().MinStorageBufferOffsetAlignment
	if slot.Type == DescriptorUniformBuffer {
		want, align = BufferUsageUniform, d.Limits().MinUniformBufferOffsetAlignment
	}
	if r.Usage()&want == 0 {
		return errors.Wrapf(ErrTypeMismatch, "binding %d is a %v but the buffer lacks that usage", w.Binding, slot.Type)
	}
	if align > 1 && w.Offset%align != 0 {
		return errors.Wrapf(ErrIncompatibleUsage, "binding %d offset %d not aligned to %d", w.Binding, w.Offset, align)
	}
	if w.Offset >= r.Size() || !inBounds(w.Offset, w.Range, r.Size()) {
		return errors.Wrapf(ErrIncompatibleUsage, "binding %d range [%d,+%d) outside %d byte buffer", w.Binding, w.Offset, w.Range, r.Size())
	}
	return nil
}

// Set returns the set index this set was allocated for.
func (s *DescriptorSet) Set() int { return s.Layout.Desc.Set }

// Clone returns another handle to the same set.
func (s *DescriptorSet) Clone() *DescriptorSet {
	return &DescriptorSet{handle: s.handle.clone(), Device: s.Device, HAL: s.HAL, Layout: s.Layout}
}

// AllocateSet allocates set number set of the pipeline's layout from the
// device pool.
func (p *Pipeline) AllocateSet(set int, writes ...DescriptorWrite) (*DescriptorSet, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	if set < 0 || set >= len(p.Layout.SetLayouts) {
		return nil, errors.Wrapf(ErrUnknownBinding, "set %d of a %d set layout", set, len(p.Layout.SetLayouts))
	}
	return p.Device.DescriptorPool().AllocateSet(p.Layout.SetLayouts[set], writes...)
}
