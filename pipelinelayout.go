package vkcore

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/celer/vkcore/hal"
	"github.com/celer/vkcore/spirv"
)

// PipelineLayoutDesc lists the set layouts of a pipeline; Sets[i] is set i.
// Sets a shader skips are present and empty.
type PipelineLayoutDesc struct {
	Sets []SetLayoutDesc
}

// Equal reports structural equality.
func (p PipelineLayoutDesc) Equal(o PipelineLayoutDesc) bool {
	if len(p.Sets) != len(o.Sets) {
		return false
	}
	for i := range p.Sets {
		if !p.Sets[i].Equal(o.Sets[i]) {
			return false
		}
	}
	return true
}

// Slot returns the binding at (set, binding).
func (p PipelineLayoutDesc) Slot(set, binding int) (BindingSlot, bool) {
	if set < 0 || set >= len(p.Sets) {
		return BindingSlot{}, false
	}
	return p.Sets[set].Slot(binding)
}

// covers reports whether every slot of o exists in p with the same type
// and count and is visible to at least the same stages.
func (p PipelineLayoutDesc) covers(o PipelineLayoutDesc) error {
	for _, s := range o.Sets {
		for _, b := range s.Bindings {
			have, ok := p.Slot(b.Set, b.Binding)
			if !ok {
				return errors.Wrapf(ErrShaderInterfaceMismatch, "layout lacks set %d binding %d", b.Set, b.Binding)
			}
			if have.Type != b.Type || have.Count != b.Count || have.Stages&b.Stages != b.Stages {
				return errors.Wrapf(ErrShaderInterfaceMismatch, "set %d binding %d: layout has %v x%d, shader needs %v x%d",
					b.Set, b.Binding, have.Type, have.Count, b.Type, b.Count)
			}
		}
	}
	return nil
}

func (p PipelineLayoutDesc) String() string {
	s := ""
	for _, set := range p.Sets {
		for _, b := range set.Bindings {
			s += fmt.Sprintf("(%d,%d %v x%d %v)", b.Set, b.Binding, b.Type, b.Count, b.Stages)
		}
	}
	return "{" + s + "}"
}

var descriptorTypeOf = map[spirv.ResourceKind]DescriptorType{
	spirv.UniformBuffer:        DescriptorUniformBuffer,
	spirv.StorageBuffer:        DescriptorStorageBuffer,
	spirv.SampledImage:         DescriptorSampledImage,
	spirv.StorageImage:         DescriptorStorageImage,
	spirv.CombinedImageSampler: DescriptorCombinedImageSampler,
	spirv.Sampler:              DescriptorSampler,
}

// DerivePipelineLayout merges the reflected bindings of the stages. The
// result depends only on the stages' interfaces: slots are ordered by set
// and binding, and a slot used by several stages is visible to all of
// them. Two stages declaring the same slot with different kinds or counts
// fail with ErrShaderInterfaceMismatch; runtime-sized arrays fail with
// ErrLayoutCreationFailed.
func DerivePipelineLayout(stages ...Stage) (PipelineLayoutDesc, error) {
	type key struct{ set, binding int }
	slots := map[key]BindingSlot{}
	maxSet := -1
	for _, st := range stages {
		if !st.valid() {
			return PipelineLayoutDesc{}, errors.Wrap(ErrShaderInterfaceMismatch, "stage without module or entry point")
		}
		for _, b := range st.Module.Reflection.Bindings {
			if b.Count == 0 {
				return PipelineLayoutDesc{}, errors.Wrapf(ErrLayoutCreationFailed,
					"set %d binding %d %q is a runtime array", b.Set, b.Binding, b.Name)
			}
			k := key{int(b.Set), int(b.Binding)}
			slot := BindingSlot{
				Set:     k.set,
				Binding: k.binding,
				Type:    descriptorTypeOf[b.Kind],
				Count:   int(b.Count),
				Stages:  st.Kind(),
			}
			if prev, ok := slots[k]; ok {
				if prev.Type != slot.Type || prev.Count != slot.Count {
					return PipelineLayoutDesc{}, errors.Wrapf(ErrShaderInterfaceMismatch,
						"set %d binding %d declared as %v x%d and %v x%d", k.set, k.binding, prev.Type, prev.Count, slot.Type, slot.Count)
				}
				prev.Stages |= slot.Stages
				slot = prev
			}
			slots[k] = slot
			if k.set > maxSet {
				maxSet = k.set
			}
		}
	}

	desc := PipelineLayoutDesc{Sets: make([]SetLayoutDesc, maxSet+1)}
	for i := range desc.Sets {
		desc.Sets[i].Set = i
	}
	for k, s := range slots {
		desc.Sets[k.set].Bindings = append(desc.Sets[k.set].Bindings, s)
	}
	for i := range desc.Sets {
		b := desc.Sets[i].Bindings
		sort.Slice(b, func(x, y int) bool { return b[x].Binding < b[y].Binding })
	}
	return desc, nil
}

type PipelineLayout struct {
	handle
	Device     *Device
	HAL        hal.PipelineLayout
	Desc       PipelineLayoutDesc
	SetLayouts []*DescriptorSetLayout
}

// CreatePipelineLayout creates the set layouts and the pipeline layout
// described by desc. Exceeding the device's set or per-stage descriptor
// limits fails with ErrLayoutCreationFailed.
func (d *Device) CreatePipelineLayout(desc PipelineLayoutDesc) (*PipelineLayout, error) {
	if err := checkLayoutLimits(desc, d.Limits()); err != nil {
		return nil, err
	}
	var sets []*DescriptorSetLayout
	cleanup := func() {
		for _, s := range sets {
			_ = s.Release()
		}
	}
	for _, s := range desc.Sets {
		l, err := d.CreateDescriptorSetLayout(s)
		if err != nil {
			cleanup()
			return nil, err
		}
		sets = append(sets, l)
	}
	hsets := make([]hal.DescriptorSetLayout, len(sets))
	deps := make([]*lifetime, len(sets))
	for i, s := range sets {
		hsets[i] = s.HAL
		deps[i] = s.life
	}
	hl, err := d.HAL.CreatePipelineLayout(hsets)
	if err != nil {
		cleanup()
		return nil, errors.Wrap(translate(err, ErrLayoutCreationFailed), "create pipeline layout")
	}
	life := newLifetime(hl.Destroy, deps...)
	// the layout now holds the set layouts
	cleanup()
	return &PipelineLayout{handle: newHandle(life), Device: d, HAL: hl, Desc: desc, SetLayouts: sets}, nil
}

func checkLayoutLimits(desc PipelineLayoutDesc, lim hal.Limits) error {
	if len(desc.Sets) > lim.MaxBoundDescriptorSets {
		return errors.Wrapf(ErrLayoutCreationFailed, "%d descriptor sets, device allows %d", len(desc.Sets), lim.MaxBoundDescriptorSets)
	}
	limits := map[DescriptorType]int{
		DescriptorUniformBuffer:        lim.MaxPerStageDescriptorUniformBuffers,
		DescriptorStorageBuffer:        lim.MaxPerStageDescriptorStorageBuffers,
		DescriptorSampledImage:         lim.MaxPerStageDescriptorSampledImages,
		DescriptorCombinedImageSampler: lim.MaxPerStageDescriptorSampledImages,
		DescriptorStorageImage:         lim.MaxPerStageDescriptorStorageImages,
	}
	for _, stage := range []ShaderStage{StageVertex, StageFragment, StageCompute} {
		used := map[DescriptorType]int{}
		for _, s := range desc.Sets {
			for _, b := range s.Bindings {
				if b.Stages&stage != 0 {
					t := b.Type
					if t == DescriptorCombinedImageSampler {
						t = DescriptorSampledImage
					}
					used[t] += b.Count
				}
			}
		}
		for t, n := range used {
			if limit, ok := limits[t]; ok && n > limit {
				return errors.Wrapf(ErrLayoutCreationFailed, "%v stage uses %d %v descriptors, device allows %d", stage, n, t, limit)
			}
		}
	}
	return nil
}
