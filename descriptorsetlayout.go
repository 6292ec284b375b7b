package vkcore

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/celer/vkcore/hal"
)

type DescriptorType = hal.DescriptorType

const (
	DescriptorUniformBuffer        = hal.DescriptorUniformBuffer
	DescriptorStorageBuffer        = hal.DescriptorStorageBuffer
	DescriptorSampledImage         = hal.DescriptorSampledImage
	DescriptorStorageImage         = hal.DescriptorStorageImage
	DescriptorCombinedImageSampler = hal.DescriptorCombinedImageSampler
	DescriptorSampler              = hal.DescriptorSampler
)

// BindingSlot is one binding a pipeline declares.
type BindingSlot struct {
	Set     int
	Binding int
	Type    DescriptorType
	Count   int
	Stages  ShaderStage
}

// SetLayoutDesc is the bindings of one descriptor set, sorted by binding.
type SetLayoutDesc struct {
	Set      int
	Bindings []BindingSlot
}

// Slot returns the binding with the given index.
func (s SetLayoutDesc) Slot(binding int) (BindingSlot, bool) {
	i := sort.Search(len(s.Bindings), func(i int) bool { return s.Bindings[i].Binding >= binding })
	if i < len(s.Bindings) && s.Bindings[i].Binding == binding {
		return s.Bindings[i], true
	}
	return BindingSlot{}, false
}

func (s SetLayoutDesc) Equal(o SetLayoutDesc) bool {
	if s.Set != o.Set || len(s.Bindings) != len(o.Bindings) {
		return false
	}
	for i := range s.Bindings {
		if s.Bindings[i] != o.Bindings[i] {
			return false
		}
	}
	return true
}

func (s SetLayoutDesc) halBindings() []hal.LayoutBinding {
	ret := make([]hal.LayoutBinding, len(s.Bindings))
	for i, b := range s.Bindings {
		ret[i] = hal.LayoutBinding{Binding: b.Binding, Type: b.Type, Count: b.Count, Stages: b.Stages}
	}
	return ret
}

// DescriptorSetLayout describes the layout of a descriptorset
type DescriptorSetLayout struct {
	handle
	Device *Device
	HAL    hal.DescriptorSetLayout
	Desc   SetLayoutDesc
}

// CreateDescriptorSetLayout creates a set layout from desc.
func (d *Device) CreateDescriptorSetLayout(desc SetLayoutDesc) (*DescriptorSetLayout, error) {
	seen := map[int]bool{}
	for _, b := range desc.Bindings {
		if seen[b.Binding] {
			return nil, errors.Wrapf(ErrLayoutCreationFailed, "set %d binding %d declared twice", desc.Set, b.Binding)
		}
		seen[b.Binding] = true
		if b.Count <= 0 {
			return nil, errors.Wrapf(ErrLayoutCreationFailed, "set %d binding %d has count %d", desc.Set, b.Binding, b.Count)
		}
	}
	sorted := desc
	sorted.Bindings = append([]BindingSlot(nil), desc.Bindings...)
	sort.Slice(sorted.Bindings, func(i, j int) bool { return sorted.Bindings[i].Binding < sorted.Bindings[j].Binding })

	hl, err := d.HAL.CreateDescriptorSetLayout(sorted.halBindings())
	if err != nil {
		return nil, errors.Wrap(translate(err, ErrLayoutCreationFailed), "create descriptor set layout")
	}
	return &DescriptorSetLayout{
		handle: newHandle(newLifetime(hl.Destroy)),
		Device: d,
		HAL:    hl,
		Desc:   sorted,
	}, nil
}

// poolSizes is the descriptor count needed for n sets of this layout.
func (l *DescriptorSetLayout) poolSizes(n int) map[DescriptorType]int {
	ret := map[DescriptorType]int{}
	for _, b := range l.Desc.Bindings {
		ret[b.Type] += b.Count * n
	}
	return ret
}
