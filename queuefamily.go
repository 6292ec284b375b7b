package vkcore

import (
	"fmt"

	"github.com/celer/vkcore/hal"
)

type QueueFlags = hal.QueueFlags

const (
	QueueGraphics = hal.QueueGraphics
	QueueCompute  = hal.QueueCompute
	QueueTransfer = hal.QueueTransfer
)

type QueueFamilySlice []*QueueFamily

func (ql QueueFamilySlice) Filter(f func(q *QueueFamily) bool) QueueFamilySlice {
	ret := make([]*QueueFamily, 0)
	for _, q := range ql {
		if f(q) {
			ret = append(ret, q)
		}
	}
	return ret
}

func (ql QueueFamilySlice) FilterCompute() QueueFamilySlice {
	return ql.Filter(func(q *QueueFamily) bool {
		return q.IsCompute()
	})
}

func (ql QueueFamilySlice) FilterGraphics() QueueFamilySlice {
	return ql.Filter(func(q *QueueFamily) bool {
		return q.IsGraphics()
	})
}

func (ql QueueFamilySlice) FilterTransfer() QueueFamilySlice {
	return ql.Filter(func(q *QueueFamily) bool {
		return q.IsTransfer()
	})
}

// FilterFlags keeps families supporting every bit of flags.
func (ql QueueFamilySlice) FilterFlags(flags QueueFlags) QueueFamilySlice {
	return ql.Filter(func(q *QueueFamily) bool {
		return q.Flags.Has(flags)
	})
}

type QueueFamily struct {
	Index          int
	PhysicalDevice *PhysicalDevice
	Flags          QueueFlags
	Count          int
}

func (q *QueueFamily) IsCompute() bool { return q.Flags.Has(QueueCompute) }

func (q *QueueFamily) IsGraphics() bool { return q.Flags.Has(QueueGraphics) }

func (q *QueueFamily) IsTransfer() bool { return q.Flags.Has(QueueTransfer) }

func (q *QueueFamily) String() string {
	return fmt.Sprintf("{ Index: %d Compute: %v Graphics: %v Transfer: %v }", q.Index, q.IsCompute(), q.IsGraphics(), q.IsTransfer())
}
