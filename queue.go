package vkcore

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/celer/vkcore/hal"
)

// Queue submits command buffers recorded from pools of its family.
type Queue struct {
	Device      *Device
	QueueFamily *QueueFamily
	HAL         hal.Queue

	// hal queues are externally synchronized
	mu sync.Mutex
}

func (q *Queue) String() string {
	return fmt.Sprintf("{Device: %s QueueFamily: %s}", q.Device.String(), q.QueueFamily.String())
}

// Submit enqueues cb and returns without waiting. When after is non-nil,
// cb starts only once the work of after and everything chained before it
// has completed. A pending Future accepts one successor.
func (q *Queue) Submit(cb *CommandBuffer, after *Future) (*Future, error) {
	d := q.Device
	if err := d.checkLost(); err != nil {
		return nil, err
	}
	if cb == nil {
		return nil, errors.Wrap(ErrInvalidRecordingState, "nil command buffer")
	}
	if err := d.owns(cb.device()); err != nil {
		return nil, err
	}
	if cb.State() != StateBuilt {
		return nil, errors.Wrapf(ErrInvalidRecordingState, "submit of a %s command buffer", cb.State())
	}
	if cb.Pool.QueueFamily.Index != q.QueueFamily.Index {
		return nil, errors.Wrapf(ErrInvalidRecordingState, "command buffer of family %d on queue of family %d",
			cb.Pool.QueueFamily.Index, q.QueueFamily.Index)
	}
	if after != nil {
		if err := d.owns(after.Device); err != nil {
			return nil, err
		}
	}
	if cb.busy() {
		return nil, ErrCommandBufferBusy
	}

	fence, err := d.HAL.CreateFence(false)
	if err != nil {
		return nil, errors.Wrap(translate(err, ErrSubmissionFailed), "create fence")
	}
	signal, err := d.HAL.CreateSemaphore()
	if err != nil {
		fence.Destroy()
		return nil, errors.Wrap(translate(err, ErrSubmissionFailed), "create semaphore")
	}
	f := newFuture(d, q)
	f.fence, f.signal, f.cb, f.prev = fence, signal, cb, after

	if err := cb.claim(f); err != nil {
		f.discard()
		return nil, err
	}
	if after != nil {
		if f.waitSem, err = after.chain(); err != nil {
			cb.unclaim(f)
			f.discard()
			return nil, err
		}
	}

	f.uses = append([]*lifetime(nil), cb.uses...)
	for _, l := range f.uses {
		l.acquire()
	}
	submit := hal.Submission{
		CommandBuffers: []hal.CommandBuffer{cb.HAL},
		Signal:         []hal.Semaphore{signal},
	}
	if f.waitSem != nil {
		submit.Wait = []hal.Semaphore{f.waitSem}
	}

	q.mu.Lock()
	err = q.HAL.Submit([]hal.Submission{submit}, fence)
	q.mu.Unlock()
	if err != nil {
		for _, l := range f.uses {
			l.done()
		}
		f.uses = nil
		if after != nil {
			after.unchain(f.waitSem)
			f.waitSem = nil
		}
		cb.unclaim(f)
		f.discard()
		return nil, q.submitError(err)
	}

	d.track(f)
	d.log.Debug("submitted", "family", q.QueueFamily.Index, "commands", cb.Len(), "chained", after != nil)
	return f, nil
}

func (q *Queue) submitError(err error) error {
	switch {
	case errors.Is(err, hal.ErrDeviceLost):
		return q.Device.markLost(err)
	case errors.Is(err, hal.ErrLimitExceeded):
		return errors.WithMessage(ErrSubmissionFailed, err.Error())
	}
	return translate(err, ErrSubmissionFailed)
}

// SubmitWait submits cb and blocks until it completed.
func (q *Queue) SubmitWait(cb *CommandBuffer) error {
	f, err := q.Submit(cb, nil)
	if err != nil {
		return err
	}
	return f.Wait()
}

// SubmitTimeout submits cb and waits at most timeout for it.
func (q *Queue) SubmitTimeout(cb *CommandBuffer, timeout time.Duration) (*Future, error) {
	f, err := q.Submit(cb, nil)
	if err != nil {
		return nil, err
	}
	return f, f.WaitTimeout(timeout)
}

// WaitIdle blocks until every submission on q completed.
func (q *Queue) WaitIdle() error {
	q.mu.Lock()
	err := q.HAL.WaitIdle()
	q.mu.Unlock()
	q.Device.CleanupFinished()
	if err != nil {
		if errors.Is(err, hal.ErrDeviceLost) {
			return q.Device.markLost(err)
		}
		return translate(err, ErrSubmissionFailed)
	}
	return q.Device.checkLost()
}
