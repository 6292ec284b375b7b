package vkcore

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/celer/vkcore/hal"
)

// Future is submitted GPU work. It resolves once the host observes the
// work completed, through Wait, WaitTimeout, Done or
// Device.CleanupFinished. Resolution releases the resources the work kept
// alive, first for every Future chained before it.
type Future struct {
	Device *Device
	Queue  *Queue

	fence   hal.Fence
	signal  hal.Semaphore
	waitSem hal.Semaphore
	prev    *Future
	cb      *CommandBuffer
	uses    []*lifetime

	mu        sync.Mutex
	resolving bool
	chained   bool
	// waiters counts host calls inside fence.Wait or fence.Status. The
	// fence is destroyed once the Future is resolving and waiters is zero.
	waiters   int
	fenceGone bool
	finished  chan struct{}
	err       error
}

func newFuture(d *Device, q *Queue) *Future {
	return &Future{Device: d, Queue: q, finished: make(chan struct{})}
}

// Now returns an already resolved Future, usable as a chain root.
func Now(d *Device) *Future {
	f := newFuture(d, nil)
	f.resolving = true
	close(f.finished)
	return f
}

// discard frees the sync objects of a Future that was never submitted.
func (f *Future) discard() {
	if f.fence != nil {
		f.fence.Destroy()
	}
	if f.signal != nil {
		f.signal.Destroy()
	}
}

// Then submits cb on q to run after f.
func (f *Future) Then(q *Queue, cb *CommandBuffer) (*Future, error) {
	return q.Submit(cb, f)
}

// Wait blocks until the work completed and returns its outcome.
func (f *Future) Wait() error {
	return f.wait(-1)
}

// WaitTimeout waits at most timeout. ErrTimedOut leaves the Future pending;
// it can be waited on again.
func (f *Future) WaitTimeout(timeout time.Duration) error {
	if timeout < 0 {
		timeout = 0
	}
	return f.wait(timeout)
}

func (f *Future) wait(timeout time.Duration) error {
	fence, ok := f.acquireFence()
	if !ok {
		<-f.finished
		return f.err
	}
	err := fence.Wait(timeout)
	f.releaseFence()
	switch {
	case errors.Is(err, hal.ErrTimeout):
		return errors.Wrapf(ErrTimedOut, "after %v", timeout)
	case err != nil:
		err = f.Device.markLost(err)
	}
	return f.resolve(err)
}

// Done reports whether the work completed, resolving the Future if so. It
// never waits for device work. A chained Future reports done only after
// every predecessor does.
func (f *Future) Done() bool {
	select {
	case <-f.finished:
		return true
	default:
	}
	if f.prev != nil && !f.prev.Done() && f.Device.Lost() == nil {
		return false
	}
	fence, ok := f.acquireFence()
	if !ok {
		// another goroutine is resolving f
		return false
	}
	signaled, err := fence.Status()
	f.releaseFence()
	if err != nil {
		f.resolve(f.Device.markLost(err))
		return true
	}
	if !signaled {
		return false
	}
	f.resolve(nil)
	return true
}

// acquireFence hands out the fence for one host call, or reports false
// once resolution started.
func (f *Future) acquireFence() (hal.Fence, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolving {
		return nil, false
	}
	f.waiters++
	return f.fence, true
}

func (f *Future) releaseFence() {
	f.mu.Lock()
	f.waiters--
	last := f.resolving && f.waiters == 0 && !f.fenceGone
	if last {
		f.fenceGone = true
	}
	f.mu.Unlock()
	if last {
		f.fence.Destroy()
	}
}

// Err returns the outcome of a resolved Future, or nil while pending.
func (f *Future) Err() error {
	select {
	case <-f.finished:
		return f.err
	default:
		return nil
	}
}

// resolve releases everything f kept alive. The first call decides the
// outcome; later calls wait for it.
func (f *Future) resolve(err error) error {
	f.mu.Lock()
	if f.resolving {
		f.mu.Unlock()
		<-f.finished
		return f.err
	}
	f.resolving = true
	chained := f.chained
	// with waiters left, the last of them destroys the fence
	destroyFence := f.waiters == 0
	f.fenceGone = destroyFence
	f.mu.Unlock()

	if f.prev != nil {
		var perr error
		if err == nil {
			perr = f.prev.Wait()
		} else {
			perr = f.prev.resolve(err)
		}
		if err == nil && errors.Is(perr, ErrDeviceLost) {
			err = perr
		}
	}
	for _, l := range f.uses {
		l.done()
	}
	f.uses = nil
	if f.cb != nil {
		f.cb.finished(f)
	}
	if destroyFence {
		f.fence.Destroy()
	}
	if f.waitSem != nil {
		f.waitSem.Destroy()
	}
	// a successor owns the semaphore it waits on
	if !chained {
		f.signal.Destroy()
	}

	f.err = err
	close(f.finished)
	return err
}
