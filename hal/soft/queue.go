package soft

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/celer/vkcore/hal"
)

type batch struct {
	submits []hal.Submission
	fence   *fence
}

// queue executes batches in submission order on its own goroutine.
type queue struct {
	dev    *device
	family int

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*batch
	busy    bool
	stopped bool
}

func newQueue(d *device, family int) *queue {
	q := &queue{dev: d, family: family}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *queue) Submit(submits []hal.Submission, f hal.Fence) error {
	if q.dev.isLost() {
		return q.dev.lostError()
	}
	lim := q.dev.adapter.limits.MaxComputeWorkGroupCount
	for _, s := range submits {
		for _, cb := range s.CommandBuffers {
			c, ok := cb.(*commandBuffer)
			if !ok {
				return hal.ErrInvalidHandle
			}
			c.mu.Lock()
			state, spent := c.state, c.oneTime && c.submitted
			dispatches := c.dispatches
			c.mu.Unlock()
			if state != cbExecutable || spent {
				return errors.Wrap(hal.ErrNotReady, "command buffer is not executable")
			}
			for _, d := range dispatches {
				if d[0] > lim[0] || d[1] > lim[1] || d[2] > lim[2] {
					return errors.Wrapf(hal.ErrLimitExceeded, "dispatch %v exceeds max work-group count %v", d, lim)
				}
			}
		}
		for _, sem := range append(append([]hal.Semaphore(nil), s.Wait...), s.Signal...) {
			if _, ok := sem.(*semaphore); !ok {
				return hal.ErrInvalidHandle
			}
		}
	}
	var fc *fence
	if f != nil {
		var ok bool
		if fc, ok = f.(*fence); !ok {
			return hal.ErrInvalidHandle
		}
	}
	for _, s := range submits {
		for _, cb := range s.CommandBuffers {
			c := cb.(*commandBuffer)
			c.mu.Lock()
			c.submitted = true
			c.mu.Unlock()
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return errors.Wrap(hal.ErrInvalidHandle, "queue destroyed")
	}
	q.pending = append(q.pending, &batch{submits: submits, fence: fc})
	q.cond.Broadcast()
	return nil
}

func (q *queue) run() {
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		b := q.pending[0]
		q.pending = q.pending[1:]
		q.busy = true
		q.mu.Unlock()

		q.execute(b)

		q.mu.Lock()
		q.busy = false
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

func (q *queue) execute(b *batch) {
	for _, s := range b.submits {
		for _, w := range s.Wait {
			select {
			case <-w.(*semaphore).ch:
			case <-q.dev.lost:
			}
		}
		if q.dev.isLost() {
			return
		}
		for _, cb := range s.CommandBuffers {
			if err := cb.(*commandBuffer).execute(q.dev); err != nil {
				q.dev.lose(err)
				return
			}
		}
		for _, sig := range s.Signal {
			sig.(*semaphore).signal()
		}
	}
	// work skipped or aborted by a device loss never signals
	if b.fence != nil {
		b.fence.signal()
	}
}

func (q *queue) WaitIdle() error {
	q.mu.Lock()
	for len(q.pending) > 0 || q.busy {
		q.cond.Wait()
	}
	q.mu.Unlock()
	if q.dev.isLost() {
		return q.dev.lostError()
	}
	return nil
}

func (q *queue) stop() {
	q.mu.Lock()
	q.stopped = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// fence is signalled by closing done; Reset swaps in a fresh channel.
// Waiting on a destroyed fence is an error, as it is under validation.
type fence struct {
	dev       *device
	mu        sync.Mutex
	done      chan struct{}
	signaled  bool
	destroyed bool
}

var errFenceDestroyed = errors.Wrap(hal.ErrInvalidHandle, "fence used after Destroy")

func (f *fence) signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.signaled {
		f.signaled = true
		close(f.done)
	}
}

func (f *fence) Wait(timeout time.Duration) error {
	f.mu.Lock()
	done, destroyed := f.done, f.destroyed
	f.mu.Unlock()
	if destroyed {
		return errFenceDestroyed
	}

	select {
	case <-done:
		return nil
	default:
	}
	var expired <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-done:
		return nil
	case <-f.dev.lost:
		return f.dev.lostError()
	case <-expired:
		return hal.ErrTimeout
	}
}

func (f *fence) Status() (bool, error) {
	f.mu.Lock()
	signaled, destroyed := f.signaled, f.destroyed
	f.mu.Unlock()
	if destroyed {
		return false, errFenceDestroyed
	}
	if signaled {
		return true, nil
	}
	if f.dev.isLost() {
		return false, f.dev.lostError()
	}
	return false, nil
}

func (f *fence) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed {
		return errFenceDestroyed
	}
	if f.signaled {
		f.signaled = false
		f.done = make(chan struct{})
	}
	return nil
}

func (f *fence) Destroy() {
	f.mu.Lock()
	f.destroyed = true
	f.mu.Unlock()
}

// semaphore is a binary semaphore: one signal satisfies one wait.
type semaphore struct {
	ch chan struct{}
}

func (s *semaphore) signal() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func (s *semaphore) Destroy() {}
