package vkcore

import "github.com/celer/vkcore/hal"

// Every submission signals its own semaphore. When another submission is
// chained after it, the successor waits on that semaphore and takes
// ownership of it; otherwise the Future destroys it on resolution.

// chain reserves f as the predecessor of a new submission and returns the
// semaphore that submission must wait on, or nil when f already resolved.
func (f *Future) chain() (hal.Semaphore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolving || f.signal == nil {
		return nil, nil
	}
	if f.chained {
		return nil, ErrFutureChained
	}
	f.chained = true
	return f.signal, nil
}

// unchain undoes chain after the successor failed to submit.
func (f *Future) unchain(sem hal.Semaphore) {
	if sem == nil {
		return
	}
	f.mu.Lock()
	f.chained = false
	// a resolution that started meanwhile left the semaphore to us
	orphaned := f.resolving
	f.mu.Unlock()
	if orphaned {
		sem.Destroy()
	}
}
