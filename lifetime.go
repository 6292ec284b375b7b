package vkcore

import (
	"sync"
	"sync/atomic"
)

// lifetime counts the handles and in-flight submissions referencing one
// device object. The object is destroyed when both counts reach zero.
// Dependencies are retained for as long as the object lives, and every
// submission that uses the object also pins its dependencies.
type lifetime struct {
	mu        sync.Mutex
	handles   int
	inflight  int
	destroyed bool
	destroy   func()
	deps      []*lifetime
}

func newLifetime(destroy func(), deps ...*lifetime) *lifetime {
	for _, d := range deps {
		d.retain()
	}
	return &lifetime{handles: 1, destroy: destroy, deps: deps}
}

func (l *lifetime) retain() {
	l.mu.Lock()
	l.handles++
	l.mu.Unlock()
}

func (l *lifetime) release() {
	l.mu.Lock()
	l.handles--
	l.mu.Unlock()
	l.maybeDestroy()
}

// acquire pins l and its dependencies for a pending submission.
func (l *lifetime) acquire() {
	l.mu.Lock()
	l.inflight++
	l.mu.Unlock()
	for _, d := range l.deps {
		d.acquire()
	}
}

func (l *lifetime) done() {
	for _, d := range l.deps {
		d.done()
	}
	l.mu.Lock()
	l.inflight--
	l.mu.Unlock()
	l.maybeDestroy()
}

func (l *lifetime) busy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inflight > 0
}

func (l *lifetime) alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.destroyed
}

func (l *lifetime) maybeDestroy() {
	l.mu.Lock()
	if l.destroyed || l.handles > 0 || l.inflight > 0 {
		l.mu.Unlock()
		return
	}
	l.destroyed = true
	l.mu.Unlock()

	if l.destroy != nil {
		l.destroy()
	}
	for _, d := range l.deps {
		d.release()
	}
}

// handle is one owner of a lifetime. Clones share the lifetime but release
// independently.
type handle struct {
	life     *lifetime
	released atomic.Bool
}

func newHandle(l *lifetime) handle {
	return handle{life: l}
}

func (h *handle) clone() handle {
	h.life.retain()
	return handle{life: h.life}
}

// Release drops this handle. The object is destroyed once no handle and no
// pending Future reference it.
func (h *handle) Release() error {
	if !h.released.CompareAndSwap(false, true) {
		return ErrResourceReleased
	}
	h.life.release()
	return nil
}

// Released reports whether Release was called on this handle.
func (h *handle) Released() bool {
	return h.released.Load()
}

func (h *handle) check() error {
	if h.released.Load() {
		return ErrResourceReleased
	}
	return nil
}

// InUse reports whether a pending submission still references the object.
func (h *handle) InUse() bool {
	return h.life.busy()
}
