package vkcore

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celer/vkcore/hal"
	"github.com/celer/vkcore/hal/soft"
)

func TestWaitForFutures(t *testing.T) {
	gate := make(chan struct{})
	env := gatedEnv(t, gate)
	d := env.device
	buf := filled(t, env, 4, func(int) uint32 { return 0 })

	slow, err := env.queue.Submit(computeJob(t, env, "gate", buf, OneTimeSubmit), nil)
	require.NoError(t, err)
	done := Now(d)

	assert.NoError(t, d.WaitForFutures(false, time.Second, slow, done), "any: the resolved future wins")
	err = d.WaitForFutures(false, 5*time.Millisecond, slow)
	assert.True(t, errors.Is(err, ErrTimedOut), "got %v", err)
	err = d.WaitForFutures(true, 5*time.Millisecond, done, slow)
	assert.True(t, errors.Is(err, ErrTimedOut), "got %v", err)
	assert.False(t, slow.Done())

	close(gate)
	require.NoError(t, d.WaitForFutures(true, -1, done, slow))
	assert.True(t, slow.Done())
	assert.NoError(t, d.WaitForFutures(true, 0))
}

func TestWaitForFuturesRejectsForeignDevice(t *testing.T) {
	a, b := defaultEnv(t), defaultEnv(t)
	err := a.device.WaitForFutures(true, time.Second, Now(b.device))
	assert.True(t, errors.Is(err, ErrWrongDevice), "got %v", err)
	err = a.device.WaitForFutures(true, time.Second, nil)
	assert.Error(t, err)
}

func TestWaitForFuturesReportsDeviceLoss(t *testing.T) {
	env := defaultEnv(t)
	buf := filled(t, env, 64, func(int) uint32 { return 0 })
	f, err := env.queue.Submit(computeJob(t, env, "boom", buf, OneTimeSubmit), nil)
	require.NoError(t, err)
	err = env.device.WaitForFutures(false, -1, f)
	assert.True(t, errors.Is(err, ErrDeviceLost), "got %v", err)
}

// fenceAudit counts host calls on fences that were already destroyed.
type fenceAudit struct {
	created   atomic.Int64
	destroyed atomic.Int64
	late      atomic.Int64
}

func (a *fenceAudit) wrap(b hal.Backend) hal.Backend { return auditBackend{b, a} }

type auditBackend struct {
	hal.Backend
	audit *fenceAudit
}

func (b auditBackend) Adapters() ([]hal.Adapter, error) {
	adapters, err := b.Backend.Adapters()
	for i, a := range adapters {
		adapters[i] = auditAdapter{a, b.audit}
	}
	return adapters, err
}

type auditAdapter struct {
	hal.Adapter
	audit *fenceAudit
}

func (a auditAdapter) Open(families []int) (hal.Device, error) {
	d, err := a.Adapter.Open(families)
	if err != nil {
		return nil, err
	}
	return auditDevice{d, a.audit}, nil
}

type auditDevice struct {
	hal.Device
	audit *fenceAudit
}

func (d auditDevice) Queue(family int) (hal.Queue, error) {
	q, err := d.Device.Queue(family)
	if err != nil {
		return nil, err
	}
	return auditQueue{q}, nil
}

func (d auditDevice) CreateFence(signaled bool) (hal.Fence, error) {
	f, err := d.Device.CreateFence(signaled)
	if err != nil {
		return nil, err
	}
	d.audit.created.Add(1)
	return &auditFence{Fence: f, audit: d.audit}, nil
}

type auditQueue struct{ hal.Queue }

func (q auditQueue) Submit(submits []hal.Submission, f hal.Fence) error {
	if af, ok := f.(*auditFence); ok {
		f = af.Fence
	}
	return q.Queue.Submit(submits, f)
}

type auditFence struct {
	hal.Fence
	audit     *fenceAudit
	destroyed atomic.Bool
}

func (f *auditFence) use() {
	if f.destroyed.Load() {
		f.audit.late.Add(1)
	}
}

func (f *auditFence) Wait(timeout time.Duration) error {
	f.use()
	return f.Fence.Wait(timeout)
}

func (f *auditFence) Status() (bool, error) {
	f.use()
	return f.Fence.Status()
}

func (f *auditFence) Destroy() {
	if !f.destroyed.Swap(true) {
		f.audit.destroyed.Add(1)
	}
	f.Fence.Destroy()
}

func TestConcurrentWaitersKeepFenceAlive(t *testing.T) {
	audit := &fenceAudit{}
	env := openTestEnv(t, soft.Options{}, registerPrograms, audit.wrap,
		DeviceSelection{Queues: []QueueFlags{QueueCompute}})
	buf := filled(t, env, 64, func(int) uint32 { return 0 })
	cb := computeJob(t, env, "increment", buf, MultipleSubmit)

	const rounds, waiters = 300, 3
	for round := 0; round < rounds; round++ {
		f, err := env.queue.Submit(cb, nil)
		require.NoError(t, err)
		var wg sync.WaitGroup
		for w := 0; w < waiters; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for !f.Done() {
					runtime.Gosched()
				}
				assert.NoError(t, f.Wait())
			}()
		}
		// host access resolves finished work on this goroutine too
		_ = buf.Read(func([]uint32) error { return nil })
		require.NoError(t, f.Wait())
		wg.Wait()
	}

	assert.Zero(t, audit.late.Load(), "fence calls after Destroy")
	assert.Equal(t, audit.created.Load(), audit.destroyed.Load())
	require.NoError(t, env.device.Lost())
	got, err := buf.ToSlice()
	require.NoError(t, err)
	assert.Equal(t, uint32(rounds), got[0])
}
