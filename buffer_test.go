package vkcore

import (
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celer/vkcore/hal/soft"
)

var triangle = []float32{-0.5, -0.5, 0, 0.5, -0.5, 0, 0, 0.5, 0}

func TestBufferFromSliceRoundTrip(t *testing.T) {
	env := defaultEnv(t)
	buf, err := BufferFromSlice(env.device.Arena, triangle, BufferUsageVertex, nil)
	require.NoError(t, err)
	defer buf.Release()

	assert.Equal(t, 9, buf.Len)
	assert.Equal(t, uint64(36), buf.Size())
	assert.Equal(t, HostVisibleSequential, buf.Kind())

	got, err := buf.ToSlice()
	require.NoError(t, err)
	assert.Equal(t, triangle, got)
}

func TestBufferFromFunc(t *testing.T) {
	env := defaultEnv(t)
	buf, err := BufferFromFunc(env.device.Arena, 1000, func(i int) uint32 { return uint32(i * i) }, BufferUsageStorage, PreferHost)
	require.NoError(t, err)
	defer buf.Release()

	err = buf.Read(func(s []uint32) error {
		require.Len(t, s, 1000)
		for i, v := range s {
			if v != uint32(i*i) {
				return errors.Errorf("element %d is %d", i, v)
			}
		}
		return nil
	})
	assert.NoError(t, err)
}

func TestEmptyBuffer(t *testing.T) {
	env := defaultEnv(t)
	_, err := CreateBuffer[uint32](env.device.Arena, 0, BufferUsageStorage, PreferHost)
	assert.True(t, errors.Is(err, ErrEmptyBuffer))
	_, err = BufferFromSlice(env.device.Arena, []float32{}, BufferUsageVertex, nil)
	assert.True(t, errors.Is(err, ErrEmptyBuffer))
	_, err = env.device.Arena.CreateBufferResource(0, BufferUsageStorage, nil)
	assert.True(t, errors.Is(err, ErrEmptyBuffer))
	_, err = CreateBuffer[struct{}](env.device.Arena, 4, BufferUsageStorage, PreferHost)
	assert.True(t, errors.Is(err, ErrEmptyBuffer))
}

func TestHostAccessDenied(t *testing.T) {
	env := defaultEnv(t)
	buf, err := CreateBuffer[uint32](env.device.Arena, 16, BufferUsageStorage, PreferDevice)
	require.NoError(t, err)
	require.True(t, buf.RequiresStaging())

	_, err = buf.ToSlice()
	assert.True(t, errors.Is(err, ErrHostAccessDenied), "got %v", err)
	err = buf.Write(func([]uint32) error { return nil })
	assert.True(t, errors.Is(err, ErrHostAccessDenied), "got %v", err)
	assert.Zero(t, env.device.Arena.ActiveMappings())
}

func TestMappingDroppedOnEveryExit(t *testing.T) {
	env := defaultEnv(t)
	buf, err := CreateBuffer[uint32](env.device.Arena, 16, BufferUsageStorage, PreferHost)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = buf.Write(func(s []uint32) error {
		assert.Equal(t, 1, env.device.Arena.ActiveMappings())
		return boom
	})
	assert.Equal(t, boom, err)
	assert.Zero(t, env.device.Arena.ActiveMappings())

	assert.Panics(t, func() {
		_ = buf.Read(func([]uint32) error { panic("reader failed") })
	})
	assert.Zero(t, env.device.Arena.ActiveMappings())
	assert.False(t, buf.core.alloc.Memory.IsMapped())
}

func TestBufferRelease(t *testing.T) {
	env := defaultEnv(t)
	buf, err := BufferFromSlice(env.device.Arena, []uint32{1, 2, 3}, BufferUsageStorage, PreferHost)
	require.NoError(t, err)
	clone := buf.Clone()

	require.NoError(t, buf.Release())
	assert.True(t, buf.Released())
	assert.Equal(t, ErrResourceReleased, buf.Release())
	_, err = buf.ToSlice()
	assert.Equal(t, ErrResourceReleased, err)

	got, err := clone.ToSlice()
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3}, got)
	assert.Equal(t, 1, env.device.Arena.Stats().Allocations)

	require.NoError(t, clone.Release())
	assert.Zero(t, env.device.Arena.Stats().Allocations)
}

func TestStagedUploadAndReadback(t *testing.T) {
	env := defaultEnv(t)
	arena := env.device.Arena

	dev, err := CreateBuffer[uint32](arena, 64, BufferUsageStorage|BufferUsageTransferDst|BufferUsageTransferSrc, Prefer(DeviceLocal))
	require.NoError(t, err)
	defer dev.Release()
	require.NoError(t, dev.AllocateStagingResource())
	require.NotNil(t, dev.StagingResource)

	staging := &Buffer[uint32]{BufferResource: dev.StagingResource, Len: dev.Len}
	require.NoError(t, staging.Write(func(s []uint32) error {
		for i := range s {
			s[i] = uint32(100 + i)
		}
		return nil
	}))

	readback, err := CreateBuffer[uint32](arena, 64, BufferUsageTransferDst, PreferHost)
	require.NoError(t, err)
	defer readback.Release()

	cb := recordBuilt(t, env.commandBuffer(t, OneTimeSubmit), func(cb *CommandBuffer) {
		require.NoError(t, cb.CopyBufferFromStagingResource(dev))
		require.NoError(t, cb.CopyBuffer(dev, readback))
	})
	require.NoError(t, env.queue.SubmitWait(cb))

	got, err := readback.ToSlice()
	require.NoError(t, err)
	for i, v := range got {
		require.Equal(t, uint32(100+i), v)
	}

	dev.FreeStagingResource()
	assert.Nil(t, dev.StagingResource)

	host, err := CreateBuffer[uint32](arena, 4, BufferUsageStorage, PreferHost)
	require.NoError(t, err)
	assert.Error(t, host.AllocateStagingResource())
}

func TestMapCopyUnmap(t *testing.T) {
	gate := make(chan struct{})
	env := gatedEnv(t, gate)
	buf, err := CreateBuffer[uint32](env.device.Arena, 4, BufferUsageStorage, PreferHost)
	require.NoError(t, err)
	r := buf.resource()

	require.NoError(t, r.MapCopyUnmap(4, []byte{1, 0, 0, 0, 2, 0, 0, 0}))
	got, err := buf.ToSlice()
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2, 0}, got)
	assert.Zero(t, env.device.Arena.ActiveMappings())

	for _, offset := range []uint64{12, 16, math.MaxUint64 - 3} {
		err = r.MapCopyUnmap(offset, make([]byte, 8))
		assert.True(t, errors.Is(err, ErrOutOfRange), "offset %d: %v", offset, err)
	}

	f, err := env.queue.Submit(computeJob(t, env, "gate", buf, OneTimeSubmit), nil)
	require.NoError(t, err)
	assert.Equal(t, ErrResourceInUse, r.MapCopyUnmap(0, []byte{9}))
	close(gate)
	require.NoError(t, f.Wait())
	require.NoError(t, r.MapCopyUnmap(0, []byte{9}))
	got, err = buf.ToSlice()
	require.NoError(t, err)
	assert.Equal(t, []uint32{9, 7, 7, 7}, got)
}

func gatedEnv(t *testing.T, gate chan struct{}) *testEnv {
	return newTestEnv(t, soft.Options{}, gatedPrograms(gate))
}

// gatedPrograms adds "gate", which blocks until gate is closed and then
// writes 7 to every element.
func gatedPrograms(gate chan struct{}) func(b *soft.Backend) {
	return func(b *soft.Backend) {
		registerPrograms(b)
		b.Register("gate", soft.Program{Compute: func(inv *soft.Invocation) {
			<-gate
			data := inv.Uint32s(0, 0)
			if i := inv.GlobalIndex(); i < len(data) {
				data[i] = 7
			}
		}})
	}
}

func TestHostAccessWhileInFlight(t *testing.T) {
	gate := make(chan struct{})
	env := gatedEnv(t, gate)

	buf, err := CreateBuffer[uint32](env.device.Arena, 4, BufferUsageStorage, PreferHost)
	require.NoError(t, err)
	p := computePipeline(t, env.device, "gate")
	set, err := p.AllocateSet(0, BindBuffer(0, buf))
	require.NoError(t, err)

	cb := recordBuilt(t, env.commandBuffer(t, OneTimeSubmit), func(cb *CommandBuffer) {
		require.NoError(t, cb.BindPipeline(p))
		require.NoError(t, cb.BindDescriptorSets(0, set))
		require.NoError(t, cb.Dispatch(1, 1, 1))
	})
	f, err := env.queue.Submit(cb, nil)
	require.NoError(t, err)

	assert.True(t, buf.InUse())
	_, err = buf.ToSlice()
	assert.Equal(t, ErrResourceInUse, err)
	assert.False(t, f.Done())

	// releasing every handle defers destruction to the future
	before := env.device.Arena.Stats().Allocations
	require.NoError(t, set.Release())
	clone := buf.Clone()
	require.NoError(t, buf.Release())
	require.NoError(t, clone.Release())
	assert.Equal(t, before, env.device.Arena.Stats().Allocations)

	close(gate)
	require.NoError(t, f.Wait())
	assert.False(t, cb.busy())
	// the recorded commands still reference the buffer
	assert.Equal(t, before, env.device.Arena.Stats().Allocations)
	env.pool.FreeCommandBuffer(cb)
	assert.Equal(t, before-1, env.device.Arena.Stats().Allocations)
}

func TestHostAccessAfterCompletion(t *testing.T) {
	gate := make(chan struct{})
	close(gate)
	env := gatedEnv(t, gate)

	buf, err := CreateBuffer[uint32](env.device.Arena, 4, BufferUsageStorage, PreferHost)
	require.NoError(t, err)
	p := computePipeline(t, env.device, "gate")
	set, err := p.AllocateSet(0, BindBuffer(0, buf))
	require.NoError(t, err)
	cb := recordBuilt(t, env.commandBuffer(t, OneTimeSubmit), func(cb *CommandBuffer) {
		require.NoError(t, cb.BindPipeline(p))
		require.NoError(t, cb.BindDescriptorSets(0, set))
		require.NoError(t, cb.Dispatch(1, 1, 1))
	})
	f, err := env.queue.Submit(cb, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ok, _ := f.fence.Status()
		return ok
	}, 5*time.Second, time.Millisecond)

	// host access reaps finished work itself
	got, err := buf.ToSlice()
	require.NoError(t, err)
	assert.Equal(t, []uint32{7, 7, 7, 7}, got)
	assert.True(t, f.Done())
}
