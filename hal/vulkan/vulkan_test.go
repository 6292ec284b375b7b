package vulkan_test

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/celer/vkcore"
	"github.com/celer/vkcore/hal/vulkan"
)

// These tests need a Vulkan loader and a device; set VKCORE_VULKAN=1 to run them.
func openDevice(t *testing.T) (*vkcore.Device, *vkcore.Queue, *vkcore.CommandPool) {
	t.Helper()
	if os.Getenv("VKCORE_VULKAN") == "" {
		t.Skip("VKCORE_VULKAN not set")
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b, err := vulkan.New(vulkan.Options{AppName: t.Name(), Validation: true, Logger: logger})
	require.NoError(t, err)
	inst, err := (&vkcore.App{Name: t.Name(), Backend: b, Logger: logger}).CreateInstance()
	require.NoError(t, err)
	dev, queues, err := inst.OpenDevice(vkcore.DeviceSelection{
		PhysicalDevice: vkcore.AnyPhysicalDevice,
		Queues:         []vkcore.QueueFlags{vkcore.QueueGraphics | vkcore.QueueCompute},
	})
	require.NoError(t, err)
	pool, err := queues[0].CreateCommandPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Destroy()
		dev.Destroy()
		b.Destroy()
	})
	return dev, queues[0], pool
}

func TestAdapters(t *testing.T) {
	dev, _, _ := openDevice(t)
	info := dev.PhysicalDevice.Adapter.Info()
	assert.NotEmpty(t, info.Name)
	assert.NotEmpty(t, dev.PhysicalDevice.QueueFamilies())
	assert.Greater(t, dev.Limits().MaxBoundDescriptorSets, 0)
}

func TestBufferCopy(t *testing.T) {
	dev, queue, pool := openDevice(t)
	src, err := vkcore.BufferFromFunc(dev.Arena, 1024, func(i int) uint32 { return uint32(i * 3) },
		vkcore.BufferUsageTransferSrc, vkcore.PreferUpload)
	require.NoError(t, err)
	mid, err := vkcore.CreateBuffer[uint32](dev.Arena, 1024, vkcore.BufferUsageTransferSrc|vkcore.BufferUsageTransferDst, vkcore.PreferDevice)
	require.NoError(t, err)
	dst, err := vkcore.CreateBuffer[uint32](dev.Arena, 1024, vkcore.BufferUsageTransferDst, vkcore.PreferHost)
	require.NoError(t, err)

	cb, err := pool.AllocateCommandBuffer(vkcore.OneTimeSubmit)
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.CopyBuffer(src, mid))
	require.NoError(t, cb.CopyBuffer(mid, dst))
	require.NoError(t, cb.Build())
	require.NoError(t, queue.SubmitWait(cb))

	got, err := dst.ToSlice()
	require.NoError(t, err)
	for i, v := range got {
		require.Equal(t, uint32(i*3), v)
	}
}

func TestClearImage(t *testing.T) {
	dev, queue, pool := openDevice(t)
	img, err := dev.Arena.CreateImage(vkcore.ImageCreateInfo{
		Format: vkcore.FormatR8G8B8A8Unorm,
		Extent: vkcore.Extent2D(8, 8),
		Usage:  vkcore.ImageUsageTransferSrc | vkcore.ImageUsageTransferDst,
	})
	require.NoError(t, err)
	defer img.Release()
	out, err := vkcore.CreateBuffer[byte](dev.Arena, int(img.ByteSize()), vkcore.BufferUsageTransferDst, vkcore.PreferHost)
	require.NoError(t, err)

	cb, err := pool.AllocateCommandBuffer(vkcore.OneTimeSubmit)
	require.NoError(t, err)
	require.NoError(t, cb.Begin())
	require.NoError(t, cb.ClearImage(img, vkcore.ClearColor{1, 0, 1, 1}))
	require.NoError(t, cb.CopyImageToBuffer(img, out))
	require.NoError(t, cb.Build())
	require.NoError(t, queue.SubmitWait(cb))

	got, err := out.ToSlice()
	require.NoError(t, err)
	assert.Equal(t, []byte{255, 0, 255, 255}, got[:4])
}
