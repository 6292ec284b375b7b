package vkcore

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateImageValidation(t *testing.T) {
	env := defaultEnv(t)
	arena := env.device.Arena

	tests := []struct {
		name string
		info ImageCreateInfo
		want error
	}{
		{"zero width", ImageCreateInfo{Format: FormatR8G8B8A8Unorm, Extent: Extent2D(0, 4), Usage: ImageUsageSampled}, ErrInvalidExtent},
		{"zero depth", ImageCreateInfo{Format: FormatR8G8B8A8Unorm, Extent: Extent3D{Width: 4, Height: 4}, Usage: ImageUsageSampled}, ErrInvalidExtent},
		{"over limit", ImageCreateInfo{Format: FormatR8G8B8A8Unorm, Extent: Extent2D(1<<14, 4), Usage: ImageUsageSampled}, ErrInvalidExtent},
		{"undefined format", ImageCreateInfo{Format: FormatUndefined, Extent: Extent2D(4, 4), Usage: ImageUsageSampled}, ErrIncompatibleUsage},
		{"depth as color", ImageCreateInfo{Format: FormatD32Sfloat, Extent: Extent2D(4, 4), Usage: ImageUsageColorAttachment}, ErrIncompatibleUsage},
		{"color as depth", ImageCreateInfo{Format: FormatR8G8B8A8Unorm, Extent: Extent2D(4, 4), Usage: ImageUsageDepthStencilAttachment}, ErrIncompatibleUsage},
		{"host memory", ImageCreateInfo{Format: FormatR8G8B8A8Unorm, Extent: Extent2D(4, 4), Usage: ImageUsageSampled, Preference: PreferHost}, ErrIncompatibleUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := arena.CreateImage(tt.info)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	img, err := arena.CreateImage(ImageCreateInfo{Format: FormatD32Sfloat, Extent: Extent2D(16, 8), Usage: ImageUsageDepthStencilAttachment})
	require.NoError(t, err)
	assert.Equal(t, uint64(16*8*4), img.ByteSize())
	require.NoError(t, img.Release())
}

func TestImageViews(t *testing.T) {
	env := defaultEnv(t)
	img, err := env.device.Arena.CreateImage(ImageCreateInfo{
		Format: FormatR8G8B8A8Unorm,
		Extent: Extent2D(4, 4),
		Usage:  ImageUsageSampled | ImageUsageStorage,
	})
	require.NoError(t, err)

	_, err = img.CreateView(FormatR32G32Sfloat)
	assert.True(t, errors.Is(err, ErrIncompatibleUsage))
	_, err = img.CreateView(FormatD32Sfloat)
	assert.True(t, errors.Is(err, ErrIncompatibleUsage))

	view, err := img.CreateView(FormatR8G8B8A8Uint)
	require.NoError(t, err)
	assert.Equal(t, FormatR8G8B8A8Uint, view.Format())
	assert.Equal(t, img.Usage(), view.Usage())

	// the view keeps the image alive
	require.NoError(t, img.Release())
	assert.True(t, img.core.life.alive())
	_, err = img.View()
	assert.Equal(t, ErrResourceReleased, err)

	require.NoError(t, view.Release())
	assert.False(t, img.core.life.alive())
}

func TestImageUploadClearAndReadback(t *testing.T) {
	env := defaultEnv(t)
	arena := env.device.Arena

	img, err := arena.CreateImage(ImageCreateInfo{
		Format: FormatR8G8B8A8Unorm,
		Extent: Extent2D(2, 2),
		Usage:  ImageUsageTransferSrc | ImageUsageTransferDst | ImageUsageSampled,
	})
	require.NoError(t, err)
	defer img.Release()

	texels := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	src, err := BufferFromSlice(arena, texels, BufferUsageTransferSrc, nil)
	require.NoError(t, err)
	dst, err := CreateBuffer[byte](arena, 16, BufferUsageTransferDst, PreferHost)
	require.NoError(t, err)

	cb := recordBuilt(t, env.commandBuffer(t, OneTimeSubmit), func(cb *CommandBuffer) {
		require.NoError(t, cb.CopyBufferToImage(src, img))
		require.NoError(t, cb.CopyImageToBuffer(img, dst))
	})
	require.NoError(t, env.queue.SubmitWait(cb))
	got, err := dst.ToSlice()
	require.NoError(t, err)
	assert.Equal(t, texels, got)

	cb = recordBuilt(t, env.commandBuffer(t, OneTimeSubmit), func(cb *CommandBuffer) {
		require.NoError(t, cb.ClearImage(img, ClearColor{0, 1, 0, 1}))
		require.NoError(t, cb.CopyImageToBuffer(img, dst))
	})
	require.NoError(t, env.queue.SubmitWait(cb))
	got, err = dst.ToSlice()
	require.NoError(t, err)
	for i := 0; i < len(got); i += 4 {
		assert.Equal(t, []byte{0, 255, 0, 255}, got[i:i+4])
	}
}

func TestImageCopyChecks(t *testing.T) {
	env := defaultEnv(t)
	arena := env.device.Arena
	img, err := arena.CreateImage(ImageCreateInfo{Format: FormatR8G8B8A8Unorm, Extent: Extent2D(4, 4), Usage: ImageUsageSampled})
	require.NoError(t, err)
	small, err := CreateBuffer[byte](arena, 8, BufferUsageTransferSrc, nil)
	require.NoError(t, err)

	cb := env.commandBuffer(t, OneTimeSubmit)
	require.NoError(t, cb.Begin())
	err = cb.CopyBufferToImage(small, img)
	assert.True(t, errors.Is(err, ErrIncompatibleUsage), "got %v", err)
	err = cb.ClearImage(img, ClearColor{})
	assert.True(t, errors.Is(err, ErrIncompatibleUsage), "got %v", err)

	dst, err := arena.CreateImage(ImageCreateInfo{Format: FormatR8G8B8A8Unorm, Extent: Extent2D(4, 4), Usage: ImageUsageTransferDst})
	require.NoError(t, err)
	err = cb.CopyBufferToImage(small, dst)
	assert.True(t, errors.Is(err, ErrInvalidRecordingState), "got %v", err)
	assert.Zero(t, cb.Len())
}
