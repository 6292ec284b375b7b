package vkcore

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checker(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), B: 200, A: 255}
			if (x+y)%2 == 0 {
				c.B = 10
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestUploadAndReadImage(t *testing.T) {
	env := defaultEnv(t)
	src := checker(8, 5)

	img, err := env.queue.UploadImage(src, ImageUsageSampled|ImageUsageTransferSrc)
	require.NoError(t, err)
	defer img.Release()
	assert.Equal(t, Extent2D(8, 5), img.Extent())
	assert.Equal(t, FormatR8G8B8A8Unorm, img.Format())

	got, err := env.queue.ReadImage(img)
	require.NoError(t, err)
	assert.Equal(t, src.Pix, got.Pix)
	assert.Zero(t, env.device.Arena.ActiveMappings())
}

func TestUploadImageFromOffsetBounds(t *testing.T) {
	env := defaultEnv(t)
	sub := checker(8, 8).SubImage(image.Rect(2, 2, 6, 5))
	img, err := env.queue.UploadImage(sub, ImageUsageTransferSrc)
	require.NoError(t, err)
	defer img.Release()
	assert.Equal(t, Extent2D(4, 3), img.Extent())

	got, err := env.queue.ReadImage(img)
	require.NoError(t, err)
	assert.Equal(t, sub.At(2, 2), got.At(0, 0))
}

func TestLoadTexture(t *testing.T) {
	env := defaultEnv(t)
	path := filepath.Join(t.TempDir(), "checker.png")
	require.NoError(t, imaging.Save(checker(4, 4), path))

	img, err := env.queue.LoadTexture(path, ImageUsageSampled|ImageUsageTransferSrc)
	require.NoError(t, err)
	defer img.Release()
	got, err := env.queue.ReadImage(img)
	require.NoError(t, err)
	assert.Equal(t, checker(4, 4).Pix, got.Pix)

	_, err = env.queue.LoadTexture(filepath.Join(t.TempDir(), "missing.png"), ImageUsageSampled)
	assert.Error(t, err)
}

func TestReadImageRejects(t *testing.T) {
	env := defaultEnv(t)
	img, err := env.device.Arena.CreateImage(ImageCreateInfo{
		Format: FormatR32G32B32A32Sfloat,
		Extent: Extent2D(2, 2),
		Usage:  ImageUsageTransferSrc,
	})
	require.NoError(t, err)
	_, err = env.queue.ReadImage(img)
	assert.True(t, errors.Is(err, ErrIncompatibleUsage), "got %v", err)

	require.NoError(t, img.Release())
	_, err = env.queue.ReadImage(img)
	assert.True(t, errors.Is(err, ErrResourceReleased), "got %v", err)

	_, err = env.queue.UploadImage(image.NewNRGBA(image.Rect(0, 0, 0, 0)), ImageUsageSampled)
	assert.True(t, errors.Is(err, ErrInvalidExtent), "got %v", err)
}
