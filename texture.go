package vkcore

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// UploadImage creates a device-local RGBA8 image holding src. The texels
// are staged through a host-visible buffer and copied on q, which must
// support transfers; UploadImage waits for the copy. TransferDst is added
// to usage.
func (q *Queue) UploadImage(src image.Image, usage ImageUsage) (*Image, error) {
	pixels := imaging.Clone(src)
	b := pixels.Bounds()
	if b.Empty() {
		return nil, errors.Wrapf(ErrInvalidExtent, "%dx%d", b.Dx(), b.Dy())
	}
	arena := q.Device.Arena
	img, err := arena.CreateImage(ImageCreateInfo{
		Format: FormatR8G8B8A8Unorm,
		Extent: Extent2D(uint32(b.Dx()), uint32(b.Dy())),
		Usage:  usage | ImageUsageTransferDst,
	})
	if err != nil {
		return nil, err
	}
	staging, err := arena.CreateBufferResource(uint64(len(pixels.Pix)), BufferUsageTransferSrc, PreferUpload)
	if err != nil {
		_ = img.Release()
		return nil, err
	}
	defer staging.Release()
	if err := staging.MapCopyUnmap(0, pixels.Pix); err != nil {
		_ = img.Release()
		return nil, err
	}

	err = q.transfer(func(cb *CommandBuffer) error {
		return cb.CopyBufferToImage(staging, img)
	})
	if err != nil {
		_ = img.Release()
		return nil, err
	}
	return img, nil
}

// LoadTexture decodes an image file, honouring EXIF orientation, and
// uploads it with UploadImage.
func (q *Queue) LoadTexture(path string, usage ImageUsage) (*Image, error) {
	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "load texture %s", path)
	}
	return q.UploadImage(src, usage)
}

// ReadImage copies an RGBA8 or BGRA8 image back to the host. img needs
// TransferSrc usage.
func (q *Queue) ReadImage(img *Image) (*image.NRGBA, error) {
	if err := img.check(); err != nil {
		return nil, err
	}
	format := img.Format()
	if format != FormatR8G8B8A8Unorm && format != FormatB8G8R8A8Unorm {
		return nil, errors.Wrapf(ErrIncompatibleUsage, "read back of %v image", format)
	}
	readback, err := CreateBuffer[byte](q.Device.Arena, int(img.ByteSize()), BufferUsageTransferDst, PreferHost)
	if err != nil {
		return nil, err
	}
	defer readback.Release()
	err = q.transfer(func(cb *CommandBuffer) error {
		return cb.CopyImageToBuffer(img, readback)
	})
	if err != nil {
		return nil, err
	}

	e := img.Extent()
	out := image.NewNRGBA(image.Rect(0, 0, int(e.Width), int(e.Height)))
	err = readback.Read(func(px []byte) error {
		copy(out.Pix, px)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if format == FormatB8G8R8A8Unorm {
		for i := 0; i < len(out.Pix); i += 4 {
			out.Pix[i], out.Pix[i+2] = out.Pix[i+2], out.Pix[i]
		}
	}
	return out, nil
}

// transfer records one command buffer from a transient pool and waits for
// it on q.
func (q *Queue) transfer(record func(cb *CommandBuffer) error) error {
	pool, err := q.CreateCommandPool()
	if err != nil {
		return err
	}
	defer pool.Destroy()
	cb, err := pool.AllocateCommandBuffer(OneTimeSubmit)
	if err != nil {
		return err
	}
	if err := cb.Begin(); err != nil {
		return err
	}
	if err := record(cb); err != nil {
		return err
	}
	if err := cb.Build(); err != nil {
		return err
	}
	return q.SubmitWait(cb)
}
