package vkcore

import (
	"github.com/pkg/errors"

	"github.com/celer/vkcore/hal"
)

type viewCore struct {
	image  *imageCore
	hal    hal.ImageView
	format Format
	life   *lifetime
}

// ImageView is a typed accessor to an Image. The image stays alive while
// any view of it does.
type ImageView struct {
	handle
	core *viewCore
}

// CreateView creates a view reinterpreting the image as format, which must
// have the same texel size.
func (i *Image) CreateView(format Format) (*ImageView, error) {
	if err := i.check(); err != nil {
		return nil, err
	}
	if !format.Valid() || format.Size() != i.core.info.Format.Size() || format.IsDepth() != i.core.info.Format.IsDepth() {
		return nil, errors.Wrapf(ErrIncompatibleUsage, "view format %v on %v image", format, i.core.info.Format)
	}
	hv, err := i.core.device.HAL.CreateImageView(i.core.hal, &hal.ImageViewDesc{Format: format})
	if err != nil {
		return nil, errors.Wrap(translate(err, ErrOutOfMemory), "create image view")
	}
	core := &viewCore{image: i.core, hal: hv, format: format}
	core.life = newLifetime(hv.Destroy, i.core.life)
	return &ImageView{handle: newHandle(core.life), core: core}, nil
}

func (v *ImageView) Device() *Device { return v.core.image.device }

func (v *ImageView) Format() Format { return v.core.format }

func (v *ImageView) Extent() Extent3D { return v.core.image.info.Extent }

// Usage is the usage of the viewed image.
func (v *ImageView) Usage() ImageUsage { return v.core.image.info.Usage }

// Clone returns another handle to the same view.
func (v *ImageView) Clone() *ImageView {
	return &ImageView{handle: v.handle.clone(), core: v.core}
}
