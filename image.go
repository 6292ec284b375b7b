package vkcore

import (
	"github.com/pkg/errors"

	"github.com/celer/vkcore/hal"
)

type ImageUsage = hal.ImageUsage

const (
	ImageUsageTransferSrc            = hal.ImageUsageTransferSrc
	ImageUsageTransferDst            = hal.ImageUsageTransferDst
	ImageUsageSampled                = hal.ImageUsageSampled
	ImageUsageStorage                = hal.ImageUsageStorage
	ImageUsageColorAttachment        = hal.ImageUsageColorAttachment
	ImageUsageDepthStencilAttachment = hal.ImageUsageDepthStencilAttachment
)

// ImageCreateInfo describes an image. Preference defaults to DeviceLocal.
type ImageCreateInfo struct {
	Format     Format
	Extent     Extent3D
	Usage      ImageUsage
	Preference MemoryPreference
}

type imageCore struct {
	device *Device
	hal    hal.Image
	info   ImageCreateInfo
	alloc  *Allocation
	life   *lifetime
}

// Image is one handle to a device image.
type Image struct {
	handle
	core *imageCore
}

// CreateImage allocates an image. It fails with ErrInvalidExtent when a
// dimension is zero or exceeds the device limit.
func (a *Arena) CreateImage(info ImageCreateInfo) (*Image, error) {
	e := info.Extent
	if e.Width == 0 || e.Height == 0 || e.Depth == 0 {
		return nil, errors.Wrapf(ErrInvalidExtent, "%dx%dx%d", e.Width, e.Height, e.Depth)
	}
	if limit := a.Device.Limits().MaxImageDimension2D; e.Width > limit || e.Height > limit {
		return nil, errors.Wrapf(ErrInvalidExtent, "%dx%d exceeds %d", e.Width, e.Height, limit)
	}
	if !info.Format.Valid() {
		return nil, errors.Wrapf(ErrIncompatibleUsage, "format %v", info.Format)
	}
	if info.Format.IsDepth() && info.Usage&ImageUsageColorAttachment != 0 {
		return nil, errors.Wrapf(ErrIncompatibleUsage, "depth format %v used as color attachment", info.Format)
	}
	if !info.Format.IsDepth() && info.Usage&ImageUsageDepthStencilAttachment != 0 {
		return nil, errors.Wrapf(ErrIncompatibleUsage, "color format %v used as depth attachment", info.Format)
	}
	if info.Preference == nil {
		info.Preference = Prefer(DeviceLocal)
	}
	if err := a.Device.checkLost(); err != nil {
		return nil, err
	}

	hi, err := a.Device.HAL.CreateImage(&hal.ImageDesc{Format: info.Format, Extent: e, Usage: info.Usage})
	if err != nil {
		return nil, errors.Wrap(translate(err, ErrOutOfMemory), "create image")
	}
	alloc, err := a.Allocate(hi.Requirements(), ImageResourceUsage(info.Usage), info.Preference)
	if err != nil {
		hi.Destroy()
		return nil, err
	}
	if err := hi.Bind(alloc.Memory.Memory, alloc.Offset()); err != nil {
		hi.Destroy()
		alloc.Free()
		return nil, errors.Wrap(translate(err, ErrOutOfMemory), "bind image memory")
	}
	core := &imageCore{device: a.Device, hal: hi, info: info, alloc: alloc}
	core.life = newLifetime(func() {
		hi.Destroy()
		alloc.Free()
	})
	a.log.Debug("image created", "format", info.Format, "width", e.Width, "height", e.Height)
	return &Image{handle: newHandle(core.life), core: core}, nil
}

func (i *Image) Device() *Device { return i.core.device }

func (i *Image) Format() Format { return i.core.info.Format }

func (i *Image) Extent() Extent3D { return i.core.info.Extent }

func (i *Image) Usage() ImageUsage { return i.core.info.Usage }

// ByteSize is the size of the image's texels when tightly packed.
func (i *Image) ByteSize() uint64 {
	e := i.core.info.Extent
	return uint64(e.Width) * uint64(e.Height) * uint64(e.Depth) * uint64(i.core.info.Format.Size())
}

// Clone returns another handle to the same image.
func (i *Image) Clone() *Image {
	return &Image{handle: i.handle.clone(), core: i.core}
}

// View creates a view with the image's own format.
func (i *Image) View() (*ImageView, error) {
	return i.CreateView(i.core.info.Format)
}
