package vkcore

import (
	"github.com/pkg/errors"

	"github.com/celer/vkcore/hal"
)

// FramebufferConfig binds views to the attachments of a render pass, in
// attachment order. Width and Height default to the first view's extent.
type FramebufferConfig struct {
	RenderPass  *RenderPass
	Attachments []*ImageView
	Width       uint32
	Height      uint32
}

type Framebuffer struct {
	handle
	Device     *Device
	HAL        hal.Framebuffer
	RenderPass *RenderPass
	Width      uint32
	Height     uint32
}

// CreateFramebuffer fails with ErrFramebufferMismatch unless every view
// matches its attachment's format and the framebuffer extent exactly.
func (d *Device) CreateFramebuffer(cfg FramebufferConfig) (*Framebuffer, error) {
	rp := cfg.RenderPass
	if rp == nil {
		return nil, errors.Wrap(ErrFramebufferMismatch, "no render pass")
	}
	if err := d.owns(rp.Device); err != nil {
		return nil, err
	}
	if len(cfg.Attachments) != len(rp.Config.Attachments) {
		return nil, errors.Wrapf(ErrFramebufferMismatch, "%d views for %d attachments", len(cfg.Attachments), len(rp.Config.Attachments))
	}
	if cfg.Width == 0 && cfg.Height == 0 && len(cfg.Attachments) > 0 && cfg.Attachments[0] != nil {
		e := cfg.Attachments[0].Extent()
		cfg.Width, cfg.Height = e.Width, e.Height
	}

	hv := make([]hal.ImageView, len(cfg.Attachments))
	deps := []*lifetime{rp.life}
	for i, v := range cfg.Attachments {
		if v == nil {
			return nil, errors.Wrapf(ErrFramebufferMismatch, "attachment %d unbound", i)
		}
		if err := v.check(); err != nil {
			return nil, err
		}
		if err := d.owns(v.Device()); err != nil {
			return nil, err
		}
		want := rp.Config.Attachments[i].Format
		if v.Format() != want {
			return nil, errors.Wrapf(ErrFramebufferMismatch, "attachment %d: view format %v, render pass wants %v", i, v.Format(), want)
		}
		if e := v.Extent(); e.Width != cfg.Width || e.Height != cfg.Height {
			return nil, errors.Wrapf(ErrFramebufferMismatch, "attachment %d: view is %dx%d, framebuffer %dx%d", i, e.Width, e.Height, cfg.Width, cfg.Height)
		}
		usage := ImageUsageColorAttachment
		if want.IsDepth() {
			usage = ImageUsageDepthStencilAttachment
		}
		if v.Usage()&usage == 0 {
			return nil, errors.Wrapf(ErrFramebufferMismatch, "attachment %d: image lacks attachment usage", i)
		}
		hv[i] = v.core.hal
		deps = append(deps, v.core.life)
	}

	hf, err := d.HAL.CreateFramebuffer(&hal.FramebufferDesc{
		RenderPass:  rp.HAL,
		Attachments: hv,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Layers:      1,
	})
	if err != nil {
		return nil, errors.Wrap(translate(err, ErrFramebufferMismatch), "create framebuffer")
	}
	return &Framebuffer{
		handle:     newHandle(newLifetime(hf.Destroy, deps...)),
		Device:     d,
		HAL:        hf,
		RenderPass: rp,
		Width:      cfg.Width,
		Height:     cfg.Height,
	}, nil
}
