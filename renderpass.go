package vkcore

import (
	"github.com/pkg/errors"

	"github.com/celer/vkcore/hal"
)

type (
	LoadOp  = hal.LoadOp
	StoreOp = hal.StoreOp
)

const (
	LoadOpLoad      = hal.LoadOpLoad
	LoadOpClear     = hal.LoadOpClear
	LoadOpDontCare  = hal.LoadOpDontCare
	StoreOpStore    = hal.StoreOpStore
	StoreOpDontCare = hal.StoreOpDontCare
)

// AttachmentConfig declares one render pass attachment. Samples defaults
// to 1.
type AttachmentConfig struct {
	Format  Format
	Samples int
	Load    LoadOp
	Store   StoreOp
}

// SubpassConfig references attachments by index.
type SubpassConfig struct {
	ColorAttachments []int
	UseDepth         bool
	DepthAttachment  int
}

type RenderPassConfig struct {
	Attachments []AttachmentConfig
	// Subpasses defaults to one subpass using every color attachment and
	// the first depth attachment.
	Subpasses []SubpassConfig
}

type RenderPass struct {
	handle
	Device *Device
	HAL    hal.RenderPass
	Config RenderPassConfig
}

// CreateRenderPass validates cfg and creates the render pass.
func (d *Device) CreateRenderPass(cfg RenderPassConfig) (*RenderPass, error) {
	if len(cfg.Attachments) == 0 {
		return nil, errors.Wrap(ErrInvalidRenderPass, "no attachments")
	}
	cfg.Attachments = append([]AttachmentConfig(nil), cfg.Attachments...)
	for i := range cfg.Attachments {
		a := &cfg.Attachments[i]
		if !a.Format.Valid() {
			return nil, errors.Wrapf(ErrInvalidRenderPass, "attachment %d has format %v", i, a.Format)
		}
		if a.Samples == 0 {
			a.Samples = 1
		}
	}
	if len(cfg.Subpasses) == 0 {
		var sp SubpassConfig
		for i, a := range cfg.Attachments {
			switch {
			case !a.Format.IsDepth():
				sp.ColorAttachments = append(sp.ColorAttachments, i)
			case !sp.UseDepth:
				sp.UseDepth, sp.DepthAttachment = true, i
			}
		}
		cfg.Subpasses = []SubpassConfig{sp}
	}

	desc := hal.RenderPassDesc{}
	for _, a := range cfg.Attachments {
		desc.Attachments = append(desc.Attachments, hal.AttachmentDesc{Format: a.Format, Samples: a.Samples, Load: a.Load, Store: a.Store})
	}
	for si, sp := range cfg.Subpasses {
		if len(sp.ColorAttachments) > d.Limits().MaxColorAttachments {
			return nil, errors.Wrapf(ErrInvalidRenderPass, "subpass %d uses %d color attachments", si, len(sp.ColorAttachments))
		}
		hs := hal.SubpassDesc{ColorAttachments: append([]int(nil), sp.ColorAttachments...), DepthAttachment: -1}
		for _, c := range sp.ColorAttachments {
			if c < 0 || c >= len(cfg.Attachments) || cfg.Attachments[c].Format.IsDepth() {
				return nil, errors.Wrapf(ErrInvalidRenderPass, "subpass %d color attachment %d", si, c)
			}
		}
		if sp.UseDepth {
			if sp.DepthAttachment < 0 || sp.DepthAttachment >= len(cfg.Attachments) || !cfg.Attachments[sp.DepthAttachment].Format.IsDepth() {
				return nil, errors.Wrapf(ErrInvalidRenderPass, "subpass %d depth attachment %d", si, sp.DepthAttachment)
			}
			hs.DepthAttachment = sp.DepthAttachment
		}
		desc.Subpasses = append(desc.Subpasses, hs)
	}

	hr, err := d.HAL.CreateRenderPass(&desc)
	if err != nil {
		return nil, errors.Wrap(translate(err, ErrInvalidRenderPass), "create render pass")
	}
	return &RenderPass{handle: newHandle(newLifetime(hr.Destroy)), Device: d, HAL: hr, Config: cfg}, nil
}

// compatible reports whether a pipeline built for rp can be used inside o.
func (rp *RenderPass) compatible(o *RenderPass) bool {
	if rp == o {
		return true
	}
	if len(rp.Config.Attachments) != len(o.Config.Attachments) || len(rp.Config.Subpasses) != len(o.Config.Subpasses) {
		return false
	}
	for i, a := range rp.Config.Attachments {
		b := o.Config.Attachments[i]
		if a.Format != b.Format || a.Samples != b.Samples {
			return false
		}
	}
	for i, s := range rp.Config.Subpasses {
		t := o.Config.Subpasses[i]
		if s.UseDepth != t.UseDepth || (s.UseDepth && s.DepthAttachment != t.DepthAttachment) || len(s.ColorAttachments) != len(t.ColorAttachments) {
			return false
		}
		for j := range s.ColorAttachments {
			if s.ColorAttachments[j] != t.ColorAttachments[j] {
				return false
			}
		}
	}
	return true
}
