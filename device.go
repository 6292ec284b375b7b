package vkcore

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/celer/vkcore/hal"
)

// AnyPhysicalDevice lets OpenDevice pick the first capable device instead of
// the first device.
const AnyPhysicalDevice = -1

// DeviceSelection says which device and queues OpenDevice claims.
type DeviceSelection struct {
	// Queues lists the capabilities wanted, one queue per entry. Defaults to
	// a single graphics queue.
	Queues []QueueFlags
	// PhysicalDevice is the adapter index, or AnyPhysicalDevice. The zero
	// value picks the first adapter.
	PhysicalDevice int
	// BlockSize overrides the arena block size.
	BlockSize uint64
}

// Device is an opened logical device. It owns the memory arena and the
// queues created with it.
type Device struct {
	Instance       *Instance
	PhysicalDevice *PhysicalDevice
	HAL            hal.Device
	Arena          *Arena
	Queues         []*Queue

	log *slog.Logger

	mu          sync.Mutex
	pending     []*Future
	lost        error
	destroyed   bool
	descriptors *DescriptorPool
}

// OpenDevice opens a logical device. Each requested capability is served by
// the first queue family whose flags include it; families shared by several
// requests yield one queue, returned once.
func (i *Instance) OpenDevice(sel DeviceSelection) (*Device, []*Queue, error) {
	if len(sel.Queues) == 0 {
		sel.Queues = []QueueFlags{QueueGraphics}
	}
	pds, err := i.PhysicalDevices()
	if err != nil {
		return nil, nil, err
	}
	if sel.PhysicalDevice != AnyPhysicalDevice {
		if sel.PhysicalDevice < 0 || sel.PhysicalDevice >= len(pds) {
			return nil, nil, errors.Wrapf(ErrNoCapableHardware, "physical device %d of %d", sel.PhysicalDevice, len(pds))
		}
		pds = pds[sel.PhysicalDevice : sel.PhysicalDevice+1]
	}

	for _, pd := range pds {
		families, ok := selectFamilies(pd, sel.Queues)
		if !ok {
			i.log.Debug("physical device lacks queue capabilities", "device", pd.DeviceName, "want", sel.Queues)
			continue
		}
		return i.open(pd, families, sel.BlockSize)
	}
	return nil, nil, errors.Wrapf(ErrNoCapableHardware, "queues %v", sel.Queues)
}

// selectFamilies maps each request to the first matching family, without
// duplicates.
func selectFamilies(pd *PhysicalDevice, want []QueueFlags) ([]*QueueFamily, bool) {
	var ret []*QueueFamily
	seen := map[int]bool{}
	for _, flags := range want {
		match := pd.QueueFamilies().FilterFlags(flags)
		if len(match) == 0 {
			return nil, false
		}
		if !seen[match[0].Index] {
			seen[match[0].Index] = true
			ret = append(ret, match[0])
		}
	}
	return ret, true
}

func (i *Instance) open(pd *PhysicalDevice, families []*QueueFamily, blockSize uint64) (*Device, []*Queue, error) {
	indices := make([]int, len(families))
	for n, f := range families {
		indices[n] = f.Index
	}
	hd, err := pd.Adapter.Open(indices)
	if err != nil {
		return nil, nil, errors.Wrapf(translate(err, ErrNoCapableHardware), "open %s", pd.DeviceName)
	}
	d := &Device{
		Instance:       i,
		PhysicalDevice: pd,
		HAL:            hd,
		log:            i.log.With("device", pd.DeviceName),
	}
	d.Arena = newArena(d, blockSize)
	for _, f := range families {
		hq, err := hd.Queue(f.Index)
		if err != nil {
			hd.Destroy()
			return nil, nil, errors.Wrapf(err, "queue family %d", f.Index)
		}
		d.Queues = append(d.Queues, &Queue{Device: d, QueueFamily: f, HAL: hq})
	}
	d.log.Info("device opened", "families", indices)
	return d, append([]*Queue(nil), d.Queues...), nil
}

func (d *Device) String() string {
	return fmt.Sprintf("{ PhysicalDevice: %s }", d.PhysicalDevice)
}

// Limits returns the limits of the underlying physical device.
func (d *Device) Limits() hal.Limits {
	return d.PhysicalDevice.Limits
}

// Lost returns the error that lost the device, or nil.
func (d *Device) Lost() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lost
}

func (d *Device) checkLost() error {
	return d.Lost()
}

// markLost records the first device loss. Every later submission and wait
// reports ErrDeviceLost.
func (d *Device) markLost(cause error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost == nil {
		d.lost = errors.WithMessage(ErrDeviceLost, cause.Error())
		d.log.Error("device lost", "err", cause)
	}
	return d.lost
}

func (d *Device) track(f *Future) {
	d.mu.Lock()
	d.pending = append(d.pending, f)
	d.mu.Unlock()
}

// CleanupFinished resolves every submitted Future whose work has completed,
// releasing the resources it kept alive. Host access paths call it before
// checking whether a resource is still in use.
func (d *Device) CleanupFinished() {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	var keep []*Future
	for _, f := range pending {
		if !f.Done() {
			keep = append(keep, f)
		}
	}

	d.mu.Lock()
	d.pending = append(keep, d.pending...)
	d.mu.Unlock()
}

// WaitIdle blocks until all queues are idle, then resolves finished work.
func (d *Device) WaitIdle() error {
	err := d.HAL.WaitIdle()
	d.CleanupFinished()
	if err != nil {
		return translate(err, ErrDeviceLost)
	}
	return d.checkLost()
}

// Destroy waits for outstanding work and frees the device. Handles still
// held by the caller become unusable.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	d.mu.Unlock()

	if err := d.WaitIdle(); err != nil {
		d.log.Warn("wait idle during destroy", "err", err)
	}
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	pool := d.descriptors
	d.mu.Unlock()
	for _, f := range pending {
		f.resolve(ErrDeviceLost)
	}
	if pool != nil {
		pool.Destroy()
	}
	d.Arena.destroy()
	d.HAL.Destroy()
	d.log.Info("device destroyed")
}

// owns reports whether other is this device, for cross-device checks.
func (d *Device) owns(other *Device) error {
	if d != other {
		return ErrWrongDevice
	}
	return nil
}
