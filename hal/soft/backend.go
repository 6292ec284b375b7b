// Package soft is a CPU implementation of the hal interfaces.
//
// Memory is plain host memory, queues are goroutines that execute
// submissions in FIFO order, and shader modules are paired with Go
// programs registered under their SPIR-V entry-point names. A program that
// panics loses the device, the way a GPU fault would.
package soft

import (
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/celer/vkcore/hal"
)

const (
	MiB = 1 << 20

	DefaultDeviceHeap = 256 * MiB
	DefaultHostHeap   = 256 * MiB
)

// AdapterConfig describes one simulated physical device.
type AdapterConfig struct {
	Name          string
	QueueFamilies []hal.QueueFlags
	// DeviceHeap and HostHeap size the two memory heaps. A zero HostHeap
	// leaves the adapter without host-visible memory.
	DeviceHeap uint64
	HostHeap   uint64
	// NoHostCached drops the cached host memory type.
	NoHostCached bool
	// HostVisibleVRAM adds a device-local type the host can map, like a
	// resizable BAR window.
	HostVisibleVRAM bool
	Limits          *hal.Limits
}

type Options struct {
	Adapters []AdapterConfig
	// Workers bounds the number of compute work-groups run in parallel.
	Workers int
	Logger  *slog.Logger
}

// DefaultAdapter is a device with a universal family, a compute family and a
// transfer-only family.
func DefaultAdapter() AdapterConfig {
	return AdapterConfig{
		Name: "vkcore soft rasterizer",
		QueueFamilies: []hal.QueueFlags{
			hal.QueueGraphics | hal.QueueCompute | hal.QueueTransfer,
			hal.QueueCompute | hal.QueueTransfer,
			hal.QueueTransfer,
		},
		DeviceHeap: DefaultDeviceHeap,
		HostHeap:   DefaultHostHeap,
	}
}

func DefaultLimits() hal.Limits {
	return hal.Limits{
		MaxMemoryAllocationCount:            4096,
		MaxBoundDescriptorSets:              4,
		MaxPerStageDescriptorUniformBuffers: 12,
		MaxPerStageDescriptorStorageBuffers: 8,
		MaxPerStageDescriptorSampledImages:  16,
		MaxPerStageDescriptorStorageImages:  4,
		MaxComputeWorkGroupCount:            [3]uint32{65535, 65535, 65535},
		MaxComputeWorkGroupSize:             [3]uint32{1024, 1024, 64},
		MaxVertexInputAttributes:            16,
		MaxVertexInputBindings:              16,
		MaxImageDimension2D:                 8192,
		MaxColorAttachments:                 4,
		MinStorageBufferOffsetAlignment:     16,
		MinUniformBufferOffsetAlignment:     16,
		NonCoherentAtomSize:                 64,
	}
}

// Backend is the soft driver entry point.
type Backend struct {
	opts     Options
	log      *slog.Logger
	mu       sync.RWMutex
	programs map[string]Program
}

func New(opts Options) *Backend {
	if len(opts.Adapters) == 0 {
		opts.Adapters = []AdapterConfig{DefaultAdapter()}
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Backend{
		opts:     opts,
		log:      opts.Logger.With("backend", "soft"),
		programs: map[string]Program{},
	}
}

func (b *Backend) Name() string { return "soft" }

// Register binds a program to a shader entry-point name. Pipelines created
// afterwards from modules declaring that entry point run the program.
func (b *Backend) Register(entryPoint string, p Program) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.programs[entryPoint] = p
}

func (b *Backend) program(entryPoint string) (Program, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.programs[entryPoint]
	if !ok {
		return Program{}, errors.Wrapf(hal.ErrUnknownProgram, "%q", entryPoint)
	}
	return p, nil
}

func (b *Backend) Adapters() ([]hal.Adapter, error) {
	ret := make([]hal.Adapter, 0, len(b.opts.Adapters))
	for i, cfg := range b.opts.Adapters {
		ret = append(ret, newAdapter(b, i, cfg))
	}
	return ret, nil
}

func (b *Backend) Destroy() {}

type adapter struct {
	backend *Backend
	index   int
	cfg     AdapterConfig
	limits  hal.Limits
	memory  hal.MemoryProperties
}

func newAdapter(b *Backend, index int, cfg AdapterConfig) *adapter {
	a := &adapter{backend: b, index: index, cfg: cfg, limits: DefaultLimits()}
	if cfg.Limits != nil {
		a.limits = *cfg.Limits
	}
	a.memory.Heaps = []hal.MemoryHeap{{Size: cfg.DeviceHeap, DeviceLocal: true}}
	a.memory.Types = []hal.MemoryType{{Flags: hal.MemoryDeviceLocal, HeapIndex: 0}}
	if cfg.HostHeap > 0 {
		a.memory.Heaps = append(a.memory.Heaps, hal.MemoryHeap{Size: cfg.HostHeap})
		a.memory.Types = append(a.memory.Types,
			hal.MemoryType{Flags: hal.MemoryHostVisible | hal.MemoryHostCoherent, HeapIndex: 1})
		if !cfg.NoHostCached {
			a.memory.Types = append(a.memory.Types,
				hal.MemoryType{Flags: hal.MemoryHostVisible | hal.MemoryHostCoherent | hal.MemoryHostCached, HeapIndex: 1})
		}
	}
	if cfg.HostVisibleVRAM {
		a.memory.Types = append(a.memory.Types,
			hal.MemoryType{Flags: hal.MemoryDeviceLocal | hal.MemoryHostVisible | hal.MemoryHostCoherent, HeapIndex: 0})
	}
	return a
}

func (a *adapter) Info() hal.AdapterInfo {
	return hal.AdapterInfo{
		Name:       a.cfg.Name,
		Type:       hal.AdapterCPU,
		VendorID:   0x10005,
		DeviceID:   uint32(a.index),
		APIVersion: "1.0",
		Driver:     "soft",
	}
}

func (a *adapter) QueueFamilies() []hal.QueueFamilyInfo {
	ret := make([]hal.QueueFamilyInfo, len(a.cfg.QueueFamilies))
	for i, f := range a.cfg.QueueFamilies {
		ret[i] = hal.QueueFamilyInfo{Index: i, Flags: f, Count: 1}
	}
	return ret
}

func (a *adapter) MemoryProperties() hal.MemoryProperties { return a.memory }

func (a *adapter) Limits() hal.Limits { return a.limits }

func (a *adapter) Open(families []int) (hal.Device, error) {
	d := newDevice(a)
	for _, f := range families {
		if f < 0 || f >= len(a.cfg.QueueFamilies) {
			d.Destroy()
			return nil, errors.Wrapf(hal.ErrInvalidHandle, "queue family %d", f)
		}
		if _, ok := d.queues[f]; !ok {
			d.queues[f] = newQueue(d, f)
		}
	}
	return d, nil
}
