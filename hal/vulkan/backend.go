// Package vulkan implements the hal interfaces over github.com/vulkan-go/vulkan.
//
// Every image lives in the GENERAL layout once bound, which keeps the
// layout-free hal contract honest at some cost in bandwidth on tilers.
package vulkan

import (
	"fmt"
	"unsafe"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
	"golang.org/x/exp/slog"

	"github.com/celer/vkcore/hal"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

type Options struct {
	AppName string
	// ProcAddr is the loader entry point, for example from
	// glfw.GetVulkanGetInstanceProcAddress. The system loader is used when nil.
	ProcAddr unsafe.Pointer
	// Validation enables the Khronos validation layer when it is installed.
	Validation bool
	// Layers are enabled as given, in addition to validation.
	Layers     []string
	Extensions []string
	Logger     *slog.Logger
}

type backend struct {
	instance vk.Instance
	log      *slog.Logger
	debug    vk.DebugReportCallback
}

// New loads Vulkan and creates an instance.
func New(opts Options) (hal.Backend, error) {
	if opts.ProcAddr != nil {
		vk.SetGetInstanceProcAddr(opts.ProcAddr)
	} else if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return nil, errors.Wrap(err, "load vulkan")
	}
	if err := vk.Init(); err != nil {
		return nil, errors.Wrap(err, "init vulkan")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	layers := append([]string(nil), opts.Layers...)
	if opts.Validation {
		supported, err := supportedLayers()
		if err != nil {
			return nil, err
		}
		found := false
		for _, l := range supported {
			found = found || l == validationLayer
		}
		if found {
			layers = append(layers, validationLayer)
			opts.Extensions = append(opts.Extensions, "VK_EXT_debug_report")
		} else {
			logger.Warn("validation layer not installed", "layer", validationLayer)
		}
	}

	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         vk.MakeVersion(1, 0, 0),
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PApplicationName:   safeString(opts.AppName),
		PEngineName:        safeString("vkcore"),
	}
	extensions := safeStrings(opts.Extensions)
	layers = safeStrings(layers)
	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}
	var instance vk.Instance
	if err := check(vk.CreateInstance(&createInfo, nil, &instance), "create instance"); err != nil {
		return nil, err
	}
	vk.InitInstance(instance)
	b := &backend{instance: instance, log: logger}
	if opts.Validation && len(layers) > len(opts.Layers) {
		b.installDebugCallback()
	}
	logger.Debug("vulkan instance created", "layers", len(layers), "extensions", len(extensions))
	return b, nil
}

// installDebugCallback routes validation reports into the logger.
func (b *backend) installDebugCallback() {
	info := vk.DebugReportCallbackCreateInfo{
		SType: vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags: vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
		PfnCallback: func(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
			object uint64, location uint, messageCode int32, pLayerPrefix string,
			pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
			attrs := []any{"layer", pLayerPrefix, "code", messageCode}
			switch {
			case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
				b.log.Error(pMessage, attrs...)
			case flags&vk.DebugReportFlags(vk.DebugReportWarningBit|vk.DebugReportPerformanceWarningBit) != 0:
				b.log.Warn(pMessage, attrs...)
			default:
				b.log.Debug(pMessage, attrs...)
			}
			return vk.Bool32(vk.False)
		},
	}
	if err := check(vk.CreateDebugReportCallback(b.instance, &info, nil, &b.debug), "create debug callback"); err != nil {
		b.log.Warn("validation reports unavailable", "err", err)
		b.debug = nil
	}
}

func supportedLayers() ([]string, error) {
	var n uint32
	if err := check(vk.EnumerateInstanceLayerProperties(&n, nil), "enumerate layers"); err != nil {
		return nil, err
	}
	props := make([]vk.LayerProperties, n)
	if err := check(vk.EnumerateInstanceLayerProperties(&n, props), "enumerate layers"); err != nil {
		return nil, err
	}
	names := make([]string, 0, n)
	for _, p := range props {
		p.Deref()
		names = append(names, vk.ToString(p.LayerName[:]))
	}
	return names, nil
}

// Instance exposes the raw handle so callers can create surfaces.
func Instance(b hal.Backend) (vk.Instance, bool) {
	vb, ok := b.(*backend)
	if !ok {
		return nil, false
	}
	return vb.instance, true
}

func (b *backend) Name() string { return "vulkan" }

func (b *backend) Adapters() ([]hal.Adapter, error) {
	var n uint32
	if err := check(vk.EnumeratePhysicalDevices(b.instance, &n, nil), "enumerate physical devices"); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	devices := make([]vk.PhysicalDevice, n)
	if err := check(vk.EnumeratePhysicalDevices(b.instance, &n, devices), "enumerate physical devices"); err != nil {
		return nil, err
	}
	ret := make([]hal.Adapter, n)
	for i, pd := range devices {
		ret[i] = newAdapter(b, pd)
	}
	return ret, nil
}

func (b *backend) Destroy() {
	if b.debug != nil {
		vk.DestroyDebugReportCallback(b.instance, b.debug, nil)
	}
	vk.DestroyInstance(b.instance, nil)
}

type adapter struct {
	backend  *backend
	physical vk.PhysicalDevice
	info     hal.AdapterInfo
	families []hal.QueueFamilyInfo
	memory   hal.MemoryProperties
	limits   hal.Limits
}

func newAdapter(b *backend, pd vk.PhysicalDevice) *adapter {
	a := &adapter{backend: b, physical: pd}

	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(pd, &props)
	props.Deref()
	props.Limits.Deref()
	a.info = hal.AdapterInfo{
		Name:       vk.ToString(props.DeviceName[:]),
		Type:       adapterType(props.DeviceType),
		VendorID:   props.VendorID,
		DeviceID:   props.DeviceID,
		APIVersion: versionString(props.ApiVersion),
		Driver:     fmt.Sprintf("%#x", props.DriverVersion),
	}
	l := props.Limits
	a.limits = hal.Limits{
		MaxMemoryAllocationCount:            int(l.MaxMemoryAllocationCount),
		MaxBoundDescriptorSets:              int(l.MaxBoundDescriptorSets),
		MaxPerStageDescriptorUniformBuffers: int(l.MaxPerStageDescriptorUniformBuffers),
		MaxPerStageDescriptorStorageBuffers: int(l.MaxPerStageDescriptorStorageBuffers),
		MaxPerStageDescriptorSampledImages:  int(l.MaxPerStageDescriptorSampledImages),
		MaxPerStageDescriptorStorageImages:  int(l.MaxPerStageDescriptorStorageImages),
		MaxComputeWorkGroupCount:            l.MaxComputeWorkGroupCount,
		MaxComputeWorkGroupSize:             l.MaxComputeWorkGroupSize,
		MaxVertexInputAttributes:            int(l.MaxVertexInputAttributes),
		MaxVertexInputBindings:              int(l.MaxVertexInputBindings),
		MaxImageDimension2D:                 l.MaxImageDimension2D,
		MaxColorAttachments:                 int(l.MaxColorAttachments),
		MinStorageBufferOffsetAlignment:     uint64(l.MinStorageBufferOffsetAlignment),
		MinUniformBufferOffsetAlignment:     uint64(l.MinUniformBufferOffsetAlignment),
		NonCoherentAtomSize:                 uint64(l.NonCoherentAtomSize),
	}

	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	queues := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, queues)
	for i, q := range queues {
		q.Deref()
		a.families = append(a.families, hal.QueueFamilyInfo{
			Index: i,
			Flags: queueFlags(vk.QueueFlagBits(q.QueueFlags)),
			Count: int(q.QueueCount),
		})
	}

	var mem vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(pd, &mem)
	mem.Deref()
	for i := uint32(0); i < mem.MemoryHeapCount; i++ {
		h := mem.MemoryHeaps[i]
		h.Deref()
		a.memory.Heaps = append(a.memory.Heaps, hal.MemoryHeap{
			Size:        uint64(h.Size),
			DeviceLocal: vk.MemoryHeapFlagBits(h.Flags)&vk.MemoryHeapDeviceLocalBit != 0,
		})
	}
	for i := uint32(0); i < mem.MemoryTypeCount; i++ {
		t := mem.MemoryTypes[i]
		t.Deref()
		a.memory.Types = append(a.memory.Types, hal.MemoryType{
			Flags:     memoryFlags(vk.MemoryPropertyFlagBits(t.PropertyFlags)),
			HeapIndex: int(t.HeapIndex),
		})
	}
	return a
}

func (a *adapter) Info() hal.AdapterInfo                { return a.info }
func (a *adapter) QueueFamilies() []hal.QueueFamilyInfo { return a.families }
func (a *adapter) MemoryProperties() hal.MemoryProperties {
	return a.memory
}
func (a *adapter) Limits() hal.Limits { return a.limits }

func (a *adapter) Open(families []int) (hal.Device, error) {
	if len(families) == 0 {
		return nil, errors.Wrap(hal.ErrUnsupported, "no queue families requested")
	}
	queueInfos := make([]vk.DeviceQueueCreateInfo, len(families))
	for i, f := range families {
		if f < 0 || f >= len(a.families) {
			return nil, errors.Wrapf(hal.ErrInvalidHandle, "queue family %d", f)
		}
		queueInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: uint32(f),
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	var features vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(a.physical, &features)

	createInfo := vk.DeviceCreateInfo{
		SType:                vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount: uint32(len(queueInfos)),
		PQueueCreateInfos:    queueInfos,
		PEnabledFeatures:     []vk.PhysicalDeviceFeatures{features},
	}
	var handle vk.Device
	if err := check(vk.CreateDevice(a.physical, &createInfo, nil, &handle), "create device"); err != nil {
		return nil, err
	}
	return newDevice(a, handle, families)
}

func versionString(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", v>>22, (v>>12)&0x3ff, v&0xfff)
}

func safeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != 0 {
		return s + "\x00"
	}
	return s
}

func safeStrings(list []string) []string {
	ret := make([]string, len(list))
	for i := range list {
		ret[i] = safeString(list[i])
	}
	return ret
}
