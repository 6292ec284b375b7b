package vkcore

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celer/vkcore/hal"
	"github.com/celer/vkcore/hal/soft"
)

func openInstance(t *testing.T, adapters ...soft.AdapterConfig) *Instance {
	t.Helper()
	app := &App{Name: t.Name(), Backend: soft.New(soft.Options{Adapters: adapters, Logger: quietLogger()}), Logger: quietLogger()}
	inst, err := app.CreateInstance()
	require.NoError(t, err)
	t.Cleanup(inst.Destroy)
	return inst
}

func TestPhysicalDevices(t *testing.T) {
	inst := openInstance(t)
	pds, err := inst.PhysicalDevices()
	require.NoError(t, err)
	require.Len(t, pds, 1)

	pd := pds[0]
	assert.Equal(t, "vkcore soft rasterizer", pd.DeviceName)
	assert.Len(t, pd.QueueFamilies(), 3)
	assert.Len(t, pd.QueueFamilies().FilterGraphics(), 1)
	assert.Len(t, pd.QueueFamilies().FilterCompute(), 2)
	assert.Len(t, pd.QueueFamilies().FilterTransfer(), 3)
	assert.Contains(t, pd.Describe(), "vkcore soft rasterizer")

	ti, err := pd.FindMemoryType(^uint32(0), HostVisibleRandomAccess)
	require.NoError(t, err)
	assert.True(t, pd.MemoryProperties.Types[ti].Flags&hal.MemoryHostCached != 0)
}

func TestOpenDeviceQueueSelection(t *testing.T) {
	inst := openInstance(t)

	tests := []struct {
		name     string
		want     []QueueFlags
		families []int
	}{
		{"default graphics", nil, []int{0}},
		{"first compute family", []QueueFlags{QueueCompute}, []int{0}},
		{"graphics and transfer share a family", []QueueFlags{QueueGraphics, QueueTransfer}, []int{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, queues, err := inst.OpenDevice(DeviceSelection{Queues: tt.want})
			require.NoError(t, err)
			defer dev.Destroy()
			var got []int
			for _, q := range queues {
				got = append(got, q.QueueFamily.Index)
			}
			assert.Equal(t, tt.families, got)
		})
	}
}

func TestOpenDeviceNoCapableHardware(t *testing.T) {
	transferOnly := soft.DefaultAdapter()
	transferOnly.QueueFamilies = []hal.QueueFlags{hal.QueueTransfer}
	inst := openInstance(t, transferOnly)

	_, _, err := inst.OpenDevice(DeviceSelection{Queues: []QueueFlags{QueueCompute}})
	assert.True(t, errors.Is(err, ErrNoCapableHardware), "got %v", err)

	_, _, err = inst.OpenDevice(DeviceSelection{PhysicalDevice: 3})
	assert.True(t, errors.Is(err, ErrNoCapableHardware))
}

func TestOpenDeviceSkipsIncapableAdapters(t *testing.T) {
	transferOnly := soft.DefaultAdapter()
	transferOnly.Name = "copy engine"
	transferOnly.QueueFamilies = []hal.QueueFlags{hal.QueueTransfer}
	inst := openInstance(t, transferOnly, soft.DefaultAdapter())

	dev, _, err := inst.OpenDevice(DeviceSelection{PhysicalDevice: AnyPhysicalDevice, Queues: []QueueFlags{QueueGraphics}})
	require.NoError(t, err)
	defer dev.Destroy()
	assert.Equal(t, 1, dev.PhysicalDevice.Index)
}

func TestWrongDevice(t *testing.T) {
	a := defaultEnv(t)
	b := defaultEnv(t)

	buf, err := CreateBuffer[uint32](a.device.Arena, 4, BufferUsageStorage, PreferHost)
	require.NoError(t, err)
	p := computePipeline(t, b.device, "times12")
	_, err = p.AllocateSet(0, BindBuffer(0, buf))
	assert.True(t, errors.Is(err, ErrWrongDevice), "got %v", err)
}
