/*
Package vkcore is a GPU resource and command-submission core.

It allocates memory for typed buffers and images, builds immutable pipelines
from SPIR-V stages, records command buffers and submits them to queues. Every
submission returns a Future: a handle to in-flight work that can be waited
on, polled, or chained so another submission starts only after it.

# Getting started

An App names the program and picks a hal backend. Without one the software
backend from hal/soft is used.

	app := &vkcore.App{Name: "compute"}
	instance, err := app.CreateInstance()
	if err != nil {
		log.Fatal(err)
	}
	defer instance.Destroy()

	device, queues, err := instance.OpenDevice(vkcore.DeviceSelection{
		Queues: []vkcore.QueueFlags{vkcore.QueueCompute},
	})

# Memory

Memory is requested by kind rather than by raw property flags. A
MemoryPreference lists kinds in order; the first kind compatible with the
resource usage and available on the device wins, and the choice never
changes afterwards.

	data, err := vkcore.BufferFromSlice(device.Arena, values,
		vkcore.BufferUsageStorage, vkcore.Prefer(vkcore.HostVisibleSequential))

Device local buffers cannot be mapped. Write them through a staging buffer
and CommandBuffer.CopyBufferFromStagingResource.

# Lifetimes

Buffers, images, views, pipelines and descriptor sets are reference counted.
Clone hands out another handle, Release drops one. The underlying object is
destroyed once every handle is released and no pending Future still uses
it. Host access to a buffer that pending work still references fails with
ErrResourceInUse instead of racing the GPU.

# Submission

	future, err := queue.Submit(cb, nil)
	...
	next, err := queue.Submit(cb2, future) // cb2 starts after cb finished
	err = next.Wait()

Waiting on a Future resolves it and everything chained before it.
Device.CleanupFinished reaps futures nobody waits on.
*/
package vkcore
