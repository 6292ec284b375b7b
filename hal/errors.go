package hal

import "github.com/pkg/errors"

// Errors a driver reports. The core translates them into its own taxonomy.
var (
	ErrDeviceLost        = errors.New("hal: device lost")
	ErrTimeout           = errors.New("hal: timeout")
	ErrOutOfDeviceMemory = errors.New("hal: out of device memory")
	ErrOutOfHostMemory   = errors.New("hal: out of host memory")
	ErrTooManyObjects    = errors.New("hal: too many objects")
	ErrLimitExceeded     = errors.New("hal: device limit exceeded")
	ErrUnsupported       = errors.New("hal: feature not supported")
	ErrMemoryMapFailed   = errors.New("hal: memory map failed")
	ErrInvalidHandle     = errors.New("hal: invalid handle")
	ErrUnknownProgram    = errors.New("hal: no program for entry point")
	ErrNotReady          = errors.New("hal: command buffer not executable")
)
