package vkcore

import (
	"github.com/pkg/errors"

	"github.com/celer/vkcore/hal"
)

// Device context.
var (
	ErrNoCapableHardware = errors.New("no physical device exposes the requested queue capabilities")
	ErrWrongDevice       = errors.New("object belongs to a different device")
	ErrDeviceLost        = errors.New("device lost")
)

// Memory and resources.
var (
	ErrOutOfMemory       = errors.New("out of memory")
	ErrUnsupportedKind   = errors.New("no memory type supports the requested memory kind")
	ErrIncompatibleUsage = errors.New("usage is incompatible with the memory kind")
	ErrInvalidExtent     = errors.New("invalid image extent")
	ErrEmptyBuffer       = errors.New("buffer must hold at least one element")
	ErrOutOfRange        = errors.New("byte range outside the buffer")
	ErrHostAccessDenied  = errors.New("memory is not host accessible")
	ErrResourceInUse     = errors.New("resource is referenced by pending GPU work")
	ErrResourceReleased  = errors.New("resource has been released")
)

// Pipelines and bindings.
var (
	ErrInvalidShader           = errors.New("invalid shader module")
	ErrShaderInterfaceMismatch = errors.New("shader interface mismatch")
	ErrVertexInputMismatch     = errors.Wrap(ErrShaderInterfaceMismatch, "vertex input")
	ErrLayoutCreationFailed    = errors.New("pipeline layout creation failed")
	ErrPipelineCreationFailed  = errors.New("pipeline creation failed")
	ErrInvalidRenderPass       = errors.New("invalid render pass")
	ErrFramebufferMismatch     = errors.New("framebuffer does not match render pass")
	ErrIncompleteBinding       = errors.New("descriptor set has unbound slots")
	ErrTypeMismatch            = errors.New("descriptor type mismatch")
	ErrUnknownBinding          = errors.New("no such binding in set layout")
	ErrDuplicateBinding        = errors.New("binding written twice")
)

// Recording and submission.
var (
	ErrInvalidRecordingState = errors.New("invalid recording state")
	ErrAlreadyBuilt          = errors.New("command buffer already built")
	ErrEmptyOrInvalid        = errors.New("command buffer is empty or incomplete")
	ErrAlreadySubmitted      = errors.New("one-time command buffer already submitted")
	ErrCommandBufferBusy     = errors.New("command buffer is still executing")
	ErrFutureChained         = errors.New("future already has a successor")
	ErrTimedOut              = errors.New("timed out")
	ErrSubmissionFailed      = errors.New("submission failed")
)

// translate maps a hal error onto the package taxonomy, keeping the driver
// message as context.
func translate(err error, fallback error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, hal.ErrDeviceLost):
		return errors.WithMessage(ErrDeviceLost, err.Error())
	case errors.Is(err, hal.ErrOutOfDeviceMemory),
		errors.Is(err, hal.ErrOutOfHostMemory),
		errors.Is(err, hal.ErrTooManyObjects):
		return errors.WithMessage(ErrOutOfMemory, err.Error())
	case errors.Is(err, hal.ErrTimeout):
		return ErrTimedOut
	}
	return errors.WithMessage(fallback, err.Error())
}
