package camera

import (
	"errors"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/buffer"
)

// Error taxonomy shared by the engine and its collaborators. Callers match
// with errors.Is; operations wrap these with context.
var (
	// ErrConfig: the requested stream configuration cannot be satisfied.
	// User-correctable, never retried.
	ErrConfig = errors.New("frame-lifecycle: invalid stream configuration")

	// ErrAllocation: the buffer pool could not be created.
	ErrAllocation = errors.New("frame-lifecycle: buffer allocation failed")

	// ErrResource: the hardware refused to create or queue a request.
	ErrResource = errors.New("frame-lifecycle: hardware resource failure")

	// ErrInvalidState: a reference count was driven below zero or a
	// released request was acquired again. Indicates a logic bug.
	ErrInvalidState = errors.New("frame-lifecycle: invalid request state")

	// ErrNonContiguousBuffer is returned when extracting a buffer whose
	// planes span more than one memory region.
	ErrNonContiguousBuffer = buffer.ErrNonContiguous

	ErrNotConfigured  = errors.New("frame-lifecycle: engine not configured")
	ErrAlreadyRunning = errors.New("frame-lifecycle: engine is running")
	ErrUnknownControl = errors.New("frame-lifecycle: unknown control")
	ErrClosed         = errors.New("frame-lifecycle: engine closed")
)

// ErrorCategory classifies errors for telemetry counters.
type ErrorCategory int

const (
	ErrCategoryConfig ErrorCategory = iota
	ErrCategoryAllocation
	ErrCategoryResource
	ErrCategoryInvalidState
	ErrCategoryBuffer
	ErrCategoryUnknown
)

// String returns the lowercase label used in metrics and logs.
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryConfig:
		return "config"
	case ErrCategoryAllocation:
		return "allocation"
	case ErrCategoryResource:
		return "resource"
	case ErrCategoryInvalidState:
		return "invalid_state"
	case ErrCategoryBuffer:
		return "buffer"
	default:
		return "unknown"
	}
}

// Classify maps err onto its category. Lifecycle misuse (not configured,
// unknown control) counts as config.
func Classify(err error) ErrorCategory {
	switch {
	case err == nil:
		return ErrCategoryUnknown
	case errors.Is(err, ErrInvalidState):
		return ErrCategoryInvalidState
	case errors.Is(err, ErrNonContiguousBuffer):
		return ErrCategoryBuffer
	case errors.Is(err, ErrAllocation):
		return ErrCategoryAllocation
	case errors.Is(err, ErrResource):
		return ErrCategoryResource
	case errors.Is(err, ErrConfig), errors.Is(err, ErrNotConfigured), errors.Is(err, ErrUnknownControl):
		return ErrCategoryConfig
	default:
		return ErrCategoryUnknown
	}
}
