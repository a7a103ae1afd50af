// Package camera defines the contracts between the request lifecycle engine
// and the hardware it drives: the camera, the stream configurator, the
// per-capture request and the buffer pool. It also holds the typed stream
// configuration and the error taxonomy.
package camera

import (
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/buffer"
)

// RequestStatus is the hardware outcome of a capture request.
type RequestStatus int

const (
	StatusPending RequestStatus = iota
	StatusComplete
	StatusCancelled
)

func (s RequestStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusComplete:
		return "complete"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Request is a hardware capture request: one buffer per stream plus the
// controls to apply when it is captured.
type Request interface {
	AddBuffer(role StreamRole, h *buffer.Handle) error
	Buffer(role StreamRole) (*buffer.Handle, bool)
	Status() RequestStatus
	Sequence() uint64
	Timestamp() time.Time

	// Reuse resets the request for requeueing, keeping its buffers.
	Reuse()
	SetControl(name string, value any) error
}

// Camera is the hardware side of the capture loop.
type Camera interface {
	// ReadyFD becomes readable when completed requests are waiting.
	ReadyFD() int
	// DrainCompleted returns every completed request in completion order
	// and clears the readiness signal.
	DrainCompleted() ([]Request, error)
	CreateRequest() (Request, error)
	Queue(r Request) error
	Start(controls Controls) error
	// Stop halts capture. Queued requests complete as cancelled.
	Stop() error
	Controls() map[string]ControlInfo
}

// BufferPool is the fixed set of buffers allocated for a configuration.
type BufferPool interface {
	Buffers(role StreamRole) []*buffer.Handle
	Close() error
}

// Configurator negotiates a configuration with the hardware.
type Configurator interface {
	// Validate returns the configuration the hardware will actually use,
	// with Stride and FrameSize filled in. Fails with ErrConfig.
	Validate(cfg Config) (Config, error)
	// Allocate creates the buffer pool. Fails with ErrAllocation.
	Allocate(cfg Config) (BufferPool, error)
}

// PoolSize is the number of requests a pool can back: the smallest buffer
// count across configured streams.
func PoolSize(pool BufferPool, cfg *Config) int {
	n := -1
	for _, role := range cfg.Roles() {
		c := len(pool.Buffers(role))
		if n < 0 || c < n {
			n = c
		}
	}
	if n < 0 {
		return 0
	}
	return n
}
