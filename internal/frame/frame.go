// Package frame defines the value handed to the output pipeline.
package frame

import "time"

// Frame is an owned copy of one delivered display buffer. Data is never
// shared with hardware and must not be modified once emitted.
type Frame struct {
	// Seq is the hardware sequence number of the capture.
	Seq uint64
	// Timestamp is the sensor timestamp.
	Timestamp time.Time
	// CompletedAt is when the engine drained the request.
	CompletedAt time.Time
	// Generation is the configuration epoch the frame was captured in.
	Generation uint64

	Stream string
	Format string
	Width  int
	Height int
	Stride int
	Data   []byte

	// TraceID is a unique identifier for distributed tracing.
	TraceID string
}
