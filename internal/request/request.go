// Package request implements the reference-counted completed capture
// request.
//
// A Request is created by the capture loop with one reference (its
// membership in the completion queue). Consumers Acquire to keep it alive
// and Release when done. The Release that takes the count to zero hands
// the underlying hardware request back to its Recycler exactly once.
//
// Thread-safety: Acquire, Release and ExtractBuffer are safe from any
// goroutine. The count is a single atomic word updated with compare-and-swap,
// so it can never be observed below zero.
package request

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/camera"
)

// Recycler receives hardware requests whose last reference was dropped.
// generation is the configuration epoch the request was completed in; the
// recycler discards the request when it no longer matches.
type Recycler interface {
	Recycle(raw camera.Request, generation uint64)
}

// RecyclerFunc adapts a function to Recycler.
type RecyclerFunc func(raw camera.Request, generation uint64)

func (f RecyclerFunc) Recycle(raw camera.Request, generation uint64) { f(raw, generation) }

// Request is a completed capture request shared between the engine and
// frame consumers.
type Request struct {
	refs       atomic.Int32
	raw        camera.Request
	generation uint64
	recycler   Recycler
	completed  time.Time
}

// New wraps a completed hardware request with a reference count of one.
func New(raw camera.Request, generation uint64, recycler Recycler) *Request {
	r := &Request{
		raw:        raw,
		generation: generation,
		recycler:   recycler,
		completed:  time.Now(),
	}
	r.refs.Store(1)
	return r
}

// Acquire adds a reference. Fails with camera.ErrInvalidState when the
// request was already released to zero.
func (r *Request) Acquire() error {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return fmt.Errorf("request: acquire seq=%d with refcount %d: %w",
				r.raw.Sequence(), n, camera.ErrInvalidState)
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops a reference. On the transition to zero the hardware
// request is handed to the recycler. Releasing at zero fails with
// camera.ErrInvalidState.
func (r *Request) Release() error {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return fmt.Errorf("request: release seq=%d with refcount %d: %w",
				r.raw.Sequence(), n, camera.ErrInvalidState)
		}
		if !r.refs.CompareAndSwap(n, n-1) {
			continue
		}
		if n == 1 {
			r.recycler.Recycle(r.raw, r.generation)
		}
		return nil
	}
}

// Refs returns the current reference count.
func (r *Request) Refs() int32 { return r.refs.Load() }

// Generation returns the configuration epoch the request completed in.
func (r *Request) Generation() uint64 { return r.generation }

// Sequence is the hardware frame counter of the capture.
func (r *Request) Sequence() uint64 { return r.raw.Sequence() }

// Timestamp is the sensor timestamp of the capture.
func (r *Request) Timestamp() time.Time { return r.raw.Timestamp() }

// CompletedAt is when the engine drained the request from hardware.
func (r *Request) CompletedAt() time.Time { return r.completed }

// ExtractBuffer copies the bytes of stream role out of the request. The
// caller must hold a reference.
func (r *Request) ExtractBuffer(role camera.StreamRole) ([]byte, error) {
	if r.refs.Load() <= 0 {
		return nil, fmt.Errorf("request: extract %s from released seq=%d: %w",
			role, r.raw.Sequence(), camera.ErrInvalidState)
	}
	h, ok := r.raw.Buffer(role)
	if !ok {
		return nil, fmt.Errorf("request: no %s buffer on seq=%d", role, r.raw.Sequence())
	}
	data, err := h.Copy()
	if err != nil {
		return nil, fmt.Errorf("request: extract %s seq=%d: %w", role, r.raw.Sequence(), err)
	}
	return data, nil
}
