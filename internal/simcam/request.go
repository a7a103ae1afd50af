package simcam

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/buffer"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/camera"
)

// Request is a simulated capture request.
type Request struct {
	mu       sync.Mutex
	seq      uint64
	ts       time.Time
	status   camera.RequestStatus
	buffers  map[camera.StreamRole]*buffer.Handle
	controls camera.Controls
}

func newRequest() *Request {
	return &Request{
		buffers:  make(map[camera.StreamRole]*buffer.Handle),
		controls: camera.Controls{},
	}
}

func (r *Request) AddBuffer(role camera.StreamRole, h *buffer.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.buffers[role]; dup {
		return fmt.Errorf("simcam: %s buffer already attached: %w", role, camera.ErrResource)
	}
	r.buffers[role] = h
	return nil
}

func (r *Request) Buffer(role camera.StreamRole) (*buffer.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.buffers[role]
	return h, ok
}

func (r *Request) Status() camera.RequestStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Request) Sequence() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}

func (r *Request) Timestamp() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ts
}

func (r *Request) Reuse() {
	r.mu.Lock()
	r.status = camera.StatusPending
	r.controls = camera.Controls{}
	r.mu.Unlock()
}

func (r *Request) SetControl(name string, value any) error {
	r.mu.Lock()
	r.controls[name] = value
	r.mu.Unlock()
	return nil
}

// take returns and clears the controls carried by the request.
func (r *Request) take() camera.Controls {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.controls
	r.controls = camera.Controls{}
	return c
}

func (r *Request) finish(seq uint64, status camera.RequestStatus) {
	r.mu.Lock()
	r.seq, r.ts, r.status = seq, time.Now(), status
	r.mu.Unlock()
}

func (r *Request) handles() map[camera.StreamRole]*buffer.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.buffers)
}
