// Package camtest provides an in-memory camera for exercising the request
// lifecycle without hardware. Readiness is a real eventfd so the engine's
// poll loop runs unchanged.
package camtest

import (
	"encoding/binary"
	"fmt"
	"maps"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/buffer"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/camera"
)

// Request is a fake hardware request that records the controls applied to it.
type Request struct {
	mu       sync.Mutex
	seq      uint64
	status   camera.RequestStatus
	buffers  map[camera.StreamRole]*buffer.Handle
	controls camera.Controls
	reuses   int
}

// NewRequest returns an empty pending request.
func NewRequest() *Request {
	return &Request{buffers: map[camera.StreamRole]*buffer.Handle{}, controls: camera.Controls{}}
}

func (r *Request) AddBuffer(role camera.StreamRole, h *buffer.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.buffers[role]; dup {
		return fmt.Errorf("camtest: %s buffer already attached", role)
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

func (r *Request) Timestamp() time.Time { return time.Unix(0, int64(r.Sequence())) }

func (r *Request) Reuse() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = camera.StatusPending
	r.controls = camera.Controls{}
	r.reuses++
}

func (r *Request) SetControl(name string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controls[name] = value
	return nil
}

// Controls returns the controls applied since the last Reuse.
func (r *Request) Controls() camera.Controls {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.controls)
}

// Reuses counts how often the request was recycled.
func (r *Request) Reuses() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reuses
}

func (r *Request) complete(seq uint64, status camera.RequestStatus) {
	r.mu.Lock()
	r.seq = seq
	r.status = status
	r.mu.Unlock()
}

// Camera is a fake camera. Requests only complete when the test says so.
type Camera struct {
	mu        sync.Mutex
	efd       int
	seq       uint64
	queued    []*Request
	completed []*Request
	history   []*Request
	created   int
	started   bool
	startCtl  camera.Controls
	stops     int

	failCreate bool
	failQueue  bool
}

// New creates a fake camera closed automatically at the end of the test.
func New(t testing.TB) *Camera {
	t.Helper()
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		t.Fatalf("camtest: eventfd: %v", err)
	}
	t.Cleanup(func() { unix.Close(efd) })
	return &Camera{efd: efd}
}

func (c *Camera) ReadyFD() int { return c.efd }

func (c *Camera) DrainCompleted() ([]camera.Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var counter [8]byte
	if _, err := unix.Read(c.efd, counter[:]); err != nil && err != unix.EAGAIN {
		return nil, err
	}
	out := make([]camera.Request, len(c.completed))
	for i, r := range c.completed {
		out[i] = r
	}
	c.completed = nil
	return out, nil
}

func (c *Camera) CreateRequest() (camera.Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failCreate {
		return nil, fmt.Errorf("camtest: create request: %w", camera.ErrResource)
	}
	c.created++
	return NewRequest(), nil
}

func (c *Camera) Queue(r camera.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failQueue {
		return fmt.Errorf("camtest: queue: %w", camera.ErrResource)
	}
	req, ok := r.(*Request)
	if !ok {
		return fmt.Errorf("camtest: foreign request %T", r)
	}
	c.queued = append(c.queued, req)
	c.history = append(c.history, req)
	return nil
}

func (c *Camera) Start(controls camera.Controls) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	c.startCtl = maps.Clone(controls)
	return nil
}

// Stop cancels every queued request.
func (c *Camera) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
	c.stops++
	for _, r := range c.queued {
		c.seq++
		r.complete(c.seq, camera.StatusCancelled)
		c.completed = append(c.completed, r)
	}
	c.queued = nil
	return c.signal()
}

func (c *Camera) Controls() map[string]camera.ControlInfo {
	return map[string]camera.ControlInfo{
		"Brightness":   {Min: -1.0, Max: 1.0, Default: 0.0},
		"Contrast":     {Min: 0.0, Max: 32.0, Default: 1.0},
		"ExposureTime": {Min: int64(0), Max: int64(1_000_000), Default: int64(10_000)},
	}
}

// Complete finishes up to n queued requests, oldest first, and signals
// readiness. Returns the completed requests.
func (c *Camera) Complete(n int) []*Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n > len(c.queued) {
		n = len(c.queued)
	}
	done := c.queued[:n:n]
	c.queued = c.queued[n:]
	for _, r := range done {
		c.seq++
		r.complete(c.seq, camera.StatusComplete)
	}
	c.completed = append(c.completed, done...)
	if err := c.signal(); err != nil {
		panic(err)
	}
	return done
}

// Inject completes requests that were never queued, so a single drain can
// return more requests than the pool holds.
func (c *Camera) Inject(reqs ...*Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range reqs {
		c.seq++
		r.complete(c.seq, camera.StatusComplete)
	}
	c.completed = append(c.completed, reqs...)
	if err := c.signal(); err != nil {
		panic(err)
	}
}

func (c *Camera) signal() error {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(c.efd, one[:]); err != nil {
		return fmt.Errorf("camtest: eventfd write: %w", err)
	}
	return nil
}

// SetFailCreate makes CreateRequest fail with camera.ErrResource.
func (c *Camera) SetFailCreate(fail bool) {
	c.mu.Lock()
	c.failCreate = fail
	c.mu.Unlock()
}

// SetFailQueue makes Queue fail with camera.ErrResource.
func (c *Camera) SetFailQueue(fail bool) {
	c.mu.Lock()
	c.failQueue = fail
	c.mu.Unlock()
}

// Queued returns the requests currently owned by the hardware.
func (c *Camera) Queued() []*Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Request(nil), c.queued...)
}

// History returns every request ever queued, in order.
func (c *Camera) History() []*Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Request(nil), c.history...)
}

// Created is the number of requests created through CreateRequest.
func (c *Camera) Created() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created
}

// StartControls returns the controls passed to the last Start.
func (c *Camera) StartControls() camera.Controls {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.startCtl)
}

// Stops counts Stop calls.
func (c *Camera) Stops() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stops
}

// Pool is a memfd-backed buffer pool.
type Pool struct {
	buffers map[camera.StreamRole][]*buffer.Handle
	files   []*buffer.Memfd
	closed  bool
}

func (p *Pool) Buffers(role camera.StreamRole) []*buffer.Handle { return p.buffers[role] }

func (p *Pool) Close() error {
	p.closed = true
	for _, f := range p.files {
		f.Close()
	}
	return nil
}

// Closed reports whether Close was called.
func (p *Pool) Closed() bool { return p.closed }

// Fill writes v over every byte of h.
func (p *Pool) Fill(h *buffer.Handle, v byte) error {
	fd := h.Planes()[0].FD
	for _, f := range p.files {
		if f.FD() == fd {
			b := make([]byte, f.Size())
			for i := range b {
				b[i] = v
			}
			_, err := f.WriteAt(b, 0)
			return err
		}
	}
	return fmt.Errorf("camtest: buffer not in pool")
}

// Configurator validates with camera.Config.Validate and allocates one
// memfd per buffer.
type Configurator struct {
	FailAllocate bool
	Pools        []*Pool
}

func (c *Configurator) Validate(cfg camera.Config) (camera.Config, error) {
	if err := cfg.Validate(); err != nil {
		return camera.Config{}, err
	}
	out := cfg.Clone()
	for _, role := range out.Roles() {
		sc, _ := out.Stream(role)
		stride, size, err := camera.Layout(sc.Format, sc.Size)
		if err != nil {
			return camera.Config{}, err
		}
		sc.Stride, sc.FrameSize = stride, size
	}
	return out, nil
}

func (c *Configurator) Allocate(cfg camera.Config) (camera.BufferPool, error) {
	if c.FailAllocate {
		return nil, fmt.Errorf("camtest: %w", camera.ErrAllocation)
	}
	p := &Pool{buffers: map[camera.StreamRole][]*buffer.Handle{}}
	for _, role := range cfg.Roles() {
		sc, _ := cfg.Stream(role)
		for i := 0; i < cfg.BufferCount; i++ {
			f, err := buffer.NewMemfd(fmt.Sprintf("camtest-%s-%d", role, i), sc.FrameSize)
			if err != nil {
				p.Close()
				return nil, fmt.Errorf("%w: %v", camera.ErrAllocation, err)
			}
			p.files = append(p.files, f)
			p.buffers[role] = append(p.buffers[role], f.Handle())
		}
	}
	c.Pools = append(c.Pools, p)
	return p, nil
}
