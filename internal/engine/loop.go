package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/camera"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/frame"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/request"
)

// captureLoop waits for the camera readiness descriptor and processes one
// cycle per wake-up. The running flag is checked on every timeout tick.
func (e *Engine) captureLoop(done chan<- struct{}) {
	defer close(done)

	fds := []unix.PollFd{{Fd: int32(e.cam.ReadyFD()), Events: unix.POLLIN}}
	timeout := int(e.pollTimeout / time.Millisecond)

	slog.Debug("engine: capture loop started", "camera", e.name, "fd", fds[0].Fd)
	for e.running.Load() {
		fds[0].Revents = 0
		n, err := unix.Poll(fds, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			e.absorb("poll", fmt.Errorf("engine: poll ready fd: %w: %w", camera.ErrResource, err))
			time.Sleep(e.pollTimeout)
			continue
		}
		if n == 0 || fds[0].Revents&unix.POLLIN == 0 {
			continue
		}
		e.processCycle()
	}
	slog.Debug("engine: capture loop exited", "camera", e.name)
}

// processCycle drains the camera, stamps the completed requests with the
// running generation and publishes them.
func (e *Engine) processCycle() {
	raws, err := e.cam.DrainCompleted()
	if err != nil {
		e.absorb("drain", fmt.Errorf("engine: drain completed: %w", ensure(err, camera.ErrResource)))
		return
	}
	if len(raws) == 0 {
		return
	}

	gen := e.generation.Load()
	reqs := make([]*request.Request, 0, len(raws))
	for _, raw := range raws {
		if raw.Status() != camera.StatusComplete {
			// Cancelled captures carry no image; hand the buffers straight back.
			e.Recycle(raw, gen)
			continue
		}
		reqs = append(reqs, e.lease.wrap(raw, gen))
	}
	e.publish(reqs)
}

// publish queues reqs, releases what the retention limit trims and
// delivers the newest one.
func (e *Engine) publish(reqs []*request.Request) {
	if len(reqs) == 0 {
		return
	}
	e.stats.completed.Add(uint64(len(reqs)))
	e.metrics.Completed(len(reqs))

	display, trimmed, err := e.queue.Push(reqs)
	if err != nil {
		e.fatal("push", err)
	}
	for _, r := range trimmed {
		e.mustRelease(r)
	}
	e.metrics.SetQueueDepth(e.queue.Len())

	// Requests are stamped at drain time. Stop and Configure wait for the
	// loop today, so a generation change in between only happens if publish
	// is driven from elsewhere; such a frame must never reach the outlet.
	if display.Generation() != e.generation.Load() {
		e.stats.stale.Add(1)
		e.metrics.Stale()
		slog.Debug("engine: stale display candidate", "camera", e.name, "seq", display.Sequence())
		e.mustRelease(display)
		return
	}
	e.deliver(display)
}

// deliver copies the display stream of r into a frame, emits it and then
// either keeps r as the currently displayed request or releases it.
// Consumes the caller's reference on r.
func (e *Engine) deliver(r *request.Request) {
	role := e.config.Display
	if role == camera.NoStream {
		e.mustRelease(r)
		return
	}

	data, err := r.ExtractBuffer(role)
	if err != nil {
		e.stats.extractErrors.Add(1)
		e.absorb("extract", err)
		e.mustRelease(r)
		return
	}

	sc, _ := e.config.Stream(role)
	f := frame.Frame{
		Seq:         r.Sequence(),
		Timestamp:   r.Timestamp(),
		CompletedAt: r.CompletedAt(),
		Generation:  r.Generation(),
		Stream:      string(role),
		Format:      sc.Format,
		Width:       sc.Size.Width,
		Height:      sc.Size.Height,
		Stride:      sc.Stride,
		Data:        data,
		TraceID:     uuid.New().String(),
	}

	e.stats.delivered.Add(1)
	e.metrics.Delivered()
	if !e.out.Emit(f) {
		e.stats.dropped.Add(1)
		e.metrics.Dropped()
	}
	slog.Debug("engine: frame delivered", "camera", e.name, "seq", f.Seq, "bytes", len(data), "trace_id", f.TraceID)

	if e.poolSize <= 1 {
		// A single buffer must go straight back or capture stalls.
		e.mustRelease(r)
		return
	}
	e.displayMu.Lock()
	prev := e.current
	e.current = r
	e.displayMu.Unlock()
	if prev != nil {
		e.mustRelease(prev)
	}
}

// Recycle is called when the last reference to a completed request is
// dropped. The request is re-queued with any pending controls if it belongs
// to the running generation, and discarded otherwise.
func (e *Engine) Recycle(raw camera.Request, generation uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.state != StateRunning || generation != e.generation.Load() {
		e.stats.discarded.Add(1)
		e.metrics.Discarded()
		slog.Debug("engine: request discarded", "camera", e.name,
			"seq", raw.Sequence(), "generation", generation, "current_generation", e.generation.Load())
		return
	}

	raw.Reuse()

	e.controlsMu.Lock()
	applied := len(e.pending)
	for name, value := range e.pending {
		if err := raw.SetControl(name, value); err != nil {
			slog.Warn("engine: control rejected", "camera", e.name, "control", name, "error", err)
		}
	}
	err := e.cam.Queue(raw)
	if err == nil {
		clear(e.pending)
	}
	e.controlsMu.Unlock()

	if err != nil {
		e.absorb("requeue", fmt.Errorf("engine: requeue: %w", ensure(err, camera.ErrResource)))
		return
	}
	e.stats.recycled.Add(1)
	e.metrics.Recycled()
	if applied > 0 {
		slog.Debug("engine: controls applied", "camera", e.name, "count", applied)
	}
}

// absorb records an error that only costs the current cycle.
func (e *Engine) absorb(op string, err error) {
	cat := camera.Classify(err)
	if cat == camera.ErrCategoryResource {
		e.stats.resourceErrors.Add(1)
	}
	e.metrics.Error(cat.String())
	slog.Warn("engine: cycle error", "camera", e.name, "op", op, "category", cat.String(), "error", err)
}

// mustRelease releases a reference the engine owns. A failure means the
// reference accounting is broken.
func (e *Engine) mustRelease(r *request.Request) {
	if err := r.Release(); err != nil {
		e.fatal("release", err)
	}
}

func (e *Engine) fatal(op string, err error) {
	slog.Error("engine: reference count violation", "camera", e.name, "op", op, "error", err)
	panic(err)
}
