package engine

import (
	"log/slog"
	"sync"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/camera"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/request"
)

// poolLease ties a buffer pool to the completed requests wrapped from it.
// Once retired by Configure or Close the pool is closed by whichever comes
// last: the retirement or the recycling of its final outstanding request.
// A consumer holding a frame across Stop and Configure keeps mapping a
// live buffer.
type poolLease struct {
	e    *Engine
	pool camera.BufferPool

	mu      sync.Mutex
	live    int
	retired bool
}

func newPoolLease(e *Engine, pool camera.BufferPool) *poolLease {
	return &poolLease{e: e, pool: pool}
}

// wrap stamps raw with generation and counts it against the pool.
func (l *poolLease) wrap(raw camera.Request, generation uint64) *request.Request {
	l.mu.Lock()
	l.live++
	l.mu.Unlock()
	return request.New(raw, generation, l)
}

// Recycle hands raw back to the engine, then closes the pool if it was
// retired and raw was its last outstanding request.
func (l *poolLease) Recycle(raw camera.Request, generation uint64) {
	l.e.Recycle(raw, generation)

	l.mu.Lock()
	l.live--
	last := l.retired && l.live == 0
	l.mu.Unlock()

	if last {
		slog.Debug("engine: last request of retired pool recycled", "camera", l.e.name, "generation", generation)
		if err := l.pool.Close(); err != nil {
			slog.Warn("engine: closing retired buffer pool failed", "camera", l.e.name, "error", err)
		}
	}
}

// retire marks the pool as no longer used by the engine and closes it if
// nothing is outstanding.
func (l *poolLease) retire() error {
	l.mu.Lock()
	l.retired = true
	n := l.live
	l.mu.Unlock()

	if n > 0 {
		slog.Info("engine: buffer pool retired with requests outstanding", "camera", l.e.name, "outstanding", n)
		return nil
	}
	return l.pool.Close()
}
