package engine

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/camera"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/request"
)

// SetControls merges ctrls into the pending set, last write wins per key.
// The set is applied to exactly one request, the next one recycled (or the
// camera start, if not running yet), and then cleared.
func (e *Engine) SetControls(ctrls camera.Controls) error {
	known := e.cam.Controls()
	for name := range ctrls {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("engine: set controls %q: %w", name, camera.ErrUnknownControl)
		}
	}

	e.controlsMu.Lock()
	e.pending.Merge(ctrls)
	n := len(e.pending)
	e.controlsMu.Unlock()

	slog.Debug("engine: controls pending", "camera", e.name, "names", slices.Sorted(maps.Keys(ctrls)), "pending", n)
	return nil
}

// PendingControls returns a copy of the controls not yet applied.
func (e *Engine) PendingControls() camera.Controls {
	e.controlsMu.Lock()
	defer e.controlsMu.Unlock()
	return maps.Clone(e.pending)
}

// ListControls returns the controls the camera accepts.
func (e *Engine) ListControls() map[string]camera.ControlInfo {
	return e.cam.Controls()
}

// AcquireCurrent returns the currently displayed request with an extra
// reference, or false when nothing is retained. Without a displayed request
// (no display stream, or no frame extracted yet) the newest queued
// request is returned instead. The caller must Release it.
func (e *Engine) AcquireCurrent() (*request.Request, bool) {
	e.displayMu.Lock()
	if cur := e.current; cur != nil {
		defer e.displayMu.Unlock()
		if err := cur.Acquire(); err != nil {
			e.fatal("acquire current", err)
		}
		return cur, true
	}
	e.displayMu.Unlock()

	latest, err := e.queue.Latest()
	if err != nil {
		e.fatal("acquire latest", err)
	}
	return latest, latest != nil
}
