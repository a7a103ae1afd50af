package engine

import (
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/queue"
)

type counters struct {
	completed      atomic.Uint64
	delivered      atomic.Uint64
	dropped        atomic.Uint64
	recycled       atomic.Uint64
	discarded      atomic.Uint64
	stale          atomic.Uint64
	resourceErrors atomic.Uint64
	extractErrors  atomic.Uint64
}

// Stats is a point-in-time snapshot of the engine.
type Stats struct {
	State          State
	Generation     uint64
	PoolSize       int
	RetentionLimit int
	QueueLen       int

	// Completed requests drained from hardware.
	Completed uint64
	// Delivered frames emitted to the outlet, Dropped of those reported lost.
	Delivered uint64
	Dropped   uint64
	// Recycled requests re-queued to hardware.
	Recycled uint64
	// Discarded requests from an ended generation, or drained after stop.
	Discarded uint64
	// Stale display candidates skipped.
	Stale          uint64
	ResourceErrors uint64
	ExtractErrors  uint64
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	state, poolSize := e.state, e.poolSize
	e.mu.RUnlock()

	return Stats{
		State:          state,
		Generation:     e.generation.Load(),
		PoolSize:       poolSize,
		RetentionLimit: queue.RetentionLimit(poolSize),
		QueueLen:       e.queue.Len(),
		Completed:      e.stats.completed.Load(),
		Delivered:      e.stats.delivered.Load(),
		Dropped:        e.stats.dropped.Load(),
		Recycled:       e.stats.recycled.Load(),
		Discarded:      e.stats.discarded.Load(),
		Stale:          e.stats.stale.Load(),
		ResourceErrors: e.stats.resourceErrors.Load(),
		ExtractErrors:  e.stats.extractErrors.Load(),
	}
}
