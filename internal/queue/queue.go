// Package queue holds completed requests between hardware completion and
// delivery.
//
// The queue is bounded by a retention limit derived from the buffer pool:
// with a single buffer nothing may be retained (the hardware would starve),
// otherwise one completed request is kept for consumers that want the
// latest capture. Trimming releases oldest first.
package queue

import (
	"sync"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/request"
)

// RetentionLimit returns how many completed requests may stay queued for a
// pool of the given size.
func RetentionLimit(poolSize int) int {
	if poolSize <= 1 {
		return 0
	}
	return 1
}

// Completion is the ordered list of completed requests, oldest first.
type Completion struct {
	mu    sync.Mutex
	items []*request.Request
	limit int
}

// New creates an empty queue with the given retention limit.
func New(limit int) *Completion {
	return &Completion{limit: limit}
}

// SetLimit changes the retention limit used by the next Push.
func (q *Completion) SetLimit(limit int) {
	q.mu.Lock()
	q.limit = limit
	q.mu.Unlock()
}

// Limit returns the retention limit.
func (q *Completion) Limit() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.limit
}

// Push appends reqs, takes an extra reference on the newest entry for
// display and removes the oldest entries beyond the retention limit.
//
// Returns the display candidate (nil when reqs is empty) and the trimmed
// requests. The caller releases trimmed entries, and the display candidate
// when done, outside the queue lock.
func (q *Completion) Push(reqs []*request.Request) (display *request.Request, trimmed []*request.Request, err error) {
	if len(reqs) == 0 {
		return nil, nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, reqs...)
	display = q.items[len(q.items)-1]
	if err := display.Acquire(); err != nil {
		return nil, nil, err
	}

	if excess := len(q.items) - q.limit; excess > 0 {
		trimmed = make([]*request.Request, excess)
		copy(trimmed, q.items[:excess])
		clear(q.items[:excess])
		q.items = q.items[excess:]
	}
	return display, trimmed, nil
}

// Latest returns the newest queued request with an extra reference, or nil.
func (q *Completion) Latest() (*request.Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil, nil
	}
	r := q.items[len(q.items)-1]
	if err := r.Acquire(); err != nil {
		return nil, err
	}
	return r, nil
}

// Flush empties the queue and returns its entries for release.
func (q *Completion) Flush() []*request.Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// Len returns the number of queued requests.
func (q *Completion) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
