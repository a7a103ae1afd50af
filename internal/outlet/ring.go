package outlet

import "github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/frame"

// ring is a fixed-capacity FIFO of frames. Not safe for concurrent use.
type ring struct {
	items []frame.Frame
	head  int // next write
	tail  int // next read
	size  int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{items: make([]frame.Frame, capacity)}
}

func (r *ring) full() bool { return r.size == len(r.items) }
func (r *ring) len() int   { return r.size }

func (r *ring) push(f frame.Frame) {
	r.items[r.head] = f
	r.head = (r.head + 1) % len(r.items)
	r.size++
}

func (r *ring) pop() (frame.Frame, bool) {
	if r.size == 0 {
		return frame.Frame{}, false
	}
	f := r.items[r.tail]
	r.items[r.tail] = frame.Frame{}
	r.tail = (r.tail + 1) % len(r.items)
	r.size--
	return f, true
}

func (r *ring) reset() {
	clear(r.items)
	r.head, r.tail, r.size = 0, 0, 0
}
