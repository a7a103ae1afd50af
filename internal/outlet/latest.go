package outlet

import (
	"sync"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/frame"
)

// Receiver is a single-slot mailbox: a new frame overwrites an unread one.
type Receiver interface {
	// Receive blocks until an unread frame is available. Returns false once
	// the receiver is closed.
	Receive() (frame.Frame, bool)
	// TryReceive returns the unread frame without blocking.
	TryReceive() (frame.Frame, bool)
}

type latest struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  frame.Frame
	unread bool
	closed bool
}

func newLatest() *latest {
	l := &latest{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// put stores f and reports whether an unread frame was overwritten.
func (l *latest) put(f frame.Frame) (overwrote bool, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false, false
	}
	overwrote = l.unread
	l.frame, l.unread = f, true
	l.cond.Signal()
	return overwrote, true
}

func (l *latest) Receive() (frame.Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for !l.unread && !l.closed {
		l.cond.Wait()
	}
	if l.closed {
		return frame.Frame{}, false
	}
	l.unread = false
	return l.frame, true
}

func (l *latest) TryReceive() (frame.Frame, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.unread || l.closed {
		return frame.Frame{}, false
	}
	l.unread = false
	return l.frame, true
}

func (l *latest) close() {
	l.mu.Lock()
	l.closed = true
	l.frame = frame.Frame{}
	l.cond.Broadcast()
	l.mu.Unlock()
}
