// Package outlet is the output pipeline the engine delivers frames into.
//
// Emit never blocks the capture loop: frames go into a small bounded queue
// and a dispatcher goroutine fans them out to subscribers. When the queue
// is full the overflow policy decides which frame is lost (drop-oldest by
// default, so consumers always see the newest capture).
//
// Subscribers come in two flavours:
//   - Subscribe: caller-owned channel, non-blocking send, frame dropped for
//     that subscriber when the channel is full.
//   - SubscribeLatest: single-slot mailbox, a new frame overwrites an
//     unread one.
package outlet

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/frame"
)

var (
	ErrStopped            = errors.New("outlet: pipeline stopped")
	ErrAlreadyStarted     = errors.New("outlet: pipeline already started")
	ErrSubscriberExists   = errors.New("outlet: subscriber already exists")
	ErrSubscriberNotFound = errors.New("outlet: subscriber not found")
	ErrNilChannel         = errors.New("outlet: channel is nil")
)

type subscriber struct {
	id      string
	ch      chan<- frame.Frame
	latest  *latest
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Pipeline is a non-blocking fan-out sink.
type Pipeline struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   *ring
	subs    map[string]*subscriber
	started bool
	stopped bool
	done    chan struct{}

	opts    options
	metrics *pipelineMetrics

	emitted    atomic.Uint64
	dropped    atomic.Uint64
	dispatched atomic.Uint64
}

// New creates a pipeline whose queue holds capacity frames.
func New(capacity int, opts ...Option) (*Pipeline, error) {
	o := options{policy: DropOldest}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Pipeline{
		queue: newRing(capacity),
		subs:  make(map[string]*subscriber),
		opts:  o,
	}
	p.cond = sync.NewCond(&p.mu)

	if o.reg != nil {
		m, err := newPipelineMetrics(o.reg, o.component)
		if err != nil {
			return nil, err
		}
		p.metrics = m
	}
	return p, nil
}

// Start spawns the dispatcher. Cancelling ctx stops the pipeline.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	p.done = make(chan struct{})
	p.mu.Unlock()

	go p.dispatch()
	go func() {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-p.done:
		}
	}()

	slog.Debug("outlet: started", "capacity", len(p.queue.items), "policy", p.opts.policy.String())
	return nil
}

// Emit queues f for delivery and never blocks. Returns false when a frame
// was lost: the oldest queued one under DropOldest, f itself under
// DropNewest or after Stop.
func (p *Pipeline) Emit(f frame.Frame) bool {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return false
	}

	accepted := true
	var lost frame.Frame
	if p.queue.full() {
		accepted = false
		if p.opts.policy == DropNewest {
			lost = f
		} else {
			lost, _ = p.queue.pop()
		}
	}
	if accepted || p.opts.policy == DropOldest {
		p.queue.push(f)
		p.emitted.Add(1)
		if p.metrics != nil {
			p.metrics.emitted.Inc()
		}
	}
	depth := p.queue.len()
	p.cond.Signal()
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.depth.Set(float64(depth))
	}
	if !accepted {
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		if p.opts.onDrop != nil {
			p.opts.onDrop(lost.Seq)
		}
	}
	return accepted
}

func (p *Pipeline) dispatch() {
	defer close(p.done)

	subs := make([]*subscriber, 0, 4)
	for {
		p.mu.Lock()
		for p.queue.len() == 0 && !p.stopped {
			p.cond.Wait()
		}
		if p.stopped {
			p.mu.Unlock()
			return
		}
		f, _ := p.queue.pop()
		depth := p.queue.len()
		subs = subs[:0]
		for _, s := range p.subs {
			subs = append(subs, s)
		}
		p.mu.Unlock()

		if p.metrics != nil {
			p.metrics.depth.Set(float64(depth))
		}
		p.fanOut(f, subs)
	}
}

func (p *Pipeline) fanOut(f frame.Frame, subs []*subscriber) {
	for _, s := range subs {
		if s.latest != nil {
			overwrote, ok := s.latest.put(f)
			if !ok {
				continue
			}
			s.sent.Add(1)
			if overwrote {
				p.subscriberDrop(s)
			}
			continue
		}
		select {
		case s.ch <- f:
			s.sent.Add(1)
		default:
			p.subscriberDrop(s)
		}
	}
	p.dispatched.Add(1)
	if p.metrics != nil {
		p.metrics.dispatched.Inc()
	}
}

func (p *Pipeline) subscriberDrop(s *subscriber) {
	s.dropped.Add(1)
	if p.metrics != nil {
		p.metrics.subDropped.WithLabelValues(s.id).Inc()
	}
}

// Subscribe registers a channel subscriber. The pipeline never closes ch.
func (p *Pipeline) Subscribe(id string, ch chan<- frame.Frame) error {
	if ch == nil {
		return ErrNilChannel
	}
	return p.add(&subscriber{id: id, ch: ch})
}

// SubscribeLatest registers a mailbox subscriber.
func (p *Pipeline) SubscribeLatest(id string) (Receiver, error) {
	s := &subscriber{id: id, latest: newLatest()}
	if err := p.add(s); err != nil {
		return nil, err
	}
	return s.latest, nil
}

func (p *Pipeline) add(s *subscriber) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	if _, exists := p.subs[s.id]; exists {
		return ErrSubscriberExists
	}
	p.subs[s.id] = s
	return nil
}

// Unsubscribe removes a subscriber and closes its mailbox.
func (p *Pipeline) Unsubscribe(id string) error {
	p.mu.Lock()
	s, ok := p.subs[id]
	delete(p.subs, id)
	p.mu.Unlock()

	if !ok {
		return ErrSubscriberNotFound
	}
	if s.latest != nil {
		s.latest.close()
	}
	return nil
}

// Stop halts dispatch, discards queued frames and closes every mailbox.
// Idempotent.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.queue.reset()
	done := p.done
	subs := p.subs
	p.subs = make(map[string]*subscriber)
	p.cond.Broadcast()
	p.mu.Unlock()

	if done != nil {
		<-done
	}
	for _, s := range subs {
		if s.latest != nil {
			s.latest.close()
		}
	}
	slog.Debug("outlet: stopped", "emitted", p.emitted.Load(), "dropped", p.dropped.Load())
}

// SubscriberStats counts frames handed to one subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

// Stats is a point-in-time snapshot.
type Stats struct {
	Emitted     uint64
	Dropped     uint64
	Dispatched  uint64
	Queued      int
	Subscribers map[string]SubscriberStats
}

// Stats returns a snapshot of pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{
		Emitted:     p.emitted.Load(),
		Dropped:     p.dropped.Load(),
		Dispatched:  p.dispatched.Load(),
		Queued:      p.queue.len(),
		Subscribers: make(map[string]SubscriberStats, len(p.subs)),
	}
	for id, s := range p.subs {
		st.Subscribers[id] = SubscriberStats{Sent: s.sent.Load(), Dropped: s.dropped.Load()}
	}
	return st
}
