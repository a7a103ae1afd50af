package outlet

import "github.com/prometheus/client_golang/prometheus"

// OverflowPolicy decides which frame is lost when the queue is full.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest queued frame to admit the new one.
	DropOldest OverflowPolicy = iota
	// DropNewest rejects the new frame.
	DropNewest
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	default:
		return "unknown"
	}
}

// ParsePolicy accepts the names produced by String.
func ParsePolicy(s string) (OverflowPolicy, bool) {
	switch s {
	case "", "drop_oldest":
		return DropOldest, true
	case "drop_newest":
		return DropNewest, true
	default:
		return DropOldest, false
	}
}

type options struct {
	policy    OverflowPolicy
	reg       prometheus.Registerer
	component string
	onDrop    func(seq uint64)
}

// Option configures a Pipeline.
type Option func(*options)

// WithOverflowPolicy sets the overflow policy. Default DropOldest.
func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithMetrics exposes pipeline statistics as Prometheus metrics labelled
// with component.
func WithMetrics(reg prometheus.Registerer, component string) Option {
	return func(o *options) {
		o.reg = reg
		o.component = component
	}
}

// WithDropCallback is invoked with the sequence number of every frame lost
// to overflow. Runs outside the pipeline lock.
func WithDropCallback(fn func(seq uint64)) Option {
	return func(o *options) { o.onDrop = fn }
}
