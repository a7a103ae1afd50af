package outlet

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

type pipelineMetrics struct {
	emitted    prometheus.Counter
	dropped    prometheus.Counter
	dispatched prometheus.Counter
	depth      prometheus.Gauge
	subDropped *prometheus.CounterVec
}

func newPipelineMetrics(reg prometheus.Registerer, component string) (*pipelineMetrics, error) {
	labels := prometheus.Labels{"component": component}
	m := &pipelineMetrics{
		emitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "frame_lifecycle",
			Subsystem:   "output",
			Name:        "frames_emitted_total",
			Help:        "Frames accepted by the output pipeline",
			ConstLabels: labels,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "frame_lifecycle",
			Subsystem:   "output",
			Name:        "frames_dropped_total",
			Help:        "Frames lost to queue overflow",
			ConstLabels: labels,
		}),
		dispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "frame_lifecycle",
			Subsystem:   "output",
			Name:        "frames_dispatched_total",
			Help:        "Frames fanned out to subscribers",
			ConstLabels: labels,
		}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "frame_lifecycle",
			Subsystem:   "output",
			Name:        "queue_depth",
			Help:        "Frames waiting for dispatch",
			ConstLabels: labels,
		}),
		subDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "frame_lifecycle",
			Subsystem:   "output",
			Name:        "subscriber_dropped_total",
			Help:        "Frames a subscriber missed because it was not keeping up",
			ConstLabels: labels,
		}, []string{"subscriber"}),
	}
	for _, c := range []prometheus.Collector{m.emitted, m.dropped, m.dispatched, m.depth, m.subDropped} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("outlet: register metrics: %w", err)
		}
	}
	return m, nil
}
