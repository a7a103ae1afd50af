// Package metrics exposes request-lifecycle counters to Prometheus.
//
// Every method is safe on a nil *Engine so callers can keep metrics
// optional without guarding each call.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "frame_lifecycle"

// Engine holds the collectors for one engine instance.
type Engine struct {
	completed  prometheus.Counter
	delivered  prometheus.Counter
	dropped    prometheus.Counter
	recycled   prometheus.Counter
	discarded  prometheus.Counter
	stale      prometheus.Counter
	errors     *prometheus.CounterVec
	generation prometheus.Gauge
	queueDepth prometheus.Gauge
	running    prometheus.Gauge
}

// NewEngine registers engine collectors labelled with the camera name.
func NewEngine(reg prometheus.Registerer, cameraName string) (*Engine, error) {
	labels := prometheus.Labels{"camera": cameraName}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: name, Help: help, ConstLabels: labels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "engine", Name: name, Help: help, ConstLabels: labels,
		})
	}

	m := &Engine{
		completed: counter("requests_completed_total", "Completed requests drained from hardware"),
		delivered: counter("frames_delivered_total", "Frames handed to the output pipeline"),
		dropped:   counter("frames_dropped_total", "Frames the output pipeline reported as lost"),
		recycled:  counter("requests_recycled_total", "Requests re-queued to hardware"),
		discarded: counter("requests_discarded_total", "Requests dropped because their generation ended"),
		stale:     counter("stale_frames_total", "Display candidates skipped for a stale generation"),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "errors_total",
			Help: "Absorbed per-cycle errors by category", ConstLabels: labels,
		}, []string{"category"}),
		generation: gauge("generation", "Current configuration generation"),
		queueDepth: gauge("completion_queue_depth", "Completed requests retained after trimming"),
		running:    gauge("running", "1 while the capture loop runs"),
	}

	for _, c := range []prometheus.Collector{
		m.completed, m.delivered, m.dropped, m.recycled, m.discarded, m.stale,
		m.errors, m.generation, m.queueDepth, m.running,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register engine collectors: %w", err)
		}
	}
	return m, nil
}

func (m *Engine) Completed(n int) {
	if m != nil {
		m.completed.Add(float64(n))
	}
}

func (m *Engine) Delivered() {
	if m != nil {
		m.delivered.Inc()
	}
}

func (m *Engine) Dropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Engine) Recycled() {
	if m != nil {
		m.recycled.Inc()
	}
}

func (m *Engine) Discarded() {
	if m != nil {
		m.discarded.Inc()
	}
}

func (m *Engine) Stale() {
	if m != nil {
		m.stale.Inc()
	}
}

// Error counts an absorbed error under its category label.
func (m *Engine) Error(category string) {
	if m != nil {
		m.errors.WithLabelValues(category).Inc()
	}
}

func (m *Engine) SetGeneration(g uint64) {
	if m != nil {
		m.generation.Set(float64(g))
	}
}

func (m *Engine) SetQueueDepth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}

func (m *Engine) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.running.Set(1)
	} else {
		m.running.Set(0)
	}
}

// NewRegistry returns a registry preloaded with Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
