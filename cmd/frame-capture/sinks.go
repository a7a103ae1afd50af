package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/engine"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/frame"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/metrics"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/outlet"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/recorder"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/warmup"
)

const (
	recorderID    = "recorder"
	warmupID      = "warmup"
	subscriberBuf = 16
)

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("frame-capture: serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("frame-capture: metrics server failed", "addr", addr, "error", err)
		}
	}()
	return server
}

// startRecorder subscribes a recorder to out. The returned func
// unsubscribes and closes the file once the writer has flushed.
func startRecorder(ctx context.Context, wg *sync.WaitGroup, out *outlet.Pipeline, path string) (func(), error) {
	file, err := recorder.Create(path)
	if err != nil {
		return nil, err
	}
	frames := make(chan frame.Frame, subscriberBuf)
	if err := out.Subscribe(recorderID, frames); err != nil {
		file.Close()
		return nil, err
	}

	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		if err := file.Run(ctx, frames); err != nil {
			slog.Error("frame-capture: recorder stopped", "path", path, "error", err)
		}
	}()
	slog.Info("frame-capture: recording", "path", path, "compressed", strings.HasSuffix(path, recorder.CompressedSuffix))

	return func() {
		_ = out.Unsubscribe(recorderID)
		<-done
		records, bytes := file.Stats()
		if err := file.Close(); err != nil {
			slog.Warn("frame-capture: closing record file failed", "path", path, "error", err)
		}
		slog.Info("frame-capture: recording closed", "path", path, "records", records, "size", humanize.Bytes(bytes))
	}, nil
}

// runWarmup measures delivery stability for d. Unstable or failed
// measurements are reported, capture continues either way.
func runWarmup(ctx context.Context, out *outlet.Pipeline, d time.Duration) {
	frames := make(chan frame.Frame, subscriberBuf)
	if err := out.Subscribe(warmupID, frames); err != nil {
		slog.Warn("frame-capture: warm-up skipped", "error", err)
		return
	}
	defer func() { _ = out.Unsubscribe(warmupID) }()

	slog.Info("frame-capture: warming up", "duration", d)
	st, err := warmup.Measure(ctx, frames, d)
	if st == nil {
		slog.Warn("frame-capture: warm-up failed", "error", err)
		return
	}
	attrs := []any{
		"frames", st.Frames,
		"fps_mean", fmt.Sprintf("%.2f", st.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", st.FPSStdDev),
		"jitter_max_ms", fmt.Sprintf("%.1f", st.JitterMax*1000),
		"stable", st.Stable,
	}
	if err != nil {
		slog.Warn("frame-capture: warm-up unstable", append(attrs, "error", err)...)
		return
	}
	slog.Info("frame-capture: warm-up complete", attrs...)
}

func logStats(es engine.Stats, ps outlet.Stats) {
	slog.Info("frame-capture: final stats",
		"generation", es.Generation,
		"completed", es.Completed,
		"delivered", es.Delivered,
		"recycled", es.Recycled,
		"discarded", es.Discarded,
		"resource_errors", es.ResourceErrors,
		"extract_errors", es.ExtractErrors,
		"output_emitted", ps.Emitted,
		"output_dropped", ps.Dropped,
		"output_dispatched", ps.Dispatched,
	)
}
