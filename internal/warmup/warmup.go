// Package warmup measures the delivered frame rate before a capture run is
// trusted: it consumes frames for a fixed window and rejects a stream whose
// rate or inter-frame timing is unstable.
package warmup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/frame"
)

const (
	// A stream is stable when the spread of instantaneous FPS stays below
	// this fraction of the mean rate...
	fpsSpreadLimit = 0.15
	// ...and the mean deviation from the expected interval stays below this
	// fraction of that interval.
	jitterLimit = 0.20
)

// Stats summarizes one warm-up window.
type Stats struct {
	Frames   int
	Duration time.Duration

	FPSMean   float64
	FPSStdDev float64
	FPSMin    float64
	FPSMax    float64

	// Jitter is the absolute deviation of each interval from 1/FPSMean, in seconds.
	JitterMean   float64
	JitterStdDev float64
	JitterMax    float64

	Stable bool
}

// Measure consumes frames for duration and returns their timing statistics.
// Fails when the channel closes, fewer than two frames arrive, or the rate
// is unstable. Cancelling ctx ends the window early.
func Measure(ctx context.Context, frames <-chan frame.Frame, duration time.Duration) (*Stats, error) {
	slog.Info("warmup: measuring frame rate", "duration", duration)

	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	start := time.Now()
	stamps := make([]time.Time, 0, 128)
collect:
	for {
		select {
		case <-ctx.Done():
			break collect
		case f, ok := <-frames:
			if !ok {
				return nil, fmt.Errorf("warmup: frame channel closed after %d frames", len(stamps))
			}
			stamps = append(stamps, f.Timestamp)
		}
	}

	if len(stamps) < 2 {
		return nil, fmt.Errorf("warmup: not enough frames (got %d, need at least 2)", len(stamps))
	}

	st := Analyze(stamps, time.Since(start))
	slog.Info("warmup: done",
		"frames", st.Frames,
		"fps_mean", fmt.Sprintf("%.2f", st.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", st.FPSStdDev),
		"fps_range", fmt.Sprintf("%.1f-%.1f", st.FPSMin, st.FPSMax),
		"jitter_mean", fmt.Sprintf("%.4fs", st.JitterMean),
		"stable", st.Stable,
	)
	if !st.Stable {
		return st, fmt.Errorf("warmup: frame rate unstable (mean=%.2f fps, stddev=%.2f, jitter=%.4fs)",
			st.FPSMean, st.FPSStdDev, st.JitterMean)
	}
	return st, nil
}
