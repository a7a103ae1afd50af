package warmup

import (
	"math"
	"time"
)

// Analyze computes timing statistics over frame timestamps observed during
// a window of length total.
func Analyze(stamps []time.Time, total time.Duration) *Stats {
	st := &Stats{Frames: len(stamps), Duration: total}
	if len(stamps) == 0 || total <= 0 {
		return st
	}
	st.FPSMean = float64(len(stamps)) / total.Seconds()

	intervals := make([]float64, 0, len(stamps)-1)
	for i := 1; i < len(stamps); i++ {
		intervals = append(intervals, stamps[i].Sub(stamps[i-1]).Seconds())
	}

	rates := make([]float64, 0, len(intervals))
	for _, iv := range intervals {
		if iv > 0 {
			rates = append(rates, 1/iv)
		}
	}
	if len(rates) == 0 {
		return st
	}
	st.FPSMin, st.FPSMax = bounds(rates)
	st.FPSStdDev = spread(rates, st.FPSMean)

	expected := 1 / st.FPSMean
	jitter := make([]float64, len(intervals))
	for i, iv := range intervals {
		jitter[i] = math.Abs(iv - expected)
	}
	st.JitterMean = mean(jitter)
	st.JitterStdDev = spread(jitter, st.JitterMean)
	_, st.JitterMax = bounds(jitter)

	st.Stable = st.FPSStdDev < st.FPSMean*fpsSpreadLimit && st.JitterMean < expected*jitterLimit
	return st
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// spread is the root mean square deviation of xs around center.
func spread(xs []float64, center float64) float64 {
	var sq float64
	for _, x := range xs {
		d := x - center
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)))
}

func bounds(xs []float64) (lo, hi float64) {
	lo, hi = xs[0], xs[0]
	for _, x := range xs[1:] {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return lo, hi
}
