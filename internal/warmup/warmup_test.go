package warmup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/frame"
)

func evenStamps(n int, interval time.Duration) []time.Time {
	base := time.Unix(1_700_000_000, 0)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = base.Add(time.Duration(i) * interval)
	}
	return out
}

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name       string
		stamps     []time.Time
		total      time.Duration
		wantStable bool
		wantMean   float64
	}{
		{
			name:       "steady 30 fps",
			stamps:     evenStamps(30, time.Second/30),
			total:      time.Second,
			wantStable: true,
			wantMean:   30,
		},
		{
			name:       "steady 5 fps",
			stamps:     evenStamps(10, 200*time.Millisecond),
			total:      2 * time.Second,
			wantStable: true,
			wantMean:   5,
		},
		{
			name: "bursty",
			stamps: func() []time.Time {
				s := evenStamps(10, 10*time.Millisecond)
				return append(s, s[len(s)-1].Add(500*time.Millisecond), s[len(s)-1].Add(510*time.Millisecond))
			}(),
			total:      time.Second,
			wantStable: false,
			wantMean:   12,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Analyze(tt.stamps, tt.total)
			assert.Equal(t, len(tt.stamps), st.Frames)
			assert.InDelta(t, tt.wantMean, st.FPSMean, 0.01)
			assert.Equal(t, tt.wantStable, st.Stable)
			assert.LessOrEqual(t, st.FPSMin, st.FPSMax)
		})
	}
}

func TestAnalyze_Degenerate(t *testing.T) {
	st := Analyze(nil, time.Second)
	assert.Equal(t, 0, st.Frames)
	assert.False(t, st.Stable)

	same := time.Now()
	st = Analyze([]time.Time{same, same}, time.Second)
	assert.Equal(t, 2.0, st.FPSMean)
	assert.False(t, st.Stable, "zero intervals carry no rate")
}

func TestMeasure(t *testing.T) {
	frames := make(chan frame.Frame, 64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for seq := uint64(1); ; seq++ {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				frames <- frame.Frame{Seq: seq, Timestamp: now}
			}
		}
	}()

	st, err := Measure(ctx, frames, 300*time.Millisecond)
	if err != nil {
		// Scheduler noise on a loaded machine can make the window unstable;
		// the stats are still returned.
		require.NotNil(t, st)
		t.Logf("warm-up reported unstable: %v", err)
		return
	}
	assert.Greater(t, st.Frames, 10)
	assert.InDelta(t, 100, st.FPSMean, 50)
}

func TestMeasure_Failures(t *testing.T) {
	closed := make(chan frame.Frame)
	close(closed)
	_, err := Measure(context.Background(), closed, time.Second)
	assert.Error(t, err)

	silent := make(chan frame.Frame)
	_, err = Measure(context.Background(), silent, 20*time.Millisecond)
	assert.ErrorContains(t, err, "not enough frames")
}
