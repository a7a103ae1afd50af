package outlet

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/frame"
)

func seqFrame(seq uint64) frame.Frame {
	return frame.Frame{Seq: seq, Data: []byte{byte(seq)}}
}

func recv(t *testing.T, ch <-chan frame.Frame) frame.Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return frame.Frame{}
	}
}

// Scenario: the dispatcher is not running, the queue fills up and every
// further Emit evicts the oldest frame.
func TestEmit_DropOldestWhenFull(t *testing.T) {
	var lost []uint64
	p, err := New(2, WithDropCallback(func(seq uint64) { lost = append(lost, seq) }))
	require.NoError(t, err)
	defer p.Stop()

	assert.True(t, p.Emit(seqFrame(1)))
	assert.True(t, p.Emit(seqFrame(2)))
	assert.False(t, p.Emit(seqFrame(3)))
	assert.False(t, p.Emit(seqFrame(4)))
	assert.Equal(t, []uint64{1, 2}, lost)

	ch := make(chan frame.Frame, 4)
	require.NoError(t, p.Subscribe("cam", ch))
	require.NoError(t, p.Start(context.Background()))

	assert.Equal(t, uint64(3), recv(t, ch).Seq)
	assert.Equal(t, uint64(4), recv(t, ch).Seq)

	st := p.Stats()
	assert.Equal(t, uint64(2), st.Dropped)
	assert.Equal(t, uint64(4), st.Emitted)
}

func TestEmit_DropNewest(t *testing.T) {
	p, err := New(1, WithOverflowPolicy(DropNewest))
	require.NoError(t, err)
	defer p.Stop()

	assert.True(t, p.Emit(seqFrame(1)))
	assert.False(t, p.Emit(seqFrame(2)))

	ch := make(chan frame.Frame, 1)
	require.NoError(t, p.Subscribe("cam", ch))
	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, uint64(1), recv(t, ch).Seq)
}

// A slow channel subscriber loses frames without stalling the others.
func TestFanOut_SlowSubscriberDropsAlone(t *testing.T) {
	p, err := New(8)
	require.NoError(t, err)
	defer p.Stop()

	slow := make(chan frame.Frame)
	fast := make(chan frame.Frame, 8)
	require.NoError(t, p.Subscribe("slow", slow))
	require.NoError(t, p.Subscribe("fast", fast))
	require.NoError(t, p.Start(context.Background()))

	for i := uint64(1); i <= 3; i++ {
		p.Emit(seqFrame(i))
	}
	for i := uint64(1); i <= 3; i++ {
		assert.Equal(t, i, recv(t, fast).Seq)
	}

	assert.Eventually(t, func() bool {
		st := p.Stats()
		return st.Subscribers["fast"].Sent == 3 && st.Subscribers["slow"].Dropped == 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSubscribeLatest_Overwrites(t *testing.T) {
	p, err := New(8)
	require.NoError(t, err)
	defer p.Stop()

	rx, err := p.SubscribeLatest("display")
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))

	p.Emit(seqFrame(1))
	p.Emit(seqFrame(2))
	require.Eventually(t, func() bool {
		return p.Stats().Subscribers["display"].Sent == 2
	}, 2*time.Second, 5*time.Millisecond)

	f, ok := rx.TryReceive()
	require.True(t, ok)
	assert.Equal(t, uint64(2), f.Seq)

	_, ok = rx.TryReceive()
	assert.False(t, ok, "frame already consumed")
	assert.Equal(t, uint64(1), p.Stats().Subscribers["display"].Dropped)

	p.Emit(seqFrame(3))
	f, ok = rx.Receive()
	require.True(t, ok)
	assert.Equal(t, uint64(3), f.Seq)
}

func TestSubscribe_Errors(t *testing.T) {
	p, err := New(1)
	require.NoError(t, err)

	assert.ErrorIs(t, p.Subscribe("a", nil), ErrNilChannel)
	require.NoError(t, p.Subscribe("a", make(chan frame.Frame)))
	assert.ErrorIs(t, p.Subscribe("a", make(chan frame.Frame)), ErrSubscriberExists)
	assert.ErrorIs(t, p.Unsubscribe("missing"), ErrSubscriberNotFound)
	require.NoError(t, p.Unsubscribe("a"))

	p.Stop()
	assert.ErrorIs(t, p.Subscribe("b", make(chan frame.Frame)), ErrStopped)
	assert.ErrorIs(t, p.Start(context.Background()), ErrStopped)
}

func TestStop_Idempotent(t *testing.T) {
	p, err := New(1)
	require.NoError(t, err)
	rx, err := p.SubscribeLatest("display")
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)

	received := make(chan bool)
	go func() {
		_, ok := rx.Receive()
		received <- ok
	}()

	p.Stop()
	p.Stop()
	assert.False(t, <-received, "blocked receiver wakes on stop")
	assert.False(t, p.Emit(seqFrame(1)))
}

func TestStart_ContextCancelStops(t *testing.T) {
	p, err := New(1)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))

	cancel()
	assert.Eventually(t, func() bool { return !p.Emit(seqFrame(1)) }, 2*time.Second, 10*time.Millisecond)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := New(1, WithMetrics(reg, "test"))
	require.NoError(t, err)
	defer p.Stop()

	p.Emit(seqFrame(1))
	p.Emit(seqFrame(2))

	assert.Equal(t, 2.0, testutil.ToFloat64(p.metrics.emitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.dropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.depth))

	_, err = New(1, WithMetrics(reg, "test"))
	assert.Error(t, err, "duplicate registration")
}

func TestParsePolicy(t *testing.T) {
	for _, p := range []OverflowPolicy{DropOldest, DropNewest} {
		got, ok := ParsePolicy(p.String())
		assert.True(t, ok)
		assert.Equal(t, p, got)
	}
	_, ok := ParsePolicy("block")
	assert.False(t, ok)
}
