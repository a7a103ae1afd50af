package engine

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/buffer"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/camera"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/camera/camtest"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/frame"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/request"
)

const waitFor = 2 * time.Second

// sink is an Outlet that records every frame.
type sink struct {
	mu     sync.Mutex
	frames []frame.Frame
	reject bool
}

func (s *sink) Emit(f frame.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return !s.reject
}

func (s *sink) Frames() []frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]frame.Frame(nil), s.frames...)
}

type harness struct {
	cam  *camtest.Camera
	cfgr *camtest.Configurator
	out  *sink
	eng  *Engine
	cfg  camera.Config
}

func newHarness(t *testing.T, buffers int) *harness {
	t.Helper()
	h := &harness{
		cam:  camtest.New(t),
		cfgr: &camtest.Configurator{},
		out:  &sink{},
	}
	eng, err := New(h.cam, h.cfgr, h.out, WithPollTimeout(10*time.Millisecond), WithName("test"))
	require.NoError(t, err)
	h.eng = eng
	t.Cleanup(func() { _ = eng.Close() })

	h.cfg = camera.PreviewConfig(camera.Size{Width: 64, Height: 32}, 30, "RGB888")
	h.cfg.BufferCount = buffers
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	require.NoError(t, h.eng.Configure(h.cfg))
	require.NoError(t, h.eng.Start())
}

func (h *harness) waitCompleted(t *testing.T, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return h.eng.Stats().Completed >= n }, waitFor, time.Millisecond)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	cam := camtest.New(t)
	_, err := New(nil, &camtest.Configurator{}, &sink{})
	assert.Error(t, err)
	_, err = New(cam, nil, &sink{})
	assert.Error(t, err)
	_, err = New(cam, &camtest.Configurator{}, nil)
	assert.Error(t, err)
}

func TestLifecycle_StatesAndGenerations(t *testing.T) {
	h := newHarness(t, 4)
	assert.Equal(t, StateStopped, h.eng.State())

	require.NoError(t, h.eng.Configure(h.cfg))
	assert.Equal(t, StateConfiguring, h.eng.State())
	assert.Equal(t, uint64(1), h.eng.Generation())

	require.NoError(t, h.eng.Start())
	assert.Equal(t, StateRunning, h.eng.State())
	assert.ErrorIs(t, h.eng.Start(), camera.ErrAlreadyRunning)
	assert.ErrorIs(t, h.eng.Configure(h.cfg), camera.ErrAlreadyRunning)

	require.NoError(t, h.eng.Stop())
	assert.Equal(t, StateStopped, h.eng.State())
	assert.Equal(t, uint64(2), h.eng.Generation())

	// Stop twice is the same as stop once.
	require.NoError(t, h.eng.Stop())
	assert.Equal(t, uint64(2), h.eng.Generation())
	assert.Equal(t, 1, h.cam.Stops())

	// Restart reuses the configuration.
	require.NoError(t, h.eng.Start())
	assert.Equal(t, StateRunning, h.eng.State())
	require.NoError(t, h.eng.Stop())
	assert.Equal(t, uint64(3), h.eng.Generation())
}

func TestStart_NotConfigured(t *testing.T) {
	h := newHarness(t, 4)
	assert.ErrorIs(t, h.eng.Start(), camera.ErrNotConfigured)
	assert.Equal(t, StateStopped, h.eng.State())
}

func TestConfigure_Errors(t *testing.T) {
	h := newHarness(t, 4)

	bad := h.cfg
	bad.Main.Format = "MJPEG"
	assert.ErrorIs(t, h.eng.Configure(bad), camera.ErrConfig)

	h.cfgr.FailAllocate = true
	assert.ErrorIs(t, h.eng.Configure(h.cfg), camera.ErrAllocation)
	assert.Equal(t, StateStopped, h.eng.State())
	assert.Equal(t, uint64(0), h.eng.Generation())
}

// Reconfiguring closes the previous pool and starts a new generation.
func TestConfigure_Reconfigure(t *testing.T) {
	h := newHarness(t, 2)
	require.NoError(t, h.eng.Configure(h.cfg))
	require.NoError(t, h.eng.Configure(h.cfg))

	require.Len(t, h.cfgr.Pools, 2)
	assert.True(t, h.cfgr.Pools[0].Closed())
	assert.False(t, h.cfgr.Pools[1].Closed())
	assert.Equal(t, uint64(2), h.eng.Generation())

	cfg, ok := h.eng.Config()
	require.True(t, ok)
	assert.Equal(t, 192, cfg.Main.Stride)
	assert.Equal(t, 64*32*3, cfg.Main.FrameSize)
}

func TestStart_CreateFailureSurfaces(t *testing.T) {
	h := newHarness(t, 4)
	require.NoError(t, h.eng.Configure(h.cfg))
	h.cam.SetFailCreate(true)

	err := h.eng.Start()
	assert.ErrorIs(t, err, camera.ErrResource)
	assert.Equal(t, StateConfiguring, h.eng.State())
	assert.Empty(t, h.cam.Queued())
}

func TestStart_QueuesOneRequestPerBuffer(t *testing.T) {
	h := newHarness(t, 4)
	h.cfg.Lores = &camera.StreamConfig{Format: "YUV420", Size: camera.Size{Width: 32, Height: 16}}
	h.run(t)

	assert.Equal(t, 4, h.cam.Created())
	queued := h.cam.Queued()
	require.Len(t, queued, 4)
	for _, r := range queued {
		_, hasMain := r.Buffer(camera.RoleMain)
		_, hasLores := r.Buffer(camera.RoleLores)
		assert.True(t, hasMain && hasLores)
	}

	// Initial controls go to the camera once and are then cleared.
	assert.Equal(t, camera.NoiseReductionMinimal, h.cam.StartControls()["NoiseReductionMode"])
	assert.Empty(t, h.eng.PendingControls())

	st := h.eng.Stats()
	assert.Equal(t, 4, st.PoolSize)
	assert.Equal(t, 1, st.RetentionLimit)
}

// Single-buffer pool: the frame is delivered and the request goes straight
// back to hardware.
func TestDelivery_PoolOfOne(t *testing.T) {
	h := newHarness(t, 1)
	h.run(t)
	pool := h.cfgr.Pools[0]
	require.NoError(t, pool.Fill(pool.Buffers(camera.RoleMain)[0], 0x42))

	done := h.cam.Complete(1)
	require.Len(t, done, 1)
	require.Eventually(t, func() bool { return h.eng.Stats().Recycled == 1 }, waitFor, time.Millisecond)

	frames := h.out.Frames()
	require.Len(t, frames, 1)
	f := frames[0]
	assert.Equal(t, done[0].Sequence(), f.Seq)
	assert.Equal(t, "main", f.Stream)
	assert.Equal(t, 64, f.Width)
	assert.Equal(t, 32, f.Height)
	assert.Equal(t, 192, f.Stride)
	assert.Len(t, f.Data, 64*32*3)
	assert.Equal(t, byte(0x42), f.Data[0])
	assert.NotEmpty(t, f.TraceID)

	assert.Len(t, h.cam.Queued(), 1)
	_, held := h.eng.AcquireCurrent()
	assert.False(t, held, "nothing retained with a single buffer")
	assert.Equal(t, 0, h.eng.Stats().QueueLen)
}

// Scenario: one buffer, three completions land before the engine wakes up.
// Only the newest is delivered; the other two are recycled first.
func TestDelivery_PoolOfOneBurstDeliversNewest(t *testing.T) {
	h := newHarness(t, 1)
	require.NoError(t, h.eng.Configure(h.cfg))
	handle := h.cfgr.Pools[0].Buffers(camera.RoleMain)[0]

	burst := make([]*camtest.Request, 3)
	for i := range burst {
		burst[i] = camtest.NewRequest()
		require.NoError(t, burst[i].AddBuffer(camera.RoleMain, handle))
	}
	h.cam.Inject(burst...)
	require.NoError(t, h.eng.Start())

	require.Eventually(t, func() bool { return h.eng.Stats().Recycled == 3 }, waitFor, time.Millisecond)

	frames := h.out.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, burst[2].Sequence(), frames[0].Seq)

	history := h.cam.History()
	require.Len(t, history, 4)
	assert.Same(t, burst[0], history[1])
	assert.Same(t, burst[1], history[2])
	assert.Same(t, burst[2], history[3])
}

func TestDelivery_RetainsCurrentWithLargerPool(t *testing.T) {
	h := newHarness(t, 4)
	h.run(t)

	h.cam.Complete(1)
	h.waitCompleted(t, 1)
	require.Eventually(t, func() bool { return len(h.out.Frames()) == 1 }, waitFor, time.Millisecond)
	assert.Len(t, h.cam.Queued(), 3, "delivered request held as current")
	assert.Equal(t, 1, h.eng.Stats().QueueLen)

	h.cam.Complete(1)
	require.Eventually(t, func() bool { return h.eng.Stats().Recycled == 1 }, waitFor, time.Millisecond)
	assert.Len(t, h.cam.Queued(), 3)
	assert.LessOrEqual(t, h.eng.Stats().QueueLen, 1)

	cur, ok := h.eng.AcquireCurrent()
	require.True(t, ok)
	assert.Equal(t, h.out.Frames()[1].Seq, cur.Sequence())
	assert.Equal(t, h.eng.Generation(), cur.Generation())
	require.NoError(t, cur.Release())
}

// Scenario: Brightness set between two completions lands on the request
// recycled right after the call and on no other.
func TestSetControls_AppliedToNextRecycledOnly(t *testing.T) {
	h := newHarness(t, 2)
	h.run(t)
	queued := h.cam.Queued()
	require.Len(t, queued, 2)
	a, b := queued[0], queued[1]

	h.cam.Complete(1) // a becomes current
	h.waitCompleted(t, 1)

	require.NoError(t, h.eng.SetControls(camera.Controls{"Brightness": 10}))
	assert.Equal(t, camera.Controls{"Brightness": 10}, h.eng.PendingControls())

	h.cam.Complete(1) // b becomes current, a recycled
	require.Eventually(t, func() bool { return h.eng.Stats().Recycled == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, 1, a.Reuses())
	assert.Equal(t, 10, a.Controls()["Brightness"])
	assert.Empty(t, h.eng.PendingControls())

	h.cam.Complete(1) // a current again, b recycled
	require.Eventually(t, func() bool { return h.eng.Stats().Recycled == 2 }, waitFor, time.Millisecond)
	assert.Equal(t, 1, b.Reuses())
	assert.NotContains(t, b.Controls(), "Brightness")
}

func TestSetControls_LastWriteWinsAndUnknown(t *testing.T) {
	h := newHarness(t, 2)
	require.NoError(t, h.eng.SetControls(camera.Controls{"Brightness": 0.1, "Contrast": 2.0}))
	require.NoError(t, h.eng.SetControls(camera.Controls{"Brightness": 0.3}))
	assert.Equal(t, camera.Controls{"Brightness": 0.3, "Contrast": 2.0}, h.eng.PendingControls())

	assert.ErrorIs(t, h.eng.SetControls(camera.Controls{"Zoom": 2}), camera.ErrUnknownControl)
	assert.Contains(t, h.eng.ListControls(), "ExposureTime")
}

// Scenario: stop while a consumer holds the current frame. Stop succeeds and
// the late release discards the request instead of re-queueing it.
func TestStop_ConsumerHoldsCurrent(t *testing.T) {
	h := newHarness(t, 3)
	h.run(t)

	h.cam.Complete(1)
	require.Eventually(t, func() bool { return len(h.out.Frames()) == 1 }, waitFor, time.Millisecond)

	held, ok := h.eng.AcquireCurrent()
	require.True(t, ok)

	require.NoError(t, h.eng.Stop())
	assert.Equal(t, int32(1), held.Refs())
	assert.Equal(t, 0, h.eng.Stats().QueueLen)
	historyLen := len(h.cam.History())
	discarded := h.eng.Stats().Discarded

	require.NoError(t, held.Release())
	assert.Len(t, h.cam.History(), historyLen, "released after stop must not be queued")
	assert.Empty(t, h.cam.Queued())
	assert.Equal(t, discarded+1, h.eng.Stats().Discarded)
}

// Scenario: a consumer keeps a frame across Stop and Configure. The old pool
// stays mapped until that reference is gone and the frame still reads its
// own buffer, not whatever took over the descriptor.
func TestConfigure_HeldRequestKeepsOldPool(t *testing.T) {
	h := newHarness(t, 3)
	h.run(t)

	h.cam.Complete(1)
	require.Eventually(t, func() bool { return len(h.out.Frames()) == 1 }, waitFor, time.Millisecond)
	held, ok := h.eng.AcquireCurrent()
	require.True(t, ok)

	require.NoError(t, h.eng.Stop())
	require.NoError(t, h.eng.Configure(h.cfg))
	require.Len(t, h.cfgr.Pools, 2)
	old, fresh := h.cfgr.Pools[0], h.cfgr.Pools[1]
	assert.False(t, old.Closed(), "held request pins its pool")

	for _, b := range old.Buffers(camera.RoleMain) {
		require.NoError(t, old.Fill(b, 0x5a))
	}
	data, err := held.ExtractBuffer(camera.RoleMain)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.Equal(t, bytes.Repeat([]byte{0x5a}, len(data)), data)

	discarded := h.eng.Stats().Discarded
	require.NoError(t, held.Release())
	assert.True(t, old.Closed())
	assert.False(t, fresh.Closed())
	assert.Equal(t, discarded+1, h.eng.Stats().Discarded)

	// The new pool serves the next run.
	require.NoError(t, h.eng.Start())
	h.cam.Complete(1)
	require.Eventually(t, func() bool { return len(h.out.Frames()) == 2 }, waitFor, time.Millisecond)
}

func TestClose_HeldRequestDefersPoolClose(t *testing.T) {
	h := newHarness(t, 2)
	h.run(t)

	h.cam.Complete(1)
	require.Eventually(t, func() bool { return len(h.out.Frames()) == 1 }, waitFor, time.Millisecond)
	held, ok := h.eng.AcquireCurrent()
	require.True(t, ok)

	require.NoError(t, h.eng.Close())
	assert.False(t, h.cfgr.Pools[0].Closed())
	_, err := held.ExtractBuffer(camera.RoleMain)
	require.NoError(t, err)

	require.NoError(t, held.Release())
	assert.True(t, h.cfgr.Pools[0].Closed())
}

// A request recycled to hardware and completed again carries the generation
// running at its new completion, never the one it was first stamped with.
func TestRestart_RecompletedRequestTakesRunningGeneration(t *testing.T) {
	h := newHarness(t, 2)
	h.run(t)

	h.cam.Complete(1)
	require.Eventually(t, func() bool { return len(h.out.Frames()) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, uint64(1), h.out.Frames()[0].Generation)

	require.NoError(t, h.eng.Stop())
	require.NoError(t, h.eng.Start())
	gen := h.eng.Generation()
	require.Equal(t, uint64(2), gen)

	queued := h.cam.Queued()
	require.Len(t, queued, 2)
	a := queued[0]

	h.cam.Complete(1) // a current
	require.Eventually(t, func() bool { return len(h.out.Frames()) == 2 }, waitFor, time.Millisecond)
	h.cam.Complete(1) // b current, a back to hardware
	require.Eventually(t, func() bool { return h.eng.Stats().Recycled == 1 }, waitFor, time.Millisecond)
	require.Equal(t, 1, a.Reuses())

	h.cam.Complete(1) // a completes again, b recycled once a is displayed
	require.Eventually(t, func() bool { return h.eng.Stats().Recycled == 2 }, waitFor, time.Millisecond)

	frames := h.out.Frames()
	require.Len(t, frames, 4)
	last := frames[3]
	assert.Equal(t, a.Sequence(), last.Seq)
	assert.Equal(t, gen, last.Generation)

	cur, ok := h.eng.AcquireCurrent()
	require.True(t, ok)
	assert.Equal(t, a.Sequence(), cur.Sequence())
	assert.Equal(t, gen, cur.Generation())
	assert.Equal(t, int32(3), cur.Refs(), "queue entry, display and caller")
	require.NoError(t, cur.Release())
}

// A display candidate stamped before a generation change is counted as stale
// and released without reaching the outlet.
func TestPublish_StaleCandidateReleased(t *testing.T) {
	h := newHarness(t, 2)
	require.NoError(t, h.eng.Configure(h.cfg))

	req := h.eng.lease.wrap(camtest.NewRequest(), h.eng.Generation())
	h.eng.generation.Add(1)
	h.eng.publish([]*request.Request{req})

	st := h.eng.Stats()
	assert.Equal(t, uint64(1), st.Stale)
	assert.Equal(t, uint64(0), st.Delivered)
	assert.Empty(t, h.out.Frames())
	assert.Equal(t, int32(1), req.Refs(), "only the queue entry is left")
	assert.Equal(t, 1, st.QueueLen)

	for _, r := range h.eng.queue.Flush() {
		require.NoError(t, r.Release())
	}
	assert.Equal(t, uint64(1), h.eng.Stats().Discarded)
}

func TestDelivery_NoDisplayStream(t *testing.T) {
	h := newHarness(t, 2)
	h.cfg.Display = camera.NoStream
	h.run(t)

	h.cam.Complete(2)
	require.Eventually(t, func() bool {
		st := h.eng.Stats()
		return st.Completed == 2 && st.Recycled == 1
	}, waitFor, time.Millisecond)
	assert.Empty(t, h.out.Frames())
	assert.Equal(t, 1, h.eng.Stats().QueueLen, "newest stays retained")

	// With nothing displayed, the retained queue entry stands in.
	latest, held := h.eng.AcquireCurrent()
	require.True(t, held)
	assert.Equal(t, h.cam.History()[1].Sequence(), latest.Sequence())
	assert.Equal(t, h.eng.Generation(), latest.Generation())
	assert.Equal(t, int32(2), latest.Refs(), "queue entry plus caller")
	require.NoError(t, latest.Release())

	require.NoError(t, h.eng.Stop())
	_, held = h.eng.AcquireCurrent()
	assert.False(t, held)
}

func TestDelivery_OutletDropCounted(t *testing.T) {
	h := newHarness(t, 1)
	h.out.reject = true
	h.run(t)

	h.cam.Complete(1)
	require.Eventually(t, func() bool { return h.eng.Stats().Dropped == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, uint64(1), h.eng.Stats().Delivered)
}

// A failing re-queue costs one cycle and is counted, nothing more.
func TestRecycle_QueueFailureAbsorbed(t *testing.T) {
	h := newHarness(t, 1)
	h.run(t)
	h.cam.SetFailQueue(true)

	h.cam.Complete(1)
	require.Eventually(t, func() bool { return h.eng.Stats().ResourceErrors == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, StateRunning, h.eng.State())
	assert.Equal(t, uint64(0), h.eng.Stats().Recycled)
}

func TestDelivery_NonContiguousBufferSkipsFrame(t *testing.T) {
	h := newHarness(t, 2)
	h.run(t)

	a, err := buffer.NewMemfd("split-a", 64)
	require.NoError(t, err)
	defer a.Close()
	b, err := buffer.NewMemfd("split-b", 64)
	require.NoError(t, err)
	defer b.Close()
	split, err := buffer.NewHandle(buffer.Plane{FD: a.FD(), Length: 64}, buffer.Plane{FD: b.FD(), Length: 64})
	require.NoError(t, err)

	req := camtest.NewRequest()
	require.NoError(t, req.AddBuffer(camera.RoleMain, split))
	h.cam.Inject(req)

	require.Eventually(t, func() bool { return h.eng.Stats().ExtractErrors == 1 }, waitFor, time.Millisecond)
	assert.Empty(t, h.out.Frames())

	// The next completion trims it out of the queue and back to hardware.
	h.cam.Complete(1)
	require.Eventually(t, func() bool { return h.eng.Stats().Recycled == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, 1, req.Reuses())
	require.Eventually(t, func() bool { return len(h.out.Frames()) == 1 }, waitFor, time.Millisecond)
}

func TestClose_Idempotent(t *testing.T) {
	h := newHarness(t, 2)
	h.run(t)

	require.NoError(t, h.eng.Close())
	require.NoError(t, h.eng.Close())
	assert.True(t, h.cfgr.Pools[0].Closed())
	assert.ErrorIs(t, h.eng.Configure(h.cfg), camera.ErrClosed)
	assert.ErrorIs(t, h.eng.Start(), camera.ErrClosed)
}

// Completions race with a consumer grabbing and releasing the current frame.
func TestConcurrentConsumers(t *testing.T) {
	h := newHarness(t, 4)
	h.run(t)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if r, ok := h.eng.AcquireCurrent(); ok {
					_, err := r.ExtractBuffer(camera.RoleMain)
					assert.NoError(t, err)
					assert.NoError(t, r.Release())
				}
			}
		}()
	}

	const total = 200
	deadline := time.Now().Add(5 * time.Second)
	var completed int
	for completed < total && time.Now().Before(deadline) {
		completed += len(h.cam.Complete(1))
		time.Sleep(100 * time.Microsecond)
	}
	h.waitCompleted(t, uint64(completed))
	close(stop)
	wg.Wait()

	require.NoError(t, h.eng.Stop())
	st := h.eng.Stats()
	assert.Equal(t, uint64(completed), st.Completed)
	assert.LessOrEqual(t, st.QueueLen, 1)
}
