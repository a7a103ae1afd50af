// Package simcam is a software camera. It allocates frame buffers in
// memfds, signals completions through an eventfd and fills every captured
// buffer with a test pattern that reflects the sequence number and the
// Brightness control.
//
// With FPS > 0 a producer goroutine completes the oldest queued request on
// every tick. With FPS == 0 completions happen only through Complete or
// CompleteNext, which is also how external sources (see gstcam) feed it.
package simcam

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/camera"
)

// Options configures a simulated camera.
type Options struct {
	Name string
	// FPS of the internal producer, 0 for manual completion.
	FPS float64
	// SensorSize is the largest stream size accepted. Default 4056x3040.
	SensorSize camera.Size
	// NonContiguous splits every buffer over two memfds.
	NonContiguous bool
	// FailAllocate makes Allocate fail.
	FailAllocate bool
	// FailCreateAfter makes CreateRequest fail once this many requests
	// exist. 0 disables.
	FailCreateAfter int
}

// FillFunc writes the image of one stream into dst.
type FillFunc func(role camera.StreamRole, sc camera.StreamConfig, dst []byte)

// Camera implements camera.Camera and camera.Configurator.
type Camera struct {
	opts Options
	efd  int

	mu        sync.Mutex
	pool      *Pool
	queued    []*Request
	completed []*Request
	created   int
	started   bool
	closed    bool
	active    camera.Controls
	scratch   map[camera.StreamRole][]byte
	seq       uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup

	frames  atomic.Uint64
	starved atomic.Uint64
}

// New creates a simulated camera.
func New(opts Options) (*Camera, error) {
	if opts.FPS < 0 || opts.FPS > 240 {
		return nil, fmt.Errorf("simcam: invalid FPS %.2f (must be 0-240)", opts.FPS)
	}
	if opts.Name == "" {
		opts.Name = "simcam"
	}
	if opts.SensorSize.Width == 0 || opts.SensorSize.Height == 0 {
		opts.SensorSize = camera.Size{Width: 4056, Height: 3040}
	}
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("simcam: eventfd: %w", err)
	}
	return &Camera{
		opts:    opts,
		efd:     efd,
		active:  camera.Controls{},
		scratch: make(map[camera.StreamRole][]byte),
	}, nil
}

func (c *Camera) ReadyFD() int { return c.efd }

func (c *Camera) DrainCompleted() ([]camera.Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var counter [8]byte
	if _, err := unix.Read(c.efd, counter[:]); err != nil && err != unix.EAGAIN {
		return nil, fmt.Errorf("simcam: eventfd read: %w", err)
	}
	out := make([]camera.Request, len(c.completed))
	for i, r := range c.completed {
		out[i] = r
	}
	c.completed = nil
	return out, nil
}

func (c *Camera) CreateRequest() (camera.Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("simcam: camera closed: %w", camera.ErrResource)
	}
	if c.opts.FailCreateAfter > 0 && c.created >= c.opts.FailCreateAfter {
		return nil, fmt.Errorf("simcam: request limit %d reached: %w", c.opts.FailCreateAfter, camera.ErrResource)
	}
	c.created++
	return newRequest(), nil
}

func (c *Camera) Queue(r camera.Request) error {
	req, ok := r.(*Request)
	if !ok {
		return fmt.Errorf("simcam: foreign request %T: %w", r, camera.ErrResource)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return fmt.Errorf("simcam: queue while stopped: %w", camera.ErrResource)
	}
	c.queued = append(c.queued, req)
	return nil
}

// Start begins capture with the given controls active.
func (c *Camera) Start(controls camera.Controls) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("simcam: camera closed: %w", camera.ErrResource)
	}
	if c.started {
		return fmt.Errorf("simcam: already started: %w", camera.ErrResource)
	}
	c.started = true
	c.active = maps.Clone(controls)
	if c.active == nil {
		c.active = camera.Controls{}
	}

	if c.opts.FPS > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.wg.Add(1)
		go c.produce(ctx)
	}
	slog.Info("simcam: started", "camera", c.opts.Name, "fps", c.opts.FPS)
	return nil
}

func (c *Camera) produce(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Duration(float64(time.Second) / c.opts.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.CompleteNext(nil) {
				c.starved.Add(1)
			}
		}
	}
}

// Stop halts capture and completes every queued request as cancelled.
func (c *Camera) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = false
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		c.wg.Wait()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.queued {
		c.seq++
		r.finish(c.seq, camera.StatusCancelled)
	}
	c.completed = append(c.completed, c.queued...)
	c.queued = nil
	slog.Info("simcam: stopped", "camera", c.opts.Name, "frames", c.frames.Load(), "starved", c.starved.Load())
	return c.signal()
}

// Controls lists the simulated sensor controls.
func (c *Camera) Controls() map[string]camera.ControlInfo {
	return map[string]camera.ControlInfo{
		"Brightness":          {Min: -1.0, Max: 1.0, Default: 0.0},
		"Contrast":            {Min: 0.0, Max: 32.0, Default: 1.0},
		"AnalogueGain":        {Min: 1.0, Max: 16.0, Default: 1.0},
		"ExposureTime":        {Min: int64(100), Max: int64(1_000_000), Default: int64(10_000)},
		"NoiseReductionMode":  {Min: camera.NoiseReductionOff, Max: camera.NoiseReductionMinimal, Default: camera.NoiseReductionFast},
		"FrameDurationLimits": {Min: int64(4_167), Max: int64(1_000_000), Default: int64(33_333)},
	}
}

// ActiveControls returns the controls currently in effect on the sensor.
func (c *Camera) ActiveControls() camera.Controls {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.active)
}

// Complete finishes up to n queued requests with the test pattern and
// returns how many completed.
func (c *Camera) Complete(n int) int {
	done := 0
	for done < n && c.CompleteNext(nil) {
		done++
	}
	return done
}

// CompleteNext captures into the oldest queued request. fill writes each
// stream; nil draws the test pattern. Returns false when no request was
// queued, the frame is then lost.
func (c *Camera) CompleteNext(fill FillFunc) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || len(c.queued) == 0 {
		return false
	}
	r := c.queued[0]
	c.queued[0] = nil
	c.queued = c.queued[1:]

	// Controls take effect from the frame they were queued with.
	c.active.Merge(r.take())
	c.seq++

	for role, h := range r.handles() {
		sc := c.pool.streams[role]
		dst := c.scratchFor(role, sc.FrameSize)
		if fill != nil {
			fill(role, sc, dst)
		} else {
			drawPattern(dst, sc, c.seq, brightness(c.active))
		}
		if err := c.pool.write(h, dst); err != nil {
			slog.Warn("simcam: buffer write failed", "camera", c.opts.Name, "stream", string(role), "error", err)
		}
	}

	r.finish(c.seq, camera.StatusComplete)
	c.completed = append(c.completed, r)
	c.frames.Add(1)
	if err := c.signal(); err != nil {
		slog.Warn("simcam: signal failed", "camera", c.opts.Name, "error", err)
	}
	return true
}

func (c *Camera) scratchFor(role camera.StreamRole, size int) []byte {
	b := c.scratch[role]
	if len(b) != size {
		b = make([]byte, size)
		c.scratch[role] = b
	}
	return b
}

func (c *Camera) signal() error {
	var one [8]byte
	binary.NativeEndian.PutUint64(one[:], 1)
	if _, err := unix.Write(c.efd, one[:]); err != nil {
		return fmt.Errorf("simcam: eventfd write: %w", err)
	}
	return nil
}

// Stats counts produced and starved frames.
type Stats struct {
	Frames  uint64
	Starved uint64
	Queued  int
}

func (c *Camera) Stats() Stats {
	c.mu.Lock()
	queued := len(c.queued)
	c.mu.Unlock()
	return Stats{Frames: c.frames.Load(), Starved: c.starved.Load(), Queued: queued}
}

// Close stops capture and releases the eventfd.
func (c *Camera) Close() error {
	if err := c.Stop(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return unix.Close(c.efd)
}
