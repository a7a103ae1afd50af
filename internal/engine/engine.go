// Package engine implements the request lifecycle engine: it drains
// completed capture requests from the camera, keeps reference-counted
// ownership of their buffers, hands the newest frame to the output pipeline
// and recycles every request back to the hardware once nobody holds it.
//
// Lifecycle:
//
//	Stopped --Configure--> Configuring --Start--> Running --Stop--> Stopped
//
// Configure may be repeated while not running. Every Configure and every
// Stop starts a new generation; requests completed in an older generation
// are discarded instead of recycled when their last reference is dropped.
//
// Goroutines: one capture loop per Start. Release may be called from any
// goroutine holding a reference.
package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/camera"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/frame"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/metrics"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/queue"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/request"
)

// DefaultPollTimeout bounds each readiness wait of the capture loop, and
// therefore how long Stop waits for the loop to notice.
const DefaultPollTimeout = 100 * time.Millisecond

// State is the engine lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateConfiguring
	StateRunning
)

// String returns the lower-case state name used in logs and status reports.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateConfiguring:
		return "configuring"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its String form, so JSON and YAML
// status payloads carry names rather than numbers.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Outlet receives delivered frames. Emit must not block; false means a
// frame was lost.
type Outlet interface {
	Emit(f frame.Frame) bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records lifecycle counters in m.
func WithMetrics(m *metrics.Engine) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPollTimeout overrides DefaultPollTimeout.
func WithPollTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollTimeout = d
		}
	}
}

// WithName labels log lines of this engine.
func WithName(name string) Option {
	return func(e *Engine) { e.name = name }
}

// Engine drives one camera.
type Engine struct {
	cam  camera.Camera
	cfgr camera.Configurator
	out  Outlet

	name        string
	pollTimeout time.Duration
	metrics     *metrics.Engine

	// opMu serializes Configure, Start, Stop and Close.
	opMu sync.Mutex

	// mu guards state so Recycle can check-and-queue atomically with
	// respect to Stop.
	mu         sync.RWMutex
	state      State
	closed     bool
	generation atomic.Uint64

	// Written under opMu while not running; read-only for the capture loop.
	// poolSize is additionally written under mu for Stats.
	config   camera.Config
	pool     camera.BufferPool
	lease    *poolLease
	poolSize int

	controlsMu sync.Mutex
	pending    camera.Controls

	queue *queue.Completion

	displayMu sync.Mutex
	current   *request.Request

	running  atomic.Bool
	loopDone chan struct{}

	stats counters
}

// New creates a stopped engine. The camera and configurator are owned by
// the caller until Close, which closes the camera if it implements
// io.Closer.
func New(cam camera.Camera, cfgr camera.Configurator, out Outlet, opts ...Option) (*Engine, error) {
	if cam == nil {
		return nil, fmt.Errorf("engine: camera is required")
	}
	if cfgr == nil {
		return nil, fmt.Errorf("engine: configurator is required")
	}
	if out == nil {
		return nil, fmt.Errorf("engine: outlet is required")
	}

	e := &Engine{
		cam:         cam,
		cfgr:        cfgr,
		out:         out,
		name:        "camera0",
		pollTimeout: DefaultPollTimeout,
		pending:     camera.Controls{},
		queue:       queue.New(0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Configure validates cfg with the configurator, allocates the buffer pool
// and moves the engine to Configuring. Allowed only while not running.
// Initial controls of cfg become the pending control set. The previous pool
// stays open until requests consumers still hold from it are released.
func (e *Engine) Configure(cfg camera.Config) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if err := e.checkUsable(); err != nil {
		return err
	}
	if e.State() == StateRunning {
		return fmt.Errorf("engine: configure: %w", camera.ErrAlreadyRunning)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("engine: configure: %w", err)
	}
	validated, err := e.cfgr.Validate(cfg)
	if err != nil {
		return fmt.Errorf("engine: configure: %w", ensure(err, camera.ErrConfig))
	}
	pool, err := e.cfgr.Allocate(validated)
	if err != nil {
		return fmt.Errorf("engine: configure: %w", ensure(err, camera.ErrAllocation))
	}
	size := camera.PoolSize(pool, &validated)
	if size == 0 {
		pool.Close()
		return fmt.Errorf("engine: configure: empty buffer pool: %w", camera.ErrAllocation)
	}

	if e.lease != nil {
		if err := e.lease.retire(); err != nil {
			slog.Warn("engine: closing previous buffer pool failed", "camera", e.name, "error", err)
		}
	}
	e.config = validated
	e.pool = pool
	e.lease = newPoolLease(e, pool)
	e.queue.SetLimit(queue.RetentionLimit(size))

	e.controlsMu.Lock()
	e.pending = maps.Clone(validated.Controls)
	if e.pending == nil {
		e.pending = camera.Controls{}
	}
	e.controlsMu.Unlock()

	e.mu.Lock()
	gen := e.generation.Add(1)
	e.state = StateConfiguring
	e.poolSize = size
	e.mu.Unlock()
	e.metrics.SetGeneration(gen)

	slog.Info("engine: configured",
		"camera", e.name,
		"main", validated.Main.Size.String(),
		"format", validated.Main.Format,
		"display", string(validated.Display),
		"pool_size", size,
		"retention_limit", queue.RetentionLimit(size),
		"generation", gen,
	)
	return nil
}

// Start hands the pending controls to the camera, queues one request per
// pooled buffer and spawns the capture loop. Request creation failures
// are returned and leave the engine configured but not running.
func (e *Engine) Start() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if err := e.checkUsable(); err != nil {
		return err
	}
	if e.State() == StateRunning {
		return fmt.Errorf("engine: start: %w", camera.ErrAlreadyRunning)
	}
	if e.pool == nil {
		return fmt.Errorf("engine: start: %w", camera.ErrNotConfigured)
	}

	e.controlsMu.Lock()
	initial := e.pending
	err := e.cam.Start(maps.Clone(initial))
	if err == nil {
		e.pending = camera.Controls{}
	}
	e.controlsMu.Unlock()
	if err != nil {
		return fmt.Errorf("engine: start camera: %w", ensure(err, camera.ErrResource))
	}

	reqs, err := e.makeRequests()
	if err == nil {
		for _, r := range reqs {
			if err = e.cam.Queue(r); err != nil {
				err = fmt.Errorf("engine: queue request: %w", ensure(err, camera.ErrResource))
				break
			}
		}
	}
	if err != nil {
		e.haltCamera()
		// Nothing was captured; keep the initial controls for the next Start.
		e.controlsMu.Lock()
		initial.Merge(e.pending)
		e.pending = initial
		e.controlsMu.Unlock()
		return err
	}

	e.mu.Lock()
	e.state = StateRunning
	e.mu.Unlock()

	e.running.Store(true)
	e.loopDone = make(chan struct{})
	go e.captureLoop(e.loopDone)
	e.metrics.SetRunning(true)

	slog.Info("engine: started", "camera", e.name, "requests", len(reqs), "generation", e.generation.Load())
	return nil
}

// makeRequests creates one hardware request per pool slot with a buffer
// attached for every configured stream.
func (e *Engine) makeRequests() ([]camera.Request, error) {
	roles := e.config.Roles()
	reqs := make([]camera.Request, 0, e.poolSize)
	for i := 0; i < e.poolSize; i++ {
		r, err := e.cam.CreateRequest()
		if err != nil {
			return nil, fmt.Errorf("engine: create request %d: %w", i, ensure(err, camera.ErrResource))
		}
		for _, role := range roles {
			if err := r.AddBuffer(role, e.pool.Buffers(role)[i]); err != nil {
				return nil, fmt.Errorf("engine: attach %s buffer %d: %w", role, i, ensure(err, camera.ErrResource))
			}
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

// Stop ends the capture loop, bumps the generation, releases everything the
// engine holds and stops the camera. Idempotent. References held by
// consumers stay valid; releasing them later discards the request.
func (e *Engine) Stop() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	return e.stopLocked()
}

func (e *Engine) stopLocked() error {
	if e.State() != StateRunning {
		return nil
	}

	e.running.Store(false)
	<-e.loopDone

	e.mu.Lock()
	gen := e.generation.Add(1)
	e.state = StateStopped
	e.mu.Unlock()
	e.metrics.SetGeneration(gen)
	e.metrics.SetRunning(false)

	e.displayMu.Lock()
	cur := e.current
	e.current = nil
	e.displayMu.Unlock()
	if cur != nil {
		e.mustRelease(cur)
	}
	for _, r := range e.queue.Flush() {
		e.mustRelease(r)
	}
	e.metrics.SetQueueDepth(0)

	err := e.haltCamera()
	slog.Info("engine: stopped", "camera", e.name, "generation", gen)
	return err
}

// haltCamera stops the hardware and drops whatever it completed meanwhile.
func (e *Engine) haltCamera() error {
	var err error
	if serr := e.cam.Stop(); serr != nil {
		err = fmt.Errorf("engine: stop camera: %w", ensure(serr, camera.ErrResource))
		slog.Warn("engine: camera stop failed", "camera", e.name, "error", serr)
	}
	leftover, derr := e.cam.DrainCompleted()
	if derr != nil {
		slog.Debug("engine: drain after stop failed", "camera", e.name, "error", derr)
	}
	if len(leftover) > 0 {
		e.stats.discarded.Add(uint64(len(leftover)))
		slog.Debug("engine: discarded completions after stop", "camera", e.name, "count", len(leftover))
	}
	return err
}

// Close stops the engine, frees the buffer pool and closes the camera.
// A pool with requests still held by consumers is freed on their last
// Release. Idempotent.
func (e *Engine) Close() error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if e.closed {
		return nil
	}
	err := e.stopLocked()

	e.mu.Lock()
	e.closed = true
	e.state = StateStopped
	e.mu.Unlock()

	if e.lease != nil {
		if perr := e.lease.retire(); perr != nil && err == nil {
			err = fmt.Errorf("engine: close buffer pool: %w", perr)
		}
		e.pool, e.lease = nil, nil
	}
	if c, ok := e.cam.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("engine: close camera: %w", cerr)
		}
	}
	slog.Info("engine: closed", "camera", e.name)
	return err
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Generation returns the current configuration generation.
func (e *Engine) Generation() uint64 { return e.generation.Load() }

// Config returns the validated configuration in use.
func (e *Engine) Config() (camera.Config, bool) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	if e.pool == nil {
		return camera.Config{}, false
	}
	return e.config.Clone(), true
}

func (e *Engine) checkUsable() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return camera.ErrClosed
	}
	return nil
}

// ensure wraps err with kind unless it already matches.
func ensure(err, kind error) error {
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
