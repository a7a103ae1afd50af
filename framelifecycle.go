package framelifecycle

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/camera"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/engine"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/frame"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/metrics"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/outlet"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/request"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/simcam"
)

// Public API - re-export internal types as stable contract

type (
	Config        = camera.Config
	StreamConfig  = camera.StreamConfig
	StreamRole    = camera.StreamRole
	Size          = camera.Size
	Transform     = camera.Transform
	Controls      = camera.Controls
	ControlInfo   = camera.ControlInfo
	Camera        = camera.Camera
	Configurator  = camera.Configurator
	BufferPool    = camera.BufferPool
	ErrorCategory = camera.ErrorCategory

	// Frame is an owned copy of a delivered display buffer.
	Frame = frame.Frame
	// Request is a reference-counted capture request.
	Request = request.Request

	State  = engine.State
	Stats  = engine.Stats
	Outlet = engine.Outlet
	Option = engine.Option

	// Output is the bounded, non-blocking output pipeline.
	Output         = outlet.Pipeline
	OutputOption   = outlet.Option
	OutputStats    = outlet.Stats
	OverflowPolicy = outlet.OverflowPolicy
	Receiver       = outlet.Receiver

	SimOptions = simcam.Options
)

const (
	RoleMain  = camera.RoleMain
	RoleLores = camera.RoleLores
	RoleRaw   = camera.RoleRaw
	NoStream  = camera.NoStream

	StateStopped     = engine.StateStopped
	StateConfiguring = engine.StateConfiguring
	StateRunning     = engine.StateRunning

	DropOldest = outlet.DropOldest
	DropNewest = outlet.DropNewest
)

// Public API errors
var (
	ErrConfig              = camera.ErrConfig
	ErrAllocation          = camera.ErrAllocation
	ErrResource            = camera.ErrResource
	ErrInvalidState        = camera.ErrInvalidState
	ErrNonContiguousBuffer = camera.ErrNonContiguousBuffer
	ErrNotConfigured       = camera.ErrNotConfigured
	ErrAlreadyRunning      = camera.ErrAlreadyRunning
	ErrUnknownControl      = camera.ErrUnknownControl
	ErrClosed              = camera.ErrClosed

	ErrOutputStopped = outlet.ErrStopped
)

// Engine drives one camera through Configure, Start and Stop.
type Engine interface {
	Configure(cfg Config) error
	Start() error
	Stop() error
	Close() error

	// SetControls stages controls for the next recycled request.
	SetControls(ctrls Controls) error
	ListControls() map[string]ControlInfo
	// AcquireCurrent returns the displayed request with an extra reference
	// the caller must Release.
	AcquireCurrent() (*Request, bool)

	State() State
	Generation() uint64
	Stats() Stats
}

// New creates a stopped engine for cam. Frames of the display stream are
// emitted to out.
func New(cam Camera, cfgr Configurator, out Outlet, opts ...Option) (Engine, error) {
	e, err := engine.New(cam, cfgr, out, opts...)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Engine options
var (
	WithName        = engine.WithName
	WithPollTimeout = engine.WithPollTimeout
)

// Metrics holds the Prometheus collectors of one engine.
type Metrics = metrics.Engine

// NewMetrics registers engine collectors labelled with cameraName on reg.
func NewMetrics(reg prometheus.Registerer, cameraName string) (*Metrics, error) {
	return metrics.NewEngine(reg, cameraName)
}

// WithMetrics records engine counters in m.
func WithMetrics(m *Metrics) Option { return engine.WithMetrics(m) }

// NewOutput creates an output pipeline holding at most capacity frames.
// Call Start before emitting.
func NewOutput(capacity int, opts ...OutputOption) (*Output, error) {
	return outlet.New(capacity, opts...)
}

// Output options
var (
	WithOverflowPolicy = outlet.WithOverflowPolicy
	WithOutputMetrics  = outlet.WithMetrics
	WithDropCallback   = outlet.WithDropCallback
)

// PreviewConfig returns a single-stream preview configuration.
func PreviewConfig(size Size, fps float64, format string) Config {
	return camera.PreviewConfig(size, fps, format)
}

// Classify maps an error to its category.
func Classify(err error) ErrorCategory { return camera.Classify(err) }

// NewSimulatedCamera creates a software camera that is both Camera and
// Configurator.
func NewSimulatedCamera(opts SimOptions) (*simcam.Camera, error) {
	return simcam.New(opts)
}
