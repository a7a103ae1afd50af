//go:build gstreamer

package gstcam

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/camera"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/simcam"
)

// Options configures the GStreamer source.
type Options struct {
	Name string
	FPS  float64
	// Pattern is the videotestsrc pattern, e.g. "smpte" or "ball".
	Pattern    string
	SensorSize camera.Size
}

// Camera is a simcam.Camera whose completions are driven by appsink
// samples instead of a timer.
type Camera struct {
	*simcam.Camera
	opts Options

	mu       sync.Mutex
	cfg      camera.Config
	pipeline *gst.Pipeline
	cancel   context.CancelFunc
	monitor  sync.WaitGroup

	samples atomic.Uint64
	dropped atomic.Uint64
}

// New creates the camera. GStreamer is initialized on first use.
func New(opts Options) (*Camera, error) {
	sim, err := simcam.New(simcam.Options{Name: opts.Name, SensorSize: opts.SensorSize})
	if err != nil {
		return nil, err
	}
	gst.Init(nil)
	return &Camera{Camera: sim, opts: opts}, nil
}

// Validate also rejects display formats GStreamer cannot produce.
func (c *Camera) Validate(cfg camera.Config) (camera.Config, error) {
	cfg, err := c.Camera.Validate(cfg)
	if err != nil {
		return cfg, err
	}
	if sc, ok := cfg.Stream(cfg.Display); ok {
		if _, err := CapsFormat(sc.Format); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func (c *Camera) Allocate(cfg camera.Config) (camera.BufferPool, error) {
	pool, err := c.Camera.Allocate(cfg)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cfg = cfg.Clone()
	c.mu.Unlock()
	return pool, nil
}

func (c *Camera) buildPipeline(sc camera.StreamConfig, role camera.StreamRole) (*gst.Pipeline, error) {
	caps, err := BuildCaps(sc, c.opts.FPS)
	if err != nil {
		return nil, err
	}

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	src, err := gst.NewElement("videotestsrc")
	if err != nil {
		return nil, fmt.Errorf("failed to create videotestsrc: %w", err)
	}
	src.SetProperty("is-live", true)
	if c.opts.Pattern != "" {
		if err := src.SetProperty("pattern", c.opts.Pattern); err != nil {
			slog.Warn("gstcam: unknown pattern, using default", "pattern", c.opts.Pattern, "error", err)
		}
	}
	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(caps))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	pipeline.AddMany(src, converter, capsfilter, sink.Element)
	if err := gst.ElementLinkMany(src, converter, capsfilter, sink.Element); err != nil {
		return nil, fmt.Errorf("failed to link pipeline elements: %w", err)
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(s *app.Sink) gst.FlowReturn {
			return c.onSample(s, role)
		},
	})
	slog.Debug("gstcam: pipeline built", "camera", c.opts.Name, "caps", caps)
	return pipeline, nil
}

func (c *Camera) onSample(sink *app.Sink, display camera.StreamRole) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gstcam: failed to pull sample, skipping frame")
		return gst.FlowOK
	}
	buf := sample.GetBuffer()
	if buf == nil {
		return gst.FlowOK
	}
	mapInfo := buf.Map(gst.MapRead)
	defer buf.Unmap()
	data := mapInfo.Bytes()
	if len(data) == 0 {
		return gst.FlowOK
	}
	c.samples.Add(1)

	ok := c.CompleteNext(func(role camera.StreamRole, _ camera.StreamConfig, dst []byte) {
		if role == display {
			copy(dst, data)
		}
	})
	if !ok {
		c.dropped.Add(1)
		slog.Debug("gstcam: no request queued, sample dropped", "camera", c.opts.Name)
	}
	return gst.FlowOK
}

// Start starts the software camera and then the pipeline feeding it.
func (c *Camera) Start(controls camera.Controls) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sc, ok := c.cfg.Stream(c.cfg.Display)
	if !ok {
		return fmt.Errorf("%w: gstcam needs a display stream", camera.ErrConfig)
	}
	pipeline, err := c.buildPipeline(*sc, c.cfg.Display)
	if err != nil {
		return fmt.Errorf("%w: %w", camera.ErrResource, err)
	}
	if err := c.Camera.Start(controls); err != nil {
		return err
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		_ = c.Camera.Stop()
		return fmt.Errorf("%w: failed to start pipeline: %w", camera.ErrResource, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.pipeline, c.cancel = pipeline, cancel
	c.monitor.Add(1)
	go func() {
		defer c.monitor.Done()
		c.watchBus(ctx, pipeline)
	}()
	slog.Info("gstcam: pipeline playing", "camera", c.opts.Name, "stream", string(c.cfg.Display), "size", sc.Size.String())
	return nil
}

func (c *Camera) watchBus(ctx context.Context, pipeline *gst.Pipeline) {
	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("gstcam: end of stream", "camera", c.opts.Name)
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("gstcam: pipeline error", "camera", c.opts.Name, "error", gerr.Error(), "debug", gerr.DebugString())
		}
	}
}

// Stop halts the pipeline, then cancels queued requests.
func (c *Camera) Stop() error {
	c.mu.Lock()
	pipeline, cancel := c.pipeline, c.cancel
	c.pipeline, c.cancel = nil, nil
	c.mu.Unlock()

	var errs []error
	if pipeline != nil {
		cancel()
		c.monitor.Wait()
		if err := pipeline.SetState(gst.StateNull); err != nil {
			errs = append(errs, fmt.Errorf("failed to set pipeline to NULL: %w", err))
		}
	}
	if err := c.Camera.Stop(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Stats of the GStreamer feed.
type Stats struct {
	simcam.Stats
	Samples uint64
	Dropped uint64
}

func (c *Camera) Stats() Stats {
	return Stats{
		Stats:   c.Camera.Stats(),
		Samples: c.samples.Load(),
		Dropped: c.dropped.Load(),
	}
}
