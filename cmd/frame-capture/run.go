package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/camera"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/engine"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/metrics"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/outlet"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/telemetry"
)

// runOptions holds the flags of the run command.
type runOptions struct {
	configPath  string
	source      string
	fps         float64
	buffers     int
	duration    time.Duration
	warmup      time.Duration
	record      string
	metricsAddr string
	mqttBroker  string
	debug       bool
}

func newRunCommand() *cobra.Command {
	return runCommand(&runOptions{})
}

func runCommand(opts *runOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture frames until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			setupLogging(opts.debug)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, opts.duration)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	f.StringVar(&opts.source, "source", "", "camera source: sim, gst")
	f.Float64Var(&opts.fps, "fps", 0, "capture rate, 0 keeps the configured value")
	f.IntVar(&opts.buffers, "buffers", 0, "buffers per stream, 0 keeps the configured value")
	f.DurationVar(&opts.duration, "duration", 0, "stop after this long (0 = until interrupted)")
	f.DurationVar(&opts.warmup, "warmup", 0, "measure frame-rate stability for this long after start")
	f.StringVar(&opts.record, "record", "", "write delivered frames to this file")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	f.StringVar(&opts.mqttBroker, "mqtt-broker", "", "publish stats to this MQTT broker (host:port)")
	f.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	return cmd
}

// load reads the configuration file (or defaults) and applies flags that
// were set explicitly.
func (o *runOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	f := cmd.Flags()
	if f.Changed("source") {
		cfg.Source = o.source
	}
	if f.Changed("fps") {
		cfg.Camera.FPS = o.fps
	}
	if f.Changed("buffers") {
		cfg.Camera.BufferCount = o.buffers
	}
	if f.Changed("warmup") {
		cfg.Warmup.DurationS = int(o.warmup.Round(time.Second) / time.Second)
	}
	if f.Changed("record") {
		cfg.Record.Path = o.record
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Addr = o.metricsAddr
	}
	if f.Changed("mqtt-broker") {
		cfg.MQTT.Broker = o.mqttBroker
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func run(ctx context.Context, cfg *config.Config, duration time.Duration) error {
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	cam, err := openSource(cfg)
	if err != nil {
		return err
	}

	var (
		engineOpts = []engine.Option{engine.WithName(cfg.CameraID)}
		outletOpts = []outlet.Option{outlet.WithOverflowPolicy(cfg.Policy())}
		server     *http.Server
	)
	if cfg.Metrics.Addr != "" {
		reg := metrics.NewRegistry()
		m, err := metrics.NewEngine(reg, cfg.CameraID)
		if err != nil {
			_ = cam.Close()
			return err
		}
		engineOpts = append(engineOpts, engine.WithMetrics(m))
		outletOpts = append(outletOpts, outlet.WithMetrics(reg, "output"))
		server = serveMetrics(cfg.Metrics.Addr, reg)
	}

	out, err := outlet.New(cfg.Output.QueueSize, outletOpts...)
	if err != nil {
		_ = cam.Close()
		return err
	}
	if err := out.Start(ctx); err != nil {
		_ = cam.Close()
		return err
	}
	defer out.Stop()

	eng, err := engine.New(cam, cam, out, engineOpts...)
	if err != nil {
		_ = cam.Close()
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			slog.Warn("frame-capture: engine close failed", "error", err)
		}
	}()

	if err := eng.Configure(cfg.CameraConfig()); err != nil {
		return err
	}

	var wg sync.WaitGroup
	if cfg.Record.Path != "" {
		stopRecording, err := startRecorder(ctx, &wg, out, cfg.Record.Path)
		if err != nil {
			return err
		}
		defer stopRecording()
	}

	if err := eng.Start(); err != nil {
		return err
	}
	slog.Info("frame-capture: running",
		"camera", cfg.CameraID,
		"source", cfg.Source,
		"fps", cfg.Camera.FPS,
		"duration", duration,
	)

	if d := cfg.WarmupDuration(); d > 0 {
		runWarmup(ctx, out, d)
	}

	if cfg.MQTT.Broker != "" {
		em, err := telemetry.Connect(ctx, telemetry.Options{Broker: cfg.MQTT.Broker, ClientID: cfg.MQTT.ClientID})
		if err != nil {
			slog.Warn("frame-capture: telemetry disabled", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			defer em.Disconnect()
			reporter := &telemetry.Reporter{
				Emitter:  em,
				Topic:    cfg.MQTT.Topic,
				Camera:   cfg.CameraID,
				Interval: cfg.ReportInterval(),
				Source: func() (any, any) {
					return eng.Stats(), out.Stats()
				},
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				reporter.Run(ctx)
			}()

			control := telemetry.NewHandler(em, cfg.MQTT.ControlTopic, controlCallbacks(eng))
			if err := control.Start(ctx); err != nil {
				slog.Warn("frame-capture: control plane disabled", "topic", cfg.MQTT.ControlTopic, "error", err)
			} else {
				defer control.Stop()
			}
		}
	}

	<-ctx.Done()
	slog.Info("frame-capture: shutting down", "reason", context.Cause(ctx))

	stopErr := eng.Stop()
	logStats(eng.Stats(), out.Stats())

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.ShutdownTimeout()):
		slog.Warn("frame-capture: shutdown timeout, some workers did not stop", "timeout", cfg.ShutdownTimeout())
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("frame-capture: metrics server shutdown failed", "error", err)
		}
	}
	return stopErr
}

func controlCallbacks(eng *engine.Engine) telemetry.Callbacks {
	return telemetry.Callbacks{
		OnGetStatus:    func() any { return eng.Stats() },
		OnListControls: func() any { return eng.ListControls() },
		OnSetControls: func(c map[string]any) error {
			return eng.SetControls(camera.Controls(c))
		},
	}
}
