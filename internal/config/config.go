// Package config loads the YAML configuration of the frame-capture service.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/camera"
)

// Config represents the complete service configuration
type Config struct {
	CameraID         string          `yaml:"camera_id"`
	Source           string          `yaml:"source"`             // sim, gst
	ShutdownTimeoutS int             `yaml:"shutdown_timeout_s"` // graceful shutdown timeout (default: 5)
	Camera           CameraConfig    `yaml:"camera"`
	Simulator        SimulatorConfig `yaml:"simulator"`
	Output           OutputConfig    `yaml:"output"`
	Record           RecordConfig    `yaml:"record"`
	Metrics          MetricsConfig   `yaml:"metrics"`
	MQTT             MQTTConfig      `yaml:"mqtt"`
	Warmup           WarmupConfig    `yaml:"warmup"`
}

// StreamConfig is one stream as written in YAML.
type StreamConfig struct {
	Format string `yaml:"format"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

// CameraConfig contains stream and capture settings
type CameraConfig struct {
	Main        StreamConfig    `yaml:"main"`
	Lores       *StreamConfig   `yaml:"lores,omitempty"`
	Raw         *StreamConfig   `yaml:"raw,omitempty"`
	BufferCount int             `yaml:"buffer_count"`
	FPS         float64         `yaml:"fps"`
	HFlip       bool            `yaml:"hflip"`
	VFlip       bool            `yaml:"vflip"`
	ColorSpace  string          `yaml:"color_space"`
	Display     string          `yaml:"display"` // main, lores, raw, none
	Encode      string          `yaml:"encode"`
	Controls    camera.Controls `yaml:"controls"`
}

// SimulatorConfig tunes the software camera.
type SimulatorConfig struct {
	SensorWidth   int  `yaml:"sensor_width"`
	SensorHeight  int  `yaml:"sensor_height"`
	NonContiguous bool `yaml:"non_contiguous"`
}

// OutputConfig sizes the output pipeline
type OutputConfig struct {
	QueueSize int    `yaml:"queue_size"`
	Policy    string `yaml:"policy"` // drop_oldest, drop_newest
}

// RecordConfig enables frame recording when Path is set.
type RecordConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// MQTTConfig enables stats publishing when Broker is set.
type MQTTConfig struct {
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"client_id"`
	Topic        string `yaml:"topic"`
	ControlTopic string `yaml:"control_topic"`
	IntervalS    int    `yaml:"interval_s"`
}

// WarmupConfig measures frame-rate stability before reporting ready.
type WarmupConfig struct {
	DurationS int `yaml:"duration_s"`
}

// Default returns the base configuration files are decoded over. Validate
// fills in the remaining defaults.
func Default() *Config {
	return &Config{
		CameraID: "sim0",
		Camera: CameraConfig{
			Main: StreamConfig{Format: "BGR888", Width: 640, Height: 480},
			FPS:  30,
		},
	}
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ShutdownTimeout as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// WarmupDuration as a duration, 0 when disabled.
func (c *Config) WarmupDuration() time.Duration {
	return time.Duration(c.Warmup.DurationS) * time.Second
}

// ReportInterval as a duration.
func (c *Config) ReportInterval() time.Duration {
	return time.Duration(c.MQTT.IntervalS) * time.Second
}

// SensorSize of the simulator.
func (c *Config) SensorSize() camera.Size {
	return camera.Size{Width: c.Simulator.SensorWidth, Height: c.Simulator.SensorHeight}
}

func role(s string) camera.StreamRole {
	if s == "none" {
		return camera.NoStream
	}
	return camera.StreamRole(s)
}

func stream(sc *StreamConfig) *camera.StreamConfig {
	if sc == nil {
		return nil
	}
	return &camera.StreamConfig{
		Format: sc.Format,
		Size:   camera.Size{Width: sc.Width, Height: sc.Height},
	}
}

// CameraConfig builds the typed camera configuration: a preview
// configuration for the main stream with the YAML overrides applied.
func (c *Config) CameraConfig() camera.Config {
	cc := c.Camera
	cfg := camera.PreviewConfig(camera.Size{Width: cc.Main.Width, Height: cc.Main.Height}, cc.FPS, cc.Main.Format)
	cfg.Lores = stream(cc.Lores)
	cfg.Raw = stream(cc.Raw)
	cfg.BufferCount = cc.BufferCount
	cfg.Transform = camera.Transform{HFlip: cc.HFlip, VFlip: cc.VFlip}
	if cc.ColorSpace != "" {
		cfg.ColorSpace = cc.ColorSpace
	}
	cfg.Display = role(cc.Display)
	cfg.Encode = role(cc.Encode)
	cfg.Controls.Merge(cc.Controls)
	return cfg
}
