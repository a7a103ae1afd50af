package config

import (
	"fmt"
	"regexp"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/camera"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/outlet"
)

var cameraIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

func applyDefaults(cfg *Config) {
	if cfg.Source == "" {
		cfg.Source = "sim"
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}
	if cfg.Camera.BufferCount <= 0 {
		cfg.Camera.BufferCount = camera.DefaultBufferCount
	}
	if cfg.Camera.Display == "" {
		cfg.Camera.Display = string(camera.RoleMain)
	}
	if cfg.Camera.Encode == "" {
		cfg.Camera.Encode = string(camera.RoleMain)
	}
	if cfg.Simulator.SensorWidth <= 0 || cfg.Simulator.SensorHeight <= 0 {
		cfg.Simulator.SensorWidth, cfg.Simulator.SensorHeight = 4056, 3040
	}
	if cfg.Output.QueueSize <= 0 {
		cfg.Output.QueueSize = 8
	}
	if cfg.Output.Policy == "" {
		cfg.Output.Policy = outlet.DropOldest.String()
	}
	if cfg.MQTT.IntervalS <= 0 {
		cfg.MQTT.IntervalS = 10
	}
	if cfg.MQTT.ClientID == "" && cfg.CameraID != "" {
		cfg.MQTT.ClientID = "frame-lifecycle-" + cfg.CameraID
	}
	if cfg.MQTT.Topic == "" && cfg.CameraID != "" {
		cfg.MQTT.Topic = fmt.Sprintf("frame-lifecycle/stats/%s", cfg.CameraID)
	}
	if cfg.MQTT.ControlTopic == "" && cfg.CameraID != "" {
		cfg.MQTT.ControlTopic = fmt.Sprintf("frame-lifecycle/control/%s", cfg.CameraID)
	}
}

// Validate fills defaults and checks the configuration.
func Validate(cfg *Config) error {
	if cfg.CameraID == "" {
		return fmt.Errorf("camera_id is required")
	}
	if !cameraIDPattern.MatchString(cfg.CameraID) {
		return fmt.Errorf("camera_id must match pattern [a-z0-9-]+")
	}
	applyDefaults(cfg)

	switch cfg.Source {
	case "sim", "gst":
	default:
		return fmt.Errorf("source must be sim or gst, got %q", cfg.Source)
	}
	if cfg.Camera.FPS < 0 || cfg.Camera.FPS > 240 {
		return fmt.Errorf("camera.fps must be in [0, 240], got %g", cfg.Camera.FPS)
	}
	if _, ok := outlet.ParsePolicy(cfg.Output.Policy); !ok {
		return fmt.Errorf("output.policy must be drop_oldest or drop_newest, got %q", cfg.Output.Policy)
	}
	if cfg.Warmup.DurationS < 0 {
		return fmt.Errorf("warmup.duration_s must be >= 0")
	}

	cc := cfg.CameraConfig()
	if err := cc.Validate(); err != nil {
		return fmt.Errorf("camera: %w", err)
	}
	return nil
}

// Policy returns the parsed output overflow policy.
func (c *Config) Policy() outlet.OverflowPolicy {
	p, _ := outlet.ParsePolicy(c.Output.Policy)
	return p
}
