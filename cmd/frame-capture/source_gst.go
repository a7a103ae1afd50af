//go:build gstreamer

package main

import (
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/gstcam"
)

func init() {
	sources["gst"] = func(cfg *config.Config) (source, error) {
		return gstcam.New(gstcam.Options{
			Name:       cfg.CameraID,
			FPS:        cfg.Camera.FPS,
			SensorSize: cfg.SensorSize(),
		})
	}
}
