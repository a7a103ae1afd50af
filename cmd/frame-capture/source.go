package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/camera"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/simcam"
)

// source is a camera that configures itself.
type source interface {
	camera.Camera
	camera.Configurator
	io.Closer
}

type sourceFactory func(cfg *config.Config) (source, error)

// sources is extended by source_gst.go when built with -tags gstreamer.
var sources = map[string]sourceFactory{
	"sim": newSimSource,
}

func newSimSource(cfg *config.Config) (source, error) {
	return simcam.New(simcam.Options{
		Name:          cfg.CameraID,
		FPS:           cfg.Camera.FPS,
		SensorSize:    cfg.SensorSize(),
		NonContiguous: cfg.Simulator.NonContiguous,
	})
}

func openSource(cfg *config.Config) (source, error) {
	factory, ok := sources[cfg.Source]
	if !ok {
		return nil, fmt.Errorf("source %q not available in this build (have: %s)",
			cfg.Source, strings.Join(slices.Sorted(maps.Keys(sources)), ", "))
	}
	return factory(cfg)
}
