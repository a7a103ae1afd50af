// Package gstcam feeds the software camera from a GStreamer pipeline
// (videotestsrc ! videoconvert ! capsfilter ! appsink). Every appsink sample
// completes the oldest queued request; samples arriving while no request is
// queued are dropped.
//
// The pipeline itself requires the gstreamer build tag.
package gstcam

import (
	"fmt"
	"math"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/camera"
)

var gstFormats = map[string]string{
	"BGR888":   "RGB",
	"RGB888":   "BGR",
	"XBGR8888": "RGBx",
	"XRGB8888": "BGRx",
	"YUV420":   "I420",
	"YVU420":   "YV12",
	"NV12":     "NV12",
	"NV21":     "NV21",
	"YUYV":     "YUY2",
	"YVYU":     "YVYU",
	"UYVY":     "UYVY",
	"VYUY":     "VYUY",
}

// CapsFormat maps a pixel format name to the GStreamer video format with
// the same byte layout.
func CapsFormat(format string) (string, error) {
	f, ok := gstFormats[format]
	if !ok {
		return "", fmt.Errorf("%w: format %q has no GStreamer equivalent", camera.ErrConfig, format)
	}
	return f, nil
}

// framerate returns fps as a GStreamer fraction.
func framerate(fps float64) (num, den int) {
	if fps <= 0 {
		return 30, 1
	}
	if fps == math.Trunc(fps) {
		return int(fps), 1
	}
	return int(math.Round(fps * 1000)), 1000
}

// BuildCaps returns the capsfilter string for a stream at fps.
func BuildCaps(sc camera.StreamConfig, fps float64) (string, error) {
	f, err := CapsFormat(sc.Format)
	if err != nil {
		return "", err
	}
	num, den := framerate(fps)
	return fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d,framerate=%d/%d",
		f, sc.Size.Width, sc.Size.Height, num, den), nil
}
