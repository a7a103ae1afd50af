package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/camera"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/outlet"
)

const sample = `
camera_id: cam-1
source: sim
camera:
  main: {format: XRGB8888, width: 1000, height: 600}
  lores: {format: YUV420, width: 320, height: 240}
  buffer_count: 6
  fps: 25
  hflip: true
  display: lores
  encode: none
  controls:
    Brightness: 0.25
output:
  queue_size: 4
  policy: drop_newest
record:
  path: /tmp/frames.msgpack
mqtt:
  broker: localhost:1883
warmup:
  duration_s: 3
`

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeFile(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "cam-1", cfg.CameraID)
	assert.Equal(t, 4, cfg.Output.QueueSize)
	assert.Equal(t, outlet.DropNewest, cfg.Policy())
	assert.Equal(t, 3*time.Second, cfg.WarmupDuration())
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout())
	assert.Equal(t, 10*time.Second, cfg.ReportInterval())
	assert.Equal(t, "frame-lifecycle/stats/cam-1", cfg.MQTT.Topic)
	assert.Equal(t, "frame-lifecycle-cam-1", cfg.MQTT.ClientID)
	assert.Equal(t, "frame-lifecycle/control/cam-1", cfg.MQTT.ControlTopic)

	cc := cfg.CameraConfig()
	assert.Equal(t, camera.Size{Width: 992, Height: 600}, cc.Main.Size, "XRGB8888 width aligned down to 16")
	require.NotNil(t, cc.Lores)
	assert.Equal(t, 6, cc.BufferCount)
	assert.True(t, cc.Transform.HFlip)
	assert.Equal(t, camera.RoleLores, cc.Display)
	assert.Equal(t, camera.NoStream, cc.Encode)
	assert.Equal(t, 0.25, cc.Controls["Brightness"])
	assert.Equal(t, camera.NoiseReductionMinimal, cc.Controls["NoiseReductionMode"])
	assert.Equal(t, [2]int64{40000, 40000}, cc.Controls["FrameDurationLimits"])
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, "sim", cfg.Source)
	assert.Equal(t, camera.Size{Width: 4056, Height: 3040}, cfg.SensorSize())

	cc := cfg.CameraConfig()
	assert.Equal(t, camera.DefaultBufferCount, cc.BufferCount)
	assert.Equal(t, camera.RoleMain, cc.Display)
	assert.Equal(t, "BGR888", cc.Main.Format)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeFile(t, "camera: [unclosed"))
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad camera id", "camera_id: Cam_1", "camera_id must match"},
		{"bad source", "source: v4l2", "source must be"},
		{"fps out of range", "camera: {main: {format: BGR888, width: 64, height: 64}, fps: 500}", "camera.fps"},
		{"bad policy", "output: {policy: block}", "output.policy"},
		{"bad format", "camera: {main: {format: H264, width: 64, height: 64}}", "bad format"},
		{"undefined display", "camera: {main: {format: BGR888, width: 64, height: 64}, display: raw}", "display stream"},
		{"negative warmup", "warmup: {duration_s: -1}", "warmup.duration_s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestValidate_ConfigErrorsWrapSentinel(t *testing.T) {
	_, err := Parse([]byte("camera: {main: {format: BGR888, width: 0, height: 64}}"))
	assert.ErrorIs(t, err, camera.ErrConfig)
}
