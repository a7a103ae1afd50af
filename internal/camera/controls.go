package camera

import "maps"

// Controls maps control names (Brightness, ExposureTime, ...) to values.
type Controls map[string]any

// NoiseReductionMode values.
const (
	NoiseReductionOff     = 0
	NoiseReductionFast    = 1
	NoiseReductionQuality = 2
	NoiseReductionMinimal = 3
)

// ControlInfo describes the accepted range of one control.
type ControlInfo struct {
	Min     any
	Max     any
	Default any
}

// Merge copies src into c, later values winning per key.
func (c Controls) Merge(src Controls) {
	maps.Copy(c, src)
}
