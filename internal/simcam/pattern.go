package simcam

import (
	"math"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/camera"
)

// drawPattern fills dst with horizontal bands: row y holds seq+y+offset.
// offset is Brightness scaled from [-1, 1] to [-127, 127].
func drawPattern(dst []byte, sc camera.StreamConfig, seq uint64, brightness float64) {
	stride := sc.Stride
	if stride <= 0 {
		stride = len(dst)
	}
	offset := int(math.Round(brightness * 127))
	for row := 0; row*stride < len(dst); row++ {
		v := byte(int(seq) + row + offset)
		end := min((row+1)*stride, len(dst))
		line := dst[row*stride : end]
		for i := range line {
			line[i] = v
		}
	}
}

// PatternValue is the byte drawPattern writes at the first row.
func PatternValue(seq uint64, brightness float64) byte {
	return byte(int(seq) + int(math.Round(brightness*127)))
}

func brightness(active camera.Controls) float64 {
	switch v := active["Brightness"].(type) {
	case float64:
		return max(-1, min(1, v))
	case float32:
		return max(-1, min(1, float64(v)))
	case int:
		return max(-1, min(1, float64(v)))
	default:
		return 0
	}
}
