package camera

import (
	"fmt"
	"strings"
)

// Pixel format families understood by the configuration layer.
var (
	yuvFormats = map[string]bool{
		"NV21": true, "NV12": true, "YUV420": true, "YVU420": true,
		"YVYU": true, "YUYV": true, "UYVY": true, "VYUY": true,
	}
	rgbFormats = map[string]bool{
		"BGR888": true, "RGB888": true, "XBGR8888": true, "XRGB8888": true,
	}
	bayerFormats = map[string]bool{
		"SBGGR10": true, "SGBRG10": true, "SGRBG10": true, "SRGGB10": true,
		"SBGGR10_CSI2P": true, "SGBRG10_CSI2P": true, "SGRBG10_CSI2P": true, "SRGGB10_CSI2P": true,
		"SBGGR12": true, "SGBRG12": true, "SGRBG12": true, "SRGGB12": true,
		"SBGGR12_CSI2P": true, "SGBRG12_CSI2P": true, "SGRBG12_CSI2P": true, "SRGGB12_CSI2P": true,
	}
)

func IsYUV(format string) bool   { return yuvFormats[format] }
func IsRGB(format string) bool   { return rgbFormats[format] }
func IsBayer(format string) bool { return bayerFormats[format] }

func isPlanarYUV420(format string) bool {
	return format == "YUV420" || format == "YVU420" || format == "NV12" || format == "NV21"
}

// WidthAlignment is the pixel multiple a stream width is rounded down to so
// every plane row is a multiple of 32 bytes.
func WidthAlignment(format string) int {
	switch format {
	case "YUV420", "YVU420":
		// chroma planes are half width
		return 64
	case "XBGR8888", "XRGB8888":
		return 16
	default:
		return 32
	}
}

// Align rounds the stream size down to hardware-friendly dimensions.
func Align(sc StreamConfig) StreamConfig {
	a := WidthAlignment(sc.Format)
	sc.Size.Width -= sc.Size.Width % a
	sc.Size.Height -= sc.Size.Height % 2
	return sc
}

// Layout returns the row stride and total frame size in bytes for a format
// at the given size.
func Layout(format string, size Size) (stride, frameSize int, err error) {
	w, h := size.Width, size.Height
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("%w: size %s", ErrConfig, size)
	}
	switch {
	case isPlanarYUV420(format):
		return w, w * h * 3 / 2, nil
	case yuvFormats[format]:
		return w * 2, w * 2 * h, nil
	case format == "BGR888" || format == "RGB888":
		return w * 3, w * 3 * h, nil
	case format == "XBGR8888" || format == "XRGB8888":
		return w * 4, w * 4 * h, nil
	case bayerFormats[format]:
		stride = w * 2
		if strings.HasSuffix(format, "_CSI2P") {
			// packed: 4 pixels in 5 bytes (10 bit) or 2 pixels in 3 bytes (12 bit)
			if strings.Contains(format, "10") {
				stride = (w*5 + 3) / 4
			} else {
				stride = (w*3 + 1) / 2
			}
		}
		return stride, stride * h, nil
	default:
		return 0, 0, fmt.Errorf("%w: unknown format %q", ErrConfig, format)
	}
}
