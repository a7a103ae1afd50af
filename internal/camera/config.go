package camera

import (
	"fmt"
	"maps"
)

// StreamRole names one of the three streams a camera can produce.
type StreamRole string

const (
	RoleMain  StreamRole = "main"
	RoleLores StreamRole = "lores"
	RoleRaw   StreamRole = "raw"
)

// NoStream disables display (or encode) delivery.
const NoStream StreamRole = ""

// Size is a frame size in pixels.
type Size struct {
	Width  int
	Height int
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// StreamConfig describes one stream. Stride and FrameSize are filled in by
// the configurator during validation.
type StreamConfig struct {
	Format    string
	Size      Size
	Stride    int
	FrameSize int
}

// Transform is the image orientation applied by the sensor pipeline.
type Transform struct {
	HFlip bool
	VFlip bool
}

// Config is the typed camera configuration handed to Engine.Configure.
type Config struct {
	Main  StreamConfig
	Lores *StreamConfig
	Raw   *StreamConfig

	// BufferCount is the number of buffers allocated per stream.
	BufferCount int

	Transform  Transform
	ColorSpace string

	// Controls are applied once when capture starts.
	Controls Controls

	// Display is the stream delivered to the output pipeline, NoStream for none.
	Display StreamRole
	// Encode names the stream an encoder would consume. Carried, not used.
	Encode StreamRole
}

// DefaultBufferCount matches a preview configuration.
const DefaultBufferCount = 4

// PreviewConfig returns a configuration suitable for live preview: one main
// stream at the given size, four buffers, minimal noise reduction and frame
// duration pinned to fps.
func PreviewConfig(size Size, fps float64, format string) Config {
	if format == "" {
		format = "BGR888"
	}
	controls := Controls{"NoiseReductionMode": NoiseReductionMinimal}
	if fps > 0 {
		d := int64(1e6 / fps)
		controls["FrameDurationLimits"] = [2]int64{d, d}
	}
	return Config{
		Main:        Align(StreamConfig{Format: format, Size: size}),
		BufferCount: DefaultBufferCount,
		ColorSpace:  "sYCC",
		Controls:    controls,
		Display:     RoleMain,
		Encode:      RoleMain,
	}
}

// Stream returns the configuration of role, false when the stream is absent.
func (c *Config) Stream(role StreamRole) (*StreamConfig, bool) {
	switch role {
	case RoleMain:
		return &c.Main, true
	case RoleLores:
		return c.Lores, c.Lores != nil
	case RoleRaw:
		return c.Raw, c.Raw != nil
	default:
		return nil, false
	}
}

// Roles lists configured streams in hardware order.
func (c *Config) Roles() []StreamRole {
	roles := []StreamRole{RoleMain}
	if c.Lores != nil {
		roles = append(roles, RoleLores)
	}
	if c.Raw != nil {
		roles = append(roles, RoleRaw)
	}
	return roles
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	if c.Lores != nil {
		l := *c.Lores
		c.Lores = &l
	}
	if c.Raw != nil {
		r := *c.Raw
		c.Raw = &r
	}
	c.Controls = maps.Clone(c.Controls)
	return c
}

// Validate checks the configuration for errors that no camera could satisfy.
// Every failure wraps ErrConfig.
func (c *Config) Validate() error {
	if err := validateStream(c.Main, RoleMain); err != nil {
		return err
	}
	if c.Lores != nil {
		if err := validateStream(*c.Lores, RoleLores); err != nil {
			return err
		}
		if c.Lores.Size.Width > c.Main.Size.Width || c.Lores.Size.Height > c.Main.Size.Height {
			return fmt.Errorf("%w: lores %s exceeds main %s", ErrConfig, c.Lores.Size, c.Main.Size)
		}
		if !IsYUV(c.Lores.Format) {
			return fmt.Errorf("%w: lores stream must be YUV, got %q", ErrConfig, c.Lores.Format)
		}
	}
	if c.Raw != nil {
		if err := validateStream(*c.Raw, RoleRaw); err != nil {
			return err
		}
	}
	if c.BufferCount < 1 {
		return fmt.Errorf("%w: buffer count %d (must be >= 1)", ErrConfig, c.BufferCount)
	}
	for _, r := range []struct {
		name string
		role StreamRole
	}{{"display", c.Display}, {"encode", c.Encode}} {
		if r.role == NoStream {
			continue
		}
		if _, ok := c.Stream(r.role); !ok {
			return fmt.Errorf("%w: %s stream %q was not defined", ErrConfig, r.name, r.role)
		}
	}
	return nil
}

func validateStream(sc StreamConfig, role StreamRole) error {
	if sc.Format == "" {
		return fmt.Errorf("%w: format not set in %s stream", ErrConfig, role)
	}
	if role == RoleRaw {
		if !IsBayer(sc.Format) {
			return fmt.Errorf("%w: unrecognised raw format %q", ErrConfig, sc.Format)
		}
	} else if !IsYUV(sc.Format) && !IsRGB(sc.Format) {
		return fmt.Errorf("%w: bad format %q in %s stream", ErrConfig, sc.Format, role)
	}
	if sc.Size.Width <= 0 || sc.Size.Height <= 0 {
		return fmt.Errorf("%w: invalid size %s in %s stream", ErrConfig, sc.Size, role)
	}
	return nil
}
