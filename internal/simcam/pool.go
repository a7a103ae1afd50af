package simcam

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/buffer"
	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/camera"
)

// Pool is a set of memfd-backed frame buffers.
type Pool struct {
	mu      sync.Mutex
	buffers map[camera.StreamRole][]*buffer.Handle
	files   map[int]*buffer.Memfd
	streams map[camera.StreamRole]camera.StreamConfig
	closed  bool
}

func (p *Pool) Buffers(role camera.StreamRole) []*buffer.Handle {
	return p.buffers[role]
}

// Close releases every memfd. Safe to call twice.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var first error
	for _, f := range p.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// write copies data over the planes of h, in plane order.
func (p *Pool) write(h *buffer.Handle, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("simcam: pool closed")
	}
	off := 0
	for _, pl := range h.Planes() {
		f, ok := p.files[pl.FD]
		if !ok {
			return fmt.Errorf("simcam: fd %d not in pool", pl.FD)
		}
		end := off + pl.Length
		if end > len(data) {
			end = len(data)
		}
		if off >= end {
			break
		}
		if _, err := f.WriteAt(data[off:end], int64(pl.Offset)); err != nil {
			return err
		}
		off = end
	}
	return nil
}

// Validate aligns every stream to hardware-friendly sizes, checks it
// against the sensor and fills in stride and frame size.
func (c *Camera) Validate(cfg camera.Config) (camera.Config, error) {
	if err := cfg.Validate(); err != nil {
		return camera.Config{}, err
	}
	out := cfg.Clone()
	for _, role := range out.Roles() {
		sc, _ := out.Stream(role)
		aligned := camera.Align(*sc)
		if aligned.Size != sc.Size {
			slog.Debug("simcam: stream size adjusted", "stream", string(role),
				"requested", sc.Size.String(), "actual", aligned.Size.String())
		}
		if aligned.Size.Width == 0 || aligned.Size.Height == 0 {
			return camera.Config{}, fmt.Errorf("%w: %s stream %s too small after alignment",
				camera.ErrConfig, role, sc.Size)
		}
		if aligned.Size.Width > c.opts.SensorSize.Width || aligned.Size.Height > c.opts.SensorSize.Height {
			return camera.Config{}, fmt.Errorf("%w: %s stream %s exceeds sensor %s",
				camera.ErrConfig, role, aligned.Size, c.opts.SensorSize)
		}
		stride, size, err := camera.Layout(aligned.Format, aligned.Size)
		if err != nil {
			return camera.Config{}, err
		}
		aligned.Stride, aligned.FrameSize = stride, size
		*sc = aligned
	}
	return out, nil
}

// Allocate creates BufferCount memfd buffers for every configured stream.
func (c *Camera) Allocate(cfg camera.Config) (camera.BufferPool, error) {
	if c.opts.FailAllocate {
		return nil, fmt.Errorf("simcam: allocation disabled: %w", camera.ErrAllocation)
	}
	p := &Pool{
		buffers: make(map[camera.StreamRole][]*buffer.Handle),
		files:   make(map[int]*buffer.Memfd),
		streams: make(map[camera.StreamRole]camera.StreamConfig),
	}
	for _, role := range cfg.Roles() {
		sc, _ := cfg.Stream(role)
		if sc.FrameSize <= 0 {
			p.Close()
			return nil, fmt.Errorf("simcam: %s stream not validated: %w", role, camera.ErrAllocation)
		}
		p.streams[role] = *sc
		for i := 0; i < cfg.BufferCount; i++ {
			h, err := p.alloc(fmt.Sprintf("%s-%s-%d", c.opts.Name, role, i), sc.FrameSize, c.opts.NonContiguous)
			if err != nil {
				p.Close()
				return nil, fmt.Errorf("simcam: %s buffer %d: %w: %w", role, i, camera.ErrAllocation, err)
			}
			p.buffers[role] = append(p.buffers[role], h)
		}
	}

	c.mu.Lock()
	c.pool = p
	c.mu.Unlock()

	slog.Debug("simcam: buffers allocated", "camera", c.opts.Name, "count", cfg.BufferCount, "streams", len(p.streams))
	return p, nil
}

// alloc creates one buffer. A non-contiguous buffer puts each half of the
// frame in its own memfd, like a multi-planar dma-buf export.
func (p *Pool) alloc(name string, size int, split bool) (*buffer.Handle, error) {
	if !split || size < 2 {
		f, err := buffer.NewMemfd(name, size)
		if err != nil {
			return nil, err
		}
		p.files[f.FD()] = f
		return f.Handle(), nil
	}

	first := size / 2
	a, err := buffer.NewMemfd(name+"-p0", first)
	if err != nil {
		return nil, err
	}
	p.files[a.FD()] = a
	b, err := buffer.NewMemfd(name+"-p1", size-first)
	if err != nil {
		return nil, err
	}
	p.files[b.FD()] = b
	return buffer.NewHandle(
		buffer.Plane{FD: a.FD(), Length: a.Size()},
		buffer.Plane{FD: b.FD(), Length: b.Size()},
	)
}
