// Package buffer describes hardware-backed frame buffers and how the CPU
// gets a read-only view of them.
//
// A Handle never owns the memory it points at. The pool that allocated the
// file descriptors (camera driver, memfd allocator) closes them on teardown.
package buffer

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrNonContiguous is returned by Map when the planes of a buffer live in
// more than one memory region.
var ErrNonContiguous = errors.New("frame-lifecycle: cannot map non-contiguous buffer")

// Plane is one memory plane of a frame buffer (Y, UV, ...).
type Plane struct {
	FD     int
	Offset int
	Length int
}

// Handle references one frame buffer of the configured pool.
type Handle struct {
	planes []Plane
}

// NewHandle builds a handle over the given planes.
func NewHandle(planes ...Plane) (*Handle, error) {
	if len(planes) == 0 {
		return nil, fmt.Errorf("buffer: handle needs at least one plane")
	}
	for i, p := range planes {
		if p.FD < 0 || p.Offset < 0 || p.Length <= 0 {
			return nil, fmt.Errorf("buffer: invalid plane %d (fd=%d offset=%d length=%d)",
				i, p.FD, p.Offset, p.Length)
		}
	}
	cp := make([]Plane, len(planes))
	copy(cp, planes)
	return &Handle{planes: cp}, nil
}

// Planes returns a copy of the plane table.
func (h *Handle) Planes() []Plane {
	cp := make([]Plane, len(h.planes))
	copy(cp, h.planes)
	return cp
}

// Contiguous reports whether every plane shares one file descriptor.
func (h *Handle) Contiguous() bool {
	fd := h.planes[0].FD
	for _, p := range h.planes[1:] {
		if p.FD != fd {
			return false
		}
	}
	return true
}

// span returns the byte range [start, end) covered by all planes.
func (h *Handle) span() (start, end int) {
	start = h.planes[0].Offset
	for _, p := range h.planes {
		if p.Offset < start {
			start = p.Offset
		}
		if e := p.Offset + p.Length; e > end {
			end = e
		}
	}
	return start, end
}

// Len is the number of bytes a mapped view exposes. For a non-contiguous
// buffer it is the sum of the plane lengths.
func (h *Handle) Len() int {
	if !h.Contiguous() {
		n := 0
		for _, p := range h.planes {
			n += p.Length
		}
		return n
	}
	start, end := h.span()
	return end - start
}

// Map creates a read-only shared mapping of the whole buffer.
// The caller must Close the view; prefer With for scoped access.
func (h *Handle) Map() (*View, error) {
	if !h.Contiguous() {
		return nil, ErrNonContiguous
	}
	start, end := h.span()

	// mmap offsets must be page aligned, so map from the start of the fd
	// and slice the window afterwards.
	region, err := unix.Mmap(h.planes[0].FD, 0, end, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("buffer: mmap fd=%d length=%d: %w", h.planes[0].FD, end, err)
	}
	return &View{region: region, data: region[start:end]}, nil
}

// With maps the buffer, runs fn over the bytes and unmaps on every path,
// including a panic inside fn. The slice must not escape fn.
func (h *Handle) With(fn func(b []byte) error) (err error) {
	v, err := h.Map()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := v.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(v.Bytes())
}

// Copy returns an owned copy of the buffer contents.
func (h *Handle) Copy() ([]byte, error) {
	var out []byte
	err := h.With(func(b []byte) error {
		out = make([]byte, len(b))
		copy(out, b)
		return nil
	})
	return out, err
}

// View is a live read-only mapping of a Handle.
type View struct {
	region []byte
	data   []byte
}

// Bytes returns the mapped window. Invalid after Close.
func (v *View) Bytes() []byte {
	return v.data
}

// Close unmaps the view. Safe to call twice.
func (v *View) Close() error {
	if v.region == nil {
		return nil
	}
	err := unix.Munmap(v.region)
	v.region, v.data = nil, nil
	if err != nil {
		return fmt.Errorf("buffer: munmap: %w", err)
	}
	return nil
}
