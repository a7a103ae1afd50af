package buffer

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Memfd is an anonymous shared-memory file used as backing store for
// software-allocated frame buffers.
type Memfd struct {
	fd   int
	size int
}

// NewMemfd creates a memfd of the given size.
func NewMemfd(name string, size int) (*Memfd, error) {
	if size <= 0 {
		return nil, fmt.Errorf("buffer: invalid memfd size %d", size)
	}
	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("buffer: memfd_create %q: %w", name, err)
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("buffer: ftruncate %q to %d: %w", name, size, err)
	}
	return &Memfd{fd: fd, size: size}, nil
}

// FD returns the file descriptor, -1 after Close.
func (m *Memfd) FD() int { return m.fd }

// Size returns the file size in bytes.
func (m *Memfd) Size() int { return m.size }

// WriteAt copies p into the file at off.
func (m *Memfd) WriteAt(p []byte, off int64) (int, error) {
	n, err := unix.Pwrite(m.fd, p, off)
	if err != nil {
		return n, fmt.Errorf("buffer: pwrite fd=%d: %w", m.fd, err)
	}
	return n, nil
}

// Handle returns a single-plane handle covering the whole file.
func (m *Memfd) Handle() *Handle {
	return &Handle{planes: []Plane{{FD: m.fd, Length: m.size}}}
}

// Close releases the descriptor. Safe to call twice.
func (m *Memfd) Close() error {
	if m.fd < 0 {
		return nil
	}
	err := unix.Close(m.fd)
	m.fd = -1
	return err
}
