package recorder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// CompressedSuffix selects lz4 framing for recordings.
const CompressedSuffix = ".lz4"

// File is a Writer bound to a file on disk.
type File struct {
	*Writer
	path string
	zw   *lz4.Writer
	f    *os.File
}

// Create opens path for recording. Paths ending in ".lz4" are compressed.
func Create(path string) (*File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: create %s: %w", path, err)
	}
	rf := &File{path: path, f: f}
	var w io.Writer = f
	if strings.HasSuffix(path, CompressedSuffix) {
		rf.zw = lz4.NewWriter(f)
		w = rf.zw
	}
	rf.Writer = NewWriter(w)
	return rf, nil
}

func (f *File) Path() string { return f.path }

// Close flushes pending records and closes the file.
func (f *File) Close() error {
	err := f.Flush()
	if f.zw != nil {
		err = errors.Join(err, f.zw.Close())
	}
	return errors.Join(err, f.f.Close())
}

// ReadFile is a Reader bound to a file on disk.
type ReadFile struct {
	*Reader
	f *os.File
}

// Open opens a recording written by Create.
func Open(path string) (*ReadFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("recorder: open %s: %w", path, err)
	}
	var r io.Reader = f
	if strings.HasSuffix(path, CompressedSuffix) {
		r = lz4.NewReader(f)
	}
	return &ReadFile{Reader: NewReader(r), f: f}, nil
}

func (r *ReadFile) Close() error { return r.f.Close() }
