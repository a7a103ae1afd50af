// Package recorder writes delivered frames to a stream of length-prefixed
// msgpack records (4 bytes big-endian length, then the record) and reads
// them back.
package recorder

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-care-sensor/modules/frame-lifecycle/internal/frame"
)

// MaxRecordSize bounds a single record on read.
const MaxRecordSize = 64 << 20

// Record is the on-disk form of a frame.
type Record struct {
	Seq         uint64 `msgpack:"seq"`
	TimestampNS int64  `msgpack:"ts_ns"`
	Generation  uint64 `msgpack:"generation"`
	Stream      string `msgpack:"stream"`
	Format      string `msgpack:"format"`
	Width       int    `msgpack:"width"`
	Height      int    `msgpack:"height"`
	Stride      int    `msgpack:"stride"`
	TraceID     string `msgpack:"trace_id"`
	Data        []byte `msgpack:"data"`
}

// FromFrame converts a delivered frame.
func FromFrame(f frame.Frame) Record {
	return Record{
		Seq:         f.Seq,
		TimestampNS: f.Timestamp.UnixNano(),
		Generation:  f.Generation,
		Stream:      f.Stream,
		Format:      f.Format,
		Width:       f.Width,
		Height:      f.Height,
		Stride:      f.Stride,
		TraceID:     f.TraceID,
		Data:        f.Data,
	}
}

// Frame converts the record back.
func (r Record) Frame() frame.Frame {
	return frame.Frame{
		Seq:        r.Seq,
		Timestamp:  time.Unix(0, r.TimestampNS),
		Generation: r.Generation,
		Stream:     r.Stream,
		Format:     r.Format,
		Width:      r.Width,
		Height:     r.Height,
		Stride:     r.Stride,
		TraceID:    r.TraceID,
		Data:       r.Data,
	}
}

// Writer appends records to an io.Writer.
type Writer struct {
	mu      sync.Mutex
	w       *bufio.Writer
	written uint64
	bytes   uint64
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write encodes one frame.
func (w *Writer) Write(f frame.Frame) error {
	payload, err := msgpack.Marshal(FromFrame(f))
	if err != nil {
		return fmt.Errorf("recorder: marshal seq=%d: %w", f.Seq, err)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(prefix[:]); err != nil {
		return fmt.Errorf("recorder: write length prefix: %w", err)
	}
	if _, err := w.w.Write(payload); err != nil {
		return fmt.Errorf("recorder: write record: %w", err)
	}
	w.written++
	w.bytes += uint64(len(payload) + len(prefix))
	return nil
}

// Flush pushes buffered records to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Flush()
}

// Stats returns the number of records and bytes written.
func (w *Writer) Stats() (records, bytes uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written, w.bytes
}

// Run writes every frame received on frames until ctx is done or the
// channel closes, then flushes.
func (w *Writer) Run(ctx context.Context, frames <-chan frame.Frame) error {
	defer func() {
		if err := w.Flush(); err != nil {
			slog.Warn("recorder: flush failed", "error", err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			if err := w.Write(f); err != nil {
				return err
			}
		}
	}
}

// Reader decodes records written by Writer.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next record, io.EOF at a clean end of stream.
func (r *Reader) Next() (Record, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r.r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("recorder: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxRecordSize {
		return Record{}, fmt.Errorf("recorder: record of %d bytes exceeds limit", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return Record{}, fmt.Errorf("recorder: read record: %w", err)
	}
	var rec Record
	if err := msgpack.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("recorder: unmarshal record: %w", err)
	}
	return rec, nil
}
