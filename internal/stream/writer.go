// Package stream adapts chunk store files to io.Reader and io.Writer.
package stream

import (
	"context"
	"io"
	"sync"

	"github.com/tunnelmesh/chunkvault/internal/dedup"
)

// DefaultHighWaterMark is the number of bytes buffered before they are
// handed to the file.
const DefaultHighWaterMark = 2 << 20

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithHighWaterMark sets the buffer size of a Writer.
func WithHighWaterMark(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.highWater = n
		}
	}
}

// Writer buffers writes to a dedup.File. Close stores the buffer and
// flushes the file exactly once. After an error every later call
// returns that error.
type Writer struct {
	ctx       context.Context
	f         *dedup.File
	highWater int

	mu     sync.Mutex
	buf    []byte
	err    error
	closed bool
}

var _ io.WriteCloser = (*Writer)(nil)

// NewWriter returns a Writer for f. ctx bounds every store operation.
func NewWriter(ctx context.Context, f *dedup.File, opts ...WriterOption) *Writer {
	w := &Writer{ctx: ctx, f: f, highWater: DefaultHighWaterMark}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write buffers p and passes the buffer on once it reaches the high-water
// mark.
func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, io.ErrClosedPipe
	}
	if w.err != nil {
		return 0, w.err
	}

	w.buf = append(w.buf, p...)
	if len(w.buf) >= w.highWater {
		if err := w.drain(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

// Close stores any buffered bytes and flushes the file. The file itself
// stays open.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}

	if err := w.drain(); err != nil {
		return err
	}
	if _, err := w.f.Flush(w.ctx); err != nil {
		w.err = err
		return err
	}
	return nil
}

func (w *Writer) drain() error {
	if len(w.buf) == 0 {
		return nil
	}
	_, err := w.f.Write(w.ctx, w.buf)
	w.buf = w.buf[:0]
	if err != nil {
		w.err = err
	}
	return err
}
