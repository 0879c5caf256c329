package stream

import (
	"context"
	"io"
	"sync"

	"github.com/tunnelmesh/chunkvault/internal/store"
)

// FileWriter appends to a plain store file.
type FileWriter struct {
	ctx context.Context
	f   *store.File

	mu  sync.Mutex
	off int64
}

var _ io.Writer = (*FileWriter)(nil)

// NewFileWriter returns a writer that starts at the end of f.
func NewFileWriter(ctx context.Context, f *store.File) (*FileWriter, error) {
	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	return &FileWriter{ctx: ctx, f: f, off: size}, nil
}

// Write writes p at the current position.
func (w *FileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}
	if err := w.f.Write(w.ctx, p, w.off); err != nil {
		return 0, err
	}
	w.off += int64(len(p))
	return len(p), nil
}

// FileReader reads a plain store file.
type FileReader struct {
	ctx context.Context
	f   *store.File

	mu  sync.Mutex
	off int64
}

var (
	_ io.Reader   = (*FileReader)(nil)
	_ io.ReaderAt = (*FileReader)(nil)
	_ io.Seeker   = (*FileReader)(nil)
)

// NewFileReader returns a reader positioned at the start of f.
func NewFileReader(ctx context.Context, f *store.File) *FileReader {
	return &FileReader{ctx: ctx, f: f}
}

// Read reads from the current position.
func (r *FileReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// ReadAt reads len(p) bytes at off.
func (r *FileReader) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	data, err := r.f.Read(r.ctx, off, off+int64(len(p)))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Seek sets the position for the next Read.
func (r *FileReader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size, err := r.f.Size()
	if err != nil {
		return 0, err
	}
	pos, err := seek(r.off, size, offset, whence)
	if err != nil {
		return 0, err
	}
	r.off = pos
	return pos, nil
}
