package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/tunnelmesh/chunkvault/internal/dedup"
)

// Reader reads the committed bytes of a dedup.File.
type Reader struct {
	ctx context.Context
	f   *dedup.File

	mu  sync.Mutex
	off int64
}

var (
	_ io.Reader   = (*Reader)(nil)
	_ io.ReaderAt = (*Reader)(nil)
	_ io.Seeker   = (*Reader)(nil)
)

// NewReader returns a Reader positioned at the start of f.
func NewReader(ctx context.Context, f *dedup.File) *Reader {
	return &Reader{ctx: ctx, f: f}
}

// Read reads from the current position.
func (r *Reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

// ReadAt reads len(p) bytes at off. It returns io.EOF when fewer bytes
// remain.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("stream: negative offset")
	}
	length := int64(r.f.Length())
	if off >= length {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	end := min(off+int64(len(p)), length)
	data, err := r.f.Read(r.ctx, off, end)
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
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, err := seek(r.off, int64(r.f.Length()), offset, whence)
	if err != nil {
		return 0, err
	}
	r.off = pos
	return pos, nil
}

func seek(cur, size, offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = cur + offset
	case io.SeekEnd:
		pos = size + offset
	default:
		return 0, fmt.Errorf("stream: invalid whence %d", whence)
	}
	if pos < 0 {
		return 0, errors.New("stream: negative position")
	}
	return pos, nil
}
