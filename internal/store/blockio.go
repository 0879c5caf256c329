package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"golang.org/x/sync/errgroup"
)

// maxBlockOps bounds concurrent block sub-operations per request.
const maxBlockOps = 32

// readBlocks reads [start, end) of f as concurrent block-sized reads. The
// result has the semantics of a single ReadAt of the whole range.
func (s *Store) readBlocks(ctx context.Context, f *os.File, start, end int64) ([]byte, error) {
	buf := make([]byte, end-start)
	if len(buf) == 0 {
		return buf, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxBlockOps)
	for off, n := range s.blocks(int64(len(buf))) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			read, err := f.ReadAt(buf[off:off+n], start+off)
			if errors.Is(err, io.EOF) && int64(read) == n {
				err = nil
			}
			if err == nil && int64(read) < n {
				err = io.ErrUnexpectedEOF
			}
			if err != nil {
				return fmt.Errorf("read block at %d: %w", start+off, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.metrics.recordRead(len(buf))
	return buf, nil
}

// writeBlocks writes data at pos as concurrent block-sized writes.
func (s *Store) writeBlocks(ctx context.Context, f *os.File, data []byte, pos int64) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxBlockOps)
	for off, n := range s.blocks(int64(len(data))) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := f.WriteAt(data[off:off+n], pos+off); err != nil {
				return fmt.Errorf("write block at %d: %w", pos+off, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s.metrics.recordWrite(len(data))
	return nil
}

// blocks yields (offset, length) pairs covering [0, total) in block-size
// steps.
func (s *Store) blocks(total int64) iter.Seq2[int64, int64] {
	bs := s.blockSize
	return func(yield func(int64, int64) bool) {
		for off := int64(0); off < total; off += bs {
			if !yield(off, min(bs, total-off)) {
				return
			}
		}
	}
}
