package dedup

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tunnelmesh/chunkvault/internal/manifest"
	"github.com/tunnelmesh/chunkvault/internal/store"
)

// Read returns bytes [start, end) of the logical file. The range must lie
// within the committed length; bytes still in the engine's tail are not
// readable until they are committed.
func (f *File) Read(ctx context.Context, start, end int64) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.state != stateReady {
		return nil, ErrClosed
	}
	length := f.length()
	if start < 0 || start > end || uint64(end) > length {
		return nil, fmt.Errorf("%w: [%d, %d) of %d bytes", ErrInvalidRange, start, end, length)
	}

	out := make([]byte, end-start)
	if len(out) == 0 {
		return out, nil
	}

	m := manifest.Manifest{Chunks: f.chunks}
	sorted := m.Sorted()

	g, gctx := errgroup.WithContext(ctx)
	var off int64
	for _, c := range sorted.Chunks {
		cStart, cEnd := off, off+int64(c.Original)
		off = cEnd
		if cEnd <= start {
			continue
		}
		if cStart >= end {
			break
		}

		sf := f.handles[c.Hash]
		if sf == nil {
			_ = g.Wait()
			return nil, fmt.Errorf("%w: chunk %d (%s) is not open", ErrCorruptManifest, c.Index, c.Hash)
		}

		g.Go(func() error {
			data, err := f.chunkData(gctx, c, sf)
			if err != nil {
				return err
			}
			lo, hi := max(start, cStart), min(end, cEnd)
			copy(out[lo-start:hi-start], data[lo-cStart:hi-cStart])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// chunkData returns the verified, decompressed bytes of c.
func (f *File) chunkData(ctx context.Context, c manifest.Chunk, sf *store.File) ([]byte, error) {
	if f.cache != nil {
		if data, ok := f.cache.Get(c.Hash); ok {
			return data, nil
		}
	}

	raw, err := sf.Read(ctx, 0, int64(c.Size))
	if err != nil {
		return nil, fmt.Errorf("read chunk %s: %w", c.Hash, err)
	}
	if uint64(len(raw)) != c.Size {
		return nil, fmt.Errorf("%w: chunk %s has %d stored bytes, expected %d", ErrCorruptManifest, c.Hash, len(raw), c.Size)
	}

	data, err := manifest.Decompress(raw, int(c.Original))
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %s: %v", ErrCorruptManifest, c.Hash, err)
	}
	if uint64(len(data)) != c.Original {
		return nil, fmt.Errorf("%w: chunk %s decodes to %d bytes, expected %d", ErrCorruptManifest, c.Hash, len(data), c.Original)
	}
	if manifest.Hash(data) != c.Hash {
		return nil, fmt.Errorf("%w: chunk %s content hash mismatch", ErrCorruptManifest, c.Hash)
	}

	if f.cache != nil {
		f.cache.Add(c.Hash, data)
	}
	return data, nil
}
