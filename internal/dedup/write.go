package dedup

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tunnelmesh/chunkvault/internal/manifest"
	"github.com/tunnelmesh/chunkvault/internal/store"
)

// partOutcome is the classification of one committed part. Exactly one
// of handle (existing chunk) or raw (chunk to store) is set; dupOf marks
// a repeat of a part that this same commit stores.
type partOutcome struct {
	index    uint32
	hash     string
	original uint64
	raw      []byte
	handle   *store.File
	dupOf    bool
}

// commit stores parts and appends their descriptors. Indexes are assigned
// before any concurrent work. On error nothing is appended and the index
// counter is rolled back. The caller holds writeMu.
func (f *File) commit(ctx context.Context, parts [][]byte) (manifest.Manifest, error) {
	if len(parts) == 0 {
		return manifest.Manifest{}, nil
	}

	hashes := make([]string, len(parts))
	var g errgroup.Group
	for i, part := range parts {
		g.Go(func() error {
			hashes[i] = manifest.Hash(part)
			return nil
		})
	}
	_ = g.Wait()

	firstIndex := f.nextIndex
	outcomes, missing, err := f.classify(ctx, parts, hashes)
	if err != nil {
		f.nextIndex = firstIndex
		return manifest.Manifest{}, err
	}

	written, err := f.storeMissing(ctx, missing)
	if err != nil {
		f.nextIndex = firstIndex
		return manifest.Manifest{}, err
	}

	delta, err := f.describe(outcomes, written)
	if err != nil {
		f.nextIndex = firstIndex
		return manifest.Manifest{}, err
	}

	f.mu.Lock()
	f.chunks = append(f.chunks, delta...)
	f.mu.Unlock()

	metrics := f.store.Metrics()
	metrics.RecordChunks(store.ChunkCreated, len(missing))
	metrics.RecordChunks(store.ChunkDeduplicated, len(delta)-len(missing))

	f.logger.Debug().
		Int("parts", len(parts)).
		Int("stored", len(missing)).
		Uint32("first_index", firstIndex).
		Msg("committed")

	out := manifest.Manifest{Chunks: delta}
	return out.Sorted(), nil
}

// classify assigns indexes and splits parts into chunks already stored
// and chunks to store. Chunks found on disk are opened and kept.
func (f *File) classify(ctx context.Context, parts [][]byte, hashes []string) ([]partOutcome, []partOutcome, error) {
	outcomes := make([]partOutcome, len(parts))
	var missing []partOutcome
	pending := make(map[string]struct{})

	for i, part := range parts {
		h := hashes[i]
		o := partOutcome{index: f.nextIndex, hash: h, original: uint64(len(part))}
		f.nextIndex++

		switch {
		case f.handle(h) != nil:
			o.handle = f.handle(h)
		case hasKey(pending, h):
			o.dupOf = true
		default:
			sf, err := f.openStored(ctx, h)
			if err != nil {
				return nil, nil, err
			}
			if sf != nil {
				o.handle = sf
			} else {
				o.raw = part
				pending[h] = struct{}{}
				missing = append(missing, o)
			}
		}
		outcomes[i] = o
	}
	return outcomes, missing, nil
}

// openStored opens the stored chunk h, or returns nil if it is absent or
// empty (left over from an interrupted write).
func (f *File) openStored(ctx context.Context, h string) (*store.File, error) {
	sf, err := f.store.Open(ctx, h, true)
	if errors.Is(err, store.ErrMissingChunk) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open chunk %s: %w", h, err)
	}
	size, err := sf.Size()
	if err != nil || size == 0 {
		_ = sf.Close()
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.handles[h]; ok {
		_ = sf.Close()
		return existing, nil
	}
	f.handles[h] = sf
	return sf, nil
}

// storeMissing compresses the missing parts concurrently and stores them
// with one CreateBatch and one WriteBatch. It returns the batch results
// keyed by hash.
func (f *File) storeMissing(ctx context.Context, missing []partOutcome) (map[string]store.Written, error) {
	if len(missing) == 0 {
		return nil, nil
	}

	compressed := make([][]byte, len(missing))
	names := make([]string, len(missing))
	var g errgroup.Group
	for i, o := range missing {
		names[i] = o.hash
		g.Go(func() error {
			compressed[i] = manifest.Compress(o.raw)
			return nil
		})
	}
	_ = g.Wait()

	created, err := f.store.CreateBatch(ctx, names)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*store.File, len(created))
	for _, nf := range created {
		byName[nf.Name] = nf.File
	}

	items := make([]store.WriteItem, len(missing))
	for i, o := range missing {
		items[i] = store.WriteItem{
			File:     byName[o.hash],
			Data:     compressed[i],
			Original: int64(len(o.raw)),
		}
	}

	results, err := f.store.WriteBatch(ctx, items)
	if err != nil {
		f.discard(ctx, created)
		return nil, err
	}

	written := make(map[string]store.Written, len(results))
	for _, w := range results {
		if _, ok := byName[w.Hash]; !ok {
			f.discard(ctx, created)
			return nil, fmt.Errorf("%w: batch returned unrequested chunk %s", store.ErrCorrupt, w.Hash)
		}
		written[w.Hash] = w
	}

	f.mu.Lock()
	for h, sf := range byName {
		f.handles[h] = sf
	}
	f.mu.Unlock()

	return written, nil
}

// discard removes chunk files from a failed commit so they are never
// mistaken for stored chunks.
func (f *File) discard(ctx context.Context, created []store.NamedFile) {
	files := make([]*store.File, len(created))
	for i, nf := range created {
		files[i] = nf.File
	}
	if err := f.store.DeleteBatch(ctx, files); err != nil {
		f.logger.Warn().Err(err).Int("chunks", len(files)).Msg("discard failed commit")
	}
}

// describe builds descriptors in index order and updates reference
// counts. Sizes are resolved first so a failed stat leaves the counts
// untouched.
func (f *File) describe(outcomes []partOutcome, written map[string]store.Written) ([]manifest.Chunk, error) {
	delta := make([]manifest.Chunk, 0, len(outcomes))
	for _, o := range outcomes {
		c := manifest.Chunk{Hash: o.hash, Original: o.original, Index: o.index}
		if o.handle != nil {
			size, err := o.handle.Size()
			if err != nil {
				return nil, fmt.Errorf("stat chunk %s: %w", o.hash, err)
			}
			c.Size = uint64(size)
		} else {
			c.Size = uint64(written[o.hash].Size)
		}
		delta = append(delta, c)
	}

	refs := f.store.Refs()
	for i, o := range outcomes {
		if o.raw != nil {
			delta[i].Refs = refs.Commit(o.hash)
		} else {
			delta[i].Refs = refs.Reference(o.hash)
		}
	}
	return delta, nil
}

// handle returns the open handle for h, if any.
func (f *File) handle(h string) *store.File {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.handles[h]
}

func hasKey(m map[string]struct{}, k string) bool {
	_, ok := m[k]
	return ok
}
