package dedup

import (
	"context"
	"fmt"

	"github.com/tunnelmesh/chunkvault/internal/manifest"
	"github.com/tunnelmesh/chunkvault/internal/store"
)

// Delete releases every chunk this file references. Chunks that other
// files still reference are kept and returned; the rest are removed with
// one DeleteBatch. Uncommitted bytes in the tail are dropped. The file is
// closed afterwards, even if the batch fails.
func (f *File) Delete(ctx context.Context) ([]manifest.Chunk, error) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := f.checkReady(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	m := manifest.Manifest{Chunks: f.chunks}
	sorted := m.Sorted()

	uses := make(map[string]uint32)
	first := make(map[string]manifest.Chunk)
	for _, c := range sorted.Chunks {
		if _, ok := first[c.Hash]; !ok {
			first[c.Hash] = c
		}
		uses[c.Hash]++
	}

	refs := f.store.Refs()
	var retained []manifest.Chunk
	var doomed []*store.File
	for _, h := range sorted.Hashes() {
		if refs.Release(h, uses[h]) > 0 {
			retained = append(retained, first[h])
			continue
		}
		if sf := f.handles[h]; sf != nil {
			doomed = append(doomed, sf)
			delete(f.handles, h)
		}
	}

	err := f.store.DeleteBatch(ctx, doomed)

	f.engine.Flush()
	f.chunks = nil
	f.closeHandles()
	f.state = stateClosed

	metrics := f.store.Metrics()
	metrics.RecordChunks(store.ChunkDeleted, len(doomed))
	metrics.RecordChunks(store.ChunkRetained, len(retained))

	f.logger.Debug().Int("deleted", len(doomed)).Int("retained", len(retained)).Msg("file deleted")

	if err != nil {
		return retained, fmt.Errorf("delete chunks: %w", err)
	}
	return retained, nil
}
