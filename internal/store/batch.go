package store

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// NamedFile pairs a requested name with the handle created for it.
type NamedFile struct {
	Name string
	File *File
}

// WriteItem is one payload of a WriteBatch. Original is the uncompressed
// length the payload stands for; it is carried through to the result.
type WriteItem struct {
	File     *File
	Data     []byte
	Original int64
}

// Written describes one file after a WriteBatch.
type Written struct {
	Hash     string
	Original int64
	Size     int64
}

// CreateBatch creates a content-addressed file for every name with a
// single allocation covering all shard directory levels and a single
// stabilize. Duplicate names are created once. On failure, handles
// already created are closed.
func (s *Store) CreateBatch(ctx context.Context, names []string) ([]NamedFile, error) {
	type pending struct {
		name string
		rel  string
	}

	if err := s.Ready(ctx); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(names))
	todo := make([]pending, 0, len(names))
	var levels int64
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		rel, err := s.CreatePath(name, true)
		if err != nil {
			return nil, err
		}
		todo = append(todo, pending{name: name, rel: rel})
		levels += int64(pathLevels(rel))
	}
	if len(todo) == 0 {
		return nil, nil
	}
	s.metrics.observeBatch("create", len(todo))

	created := make([]NamedFile, len(todo))
	err := s.reserve(ctx, levels*s.blockSize, func() error {
		var g errgroup.Group
		g.SetLimit(maxBlockOps)
		for i, p := range todo {
			g.Go(func() error {
				f, err := s.createFile(p.name, p.rel)
				if err != nil {
					return err
				}
				created[i] = NamedFile{Name: p.name, File: f}
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		for _, nf := range created {
			if nf.File != nil {
				_ = nf.File.Close()
			}
		}
		return nil, fmt.Errorf("create batch: %w", err)
	}

	s.logger.Debug().Int("files", len(created)).Int64("levels", levels).Msg("batch created")
	return created, nil
}

// WriteBatch writes every item at offset 0 under one allocation of the
// summed payload sizes and one stabilize. Results follow item order.
func (s *Store) WriteBatch(ctx context.Context, items []WriteItem) ([]Written, error) {
	if len(items) == 0 {
		return nil, nil
	}

	var total int64
	for _, it := range items {
		total += int64(len(it.Data))
	}
	s.metrics.observeBatch("write", len(items))

	results := make([]Written, len(items))
	err := s.reserve(ctx, total, func() error {
		g, gctx := errgroup.WithContext(ctx)
		for i, it := range items {
			g.Go(func() error {
				f := it.File
				f.mu.RLock()
				defer f.mu.RUnlock()
				if f.closed {
					return fmt.Errorf("write %s: %w", f.rel, ErrClosed)
				}

				if err := f.write(gctx, it.Data, 0); err != nil {
					return err
				}
				info, err := f.fh.Stat()
				if err != nil {
					return fmt.Errorf("stat %s: %w", f.rel, err)
				}
				results[i] = Written{Hash: f.name, Original: it.Original, Size: info.Size()}
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return nil, fmt.Errorf("write batch: %w", err)
	}

	s.logger.Debug().Int("files", len(items)).Int64("bytes", total).Msg("batch written")
	return results, nil
}

// DeleteBatch removes every file concurrently, then prunes empty shard
// directories and stabilizes once. The stabilize runs even if a removal
// failed.
func (s *Store) DeleteBatch(ctx context.Context, files []*File) error {
	if len(files) == 0 {
		return nil
	}
	if err := s.Ready(ctx); err != nil {
		return err
	}
	s.metrics.observeBatch("delete", len(files))

	var g errgroup.Group
	g.SetLimit(maxBlockOps)
	for _, f := range files {
		g.Go(f.remove)
	}
	removeErr := g.Wait()

	err := s.withLock(ctx, func() error {
		for _, f := range files {
			s.prune(f.rel)
		}
		return s.stabilize(ctx)
	})
	if removeErr != nil {
		return fmt.Errorf("delete batch: %w", removeErr)
	}
	if err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}

	s.logger.Debug().Int("files", len(files)).Msg("batch deleted")
	return nil
}
