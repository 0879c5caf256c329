package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// File is an open handle on one file in the store.
type File struct {
	store *Store
	name  string // hash or caller-supplied name
	rel   string // path relative to the store root

	mu     sync.RWMutex
	fh     *os.File
	closed bool
}

// Create creates (or opens, if it already exists) the file called name.
// Shard directories are reserved from the quota before they are made.
func (s *Store) Create(ctx context.Context, name string, contentSharded bool) (*File, error) {
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}
	rel, err := s.CreatePath(name, contentSharded)
	if err != nil {
		return nil, err
	}

	var f *File
	err = s.reserve(ctx, int64(pathLevels(rel))*s.blockSize, func() error {
		var err error
		f, err = s.createFile(name, rel)
		return err
	})
	if err != nil {
		if f != nil {
			_ = f.Close()
		}
		return nil, err
	}
	return f, nil
}

// Open opens an existing file. For content-addressed files name is the
// hash; otherwise it is the relative path returned by File.Path.
func (s *Store) Open(ctx context.Context, name string, contentSharded bool) (*File, error) {
	if err := s.Ready(ctx); err != nil {
		return nil, err
	}
	rel, err := s.resolve(name, contentSharded)
	if err != nil {
		return nil, err
	}

	fh, err := os.OpenFile(filepath.Join(s.folder, rel), os.O_RDWR, 0)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingChunk, name)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", rel, err)
	}
	if !contentSharded {
		name = filepath.Base(rel)
	}
	return &File{store: s, name: name, rel: rel, fh: fh}, nil
}

// Exists reports whether name is present in the store.
func (s *Store) Exists(name string, contentSharded bool) bool {
	rel, err := s.resolve(name, contentSharded)
	if err != nil {
		return false
	}
	info, err := os.Stat(filepath.Join(s.folder, rel))
	return err == nil && info.Mode().IsRegular()
}

// createFile makes the shard directories for rel and opens the file
// read-write, creating it when missing. The caller holds the lock.
func (s *Store) createFile(name, rel string) (*File, error) {
	full := filepath.Join(s.folder, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("create shard directory: %w", err)
	}
	fh, err := os.OpenFile(full, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", rel, err)
	}
	return &File{store: s, name: name, rel: rel, fh: fh}, nil
}

// Name returns the file's hash or caller-supplied name.
func (f *File) Name() string {
	return f.name
}

// Path returns the file's path relative to the store root.
func (f *File) Path() string {
	return f.rel
}

// Read returns bytes [start, end) of the file. end is clipped to the
// file size.
func (f *File) Read(ctx context.Context, start, end int64) ([]byte, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("invalid read range [%d, %d)", start, end)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, fmt.Errorf("read %s: %w", f.rel, ErrClosed)
	}

	info, err := f.fh.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", f.rel, err)
	}
	end = min(end, info.Size())
	if start >= end {
		return []byte{}, nil
	}
	return f.store.readBlocks(ctx, f.fh, start, end)
}

// Write writes data at pos, reserving len(data) bytes of quota first and
// reconciling afterwards.
func (f *File) Write(ctx context.Context, data []byte, pos int64) error {
	if pos < 0 {
		return fmt.Errorf("invalid write offset %d", pos)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return fmt.Errorf("write %s: %w", f.rel, ErrClosed)
	}

	return f.store.reserve(ctx, int64(len(data)), func() error {
		return f.write(ctx, data, pos)
	})
}

// write performs the block writes only. The caller holds the ledger lock
// and f.mu.
func (f *File) write(ctx context.Context, data []byte, pos int64) error {
	return f.store.writeBlocks(ctx, f.fh, data, pos)
}

// Stat returns the file's metadata.
func (f *File) Stat() (os.FileInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, fmt.Errorf("stat %s: %w", f.rel, ErrClosed)
	}
	return f.fh.Stat()
}

// Size returns the file's current size in bytes.
func (f *File) Size() (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Delete closes and removes the file, prunes shard directories left
// empty and reconciles the ledger.
func (f *File) Delete(ctx context.Context) error {
	if err := f.remove(); err != nil {
		return err
	}
	s := f.store
	return s.withLock(ctx, func() error {
		s.prune(f.rel)
		return s.stabilize(ctx)
	})
}

// remove closes the handle and unlinks the file. A file already gone is
// not an error.
func (f *File) remove() error {
	_ = f.Close()
	err := os.Remove(filepath.Join(f.store.folder, f.rel))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", f.rel, err)
	}
	return nil
}

// Close releases the handle. Closing twice is a no-op.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.fh.Close()
}

// prune removes the empty directories between rel and the root. The
// caller holds the lock so no concurrent create can race the removal.
func (s *Store) prune(rel string) {
	for dir := filepath.Dir(rel); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		// Remove fails on non-empty directories, which ends the walk.
		if err := os.Remove(filepath.Join(s.folder, dir)); err != nil {
			return
		}
	}
}
