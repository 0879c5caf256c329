// Package dedup stores logical files as manifests of deduplicated,
// compressed chunks in a quota-bounded store.
//
// A File accepts a byte stream through Write and Flush, cuts it into
// content-defined chunks, and stores each distinct chunk once. Any range
// of the logical file can then be read back with Read. The manifest
// returned by Manifest is all that is needed to reopen the file later.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tunnelmesh/chunkvault/internal/chunker"
	"github.com/tunnelmesh/chunkvault/internal/manifest"
	"github.com/tunnelmesh/chunkvault/internal/store"
)

// DefaultCacheSize is the number of decompressed chunks kept per File.
const DefaultCacheSize = 8

var (
	// ErrClosed is returned by every operation on a closed File.
	ErrClosed = store.ErrClosed

	// ErrInvalidRange is returned by Read for ranges outside the file.
	ErrInvalidRange = errors.New("invalid read range")

	// ErrCorruptManifest is returned when the manifest references a
	// chunk that is not open or whose stored bytes do not match it.
	ErrCorruptManifest = errors.New("manifest does not match stored chunks")
)

type state int

const (
	stateConstructed state = iota
	stateOpening
	stateReady
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateConstructed:
		return "constructed"
	case stateOpening:
		return "opening"
	case stateReady:
		return "ready"
	case stateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Option configures a File.
type Option func(*File)

// WithLogger sets the structured logger used by the file.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *File) {
		f.logger = logger
	}
}

// WithParams overrides the chunking parameters.
func WithParams(p chunker.Params) Option {
	return func(f *File) {
		f.params = p
	}
}

// WithCacheSize sets how many decompressed chunks Read keeps. Zero
// disables the cache.
func WithCacheSize(n int) Option {
	return func(f *File) {
		f.cacheSize = n
	}
}

// File is a deduplicated logical file.
//
// Write, Flush, Delete and Close are serialized. Reads may run
// concurrently with each other.
type File struct {
	store     *store.Store
	logger    zerolog.Logger
	params    chunker.Params
	cacheSize int

	writeMu   sync.Mutex // serializes Write, Flush, Delete and Close
	engine    *chunker.Engine
	nextIndex uint32

	mu      sync.RWMutex // guards the fields below
	state   state
	chunks  []manifest.Chunk
	handles map[string]*store.File

	cache *lru.Cache[string, []byte]
}

// Open returns a File backed by st. With a nil or empty manifest the file
// starts empty. Otherwise every chunk the manifest references must be
// present in the store; on failure any handle already opened is closed.
func Open(ctx context.Context, st *store.Store, m *manifest.Manifest, opts ...Option) (*File, error) {
	f := &File{
		store:     st,
		logger:    log.Logger,
		params:    chunker.DefaultParams(),
		cacheSize: DefaultCacheSize,
		handles:   make(map[string]*store.File),
		state:     stateConstructed,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With().Str("component", "dedup").Logger()

	engine, err := chunker.New(f.params)
	if err != nil {
		return nil, err
	}
	f.engine = engine

	if f.cacheSize > 0 {
		f.cache, err = lru.New[string, []byte](f.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create chunk cache: %w", err)
		}
	}

	if err := st.Ready(ctx); err != nil {
		return nil, err
	}

	f.state = stateOpening
	if m != nil && m.Len() > 0 {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if err := f.openChunks(ctx, m); err != nil {
			return nil, err
		}
		f.chunks = m.Sorted().Chunks
		f.nextIndex = uint32(len(f.chunks))
	}
	f.state = stateReady

	f.logger.Debug().Int("chunks", len(f.chunks)).Uint64("length", f.length()).Msg("file opened")
	return f, nil
}

// openChunks opens a handle for every distinct hash in m concurrently and
// seeds the store's reference index.
func (f *File) openChunks(ctx context.Context, m *manifest.Manifest) error {
	hashes := m.Hashes()
	handles := make([]*store.File, len(hashes))

	g, gctx := errgroup.WithContext(ctx)
	for i, h := range hashes {
		g.Go(func() error {
			sf, err := f.store.Open(gctx, h, true)
			if err != nil {
				return fmt.Errorf("open chunk %s: %w", h, err)
			}
			handles[i] = sf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, sf := range handles {
			if sf != nil {
				_ = sf.Close()
			}
		}
		return err
	}

	for i, h := range hashes {
		f.handles[h] = handles[i]
	}

	refs := f.store.Refs()
	for _, c := range m.Chunks {
		refs.Observe(c.Hash, c.Refs)
	}
	return nil
}

// Write feeds data to the chunking engine and stores every chunk it
// commits. It returns the descriptors added by this call, in index
// order. Data held back in the engine's tail is stored by a later Write
// or by Flush. If storing fails none of data is kept: the engine is back
// where it was before the call, so the same Write can be retried.
func (f *File) Write(ctx context.Context, data []byte) (manifest.Manifest, error) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := f.checkReady(); err != nil {
		return manifest.Manifest{}, err
	}
	buffered := f.engine.Buffered()
	parts := f.engine.Write(data)
	delta, err := f.commit(ctx, parts)
	if err != nil {
		f.engine.Restore(parts)
		f.engine.Truncate(buffered)
		return manifest.Manifest{}, err
	}
	return delta, nil
}

// Flush stores whatever remains in the engine's tail. Flushing an empty
// tail is a no-op.
func (f *File) Flush(ctx context.Context) (manifest.Manifest, error) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := f.checkReady(); err != nil {
		return manifest.Manifest{}, err
	}
	return f.flush(ctx)
}

func (f *File) flush(ctx context.Context) (manifest.Manifest, error) {
	parts := f.engine.Flush()
	delta, err := f.commit(ctx, parts)
	if err != nil {
		f.engine.Restore(parts)
		return manifest.Manifest{}, err
	}
	return delta, nil
}

// Manifest returns a copy of the committed descriptors in index order.
func (f *File) Manifest() manifest.Manifest {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m := manifest.Manifest{Chunks: f.chunks}
	return m.Sorted()
}

// Length returns the number of committed bytes.
func (f *File) Length() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.length()
}

func (f *File) length() uint64 {
	m := manifest.Manifest{Chunks: f.chunks}
	return m.Length()
}

// Buffered returns the number of written bytes not yet committed.
func (f *File) Buffered() int {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return f.engine.Buffered()
}

// Closed reports whether the file has been closed or deleted.
func (f *File) Closed() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state == stateClosed
}

// Close flushes the tail and releases every chunk handle. If the flush
// fails the file stays open so the caller can retry or Delete it.
func (f *File) Close(ctx context.Context) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := f.checkReady(); err != nil {
		return err
	}
	if _, err := f.flush(ctx); err != nil {
		return fmt.Errorf("flush on close: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeHandles()
	f.state = stateClosed

	f.logger.Debug().Int("chunks", len(f.chunks)).Msg("file closed")
	return nil
}

// closeHandles releases every handle. The caller holds f.mu.
func (f *File) closeHandles() {
	for h, sf := range f.handles {
		if err := sf.Close(); err != nil {
			f.logger.Warn().Err(err).Str("hash", h).Msg("close chunk handle")
		}
	}
	f.handles = make(map[string]*store.File)
	if f.cache != nil {
		f.cache.Purge()
	}
}

func (f *File) checkReady() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.state != stateReady {
		return ErrClosed
	}
	return nil
}
