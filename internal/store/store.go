// Package store implements a quota-bounded, content-addressed chunk store
// on a local directory.
//
// The store owns a sentinel file whose apparent size always equals the
// unused part of the configured budget. Every write reserves space by
// shrinking the sentinel before touching the disk, then reconciles the
// reservation against a real usage scan once the write is done. Because
// the sentinel is part of the scanned folder, the folder as a whole never
// grows beyond the configured size.
//
// Directory structure:
//
//	{root}/
//	  chunkvault.dat          # quota sentinel (remaining budget)
//	  chunkvault.lock         # advisory lock for cross-process ledger access
//	  {aa}/{bb}/{hash}        # compressed chunk, sharded by hash prefix
//	  {rr}/{ss}/{name}        # caller-named file under a random shard
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// SentinelName is the quota sentinel file kept at the store root.
	SentinelName = "chunkvault.dat"

	// LockName is the advisory lock file guarding the sentinel.
	LockName = "chunkvault.lock"

	// DefaultBlockSize is used for I/O splitting until (or if) the
	// filesystem block size cannot be determined.
	DefaultBlockSize = 4096

	// DefaultShardDepth is the number of 2-character directory levels
	// derived from a chunk hash.
	DefaultShardDepth = 2

	// MaxShardDepth bounds the sharding depth.
	MaxShardDepth = 5
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger used by the store.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithShardDepth sets how many 2-character hash prefixes are used as
// directory levels for content-addressed files (1-5).
func WithShardDepth(depth int) Option {
	return func(s *Store) {
		s.depth = depth
	}
}

// WithRetry overrides the retry policy applied to filesystem scans.
func WithRetry(cfg RetryConfig) Option {
	return func(s *Store) {
		s.retry = cfg
	}
}

// WithMetrics attaches Prometheus metrics to the store.
func WithMetrics(m *Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// Store is a quota-bounded chunk store rooted at a single directory.
//
// A Store is safe for concurrent use. Ledger operations are serialized
// by an in-process mutex plus an advisory file lock, so several processes
// may share one root.
type Store struct {
	folder   string
	sentinel string
	lockPath string
	size     int64
	depth    int

	// blockSize is written once before ready is closed.
	blockSize int64

	retry   RetryConfig
	logger  zerolog.Logger
	metrics *Metrics
	refs    *RefIndex

	mu sync.Mutex // serializes allocate/stabilize pairs in this process

	ready    chan struct{}
	readyErr error
}

// New validates the root directory and budget and returns a Store whose
// ledger is stabilized in the background. Use Ready to wait for it;
// every other operation waits implicitly.
func New(path string, size int64, opts ...Option) (*Store, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("stat store root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, path)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	folder, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve store root: %w", err)
	}

	s := &Store{
		folder:    folder,
		sentinel:  filepath.Join(folder, SentinelName),
		lockPath:  filepath.Join(folder, LockName),
		size:      size,
		depth:     DefaultShardDepth,
		blockSize: DefaultBlockSize,
		retry:     DefaultRetryConfig(),
		logger:    log.Logger,
		refs:      NewRefIndex(),
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.depth < 1 || s.depth > MaxShardDepth {
		return nil, fmt.Errorf("shard depth %d out of range [1, %d]", s.depth, MaxShardDepth)
	}

	s.logger = s.logger.With().Str("component", "store").Str("root", folder).Logger()
	s.metrics.setQuota(size)

	go s.init()

	return s, nil
}

// init stabilizes the ledger against the configured size and probes the
// filesystem block size.
func (s *Store) init() {
	defer close(s.ready)

	ctx := context.Background()
	if err := s.withLock(ctx, func() error { return s.stabilize(ctx) }); err != nil {
		s.readyErr = fmt.Errorf("stabilize store: %w", err)
		s.logger.Error().Err(err).Msg("initial stabilize failed")
		return
	}

	var blockSize int64
	err := s.retryScan(ctx, "block size", func() error {
		var err error
		blockSize, err = filesystemBlockSize(s.folder)
		return err
	})
	if err != nil || blockSize <= 0 {
		s.logger.Warn().Err(err).Int64("fallback", DefaultBlockSize).Msg("could not determine block size")
	} else {
		s.blockSize = blockSize
	}

	s.logger.Debug().
		Int64("size", s.size).
		Int64("block_size", s.blockSize).
		Int("shard_depth", s.depth).
		Msg("store ready")
}

// Ready blocks until the initial stabilize has completed and returns its
// error, if any.
func (s *Store) Ready(ctx context.Context) error {
	select {
	case <-s.ready:
		return s.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Folder returns the absolute store root.
func (s *Store) Folder() string {
	return s.folder
}

// Size returns the configured budget in bytes.
func (s *Store) Size() int64 {
	return s.size
}

// BlockSize returns the filesystem block size used to split I/O. It is
// only meaningful after Ready has returned.
func (s *Store) BlockSize() int64 {
	return s.blockSize
}

// Refs returns the store-wide chunk reference index.
func (s *Store) Refs() *RefIndex {
	return s.refs
}

// Metrics returns the metrics attached to the store, or nil.
func (s *Store) Metrics() *Metrics {
	return s.metrics
}

// Logger returns the store's logger.
func (s *Store) Logger() zerolog.Logger {
	return s.logger
}

// isReserved reports whether name collides with one of the store's own
// bookkeeping files.
func isReserved(name string) bool {
	return name == SentinelName || name == LockName
}
