package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Info summarizes the store's quota.
type Info struct {
	Size      int64   `json:"size"`
	Used      int64   `json:"used"`
	Available int64   `json:"available"`
	Capacity  float64 `json:"capacity"` // used percentage
}

// Allocate reserves n bytes of the budget ahead of a write performed by
// the caller. The caller must call Stabilize once the write is done.
func (s *Store) Allocate(ctx context.Context, n int64) error {
	if err := s.Ready(ctx); err != nil {
		return err
	}
	return s.withLock(ctx, func() error { return s.allocate(ctx, n) })
}

// Stabilize reconciles the sentinel with actual folder usage.
func (s *Store) Stabilize(ctx context.Context) error {
	if err := s.Ready(ctx); err != nil {
		return err
	}
	return s.withLock(ctx, func() error { return s.stabilize(ctx) })
}

// Info reports configured, used and available bytes.
func (s *Store) Info(ctx context.Context) (Info, error) {
	if err := s.Ready(ctx); err != nil {
		return Info{}, err
	}

	var info Info
	err := s.withLock(ctx, func() error {
		sentinel, err := s.sentinelSize(ctx)
		if err != nil {
			return err
		}
		usage, err := s.folderUsage(ctx)
		if err != nil {
			return err
		}
		used := usage - sentinel
		info = Info{
			Size:      s.size,
			Used:      used,
			Available: sentinel,
			Capacity:  float64(used) / float64(s.size) * 100,
		}
		return nil
	})
	return info, err
}

// reserve runs fn between an allocation of n bytes and a stabilize, all
// under the ledger lock. The stabilize runs even when fn fails; fn's
// error takes precedence.
func (s *Store) reserve(ctx context.Context, n int64, fn func() error) error {
	if err := s.Ready(ctx); err != nil {
		return err
	}
	return s.withLock(ctx, func() error {
		if n > 0 {
			if err := s.allocate(ctx, n); err != nil {
				return err
			}
		}
		err := fn()
		if serr := s.stabilize(ctx); serr != nil {
			if err == nil {
				return serr
			}
			s.logger.Warn().Err(serr).Msg("stabilize after failed write")
		}
		return err
	})
}

// allocate shrinks the sentinel by n bytes. The caller holds the lock.
func (s *Store) allocate(ctx context.Context, n int64) error {
	if n <= 0 {
		return fmt.Errorf("%w: allocate %d bytes", ErrInvalidSize, n)
	}

	sentinel, err := s.sentinelSize(ctx)
	if err != nil {
		return err
	}
	if n > sentinel {
		s.metrics.recordAllocation(n, false)
		return fmt.Errorf("%w: need %d bytes, %d available", ErrQuotaExceeded, n, sentinel)
	}

	if err := os.Truncate(s.sentinel, sentinel-n); err != nil {
		return fmt.Errorf("shrink sentinel: %w", err)
	}
	s.metrics.recordAllocation(n, true)
	s.metrics.setAvailable(sentinel - n)
	return nil
}

// stabilize truncates the sentinel so that folder usage equals the
// configured size. The caller holds the lock.
func (s *Store) stabilize(ctx context.Context) error {
	start := time.Now()
	defer func() { s.metrics.observeStabilize(time.Since(start)) }()

	if err := s.ensureSentinel(); err != nil {
		return err
	}

	sentinel, err := s.sentinelSize(ctx)
	if err != nil {
		return err
	}
	usage, err := s.folderUsage(ctx)
	if err != nil {
		return err
	}

	target := s.size - usage + sentinel
	if target < 0 {
		if err := os.Truncate(s.sentinel, 0); err != nil {
			return fmt.Errorf("truncate sentinel: %w", err)
		}
		s.metrics.setAvailable(0)
		return fmt.Errorf("%w: folder uses %d bytes of a %d byte budget", ErrQuotaExceeded, usage-sentinel, s.size)
	}

	if target != sentinel {
		if err := os.Truncate(s.sentinel, target); err != nil {
			return fmt.Errorf("truncate sentinel: %w", err)
		}
	}
	s.metrics.setAvailable(target)

	s.logger.Trace().
		Int64("usage", usage).
		Int64("sentinel", target).
		Msg("stabilized")
	return nil
}

func (s *Store) ensureSentinel() error {
	f, err := os.OpenFile(s.sentinel, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create sentinel: %w", err)
	}
	return f.Close()
}

func (s *Store) sentinelSize(ctx context.Context) (int64, error) {
	var size int64
	err := s.retryScan(ctx, "sentinel", func() error {
		info, err := os.Stat(s.sentinel)
		if err != nil {
			return err
		}
		size = info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("stat sentinel: %w", err)
	}
	return size, nil
}

// folderUsage returns the apparent size of every entry under the root,
// directories included, the way `du -sb` counts it.
func (s *Store) folderUsage(ctx context.Context) (int64, error) {
	var total int64
	err := s.retryScan(ctx, "usage", func() error {
		total = 0
		return filepath.WalkDir(s.folder, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// Entries removed mid-walk by a concurrent delete are skipped.
				if errors.Is(err, fs.ErrNotExist) && path != s.folder {
					return nil
				}
				return err
			}
			info, err := d.Info()
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			if err != nil {
				return err
			}
			total += info.Size()
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("measure folder usage: %w", err)
	}
	return total, nil
}
