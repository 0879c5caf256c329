package store

import (
	"context"
	"fmt"
)

// withLock runs fn with exclusive access to the ledger: the store mutex
// for goroutines of this process and the lock file for other processes.
func (s *Store) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockFile(ctx, s.lockPath)
	if err != nil {
		return fmt.Errorf("acquire store lock: %w", err)
	}
	defer unlock()

	return fn()
}
