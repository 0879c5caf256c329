package store

import (
	"context"
	"time"
)

// RetryConfig configures retry behavior for filesystem scans.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns sensible defaults for scan retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	}
}

// retryScan runs fn until it succeeds or the retry budget is spent,
// backing off exponentially between attempts.
func (s *Store) retryScan(ctx context.Context, what string, fn func() error) error {
	backoff := s.retry.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			s.logger.Warn().
				Err(lastErr).
				Str("scan", what).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("retrying filesystem scan")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}

			backoff *= 2
			if backoff > s.retry.MaxBackoff {
				backoff = s.retry.MaxBackoff
			}
		}

		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}

	return lastErr
}
