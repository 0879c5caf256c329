//go:build !unix

package store

import (
	"context"
	"errors"
)

func getVolumeStats(path string) (VolumeStats, error) {
	return VolumeStats{}, errors.ErrUnsupported
}

func filesystemBlockSize(path string) (int64, error) {
	return DefaultBlockSize, nil
}

// lockFile is a no-op without flock; only the in-process mutex applies.
func lockFile(ctx context.Context, path string) (func(), error) {
	return func() {}, ctx.Err()
}
