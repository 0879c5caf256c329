package store

import "context"

// VolumeStats describes the filesystem that holds the store.
type VolumeStats struct {
	Total     int64 `json:"total"`
	Used      int64 `json:"used"`
	Available int64 `json:"available"`
}

// Volume reports total, used and available bytes of the underlying
// filesystem.
func (s *Store) Volume(ctx context.Context) (VolumeStats, error) {
	if err := s.Ready(ctx); err != nil {
		return VolumeStats{}, err
	}
	return getVolumeStats(s.folder)
}

// EffectiveAvailable returns min(volume available, quota available).
// The sentinel is sparse, so the quota can promise more than the disk
// has left.
func EffectiveAvailable(info Info, vol VolumeStats) int64 {
	if vol.Available < info.Available {
		return vol.Available
	}
	return info.Available
}
