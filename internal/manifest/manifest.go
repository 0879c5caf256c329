// Package manifest describes how a logical file is assembled from stored
// chunks, and provides the hashing, compression and persistence used for
// chunks and manifests.
package manifest

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalid is returned by Validate and Unmarshal for malformed
// manifests.
var ErrInvalid = errors.New("invalid manifest")

// Chunk describes one stored piece of a logical file.
type Chunk struct {
	// Hash is the hex BLAKE3-256 of the uncompressed bytes. It names the
	// backing file in the store.
	Hash string `json:"hash" cbor:"hash"`

	// Original is the uncompressed length.
	Original uint64 `json:"original" cbor:"original"`

	// Size is the compressed length on disk.
	Size uint64 `json:"size" cbor:"size"`

	// Refs counts uses of the chunk at the time this entry was committed.
	Refs uint32 `json:"refs" cbor:"refs"`

	// Index is the chunk's position in the logical file.
	Index uint32 `json:"index" cbor:"index"`
}

// Manifest lists the chunks of one logical file. Chunks may be stored in
// any order; Index defines the file order.
type Manifest struct {
	Chunks []Chunk `json:"chunks" cbor:"chunks"`
}

// Len returns the number of chunks.
func (m Manifest) Len() int {
	return len(m.Chunks)
}

// Length returns the logical file length, the sum of Original.
func (m Manifest) Length() uint64 {
	var total uint64
	for _, c := range m.Chunks {
		total += c.Original
	}
	return total
}

// Sorted returns a copy of the manifest with chunks ordered by Index.
func (m Manifest) Sorted() Manifest {
	chunks := slices.Clone(m.Chunks)
	SortChunks(chunks)
	return Manifest{Chunks: chunks}
}

// Hashes returns the distinct chunk hashes in file order.
func (m Manifest) Hashes() []string {
	sorted := m.Sorted()
	seen := make(map[string]struct{}, len(sorted.Chunks))
	hashes := make([]string, 0, len(sorted.Chunks))
	for _, c := range sorted.Chunks {
		if _, ok := seen[c.Hash]; ok {
			continue
		}
		seen[c.Hash] = struct{}{}
		hashes = append(hashes, c.Hash)
	}
	return hashes
}

// Validate checks that indexes are unique and contiguous from zero and
// that every chunk is non-empty with a stored body.
func (m Manifest) Validate() error {
	sorted := m.Sorted()
	for i, c := range sorted.Chunks {
		if c.Index != uint32(i) {
			return fmt.Errorf("%w: expected index %d, found %d", ErrInvalid, i, c.Index)
		}
		if c.Hash == "" {
			return fmt.Errorf("%w: chunk %d has no hash", ErrInvalid, c.Index)
		}
		if c.Original == 0 {
			return fmt.Errorf("%w: chunk %d is empty", ErrInvalid, c.Index)
		}
		if c.Size == 0 {
			return fmt.Errorf("%w: chunk %d has no stored body", ErrInvalid, c.Index)
		}
	}
	return nil
}

// Equal reports whether a and b describe the same file, ignoring Refs
// and chunk order.
func Equal(a, b Manifest) bool {
	if len(a.Chunks) != len(b.Chunks) {
		return false
	}
	as, bs := a.Sorted(), b.Sorted()
	for i := range as.Chunks {
		x, y := as.Chunks[i], bs.Chunks[i]
		if x.Hash != y.Hash || x.Original != y.Original || x.Size != y.Size || x.Index != y.Index {
			return false
		}
	}
	return true
}

// SortChunks orders chunks by Index in place.
func SortChunks(chunks []Chunk) {
	slices.SortFunc(chunks, func(a, b Chunk) int {
		switch {
		case a.Index < b.Index:
			return -1
		case a.Index > b.Index:
			return 1
		}
		return 0
	})
}
