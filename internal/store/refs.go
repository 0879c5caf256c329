package store

import "sync"

// RefIndex counts, per chunk hash, how many manifest entries known to
// this process reference the chunk. It decides when a chunk may be
// physically removed.
type RefIndex struct {
	mu     sync.Mutex
	counts map[string]uint32
}

// NewRefIndex returns an empty index.
func NewRefIndex() *RefIndex {
	return &RefIndex{counts: make(map[string]uint32)}
}

// Commit records a newly stored chunk and returns its count.
func (r *RefIndex) Commit(hash string) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[hash]++
	return r.counts[hash]
}

// Reference records another use of an already stored chunk. A chunk the
// index has not seen yet is assumed to have one prior reference.
func (r *RefIndex) Reference(hash string) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts[hash] == 0 {
		r.counts[hash] = 1
	}
	r.counts[hash]++
	return r.counts[hash]
}

// Observe raises the count for hash to at least refs. Used to seed the
// index from persisted manifests.
func (r *RefIndex) Observe(hash string, refs uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if refs > r.counts[hash] {
		r.counts[hash] = refs
	}
}

// Release drops n references and returns how many remain. At zero the
// hash is forgotten.
func (r *RefIndex) Release(hash string, n uint32) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.counts[hash]
	if n >= c {
		delete(r.counts, hash)
		return 0
	}
	r.counts[hash] = c - n
	return c - n
}

// Count returns the current count for hash.
func (r *RefIndex) Count(hash string) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[hash]
}

// Len returns the number of tracked hashes.
func (r *RefIndex) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.counts)
}
