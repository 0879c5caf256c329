package store

import "errors"

// Store error kinds. Callers distinguish them with errors.Is; the
// returned errors wrap these with the offending path or size.
var (
	// Configuration errors.
	ErrPathNotFound  = errors.New("path does not exist")
	ErrNotADirectory = errors.New("path is not a directory")
	ErrInvalidSize   = errors.New("size must be positive")
	ErrInvalidName   = errors.New("invalid file name")
	ErrReservedName  = errors.New("name is reserved by the store")

	// Quota errors.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// Corruption errors: the chunk store and a caller's view of it
	// have diverged. Retrying cannot repair these.
	ErrMissingChunk = errors.New("chunk does not exist")
	ErrCorrupt      = errors.New("chunk store corrupt")

	// ErrClosed is returned by operations on a closed file handle.
	ErrClosed = errors.New("file is closed")
)
