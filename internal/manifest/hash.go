package manifest

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// HashSize is the length of a chunk hash in hex characters.
const HashSize = 64

// Hash returns the hex BLAKE3-256 digest of data.
func Hash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IsHash reports whether s looks like a value returned by Hash.
func IsHash(s string) bool {
	if len(s) != HashSize {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
