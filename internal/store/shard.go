package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// maxShardAttempts bounds regeneration of random shards on collision.
const maxShardAttempts = 16

// CreatePath returns the path, relative to the store root, at which a
// file called name is stored.
//
// Content-addressed names long enough to supply every shard level are
// placed under their own hash prefix (aa/bb/name for depth 2). Other names
// get a random shard, regenerated while it collides with an existing file.
func (s *Store) CreatePath(name string, contentSharded bool) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	if contentSharded && len(name) >= 2*s.depth {
		return shardPath(name, name, s.depth), nil
	}

	for attempt := 0; attempt < maxShardAttempts; attempt++ {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")
		rel := shardPath(id, name, s.depth)
		if _, err := os.Lstat(filepath.Join(s.folder, rel)); os.IsNotExist(err) {
			return rel, nil
		}
	}
	return "", fmt.Errorf("no free shard for %q after %d attempts", name, maxShardAttempts)
}

// shardPath joins depth 2-character slices of key followed by name.
func shardPath(key, name string, depth int) string {
	parts := make([]string, 0, depth+1)
	for i := 0; i < depth; i++ {
		parts = append(parts, key[2*i:2*i+2])
	}
	parts = append(parts, name)
	return filepath.Join(parts...)
}

// pathLevels counts the path segments of a relative path.
func pathLevels(rel string) int {
	return strings.Count(rel, string(filepath.Separator)) + 1
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if isReserved(name) {
		return fmt.Errorf("%w: %q", ErrReservedName, name)
	}
	return nil
}

// resolve maps a file name to its path relative to the root. For
// content-addressed names the path is derived; otherwise name must be a
// relative path previously returned by File.Path.
func (s *Store) resolve(name string, contentSharded bool) (string, error) {
	if contentSharded {
		if err := validateName(name); err != nil {
			return "", err
		}
		if len(name) < 2*s.depth {
			return "", fmt.Errorf("%w: %q is too short to shard", ErrInvalidName, name)
		}
		return shardPath(name, name, s.depth), nil
	}

	rel := filepath.Clean(name)
	if rel == "." || filepath.IsAbs(rel) || rel == ".." ||
		strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if isReserved(filepath.Base(rel)) && filepath.Dir(rel) == "." {
		return "", fmt.Errorf("%w: %q", ErrReservedName, name)
	}
	return rel, nil
}
