package filestate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
)

// HashContent returns the hex SHA-256 of content.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Canonical returns the absolute, cleaned, symlink-resolved form of path.
// Paths that do not exist yet are resolved through their nearest existing
// parent so that a file created later maps to the same key.
func Canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	parent := filepath.Dir(abs)
	if parent == abs {
		return abs, nil
	}
	resolvedParent, err := Canonical(parent)
	if err != nil {
		return abs, nil
	}
	return filepath.Join(resolvedParent, filepath.Base(abs)), nil
}
