// Package cache implements the content-addressed local artifacts cache:
// the directory tree finalize adopts a staged artifact's files into, keyed
// by (type, digest).
package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Cache exposes GetArtifactDir(type, digest) -> path. Two calls with the
// same (type, digest) always return the same path; the directory need not
// exist until a caller writes into it.
type Cache struct {
	root string
}

// New returns a Cache rooted at dir. An empty dir defaults to a
// subdirectory of os.TempDir, which is adequate for a single process's
// lifetime but not for sharing a cache across machines.
func New(dir string) *Cache {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "artifactcore-cache")
	}
	return &Cache{root: dir}
}

// GetArtifactDir returns the tree directory for (artifactType, digest).
// The path is derived from a SHA-1 of "type/digest" purely to keep path
// segments short and filesystem-safe; the mapping has no bearing on the
// artifact's own MD5-based content digest.
func (c *Cache) GetArtifactDir(artifactType, digest string) string {
	h := sha1.Sum([]byte(artifactType + "/" + digest))
	key := hex.EncodeToString(h[:])
	return filepath.Join(c.root, "artifacts", key[:2], key)
}

// Adopt atomically moves the contents of stagingDir into the cache slot
// for (artifactType, digest), returning the final directory.
//
// The original implementation does this as shutil.rmtree(dst) followed by
// os.rename(src, dst) — not atomic, so two artifacts finalizing to the
// same (type, digest) concurrently can race and leave the loser's rename
// failing against a directory recreated by the winner, or worse, rename
// into a directory mid-delete. Since two artifacts with the same digest
// have, by construction, identical content, Adopt instead treats the
// cache as write-once: if the destination already exists, the staging
// tree is simply discarded (its content is redundant) rather than
// replacing it. The one real rename is then a single, atomic directory
// move with no intervening delete.
func (c *Cache) Adopt(stagingDir, artifactType, digest string) (string, error) {
	dst := c.GetArtifactDir(artifactType, digest)

	if _, err := os.Stat(dst); err == nil {
		if err := os.RemoveAll(stagingDir); err != nil {
			return "", fmt.Errorf("cache: discard redundant staging dir %s: %w", stagingDir, err)
		}
		return dst, nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("cache: create cache parent for %s: %w", dst, err)
	}

	if err := os.Rename(stagingDir, dst); err != nil {
		// Another finalize won the race between our Stat and our Rename;
		// treat that exactly like the pre-existing-destination case above.
		if _, statErr := os.Stat(dst); statErr == nil {
			if rmErr := os.RemoveAll(stagingDir); rmErr != nil {
				return "", fmt.Errorf("cache: discard redundant staging dir %s: %w", stagingDir, rmErr)
			}
			return dst, nil
		}
		return "", fmt.Errorf("cache: adopt %s into %s: %w", stagingDir, dst, err)
	}
	return dst, nil
}
