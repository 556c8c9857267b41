package refstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tracklab/artifactcore/internal/hashutil"
)

// LocalFileHandler serves "file://" references: the referenced path must
// exist on the local filesystem the engine is running on. It is the only
// handler that can expand a directory reference into many objects,
// walking the tree and hashing each regular file.
type LocalFileHandler struct{}

// NewLocalFileHandler returns a LocalFileHandler.
func NewLocalFileHandler() *LocalFileHandler { return &LocalFileHandler{} }

func (h *LocalFileHandler) Scheme() string { return "file" }

func (h *LocalFileHandler) pathFromURI(uri string) string {
	if p, ok := strings.CutPrefix(uri, "file://"); ok {
		return p
	}
	return uri
}

// LoadPath verifies (and, in local mode, materializes) the bytes behind a
// file:// reference. In metadata mode it returns the original URI after
// checking the source digest when one is recorded. In local mode it skips
// the copy entirely when destDir/req.Path already holds matching bytes;
// otherwise it hashes the source, fails with a digest mismatch before
// touching the destination, and only then copies.
func (h *LocalFileHandler) LoadPath(ctx context.Context, destDir string, req LoadRequest, local bool) (string, error) {
	src := h.pathFromURI(req.URI)
	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, src)
		}
		return "", fmt.Errorf("refstore: stat %s: %w", src, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("refstore: %s is a directory, not a file", src)
	}

	if !local {
		if req.Digest != "" {
			digest, err := hashutil.FileMD5Base64(src)
			if err != nil {
				return "", fmt.Errorf("refstore: hash %s: %w", src, err)
			}
			if digest != req.Digest {
				return "", &digestMismatch{path: src, expected: req.Digest, actual: digest}
			}
		}
		return req.URI, nil
	}

	dest := filepath.Join(destDir, req.Path)
	if destDigest, err := hashutil.FileMD5Base64(dest); err == nil && (req.Digest == "" || destDigest == req.Digest) {
		return dest, nil
	}

	srcDigest, err := hashutil.FileMD5Base64(src)
	if err != nil {
		return "", fmt.Errorf("refstore: hash %s: %w", src, err)
	}
	if req.Digest != "" && srcDigest != req.Digest {
		return "", &digestMismatch{path: src, expected: req.Digest, actual: srcDigest}
	}

	if err := copyFile(src, dest); err != nil {
		return "", fmt.Errorf("refstore: copy %s to %s: %w", src, dest, err)
	}
	return dest, nil
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// StorePath resolves a file:// reference into one entry (a single file)
// or many (a directory, walked recursively and following symlinks).
// checksum=false skips reading any bytes and produces a single opaque
// entry whose digest is the URI itself.
func (h *LocalFileHandler) StorePath(ctx context.Context, uri string, namePrefix string, checksum bool, maxObjects int) ([]ObjectRef, error) {
	if !checksum {
		return []ObjectRef{{Path: namePrefix, URI: uri, Digest: uri}}, nil
	}

	root := h.pathFromURI(uri)
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, root)
		}
		return nil, fmt.Errorf("refstore: stat %s: %w", root, err)
	}

	if !info.IsDir() {
		digest, err := hashutil.FileMD5Base64(root)
		if err != nil {
			return nil, fmt.Errorf("refstore: hash %s: %w", root, err)
		}
		return []ObjectRef{{
			Path:   namePrefix,
			URI:    "file://" + root,
			Digest: digest,
			Size:   info.Size(),
		}}, nil
	}

	rels, err := walkFollowingSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("refstore: walk %s: %w", root, err)
	}

	var out []ObjectRef
	for _, rel := range rels {
		if len(out) >= maxObjects {
			return nil, fmt.Errorf("%w: %s", ErrTooManyObjects, uri)
		}
		full := filepath.Join(root, rel)
		fi, err := os.Stat(full)
		if err != nil {
			return nil, fmt.Errorf("refstore: stat %s: %w", full, err)
		}
		digest, err := hashutil.FileMD5Base64(full)
		if err != nil {
			return nil, fmt.Errorf("refstore: hash %s: %w", full, err)
		}
		out = append(out, ObjectRef{
			Path:   joinLogical(namePrefix, filepath.ToSlash(rel)),
			URI:    "file://" + full,
			Digest: digest,
			Size:   fi.Size(),
		})
	}
	return out, nil
}

// walkFollowingSymlinks enumerates every regular file under root,
// following symlinked directories — filepath.Walk does not — and returns
// each one's path relative to root, sorted for deterministic output.
func walkFollowingSymlinks(root string) ([]string, error) {
	var rels []string
	visited := make(map[string]bool)

	var walk func(dir string) error
	walk = func(dir string) error {
		real, err := filepath.EvalSymlinks(dir)
		if err != nil {
			return err
		}
		if visited[real] {
			return nil
		}
		visited[real] = true

		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			full := filepath.Join(dir, entry.Name())
			info, err := os.Stat(full) // follows symlinks
			if err != nil {
				return err
			}
			if info.IsDir() {
				if err := walk(full); err != nil {
					return err
				}
				continue
			}
			rel, err := filepath.Rel(root, full)
			if err != nil {
				return err
			}
			rels = append(rels, rel)
		}
		return nil
	}

	if err := walk(root); err != nil {
		return nil, err
	}
	sort.Strings(rels)
	return rels, nil
}

// digestMismatch is the error the handlers' LoadPath and Policy.LoadPath
// return when observed bytes do not match the recorded digest. It is
// returned as is; its Path/Expected/Actual accessors expose the details.
type digestMismatch struct {
	path     string
	expected string
	actual   string
}

func (e *digestMismatch) Error() string {
	return fmt.Sprintf("refstore: digest mismatch for %s: expected %s, got %s", e.path, e.expected, e.actual)
}

func (e *digestMismatch) Expected() string { return e.expected }
func (e *digestMismatch) Actual() string   { return e.actual }
func (e *digestMismatch) Path() string     { return e.path }
