package refstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

func fileOpen(path string) (*os.File, error) {
	return os.Open(path)
}

// teeToFile returns a reader that copies everything read from src into
// dest as it streams by, so a single pass over a download can both write
// the destination file and feed a digest hasher.
func teeToFile(src io.Reader, dest *os.File) io.Reader {
	return io.TeeReader(src, dest)
}

// createCacheFile creates a new file named rel (which may contain
// subdirectories) inside dir, creating every parent directory as needed,
// and returns both the path and the open handle for writing.
func createCacheFile(dir string, rel string) (string, *os.File, error) {
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", nil, fmt.Errorf("refstore: create cache dir for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", nil, fmt.Errorf("refstore: create %s: %w", path, err)
	}
	return path, f, nil
}
