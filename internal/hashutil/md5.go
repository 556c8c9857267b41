// Package hashutil provides the streaming MD5 primitives the artifact
// engine uses as its canonical content digest: base64 for entry digests,
// hex for on-the-wire download URLs and the manifest digest.
package hashutil

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// chunkSize is the read buffer used while streaming a file through MD5.
const chunkSize = 64 * 1024

// FileMD5 streams path through MD5 in chunkSize chunks and returns the
// raw 16-byte digest. Empty files hash to the MD5 of the empty string.
func FileMD5(path string) ([md5.Size]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [md5.Size]byte{}, fmt.Errorf("hashutil: open %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return [md5.Size]byte{}, fmt.Errorf("hashutil: read %s: %w", path, err)
	}

	var out [md5.Size]byte
	h.Sum(out[:0])
	return out, nil
}

// FileMD5Base64 returns the base64 encoding of a file's MD5 digest — the
// canonical on-the-wire digest used throughout the manifest.
func FileMD5Base64(path string) (string, error) {
	sum, err := FileMD5(path)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

// FileMD5Hex returns the lowercase hex encoding of a file's MD5 digest.
func FileMD5Hex(path string) (string, error) {
	sum, err := FileMD5(path)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum[:]), nil
}

// StreamMD5Base64 consumes r in chunkSize chunks and returns the base64
// MD5 of everything read — used to verify a download's digest while the
// bytes are simultaneously being written to disk via io.TeeReader.
func StreamMD5Base64(r io.Reader) (string, error) {
	h := md5.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("hashutil: stream hash: %w", err)
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// StringMD5Base64 returns the base64 MD5 of s, treating it as UTF-8 —
// used wherever a string (rather than a file) must be hashed the same way
// entry digests are.
func StringMD5Base64(s string) string {
	sum := md5.Sum([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// HexToBase64 converts a lowercase-hex MD5 digest to its base64 form. It
// is the inverse of Base64ToHex, used by callers that only have an ETag
// or other hex-encoded digest but need the canonical base64 form.
func HexToBase64(h string) (string, error) {
	raw, err := hex.DecodeString(h)
	if err != nil {
		return "", fmt.Errorf("hashutil: invalid hex digest %q: %w", h, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Base64ToHex converts a base64 MD5 digest to lowercase hex — used to
// build the managed-store download URL, which addresses files by hex
// digest.
func Base64ToHex(b64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("hashutil: invalid base64 digest %q: %w", b64, err)
	}
	return hex.EncodeToString(raw), nil
}
