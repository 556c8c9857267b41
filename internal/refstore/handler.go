// Package refstore mediates reads and writes of reference entries — file
// bytes that live outside the managed store, addressed by URI — through a
// small per-scheme handler interface and a dispatcher that routes on the
// URI's scheme.
package refstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by a handler's LoadPath/StorePath when the
// referenced object does not exist.
var ErrNotFound = errors.New("refstore: reference not found")

// ErrUnsupportedScheme is returned by MultiHandler when no registered
// handler (and no default) covers a reference's scheme.
var ErrUnsupportedScheme = errors.New("refstore: unsupported scheme")

// ErrTooManyObjects is returned by StorePath when a directory or prefix
// reference would enumerate more than the caller's maxObjects.
var ErrTooManyObjects = errors.New("refstore: object limit exceeded")

// ErrNameRequired is returned by a passthrough StorePath call that has no
// caller-supplied name: an opaque, unrecognized scheme carries no safe
// basename to infer one from.
var ErrNameRequired = errors.New("refstore: reference name is required for this scheme")

// LoadRequest carries what a Handler needs to verify or download the
// bytes behind one manifest entry.
type LoadRequest struct {
	URI    string            // the entry's ref
	Digest string            // the entry's recorded digest, empty if unknown
	Path   string            // the entry's artifact-relative path, used as the download destination under a dest dir
	Extra  map[string]string // provider metadata such as versionID/generation
}

// ObjectRef describes one object discovered while resolving a reference
// URI that may denote a directory or bucket prefix (many objects) as
// opposed to a single file.
type ObjectRef struct {
	Path   string // artifact-relative path this object should be added under
	URI    string // fully qualified URI of this specific object
	Digest string
	Size   int64
	Extra  map[string]string
}

// Handler is implemented once per URI scheme. Handlers add no retry logic
// of their own; the Policy's retrying HTTP client serves only the managed
// store's own upload/download endpoints, not the handlers.
type Handler interface {
	// Scheme returns the URI scheme this handler serves, e.g. "s3",
	// "gs", "file", "azblob". TrackingHandler, the passthrough default,
	// returns the empty string since it matches whatever scheme it's
	// asked to hold, without interpreting it.
	Scheme() string

	// LoadPath resolves req. With local=false it returns req.URI
	// unchanged, verifying the digest first where that's cheap (metadata
	// mode). With local=true it downloads the referenced bytes to
	// destDir/req.Path, verifying the digest when feasible, and returns
	// that path.
	LoadPath(ctx context.Context, destDir string, req LoadRequest, local bool) (string, error)

	// StorePath resolves uri into one or more ObjectRef values.
	// checksum=false produces a single opaque ObjectRef whose digest is
	// the URI itself, with no bytes read. maxObjects bounds a
	// directory/prefix expansion; exceeding it fails with
	// ErrTooManyObjects.
	StorePath(ctx context.Context, uri string, namePrefix string, checksum bool, maxObjects int) ([]ObjectRef, error)
}

// schemeOf extracts the scheme portion of a URI ("s3", "gs", "file",
// "azblob", ...), or "" if uri has no "scheme://" prefix.
func schemeOf(uri string) string {
	for i := 0; i < len(uri); i++ {
		switch {
		case uri[i] == ':':
			if i+2 < len(uri) && uri[i+1] == '/' && uri[i+2] == '/' {
				return uri[:i]
			}
			return ""
		case (uri[i] >= 'a' && uri[i] <= 'z') || (uri[i] >= 'A' && uri[i] <= 'Z') || (uri[i] >= '0' && uri[i] <= '9') || uri[i] == '+' || uri[i] == '-' || uri[i] == '.':
			continue
		default:
			return ""
		}
	}
	return ""
}

func fmtUnsupported(uri string) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedScheme, uri)
}

// joinLogical joins a namePrefix and a relative path discovered while
// expanding a directory or prefix reference, keeping forward slashes and
// avoiding a leading "/" when namePrefix is empty.
func joinLogical(namePrefix, rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if namePrefix == "" {
		return rel
	}
	return namePrefix + "/" + rel
}
