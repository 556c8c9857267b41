// Package manifest implements the canonical record of one artifact: the
// per-path ManifestEntry, the ordered, content-addressed ArtifactManifest
// (v1) that owns them, and the auxiliary ServerManifest used to reproduce
// the upload-set digest.
package manifest

import "fmt"

// Entry is the canonical record for one logical path inside an artifact.
//
// Ref is nil when the bytes are owned by the artifact's managed store.
// Digest's semantics depend on the producer: base64 MD5 for files written
// through the hasher, provider MD5 or ETag for cloud references, or the
// literal URI for an unsupported-scheme passthrough reference.
//
// localPath is transient — it points at the bytes on local disk while an
// owned entry still awaits upload, and is never serialized (it has no
// json tag and is unexported, so encoding/json skips it automatically).
type Entry struct {
	Path   string            `json:"-"`
	Ref    *string           `json:"ref,omitempty"`
	Digest string            `json:"digest"`
	Size   *int64            `json:"size,omitempty"`
	Extra  map[string]string `json:"extra,omitempty"`

	localPath string
}

// NewEntry constructs an Entry, enforcing that path and digest are
// non-empty and that Extra defaults to an empty map.
func NewEntry(path string, ref *string, digest string, size *int64, extra map[string]string) (*Entry, error) {
	if path == "" {
		return nil, fmt.Errorf("manifest: entry path must not be empty")
	}
	if digest == "" {
		return nil, fmt.Errorf("manifest: entry digest must not be empty")
	}
	if extra == nil {
		extra = map[string]string{}
	}
	return &Entry{
		Path:   path,
		Ref:    ref,
		Digest: digest,
		Size:   size,
		Extra:  extra,
	}, nil
}

// LocalPath returns the transient local path, if any.
func (e *Entry) LocalPath() string { return e.localPath }

// SetLocalPath is the only mutator finalize's cache-adoption step may
// call on an otherwise-frozen entry: it remaps localPath from the
// staging tree to its final cache location.
func (e *Entry) SetLocalPath(path string) { e.localPath = path }

// String renders a debugging summary: "<ManifestEntry ref: <uri>>" for
// referenced entries, "<ManifestEntry digest: <value>>" for owned ones.
func (e *Entry) String() string {
	if e.Ref != nil {
		return fmt.Sprintf("<ManifestEntry ref: %s>", *e.Ref)
	}
	return fmt.Sprintf("<ManifestEntry digest: %s>", e.Digest)
}

// Clone returns a shallow copy safe to hand to a caller without letting
// them mutate the manifest's own bookkeeping (Extra is copied too).
func (e *Entry) Clone() *Entry {
	extra := make(map[string]string, len(e.Extra))
	for k, v := range e.Extra {
		extra[k] = v
	}
	clone := &Entry{
		Path:      e.Path,
		Digest:    e.Digest,
		Extra:     extra,
		localPath: e.localPath,
	}
	if e.Ref != nil {
		ref := *e.Ref
		clone.Ref = &ref
	}
	if e.Size != nil {
		size := *e.Size
		clone.Size = &size
	}
	return clone
}
