package manifest

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// manifestVersion is embedded in the digest preimage and in the JSON
// "version" field. Bumping it is a breaking change to the digest
// algorithm, so it is never derived — it is a literal constant.
const manifestVersion = "wandb-artifact-manifest-v1"

// storagePolicyName identifies the storage policy a manifest was built
// under. Only one policy exists today; the field exists so a future
// policy can be introduced without breaking the JSON schema.
const storagePolicyName = "wandb-storage-policy-v1"

// knownStoragePolicies lists every storagePolicy name UnmarshalJSON will
// accept. A manifest naming anything else — including the empty string —
// can't be rebuilt into a policy this package knows how to drive.
var knownStoragePolicies = map[string]bool{
	storagePolicyName: true,
}

// Manifest is the canonical, ordered collection of entries that make up
// one artifact version. Entries are keyed by path; insertion order is not
// significant — Digest and serialization both sort by path.
type Manifest struct {
	entries map[string]*Entry
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{entries: make(map[string]*Entry)}
}

// AddEntry inserts or replaces the entry at its Path.
func (m *Manifest) AddEntry(e *Entry) {
	m.entries[e.Path] = e
}

// GetEntry looks up the entry at path.
func (m *Manifest) GetEntry(path string) (*Entry, bool) {
	e, ok := m.entries[path]
	return e, ok
}

// RemoveEntry deletes the entry at path, if present.
func (m *Manifest) RemoveEntry(path string) {
	delete(m.entries, path)
}

// Entries returns every entry, sorted by path. The returned slice is a
// fresh copy of the pointer list; mutating entries through it mutates the
// manifest's own entries (as with the original entry map).
func (m *Manifest) Entries() []*Entry {
	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Len returns the number of entries currently in the manifest.
func (m *Manifest) Len() int { return len(m.entries) }

// Digest computes the manifest's content-addressed digest: the lowercase
// hex MD5 of a canonical preimage built by writing a version header
// followed by one "path:digest\n" line per entry, sorted by path. Sorting
// makes the digest independent of insertion order, which is what lets two
// artifacts built by adding the same files in a different order, or by
// add_dir's parallel hasher, compare equal.
func (m *Manifest) Digest() string {
	h := md5.New()
	fmt.Fprintf(h, "%s\n", manifestVersion)
	for _, e := range m.Entries() {
		fmt.Fprintf(h, "%s:%s\n", e.Path, e.Digest)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// wireManifest is the JSON-serializable shape of a Manifest: a version
// tag, the storage policy name and its config, and a "contents" map from
// path to entry (the path lives only in the map key, since Entry itself
// omits Path from JSON).
type wireManifest struct {
	Version             int                    `json:"version"`
	StoragePolicy       string                 `json:"storagePolicy"`
	StoragePolicyConfig map[string]interface{} `json:"storagePolicyConfig,omitempty"`
	Contents            map[string]wireEntry   `json:"contents"`
}

type wireEntry struct {
	Ref    *string           `json:"ref,omitempty"`
	Digest string            `json:"digest"`
	Size   *int64            `json:"size,omitempty"`
	Extra  map[string]string `json:"extra,omitempty"`
}

// MarshalJSON renders the manifest in the same shape the managed store and
// the original Python implementation expect: a top-level "contents" map
// keyed by path, not a list.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	w := wireManifest{
		Version:       1,
		StoragePolicy: storagePolicyName,
		Contents:      make(map[string]wireEntry, len(m.entries)),
	}
	for _, e := range m.Entries() {
		w.Contents[e.Path] = wireEntry{
			Ref:    e.Ref,
			Digest: e.Digest,
			Size:   e.Size,
			Extra:  e.Extra,
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON rebuilds a manifest from its wire form. A manifest
// round-tripped through Marshal/Unmarshal always reproduces the same
// Digest, since the digest depends only on path and per-entry digest, both
// of which survive the round trip exactly.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	var w wireManifest
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("manifest: decode: %w", err)
	}
	if w.Version != 1 {
		return fmt.Errorf("manifest: unsupported version %d", w.Version)
	}
	if !knownStoragePolicies[w.StoragePolicy] {
		return fmt.Errorf("manifest: missing or unrecognized storage policy %q", w.StoragePolicy)
	}
	m.entries = make(map[string]*Entry, len(w.Contents))
	for path, we := range w.Contents {
		m.entries[path] = &Entry{
			Path:   path,
			Ref:    we.Ref,
			Digest: we.Digest,
			Size:   we.Size,
			Extra:  we.Extra,
		}
	}
	return nil
}

// FromJSON parses a serialized manifest produced by MarshalJSON (or by the
// managed store).
func FromJSON(data []byte) (*Manifest, error) {
	m := New()
	if err := m.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return m, nil
}
