package manifest

import (
	"testing"
)

func mustEntry(t *testing.T, path, digest string) *Entry {
	t.Helper()
	e, err := NewEntry(path, nil, digest, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestDigestIndependentOfInsertionOrder(t *testing.T) {
	a := New()
	a.AddEntry(mustEntry(t, "x.txt", "digestX=="))
	a.AddEntry(mustEntry(t, "y.txt", "digestY=="))

	b := New()
	b.AddEntry(mustEntry(t, "y.txt", "digestY=="))
	b.AddEntry(mustEntry(t, "x.txt", "digestX=="))

	if a.Digest() != b.Digest() {
		t.Fatalf("digests differ by insertion order: %s vs %s", a.Digest(), b.Digest())
	}
}

func TestDigestChangesWithContent(t *testing.T) {
	a := New()
	a.AddEntry(mustEntry(t, "x.txt", "digestX=="))

	b := New()
	b.AddEntry(mustEntry(t, "x.txt", "digestOther=="))

	if a.Digest() == b.Digest() {
		t.Fatal("expected different digests for different entry content")
	}
}

func TestEmptyManifestDigestIsStable(t *testing.T) {
	a := New()
	b := New()
	if a.Digest() != b.Digest() {
		t.Fatal("two empty manifests must share a digest")
	}
	if a.Len() != 0 {
		t.Fatalf("expected empty manifest, got %d entries", a.Len())
	}
}

func TestJSONRoundTripPreservesDigest(t *testing.T) {
	m := New()
	m.AddEntry(mustEntry(t, "a.txt", "digestA=="))
	ref := "s3://bucket/key"
	size := int64(42)
	refEntry, err := NewEntry("b.bin", &ref, "etag-123", &size, map[string]string{"versionID": "v1"})
	if err != nil {
		t.Fatal(err)
	}
	m.AddEntry(refEntry)

	data, err := m.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	round, err := FromJSON(data)
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}

	if round.Digest() != m.Digest() {
		t.Fatalf("digest changed across round trip: %s vs %s", m.Digest(), round.Digest())
	}
	if round.Len() != 2 {
		t.Fatalf("expected 2 entries after round trip, got %d", round.Len())
	}

	got, ok := round.GetEntry("b.bin")
	if !ok {
		t.Fatal("missing b.bin after round trip")
	}
	if got.Ref == nil || *got.Ref != ref {
		t.Fatalf("ref not preserved: %+v", got.Ref)
	}
	if got.Size == nil || *got.Size != size {
		t.Fatalf("size not preserved: %+v", got.Size)
	}
	if got.Extra["versionID"] != "v1" {
		t.Fatalf("extra not preserved: %+v", got.Extra)
	}
}

func TestRemoveEntry(t *testing.T) {
	m := New()
	m.AddEntry(mustEntry(t, "a.txt", "digestA=="))
	m.RemoveEntry("a.txt")
	if m.Len() != 0 {
		t.Fatalf("expected entry removed, got %d entries", m.Len())
	}
	if _, ok := m.GetEntry("a.txt"); ok {
		t.Fatal("expected GetEntry to report missing entry")
	}
}

func TestBuildServerManifestSortsFullyAndFiltersToNewFiles(t *testing.T) {
	m := New()
	m.AddEntry(mustEntry(t, "z.txt", "digestZ=="))
	m.AddEntry(mustEntry(t, "a.txt", "digestA=="))
	m.AddEntry(mustEntry(t, "added_not_new.txt", "digestB=="))
	ref := "s3://bucket/key"
	refEntry, err := NewEntry("ref.bin", &ref, "etag", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	m.AddEntry(refEntry)

	newFiles := map[string]bool{"z.txt": true, "a.txt": true}
	sm := BuildServerManifest(m, "manifest-md5==", newFiles)
	if len(sm.Files) != 3 {
		t.Fatalf("expected 3 files (manifest + 2 new_file entries), got %d", len(sm.Files))
	}

	// manifestFileName ("wandb_manifest.json") sorts between "a.txt" and
	// "z.txt" alphabetically, so the full list is sorted purely by path
	// with no entry pinned to a fixed position.
	want := []string{"a.txt", manifestFileName, "z.txt"}
	for i, f := range sm.Files {
		if f.Path != want[i] {
			t.Fatalf("file %d: expected path %s, got %s", i, want[i], f.Path)
		}
	}
	for _, f := range sm.Files {
		if f.Path == "ref.bin" {
			t.Fatal("reference entry should not appear in server manifest file list")
		}
		if f.Path == "added_not_new.txt" {
			t.Fatal("entry not staged through new_file should not appear in server manifest file list")
		}
	}
}

func TestUnmarshalJSONRejectsUnknownStoragePolicy(t *testing.T) {
	data := []byte(`{"version":1,"storagePolicy":"","contents":{}}`)
	if _, err := FromJSON(data); err == nil {
		t.Fatal("expected error for empty storage policy")
	}

	data = []byte(`{"version":1,"storagePolicy":"some-other-policy","contents":{}}`)
	if _, err := FromJSON(data); err == nil {
		t.Fatal("expected error for unrecognized storage policy")
	}
}
