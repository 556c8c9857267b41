package artifact

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tracklab/artifactcore/internal/cache"
	"github.com/tracklab/artifactcore/internal/refstore"
)

func newTestArtifact(t *testing.T) *Artifact {
	t.Helper()
	c := cache.New(t.TempDir())
	dispatcher := refstore.NewMultiHandler()
	dispatcher.RegisterHandler(refstore.NewLocalFileHandler())
	dispatcher.SetDefault(refstore.NewTrackingHandler(nil))
	policy := refstore.NewPolicy(dispatcher, refstore.PolicyConfig{})

	a, err := New("dataset", "my-artifact", "", nil, c, policy)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func md5Hex(preimage string) string {
	sum := md5.Sum([]byte(preimage))
	return hex.EncodeToString(sum[:])
}

func TestTwoFileDigestIsStable(t *testing.T) {
	a := newTestArtifact(t)
	dir := t.TempDir()

	bPath := filepath.Join(dir, "b-src")
	os.WriteFile(bPath, []byte("b"), 0o644)
	aPath := filepath.Join(dir, "a-src")
	os.WriteFile(aPath, []byte("a"), 0o644)

	if err := a.AddFile(bPath, "y.txt"); err != nil {
		t.Fatalf("AddFile y.txt: %v", err)
	}
	if err := a.AddFile(aPath, "x.txt"); err != nil {
		t.Fatalf("AddFile x.txt: %v", err)
	}

	digest, err := a.Digest()
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}

	b64A := hashB64("a")
	b64B := hashB64("b")
	want := md5Hex("wandb-artifact-manifest-v1\nx.txt:" + b64A + "\ny.txt:" + b64B + "\n")
	if digest != want {
		t.Fatalf("digest = %s, want %s", digest, want)
	}

	m, err := a.Manifest()
	if err != nil {
		t.Fatal(err)
	}
	var keys []string
	for _, e := range m.Entries() {
		keys = append(keys, e.Path)
	}
	if len(keys) != 2 || keys[0] != "x.txt" || keys[1] != "y.txt" {
		t.Fatalf("expected sorted keys [x.txt y.txt], got %v", keys)
	}
}

func hashB64(s string) string {
	sum := md5.Sum([]byte(s))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func TestFinalizeIsIdempotent(t *testing.T) {
	a := newTestArtifact(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	os.WriteFile(path, []byte("content"), 0o644)
	if err := a.AddFile(path, "f.txt"); err != nil {
		t.Fatal(err)
	}

	first, err := a.Finalize(context.Background())
	if err != nil {
		t.Fatalf("first Finalize: %v", err)
	}
	digest1, _ := a.Digest()

	second, err := a.Finalize(context.Background())
	if err != nil {
		t.Fatalf("second Finalize: %v", err)
	}
	digest2, _ := a.Digest()

	if digest1 != digest2 {
		t.Fatalf("digest changed across idempotent finalize: %s vs %s", digest1, digest2)
	}
	if len(first) != len(second) {
		t.Fatalf("file entry count changed: %d vs %d", len(first), len(second))
	}
}

func TestCannotAddAfterFinalize(t *testing.T) {
	a := newTestArtifact(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	os.WriteFile(path, []byte("content"), 0o644)
	if err := a.AddFile(path, "f.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Finalize(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := a.AddFile(path, "g.txt")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestDuplicatePathRejected(t *testing.T) {
	a := newTestArtifact(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	os.WriteFile(path, []byte("content"), 0o644)
	if err := a.AddFile(path, "f.txt"); err != nil {
		t.Fatal(err)
	}
	err := a.AddFile(path, "f.txt")
	if err == nil {
		t.Fatal("expected error adding duplicate path")
	}
}

func TestNewFileThenFinalizeAdoptsIntoCache(t *testing.T) {
	a := newTestArtifact(t)

	f, err := a.NewFile("generated.txt")
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if _, err := f.WriteString("generated content"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	entries, err := a.Finalize(context.Background())
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	var found bool
	for _, e := range entries {
		if e.Path == "generated.txt" {
			found = true
			if _, statErr := os.Stat(e.LocalPath); statErr != nil {
				t.Fatalf("expected adopted file to exist at %s: %v", e.LocalPath, statErr)
			}
		}
	}
	if !found {
		t.Fatal("expected generated.txt in finalized file entries")
	}
}

func TestUnknownSchemePassthrough(t *testing.T) {
	a := newTestArtifact(t)
	if err := a.AddReference(context.Background(), "foo://host/thing", "t", true, 0); err != nil {
		t.Fatalf("AddReference: %v", err)
	}

	m, err := a.Manifest()
	if err != nil {
		t.Fatal(err)
	}
	e, ok := m.GetEntry("t")
	if !ok {
		t.Fatal("expected entry at path t")
	}
	if e.Ref == nil || *e.Ref != "foo://host/thing" {
		t.Fatalf("expected ref foo://host/thing, got %v", e.Ref)
	}
	if e.Digest != "foo://host/thing" {
		t.Fatalf("expected digest equal to uri, got %s", e.Digest)
	}
}

func TestUnknownSchemeWithoutNameRejected(t *testing.T) {
	a := newTestArtifact(t)
	err := a.AddReference(context.Background(), "foo://host/thing", "", true, 0)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for unrecognized scheme with no name, got %v", err)
	}
}

func TestAddReferenceRequiresScheme(t *testing.T) {
	a := newTestArtifact(t)
	err := a.AddReference(context.Background(), "not-a-uri", "t", true, 0)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for schemeless reference, got %v", err)
	}
}

func TestAddReferenceChecksumFalseProducesOpaqueEntry(t *testing.T) {
	a := newTestArtifact(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	os.WriteFile(path, []byte("content"), 0o644)

	uri := "file://" + path
	if err := a.AddReference(context.Background(), uri, "f.txt", false, 0); err != nil {
		t.Fatalf("AddReference: %v", err)
	}

	m, err := a.Manifest()
	if err != nil {
		t.Fatal(err)
	}
	e, ok := m.GetEntry("f.txt")
	if !ok {
		t.Fatal("expected entry at path f.txt")
	}
	if e.Digest != uri {
		t.Fatalf("expected opaque digest equal to uri %s, got %s", uri, e.Digest)
	}
}

func TestAddDirParallelHashingMatchesSequential(t *testing.T) {
	a := newTestArtifact(t)
	dir := t.TempDir()
	for i := 0; i < 20; i++ {
		name := filepath.Join(dir, "file")
		os.WriteFile(name+string(rune('a'+i)), []byte{byte(i)}, 0o644)
	}

	if err := a.AddDir(context.Background(), dir, "data"); err != nil {
		t.Fatalf("AddDir: %v", err)
	}
	m, err := a.Manifest()
	if err != nil {
		t.Fatal(err)
	}
	if m.Len() != 20 {
		t.Fatalf("expected 20 entries, got %d", m.Len())
	}
	for i := 0; i < 20; i++ {
		path := "data/file" + string(rune('a'+i))
		e, ok := m.GetEntry(path)
		if !ok {
			t.Fatalf("missing entry %s", path)
		}
		if want := hashB64(string([]byte{byte(i)})); e.Digest != want {
			t.Fatalf("%s: parallel digest %s, sequential digest %s", path, e.Digest, want)
		}
	}
}
