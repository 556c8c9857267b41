package hashutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileMD5Base64(t *testing.T) {
	cases := map[string]string{
		"a": "DMF1ucDxtqgxw5niaXcmYQ==",
		"b": "kutf/uauL+w61xx3dTFXjw==",
		"":  "1B2M2Y8AsgTpgAmY7PhCfg==",
	}
	for content, want := range cases {
		path := writeTemp(t, content)
		got, err := FileMD5Base64(path)
		if err != nil {
			t.Fatalf("FileMD5Base64(%q): %v", content, err)
		}
		if got != want {
			t.Errorf("FileMD5Base64(%q) = %s, want %s", content, got, want)
		}
	}
}

func TestStringMD5Base64MatchesFile(t *testing.T) {
	path := writeTemp(t, "hello world")
	fileDigest, err := FileMD5Base64(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := StringMD5Base64("hello world"); got != fileDigest {
		t.Errorf("StringMD5Base64 = %s, want %s", got, fileDigest)
	}
}

func TestBase64HexRoundTrip(t *testing.T) {
	path := writeTemp(t, "round trip")
	b64, err := FileMD5Base64(path)
	if err != nil {
		t.Fatal(err)
	}
	hex, err := FileMD5Hex(path)
	if err != nil {
		t.Fatal(err)
	}

	gotHex, err := Base64ToHex(b64)
	if err != nil {
		t.Fatal(err)
	}
	if gotHex != hex {
		t.Errorf("Base64ToHex(%s) = %s, want %s", b64, gotHex, hex)
	}

	gotB64, err := HexToBase64(hex)
	if err != nil {
		t.Fatal(err)
	}
	if gotB64 != b64 {
		t.Errorf("HexToBase64(%s) = %s, want %s", hex, gotB64, b64)
	}
}

func TestMemoryDigestCache(t *testing.T) {
	c := NewMemoryDigestCache()
	now := time.Now()

	if _, ok := c.Lookup("/a", 1, now); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Store("/a", 1, now, "digest-a")
	got, ok := c.Lookup("/a", 1, now)
	if !ok || got != "digest-a" {
		t.Fatalf("Lookup = %q, %v; want digest-a, true", got, ok)
	}

	// Different size is a different key (e.g. file changed).
	if _, ok := c.Lookup("/a", 2, now); ok {
		t.Fatal("expected miss for different size")
	}
}
