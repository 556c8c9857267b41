package refstore

import (
	"testing"

	"cloud.google.com/go/storage"
)

func TestParseGCSURI(t *testing.T) {
	bucket, object, err := parseGCSURI("gs://my-bucket/path/to/object.bin")
	if err != nil {
		t.Fatal(err)
	}
	if bucket != "my-bucket" || object != "path/to/object.bin" {
		t.Fatalf("got bucket=%s object=%s", bucket, object)
	}
}

func TestParseGCSURIRejectsOtherSchemes(t *testing.T) {
	if _, _, err := parseGCSURI("s3://bucket/key"); err == nil {
		t.Fatal("expected error for non-gcs scheme")
	}
}

func TestGCSExtraAlwaysIncludesEtagAndGeneration(t *testing.T) {
	attrs := &storage.ObjectAttrs{Etag: "etagvalue", Generation: 42}
	extra := gcsExtra(attrs)
	if extra["etag"] != "etagvalue" {
		t.Fatalf("expected etag, got %+v", extra)
	}
	if extra["versionID"] != "42" {
		t.Fatalf("expected versionID 42, got %+v", extra)
	}
}
