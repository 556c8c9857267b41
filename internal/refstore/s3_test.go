package refstore

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
)

func TestParseS3URI(t *testing.T) {
	bucket, key, versionID, err := parseS3URI("s3://my-bucket/path/to/key.txt?versionId=v1")
	if err != nil {
		t.Fatal(err)
	}
	if bucket != "my-bucket" || key != "path/to/key.txt" || versionID != "v1" {
		t.Fatalf("got bucket=%s key=%s versionID=%s", bucket, key, versionID)
	}
}

func TestParseS3URIRejectsOtherSchemes(t *testing.T) {
	if _, _, _, err := parseS3URI("gs://bucket/key"); err == nil {
		t.Fatal("expected error for non-s3 scheme")
	}
}

func TestS3DigestPrefersMetadataMD5(t *testing.T) {
	metadata := map[string]string{"md5": "dGVzdA=="}
	etag := aws.String(`"deadbeef"`)
	if got := s3Digest(metadata, etag); got != "dGVzdA==" {
		t.Fatalf("expected user-metadata md5, got %s", got)
	}
}

func TestS3DigestFallsBackToETagWhenMetadataAbsent(t *testing.T) {
	etag := aws.String(`"deadbeef"`)
	if got := s3Digest(nil, etag); got != "deadbeef" {
		t.Fatalf("expected etag fallback stripped of quotes, got %s", got)
	}
}

func TestS3ExtraOmitsNullVersionID(t *testing.T) {
	extra := s3Extra(aws.String(`"etagvalue"`), aws.String("null"))
	if _, ok := extra["versionID"]; ok {
		t.Fatalf("expected no versionID for literal 'null', got %+v", extra)
	}
	if extra["etag"] != "etagvalue" {
		t.Fatalf("expected etag always present, got %+v", extra)
	}
}

func TestS3ExtraIncludesRealVersionID(t *testing.T) {
	extra := s3Extra(aws.String(`"etagvalue"`), aws.String("v1"))
	if extra["versionID"] != "v1" {
		t.Fatalf("expected versionID v1, got %+v", extra)
	}
}
