package refstore

import (
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

func TestParseAzureURI(t *testing.T) {
	container, blob, err := parseAzureURI("azblob://my-container/path/to/blob.bin")
	if err != nil {
		t.Fatal(err)
	}
	if container != "my-container" || blob != "path/to/blob.bin" {
		t.Fatalf("got container=%s blob=%s", container, blob)
	}
}

func TestParseAzureURIRejectsOtherSchemes(t *testing.T) {
	if _, _, err := parseAzureURI("s3://bucket/key"); err == nil {
		t.Fatal("expected error for non-azure scheme")
	}
}

func TestAzureDigestPrefersContentMD5(t *testing.T) {
	etag := azcore.ETag(`"deadbeef"`)
	digest, trustworthy := azureDigest([]byte("hello"), &etag)
	if !trustworthy {
		t.Fatal("expected ContentMD5 to be trustworthy")
	}
	if digest == "" {
		t.Fatal("expected non-empty digest")
	}
}

func TestAzureDigestFallsBackToETagAsUntrustworthy(t *testing.T) {
	etag := azcore.ETag(`"deadbeef"`)
	digest, trustworthy := azureDigest(nil, &etag)
	if trustworthy {
		t.Fatal("expected etag-derived digest to be marked untrustworthy")
	}
	if digest != "deadbeef" {
		t.Fatalf("expected etag stripped of quotes, got %s", digest)
	}
}

func TestAzureExtraOmitsEmptyVersionID(t *testing.T) {
	etag := azcore.ETag(`"deadbeef"`)
	extra := azureExtra(&etag, nil)
	if _, ok := extra["versionID"]; ok {
		t.Fatalf("expected no versionID when absent, got %+v", extra)
	}
	if extra["etag"] != "deadbeef" {
		t.Fatalf("expected etag present, got %+v", extra)
	}
}

func TestAzureExtraIncludesVersionID(t *testing.T) {
	etag := azcore.ETag(`"deadbeef"`)
	v := "v1"
	extra := azureExtra(&etag, &v)
	if extra["versionID"] != "v1" {
		t.Fatalf("expected versionID v1, got %+v", extra)
	}
}
