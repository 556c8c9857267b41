package refstore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/tracklab/artifactcore/internal/hashutil"
)

// GCSHandler serves "gs://bucket/object" references. The entry digest is
// always the object's base64 MD5 hash (md5_hash), which GCS computes and
// stores as object metadata on every upload — there is no ETag-fallback
// case the way there is for S3 and Azure.
type GCSHandler struct {
	client *storage.Client
}

// GCSConfig configures the underlying GCS client. CredentialsFile may be
// empty to use application-default credentials.
type GCSConfig struct {
	CredentialsFile string
}

// NewGCSHandler constructs a GCSHandler.
func NewGCSHandler(ctx context.Context, cfg GCSConfig) (*GCSHandler, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("refstore: create gcs client: %w", err)
	}
	return &GCSHandler{client: client}, nil
}

func (h *GCSHandler) Scheme() string { return "gs" }

func parseGCSURI(uri string) (bucket, object string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("refstore: invalid gcs uri %s: %w", uri, err)
	}
	if u.Scheme != "gs" {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, uri)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// LoadPath verifies (and, in local mode, downloads) a gs:// reference.
// When req.Extra["versionID"] (the object generation) is set, that exact
// generation is read; otherwise the current object's MD5 is verified
// against req.Digest before any bytes are downloaded.
func (h *GCSHandler) LoadPath(ctx context.Context, destDir string, req LoadRequest, local bool) (string, error) {
	bucket, object, err := parseGCSURI(req.URI)
	if err != nil {
		return "", err
	}

	obj := h.client.Bucket(bucket).Object(object)
	var generation int64
	if g := req.Extra["versionID"]; g != "" {
		if generation, err = strconv.ParseInt(g, 10, 64); err == nil {
			obj = obj.Generation(generation)
		}
	}

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, req.URI)
		}
		return "", fmt.Errorf("refstore: stat %s: %w", req.URI, err)
	}

	digest := base64.StdEncoding.EncodeToString(attrs.MD5)
	if req.Digest != "" && digest != req.Digest {
		return "", &digestMismatch{path: req.URI, expected: req.Digest, actual: digest}
	}

	if !local {
		return req.URI, nil
	}

	r, err := obj.NewReader(ctx)
	if err != nil {
		return "", fmt.Errorf("refstore: open reader for %s: %w", req.URI, err)
	}
	defer r.Close()

	dest := filepath.Join(destDir, req.Path)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("refstore: create parent dir for %s: %w", dest, err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("refstore: create %s: %w", dest, err)
	}
	defer f.Close()

	downloaded, err := hashutil.StreamMD5Base64(teeToFile(r, f))
	if err != nil {
		return "", fmt.Errorf("refstore: hash downloaded %s: %w", req.URI, err)
	}
	if downloaded != digest {
		return "", &digestMismatch{path: dest, expected: digest, actual: downloaded}
	}
	return dest, nil
}

// StorePath resolves a gs:// reference. It first attempts Attrs on the
// exact object; ErrObjectNotExist there means the object name is a
// prefix, so it falls back to listing objects under it, subject to
// maxObjects.
func (h *GCSHandler) StorePath(ctx context.Context, uri string, namePrefix string, checksum bool, maxObjects int) ([]ObjectRef, error) {
	bucket, object, err := parseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	if !checksum {
		return []ObjectRef{{Path: namePrefix, URI: uri, Digest: uri}}, nil
	}

	attrs, err := h.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err == nil {
		return []ObjectRef{{
			Path:   namePrefix,
			URI:    uri,
			Digest: base64.StdEncoding.EncodeToString(attrs.MD5),
			Size:   attrs.Size,
			Extra:  gcsExtra(attrs),
		}}, nil
	}
	if !errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("refstore: stat %s: %w", uri, err)
	}

	var out []ObjectRef
	it := h.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: object})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("refstore: list %s: %w", uri, err)
		}
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}
		if len(out) >= maxObjects {
			return nil, fmt.Errorf("%w: %s", ErrTooManyObjects, uri)
		}
		rel := strings.TrimPrefix(attrs.Name, object)
		out = append(out, ObjectRef{
			Path:   joinLogical(namePrefix, rel),
			URI:    fmt.Sprintf("gs://%s/%s", bucket, attrs.Name),
			Digest: base64.StdEncoding.EncodeToString(attrs.MD5),
			Size:   attrs.Size,
			Extra:  gcsExtra(attrs),
		})
	}
	return out, nil
}

// gcsExtra always carries the object's ETag and generation, the GCS
// analogue of S3's optional versionID.
func gcsExtra(attrs *storage.ObjectAttrs) map[string]string {
	return map[string]string{
		"etag":      attrs.Etag,
		"versionID": strconv.FormatInt(attrs.Generation, 10),
	}
}
