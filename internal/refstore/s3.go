package refstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/tracklab/artifactcore/internal/hashutil"
)

// S3Handler serves "s3://bucket/key" references. The entry digest prefers
// the object's user-metadata MD5 (key "md5") when the uploader recorded
// one, falling back to the ETag stripped of surrounding quotes — the
// managed store's convention for cloud references it didn't write itself.
type S3Handler struct {
	client *s3.Client
}

// S3Config configures the underlying AWS SDK client. Region may be empty
// to use the SDK's default resolution chain; Endpoint overrides the
// default endpoint for S3-compatible services (e.g. MinIO).
type S3Config struct {
	Region   string
	Endpoint string
}

// NewS3Handler loads AWS credentials via the SDK's default chain (env
// vars, shared config, EC2/ECS role) and constructs an S3Handler.
func NewS3Handler(ctx context.Context, cfg S3Config) (*S3Handler, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("refstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Handler{client: client}, nil
}

func (h *S3Handler) Scheme() string { return "s3" }

// parseS3URI splits "s3://bucket/key?versionId=..." into bucket, key, and
// an optional version ID.
func parseS3URI(uri string) (bucket, key, versionID string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", "", fmt.Errorf("refstore: invalid s3 uri %s: %w", uri, err)
	}
	if u.Scheme != "s3" {
		return "", "", "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, uri)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), u.Query().Get("versionId"), nil
}

// LoadPath verifies (and, in local mode, downloads) an s3:// reference.
// When req.Extra["versionID"] is set, that exact version is fetched
// directly; otherwise the current object is HEAD-checked and its digest
// verified against req.Digest before any bytes are downloaded.
func (h *S3Handler) LoadPath(ctx context.Context, destDir string, req LoadRequest, local bool) (string, error) {
	bucket, key, _, err := parseS3URI(req.URI)
	if err != nil {
		return "", err
	}
	versionID := req.Extra["versionID"]

	headIn := &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if versionID != "" {
		headIn.VersionId = aws.String(versionID)
	}
	head, err := h.client.HeadObject(ctx, headIn)
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, req.URI)
		}
		return "", fmt.Errorf("refstore: head %s: %w", req.URI, err)
	}

	if versionID == "" {
		digest := s3Digest(head.Metadata, head.ETag)
		if req.Digest != "" && digest != req.Digest {
			return "", &digestMismatch{path: req.URI, expected: req.Digest, actual: digest}
		}
	}

	if !local {
		return req.URI, nil
	}

	getIn := &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if versionID != "" {
		getIn.VersionId = aws.String(versionID)
	}
	obj, err := h.client.GetObject(ctx, getIn)
	if err != nil {
		return "", fmt.Errorf("refstore: get %s: %w", req.URI, err)
	}
	defer obj.Body.Close()

	dest := filepath.Join(destDir, req.Path)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("refstore: create parent dir for %s: %w", dest, err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("refstore: create %s: %w", dest, err)
	}
	defer f.Close()

	digest, err := hashutil.StreamMD5Base64(teeToFile(obj.Body, f))
	if err != nil {
		return "", fmt.Errorf("refstore: hash downloaded %s: %w", req.URI, err)
	}
	// An ETag-derived digest is not a content hash, so the downloaded bytes
	// are only compared when the object carries a recorded md5.
	if req.Digest != "" && head.Metadata["md5"] != "" && digest != req.Digest {
		return "", &digestMismatch{path: dest, expected: req.Digest, actual: digest}
	}
	return dest, nil
}

// StorePath resolves an s3:// reference. It first HEADs the exact key; a
// 404 there means the key is a prefix, so it falls back to listing
// objects under it, subject to maxObjects.
func (h *S3Handler) StorePath(ctx context.Context, uri string, namePrefix string, checksum bool, maxObjects int) ([]ObjectRef, error) {
	bucket, key, versionID, err := parseS3URI(uri)
	if err != nil {
		return nil, err
	}
	if !checksum {
		return []ObjectRef{{Path: namePrefix, URI: uri, Digest: uri}}, nil
	}

	headIn := &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if versionID != "" {
		headIn.VersionId = aws.String(versionID)
	}
	head, err := h.client.HeadObject(ctx, headIn)
	if err == nil {
		return []ObjectRef{{
			Path:   namePrefix,
			URI:    uri,
			Digest: s3Digest(head.Metadata, head.ETag),
			Size:   aws.ToInt64(head.ContentLength),
			Extra:  s3Extra(head.ETag, head.VersionId),
		}}, nil
	}
	if !isNotFound(err) {
		return nil, fmt.Errorf("refstore: head %s: %w", uri, err)
	}

	var out []ObjectRef
	paginator := s3.NewListObjectsV2Paginator(h.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(key),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("refstore: list %s: %w", uri, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil || strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			if len(out) >= maxObjects {
				return nil, fmt.Errorf("%w: %s", ErrTooManyObjects, uri)
			}
			rel := strings.TrimPrefix(*obj.Key, key)
			etag := strings.Trim(aws.ToString(obj.ETag), `"`)
			out = append(out, ObjectRef{
				Path:   joinLogical(namePrefix, rel),
				URI:    fmt.Sprintf("s3://%s/%s", bucket, *obj.Key),
				Digest: etag,
				Size:   aws.ToInt64(obj.Size),
				Extra:  map[string]string{"etag": etag},
			})
		}
	}
	return out, nil
}

// s3Digest prefers the uploader-recorded "md5" user metadata key,
// falling back to the object's ETag stripped of surrounding quotes.
func s3Digest(metadata map[string]string, etag *string) string {
	if md5, ok := metadata["md5"]; ok && md5 != "" {
		return md5
	}
	return strings.Trim(aws.ToString(etag), `"`)
}

// s3Extra always carries the object's own ETag, and the VersionId only
// when the bucket has versioning enabled and it isn't the literal string
// "null" (the value S3 returns for unversioned buckets).
func s3Extra(etag *string, versionID *string) map[string]string {
	extra := map[string]string{"etag": strings.Trim(aws.ToString(etag), `"`)}
	if v := aws.ToString(versionID); v != "" && v != "null" {
		extra["versionID"] = v
	}
	return extra
}

// isNotFound reports whether err is an S3 "not found" class error
// (NoSuchKey or a 404 NotFound API error), the one case the S3, GCS, and
// Azure handlers each catch-and-translate rather than surface raw.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	return strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "404")
}
