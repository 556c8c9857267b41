package refstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/tracklab/artifactcore/internal/hashutil"
	"github.com/tracklab/artifactcore/internal/logger"
)

// policyName identifies the storage policy, mirroring the manifest's
// storagePolicy field.
const policyName = "wandb-storage-policy-v1"

// retryableStatusCodes are the HTTP statuses go-retryablehttp treats as
// worth retrying, beyond its built-in 5xx/429 handling: 308 (redirect
// during a multipart upload) and 409 (conflict on a concurrent commit).
var retryableStatusCodes = map[int]bool{
	308: true, 409: true, 429: true, 500: true, 502: true, 503: true, 504: true,
}

// UploadEntry is the subset of an owned manifest entry the storage policy
// needs to stage an upload: its artifact-relative name, its base64 MD5,
// and where its bytes currently live on disk. It stands in for
// internal/artifact's FileEntry so this package never has to import the
// artifact package (which already imports this one).
type UploadEntry struct {
	Name      string
	MD5Base64 string
	LocalPath string
}

// PreparedUpload is what an UploadPreparer returns for one file: either an
// UploadURL the caller should PUT the bytes to (with UploadHeaders, each a
// "Key:Value" string, attached), or an empty UploadURL meaning the managed
// store already has these bytes and no upload is needed.
type PreparedUpload struct {
	UploadURL     string
	UploadHeaders []string
}

// UploadPreparer is the managed store's file-prepare RPC: given an
// artifact ID and a file's name and content MD5, it decides whether the
// bytes already exist server-side and, if not, where to PUT them.
type UploadPreparer interface {
	PrepareUpload(ctx context.Context, artifactID, name, md5 string) (PreparedUpload, error)
}

// APISettings supplies the identity a Policy authenticates as: which
// entity namespace managed-store URLs are built under, the base URL
// itself, and the API key used for basic auth.
type APISettings interface {
	Entity() string
	BaseURL() string
	APIKey() string
}

// Policy is the storage policy: it owns the scheme-handler dispatcher for
// references plus a retrying HTTP client for the managed store's own
// upload/download endpoints. Retry tuning (1s backoff factor, 16 max
// attempts, a fixed status-code allowlist, a 64-connection pool) matches
// the original implementation's urllib3 Retry/HTTPAdapter configuration.
type Policy struct {
	Dispatcher *MultiHandler
	httpClient *retryablehttp.Client
	baseURL    string
	apiKey     string
	entity     string
}

// PolicyConfig configures Policy's HTTP client and the entity namespace
// its managed-store URLs are built under.
type PolicyConfig struct {
	BaseURL string
	APIKey  string
	Entity  string
	Log     *logger.Logger
}

// NewPolicy constructs a Policy backed by dispatcher for references, and
// a go-retryablehttp client tuned for the managed store's upload API.
func NewPolicy(dispatcher *MultiHandler, cfg PolicyConfig) *Policy {
	client := retryablehttp.NewClient()
	client.RetryWaitMin = time.Second
	client.RetryWaitMax = 16 * time.Second
	client.RetryMax = 15 // retries after the first try: 16 attempts in all
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if err != nil {
			return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		}
		if resp != nil && retryableStatusCodes[resp.StatusCode] {
			return true, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	client.HTTPClient.Transport = &http.Transport{
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 64,
	}
	if cfg.Log != nil {
		client.Logger = policyLogAdapter{cfg.Log}
	} else {
		client.Logger = nil
	}

	return &Policy{
		Dispatcher: dispatcher,
		httpClient: client,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		entity:     cfg.Entity,
	}
}

// NewPolicyFromSettings is a convenience constructor for callers that
// already carry an APISettings (e.g. the CLI's resolved config) instead
// of assembling a PolicyConfig by hand.
func NewPolicyFromSettings(dispatcher *MultiHandler, settings APISettings, log *logger.Logger) *Policy {
	return NewPolicy(dispatcher, PolicyConfig{
		BaseURL: settings.BaseURL(),
		APIKey:  settings.APIKey(),
		Entity:  settings.Entity(),
		Log:     log,
	})
}

// Name returns the storage policy's identifying name, as recorded in a
// serialized manifest's storagePolicy field.
func (p *Policy) Name() string { return policyName }

// fileURL builds the managed-store URL for the file addressed by
// digestHex, namespaced under the policy's configured entity.
func (p *Policy) fileURL(digestHex string) string {
	return fmt.Sprintf("%s/artifacts/%s/%s", p.baseURL, p.entity, digestHex)
}

// StoreFile uploads entry's bytes to the managed store. It first calls
// preparer, which decides whether the store already has these bytes
// (exists=true, no upload needed) or hands back an upload URL and headers
// to PUT to.
func (p *Policy) StoreFile(ctx context.Context, artifactID string, entry UploadEntry, preparer UploadPreparer) (exists bool, err error) {
	digestHex, err := hashutil.Base64ToHex(entry.MD5Base64)
	if err != nil {
		return false, fmt.Errorf("refstore: %w", err)
	}

	prepared, err := preparer.PrepareUpload(ctx, artifactID, entry.Name, digestHex)
	if err != nil {
		return false, fmt.Errorf("refstore: prepare upload for %s: %w", entry.Name, err)
	}
	if prepared.UploadURL == "" {
		return true, nil
	}

	f, err := fileOpen(entry.LocalPath)
	if err != nil {
		return false, fmt.Errorf("refstore: open %s: %w", entry.LocalPath, err)
	}
	defer f.Close()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, prepared.UploadURL, f)
	if err != nil {
		return false, fmt.Errorf("refstore: build upload request: %w", err)
	}
	for _, header := range prepared.UploadHeaders {
		key, value, ok := strings.Cut(header, ":")
		if !ok {
			continue
		}
		req.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("refstore: upload %s: %w", entry.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, fmt.Errorf("refstore: upload %s: status %d: %s", entry.Name, resp.StatusCode, body)
	}
	return false, nil
}

// LoadPath downloads the managed-store file addressed by its base64 MD5
// digest to <dir>/<name>, returning the local path. If that path already
// exists with a matching digest, the download is skipped entirely.
func (p *Policy) LoadPath(ctx context.Context, dir, name, digestBase64 string) (string, error) {
	dest := filepath.Join(dir, name)
	if existing, err := hashutil.FileMD5Base64(dest); err == nil && existing == digestBase64 {
		return dest, nil
	}

	digestHex, err := hashutil.Base64ToHex(digestBase64)
	if err != nil {
		return "", fmt.Errorf("refstore: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, p.fileURL(digestHex), nil)
	if err != nil {
		return "", fmt.Errorf("refstore: build download request: %w", err)
	}
	if p.apiKey != "" {
		req.SetBasicAuth("api", p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("refstore: download %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("refstore: download %s: status %d", name, resp.StatusCode)
	}

	destPath, destFile, err := createCacheFile(dir, name)
	if err != nil {
		return "", err
	}
	defer destFile.Close()

	gotDigest, err := hashutil.StreamMD5Base64(io.TeeReader(resp.Body, destFile))
	if err != nil {
		return "", fmt.Errorf("refstore: hash downloaded %s: %w", name, err)
	}
	if gotDigest != digestBase64 {
		return "", &digestMismatch{path: destPath, expected: digestBase64, actual: gotDigest}
	}
	return destPath, nil
}

// policyLogAdapter satisfies retryablehttp.LeveledLogger by forwarding
// everything through logger.Logger, matching the teacher's logging style
// rather than retryablehttp's default stdlib logger.
type policyLogAdapter struct {
	log *logger.Logger
}

func (a policyLogAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.log.Printf("[ERROR] %s %v", msg, keysAndValues)
}
func (a policyLogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.log.Printf("[INFO] %s %v", msg, keysAndValues)
}
func (a policyLogAdapter) Debug(msg string, keysAndValues ...interface{}) {
	a.log.Printf("[DEBUG] %s %v", msg, keysAndValues)
}
func (a policyLogAdapter) Warn(msg string, keysAndValues ...interface{}) {
	a.log.Printf("[WARN] %s %v", msg, keysAndValues)
}
