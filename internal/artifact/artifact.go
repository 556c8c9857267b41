package artifact

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tracklab/artifactcore/internal/cache"
	"github.com/tracklab/artifactcore/internal/hashutil"
	"github.com/tracklab/artifactcore/internal/manifest"
	"github.com/tracklab/artifactcore/internal/refstore"
)

// state tracks the builder's one-way Open -> Finalized transition.
type state int

const (
	stateOpen state = iota
	stateFinalized
)

// FileEntry is one (path, local_path) pair awaiting upload, part of the
// file-entries set finalize returns and re-returns on idempotent recalls.
type FileEntry struct {
	Path      string
	MD5Base64 string
	LocalPath string
}

// DefaultHashWorkers bounds add_dir's parallel-hashing fan-out when no
// override is given: 8, matching the magic number the original
// implementation hard-codes via multiprocessing.dummy.Pool(8).
const DefaultHashWorkers = 8

// Artifact is the builder that assembles a named, typed bundle of file
// entries, then freezes into a finalized manifest with a content-addressed
// digest. It is not safe for concurrent use by multiple goroutines calling
// mutating methods at once — add_dir's own internal fan-out is the
// exception, serialized back through a single mutex around manifest
// insertion.
type Artifact struct {
	Type        string
	Name        string
	Description string
	Metadata    map[string]interface{}

	mu          sync.Mutex
	state       state
	manifest    *manifest.Manifest
	stagingDir  string
	addedNew    bool
	hashWorkers int
	digestCache hashutil.DigestCache

	cache  *cache.Cache
	policy *refstore.Policy

	digest       string
	fileEntries  []FileEntry
	serverMF     *manifest.ServerManifest
	newFilePaths map[string]bool
}

// Option configures New.
type Option func(*Artifact)

// WithHashWorkers overrides the add_dir parallel-hashing fan-out width.
func WithHashWorkers(n int) Option {
	return func(a *Artifact) {
		if n > 0 {
			a.hashWorkers = n
		}
	}
}

// WithDigestCache installs a hashutil.DigestCache so repeated add_dir
// calls over an unchanged tree can skip re-hashing unchanged files.
func WithDigestCache(c hashutil.DigestCache) Option {
	return func(a *Artifact) { a.digestCache = c }
}

// New creates an Open artifact with a fresh staging directory under the
// system temp directory, wired to policy for reference resolution and c
// for eventual adoption at finalize.
func New(artifactType, name, description string, metadata map[string]interface{}, c *cache.Cache, policy *refstore.Policy, opts ...Option) (*Artifact, error) {
	if artifactType == "" {
		return nil, &ValidationError{Message: "artifact type must not be empty"}
	}
	if name == "" {
		return nil, &ValidationError{Message: "artifact name must not be empty"}
	}

	stagingDir, err := os.MkdirTemp("", "artifactcore-staging-*")
	if err != nil {
		return nil, fmt.Errorf("artifact: create staging dir: %w", err)
	}

	a := &Artifact{
		Type:        artifactType,
		Name:        name,
		Description: description,
		Metadata:    metadata,
		manifest:     manifest.New(),
		stagingDir:   stagingDir,
		hashWorkers:  DefaultHashWorkers,
		cache:        c,
		policy:       policy,
		newFilePaths: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Manifest finalizes the artifact (if not already) and returns its
// manifest.
func (a *Artifact) Manifest() (*manifest.Manifest, error) {
	if _, err := a.Finalize(context.Background()); err != nil {
		return nil, err
	}
	return a.manifest, nil
}

// Digest finalizes the artifact (if not already) and returns its content
// digest.
func (a *Artifact) Digest() (string, error) {
	if _, err := a.Finalize(context.Background()); err != nil {
		return "", err
	}
	return a.digest, nil
}

// LoadPath always fails: a builder in progress has no server-assigned
// entries to resolve bytes for. Reading back an artifact's files — the
// load_path operation in the spec's download sense — only makes sense
// against a manifest deserialized from a persisted form via
// manifest.FromJSON, never against a live Artifact still being built.
func (a *Artifact) LoadPath(ctx context.Context, name string, local bool) (string, error) {
	return "", &ValidationError{Path: name, Message: "load_path is not available on a builder artifact; load a manifest with manifest.FromJSON instead"}
}

func (a *Artifact) ensureCanAdd() error {
	if a.state == stateFinalized {
		return &ValidationError{Message: "can't add to finalized artifact"}
	}
	return nil
}

// NewFile reserves a file handle inside the staging directory at the
// given artifact-relative path, creating parent directories, and fails if
// that path already exists. The caller must close the returned file.
func (a *Artifact) NewFile(name string) (*os.File, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensureCanAdd(); err != nil {
		return nil, err
	}

	path := filepath.Join(a.stagingDir, name)
	if _, err := os.Stat(path); err == nil {
		return nil, &ValidationError{Path: name, Message: "file with this name already exists"}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create parent dir for %s: %w", name, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("artifact: create %s: %w", name, err)
	}
	a.addedNew = true
	a.newFilePaths[filepath.ToSlash(name)] = true
	return f, nil
}

// AddFile registers the regular file at localPath as a non-reference
// entry, under name (or localPath's base name if name is empty).
func (a *Artifact) AddFile(localPath, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ensureCanAdd(); err != nil {
		return err
	}

	info, err := os.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &NotFoundError{Path: localPath, Cause: err}
		}
		return fmt.Errorf("artifact: stat %s: %w", localPath, err)
	}
	if info.IsDir() {
		return &ValidationError{Path: localPath, Message: "path is not a file"}
	}

	if name == "" {
		name = filepath.Base(localPath)
	}

	digest, err := a.hashFile(localPath, info)
	if err != nil {
		return fmt.Errorf("artifact: hash %s: %w", localPath, err)
	}

	entry, err := manifest.NewEntry(name, nil, digest, sizeOf(info.Size()), nil)
	if err != nil {
		return err
	}
	entry.SetLocalPath(localPath)

	if _, exists := a.manifest.GetEntry(name); exists {
		return &ValidationError{Path: name, Message: "cannot add the same path twice"}
	}
	a.manifest.AddEntry(entry)
	return nil
}

// logicalPhysicalPair is one file discovered by add_dir's filesystem walk:
// its artifact-relative logical path and its physical location on disk.
type logicalPhysicalPair struct {
	logical  string
	physical string
}

// AddDir walks localPath (following symlinks), hashing every regular file
// it finds in parallel across a.hashWorkers goroutines, and inserts one
// non-ref entry per file under its path relative to localPath, optionally
// nested under name.
func (a *Artifact) AddDir(ctx context.Context, localPath, name string) error {
	a.mu.Lock()
	if err := a.ensureCanAdd(); err != nil {
		a.mu.Unlock()
		return err
	}
	info, err := os.Stat(localPath)
	if err != nil {
		a.mu.Unlock()
		if os.IsNotExist(err) {
			return &NotFoundError{Path: localPath, Cause: err}
		}
		return fmt.Errorf("artifact: stat %s: %w", localPath, err)
	}
	if !info.IsDir() {
		a.mu.Unlock()
		return &ValidationError{Path: localPath, Message: "path is not a directory"}
	}
	a.mu.Unlock()

	pairs, err := walkFollowingSymlinks(localPath, name)
	if err != nil {
		return fmt.Errorf("artifact: walk %s: %w", localPath, err)
	}

	type hashed struct {
		pair   logicalPhysicalPair
		digest string
		size   int64
	}
	results := make([]hashed, len(pairs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.hashWorkers)
	for i, pair := range pairs {
		i, pair := i, pair
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			info, err := os.Stat(pair.physical)
			if err != nil {
				return fmt.Errorf("artifact: stat %s: %w", pair.physical, err)
			}
			digest, err := a.hashFile(pair.physical, info)
			if err != nil {
				return fmt.Errorf("artifact: hash %s: %w", pair.physical, err)
			}
			results[i] = hashed{pair: pair, digest: digest, size: info.Size()}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Hashing happens fully in parallel above; insertion into the shared
	// manifest is serialized here under the builder's mutex, since the
	// duplicate-path check and map write must stay consistent.
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range results {
		entry, err := manifest.NewEntry(r.pair.logical, nil, r.digest, sizeOf(r.size), nil)
		if err != nil {
			return err
		}
		entry.SetLocalPath(r.pair.physical)
		if _, exists := a.manifest.GetEntry(r.pair.logical); exists {
			return &ValidationError{Path: r.pair.logical, Message: "cannot add the same path twice"}
		}
		a.manifest.AddEntry(entry)
	}
	return nil
}

// walkFollowingSymlinks enumerates every regular file under root,
// following symlinked directories (filepath.Walk does not by default),
// pairing each with its logical path relative to root (optionally nested
// under namePrefix).
func walkFollowingSymlinks(root, namePrefix string) ([]logicalPhysicalPair, error) {
	var pairs []logicalPhysicalPair
	visited := make(map[string]bool)

	var walk func(dir string) error
	walk = func(dir string) error {
		real, err := filepath.EvalSymlinks(dir)
		if err != nil {
			return err
		}
		if visited[real] {
			return nil
		}
		visited[real] = true

		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			full := filepath.Join(dir, entry.Name())
			info, err := os.Stat(full) // follows symlinks
			if err != nil {
				return err
			}
			if info.IsDir() {
				if err := walk(full); err != nil {
					return err
				}
				continue
			}
			rel, err := filepath.Rel(root, full)
			if err != nil {
				return err
			}
			logical := filepath.ToSlash(rel)
			if namePrefix != "" {
				logical = filepath.ToSlash(filepath.Join(namePrefix, rel))
			}
			pairs = append(pairs, logicalPhysicalPair{logical: logical, physical: full})
		}
		return nil
	}

	if err := walk(root); err != nil {
		return nil, err
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].logical < pairs[j].logical })
	return pairs, nil
}

// hashFile returns the base64 MD5 of path, consulting a.digestCache (if
// any) first.
func (a *Artifact) hashFile(path string, info os.FileInfo) (string, error) {
	if a.digestCache != nil {
		if digest, ok := a.digestCache.Lookup(path, info.Size(), info.ModTime()); ok {
			return digest, nil
		}
	}
	digest, err := hashutil.FileMD5Base64(path)
	if err != nil {
		return "", err
	}
	if a.digestCache != nil {
		a.digestCache.Store(path, info.Size(), info.ModTime(), digest)
	}
	return digest, nil
}

// AddReference parses uri, requires a non-empty scheme, delegates to the
// storage policy's dispatcher, and inserts every entry it returns.
// checksum controls whether the handler reads bytes to compute a real
// digest (checksum=true) or records a single opaque entry whose digest is
// the URI itself (checksum=false) — the latter is how a caller opts out
// of checksumming a reference they know won't change or can't afford to
// scan, e.g. a large external prefix.
func (a *Artifact) AddReference(ctx context.Context, uri, name string, checksum bool, maxObjects int) error {
	a.mu.Lock()
	if err := a.ensureCanAdd(); err != nil {
		a.mu.Unlock()
		return err
	}
	a.mu.Unlock()

	parsed, err := url.Parse(uri)
	if err != nil || parsed.Scheme == "" {
		return &ValidationError{Path: uri, Message: "references must be URIs; to reference a local file use file://"}
	}
	if name == "" {
		if a.policy.Dispatcher.UsesDefaultHandler(uri) {
			return &ValidationError{Path: uri, Message: "name is required for references with an unrecognized scheme"}
		}
		name = strings.TrimPrefix(path.Base(parsed.Path), "/")
	}
	if maxObjects <= 0 {
		maxObjects = 10000
	}

	objs, err := a.policy.Dispatcher.StorePath(ctx, uri, name, checksum, maxObjects)
	if err != nil {
		return translateRefstoreErr(uri, maxObjects, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, obj := range objs {
		ref := obj.URI
		entry, err := manifest.NewEntry(obj.Path, &ref, obj.Digest, sizeOf(obj.Size), obj.Extra)
		if err != nil {
			return err
		}
		if _, exists := a.manifest.GetEntry(obj.Path); exists {
			return &ValidationError{Path: obj.Path, Message: "cannot add the same path twice"}
		}
		a.manifest.AddEntry(entry)
	}
	return nil
}

// Finalize freezes the artifact: folds in any new_file-created files, then
// serializes the manifest, computes the server manifest and digest, and —
// if new files were staged — adopts the staging directory into the cache.
// It is idempotent: a second call returns the same file-entries set
// without re-adding anything.
func (a *Artifact) Finalize(ctx context.Context) ([]FileEntry, error) {
	a.mu.Lock()
	if a.state == stateFinalized {
		entries := a.fileEntries
		a.mu.Unlock()
		return entries, nil
	}
	addedNew := a.addedNew
	stagingDir := a.stagingDir
	a.mu.Unlock()

	// add_dir calls ensureCanAdd, so the finalized flag must flip only
	// after this recursive fold-in completes, matching the fix called for
	// in the design notes: otherwise add_dir here would reject itself.
	if addedNew {
		if err := a.AddDir(ctx, stagingDir, ""); err != nil {
			return nil, fmt.Errorf("artifact: finalize: fold in staged files: %w", err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = stateFinalized

	manifestJSON, err := a.manifest.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("artifact: finalize: marshal manifest: %w", err)
	}
	manifestDigest := hashutil.StringMD5Base64(string(manifestJSON))

	fileEntries := []FileEntry{{Path: "wandb_manifest.json", MD5Base64: manifestDigest}}
	for _, e := range a.manifest.Entries() {
		if e.Ref != nil || e.LocalPath() == "" {
			continue
		}
		fileEntries = append(fileEntries, FileEntry{Path: e.Path, MD5Base64: e.Digest, LocalPath: e.LocalPath()})
	}
	a.fileEntries = fileEntries
	a.serverMF = manifest.BuildServerManifest(a.manifest, manifestDigest, a.newFilePaths)
	a.digest = a.manifest.Digest()

	if addedNew && a.cache != nil {
		finalDir, err := a.cache.Adopt(stagingDir, a.Type, a.digest)
		if err != nil {
			return nil, fmt.Errorf("artifact: finalize: adopt staging dir: %w", err)
		}
		for _, e := range a.manifest.Entries() {
			local := e.LocalPath()
			if local == "" {
				continue
			}
			if rel, err := filepath.Rel(stagingDir, local); err == nil && !isParentEscape(rel) {
				e.SetLocalPath(filepath.Join(finalDir, rel))
			}
		}
		for i := range a.fileEntries {
			if rel, err := filepath.Rel(stagingDir, a.fileEntries[i].LocalPath); err == nil && !isParentEscape(rel) && a.fileEntries[i].LocalPath != "" {
				a.fileEntries[i].LocalPath = filepath.Join(finalDir, rel)
			}
		}
	}

	return a.fileEntries, nil
}

func isParentEscape(rel string) bool {
	return len(rel) >= 2 && rel[:2] == ".."
}

func sizeOf(n int64) *int64 {
	v := n
	return &v
}

func translateRefstoreErr(uri string, maxObjects int, err error) error {
	switch {
	case errors.Is(err, refstore.ErrTooManyObjects):
		return &ObjectLimitExceededError{Path: uri, Limit: maxObjects}
	case errors.Is(err, refstore.ErrNotFound):
		return &NotFoundError{Path: uri, Cause: err}
	case errors.Is(err, refstore.ErrUnsupportedScheme):
		return &ConfigurationError{Message: fmt.Sprintf("unsupported scheme for %s", uri), Cause: err}
	case errors.Is(err, refstore.ErrNameRequired):
		return &ValidationError{Path: uri, Message: "name is required for references with an unrecognized scheme"}
	default:
		return &TransportError{Path: uri, Cause: err}
	}
}
