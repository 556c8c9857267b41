// Command artifactctl builds a single artifact from local files and
// references, and prints its finalized manifest digest. It exists for
// local smoke-testing of the authoring engine, not as a full client for
// the managed store.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"

	"github.com/tracklab/artifactcore/internal/artifact"
	"github.com/tracklab/artifactcore/internal/cache"
	"github.com/tracklab/artifactcore/internal/config"
	"github.com/tracklab/artifactcore/internal/hashutil"
	"github.com/tracklab/artifactcore/internal/logger"
	"github.com/tracklab/artifactcore/internal/refstore"
)

func main() {
	var (
		artifactType = flag.String("type", "dataset", "artifact type")
		name         = flag.String("name", "", "artifact name")
		files        = flag.String("files", "", "comma-separated local_path[:logical_name] pairs to add with add_file")
		dirs         = flag.String("dirs", "", "comma-separated local_path[:logical_name] pairs to add with add_dir")
		refs         = flag.String("refs", "", "comma-separated uri[:logical_name] pairs to add with add_reference")
		refsChecksum = flag.Bool("refs-checksum", true, "checksum references added via -refs instead of recording an opaque digest")
		uploadStaged = flag.Bool("upload-staged", false, "after finalize, call store_file for every finalized file entry that has local bytes")
	)
	flag.Parse()

	if *name == "" {
		log.Fatal("artifactctl: -name is required")
	}

	cfg := config.Load()
	lg := logger.New()

	dispatcher, err := buildDispatcher(cfg, lg)
	if err != nil {
		lg.Error("build storage dispatcher", err)
		os.Exit(1)
	}
	policy := refstore.NewPolicyFromSettings(dispatcher, cliSettings{cfg}, lg)

	var digestCache hashutil.DigestCache
	if cfg.RedisURL != "" {
		redisCache, err := hashutil.NewRedisDigestCache(cfg.RedisURL, 0)
		if err != nil {
			lg.Error("connect digest cache", err)
			os.Exit(1)
		}
		digestCache = redisCache
	} else {
		digestCache = hashutil.NewMemoryDigestCache()
	}

	art, err := artifact.New(*artifactType, *name, "", nil, cache.New(cfg.ArtifactCacheDir), policy,
		artifact.WithHashWorkers(cfg.HashWorkers),
		artifact.WithDigestCache(digestCache))
	if err != nil {
		lg.Error("create artifact", err)
		os.Exit(1)
	}

	ctx := context.Background()
	for _, pair := range splitPairs(*files) {
		if err := art.AddFile(pair.local, pair.name); err != nil {
			lg.Error("add_file "+pair.local, err)
			os.Exit(1)
		}
	}
	for _, pair := range splitPairs(*dirs) {
		if err := art.AddDir(ctx, pair.local, pair.name); err != nil {
			lg.Error("add_dir "+pair.local, err)
			os.Exit(1)
		}
	}
	for _, pair := range splitPairs(*refs) {
		if err := art.AddReference(ctx, pair.local, pair.name, *refsChecksum, cfg.MaxObjects); err != nil {
			lg.Error("add_reference "+pair.local, err)
			os.Exit(1)
		}
	}

	fileEntries, err := art.Finalize(ctx)
	if err != nil {
		lg.Error("finalize artifact", err)
		os.Exit(1)
	}
	digest, err := art.Digest()
	if err != nil {
		lg.Error("finalize artifact", err)
		os.Exit(1)
	}

	if *uploadStaged {
		preparer := &logPreparer{log: lg}
		for _, fe := range fileEntries {
			if fe.LocalPath == "" {
				continue
			}
			exists, err := policy.StoreFile(ctx, digest, refstore.UploadEntry{
				Name:      fe.Path,
				MD5Base64: fe.MD5Base64,
				LocalPath: fe.LocalPath,
			}, preparer)
			if err != nil {
				lg.Error("store_file "+fe.Path, err)
				os.Exit(1)
			}
			if exists {
				lg.Info("store_file skipped, already present", fe.Path)
			}
		}
	}

	m, err := art.Manifest()
	if err != nil {
		lg.Error("read manifest", err)
		os.Exit(1)
	}
	manifestJSON, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		lg.Error("render manifest", err)
		os.Exit(1)
	}

	lg.Info("finalized artifact", *artifactType, *name, "digest", digest)
	os.Stdout.Write(manifestJSON)
	os.Stdout.Write([]byte("\n"))
}

// buildDispatcher wires the local, S3, and GCS handlers (the original
// scheme set) plus the Azure handler when account credentials are
// present, falling back to the passthrough tracking handler for anything
// else.
func buildDispatcher(cfg *config.Config, log *logger.Logger) (*refstore.MultiHandler, error) {
	ctx := context.Background()

	local := refstore.NewLocalFileHandler()

	s3Handler, err := refstore.NewS3Handler(ctx, refstore.S3Config{
		Region:   cfg.AWSRegion,
		Endpoint: cfg.AWSS3EndpointURL,
	})
	if err != nil {
		return nil, err
	}

	gcsHandler, err := refstore.NewGCSHandler(ctx, refstore.GCSConfig{})
	if err != nil {
		return nil, err
	}

	m := refstore.NewDefaultMultiHandler(local, s3Handler, gcsHandler, refstore.NewTrackingHandler(log))

	if cfg.AzureStorageAccount != "" {
		azureHandler, err := refstore.NewAzureHandler(refstore.AzureConfig{
			Account: cfg.AzureStorageAccount,
			Key:     cfg.AzureStorageKey,
		})
		if err != nil {
			return nil, err
		}
		m.RegisterHandler(azureHandler)
	}

	return m, nil
}

// cliSettings is a minimal refstore.APISettings stand-in backed by the
// process config — enough to drive NewPolicyFromSettings for local
// smoke testing, not a full client for the managed store's auth flow.
type cliSettings struct {
	cfg *config.Config
}

func (s cliSettings) Entity() string  { return s.cfg.WandbEntity }
func (s cliSettings) BaseURL() string { return s.cfg.WandbBaseURL }
func (s cliSettings) APIKey() string  { return s.cfg.WandbAPIKey }

// logPreparer is a minimal refstore.UploadPreparer stand-in: it always
// returns an empty PreparedUpload, which Policy.StoreFile treats as "the
// managed store already has these bytes" and skips the upload, logging
// each decision. A real deployment's preparer RPC would consult the
// managed store instead of assuming every file is already present.
type logPreparer struct {
	log *logger.Logger
}

func (p *logPreparer) PrepareUpload(ctx context.Context, artifactID, name, md5 string) (refstore.PreparedUpload, error) {
	p.log.Debug("prepare_upload", "artifact", artifactID, "name", name, "md5", md5)
	return refstore.PreparedUpload{}, nil
}

type localNamePair struct {
	local string
	name  string
}

// splitPairs parses "a:b,c:d" into [{a,b},{c,d}], or "a,c" into
// [{a,""},{c,""}] when no logical name override is given. A colon that
// begins "://" is part of a URI, not a name separator.
func splitPairs(s string) []localNamePair {
	if s == "" {
		return nil
	}
	var out []localNamePair
	for _, item := range strings.Split(s, ",") {
		if item == "" {
			continue
		}
		if idx := strings.LastIndex(item, ":"); idx >= 0 && !strings.HasPrefix(item[idx+1:], "//") {
			out = append(out, localNamePair{local: item[:idx], name: item[idx+1:]})
		} else {
			out = append(out, localNamePair{local: item})
		}
	}
	return out
}
