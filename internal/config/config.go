package config

import "strconv"

// Config holds the settings the artifact engine reads from the process
// environment. None of these are required for the core library to function
// — they only matter to cmd/artifactctl and to handlers that need cloud
// credentials or an optional digest cache.
type Config struct {
	// AWSRegion and AWSS3EndpointURL configure the S3 scheme handler.
	AWSRegion        string
	AWSS3EndpointURL string

	// AzureStorageAccount and AzureStorageKey, when both set, make the
	// Azure Blob handler authenticate with a connection string instead of
	// azidentity.NewDefaultAzureCredential.
	AzureStorageAccount string
	AzureStorageKey     string

	// WandbBaseURL and WandbAPIKey configure the managed-store HTTP
	// client's download endpoint and basic-auth credentials. WandbEntity
	// names the entity namespace managed-store file URLs are built under.
	WandbBaseURL string
	WandbAPIKey  string
	WandbEntity  string

	// ArtifactCacheDir is the root of the content-addressed artifacts
	// cache (internal/cache). Defaults to a temp-dir subfolder.
	ArtifactCacheDir string

	// RedisURL enables the optional Redis-backed digest cache
	// (internal/hashutil) used to memoize per-file MD5s across add_dir
	// calls. Empty disables it in favor of the in-memory cache.
	RedisURL string

	// HashWorkers bounds the add_dir parallel-hashing fan-out. Defaults
	// to 8, per spec.
	HashWorkers int

	// MaxObjects is the default cap on objects enumerated by a directory
	// or prefix reference before ObjectLimitExceeded is returned.
	MaxObjects int
}

// Load reads configuration from the environment, applying the same
// .env-discovery behavior as the rest of the stack.
func Load() *Config {
	LoadEnvOnce()

	hashWorkers, _ := strconv.Atoi(GetEnvWithFallback("ARTIFACT_HASH_WORKERS", "8"))
	maxObjects, _ := strconv.Atoi(GetEnvWithFallback("ARTIFACT_MAX_OBJECTS", "10000"))

	return &Config{
		AWSRegion:           GetEnvWithFallback("AWS_REGION", ""),
		AWSS3EndpointURL:    GetEnvWithFallback("AWS_S3_ENDPOINT_URL", ""),
		AzureStorageAccount: GetEnvWithFallback("AZURE_STORAGE_ACCOUNT", ""),
		AzureStorageKey:     GetEnvWithFallback("AZURE_STORAGE_KEY", ""),
		WandbBaseURL:        GetEnvWithFallback("WANDB_BASE_URL", "https://api.wandb.ai"),
		WandbAPIKey:         GetEnvWithFallback("WANDB_API_KEY", ""),
		WandbEntity:         GetEnvWithFallback("WANDB_ENTITY", ""),
		ArtifactCacheDir:    GetEnvWithFallback("ARTIFACT_CACHE_DIR", ""),
		RedisURL:            GetEnvWithFallback("REDIS_URL", ""),
		HashWorkers:         hashWorkers,
		MaxObjects:          maxObjects,
	}
}
