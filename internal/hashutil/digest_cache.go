package hashutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DigestCache memoizes the base64 MD5 of a local file by (path, size,
// modTime), so repeated add_dir calls over an unchanged tree skip
// re-hashing bytes they've already seen. A cache miss, a disabled cache,
// or a stale entry always falls through to a real MD5 computation — the
// cache can never change a computed digest.
type DigestCache interface {
	Lookup(path string, size int64, modTime time.Time) (digest string, ok bool)
	Store(path string, size int64, modTime time.Time, digest string)
}

type cacheKey struct {
	path string
	size int64
	mod  int64
}

// MemoryDigestCache is the default DigestCache: an in-process map, always
// available, with no configuration required.
type MemoryDigestCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]string
}

// NewMemoryDigestCache returns an empty in-memory digest cache.
func NewMemoryDigestCache() *MemoryDigestCache {
	return &MemoryDigestCache{entries: make(map[cacheKey]string)}
}

func (c *MemoryDigestCache) Lookup(path string, size int64, modTime time.Time) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	digest, ok := c.entries[cacheKey{path, size, modTime.UnixNano()}]
	return digest, ok
}

func (c *MemoryDigestCache) Store(path string, size int64, modTime time.Time, digest string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{path, size, modTime.UnixNano()}] = digest
}

// RedisDigestCache is a Redis-backed DigestCache for reuse across
// processes, grounded in the caching layer pattern of the teacher's own
// Redis client wrapper. Keys are namespaced under "artifactcore:digest:"
// and carry a TTL so a long-dead path eventually falls out of the cache
// instead of accumulating forever.
type RedisDigestCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDigestCache connects to the given Redis URL (e.g.
// "redis://localhost:6379/0") and returns a DigestCache backed by it.
func NewRedisDigestCache(url string, ttl time.Duration) (*RedisDigestCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("hashutil: parse redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDigestCache{client: redis.NewClient(opts), ttl: ttl}, nil
}

func (c *RedisDigestCache) key(path string, size int64, modTime time.Time) string {
	return fmt.Sprintf("artifactcore:digest:%s:%d:%d", path, size, modTime.UnixNano())
}

func (c *RedisDigestCache) Lookup(path string, size int64, modTime time.Time) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	digest, err := c.client.Get(ctx, c.key(path, size, modTime)).Result()
	if err != nil {
		// redis.Nil on miss, any other error is treated the same way:
		// fall through to a real hash rather than fail the caller.
		return "", false
	}
	return digest, true
}

func (c *RedisDigestCache) Store(path string, size int64, modTime time.Time, digest string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.client.Set(ctx, c.key(path, size, modTime), digest, c.ttl)
}

// Close releases the underlying Redis connection pool.
func (c *RedisDigestCache) Close() error {
	return c.client.Close()
}
