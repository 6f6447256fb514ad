package cache

import (
	"context"
	"time"

	"datalake/config"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Entry is a cached object body with the head fields needed to serve it.
type Entry struct {
	Body         []byte    `json:"body"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type"`
	ETag         string    `json:"etag"`
	LastModified time.Time `json:"last_modified"`
	CacheControl string    `json:"cache_control"`
}

// Cache is a read-through cache of small blob bodies keyed by content
// hash. It is an optimization only and may drop entries at any time.
type Cache interface {
	// Enabled reports whether a body of size bytes may be cached.
	Enabled(size int64) bool
	Get(ctx context.Context, hash string) (*Entry, bool)
	Set(ctx context.Context, hash string, entry *Entry)
	Delete(ctx context.Context, hash string)
}

// New picks the cache strategy once from configuration.
func New(cfg config.CacheConfig, client *redis.Client, log *zap.Logger) (Cache, error) {
	if !cfg.Enabled || cfg.BlobCount <= 0 || cfg.BlobSize <= 0 {
		log.Info("blob cache disabled")
		return NoopCache{}, nil
	}
	if cfg.Backend == "redis" && client != nil {
		log.Info("blob cache on redis", zap.Int64("blob_size", cfg.BlobSize), zap.Duration("ttl", cfg.TTL))
		return NewRedisCache(client, cfg.BlobSize, cfg.TTL, log), nil
	}
	log.Info("blob cache in memory", zap.Int("blob_count", cfg.BlobCount), zap.Int64("blob_size", cfg.BlobSize))
	return NewMemoryCache(cfg.BlobCount, cfg.BlobSize)
}

// NoopCache never stores anything.
type NoopCache struct{}

func (NoopCache) Enabled(int64) bool {
	return false
}

func (NoopCache) Get(context.Context, string) (*Entry, bool) {
	return nil, false
}

func (NoopCache) Set(context.Context, string, *Entry) {}

func (NoopCache) Delete(context.Context, string) {}

// MemoryCache is a process-local LRU bounded by entry count.
type MemoryCache struct {
	entries *lru.Cache[string, *Entry]
	maxSize int64
}

// NewMemoryCache keeps at most count entries of at most maxSize bytes.
func NewMemoryCache(count int, maxSize int64) (*MemoryCache, error) {
	entries, err := lru.New[string, *Entry](count)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{entries: entries, maxSize: maxSize}, nil
}

func (c *MemoryCache) Enabled(size int64) bool {
	return size <= c.maxSize
}

func (c *MemoryCache) Get(_ context.Context, hash string) (*Entry, bool) {
	return c.entries.Get(hash)
}

func (c *MemoryCache) Set(_ context.Context, hash string, entry *Entry) {
	c.entries.Add(hash, entry)
}

func (c *MemoryCache) Delete(_ context.Context, hash string) {
	c.entries.Remove(hash)
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}
