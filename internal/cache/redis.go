package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "datalake:blob:"

// RedisCache shares cached bodies between instances. Eviction is left to
// the TTL and the server's maxmemory policy.
type RedisCache struct {
	client  *redis.Client
	maxSize int64
	ttl     time.Duration
	log     *zap.Logger
}

// NewRedisCache caches bodies of at most maxSize bytes for ttl.
func NewRedisCache(client *redis.Client, maxSize int64, ttl time.Duration, log *zap.Logger) *RedisCache {
	return &RedisCache{
		client:  client,
		maxSize: maxSize,
		ttl:     ttl,
		log:     log.Named("cache"),
	}
}

func redisKey(hash string) string {
	return redisKeyPrefix + hash
}

func (c *RedisCache) Enabled(size int64) bool {
	return size <= c.maxSize
}

// Get treats any Redis failure as a miss.
func (c *RedisCache) Get(ctx context.Context, hash string) (*Entry, bool) {
	val, err := c.client.Get(ctx, redisKey(hash)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("cache get failed", zap.String("hash", hash), zap.Error(err))
		}
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(val, &entry); err != nil {
		c.log.Warn("cache entry corrupt", zap.String("hash", hash), zap.Error(err))
		return nil, false
	}
	return &entry, true
}

func (c *RedisCache) Set(ctx context.Context, hash string, entry *Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		c.log.Warn("cache encode failed", zap.String("hash", hash), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, redisKey(hash), data, c.ttl).Err(); err != nil {
		c.log.Warn("cache set failed", zap.String("hash", hash), zap.Error(err))
	}
}

func (c *RedisCache) Delete(ctx context.Context, hash string) {
	if err := c.client.Del(ctx, redisKey(hash)).Err(); err != nil {
		c.log.Warn("cache delete failed", zap.String("hash", hash), zap.Error(err))
	}
}
