// Package cache remembers keys for a bounded time. The inbound webhook
// endpoint uses it to drop callbacks a sender delivers more than once.
//
// Two backends are provided:
//   - LocalCache wraps github.com/patrickmn/go-cache and is per process
//   - RedisCache uses SET NX on go-redis and is shared across instances
package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	gocache "github.com/patrickmn/go-cache"
)

// Cache stores keys that expire after a TTL.
type Cache interface {
	// Add stores key unless it is already present and reports whether it
	// was stored.
	Add(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// LocalCache wraps patrickmn/go-cache for in-memory keys
type LocalCache struct {
	cache *gocache.Cache
}

// NewLocalCache creates a local cache. Expired keys are purged every
// cleanupInterval.
func NewLocalCache(defaultTTL, cleanupInterval time.Duration) *LocalCache {
	return &LocalCache{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Add relies on go-cache's Add, which fails atomically when the key exists.
func (l *LocalCache) Add(_ context.Context, key string, ttl time.Duration) (bool, error) {
	return l.cache.Add(key, struct{}{}, ttl) == nil, nil
}

func (l *LocalCache) Delete(_ context.Context, key string) error {
	l.cache.Delete(key)
	return nil
}

// Len is the number of keys held, including expired ones not yet purged.
func (l *LocalCache) Len() int {
	return l.cache.ItemCount()
}

// RedisCache keeps keys in Redis under a prefix
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisCache(client *redis.Client, keyPrefix string) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (r *RedisCache) Add(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.keyPrefix+key, 1, ttl).Result()
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.keyPrefix+key).Err()
}
