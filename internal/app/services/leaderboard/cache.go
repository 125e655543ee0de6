package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultCacheKey is the redis key holding the serialized leaderboard.
const DefaultCacheKey = "cosmic_miner:leaderboard"

// RedisCache keeps the leaderboard in redis so every replica serves the same
// snapshot.
type RedisCache struct {
	client redis.UniversalClient
	key    string
}

// NewRedisCache wraps a redis client.
func NewRedisCache(client redis.UniversalClient, key string) *RedisCache {
	if key == "" {
		key = DefaultCacheKey
	}
	return &RedisCache{client: client, key: key}
}

func (c *RedisCache) Get(ctx context.Context) ([]Entry, bool, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", c.key, err)
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, fmt.Errorf("decode leaderboard: %w", err)
	}
	return entries, true, nil
}

func (c *RedisCache) Set(ctx context.Context, entries []Entry, ttl time.Duration) error {
	raw, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode leaderboard: %w", err)
	}
	if err := c.client.Set(ctx, c.key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", c.key, err)
	}
	return nil
}

// MemoryCache is a process-local cache used when redis is not configured.
type MemoryCache struct {
	mu      sync.RWMutex
	entries []Entry
	expires time.Time
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context) ([]Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entries == nil || !c.now().Before(c.expires) {
		return nil, false, nil
	}
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out, true, nil
}

func (c *MemoryCache) Set(_ context.Context, entries []Entry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make([]Entry, len(entries))
	copy(c.entries, entries)
	c.expires = c.now().Add(ttl)
	return nil
}
