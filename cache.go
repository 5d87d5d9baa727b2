package main

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TieredCache is a best-effort two-tier cache: Redis first for sharing
// across processes, an in-memory TTL map as the always-available second
// tier. Reads try tier 1 then tier 2; writes go to both. When Redis is
// unconfigured or unreachable the cache degrades to memory-only. State is
// non-transactional and may be lost on restart.
type TieredCache struct {
	redis *redis.Client // nil when the Redis tier is disabled

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewTieredCache connects the Redis tier when a URL is configured. A
// failed connection is logged and the cache runs memory-only rather than
// failing startup.
func NewTieredCache(redisURL string) *TieredCache {
	c := &TieredCache{
		entries: make(map[string]memoryEntry),
	}

	if redisURL == "" {
		log.Println("Redis not configured, cache running memory-only")
		return c
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("Invalid REDIS_URL %q: %v, cache running memory-only", redisURL, err)
		return c
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("Redis connection failed: %v, cache running memory-only", err)
		client.Close()
		return c
	}

	log.Printf("Redis connected: %s", redisURL)
	c.redis = client
	return c
}

// Get reads the key from Redis first, falling back to the memory tier.
// Redis errors are logged and degraded, never surfaced.
func (c *TieredCache) Get(ctx context.Context, key string) (string, bool) {
	if c.redis != nil {
		value, err := c.redis.Get(ctx, key).Result()
		if err == nil {
			return value, true
		}
		if err != redis.Nil {
			log.Printf("Redis GET failed for %s: %v", key, err)
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.value, true
}

// Set writes the key to both tiers with the given TTL.
func (c *TieredCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if c.redis != nil {
		if err := c.redis.Set(ctx, key, value, ttl).Err(); err != nil {
			log.Printf("Redis SET failed for %s: %v", key, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
	c.cleanupLocked()
}

// Delete removes the key from both tiers.
func (c *TieredCache) Delete(ctx context.Context, key string) {
	if c.redis != nil {
		if err := c.redis.Del(ctx, key).Err(); err != nil {
			log.Printf("Redis DELETE failed for %s: %v", key, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// cleanupLocked drops expired memory entries; callers hold c.mu.
func (c *TieredCache) cleanupLocked() {
	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// CacheStatus is the observable snapshot for health reporting.
type CacheStatus struct {
	RedisEnabled  bool `json:"redis_enabled"`
	MemoryEntries int  `json:"memory_entries"`
}

// Status returns the cache's current snapshot.
func (c *TieredCache) Status() CacheStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CacheStatus{
		RedisEnabled:  c.redis != nil,
		MemoryEntries: len(c.entries),
	}
}

// Close releases the Redis connection when the tier is enabled.
func (c *TieredCache) Close() {
	if c.redis != nil {
		c.redis.Close()
	}
}
