package steps

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/runlet/engine/common/redis"
)

// MemoryCache keeps step results in process memory. Used by tests and by
// executions that only need replay within one process lifetime.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryCache creates an empty in-memory step cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string][]byte)}
}

func (c *MemoryCache) Get(ctx context.Context, executionID, name string) ([]byte, bool, error) {
	c.mu.RLock()
	v, ok := c.entries[executionID+"\x00"+name]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (c *MemoryCache) Put(ctx context.Context, executionID, name string, value []byte) error {
	buf := make([]byte, len(value))
	copy(buf, value)
	c.mu.Lock()
	c.entries[executionID+"\x00"+name] = buf
	c.mu.Unlock()
	return nil
}

// Len returns the number of recorded steps across all executions.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// RedisCache persists step results in Redis so replay survives process
// restarts. Step names are hashed into the key to keep key length bounded.
type RedisCache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisCache creates a Redis-backed step cache. A zero ttl keeps entries
// until explicitly deleted.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{redis: client, ttl: ttl}
}

func stepKey(executionID, name string) string {
	sum := sha1.Sum([]byte(name))
	return fmt.Sprintf("steps:%s:%s", executionID, hex.EncodeToString(sum[:]))
}

func (c *RedisCache) Get(ctx context.Context, executionID, name string) ([]byte, bool, error) {
	val, err := c.redis.Get(ctx, stepKey(executionID, name))
	if err != nil {
		if errors.Is(err, redis.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(val), true, nil
}

func (c *RedisCache) Put(ctx context.Context, executionID, name string, value []byte) error {
	return c.redis.Set(ctx, stepKey(executionID, name), string(value), c.ttl)
}
