package sockpuppet

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDistCache mirrors puppet entity lookups across instances sharing one
// identity-store client, the same distributed-cache pattern as
// internal/proxypool/distcache.go (SPEC_FULL §2 component P).
type RedisDistCache struct {
	client *redis.Client
}

// NewRedisDistCache builds a distributed cache client against addr.
func NewRedisDistCache(addr string) *RedisDistCache {
	return &RedisDistCache{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (c *RedisDistCache) key(id string) string {
	return "corvid:sockpuppet:entity:" + id
}

// Get returns a cached entity if present and not expired.
func (c *RedisDistCache) Get(id string) (*Entity, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, err := c.client.Get(ctx, c.key(id)).Result()
	if err != nil {
		return nil, false
	}
	var e Entity
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, false
	}
	return &e, true
}

// Set stores an entity with a TTL.
func (c *RedisDistCache) Set(id string, e *Entity, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	buf, err := json.Marshal(e)
	if err != nil {
		return
	}
	c.client.Set(ctx, c.key(id), buf, ttl)
}

// Close releases the underlying connection pool.
func (c *RedisDistCache) Close() error {
	return c.client.Close()
}
