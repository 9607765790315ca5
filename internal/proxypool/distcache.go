package proxypool

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDistCache mirrors rate-limit request timestamps across instances
// sharing one proxy pool (SPEC_FULL §2 component P, §4.D). The Pool only
// writes to it (one timestamp per recorded success); rate limiting always
// uses the Pool's own in-memory window, so a Redis outage costs nothing but
// a logged warning.
type RedisDistCache struct {
	client *redis.Client
}

// NewRedisDistCache builds a distributed cache client. It does not ping;
// connectivity issues surface as per-call errors which the Pool logs and
// ignores.
func NewRedisDistCache(addr string) *RedisDistCache {
	return &RedisDistCache{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (c *RedisDistCache) key(proxyID string) string {
	return "corvid:proxypool:requests:" + proxyID
}

// RecordRequest appends a timestamp to the proxy's sorted set and trims
// anything older than one minute.
func (c *RedisDistCache) RecordRequest(proxyID string, at time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := c.key(proxyID)
	score := float64(at.UnixNano())
	member := fmt.Sprintf("%d", at.UnixNano())
	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", at.Add(-time.Minute).UnixNano()))
	pipe.Expire(ctx, key, 2*time.Minute)
	_, err := pipe.Exec(ctx)
	return err
}

// CountRecentRequests counts entries within window of now.
func (c *RedisDistCache) CountRecentRequests(proxyID string, window time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	now := time.Now()
	key := c.key(proxyID)
	n, err := c.client.ZCount(ctx, key,
		fmt.Sprintf("%d", now.Add(-window).UnixNano()),
		fmt.Sprintf("%d", now.UnixNano()),
	).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close releases the underlying connection pool.
func (c *RedisDistCache) Close() error {
	return c.client.Close()
}
