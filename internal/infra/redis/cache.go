package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// QueryCache stores serialized query results under a key prefix.
type QueryCache struct {
	client *redis.Client
	prefix string
}

func NewQueryCache(client *redis.Client, prefix string) (*QueryCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "querycache"
	}
	return &QueryCache{client: client, prefix: prefix}, nil
}

func (c *QueryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query cache get failed: %w", err)
	}
	return value, true, nil
}

// Set is a no-op for a non-positive ttl.
func (c *QueryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, c.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("query cache set failed: %w", err)
	}
	return nil
}

func (c *QueryCache) key(key string) string {
	return c.prefix + ":" + key
}
