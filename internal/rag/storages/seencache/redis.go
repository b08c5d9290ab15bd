package seencache

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"docsearch/internal/rag/interfaces"
)

// setKey holds the ids known to have reached the index. A plain set rather
// than per-id keys keeps the membership probe to a single round trip.
const setKey = "docsearch:indexed_ids"

// RedisCache is a Redis-backed SeenCache. It is strictly an accelerator:
// a miss here only means the index must be asked, never that the id is new.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing Redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Contains returns the subset of ids present in the cache.
func (c *RedisCache) Contains(ctx context.Context, ids []string) (map[string]struct{}, error) {
	present := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return present, nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	hits, err := c.client.SMIsMember(ctx, setKey, members...).Result()
	if err != nil {
		return nil, fmt.Errorf("seen-cache lookup failed: %w", err)
	}
	for i, hit := range hits {
		if hit {
			present[ids[i]] = struct{}{}
		}
	}
	return present, nil
}

// Add records ids as indexed.
func (c *RedisCache) Add(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := c.client.SAdd(ctx, setKey, members...).Err(); err != nil {
		return fmt.Errorf("seen-cache add failed: %w", err)
	}
	return nil
}

var _ interfaces.SeenCache = (*RedisCache)(nil)
