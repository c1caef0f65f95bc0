// Package cache keeps recently read folder index snapshots in Redis so that
// searches across many folders avoid re-reading every tree from Postgres.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 10 * time.Minute

// Snapshot is the result of a cache lookup. Generation must be handed back
// to Store so that a tree read before an invalidation is never served after it.
type Snapshot struct {
	Tree       string
	Hit        bool
	Generation int64
}

// RedisCache stores folder trees under generation-scoped keys.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisCacheWithClient(client, ttl), nil
}

func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, prefix: "smartnotes:folder:", ttl: ttl}
}

func (c *RedisCache) generationKey(folderID int64) string {
	return c.prefix + strconv.FormatInt(folderID, 10) + ":gen"
}

func (c *RedisCache) treeKey(folderID, generation int64) string {
	return c.prefix + strconv.FormatInt(folderID, 10) + ":tree:" + strconv.FormatInt(generation, 10)
}

func (c *RedisCache) Lookup(ctx context.Context, folderID int64) (Snapshot, error) {
	generation, err := c.client.Get(ctx, c.generationKey(folderID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Snapshot{}, fmt.Errorf("read generation: %w", err)
	}

	tree, err := c.client.Get(ctx, c.treeKey(folderID, generation)).Result()
	if errors.Is(err, redis.Nil) {
		return Snapshot{Generation: generation}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	return Snapshot{Tree: tree, Hit: true, Generation: generation}, nil
}

func (c *RedisCache) Store(ctx context.Context, folderID, generation int64, tree string) error {
	if err := c.client.Set(ctx, c.treeKey(folderID, generation), tree, c.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Invalidate bumps the folder's generation, orphaning every cached tree.
// Orphans expire with the TTL.
func (c *RedisCache) Invalidate(ctx context.Context, folderID int64) error {
	if err := c.client.Incr(ctx, c.generationKey(folderID)).Err(); err != nil {
		return fmt.Errorf("invalidate snapshot: %w", err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Nop is used when no Redis is configured; every lookup misses.
type Nop struct{}

func (Nop) Lookup(context.Context, int64) (Snapshot, error)   { return Snapshot{}, nil }
func (Nop) Store(context.Context, int64, int64, string) error { return nil }
func (Nop) Invalidate(context.Context, int64) error           { return nil }
