// Package evalcache memoizes run summaries in Redis so repeated policy
// evaluations of the same (scenario, seed) pair skip the simulation entirely.
// Runs are deterministic, so a cached summary is exact, not approximate.
package evalcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rtgsim/internal/domain"
	"rtgsim/pkg/errors"
)

type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(addr, password string, db int, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, errors.Wrap(err, "evalcache ping failed")
	}

	return &Cache{client: client, ttl: ttl}, nil
}

// Client exposes the underlying connection for other Redis-backed pieces,
// such as the gateway rate limiter.
func (c *Cache) Client() *redis.Client {
	return c.client
}

func runKey(scenarioHash string, seed int64) string {
	return fmt.Sprintf("rtgsim:run:%s:%d", scenarioHash, seed)
}

// Get returns the cached summary for a scenario/seed pair, or (nil, nil) on a
// cache miss.
func (c *Cache) Get(ctx context.Context, scenarioHash string, seed int64) (*domain.RunSummary, error) {
	data, err := c.client.Get(ctx, runKey(scenarioHash, seed)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "evalcache get failed")
	}

	var summary domain.RunSummary
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		return nil, errors.Wrap(err, "evalcache decode failed")
	}
	return &summary, nil
}

func (c *Cache) Put(ctx context.Context, scenarioHash string, seed int64, summary domain.RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return errors.Wrap(err, "evalcache encode failed")
	}
	return errors.Wrap(
		c.client.Set(ctx, runKey(scenarioHash, seed), data, c.ttl).Err(),
		"evalcache set failed",
	)
}

// Invalidate drops every cached summary for one scenario hash.
func (c *Cache) Invalidate(ctx context.Context, scenarioHash string) error {
	pattern := fmt.Sprintf("rtgsim:run:%s:*", scenarioHash)
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return errors.Wrap(err, "evalcache delete failed")
		}
	}
	return errors.Wrap(iter.Err(), "evalcache scan failed")
}

func (c *Cache) Close() error {
	return c.client.Close()
}
