package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyPrefix = "payments:idem:"

// IdempotencyCache maps client idempotency keys to transaction numbers in
// Redis so retried requests replay the original result. Mongo's unique
// idempotency_key index remains the source of truth; this cache only makes
// the common retry path cheap.
type IdempotencyCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotencyCache(client *redis.Client, ttl time.Duration) *IdempotencyCache {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyCache{client: client, ttl: ttl}
}

// Get returns the transaction number stored under the key, if any.
func (c *IdempotencyCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, idempotencyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("idempotency cache get failed: %w", err)
	}
	return value, true, nil
}

// Set records the key to transaction number mapping. NX keeps the first
// write; a retry racing the original request cannot overwrite it.
func (c *IdempotencyCache) Set(ctx context.Context, key, transactionNumber string) error {
	if err := c.client.SetNX(ctx, idempotencyPrefix+key, transactionNumber, c.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency cache set failed: %w", err)
	}
	return nil
}
