package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"payments-api/internal/models"
)

// RedisLocker is a Locker backed by Redis SET NX, for deployments running
// more than one instance of the service against the same database. Lock
// acquisition is retried a bounded number of times before surfacing
// models.ErrConcurrencyConflict.
type RedisLocker struct {
	client     *redis.Client
	ttl        time.Duration
	retries    int
	retryDelay time.Duration
}

const (
	lockPrefix = "ledger:lock:"

	releaseScript = `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
)

func NewRedisLocker(client *redis.Client, ttl time.Duration, retries int, retryDelay time.Duration) *RedisLocker {
	return &RedisLocker{
		client:     client,
		ttl:        ttl,
		retries:    retries,
		retryDelay: retryDelay,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := lockPrefix + key
	lockValue := uuid.New().String()

	for attempt := 0; attempt < l.retries; attempt++ {
		ok, err := l.client.SetNX(ctx, lockKey, lockValue, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return func() {
				// Only delete our own lock; a crashed holder's key expires by TTL.
				if err := l.client.Eval(context.Background(), releaseScript, []string{lockKey}, lockValue).Err(); err != nil {
					logrus.WithError(err).WithField("lock_key", lockKey).Warn("Failed to release ledger lock")
				}
			}, nil
		}

		select {
		case <-time.After(l.retryDelay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", models.ErrConcurrencyConflict, ctx.Err())
		}
	}

	return nil, fmt.Errorf("%w: lock contention on %s", models.ErrConcurrencyConflict, key)
}
