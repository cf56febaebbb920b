package crmsync

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLocker implements Locker with a SETNX lease per record. The sync
// worker fleet shares the asynq Redis instance, so the lease is visible to
// every worker.
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker constructs a RedisLocker.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, prefix: "cvsync:inflight:"}
}

func (l *RedisLocker) key(id string) string { return l.prefix + id }

// Acquire takes the per-record lease. The TTL bounds how long a crashed
// worker can hold the record hostage.
func (l *RedisLocker) Acquire(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(id), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx sync lease: %w", err)
	}
	return ok, nil
}

// Release drops the lease.
func (l *RedisLocker) Release(ctx context.Context, id string) error {
	if err := l.client.Del(ctx, l.key(id)).Err(); err != nil {
		return fmt.Errorf("del sync lease: %w", err)
	}
	return nil
}
