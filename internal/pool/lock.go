package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker serializes image generations per credential. The upstream backend
// rejects overlapping image jobs on one account, so the gateway takes a
// short-lived lock before submitting and releases it when the job settles.
type Locker interface {
	TryLock(ctx context.Context, credID uint, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, credID uint) error
}

type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func lockKey(credID uint) string {
	return fmt.Sprintf("soragate:imagelock:%d", credID)
}

func (l *RedisLocker) TryLock(ctx context.Context, credID uint, ttl time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, lockKey(credID), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("image lock: %w", err)
	}
	return ok, nil
}

func (l *RedisLocker) Unlock(ctx context.Context, credID uint) error {
	return l.rdb.Del(ctx, lockKey(credID)).Err()
}
