package redisinfra

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Throttle is a one-slot-per-interval gate keyed by an arbitrary string.
type Throttle struct {
	rdb    *redis.Client
	prefix string
}

func NewThrottle(rdb *redis.Client, prefix string) *Throttle {
	return &Throttle{rdb: rdb, prefix: prefix}
}

// Acquire takes the slot for key for interval. When the slot is held it returns
// ok=false and the time until it frees up.
func (t *Throttle) Acquire(ctx context.Context, key string, interval time.Duration) (bool, time.Duration, error) {
	if interval <= 0 {
		return true, 0, nil
	}
	k := t.prefix + key
	ok, err := t.rdb.SetNX(ctx, k, "1", interval).Result()
	if err != nil {
		return false, 0, fmt.Errorf("acquire throttle: %w", err)
	}
	if ok {
		return true, 0, nil
	}
	ttl, err := t.rdb.PTTL(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("read throttle ttl: %w", err)
	}
	if ttl < 0 {
		ttl = interval
	}
	return false, ttl, nil
}

// Release frees the slot early.
func (t *Throttle) Release(ctx context.Context, key string) error {
	return t.rdb.Del(ctx, t.prefix+key).Err()
}
