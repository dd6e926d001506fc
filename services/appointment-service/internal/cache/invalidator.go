package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const InvalidationChannel = "availability.invalidated"

// Key is the availability cache key for one doctor-day; readers may append
// suffixes such as the slot duration.
func Key(doctorID string, day time.Time) string {
	return fmt.Sprintf("availability:%s:%s", doctorID, day.Format(time.DateOnly))
}

// RedisInvalidator drops cached availability for a doctor-day and notifies
// subscribers holding local copies.
type RedisInvalidator struct {
	rdb *redis.Client
}

func NewRedisInvalidator(rdb *redis.Client) *RedisInvalidator {
	return &RedisInvalidator{rdb: rdb}
}

func (r *RedisInvalidator) Invalidate(ctx context.Context, doctorID string, day time.Time) error {
	key := Key(doctorID, day)
	keys := []string{key}
	iter := r.rdb.Scan(ctx, 0, key+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", key, err)
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}

	msg, err := json.Marshal(map[string]string{
		"doctor_id": doctorID,
		"date":      day.Format(time.DateOnly),
	})
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, InvalidationChannel, msg).Err()
}

// Noop is used when no cache is configured.
type Noop struct{}

func (Noop) Invalidate(context.Context, string, time.Time) error { return nil }

func ReadyCheck(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
