package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a fixed-window counter on a shared Redis instance, for
// horizontally scaled deployments. Fixed windows over-admit at bucket
// edges by at most one window's worth, which is acceptable for OTP
// send throttling.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "aegis:rl:"}
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	bucket := s.bucketKey(key, window)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis increment: %w", err)
	}

	return incr.Val(), nil
}

func (s *RedisStore) Count(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := s.client.Get(ctx, s.bucketKey(key, window)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis count: %w", err)
	}
	return count, nil
}

func (s *RedisStore) bucketKey(key string, window time.Duration) string {
	bucket := time.Now().Unix() / int64(window.Seconds())
	return fmt.Sprintf("%s%s:%d:%d", s.prefix, key, int64(window.Seconds()), bucket)
}
