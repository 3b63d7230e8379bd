package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces dedup keys in a shared Redis instance.
const keyPrefix = "dedup:"

// RedisStore implements Store on a shared Redis instance, preserving
// duplicate suppression across horizontally scaled consumer instances.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed dedup store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Seen reports whether the key exists in Redis.
func (s *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}

	n, err := s.client.Exists(ctx, keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("dedup exists: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed records the key with SET NX EX, which is atomic in Redis:
// exactly one caller across all instances observes true for a given key
// within its window.
func (s *RedisStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	if ttl <= 0 {
		ttl = DefaultWindow
	}

	ok, err := s.client.SetNX(ctx, keyPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return ok, nil
}
