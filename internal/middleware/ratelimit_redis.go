package middleware

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimitStore implements RateLimitStore backed by Redis using a
// fixed window counter. State is shared across instances, so limits hold
// even when the API runs replicated.
//
// The store fails open: if Redis is unreachable the request is allowed.
type RedisRateLimitStore struct {
	client *redis.Client
}

// NewRedisRateLimitStore creates a Redis-backed rate limit store.
func NewRedisRateLimitStore(client *redis.Client) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client}
}

// Allow checks if a request from the given key should be allowed.
// Implements the RateLimitStore interface.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, config RateLimitConfig) (bool, int) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		slog.WarnContext(ctx, "rate limit store unavailable, allowing request", "error", err)
		return true, 0
	}

	// First request in the window owns setting the expiry.
	if count == 1 {
		if err := s.client.PExpire(ctx, key, config.WindowDuration).Err(); err != nil {
			slog.WarnContext(ctx, "failed to set rate limit window expiry", "key", key, "error", err)
		}
	}

	if count <= int64(config.RequestsPerWindow) {
		return true, 0
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		return false, int(config.WindowDuration.Seconds())
	}
	retryAfter := int(ttl.Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}
