package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "concierge:idem:"

// RedisRegistry is a Registry shared across orchestrator instances. SETNX
// makes the claim atomic; a lost claim reads back the winner's run id.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRegistry creates a registry on client. ttl bounds how long a key
// stays claimed; zero means no expiry.
func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, ttl: ttl}
}

// Claim binds key to runID via SETNX.
func (r *RedisRegistry) Claim(ctx context.Context, key, runID string) (string, bool, error) {
	redisKey := redisKeyPrefix + key

	claimed, err := r.client.SetNX(ctx, redisKey, runID, r.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if claimed {
		return runID, true, nil
	}

	existing, err := r.client.Get(ctx, redisKey).Result()
	if err != nil {
		return "", false, fmt.Errorf("read claimed idempotency key: %w", err)
	}
	return existing, false, nil
}

// Release unbinds a key.
func (r *RedisRegistry) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, redisKeyPrefix+key).Err()
}
