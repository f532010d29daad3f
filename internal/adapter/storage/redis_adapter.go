package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/canteen/internal/core/domain"
)

const (
	idempotencyKeyPrefix = "idempotency:"
	idempotencyKeyTTL    = 24 * time.Hour
	claimAttempts        = 2
)

// RedisIdempotency binds submit idempotency keys to order ids with SETNX.
type RedisIdempotency struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisIdempotency(client *redis.Client) *RedisIdempotency {
	return &RedisIdempotency{client: client, ttl: idempotencyKeyTTL}
}

func (r *RedisIdempotency) Claim(ctx context.Context, key, orderID string) (string, bool, error) {
	redisKey := idempotencyKeyPrefix + key

	for attempt := 0; attempt < claimAttempts; attempt++ {
		ok, err := r.client.SetNX(ctx, redisKey, orderID, r.ttl).Result()
		if err != nil {
			return "", false, fmt.Errorf("claim idempotency key: %w: %w", domain.ErrStorageFailure, err)
		}
		if ok {
			return orderID, true, nil
		}

		bound, err := r.client.Get(ctx, redisKey).Result()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("read idempotency key: %w: %w", domain.ErrStorageFailure, err)
		}
		return bound, false, nil
	}

	return "", false, fmt.Errorf("claim idempotency key %s: %w", key, domain.ErrDuplicateRequest)
}

func (r *RedisIdempotency) Forget(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, idempotencyKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("forget idempotency key: %w: %w", domain.ErrStorageFailure, err)
	}
	return nil
}
