package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyStore maps create idempotency keys to the request ids they
// produced, so a replayed create returns the prior result unchanged.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, requestID string, ttl time.Duration) error
}

const idempotencyPrefix = "civic:idempotency:"

type redisIdempotencyStore struct {
	client *redis.Client
}

// NewRedisIdempotencyStore builds the redis-backed store.
func NewRedisIdempotencyStore(client *redis.Client) IdempotencyStore {
	return &redisIdempotencyStore{client: client}
}

func (s *redisIdempotencyStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, idempotencyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return val, true, nil
}

func (s *redisIdempotencyStore) Set(ctx context.Context, key, requestID string, ttl time.Duration) error {
	return s.client.Set(ctx, idempotencyPrefix+key, requestID, ttl).Err()
}
