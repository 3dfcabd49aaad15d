package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"processing-api/internal/config"
)

const keyPrefix = "processing"

// IdempotencyStore caches submission results in Redis so a retried request
// with the same Idempotency-Key replays the original outcome instead of
// creating a second transaction.
type IdempotencyStore struct {
	client *redis.Client
}

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

func NewIdempotencyStore(client *redis.Client) *IdempotencyStore {
	return &IdempotencyStore{client: client}
}

func buildKey(parts ...string) string {
	key := keyPrefix
	for _, part := range parts {
		key += ":" + part
	}
	return key
}

// Get loads a cached value into dest, reporting whether the key existed.
func (s *IdempotencyStore) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := s.client.Get(ctx, buildKey("idempotency", key)).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to get idempotency key: %w", err)
	}

	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached result: %w", err)
	}

	return true, nil
}

// Set stores a value under the key with the given TTL.
func (s *IdempotencyStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := s.client.Set(ctx, buildKey("idempotency", key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set idempotency key: %w", err)
	}

	return nil
}

// Ping verifies the Redis connection.
func (s *IdempotencyStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *IdempotencyStore) Close() error {
	return s.client.Close()
}
