package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// RedisStorage keeps bucket state in Redis as JSON strings. Updates use
// WATCH/MULTI so a concurrent writer aborts the transaction, which is
// then retried. Suitable for deployments with several instances.
type RedisStorage struct {
	client     redis.UniversalClient
	maxRetries int
}

// RedisConfig contains configuration for Redis storage.
type RedisConfig struct {
	Addr       string
	Password   string
	DB         int
	MaxRetries int
}

// NewRedisStorage connects to Redis and verifies the connection
func NewRedisStorage(ctx context.Context, cfg RedisConfig) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStorageFromClient(client, cfg.MaxRetries), nil
}

// NewRedisStorageFromClient wraps an existing client
func NewRedisStorageFromClient(client redis.UniversalClient, maxRetries int) *RedisStorage {
	return &RedisStorage{client: client, maxRetries: maxRetries}
}

// Update runs fn inside a WATCH transaction on key, retrying when another
// client modified the key in between.
func (rs *RedisStorage) Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	txf := func(tx *redis.Tx) error {
		current, err := readState(ctx, tx, key)
		if err != nil {
			return err
		}

		data, err := json.Marshal(fn(current))
		if err != nil {
			return fmt.Errorf("failed to marshal bucket state: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}

	attempt := func() error {
		err := rs.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if err != nil {
			return backoff.Permanent(fmt.Errorf("redis update of %s failed: %w", key, err))
		}
		return nil
	}

	err := backoff.Retry(attempt, conflictBackOff(ctx, rs.maxRetries))
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %s", ErrConflict, key)
	}
	return err
}

// Get returns the stored state for key
func (rs *RedisStorage) Get(ctx context.Context, key string) (*BucketState, bool, error) {
	state, err := readState(ctx, rs.client, key)
	if err != nil {
		return nil, false, err
	}
	return state, state != nil, nil
}

func readState(ctx context.Context, c redis.Cmdable, key string) (*BucketState, error) {
	data, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key from Redis: %w", err)
	}

	var state BucketState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bucket state: %w", err)
	}
	return &state, nil
}

// Close closes the Redis connection
func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}

// Ping checks if Redis is available
func (rs *RedisStorage) Ping(ctx context.Context) error {
	return rs.client.Ping(ctx).Err()
}
