package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// claimValue is the sentinel stored under every claimed key.
const claimValue = "1"

// RedisRegistry implements Registry on Redis string keys with native
// expiry. Redis evicts expired claims itself.
type RedisRegistry struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRegistry connects to a single Redis node and verifies it answers.
func NewRedisRegistry(ctx context.Context, addr, password string, db int, prefix string) (*RedisRegistry, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return NewRedisRegistryWithClient(client, prefix), nil
}

// NewRedisRegistryWithClient wraps an existing client, e.g. a cluster or
// sentinel client, or one pointed at miniredis in tests.
func NewRedisRegistryWithClient(client redis.UniversalClient, prefix string) *RedisRegistry {
	return &RedisRegistry{client: client, prefix: prefix}
}

func (r *RedisRegistry) redisKey(key string) string {
	return r.prefix + key
}

func (r *RedisRegistry) Claim(ctx context.Context, key string, ttl time.Duration) error {
	// Redis rejects a zero expiry, so an already-expired claim is a delete.
	if ttl <= 0 {
		return r.Release(ctx, key)
	}
	if err := r.client.Set(ctx, r.redisKey(key), claimValue, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis DEL: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.redisKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS: %w", err)
	}
	return n > 0, nil
}

func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

var _ Registry = (*RedisRegistry)(nil)
