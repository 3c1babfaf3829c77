// Package cache provides an optional Redis-backed L1 layer in front of
// the RpcCache's Postgres persistence, trading a network round-trip to
// Postgres for one to Redis on the hot path.
package cache

import (
	"context"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache wraps a Redis client for simple key/value caching.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache and verifies connectivity.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

// GetString retrieves a string value.
func (r *RedisCache) GetString(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

// SetString stores a string value with no expiration — RpcCache
// entries are keyed by immutable historical state and never go stale.
func (r *RedisCache) SetString(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, key, value, 0).Err()
}

// Exists checks if a key exists.
func (r *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	return n > 0, err
}

// Delete removes a key.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Close closes the Redis connection.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Client returns the underlying Redis client.
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

// LayeredCacheStore implements rpc.CacheStore, consulting Redis before
// falling through to a slower backing store (Postgres) and populating
// Redis on backing-store hits.
type LayeredCacheStore struct {
	l1      *RedisCache
	backing backingStore
}

// backingStore mirrors rpc.CacheStore's shape without importing the rpc
// package, avoiding an import cycle (rpc is the consumer of this type).
type backingStore interface {
	Get(ctx context.Context, chainID int64, blockNumber *big.Int, key string) (string, bool, error)
	Put(ctx context.Context, chainID int64, blockNumber *big.Int, key, result string) error
}

// NewLayeredCacheStore wraps backing with an L1 Redis cache.
func NewLayeredCacheStore(l1 *RedisCache, backing backingStore) *LayeredCacheStore {
	return &LayeredCacheStore{l1: l1, backing: backing}
}

func redisKey(chainID int64, blockNumber *big.Int, key string) string {
	return "rpccache:" + big.NewInt(chainID).String() + ":" + blockNumber.String() + ":" + key
}

// Get implements rpc.CacheStore.
func (s *LayeredCacheStore) Get(ctx context.Context, chainID int64, blockNumber *big.Int, key string) (string, bool, error) {
	rk := redisKey(chainID, blockNumber, key)
	if v, err := s.l1.GetString(ctx, rk); err == nil {
		return v, true, nil
	}

	v, ok, err := s.backing.Get(ctx, chainID, blockNumber, key)
	if err != nil || !ok {
		return v, ok, err
	}
	_ = s.l1.SetString(ctx, rk, v)
	return v, true, nil
}

// Put implements rpc.CacheStore.
func (s *LayeredCacheStore) Put(ctx context.Context, chainID int64, blockNumber *big.Int, key, result string) error {
	if err := s.backing.Put(ctx, chainID, blockNumber, key, result); err != nil {
		return err
	}
	return s.l1.SetString(ctx, redisKey(chainID, blockNumber, key), result)
}
