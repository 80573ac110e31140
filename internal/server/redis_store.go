// Package server contains the Redis-backed location store used when the
// service runs against a shared Redis instance.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces the per-user history lists inside Redis.
const redisKeyPrefix = "locations:"

// RedisStore implements LocationStore on top of a Redis list per user.
// Appends are RPUSH operations, so append order is preserved by Redis
// itself and histories survive server restarts.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection with a PING.
// A failed ping is returned as an error so the caller can fail fast: the
// relay has no useful degraded mode without its store.
func NewRedisStore(ctx context.Context, addr string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	return &RedisStore{client: client}, nil
}

// AppendLocation pushes the JSON-encoded sample onto the tail of the user's list.
func (s *RedisStore) AppendLocation(ctx context.Context, userID string, sample LocationSample) error {
	if userID == "" {
		return fmt.Errorf("append location: empty userId")
	}

	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("encode sample for %s: %w", userID, err)
	}

	if err := s.client.RPush(ctx, redisKeyPrefix+userID, payload).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", userID, err)
	}
	return nil
}

// GetAllLocations scans for every history key and reads each list in full.
func (s *RedisStore) GetAllLocations(ctx context.Context) (map[string][]LocationSample, error) {
	result := make(map[string][]LocationSample)

	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		userID := strings.TrimPrefix(key, redisKeyPrefix)

		entries, err := s.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("lrange %s: %w", userID, err)
		}

		history := make([]LocationSample, 0, len(entries))
		for _, entry := range entries {
			var sample LocationSample
			if err := json.Unmarshal([]byte(entry), &sample); err != nil {
				return nil, fmt.Errorf("decode sample for %s: %w", userID, err)
			}
			history = append(history, sample)
		}
		result[userID] = history
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan histories: %w", err)
	}

	return result, nil
}

// Close releases the underlying Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
