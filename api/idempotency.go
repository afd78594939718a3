package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper drops repeated submissions of the same user action, identified by
// the Idempotency-Key request header.
type Deduper interface {
	// Add records the key and returns true when it was newly added.
	Add(ctx context.Context, scope, key string) (bool, error)
	// Remove deletes a previously added key, used when the submission is
	// rejected before its optimistic apply so the caller may retry.
	Remove(ctx context.Context, scope, key string) error
}

// RedisDeduper stores submission keys in Redis so a restarted facade still
// recognizes a retried request within the TTL window.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(scope, key string) string {
	return fmt.Sprintf("submit:%s:%s", scope, key)
}

func (r *RedisDeduper) Add(ctx context.Context, scope, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(scope, key), 1, r.ttl).Result()
}

func (r *RedisDeduper) Remove(ctx context.Context, scope, key string) error {
	return r.client.Del(ctx, r.key(scope, key)).Err()
}
