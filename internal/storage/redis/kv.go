// Package redis stores cart snapshots as plain Redis strings.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/utafrali/storefront-cart/pkg/errors"
)

// KV implements storage.KV on top of a go-redis client. Every write refreshes
// the key's TTL, so carts that are not touched for ttl expire.
type KV struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// New creates a Redis-backed store. A zero ttl stores keys without expiry.
func New(client redis.UniversalClient, ttl time.Duration) *KV {
	return &KV{client: client, ttl: ttl}
}

func (kv *KV) Get(ctx context.Context, key string) (string, error) {
	v, err := kv.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", apperrors.NotFound("key", key)
		}
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (kv *KV) Set(ctx context.Context, key, value string) error {
	if err := kv.client.Set(ctx, key, value, kv.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (kv *KV) Ping(ctx context.Context) error {
	return kv.client.Ping(ctx).Err()
}
