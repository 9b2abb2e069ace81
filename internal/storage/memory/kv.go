// Package memory is an in-process storage.KV for development and tests.
package memory

import (
	"context"
	"sync"

	apperrors "github.com/utafrali/storefront-cart/pkg/errors"
)

type KV struct {
	mu   sync.RWMutex
	data map[string]string
}

func New() *KV {
	return &KV{data: make(map[string]string)}
}

func (kv *KV) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	kv.mu.RLock()
	defer kv.mu.RUnlock()

	v, ok := kv.data[key]
	if !ok {
		return "", apperrors.NotFound("key", key)
	}
	return v, nil
}

func (kv *KV) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	kv.mu.Lock()
	defer kv.mu.Unlock()

	kv.data[key] = value
	return nil
}

func (kv *KV) Ping(ctx context.Context) error {
	return ctx.Err()
}
