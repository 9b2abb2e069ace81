// Package storage defines the key-value string store carts are persisted to.
package storage

import "context"

// KV is a string key-value store. Get returns an error wrapping
// apperrors.ErrNotFound when the key does not exist.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Ping(ctx context.Context) error
}

// Supported values of STORAGE_DRIVER.
const (
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)
