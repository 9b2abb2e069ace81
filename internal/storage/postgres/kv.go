// Package postgres stores cart snapshots in a single key/value table.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/storefront-cart/pkg/database"
	apperrors "github.com/utafrali/storefront-cart/pkg/errors"
)

// DBTX is the subset of *pgxpool.Pool the store uses.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

const (
	selectSnapshot = `SELECT value FROM cart_snapshots WHERE key = $1`
	upsertSnapshot = `
		INSERT INTO cart_snapshots (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`
)

// KV implements storage.KV using PostgreSQL.
type KV struct {
	db     DBTX
	tracer database.QueryTracer
}

// New creates a PostgreSQL-backed store. The cart_snapshots table must
// already exist; see the migrations package.
func New(db DBTX, tracer database.QueryTracer) *KV {
	if tracer.System == "" {
		tracer.System = "postgresql"
	}
	return &KV{db: db, tracer: tracer}
}

func (kv *KV) Get(ctx context.Context, key string) (value string, err error) {
	ctx, end := kv.tracer.Trace(ctx, "GetSnapshot", selectSnapshot)
	defer func() { end(err) }()

	if err = kv.db.QueryRow(ctx, selectSnapshot, key).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.NotFound("key", key)
		}
		return "", fmt.Errorf("select snapshot %s: %w", key, err)
	}
	return value, nil
}

func (kv *KV) Set(ctx context.Context, key, value string) (err error) {
	ctx, end := kv.tracer.Trace(ctx, "SaveSnapshot", upsertSnapshot)
	defer func() { end(err) }()

	if _, err = kv.db.Exec(ctx, upsertSnapshot, key, value); err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", key, err)
	}
	return nil
}

func (kv *KV) Ping(ctx context.Context) error {
	return kv.db.Ping(ctx)
}
