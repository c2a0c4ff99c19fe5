package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/mensetsu/internal/statestore"
)

// StateTable is the Postgres durable tier of the state store. Rows past their
// expires_at are invisible to reads and removed by SweepExpired.
type StateTable struct {
	db *DB
}

// States returns the state table backed by this DB.
func (db *DB) States() *StateTable {
	return &StateTable{db: db}
}

// Get returns the live value stored at key, or statestore.ErrNotFound.
func (t *StateTable) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := t.db.pool.QueryRow(ctx,
		`SELECT value FROM state_entries WHERE key = $1 AND expires_at > now()`, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, statestore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get state %s: %w", key, err)
	}
	return value, nil
}

// Set upserts value at key with a fresh TTL.
func (t *StateTable) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := WithRetry(ctx, writeRetries, writeBaseDelay, func() error {
		_, err := t.db.pool.Exec(ctx,
			`INSERT INTO state_entries (key, value, expires_at, updated_at)
			 VALUES ($1, $2::jsonb, now() + ($3 * interval '1 microsecond'), now())
			 ON CONFLICT (key) DO UPDATE
			 SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = now()`,
			key, value, ttl.Microseconds(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: set state %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (t *StateTable) Delete(ctx context.Context, key string) error {
	if _, err := t.db.pool.Exec(ctx, `DELETE FROM state_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("storage: delete state %s: %w", key, err)
	}
	return nil
}

// SweepExpired deletes rows whose TTL has passed and returns how many.
func (t *StateTable) SweepExpired(ctx context.Context) (int64, error) {
	tag, err := t.db.pool.Exec(ctx, `DELETE FROM state_entries WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("storage: sweep expired state: %w", err)
	}
	return tag.RowsAffected(), nil
}
