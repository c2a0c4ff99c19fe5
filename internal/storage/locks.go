package storage

import (
	"context"
	"fmt"
	"time"
)

// unlockTimeout bounds the release statement; release runs after the
// caller's context may already be done.
const unlockTimeout = 5 * time.Second

// AdvisoryLocker serializes work on a key across every instance sharing the
// database, using session-level advisory locks on a pinned pool connection.
type AdvisoryLocker struct {
	db *DB
}

// Locker returns an advisory locker backed by this DB.
func (db *DB) Locker() *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

// Lock blocks until the lock for key is held or ctx is done. The returned
// function releases it and must be called exactly once.
func (l *AdvisoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	conn, err := l.db.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: acquire lock connection: %w", err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("storage: advisory lock %s: %w", key, err)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key); err != nil {
			// Closing the session is the only other way to drop the lock.
			l.db.logger.Warn("storage: advisory unlock failed, closing connection", "key", key, "error", err)
			_ = conn.Conn().Close(ctx)
		}
		conn.Release()
	}, nil
}
