// Package statestore is the two-tier key/value store behind round and flow
// state: a durable backend shared by every instance, fronted by a bounded
// local cache that keeps sessions alive while the backend is unreachable.
package statestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/mensetsu/internal/telemetry"
)

// ErrNotFound is returned by Durable.Get for a missing or expired key.
var ErrNotFound = errors.New("statestore: not found")

// Durable is the shared persistence tier. Implementations must treat an
// expired key as missing.
type Durable interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Store reads and writes documents through both tiers. Durable failures are
// logged and never surfaced to callers; the local tier always takes the write.
type Store struct {
	durable Durable
	local   *LocalCache
	logger  *slog.Logger

	// maxTTL is the longest TTL written so far. A tombstone lives at least
	// that long so it outlasts the durable value it shadows.
	maxTTL atomic.Int64

	fallbacks metric.Int64Counter
}

// New creates a Store. durable may be nil for a single-instance, memory-only
// deployment.
func New(durable Durable, local *LocalCache, logger *slog.Logger) *Store {
	fallbacks, _ := telemetry.Meter("mensetsu/statestore").Int64Counter("mensetsu.statestore.fallbacks",
		metric.WithDescription("Durable-tier operations that failed and fell back to the local cache"),
	)
	return &Store{durable: durable, local: local, logger: logger, fallbacks: fallbacks}
}

// Load returns the document at key. A write or delete this process made
// while the durable tier was down is replayed to it first and wins. Otherwise
// the durable tier is authoritative when it answers; a durable miss also
// evicts a local copy that had been synced, so a delete or expiry seen by
// another instance wins. found is false when neither tier holds the key.
func (s *Store) Load(ctx context.Context, key string) (value []byte, found bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("statestore: load %s: %w", key, err)
	}
	if s.durable != nil {
		if v, tombstone, ttl, ok := s.local.Pending(key); ok {
			s.replay(ctx, key, v, tombstone, ttl)
			if tombstone {
				return nil, false, nil
			}
			return v, true, nil
		}
		v, err := s.durable.Get(ctx, key)
		switch {
		case err == nil:
			s.local.Refresh(key, v)
			return v, true, nil
		case errors.Is(err, ErrNotFound):
			s.local.DropSynced(key)
		default:
			s.fallback(ctx, "load", key, err)
		}
	}
	v, ok := s.local.Get(key)
	return v, ok, nil
}

// Save writes value to both tiers with the given TTL.
func (s *Store) Save(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("statestore: save %s: %w", key, err)
	}
	for {
		cur := s.maxTTL.Load()
		if int64(ttl) <= cur || s.maxTTL.CompareAndSwap(cur, int64(ttl)) {
			break
		}
	}
	synced := false
	if s.durable != nil {
		if err := s.durable.Set(ctx, key, value, ttl); err != nil {
			s.fallback(ctx, "save", key, err)
		} else {
			synced = true
		}
	}
	s.local.Set(key, value, ttl, synced)
	return nil
}

// Delete removes key from both tiers.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("statestore: delete %s: %w", key, err)
	}
	if s.durable != nil {
		if err := s.durable.Delete(ctx, key); err != nil {
			s.fallback(ctx, "delete", key, err)
			s.local.Tombstone(key, max(s.local.defaultTTL, time.Duration(s.maxTTL.Load())))
			return nil
		}
	}
	s.local.Delete(key)
	return nil
}

// replay pushes an unsynced local write or delete to the durable tier.
// Failures leave it pending for the next load.
func (s *Store) replay(ctx context.Context, key string, value []byte, tombstone bool, ttl time.Duration) {
	if tombstone {
		if err := s.durable.Delete(ctx, key); err != nil {
			s.fallback(ctx, "replay_delete", key, err)
			return
		}
		s.local.ClearTombstone(key)
		return
	}
	if err := s.durable.Set(ctx, key, value, ttl); err != nil {
		s.fallback(ctx, "replay_save", key, err)
		return
	}
	s.local.MarkSynced(key, value)
}

// Durable reports whether a durable tier is configured.
func (s *Store) Durable() bool { return s.durable != nil }

func (s *Store) fallback(ctx context.Context, op, key string, err error) {
	s.logger.Warn("statestore: durable tier failed, using local cache",
		"op", op, "key", key, "error", err)
	if s.fallbacks != nil {
		s.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	}
}
