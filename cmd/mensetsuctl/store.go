package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ashita-ai/mensetsu/internal/config"
	"github.com/ashita-ai/mensetsu/internal/keylock"
	"github.com/ashita-ai/mensetsu/internal/statestore"
	"github.com/ashita-ai/mensetsu/internal/storage"
	"github.com/ashita-ai/mensetsu/internal/storage/sqlitestore"
	"github.com/ashita-ai/mensetsu/migrations"
)

// durableStore is what the admin commands need from a durable backend.
type durableStore struct {
	states   statestore.Durable
	profiles interface {
		UpsertProfile(ctx context.Context, candidateID string, doc json.RawMessage) error
	}
	locker keylock.Locker // nil for sqlite
	close  func()
}

// openStore opens the configured durable backend and applies migrations.
// The memory backend has nothing to administer from outside the server.
func openStore(ctx context.Context, cfg config.Config) (*durableStore, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		db, err := storage.New(ctx, cfg.DatabaseURL, 2, logger)
		if err != nil {
			return nil, err
		}
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return &durableStore{states: db.States(), profiles: db, locker: db.Locker(), close: db.Close}, nil
	case config.BackendSQLite:
		st, err := sqlitestore.Open(ctx, cfg.SQLitePath, migrations.SQLite())
		if err != nil {
			return nil, err
		}
		return &durableStore{states: st, profiles: st, close: func() { _ = st.Close() }}, nil
	default:
		return nil, errors.New("MENSETSU_STATE_BACKEND is memory; set it to postgres or sqlite to administer stored state")
	}
}
