package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetProfile returns the stored profile document for a candidate, or
// ErrNotFound.
func (db *DB) GetProfile(ctx context.Context, candidateID string) (json.RawMessage, error) {
	var doc []byte
	err := db.pool.QueryRow(ctx,
		`SELECT document FROM candidate_profiles WHERE candidate_id = $1`, candidateID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get profile: %w", err)
	}
	return doc, nil
}

// UpsertProfile stores or replaces a candidate's profile document.
func (db *DB) UpsertProfile(ctx context.Context, candidateID string, doc json.RawMessage) error {
	if !json.Valid(doc) {
		return fmt.Errorf("storage: upsert profile: document is not valid JSON")
	}
	err := WithRetry(ctx, writeRetries, writeBaseDelay, func() error {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO candidate_profiles (candidate_id, document)
			 VALUES ($1, $2::jsonb)
			 ON CONFLICT (candidate_id) DO UPDATE
			 SET document = EXCLUDED.document, updated_at = now()`,
			candidateID, []byte(doc),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("storage: upsert profile: %w", err)
	}
	return nil
}
