// Package profile loads candidate profile documents (parsed resumes) from the
// configured profile store.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/mensetsu/internal/storage"
)

// ErrNotFound is returned when a candidate has no stored profile.
var ErrNotFound = errors.New("profile: not found")

// Source returns a candidate's profile document.
type Source interface {
	Get(ctx context.Context, candidateID string) (json.RawMessage, error)
}

// Backend is a table-backed profile store. storage.DB and sqlitestore.Store
// implement it and report a missing row as storage.ErrNotFound.
type Backend interface {
	GetProfile(ctx context.Context, candidateID string) (json.RawMessage, error)
}

// Loader reads profiles from a Backend. Concurrent loads of the same
// candidate share one query.
type Loader struct {
	backend Backend
	group   singleflight.Group
}

// NewLoader creates a Loader over backend.
func NewLoader(backend Backend) *Loader {
	return &Loader{backend: backend}
}

// Get implements Source.
func (l *Loader) Get(ctx context.Context, candidateID string) (json.RawMessage, error) {
	v, err, _ := l.group.Do(candidateID, func() (any, error) {
		return l.backend.GetProfile(ctx, candidateID)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile: load %s: %w", candidateID, err)
	}
	doc := v.(json.RawMessage)
	if !json.Valid(doc) {
		return nil, fmt.Errorf("profile: load %s: stored document is not valid JSON", candidateID)
	}
	return doc, nil
}

// Memory is an in-process profile store for memory-backed deployments and
// tests.
type Memory struct {
	mu       sync.RWMutex
	profiles map[string]json.RawMessage
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{profiles: make(map[string]json.RawMessage)}
}

// Get implements Source.
func (m *Memory) Get(_ context.Context, candidateID string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.profiles[candidateID]
	if !ok {
		return nil, ErrNotFound
	}
	return doc, nil
}

// UpsertProfile stores or replaces a profile.
func (m *Memory) UpsertProfile(_ context.Context, candidateID string, doc json.RawMessage) error {
	if !json.Valid(doc) {
		return fmt.Errorf("profile: upsert %s: document is not valid JSON", candidateID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[candidateID] = append(json.RawMessage(nil), doc...)
	return nil
}
