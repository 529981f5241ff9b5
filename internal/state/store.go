// Package state persists reconciliation bindings so that a restarted daemon
// resumes with the bindings it had before.
package state

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Store provides versioned JSON state storage keyed by (kind, id).
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a new state store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get retrieves payload and version for an entry.
// Returns empty payload and version 0 if not found.
func (s *Store) Get(ctx context.Context, kind, id string) (payload []byte, version int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payloadStr string
	err = s.db.QueryRowContext(ctx, `
		SELECT payload, version FROM resource_state
		WHERE kind = ? AND id = ?
	`, kind, id).Scan(&payloadStr, &version)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	return []byte(payloadStr), version, nil
}

// Set stores payload, incrementing version automatically.
func (s *Store) Set(ctx context.Context, kind, id string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Unix()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resource_state (kind, id, payload, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			payload = excluded.payload,
			version = version + 1,
			updated_at = excluded.updated_at
	`, kind, id, string(payload), now)

	if err == nil {
		log.Debug().
			Str("kind", kind).
			Str("id", id).
			Msg("State stored")
	}

	return err
}

// Clear removes all state for a kind. If kind is empty, clears all state.
func (s *Store) Clear(ctx context.Context, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if kind == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM resource_state`)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM resource_state WHERE kind = ?`, kind)
	}

	return err
}

// GetAll returns all entries for a kind with their versions.
func (s *Store) GetAll(ctx context.Context, kind string) (map[string][]byte, map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload, version FROM resource_state WHERE kind = ?
	`, kind)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	payloads := make(map[string][]byte)
	versions := make(map[string]int64)

	for rows.Next() {
		var id, payloadStr string
		var version int64

		if err := rows.Scan(&id, &payloadStr, &version); err != nil {
			return nil, nil, err
		}

		payloads[id] = []byte(payloadStr)
		versions[id] = version
	}

	return payloads, versions, rows.Err()
}
