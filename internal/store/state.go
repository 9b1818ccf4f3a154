package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"scribe/internal/keyed"
)

const upsertState = `INSERT INTO keyed_state (service, state_key, state, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (service, state_key) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`

// Load returns the state stored for service/key.
func (s *Store) Load(ctx context.Context, service, key string) ([]byte, bool, error) {
	ctx = ensureContext(ctx)
	var raw string
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			s.rebind(`SELECT state FROM keyed_state WHERE service = ? AND state_key = ?`),
			service, key,
		).Scan(&raw)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load state: %w", err)
	}
	return []byte(raw), true, nil
}

// Save writes the state for service/key.
func (s *Store) Save(ctx context.Context, service, key string, state []byte) error {
	if err := s.execWithRetry(ctx, upsertState, service, key, string(state), formatTime(time.Now())); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Delete removes the state for service/key.
func (s *Store) Delete(ctx context.Context, service, key string) error {
	if err := s.execWithRetry(ctx, `DELETE FROM keyed_state WHERE service = ? AND state_key = ?`, service, key); err != nil {
		return fmt.Errorf("delete state: %w", err)
	}
	return nil
}

// Scan lists every state stored for service, ordered by key.
func (s *Store) Scan(ctx context.Context, service string) ([]keyed.Entry, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT state_key, state, updated_at FROM keyed_state WHERE service = ? ORDER BY state_key`),
		service,
	)
	if err != nil {
		return nil, fmt.Errorf("scan state: %w", err)
	}
	defer rows.Close()

	var entries []keyed.Entry
	for rows.Next() {
		var (
			key, state, updated string
		)
		if err := rows.Scan(&key, &state, &updated); err != nil {
			return nil, fmt.Errorf("scan state row: %w", err)
		}
		entries = append(entries, keyed.Entry{Key: key, State: []byte(state), UpdatedAt: parseTime(updated)})
	}
	return entries, rows.Err()
}

// Counts returns the number of stored states per service.
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT service, COUNT(1) FROM keyed_state GROUP BY service`)
	if err != nil {
		return nil, fmt.Errorf("state counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var service string
		var count int
		if err := rows.Scan(&service, &count); err != nil {
			return nil, err
		}
		counts[service] = count
	}
	return counts, rows.Err()
}
