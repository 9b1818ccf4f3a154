package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"scribe/internal/keyed"
)

// Begin journals inv, updating the attempt counter when the row already exists.
func (s *Store) Begin(ctx context.Context, inv keyed.Invocation) error {
	createdAt := inv.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	err := s.execWithRetry(ctx,
		`INSERT INTO invocation_journal (id, service, state_key, handler, payload, attempt, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET attempt = excluded.attempt`,
		inv.ID, inv.Service, inv.Key, inv.Handler, nullablePayload(inv.Payload), inv.Attempt, formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("journal invocation %s: %w", inv.ID, err)
	}
	return nil
}

// Complete writes state (when non-nil) and removes the journal row in one transaction.
func (s *Store) Complete(ctx context.Context, inv keyed.Invocation, state []byte) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if state != nil {
			if _, err := tx.ExecContext(ctx, s.rebind(upsertState),
				inv.Service, inv.Key, string(state), formatTime(time.Now()),
			); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM invocation_journal WHERE id = ?`), inv.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("complete invocation %s: %w", inv.ID, err)
	}
	return nil
}

// Pending lists journaled invocations oldest first.
func (s *Store) Pending(ctx context.Context) ([]keyed.Invocation, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, service, state_key, handler, payload, attempt, created_at
FROM invocation_journal ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()

	var out []keyed.Invocation
	for rows.Next() {
		var (
			inv     keyed.Invocation
			payload sql.NullString
			created string
		)
		if err := rows.Scan(&inv.ID, &inv.Service, &inv.Key, &inv.Handler, &payload, &inv.Attempt, &created); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		if payload.Valid && payload.String != "" {
			inv.Payload = []byte(payload.String)
		}
		inv.CreatedAt = parseTime(created)
		out = append(out, inv)
	}
	return out, rows.Err()
}

func nullablePayload(payload []byte) any {
	if len(payload) == 0 {
		return nil
	}
	return string(payload)
}
