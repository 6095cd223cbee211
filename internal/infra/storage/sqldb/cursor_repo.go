package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/suindexer/internal/core/domain"
)

// CursorRepo implements storage.CursorRepository.
type CursorRepo struct {
	q sqlx.ExtContext
}

type cursorRow struct {
	EventType   string `db:"event_type"`
	TxDigest    string `db:"tx_digest"`
	EventSeq    string `db:"event_seq"`
	LastUpdated int64  `db:"last_updated"`
}

func (r cursorRow) toDomain() *domain.Cursor {
	return &domain.Cursor{
		EventType:   domain.EventType(r.EventType),
		TxDigest:    r.TxDigest,
		EventSeq:    r.EventSeq,
		LastUpdated: fromMillis(r.LastUpdated),
	}
}

// Get retrieves a cursor by event type.
func (r *CursorRepo) Get(ctx context.Context, eventType domain.EventType) (*domain.Cursor, error) {
	query := r.q.Rebind(`
		SELECT event_type, tx_digest, event_seq, last_updated
		FROM event_cursors
		WHERE event_type = ?
	`)

	var row cursorRow
	err := sqlx.GetContext(ctx, r.q, &row, query, string(eventType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	return row.toDomain(), nil
}

// List returns every cursor ordered by event type.
func (r *CursorRepo) List(ctx context.Context) ([]*domain.Cursor, error) {
	var rows []cursorRow
	err := sqlx.SelectContext(ctx, r.q, &rows, `
		SELECT event_type, tx_digest, event_seq, last_updated
		FROM event_cursors
		ORDER BY event_type
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}

	cursors := make([]*domain.Cursor, 0, len(rows))
	for _, row := range rows {
		cursors = append(cursors, row.toDomain())
	}
	return cursors, nil
}

// Save upserts the cursor.
func (r *CursorRepo) Save(ctx context.Context, cursor *domain.Cursor) error {
	query := r.q.Rebind(`
		INSERT INTO event_cursors (event_type, tx_digest, event_seq, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (event_type) DO UPDATE SET
			tx_digest = excluded.tx_digest,
			event_seq = excluded.event_seq,
			last_updated = excluded.last_updated
	`)
	_, err := r.q.ExecContext(
		ctx,
		query,
		string(cursor.EventType),
		cursor.TxDigest,
		cursor.EventSeq,
		millis(cursor.LastUpdated),
	)
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// Delete removes the cursor for an event type.
func (r *CursorRepo) Delete(ctx context.Context, eventType domain.EventType) error {
	query := r.q.Rebind(`DELETE FROM event_cursors WHERE event_type = ?`)
	if _, err := r.q.ExecContext(ctx, query, string(eventType)); err != nil {
		return fmt.Errorf("failed to delete cursor: %w", err)
	}
	return nil
}
