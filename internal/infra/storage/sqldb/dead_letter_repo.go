package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/suindexer/internal/core/domain"
	"github.com/vietddude/suindexer/internal/infra/storage"
)

// DeadLetterRepo implements storage.DeadLetterRepository.
type DeadLetterRepo struct {
	q sqlx.ExtContext
}

type deadLetterRow struct {
	ID           string        `db:"id"`
	EventType    string        `db:"event_type"`
	Payload      string        `db:"payload"`
	ErrorMessage string        `db:"error_message"`
	RetryCount   int           `db:"retry_count"`
	Resolved     bool          `db:"resolved"`
	LastRetryAt  sql.NullInt64 `db:"last_retry_at"`
	CreatedAt    int64         `db:"created_at"`
}

func (r deadLetterRow) toDomain() *domain.DeadLetter {
	d := &domain.DeadLetter{
		ID:           r.ID,
		EventType:    domain.EventType(r.EventType),
		Payload:      json.RawMessage(r.Payload),
		ErrorMessage: r.ErrorMessage,
		RetryCount:   r.RetryCount,
		Resolved:     r.Resolved,
		CreatedAt:    fromMillis(r.CreatedAt),
	}
	if r.LastRetryAt.Valid {
		t := fromMillis(r.LastRetryAt.Int64)
		d.LastRetryAt = &t
	}
	return d
}

// Add adds a dead-letter entry.
func (r *DeadLetterRepo) Add(ctx context.Context, d *domain.DeadLetter) error {
	query := r.q.Rebind(`
		INSERT INTO dead_letters (id, event_type, payload, error_message, retry_count, resolved, last_retry_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)

	var lastRetry sql.NullInt64
	if d.LastRetryAt != nil {
		lastRetry = sql.NullInt64{Int64: millis(*d.LastRetryAt), Valid: true}
	}

	_, err := r.q.ExecContext(
		ctx,
		query,
		d.ID,
		string(d.EventType),
		string(d.Payload),
		d.ErrorMessage,
		d.RetryCount,
		d.Resolved,
		lastRetry,
		millis(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to add dead letter: %w", err)
	}
	return nil
}

// ListRetryable returns the oldest unresolved entries below the retry ceiling.
func (r *DeadLetterRepo) ListRetryable(
	ctx context.Context,
	maxRetries, limit int,
) ([]*domain.DeadLetter, error) {
	query := r.q.Rebind(`
		SELECT id, event_type, payload, error_message, retry_count, resolved, last_retry_at, created_at
		FROM dead_letters
		WHERE resolved = ? AND retry_count < ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`)

	var rows []deadLetterRow
	if err := sqlx.SelectContext(ctx, r.q, &rows, query, false, maxRetries, limit); err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}

	entries := make([]*domain.DeadLetter, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.toDomain())
	}
	return entries, nil
}

// MarkResolved marks an unresolved entry as resolved.
func (r *DeadLetterRepo) MarkResolved(ctx context.Context, id string, at time.Time) error {
	query := r.q.Rebind(`
		UPDATE dead_letters
		SET resolved = ?, last_retry_at = ?
		WHERE id = ? AND resolved = ?
	`)
	res, err := r.q.ExecContext(ctx, query, true, millis(at), id, false)
	if err != nil {
		return fmt.Errorf("failed to resolve dead letter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to resolve dead letter: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// IncrementRetry increments retry count, records the error and returns the new
// count. Resolved entries are immutable and report ErrNotFound.
func (r *DeadLetterRepo) IncrementRetry(
	ctx context.Context,
	id string,
	errMsg string,
	at time.Time,
) (int, error) {
	query := r.q.Rebind(`
		UPDATE dead_letters
		SET retry_count = retry_count + 1, error_message = ?, last_retry_at = ?
		WHERE id = ? AND resolved = ?
		RETURNING retry_count
	`)

	var count int
	err := sqlx.GetContext(ctx, r.q, &count, query, errMsg, millis(at), id, false)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment retry: %w", err)
	}
	return count, nil
}

// CountUnresolved returns the number of unresolved entries.
func (r *DeadLetterRepo) CountUnresolved(ctx context.Context) (int, error) {
	query := r.q.Rebind(`SELECT COUNT(*) FROM dead_letters WHERE resolved = ?`)
	var count int
	if err := sqlx.GetContext(ctx, r.q, &count, query, false); err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return count, nil
}

// CountExhausted returns unresolved entries at or above the retry ceiling.
func (r *DeadLetterRepo) CountExhausted(ctx context.Context, maxRetries int) (int, error) {
	query := r.q.Rebind(`
		SELECT COUNT(*) FROM dead_letters
		WHERE resolved = ? AND retry_count >= ?
	`)
	var count int
	if err := sqlx.GetContext(ctx, r.q, &count, query, false, maxRetries); err != nil {
		return 0, fmt.Errorf("failed to count exhausted dead letters: %w", err)
	}
	return count, nil
}
