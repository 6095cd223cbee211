package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/suindexer/internal/core/domain"
)

var (
	// ErrNotFound is returned when an update targets a row that doesn't exist
	ErrNotFound = errors.New("not found")

	// ErrTxDone is returned when a finished transaction is used again
	ErrTxDone = errors.New("transaction already completed")
)

// CursorRepository handles cursor storage operations
type CursorRepository interface {
	// Get retrieves the cursor for an event type, nil when absent
	Get(ctx context.Context, eventType domain.EventType) (*domain.Cursor, error)

	// List retrieves every stored cursor
	List(ctx context.Context) ([]*domain.Cursor, error)

	// Save inserts or replaces the cursor
	Save(ctx context.Context, cursor *domain.Cursor) error

	// Delete removes the cursor so the type restarts from the beginning
	Delete(ctx context.Context, eventType domain.EventType) error
}

// DeadLetterRepository handles the dead-letter queue
type DeadLetterRepository interface {
	// Add records a failed event
	Add(ctx context.Context, entry *domain.DeadLetter) error

	// ListRetryable returns unresolved entries with retry_count < maxRetries, oldest first
	ListRetryable(ctx context.Context, maxRetries, limit int) ([]*domain.DeadLetter, error)

	// MarkResolved flags an unresolved entry as resolved
	MarkResolved(ctx context.Context, id string, at time.Time) error

	// IncrementRetry bumps retry_count, records the error and returns the new
	// count. Resolved entries report ErrNotFound.
	IncrementRetry(ctx context.Context, id string, errMsg string, at time.Time) (int, error)

	// CountUnresolved returns the number of unresolved entries
	CountUnresolved(ctx context.Context) (int, error)

	// CountExhausted returns unresolved entries that will never be retried again
	CountExhausted(ctx context.Context, maxRetries int) (int, error)
}

// PropertyRepository handles the property projection
type PropertyRepository interface {
	// Exists reports whether a property with the given object id is stored
	Exists(ctx context.Context, id string) (bool, error)

	// Insert creates a property row
	Insert(ctx context.Context, p *domain.Property) error

	// Get retrieves a property, nil when absent
	Get(ctx context.Context, id string) (*domain.Property, error)

	// Count returns the number of stored properties
	Count(ctx context.Context) (int, error)
}

// Repositories groups the repositories reachable from a store or a transaction.
type Repositories interface {
	Cursors() CursorRepository
	DeadLetters() DeadLetterRepository
	Properties() PropertyRepository
}

// Tx is a unit of work. Every write made through its repositories becomes
// visible on Commit or not at all.
type Tx interface {
	Repositories

	// Savepoint marks a point the transaction can later roll back to
	Savepoint(ctx context.Context, name string) error

	// RollbackTo discards writes made after the named savepoint
	RollbackTo(ctx context.Context, name string) error

	// Release forgets the named savepoint, keeping its writes
	Release(ctx context.Context, name string) error

	Commit() error

	// Rollback aborts the transaction. Safe to call after Commit.
	Rollback() error
}

// Store is a transactional persistence backend.
type Store interface {
	Repositories

	// Begin starts a unit of work
	Begin(ctx context.Context) (Tx, error)

	// Reset deletes all cursors, dead letters and projection rows
	Reset(ctx context.Context) error

	// Ping checks the backend is reachable
	Ping(ctx context.Context) error

	Close() error
}
