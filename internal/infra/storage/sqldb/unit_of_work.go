package sqldb

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vietddude/suindexer/internal/infra/storage"
)

// UnitOfWork bundles all persistence operations into a single database transaction,
// ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	tx *sqlx.Tx
}

var _ storage.Tx = (*UnitOfWork)(nil)

// Begin creates a new unit of work with an active transaction.
func (db *DB) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

func (u *UnitOfWork) Cursors() storage.CursorRepository         { return &CursorRepo{q: u.tx} }
func (u *UnitOfWork) DeadLetters() storage.DeadLetterRepository { return &DeadLetterRepo{q: u.tx} }
func (u *UnitOfWork) Properties() storage.PropertyRepository    { return &PropertyRepo{q: u.tx} }

// Savepoint opens a nested rollback point. A failed statement inside it can be
// undone with RollbackTo without aborting the surrounding transaction.
func (u *UnitOfWork) Savepoint(ctx context.Context, name string) error {
	return u.exec(ctx, "SAVEPOINT "+pq.QuoteIdentifier(name))
}

func (u *UnitOfWork) RollbackTo(ctx context.Context, name string) error {
	return u.exec(ctx, "ROLLBACK TO SAVEPOINT "+pq.QuoteIdentifier(name))
}

func (u *UnitOfWork) Release(ctx context.Context, name string) error {
	return u.exec(ctx, "RELEASE SAVEPOINT "+pq.QuoteIdentifier(name))
}

func (u *UnitOfWork) exec(ctx context.Context, stmt string) error {
	if u.tx == nil {
		return storage.ErrTxDone
	}
	if _, err := u.tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%s: %w", stmt, err)
	}
	return nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return storage.ErrTxDone
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}
