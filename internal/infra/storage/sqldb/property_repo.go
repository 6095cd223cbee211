package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/suindexer/internal/core/domain"
)

// PropertyRepo implements storage.PropertyRepository.
type PropertyRepo struct {
	q sqlx.ExtContext
}

type propertyRow struct {
	ID           string `db:"id"`
	Owner        string `db:"owner"`
	PricePerDay  int64  `db:"price_per_day"`
	PropertyType int    `db:"property_type"`
	NumRooms     int64  `db:"num_rooms"`
	TxDigest     string `db:"tx_digest"`
	CreatedAt    int64  `db:"created_at"`
}

// Exists reports whether a property row with id exists.
func (r *PropertyRepo) Exists(ctx context.Context, id string) (bool, error) {
	query := r.q.Rebind(`SELECT COUNT(*) FROM properties WHERE id = ?`)
	var count int
	if err := sqlx.GetContext(ctx, r.q, &count, query, id); err != nil {
		return false, fmt.Errorf("failed to check property: %w", err)
	}
	return count > 0, nil
}

// ErrOutOfRange is returned when a u64 field does not fit the signed BIGINT
// column.
var ErrOutOfRange = errors.New("value out of BIGINT range")

// Insert creates a property row.
func (r *PropertyRepo) Insert(ctx context.Context, p *domain.Property) error {
	if p.PricePerDay > math.MaxInt64 || p.NumRooms > math.MaxInt64 {
		return fmt.Errorf("failed to insert property %s: %w", p.ID, ErrOutOfRange)
	}

	query := r.q.Rebind(`
		INSERT INTO properties (id, owner, price_per_day, property_type, num_rooms, tx_digest, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.q.ExecContext(
		ctx,
		query,
		p.ID,
		p.Owner,
		int64(p.PricePerDay),
		int(p.PropertyType),
		int64(p.NumRooms),
		p.TxDigest,
		millis(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert property: %w", err)
	}
	return nil
}

// Get retrieves a property by object id.
func (r *PropertyRepo) Get(ctx context.Context, id string) (*domain.Property, error) {
	query := r.q.Rebind(`
		SELECT id, owner, price_per_day, property_type, num_rooms, tx_digest, created_at
		FROM properties
		WHERE id = ?
	`)

	var row propertyRow
	err := sqlx.GetContext(ctx, r.q, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get property: %w", err)
	}

	return &domain.Property{
		ID:           row.ID,
		Owner:        row.Owner,
		PricePerDay:  uint64(row.PricePerDay),
		PropertyType: domain.PropertyType(row.PropertyType),
		NumRooms:     uint64(row.NumRooms),
		TxDigest:     row.TxDigest,
		CreatedAt:    fromMillis(row.CreatedAt),
	}, nil
}

// Count returns the number of properties.
func (r *PropertyRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := sqlx.GetContext(ctx, r.q, &count, `SELECT COUNT(*) FROM properties`); err != nil {
		return 0, fmt.Errorf("failed to count properties: %w", err)
	}
	return count, nil
}
