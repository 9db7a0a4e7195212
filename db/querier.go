package db

import (
	"context"
	"database/sql"
	"errors"
)

// Querier is satisfied by *sqlx.DB and *sqlx.Tx. The Queriers a TxManager hands out also map
// driver errors to the errors of this package.
type Querier interface {
	// ExecContext returns ErrNop when no rows were affected.
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	// GetContext scans a single row into dest, or returns ErrNop when there is none.
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	// SelectContext scans all rows into dest, a pointer to a slice. No rows is not an error.
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	// Rebind converts ? placeholders to the driver's bind variables.
	Rebind(query string) string
}

type mapped struct {
	q Querier
}

func (m mapped) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	res, err := m.q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return res, err
	}
	if n == 0 {
		return res, ErrNop
	}
	return res, nil
}

func (m mapped) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	err := m.q.GetContext(ctx, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNop
	}
	return mapError(err)
}

func (m mapped) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return mapError(m.q.SelectContext(ctx, dest, query, args...))
}

func (m mapped) Rebind(query string) string {
	return m.q.Rebind(query)
}
