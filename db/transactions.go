package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"

	"github.com/circleci/vcr/o11y"
)

type TxManager struct {
	DB *sqlx.DB
	// RetryBackOff paces WithRetry, a short exponential back off capped at 5 seconds by default.
	RetryBackOff func() backoff.BackOff
}

func NewTxManager(db *sqlx.DB) *TxManager {
	return &TxManager{DB: db}
}

// NoTx returns a Querier running each statement in its own implicit transaction.
func (m *TxManager) NoTx() Querier {
	return mapped{q: m.DB}
}

// WithTx runs f in a transaction. It commits when f returns nil and the context is still
// live, and rolls back otherwise, including when f panics.
func (m *TxManager) WithTx(ctx context.Context, f func(context.Context, Querier) error) (err error) {
	ctx, span := o11y.StartSpan(ctx, "db: transaction")
	defer o11y.End(span, &err)

	tx, err := m.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", mapError(err))
	}
	done := false
	defer func() {
		if done {
			return
		}
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			span.AddField("rollback_error", rerr.Error())
		}
	}()

	if err = f(ctx, mapped{q: tx}); err != nil {
		return err
	}
	// f may have swallowed a cancellation, the driver has rolled back regardless
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return mapError(err)
	}
	done = true
	return nil
}

// WithRetry runs f as WithTx does, starting over with a fresh transaction while it fails
// with ErrConflict or ErrBusy.
func (m *TxManager) WithRetry(ctx context.Context, f func(context.Context, Querier) error) error {
	attempts := 0
	op := func() error {
		attempts++
		err := m.WithTx(ctx, f)
		if err == nil || errors.Is(err, ErrConflict) || errors.Is(err, ErrBusy) {
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.Retry(op, backoff.WithContext(m.backOff(), ctx))
	o11y.AddField(ctx, "tx_attempts", attempts)
	return err
}

func (m *TxManager) backOff() backoff.BackOff {
	if m.RetryBackOff != nil {
		return m.RetryBackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return b
}
