package db

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/circleci/vcr/o11y"
)

var (
	// ErrNop means a statement matched no rows.
	ErrNop = o11y.NewWarning("no update or results")
	// ErrConflict means a unique key was already taken, usually by a concurrent writer.
	ErrConflict = o11y.NewWarning("unique key conflict")
	// ErrBusy means SQLite could not take its lock in time.
	ErrBusy        = o11y.NewWarning("database busy")
	ErrConstrained = errors.New("violates constraints")
	ErrException   = errors.New("exception")
	ErrCanceled    = o11y.NewWarning("statement canceled")
	ErrBadConn     = o11y.NewWarning("bad connection")
)

// PostgreSQL error codes
const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgRaiseException      = "P0001"
	pgQueryCanceled       = "57014"
)

// SQLite extended result codes for unique key violations
const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

// mapError translates the driver errors callers act on into the errors above, wrapping the
// driver's message. Anything else is returned unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) {
		return ErrBadConn
	}

	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		var mapped error
		switch pe.Code {
		case pgUniqueViolation:
			mapped = ErrConflict
		case pgForeignKeyViolation:
			mapped = ErrConstrained
		case pgRaiseException:
			mapped = ErrException
		case pgQueryCanceled:
			mapped = ErrCanceled
		default:
			return err
		}
		return fmt.Errorf("%w: %s - %s", mapped, pe.Message, pe.Detail)
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		var mapped error
		switch code := se.Code(); {
		case code == sqliteConstraintPrimaryKey || code == sqliteConstraintUnique:
			mapped = ErrConflict
		case code&0xff == sqlite3.SQLITE_CONSTRAINT:
			mapped = ErrConstrained
		case code&0xff == sqlite3.SQLITE_BUSY || code&0xff == sqlite3.SQLITE_LOCKED:
			mapped = ErrBusy
		case code&0xff == sqlite3.SQLITE_INTERRUPT:
			mapped = ErrCanceled
		default:
			return err
		}
		return fmt.Errorf("%w: %s", mapped, se.Error())
	}
	return err
}
