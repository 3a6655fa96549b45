package core

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

type (
	// DBExecutor is satisfied by both *sqlx.DB and *sqlx.Tx.
	DBExecutor interface {
		sqlx.ExtContext

		GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
		SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	}

	DB interface {
		DBExecutor

		BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	}

	DBTransactor interface {
		DBExecutor

		Commit() error
		Rollback() error
	}
)

var _ DBTransactor = (*sqlx.Tx)(nil)

// RollbackError is returned when a failed transaction could not be rolled back.
// The store may be left in a questionable state and needs manual reconciliation.
type RollbackError struct {
	Err         error
	RollbackErr error
}

func (e *RollbackError) Error() string {
	return e.Err.Error() + " (rollback failed: " + e.RollbackErr.Error() + ")"
}

func (e *RollbackError) Unwrap() error { return e.Err }

// WithTx runs fn in a database transaction, committing when fn returns nil.
func WithTx(ctx context.Context, db DB, fn func(exec DBExecutor) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return &RollbackError{Err: err, RollbackErr: rbErr}
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}

// RunInTx runs fn on the caller's executor when one is given (the caller owns
// the transaction), otherwise in a new transaction.
func RunInTx(ctx context.Context, db DB, exec []DBExecutor, fn func(exec DBExecutor) error) error {
	if len(exec) > 0 && exec[0] != nil {
		return fn(exec[0])
	}
	return WithTx(ctx, db, fn)
}

// OwnsTx reports whether a call with these optional executors opens its own transaction.
func OwnsTx(exec []DBExecutor) bool {
	return len(exec) == 0 || exec[0] == nil
}

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}
