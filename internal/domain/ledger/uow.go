package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/cleanpoints/cleanpoints-api/internal/domain/account"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/database"
)

// SQLUnitOfWork binds the account store and transaction log to one *sqlx.Tx.
type SQLUnitOfWork struct {
	db *sqlx.DB
}

func NewUnitOfWork(db *sqlx.DB) *SQLUnitOfWork {
	return &SQLUnitOfWork{db: db}
}

func (u *SQLUnitOfWork) WithinTx(ctx context.Context, fn TxFunc) error {
	tx, err := u.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrStorageFailure, err)
	}
	defer tx.Rollback()

	if err := fn(ctx, account.NewRepository(tx), NewTransactionLog(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if database.IsSerializationFailure(err) {
			return ErrConflict
		}
		return fmt.Errorf("%w: commit tx: %v", ErrStorageFailure, err)
	}
	return nil
}

func (u *SQLUnitOfWork) WithinSnapshot(ctx context.Context, fn TxFunc) error {
	tx, err := u.db.BeginTxx(ctx, snapshotTxOptions(u.db.DriverName()))
	if err != nil {
		return fmt.Errorf("%w: begin snapshot: %v", ErrStorageFailure, err)
	}
	defer tx.Rollback()

	return fn(ctx, account.NewRepository(tx), NewTransactionLog(tx))
}

// snapshotTxOptions pins Postgres to one snapshot for the whole transaction.
// A SQLite read transaction in WAL mode already reads from a single snapshot.
func snapshotTxOptions(driver string) *sql.TxOptions {
	if driver == database.DriverPostgres {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return &sql.TxOptions{}
}
