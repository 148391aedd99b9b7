package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/cleanpoints/cleanpoints-api/internal/domain/account"
)

// AccountStore is the slice of the account repository the engine relies on.
type AccountStore interface {
	Get(ctx context.Context, id uuid.UUID) (*account.Account, error)
	CompareAndUpdate(ctx context.Context, id uuid.UUID, expectedBalance int64, upd account.BalanceUpdate) error
}

// TransactionLog is the append-only record of balance changes.
type TransactionLog interface {
	// Append stores t and assigns t.ID.
	Append(ctx context.Context, t *Transaction) error
	ListByAccount(ctx context.Context, accountID uuid.UUID, opts ListOptions) ([]Transaction, error)
}

// TxFunc runs against stores bound to a single storage transaction.
type TxFunc func(ctx context.Context, accounts AccountStore, txlog TransactionLog) error

// UnitOfWork commits everything fn wrote, or nothing.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn TxFunc) error
	// WithinSnapshot runs fn read-only; every read sees the same committed state.
	WithinSnapshot(ctx context.Context, fn TxFunc) error
}

// Notifier delivers post-commit events to an account's live sessions.
type Notifier interface {
	SendToUserJSON(accountID uuid.UUID, payload any) error
}
