package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// SQLTransactionLog stores transactions in the transactions table.
type SQLTransactionLog struct {
	db sqlx.ExtContext
}

func NewTransactionLog(db sqlx.ExtContext) *SQLTransactionLog {
	return &SQLTransactionLog{db: db}
}

func (l *SQLTransactionLog) Append(ctx context.Context, t *Transaction) error {
	query := l.db.Rebind(`
		INSERT INTO transactions (account_id, kind, category, amount, resulting_balance, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	var id int64
	err := sqlx.GetContext(ctx, l.db, &id, query,
		t.AccountID, string(t.Kind), string(t.Category),
		t.Amount, t.ResultingBalance, t.Reference, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}

	t.ID = id
	return nil
}

func (l *SQLTransactionLog) ListByAccount(ctx context.Context, accountID uuid.UUID, opts ListOptions) ([]Transaction, error) {
	opts = opts.Normalize()

	direction := "DESC"
	if opts.Order == OrderOldestFirst {
		direction = "ASC"
	}

	query := l.db.Rebind(`
		SELECT id, account_id, kind, category, amount, resulting_balance, reference, created_at
		FROM transactions
		WHERE account_id = ?
		ORDER BY id ` + direction + `
		LIMIT ? OFFSET ?
	`)

	txs := make([]Transaction, 0)
	if err := sqlx.SelectContext(ctx, l.db, &txs, query, accountID, opts.Limit, opts.Offset); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}
