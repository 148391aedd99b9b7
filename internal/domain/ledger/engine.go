package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/cleanpoints/cleanpoints-api/internal/domain/account"
	"github.com/cleanpoints/cleanpoints-api/internal/domain/discount"
	"github.com/cleanpoints/cleanpoints-api/internal/pkg/keylock"
)

const (
	DefaultMaxRetries = 3
	DefaultOpTimeout  = 5 * time.Second

	retryBackoff = 5 * time.Millisecond
)

// Config tunes the engine.
type Config struct {
	// MaxRetries bounds compare-and-update attempts per operation.
	MaxRetries int
	// OpTimeout bounds each attempt's storage round trip.
	OpTimeout time.Duration
	Discount  discount.Policy
}

// Engine is the only writer of account balances. Mutations on one account are
// serialized in-process by a keyed lock and across processes by the
// compare-and-update in AccountStore; different accounts never wait on each other.
type Engine struct {
	uow      UnitOfWork
	accounts AccountStore
	txlog    TransactionLog
	notifier Notifier

	locks *keylock.Locker[uuid.UUID]
	cfg   Config
	now   func() time.Time
}

// NewEngine wires the engine. notifier may be nil.
func NewEngine(uow UnitOfWork, accounts AccountStore, txlog TransactionLog, notifier Notifier, cfg Config) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if cfg.Discount.Mode == "" {
		cfg.Discount = discount.DefaultPolicy()
	}

	return &Engine{
		uow:      uow,
		accounts: accounts,
		txlog:    txlog,
		notifier: notifier,
		locks:    keylock.New[uuid.UUID](),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// DiscountPolicy returns the policy used by Purchase.
func (e *Engine) DiscountPolicy() discount.Policy {
	return e.cfg.Discount
}

// mutation describes one balance change. amount receives the balance read in
// the same storage transaction that will write the result.
type mutation struct {
	op        string
	kind      Kind
	category  Category
	reference string
	amount    func(balance int64) (int64, error)
}

func fixedAmount(n int64) func(int64) (int64, error) {
	return func(int64) (int64, error) { return n, nil }
}

// Earn credits amount points to the account.
func (e *Engine) Earn(ctx context.Context, accountID uuid.UUID, amount int64, reference string, category Category) (*Receipt, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !category.Valid() {
		return nil, ErrInvalidCategory
	}

	return e.apply(ctx, accountID, mutation{
		op:        "earn",
		kind:      KindEarn,
		category:  category,
		reference: reference,
		amount:    fixedAmount(amount),
	})
}

// Spend debits amount points. The sufficiency check runs against the balance
// read inside the committing transaction.
func (e *Engine) Spend(ctx context.Context, accountID uuid.UUID, amount int64, reference string, category Category) (*Receipt, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !category.Valid() {
		return nil, ErrInvalidCategory
	}

	return e.apply(ctx, accountID, mutation{
		op:        "spend",
		kind:      KindSpend,
		category:  category,
		reference: reference,
		amount:    fixedAmount(amount),
	})
}

// Redeem spends a reward's point cost.
func (e *Engine) Redeem(ctx context.Context, accountID uuid.UUID, cost int64, reference string) (*Receipt, error) {
	if cost <= 0 {
		return nil, ErrInvalidAmount
	}

	return e.apply(ctx, accountID, mutation{
		op:        "redeem",
		kind:      KindSpend,
		category:  CategoryRedemption,
		reference: reference,
		amount:    fixedAmount(cost),
	})
}

// Purchase charges basePrice less the balance-derived discount. The discount
// is computed from the pre-spend balance within the same atomic step.
func (e *Engine) Purchase(ctx context.Context, accountID uuid.UUID, basePrice decimal.Decimal, reference string) (*PurchaseReceipt, error) {
	if !basePrice.IsPositive() {
		return nil, ErrInvalidAmount
	}

	policy := e.cfg.Discount
	var quote discount.Quote

	receipt, err := e.apply(ctx, accountID, mutation{
		op:        "purchase",
		kind:      KindSpend,
		category:  CategoryPurchase,
		reference: reference,
		amount: func(balance int64) (int64, error) {
			q, err := policy.Quote(balance, basePrice)
			if err != nil {
				return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
			}
			quote = q
			return q.Charge, nil
		},
	})
	if err != nil {
		return nil, err
	}

	return &PurchaseReceipt{
		Receipt:         *receipt,
		BasePrice:       basePrice,
		DiscountPercent: quote.Percent,
		Charged:         quote.Charge,
	}, nil
}

// Balance reads the account without mutating it.
func (e *Engine) Balance(ctx context.Context, accountID uuid.UUID) (*account.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout)
	defer cancel()

	a, err := e.accounts.Get(ctx, accountID)
	return a, classify(err)
}

// History lists the account's transactions, newest first unless asked otherwise.
func (e *Engine) History(ctx context.Context, accountID uuid.UUID, opts ListOptions) ([]Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout)
	defer cancel()

	if _, err := e.accounts.Get(ctx, accountID); err != nil {
		return nil, classify(err)
	}

	txs, err := e.txlog.ListByAccount(ctx, accountID, opts)
	if err != nil {
		return nil, classify(err)
	}
	return txs, nil
}

func (e *Engine) apply(ctx context.Context, accountID uuid.UUID, m mutation) (receipt *Receipt, err error) {
	started := time.Now()
	defer func() { observe(m.op, started, err) }()

	unlock, err := e.locks.Lock(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%w: waiting for account lock: %v", ErrStorageFailure, err)
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		receipt, err = e.attempt(ctx, accountID, m)
		if !errors.Is(err, ErrConflict) {
			break
		}

		conflictRetries.WithLabelValues(m.op).Inc()
		log.Debug().
			Str("account_id", accountID.String()).
			Str("op", m.op).
			Int("attempt", attempt).
			Msg("ledger compare-and-update conflict")

		if attempt >= e.cfg.MaxRetries {
			err = fmt.Errorf("%w: conflict retries exhausted after %d attempts", ErrStorageFailure, attempt)
			break
		}
		if waitErr := sleepCtx(ctx, time.Duration(attempt)*retryBackoff); waitErr != nil {
			err = fmt.Errorf("%w: %v", ErrStorageFailure, waitErr)
			break
		}
	}

	if err != nil {
		if errors.Is(err, ErrStorageFailure) {
			log.Error().Err(err).Str("account_id", accountID.String()).Str("op", m.op).Msg("ledger mutation failed")
		}
		return nil, err
	}

	t := receipt.Transaction
	pointsMoved.WithLabelValues(string(t.Kind), string(t.Category)).Add(float64(t.Amount))
	log.Info().
		Str("account_id", accountID.String()).
		Str("op", m.op).
		Str("kind", string(t.Kind)).
		Str("category", string(t.Category)).
		Int64("amount", t.Amount).
		Int64("balance", t.ResultingBalance).
		Int64("transaction_id", t.ID).
		Msg("ledger mutation committed")

	// the next mutation on this account need not wait for delivery
	unlock()
	e.notify(receipt)
	return receipt, nil
}

// attempt runs one read-validate-write cycle in its own storage transaction.
func (e *Engine) attempt(ctx context.Context, accountID uuid.UUID, m mutation) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout)
	defer cancel()

	var receipt *Receipt
	err := e.uow.WithinTx(ctx, func(ctx context.Context, accounts AccountStore, txlog TransactionLog) error {
		acc, err := accounts.Get(ctx, accountID)
		if err != nil {
			return err
		}
		if acc.Disabled {
			return ErrAccountDisabled
		}

		amount, err := m.amount(acc.Balance)
		if err != nil {
			return err
		}
		if amount <= 0 {
			return ErrInvalidAmount
		}

		next := acc.Balance
		var activities int64
		switch m.kind {
		case KindEarn:
			if amount > math.MaxInt64-acc.Balance {
				return fmt.Errorf("%w: balance would overflow", ErrInvalidAmount)
			}
			next += amount
			if m.category.Countable() {
				activities = 1
			}
		case KindSpend:
			if acc.Balance < amount {
				return ErrInsufficientBalance
			}
			next -= amount
		}

		at := e.now()
		if at.Before(acc.UpdatedAt) {
			at = acc.UpdatedAt
		}

		err = accounts.CompareAndUpdate(ctx, accountID, acc.Balance, account.BalanceUpdate{
			Balance:         next,
			ActivitiesDelta: activities,
			At:              at,
		})
		if err != nil {
			return err
		}

		t := Transaction{
			AccountID:        accountID,
			Kind:             m.kind,
			Category:         m.category,
			Amount:           amount,
			ResultingBalance: next,
			Reference:        m.reference,
			CreatedAt:        at,
		}
		if err := txlog.Append(ctx, &t); err != nil {
			return err
		}

		receipt = &Receipt{
			Transaction:           t,
			Balance:               next,
			TotalEarnedActivities: acc.TotalEarnedActivities + activities,
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return receipt, nil
}

func (e *Engine) notify(r *Receipt) {
	if e.notifier == nil {
		return
	}

	t := r.Transaction
	event := BalanceEvent{
		Type:                  EventBalanceChanged,
		AccountID:             t.AccountID,
		TransactionID:         t.ID,
		Kind:                  t.Kind,
		Category:              t.Category,
		Amount:                t.Amount,
		Balance:               r.Balance,
		TotalEarnedActivities: r.TotalEarnedActivities,
		At:                    t.CreatedAt,
	}
	if err := e.notifier.SendToUserJSON(t.AccountID, event); err != nil {
		log.Warn().Err(err).Str("account_id", t.AccountID.String()).Msg("balance event not delivered")
	}
}

// classify keeps domain errors as they are and folds everything else,
// timeouts included, into ErrStorageFailure.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrAccountDisabled),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidCategory),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrStorageFailure):
		return err
	case errors.Is(err, account.ErrNegativeBalance):
		return ErrInsufficientBalance
	default:
		return fmt.Errorf("%w: %v", ErrStorageFailure, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
