package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind is the direction of a ledger entry.
type Kind string

const (
	KindEarn  Kind = "earn"
	KindSpend Kind = "spend"
)

// Category records which activity produced an entry.
type Category string

const (
	CategoryCourse     Category = "course"
	CategoryRecycling  Category = "recycling"
	CategoryPurchase   Category = "purchase"
	CategoryRedemption Category = "redemption"
	CategoryAdjustment Category = "adjustment"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryCourse, CategoryRecycling, CategoryPurchase, CategoryRedemption, CategoryAdjustment:
		return true
	}
	return false
}

// Countable reports whether an earn in this category bumps the account's
// activity counter.
func (c Category) Countable() bool {
	return c == CategoryRecycling
}

// Transaction is an immutable ledger row. IDs are strictly increasing.
type Transaction struct {
	ID               int64     `db:"id" json:"id"`
	AccountID        uuid.UUID `db:"account_id" json:"account_id"`
	Kind             Kind      `db:"kind" json:"kind"`
	Category         Category  `db:"category" json:"category"`
	Amount           int64     `db:"amount" json:"amount"`
	ResultingBalance int64     `db:"resulting_balance" json:"resulting_balance"`
	Reference        string    `db:"reference" json:"reference"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// Delta is the signed balance change of the entry.
func (t *Transaction) Delta() int64 {
	if t.Kind == KindSpend {
		return -t.Amount
	}
	return t.Amount
}

// Receipt is the committed outcome of a mutation.
type Receipt struct {
	Transaction           Transaction `json:"transaction"`
	Balance               int64       `json:"balance"`
	TotalEarnedActivities int64       `json:"total_earned_activities"`
}

// PurchaseReceipt adds the pricing that produced the charge.
type PurchaseReceipt struct {
	Receipt
	BasePrice       decimal.Decimal `json:"base_price"`
	DiscountPercent int64           `json:"discount_percent"`
	Charged         int64           `json:"charged"`
}

// Order of a history listing.
type Order string

const (
	OrderNewestFirst Order = "desc"
	OrderOldestFirst Order = "asc"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type ListOptions struct {
	Limit  int
	Offset int
	Order  Order
}

// Normalize applies defaults and bounds.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultPageSize
	}
	if o.Limit > MaxPageSize {
		o.Limit = MaxPageSize
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.Order != OrderOldestFirst {
		o.Order = OrderNewestFirst
	}
	return o
}

// BalanceEvent is pushed to the account's live connections after commit.
type BalanceEvent struct {
	Type                  string    `json:"type"`
	AccountID             uuid.UUID `json:"account_id"`
	TransactionID         int64     `json:"transaction_id"`
	Kind                  Kind      `json:"kind"`
	Category              Category  `json:"category"`
	Amount                int64     `json:"amount"`
	Balance               int64     `json:"balance"`
	TotalEarnedActivities int64     `json:"total_earned_activities"`
	At                    time.Time `json:"at"`
}

const EventBalanceChanged = "balance_changed"
