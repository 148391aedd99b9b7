package catalog

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrCourseNotFound  = errors.New("course not found")
	ErrProductNotFound = errors.New("product not found")
	ErrRewardNotFound  = errors.New("reward not found")
	ErrUnavailable     = errors.New("catalog item is not available")
)

// Course completion earns a fixed reward.
type Course struct {
	ID     uuid.UUID `db:"id" json:"id"`
	Title  string    `db:"title" json:"title"`
	Active bool      `db:"active" json:"active"`
}

// Product is sold for money; points only buy a discount.
type Product struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Available bool            `db:"available" json:"available"`
}

// Reward is claimed by spending PointsRequired.
type Reward struct {
	ID             uuid.UUID `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	PointsRequired int64     `db:"points_required" json:"points_required"`
	Available      bool      `db:"available" json:"available"`
}
