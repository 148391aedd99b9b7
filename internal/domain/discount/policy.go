// Package discount converts an accumulated point balance into a purchase
// discount. Everything here is pure: no storage, no clocks.
package discount

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	DefaultUnitCost int64 = 10
	DefaultCap      int64 = 50
)

// Mode selects how purchases are priced.
type Mode string

const (
	// ModeDiscount applies the balance-derived percentage to the base price.
	ModeDiscount Mode = "discount"
	// ModeFullPrice charges the base price unchanged.
	ModeFullPrice Mode = "full_price"
)

var (
	ErrInvalidPolicy = errors.New("invalid discount policy")
	ErrInvalidPrice  = errors.New("invalid base price")
)

var hundred = decimal.NewFromInt(100)

// Percent returns min(balance / unitCost, cap) using floor division.
// Non-positive unit costs and negative balances yield no discount.
func Percent(balance, unitCost, cap int64) int64 {
	if balance <= 0 || unitCost <= 0 || cap <= 0 {
		return 0
	}
	return min(balance/unitCost, cap)
}

// Policy is the configurable form of Percent.
type Policy struct {
	Mode     Mode
	UnitCost int64
	Cap      int64
}

// DefaultPolicy returns the discount-aware policy with unit cost 10 and cap 50.
func DefaultPolicy() Policy {
	return Policy{Mode: ModeDiscount, UnitCost: DefaultUnitCost, Cap: DefaultCap}
}

// Validate checks the policy parameters.
func (p Policy) Validate() error {
	switch p.Mode {
	case ModeDiscount:
		if p.UnitCost <= 0 {
			return fmt.Errorf("%w: unit cost must be positive", ErrInvalidPolicy)
		}
		if p.Cap < 0 || p.Cap > 100 {
			return fmt.Errorf("%w: cap must be within [0, 100]", ErrInvalidPolicy)
		}
	case ModeFullPrice:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidPolicy, p.Mode)
	}
	return nil
}

// Percent returns the discount the policy grants for balance.
func (p Policy) Percent(balance int64) int64 {
	if p.Mode != ModeDiscount {
		return 0
	}
	return Percent(balance, p.UnitCost, p.Cap)
}

// Quote is the priced outcome of a purchase.
type Quote struct {
	Percent int64
	Charge  int64
}

// Quote prices basePrice for an account holding balance points. The charge is
// basePrice * (100 - percent) / 100 rounded half away from zero to whole points.
func (p Policy) Quote(balance int64, basePrice decimal.Decimal) (Quote, error) {
	if err := p.Validate(); err != nil {
		return Quote{}, err
	}
	if !basePrice.IsPositive() {
		return Quote{}, fmt.Errorf("%w: %s", ErrInvalidPrice, basePrice.String())
	}

	pct := p.Percent(balance)
	charge := basePrice.
		Mul(hundred.Sub(decimal.NewFromInt(pct))).
		Div(hundred).
		Round(0)

	return Quote{Percent: pct, Charge: charge.IntPart()}, nil
}
