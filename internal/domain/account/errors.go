package account

import "errors"

var (
	ErrNotFound        = errors.New("account not found")
	ErrConflict        = errors.New("account balance changed concurrently")
	ErrNegativeBalance = errors.New("balance would become negative")
	ErrEmailTaken      = errors.New("email already registered")
	ErrNothingToUpdate = errors.New("no updatable fields supplied")
	ErrAccountDisabled = errors.New("account is disabled")
)
