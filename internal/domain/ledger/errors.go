package ledger

import (
	"errors"

	"github.com/cleanpoints/cleanpoints-api/internal/domain/account"
)

var (
	ErrAccountNotFound     = account.ErrNotFound
	ErrAccountDisabled     = account.ErrAccountDisabled
	ErrConflict            = account.ErrConflict
	ErrInvalidAmount       = errors.New("invalid amount: must be greater than 0")
	ErrInvalidCategory     = errors.New("invalid transaction category")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrStorageFailure      = errors.New("storage failure")
)

// Stable error kinds exposed to clients.
const (
	CodeAccountNotFound     = "ACCOUNT_NOT_FOUND"
	CodeAccountDisabled     = "ACCOUNT_DISABLED"
	CodeInvalidAmount       = "INVALID_AMOUNT"
	CodeInvalidCategory     = "INVALID_CATEGORY"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeConflict            = "CONFLICT"
	CodeStorageFailure      = "STORAGE_FAILURE"
	CodeInternal            = "INTERNAL_ERROR"
)

// Code maps an engine error to its stable kind. Nil maps to "".
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAccountNotFound):
		return CodeAccountNotFound
	case errors.Is(err, ErrAccountDisabled):
		return CodeAccountDisabled
	case errors.Is(err, ErrInvalidAmount):
		return CodeInvalidAmount
	case errors.Is(err, ErrInvalidCategory):
		return CodeInvalidCategory
	case errors.Is(err, ErrInsufficientBalance):
		return CodeInsufficientBalance
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrStorageFailure):
		return CodeStorageFailure
	default:
		return CodeInternal
	}
}
