package models

import "errors"

// Trade rejections. Surfaced to the caller verbatim; state is left untouched.
var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrInvalidQuantity      = errors.New("quantity must be positive")
	ErrInvalidPrice         = errors.New("price must be positive")
)

// ErrInvalidAlert rejects an alert definition that can never fire
var ErrInvalidAlert = errors.New("invalid alert")

// Price and storage failures.
var (
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrNetworkFailure   = errors.New("network failure")
	ErrNoCachedData     = errors.New("no data available")
	ErrStorageFailure   = errors.New("storage failure")
	ErrNotFound         = errors.New("not found")
)
