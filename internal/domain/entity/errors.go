package entity

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across services and adapters. Callers wrap them with
// context and match with errors.Is; the HTTP adapter maps them to status codes.
var (
	ErrInvalidOrder       = errors.New("invalid order")
	ErrWalletNotConnected = errors.New("wallet not connected")
	ErrUnknownContract    = errors.New("unknown contract")
	ErrNotFound           = errors.New("not found")
	ErrDuplicateOrder     = errors.New("duplicate client order id")
	ErrRateLimited        = errors.New("rate limited")
	ErrInvalidProof       = errors.New("invalid proof")
	ErrNotCrossing        = errors.New("orders do not cross")
	ErrOrderClosed        = errors.New("order is not open")
	ErrForbidden          = errors.New("forbidden")
	ErrUpstream           = errors.New("upstream failure")
)

// ErrSelfTrade rejects an order or match that would trade a wallet against itself.
var ErrSelfTrade = fmt.Errorf("%w: self-trade", ErrInvalidOrder)
