// Package bookmaker dispatches withdrawal code checks, payouts and deposit
// credits to bookmaker-specific APIs.
package bookmaker

import (
	"context"

	"github.com/shopspring/decimal"
)

// CheckResult is the outcome of a withdrawal code check. Amount is always
// positive. AlreadyExecuted means the check itself moved the money and
// ExecutePayout must not be called for the code.
type CheckResult struct {
	Amount          decimal.Decimal `json:"amount"`
	AlreadyExecuted bool            `json:"already_executed"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	Message         string          `json:"message,omitempty"`
}

type PayoutResult struct {
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Message       string          `json:"message,omitempty"`
}

type CreditResult struct {
	TransactionID string `json:"transaction_id,omitempty"`
	Message       string `json:"message,omitempty"`
}

// WithdrawalAdapter is the per-bookmaker withdrawal contract.
type WithdrawalAdapter interface {
	// ExecutesOnCheck is true for protocols where CheckCode performs the payout.
	ExecutesOnCheck() bool
	CheckCode(ctx context.Context, accountID, code string) (CheckResult, error)
	ExecutePayout(ctx context.Context, accountID, code string, amount decimal.Decimal) (PayoutResult, error)
}

// Creditor tops up a player's casino balance after a deposit is paid.
type Creditor interface {
	Credit(ctx context.Context, accountID string, amount decimal.Decimal, requestID int64) (CreditResult, error)
}

// Adapter is implemented by every concrete bookmaker integration.
type Adapter interface {
	WithdrawalAdapter
	Creditor
}

// CodeLedger is the persisted history of withdrawal codes.
type CodeLedger interface {
	// PriorUse reports whether another request already used the triple.
	PriorUse(ctx context.Context, bookmaker, accountID, code string, requestID int64) (bool, error)
	// Consume atomically records the code as spent by requestID; false means
	// someone else owns it.
	Consume(ctx context.Context, bookmaker, accountID, code string, requestID int64) (bool, error)
	// Release drops the consumption owned by requestID.
	Release(ctx context.Context, bookmaker, code string, requestID int64) error
}

// Attempt identifies one withdrawal code use.
type Attempt struct {
	Bookmaker string
	AccountID string
	Code      string
	RequestID int64
}
