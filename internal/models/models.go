package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Request is a user-initiated deposit or withdrawal intent. Amount is always in KGS.
type Request struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	RequestType    string          `json:"request_type"`
	Bookmaker      string          `json:"bookmaker"`
	AccountID      string          `json:"account_id"`
	Amount         decimal.Decimal `json:"amount"`
	Status         string          `json:"status"`
	StatusDetail   *string         `json:"status_detail,omitempty"`
	ProcessedBy    *string         `json:"processed_by,omitempty"`
	Source         string          `json:"source"`
	WithdrawalCode *string         `json:"withdrawal_code,omitempty"`
	CorrelationKey *string         `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
}

// PaymentRecord is a provider's record of a paid invoice, keyed by InvoiceID.
type PaymentRecord struct {
	InvoiceID       string          `json:"invoice_id"`
	Provider        string          `json:"provider"`
	Hash            string          `json:"hash"`
	Amount          decimal.Decimal `json:"amount"`
	Asset           string          `json:"asset"`
	FeeAmount       decimal.Decimal `json:"fee_amount"`
	Payload         string          `json:"payload,omitempty"`
	RequestID       *int64          `json:"request_id,omitempty"`
	Status          string          `json:"status"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	CreditClaimedAt *time.Time      `json:"credit_claimed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ExchangeRate is a point-in-time quote. It is never persisted.
type ExchangeRate struct {
	Source     string          `json:"source"`
	Target     string          `json:"target"`
	Rate       decimal.Decimal `json:"rate"`
	IsValid    bool            `json:"is_valid"`
	ObservedAt time.Time       `json:"observed_at"`
}

// CodeConsumption records that a withdrawal code was handed to a bookmaker.
type CodeConsumption struct {
	Bookmaker  string    `json:"bookmaker"`
	Code       string    `json:"code"`
	AccountID  string    `json:"account_id"`
	RequestID  int64     `json:"request_id"`
	ConsumedAt time.Time `json:"consumed_at"`
}
