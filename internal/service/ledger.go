package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/domain"
	"github.com/ayo6706/cashdesk-gateway/internal/models"
	"github.com/ayo6706/cashdesk-gateway/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// PaymentInput carries the provider attributes of a paid invoice.
type PaymentInput struct {
	InvoiceID string
	Provider  string
	Hash      string
	Amount    decimal.Decimal
	Asset     string
	FeeAmount decimal.Decimal
	Payload   string
	Status    string
	PaidAt    *time.Time
}

// PaymentLedger is the idempotent store of provider payment records. The
// invoice id is the idempotency key and uniqueness is enforced by the database.
type PaymentLedger struct {
	store QueryStore
}

func NewPaymentLedger(store QueryStore) *PaymentLedger {
	return &PaymentLedger{store: store}
}

// Upsert records a payment. inserted is false on redelivery, in which case
// only status and paid_at are refreshed.
func (l *PaymentLedger) Upsert(ctx context.Context, in PaymentInput) (models.PaymentRecord, bool, error) {
	in.InvoiceID = strings.TrimSpace(in.InvoiceID)
	if in.InvoiceID == "" {
		return models.PaymentRecord{}, false, errors.New("invoice id is required")
	}
	if !in.Amount.IsPositive() {
		return models.PaymentRecord{}, false, fmt.Errorf("invoice %s amount %s: %w", in.InvoiceID, in.Amount, domain.ErrAmountInvalid)
	}
	in.Asset = domain.NormalizeCurrency(in.Asset)
	in.Status = strings.ToLower(strings.TrimSpace(in.Status))

	rec, inserted, err := l.store.Queries().UpsertPayment(ctx, repository.UpsertPaymentParams{
		InvoiceID: in.InvoiceID,
		Provider:  in.Provider,
		Hash:      in.Hash,
		Amount:    in.Amount,
		Asset:     in.Asset,
		FeeAmount: in.FeeAmount,
		Payload:   in.Payload,
		Status:    in.Status,
		PaidAt:    in.PaidAt,
	})
	if err != nil {
		return models.PaymentRecord{}, false, fmt.Errorf("upsert payment %s: %w", in.InvoiceID, err)
	}
	return rec, inserted, nil
}

// ByInvoice looks up a payment record for replay detection and operators.
func (l *PaymentLedger) ByInvoice(ctx context.Context, invoiceID string) (models.PaymentRecord, error) {
	rec, err := l.store.Queries().GetPayment(ctx, invoiceID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.PaymentRecord{}, fmt.Errorf("invoice %s: %w", invoiceID, domain.ErrPaymentNotFound)
	}
	if err != nil {
		return models.PaymentRecord{}, fmt.Errorf("load payment %s: %w", invoiceID, err)
	}
	return rec, nil
}

// Bind sets the request of an unbound payment. When another writer bound it
// first, the stored record is returned with won=false and callers must use
// its binding.
func (l *PaymentLedger) Bind(ctx context.Context, invoiceID string, requestID int64) (models.PaymentRecord, bool, error) {
	rows, err := l.store.Queries().BindPaymentRequest(ctx, invoiceID, requestID)
	if err != nil {
		return models.PaymentRecord{}, false, fmt.Errorf("bind payment %s: %w", invoiceID, err)
	}
	rec, err := l.ByInvoice(ctx, invoiceID)
	if err != nil {
		return models.PaymentRecord{}, false, err
	}
	return rec, rows == 1, nil
}

// ClaimCredit grants the single right to call the casino credit for the payment.
func (l *PaymentLedger) ClaimCredit(ctx context.Context, invoiceID string) (bool, error) {
	ok, err := l.store.Queries().ClaimPaymentCredit(ctx, invoiceID)
	if err != nil {
		return false, fmt.Errorf("claim credit for %s: %w", invoiceID, err)
	}
	return ok, nil
}
