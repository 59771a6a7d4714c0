package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const paymentColumns = `invoice_id, provider, hash, amount, asset, fee_amount, payload, request_id, status,
	paid_at, credit_claimed_at, created_at, updated_at`

func scanPayment(row pgx.Row) (models.PaymentRecord, error) {
	var p models.PaymentRecord
	err := row.Scan(
		&p.InvoiceID, &p.Provider, &p.Hash, &p.Amount, &p.Asset, &p.FeeAmount, &p.Payload, &p.RequestID, &p.Status,
		&p.PaidAt, &p.CreditClaimedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

func collectPayments(rows pgx.Rows) ([]models.PaymentRecord, error) {
	defer rows.Close()
	var out []models.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type UpsertPaymentParams struct {
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

// UpsertPayment inserts a payment record or, on redelivery, refreshes only its
// mutable fields. The bool result is true when the row was newly inserted.
func (q *Queries) UpsertPayment(ctx context.Context, arg UpsertPaymentParams) (models.PaymentRecord, bool, error) {
	query := `
		INSERT INTO payment_records (invoice_id, provider, hash, amount, asset, fee_amount, payload, status, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (invoice_id) DO UPDATE
		SET status = EXCLUDED.status,
			paid_at = COALESCE(payment_records.paid_at, EXCLUDED.paid_at),
			updated_at = NOW()
		RETURNING ` + paymentColumns + `, (xmax = 0) AS inserted`
	var p models.PaymentRecord
	var inserted bool
	err := q.db.QueryRow(ctx, query,
		arg.InvoiceID, arg.Provider, arg.Hash, arg.Amount, arg.Asset, arg.FeeAmount, arg.Payload, arg.Status, arg.PaidAt,
	).Scan(
		&p.InvoiceID, &p.Provider, &p.Hash, &p.Amount, &p.Asset, &p.FeeAmount, &p.Payload, &p.RequestID, &p.Status,
		&p.PaidAt, &p.CreditClaimedAt, &p.CreatedAt, &p.UpdatedAt, &inserted,
	)
	if err != nil {
		return models.PaymentRecord{}, false, err
	}
	return p, inserted, nil
}

func (q *Queries) GetPayment(ctx context.Context, invoiceID string) (models.PaymentRecord, error) {
	return scanPayment(q.db.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payment_records WHERE invoice_id = $1`, invoiceID))
}

// BindPaymentRequest sets request_id once. Zero affected rows means another
// writer bound the payment first.
func (q *Queries) BindPaymentRequest(ctx context.Context, invoiceID string, requestID int64) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE payment_records SET request_id = $2, updated_at = NOW()
		WHERE invoice_id = $1 AND request_id IS NULL`,
		invoiceID, requestID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ClaimPaymentCredit marks the payment as the subject of a casino credit call.
// Exactly one caller ever gets true for a given invoice.
func (q *Queries) ClaimPaymentCredit(ctx context.Context, invoiceID string) (bool, error) {
	var claimed string
	err := q.db.QueryRow(ctx, `
		UPDATE payment_records SET credit_claimed_at = NOW(), updated_at = NOW()
		WHERE invoice_id = $1 AND credit_claimed_at IS NULL
		RETURNING invoice_id`,
		invoiceID,
	).Scan(&claimed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (q *Queries) ListUnmatchedPayments(ctx context.Context, limit, offset int32) ([]models.PaymentRecord, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payment_records
		WHERE request_id IS NULL
		ORDER BY created_at
		LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

// ListRetryablePayments returns bound, unclaimed paid payments whose deposit
// request is still pending, least recently attempted first.
func (q *Queries) ListRetryablePayments(ctx context.Context, limit int32) ([]models.PaymentRecord, error) {
	rows, err := q.db.Query(ctx, `
		SELECT p.invoice_id, p.provider, p.hash, p.amount, p.asset, p.fee_amount, p.payload, p.request_id, p.status,
			p.paid_at, p.credit_claimed_at, p.created_at, p.updated_at
		FROM payment_records p
		JOIN requests r ON r.id = p.request_id
		WHERE p.credit_claimed_at IS NULL
			AND p.status = 'paid'
			AND r.request_type = 'deposit'
			AND r.status = 'pending'
		ORDER BY p.updated_at, p.invoice_id
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

// TouchPaymentRetry records a settlement attempt so the next sweep moves on
// to other payments first.
func (q *Queries) TouchPaymentRetry(ctx context.Context, invoiceID string) error {
	_, err := q.db.Exec(ctx, `UPDATE payment_records SET updated_at = NOW() WHERE invoice_id = $1`, invoiceID)
	return err
}

// CountPaidPaymentsForRequest counts paid payments bound to requestID other
// than exceptInvoiceID.
func (q *Queries) CountPaidPaymentsForRequest(ctx context.Context, requestID int64, exceptInvoiceID string) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM payment_records
		WHERE request_id = $1 AND status = 'paid' AND invoice_id <> $2`,
		requestID, exceptInvoiceID,
	).Scan(&n)
	return n, err
}
