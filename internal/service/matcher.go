package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/domain"
	"github.com/ayo6706/cashdesk-gateway/internal/models"
	"github.com/ayo6706/cashdesk-gateway/internal/observability"
	"github.com/ayo6706/cashdesk-gateway/internal/repository"
	"go.uber.org/zap"
)

// MatchKind says how a payment was associated with a request.
type MatchKind string

const (
	MatchExisting   MatchKind = "existing"
	MatchExplicit   MatchKind = "explicit"
	MatchAmount     MatchKind = "amount"
	MatchOriginated MatchKind = "originated"
	MatchUnmatched  MatchKind = "unmatched"
)

type MatchResult struct {
	Kind    MatchKind
	Request *models.Request
	Payment models.PaymentRecord
}

// RequestMatcher binds payments to deposit requests. The binding is persisted
// on the payment record so redeliveries never re-run resolution.
type RequestMatcher struct {
	store  QueryStore
	ledger *PaymentLedger
	audit  *AuditService
	window time.Duration
	now    func() time.Time
}

func NewRequestMatcher(store QueryStore, ledger *PaymentLedger, amountWindow time.Duration) *RequestMatcher {
	if amountWindow <= 0 {
		amountWindow = 30 * time.Minute
	}
	return &RequestMatcher{
		store:  store,
		ledger: ledger,
		audit:  NewAuditService(store),
		window: amountWindow,
		now:    time.Now,
	}
}

// Match resolves the request for payment in order: existing binding, explicit
// correlation id, unique pending deposit with the same settlement amount, and
// finally origination from the event's own identity. Explicit and amount
// matches only bind to pending deposits no other paid payment holds.
func (m *RequestMatcher) Match(ctx context.Context, payment models.PaymentRecord, ev CorrelatableEvent) (MatchResult, error) {
	q := m.store.Queries()

	if payment.RequestID != nil {
		req, err := loadRequest(ctx, q, *payment.RequestID)
		if err != nil {
			return MatchResult{}, err
		}
		return MatchResult{Kind: MatchExisting, Request: &req, Payment: payment}, nil
	}

	if id, ok := ev.CorrelationID(); ok {
		req, err := loadRequest(ctx, q, id)
		switch {
		case err == nil:
			free, err := claimable(ctx, q, req, payment.InvoiceID)
			if err != nil {
				return MatchResult{}, err
			}
			if free {
				return m.bind(ctx, payment, req, MatchExplicit)
			}
			zap.L().Warn("payment refers to a request that cannot take it",
				zap.String("invoice_id", payment.InvoiceID),
				zap.Int64("request_id", id),
				zap.String("request_type", req.RequestType),
				zap.String("status", req.Status),
			)
		case errors.Is(err, domain.ErrRequestNotFound):
			zap.L().Warn("payment refers to unknown request",
				zap.String("invoice_id", payment.InvoiceID), zap.Int64("request_id", id))
		default:
			return MatchResult{}, err
		}
	}

	if am, ok := ev.(AmountMatchable); ok {
		if amount, ok := am.SettlementAmount(); ok {
			candidates, err := q.FindPendingDepositsByAmount(ctx, domain.RoundSettlement(amount), m.now().Add(-m.window))
			if err != nil {
				return MatchResult{}, fmt.Errorf("find deposits by amount: %w", err)
			}
			if len(candidates) == 1 {
				return m.bind(ctx, payment, candidates[0], MatchAmount)
			}
			if len(candidates) > 1 {
				zap.L().Info("amount match is ambiguous", zap.String("invoice_id", payment.InvoiceID))
			}
		}
	}

	if orig, ok := ev.(Originator); ok {
		if identity, ok := orig.Identity(); ok {
			req, err := m.originate(ctx, identity)
			if err != nil {
				return MatchResult{}, err
			}
			return m.bind(ctx, payment, req, MatchOriginated)
		}
	}

	// A concurrent delivery of the same payment may have bound it meanwhile.
	current, err := m.ledger.ByInvoice(ctx, payment.InvoiceID)
	if err != nil {
		return MatchResult{}, err
	}
	if current.RequestID != nil {
		req, err := loadRequest(ctx, q, *current.RequestID)
		if err != nil {
			return MatchResult{}, err
		}
		return MatchResult{Kind: MatchExisting, Request: &req, Payment: current}, nil
	}

	observability.IncrementUnmatchedPayment()
	zap.L().Warn("payment left unmatched",
		zap.String("invoice_id", payment.InvoiceID),
		zap.String("provider", payment.Provider),
		zap.String("amount", payment.Amount.String()),
		zap.String("asset", payment.Asset),
	)
	return MatchResult{Kind: MatchUnmatched, Payment: payment}, nil
}

// claimable reports whether a payment may be bound to req: only a pending
// deposit that no other paid payment is bound to.
func claimable(ctx context.Context, q repository.Querier, req models.Request, invoiceID string) (bool, error) {
	if req.RequestType != domain.RequestTypeDeposit || req.Status != domain.StatusPending {
		return false, nil
	}
	n, err := q.CountPaidPaymentsForRequest(ctx, req.ID, invoiceID)
	if err != nil {
		return false, fmt.Errorf("count payments for request %d: %w", req.ID, err)
	}
	return n == 0, nil
}

// bind persists the binding. If a concurrent writer bound the payment to a
// different request first, its binding wins.
func (m *RequestMatcher) bind(ctx context.Context, payment models.PaymentRecord, req models.Request, kind MatchKind) (MatchResult, error) {
	rec, won, err := m.ledger.Bind(ctx, payment.InvoiceID, req.ID)
	if err != nil {
		return MatchResult{}, err
	}
	if !won {
		if rec.RequestID == nil {
			return MatchResult{}, fmt.Errorf("payment %s lost bind race but has no request", payment.InvoiceID)
		}
		if *rec.RequestID != req.ID {
			winner, err := loadRequest(ctx, m.store.Queries(), *rec.RequestID)
			if err != nil {
				return MatchResult{}, err
			}
			req = winner
		}
		kind = MatchExisting
	}
	return MatchResult{Kind: kind, Request: &req, Payment: rec}, nil
}

// originate creates (or, under a race, reads back) the request keyed by the
// identity's correlation key.
func (m *RequestMatcher) originate(ctx context.Context, id RequestIdentity) (models.Request, error) {
	key := id.CorrelationKey
	var req models.Request
	err := m.store.RunInTx(ctx, func(q repository.Querier) error {
		var created bool
		var err error
		req, created, err = q.CreateRequestIfAbsent(ctx, repository.CreateRequestParams{
			UserID:         id.UserID,
			RequestType:    domain.RequestTypeDeposit,
			Bookmaker:      id.Bookmaker,
			AccountID:      id.AccountID,
			Amount:         domain.RoundSettlement(id.Amount),
			Status:         domain.StatusPending,
			Source:         id.Source,
			CorrelationKey: &key,
		})
		if err != nil {
			return fmt.Errorf("originate request: %w", err)
		}
		if !created {
			return nil
		}
		return m.audit.Write(ctx, q, "request", strconv.FormatInt(req.ID, 10), domain.ProcessedByAutopayment, "originated", "", domain.StatusPending, nil)
	})
	if err != nil {
		return models.Request{}, err
	}
	return req, nil
}
