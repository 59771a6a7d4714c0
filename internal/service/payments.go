package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/ayo6706/cashdesk-gateway/internal/domain"
	"github.com/ayo6706/cashdesk-gateway/internal/models"
)

const maxUnmatchedPage = 500

// PaymentService exposes operator views over the payment ledger.
type PaymentService struct {
	store        QueryStore
	ledger       *PaymentLedger
	orchestrator *DepositOrchestrator
	audit        *AuditService
}

func NewPaymentService(store QueryStore, ledger *PaymentLedger, orchestrator *DepositOrchestrator) *PaymentService {
	return &PaymentService{
		store:        store,
		ledger:       ledger,
		orchestrator: orchestrator,
		audit:        NewAuditService(store),
	}
}

func (s *PaymentService) ListUnmatched(ctx context.Context, limit, offset int32) ([]models.PaymentRecord, error) {
	if limit <= 0 || limit > maxUnmatchedPage {
		limit = maxUnmatchedPage
	}
	if offset < 0 {
		offset = 0
	}
	out, err := s.store.Queries().ListUnmatchedPayments(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list unmatched payments: %w", err)
	}
	return out, nil
}

// BindManually attaches an unmatched payment to a deposit request and settles
// it. A payment that is already bound keeps its binding.
func (s *PaymentService) BindManually(ctx context.Context, invoiceID string, requestID int64, operatorID string) (*WebhookResult, error) {
	q := s.store.Queries()
	rec, err := s.ledger.ByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if rec.RequestID != nil && *rec.RequestID != requestID {
		return nil, fmt.Errorf("payment %s already bound to request %d: %w", invoiceID, *rec.RequestID, domain.ErrInvalidTransition)
	}
	req, err := loadRequest(ctx, q, requestID)
	if err != nil {
		return nil, err
	}
	if req.RequestType != domain.RequestTypeDeposit {
		return nil, fmt.Errorf("request %d is not a deposit: %w", requestID, domain.ErrInvalidTransition)
	}
	if rec.RequestID == nil {
		free, err := claimable(ctx, q, req, invoiceID)
		if err != nil {
			return nil, err
		}
		if !free {
			return nil, fmt.Errorf("request %d is %s or already paid: %w", requestID, req.Status, domain.ErrInvalidTransition)
		}
	}

	rec, won, err := s.ledger.Bind(ctx, invoiceID, requestID)
	if err != nil {
		return nil, err
	}
	if rec.RequestID == nil || *rec.RequestID != requestID {
		return nil, fmt.Errorf("payment %s bound concurrently: %w", invoiceID, domain.ErrInvalidTransition)
	}
	if won {
		if err := s.audit.Write(ctx, q, "payment", invoiceID, operatorID, "bind", "", strconv.FormatInt(requestID, 10), nil); err != nil {
			return nil, err
		}
	}

	result := &WebhookResult{InvoiceID: invoiceID, Duplicate: !won, RequestID: &req.ID, Match: MatchExplicit}
	outcome, err := s.orchestrator.Process(ctx, req, rec)
	result.Outcome = outcome
	if err != nil && !errors.Is(err, domain.ErrRateUnavailable) {
		return result, err
	}
	return result, nil
}

// AllUnmatched pages through every unmatched payment, for export.
func (s *PaymentService) AllUnmatched(ctx context.Context) ([]models.PaymentRecord, error) {
	var out []models.PaymentRecord
	for offset := int32(0); ; offset += maxUnmatchedPage {
		page, err := s.ListUnmatched(ctx, maxUnmatchedPage, offset)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < maxUnmatchedPage {
			return out, nil
		}
	}
}
