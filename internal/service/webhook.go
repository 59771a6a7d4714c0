package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/cashdesk-gateway/internal/domain"
	"github.com/ayo6706/cashdesk-gateway/internal/notify"
	"github.com/ayo6706/cashdesk-gateway/internal/observability"
	"github.com/ayo6706/cashdesk-gateway/internal/signature"
	"go.uber.org/zap"
)

var ErrInvalidPayload = errors.New("invalid webhook payload")

// WebhookService ingests provider webhooks: verify, record, match, settle.
type WebhookService struct {
	ledger         *PaymentLedger
	matcher        *RequestMatcher
	orchestrator   *DepositOrchestrator
	store          QueryStore
	sink           notify.Sink
	operatorChatID int64
	cryptoVerifier *signature.Verifier
	bankVerifier   *signature.Verifier
}

func NewWebhookService(store QueryStore, ledger *PaymentLedger, matcher *RequestMatcher, orchestrator *DepositOrchestrator, sink notify.Sink, cryptoVerifier, bankVerifier *signature.Verifier, operatorChatID int64) *WebhookService {
	return &WebhookService{
		ledger:         ledger,
		matcher:        matcher,
		orchestrator:   orchestrator,
		store:          store,
		sink:           sink,
		operatorChatID: operatorChatID,
		cryptoVerifier: cryptoVerifier,
		bankVerifier:   bankVerifier,
	}
}

// WebhookResult is returned to the provider and logged.
type WebhookResult struct {
	InvoiceID string    `json:"invoice_id,omitempty"`
	Duplicate bool      `json:"duplicate"`
	RequestID *int64    `json:"request_id,omitempty"`
	Match     MatchKind `json:"match,omitempty"`
	Outcome   Outcome   `json:"outcome"`
}

// HandleCryptoBotWebhook processes a Crypto Pay update. rawBody must be the
// unparsed request body; the signature is checked before anything is decoded.
func (s *WebhookService) HandleCryptoBotWebhook(ctx context.Context, rawBody []byte, sig string) (*WebhookResult, error) {
	if !s.cryptoVerifier.Verify(rawBody, sig) {
		observability.IncrementWebhook(domain.ProviderCryptoBot, "invalid_signature")
		return nil, domain.ErrInvalidSignature
	}

	var update CryptoUpdate
	if err := json.Unmarshal(rawBody, &update); err != nil {
		observability.IncrementWebhook(domain.ProviderCryptoBot, "invalid_payload")
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if update.UpdateType != "invoice_paid" {
		observability.IncrementWebhook(domain.ProviderCryptoBot, "ignored")
		return &WebhookResult{Outcome: OutcomeSkipped}, nil
	}
	if update.Payload.InvoiceID <= 0 {
		observability.IncrementWebhook(domain.ProviderCryptoBot, "invalid_payload")
		return nil, fmt.Errorf("%w: missing invoice_id", ErrInvalidPayload)
	}
	return s.ingest(ctx, domain.ProviderCryptoBot, CryptoInvoiceEvent{Invoice: update.Payload})
}

// HandleBankWebhook processes one transfer from the bank feed.
func (s *WebhookService) HandleBankWebhook(ctx context.Context, rawBody []byte, sig string) (*WebhookResult, error) {
	if !s.bankVerifier.Verify(rawBody, sig) {
		observability.IncrementWebhook(domain.ProviderBank, "invalid_signature")
		return nil, domain.ErrInvalidSignature
	}

	var transfer BankTransfer
	if err := json.Unmarshal(rawBody, &transfer); err != nil {
		observability.IncrementWebhook(domain.ProviderBank, "invalid_payload")
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(transfer.TransactionID) == "" {
		observability.IncrementWebhook(domain.ProviderBank, "invalid_payload")
		return nil, fmt.Errorf("%w: missing transaction_id", ErrInvalidPayload)
	}
	return s.ingest(ctx, domain.ProviderBank, BankTransferEvent{Transfer: transfer})
}

func (s *WebhookService) ingest(ctx context.Context, provider string, ev CorrelatableEvent) (*WebhookResult, error) {
	rec, inserted, err := s.ledger.Upsert(ctx, ev.Payment())
	if err != nil {
		if errors.Is(err, domain.ErrAmountInvalid) {
			observability.IncrementWebhook(provider, "invalid_payload")
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		observability.IncrementWebhook(provider, "error")
		return nil, err
	}
	result := &WebhookResult{InvoiceID: rec.InvoiceID, Duplicate: !inserted}

	match, err := s.matcher.Match(ctx, rec, ev)
	if err != nil {
		observability.IncrementWebhook(provider, "error")
		return nil, err
	}
	result.Match = match.Kind
	if match.Kind == MatchUnmatched {
		result.Outcome = OutcomeUnmatched
		if inserted {
			s.alertOperator(fmt.Sprintf("Unmatched %s payment %s: %s %s", provider, rec.InvoiceID, rec.Amount.String(), rec.Asset))
		}
		observability.IncrementWebhook(provider, string(OutcomeUnmatched))
		return result, nil
	}
	result.RequestID = &match.Request.ID

	outcome, err := s.orchestrator.Process(ctx, *match.Request, match.Payment)
	result.Outcome = outcome
	observability.IncrementWebhook(provider, string(outcome))
	if errors.Is(err, domain.ErrRateUnavailable) {
		return result, nil
	}
	if err != nil {
		return result, err
	}

	zap.L().Info("payment webhook processed",
		zap.String("provider", provider),
		zap.String("invoice_id", rec.InvoiceID),
		zap.Bool("duplicate", result.Duplicate),
		zap.String("match", string(result.Match)),
		zap.String("outcome", string(outcome)),
	)
	return result, nil
}

// RetryPending re-runs settlement for bound, paid payments whose deposit is
// still pending and whose credit was never attempted, e.g. after a rate outage.
// Each attempt bumps the payment to the back of the queue.
func (s *WebhookService) RetryPending(ctx context.Context, limit int32) (int, error) {
	q := s.store.Queries()
	payments, err := q.ListRetryablePayments(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list retryable payments: %w", err)
	}

	settled := 0
	for _, p := range payments {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		if p.RequestID == nil {
			continue
		}
		if err := q.TouchPaymentRetry(ctx, p.InvoiceID); err != nil {
			zap.L().Warn("retry: touch payment failed", zap.String("invoice_id", p.InvoiceID), zap.Error(err))
		}
		req, err := loadRequest(ctx, q, *p.RequestID)
		if err != nil {
			zap.L().Warn("retry: load request failed", zap.String("invoice_id", p.InvoiceID), zap.Error(err))
			continue
		}
		outcome, err := s.orchestrator.Process(ctx, req, p)
		if err != nil && !errors.Is(err, domain.ErrRateUnavailable) {
			zap.L().Error("retry: settlement failed", zap.String("invoice_id", p.InvoiceID), zap.Error(err))
			continue
		}
		if outcome == OutcomeCredited || outcome == OutcomeCreditFailed {
			settled++
		}
	}
	return settled, nil
}

func (s *WebhookService) alertOperator(text string) {
	if s.operatorChatID == 0 {
		return
	}
	s.sink.Enqueue(notify.Message{ChatID: s.operatorChatID, Text: text})
}
