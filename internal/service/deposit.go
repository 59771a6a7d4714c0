package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/bookmaker"
	"github.com/ayo6706/cashdesk-gateway/internal/domain"
	"github.com/ayo6706/cashdesk-gateway/internal/models"
	"github.com/ayo6706/cashdesk-gateway/internal/notify"
	"github.com/ayo6706/cashdesk-gateway/internal/rates"
	"github.com/ayo6706/cashdesk-gateway/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Outcome is the result of driving one payment through the deposit flow.
type Outcome string

const (
	OutcomeCredited        Outcome = "credited"
	OutcomeCreditFailed    Outcome = "credit_failed"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeSkipped         Outcome = "skipped"
	OutcomeNotPaid         Outcome = "not_paid"
	OutcomeRateUnavailable Outcome = "rate_unavailable"
	OutcomeUnmatched       Outcome = "unmatched"
)

// RateConverter converts an amount between currencies without rounding.
type RateConverter interface {
	Convert(ctx context.Context, amount decimal.Decimal, source, target string) (decimal.Decimal, rates.Rate, error)
}

// CasinoCreditor tops up a bookmaker account.
type CasinoCreditor interface {
	Credit(ctx context.Context, bookmaker, accountID string, amount decimal.Decimal, requestID int64) (bookmaker.CreditResult, error)
}

// DepositOrchestrator settles a matched payment: amount in KGS, casino credit,
// status transition, notification.
type DepositOrchestrator struct {
	store          QueryStore
	ledger         *PaymentLedger
	rates          RateConverter
	casino         CasinoCreditor
	sink           notify.Sink
	audit          *AuditService
	operatorChatID int64
	creditTimeout  time.Duration
	writeAttempts  int
	writeBackoff   time.Duration
}

type DepositOption func(*DepositOrchestrator)

func WithOperatorChat(chatID int64) DepositOption {
	return func(o *DepositOrchestrator) { o.operatorChatID = chatID }
}

func WithCreditTimeout(d time.Duration) DepositOption {
	return func(o *DepositOrchestrator) {
		if d > 0 {
			o.creditTimeout = d
		}
	}
}

// WithStatusWriteRetry sets how often the post-credit status write is tried.
func WithStatusWriteRetry(attempts int, backoff time.Duration) DepositOption {
	return func(o *DepositOrchestrator) {
		if attempts > 0 {
			o.writeAttempts = attempts
		}
		o.writeBackoff = backoff
	}
}

func NewDepositOrchestrator(store QueryStore, ledger *PaymentLedger, converter RateConverter, casino CasinoCreditor, sink notify.Sink, opts ...DepositOption) *DepositOrchestrator {
	o := &DepositOrchestrator{
		store:         store,
		ledger:        ledger,
		rates:         converter,
		casino:        casino,
		sink:          sink,
		audit:         NewAuditService(store),
		creditTimeout: 10 * time.Second,
		writeAttempts: 3,
		writeBackoff:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process settles payment against req. The casino credit is attempted at most
// once per payment and always before any status that suggests completion.
// ErrRateUnavailable is returned when no KGS amount can be determined; the
// request then only gains a rate_unavailable detail.
func (o *DepositOrchestrator) Process(ctx context.Context, req models.Request, payment models.PaymentRecord) (Outcome, error) {
	log := zap.L().With(zap.Int64("request_id", req.ID), zap.String("invoice_id", payment.InvoiceID))

	if payment.Status != domain.PaymentStatusPaid {
		return OutcomeNotPaid, nil
	}
	if req.RequestType != domain.RequestTypeDeposit || req.Status != domain.StatusPending {
		if payment.CreditClaimedAt == nil {
			o.flagUnclaimed(ctx, req, payment)
		}
		return OutcomeSkipped, nil
	}
	if payment.CreditClaimedAt != nil {
		return OutcomeDuplicate, nil
	}

	amount, detail, err := o.settlementAmount(ctx, req, payment)
	if err != nil {
		log.Warn("settlement amount unavailable, leaving request for next cycle", zap.Error(err))
		if errors.Is(err, domain.ErrRateUnavailable) {
			o.markRateUnavailable(ctx, req)
		}
		return OutcomeRateUnavailable, err
	}

	claimed, err := o.ledger.ClaimCredit(ctx, payment.InvoiceID)
	if err != nil {
		return "", err
	}
	if !claimed {
		return OutcomeDuplicate, nil
	}

	// The claim is never released: past this point a failed credit goes to
	// operators instead of being retried automatically.
	creditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.creditTimeout)
	res, creditErr := o.casino.Credit(creditCtx, req.Bookmaker, req.AccountID, amount, req.ID)
	cancel()

	writeCtx := context.WithoutCancel(ctx)
	if creditErr != nil {
		reason := fmt.Sprintf("%s: %v", domain.DetailCreditFailed, creditErr)
		if !domain.IsDefiniteRefusal(creditErr) {
			reason += " (verify at casino)"
		}
		log.Error("casino credit failed", zap.Error(creditErr))
		if err := o.writeStatus(writeCtx, req.ID, domain.StatusAutoCompleted, &reason, amount, "credit_failed"); err != nil {
			o.alertOperator(fmt.Sprintf("Deposit #%d: credit failed and status write failed: %v", req.ID, err))
			return OutcomeCreditFailed, err
		}
		o.alertOperator(fmt.Sprintf("Deposit #%d (%s / %s, %s) needs manual crediting: %v",
			req.ID, req.Bookmaker, req.AccountID, domain.FormatSettlement(amount), creditErr))
		o.sink.Enqueue(notify.Message{
			ChatID: req.UserID,
			Text:   fmt.Sprintf("Payment for request #%d received. Crediting is being completed by an operator.", req.ID),
		})
		return OutcomeCreditFailed, nil
	}

	if err := o.writeStatus(writeCtx, req.ID, domain.StatusAutodepositSuccess, detail, amount, "credited"); err != nil {
		log.Error("casino credited but status write failed", zap.String("casino_tx", res.TransactionID), zap.Error(err))
		o.alertOperator(fmt.Sprintf("Deposit #%d was credited (%s) but its status could not be saved: %v",
			req.ID, domain.FormatSettlement(amount), err))
		return OutcomeCredited, err
	}

	log.Info("deposit credited", zap.String("amount", amount.String()), zap.String("casino_tx", res.TransactionID))
	o.sink.Enqueue(notify.Message{
		ChatID: req.UserID,
		Text: fmt.Sprintf("Deposit of %s credited to your %s account %s.",
			domain.FormatSettlement(amount), req.Bookmaker, req.AccountID),
	})
	return OutcomeCredited, nil
}

// settlementAmount prefers the KGS amount quoted in the invoice payload, then
// a fresh conversion, then the request's own amount (flagged in detail).
func (o *DepositOrchestrator) settlementAmount(ctx context.Context, req models.Request, payment models.PaymentRecord) (decimal.Decimal, *string, error) {
	if quoted, ok := quotedSettlementAmount(payment.Payload); ok {
		return domain.RoundSettlement(quoted), nil, nil
	}
	if domain.NormalizeCurrency(payment.Asset) == domain.SettlementCurrency {
		return domain.RoundSettlement(payment.Amount), nil, nil
	}

	converted, _, err := o.rates.Convert(ctx, payment.Amount, payment.Asset, domain.SettlementCurrency)
	if err == nil {
		return domain.RoundSettlement(converted), nil, nil
	}
	if !errors.Is(err, domain.ErrRateUnavailable) {
		return decimal.Zero, nil, err
	}
	if req.Amount.IsPositive() {
		detail := domain.DetailRateFallback
		return domain.RoundSettlement(req.Amount), &detail, nil
	}
	return decimal.Zero, nil, err
}

func (o *DepositOrchestrator) writeStatus(ctx context.Context, requestID int64, to string, detail *string, amount decimal.Decimal, action string) error {
	var err error
	for attempt := 1; attempt <= o.writeAttempts; attempt++ {
		_, err = transitionRequest(ctx, o.store, o.audit, requestTransition{
			RequestID:     requestID,
			To:            to,
			Detail:        detail,
			Actor:         domain.ProcessedByAutopayment,
			Amount:        decimal.NullDecimal{Decimal: amount, Valid: true},
			MarkProcessed: true,
			Action:        action,
		})
		if err == nil || errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrRequestNotFound) {
			return err
		}
		zap.L().Warn("request status write failed",
			zap.Int64("request_id", requestID), zap.Int("attempt", attempt), zap.Error(err))
		if attempt < o.writeAttempts && o.writeBackoff > 0 {
			time.Sleep(o.writeBackoff * time.Duration(attempt))
		}
	}
	return err
}

// flagUnclaimed surfaces a paid payment that reached a request no longer
// awaiting it. Terminal requests keep their detail.
func (o *DepositOrchestrator) flagUnclaimed(ctx context.Context, req models.Request, payment models.PaymentRecord) {
	zap.L().Warn("paid payment reached a request that is not a pending deposit",
		zap.Int64("request_id", req.ID),
		zap.String("invoice_id", payment.InvoiceID),
		zap.String("request_type", req.RequestType),
		zap.String("status", req.Status),
	)
	if !domain.IsTerminal(req.Status) {
		detail := domain.DetailUnclaimedPayment + ":" + payment.InvoiceID
		_, err := o.store.Queries().UpdateRequestDetail(ctx, repository.UpdateRequestDetailParams{
			ID:           req.ID,
			StatusDetail: &detail,
			OnlyStatuses: []string{req.Status},
		})
		if err != nil {
			zap.L().Error("flag unclaimed payment", zap.Int64("request_id", req.ID), zap.Error(err))
		}
	}
	o.alertOperator(fmt.Sprintf("Payment %s (%s %s) arrived for request #%d which is %s; it was not credited.",
		payment.InvoiceID, payment.Amount.String(), payment.Asset, req.ID, req.Status))
}

// markRateUnavailable records why the request is still pending. Status and
// amount are left alone so the sweeper can settle it later.
func (o *DepositOrchestrator) markRateUnavailable(ctx context.Context, req models.Request) {
	detail := domain.DetailRateUnavailable
	_, err := o.store.Queries().UpdateRequestDetail(ctx, repository.UpdateRequestDetailParams{
		ID:           req.ID,
		StatusDetail: &detail,
		OnlyStatuses: []string{domain.StatusPending},
	})
	if err != nil {
		zap.L().Error("flag rate unavailable", zap.Int64("request_id", req.ID), zap.Error(err))
	}
}

func (o *DepositOrchestrator) alertOperator(text string) {
	if o.operatorChatID == 0 {
		return
	}
	o.sink.Enqueue(notify.Message{ChatID: o.operatorChatID, Text: text})
}
