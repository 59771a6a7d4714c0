package bookmaker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/config"
	"github.com/ayo6706/cashdesk-gateway/internal/domain"
	"github.com/ayo6706/cashdesk-gateway/internal/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Registry resolves bookmaker adapters and guards every money-moving
// withdrawal call with the code ledger.
type Registry struct {
	adapters map[string]Adapter
	ledger   CodeLedger
}

// NewRegistry builds one adapter per configured bookmaker. settings is read
// once at startup and never consulted again.
func NewRegistry(settings config.BookmakerSettings, ledger CodeLedger, timeout time.Duration) (*Registry, error) {
	r := &Registry{adapters: make(map[string]Adapter, len(settings)), ledger: ledger}
	for name, creds := range settings {
		var adapter Adapter
		switch creds.Protocol {
		case config.ProtocolCashdesk:
			adapter = NewCashdeskAdapter(name, creds, timeout)
		case config.ProtocolCashpoint:
			adapter = NewCashpointAdapter(name, creds, timeout)
		case config.ProtocolAPIKey:
			adapter = NewAPIKeyAdapter(name, creds, timeout)
		default:
			return nil, fmt.Errorf("bookmaker %s: unknown protocol %q", name, creds.Protocol)
		}
		r.Register(name, adapter)
	}
	return r, nil
}

// Register adds or replaces the adapter for bookmaker.
func (r *Registry) Register(bookmaker string, adapter Adapter) {
	r.adapters[normalizeName(bookmaker)] = adapter
}

// Names lists the configured bookmakers.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Adapter(bookmaker string) (Adapter, error) {
	adapter, ok := r.adapters[normalizeName(bookmaker)]
	if !ok {
		return nil, fmt.Errorf("bookmaker %q: %w", bookmaker, domain.ErrCredentialsMissing)
	}
	return adapter, nil
}

// ExecutesOnCheck reports whether bookmaker pays out during CheckCode.
func (r *Registry) ExecutesOnCheck(bookmaker string) (bool, error) {
	adapter, err := r.Adapter(bookmaker)
	if err != nil {
		return false, err
	}
	return adapter.ExecutesOnCheck(), nil
}

// CheckCode checks a withdrawal code. The history check always runs first. For
// adapters that execute on check, the code is consumed before the call.
func (r *Registry) CheckCode(ctx context.Context, at Attempt) (CheckResult, error) {
	at = at.normalized()
	adapter, err := r.Adapter(at.Bookmaker)
	if err != nil {
		return CheckResult{}, err
	}
	if err := r.ensureUnused(ctx, at); err != nil {
		return CheckResult{}, err
	}

	executes := adapter.ExecutesOnCheck()
	if executes {
		if err := r.consume(ctx, at); err != nil {
			return CheckResult{}, err
		}
	}

	res, err := adapter.CheckCode(ctx, at.AccountID, at.Code)
	if err != nil {
		if executes {
			r.releaseOnRefusal(ctx, at, err)
		}
		r.recordFailure(at, "check", err)
		return CheckResult{}, err
	}
	if !res.Amount.IsPositive() {
		observability.IncrementWithdrawal(at.Bookmaker, "invalid_amount")
		return CheckResult{}, fmt.Errorf("%s check amount %s: %w", at.Bookmaker, res.Amount, domain.ErrAmountInvalid)
	}
	res.AlreadyExecuted = executes
	if executes {
		observability.IncrementWithdrawal(at.Bookmaker, "executed")
	} else {
		observability.IncrementWithdrawal(at.Bookmaker, "checked")
	}
	return res, nil
}

// ExecutePayout runs the payout for adapters with a separate execute step.
// amount must come from a successful CheckCode.
func (r *Registry) ExecutePayout(ctx context.Context, at Attempt, amount decimal.Decimal) (PayoutResult, error) {
	at = at.normalized()
	adapter, err := r.Adapter(at.Bookmaker)
	if err != nil {
		return PayoutResult{}, err
	}
	if adapter.ExecutesOnCheck() {
		observability.IncrementWithdrawal(at.Bookmaker, "duplicate")
		return PayoutResult{}, fmt.Errorf("%s pays out on check: %w", at.Bookmaker, domain.ErrCodeAlreadyUsed)
	}
	if !amount.IsPositive() {
		return PayoutResult{}, fmt.Errorf("payout amount %s: %w", amount, domain.ErrAmountInvalid)
	}
	if err := r.ensureUnused(ctx, at); err != nil {
		return PayoutResult{}, err
	}
	if err := r.consume(ctx, at); err != nil {
		return PayoutResult{}, err
	}

	res, err := adapter.ExecutePayout(ctx, at.AccountID, at.Code, amount)
	if err != nil {
		r.releaseOnRefusal(ctx, at, err)
		r.recordFailure(at, "payout", err)
		return PayoutResult{}, err
	}
	observability.IncrementWithdrawal(at.Bookmaker, "executed")
	return res, nil
}

// Credit tops up accountID at bookmaker by amount (KGS).
func (r *Registry) Credit(ctx context.Context, bookmaker, accountID string, amount decimal.Decimal, requestID int64) (CreditResult, error) {
	bookmaker = normalizeName(bookmaker)
	adapter, err := r.Adapter(bookmaker)
	if err != nil {
		observability.IncrementCredit(bookmaker, "credentials_missing")
		return CreditResult{}, err
	}
	if !amount.IsPositive() {
		return CreditResult{}, fmt.Errorf("credit amount %s: %w", amount, domain.ErrAmountInvalid)
	}
	res, err := adapter.Credit(ctx, strings.TrimSpace(accountID), amount, requestID)
	if err != nil {
		result := "failed"
		if domain.IsDefiniteRefusal(err) {
			result = "refused"
		}
		observability.IncrementCredit(bookmaker, result)
		return CreditResult{}, err
	}
	observability.IncrementCredit(bookmaker, "success")
	return res, nil
}

func (r *Registry) ensureUnused(ctx context.Context, at Attempt) error {
	if r.ledger == nil {
		return errors.New("withdrawal code ledger is not configured")
	}
	used, err := r.ledger.PriorUse(ctx, at.Bookmaker, at.AccountID, at.Code, at.RequestID)
	if err != nil {
		return fmt.Errorf("withdrawal history lookup: %w", err)
	}
	if used {
		observability.IncrementWithdrawal(at.Bookmaker, "duplicate")
		return fmt.Errorf("%s code for account %s: %w", at.Bookmaker, at.AccountID, domain.ErrCodeAlreadyUsed)
	}
	return nil
}

func (r *Registry) consume(ctx context.Context, at Attempt) error {
	ok, err := r.ledger.Consume(ctx, at.Bookmaker, at.AccountID, at.Code, at.RequestID)
	if err != nil {
		return fmt.Errorf("consume withdrawal code: %w", err)
	}
	if !ok {
		observability.IncrementWithdrawal(at.Bookmaker, "duplicate")
		return fmt.Errorf("%s code consumed concurrently: %w", at.Bookmaker, domain.ErrCodeAlreadyUsed)
	}
	return nil
}

// releaseOnRefusal frees the code only when the provider confirmed nothing
// moved. Ambiguous failures keep it consumed for operator review.
func (r *Registry) releaseOnRefusal(ctx context.Context, at Attempt, callErr error) {
	if !domain.IsDefiniteRefusal(callErr) {
		return
	}
	if err := r.ledger.Release(context.WithoutCancel(ctx), at.Bookmaker, at.Code, at.RequestID); err != nil {
		zap.L().Error("release withdrawal code failed",
			zap.String("bookmaker", at.Bookmaker),
			zap.Int64("request_id", at.RequestID),
			zap.Error(err),
		)
	}
}

func (r *Registry) recordFailure(at Attempt, op string, err error) {
	result := "failed"
	if domain.IsDefiniteRefusal(err) {
		result = "refused"
	}
	observability.IncrementWithdrawal(at.Bookmaker, result)
	zap.L().Warn("bookmaker withdrawal call failed",
		zap.String("bookmaker", at.Bookmaker),
		zap.String("op", op),
		zap.String("account_id", at.AccountID),
		zap.Int64("request_id", at.RequestID),
		zap.Bool("definite", domain.IsDefiniteRefusal(err)),
		zap.Error(err),
	)
}

func (a Attempt) normalized() Attempt {
	a.Bookmaker = normalizeName(a.Bookmaker)
	a.AccountID = strings.TrimSpace(a.AccountID)
	a.Code = strings.TrimSpace(a.Code)
	return a
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
