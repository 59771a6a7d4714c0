package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ayo6706/cashdesk-gateway/internal/bookmaker"
	"github.com/ayo6706/cashdesk-gateway/internal/domain"
	"github.com/ayo6706/cashdesk-gateway/internal/models"
	"github.com/ayo6706/cashdesk-gateway/internal/notify"
	"github.com/ayo6706/cashdesk-gateway/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrValidation = errors.New("validation failed")

const pgUniqueViolation = "23505"

// WithdrawalRegistry is the bookmaker dispatch used by withdrawals.
type WithdrawalRegistry interface {
	ExecutesOnCheck(bookmaker string) (bool, error)
	CheckCode(ctx context.Context, at bookmaker.Attempt) (bookmaker.CheckResult, error)
	ExecutePayout(ctx context.Context, at bookmaker.Attempt, amount decimal.Decimal) (bookmaker.PayoutResult, error)
}

// SubmitWithdrawal is a user's withdrawal code submission.
type SubmitWithdrawal struct {
	UserID    int64  `json:"user_id" validate:"required,gt=0"`
	Bookmaker string `json:"bookmaker" validate:"required,max=64"`
	AccountID string `json:"account_id" validate:"required,max=64"`
	Code      string `json:"code" validate:"required,max=128"`
	Source    string `json:"source" validate:"omitempty,oneof=bot miniapp unspecified"`
}

type WithdrawalResult struct {
	Request models.Request          `json:"request"`
	Check   *bookmaker.CheckResult  `json:"check,omitempty"`
	Payout  *bookmaker.PayoutResult `json:"payout,omitempty"`
}

// WithdrawalService drives withdrawal codes through bookmaker adapters.
type WithdrawalService struct {
	store          QueryStore
	registry       WithdrawalRegistry
	sink           notify.Sink
	audit          *AuditService
	validate       *validator.Validate
	operatorChatID int64
}

func NewWithdrawalService(store QueryStore, registry WithdrawalRegistry, sink notify.Sink, operatorChatID int64) *WithdrawalService {
	return &WithdrawalService{
		store:          store,
		registry:       registry,
		sink:           sink,
		audit:          NewAuditService(store),
		validate:       validator.New(),
		operatorChatID: operatorChatID,
	}
}

// Submit records the withdrawal and checks its code. For bookmakers that pay
// out on check, the request moves straight to awaiting_manual. Provider
// failures leave the request pending with a status detail.
func (s *WithdrawalService) Submit(ctx context.Context, in SubmitWithdrawal) (*WithdrawalResult, error) {
	in.Bookmaker = strings.ToLower(strings.TrimSpace(in.Bookmaker))
	in.AccountID = strings.TrimSpace(in.AccountID)
	in.Code = strings.TrimSpace(in.Code)
	if err := s.validate.Struct(&in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if _, err := s.registry.ExecutesOnCheck(in.Bookmaker); err != nil {
		return nil, err
	}

	q := s.store.Queries()
	prior, err := q.FindWithdrawalsByCode(ctx, in.Bookmaker, in.AccountID, in.Code)
	if err != nil {
		return nil, fmt.Errorf("withdrawal history lookup: %w", err)
	}
	if len(prior) > 0 {
		return nil, fmt.Errorf("code already submitted in request %d: %w", prior[0].ID, domain.ErrCodeAlreadyUsed)
	}

	req, err := s.create(ctx, in)
	if err != nil {
		return nil, err
	}
	res, err := s.check(ctx, req, domain.ProcessedByAutopayment)
	if err != nil && res == nil {
		req = s.flag(ctx, req, checkFailureDetail(err))
		return &WithdrawalResult{Request: req}, err
	}
	return res, err
}

// Recheck repeats the code check of a pending withdrawal whose earlier check
// failed before an amount was known. A code still held by the failed attempt
// is reported as ErrCodeAlreadyUsed and leaves the request as it was.
func (s *WithdrawalService) Recheck(ctx context.Context, requestID int64, operatorID string) (*WithdrawalResult, error) {
	req, err := s.pendingWithdrawal(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Amount.IsPositive() {
		return nil, fmt.Errorf("request %d is already checked: %w", requestID, domain.ErrInvalidTransition)
	}
	if _, err := s.registry.ExecutesOnCheck(req.Bookmaker); err != nil {
		return nil, err
	}

	res, err := s.check(ctx, req, operatorID)
	if err != nil && res != nil {
		return res, err
	}
	if err != nil {
		if !errors.Is(err, domain.ErrCodeAlreadyUsed) {
			req = s.flag(ctx, req, checkFailureDetail(err))
		}
		return &WithdrawalResult{Request: req}, err
	}
	if err := s.audit.Write(ctx, s.store.Queries(), "request", strconv.FormatInt(req.ID, 10), operatorID, "rechecked", req.Status, res.Request.Status, nil); err != nil {
		zap.L().Error("audit recheck failed", zap.Int64("request_id", req.ID), zap.Error(err))
	}
	return res, nil
}

// check runs the bookmaker code check for req and stores its outcome: the
// checked amount for two-step bookmakers, awaiting_manual for those that pay
// out on check. A non-nil result with an error means money moved but the
// status write failed.
func (s *WithdrawalService) check(ctx context.Context, req models.Request, actor string) (*WithdrawalResult, error) {
	q := s.store.Queries()
	log := zap.L().With(zap.Int64("request_id", req.ID), zap.String("bookmaker", req.Bookmaker))

	check, err := s.registry.CheckCode(ctx, bookmaker.Attempt{
		Bookmaker: req.Bookmaker,
		AccountID: req.AccountID,
		Code:      *req.WithdrawalCode,
		RequestID: req.ID,
	})
	if err != nil {
		log.Warn("withdrawal code check failed", zap.Error(err))
		return nil, err
	}

	amount := domain.RoundSettlement(check.Amount)
	if !check.AlreadyExecuted {
		if _, err := q.UpdateRequestDetail(ctx, repository.UpdateRequestDetailParams{
			ID:           req.ID,
			StatusDetail: strPtr("checked"),
			Amount:       decimal.NullDecimal{Decimal: amount, Valid: true},
			OnlyStatuses: []string{domain.StatusPending},
		}); err != nil {
			return nil, fmt.Errorf("store checked amount: %w", err)
		}
		req, err = loadRequest(ctx, q, req.ID)
		if err != nil {
			return nil, err
		}
		return &WithdrawalResult{Request: req, Check: &check}, nil
	}

	detail := "executed_on_check"
	if check.TransactionID != "" {
		detail += ":" + check.TransactionID
	}
	if _, err := transitionRequest(context.WithoutCancel(ctx), s.store, s.audit, requestTransition{
		RequestID: req.ID,
		To:        domain.StatusAwaitingManual,
		Detail:    &detail,
		Actor:     actor,
		Amount:    decimal.NullDecimal{Decimal: amount, Valid: true},
		Action:    "executed_on_check",
	}); err != nil {
		log.Error("payout executed but status write failed", zap.String("amount", amount.String()), zap.Error(err))
		s.alertOperator(fmt.Sprintf("Withdrawal #%d paid out %s at %s but its status could not be saved: %v",
			req.ID, domain.FormatSettlement(amount), req.Bookmaker, err))
		return &WithdrawalResult{Request: req, Check: &check}, err
	}

	req, err = loadRequest(ctx, q, req.ID)
	if err != nil {
		return nil, err
	}
	s.alertOperator(fmt.Sprintf("Withdrawal #%d: %s withdrawn from %s account %s, awaiting transfer to user.",
		req.ID, domain.FormatSettlement(amount), req.Bookmaker, req.AccountID))
	s.sink.Enqueue(notify.Message{
		ChatID: req.UserID,
		Text:   fmt.Sprintf("Withdrawal request #%d for %s accepted.", req.ID, domain.FormatSettlement(amount)),
	})
	return &WithdrawalResult{Request: req, Check: &check}, nil
}

// Execute runs the payout of a checked withdrawal for bookmakers with a
// separate execute step.
func (s *WithdrawalService) Execute(ctx context.Context, requestID int64, operatorID string) (*WithdrawalResult, error) {
	q := s.store.Queries()
	req, err := s.pendingWithdrawal(ctx, requestID)
	if err != nil {
		return nil, err
	}
	executes, err := s.registry.ExecutesOnCheck(req.Bookmaker)
	if err != nil {
		return nil, err
	}
	if executes {
		return nil, fmt.Errorf("%s pays out on check, use recheck: %w", req.Bookmaker, domain.ErrInvalidTransition)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("request %d has no checked amount: %w", requestID, domain.ErrAmountInvalid)
	}

	payout, err := s.registry.ExecutePayout(ctx, bookmaker.Attempt{
		Bookmaker: req.Bookmaker,
		AccountID: req.AccountID,
		Code:      *req.WithdrawalCode,
		RequestID: req.ID,
	}, req.Amount)
	if err != nil {
		if errors.Is(err, domain.ErrProviderCallFailed) {
			req = s.flag(ctx, req, checkFailureDetail(err))
		}
		return &WithdrawalResult{Request: req}, err
	}

	detail := "payout"
	if payout.TransactionID != "" {
		detail += ":" + payout.TransactionID
	}
	amount := domain.RoundSettlement(payout.Amount)
	if _, err := transitionRequest(context.WithoutCancel(ctx), s.store, s.audit, requestTransition{
		RequestID: req.ID,
		To:        domain.StatusAwaitingManual,
		Detail:    &detail,
		Actor:     operatorID,
		Amount:    decimal.NullDecimal{Decimal: amount, Valid: true},
		Action:    "payout_executed",
	}); err != nil {
		s.alertOperator(fmt.Sprintf("Withdrawal #%d paid out but its status could not be saved: %v", req.ID, err))
		return &WithdrawalResult{Request: req, Payout: &payout}, err
	}
	req, err = loadRequest(ctx, q, req.ID)
	if err != nil {
		return nil, err
	}
	return &WithdrawalResult{Request: req, Payout: &payout}, nil
}

func (s *WithdrawalService) pendingWithdrawal(ctx context.Context, requestID int64) (models.Request, error) {
	req, err := loadRequest(ctx, s.store.Queries(), requestID)
	if err != nil {
		return models.Request{}, err
	}
	if req.RequestType != domain.RequestTypeWithdraw || req.WithdrawalCode == nil {
		return models.Request{}, fmt.Errorf("request %d is not a withdrawal: %w", requestID, domain.ErrInvalidTransition)
	}
	if req.Status != domain.StatusPending {
		return models.Request{}, fmt.Errorf("request %d is %s: %w", requestID, req.Status, domain.ErrInvalidTransition)
	}
	return req, nil
}

func (s *WithdrawalService) create(ctx context.Context, in SubmitWithdrawal) (models.Request, error) {
	source := in.Source
	if source == "" {
		source = domain.SourceUnspecified
	}
	code := in.Code
	var req models.Request
	err := s.store.RunInTx(ctx, func(q repository.Querier) error {
		var err error
		req, err = q.CreateRequest(ctx, repository.CreateRequestParams{
			UserID:         in.UserID,
			RequestType:    domain.RequestTypeWithdraw,
			Bookmaker:      in.Bookmaker,
			AccountID:      in.AccountID,
			Amount:         decimal.Zero,
			Status:         domain.StatusPending,
			Source:         source,
			WithdrawalCode: &code,
		})
		if err != nil {
			return err
		}
		return s.audit.Write(ctx, q, "request", fmt.Sprint(req.ID), fmt.Sprint(in.UserID), "submitted", "", domain.StatusPending, nil)
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return models.Request{}, fmt.Errorf("concurrent submission: %w", domain.ErrCodeAlreadyUsed)
	}
	if err != nil {
		return models.Request{}, fmt.Errorf("create withdrawal request: %w", err)
	}
	return req, nil
}

// flag records detail on a still-pending request and returns its fresh state.
func (s *WithdrawalService) flag(ctx context.Context, req models.Request, detail string) models.Request {
	ctx = context.WithoutCancel(ctx)
	q := s.store.Queries()
	if _, err := q.UpdateRequestDetail(ctx, repository.UpdateRequestDetailParams{
		ID:           req.ID,
		StatusDetail: &detail,
		OnlyStatuses: []string{domain.StatusPending},
	}); err != nil {
		zap.L().Error("store withdrawal status detail failed", zap.Int64("request_id", req.ID), zap.Error(err))
		return req
	}
	if fresh, err := q.GetRequest(ctx, req.ID); err == nil {
		return fresh
	}
	req.StatusDetail = &detail
	return req
}

func (s *WithdrawalService) alertOperator(text string) {
	if s.operatorChatID == 0 {
		return
	}
	s.sink.Enqueue(notify.Message{ChatID: s.operatorChatID, Text: text})
}

func checkFailureDetail(err error) string {
	switch {
	case errors.Is(err, domain.ErrCodeAlreadyUsed):
		return "code_already_used"
	case errors.Is(err, domain.ErrAmountInvalid):
		return "amount_invalid"
	case domain.IsDefiniteRefusal(err):
		return fmt.Sprintf("%s: %v", domain.DetailPayoutFailed, err)
	default:
		return fmt.Sprintf("%s: %v (verify at bookmaker)", domain.DetailPayoutFailed, err)
	}
}

// CodeLedger adapts the withdrawal history and code consumption tables to
// bookmaker.CodeLedger.
type CodeLedger struct {
	store QueryStore
}

func NewCodeLedger(store QueryStore) *CodeLedger {
	return &CodeLedger{store: store}
}

func (l *CodeLedger) PriorUse(ctx context.Context, bookmakerName, accountID, code string, requestID int64) (bool, error) {
	prior, err := l.store.Queries().FindWithdrawalsByCode(ctx, bookmakerName, accountID, code)
	if err != nil {
		return false, err
	}
	for _, r := range prior {
		if r.ID != requestID {
			return true, nil
		}
	}
	return false, nil
}

func (l *CodeLedger) Consume(ctx context.Context, bookmakerName, accountID, code string, requestID int64) (bool, error) {
	return l.store.Queries().InsertCodeConsumption(ctx, models.CodeConsumption{
		Bookmaker: bookmakerName,
		Code:      code,
		AccountID: accountID,
		RequestID: requestID,
	})
}

func (l *CodeLedger) Release(ctx context.Context, bookmakerName, code string, requestID int64) error {
	_, err := l.store.Queries().DeleteCodeConsumption(ctx, bookmakerName, code, requestID)
	return err
}

var _ bookmaker.CodeLedger = (*CodeLedger)(nil)
