package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ayo6706/cashdesk-gateway/internal/domain"
	"github.com/ayo6706/cashdesk-gateway/internal/models"
	"github.com/ayo6706/cashdesk-gateway/internal/notify"
	"github.com/ayo6706/cashdesk-gateway/internal/observability"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Resolution is an operator's final decision on a request.
type Resolution struct {
	Decision string `json:"decision" validate:"required,oneof=completed approved rejected"`
	Comment  string `json:"comment" validate:"max=500"`
}

// RequestService exposes the operator actions on requests.
type RequestService struct {
	store    QueryStore
	sink     notify.Sink
	audit    *AuditService
	validate *validator.Validate
}

func NewRequestService(store QueryStore, sink notify.Sink) *RequestService {
	return &RequestService{
		store:    store,
		sink:     sink,
		audit:    NewAuditService(store),
		validate: validator.New(),
	}
}

func (s *RequestService) Get(ctx context.Context, id int64) (models.Request, error) {
	return loadRequest(ctx, s.store.Queries(), id)
}

// Resolve closes a request on behalf of operatorID.
func (s *RequestService) Resolve(ctx context.Context, id int64, operatorID string, in Resolution) (models.Request, error) {
	in.Decision = domain.NormalizeStatus(in.Decision)
	if err := s.validate.Struct(&in); err != nil {
		return models.Request{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !domain.IsOperatorDecision(in.Decision) {
		return models.Request{}, fmt.Errorf("%q is not an operator decision: %w", in.Decision, domain.ErrInvalidTransition)
	}

	var detail *string
	if c := strings.TrimSpace(in.Comment); c != "" {
		detail = &c
	}
	meta, _ := json.Marshal(map[string]string{"comment": in.Comment})
	prev, err := transitionRequest(ctx, s.store, s.audit, requestTransition{
		RequestID:     id,
		To:            in.Decision,
		Detail:        detail,
		Actor:         operatorID,
		MarkProcessed: true,
		Action:        "resolve",
		Metadata:      meta,
	})
	if err != nil {
		return models.Request{}, err
	}
	req, err := loadRequest(ctx, s.store.Queries(), id)
	if err != nil {
		return models.Request{}, err
	}
	if prev == in.Decision {
		return req, nil
	}
	observability.IncrementManualReviewTransition(in.Decision)
	zap.L().Info("request resolved by operator",
		zap.Int64("request_id", id), zap.String("operator", operatorID), zap.String("decision", in.Decision))
	s.sink.Enqueue(notify.Message{ChatID: req.UserID, Text: resolutionText(req)})
	return req, nil
}

// Defer parks a request for later operator attention.
func (s *RequestService) Defer(ctx context.Context, id int64, operatorID, reason string) (models.Request, error) {
	var detail *string
	if r := strings.TrimSpace(reason); r != "" {
		detail = &r
	}
	if _, err := transitionRequest(ctx, s.store, s.audit, requestTransition{
		RequestID: id,
		To:        domain.StatusDeferred,
		Detail:    detail,
		Actor:     operatorID,
		Action:    "defer",
	}); err != nil {
		return models.Request{}, err
	}
	observability.IncrementManualReviewTransition(domain.StatusDeferred)
	return loadRequest(ctx, s.store.Queries(), id)
}

// ManualQueueSize counts requests waiting on an operator.
func (s *RequestService) ManualQueueSize(ctx context.Context) (int64, error) {
	q := s.store.Queries()
	var total int64
	for _, status := range []string{domain.StatusManual, domain.StatusAwaitingManual, domain.StatusDeferred} {
		n, err := q.CountRequestsByStatus(ctx, status)
		if err != nil {
			return 0, fmt.Errorf("count %s requests: %w", status, err)
		}
		total += n
	}
	return total, nil
}

func resolutionText(req models.Request) string {
	kind := "Deposit"
	if req.RequestType == domain.RequestTypeWithdraw {
		kind = "Withdrawal"
	}
	switch req.Status {
	case domain.StatusRejected:
		return fmt.Sprintf("%s request #%d was rejected.", kind, req.ID)
	default:
		return fmt.Sprintf("%s request #%d for %s is complete.", kind, req.ID, domain.FormatSettlement(req.Amount))
	}
}
