package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ayo6706/cashdesk-gateway/internal/service"
)

// WithdrawalProcessor submits, rechecks and executes withdrawal codes.
type WithdrawalProcessor interface {
	Submit(ctx context.Context, in service.SubmitWithdrawal) (*service.WithdrawalResult, error)
	Recheck(ctx context.Context, requestID int64, operatorID string) (*service.WithdrawalResult, error)
	Execute(ctx context.Context, requestID int64, operatorID string) (*service.WithdrawalResult, error)
}

type WithdrawalHandler struct {
	svc WithdrawalProcessor
}

func NewWithdrawalHandler(svc WithdrawalProcessor) *WithdrawalHandler {
	return &WithdrawalHandler{svc: svc}
}

type submitWithdrawalRequest struct {
	Bookmaker string `json:"bookmaker"`
	AccountID string `json:"account_id"`
	Code      string `json:"code"`
	Source    string `json:"source"`
}

// Submit handles POST /v1/withdrawals. The user comes from the token, never
// from the body.
func (h *WithdrawalHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(operatorID(r), 10, 64)
	if err != nil || userID <= 0 {
		RespondError(w, r, http.StatusUnauthorized, "auth/invalid-token-claims", "token user is not a chat id")
		return
	}

	var req submitWithdrawalRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.svc.Submit(r.Context(), service.SubmitWithdrawal{
		UserID:    userID,
		Bookmaker: req.Bookmaker,
		AccountID: req.AccountID,
		Code:      req.Code,
		Source:    req.Source,
	})
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusCreated, res)
}

// Execute handles POST /v1/withdrawals/{id}/execute.
func (h *WithdrawalHandler) Execute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Execute(r.Context(), id, operatorID(r))
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}

// Recheck handles POST /v1/withdrawals/{id}/check.
func (h *WithdrawalHandler) Recheck(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Recheck(r.Context(), id, operatorID(r))
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}
