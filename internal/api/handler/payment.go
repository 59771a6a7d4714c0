package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/models"
	"github.com/ayo6706/cashdesk-gateway/internal/report"
	"github.com/ayo6706/cashdesk-gateway/internal/service"
	"github.com/go-chi/chi/v5"
)

// PaymentOperator is the operator view over the payment ledger.
type PaymentOperator interface {
	ListUnmatched(ctx context.Context, limit, offset int32) ([]models.PaymentRecord, error)
	AllUnmatched(ctx context.Context) ([]models.PaymentRecord, error)
	BindManually(ctx context.Context, invoiceID string, requestID int64, operatorID string) (*service.WebhookResult, error)
}

type PaymentHandler struct {
	svc PaymentOperator
	now func() time.Time
}

func NewPaymentHandler(svc PaymentOperator) *PaymentHandler {
	return &PaymentHandler{svc: svc, now: time.Now}
}

// ListUnmatched handles GET /v1/payments/unmatched?limit=&offset=.
func (h *PaymentHandler) ListUnmatched(w http.ResponseWriter, r *http.Request) {
	payments, err := h.svc.ListUnmatched(r.Context(), queryInt32(r, "limit", 50), queryInt32(r, "offset", 0))
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	if payments == nil {
		payments = []models.PaymentRecord{}
	}
	RespondJSON(w, http.StatusOK, map[string]any{"payments": payments})
}

// Export handles GET /v1/payments/unmatched/export.
func (h *PaymentHandler) Export(w http.ResponseWriter, r *http.Request) {
	payments, err := h.svc.AllUnmatched(r.Context())
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	name, data, err := report.UnmatchedPayments(payments, h.now())
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type bindRequest struct {
	RequestID int64 `json:"request_id"`
}

// Bind handles POST /v1/payments/{invoiceID}/bind.
func (h *PaymentHandler) Bind(w http.ResponseWriter, r *http.Request) {
	var in bindRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.RequestID <= 0 {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "request_id is required")
		return
	}
	res, err := h.svc.BindManually(r.Context(), chi.URLParam(r, "invoiceID"), in.RequestID, operatorID(r))
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, res)
}
