package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/ayo6706/cashdesk-gateway/internal/domain"
	"github.com/ayo6706/cashdesk-gateway/internal/rates"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// RateResolver quotes exchange rates.
type RateResolver interface {
	Resolve(ctx context.Context, pair rates.Pair, preferDirect bool) (rates.Rate, error)
}

type RateHandler struct {
	rates RateResolver
}

func NewRateHandler(resolver RateResolver) *RateHandler {
	return &RateHandler{rates: resolver}
}

type rateResponse struct {
	rates.Rate
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Converted *decimal.Decimal `json:"converted,omitempty"`
}

// Quote handles GET /v1/rates/{source}/{target}?amount=&prefer_direct=.
func (h *RateHandler) Quote(w http.ResponseWriter, r *http.Request) {
	pair := rates.Pair{
		Source: domain.NormalizeCurrency(chi.URLParam(r, "source")),
		Target: domain.NormalizeCurrency(chi.URLParam(r, "target")),
	}
	preferDirect := true
	if raw := r.URL.Query().Get("prefer_direct"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-query", "prefer_direct must be a boolean")
			return
		}
		preferDirect = v
	}

	var amount *decimal.Decimal
	if raw := r.URL.Query().Get("amount"); raw != "" {
		a, err := domain.ParseAmount(raw)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-amount", err.Error())
			return
		}
		amount = &a
	}

	rate, err := h.rates.Resolve(r.Context(), pair, preferDirect)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	resp := rateResponse{Rate: rate}
	if amount != nil {
		converted := amount.Mul(rate.Value)
		resp.Amount = amount
		resp.Converted = &converted
	}
	RespondJSON(w, http.StatusOK, resp)
}
