package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/cashdesk-gateway/internal/models"
	"github.com/ayo6706/cashdesk-gateway/internal/service"
)

// RequestOperator is the operator view over requests.
type RequestOperator interface {
	Get(ctx context.Context, id int64) (models.Request, error)
	Resolve(ctx context.Context, id int64, operatorID string, in service.Resolution) (models.Request, error)
	Defer(ctx context.Context, id int64, operatorID, reason string) (models.Request, error)
}

type RequestHandler struct {
	svc RequestOperator
}

func NewRequestHandler(svc RequestOperator) *RequestHandler {
	return &RequestHandler{svc: svc}
}

func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, err := h.svc.Get(r.Context(), id)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, req)
}

// Resolve handles POST /v1/requests/{id}/resolve.
func (h *RequestHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in service.Resolution
	if !decodeJSON(w, r, &in) {
		return
	}
	req, err := h.svc.Resolve(r.Context(), id, operatorID(r), in)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, req)
}

type deferRequest struct {
	Reason string `json:"reason"`
}

// Defer handles POST /v1/requests/{id}/defer.
func (h *RequestHandler) Defer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var in deferRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &in) {
		return
	}
	req, err := h.svc.Defer(r.Context(), id, operatorID(r), in.Reason)
	if err != nil {
		RespondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, req)
}
