package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/cashdesk-gateway/internal/api/middleware"
	"github.com/ayo6706/cashdesk-gateway/internal/api/problem"
	"github.com/ayo6706/cashdesk-gateway/internal/domain"
	"github.com/ayo6706/cashdesk-gateway/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// RespondServiceError maps a service error onto a problem response.
func RespondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, problemType, message := mapServiceError(err)
	if status >= http.StatusInternalServerError {
		zap.L().Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("trace_id", middleware.TraceIDFromContext(r.Context())),
			zap.Error(err),
		)
	}
	RespondError(w, r, status, problemType, message)
}

func mapServiceError(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized, "webhook/invalid-signature", "invalid signature"
	case errors.Is(err, service.ErrInvalidPayload):
		return http.StatusBadRequest, "webhook/invalid-payload", err.Error()
	case errors.Is(err, service.ErrValidation):
		return http.StatusUnprocessableEntity, "request/validation", err.Error()
	case errors.Is(err, domain.ErrRequestNotFound):
		return http.StatusNotFound, "request/not-found", "request not found"
	case errors.Is(err, domain.ErrPaymentNotFound):
		return http.StatusNotFound, "payment/not-found", "payment not found"
	case errors.Is(err, domain.ErrCodeAlreadyUsed):
		return http.StatusConflict, "withdrawal/code-already-used", "withdrawal code already used"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "request/invalid-transition", err.Error()
	case errors.Is(err, domain.ErrCredentialsMissing):
		return http.StatusUnprocessableEntity, "bookmaker/not-configured", "bookmaker is not configured"
	case errors.Is(err, domain.ErrAmountInvalid):
		return http.StatusUnprocessableEntity, "request/invalid-amount", err.Error()
	case errors.Is(err, domain.ErrRateUnavailable):
		return http.StatusFailedDependency, "rates/unavailable", "exchange rate unavailable"
	case errors.Is(err, domain.ErrProviderCallFailed):
		return http.StatusBadGateway, "provider/call-failed", err.Error()
	}
	if status, problemType, message, ok := mapDBError(err); ok {
		return status, problemType, message
	}
	return http.StatusInternalServerError, "internal-server-error", "unexpected server error"
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	default:
		return 0, "", "", false
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-id", "Invalid request id")
		return 0, false
	}
	return id, true
}

func operatorID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

func queryInt32(r *http.Request, name string, def int32) int32 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return def
	}
	return int32(n)
}
