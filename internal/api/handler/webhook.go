package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/cashdesk-gateway/internal/domain"
	"github.com/ayo6706/cashdesk-gateway/internal/service"
	"github.com/ayo6706/cashdesk-gateway/internal/signature"
	"go.uber.org/zap"
)

// WebhookProcessor ingests signed provider webhooks.
type WebhookProcessor interface {
	HandleCryptoBotWebhook(ctx context.Context, rawBody []byte, sig string) (*service.WebhookResult, error)
	HandleBankWebhook(ctx context.Context, rawBody []byte, sig string) (*service.WebhookResult, error)
}

// WebhookHandler handles incoming webhook events from payment providers.
type WebhookHandler struct {
	svc WebhookProcessor
}

func NewWebhookHandler(svc WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

// CryptoBot handles POST /v1/webhooks/cryptobot.
func (h *WebhookHandler) CryptoBot(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, domain.ProviderCryptoBot, signature.HeaderCryptoPay, h.svc.HandleCryptoBotWebhook)
}

// Bank handles POST /v1/webhooks/bank.
func (h *WebhookHandler) Bank(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, domain.ProviderBank, signature.HeaderWebhook, h.svc.HandleBankWebhook)
}

type webhookFunc func(ctx context.Context, rawBody []byte, sig string) (*service.WebhookResult, error)

// handle passes the raw body through untouched: the signature covers the
// exact bytes on the wire.
func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request, provider, header string, process webhookFunc) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Failed to read request body")
		return
	}

	resp, err := process(r.Context(), body, r.Header.Get(header))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			zap.L().Warn("webhook signature rejected",
				zap.String("provider", provider),
				zap.String("remote_addr", r.RemoteAddr),
			)
			RespondError(w, r, http.StatusUnauthorized, "webhook/invalid-signature", "invalid signature")
			return
		}
		RespondServiceError(w, r, err)
		return
	}

	RespondJSON(w, http.StatusOK, resp)
}
