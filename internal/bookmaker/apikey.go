package bookmaker

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/config"
	"github.com/ayo6706/cashdesk-gateway/internal/domain"
	"github.com/shopspring/decimal"
)

// APIKeyAdapter talks to APIs authenticated by a single API key header.
type APIKeyAdapter struct {
	baseURL string
	apiKey  string
	http    httpTransport
}

func NewAPIKeyAdapter(bookmaker string, creds config.BookmakerCredentials, timeout time.Duration) *APIKeyAdapter {
	if creds.Timeout > 0 {
		timeout = creds.Timeout
	}
	return &APIKeyAdapter{
		baseURL: strings.TrimRight(creds.BaseURL, "/"),
		apiKey:  creds.APIKey,
		http:    newHTTPTransport(bookmaker, timeout),
	}
}

type apiKeyWithdrawalReq struct {
	UserID string `json:"userId"`
	Code   string `json:"code"`
}

type apiKeyDepositReq struct {
	UserID    string          `json:"userId"`
	Amount    decimal.Decimal `json:"amount"`
	RequestID int64           `json:"requestId"`
}

type apiKeyResp struct {
	Valid   *bool           `json:"valid,omitempty"`
	Amount  decimal.Decimal `json:"amount"`
	ID      int64           `json:"id"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func (r apiKeyResp) message() string {
	if r.Error != "" {
		return r.Error
	}
	return r.Message
}

func (a *APIKeyAdapter) ExecutesOnCheck() bool { return false }

func (a *APIKeyAdapter) CheckCode(ctx context.Context, accountID, code string) (CheckResult, error) {
	const op = "check"
	var out apiKeyResp
	if err := a.post(ctx, op, "/v1/cash/withdrawal/check", "", apiKeyWithdrawalReq{UserID: accountID, Code: code}, &out); err != nil {
		return CheckResult{}, err
	}
	if out.Error != "" || (out.Valid != nil && !*out.Valid) {
		return CheckResult{}, a.http.refused(op, out.message())
	}
	amount, err := domain.NormalizePayoutAmount(out.Amount)
	if err != nil {
		return CheckResult{}, a.http.invalidAmount(op, err)
	}
	return CheckResult{Amount: amount, Message: out.Message}, nil
}

func (a *APIKeyAdapter) ExecutePayout(ctx context.Context, accountID, code string, amount decimal.Decimal) (PayoutResult, error) {
	const op = "payout"
	if !amount.IsPositive() {
		return PayoutResult{}, fmt.Errorf("payout amount %s: %w", amount, domain.ErrAmountInvalid)
	}
	var out apiKeyResp
	if err := a.post(ctx, op, "/v1/cash/withdrawal", "withdrawal:"+code, apiKeyWithdrawalReq{UserID: accountID, Code: code}, &out); err != nil {
		return PayoutResult{}, err
	}
	if out.Error != "" {
		return PayoutResult{}, a.http.refused(op, out.Error)
	}
	paid := amount
	if !out.Amount.IsZero() {
		paid = out.Amount.Abs()
	}
	return PayoutResult{Amount: paid, TransactionID: operationID(out.ID), Message: out.Message}, nil
}

func (a *APIKeyAdapter) Credit(ctx context.Context, accountID string, amount decimal.Decimal, requestID int64) (CreditResult, error) {
	const op = "deposit"
	body := apiKeyDepositReq{UserID: accountID, Amount: domain.RoundSettlement(amount), RequestID: requestID}
	var out apiKeyResp
	if err := a.post(ctx, op, "/v1/cash/deposit", "deposit:"+strconv.FormatInt(requestID, 10), body, &out); err != nil {
		return CreditResult{}, err
	}
	if out.Error != "" {
		return CreditResult{}, a.http.refused(op, out.Error)
	}
	return CreditResult{TransactionID: operationID(out.ID), Message: out.Message}, nil
}

// post sends body with the API key. A non-empty idemKey lets the provider
// drop retried money-moving calls.
func (a *APIKeyAdapter) post(ctx context.Context, op, path, idemKey string, body, out any) error {
	req, _, err := a.http.newRequest(ctx, http.MethodPost, a.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-KEY", a.apiKey)
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	return a.http.do(op, req, out)
}
