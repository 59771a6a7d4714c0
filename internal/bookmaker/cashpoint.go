package bookmaker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/config"
	"github.com/ayo6706/cashdesk-gateway/internal/domain"
	"github.com/shopspring/decimal"
)

// CashpointAdapter talks to cashpoint-style APIs authenticated by an API key
// and an HMAC request signature. Checks are dry-runs.
type CashpointAdapter struct {
	baseURL string
	creds   config.BookmakerCredentials
	http    httpTransport
	now     func() time.Time
}

func NewCashpointAdapter(bookmaker string, creds config.BookmakerCredentials, timeout time.Duration) *CashpointAdapter {
	if creds.Timeout > 0 {
		timeout = creds.Timeout
	}
	return &CashpointAdapter{
		baseURL: strings.TrimRight(creds.BaseURL, "/"),
		creds:   creds,
		http:    newHTTPTransport(bookmaker, timeout),
		now:     time.Now,
	}
}

type cashpointWithdrawalReq struct {
	PlayerID string           `json:"playerId"`
	Code     string           `json:"code"`
	Amount   *decimal.Decimal `json:"amount,omitempty"`
}

type cashpointDepositReq struct {
	PlayerID   string          `json:"playerId"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	ExternalID string          `json:"externalId"`
}

type cashpointResp struct {
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transactionId"`
	Message       string          `json:"message"`
}

func (r cashpointResp) message() string { return r.Message }

func (r cashpointResp) ok() bool {
	switch strings.ToUpper(r.Status) {
	case "OK", "NEW", "COMPLETED", "SUCCESS":
		return true
	default:
		return false
	}
}

func (a *CashpointAdapter) ExecutesOnCheck() bool { return false }

func (a *CashpointAdapter) CheckCode(ctx context.Context, accountID, code string) (CheckResult, error) {
	const op = "check"
	var out cashpointResp
	if err := a.call(ctx, op, "withdrawal/check", cashpointWithdrawalReq{PlayerID: accountID, Code: code}, &out); err != nil {
		return CheckResult{}, err
	}
	if !out.ok() {
		return CheckResult{}, a.http.refused(op, out.Message)
	}
	amount, err := domain.NormalizePayoutAmount(out.Amount)
	if err != nil {
		return CheckResult{}, a.http.invalidAmount(op, err)
	}
	return CheckResult{Amount: amount, Message: out.Message}, nil
}

func (a *CashpointAdapter) ExecutePayout(ctx context.Context, accountID, code string, amount decimal.Decimal) (PayoutResult, error) {
	const op = "payout"
	if !amount.IsPositive() {
		return PayoutResult{}, fmt.Errorf("payout amount %s: %w", amount, domain.ErrAmountInvalid)
	}
	var out cashpointResp
	if err := a.call(ctx, op, "withdrawal/confirm", cashpointWithdrawalReq{PlayerID: accountID, Code: code, Amount: &amount}, &out); err != nil {
		return PayoutResult{}, err
	}
	if !out.ok() {
		return PayoutResult{}, a.http.refused(op, out.Message)
	}
	paid := amount
	if !out.Amount.IsZero() {
		paid = out.Amount.Abs()
	}
	return PayoutResult{Amount: paid, TransactionID: out.TransactionID, Message: out.Message}, nil
}

func (a *CashpointAdapter) Credit(ctx context.Context, accountID string, amount decimal.Decimal, requestID int64) (CreditResult, error) {
	const op = "deposit"
	body := cashpointDepositReq{
		PlayerID:   accountID,
		Amount:     domain.RoundSettlement(amount),
		Currency:   domain.SettlementCurrency,
		ExternalID: strconv.FormatInt(requestID, 10),
	}
	var out cashpointResp
	if err := a.call(ctx, op, "deposit", body, &out); err != nil {
		return CreditResult{}, err
	}
	if !out.ok() {
		return CreditResult{}, a.http.refused(op, out.Message)
	}
	return CreditResult{TransactionID: out.TransactionID, Message: out.Message}, nil
}

func (a *CashpointAdapter) call(ctx context.Context, op, action string, body any, out any) error {
	path := fmt.Sprintf("/api/v1/cashpoint/%s/%s", url.PathEscape(a.creds.CashpointID), action)
	req, raw, err := a.http.newRequest(ctx, http.MethodPost, a.baseURL+path, body)
	if err != nil {
		return err
	}
	ts := strconv.FormatInt(a.now().Unix(), 10)
	req.Header.Set("X-Api-Key", a.creds.APIKey)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", cashpointSignature(a.creds.APISecret, a.creds.APIKey, path, raw, ts))
	return a.http.do(op, req, out)
}

// cashpointSignature is hex(HMAC-SHA256(secret, key + path + body + timestamp)).
func cashpointSignature(secret, key, path string, body []byte, ts string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(key))
	h.Write([]byte(path))
	h.Write(body)
	h.Write([]byte(ts))
	return hex.EncodeToString(h.Sum(nil))
}
