package bookmaker

import (
	"context"
	"crypto/md5"
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

const cashdeskLanguage = "ru"

// CashdeskAdapter speaks the shared cashdesk protocol. The protocol has no
// preview step: the payout call both checks and executes a withdrawal code.
type CashdeskAdapter struct {
	baseURL string
	creds   config.BookmakerCredentials
	http    httpTransport
}

func NewCashdeskAdapter(bookmaker string, creds config.BookmakerCredentials, timeout time.Duration) *CashdeskAdapter {
	if creds.Timeout > 0 {
		timeout = creds.Timeout
	}
	return &CashdeskAdapter{
		baseURL: strings.TrimRight(creds.BaseURL, "/"),
		creds:   creds,
		http:    newHTTPTransport(bookmaker, timeout),
	}
}

type cashdeskPayoutReq struct {
	CashdeskID int64  `json:"cashdeskId"`
	Lng        string `json:"lng"`
	Code       string `json:"code"`
	Confirm    string `json:"confirm"`
}

type cashdeskDepositReq struct {
	CashdeskID int64           `json:"cashdeskId"`
	Lng        string          `json:"lng"`
	Summa      decimal.Decimal `json:"summa"`
	Confirm    string          `json:"confirm"`
}

// cashdeskResp is the response envelope of both Payout and Add. Summa is
// negative for payouts.
type cashdeskResp struct {
	Success     bool            `json:"Success"`
	Summa       decimal.Decimal `json:"Summa"`
	Message     string          `json:"Message"`
	OperationID int64           `json:"OperationId"`
}

func (r cashdeskResp) message() string { return r.Message }

func (a *CashdeskAdapter) ExecutesOnCheck() bool { return true }

// CheckCode performs the payout of code and reports AlreadyExecuted.
func (a *CashdeskAdapter) CheckCode(ctx context.Context, accountID, code string) (CheckResult, error) {
	const op = "payout"
	cashdeskID, err := a.cashdeskID()
	if err != nil {
		return CheckResult{}, err
	}
	body := cashdeskPayoutReq{
		CashdeskID: cashdeskID,
		Lng:        cashdeskLanguage,
		Code:       code,
		Confirm:    a.confirm(accountID),
	}
	req, _, err := a.http.newRequest(ctx, http.MethodPost, a.endpoint(accountID, "Payout"), body)
	if err != nil {
		return CheckResult{}, err
	}
	a.sign(req, accountID, "code="+code)

	var out cashdeskResp
	if err := a.http.do(op, req, &out); err != nil {
		return CheckResult{}, err
	}
	if !out.Success {
		return CheckResult{}, a.http.refused(op, out.Message)
	}
	amount, err := domain.NormalizePayoutAmount(out.Summa)
	if err != nil {
		return CheckResult{}, a.http.invalidAmount(op, err)
	}
	return CheckResult{
		Amount:          amount,
		AlreadyExecuted: true,
		TransactionID:   operationID(out.OperationID),
		Message:         out.Message,
	}, nil
}

// ExecutePayout is never valid for this protocol; CheckCode already paid out.
func (a *CashdeskAdapter) ExecutePayout(context.Context, string, string, decimal.Decimal) (PayoutResult, error) {
	return PayoutResult{}, fmt.Errorf("%s payout after check: %w", a.http.bookmaker, domain.ErrCodeAlreadyUsed)
}

func (a *CashdeskAdapter) Credit(ctx context.Context, accountID string, amount decimal.Decimal, requestID int64) (CreditResult, error) {
	const op = "deposit"
	cashdeskID, err := a.cashdeskID()
	if err != nil {
		return CreditResult{}, err
	}
	amount = domain.RoundSettlement(amount)
	body := cashdeskDepositReq{
		CashdeskID: cashdeskID,
		Lng:        cashdeskLanguage,
		Summa:      amount,
		Confirm:    a.confirm(accountID),
	}
	req, _, err := a.http.newRequest(ctx, http.MethodPost, a.endpoint(accountID, "Add"), body)
	if err != nil {
		return CreditResult{}, err
	}
	a.sign(req, accountID, "summa="+amount.StringFixed(domain.SettlementScale))
	req.Header.Set("X-Request-Id", strconv.FormatInt(requestID, 10))

	var out cashdeskResp
	if err := a.http.do(op, req, &out); err != nil {
		return CreditResult{}, err
	}
	if !out.Success {
		return CreditResult{}, a.http.refused(op, out.Message)
	}
	return CreditResult{TransactionID: operationID(out.OperationID), Message: out.Message}, nil
}

func (a *CashdeskAdapter) endpoint(accountID, action string) string {
	return fmt.Sprintf("%s/Deposit/%s/%s", a.baseURL, url.PathEscape(accountID), action)
}

func (a *CashdeskAdapter) cashdeskID() (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(a.creds.CashdeskID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s cashdesk id %q: %w", a.http.bookmaker, a.creds.CashdeskID, domain.ErrCredentialsMissing)
	}
	return id, nil
}

// confirm is md5("{account}:{hash}").
func (a *CashdeskAdapter) confirm(accountID string) string {
	sum := md5.Sum([]byte(accountID + ":" + a.creds.Hash))
	return hex.EncodeToString(sum[:])
}

// sign sets the request signature:
// sha256(hex(sha256("hash=..&lng=..&userid=..")) + hex(md5(operation + "&cashierpass=..&cashdeskid=..")))
// and basic auth with the cashier login.
func (a *CashdeskAdapter) sign(req *http.Request, accountID, operation string) {
	first := sha256.Sum256([]byte(fmt.Sprintf("hash=%s&lng=%s&userid=%s", a.creds.Hash, cashdeskLanguage, accountID)))
	second := md5.Sum([]byte(fmt.Sprintf("%s&cashierpass=%s&cashdeskid=%s", operation, a.creds.CashierPass, a.creds.CashdeskID)))
	sign := sha256.Sum256([]byte(hex.EncodeToString(first[:]) + hex.EncodeToString(second[:])))
	req.Header.Set("sign", hex.EncodeToString(sign[:]))
	req.SetBasicAuth(a.creds.Login, a.creds.CashierPass)
}

func operationID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
