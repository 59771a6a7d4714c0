package service

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/domain"
	"github.com/shopspring/decimal"
)

// CorrelatableEvent is a payment event the matcher can bind to a request.
type CorrelatableEvent interface {
	Payment() PaymentInput
	// CorrelationID returns the request id the event explicitly refers to.
	CorrelationID() (int64, bool)
}

// AmountMatchable events carry an amount already in the settlement currency
// and may be matched to a pending deposit by amount.
type AmountMatchable interface {
	SettlementAmount() (decimal.Decimal, bool)
}

// Originator events carry enough identity to create the deposit request
// themselves when nothing matches.
type Originator interface {
	Identity() (RequestIdentity, bool)
}

// RequestIdentity is what a new deposit request is created from.
// CorrelationKey makes concurrent originations collapse into one request.
type RequestIdentity struct {
	UserID         int64
	Bookmaker      string
	AccountID      string
	Amount         decimal.Decimal
	Source         string
	CorrelationKey string
}

// invoicePayload is the JSON the bot embeds in the invoice it issues.
type invoicePayload struct {
	RequestID flexString      `json:"request_id"`
	UserID    flexString      `json:"user_id"`
	Bookmaker string          `json:"bookmaker"`
	AccountID flexString      `json:"account_id"`
	AmountKGS decimal.Decimal `json:"amount_kgs"`
	Source    string          `json:"source"`
}

// flexString accepts both JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	*f = flexString(b)
	return nil
}

func (f flexString) int64() (int64, bool) {
	n, err := strconv.ParseInt(string(f), 10, 64)
	return n, err == nil && n > 0
}

// parseInvoicePayload decodes a JSON object payload. ok is false for
// anything that is not a JSON object.
func parseInvoicePayload(raw string) (invoicePayload, bool) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return invoicePayload{}, false
	}
	var p invoicePayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return invoicePayload{}, false
	}
	return p, true
}

var correlationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)request[_ ]?id[:=# ]+(\d+)`),
	regexp.MustCompile(`#(\d+)`),
}

// extractCorrelationID reads request_id from a JSON payload, or scans a
// free-text payload for a request reference.
func extractCorrelationID(raw string) (int64, bool) {
	if p, ok := parseInvoicePayload(raw); ok {
		return p.RequestID.int64()
	}
	for _, re := range correlationPatterns {
		if m := re.FindStringSubmatch(raw); len(m) == 2 {
			if id, err := strconv.ParseInt(m[1], 10, 64); err == nil && id > 0 {
				return id, true
			}
		}
	}
	return 0, false
}

// quotedSettlementAmount is the KGS amount quoted to the user when the
// invoice was issued.
func quotedSettlementAmount(raw string) (decimal.Decimal, bool) {
	p, ok := parseInvoicePayload(raw)
	if !ok || !p.AmountKGS.IsPositive() {
		return decimal.Zero, false
	}
	return p.AmountKGS, true
}

// CryptoInvoice is the invoice object of a Crypto Pay invoice_paid update.
type CryptoInvoice struct {
	InvoiceID    int64           `json:"invoice_id"`
	Hash         string          `json:"hash"`
	Status       string          `json:"status"`
	CurrencyType string          `json:"currency_type"`
	Asset        string          `json:"asset"`
	Fiat         string          `json:"fiat"`
	Amount       decimal.Decimal `json:"amount"`
	PaidAsset    string          `json:"paid_asset"`
	PaidAmount   decimal.Decimal `json:"paid_amount"`
	FeeAmount    decimal.Decimal `json:"fee_amount"`
	PaidAt       *time.Time      `json:"paid_at"`
	Payload      string          `json:"payload"`
}

// CryptoUpdate is the Crypto Pay webhook envelope.
type CryptoUpdate struct {
	UpdateID    int64         `json:"update_id"`
	UpdateType  string        `json:"update_type"`
	RequestDate time.Time     `json:"request_date"`
	Payload     CryptoInvoice `json:"payload"`
}

// CryptoInvoiceEvent is a paid bot-issued crypto invoice.
type CryptoInvoiceEvent struct {
	Invoice CryptoInvoice
}

func (e CryptoInvoiceEvent) Payment() PaymentInput {
	inv := e.Invoice
	asset, amount := inv.Asset, inv.Amount
	switch {
	case inv.CurrencyType == "fiat" && inv.Fiat != "":
		asset = inv.Fiat
	case inv.PaidAsset != "" && inv.PaidAmount.IsPositive():
		asset, amount = inv.PaidAsset, inv.PaidAmount
	}
	return PaymentInput{
		InvoiceID: strconv.FormatInt(inv.InvoiceID, 10),
		Provider:  domain.ProviderCryptoBot,
		Hash:      inv.Hash,
		Amount:    amount,
		Asset:     asset,
		FeeAmount: inv.FeeAmount,
		Payload:   inv.Payload,
		Status:    inv.Status,
		PaidAt:    inv.PaidAt,
	}
}

func (e CryptoInvoiceEvent) CorrelationID() (int64, bool) {
	return extractCorrelationID(e.Invoice.Payload)
}

func (e CryptoInvoiceEvent) Identity() (RequestIdentity, bool) {
	p, ok := parseInvoicePayload(e.Invoice.Payload)
	if !ok {
		return RequestIdentity{}, false
	}
	userID, ok := p.UserID.int64()
	if !ok || strings.TrimSpace(p.Bookmaker) == "" || p.AccountID == "" || !p.AmountKGS.IsPositive() {
		return RequestIdentity{}, false
	}
	return RequestIdentity{
		UserID:         userID,
		Bookmaker:      strings.ToLower(strings.TrimSpace(p.Bookmaker)),
		AccountID:      string(p.AccountID),
		Amount:         p.AmountKGS,
		Source:         normalizeSource(p.Source),
		CorrelationKey: domain.ProviderCryptoBot + ":" + strconv.FormatInt(e.Invoice.InvoiceID, 10),
	}, true
}

// BankTransfer is one incoming transfer from the bank feed.
type BankTransfer struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Comment       string          `json:"comment"`
	Sender        string          `json:"sender"`
	PaidAt        *time.Time      `json:"paid_at"`
}

// BankTransferEvent is a direct QR/bank transfer. It has no bot-issued
// identity, but its amount is already in KGS.
type BankTransferEvent struct {
	Transfer BankTransfer
}

func (e BankTransferEvent) Payment() PaymentInput {
	t := e.Transfer
	currency := t.Currency
	if currency == "" {
		currency = domain.SettlementCurrency
	}
	return PaymentInput{
		InvoiceID: domain.ProviderBank + ":" + strings.TrimSpace(t.TransactionID),
		Provider:  domain.ProviderBank,
		Hash:      t.Sender,
		Amount:    t.Amount,
		Asset:     currency,
		Payload:   t.Comment,
		Status:    domain.PaymentStatusPaid,
		PaidAt:    t.PaidAt,
	}
}

func (e BankTransferEvent) CorrelationID() (int64, bool) {
	return extractCorrelationID(e.Transfer.Comment)
}

func (e BankTransferEvent) SettlementAmount() (decimal.Decimal, bool) {
	currency := domain.NormalizeCurrency(e.Transfer.Currency)
	if currency != "" && currency != domain.SettlementCurrency {
		return decimal.Zero, false
	}
	if !e.Transfer.Amount.IsPositive() {
		return decimal.Zero, false
	}
	return e.Transfer.Amount, true
}

func normalizeSource(source string) string {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case domain.SourceBot:
		return domain.SourceBot
	case domain.SourceMiniApp, "mini_app", "mini-app":
		return domain.SourceMiniApp
	default:
		return domain.SourceUnspecified
	}
}
