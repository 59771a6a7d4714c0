package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/domain"
	"github.com/ayo6706/cashdesk-gateway/internal/models"
	"github.com/ayo6706/cashdesk-gateway/internal/signature"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	cryptoSecret       = "crypto-pay-token"
	bankSecret         = "bank-feed-secret"
	operatorChat int64 = 900
	playerChat   int64 = 5
)

type harness struct {
	store    *memStore
	sink     *recordingSink
	casino   *fakeCasino
	rates    *fixedRates
	ledger   *PaymentLedger
	webhooks *WebhookService
	payments *PaymentService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:  newMemStore(),
		sink:   &recordingSink{},
		casino: &fakeCasino{},
		rates: &fixedRates{table: map[string]decimal.Decimal{
			"USDT/KGS": mustDecimal("87.5"),
		}},
	}
	h.ledger = NewPaymentLedger(h.store)
	matcher := NewRequestMatcher(h.store, h.ledger, 30*time.Minute)
	orchestrator := NewDepositOrchestrator(h.store, h.ledger, h.rates, h.casino, h.sink,
		WithOperatorChat(operatorChat), WithStatusWriteRetry(1, 0))
	h.webhooks = NewWebhookService(h.store, h.ledger, matcher, orchestrator, h.sink,
		signature.NewVerifier(cryptoSecret, false), signature.NewVerifier(bankSecret, false), operatorChat)
	h.payments = NewPaymentService(h.store, h.ledger, orchestrator)
	return h
}

func (h *harness) seedDeposit(t *testing.T, id int64, amount string) models.Request {
	t.Helper()
	return h.store.seedRequest(models.Request{
		ID:          id,
		UserID:      playerChat,
		RequestType: domain.RequestTypeDeposit,
		Bookmaker:   "1xbet",
		AccountID:   "123456",
		Amount:      mustDecimal(amount),
	})
}

func cryptoBody(t *testing.T, invoiceID int64, asset, amount, payload string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"update_id":    invoiceID + 10,
		"update_type":  "invoice_paid",
		"request_date": "2026-01-02T10:00:00Z",
		"payload": map[string]any{
			"invoice_id":    invoiceID,
			"hash":          "IVabc",
			"status":        "paid",
			"currency_type": "crypto",
			"asset":         asset,
			"amount":        amount,
			"paid_at":       "2026-01-02T09:59:00Z",
			"payload":       payload,
		},
	})
	require.NoError(t, err)
	return body
}

func bankBody(t *testing.T, txID, amount, comment string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"transaction_id": txID,
		"amount":         amount,
		"currency":       "KGS",
		"comment":        comment,
		"sender":         "ELCART *1234",
	})
	require.NoError(t, err)
	return body
}

func (h *harness) deliverCrypto(t *testing.T, body []byte) *WebhookResult {
	t.Helper()
	res, err := h.webhooks.HandleCryptoBotWebhook(context.Background(), body, signature.Sign(cryptoSecret, body))
	require.NoError(t, err)
	return res
}

func (h *harness) deliverBank(t *testing.T, body []byte) *WebhookResult {
	t.Helper()
	res, err := h.webhooks.HandleBankWebhook(context.Background(), body, signature.Sign(bankSecret, body))
	require.NoError(t, err)
	return res
}

func TestCryptoWebhookReplayCreditsOnce(t *testing.T) {
	h := newHarness(t)
	h.seedDeposit(t, 77, "4375")
	body := cryptoBody(t, 1001, "USDT", "50", `{"request_id":77}`)

	first := h.deliverCrypto(t, body)
	assert.Equal(t, OutcomeCredited, first.Outcome)
	assert.Equal(t, MatchExplicit, first.Match)
	assert.False(t, first.Duplicate)

	for i := 0; i < 2; i++ {
		again := h.deliverCrypto(t, body)
		assert.True(t, again.Duplicate)
		assert.Equal(t, MatchExisting, again.Match)
		assert.Equal(t, OutcomeSkipped, again.Outcome)
	}

	assert.Equal(t, 1, h.store.paymentCount())
	require.Equal(t, 1, h.casino.callCount())
	assert.True(t, h.casino.calls[0].Amount.Equal(mustDecimal("4375")))
	assert.Equal(t, int64(77), h.casino.calls[0].RequestID)

	req := h.store.request(77)
	assert.Equal(t, domain.StatusAutodepositSuccess, req.Status)
	assert.Nil(t, req.StatusDetail)
	assert.Len(t, h.sink.to(playerChat), 1)
}

func TestCryptoWebhookConcurrentDeliveries(t *testing.T) {
	h := newHarness(t)
	h.seedDeposit(t, 77, "4375")
	body := cryptoBody(t, 1001, "USDT", "50", `{"request_id":77}`)
	sig := signature.Sign(cryptoSecret, body)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.webhooks.HandleCryptoBotWebhook(context.Background(), body, sig)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, h.store.paymentCount())
	assert.Equal(t, 1, h.casino.callCount())
	assert.Equal(t, domain.StatusAutodepositSuccess, h.store.request(77).Status)
	assert.Len(t, h.sink.to(playerChat), 1)
}

func TestCryptoWebhookRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	h.seedDeposit(t, 77, "4375")
	body := cryptoBody(t, 1001, "USDT", "50", `{"request_id":77}`)

	_, err := h.webhooks.HandleCryptoBotWebhook(context.Background(), body, signature.Sign("wrong", body))
	require.ErrorIs(t, err, domain.ErrInvalidSignature)

	tampered := []byte(strings.Replace(string(body), `"50"`, `"5000"`, 1))
	_, err = h.webhooks.HandleCryptoBotWebhook(context.Background(), tampered, signature.Sign(cryptoSecret, body))
	require.ErrorIs(t, err, domain.ErrInvalidSignature)

	assert.Zero(t, h.store.paymentCount())
	assert.Zero(t, h.casino.callCount())
}

func TestCryptoWebhookIgnoresOtherUpdates(t *testing.T) {
	h := newHarness(t)
	body := []byte(`{"update_id":1,"update_type":"invoice_expired","request_date":"2026-01-02T10:00:00Z","payload":{"invoice_id":5}}`)

	res := h.deliverCrypto(t, body)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Zero(t, h.store.paymentCount())
}

func TestCryptoWebhookRejectsMalformedBody(t *testing.T) {
	h := newHarness(t)
	body := []byte(`{"update_type":`)

	_, err := h.webhooks.HandleCryptoBotWebhook(context.Background(), body, signature.Sign(cryptoSecret, body))
	require.ErrorIs(t, err, ErrInvalidPayload)

	zero := cryptoBody(t, 1002, "USDT", "0", `{"request_id":77}`)
	_, err = h.webhooks.HandleCryptoBotWebhook(context.Background(), zero, signature.Sign(cryptoSecret, zero))
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestRateUnavailableFlagsRequestUntilSettled(t *testing.T) {
	h := newHarness(t)
	h.seedDeposit(t, 78, "0")
	body := cryptoBody(t, 2002, "TON", "10", `{"request_id":78}`)

	res := h.deliverCrypto(t, body)
	assert.Equal(t, OutcomeRateUnavailable, res.Outcome)

	req := h.store.request(78)
	assert.Equal(t, domain.StatusPending, req.Status)
	require.NotNil(t, req.StatusDetail)
	assert.Equal(t, domain.DetailRateUnavailable, *req.StatusDetail)
	assert.True(t, req.Amount.IsZero())
	assert.Zero(t, h.casino.callCount())
	rec, err := h.ledger.ByInvoice(context.Background(), "2002")
	require.NoError(t, err)
	assert.Nil(t, rec.CreditClaimedAt)
	require.NotNil(t, rec.RequestID)

	// Rates come back; the sweeper settles the payment.
	h.rates.table["TON/KGS"] = mustDecimal("480.25")
	settled, err := h.webhooks.RetryPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)
	require.Equal(t, 1, h.casino.callCount())
	assert.True(t, h.casino.calls[0].Amount.Equal(mustDecimal("4802.5")))
	req = h.store.request(78)
	assert.Equal(t, domain.StatusAutodepositSuccess, req.Status)
	assert.Nil(t, req.StatusDetail)

	settled, err = h.webhooks.RetryPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, settled)
}

func TestRetrySweepRotatesPastStuckPayments(t *testing.T) {
	h := newHarness(t)
	clock := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	h.store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	h.seedDeposit(t, 90, "0")
	h.seedDeposit(t, 91, "0")
	h.seedDeposit(t, 92, "0")
	h.deliverCrypto(t, cryptoBody(t, 8001, "XYZ", "10", `{"request_id":90}`))
	h.deliverCrypto(t, cryptoBody(t, 8002, "XYZ", "10", `{"request_id":91}`))
	h.deliverCrypto(t, cryptoBody(t, 8003, "TON", "10", `{"request_id":92}`))

	h.rates.table["TON/KGS"] = mustDecimal("480.25")

	// The two oldest payments can never convert; a fixed oldest-first order
	// would keep picking them.
	settled, err := h.webhooks.RetryPending(context.Background(), 2)
	require.NoError(t, err)
	assert.Zero(t, settled)

	settled, err = h.webhooks.RetryPending(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)
	assert.Equal(t, domain.StatusAutodepositSuccess, h.store.request(92).Status)
	require.Equal(t, 1, h.casino.callCount())
	assert.Equal(t, int64(92), h.casino.calls[0].RequestID)

	for _, id := range []int64{90, 91} {
		req := h.store.request(id)
		assert.Equal(t, domain.StatusPending, req.Status)
		require.NotNil(t, req.StatusDetail)
		assert.Equal(t, domain.DetailRateUnavailable, *req.StatusDetail)
	}
}

func TestRateFallbackUsesRequestAmount(t *testing.T) {
	h := newHarness(t)
	h.seedDeposit(t, 79, "1000")
	body := cryptoBody(t, 3003, "TON", "2", `{"request_id":79}`)

	res := h.deliverCrypto(t, body)
	assert.Equal(t, OutcomeCredited, res.Outcome)

	require.Equal(t, 1, h.casino.callCount())
	assert.True(t, h.casino.calls[0].Amount.Equal(mustDecimal("1000")))
	req := h.store.request(79)
	assert.Equal(t, domain.StatusAutodepositSuccess, req.Status)
	require.NotNil(t, req.StatusDetail)
	assert.Equal(t, domain.DetailRateFallback, *req.StatusDetail)
}

func TestQuotedAmountWinsOverConversion(t *testing.T) {
	h := newHarness(t)
	h.seedDeposit(t, 80, "4400")
	body := cryptoBody(t, 3004, "USDT", "50", `{"request_id":80,"amount_kgs":"4400"}`)

	h.deliverCrypto(t, body)
	require.Equal(t, 1, h.casino.callCount())
	assert.True(t, h.casino.calls[0].Amount.Equal(mustDecimal("4400")))
	assert.Zero(t, h.rates.calls)
}

func TestCreditFailureGoesToOperators(t *testing.T) {
	h := newHarness(t)
	h.seedDeposit(t, 81, "4375")
	h.casino.err = &domain.ProviderError{Bookmaker: "1xbet", Op: "credit", Err: context.DeadlineExceeded}
	body := cryptoBody(t, 4004, "USDT", "50", `{"request_id":81}`)

	res := h.deliverCrypto(t, body)
	assert.Equal(t, OutcomeCreditFailed, res.Outcome)

	req := h.store.request(81)
	assert.Equal(t, domain.StatusAutoCompleted, req.Status)
	require.NotNil(t, req.StatusDetail)
	assert.True(t, strings.HasPrefix(*req.StatusDetail, domain.DetailCreditFailed))
	assert.Contains(t, *req.StatusDetail, "verify at casino")
	assert.Len(t, h.sink.to(operatorChat), 1)
	assert.Len(t, h.sink.to(playerChat), 1)

	h.casino.err = nil
	h.deliverCrypto(t, body)
	settled, err := h.webhooks.RetryPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, settled)
	assert.Equal(t, 1, h.casino.callCount())
}

func TestOperatorDecisionIsNotOverwritten(t *testing.T) {
	h := newHarness(t)
	h.store.seedRequest(models.Request{
		ID: 82, UserID: playerChat, RequestType: domain.RequestTypeDeposit,
		Bookmaker: "1xbet", AccountID: "123456", Amount: mustDecimal("4375"), Status: domain.StatusApproved,
	})
	body := cryptoBody(t, 5005, "USDT", "50", `{"request_id":82}`)

	res := h.deliverCrypto(t, body)
	assert.Equal(t, MatchUnmatched, res.Match)
	assert.Equal(t, OutcomeUnmatched, res.Outcome)
	assert.Equal(t, domain.StatusApproved, h.store.request(82).Status)
	assert.Zero(t, h.casino.callCount())
	assert.Len(t, h.sink.to(operatorChat), 1)
}

func TestSecondPaymentForSettledRequestIsUnmatched(t *testing.T) {
	h := newHarness(t)
	h.seedDeposit(t, 77, "4375")
	first := h.deliverCrypto(t, cryptoBody(t, 1001, "USDT", "50", `{"request_id":77}`))
	require.Equal(t, OutcomeCredited, first.Outcome)

	second := h.deliverCrypto(t, cryptoBody(t, 1002, "USDT", "50", `{"request_id":77}`))
	assert.Equal(t, MatchUnmatched, second.Match)
	assert.Equal(t, OutcomeUnmatched, second.Outcome)
	assert.Nil(t, second.RequestID)
	assert.Equal(t, 1, h.casino.callCount())

	alerts := h.sink.to(operatorChat)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Text, "1002")

	unmatched, err := h.payments.ListUnmatched(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, unmatched, 1)
	assert.Equal(t, "1002", unmatched[0].InvoiceID)
}

func TestSecondPaymentForPendingRequestIsUnmatched(t *testing.T) {
	h := newHarness(t)
	h.seedDeposit(t, 83, "0")
	first := h.deliverCrypto(t, cryptoBody(t, 2101, "TON", "10", `{"request_id":83}`))
	require.Equal(t, OutcomeRateUnavailable, first.Outcome)

	second := h.deliverCrypto(t, cryptoBody(t, 2102, "USDT", "50", `{"request_id":83}`))
	assert.Equal(t, MatchUnmatched, second.Match)
	assert.Zero(t, h.casino.callCount())
	assert.Len(t, h.sink.to(operatorChat), 1)

	// The first payment still owns the request.
	h.rates.table["TON/KGS"] = mustDecimal("480.25")
	settled, err := h.webhooks.RetryPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)
	assert.True(t, h.casino.calls[0].Amount.Equal(mustDecimal("4802.5")))
}

func TestBoundPaymentForDeferredRequestAlertsOperator(t *testing.T) {
	h := newHarness(t)
	h.seedDeposit(t, 84, "0")
	body := cryptoBody(t, 2201, "TON", "10", `{"request_id":84}`)
	h.deliverCrypto(t, body)

	deferred := h.store.request(84)
	deferred.Status = domain.StatusDeferred
	h.store.seedRequest(deferred)

	res := h.deliverCrypto(t, body)
	assert.Equal(t, MatchExisting, res.Match)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Zero(t, h.casino.callCount())

	req := h.store.request(84)
	assert.Equal(t, domain.StatusDeferred, req.Status)
	require.NotNil(t, req.StatusDetail)
	assert.Equal(t, domain.DetailUnclaimedPayment+":2201", *req.StatusDetail)
	alerts := h.sink.to(operatorChat)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Text, "#84")
}

func TestCryptoWebhookOriginatesRequest(t *testing.T) {
	h := newHarness(t)
	payload := `{"user_id":5,"bookmaker":"1XBET","account_id":123456,"amount_kgs":"4375","source":"miniapp"}`
	body := cryptoBody(t, 6006, "USDT", "50", payload)

	res := h.deliverCrypto(t, body)
	assert.Equal(t, MatchOriginated, res.Match)
	assert.Equal(t, OutcomeCredited, res.Outcome)
	require.NotNil(t, res.RequestID)

	req := h.store.request(*res.RequestID)
	assert.Equal(t, "1xbet", req.Bookmaker)
	assert.Equal(t, "123456", req.AccountID)
	assert.Equal(t, domain.SourceMiniApp, req.Source)
	assert.Equal(t, domain.StatusAutodepositSuccess, req.Status)

	again := h.deliverCrypto(t, body)
	assert.Equal(t, *res.RequestID, *again.RequestID)
	assert.Equal(t, 1, h.casino.callCount())
}

func TestOriginationRaceCreatesOneRequest(t *testing.T) {
	h := newHarness(t)
	payload := `{"user_id":5,"bookmaker":"melbet","account_id":"42","amount_kgs":"100"}`
	body := cryptoBody(t, 7007, "USDT", "1.2", payload)
	sig := signature.Sign(cryptoSecret, body)

	var wg sync.WaitGroup
	ids := make(chan int64, 6)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.webhooks.HandleCryptoBotWebhook(context.Background(), body, sig)
			if assert.NoError(t, err) && assert.NotNil(t, res.RequestID) {
				ids <- *res.RequestID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[int64]bool{}
	for id := range ids {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
	assert.Equal(t, 1, h.casino.callCount())
}

func TestBankWebhookExplicitReferenceBeatsAmount(t *testing.T) {
	h := newHarness(t)
	h.seedDeposit(t, 12, "1500")
	h.seedDeposit(t, 13, "1500")

	res := h.deliverBank(t, bankBody(t, "TX-1", "1500", "Deposit request #12"))
	assert.Equal(t, MatchExplicit, res.Match)
	require.NotNil(t, res.RequestID)
	assert.Equal(t, int64(12), *res.RequestID)
	assert.Equal(t, domain.StatusAutodepositSuccess, h.store.request(12).Status)
	assert.Equal(t, domain.StatusPending, h.store.request(13).Status)
}

func TestBankWebhookMatchesUniqueAmount(t *testing.T) {
	h := newHarness(t)
	h.seedDeposit(t, 20, "2500")
	h.seedDeposit(t, 21, "700")

	res := h.deliverBank(t, bankBody(t, "TX-2", "2500.00", "thanks"))
	assert.Equal(t, MatchAmount, res.Match)
	require.NotNil(t, res.RequestID)
	assert.Equal(t, int64(20), *res.RequestID)
	assert.Equal(t, OutcomeCredited, res.Outcome)
}

func TestBankWebhookAmbiguousAmountIsUnmatched(t *testing.T) {
	h := newHarness(t)
	h.seedDeposit(t, 30, "900")
	h.seedDeposit(t, 31, "900")
	body := bankBody(t, "TX-3", "900", "")

	res := h.deliverBank(t, body)
	assert.Equal(t, MatchUnmatched, res.Match)
	assert.Equal(t, OutcomeUnmatched, res.Outcome)
	assert.Nil(t, res.RequestID)
	assert.Len(t, h.sink.to(operatorChat), 1)

	h.deliverBank(t, body)
	assert.Len(t, h.sink.to(operatorChat), 1, "replays do not alert twice")
	assert.Zero(t, h.casino.callCount())

	unmatched, err := h.payments.ListUnmatched(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, unmatched, 1)
	assert.Equal(t, "bank:TX-3", unmatched[0].InvoiceID)
}

func TestBankWebhookExpiredAmountWindow(t *testing.T) {
	h := newHarness(t)
	h.store.seedRequest(models.Request{
		ID: 40, UserID: playerChat, RequestType: domain.RequestTypeDeposit, Bookmaker: "1xbet",
		AccountID: "1", Amount: mustDecimal("333"), CreatedAt: time.Now().Add(-2 * time.Hour),
	})

	res := h.deliverBank(t, bankBody(t, "TX-4", "333", "no ref"))
	assert.Equal(t, MatchUnmatched, res.Match)
}

func TestBankWebhookRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	body := bankBody(t, "TX-5", "100", "")

	_, err := h.webhooks.HandleBankWebhook(context.Background(), body, "sha256=00ff")
	assert.True(t, errors.Is(err, domain.ErrInvalidSignature))
	assert.Zero(t, h.store.paymentCount())
}
