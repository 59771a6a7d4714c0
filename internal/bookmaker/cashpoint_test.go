package bookmaker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/config"
	"github.com/ayo6706/cashdesk-gateway/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCashpointSignsRequestsAndDryRunsCheck(t *testing.T) {
	creds := config.BookmakerCredentials{
		Protocol:    config.ProtocolCashpoint,
		APIKey:      "key-1",
		APISecret:   "secret-1",
		CashpointID: "77",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		want := cashpointSignature("secret-1", "key-1", r.URL.Path, raw, r.Header.Get("X-Timestamp"))
		assert.Equal(t, want, r.Header.Get("X-Signature"))
		assert.Equal(t, "key-1", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "1700000000", r.Header.Get("X-Timestamp"))

		switch r.URL.Path {
		case "/api/v1/cashpoint/77/withdrawal/check":
			_, _ = w.Write([]byte(`{"status":"NEW","amount":"-1250.50"}`))
		case "/api/v1/cashpoint/77/withdrawal/confirm":
			var body cashpointWithdrawalReq
			require.NoError(t, json.Unmarshal(raw, &body))
			require.NotNil(t, body.Amount)
			assert.True(t, body.Amount.Equal(decimal.RequireFromString("1250.5")))
			_, _ = w.Write([]byte(`{"status":"COMPLETED","amount":"-1250.50","transactionId":"tx-9"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	creds.BaseURL = srv.URL

	adapter := NewCashpointAdapter("mostbet", creds, time.Second)
	adapter.now = func() time.Time { return time.Unix(1700000000, 0) }

	check, err := adapter.CheckCode(context.Background(), "42", "CODE")
	require.NoError(t, err)
	assert.False(t, check.AlreadyExecuted)
	assert.True(t, check.Amount.Equal(decimal.RequireFromString("1250.5")))

	payout, err := adapter.ExecutePayout(context.Background(), "42", "CODE", check.Amount)
	require.NoError(t, err)
	assert.Equal(t, "tx-9", payout.TransactionID)
	assert.True(t, payout.Amount.Equal(decimal.RequireFromString("1250.5")))
}

func TestCashpointClientErrorIsDefinite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"status":"ERROR","message":"code expired"}`))
	}))
	defer srv.Close()

	adapter := NewCashpointAdapter("mostbet", config.BookmakerCredentials{BaseURL: srv.URL, CashpointID: "1"}, time.Second)
	_, err := adapter.CheckCode(context.Background(), "42", "CODE")
	require.ErrorIs(t, err, domain.ErrProviderCallFailed)
	assert.True(t, domain.IsDefiniteRefusal(err))
	assert.Contains(t, err.Error(), "code expired")
}

func TestCashpointRejectsZeroAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"OK","amount":"0"}`))
	}))
	defer srv.Close()

	adapter := NewCashpointAdapter("mostbet", config.BookmakerCredentials{BaseURL: srv.URL, CashpointID: "1"}, time.Second)
	_, err := adapter.CheckCode(context.Background(), "42", "CODE")
	assert.ErrorIs(t, err, domain.ErrAmountInvalid)
}

func TestAPIKeyAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k-1", r.Header.Get("X-API-KEY"))
		switch r.URL.Path {
		case "/v1/cash/withdrawal/check":
			assert.Empty(t, r.Header.Get("Idempotency-Key"))
			_, _ = w.Write([]byte(`{"valid":true,"amount":-300}`))
		case "/v1/cash/withdrawal":
			assert.Equal(t, "withdrawal:W1", r.Header.Get("Idempotency-Key"))
			_, _ = w.Write([]byte(`{"amount":-300,"id":55}`))
		case "/v1/cash/deposit":
			assert.Equal(t, "deposit:9", r.Header.Get("Idempotency-Key"))
			_, _ = w.Write([]byte(`{"id":56}`))
		}
	}))
	defer srv.Close()

	adapter := NewAPIKeyAdapter("1win", config.BookmakerCredentials{BaseURL: srv.URL, APIKey: "k-1"}, time.Second)
	check, err := adapter.CheckCode(context.Background(), "u1", "W1")
	require.NoError(t, err)
	assert.True(t, check.Amount.Equal(decimal.NewFromInt(300)))

	payout, err := adapter.ExecutePayout(context.Background(), "u1", "W1", check.Amount)
	require.NoError(t, err)
	assert.Equal(t, "55", payout.TransactionID)

	credit, err := adapter.Credit(context.Background(), "u1", decimal.NewFromInt(100), 9)
	require.NoError(t, err)
	assert.Equal(t, "56", credit.TransactionID)
}

func TestAPIKeyInvalidCodeIsDefinite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"valid":false,"message":"unknown code"}`))
	}))
	defer srv.Close()

	adapter := NewAPIKeyAdapter("1win", config.BookmakerCredentials{BaseURL: srv.URL, APIKey: "k"}, time.Second)
	_, err := adapter.CheckCode(context.Background(), "u1", "W1")
	require.Error(t, err)
	assert.True(t, domain.IsDefiniteRefusal(err))
}
