package bookmaker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/config"
	"github.com/ayo6706/cashdesk-gateway/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cashdeskCreds(baseURL string) config.BookmakerCredentials {
	return config.BookmakerCredentials{
		Protocol:    config.ProtocolCashdesk,
		BaseURL:     baseURL,
		Hash:        "hash-1",
		CashierPass: "pass-1",
		Login:       "cashier",
		CashdeskID:  "1001",
	}
}

func TestCashdeskCheckCodeExecutesPayout(t *testing.T) {
	var payouts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/Deposit/555/Payout", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("sign"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "cashier", user)
		assert.Equal(t, "pass-1", pass)

		var body cashdeskPayoutReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(1001), body.CashdeskID)
		assert.Equal(t, "ABC123", body.Code)
		assert.Len(t, body.Confirm, 32)

		payouts.Add(1)
		_, _ = w.Write([]byte(`{"Success":true,"Summa":-500,"Message":"ok","OperationId":98765}`))
	}))
	defer srv.Close()

	adapter := NewCashdeskAdapter("1xbet", cashdeskCreds(srv.URL), time.Second)
	res, err := adapter.CheckCode(context.Background(), "555", "ABC123")
	require.NoError(t, err)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(500)))
	assert.True(t, res.AlreadyExecuted)
	assert.Equal(t, "98765", res.TransactionID)
	assert.True(t, adapter.ExecutesOnCheck())

	_, err = adapter.ExecutePayout(context.Background(), "555", "ABC123", res.Amount)
	assert.ErrorIs(t, err, domain.ErrCodeAlreadyUsed)
	assert.Equal(t, int32(1), payouts.Load())
}

func TestCashdeskRefusalIsDefinite(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Success":false,"Summa":0,"Message":"code not found"}`))
	}))
	defer srv.Close()

	adapter := NewCashdeskAdapter("melbet", cashdeskCreds(srv.URL), time.Second)
	_, err := adapter.CheckCode(context.Background(), "1", "X")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrProviderCallFailed))
	assert.True(t, domain.IsDefiniteRefusal(err))
	assert.Contains(t, err.Error(), "code not found")
}

func TestCashdeskServerErrorIsAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	adapter := NewCashdeskAdapter("winwin", cashdeskCreds(srv.URL), time.Second)
	_, err := adapter.CheckCode(context.Background(), "1", "X")
	require.ErrorIs(t, err, domain.ErrProviderCallFailed)
	assert.False(t, domain.IsDefiniteRefusal(err))
}

func TestCashdeskCredit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/Deposit/777/Add", r.URL.Path)
		assert.Equal(t, "77", r.Header.Get("X-Request-Id"))
		var body cashdeskDepositReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.True(t, body.Summa.Equal(decimal.RequireFromString("4375.13")))
		_, _ = w.Write([]byte(`{"Success":true,"Summa":4375.13,"OperationId":1}`))
	}))
	defer srv.Close()

	adapter := NewCashdeskAdapter("1xbet", cashdeskCreds(srv.URL), time.Second)
	res, err := adapter.Credit(context.Background(), "777", decimal.RequireFromString("4375.1277"), 77)
	require.NoError(t, err)
	assert.Equal(t, "1", res.TransactionID)
}

func TestCashdeskTimeoutIsAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	adapter := NewCashdeskAdapter("1xbet", cashdeskCreds(srv.URL), 50*time.Millisecond)
	_, err := adapter.Credit(context.Background(), "777", decimal.NewFromInt(10), 1)
	require.ErrorIs(t, err, domain.ErrProviderCallFailed)
	assert.False(t, domain.IsDefiniteRefusal(err))
}
