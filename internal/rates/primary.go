package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/models"
	"github.com/ayo6706/cashdesk-gateway/internal/observability"
	"github.com/shopspring/decimal"
)

// CryptoPayClient reads the exchange rate snapshot of the Crypto Pay API.
type CryptoPayClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewCryptoPayClient(baseURL, token string, timeout time.Duration) *CryptoPayClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CryptoPayClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type cryptoPayRate struct {
	IsValid  bool            `json:"is_valid"`
	IsCrypto bool            `json:"is_crypto"`
	IsFiat   bool            `json:"is_fiat"`
	Source   string          `json:"source"`
	Target   string          `json:"target"`
	Rate     decimal.Decimal `json:"rate"`
}

type cryptoPayRatesResp struct {
	OK     bool            `json:"ok"`
	Result []cryptoPayRate `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Name string `json:"name"`
	} `json:"error,omitempty"`
}

// Snapshot implements SnapshotSource.
func (c *CryptoPayClient) Snapshot(ctx context.Context) ([]models.ExchangeRate, error) {
	start := time.Now()
	defer func() { observability.ObserveProviderCall("cryptopay", "getExchangeRates", time.Since(start)) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/getExchangeRates", nil)
	if err != nil {
		return nil, fmt.Errorf("build rates request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Crypto-Pay-API-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crypto pay rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("crypto pay rates: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out cryptoPayRatesResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode crypto pay rates: %w", err)
	}
	if !out.OK {
		name := "unknown"
		if out.Error != nil {
			name = out.Error.Name
		}
		return nil, fmt.Errorf("crypto pay rates: %s", name)
	}

	observed := time.Now().UTC()
	rates := make([]models.ExchangeRate, 0, len(out.Result))
	for _, r := range out.Result {
		rates = append(rates, models.ExchangeRate{
			Source:     r.Source,
			Target:     r.Target,
			Rate:       r.Rate,
			IsValid:    r.IsValid,
			ObservedAt: observed,
		})
	}
	return rates, nil
}
