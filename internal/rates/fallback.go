package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/domain"
	"github.com/ayo6706/cashdesk-gateway/internal/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PublicRatesClient reads a flat currency -> rate map for a base currency from
// an open exchange rate endpoint: GET {BaseURL}/{BASE}.
type PublicRatesClient struct {
	BaseURL    string
	HTTPClient *http.Client
	cache      Cache
	ttl        time.Duration
}

func NewPublicRatesClient(baseURL string, timeout time.Duration, cache Cache, ttl time.Duration) *PublicRatesClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &PublicRatesClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		cache:      cache,
		ttl:        ttl,
	}
}

type publicRatesResp struct {
	Result    string                     `json:"result"`
	BaseCode  string                     `json:"base_code"`
	Rates     map[string]decimal.Decimal `json:"rates"`
	ErrorType string                     `json:"error-type,omitempty"`
}

// Rates implements BaseRateSource. Successful responses are cached for the
// configured TTL; failures are never cached.
func (c *PublicRatesClient) Rates(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	base = domain.NormalizeCurrency(base)
	if cached, ok, err := c.cache.Get(ctx, base); err != nil {
		zap.L().Warn("rate cache read failed", zap.String("base", base), zap.Error(err))
	} else if ok {
		return cached, nil
	}

	rates, err := c.fetch(ctx, base)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, base, rates, c.ttl); err != nil {
		zap.L().Warn("rate cache write failed", zap.String("base", base), zap.Error(err))
	}
	return rates, nil
}

func (c *PublicRatesClient) fetch(ctx context.Context, base string) (map[string]decimal.Decimal, error) {
	start := time.Now()
	defer func() { observability.ObserveProviderCall("public_rates", "latest", time.Since(start)) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/"+base, nil)
	if err != nil {
		return nil, fmt.Errorf("build fallback rates request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fallback rates: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fallback rates: http %d", resp.StatusCode)
	}

	var out publicRatesResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode fallback rates: %w", err)
	}
	if out.Result != "success" {
		return nil, fmt.Errorf("fallback rates for %s: %s", base, out.ErrorType)
	}
	if len(out.Rates) == 0 {
		return nil, errors.New("fallback rates: empty rate map")
	}

	rates := make(map[string]decimal.Decimal, len(out.Rates))
	for code, v := range out.Rates {
		rates[domain.NormalizeCurrency(code)] = v
	}
	return rates, nil
}
