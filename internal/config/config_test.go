package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-0123456789-test-secret"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("CRYPTOBOT_TOKEN", "12345:AAAA")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.RateFallbackCacheTTL)
	assert.Equal(t, 10*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, []string{"USD"}, cfg.RateIntermediates)
	assert.Equal(t, int32(20), cfg.RetryBatchSize)
	assert.Empty(t, cfg.Bookmakers)
}

func TestLoadRequiresTokenUnlessSkipped(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("CRYPTOBOT_TOKEN", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("WEBHOOK_SKIP_SIG", "true")
	_, err = Load()
	require.NoError(t, err)
}

func TestLoadRejectsShortJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")
	t.Setenv("CRYPTOBOT_TOKEN", "x")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadIntermediatesList(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("CRYPTOBOT_TOKEN", "x")
	t.Setenv("RATE_INTERMEDIATES", "usd, rub ,")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"USD", "RUB"}, cfg.RateIntermediates)
}

func TestLoadBookmakers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookmakers.yaml")
	content := `
bookmakers:
  1XBET:
    protocol: cashdesk
    base_url: https://cashdesk.example/api/
    hash: h
    cashier_pass: p
    login: l
    cashdesk_id: "1001"
  mostbet:
    protocol: cashpoint
    base_url: https://mostbet.example
    api_key: k
    api_secret: s
    cashpoint_id: "77"
  1win:
    protocol: apikey
    base_url: https://1win.example
    api_key: k
    timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	settings, err := LoadBookmakers(path)
	require.NoError(t, err)
	require.Len(t, settings, 3)
	assert.Equal(t, ProtocolCashdesk, settings["1xbet"].Protocol)
	assert.Equal(t, "https://cashdesk.example/api", settings["1xbet"].BaseURL)
	assert.Equal(t, "77", settings["mostbet"].CashpointID)
	assert.Equal(t, 5*time.Second, settings["1win"].Timeout)
}

func TestLoadBookmakersRejectsIncompleteCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookmakers.yaml")
	content := `
bookmakers:
  melbet:
    protocol: cashdesk
    base_url: https://cashdesk.example
    hash: h
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := LoadBookmakers(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "melbet")
}
