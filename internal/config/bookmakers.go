package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ProtocolCashdesk  = "cashdesk"
	ProtocolCashpoint = "cashpoint"
	ProtocolAPIKey    = "apikey"
)

// BookmakerCredentials are the per-tenant settings of one bookmaker integration.
// Which fields are required depends on Protocol.
type BookmakerCredentials struct {
	Protocol string        `mapstructure:"protocol"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`

	// cashdesk
	Hash        string `mapstructure:"hash"`
	CashierPass string `mapstructure:"cashier_pass"`
	Login       string `mapstructure:"login"`
	CashdeskID  string `mapstructure:"cashdesk_id"`

	// cashpoint / apikey
	APIKey      string `mapstructure:"api_key"`
	APISecret   string `mapstructure:"api_secret"`
	CashpointID string `mapstructure:"cashpoint_id"`
}

// BookmakerSettings maps a lower-case bookmaker name to its credentials.
type BookmakerSettings map[string]BookmakerCredentials

// Validate reports the first missing field for the configured protocol.
func (c BookmakerCredentials) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("base_url is required")
	}
	switch c.Protocol {
	case ProtocolCashdesk:
		for name, val := range map[string]string{"hash": c.Hash, "cashier_pass": c.CashierPass, "login": c.Login, "cashdesk_id": c.CashdeskID} {
			if strings.TrimSpace(val) == "" {
				return fmt.Errorf("%s is required for cashdesk protocol", name)
			}
		}
	case ProtocolCashpoint:
		for name, val := range map[string]string{"api_key": c.APIKey, "api_secret": c.APISecret, "cashpoint_id": c.CashpointID} {
			if strings.TrimSpace(val) == "" {
				return fmt.Errorf("%s is required for cashpoint protocol", name)
			}
		}
	case ProtocolAPIKey:
		if strings.TrimSpace(c.APIKey) == "" {
			return fmt.Errorf("api_key is required for apikey protocol")
		}
	default:
		return fmt.Errorf("unknown protocol %q", c.Protocol)
	}
	return nil
}

// LoadBookmakers reads the bookmaker credentials file (YAML, JSON or TOML).
//
//	bookmakers:
//	  1xbet:
//	    protocol: cashdesk
//	    base_url: https://partners.example/CashdeskBotAPI
//	    hash: ...
func LoadBookmakers(path string) (BookmakerSettings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read bookmakers file: %w", err)
	}

	raw := map[string]BookmakerCredentials{}
	if err := v.UnmarshalKey("bookmakers", &raw); err != nil {
		return nil, fmt.Errorf("decode bookmakers file: %w", err)
	}

	settings := make(BookmakerSettings, len(raw))
	for name, creds := range raw {
		name = strings.ToLower(strings.TrimSpace(name))
		creds.Protocol = strings.ToLower(strings.TrimSpace(creds.Protocol))
		creds.BaseURL = strings.TrimRight(creds.BaseURL, "/")
		if err := creds.Validate(); err != nil {
			return nil, fmt.Errorf("bookmaker %s: %w", name, err)
		}
		settings[name] = creds
	}
	return settings, nil
}
