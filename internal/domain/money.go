package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// SettlementScale is the number of minor-unit digits of the settlement currency (tyiyn).
const SettlementScale int32 = 2

// RoundSettlement rounds an amount to the settlement currency minor unit.
// Call it only when the amount is about to be persisted.
func RoundSettlement(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(SettlementScale)
}

// ParseAmount parses a provider amount string into a decimal.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("empty amount: %w", ErrAmountInvalid)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", raw, ErrAmountInvalid)
	}
	return d, nil
}

// NormalizePayoutAmount turns a provider-reported amount into the positive
// value passed upstream. Providers report payouts with a negative sign.
func NormalizePayoutAmount(amount decimal.Decimal) (decimal.Decimal, error) {
	abs := amount.Abs()
	if !abs.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive amount %s: %w", amount.String(), ErrAmountInvalid)
	}
	return abs, nil
}

// NormalizeCurrency upper-cases an asset or currency code.
func NormalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// FormatSettlement renders an amount for user-facing messages.
func FormatSettlement(amount decimal.Decimal) string {
	return fmt.Sprintf("%s %s", RoundSettlement(amount).StringFixed(SettlementScale), SettlementCurrency)
}
