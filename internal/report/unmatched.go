// Package report renders operator exports.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/ayo6706/cashdesk-gateway/internal/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	unmatchedSheet = "Unmatched"
	totalsSheet    = "Totals"
)

var unmatchedHeader = []string{"invoice_id", "provider", "amount", "asset", "fee", "status", "paid_at", "received_at", "payload"}

// UnmatchedPayments builds an XLSX workbook listing payments that were never
// bound to a request, with per-asset totals on a second sheet.
func UnmatchedPayments(payments []models.PaymentRecord, generatedAt time.Time) (string, []byte, error) {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	xl.SetSheetName(xl.GetSheetName(0), unmatchedSheet)
	header := unmatchedHeader
	if err := xl.SetSheetRow(unmatchedSheet, "A1", &header); err != nil {
		return "", nil, fmt.Errorf("write header: %w", err)
	}

	totals := map[string]decimal.Decimal{}
	counts := map[string]int{}
	for i, p := range payments {
		paidAt := ""
		if p.PaidAt != nil {
			paidAt = p.PaidAt.UTC().Format(time.RFC3339)
		}
		record := []any{
			p.InvoiceID,
			p.Provider,
			p.Amount.String(),
			p.Asset,
			p.FeeAmount.String(),
			p.Status,
			paidAt,
			p.CreatedAt.UTC().Format(time.RFC3339),
			p.Payload,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := xl.SetSheetRow(unmatchedSheet, cell, &record); err != nil {
			return "", nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
		totals[p.Asset] = totals[p.Asset].Add(p.Amount)
		counts[p.Asset]++
	}

	if _, err := xl.NewSheet(totalsSheet); err != nil {
		return "", nil, fmt.Errorf("add totals sheet: %w", err)
	}
	totalsHeader := []string{"asset", "payments", "amount"}
	if err := xl.SetSheetRow(totalsSheet, "A1", &totalsHeader); err != nil {
		return "", nil, fmt.Errorf("write totals header: %w", err)
	}
	assets := make([]string, 0, len(totals))
	for asset := range totals {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for i, asset := range assets {
		record := []any{asset, counts[asset], totals[asset].String()}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := xl.SetSheetRow(totalsSheet, cell, &record); err != nil {
			return "", nil, fmt.Errorf("write totals row: %w", err)
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, fmt.Errorf("write workbook: %w", err)
	}
	filename := fmt.Sprintf("unmatched_payments_%s.xlsx", generatedAt.UTC().Format("20060102_150405"))
	return filename, buf.Bytes(), nil
}
