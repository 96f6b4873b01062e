package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/adnank79d/Wytis-sub002/ledger"
	"github.com/shopspring/decimal"
)

// =============================================================================
// TAX-FILING EXPORT
// =============================================================================

// GstRow is one document's line in a tax filing. An issue and its void are
// separate rows with opposite signs.
//
// TaxableValue covers taxed lines only. Zero-rated lines write no GstRecord,
// so on a mixed invoice TaxableValue and Total are below the invoice's
// subtotal and total.
type GstRow struct {
	Date          time.Time
	SourceType    ledger.SourceType
	SourceID      string
	TransactionID ledger.TransactionID
	PartyName     string
	PartyTaxID    string
	Direction     ledger.TaxDirection
	TaxableValue  decimal.Decimal
	TaxAmount     decimal.Decimal
	Total         decimal.Decimal

	// Per tax account, for filings that split CGST/SGST/IGST.
	ByAccount map[ledger.Account]decimal.Decimal
}

// GstExport builds filing rows from GstRecord rows dated within the period,
// one row per (source, transaction), ordered by date.
//
// Local sales carry a CGST and an SGST record over the same base, so the
// taxable value of a row is the largest per-account base, not their sum.
func (a *Aggregator) GstExport(ctx context.Context, businessID ledger.BusinessID, period ledger.Period) ([]GstRow, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	if _, err := ledger.RequireBusiness(ctx, a.store, businessID); err != nil {
		return nil, err
	}
	records, err := a.store.ListGstRecords(ctx, businessID, period)
	if err != nil {
		return nil, err
	}

	type key struct {
		source ledger.SourceType
		id     string
		tx     ledger.TransactionID
		dir    ledger.TaxDirection
	}
	rows := map[key]*GstRow{}
	bases := map[key]map[ledger.Account]decimal.Decimal{}
	var order []key

	for _, r := range records {
		k := key{r.SourceType, r.SourceID, r.TransactionID, r.Direction}
		row, ok := rows[k]
		if !ok {
			row = &GstRow{
				Date:          r.RecordDate,
				SourceType:    r.SourceType,
				SourceID:      r.SourceID,
				TransactionID: r.TransactionID,
				PartyName:     r.PartyName,
				PartyTaxID:    r.PartyTaxID,
				Direction:     r.Direction,
				TaxableValue:  decimal.Zero,
				TaxAmount:     decimal.Zero,
				ByAccount:     map[ledger.Account]decimal.Decimal{},
			}
			rows[k] = row
			bases[k] = map[ledger.Account]decimal.Decimal{}
			order = append(order, k)
		}
		row.TaxAmount = row.TaxAmount.Add(r.Amount)
		row.ByAccount[r.TaxType] = row.ByAccount[r.TaxType].Add(r.Amount)
		bases[k][r.TaxType] = bases[k][r.TaxType].Add(r.TaxableValue)
	}

	out := make([]GstRow, 0, len(order))
	for _, k := range order {
		row := rows[k]
		row.TaxableValue = largestBase(bases[k])
		row.Total = row.TaxableValue.Add(row.TaxAmount)
		out = append(out, *row)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// largestBase picks the base with the largest magnitude, keeping its sign so
// void rows stay negative.
func largestBase(bases map[ledger.Account]decimal.Decimal) decimal.Decimal {
	best := decimal.Zero
	for _, v := range bases {
		if v.Abs().GreaterThan(best.Abs()) {
			best = v
		}
	}
	return best
}

var gstHeader = []string{
	"date", "party_name", "tax_id", "direction", "taxable_value",
	"cgst", "sgst", "igst", "tax_amount", "total", "source_type", "source_id",
}

// WriteGstCSV writes rows as CSV with a header line.
func WriteGstCSV(w io.Writer, rows []GstRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(gstHeader); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.Date.Format(time.DateOnly),
			r.PartyName,
			r.PartyTaxID,
			string(r.Direction),
			r.TaxableValue.StringFixed(2),
			r.ByAccount[ledger.CGSTPayable].StringFixed(2),
			r.ByAccount[ledger.SGSTPayable].StringFixed(2),
			r.ByAccount[ledger.IGSTPayable].StringFixed(2),
			r.TaxAmount.StringFixed(2),
			r.Total.StringFixed(2),
			string(r.SourceType),
			r.SourceID,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write gst row %s: %w", r.SourceID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
