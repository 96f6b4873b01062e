/*
Package tax computes jurisdiction-split goods and services tax for invoice
lines.

RULES:
  Local sale (customer jurisdiction == business jurisdiction, or no customer
  jurisdiction given): the nominal rate is split in half between
  CGST Payable and SGST Payable.

  Interstate sale: the full rate goes to IGST Payable.

ROUNDING:
  Every figure is rounded to 2 places half away from zero, per line, before
  anything is summed:

    line_total  = round(quantity * unit_price, 2)
    local:      cgst = sgst = round(line_total * rate / 2 / 100, 2)
    interstate: igst = round(line_total * rate / 100, 2)
    line_tax    = sum of the line's components

  Components are rounded individually, so CGST and SGST are always equal
  and line_tax may differ from round(line_total * rate / 100, 2) by 0.01
  for odd rates.

EXAMPLE:
  res, err := tax.Calculate(items, "KA", "KA")
  // 1000 @ 18% -> CGST 90, SGST 90, total 1180
*/
package tax

import (
	"sort"
	"strconv"
	"strings"

	"github.com/adnank79d/Wytis-sub002/ledger"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// Component is one tax account's share of a line.
type Component struct {
	Account ledger.Account
	Rate    decimal.Decimal // effective percent for this account
	Amount  decimal.Decimal
}

// Line is the computed tax of one invoice item.
type Line struct {
	Index      int
	LineTotal  decimal.Decimal
	CostTotal  decimal.Decimal
	Rate       decimal.Decimal
	Components []Component
	Tax        decimal.Decimal
}

// Result holds per-line figures and invoice totals.
type Result struct {
	Interstate bool
	Lines      []Line
	Subtotal   decimal.Decimal
	TaxAmount  decimal.Decimal
	Total      decimal.Decimal
	CostTotal  decimal.Decimal

	// ByAccount sums tax per account; Taxable sums the line totals that
	// produced it. Zero-rated lines carry no component, so they appear in
	// Subtotal but in no Taxable entry.
	ByAccount map[ledger.Account]decimal.Decimal
	Taxable   map[ledger.Account]decimal.Decimal
}

// Calculate applies the jurisdiction rule to every item.
// An empty customerJurisdiction counts as local.
func Calculate(items []ledger.InvoiceItem, homeJurisdiction, customerJurisdiction string) (Result, error) {
	res := Result{
		Interstate: IsInterstate(homeJurisdiction, customerJurisdiction),
		Lines:      make([]Line, 0, len(items)),
		Subtotal:   decimal.Zero,
		TaxAmount:  decimal.Zero,
		CostTotal:  decimal.Zero,
		ByAccount:  make(map[ledger.Account]decimal.Decimal),
		Taxable:    make(map[ledger.Account]decimal.Decimal),
	}

	for i, item := range items {
		if err := ValidateItem(i, item); err != nil {
			return Result{}, err
		}

		line := Line{
			Index:     i,
			LineTotal: item.LineTotal().Round(2),
			CostTotal: item.CostTotal().Round(2),
			Rate:      item.TaxRate,
			Tax:       decimal.Zero,
		}
		line.Components = split(line.LineTotal, item.TaxRate, res.Interstate)
		for _, c := range line.Components {
			line.Tax = line.Tax.Add(c.Amount)
			res.ByAccount[c.Account] = res.ByAccount[c.Account].Add(c.Amount)
			res.Taxable[c.Account] = res.Taxable[c.Account].Add(line.LineTotal)
		}

		res.Subtotal = res.Subtotal.Add(line.LineTotal)
		res.TaxAmount = res.TaxAmount.Add(line.Tax)
		res.CostTotal = res.CostTotal.Add(line.CostTotal)
		res.Lines = append(res.Lines, line)
	}

	res.Total = res.Subtotal.Add(res.TaxAmount)
	return res, nil
}

// LineTax is the rounded tax of a single line under the jurisdiction rule.
func LineTax(lineTotal, rate decimal.Decimal, interstate bool) decimal.Decimal {
	total := decimal.Zero
	for _, c := range split(lineTotal.Round(2), rate, interstate) {
		total = total.Add(c.Amount)
	}
	return total
}

// IsInterstate compares jurisdiction codes ignoring case and surrounding space.
func IsInterstate(home, customer string) bool {
	customer = strings.TrimSpace(customer)
	if customer == "" {
		return false
	}
	return !strings.EqualFold(strings.TrimSpace(home), customer)
}

// ValidateItem rejects negative quantity, price, cost or rate, and rates over 100.
func ValidateItem(index int, item ledger.InvoiceItem) error {
	switch {
	case item.Quantity.IsNegative():
		return itemError(index, "quantity", "must not be negative")
	case item.UnitPrice.IsNegative():
		return itemError(index, "unit_price", "must not be negative")
	case item.CostPrice.IsNegative():
		return itemError(index, "cost_price", "must not be negative")
	case item.TaxRate.IsNegative():
		return itemError(index, "tax_rate", "must not be negative")
	case item.TaxRate.GreaterThan(hundred):
		return itemError(index, "tax_rate", "must not exceed 100")
	}
	return nil
}

// Accounts returns the tax accounts with a non-zero amount, sorted.
func (r Result) Accounts() []ledger.Account {
	var out []ledger.Account
	for acct, amt := range r.ByAccount {
		if !amt.IsZero() {
			out = append(out, acct)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func split(lineTotal, rate decimal.Decimal, interstate bool) []Component {
	if rate.IsZero() {
		return nil
	}
	if interstate {
		return []Component{{
			Account: ledger.IGSTPayable,
			Rate:    rate,
			Amount:  lineTotal.Mul(rate).Div(hundred).Round(2),
		}}
	}
	half := rate.Div(two)
	amount := lineTotal.Mul(half).Div(hundred).Round(2)
	return []Component{
		{Account: ledger.CGSTPayable, Rate: half, Amount: amount},
		{Account: ledger.SGSTPayable, Rate: half, Amount: amount},
	}
}

func itemError(index int, field, reason string) error {
	return &ledger.ValidationError{
		Field:  "items[" + strconv.Itoa(index) + "]." + field,
		Reason: reason,
	}
}
