/*
Package report derives balances and financial metrics from ledger entries.

PURPOSE:
  Answers "what does the ledger say?" for dashboards and filings. Every
  figure is a reduction over LedgerEntry rows joined to their transaction's
  economic date. Invoice rows are never read, so reports depend on the
  immutable ledger alone.

BALANCE:
  debit-normal account:  Σdebit - Σcredit
  credit-normal account: Σcredit - Σdebit

SUMMARY:
  revenue     = balance(sales) + balance(other_income)
  expenses    = Σ balance(a) for every account outside the balance sheet
                that is not income (COGS and operating expenses)
  net_profit  = revenue - expenses
  receivables = balance(accounts_receivable)
  payables    = balance(accounts_payable)
  tax_payable = Σ balance(tax account)

  Profit-and-loss figures cover entries inside the period. Balance-sheet
  figures (receivables, payables, tax payable) are cumulative up to the
  period end, as a balance sheet is.

SNAPSHOTS:
  Each call reads the ledger once, so a report never mixes the states before
  and after a concurrent posting.

SEE ALSO:
  - gst.go: Tax-filing export
  - ledger/period.go: Month, quarter and fiscal-year periods
*/
package report

import (
	"context"

	"github.com/adnank79d/Wytis-sub002/ledger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EntryReader is the read side of ledger.Store reporting needs.
type EntryReader interface {
	GetBusiness(ctx context.Context, id ledger.BusinessID) (*ledger.Business, error)
	ListPostedEntries(ctx context.Context, businessID ledger.BusinessID, period ledger.Period) ([]ledger.PostedEntry, error)
	ListGstRecords(ctx context.Context, businessID ledger.BusinessID, period ledger.Period) ([]ledger.GstRecord, error)
}

type Aggregator struct {
	store  EntryReader
	logger *zap.Logger
}

type Option func(*Aggregator)

func WithLogger(l *zap.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

func NewAggregator(store EntryReader, opts ...Option) *Aggregator {
	a := &Aggregator{store: store, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// =============================================================================
// BALANCES
// =============================================================================

// AccountBalance is one trial-balance row.
type AccountBalance struct {
	Account ledger.Account
	Name    string
	Class   ledger.Class
	Normal  ledger.Side
	Debit   decimal.Decimal
	Credit  decimal.Decimal
	Balance decimal.Decimal // on the account's normal side
}

// TrialBalance lists every account with activity in the period.
type TrialBalance struct {
	BusinessID  ledger.BusinessID
	Period      ledger.Period
	Accounts    []AccountBalance
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
}

func (tb TrialBalance) Balanced() bool { return tb.TotalDebit.Equal(tb.TotalCredit) }

// Get returns the row for account, or a zero row.
func (tb TrialBalance) Get(account ledger.Account) AccountBalance {
	for _, row := range tb.Accounts {
		if row.Account == account {
			return row
		}
	}
	return zeroRow(account)
}

// Balance returns the normal-side balance of one account.
func (a *Aggregator) Balance(ctx context.Context, businessID ledger.BusinessID, account ledger.Account, period ledger.Period) (decimal.Decimal, error) {
	if !account.Valid() {
		return decimal.Zero, &ledger.ValidationError{Field: "account", Reason: "unknown account " + string(account)}
	}
	tb, err := a.TrialBalance(ctx, businessID, period)
	if err != nil {
		return decimal.Zero, err
	}
	return tb.Get(account).Balance, nil
}

// TrialBalance totals every account over the period.
func (a *Aggregator) TrialBalance(ctx context.Context, businessID ledger.BusinessID, period ledger.Period) (TrialBalance, error) {
	if err := period.Validate(); err != nil {
		return TrialBalance{}, err
	}
	if _, err := ledger.RequireBusiness(ctx, a.store, businessID); err != nil {
		return TrialBalance{}, err
	}
	entries, err := a.store.ListPostedEntries(ctx, businessID, period)
	if err != nil {
		return TrialBalance{}, err
	}
	tb := trialBalance(entries, func(ledger.PostedEntry) bool { return true })
	tb.BusinessID = businessID
	tb.Period = period
	return tb, nil
}

func trialBalance(entries []ledger.PostedEntry, include func(ledger.PostedEntry) bool) TrialBalance {
	rows := map[ledger.Account]*AccountBalance{}
	tb := TrialBalance{TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}

	for _, e := range entries {
		if !include(e) {
			continue
		}
		row := rows[e.Account]
		if row == nil {
			r := zeroRow(e.Account)
			row = &r
			rows[e.Account] = row
		}
		row.Debit = row.Debit.Add(e.Debit)
		row.Credit = row.Credit.Add(e.Credit)
		tb.TotalDebit = tb.TotalDebit.Add(e.Debit)
		tb.TotalCredit = tb.TotalCredit.Add(e.Credit)
	}

	for _, acct := range ledger.Accounts() {
		row, ok := rows[acct]
		if !ok {
			continue
		}
		row.Balance = normalBalance(acct, row.Debit, row.Credit)
		tb.Accounts = append(tb.Accounts, *row)
	}
	return tb
}

func zeroRow(account ledger.Account) AccountBalance {
	info := account.Info()
	return AccountBalance{
		Account: account,
		Name:    info.Name,
		Class:   info.Class,
		Normal:  info.Normal,
		Debit:   decimal.Zero,
		Credit:  decimal.Zero,
		Balance: decimal.Zero,
	}
}

func normalBalance(account ledger.Account, debit, credit decimal.Decimal) decimal.Decimal {
	if account.Normal() == ledger.SideCredit {
		return credit.Sub(debit)
	}
	return debit.Sub(credit)
}

// =============================================================================
// SUMMARY
// =============================================================================

// Summary holds the derived metrics of one period.
type Summary struct {
	BusinessID  ledger.BusinessID
	Period      ledger.Period
	Revenue     decimal.Decimal
	Expenses    decimal.Decimal
	NetProfit   decimal.Decimal
	Receivables decimal.Decimal
	Payables    decimal.Decimal
	TaxPayable  decimal.Decimal
}

// Summary computes the derived metrics for the period.
func (a *Aggregator) Summary(ctx context.Context, businessID ledger.BusinessID, period ledger.Period) (Summary, error) {
	if err := period.Validate(); err != nil {
		return Summary{}, err
	}
	if _, err := ledger.RequireBusiness(ctx, a.store, businessID); err != nil {
		return Summary{}, err
	}

	// One read: everything up to the period end. P&L is filtered below.
	entries, err := a.store.ListPostedEntries(ctx, businessID, ledger.Period{End: period.End})
	if err != nil {
		return Summary{}, err
	}

	pl := trialBalance(entries, func(e ledger.PostedEntry) bool { return period.Contains(e.TransactionDate) })
	bs := trialBalance(entries, func(ledger.PostedEntry) bool { return true })

	s := Summary{
		BusinessID:  businessID,
		Period:      period,
		Revenue:     decimal.Zero,
		Expenses:    decimal.Zero,
		Receivables: bs.Get(ledger.AccountsReceivable).Balance,
		Payables:    bs.Get(ledger.AccountsPayable).Balance,
		TaxPayable:  decimal.Zero,
	}
	for _, row := range pl.Accounts {
		switch {
		case row.Account.IsIncome():
			s.Revenue = s.Revenue.Add(row.Balance)
		case row.Account.IsExpense():
			s.Expenses = s.Expenses.Add(row.Balance)
		}
	}
	for _, acct := range ledger.TaxAccounts() {
		s.TaxPayable = s.TaxPayable.Add(bs.Get(acct).Balance)
	}
	s.NetProfit = s.Revenue.Sub(s.Expenses)
	return s, nil
}

// =============================================================================
// COMPARISON
// =============================================================================

// Change is the movement of one metric between two periods.
type Change struct {
	Current  decimal.Decimal
	Previous decimal.Decimal
	Delta    decimal.Decimal
	Percent  *decimal.Decimal // nil when the previous value is zero
}

type Comparison struct {
	Current  Summary
	Previous Summary
	Changes  map[string]Change
}

// Compare summarises two periods and the change of each metric.
// A zero previous period defaults to the one immediately before current.
func (a *Aggregator) Compare(ctx context.Context, businessID ledger.BusinessID, current, previous ledger.Period) (Comparison, error) {
	if previous.IsAllTime() {
		previous = current.Previous()
	}
	cur, err := a.Summary(ctx, businessID, current)
	if err != nil {
		return Comparison{}, err
	}
	prev, err := a.Summary(ctx, businessID, previous)
	if err != nil {
		return Comparison{}, err
	}

	return Comparison{
		Current:  cur,
		Previous: prev,
		Changes: map[string]Change{
			"revenue":     change(cur.Revenue, prev.Revenue),
			"expenses":    change(cur.Expenses, prev.Expenses),
			"net_profit":  change(cur.NetProfit, prev.NetProfit),
			"receivables": change(cur.Receivables, prev.Receivables),
			"payables":    change(cur.Payables, prev.Payables),
			"tax_payable": change(cur.TaxPayable, prev.TaxPayable),
		},
	}, nil
}

var hundred = decimal.NewFromInt(100)

func change(current, previous decimal.Decimal) Change {
	c := Change{Current: current, Previous: previous, Delta: current.Sub(previous)}
	if !previous.IsZero() {
		pct := c.Delta.Div(previous.Abs()).Mul(hundred).Round(2)
		c.Percent = &pct
	}
	return c
}
