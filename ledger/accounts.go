package ledger

import "sort"

// =============================================================================
// CHART OF ACCOUNTS - Closed enumeration
// =============================================================================

// Account identifies a ledger bucket. The set is closed: ParseAccount rejects
// anything not listed here, so two spellings of the same account cannot exist.
type Account string

const (
	// Debit-normal
	AccountsReceivable Account = "accounts_receivable"
	Bank               Account = "bank"
	Cash               Account = "cash"
	Inventory          Account = "inventory"
	CostOfGoodsSold    Account = "cost_of_goods_sold"
	RentExpense        Account = "rent_expense"
	SalariesExpense    Account = "salaries_expense"
	UtilitiesExpense   Account = "utilities_expense"
	OfficeExpense      Account = "office_expense"
	GeneralExpense     Account = "general_expense"

	// Credit-normal
	Sales            Account = "sales"
	OtherIncome      Account = "other_income"
	AccountsPayable  Account = "accounts_payable"
	CGSTPayable      Account = "cgst_payable"
	SGSTPayable      Account = "sgst_payable"
	IGSTPayable      Account = "igst_payable"
	Capital          Account = "capital"
	RetainedEarnings Account = "retained_earnings"
)

// Side is the normal-balance side of an account.
type Side string

const (
	SideDebit  Side = "debit"
	SideCredit Side = "credit"
)

// Class groups accounts for reporting.
type Class string

const (
	ClassAsset     Class = "asset"
	ClassLiability Class = "liability"
	ClassEquity    Class = "equity"
	ClassIncome    Class = "income"
	ClassExpense   Class = "expense"
)

// AccountInfo describes a chart-of-accounts row.
type AccountInfo struct {
	Account Account
	Name    string
	Class   Class
	Normal  Side
	Tax     bool
}

var chart = map[Account]AccountInfo{
	AccountsReceivable: {AccountsReceivable, "Accounts Receivable", ClassAsset, SideDebit, false},
	Bank:               {Bank, "Bank", ClassAsset, SideDebit, false},
	Cash:               {Cash, "Cash", ClassAsset, SideDebit, false},
	Inventory:          {Inventory, "Inventory", ClassAsset, SideDebit, false},
	CostOfGoodsSold:    {CostOfGoodsSold, "Cost of Goods Sold", ClassExpense, SideDebit, false},
	RentExpense:        {RentExpense, "Rent", ClassExpense, SideDebit, false},
	SalariesExpense:    {SalariesExpense, "Salaries", ClassExpense, SideDebit, false},
	UtilitiesExpense:   {UtilitiesExpense, "Utilities", ClassExpense, SideDebit, false},
	OfficeExpense:      {OfficeExpense, "Office Expenses", ClassExpense, SideDebit, false},
	GeneralExpense:     {GeneralExpense, "General Expenses", ClassExpense, SideDebit, false},

	Sales:            {Sales, "Sales", ClassIncome, SideCredit, false},
	OtherIncome:      {OtherIncome, "Other Income", ClassIncome, SideCredit, false},
	AccountsPayable:  {AccountsPayable, "Accounts Payable", ClassLiability, SideCredit, false},
	CGSTPayable:      {CGSTPayable, "CGST Payable", ClassLiability, SideCredit, true},
	SGSTPayable:      {SGSTPayable, "SGST Payable", ClassLiability, SideCredit, true},
	IGSTPayable:      {IGSTPayable, "IGST Payable", ClassLiability, SideCredit, true},
	Capital:          {Capital, "Capital", ClassEquity, SideCredit, false},
	RetainedEarnings: {RetainedEarnings, "Retained Earnings", ClassEquity, SideCredit, false},
}

// Valid reports whether a is in the chart of accounts.
func (a Account) Valid() bool {
	_, ok := chart[a]
	return ok
}

// Info returns the chart row for a. Callers must check Valid first.
func (a Account) Info() AccountInfo {
	return chart[a]
}

func (a Account) Normal() Side { return chart[a].Normal }
func (a Account) Class() Class { return chart[a].Class }
func (a Account) IsTax() bool  { return chart[a].Tax }

// IsBalanceSheet reports whether a is excluded from profit-and-loss rollups.
func (a Account) IsBalanceSheet() bool {
	switch chart[a].Class {
	case ClassAsset, ClassLiability, ClassEquity:
		return true
	}
	return false
}

func (a Account) IsIncome() bool { return chart[a].Class == ClassIncome }

// IsExpense: every non-balance-sheet, non-income account.
func (a Account) IsExpense() bool {
	return a.Valid() && !a.IsBalanceSheet() && !a.IsIncome()
}

// ParseAccount returns the Account for s or a ValidationError.
func ParseAccount(s string) (Account, error) {
	a := Account(s)
	if !a.Valid() {
		return "", &ValidationError{Field: "account", Reason: "unknown account " + s}
	}
	return a, nil
}

// Accounts returns the whole chart, sorted by identifier.
func Accounts() []Account {
	out := make([]Account, 0, len(chart))
	for a := range chart {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TaxAccounts returns the tax liability accounts, sorted.
func TaxAccounts() []Account {
	var out []Account
	for _, a := range Accounts() {
		if a.IsTax() {
			out = append(out, a)
		}
	}
	return out
}
