/*
Package ledger provides the double-entry posting core.

PURPOSE:
  Turns business events into immutable, balanced postings. A posting is one
  Transaction row plus the LedgerEntry rows that move money between accounts.
  Every report is derived from those rows and nothing else.

KEY CONCEPTS IN THIS FILE (types.go):
  - Business: The tenant. All rows are scoped to one business.
  - Transaction: One economic event, linked to its source by (type, id)
  - LedgerEntry: One side of a posting (exactly one of Debit/Credit non-zero)
  - Invoice: The document whose lifecycle produces postings
  - GstRecord: Tax-filing denormalization of the tax part of a posting

DESIGN PRINCIPLES:
  1. Immutability: Postings are never edited, only reversed
  2. Precision: Money is decimal.Decimal, rounded to 2 places
  3. Closed accounts: Account is an enumeration, never a free-form string
  4. Logical linkage: (SourceType, SourceID) is checked by reconciliation,
     not by a foreign key

SEE ALSO:
  - accounts.go: The chart of accounts
  - posting.go: The only writer of Transaction/LedgerEntry rows
  - store.go: Persistence interface
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BusinessID string
type TransactionID string
type InvoiceID string

// SourceType names the kind of entity a Transaction or GstRecord came from.
type SourceType string

const (
	SourceInvoice SourceType = "invoice"
	SourceManual  SourceType = "manual"
)

// =============================================================================
// BUSINESS - The tenant
// =============================================================================

type Business struct {
	ID           BusinessID
	Name         string
	Jurisdiction string // home tax jurisdiction code, e.g. "KA"
	TaxID        string
	CreatedAt    time.Time
}

// =============================================================================
// TRANSACTION - One economic event
// =============================================================================

type TransactionKind string

const (
	KindSale       TransactionKind = "sale"
	KindCostOfSale TransactionKind = "cost_of_sale"
	KindReversal   TransactionKind = "reversal"
	KindJournal    TransactionKind = "journal"
)

type Transaction struct {
	ID              TransactionID
	BusinessID      BusinessID
	SourceType      SourceType
	SourceID        string
	Kind            TransactionKind
	Amount          decimal.Decimal // sum of the debit side
	Description     string
	TransactionDate time.Time // economic date, the only date reports filter on
	ReversalOf      TransactionID
	CreatedAt       time.Time
}

// LedgerEntry is one side of a posting.
// Exactly one of Debit/Credit is non-zero.
type LedgerEntry struct {
	ID            string
	TransactionID TransactionID
	BusinessID    BusinessID
	Account       Account
	Debit         decimal.Decimal
	Credit        decimal.Decimal
}

// PostedEntry is a LedgerEntry joined with its transaction's economic date.
// Reporting reads these.
type PostedEntry struct {
	LedgerEntry
	TransactionDate time.Time
}

// EntryLine is the caller's view of a LedgerEntry before it is posted.
type EntryLine struct {
	Account Account
	Debit   decimal.Decimal
	Credit  decimal.Decimal
}

// Debit and Credit build single-sided entry lines.
func Debit(account Account, amount decimal.Decimal) EntryLine {
	return EntryLine{Account: account, Debit: amount, Credit: decimal.Zero}
}

func Credit(account Account, amount decimal.Decimal) EntryLine {
	return EntryLine{Account: account, Debit: decimal.Zero, Credit: amount}
}

// Mirror swaps the sides of the line.
func (l EntryLine) Mirror() EntryLine {
	return EntryLine{Account: l.Account, Debit: l.Credit, Credit: l.Debit}
}

// =============================================================================
// INVOICE - Source document for sales postings
// =============================================================================

type InvoiceStatus string

const (
	StatusDraft     InvoiceStatus = "draft"
	StatusIssued    InvoiceStatus = "issued"
	StatusCancelled InvoiceStatus = "cancelled"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusIssued, StatusCancelled:
		return true
	}
	return false
}

type Customer struct {
	Name         string
	TaxID        string
	Jurisdiction string // empty means same as the business
}

type InvoiceItem struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	CostPrice   decimal.Decimal // zero when the line has no cost basis
	TaxRate     decimal.Decimal // percent, e.g. 18
}

// LineTotal is quantity * unit price.
func (i InvoiceItem) LineTotal() decimal.Decimal {
	return i.Quantity.Mul(i.UnitPrice)
}

// CostTotal is quantity * cost price.
func (i InvoiceItem) CostTotal() decimal.Decimal {
	return i.Quantity.Mul(i.CostPrice)
}

type Invoice struct {
	ID          InvoiceID
	BusinessID  BusinessID
	Number      string
	Status      InvoiceStatus
	Customer    Customer
	Items       []InvoiceItem
	Subtotal    decimal.Decimal
	TaxAmount   decimal.Decimal
	TotalAmount decimal.Decimal
	IssueDate   time.Time

	// Postings recorded by the lifecycle
	IssueTransactionID    TransactionID
	CostTransactionID     TransactionID
	VoidTransactionID     TransactionID
	VoidCostTransactionID TransactionID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// GST RECORD - Tax-filing rows
// =============================================================================

type TaxDirection string

const (
	DirectionOutward TaxDirection = "outward" // tax collected on sales
	DirectionInward  TaxDirection = "inward"  // tax paid on purchases
)

type GstRecord struct {
	ID            string
	BusinessID    BusinessID
	SourceType    SourceType
	SourceID      string
	TransactionID TransactionID
	TaxType       Account
	Direction     TaxDirection
	PartyName     string
	PartyTaxID    string
	TaxableValue  decimal.Decimal
	Amount        decimal.Decimal
	RecordDate    time.Time
}

// =============================================================================
// RECONCILIATION RUN - Audit trail of orphan checks
// =============================================================================

type ReconciliationRun struct {
	ID                     string
	BusinessID             BusinessID
	StartedAt              time.Time
	CompletedAt            time.Time
	OrphanTransactions     int
	OrphanEntries          int
	OrphanGstRecords       int
	UnbalancedTransactions int
	Repaired               bool
	Error                  string
}

// Clean reports whether the run found nothing wrong.
func (r ReconciliationRun) Clean() bool {
	return r.OrphanTransactions == 0 && r.OrphanEntries == 0 &&
		r.OrphanGstRecords == 0 && r.UnbalancedTransactions == 0 && r.Error == ""
}
