/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND DATES:
  Amounts are decimal strings with two places ("1180.00") on the way out.
  Requests accept either JSON numbers or strings. Dates are "YYYY-MM-DD".

VALIDATION:
  Validation is done in handlers and the domain packages, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/adnank79d/Wytis-sub002/invoice"
	"github.com/adnank79d/Wytis-sub002/ledger"
	"github.com/adnank79d/Wytis-sub002/reconcile"
	"github.com/adnank79d/Wytis-sub002/report"
	"github.com/shopspring/decimal"
)

// =============================================================================
// BUSINESS
// =============================================================================

type BusinessDTO struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Jurisdiction string    `json:"jurisdiction"`
	TaxID        string    `json:"tax_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type CreateBusinessRequest struct {
	ID           string `json:"id,omitempty"` // generated when empty
	Name         string `json:"name"`
	Jurisdiction string `json:"jurisdiction"`
	TaxID        string `json:"tax_id,omitempty"`
}

func toBusinessDTO(b ledger.Business) BusinessDTO {
	return BusinessDTO{
		ID:           string(b.ID),
		Name:         b.Name,
		Jurisdiction: b.Jurisdiction,
		TaxID:        b.TaxID,
		CreatedAt:    b.CreatedAt,
	}
}

// =============================================================================
// INVOICE
// =============================================================================

type CustomerDTO struct {
	Name         string `json:"name"`
	TaxID        string `json:"tax_id,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
}

type ItemDTO struct {
	Description string          `json:"description,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	CostPrice   decimal.Decimal `json:"cost_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
}

// InvoiceRequest is the body of create and update.
type InvoiceRequest struct {
	Number    string      `json:"number,omitempty"`
	Customer  CustomerDTO `json:"customer"`
	Items     []ItemDTO   `json:"items"`
	IssueDate string      `json:"issue_date,omitempty"`
}

type InvoiceDTO struct {
	ID                    string      `json:"id"`
	BusinessID            string      `json:"business_id"`
	Number                string      `json:"number"`
	Status                string      `json:"status"`
	Customer              CustomerDTO `json:"customer"`
	Items                 []ItemDTO   `json:"items"`
	Subtotal              string      `json:"subtotal"`
	TaxAmount             string      `json:"tax_amount"`
	TotalAmount           string      `json:"total_amount"`
	IssueDate             string      `json:"issue_date,omitempty"`
	IssueTransactionID    string      `json:"issue_transaction_id,omitempty"`
	CostTransactionID     string      `json:"cost_transaction_id,omitempty"`
	VoidTransactionID     string      `json:"void_transaction_id,omitempty"`
	VoidCostTransactionID string      `json:"void_cost_transaction_id,omitempty"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

type DeleteResultDTO struct {
	InvoiceID     string `json:"invoice_id"`
	GstRecords    int    `json:"gst_records"`
	LedgerEntries int    `json:"ledger_entries"`
	Transactions  int    `json:"transactions"`
}

func (req InvoiceRequest) toDraft() (invoice.Draft, error) {
	date, err := parseDate("issue_date", req.IssueDate)
	if err != nil {
		return invoice.Draft{}, err
	}
	items := make([]ledger.InvoiceItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = ledger.InvoiceItem{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			CostPrice:   it.CostPrice,
			TaxRate:     it.TaxRate,
		}
	}
	return invoice.Draft{
		Number: req.Number,
		Customer: ledger.Customer{
			Name:         req.Customer.Name,
			TaxID:        req.Customer.TaxID,
			Jurisdiction: req.Customer.Jurisdiction,
		},
		Items:     items,
		IssueDate: date,
	}, nil
}

func toInvoiceDTO(inv ledger.Invoice) InvoiceDTO {
	items := make([]ItemDTO, len(inv.Items))
	for i, it := range inv.Items {
		items[i] = ItemDTO{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			CostPrice:   it.CostPrice,
			TaxRate:     it.TaxRate,
		}
	}
	return InvoiceDTO{
		ID:         string(inv.ID),
		BusinessID: string(inv.BusinessID),
		Number:     inv.Number,
		Status:     string(inv.Status),
		Customer: CustomerDTO{
			Name:         inv.Customer.Name,
			TaxID:        inv.Customer.TaxID,
			Jurisdiction: inv.Customer.Jurisdiction,
		},
		Items:                 items,
		Subtotal:              money(inv.Subtotal),
		TaxAmount:             money(inv.TaxAmount),
		TotalAmount:           money(inv.TotalAmount),
		IssueDate:             formatDate(inv.IssueDate),
		IssueTransactionID:    string(inv.IssueTransactionID),
		CostTransactionID:     string(inv.CostTransactionID),
		VoidTransactionID:     string(inv.VoidTransactionID),
		VoidCostTransactionID: string(inv.VoidCostTransactionID),
		CreatedAt:             inv.CreatedAt,
		UpdatedAt:             inv.UpdatedAt,
	}
}

// =============================================================================
// TAX QUOTE
// =============================================================================

type TaxQuoteRequest struct {
	CustomerJurisdiction string    `json:"customer_jurisdiction,omitempty"`
	Items                []ItemDTO `json:"items"`
}

type TaxComponentDTO struct {
	Account string `json:"account"`
	Rate    string `json:"rate"`
	Amount  string `json:"amount"`
}

type TaxLineDTO struct {
	LineTotal  string            `json:"line_total"`
	Tax        string            `json:"tax"`
	Components []TaxComponentDTO `json:"components"`
}

type TaxQuoteDTO struct {
	Interstate bool              `json:"interstate"`
	Lines      []TaxLineDTO      `json:"lines"`
	Subtotal   string            `json:"subtotal"`
	TaxAmount  string            `json:"tax_amount"`
	Total      string            `json:"total"`
	CostTotal  string            `json:"cost_total"`
	ByAccount  map[string]string `json:"by_account"`
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type EntryDTO struct {
	ID      string `json:"id,omitempty"`
	Account string `json:"account"`
	Debit   string `json:"debit"`
	Credit  string `json:"credit"`
}

type TransactionDTO struct {
	ID              string     `json:"id"`
	SourceType      string     `json:"source_type"`
	SourceID        string     `json:"source_id"`
	Kind            string     `json:"kind"`
	Amount          string     `json:"amount"`
	Description     string     `json:"description,omitempty"`
	TransactionDate string     `json:"transaction_date"`
	ReversalOf      string     `json:"reversal_of,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	Entries         []EntryDTO `json:"entries,omitempty"`
}

type EntryLineRequest struct {
	Account string          `json:"account"`
	Debit   decimal.Decimal `json:"debit"`
	Credit  decimal.Decimal `json:"credit"`
}

// JournalRequest posts a manual journal entry.
type JournalRequest struct {
	SourceID    string             `json:"source_id"`
	Description string             `json:"description,omitempty"`
	Date        string             `json:"date,omitempty"`
	Entries     []EntryLineRequest `json:"entries"`
}

type ReverseRequest struct {
	Date        string `json:"date,omitempty"`
	Description string `json:"description,omitempty"`
}

func toTransactionDTO(tx ledger.Transaction, entries []ledger.LedgerEntry) TransactionDTO {
	dto := TransactionDTO{
		ID:              string(tx.ID),
		SourceType:      string(tx.SourceType),
		SourceID:        tx.SourceID,
		Kind:            string(tx.Kind),
		Amount:          money(tx.Amount),
		Description:     tx.Description,
		TransactionDate: formatDate(tx.TransactionDate),
		ReversalOf:      string(tx.ReversalOf),
		CreatedAt:       tx.CreatedAt,
	}
	for _, e := range entries {
		dto.Entries = append(dto.Entries, EntryDTO{
			ID:      e.ID,
			Account: string(e.Account),
			Debit:   money(e.Debit),
			Credit:  money(e.Credit),
		})
	}
	return dto
}

// =============================================================================
// REPORTS
// =============================================================================

type AccountDTO struct {
	Account string `json:"account"`
	Name    string `json:"name"`
	Class   string `json:"class"`
	Normal  string `json:"normal"`
	Tax     bool   `json:"tax"`
}

type PeriodDTO struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

type BalanceDTO struct {
	Account string    `json:"account"`
	Period  PeriodDTO `json:"period"`
	Balance string    `json:"balance"`
}

type TrialBalanceRowDTO struct {
	Account string `json:"account"`
	Name    string `json:"name"`
	Class   string `json:"class"`
	Debit   string `json:"debit"`
	Credit  string `json:"credit"`
	Balance string `json:"balance"`
}

type TrialBalanceDTO struct {
	Period      PeriodDTO            `json:"period"`
	Accounts    []TrialBalanceRowDTO `json:"accounts"`
	TotalDebit  string               `json:"total_debit"`
	TotalCredit string               `json:"total_credit"`
	Balanced    bool                 `json:"balanced"`
}

type SummaryDTO struct {
	Period      PeriodDTO `json:"period"`
	Revenue     string    `json:"revenue"`
	Expenses    string    `json:"expenses"`
	NetProfit   string    `json:"net_profit"`
	Receivables string    `json:"receivables"`
	Payables    string    `json:"payables"`
	TaxPayable  string    `json:"tax_payable"`
}

type ChangeDTO struct {
	Current  string  `json:"current"`
	Previous string  `json:"previous"`
	Delta    string  `json:"delta"`
	Percent  *string `json:"percent,omitempty"`
}

type ComparisonDTO struct {
	Current  SummaryDTO           `json:"current"`
	Previous SummaryDTO           `json:"previous"`
	Changes  map[string]ChangeDTO `json:"changes"`
}

type GstRowDTO struct {
	Date         string `json:"date"`
	PartyName    string `json:"party_name"`
	TaxID        string `json:"tax_id"`
	Direction    string `json:"direction"`
	TaxableValue string `json:"taxable_value"`
	TaxAmount    string `json:"tax_amount"`
	Total        string `json:"total"`
	SourceType   string `json:"source_type"`
	SourceID     string `json:"source_id"`
}

func toPeriodDTO(p ledger.Period) PeriodDTO {
	return PeriodDTO{From: formatDate(p.Start), To: formatDate(p.End)}
}

func toSummaryDTO(s report.Summary) SummaryDTO {
	return SummaryDTO{
		Period:      toPeriodDTO(s.Period),
		Revenue:     money(s.Revenue),
		Expenses:    money(s.Expenses),
		NetProfit:   money(s.NetProfit),
		Receivables: money(s.Receivables),
		Payables:    money(s.Payables),
		TaxPayable:  money(s.TaxPayable),
	}
}

// =============================================================================
// RECONCILIATION
// =============================================================================

type OrphansDTO struct {
	Transactions  []string `json:"transactions"`
	LedgerEntries []string `json:"ledger_entries"`
	GstRecords    []string `json:"gst_records"`
	Problems      []string `json:"problems,omitempty"`
}

type BalanceCheckDTO struct {
	Balanced     bool     `json:"balanced"`
	Transactions int      `json:"transactions"`
	TotalDebit   string   `json:"total_debit"`
	TotalCredit  string   `json:"total_credit"`
	Problems     []string `json:"problems,omitempty"`
}

type ReconciliationRunDTO struct {
	ID                     string    `json:"id"`
	StartedAt              time.Time `json:"started_at"`
	CompletedAt            time.Time `json:"completed_at"`
	OrphanTransactions     int       `json:"orphan_transactions"`
	OrphanEntries          int       `json:"orphan_entries"`
	OrphanGstRecords       int       `json:"orphan_gst_records"`
	UnbalancedTransactions int       `json:"unbalanced_transactions"`
	Repaired               bool      `json:"repaired"`
	Clean                  bool      `json:"clean"`
	Error                  string    `json:"error,omitempty"`
}

func toOrphansDTO(o reconcile.Orphans) OrphansDTO {
	dto := OrphansDTO{
		Transactions:  []string{},
		LedgerEntries: []string{},
		GstRecords:    []string{},
		Problems:      o.Problems(),
	}
	for _, tx := range o.Transactions {
		dto.Transactions = append(dto.Transactions, string(tx.ID))
	}
	for _, e := range o.LedgerEntries {
		dto.LedgerEntries = append(dto.LedgerEntries, e.ID)
	}
	for _, r := range o.GstRecords {
		dto.GstRecords = append(dto.GstRecords, r.ID)
	}
	return dto
}

func toRunDTO(run ledger.ReconciliationRun) ReconciliationRunDTO {
	return ReconciliationRunDTO{
		ID:                     run.ID,
		StartedAt:              run.StartedAt,
		CompletedAt:            run.CompletedAt,
		OrphanTransactions:     run.OrphanTransactions,
		OrphanEntries:          run.OrphanEntries,
		OrphanGstRecords:       run.OrphanGstRecords,
		UnbalancedTransactions: run.UnbalancedTransactions,
		Repaired:               run.Repaired,
		Clean:                  run.Clean(),
		Error:                  run.Error,
	}
}

// =============================================================================
// SCENARIOS / ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

type LoadScenarioResponse struct {
	ScenarioID string       `json:"scenario_id"`
	BusinessID string       `json:"business_id"`
	Invoices   []InvoiceDTO `json:"invoices"`
	Summary    SummaryDTO   `json:"summary"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// FORMATTING
// =============================================================================

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.DateOnly)
}

// parseDate accepts "" (zero time) or YYYY-MM-DD.
func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, &ledger.ValidationError{Field: field, Reason: "expected YYYY-MM-DD"}
	}
	return t, nil
}
