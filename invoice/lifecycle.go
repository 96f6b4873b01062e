/*
Package invoice owns the invoice lifecycle and turns its transitions into
ledger postings.

STATES:
  draft ──issue──▶ issued ──void──▶ cancelled

  draft:     mutable, produces no ledger rows
  issued:    immutable except for status; revenue is recognised here
  cancelled: terminal

ISSUE (draft only, billing not locked):
  Dr Accounts Receivable   total
     Cr Sales              subtotal
     Cr CGST/SGST or IGST  tax
  plus, when any line has a cost basis, a separate balanced posting:
  Dr Cost of Goods Sold    cost total
     Cr Inventory          cost total
  One outward GstRecord per tax account.

VOID (issued only, owner role):
  Reverses the sale and the cost postings and writes GstRecords that negate
  the issue records, dated the void day.

DELETE / PURGE:
  Delete is for drafts. Purge removes an invoice in any state together with
  everything that references it: GstRecords, then LedgerEntries, then
  Transactions, then the invoice row, all in one unit.

ATOMICITY:
  Every transition runs in one TxStore.WithTx unit: the postings, the GST
  rows and the status change commit together or not at all. The status is
  re-read inside the unit, so a second concurrent Issue sees "issued" and
  fails with ConflictError without posting.

SEE ALSO:
  - tax/tax.go: Amounts
  - ledger/posting.go: PostIn/ReverseIn
  - reconcile/service.go: Post-delete orphan check
*/
package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/adnank79d/Wytis-sub002/ledger"
	"github.com/adnank79d/Wytis-sub002/tax"
	"go.uber.org/zap"
)

// =============================================================================
// SERVICE
// =============================================================================

// PostDeleteChecker is called after a successful Delete or Purge.
type PostDeleteChecker interface {
	AfterDelete(ctx context.Context, businessID ledger.BusinessID) error
}

type Service struct {
	engine  *ledger.Engine
	store   ledger.TxStore
	logger  *zap.Logger
	checker PostDeleteChecker
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPostDeleteChecker installs the orphan check run after deletes.
func WithPostDeleteChecker(c PostDeleteChecker) Option {
	return func(s *Service) { s.checker = c }
}

func NewService(engine *ledger.Engine, opts ...Option) *Service {
	s := &Service{
		engine: engine,
		store:  engine.Store(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Draft is the editable part of an invoice.
type Draft struct {
	Number    string // generated when empty
	Customer  ledger.Customer
	Items     []ledger.InvoiceItem
	IssueDate time.Time // economic date of the postings; defaults to the issue day
}

// =============================================================================
// CREATE / UPDATE / READ
// =============================================================================

// Create stores a new draft. Totals are computed but nothing is posted.
func (s *Service) Create(ctx context.Context, businessID ledger.BusinessID, d Draft) (*ledger.Invoice, error) {
	var created ledger.Invoice
	err := s.store.WithTx(ctx, businessID, func(st ledger.Store) error {
		biz, err := ledger.RequireBusiness(ctx, st, businessID)
		if err != nil {
			return err
		}
		res, err := tax.Calculate(d.Items, biz.Jurisdiction, d.Customer.Jurisdiction)
		if err != nil {
			return err
		}

		number := d.Number
		if number == "" {
			existing, err := st.ListInvoices(ctx, businessID)
			if err != nil {
				return err
			}
			number = fmt.Sprintf("INV-%05d", len(existing)+1)
		}

		now := s.engine.Now()
		created = ledger.Invoice{
			ID:          ledger.InvoiceID(s.engine.NewID()),
			BusinessID:  businessID,
			Number:      number,
			Status:      ledger.StatusDraft,
			Customer:    d.Customer,
			Items:       d.Items,
			Subtotal:    res.Subtotal,
			TaxAmount:   res.TaxAmount,
			TotalAmount: res.Total,
			IssueDate:   d.IssueDate,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return st.SaveInvoice(ctx, created)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("invoice created",
		zap.String("business_id", string(businessID)),
		zap.String("invoice_id", string(created.ID)),
		zap.String("number", created.Number),
	)
	return &created, nil
}

// UpdateDraft replaces the editable fields of a draft.
func (s *Service) UpdateDraft(ctx context.Context, businessID ledger.BusinessID, id ledger.InvoiceID, d Draft) (*ledger.Invoice, error) {
	var updated ledger.Invoice
	err := s.store.WithTx(ctx, businessID, func(st ledger.Store) error {
		inv, err := requireInvoice(ctx, st, businessID, id)
		if err != nil {
			return err
		}
		if inv.Status != ledger.StatusDraft {
			return &ledger.ConflictError{InvoiceID: id, Op: "update", Status: inv.Status}
		}
		biz, err := ledger.RequireBusiness(ctx, st, businessID)
		if err != nil {
			return err
		}
		res, err := tax.Calculate(d.Items, biz.Jurisdiction, d.Customer.Jurisdiction)
		if err != nil {
			return err
		}

		if d.Number != "" {
			inv.Number = d.Number
		}
		inv.Customer = d.Customer
		inv.Items = d.Items
		inv.IssueDate = d.IssueDate
		inv.Subtotal = res.Subtotal
		inv.TaxAmount = res.TaxAmount
		inv.TotalAmount = res.Total
		inv.UpdatedAt = s.engine.Now()
		updated = *inv
		return st.SaveInvoice(ctx, updated)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Service) Get(ctx context.Context, businessID ledger.BusinessID, id ledger.InvoiceID) (*ledger.Invoice, error) {
	return requireInvoice(ctx, s.store, businessID, id)
}

func (s *Service) List(ctx context.Context, businessID ledger.BusinessID) ([]ledger.Invoice, error) {
	if _, err := ledger.RequireBusiness(ctx, s.store, businessID); err != nil {
		return nil, err
	}
	return s.store.ListInvoices(ctx, businessID)
}

// =============================================================================
// ISSUE
// =============================================================================

// Issue recognises the invoice's revenue and tax.
func (s *Service) Issue(ctx context.Context, caller Caller, businessID ledger.BusinessID, id ledger.InvoiceID) (*ledger.Invoice, error) {
	if caller.BillingLocked {
		return nil, &ledger.ForbiddenError{Op: "issue", Reason: "business billing is locked"}
	}

	var issued ledger.Invoice
	err := s.store.WithTx(ctx, businessID, func(st ledger.Store) error {
		inv, err := requireInvoice(ctx, st, businessID, id)
		if err != nil {
			return err
		}
		if inv.Status != ledger.StatusDraft {
			return &ledger.ConflictError{InvoiceID: id, Op: "issue", Status: inv.Status}
		}
		biz, err := ledger.RequireBusiness(ctx, st, businessID)
		if err != nil {
			return err
		}

		res, err := tax.Calculate(inv.Items, biz.Jurisdiction, inv.Customer.Jurisdiction)
		if err != nil {
			return err
		}
		if !res.Total.IsPositive() {
			return &ledger.ValidationError{Field: "items", Reason: "an issued invoice must have a positive total"}
		}

		date := inv.IssueDate
		if date.IsZero() {
			date = s.engine.Now()
		}

		sale, err := s.engine.PostIn(ctx, st, ledger.PostRequest{
			BusinessID:  businessID,
			SourceType:  ledger.SourceInvoice,
			SourceID:    string(inv.ID),
			Kind:        ledger.KindSale,
			Description: "Invoice " + inv.Number,
			Date:        date,
			Entries:     saleEntries(res),
		})
		if err != nil {
			return err
		}

		if res.CostTotal.IsPositive() {
			cost, err := s.engine.PostIn(ctx, st, ledger.PostRequest{
				BusinessID:  businessID,
				SourceType:  ledger.SourceInvoice,
				SourceID:    string(inv.ID),
				Kind:        ledger.KindCostOfSale,
				Description: "Cost of invoice " + inv.Number,
				Date:        date,
				Entries: []ledger.EntryLine{
					ledger.Debit(ledger.CostOfGoodsSold, res.CostTotal),
					ledger.Credit(ledger.Inventory, res.CostTotal),
				},
			})
			if err != nil {
				return err
			}
			inv.CostTransactionID = cost.ID
		}

		records := make([]ledger.GstRecord, 0, len(res.ByAccount))
		for _, acct := range res.Accounts() {
			records = append(records, ledger.GstRecord{
				ID:            s.engine.NewID(),
				BusinessID:    businessID,
				SourceType:    ledger.SourceInvoice,
				SourceID:      string(inv.ID),
				TransactionID: sale.ID,
				TaxType:       acct,
				Direction:     ledger.DirectionOutward,
				PartyName:     inv.Customer.Name,
				PartyTaxID:    inv.Customer.TaxID,
				TaxableValue:  res.Taxable[acct],
				Amount:        res.ByAccount[acct],
				RecordDate:    sale.TransactionDate,
			})
		}
		if len(records) > 0 {
			if err := st.InsertGstRecords(ctx, records); err != nil {
				return err
			}
		}

		inv.Status = ledger.StatusIssued
		inv.Subtotal = res.Subtotal
		inv.TaxAmount = res.TaxAmount
		inv.TotalAmount = res.Total
		inv.IssueDate = sale.TransactionDate
		inv.IssueTransactionID = sale.ID
		inv.UpdatedAt = s.engine.Now()
		issued = *inv
		return st.SaveInvoice(ctx, issued)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("invoice issued",
		zap.String("business_id", string(businessID)),
		zap.String("invoice_id", string(id)),
		zap.String("actor_id", caller.ActorID),
		zap.String("transaction_id", string(issued.IssueTransactionID)),
		zap.String("total", issued.TotalAmount.StringFixed(2)),
	)
	return &issued, nil
}

// saleEntries builds Dr AR total, Cr Sales subtotal, Cr each tax account.
func saleEntries(res tax.Result) []ledger.EntryLine {
	lines := []ledger.EntryLine{
		ledger.Debit(ledger.AccountsReceivable, res.Total),
		ledger.Credit(ledger.Sales, res.Subtotal),
	}
	for _, acct := range res.Accounts() {
		lines = append(lines, ledger.Credit(acct, res.ByAccount[acct]))
	}
	return lines
}

// =============================================================================
// VOID
// =============================================================================

// Void reverses an issued invoice. The original postings stay.
func (s *Service) Void(ctx context.Context, caller Caller, businessID ledger.BusinessID, id ledger.InvoiceID) (*ledger.Invoice, error) {
	if !caller.IsOwner() {
		return nil, &ledger.ForbiddenError{Op: "void", Reason: "owner role required"}
	}

	var voided ledger.Invoice
	err := s.store.WithTx(ctx, businessID, func(st ledger.Store) error {
		inv, err := requireInvoice(ctx, st, businessID, id)
		if err != nil {
			return err
		}
		if inv.Status != ledger.StatusIssued {
			return &ledger.ConflictError{InvoiceID: id, Op: "void", Status: inv.Status}
		}

		today := s.engine.Now()
		rev, err := s.engine.ReverseIn(ctx, st, businessID, inv.IssueTransactionID, ledger.ReverseOptions{
			Date:        today,
			Description: "Void of invoice " + inv.Number,
		})
		if err != nil {
			return err
		}
		inv.VoidTransactionID = rev.ID

		if inv.CostTransactionID != "" {
			costRev, err := s.engine.ReverseIn(ctx, st, businessID, inv.CostTransactionID, ledger.ReverseOptions{
				Date:        today,
				Description: "Void of cost of invoice " + inv.Number,
			})
			if err != nil {
				return err
			}
			inv.VoidCostTransactionID = costRev.ID
		}

		existing, err := st.ListGstRecords(ctx, businessID, ledger.AllTime)
		if err != nil {
			return err
		}
		var mirrors []ledger.GstRecord
		for _, r := range existing {
			if r.SourceType != ledger.SourceInvoice || r.SourceID != string(inv.ID) || r.TransactionID != inv.IssueTransactionID {
				continue
			}
			m := r
			m.ID = s.engine.NewID()
			m.TransactionID = rev.ID
			m.TaxableValue = r.TaxableValue.Neg()
			m.Amount = r.Amount.Neg()
			m.RecordDate = rev.TransactionDate
			mirrors = append(mirrors, m)
		}
		if len(mirrors) > 0 {
			if err := st.InsertGstRecords(ctx, mirrors); err != nil {
				return err
			}
		}

		inv.Status = ledger.StatusCancelled
		inv.UpdatedAt = today
		voided = *inv
		return st.SaveInvoice(ctx, voided)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("invoice voided",
		zap.String("business_id", string(businessID)),
		zap.String("invoice_id", string(id)),
		zap.String("actor_id", caller.ActorID),
		zap.String("reversal_id", string(voided.VoidTransactionID)),
	)
	return &voided, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func requireInvoice(ctx context.Context, st ledger.Store, businessID ledger.BusinessID, id ledger.InvoiceID) (*ledger.Invoice, error) {
	inv, err := st.GetInvoice(ctx, businessID, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, &ledger.NotFoundError{Kind: "invoice", ID: string(id)}
	}
	return inv, nil
}


