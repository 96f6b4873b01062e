/*
store.go - Persistence interface for the four record sets

PURPOSE:
  Defines the boundary between ledger logic and the database. One Store
  holds Transactions, LedgerEntries, GstRecords and Invoices because the
  cascading invoice delete must span all four in one atomic step.

KEY INTERFACES:
  Store:    Reads and writes, every call scoped to one business
  TxStore:  Store + WithTx, the per-tenant atomic unit
  RunStore: Reconciliation run history

APPEND-ONLY CONTRACT:
  Transactions and LedgerEntries are inserted together by InsertPosting and
  never updated. The Delete* methods exist only for the cascading invoice
  delete and for reconciliation repair; nothing else may call them.

CONCURRENCY:
  WithTx serializes all writers of one business. Writers of different
  businesses do not block each other (store permitting, see each
  implementation). Readers outside WithTx see either all or none of a
  committed unit.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for testing and dev
  - store/sqlite/sqlite.go: SQLite (default)
  - store/postgres/postgres.go: PostgreSQL

SEE ALSO:
  - posting.go: The only caller of InsertPosting
*/
package ledger

import "context"

// =============================================================================
// STORE
// =============================================================================

// Store is the persistence interface. Lookups return (nil, nil) when the row
// does not exist.
type Store interface {
	// Businesses
	CreateBusiness(ctx context.Context, b Business) error
	GetBusiness(ctx context.Context, id BusinessID) (*Business, error)
	ListBusinesses(ctx context.Context) ([]Business, error)

	// Postings. InsertPosting writes the transaction and its entries together.
	InsertPosting(ctx context.Context, tx Transaction, entries []LedgerEntry) error
	GetTransaction(ctx context.Context, businessID BusinessID, id TransactionID) (*Transaction, error)
	ListTransactions(ctx context.Context, businessID BusinessID) ([]Transaction, error)
	EntriesFor(ctx context.Context, businessID BusinessID, id TransactionID) ([]LedgerEntry, error)

	// ListLedgerEntries returns every entry row of the business, including rows
	// whose transaction no longer exists.
	ListLedgerEntries(ctx context.Context, businessID BusinessID) ([]LedgerEntry, error)

	// ListPostedEntries returns entries joined with their transaction, filtered
	// by the transaction's economic date.
	ListPostedEntries(ctx context.Context, businessID BusinessID, period Period) ([]PostedEntry, error)

	// GST records
	InsertGstRecords(ctx context.Context, records []GstRecord) error
	ListGstRecords(ctx context.Context, businessID BusinessID, period Period) ([]GstRecord, error)

	// Invoices
	SaveInvoice(ctx context.Context, inv Invoice) error
	GetInvoice(ctx context.Context, businessID BusinessID, id InvoiceID) (*Invoice, error)
	ListInvoices(ctx context.Context, businessID BusinessID) ([]Invoice, error)

	// Destructive. Cascade delete and repair only.
	DeleteGstRecords(ctx context.Context, businessID BusinessID, ids []string) error
	DeleteLedgerEntries(ctx context.Context, businessID BusinessID, ids []string) error
	DeleteTransactions(ctx context.Context, businessID BusinessID, ids []TransactionID) error
	DeleteInvoice(ctx context.Context, businessID BusinessID, id InvoiceID) error
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore wraps Store with the per-tenant atomic unit.
type TxStore interface {
	Store

	// WithTx executes fn with exclusive write access to businessID's rows.
	// If fn returns an error nothing fn wrote is kept.
	// WithTx calls must not be nested.
	WithTx(ctx context.Context, businessID BusinessID, fn func(Store) error) error
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

type RunStore interface {
	SaveReconciliationRun(ctx context.Context, run ReconciliationRun) error
	ListReconciliationRuns(ctx context.Context, businessID BusinessID, limit int) ([]ReconciliationRun, error)
}

// BusinessGetter is the part of Store needed to resolve a tenant.
type BusinessGetter interface {
	GetBusiness(ctx context.Context, id BusinessID) (*Business, error)
}

// RequireBusiness returns the business, or a NotFoundError if there is none.
func RequireBusiness(ctx context.Context, s BusinessGetter, id BusinessID) (*Business, error) {
	biz, err := s.GetBusiness(ctx, id)
	if err != nil {
		return nil, err
	}
	if biz == nil {
		return nil, &NotFoundError{Kind: "business", ID: string(id)}
	}
	return biz, nil
}
