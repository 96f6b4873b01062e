/*
Package sqlite provides a SQLite-backed implementation of the ledger storage
interfaces.

PURPOSE:
  Implements ledger.TxStore and ledger.RunStore using SQLite. This is the
  default backend; store/postgres has the same shape for PostgreSQL.

KEY TABLES:
  businesses:          Tenants
  invoices:            Source documents, items kept as JSON
  transactions:        One row per posting (append-only)
  ledger_entries:      Debit/credit rows of each posting (append-only)
  gst_records:         Tax-filing rows
  reconciliation_runs: History of orphan checks

LOGICAL LINKAGE:
  There are no foreign keys between transactions, ledger_entries,
  gst_records and invoices. Reconciliation finds rows whose source or
  transaction is gone; a foreign key would hide exactly the failures it
  looks for.

MONEY AND TIME:
  Amounts are TEXT holding the decimal's string form, so no float ever
  touches money. Times are TEXT in a fixed-width UTC layout, so string
  comparison orders them.

CONCURRENCY:
  A single connection is used and writers take the store mutex, so SQLite
  units are serialized across all businesses, not just within one. Readers
  outside WithTx wait for an open unit to finish.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adnank79d/Wytis-sub002/ledger"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// timeLayout is fixed width so that TEXT comparison is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.TxStore and ledger.RunStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ ledger.TxStore  = (*Store)(nil)
	_ ledger.RunStore = (*Store)(nil)
)

// New opens the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" is per connection, and SQLite has one writer anyway.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, for health endpoints.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS businesses (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		jurisdiction TEXT NOT NULL,
		tax_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		number TEXT,
		status TEXT NOT NULL,
		customer_name TEXT,
		customer_tax_id TEXT,
		customer_jurisdiction TEXT,
		items_json TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		tax_amount TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		issue_date TEXT,
		issue_transaction_id TEXT,
		cost_transaction_id TEXT,
		void_transaction_id TEXT,
		void_cost_transaction_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_business
		ON invoices(business_id, created_at);

	-- Postings (append-only)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT,
		transaction_date TEXT NOT NULL,
		reversal_of TEXT,
		created_at TEXT NOT NULL
	);

	-- Reporting filters on the economic date (hot path)
	CREATE INDEX IF NOT EXISTS idx_transactions_business_date
		ON transactions(business_id, transaction_date);
	CREATE INDEX IF NOT EXISTS idx_transactions_source
		ON transactions(business_id, source_type, source_id);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		transaction_id TEXT NOT NULL,
		business_id TEXT NOT NULL,
		account TEXT NOT NULL,
		debit TEXT NOT NULL,
		credit TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_entries_transaction
		ON ledger_entries(business_id, transaction_id);

	CREATE TABLE IF NOT EXISTS gst_records (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		business_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		transaction_id TEXT,
		tax_type TEXT NOT NULL,
		direction TEXT NOT NULL,
		party_name TEXT,
		party_tax_id TEXT,
		taxable_value TEXT NOT NULL,
		amount TEXT NOT NULL,
		record_date TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_gst_records_business_date
		ON gst_records(business_id, record_date);

	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		orphan_transactions INTEGER NOT NULL DEFAULT 0,
		orphan_entries INTEGER NOT NULL DEFAULT 0,
		orphan_gst_records INTEGER NOT NULL DEFAULT 0,
		unbalanced_transactions INTEGER NOT NULL DEFAULT 0,
		repaired INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_business
		ON reconciliation_runs(business_id, started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// STORE (ledger.Store interface) - each call is its own unit
// =============================================================================

func (s *Store) q() queries { return queries{db: s.db} }

func (s *Store) CreateBusiness(ctx context.Context, b ledger.Business) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().CreateBusiness(ctx, b)
}

func (s *Store) GetBusiness(ctx context.Context, id ledger.BusinessID) (*ledger.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().GetBusiness(ctx, id)
}

func (s *Store) ListBusinesses(ctx context.Context) ([]ledger.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().ListBusinesses(ctx)
}

// InsertPosting writes the transaction and its entries in one SQL transaction.
func (s *Store) InsertPosting(ctx context.Context, tx ledger.Transaction, entries []ledger.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := (queries{db: sqlTx}).InsertPosting(ctx, tx, entries); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) GetTransaction(ctx context.Context, businessID ledger.BusinessID, id ledger.TransactionID) (*ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().GetTransaction(ctx, businessID, id)
}

func (s *Store) ListTransactions(ctx context.Context, businessID ledger.BusinessID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().ListTransactions(ctx, businessID)
}

func (s *Store) EntriesFor(ctx context.Context, businessID ledger.BusinessID, id ledger.TransactionID) ([]ledger.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().EntriesFor(ctx, businessID, id)
}

func (s *Store) ListLedgerEntries(ctx context.Context, businessID ledger.BusinessID) ([]ledger.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().ListLedgerEntries(ctx, businessID)
}

func (s *Store) ListPostedEntries(ctx context.Context, businessID ledger.BusinessID, period ledger.Period) ([]ledger.PostedEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().ListPostedEntries(ctx, businessID, period)
}

func (s *Store) InsertGstRecords(ctx context.Context, records []ledger.GstRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := (queries{db: sqlTx}).InsertGstRecords(ctx, records); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) ListGstRecords(ctx context.Context, businessID ledger.BusinessID, period ledger.Period) ([]ledger.GstRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().ListGstRecords(ctx, businessID, period)
}

func (s *Store) SaveInvoice(ctx context.Context, inv ledger.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().SaveInvoice(ctx, inv)
}

func (s *Store) GetInvoice(ctx context.Context, businessID ledger.BusinessID, id ledger.InvoiceID) (*ledger.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().GetInvoice(ctx, businessID, id)
}

func (s *Store) ListInvoices(ctx context.Context, businessID ledger.BusinessID) ([]ledger.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.q().ListInvoices(ctx, businessID)
}

func (s *Store) DeleteGstRecords(ctx context.Context, businessID ledger.BusinessID, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().DeleteGstRecords(ctx, businessID, ids)
}

func (s *Store) DeleteLedgerEntries(ctx context.Context, businessID ledger.BusinessID, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().DeleteLedgerEntries(ctx, businessID, ids)
}

func (s *Store) DeleteTransactions(ctx context.Context, businessID ledger.BusinessID, ids []ledger.TransactionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().DeleteTransactions(ctx, businessID, ids)
}

func (s *Store) DeleteInvoice(ctx context.Context, businessID ledger.BusinessID, id ledger.InvoiceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q().DeleteInvoice(ctx, businessID, id)
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. Every read and write fn
// makes goes through that transaction.
func (s *Store) WithTx(ctx context.Context, businessID ledger.BusinessID, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{queries: queries{db: sqlTx}, businessID: businessID}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore is the Store handed to WithTx callbacks.
type txStore struct {
	queries
	businessID ledger.BusinessID
}

// InsertPosting is already inside the caller's transaction.
func (ts *txStore) InsertPosting(ctx context.Context, tx ledger.Transaction, entries []ledger.LedgerEntry) error {
	if tx.BusinessID != ts.businessID {
		return &ledger.ValidationError{Field: "business_id", Reason: "unit is scoped to business " + string(ts.businessID)}
	}
	return ts.queries.InsertPosting(ctx, tx, entries)
}

// =============================================================================
// RECONCILIATION RUNS (ledger.RunStore interface)
// =============================================================================

func (s *Store) SaveReconciliationRun(ctx context.Context, r ledger.ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO reconciliation_runs (id, business_id, started_at, completed_at,
			orphan_transactions, orphan_entries, orphan_gst_records, unbalanced_transactions,
			repaired, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			completed_at = excluded.completed_at,
			orphan_transactions = excluded.orphan_transactions,
			orphan_entries = excluded.orphan_entries,
			orphan_gst_records = excluded.orphan_gst_records,
			unbalanced_transactions = excluded.unbalanced_transactions,
			repaired = excluded.repaired,
			error = excluded.error
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.BusinessID, formatTime(r.StartedAt), nullTime(r.CompletedAt),
		r.OrphanTransactions, r.OrphanEntries, r.OrphanGstRecords, r.UnbalancedTransactions,
		r.Repaired, nullString(r.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to save reconciliation run: %w", err)
	}
	return nil
}

// ListReconciliationRuns returns the newest runs first. limit <= 0 means all.
func (s *Store) ListReconciliationRuns(ctx context.Context, businessID ledger.BusinessID, limit int) ([]ledger.ReconciliationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, business_id, started_at, completed_at, orphan_transactions, orphan_entries,
			orphan_gst_records, unbalanced_transactions, repaired, error
		FROM reconciliation_runs
		WHERE business_id = ?
		ORDER BY started_at DESC
	`
	args := []any{businessID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation runs: %w", err)
	}
	defer rows.Close()

	var runs []ledger.ReconciliationRun
	for rows.Next() {
		var (
			r                    ledger.ReconciliationRun
			startedAt            string
			completedAt, errText sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &r.BusinessID, &startedAt, &completedAt,
			&r.OrphanTransactions, &r.OrphanEntries, &r.OrphanGstRecords, &r.UnbalancedTransactions,
			&r.Repaired, &errText,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation run: %w", err)
		}
		r.StartedAt = parseTime(startedAt)
		r.CompletedAt = parseTime(completedAt.String)
		r.Error = errText.String
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// =============================================================================
// QUERIES - shared by Store and txStore
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries runs SQL against either the database or an open transaction.
// It takes no locks.
type queries struct {
	db querier
}

func (q queries) CreateBusiness(ctx context.Context, b ledger.Business) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO businesses (id, name, jurisdiction, tax_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Jurisdiction, nullString(b.TaxID), formatTime(b.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &ledger.ValidationError{Field: "id", Reason: "business " + string(b.ID) + " already exists"}
		}
		return fmt.Errorf("failed to create business: %w", err)
	}
	return nil
}

func (q queries) GetBusiness(ctx context.Context, id ledger.BusinessID) (*ledger.Business, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT id, name, jurisdiction, tax_id, created_at FROM businesses WHERE id = ?`, id)

	var (
		b         ledger.Business
		taxID     sql.NullString
		createdAt string
	)
	if err := row.Scan(&b.ID, &b.Name, &b.Jurisdiction, &taxID, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get business: %w", err)
	}
	b.TaxID = taxID.String
	b.CreatedAt = parseTime(createdAt)
	return &b, nil
}

func (q queries) ListBusinesses(ctx context.Context) ([]ledger.Business, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, name, jurisdiction, tax_id, created_at FROM businesses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query businesses: %w", err)
	}
	defer rows.Close()

	var out []ledger.Business
	for rows.Next() {
		var (
			b         ledger.Business
			taxID     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&b.ID, &b.Name, &b.Jurisdiction, &taxID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan business: %w", err)
		}
		b.TaxID = taxID.String
		b.CreatedAt = parseTime(createdAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

// InsertPosting expects q.db to be a transaction.
func (q queries) InsertPosting(ctx context.Context, tx ledger.Transaction, entries []ledger.LedgerEntry) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO transactions (id, business_id, source_type, source_id, kind, amount,
			description, transaction_date, reversal_of, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.BusinessID, tx.SourceType, tx.SourceID, tx.Kind, tx.Amount.String(),
		nullString(tx.Description), formatTime(tx.TransactionDate),
		nullString(string(tx.ReversalOf)), formatTime(tx.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &ledger.ValidationError{Field: "id", Reason: "transaction " + string(tx.ID) + " already exists"}
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	for _, e := range entries {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, transaction_id, business_id, account, debit, credit)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.TransactionID, e.BusinessID, e.Account, e.Debit.String(), e.Credit.String(),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return &ledger.ValidationError{Field: "id", Reason: "ledger entry " + e.ID + " already exists"}
			}
			return fmt.Errorf("failed to insert ledger entry: %w", err)
		}
	}
	return nil
}

const transactionColumns = `id, business_id, source_type, source_id, kind, amount,
	description, transaction_date, reversal_of, created_at`

func (q queries) GetTransaction(ctx context.Context, businessID ledger.BusinessID, id ledger.TransactionID) (*ledger.Transaction, error) {
	txs, err := q.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE business_id = ? AND id = ?`,
		businessID, id)
	if err != nil || len(txs) == 0 {
		return nil, err
	}
	return &txs[0], nil
}

func (q queries) ListTransactions(ctx context.Context, businessID ledger.BusinessID) ([]ledger.Transaction, error) {
	return q.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE business_id = ?
		 ORDER BY transaction_date ASC, created_at ASC`,
		businessID)
}

func (q queries) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		var (
			tx                      ledger.Transaction
			amount, date, createdAt string
			description, reversalOf sql.NullString
		)
		if err := rows.Scan(
			&tx.ID, &tx.BusinessID, &tx.SourceType, &tx.SourceID, &tx.Kind, &amount,
			&description, &date, &reversalOf, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Amount = parseDecimal(amount)
		tx.Description = description.String
		tx.TransactionDate = parseTime(date)
		tx.ReversalOf = ledger.TransactionID(reversalOf.String)
		tx.CreatedAt = parseTime(createdAt)
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (q queries) EntriesFor(ctx context.Context, businessID ledger.BusinessID, id ledger.TransactionID) ([]ledger.LedgerEntry, error) {
	return q.queryEntries(ctx, `
		SELECT id, transaction_id, business_id, account, debit, credit
		FROM ledger_entries WHERE business_id = ? AND transaction_id = ? ORDER BY seq`,
		businessID, id)
}

func (q queries) ListLedgerEntries(ctx context.Context, businessID ledger.BusinessID) ([]ledger.LedgerEntry, error) {
	return q.queryEntries(ctx, `
		SELECT id, transaction_id, business_id, account, debit, credit
		FROM ledger_entries WHERE business_id = ? ORDER BY seq`,
		businessID)
}

func (q queries) queryEntries(ctx context.Context, query string, args ...any) ([]ledger.LedgerEntry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.LedgerEntry
	for rows.Next() {
		var (
			e             ledger.LedgerEntry
			debit, credit string
		)
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.BusinessID, &e.Account, &debit, &credit); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.Debit = parseDecimal(debit)
		e.Credit = parseDecimal(credit)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListPostedEntries joins entries to their transaction. Entries whose
// transaction is gone are not posted and do not appear.
func (q queries) ListPostedEntries(ctx context.Context, businessID ledger.BusinessID, period ledger.Period) ([]ledger.PostedEntry, error) {
	query := `
		SELECT e.id, e.transaction_id, e.business_id, e.account, e.debit, e.credit, t.transaction_date
		FROM ledger_entries e
		JOIN transactions t ON t.id = e.transaction_id AND t.business_id = e.business_id
		WHERE e.business_id = ?`
	args := []any{businessID}
	query, args = periodFilter(query, args, "t.transaction_date", period)
	query += " ORDER BY t.transaction_date ASC, e.seq ASC"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query posted entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.PostedEntry
	for rows.Next() {
		var (
			p                   ledger.PostedEntry
			debit, credit, date string
		)
		if err := rows.Scan(&p.ID, &p.TransactionID, &p.BusinessID, &p.Account, &debit, &credit, &date); err != nil {
			return nil, fmt.Errorf("failed to scan posted entry: %w", err)
		}
		p.Debit = parseDecimal(debit)
		p.Credit = parseDecimal(credit)
		p.TransactionDate = parseTime(date)
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertGstRecords expects q.db to be a transaction when records has more
// than one row.
func (q queries) InsertGstRecords(ctx context.Context, records []ledger.GstRecord) error {
	for _, r := range records {
		_, err := q.db.ExecContext(ctx, `
			INSERT INTO gst_records (id, business_id, source_type, source_id, transaction_id,
				tax_type, direction, party_name, party_tax_id, taxable_value, amount, record_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.BusinessID, r.SourceType, r.SourceID, nullString(string(r.TransactionID)),
			r.TaxType, r.Direction, nullString(r.PartyName), nullString(r.PartyTaxID),
			r.TaxableValue.String(), r.Amount.String(), formatTime(r.RecordDate),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return &ledger.ValidationError{Field: "id", Reason: "gst record " + r.ID + " already exists"}
			}
			return fmt.Errorf("failed to insert gst record: %w", err)
		}
	}
	return nil
}

func (q queries) ListGstRecords(ctx context.Context, businessID ledger.BusinessID, period ledger.Period) ([]ledger.GstRecord, error) {
	query := `
		SELECT id, business_id, source_type, source_id, transaction_id, tax_type, direction,
			party_name, party_tax_id, taxable_value, amount, record_date
		FROM gst_records WHERE business_id = ?`
	args := []any{businessID}
	query, args = periodFilter(query, args, "record_date", period)
	query += " ORDER BY seq"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query gst records: %w", err)
	}
	defer rows.Close()

	var out []ledger.GstRecord
	for rows.Next() {
		var (
			r                         ledger.GstRecord
			txID, party, partyTaxID   sql.NullString
			taxable, amount, recorded string
		)
		if err := rows.Scan(
			&r.ID, &r.BusinessID, &r.SourceType, &r.SourceID, &txID, &r.TaxType, &r.Direction,
			&party, &partyTaxID, &taxable, &amount, &recorded,
		); err != nil {
			return nil, fmt.Errorf("failed to scan gst record: %w", err)
		}
		r.TransactionID = ledger.TransactionID(txID.String)
		r.PartyName = party.String
		r.PartyTaxID = partyTaxID.String
		r.TaxableValue = parseDecimal(taxable)
		r.Amount = parseDecimal(amount)
		r.RecordDate = parseTime(recorded)
		out = append(out, r)
	}
	return out, rows.Err()
}

// itemRow is the JSON shape of an invoice line in items_json.
type itemRow struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	CostPrice   decimal.Decimal `json:"cost_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
}

func (q queries) SaveInvoice(ctx context.Context, inv ledger.Invoice) error {
	items := make([]itemRow, len(inv.Items))
	for i, it := range inv.Items {
		items[i] = itemRow(it)
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode invoice items: %w", err)
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO invoices (id, business_id, number, status, customer_name, customer_tax_id,
			customer_jurisdiction, items_json, subtotal, tax_amount, total_amount, issue_date,
			issue_transaction_id, cost_transaction_id, void_transaction_id, void_cost_transaction_id,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			status = excluded.status,
			customer_name = excluded.customer_name,
			customer_tax_id = excluded.customer_tax_id,
			customer_jurisdiction = excluded.customer_jurisdiction,
			items_json = excluded.items_json,
			subtotal = excluded.subtotal,
			tax_amount = excluded.tax_amount,
			total_amount = excluded.total_amount,
			issue_date = excluded.issue_date,
			issue_transaction_id = excluded.issue_transaction_id,
			cost_transaction_id = excluded.cost_transaction_id,
			void_transaction_id = excluded.void_transaction_id,
			void_cost_transaction_id = excluded.void_cost_transaction_id,
			updated_at = excluded.updated_at`,
		inv.ID, inv.BusinessID, nullString(inv.Number), inv.Status,
		nullString(inv.Customer.Name), nullString(inv.Customer.TaxID), nullString(inv.Customer.Jurisdiction),
		string(itemsJSON), inv.Subtotal.String(), inv.TaxAmount.String(), inv.TotalAmount.String(),
		nullTime(inv.IssueDate),
		nullString(string(inv.IssueTransactionID)), nullString(string(inv.CostTransactionID)),
		nullString(string(inv.VoidTransactionID)), nullString(string(inv.VoidCostTransactionID)),
		formatTime(inv.CreatedAt), formatTime(inv.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save invoice: %w", err)
	}
	return nil
}

const invoiceColumns = `id, business_id, number, status, customer_name, customer_tax_id,
	customer_jurisdiction, items_json, subtotal, tax_amount, total_amount, issue_date,
	issue_transaction_id, cost_transaction_id, void_transaction_id, void_cost_transaction_id,
	created_at, updated_at`

func (q queries) GetInvoice(ctx context.Context, businessID ledger.BusinessID, id ledger.InvoiceID) (*ledger.Invoice, error) {
	invs, err := q.queryInvoices(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE business_id = ? AND id = ?`, businessID, id)
	if err != nil || len(invs) == 0 {
		return nil, err
	}
	return &invs[0], nil
}

func (q queries) ListInvoices(ctx context.Context, businessID ledger.BusinessID) ([]ledger.Invoice, error) {
	return q.queryInvoices(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE business_id = ? ORDER BY created_at ASC, id ASC`,
		businessID)
}

func (q queries) queryInvoices(ctx context.Context, query string, args ...any) ([]ledger.Invoice, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var out []ledger.Invoice
	for rows.Next() {
		var (
			inv                                       ledger.Invoice
			number, custName, custTaxID, custJur      sql.NullString
			itemsJSON, subtotal, taxAmount, total     string
			issueDate, issueTx, costTx, voidTx, voidC sql.NullString
			createdAt, updatedAt                      string
		)
		if err := rows.Scan(
			&inv.ID, &inv.BusinessID, &number, &inv.Status, &custName, &custTaxID, &custJur,
			&itemsJSON, &subtotal, &taxAmount, &total, &issueDate,
			&issueTx, &costTx, &voidTx, &voidC, &createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}

		var items []itemRow
		if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
			return nil, fmt.Errorf("failed to decode items of invoice %s: %w", inv.ID, err)
		}
		inv.Items = make([]ledger.InvoiceItem, len(items))
		for i, it := range items {
			inv.Items[i] = ledger.InvoiceItem(it)
		}

		inv.Number = number.String
		inv.Customer = ledger.Customer{Name: custName.String, TaxID: custTaxID.String, Jurisdiction: custJur.String}
		inv.Subtotal = parseDecimal(subtotal)
		inv.TaxAmount = parseDecimal(taxAmount)
		inv.TotalAmount = parseDecimal(total)
		inv.IssueDate = parseTime(issueDate.String)
		inv.IssueTransactionID = ledger.TransactionID(issueTx.String)
		inv.CostTransactionID = ledger.TransactionID(costTx.String)
		inv.VoidTransactionID = ledger.TransactionID(voidTx.String)
		inv.VoidCostTransactionID = ledger.TransactionID(voidC.String)
		inv.CreatedAt = parseTime(createdAt)
		inv.UpdatedAt = parseTime(updatedAt)
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (q queries) DeleteGstRecords(ctx context.Context, businessID ledger.BusinessID, ids []string) error {
	return q.deleteIn(ctx, "gst_records", businessID, toAny(ids))
}

func (q queries) DeleteLedgerEntries(ctx context.Context, businessID ledger.BusinessID, ids []string) error {
	return q.deleteIn(ctx, "ledger_entries", businessID, toAny(ids))
}

func (q queries) DeleteTransactions(ctx context.Context, businessID ledger.BusinessID, ids []ledger.TransactionID) error {
	return q.deleteIn(ctx, "transactions", businessID, toAny(ids))
}

func (q queries) DeleteInvoice(ctx context.Context, businessID ledger.BusinessID, id ledger.InvoiceID) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM invoices WHERE business_id = ? AND id = ?`, businessID, id)
	if err != nil {
		return fmt.Errorf("failed to delete invoice: %w", err)
	}
	return nil
}

func (q queries) deleteIn(ctx context.Context, table string, businessID ledger.BusinessID, ids []any) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := fmt.Sprintf("DELETE FROM %s WHERE business_id = ? AND id IN (%s)", table, placeholders)
	if _, err := q.db.ExecContext(ctx, query, append([]any{businessID}, ids...)...); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func periodFilter(query string, args []any, column string, period ledger.Period) (string, []any) {
	if !period.Start.IsZero() {
		query += " AND " + column + " >= ?"
		args = append(args, formatTime(period.Start))
	}
	if !period.End.IsZero() {
		query += " AND " + column + " <= ?"
		args = append(args, formatTime(period.End))
	}
	return query, args
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toAny[T ~string](ids []T) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
