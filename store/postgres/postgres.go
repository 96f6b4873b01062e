/*
Package postgres provides a PostgreSQL implementation of the ledger storage
interfaces, on pgx.

PURPOSE:
  Same contract as store/sqlite, for deployments with concurrent writers.
  Writers of different businesses proceed in parallel; writers of one
  business queue on a transaction-scoped advisory lock keyed by the
  business id.

ISOLATION:
  Units run at READ COMMITTED. The advisory lock is the first statement, so
  every later statement in the unit sees everything committed by the
  previous holder. REPEATABLE READ would freeze the snapshot before the lock
  is granted and miss that work.

MONEY:
  Amounts are NUMERIC(20,2). They cross the wire as text ($n::numeric on the
  way in, ::text on the way out) so the decimal never passes through float.

SEE ALSO:
  - store/sqlite/sqlite.go: Default backend with the same schema
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/adnank79d/Wytis-sub002/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Store implements ledger.TxStore and ledger.RunStore on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ ledger.TxStore  = (*Store)(nil)
	_ ledger.RunStore = (*Store)(nil)
)

// New connects, pings and migrates.
func New(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS businesses (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		jurisdiction TEXT NOT NULL,
		tax_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		number TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		customer_name TEXT NOT NULL DEFAULT '',
		customer_tax_id TEXT NOT NULL DEFAULT '',
		customer_jurisdiction TEXT NOT NULL DEFAULT '',
		items JSONB NOT NULL,
		subtotal NUMERIC(20,2) NOT NULL,
		tax_amount NUMERIC(20,2) NOT NULL,
		total_amount NUMERIC(20,2) NOT NULL,
		issue_date TIMESTAMPTZ,
		issue_transaction_id TEXT NOT NULL DEFAULT '',
		cost_transaction_id TEXT NOT NULL DEFAULT '',
		void_transaction_id TEXT NOT NULL DEFAULT '',
		void_cost_transaction_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_invoices_business ON invoices(business_id, created_at);

	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount NUMERIC(20,2) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		transaction_date TIMESTAMPTZ NOT NULL,
		reversal_of TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_business_date ON transactions(business_id, transaction_date);
	CREATE INDEX IF NOT EXISTS idx_transactions_source ON transactions(business_id, source_type, source_id);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		transaction_id TEXT NOT NULL,
		business_id TEXT NOT NULL,
		account TEXT NOT NULL,
		debit NUMERIC(20,2) NOT NULL CHECK (debit >= 0),
		credit NUMERIC(20,2) NOT NULL CHECK (credit >= 0)
	);
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_transaction ON ledger_entries(business_id, transaction_id);

	CREATE TABLE IF NOT EXISTS gst_records (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		business_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		transaction_id TEXT NOT NULL DEFAULT '',
		tax_type TEXT NOT NULL,
		direction TEXT NOT NULL,
		party_name TEXT NOT NULL DEFAULT '',
		party_tax_id TEXT NOT NULL DEFAULT '',
		taxable_value NUMERIC(20,2) NOT NULL,
		amount NUMERIC(20,2) NOT NULL,
		record_date TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_gst_records_business_date ON gst_records(business_id, record_date);

	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		orphan_transactions INTEGER NOT NULL DEFAULT 0,
		orphan_entries INTEGER NOT NULL DEFAULT 0,
		orphan_gst_records INTEGER NOT NULL DEFAULT 0,
		unbalanced_transactions INTEGER NOT NULL DEFAULT 0,
		repaired BOOLEAN NOT NULL DEFAULT FALSE,
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_business ON reconciliation_runs(business_id, started_at DESC);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// STORE - each call outside WithTx is its own unit
// =============================================================================

func (s *Store) q() queries { return queries{db: s.pool} }

func (s *Store) CreateBusiness(ctx context.Context, b ledger.Business) error {
	return s.q().CreateBusiness(ctx, b)
}

func (s *Store) GetBusiness(ctx context.Context, id ledger.BusinessID) (*ledger.Business, error) {
	return s.q().GetBusiness(ctx, id)
}

func (s *Store) ListBusinesses(ctx context.Context) ([]ledger.Business, error) {
	return s.q().ListBusinesses(ctx)
}

func (s *Store) InsertPosting(ctx context.Context, tx ledger.Transaction, entries []ledger.LedgerEntry) error {
	return pgx.BeginFunc(ctx, s.pool, func(pgTx pgx.Tx) error {
		return queries{db: pgTx}.InsertPosting(ctx, tx, entries)
	})
}

func (s *Store) GetTransaction(ctx context.Context, businessID ledger.BusinessID, id ledger.TransactionID) (*ledger.Transaction, error) {
	return s.q().GetTransaction(ctx, businessID, id)
}

func (s *Store) ListTransactions(ctx context.Context, businessID ledger.BusinessID) ([]ledger.Transaction, error) {
	return s.q().ListTransactions(ctx, businessID)
}

func (s *Store) EntriesFor(ctx context.Context, businessID ledger.BusinessID, id ledger.TransactionID) ([]ledger.LedgerEntry, error) {
	return s.q().EntriesFor(ctx, businessID, id)
}

func (s *Store) ListLedgerEntries(ctx context.Context, businessID ledger.BusinessID) ([]ledger.LedgerEntry, error) {
	return s.q().ListLedgerEntries(ctx, businessID)
}

// ListPostedEntries runs in a read-only REPEATABLE READ transaction so the
// join sees one snapshot.
func (s *Store) ListPostedEntries(ctx context.Context, businessID ledger.BusinessID, period ledger.Period) ([]ledger.PostedEntry, error) {
	var out []ledger.PostedEntry
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(pgTx pgx.Tx) error {
		var err error
		out, err = queries{db: pgTx}.ListPostedEntries(ctx, businessID, period)
		return err
	})
	return out, err
}

func (s *Store) InsertGstRecords(ctx context.Context, records []ledger.GstRecord) error {
	return pgx.BeginFunc(ctx, s.pool, func(pgTx pgx.Tx) error {
		return queries{db: pgTx}.InsertGstRecords(ctx, records)
	})
}

func (s *Store) ListGstRecords(ctx context.Context, businessID ledger.BusinessID, period ledger.Period) ([]ledger.GstRecord, error) {
	return s.q().ListGstRecords(ctx, businessID, period)
}

func (s *Store) SaveInvoice(ctx context.Context, inv ledger.Invoice) error {
	return s.q().SaveInvoice(ctx, inv)
}

func (s *Store) GetInvoice(ctx context.Context, businessID ledger.BusinessID, id ledger.InvoiceID) (*ledger.Invoice, error) {
	return s.q().GetInvoice(ctx, businessID, id)
}

func (s *Store) ListInvoices(ctx context.Context, businessID ledger.BusinessID) ([]ledger.Invoice, error) {
	return s.q().ListInvoices(ctx, businessID)
}

func (s *Store) DeleteGstRecords(ctx context.Context, businessID ledger.BusinessID, ids []string) error {
	return s.q().DeleteGstRecords(ctx, businessID, ids)
}

func (s *Store) DeleteLedgerEntries(ctx context.Context, businessID ledger.BusinessID, ids []string) error {
	return s.q().DeleteLedgerEntries(ctx, businessID, ids)
}

func (s *Store) DeleteTransactions(ctx context.Context, businessID ledger.BusinessID, ids []ledger.TransactionID) error {
	return s.q().DeleteTransactions(ctx, businessID, ids)
}

func (s *Store) DeleteInvoice(ctx context.Context, businessID ledger.BusinessID, id ledger.InvoiceID) error {
	return s.q().DeleteInvoice(ctx, businessID, id)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx takes the business's advisory lock and runs fn in one transaction.
func (s *Store) WithTx(ctx context.Context, businessID ledger.BusinessID, fn func(ledger.Store) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer pgTx.Rollback(ctx)

	if _, err := pgTx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", string(businessID)); err != nil {
		return fmt.Errorf("lock acquisition failed: %w", err)
	}

	if err := fn(&txStore{queries: queries{db: pgTx}, businessID: businessID}); err != nil {
		return err
	}
	return pgTx.Commit(ctx)
}

type txStore struct {
	queries
	businessID ledger.BusinessID
}

func (ts *txStore) InsertPosting(ctx context.Context, tx ledger.Transaction, entries []ledger.LedgerEntry) error {
	if tx.BusinessID != ts.businessID {
		return &ledger.ValidationError{Field: "business_id", Reason: "unit is scoped to business " + string(ts.businessID)}
	}
	return ts.queries.InsertPosting(ctx, tx, entries)
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

func (s *Store) SaveReconciliationRun(ctx context.Context, r ledger.ReconciliationRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reconciliation_runs (id, business_id, started_at, completed_at,
			orphan_transactions, orphan_entries, orphan_gst_records, unbalanced_transactions,
			repaired, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			completed_at = EXCLUDED.completed_at,
			orphan_transactions = EXCLUDED.orphan_transactions,
			orphan_entries = EXCLUDED.orphan_entries,
			orphan_gst_records = EXCLUDED.orphan_gst_records,
			unbalanced_transactions = EXCLUDED.unbalanced_transactions,
			repaired = EXCLUDED.repaired,
			error = EXCLUDED.error`,
		r.ID, string(r.BusinessID), r.StartedAt, nullTime(r.CompletedAt),
		r.OrphanTransactions, r.OrphanEntries, r.OrphanGstRecords, r.UnbalancedTransactions,
		r.Repaired, r.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save reconciliation run: %w", err)
	}
	return nil
}

func (s *Store) ListReconciliationRuns(ctx context.Context, businessID ledger.BusinessID, limit int) ([]ledger.ReconciliationRun, error) {
	query := `
		SELECT id, business_id, started_at, completed_at, orphan_transactions, orphan_entries,
			orphan_gst_records, unbalanced_transactions, repaired, error
		FROM reconciliation_runs WHERE business_id = $1 ORDER BY started_at DESC`
	args := []any{string(businessID)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation runs: %w", err)
	}
	defer rows.Close()

	var runs []ledger.ReconciliationRun
	for rows.Next() {
		var (
			r           ledger.ReconciliationRun
			biz         string
			completedAt *time.Time
		)
		if err := rows.Scan(&r.ID, &biz, &r.StartedAt, &completedAt,
			&r.OrphanTransactions, &r.OrphanEntries, &r.OrphanGstRecords, &r.UnbalancedTransactions,
			&r.Repaired, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation run: %w", err)
		}
		r.BusinessID = ledger.BusinessID(biz)
		r.StartedAt = r.StartedAt.UTC()
		if completedAt != nil {
			r.CompletedAt = completedAt.UTC()
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// QUERIES
// =============================================================================

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db dbtx
}

func (q queries) CreateBusiness(ctx context.Context, b ledger.Business) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO businesses (id, name, jurisdiction, tax_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
		string(b.ID), b.Name, b.Jurisdiction, b.TaxID, b.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return &ledger.ValidationError{Field: "id", Reason: "business " + string(b.ID) + " already exists"}
		}
		return fmt.Errorf("failed to create business: %w", err)
	}
	return nil
}

func (q queries) GetBusiness(ctx context.Context, id ledger.BusinessID) (*ledger.Business, error) {
	var (
		b   ledger.Business
		bid string
	)
	err := q.db.QueryRow(ctx,
		`SELECT id, name, jurisdiction, tax_id, created_at FROM businesses WHERE id = $1`, string(id),
	).Scan(&bid, &b.Name, &b.Jurisdiction, &b.TaxID, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get business: %w", err)
	}
	b.ID = ledger.BusinessID(bid)
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}

func (q queries) ListBusinesses(ctx context.Context) ([]ledger.Business, error) {
	rows, err := q.db.Query(ctx, `SELECT id, name, jurisdiction, tax_id, created_at FROM businesses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query businesses: %w", err)
	}
	defer rows.Close()

	var out []ledger.Business
	for rows.Next() {
		var (
			b   ledger.Business
			bid string
		)
		if err := rows.Scan(&bid, &b.Name, &b.Jurisdiction, &b.TaxID, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan business: %w", err)
		}
		b.ID = ledger.BusinessID(bid)
		b.CreatedAt = b.CreatedAt.UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}

// InsertPosting expects q.db to be a transaction.
func (q queries) InsertPosting(ctx context.Context, tx ledger.Transaction, entries []ledger.LedgerEntry) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO transactions (id, business_id, source_type, source_id, kind, amount,
			description, transaction_date, reversal_of, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10)`,
		string(tx.ID), string(tx.BusinessID), string(tx.SourceType), tx.SourceID, string(tx.Kind),
		tx.Amount.String(), tx.Description, tx.TransactionDate.UTC(), string(tx.ReversalOf), tx.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &ledger.ValidationError{Field: "id", Reason: "transaction " + string(tx.ID) + " already exists"}
		}
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO ledger_entries (id, transaction_id, business_id, account, debit, credit)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric)`,
			e.ID, string(e.TransactionID), string(e.BusinessID), string(e.Account),
			e.Debit.String(), e.Credit.String(),
		)
	}
	if err := q.sendBatch(ctx, batch); err != nil {
		if isUniqueViolation(err) {
			return &ledger.ValidationError{Field: "id", Reason: "duplicate ledger entry id"}
		}
		return fmt.Errorf("failed to insert ledger entries: %w", err)
	}
	return nil
}

// sendBatch runs the queued statements and reports the first failure.
func (q queries) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	sender, ok := q.db.(interface {
		SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	})
	if !ok {
		return errors.New("connection does not support batches")
	}
	br := sender.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}

const transactionColumns = `id, business_id, source_type, source_id, kind, amount::text,
	description, transaction_date, reversal_of, created_at`

func (q queries) GetTransaction(ctx context.Context, businessID ledger.BusinessID, id ledger.TransactionID) (*ledger.Transaction, error) {
	txs, err := q.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE business_id = $1 AND id = $2`,
		string(businessID), string(id))
	if err != nil || len(txs) == 0 {
		return nil, err
	}
	return &txs[0], nil
}

func (q queries) ListTransactions(ctx context.Context, businessID ledger.BusinessID) ([]ledger.Transaction, error) {
	return q.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE business_id = $1
		 ORDER BY transaction_date ASC, created_at ASC`, string(businessID))
}

func (q queries) queryTransactions(ctx context.Context, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		var (
			tx                                 ledger.Transaction
			id, biz, srcType, kind, reversalOf string
			amount                             string
		)
		if err := rows.Scan(&id, &biz, &srcType, &tx.SourceID, &kind, &amount,
			&tx.Description, &tx.TransactionDate, &reversalOf, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.ID = ledger.TransactionID(id)
		tx.BusinessID = ledger.BusinessID(biz)
		tx.SourceType = ledger.SourceType(srcType)
		tx.Kind = ledger.TransactionKind(kind)
		tx.Amount = parseDecimal(amount)
		tx.TransactionDate = tx.TransactionDate.UTC()
		tx.ReversalOf = ledger.TransactionID(reversalOf)
		tx.CreatedAt = tx.CreatedAt.UTC()
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (q queries) EntriesFor(ctx context.Context, businessID ledger.BusinessID, id ledger.TransactionID) ([]ledger.LedgerEntry, error) {
	return q.queryEntries(ctx, `
		SELECT id, transaction_id, business_id, account, debit::text, credit::text
		FROM ledger_entries WHERE business_id = $1 AND transaction_id = $2 ORDER BY seq`,
		string(businessID), string(id))
}

func (q queries) ListLedgerEntries(ctx context.Context, businessID ledger.BusinessID) ([]ledger.LedgerEntry, error) {
	return q.queryEntries(ctx, `
		SELECT id, transaction_id, business_id, account, debit::text, credit::text
		FROM ledger_entries WHERE business_id = $1 ORDER BY seq`, string(businessID))
}

func (q queries) queryEntries(ctx context.Context, query string, args ...any) ([]ledger.LedgerEntry, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.LedgerEntry
	for rows.Next() {
		var txID, biz, account, debit, credit string
		var e ledger.LedgerEntry
		if err := rows.Scan(&e.ID, &txID, &biz, &account, &debit, &credit); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		e.TransactionID = ledger.TransactionID(txID)
		e.BusinessID = ledger.BusinessID(biz)
		e.Account = ledger.Account(account)
		e.Debit = parseDecimal(debit)
		e.Credit = parseDecimal(credit)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (q queries) ListPostedEntries(ctx context.Context, businessID ledger.BusinessID, period ledger.Period) ([]ledger.PostedEntry, error) {
	query := `
		SELECT e.id, e.transaction_id, e.business_id, e.account, e.debit::text, e.credit::text, t.transaction_date
		FROM ledger_entries e
		JOIN transactions t ON t.id = e.transaction_id AND t.business_id = e.business_id
		WHERE e.business_id = $1`
	args := []any{string(businessID)}
	query, args = periodFilter(query, args, "t.transaction_date", period)
	query += " ORDER BY t.transaction_date ASC, e.seq ASC"

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query posted entries: %w", err)
	}
	defer rows.Close()

	var out []ledger.PostedEntry
	for rows.Next() {
		var txID, biz, account, debit, credit string
		var p ledger.PostedEntry
		if err := rows.Scan(&p.ID, &txID, &biz, &account, &debit, &credit, &p.TransactionDate); err != nil {
			return nil, fmt.Errorf("failed to scan posted entry: %w", err)
		}
		p.TransactionID = ledger.TransactionID(txID)
		p.BusinessID = ledger.BusinessID(biz)
		p.Account = ledger.Account(account)
		p.Debit = parseDecimal(debit)
		p.Credit = parseDecimal(credit)
		p.TransactionDate = p.TransactionDate.UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q queries) InsertGstRecords(ctx context.Context, records []ledger.GstRecord) error {
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			INSERT INTO gst_records (id, business_id, source_type, source_id, transaction_id,
				tax_type, direction, party_name, party_tax_id, taxable_value, amount, record_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11::numeric, $12)`,
			r.ID, string(r.BusinessID), string(r.SourceType), r.SourceID, string(r.TransactionID),
			string(r.TaxType), string(r.Direction), r.PartyName, r.PartyTaxID,
			r.TaxableValue.String(), r.Amount.String(), r.RecordDate.UTC(),
		)
	}
	if err := q.sendBatch(ctx, batch); err != nil {
		if isUniqueViolation(err) {
			return &ledger.ValidationError{Field: "id", Reason: "duplicate gst record id"}
		}
		return fmt.Errorf("failed to insert gst records: %w", err)
	}
	return nil
}

func (q queries) ListGstRecords(ctx context.Context, businessID ledger.BusinessID, period ledger.Period) ([]ledger.GstRecord, error) {
	query := `
		SELECT id, business_id, source_type, source_id, transaction_id, tax_type, direction,
			party_name, party_tax_id, taxable_value::text, amount::text, record_date
		FROM gst_records WHERE business_id = $1`
	args := []any{string(businessID)}
	query, args = periodFilter(query, args, "record_date", period)
	query += " ORDER BY seq"

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query gst records: %w", err)
	}
	defer rows.Close()

	var out []ledger.GstRecord
	for rows.Next() {
		var (
			r                                      ledger.GstRecord
			biz, srcType, txID, taxType, direction string
			taxable, amount                        string
		)
		if err := rows.Scan(&r.ID, &biz, &srcType, &r.SourceID, &txID, &taxType, &direction,
			&r.PartyName, &r.PartyTaxID, &taxable, &amount, &r.RecordDate); err != nil {
			return nil, fmt.Errorf("failed to scan gst record: %w", err)
		}
		r.BusinessID = ledger.BusinessID(biz)
		r.SourceType = ledger.SourceType(srcType)
		r.TransactionID = ledger.TransactionID(txID)
		r.TaxType = ledger.Account(taxType)
		r.Direction = ledger.TaxDirection(direction)
		r.TaxableValue = parseDecimal(taxable)
		r.Amount = parseDecimal(amount)
		r.RecordDate = r.RecordDate.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

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

	_, err = q.db.Exec(ctx, `
		INSERT INTO invoices (id, business_id, number, status, customer_name, customer_tax_id,
			customer_jurisdiction, items, subtotal, tax_amount, total_amount, issue_date,
			issue_transaction_id, cost_transaction_id, void_transaction_id, void_cost_transaction_id,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11::numeric, $12,
			$13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			number = EXCLUDED.number,
			status = EXCLUDED.status,
			customer_name = EXCLUDED.customer_name,
			customer_tax_id = EXCLUDED.customer_tax_id,
			customer_jurisdiction = EXCLUDED.customer_jurisdiction,
			items = EXCLUDED.items,
			subtotal = EXCLUDED.subtotal,
			tax_amount = EXCLUDED.tax_amount,
			total_amount = EXCLUDED.total_amount,
			issue_date = EXCLUDED.issue_date,
			issue_transaction_id = EXCLUDED.issue_transaction_id,
			cost_transaction_id = EXCLUDED.cost_transaction_id,
			void_transaction_id = EXCLUDED.void_transaction_id,
			void_cost_transaction_id = EXCLUDED.void_cost_transaction_id,
			updated_at = EXCLUDED.updated_at`,
		string(inv.ID), string(inv.BusinessID), inv.Number, string(inv.Status),
		inv.Customer.Name, inv.Customer.TaxID, inv.Customer.Jurisdiction,
		itemsJSON, inv.Subtotal.String(), inv.TaxAmount.String(), inv.TotalAmount.String(),
		nullTime(inv.IssueDate),
		string(inv.IssueTransactionID), string(inv.CostTransactionID),
		string(inv.VoidTransactionID), string(inv.VoidCostTransactionID),
		inv.CreatedAt.UTC(), inv.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save invoice: %w", err)
	}
	return nil
}

const invoiceColumns = `id, business_id, number, status, customer_name, customer_tax_id,
	customer_jurisdiction, items, subtotal::text, tax_amount::text, total_amount::text, issue_date,
	issue_transaction_id, cost_transaction_id, void_transaction_id, void_cost_transaction_id,
	created_at, updated_at`

func (q queries) GetInvoice(ctx context.Context, businessID ledger.BusinessID, id ledger.InvoiceID) (*ledger.Invoice, error) {
	invs, err := q.queryInvoices(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE business_id = $1 AND id = $2`,
		string(businessID), string(id))
	if err != nil || len(invs) == 0 {
		return nil, err
	}
	return &invs[0], nil
}

func (q queries) ListInvoices(ctx context.Context, businessID ledger.BusinessID) ([]ledger.Invoice, error) {
	return q.queryInvoices(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE business_id = $1 ORDER BY created_at ASC, id ASC`,
		string(businessID))
}

func (q queries) queryInvoices(ctx context.Context, query string, args ...any) ([]ledger.Invoice, error) {
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var out []ledger.Invoice
	for rows.Next() {
		var (
			inv                                 ledger.Invoice
			id, biz, status                     string
			itemsJSON                           []byte
			subtotal, taxAmount, total          string
			issueDate                           *time.Time
			issueTx, costTx, voidTx, voidCostTx string
		)
		if err := rows.Scan(&id, &biz, &inv.Number, &status,
			&inv.Customer.Name, &inv.Customer.TaxID, &inv.Customer.Jurisdiction,
			&itemsJSON, &subtotal, &taxAmount, &total, &issueDate,
			&issueTx, &costTx, &voidTx, &voidCostTx, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}

		var items []itemRow
		if err := json.Unmarshal(itemsJSON, &items); err != nil {
			return nil, fmt.Errorf("failed to decode items of invoice %s: %w", id, err)
		}
		inv.Items = make([]ledger.InvoiceItem, len(items))
		for i, it := range items {
			inv.Items[i] = ledger.InvoiceItem(it)
		}

		inv.ID = ledger.InvoiceID(id)
		inv.BusinessID = ledger.BusinessID(biz)
		inv.Status = ledger.InvoiceStatus(status)
		inv.Subtotal = parseDecimal(subtotal)
		inv.TaxAmount = parseDecimal(taxAmount)
		inv.TotalAmount = parseDecimal(total)
		if issueDate != nil {
			inv.IssueDate = issueDate.UTC()
		}
		inv.IssueTransactionID = ledger.TransactionID(issueTx)
		inv.CostTransactionID = ledger.TransactionID(costTx)
		inv.VoidTransactionID = ledger.TransactionID(voidTx)
		inv.VoidCostTransactionID = ledger.TransactionID(voidCostTx)
		inv.CreatedAt = inv.CreatedAt.UTC()
		inv.UpdatedAt = inv.UpdatedAt.UTC()
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (q queries) DeleteGstRecords(ctx context.Context, businessID ledger.BusinessID, ids []string) error {
	return q.deleteAny(ctx, "gst_records", businessID, ids)
}

func (q queries) DeleteLedgerEntries(ctx context.Context, businessID ledger.BusinessID, ids []string) error {
	return q.deleteAny(ctx, "ledger_entries", businessID, ids)
}

func (q queries) DeleteTransactions(ctx context.Context, businessID ledger.BusinessID, ids []ledger.TransactionID) error {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = string(id)
	}
	return q.deleteAny(ctx, "transactions", businessID, strs)
}

func (q queries) DeleteInvoice(ctx context.Context, businessID ledger.BusinessID, id ledger.InvoiceID) error {
	if _, err := q.db.Exec(ctx, `DELETE FROM invoices WHERE business_id = $1 AND id = $2`,
		string(businessID), string(id)); err != nil {
		return fmt.Errorf("failed to delete invoice: %w", err)
	}
	return nil
}

func (q queries) deleteAny(ctx context.Context, table string, businessID ledger.BusinessID, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE business_id = $1 AND id = ANY($2)", table)
	if _, err := q.db.Exec(ctx, query, string(businessID), ids); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func periodFilter(query string, args []any, column string, period ledger.Period) (string, []any) {
	if !period.Start.IsZero() {
		args = append(args, period.Start.UTC())
		query += fmt.Sprintf(" AND %s >= $%d", column, len(args))
	}
	if !period.End.IsZero() {
		args = append(args, period.End.UTC())
		query += fmt.Sprintf(" AND %s <= $%d", column, len(args))
	}
	return query, args
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// isUniqueViolation matches SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
