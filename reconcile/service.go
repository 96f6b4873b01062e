/*
Package reconcile finds and repairs rows whose logical links no longer
resolve.

PURPOSE:
  Transactions and GstRecords point at their source through a
  (source_type, source_id) pair, and LedgerEntries point at their
  Transaction. None of these are foreign keys. The cascading invoice delete
  keeps them consistent by construction; this package detects and removes
  whatever got past it.

ORPHANS:
  Transaction:  source does not resolve
  GstRecord:    source does not resolve
  LedgerEntry:  transaction_id does not resolve to a Transaction

  Source resolution is per source type. "invoice" resolves against invoice
  rows, "manual" always resolves, unknown types are skipped.

REPAIR ORDER:
  ledger_entries -> gst_records -> transactions

  The entries of orphaned transactions are removed with them, so a repair
  never creates new orphan entries.

CHECK:
  FindOrphans + VerifyBalance, recorded as a ReconciliationRun. Problems are
  logged as an IntegrityError and repaired when auto-repair is on. Check is
  what the scheduler and the post-delete hook call.

SEE ALSO:
  - scheduler.go: Periodic Check over every business
  - invoice/delete.go: The cascade this backs up
*/
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/adnank79d/Wytis-sub002/ledger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// SOURCE RESOLUTION
// =============================================================================

// Resolver reports whether a source entity still exists.
type Resolver interface {
	Exists(ctx context.Context, st ledger.Store, businessID ledger.BusinessID, sourceID string) (bool, error)
}

type ResolverFunc func(ctx context.Context, st ledger.Store, businessID ledger.BusinessID, sourceID string) (bool, error)

func (f ResolverFunc) Exists(ctx context.Context, st ledger.Store, businessID ledger.BusinessID, sourceID string) (bool, error) {
	return f(ctx, st, businessID, sourceID)
}

// InvoiceResolver resolves against invoice rows.
var InvoiceResolver = ResolverFunc(func(ctx context.Context, st ledger.Store, businessID ledger.BusinessID, sourceID string) (bool, error) {
	inv, err := st.GetInvoice(ctx, businessID, ledger.InvoiceID(sourceID))
	if err != nil {
		return false, err
	}
	return inv != nil, nil
})

// AlwaysResolves is used for source types with no backing row.
var AlwaysResolves = ResolverFunc(func(context.Context, ledger.Store, ledger.BusinessID, string) (bool, error) {
	return true, nil
})

// =============================================================================
// RESULTS
// =============================================================================

// Orphans lists rows whose links no longer resolve.
type Orphans struct {
	Transactions  []ledger.Transaction
	LedgerEntries []ledger.LedgerEntry
	GstRecords    []ledger.GstRecord
}

func (o Orphans) Empty() bool {
	return len(o.Transactions) == 0 && len(o.LedgerEntries) == 0 && len(o.GstRecords) == 0
}

func (o Orphans) Count() int {
	return len(o.Transactions) + len(o.LedgerEntries) + len(o.GstRecords)
}

// Problems describes each orphan for an IntegrityError.
func (o Orphans) Problems() []string {
	var out []string
	for _, tx := range o.Transactions {
		out = append(out, fmt.Sprintf("transaction %s: source %s:%s not found", tx.ID, tx.SourceType, tx.SourceID))
	}
	for _, e := range o.LedgerEntries {
		out = append(out, fmt.Sprintf("ledger entry %s: transaction %s not found", e.ID, e.TransactionID))
	}
	for _, r := range o.GstRecords {
		out = append(out, fmt.Sprintf("gst record %s: source %s:%s not found", r.ID, r.SourceType, r.SourceID))
	}
	return out
}

// UnbalancedTransaction is a transaction whose entries do not net to zero,
// or that has no entries at all.
type UnbalancedTransaction struct {
	ID      ledger.TransactionID
	Debit   decimal.Decimal
	Credit  decimal.Decimal
	Entries int
}

// BalanceReport is the result of VerifyBalance.
type BalanceReport struct {
	TotalDebit   decimal.Decimal
	TotalCredit  decimal.Decimal
	Transactions int
	Unbalanced   []UnbalancedTransaction
}

func (r BalanceReport) Balanced() bool {
	return len(r.Unbalanced) == 0 && r.TotalDebit.Equal(r.TotalCredit)
}

func (r BalanceReport) Problems() []string {
	var out []string
	for _, u := range r.Unbalanced {
		if u.Entries == 0 {
			out = append(out, fmt.Sprintf("transaction %s has no ledger entries", u.ID))
			continue
		}
		out = append(out, fmt.Sprintf("transaction %s: debits %s != credits %s",
			u.ID, u.Debit.StringFixed(2), u.Credit.StringFixed(2)))
	}
	if !r.TotalDebit.Equal(r.TotalCredit) {
		out = append(out, fmt.Sprintf("ledger total: debits %s != credits %s",
			r.TotalDebit.StringFixed(2), r.TotalCredit.StringFixed(2)))
	}
	return out
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store      ledger.TxStore
	runs       ledger.RunStore
	resolvers  map[ledger.SourceType]Resolver
	autoRepair bool
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAutoRepair makes Check repair what it finds.
func WithAutoRepair(on bool) Option {
	return func(s *Service) { s.autoRepair = on }
}

// WithResolver registers or replaces the resolver for a source type.
func WithResolver(sourceType ledger.SourceType, r Resolver) Option {
	return func(s *Service) { s.resolvers[sourceType] = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store ledger.TxStore, runs ledger.RunStore, opts ...Option) *Service {
	s := &Service{
		store: store,
		runs:  runs,
		resolvers: map[ledger.SourceType]Resolver{
			ledger.SourceInvoice: InvoiceResolver,
			ledger.SourceManual:  AlwaysResolves,
		},
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// FIND / REPAIR
// =============================================================================

// FindOrphans reports orphaned rows without changing anything.
func (s *Service) FindOrphans(ctx context.Context, businessID ledger.BusinessID) (Orphans, error) {
	if _, err := ledger.RequireBusiness(ctx, s.store, businessID); err != nil {
		return Orphans{}, err
	}
	var found Orphans
	err := s.store.WithTx(ctx, businessID, func(st ledger.Store) error {
		var err error
		found, err = s.findIn(ctx, st, businessID)
		return err
	})
	if err != nil {
		return Orphans{}, err
	}
	return found, nil
}

// Repair deletes orphaned rows in one unit and returns what it removed.
func (s *Service) Repair(ctx context.Context, businessID ledger.BusinessID) (Orphans, error) {
	if _, err := ledger.RequireBusiness(ctx, s.store, businessID); err != nil {
		return Orphans{}, err
	}
	var removed Orphans
	err := s.store.WithTx(ctx, businessID, func(st ledger.Store) error {
		found, err := s.findIn(ctx, st, businessID)
		if err != nil {
			return err
		}
		if found.Empty() {
			return nil
		}

		entries := found.LedgerEntries
		for _, tx := range found.Transactions {
			owned, err := st.EntriesFor(ctx, businessID, tx.ID)
			if err != nil {
				return err
			}
			entries = append(entries, owned...)
		}

		if ids := entryIDs(entries); len(ids) > 0 {
			if err := st.DeleteLedgerEntries(ctx, businessID, ids); err != nil {
				return err
			}
		}
		if len(found.GstRecords) > 0 {
			ids := make([]string, len(found.GstRecords))
			for i, r := range found.GstRecords {
				ids[i] = r.ID
			}
			if err := st.DeleteGstRecords(ctx, businessID, ids); err != nil {
				return err
			}
		}
		if len(found.Transactions) > 0 {
			ids := make([]ledger.TransactionID, len(found.Transactions))
			for i, tx := range found.Transactions {
				ids[i] = tx.ID
			}
			if err := st.DeleteTransactions(ctx, businessID, ids); err != nil {
				return err
			}
		}

		removed = Orphans{Transactions: found.Transactions, LedgerEntries: entries, GstRecords: found.GstRecords}
		return nil
	})
	if err != nil {
		return Orphans{}, err
	}

	if !removed.Empty() {
		orphansRepaired.WithLabelValues("transactions").Add(float64(len(removed.Transactions)))
		orphansRepaired.WithLabelValues("ledger_entries").Add(float64(len(removed.LedgerEntries)))
		orphansRepaired.WithLabelValues("gst_records").Add(float64(len(removed.GstRecords)))
		s.logger.Info("orphans repaired",
			zap.String("business_id", string(businessID)),
			zap.Int("transactions", len(removed.Transactions)),
			zap.Int("ledger_entries", len(removed.LedgerEntries)),
			zap.Int("gst_records", len(removed.GstRecords)),
		)
	}
	return removed, nil
}

func (s *Service) findIn(ctx context.Context, st ledger.Store, businessID ledger.BusinessID) (Orphans, error) {
	var found Orphans
	resolved := map[string]bool{}

	exists := func(sourceType ledger.SourceType, sourceID string) (bool, error) {
		key := string(sourceType) + ":" + sourceID
		if ok, seen := resolved[key]; seen {
			return ok, nil
		}
		r, known := s.resolvers[sourceType]
		if !known {
			s.logger.Debug("skipping unknown source type",
				zap.String("business_id", string(businessID)),
				zap.String("source_type", string(sourceType)),
			)
			resolved[key] = true
			return true, nil
		}
		ok, err := r.Exists(ctx, st, businessID, sourceID)
		if err != nil {
			return false, fmt.Errorf("resolve %s: %w", key, err)
		}
		resolved[key] = ok
		return ok, nil
	}

	txs, err := st.ListTransactions(ctx, businessID)
	if err != nil {
		return Orphans{}, err
	}
	known := make(map[ledger.TransactionID]bool, len(txs))
	for _, tx := range txs {
		known[tx.ID] = true
		ok, err := exists(tx.SourceType, tx.SourceID)
		if err != nil {
			return Orphans{}, err
		}
		if !ok {
			found.Transactions = append(found.Transactions, tx)
		}
	}

	entries, err := st.ListLedgerEntries(ctx, businessID)
	if err != nil {
		return Orphans{}, err
	}
	for _, e := range entries {
		if !known[e.TransactionID] {
			found.LedgerEntries = append(found.LedgerEntries, e)
		}
	}

	records, err := st.ListGstRecords(ctx, businessID, ledger.AllTime)
	if err != nil {
		return Orphans{}, err
	}
	for _, r := range records {
		ok, err := exists(r.SourceType, r.SourceID)
		if err != nil {
			return Orphans{}, err
		}
		if !ok {
			found.GstRecords = append(found.GstRecords, r)
		}
	}

	if !found.Empty() {
		orphansDetected.WithLabelValues("transactions").Add(float64(len(found.Transactions)))
		orphansDetected.WithLabelValues("ledger_entries").Add(float64(len(found.LedgerEntries)))
		orphansDetected.WithLabelValues("gst_records").Add(float64(len(found.GstRecords)))
	}
	return found, nil
}

func entryIDs(entries []ledger.LedgerEntry) []string {
	seen := make(map[string]bool, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !seen[e.ID] {
			seen[e.ID] = true
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// =============================================================================
// BALANCE VERIFICATION
// =============================================================================

// VerifyBalance checks every transaction's entries net to zero. When they do
// not, the report is returned together with an *ledger.IntegrityError.
func (s *Service) VerifyBalance(ctx context.Context, businessID ledger.BusinessID) (BalanceReport, error) {
	if _, err := ledger.RequireBusiness(ctx, s.store, businessID); err != nil {
		return BalanceReport{}, err
	}
	var report BalanceReport
	err := s.store.WithTx(ctx, businessID, func(st ledger.Store) error {
		var err error
		report, err = verifyIn(ctx, st, businessID)
		return err
	})
	if err != nil {
		return BalanceReport{}, err
	}
	if !report.Balanced() {
		return report, &ledger.IntegrityError{BusinessID: businessID, Problems: report.Problems()}
	}
	return report, nil
}

func verifyIn(ctx context.Context, st ledger.Store, businessID ledger.BusinessID) (BalanceReport, error) {
	report := BalanceReport{TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}

	txs, err := st.ListTransactions(ctx, businessID)
	if err != nil {
		return BalanceReport{}, err
	}
	entries, err := st.ListPostedEntries(ctx, businessID, ledger.AllTime)
	if err != nil {
		return BalanceReport{}, err
	}

	type sums struct {
		debit, credit decimal.Decimal
		n             int
	}
	per := make(map[ledger.TransactionID]*sums, len(txs))
	for _, e := range entries {
		t := per[e.TransactionID]
		if t == nil {
			t = &sums{debit: decimal.Zero, credit: decimal.Zero}
			per[e.TransactionID] = t
		}
		t.debit = t.debit.Add(e.Debit)
		t.credit = t.credit.Add(e.Credit)
		t.n++
		report.TotalDebit = report.TotalDebit.Add(e.Debit)
		report.TotalCredit = report.TotalCredit.Add(e.Credit)
	}

	report.Transactions = len(txs)
	for _, tx := range txs {
		t := per[tx.ID]
		if t == nil {
			report.Unbalanced = append(report.Unbalanced, UnbalancedTransaction{ID: tx.ID, Debit: decimal.Zero, Credit: decimal.Zero})
			continue
		}
		if !t.debit.Equal(t.credit) {
			report.Unbalanced = append(report.Unbalanced, UnbalancedTransaction{ID: tx.ID, Debit: t.debit, Credit: t.credit, Entries: t.n})
		}
	}
	return report, nil
}

// =============================================================================
// CHECK
// =============================================================================

// Check runs a full reconciliation of one business and records the run.
// Findings are not returned as errors; inspect the run.
func (s *Service) Check(ctx context.Context, businessID ledger.BusinessID) (ledger.ReconciliationRun, error) {
	// No run is recorded for a business that does not exist.
	if _, err := ledger.RequireBusiness(ctx, s.store, businessID); err != nil {
		return ledger.ReconciliationRun{}, err
	}
	run := ledger.ReconciliationRun{
		ID:         s.newID(),
		BusinessID: businessID,
		StartedAt:  s.now(),
	}

	fail := func(err error) (ledger.ReconciliationRun, error) {
		run.Error = err.Error()
		run.CompletedAt = s.now()
		if saveErr := s.runs.SaveReconciliationRun(ctx, run); saveErr != nil {
			s.logger.Error("failed to save reconciliation run", zap.String("run_id", run.ID), zap.Error(saveErr))
		}
		return run, err
	}

	var (
		orphans Orphans
		report  BalanceReport
	)
	err := s.store.WithTx(ctx, businessID, func(st ledger.Store) error {
		var err error
		if orphans, err = s.findIn(ctx, st, businessID); err != nil {
			return err
		}
		report, err = verifyIn(ctx, st, businessID)
		return err
	})
	if err != nil {
		return fail(err)
	}

	run.OrphanTransactions = len(orphans.Transactions)
	run.OrphanEntries = len(orphans.LedgerEntries)
	run.OrphanGstRecords = len(orphans.GstRecords)
	run.UnbalancedTransactions = len(report.Unbalanced)

	if !orphans.Empty() || !report.Balanced() {
		problems := append(orphans.Problems(), report.Problems()...)
		s.logger.Warn("ledger integrity problems found",
			zap.String("business_id", string(businessID)),
			zap.Int("orphans", orphans.Count()),
			zap.Int("unbalanced", len(report.Unbalanced)),
			zap.Error(&ledger.IntegrityError{BusinessID: businessID, Problems: problems}),
		)
	}

	// Unbalanced transactions are not deleted; they need a person.
	if s.autoRepair && !orphans.Empty() {
		if _, err := s.Repair(ctx, businessID); err != nil {
			return fail(err)
		}
		run.Repaired = true
	}

	run.CompletedAt = s.now()
	if err := s.runs.SaveReconciliationRun(ctx, run); err != nil {
		return run, fmt.Errorf("save reconciliation run: %w", err)
	}
	return run, nil
}

// AfterDelete runs Check once a cascade delete has committed. It returns an
// *ledger.IntegrityError when problems remain.
func (s *Service) AfterDelete(ctx context.Context, businessID ledger.BusinessID) error {
	run, err := s.Check(ctx, businessID)
	if err != nil {
		return err
	}
	if run.Clean() || (run.Repaired && run.UnbalancedTransactions == 0) {
		return nil
	}
	return &ledger.IntegrityError{
		BusinessID: businessID,
		Problems: []string{fmt.Sprintf("%d orphan transactions, %d orphan entries, %d orphan gst records, %d unbalanced transactions",
			run.OrphanTransactions, run.OrphanEntries, run.OrphanGstRecords, run.UnbalancedTransactions)},
	}
}

// Runs returns the most recent runs, newest first.
func (s *Service) Runs(ctx context.Context, businessID ledger.BusinessID, limit int) ([]ledger.ReconciliationRun, error) {
	if _, err := ledger.RequireBusiness(ctx, s.store, businessID); err != nil {
		return nil, err
	}
	return s.runs.ListReconciliationRuns(ctx, businessID, limit)
}
