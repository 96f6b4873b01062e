/*
posting.go - The ledger posting engine

PURPOSE:
  The only writer of Transaction and LedgerEntry rows. A posting is
  validated completely before anything is written, then the transaction row
  and all its entries are inserted in one atomic unit.

CRITICAL INVARIANTS:
  1. BALANCED: For every transaction, sum(debit) == sum(credit)
  2. ONE-SIDED ROWS: Every entry has exactly one non-zero side
  3. ALL-OR-NOTHING: A transaction is never visible without its entries
  4. NO EDITS: Corrections are reversals, a new transaction with every side
     swapped. The original stays.

NO DEDUPLICATION:
  The engine posts whatever it is asked to post. Guarding against a second
  posting for the same event is the caller's job, through its own state
  (the invoice lifecycle checks status before issuing).

REVERSAL:
  Reverse looks the original up and mirrors its entries. If the original is
  missing it fails with NotFoundError. It never posts a one-sided
  correction, since that would break the global balance while looking valid.

EXAMPLE:
  id, err := engine.Post(ctx, ledger.PostRequest{
      BusinessID: "biz-1",
      SourceType: ledger.SourceManual,
      SourceID:   "capital-injection",
      Entries: []ledger.EntryLine{
          ledger.Debit(ledger.Bank, decimal.NewFromInt(5000)),
          ledger.Credit(ledger.Capital, decimal.NewFromInt(5000)),
      },
  })

SEE ALSO:
  - store.go: TxStore.WithTx provides the atomic unit
  - invoice/lifecycle.go: Posts inside its own unit through PostIn/ReverseIn
*/
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store  TxStore
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

func NewEngine(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Store() TxStore { return e.store }
func (e *Engine) Now() time.Time { return e.now() }
func (e *Engine) NewID() string  { return e.newID() }

// PostRequest is the input to Post.
type PostRequest struct {
	BusinessID  BusinessID
	SourceType  SourceType
	SourceID    string
	Kind        TransactionKind // defaults to KindJournal
	Description string
	Date        time.Time // economic date, defaults to today
	Entries     []EntryLine

	reversalOf TransactionID
}

// ReverseOptions controls the reversing transaction.
type ReverseOptions struct {
	Date        time.Time // defaults to today
	Description string    // defaults to "Reversal of <id>"
}

// =============================================================================
// POST
// =============================================================================

// Post validates req and writes the transaction and its entries atomically.
func (e *Engine) Post(ctx context.Context, req PostRequest) (TransactionID, error) {
	if err := e.validateRequest(req); err != nil {
		postingsTotal.WithLabelValues(string(req.kind()), "rejected").Inc()
		return "", err
	}

	var posted Transaction
	err := e.store.WithTx(ctx, req.BusinessID, func(s Store) error {
		tx, err := e.PostIn(ctx, s, req)
		posted = tx
		return err
	})
	if err != nil {
		return "", err
	}
	return posted.ID, nil
}

// PostIn posts inside a unit the caller already holds through WithTx.
func (e *Engine) PostIn(ctx context.Context, s Store, req PostRequest) (Transaction, error) {
	timer := time.Now()
	kind := req.kind()

	if err := e.validateRequest(req); err != nil {
		postingsTotal.WithLabelValues(string(kind), "rejected").Inc()
		return Transaction{}, err
	}

	biz, err := s.GetBusiness(ctx, req.BusinessID)
	if err != nil {
		postingsTotal.WithLabelValues(string(kind), "error").Inc()
		return Transaction{}, err
	}
	if biz == nil {
		postingsTotal.WithLabelValues(string(kind), "rejected").Inc()
		return Transaction{}, &NotFoundError{Kind: "business", ID: string(req.BusinessID)}
	}

	debits, _ := Totals(req.Entries)
	date := req.Date
	if date.IsZero() {
		date = e.now()
	}

	tx := Transaction{
		ID:              TransactionID(e.newID()),
		BusinessID:      req.BusinessID,
		SourceType:      req.SourceType,
		SourceID:        req.SourceID,
		Kind:            kind,
		Amount:          debits,
		Description:     req.Description,
		TransactionDate: date.UTC(),
		ReversalOf:      req.reversalOf,
		CreatedAt:       e.now(),
	}

	entries := make([]LedgerEntry, len(req.Entries))
	for i, line := range req.Entries {
		entries[i] = LedgerEntry{
			ID:            e.newID(),
			TransactionID: tx.ID,
			BusinessID:    tx.BusinessID,
			Account:       line.Account,
			Debit:         line.Debit,
			Credit:        line.Credit,
		}
	}

	if err := s.InsertPosting(ctx, tx, entries); err != nil {
		postingsTotal.WithLabelValues(string(kind), "error").Inc()
		return Transaction{}, err
	}

	postingsTotal.WithLabelValues(string(kind), "posted").Inc()
	postingDuration.Observe(time.Since(timer).Seconds())
	e.logger.Info("posting written",
		zap.String("business_id", string(tx.BusinessID)),
		zap.String("transaction_id", string(tx.ID)),
		zap.String("kind", string(tx.Kind)),
		zap.String("source", string(tx.SourceType)+":"+tx.SourceID),
		zap.String("amount", tx.Amount.StringFixed(2)),
	)
	return tx, nil
}

// =============================================================================
// REVERSE
// =============================================================================

// Reverse posts the mirror image of originalID in its own atomic unit.
func (e *Engine) Reverse(ctx context.Context, businessID BusinessID, originalID TransactionID, opts ReverseOptions) (TransactionID, error) {
	var posted Transaction
	err := e.store.WithTx(ctx, businessID, func(s Store) error {
		tx, err := e.ReverseIn(ctx, s, businessID, originalID, opts)
		posted = tx
		return err
	})
	if err != nil {
		return "", err
	}
	return posted.ID, nil
}

// ReverseIn reverses inside a unit the caller already holds.
func (e *Engine) ReverseIn(ctx context.Context, s Store, businessID BusinessID, originalID TransactionID, opts ReverseOptions) (Transaction, error) {
	if originalID == "" {
		return Transaction{}, &NotFoundError{Kind: "transaction", ID: "(empty)"}
	}
	orig, err := s.GetTransaction(ctx, businessID, originalID)
	if err != nil {
		return Transaction{}, err
	}
	if orig == nil {
		postingsTotal.WithLabelValues(string(KindReversal), "rejected").Inc()
		return Transaction{}, &NotFoundError{Kind: "transaction", ID: string(originalID)}
	}

	entries, err := s.EntriesFor(ctx, businessID, originalID)
	if err != nil {
		return Transaction{}, err
	}
	if len(entries) == 0 {
		return Transaction{}, &IntegrityError{
			BusinessID: businessID,
			Problems:   []string{"transaction " + string(originalID) + " has no ledger entries"},
		}
	}

	lines := make([]EntryLine, len(entries))
	for i, entry := range entries {
		lines[i] = EntryLine{Account: entry.Account, Debit: entry.Debit, Credit: entry.Credit}.Mirror()
	}
	if err := ValidateEntries(lines); err != nil {
		return Transaction{}, &IntegrityError{
			BusinessID: businessID,
			Problems:   []string{"transaction " + string(originalID) + " cannot be mirrored: " + err.Error()},
		}
	}

	desc := opts.Description
	if desc == "" {
		desc = "Reversal of " + string(originalID)
	}

	tx, err := e.PostIn(ctx, s, PostRequest{
		BusinessID:  businessID,
		SourceType:  orig.SourceType,
		SourceID:    orig.SourceID,
		Kind:        KindReversal,
		Description: desc,
		Date:        opts.Date,
		Entries:     lines,
		reversalOf:  orig.ID,
	})
	if err != nil {
		return Transaction{}, err
	}

	e.logger.Info("posting reversed",
		zap.String("business_id", string(businessID)),
		zap.String("original_id", string(originalID)),
		zap.String("reversal_id", string(tx.ID)),
	)
	return tx, nil
}

// =============================================================================
// VALIDATION
// =============================================================================

func (r PostRequest) kind() TransactionKind {
	if r.Kind == "" {
		return KindJournal
	}
	return r.Kind
}

func (e *Engine) validateRequest(req PostRequest) error {
	if req.BusinessID == "" {
		return invalid("business_id", "required")
	}
	if req.SourceType == "" || req.SourceID == "" {
		return invalid("source", "source type and id are required")
	}
	return ValidateEntries(req.Entries)
}

// ValidateEntries checks an entry set without touching storage:
// at least two lines, known accounts, exactly one non-negative non-zero side
// per line with at most two decimal places, and sum(debit) == sum(credit).
func ValidateEntries(lines []EntryLine) error {
	if len(lines) < 2 {
		return invalid("entries", "a posting needs at least two entries, got %d", len(lines))
	}
	for i, line := range lines {
		if !line.Account.Valid() {
			return invalid("entries", "line %d: unknown account %q", i, line.Account)
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return invalid("entries", "line %d: negative amount", i)
		}
		if line.Debit.IsZero() == line.Credit.IsZero() {
			return invalid("entries", "line %d: exactly one of debit or credit must be non-zero", i)
		}
		if !line.Debit.Equal(line.Debit.Round(2)) || !line.Credit.Equal(line.Credit.Round(2)) {
			return invalid("entries", "line %d: more than 2 decimal places", i)
		}
	}
	debits, credits := Totals(lines)
	if !debits.Equal(credits) {
		return invalid("entries", "debits (%s) != credits (%s)", debits.StringFixed(2), credits.StringFixed(2))
	}
	return nil
}

// Totals sums both sides of lines.
func Totals(lines []EntryLine) (debits, credits decimal.Decimal) {
	debits, credits = decimal.Zero, decimal.Zero
	for _, l := range lines {
		debits = debits.Add(l.Debit)
		credits = credits.Add(l.Credit)
	}
	return debits, credits
}
