package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adnank79d/Wytis-sub002/ledger"
	"github.com/adnank79d/Wytis-sub002/ledger/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func posting(biz ledger.BusinessID, id string, date time.Time) (ledger.Transaction, []ledger.LedgerEntry) {
	tx := ledger.Transaction{
		ID: ledger.TransactionID(id), BusinessID: biz, SourceType: ledger.SourceManual, SourceID: "m",
		Kind: ledger.KindJournal, Amount: decimal.NewFromInt(5), TransactionDate: date,
	}
	return tx, []ledger.LedgerEntry{
		{ID: id + "-d", TransactionID: tx.ID, BusinessID: biz, Account: ledger.Cash, Debit: decimal.NewFromInt(5)},
		{ID: id + "-c", TransactionID: tx.ID, BusinessID: biz, Account: ledger.Capital, Credit: decimal.NewFromInt(5)},
	}
}

func TestMemory_UnitCommitsOnReturn(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	day := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	err := mem.WithTx(ctx, "biz-1", func(s ledger.Store) error {
		tx, entries := posting("biz-1", "t1", day)
		require.NoError(t, s.InsertPosting(ctx, tx, entries))

		// Other businesses are not blocked by an open unit.
		outside, _ := mem.ListTransactions(ctx, "biz-2")
		assert.Empty(t, outside)
		inside, _ := s.ListTransactions(ctx, "biz-1")
		assert.Len(t, inside, 1)
		return nil
	})
	require.NoError(t, err)

	txs, _ := mem.ListTransactions(ctx, "biz-1")
	assert.Len(t, txs, 1)
}

func TestMemory_UnitIsScopedToOneBusiness(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	err := mem.WithTx(ctx, "biz-1", func(s ledger.Store) error {
		tx, entries := posting("biz-2", "t1", time.Now())
		return s.InsertPosting(ctx, tx, entries)
	})
	assert.True(t, errors.Is(err, ledger.ErrValidation))
}

func TestMemory_DanglingEntriesAreListedButNotPosted(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	day := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	tx, entries := posting("biz-1", "t1", day)
	require.NoError(t, mem.InsertPosting(ctx, tx, entries))
	require.NoError(t, mem.DeleteTransactions(ctx, "biz-1", []ledger.TransactionID{"t1"}))

	raw, _ := mem.ListLedgerEntries(ctx, "biz-1")
	assert.Len(t, raw, 2)
	posted, _ := mem.ListPostedEntries(ctx, "biz-1", ledger.AllTime)
	assert.Empty(t, posted)
}

func TestMemory_ReconciliationRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, mem.SaveReconciliationRun(ctx, ledger.ReconciliationRun{ID: id, BusinessID: "biz-1"}))
	}
	require.NoError(t, mem.SaveReconciliationRun(ctx, ledger.ReconciliationRun{ID: "other", BusinessID: "biz-2"}))

	runs, err := mem.ListReconciliationRuns(ctx, "biz-1", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].ID)
	assert.Equal(t, "r2", runs[1].ID)
}

func TestMemory_GstRecordsMustShareOneBusiness(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	day := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

	err := mem.InsertGstRecords(ctx, []ledger.GstRecord{
		{ID: "g1", BusinessID: "biz-1", SourceType: ledger.SourceInvoice, SourceID: "i1", TaxType: ledger.CGSTPayable, Amount: decimal.NewFromInt(9), RecordDate: day},
		{ID: "g2", BusinessID: "biz-2", SourceType: ledger.SourceInvoice, SourceID: "i1", TaxType: ledger.SGSTPayable, Amount: decimal.NewFromInt(9), RecordDate: day},
	})
	assert.True(t, errors.Is(err, ledger.ErrValidation))

	for _, id := range []ledger.BusinessID{"biz-1", "biz-2"} {
		records, _ := mem.ListGstRecords(ctx, id, ledger.AllTime)
		assert.Empty(t, records, "nothing written for %s", id)
	}
}
