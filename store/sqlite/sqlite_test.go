package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adnank79d/Wytis-sub002/ledger"
	"github.com/adnank79d/Wytis-sub002/store/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedBusiness(t *testing.T, s *sqlite.Store, id ledger.BusinessID) {
	t.Helper()
	require.NoError(t, s.CreateBusiness(context.Background(), ledger.Business{
		ID: id, Name: "Acme", Jurisdiction: "KA", TaxID: "29ABCDE1234F1Z5", CreatedAt: time.Now(),
	}))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSQLite_BusinessRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedBusiness(t, s, "biz-1")

	got, err := s.GetBusiness(ctx, "biz-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "KA", got.Jurisdiction)
	assert.Equal(t, "29ABCDE1234F1Z5", got.TaxID)

	missing, err := s.GetBusiness(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = s.CreateBusiness(ctx, ledger.Business{ID: "biz-1", Name: "dup", Jurisdiction: "KA"})
	assert.True(t, errors.Is(err, ledger.ErrValidation))
}

func TestSQLite_PostingsFilteredByEconomicDate(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedBusiness(t, s, "biz-1")
	engine := ledger.NewEngine(s)

	jan := time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2025, time.February, 10, 0, 0, 0, 0, time.UTC)

	for _, d := range []time.Time{jan, feb} {
		_, err := engine.Post(ctx, ledger.PostRequest{
			BusinessID: "biz-1",
			SourceType: ledger.SourceManual,
			SourceID:   "capital",
			Date:       d,
			Entries: []ledger.EntryLine{
				ledger.Debit(ledger.Bank, dec("100.50")),
				ledger.Credit(ledger.Capital, dec("100.50")),
			},
		})
		require.NoError(t, err)
	}

	all, err := s.ListPostedEntries(ctx, "biz-1", ledger.AllTime)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	janOnly, err := s.ListPostedEntries(ctx, "biz-1", ledger.MonthOf(jan))
	require.NoError(t, err)
	require.Len(t, janOnly, 2)
	assert.True(t, janOnly[0].Debit.Equal(dec("100.50")))
	assert.Equal(t, jan, janOnly[0].TransactionDate)

	txs, err := s.ListTransactions(ctx, "biz-1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, jan, txs[0].TransactionDate)
	assert.True(t, txs[0].Amount.Equal(dec("100.50")))
}

func TestSQLite_WithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedBusiness(t, s, "biz-1")
	engine := ledger.NewEngine(s)

	boom := errors.New("boom")
	err := s.WithTx(ctx, "biz-1", func(tx ledger.Store) error {
		_, err := engine.PostIn(ctx, tx, ledger.PostRequest{
			BusinessID: "biz-1",
			SourceType: ledger.SourceManual,
			SourceID:   "x",
			Entries: []ledger.EntryLine{
				ledger.Debit(ledger.Cash, dec("10")),
				ledger.Credit(ledger.Capital, dec("10")),
			},
		})
		require.NoError(t, err)

		// Reads inside the unit see the write.
		txs, err := tx.ListTransactions(ctx, "biz-1")
		require.NoError(t, err)
		assert.Len(t, txs, 1)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	txs, err := s.ListTransactions(ctx, "biz-1")
	require.NoError(t, err)
	assert.Empty(t, txs)
	entries, err := s.ListLedgerEntries(ctx, "biz-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSQLite_InvoiceUpsertKeepsItems(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedBusiness(t, s, "biz-1")

	now := time.Date(2025, time.March, 1, 9, 30, 0, 0, time.UTC)
	inv := ledger.Invoice{
		ID:         "inv-1",
		BusinessID: "biz-1",
		Number:     "INV-0001",
		Status:     ledger.StatusDraft,
		Customer:   ledger.Customer{Name: "Globex", Jurisdiction: "MH"},
		Items: []ledger.InvoiceItem{{
			Description: "Widget", Quantity: dec("2"), UnitPrice: dec("500"),
			CostPrice: dec("300"), TaxRate: dec("18"),
		}},
		Subtotal:    dec("1000"),
		TaxAmount:   dec("180"),
		TotalAmount: dec("1180"),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, s.SaveInvoice(ctx, inv))

	inv.Status = ledger.StatusIssued
	inv.IssueDate = now
	inv.IssueTransactionID = "tx-1"
	require.NoError(t, s.SaveInvoice(ctx, inv))

	got, err := s.GetInvoice(ctx, "biz-1", "inv-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ledger.StatusIssued, got.Status)
	assert.Equal(t, ledger.TransactionID("tx-1"), got.IssueTransactionID)
	assert.Equal(t, now, got.IssueDate)
	require.Len(t, got.Items, 1)
	assert.True(t, got.Items[0].CostPrice.Equal(dec("300")))
	assert.Equal(t, "MH", got.Customer.Jurisdiction)

	list, err := s.ListInvoices(ctx, "biz-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// Other tenants see nothing.
	other, err := s.GetInvoice(ctx, "biz-2", "inv-1")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestSQLite_DeletesAreScopedByBusiness(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seedBusiness(t, s, "biz-1")
	seedBusiness(t, s, "biz-2")

	day := time.Date(2025, time.April, 2, 0, 0, 0, 0, time.UTC)
	for _, biz := range []ledger.BusinessID{"biz-1", "biz-2"} {
		require.NoError(t, s.InsertGstRecords(ctx, []ledger.GstRecord{{
			ID: "gst-" + string(biz), BusinessID: biz, SourceType: ledger.SourceInvoice, SourceID: "inv-1",
			TaxType: ledger.IGSTPayable, Direction: ledger.DirectionOutward,
			TaxableValue: dec("1000"), Amount: dec("180"), RecordDate: day,
		}}))
	}

	// Deleting biz-2's id under biz-1 does nothing.
	require.NoError(t, s.DeleteGstRecords(ctx, "biz-1", []string{"gst-biz-2"}))
	recs, err := s.ListGstRecords(ctx, "biz-2", ledger.AllTime)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	require.NoError(t, s.DeleteGstRecords(ctx, "biz-1", []string{"gst-biz-1"}))
	recs, err = s.ListGstRecords(ctx, "biz-1", ledger.AllTime)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSQLite_ReconciliationRuns(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	base := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveReconciliationRun(ctx, ledger.ReconciliationRun{
			ID:                 "run-" + string(rune('a'+i)),
			BusinessID:         "biz-1",
			StartedAt:          base.Add(time.Duration(i) * time.Hour),
			CompletedAt:        base.Add(time.Duration(i)*time.Hour + time.Second),
			OrphanTransactions: i,
			Repaired:           i == 2,
		}))
	}

	runs, err := s.ListReconciliationRuns(ctx, "biz-1", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-c", runs[0].ID)
	assert.True(t, runs[0].Repaired)
	assert.Equal(t, 2, runs[0].OrphanTransactions)
	assert.Equal(t, "run-b", runs[1].ID)
}
