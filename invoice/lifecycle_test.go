package invoice_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/adnank79d/Wytis-sub002/invoice"
	"github.com/adnank79d/Wytis-sub002/ledger"
	"github.com/adnank79d/Wytis-sub002/ledger/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const biz ledger.BusinessID = "biz-ka"

var (
	ctx     = context.Background()
	march10 = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)
	owner   = invoice.Caller{ActorID: "u-owner", Role: invoice.RoleOwner}
	member  = invoice.Caller{ActorID: "u-member", Role: invoice.RoleMember}
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordingChecker struct {
	mu    sync.Mutex
	calls []ledger.BusinessID
	err   error
}

func (c *recordingChecker) AfterDelete(_ context.Context, id ledger.BusinessID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, id)
	return c.err
}

func newService(t *testing.T, opts ...invoice.Option) (*invoice.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	require.NoError(t, mem.CreateBusiness(ctx, ledger.Business{ID: biz, Name: "Acme", Jurisdiction: "KA"}))

	var mu sync.Mutex
	seq := 0
	engine := ledger.NewEngine(mem,
		ledger.WithClock(func() time.Time { return march10 }),
		ledger.WithIDGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("id-%03d", seq)
		}),
	)
	return invoice.NewService(engine, opts...), mem
}

func draft(jurisdiction string, items ...ledger.InvoiceItem) invoice.Draft {
	return invoice.Draft{
		Customer: ledger.Customer{Name: "Globex", TaxID: "29ABCDE1234F1Z5", Jurisdiction: jurisdiction},
		Items:    items,
	}
}

func line(qty, price, cost, rate string) ledger.InvoiceItem {
	return ledger.InvoiceItem{Description: "widget", Quantity: d(qty), UnitPrice: d(price), CostPrice: d(cost), TaxRate: d(rate)}
}

// balances nets debit minus credit per account over every posted entry.
func balances(t *testing.T, mem *store.Memory) map[ledger.Account]decimal.Decimal {
	t.Helper()
	entries, err := mem.ListPostedEntries(ctx, biz, ledger.AllTime)
	require.NoError(t, err)
	out := map[ledger.Account]decimal.Decimal{}
	for _, e := range entries {
		out[e.Account] = out[e.Account].Add(e.Debit).Sub(e.Credit)
	}
	return out
}

func assertAmount(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, got.Equal(d(want)), "%s: want %s, got %s", msg, want, got)
}

func rowCounts(t *testing.T, mem *store.Memory) (txs, entries, gst int) {
	t.Helper()
	tl, err := mem.ListTransactions(ctx, biz)
	require.NoError(t, err)
	el, err := mem.ListLedgerEntries(ctx, biz)
	require.NoError(t, err)
	gl, err := mem.ListGstRecords(ctx, biz, ledger.AllTime)
	require.NoError(t, err)
	return len(tl), len(el), len(gl)
}

// =============================================================================
// CREATE / UPDATE
// =============================================================================

func TestCreate_StoresDraftWithTotals(t *testing.T) {
	svc, mem := newService(t)

	inv, err := svc.Create(ctx, biz, draft("KA", line("1", "1000", "0", "18")))
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusDraft, inv.Status)
	assert.Equal(t, "INV-00001", inv.Number)
	assertAmount(t, "1180", inv.TotalAmount, "total")

	txs, entries, gst := rowCounts(t, mem)
	assert.Zero(t, txs+entries+gst, "drafts post nothing")
}

func TestCreate_UnknownBusiness(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Create(ctx, "nope", draft("KA"))
	assert.True(t, ledger.IsNotFound(err))
}

func TestList_UnknownBusiness(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.List(ctx, "nope")
	assert.True(t, ledger.IsNotFound(err))
}

func TestUpdateDraft_RejectsIssuedInvoice(t *testing.T) {
	svc, _ := newService(t)
	inv, err := svc.Create(ctx, biz, draft("KA", line("1", "100", "0", "5")))
	require.NoError(t, err)

	updated, err := svc.UpdateDraft(ctx, biz, inv.ID, draft("KA", line("2", "100", "0", "5")))
	require.NoError(t, err)
	assertAmount(t, "210", updated.TotalAmount, "updated total")

	_, err = svc.Issue(ctx, owner, biz, inv.ID)
	require.NoError(t, err)

	_, err = svc.UpdateDraft(ctx, biz, inv.ID, draft("KA", line("3", "100", "0", "5")))
	var conflict *ledger.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "update", conflict.Op)
	assert.Equal(t, ledger.StatusIssued, conflict.Status)
}

// =============================================================================
// ISSUE
// =============================================================================

func TestIssue_LocalSale(t *testing.T) {
	// GIVEN: A KA business, a KA customer, one line of 1000 at 18%
	// WHEN: Issuing
	// THEN: AR +1180, Sales +1000, CGST +90, SGST +90 and two outward GST rows

	svc, mem := newService(t)
	inv, err := svc.Create(ctx, biz, draft("KA", line("1", "1000", "0", "18")))
	require.NoError(t, err)

	issued, err := svc.Issue(ctx, owner, biz, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusIssued, issued.Status)
	assert.NotEmpty(t, issued.IssueTransactionID)
	assert.Empty(t, issued.CostTransactionID)
	assert.True(t, issued.IssueDate.Equal(march10))

	bal := balances(t, mem)
	assertAmount(t, "1180", bal[ledger.AccountsReceivable], "AR")
	assertAmount(t, "-1000", bal[ledger.Sales], "sales")
	assertAmount(t, "-90", bal[ledger.CGSTPayable], "cgst")
	assertAmount(t, "-90", bal[ledger.SGSTPayable], "sgst")
	assert.True(t, bal[ledger.IGSTPayable].IsZero())

	gst, err := mem.ListGstRecords(ctx, biz, ledger.AllTime)
	require.NoError(t, err)
	require.Len(t, gst, 2)
	for _, r := range gst {
		assert.Equal(t, ledger.DirectionOutward, r.Direction)
		assert.Equal(t, issued.IssueTransactionID, r.TransactionID)
		assert.Equal(t, string(inv.ID), r.SourceID)
		assertAmount(t, "90", r.Amount, string(r.TaxType))
		assertAmount(t, "1000", r.TaxableValue, "taxable")
		assert.Equal(t, "Globex", r.PartyName)
	}
}

func TestIssue_InterstateSale(t *testing.T) {
	svc, mem := newService(t)
	inv, err := svc.Create(ctx, biz, draft("MH", line("1", "1000", "0", "18")))
	require.NoError(t, err)

	_, err = svc.Issue(ctx, owner, biz, inv.ID)
	require.NoError(t, err)

	bal := balances(t, mem)
	assertAmount(t, "-180", bal[ledger.IGSTPayable], "igst")
	assert.True(t, bal[ledger.CGSTPayable].IsZero())
	assert.True(t, bal[ledger.SGSTPayable].IsZero())

	gst, _ := mem.ListGstRecords(ctx, biz, ledger.AllTime)
	require.Len(t, gst, 1)
	assert.Equal(t, ledger.IGSTPayable, gst[0].TaxType)
}

func TestIssue_PostsCostOfSale(t *testing.T) {
	// GIVEN: 2 units at 500 with a cost basis of 300 each
	// WHEN: Issuing
	// THEN: A separate cost posting moves 600 from Inventory to COGS

	svc, mem := newService(t)
	inv, err := svc.Create(ctx, biz, draft("KA", line("2", "500", "300", "18")))
	require.NoError(t, err)

	issued, err := svc.Issue(ctx, owner, biz, inv.ID)
	require.NoError(t, err)
	require.NotEmpty(t, issued.CostTransactionID)

	bal := balances(t, mem)
	assertAmount(t, "600", bal[ledger.CostOfGoodsSold], "cogs")
	assertAmount(t, "-600", bal[ledger.Inventory], "inventory")

	cost, err := mem.GetTransaction(ctx, biz, issued.CostTransactionID)
	require.NoError(t, err)
	assert.Equal(t, ledger.KindCostOfSale, cost.Kind)
	assert.Equal(t, string(inv.ID), cost.SourceID)
}

func TestIssue_TwiceIsConflictAndPostsNothing(t *testing.T) {
	svc, mem := newService(t)
	inv, err := svc.Create(ctx, biz, draft("KA", line("1", "1000", "0", "18")))
	require.NoError(t, err)
	_, err = svc.Issue(ctx, owner, biz, inv.ID)
	require.NoError(t, err)
	txBefore, entriesBefore, gstBefore := rowCounts(t, mem)

	_, err = svc.Issue(ctx, owner, biz, inv.ID)
	require.Error(t, err)
	assert.True(t, ledger.IsConflict(err))

	txAfter, entriesAfter, gstAfter := rowCounts(t, mem)
	assert.Equal(t, txBefore, txAfter)
	assert.Equal(t, entriesBefore, entriesAfter)
	assert.Equal(t, gstBefore, gstAfter)
}

func TestIssue_ConcurrentIssuesPostOnce(t *testing.T) {
	svc, mem := newService(t)
	inv, err := svc.Create(ctx, biz, draft("KA", line("1", "1000", "0", "18")))
	require.NoError(t, err)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Issue(ctx, owner, biz, inv.ID)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, ledger.IsConflict(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, ok)

	txs, _, _ := rowCounts(t, mem)
	assert.Equal(t, 1, txs)
}

func TestIssue_BillingLockedIsForbidden(t *testing.T) {
	svc, mem := newService(t)
	inv, err := svc.Create(ctx, biz, draft("KA", line("1", "1000", "0", "18")))
	require.NoError(t, err)

	locked := owner
	locked.BillingLocked = true
	_, err = svc.Issue(ctx, locked, biz, inv.ID)
	assert.True(t, ledger.IsForbidden(err))

	got, err := svc.Get(ctx, biz, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDraft, got.Status)
	txs, _, _ := rowCounts(t, mem)
	assert.Zero(t, txs)
}

func TestIssue_ZeroTotalRejected(t *testing.T) {
	svc, _ := newService(t)
	inv, err := svc.Create(ctx, biz, draft("KA"))
	require.NoError(t, err)

	_, err = svc.Issue(ctx, owner, biz, inv.ID)
	assert.True(t, errors.Is(err, ledger.ErrValidation))
}

func TestIssue_UsesDraftIssueDate(t *testing.T) {
	svc, mem := newService(t)
	feb := time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC)
	dr := draft("KA", line("1", "100", "0", "18"))
	dr.IssueDate = feb
	inv, err := svc.Create(ctx, biz, dr)
	require.NoError(t, err)

	issued, err := svc.Issue(ctx, owner, biz, inv.ID)
	require.NoError(t, err)

	tx, err := mem.GetTransaction(ctx, biz, issued.IssueTransactionID)
	require.NoError(t, err)
	assert.True(t, tx.TransactionDate.Equal(feb))
}

func TestIssue_MissingInvoice(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Issue(ctx, owner, biz, "missing")
	assert.True(t, ledger.IsNotFound(err))
}

// =============================================================================
// VOID
// =============================================================================

func TestVoid_NetsEveryAccountToZero(t *testing.T) {
	// GIVEN: An issued invoice with tax and cost
	// WHEN: The owner voids it
	// THEN: Every account nets to zero and the GST rows cancel out

	svc, mem := newService(t)
	inv, err := svc.Create(ctx, biz, draft("KA", line("2", "500", "300", "18")))
	require.NoError(t, err)
	_, err = svc.Issue(ctx, owner, biz, inv.ID)
	require.NoError(t, err)

	voided, err := svc.Void(ctx, owner, biz, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCancelled, voided.Status)
	assert.NotEmpty(t, voided.VoidTransactionID)
	assert.NotEmpty(t, voided.VoidCostTransactionID)

	for acct, bal := range balances(t, mem) {
		assert.True(t, bal.IsZero(), "%s nets to %s", acct, bal)
	}

	gst, err := mem.ListGstRecords(ctx, biz, ledger.AllTime)
	require.NoError(t, err)
	require.Len(t, gst, 4)
	net := decimal.Zero
	for _, r := range gst {
		net = net.Add(r.Amount)
	}
	assert.True(t, net.IsZero())

	// Originals are kept.
	txs, _, _ := rowCounts(t, mem)
	assert.Equal(t, 4, txs)
	rev, err := mem.GetTransaction(ctx, biz, voided.VoidTransactionID)
	require.NoError(t, err)
	assert.Equal(t, voided.IssueTransactionID, rev.ReversalOf)
}

func TestVoid_RequiresOwner(t *testing.T) {
	svc, _ := newService(t)
	inv, err := svc.Create(ctx, biz, draft("KA", line("1", "100", "0", "18")))
	require.NoError(t, err)
	_, err = svc.Issue(ctx, member, biz, inv.ID)
	require.NoError(t, err)

	_, err = svc.Void(ctx, member, biz, inv.ID)
	assert.True(t, ledger.IsForbidden(err))
}

func TestVoid_OnlyIssued(t *testing.T) {
	svc, _ := newService(t)
	inv, err := svc.Create(ctx, biz, draft("KA", line("1", "100", "0", "18")))
	require.NoError(t, err)

	_, err = svc.Void(ctx, owner, biz, inv.ID)
	assert.True(t, ledger.IsConflict(err), "draft")

	_, err = svc.Issue(ctx, owner, biz, inv.ID)
	require.NoError(t, err)
	_, err = svc.Void(ctx, owner, biz, inv.ID)
	require.NoError(t, err)

	_, err = svc.Void(ctx, owner, biz, inv.ID)
	assert.True(t, ledger.IsConflict(err), "cancelled")
}

func TestVoid_MissingIssuePostingRollsBack(t *testing.T) {
	// GIVEN: An issued invoice whose sale transaction was removed behind our back
	// WHEN: Voiding
	// THEN: NotFound, and the invoice stays issued

	svc, mem := newService(t)
	inv, err := svc.Create(ctx, biz, draft("KA", line("1", "100", "0", "18")))
	require.NoError(t, err)
	issued, err := svc.Issue(ctx, owner, biz, inv.ID)
	require.NoError(t, err)
	require.NoError(t, mem.DeleteTransactions(ctx, biz, []ledger.TransactionID{issued.IssueTransactionID}))

	_, err = svc.Void(ctx, owner, biz, inv.ID)
	assert.True(t, ledger.IsNotFound(err))

	got, err := svc.Get(ctx, biz, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusIssued, got.Status)
}

// =============================================================================
// DELETE / PURGE
// =============================================================================

func TestDelete_DraftOnly(t *testing.T) {
	checker := &recordingChecker{}
	svc, _ := newService(t, invoice.WithPostDeleteChecker(checker))

	dr, err := svc.Create(ctx, biz, draft("KA", line("1", "100", "0", "18")))
	require.NoError(t, err)
	_, err = svc.Delete(ctx, member, biz, dr.ID)
	require.NoError(t, err)
	_, err = svc.Get(ctx, biz, dr.ID)
	assert.True(t, ledger.IsNotFound(err))

	issued, err := svc.Create(ctx, biz, draft("KA", line("1", "100", "0", "18")))
	require.NoError(t, err)
	_, err = svc.Issue(ctx, owner, biz, issued.ID)
	require.NoError(t, err)
	_, err = svc.Delete(ctx, owner, biz, issued.ID)
	assert.True(t, ledger.IsConflict(err))

	assert.Equal(t, []ledger.BusinessID{biz}, checker.calls)
}

func TestPurge_CascadesAndLeavesNoOrphans(t *testing.T) {
	// GIVEN: One voided invoice (4 transactions, GST rows) and one issued invoice
	// WHEN: Purging the voided one
	// THEN: Only rows linked to it are gone, and every remaining row has a parent

	checker := &recordingChecker{}
	svc, mem := newService(t, invoice.WithPostDeleteChecker(checker))

	gone, err := svc.Create(ctx, biz, draft("KA", line("2", "500", "300", "18")))
	require.NoError(t, err)
	_, err = svc.Issue(ctx, owner, biz, gone.ID)
	require.NoError(t, err)
	_, err = svc.Void(ctx, owner, biz, gone.ID)
	require.NoError(t, err)

	kept, err := svc.Create(ctx, biz, draft("MH", line("1", "100", "0", "18")))
	require.NoError(t, err)
	_, err = svc.Issue(ctx, owner, biz, kept.ID)
	require.NoError(t, err)

	res, err := svc.Purge(ctx, owner, biz, gone.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Transactions)
	assert.Equal(t, 12, res.LedgerEntries) // 4 sale + 2 cost, each reversed
	assert.Equal(t, 4, res.GstRecords)

	txs, err := mem.ListTransactions(ctx, biz)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, string(kept.ID), txs[0].SourceID)

	entries, _ := mem.ListLedgerEntries(ctx, biz)
	for _, e := range entries {
		assert.Equal(t, txs[0].ID, e.TransactionID, "entry %s has no parent", e.ID)
	}
	gst, _ := mem.ListGstRecords(ctx, biz, ledger.AllTime)
	for _, r := range gst {
		assert.Equal(t, string(kept.ID), r.SourceID)
	}

	_, err = svc.Get(ctx, biz, gone.ID)
	assert.True(t, ledger.IsNotFound(err))
	assert.Len(t, checker.calls, 1)
}

func TestPurge_RequiresOwner(t *testing.T) {
	svc, _ := newService(t)
	inv, err := svc.Create(ctx, biz, draft("KA", line("1", "100", "0", "18")))
	require.NoError(t, err)

	_, err = svc.Purge(ctx, member, biz, inv.ID)
	assert.True(t, ledger.IsForbidden(err))
}

func TestPurge_CheckerFailureDoesNotUndoDelete(t *testing.T) {
	checker := &recordingChecker{err: errors.New("orphans found")}
	svc, _ := newService(t, invoice.WithPostDeleteChecker(checker))
	inv, err := svc.Create(ctx, biz, draft("KA", line("1", "100", "0", "18")))
	require.NoError(t, err)

	_, err = svc.Purge(ctx, owner, biz, inv.ID)
	require.NoError(t, err)
	_, err = svc.Get(ctx, biz, inv.ID)
	assert.True(t, ledger.IsNotFound(err))
}
