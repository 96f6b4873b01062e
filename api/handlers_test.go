/*
handlers_test.go - HTTP tests for the API handlers

Drives the router end to end over the in-memory store:
- Invoice lifecycle and the status code of every error class
- Manual journals and reversals
- Reports and the GST export
- Reconciliation endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/adnank79d/Wytis-sub002/ledger"
	"github.com/adnank79d/Wytis-sub002/ledger/store"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	asOwner  = map[string]string{"X-Actor-ID": "u1", "X-Actor-Role": "owner"}
	asMember = map[string]string{"X-Actor-ID": "u2", "X-Actor-Role": "member"}
)

func newTestRouter(t *testing.T) (*chi.Mux, *Handler) {
	t.Helper()
	mem := store.NewMemory()
	h := NewHandler(mem, mem, nil)
	return NewRouter(h, RouterOptions{}), h
}

func do(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createBusiness(t *testing.T, router http.Handler, id string) {
	t.Helper()
	rec := do(t, router, "POST", "/api/businesses", CreateBusinessRequest{ID: id, Name: "Acme", Jurisdiction: "ka"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func invoiceBody(jurisdiction, cost string) map[string]any {
	return map[string]any{
		"customer": map[string]any{"name": "Globex", "tax_id": "29GLOBEX", "jurisdiction": jurisdiction},
		"items": []map[string]any{
			{"description": "Widget", "quantity": 1, "unit_price": "1000", "cost_price": cost, "tax_rate": 18},
		},
	}
}

func createInvoice(t *testing.T, router http.Handler, biz, jurisdiction, cost string) InvoiceDTO {
	t.Helper()
	rec := do(t, router, "POST", "/api/businesses/"+biz+"/invoices", invoiceBody(jurisdiction, cost), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[InvoiceDTO](t, rec)
}

// =============================================================================
// INFRASTRUCTURE
// =============================================================================

func TestHealthAndMetrics(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, "GET", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	do(t, router, "GET", "/api/accounts", nil, nil)
	rec = do(t, router, "GET", "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ledger_http_requests_total")
}

func TestBusiness_CreateAndGet(t *testing.T) {
	router, _ := newTestRouter(t)
	createBusiness(t, router, "biz-1")

	rec := do(t, router, "GET", "/api/businesses/biz-1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	biz := decodeBody[BusinessDTO](t, rec)
	assert.Equal(t, "KA", biz.Jurisdiction)

	rec = do(t, router, "POST", "/api/businesses", CreateBusinessRequest{Name: "No jurisdiction"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, "GET", "/api/businesses/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// INVOICE LIFECYCLE
// =============================================================================

func TestInvoice_Lifecycle(t *testing.T) {
	// GIVEN: A KA business and a 1000 @ 18% local draft with a 600 cost basis
	// WHEN: Issuing, re-issuing, and voiding through the API
	// THEN: Status codes follow the error taxonomy and the books net to zero

	router, _ := newTestRouter(t)
	createBusiness(t, router, "biz-1")
	inv := createInvoice(t, router, "biz-1", "KA", "600")
	assert.Equal(t, "draft", inv.Status)
	assert.Equal(t, "1180.00", inv.TotalAmount)

	base := "/api/businesses/biz-1/invoices/" + inv.ID

	rec := do(t, router, "POST", base+"/issue", nil, asMember)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	issued := decodeBody[InvoiceDTO](t, rec)
	assert.Equal(t, "issued", issued.Status)
	assert.NotEmpty(t, issued.IssueTransactionID)
	assert.NotEmpty(t, issued.CostTransactionID)

	rec = do(t, router, "POST", base+"/issue", nil, asOwner)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, "PUT", base, invoiceBody("KA", "0"), asOwner)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, "GET", "/api/businesses/biz-1/reports/summary", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decodeBody[SummaryDTO](t, rec)
	assert.Equal(t, "1000.00", summary.Revenue)
	assert.Equal(t, "400.00", summary.NetProfit)
	assert.Equal(t, "180.00", summary.TaxPayable)
	assert.Equal(t, "1180.00", summary.Receivables)

	rec = do(t, router, "POST", base+"/void", nil, asMember)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, "POST", base+"/void", nil, asOwner)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decodeBody[InvoiceDTO](t, rec).Status)

	rec = do(t, router, "GET", "/api/businesses/biz-1/reports/summary", nil, nil)
	summary = decodeBody[SummaryDTO](t, rec)
	assert.Equal(t, "0.00", summary.Revenue)
	assert.Equal(t, "0.00", summary.NetProfit)
	assert.Equal(t, "0.00", summary.Receivables)

	rec = do(t, router, "GET", "/api/businesses/biz-1/transactions", nil, nil)
	txs := decodeBody[[]TransactionDTO](t, rec)
	assert.Len(t, txs, 4)
}

func TestInvoice_BillingLocked(t *testing.T) {
	router, _ := newTestRouter(t)
	createBusiness(t, router, "biz-1")
	inv := createInvoice(t, router, "biz-1", "KA", "0")

	headers := map[string]string{"X-Actor-Role": "owner", "X-Billing-Locked": "true"}
	rec := do(t, router, "POST", "/api/businesses/biz-1/invoices/"+inv.ID+"/issue", nil, headers)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestInvoice_ValidationAndNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	createBusiness(t, router, "biz-1")

	body := invoiceBody("KA", "0")
	body["items"] = []map[string]any{{"quantity": -1, "unit_price": 10, "tax_rate": 18}}
	rec := do(t, router, "POST", "/api/businesses/biz-1/invoices", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody[ErrorResponse](t, rec).Details, "items[0].quantity")

	body = invoiceBody("KA", "0")
	body["issue_date"] = "10/03/2025"
	rec = do(t, router, "POST", "/api/businesses/biz-1/invoices", body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, "GET", "/api/businesses/biz-1/invoices/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, "POST", "/api/businesses/nope/invoices", invoiceBody("KA", "0"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := httptest.NewRequest("POST", "/api/businesses/biz-1/invoices", strings.NewReader("{"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInvoice_DeleteAndPurge(t *testing.T) {
	router, _ := newTestRouter(t)
	createBusiness(t, router, "biz-1")

	draft := createInvoice(t, router, "biz-1", "KA", "0")
	rec := do(t, router, "DELETE", "/api/businesses/biz-1/invoices/"+draft.ID, nil, asMember)
	require.Equal(t, http.StatusOK, rec.Code)

	inv := createInvoice(t, router, "biz-1", "MH", "600")
	base := "/api/businesses/biz-1/invoices/" + inv.ID
	require.Equal(t, http.StatusOK, do(t, router, "POST", base+"/issue", nil, asOwner).Code)

	rec = do(t, router, "DELETE", base, nil, asOwner)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, "POST", base+"/purge", nil, asMember)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, "POST", base+"/purge", nil, asOwner)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[DeleteResultDTO](t, rec)
	assert.Equal(t, 2, res.Transactions)
	assert.Equal(t, 5, res.LedgerEntries)
	assert.Equal(t, 1, res.GstRecords)

	rec = do(t, router, "GET", "/api/businesses/biz-1/reconciliation/orphans", nil, nil)
	orphans := decodeBody[OrphansDTO](t, rec)
	assert.Empty(t, orphans.Transactions)
	assert.Empty(t, orphans.LedgerEntries)
	assert.Empty(t, orphans.GstRecords)

	rec = do(t, router, "GET", "/api/businesses/biz-1/reconciliation/runs", nil, nil)
	runs := decodeBody[[]ReconciliationRunDTO](t, rec)
	require.Len(t, runs, 2, "one post-delete check per delete")
	assert.True(t, runs[0].Clean)
}

// =============================================================================
// LEDGER
// =============================================================================

func TestJournal_PostAndReverse(t *testing.T) {
	router, _ := newTestRouter(t)
	createBusiness(t, router, "biz-1")
	path := "/api/businesses/biz-1/transactions"

	rec := do(t, router, "POST", path, JournalRequest{
		SourceID: "rent-2025-03",
		Date:     "2025-03-01",
		Entries: []EntryLineRequest{
			{Account: "rent_expense", Debit: mustDecimal("250")},
			{Account: "bank", Credit: mustDecimal("250")},
		},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tx := decodeBody[TransactionDTO](t, rec)
	assert.Equal(t, "2025-03-01", tx.TransactionDate)
	assert.Len(t, tx.Entries, 2)

	rec = do(t, router, "POST", path+"/"+tx.ID+"/reverse", ReverseRequest{Date: "2025-03-31"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rev := decodeBody[TransactionDTO](t, rec)
	assert.Equal(t, tx.ID, rev.ReversalOf)
	assert.Equal(t, "2025-03-31", rev.TransactionDate)

	rec = do(t, router, "GET", "/api/businesses/biz-1/reports/balance?account=rent_expense&period=month&date=2025-03-15", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0.00", decodeBody[BalanceDTO](t, rec).Balance)

	rec = do(t, router, "GET", "/api/businesses/biz-1/reports/balance?account=rent_expense&to=2025-03-30", nil, nil)
	assert.Equal(t, "250.00", decodeBody[BalanceDTO](t, rec).Balance)
}

func TestJournal_Rejections(t *testing.T) {
	router, _ := newTestRouter(t)
	createBusiness(t, router, "biz-1")
	path := "/api/businesses/biz-1/transactions"

	rec := do(t, router, "POST", path, JournalRequest{
		SourceID: "bad",
		Entries: []EntryLineRequest{
			{Account: "cash", Debit: mustDecimal("10")},
			{Account: "capital", Credit: mustDecimal("9")},
		},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, "POST", path+"/missing/reverse", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, "GET", "/api/businesses/biz-1/reports/balance?account=petty_cash", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, "GET", "/api/businesses/biz-1/reports/summary?from=2025-03-10&to=2025-03-01", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// REPORTS
// =============================================================================

func TestReports_TrialBalanceAndGstExport(t *testing.T) {
	router, _ := newTestRouter(t)
	createBusiness(t, router, "biz-1")
	inv := createInvoice(t, router, "biz-1", "KA", "0")
	require.Equal(t, http.StatusOK, do(t, router, "POST", "/api/businesses/biz-1/invoices/"+inv.ID+"/issue", nil, asOwner).Code)

	rec := do(t, router, "GET", "/api/businesses/biz-1/reports/trial-balance", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tb := decodeBody[TrialBalanceDTO](t, rec)
	assert.True(t, tb.Balanced)
	assert.Equal(t, "1180.00", tb.TotalDebit)
	assert.Len(t, tb.Accounts, 4)

	rec = do(t, router, "GET", "/api/businesses/biz-1/reports/gst", nil, nil)
	rows := decodeBody[[]GstRowDTO](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, "1000.00", rows[0].TaxableValue)
	assert.Equal(t, "180.00", rows[0].TaxAmount)
	assert.Equal(t, "1180.00", rows[0].Total)

	rec = do(t, router, "GET", "/api/businesses/biz-1/reports/gst?format=csv", nil, nil)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Globex,29GLOBEX,outward,1000.00,90.00,90.00,0.00,180.00,1180.00")

	rec = do(t, router, "GET", "/api/businesses/biz-1/reports/compare?period=month", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeBody[ComparisonDTO](t, rec).Changes, "revenue")

	rec = do(t, router, "GET", "/api/businesses/biz-1/reports/compare", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTaxQuote(t *testing.T) {
	router, _ := newTestRouter(t)
	createBusiness(t, router, "biz-1")

	rec := do(t, router, "POST", "/api/businesses/biz-1/tax/quote", map[string]any{
		"customer_jurisdiction": "MH",
		"items":                 []map[string]any{{"quantity": 1, "unit_price": 1000, "tax_rate": 18}},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	quote := decodeBody[TaxQuoteDTO](t, rec)
	assert.True(t, quote.Interstate)
	assert.Equal(t, "180.00", quote.ByAccount["igst_payable"])
	assert.Equal(t, "1180.00", quote.Total)

	rec = do(t, router, "GET", "/api/businesses/biz-1/transactions", nil, nil)
	assert.Empty(t, decodeBody[[]TransactionDTO](t, rec), "quotes post nothing")
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestReconciliation_FindAndRepairDrift(t *testing.T) {
	// GIVEN: The orphan-drift scenario (one invoice row removed without cascade)
	// WHEN: Listing orphans, then repairing
	// THEN: The leftovers are reported, then removed, and the ledger verifies

	router, _ := newTestRouter(t)
	rec := do(t, router, "POST", "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "orphan-drift"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	biz := decodeBody[LoadScenarioResponse](t, rec).BusinessID
	base := "/api/businesses/" + biz + "/reconciliation"

	rec = do(t, router, "GET", base+"/orphans", nil, nil)
	orphans := decodeBody[OrphansDTO](t, rec)
	assert.Len(t, orphans.Transactions, 2)
	assert.Len(t, orphans.GstRecords, 1)

	rec = do(t, router, "POST", base+"/check", nil, nil)
	run := decodeBody[ReconciliationRunDTO](t, rec)
	assert.False(t, run.Clean)
	assert.False(t, run.Repaired)

	rec = do(t, router, "POST", base+"/repair", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	removed := decodeBody[OrphansDTO](t, rec)
	assert.Len(t, removed.LedgerEntries, 5)

	rec = do(t, router, "GET", base+"/verify", nil, nil)
	assert.True(t, decodeBody[BalanceCheckDTO](t, rec).Balanced)

	rec = do(t, router, "GET", base+"/runs?limit=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReverse_RefusesInvoicePostings(t *testing.T) {
	// GIVEN: An issued invoice with sale and cost-of-sale postings
	// WHEN: Reversing its postings directly, then voiding it
	// THEN: Direct reversal is refused and the void still nets every account to zero

	router, _ := newTestRouter(t)
	createBusiness(t, router, "biz-1")
	inv := createInvoice(t, router, "biz-1", "KA", "600")
	base := "/api/businesses/biz-1"

	rec := do(t, router, "POST", base+"/invoices/"+inv.ID+"/issue", nil, asOwner)
	require.Equal(t, http.StatusOK, rec.Code)
	issued := decodeBody[InvoiceDTO](t, rec)

	for _, txID := range []string{issued.IssueTransactionID, issued.CostTransactionID} {
		rec = do(t, router, "POST", base+"/transactions/"+txID+"/reverse", nil, asOwner)
		assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		assert.Contains(t, decodeBody[ErrorResponse](t, rec).Details, "invoice "+inv.ID)
	}
	assert.Len(t, decodeBody[[]TransactionDTO](t, do(t, router, "GET", base+"/transactions", nil, nil)), 2)

	rec = do(t, router, "POST", base+"/invoices/"+inv.ID+"/void", nil, asOwner)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, router, "GET", base+"/reports/trial-balance", nil, nil)
	for _, row := range decodeBody[TrialBalanceDTO](t, rec).Accounts {
		assert.Equal(t, "0.00", row.Balance, row.Account)
	}
}

func TestInvoice_UnreadableBillingLockCountsAsLocked(t *testing.T) {
	router, _ := newTestRouter(t)
	createBusiness(t, router, "biz-1")
	inv := createInvoice(t, router, "biz-1", "KA", "0")
	path := "/api/businesses/biz-1/invoices/" + inv.ID + "/issue"

	rec := do(t, router, "POST", path, nil, map[string]string{"X-Actor-Role": "owner", "X-Billing-Locked": "yes"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, "POST", path, nil, map[string]string{"X-Actor-Role": "owner", "X-Billing-Locked": "false"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownBusiness_ReadsAreNotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, path := range []string{
		"/api/businesses/ghost/invoices",
		"/api/businesses/ghost/transactions",
		"/api/businesses/ghost/reports/summary",
		"/api/businesses/ghost/reports/gst",
		"/api/businesses/ghost/reconciliation/orphans",
		"/api/businesses/ghost/reconciliation/runs",
	} {
		rec := do(t, router, "GET", path, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}

	rec := do(t, router, "POST", "/api/businesses/ghost/reconciliation/check", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// entriesDown fails entry lookups made outside a unit of work.
type entriesDown struct {
	*store.Memory
}

func (entriesDown) EntriesFor(context.Context, ledger.BusinessID, ledger.TransactionID) ([]ledger.LedgerEntry, error) {
	return nil, errors.New("entries unavailable")
}

func TestJournal_EntryLoadFailureIsLogged(t *testing.T) {
	// GIVEN a store whose entry lookups fail after the posting commits
	mem := store.NewMemory()
	core, logs := observer.New(zap.ErrorLevel)
	h := NewHandler(entriesDown{mem}, mem, zap.New(core))
	router := NewRouter(h, RouterOptions{})
	createBusiness(t, router, "biz-1")

	// WHEN a journal is posted
	rec := do(t, router, "POST", "/api/businesses/biz-1/transactions", JournalRequest{
		SourceID: "rent-2025-03",
		Date:     "2025-03-01",
		Entries: []EntryLineRequest{
			{Account: "rent_expense", Debit: mustDecimal("250")},
			{Account: "bank", Credit: mustDecimal("250")},
		},
	}, nil)

	// THEN the posting is still reported as created with its id only
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody[map[string]any](t, rec)
	assert.NotEmpty(t, body["id"])
	assert.NotContains(t, body, "entries")

	// AND the lookup failure is logged against the transaction
	entries := logs.FilterMessage("failed to load entries of committed transaction").All()
	require.Len(t, entries, 1)
	assert.Equal(t, body["id"], entries[0].ContextMap()["transaction_id"])

	// AND the transaction was committed
	txs, err := mem.ListTransactions(context.Background(), "biz-1")
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}
