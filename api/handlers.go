/*
handlers.go - HTTP API handlers for the ledger

PURPOSE:
  Exposes the posting engine, the invoice lifecycle, reconciliation and
  reporting over REST. Handles HTTP request/response and JSON, and delegates
  everything else to the domain packages.

ENDPOINTS:
  Businesses:
    GET    /api/businesses                          List tenants
    POST   /api/businesses                          Create tenant
    GET    /api/businesses/{businessID}             Get tenant

  Invoices (under /api/businesses/{businessID}):
    GET    /invoices                                List
    POST   /invoices                                Create draft
    GET    /invoices/{id}                           Get
    PUT    /invoices/{id}                           Update draft
    DELETE /invoices/{id}                           Delete draft
    POST   /invoices/{id}/issue                     draft -> issued
    POST   /invoices/{id}/void                      issued -> cancelled (owner)
    POST   /invoices/{id}/purge                     Cascading delete (owner)

  Ledger (under /api/businesses/{businessID}):
    GET    /transactions                            List with entries
    POST   /transactions                            Manual journal entry
    GET    /transactions/{id}                       Get with entries
    POST   /transactions/{id}/reverse               Post the mirror image (manual journals only)

  Reports and reconciliation: see reports.go

CALLER IDENTITY:
  X-Actor-ID, X-Actor-Role (owner|admin|member) and X-Billing-Locked are set
  by the gateway in front of this service and taken as given.

ERROR HANDLING:
  Domain errors map to status codes in writeDomainError:
  - 400: ValidationError
  - 403: ForbiddenError
  - 404: NotFoundError
  - 409: ConflictError
  - 500: IntegrityError and everything else (logged)

SEE ALSO:
  - dto.go: Request/response data structures
  - reports.go: Reporting and reconciliation handlers
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/adnank79d/Wytis-sub002/invoice"
	"github.com/adnank79d/Wytis-sub002/ledger"
	"github.com/adnank79d/Wytis-sub002/reconcile"
	"github.com/adnank79d/Wytis-sub002/report"
	"github.com/adnank79d/Wytis-sub002/tax"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      ledger.TxStore
	Engine     *ledger.Engine
	Invoices   *invoice.Service
	Reconciler *reconcile.Service
	Reports    *report.Aggregator
	Logger     *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the domain services over one store. The reconciler is
// installed as the invoice service's post-delete check.
func NewHandler(store ledger.TxStore, runs ledger.RunStore, logger *zap.Logger, reconcileOpts ...reconcile.Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := ledger.NewEngine(store, ledger.WithLogger(logger.Named("ledger")))
	reconciler := reconcile.NewService(store, runs,
		append([]reconcile.Option{reconcile.WithLogger(logger.Named("reconcile"))}, reconcileOpts...)...)

	return &Handler{
		Store:  store,
		Engine: engine,
		Invoices: invoice.NewService(engine,
			invoice.WithLogger(logger.Named("invoice")),
			invoice.WithPostDeleteChecker(reconciler),
		),
		Reconciler: reconciler,
		Reports:    report.NewAggregator(store, report.WithLogger(logger.Named("report"))),
		Logger:     logger,
	}
}

// Health answers liveness probes.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// BUSINESS HANDLERS
// =============================================================================

func (h *Handler) ListBusinesses(w http.ResponseWriter, r *http.Request) {
	businesses, err := h.Store.ListBusinesses(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]BusinessDTO, len(businesses))
	for i, b := range businesses {
		dtos[i] = toBusinessDTO(b)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateBusiness(w http.ResponseWriter, r *http.Request) {
	var req CreateBusinessRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.writeDomainError(w, r, &ledger.ValidationError{Field: "name", Reason: "required"})
		return
	}
	if strings.TrimSpace(req.Jurisdiction) == "" {
		h.writeDomainError(w, r, &ledger.ValidationError{Field: "jurisdiction", Reason: "required"})
		return
	}

	id := req.ID
	if id == "" {
		id = h.Engine.NewID()
	}
	biz := ledger.Business{
		ID:           ledger.BusinessID(id),
		Name:         req.Name,
		Jurisdiction: strings.ToUpper(strings.TrimSpace(req.Jurisdiction)),
		TaxID:        req.TaxID,
		CreatedAt:    h.Engine.Now(),
	}
	if err := h.Store.CreateBusiness(r.Context(), biz); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBusinessDTO(biz))
}

func (h *Handler) GetBusiness(w http.ResponseWriter, r *http.Request) {
	id := businessID(r)
	biz, err := h.Store.GetBusiness(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if biz == nil {
		h.writeDomainError(w, r, &ledger.NotFoundError{Kind: "business", ID: string(id)})
		return
	}
	writeJSON(w, http.StatusOK, toBusinessDTO(*biz))
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	invs, err := h.Invoices.List(r.Context(), businessID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]InvoiceDTO, len(invs))
	for i, inv := range invs {
		dtos[i] = toInvoiceDTO(inv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req InvoiceRequest
	if !decode(w, r, &req) {
		return
	}
	draft, err := req.toDraft()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	inv, err := h.Invoices.Create(r.Context(), businessID(r), draft)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(*inv))
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Invoices.Get(r.Context(), businessID(r), invoiceID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	var req InvoiceRequest
	if !decode(w, r, &req) {
		return
	}
	draft, err := req.toDraft()
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	inv, err := h.Invoices.UpdateDraft(r.Context(), businessID(r), invoiceID(r), draft)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

func (h *Handler) IssueInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Invoices.Issue(r.Context(), callerFrom(r), businessID(r), invoiceID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

func (h *Handler) VoidInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Invoices.Void(r.Context(), callerFrom(r), businessID(r), invoiceID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv))
}

func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	res, err := h.Invoices.Delete(r.Context(), callerFrom(r), businessID(r), invoiceID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeleteResultDTO(res))
}

func (h *Handler) PurgeInvoice(w http.ResponseWriter, r *http.Request) {
	res, err := h.Invoices.Purge(r.Context(), callerFrom(r), businessID(r), invoiceID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDeleteResultDTO(res))
}

func toDeleteResultDTO(res invoice.DeleteResult) DeleteResultDTO {
	return DeleteResultDTO{
		InvoiceID:     string(res.InvoiceID),
		GstRecords:    res.GstRecords,
		LedgerEntries: res.LedgerEntries,
		Transactions:  res.Transactions,
	}
}

// QuoteTax prices items for the business without storing anything.
// POST /api/businesses/{businessID}/tax/quote
func (h *Handler) QuoteTax(w http.ResponseWriter, r *http.Request) {
	var req TaxQuoteRequest
	if !decode(w, r, &req) {
		return
	}
	id := businessID(r)
	biz, err := h.Store.GetBusiness(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if biz == nil {
		h.writeDomainError(w, r, &ledger.NotFoundError{Kind: "business", ID: string(id)})
		return
	}

	items := make([]ledger.InvoiceItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = ledger.InvoiceItem{Description: it.Description, Quantity: it.Quantity, UnitPrice: it.UnitPrice, CostPrice: it.CostPrice, TaxRate: it.TaxRate}
	}
	res, err := tax.Calculate(items, biz.Jurisdiction, req.CustomerJurisdiction)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dto := TaxQuoteDTO{
		Interstate: res.Interstate,
		Lines:      make([]TaxLineDTO, len(res.Lines)),
		Subtotal:   money(res.Subtotal),
		TaxAmount:  money(res.TaxAmount),
		Total:      money(res.Total),
		CostTotal:  money(res.CostTotal),
		ByAccount:  map[string]string{},
	}
	for i, l := range res.Lines {
		line := TaxLineDTO{LineTotal: money(l.LineTotal), Tax: money(l.Tax), Components: []TaxComponentDTO{}}
		for _, c := range l.Components {
			line.Components = append(line.Components, TaxComponentDTO{Account: string(c.Account), Rate: c.Rate.String(), Amount: money(c.Amount)})
		}
		dto.Lines[i] = line
	}
	for _, acct := range res.Accounts() {
		dto.ByAccount[string(acct)] = money(res.ByAccount[acct])
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := businessID(r)
	if _, err := ledger.RequireBusiness(ctx, h.Store, id); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	txs, err := h.Store.ListTransactions(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	entries, err := h.Store.ListLedgerEntries(ctx, id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	byTx := map[ledger.TransactionID][]ledger.LedgerEntry{}
	for _, e := range entries {
		byTx[e.TransactionID] = append(byTx[e.TransactionID], e)
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx, byTx[tx.ID])
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	biz, txID := businessID(r), ledger.TransactionID(chi.URLParam(r, "id"))
	tx, err := h.Store.GetTransaction(ctx, biz, txID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if tx == nil {
		h.writeDomainError(w, r, &ledger.NotFoundError{Kind: "transaction", ID: string(txID)})
		return
	}
	entries, err := h.Store.EntriesFor(ctx, biz, txID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(*tx, entries))
}

// PostJournal posts a manual, balanced journal entry.
func (h *Handler) PostJournal(w http.ResponseWriter, r *http.Request) {
	var req JournalRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	lines := make([]ledger.EntryLine, len(req.Entries))
	for i, e := range req.Entries {
		lines[i] = ledger.EntryLine{Account: ledger.Account(e.Account), Debit: e.Debit, Credit: e.Credit}
	}

	ctx := r.Context()
	biz := businessID(r)
	txID, err := h.Engine.Post(ctx, ledger.PostRequest{
		BusinessID:  biz,
		SourceType:  ledger.SourceManual,
		SourceID:    req.SourceID,
		Kind:        ledger.KindJournal,
		Description: req.Description,
		Date:        date,
		Entries:     lines,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeTransaction(w, r, biz, txID, http.StatusCreated)
}

func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	var req ReverseRequest
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	ctx := r.Context()
	biz, origID := businessID(r), ledger.TransactionID(chi.URLParam(r, "id"))
	orig, err := h.Store.GetTransaction(ctx, biz, origID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if orig == nil {
		h.writeDomainError(w, r, &ledger.NotFoundError{Kind: "transaction", ID: string(origID)})
		return
	}
	// Postings owned by another record are reversed through that record's
	// lifecycle (void for invoices), which also moves its status.
	if orig.SourceType != ledger.SourceManual {
		h.writeDomainError(w, r, &ledger.ValidationError{
			Field:  "id",
			Reason: fmt.Sprintf("transaction %s belongs to %s %s and cannot be reversed directly", origID, orig.SourceType, orig.SourceID),
		})
		return
	}

	txID, err := h.Engine.Reverse(ctx, biz, origID, ledger.ReverseOptions{
		Date:        date,
		Description: req.Description,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeTransaction(w, r, biz, txID, http.StatusCreated)
}

func (h *Handler) writeTransaction(w http.ResponseWriter, r *http.Request, biz ledger.BusinessID, id ledger.TransactionID, status int) {
	ctx := r.Context()
	tx, err := h.Store.GetTransaction(ctx, biz, id)
	if err != nil || tx == nil {
		writeJSON(w, status, map[string]string{"id": string(id)})
		return
	}
	entries, err := h.Store.EntriesFor(ctx, biz, id)
	if err != nil {
		h.Logger.Error("failed to load entries of committed transaction",
			zap.String("business_id", string(biz)),
			zap.String("transaction_id", string(id)),
			zap.Error(err),
		)
		writeJSON(w, status, map[string]string{"id": string(id)})
		return
	}
	writeJSON(w, status, toTransactionDTO(*tx, entries))
}

// ListAccounts returns the chart of accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := ledger.Accounts()
	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		info := a.Info()
		dtos[i] = AccountDTO{
			Account: string(a),
			Name:    info.Name,
			Class:   string(info.Class),
			Normal:  string(info.Normal),
			Tax:     info.Tax,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func businessID(r *http.Request) ledger.BusinessID {
	return ledger.BusinessID(chi.URLParam(r, "businessID"))
}

func invoiceID(r *http.Request) ledger.InvoiceID {
	return ledger.InvoiceID(chi.URLParam(r, "id"))
}

// callerFrom reads the gateway-supplied identity headers.
func callerFrom(r *http.Request) invoice.Caller {
	role := invoice.Role(strings.ToLower(r.Header.Get("X-Actor-Role")))
	if !role.Valid() {
		role = invoice.RoleMember
	}
	// An unreadable lock flag counts as locked.
	locked := false
	if v := r.Header.Get("X-Billing-Locked"); v != "" {
		parsed, err := strconv.ParseBool(v)
		locked = err != nil || parsed
	}
	return invoice.Caller{
		ActorID:       r.Header.Get("X-Actor-ID"),
		Role:          role,
		BillingLocked: locked,
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the error taxonomy to a status code.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, ledger.ErrForbidden):
		writeError(w, http.StatusForbidden, "Forbidden", err)
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, ledger.ErrConflict):
		writeError(w, http.StatusConflict, "Conflict", err)
	default:
		h.Logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
