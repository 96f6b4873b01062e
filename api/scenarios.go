/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates a fresh business with invoices that demonstrate the posting
	rules. Every load creates a new tenant, so scenarios never touch
	existing data.

AVAILABLE SCENARIOS:

	local-sale:    1000 at 18% within the home jurisdiction (CGST + SGST)
	interstate:    The same sale to another jurisdiction (IGST)
	cost-of-sale:  Local sale with a 600 cost basis (net profit 400)
	void:          Cost-of-sale invoice, then voided (everything nets to zero)
	orphan-drift:  Issued invoice whose row disappears without the cascade,
	               for trying out reconciliation

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "cost-of-sale"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Add a loader to 'scenarioLoaders'

SEE ALSO:
  - handlers.go: Handler wiring
*/
package api

import (
	"context"
	"net/http"

	"github.com/adnank79d/Wytis-sub002/invoice"
	"github.com/adnank79d/Wytis-sub002/ledger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "local-sale",
		Name:        "Local Sale",
		Description: "Subtotal 1000 at 18% to a customer in the home jurisdiction: CGST 90 + SGST 90",
	},
	{
		ID:          "interstate",
		Name:        "Interstate Sale",
		Description: "Subtotal 1000 at 18% to a customer in another jurisdiction: IGST 180",
	},
	{
		ID:          "cost-of-sale",
		Name:        "Cost of Sale",
		Description: "Local sale with a 600 cost basis, posted as a separate COGS/Inventory transaction",
	},
	{
		ID:          "void",
		Name:        "Voided Invoice",
		Description: "Cost-of-sale invoice voided by the owner: every balance returns to zero",
	},
	{
		ID:          "orphan-drift",
		Name:        "Orphan Drift",
		Description: "Issued invoice whose row was removed without the cascade; reconciliation finds the leftovers",
	},
}

type scenarioLoader func(ctx context.Context, h *Handler, biz ledger.BusinessID) ([]ledger.Invoice, error)

var scenarioLoaders = map[string]scenarioLoader{
	"local-sale":   loadLocalSale,
	"interstate":   loadInterstate,
	"cost-of-sale": loadCostOfSale,
	"void":         loadVoid,
	"orphan-drift": loadOrphanDrift,
}

var scenarioOwner = invoice.Caller{ActorID: "demo-owner", Role: invoice.RoleOwner}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the most recently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario creates a new demo business and runs the scenario in it.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	load, ok := scenarioLoaders[req.ScenarioID]
	if !ok {
		h.writeDomainError(w, r, &ledger.NotFoundError{Kind: "scenario", ID: req.ScenarioID})
		return
	}

	ctx := r.Context()
	id := h.Engine.NewID()
	if len(id) > 8 {
		id = id[:8]
	}
	biz := ledger.Business{
		ID:           ledger.BusinessID("demo-" + req.ScenarioID + "-" + id),
		Name:         "Demo: " + req.ScenarioID,
		Jurisdiction: "KA",
		TaxID:        "29DEMO0000A1Z5",
		CreatedAt:    h.Engine.Now(),
	}
	if err := h.Store.CreateBusiness(ctx, biz); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	invs, err := load(ctx, h, biz.ID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	summary, err := h.Reports.Summary(ctx, biz.ID, ledger.AllTime)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.Logger.Info("scenario loaded",
		zap.String("scenario_id", req.ScenarioID),
		zap.String("business_id", string(biz.ID)),
	)

	resp := LoadScenarioResponse{
		ScenarioID: req.ScenarioID,
		BusinessID: string(biz.ID),
		Invoices:   make([]InvoiceDTO, len(invs)),
		Summary:    toSummaryDTO(summary),
	}
	for i, inv := range invs {
		resp.Invoices[i] = toInvoiceDTO(inv)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// =============================================================================
// LOADERS
// =============================================================================

func demoDraft(jurisdiction string, cost int64) invoice.Draft {
	return invoice.Draft{
		Customer: ledger.Customer{Name: "Globex Traders", TaxID: "29GLOBX1234F1Z5", Jurisdiction: jurisdiction},
		Items: []ledger.InvoiceItem{{
			Description: "Consulting",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.NewFromInt(1000),
			CostPrice:   decimal.NewFromInt(cost),
			TaxRate:     decimal.NewFromInt(18),
		}},
	}
}

func createAndIssue(ctx context.Context, h *Handler, biz ledger.BusinessID, d invoice.Draft) (*ledger.Invoice, error) {
	inv, err := h.Invoices.Create(ctx, biz, d)
	if err != nil {
		return nil, err
	}
	return h.Invoices.Issue(ctx, scenarioOwner, biz, inv.ID)
}

func loadLocalSale(ctx context.Context, h *Handler, biz ledger.BusinessID) ([]ledger.Invoice, error) {
	inv, err := createAndIssue(ctx, h, biz, demoDraft("KA", 0))
	if err != nil {
		return nil, err
	}
	return []ledger.Invoice{*inv}, nil
}

func loadInterstate(ctx context.Context, h *Handler, biz ledger.BusinessID) ([]ledger.Invoice, error) {
	inv, err := createAndIssue(ctx, h, biz, demoDraft("MH", 0))
	if err != nil {
		return nil, err
	}
	return []ledger.Invoice{*inv}, nil
}

func loadCostOfSale(ctx context.Context, h *Handler, biz ledger.BusinessID) ([]ledger.Invoice, error) {
	inv, err := createAndIssue(ctx, h, biz, demoDraft("KA", 600))
	if err != nil {
		return nil, err
	}
	return []ledger.Invoice{*inv}, nil
}

func loadVoid(ctx context.Context, h *Handler, biz ledger.BusinessID) ([]ledger.Invoice, error) {
	inv, err := createAndIssue(ctx, h, biz, demoDraft("KA", 600))
	if err != nil {
		return nil, err
	}
	voided, err := h.Invoices.Void(ctx, scenarioOwner, biz, inv.ID)
	if err != nil {
		return nil, err
	}
	return []ledger.Invoice{*voided}, nil
}

// loadOrphanDrift removes the invoice row directly, the way the ad hoc
// deletes that reconciliation exists for used to.
func loadOrphanDrift(ctx context.Context, h *Handler, biz ledger.BusinessID) ([]ledger.Invoice, error) {
	kept, err := createAndIssue(ctx, h, biz, demoDraft("KA", 0))
	if err != nil {
		return nil, err
	}
	lost, err := createAndIssue(ctx, h, biz, demoDraft("MH", 600))
	if err != nil {
		return nil, err
	}
	if err := h.Store.DeleteInvoice(ctx, biz, lost.ID); err != nil {
		return nil, err
	}
	return []ledger.Invoice{*kept}, nil
}
