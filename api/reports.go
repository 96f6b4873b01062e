package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/adnank79d/Wytis-sub002/ledger"
	"github.com/adnank79d/Wytis-sub002/report"
	"go.uber.org/zap"
)

// =============================================================================
// REPORT HANDLERS
//
//   GET /reports/balance?account=sales    Single account
//   GET /reports/trial-balance            Every account with activity
//   GET /reports/summary                  Revenue, profit, receivables, ...
//   GET /reports/compare                  Period over previous period
//   GET /reports/gst[?format=csv]         Tax-filing export
//
// Period query parameters, in order of precedence:
//   period=month|quarter|calendar_year|fiscal_year&date=YYYY-MM-DD[&fiscal_start=4]
//   from=YYYY-MM-DD&to=YYYY-MM-DD   (either side optional)
//   as_of=YYYY-MM-DD
//   nothing: all time
// =============================================================================

func (h *Handler) GetAccountBalance(w http.ResponseWriter, r *http.Request) {
	account, err := ledger.ParseAccount(r.URL.Query().Get("account"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	period, err := periodFrom(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	bal, err := h.Reports.Balance(r.Context(), businessID(r), account, period)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{Account: string(account), Period: toPeriodDTO(period), Balance: money(bal)})
}

func (h *Handler) GetTrialBalance(w http.ResponseWriter, r *http.Request) {
	period, err := periodFrom(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	tb, err := h.Reports.TrialBalance(r.Context(), businessID(r), period)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dto := TrialBalanceDTO{
		Period:      toPeriodDTO(period),
		Accounts:    make([]TrialBalanceRowDTO, len(tb.Accounts)),
		TotalDebit:  money(tb.TotalDebit),
		TotalCredit: money(tb.TotalCredit),
		Balanced:    tb.Balanced(),
	}
	for i, row := range tb.Accounts {
		dto.Accounts[i] = TrialBalanceRowDTO{
			Account: string(row.Account),
			Name:    row.Name,
			Class:   string(row.Class),
			Debit:   money(row.Debit),
			Credit:  money(row.Credit),
			Balance: money(row.Balance),
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	period, err := periodFrom(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	s, err := h.Reports.Summary(r.Context(), businessID(r), period)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(s))
}

// CompareSummaries compares the requested period with the one before it.
func (h *Handler) CompareSummaries(w http.ResponseWriter, r *http.Request) {
	period, err := periodFrom(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if period.Start.IsZero() || period.End.IsZero() {
		h.writeDomainError(w, r, &ledger.ValidationError{Field: "period", Reason: "comparison needs a bounded period"})
		return
	}
	cmp, err := h.Reports.Compare(r.Context(), businessID(r), period, ledger.Period{})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	dto := ComparisonDTO{
		Current:  toSummaryDTO(cmp.Current),
		Previous: toSummaryDTO(cmp.Previous),
		Changes:  make(map[string]ChangeDTO, len(cmp.Changes)),
	}
	for name, c := range cmp.Changes {
		change := ChangeDTO{Current: money(c.Current), Previous: money(c.Previous), Delta: money(c.Delta)}
		if c.Percent != nil {
			pct := money(*c.Percent)
			change.Percent = &pct
		}
		dto.Changes[name] = change
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) ExportGst(w http.ResponseWriter, r *http.Request) {
	period, err := periodFrom(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	rows, err := h.Reports.GstExport(r.Context(), businessID(r), period)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="gst-`+string(businessID(r))+`.csv"`)
		if err := report.WriteGstCSV(w, rows); err != nil {
			h.Logger.Error("gst csv export failed", zap.Error(err))
		}
		return
	}

	dtos := make([]GstRowDTO, len(rows))
	for i, row := range rows {
		dtos[i] = GstRowDTO{
			Date:         formatDate(row.Date),
			PartyName:    row.PartyName,
			TaxID:        row.PartyTaxID,
			Direction:    string(row.Direction),
			TaxableValue: money(row.TaxableValue),
			TaxAmount:    money(row.TaxAmount),
			Total:        money(row.Total),
			SourceType:   string(row.SourceType),
			SourceID:     row.SourceID,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func periodFrom(r *http.Request) (ledger.Period, error) {
	q := r.URL.Query()

	if pt := q.Get("period"); pt != "" {
		date := time.Now().UTC()
		if s := q.Get("date"); s != "" {
			d, err := parseDate("date", s)
			if err != nil {
				return ledger.Period{}, err
			}
			date = d
		}
		fiscalStart := time.April
		if s := q.Get("fiscal_start"); s != "" {
			m, err := strconv.Atoi(s)
			if err != nil || m < 1 || m > 12 {
				return ledger.Period{}, &ledger.ValidationError{Field: "fiscal_start", Reason: "expected a month number 1-12"}
			}
			fiscalStart = time.Month(m)
		}
		return ledger.PeriodFor(ledger.PeriodType(pt), date, fiscalStart)
	}

	if s := q.Get("as_of"); s != "" {
		d, err := parseDate("as_of", s)
		if err != nil {
			return ledger.Period{}, err
		}
		return ledger.AsOf(d), nil
	}

	from, err := parseDate("from", q.Get("from"))
	if err != nil {
		return ledger.Period{}, err
	}
	to, err := parseDate("to", q.Get("to"))
	if err != nil {
		return ledger.Period{}, err
	}
	p := ledger.Between(from, to)
	return p, p.Validate()
}

// =============================================================================
// RECONCILIATION HANDLERS
// =============================================================================

func (h *Handler) FindOrphans(w http.ResponseWriter, r *http.Request) {
	orphans, err := h.Reconciler.FindOrphans(r.Context(), businessID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrphansDTO(orphans))
}

func (h *Handler) RepairOrphans(w http.ResponseWriter, r *http.Request) {
	removed, err := h.Reconciler.Repair(r.Context(), businessID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrphansDTO(removed))
}

// VerifyBalance reports unbalanced transactions. Problems are data, not a
// failed request, so they come back with 200.
func (h *Handler) VerifyBalance(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Reconciler.VerifyBalance(r.Context(), businessID(r))
	if err != nil && !ledger.IsIntegrity(err) {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceCheckDTO{
		Balanced:     rep.Balanced(),
		Transactions: rep.Transactions,
		TotalDebit:   money(rep.TotalDebit),
		TotalCredit:  money(rep.TotalCredit),
		Problems:     rep.Problems(),
	})
}

func (h *Handler) RunCheck(w http.ResponseWriter, r *http.Request) {
	run, err := h.Reconciler.Check(r.Context(), businessID(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(run))
}

func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.writeDomainError(w, r, &ledger.ValidationError{Field: "limit", Reason: "expected a positive integer"})
			return
		}
		limit = n
	}
	runs, err := h.Reconciler.Runs(r.Context(), businessID(r), limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]ReconciliationRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}
