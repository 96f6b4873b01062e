// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/adnank79d/Wytis-sub002/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps each business in its own partition with its own lock, so
// writers of different businesses never wait on each other.
//
// WithTx works on a copy of the partition and swaps it in on success.
// Readers take the partition's read lock and therefore see either the state
// before a unit or the state after it, never part of one.
type Memory struct {
	mu         sync.RWMutex // guards businesses, tenants and runs
	businesses map[ledger.BusinessID]ledger.Business
	tenants    map[ledger.BusinessID]*tenant
	runs       []ledger.ReconciliationRun
}

type tenant struct {
	mu   sync.RWMutex
	data *partition
}

type partition struct {
	transactions map[ledger.TransactionID]ledger.Transaction
	txOrder      []ledger.TransactionID
	entries      map[string]ledger.LedgerEntry
	entryOrder   []string
	gst          map[string]ledger.GstRecord
	gstOrder     []string
	invoices     map[ledger.InvoiceID]ledger.Invoice
	invoiceOrder []ledger.InvoiceID
}

func newPartition() *partition {
	return &partition{
		transactions: make(map[ledger.TransactionID]ledger.Transaction),
		entries:      make(map[string]ledger.LedgerEntry),
		gst:          make(map[string]ledger.GstRecord),
		invoices:     make(map[ledger.InvoiceID]ledger.Invoice),
	}
}

func NewMemory() *Memory {
	return &Memory{
		businesses: make(map[ledger.BusinessID]ledger.Business),
		tenants:    make(map[ledger.BusinessID]*tenant),
	}
}

var (
	_ ledger.TxStore  = (*Memory)(nil)
	_ ledger.RunStore = (*Memory)(nil)
)

// tenant returns the partition holder, creating it on first use.
func (m *Memory) tenant(id ledger.BusinessID) *tenant {
	m.mu.RLock()
	t, ok := m.tenants[id]
	m.mu.RUnlock()
	if ok {
		return t
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok = m.tenants[id]; !ok {
		t = &tenant{data: newPartition()}
		m.tenants[id] = t
	}
	return t
}

// read runs fn under the partition's read lock. A business with no
// partition reads as empty, and no partition is created for it.
func (m *Memory) read(id ledger.BusinessID, fn func(p *partition)) {
	m.mu.RLock()
	t, ok := m.tenants[id]
	m.mu.RUnlock()
	if !ok {
		fn(newPartition())
		return
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn(t.data)
}

// write applies fn to a copy of the partition and swaps it in on success.
func (m *Memory) write(id ledger.BusinessID, fn func(p *partition) error) error {
	t := m.tenant(id)
	t.mu.Lock()
	defer t.mu.Unlock()

	working := t.data.clone()
	if err := fn(working); err != nil {
		return err
	}
	t.data = working
	return nil
}

// =============================================================================
// BUSINESSES
// =============================================================================

func (m *Memory) CreateBusiness(_ context.Context, b ledger.Business) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.businesses[b.ID]; exists {
		return &ledger.ValidationError{Field: "id", Reason: "business " + string(b.ID) + " already exists"}
	}
	m.businesses[b.ID] = b
	return nil
}

func (m *Memory) GetBusiness(_ context.Context, id ledger.BusinessID) (*ledger.Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.businesses[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *Memory) ListBusinesses(_ context.Context) ([]ledger.Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ledger.Business, 0, len(m.businesses))
	for _, b := range m.businesses {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// STORE - Each call is its own atomic unit
// =============================================================================

func (m *Memory) InsertPosting(_ context.Context, tx ledger.Transaction, entries []ledger.LedgerEntry) error {
	return m.write(tx.BusinessID, func(p *partition) error {
		return p.insertPosting(tx, entries)
	})
}

func (m *Memory) GetTransaction(_ context.Context, businessID ledger.BusinessID, id ledger.TransactionID) (tx *ledger.Transaction, err error) {
	m.read(businessID, func(p *partition) { tx = p.getTransaction(id) })
	return tx, nil
}

func (m *Memory) ListTransactions(_ context.Context, businessID ledger.BusinessID) (txs []ledger.Transaction, err error) {
	m.read(businessID, func(p *partition) { txs = p.listTransactions() })
	return txs, nil
}

func (m *Memory) EntriesFor(_ context.Context, businessID ledger.BusinessID, id ledger.TransactionID) (entries []ledger.LedgerEntry, err error) {
	m.read(businessID, func(p *partition) { entries = p.entriesFor(id) })
	return entries, nil
}

func (m *Memory) ListLedgerEntries(_ context.Context, businessID ledger.BusinessID) (entries []ledger.LedgerEntry, err error) {
	m.read(businessID, func(p *partition) { entries = p.listEntries() })
	return entries, nil
}

func (m *Memory) ListPostedEntries(_ context.Context, businessID ledger.BusinessID, period ledger.Period) (entries []ledger.PostedEntry, err error) {
	m.read(businessID, func(p *partition) { entries = p.listPosted(period) })
	return entries, nil
}

func (m *Memory) InsertGstRecords(_ context.Context, records []ledger.GstRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records[1:] {
		if r.BusinessID != records[0].BusinessID {
			return &ledger.ValidationError{Field: "business_id", Reason: "records span businesses " + string(records[0].BusinessID) + " and " + string(r.BusinessID)}
		}
	}
	return m.write(records[0].BusinessID, func(p *partition) error {
		return p.insertGst(records)
	})
}

func (m *Memory) ListGstRecords(_ context.Context, businessID ledger.BusinessID, period ledger.Period) (records []ledger.GstRecord, err error) {
	m.read(businessID, func(p *partition) { records = p.listGst(period) })
	return records, nil
}

func (m *Memory) SaveInvoice(_ context.Context, inv ledger.Invoice) error {
	return m.write(inv.BusinessID, func(p *partition) error {
		p.saveInvoice(inv)
		return nil
	})
}

func (m *Memory) GetInvoice(_ context.Context, businessID ledger.BusinessID, id ledger.InvoiceID) (inv *ledger.Invoice, err error) {
	m.read(businessID, func(p *partition) { inv = p.getInvoice(id) })
	return inv, nil
}

func (m *Memory) ListInvoices(_ context.Context, businessID ledger.BusinessID) (invs []ledger.Invoice, err error) {
	m.read(businessID, func(p *partition) { invs = p.listInvoices() })
	return invs, nil
}

func (m *Memory) DeleteGstRecords(_ context.Context, businessID ledger.BusinessID, ids []string) error {
	return m.write(businessID, func(p *partition) error { p.deleteGst(ids); return nil })
}

func (m *Memory) DeleteLedgerEntries(_ context.Context, businessID ledger.BusinessID, ids []string) error {
	return m.write(businessID, func(p *partition) error { p.deleteEntries(ids); return nil })
}

func (m *Memory) DeleteTransactions(_ context.Context, businessID ledger.BusinessID, ids []ledger.TransactionID) error {
	return m.write(businessID, func(p *partition) error { p.deleteTransactions(ids); return nil })
}

func (m *Memory) DeleteInvoice(_ context.Context, businessID ledger.BusinessID, id ledger.InvoiceID) error {
	return m.write(businessID, func(p *partition) error { p.deleteInvoice(id); return nil })
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

func (m *Memory) SaveReconciliationRun(_ context.Context, run ledger.ReconciliationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) ListReconciliationRuns(_ context.Context, businessID ledger.BusinessID, limit int) ([]ledger.ReconciliationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.ReconciliationRun
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].BusinessID != businessID {
			continue
		}
		out = append(out, m.runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx holds the business's write lock for the whole of fn.
// fn works on a private copy, discarded if fn fails.
func (m *Memory) WithTx(ctx context.Context, businessID ledger.BusinessID, fn func(ledger.Store) error) error {
	return m.write(businessID, func(p *partition) error {
		return fn(&txView{parent: m, businessID: businessID, p: p})
	})
}

// txView is the Store handed to WithTx callbacks. It reads and writes the
// working copy directly, without taking the partition lock again.
type txView struct {
	parent     *Memory
	businessID ledger.BusinessID
	p          *partition
}

func (v *txView) scoped(id ledger.BusinessID) error {
	if id != v.businessID {
		return &ledger.ValidationError{Field: "business_id", Reason: "unit is scoped to business " + string(v.businessID)}
	}
	return nil
}

func (v *txView) CreateBusiness(ctx context.Context, b ledger.Business) error {
	return v.parent.CreateBusiness(ctx, b)
}

func (v *txView) GetBusiness(ctx context.Context, id ledger.BusinessID) (*ledger.Business, error) {
	return v.parent.GetBusiness(ctx, id)
}

func (v *txView) ListBusinesses(ctx context.Context) ([]ledger.Business, error) {
	return v.parent.ListBusinesses(ctx)
}

func (v *txView) InsertPosting(_ context.Context, tx ledger.Transaction, entries []ledger.LedgerEntry) error {
	if err := v.scoped(tx.BusinessID); err != nil {
		return err
	}
	return v.p.insertPosting(tx, entries)
}

func (v *txView) GetTransaction(_ context.Context, businessID ledger.BusinessID, id ledger.TransactionID) (*ledger.Transaction, error) {
	if err := v.scoped(businessID); err != nil {
		return nil, err
	}
	return v.p.getTransaction(id), nil
}

func (v *txView) ListTransactions(_ context.Context, businessID ledger.BusinessID) ([]ledger.Transaction, error) {
	if err := v.scoped(businessID); err != nil {
		return nil, err
	}
	return v.p.listTransactions(), nil
}

func (v *txView) EntriesFor(_ context.Context, businessID ledger.BusinessID, id ledger.TransactionID) ([]ledger.LedgerEntry, error) {
	if err := v.scoped(businessID); err != nil {
		return nil, err
	}
	return v.p.entriesFor(id), nil
}

func (v *txView) ListLedgerEntries(_ context.Context, businessID ledger.BusinessID) ([]ledger.LedgerEntry, error) {
	if err := v.scoped(businessID); err != nil {
		return nil, err
	}
	return v.p.listEntries(), nil
}

func (v *txView) ListPostedEntries(_ context.Context, businessID ledger.BusinessID, period ledger.Period) ([]ledger.PostedEntry, error) {
	if err := v.scoped(businessID); err != nil {
		return nil, err
	}
	return v.p.listPosted(period), nil
}

func (v *txView) InsertGstRecords(_ context.Context, records []ledger.GstRecord) error {
	for _, r := range records {
		if err := v.scoped(r.BusinessID); err != nil {
			return err
		}
	}
	return v.p.insertGst(records)
}

func (v *txView) ListGstRecords(_ context.Context, businessID ledger.BusinessID, period ledger.Period) ([]ledger.GstRecord, error) {
	if err := v.scoped(businessID); err != nil {
		return nil, err
	}
	return v.p.listGst(period), nil
}

func (v *txView) SaveInvoice(_ context.Context, inv ledger.Invoice) error {
	if err := v.scoped(inv.BusinessID); err != nil {
		return err
	}
	v.p.saveInvoice(inv)
	return nil
}

func (v *txView) GetInvoice(_ context.Context, businessID ledger.BusinessID, id ledger.InvoiceID) (*ledger.Invoice, error) {
	if err := v.scoped(businessID); err != nil {
		return nil, err
	}
	return v.p.getInvoice(id), nil
}

func (v *txView) ListInvoices(_ context.Context, businessID ledger.BusinessID) ([]ledger.Invoice, error) {
	if err := v.scoped(businessID); err != nil {
		return nil, err
	}
	return v.p.listInvoices(), nil
}

func (v *txView) DeleteGstRecords(_ context.Context, businessID ledger.BusinessID, ids []string) error {
	if err := v.scoped(businessID); err != nil {
		return err
	}
	v.p.deleteGst(ids)
	return nil
}

func (v *txView) DeleteLedgerEntries(_ context.Context, businessID ledger.BusinessID, ids []string) error {
	if err := v.scoped(businessID); err != nil {
		return err
	}
	v.p.deleteEntries(ids)
	return nil
}

func (v *txView) DeleteTransactions(_ context.Context, businessID ledger.BusinessID, ids []ledger.TransactionID) error {
	if err := v.scoped(businessID); err != nil {
		return err
	}
	v.p.deleteTransactions(ids)
	return nil
}

func (v *txView) DeleteInvoice(_ context.Context, businessID ledger.BusinessID, id ledger.InvoiceID) error {
	if err := v.scoped(businessID); err != nil {
		return err
	}
	v.p.deleteInvoice(id)
	return nil
}

// =============================================================================
// PARTITION OPERATIONS - Callers hold the appropriate lock
// =============================================================================

func (p *partition) clone() *partition {
	c := newPartition()
	for k, v := range p.transactions {
		c.transactions[k] = v
	}
	for k, v := range p.entries {
		c.entries[k] = v
	}
	for k, v := range p.gst {
		c.gst[k] = v
	}
	for k, v := range p.invoices {
		v.Items = append([]ledger.InvoiceItem(nil), v.Items...)
		c.invoices[k] = v
	}
	c.txOrder = append([]ledger.TransactionID(nil), p.txOrder...)
	c.entryOrder = append([]string(nil), p.entryOrder...)
	c.gstOrder = append([]string(nil), p.gstOrder...)
	c.invoiceOrder = append([]ledger.InvoiceID(nil), p.invoiceOrder...)
	return c
}

func (p *partition) insertPosting(tx ledger.Transaction, entries []ledger.LedgerEntry) error {
	if _, exists := p.transactions[tx.ID]; exists {
		return &ledger.ValidationError{Field: "id", Reason: "transaction " + string(tx.ID) + " already exists"}
	}
	for _, e := range entries {
		if _, exists := p.entries[e.ID]; exists {
			return &ledger.ValidationError{Field: "id", Reason: "ledger entry " + e.ID + " already exists"}
		}
	}
	p.transactions[tx.ID] = tx
	p.txOrder = append(p.txOrder, tx.ID)
	for _, e := range entries {
		p.entries[e.ID] = e
		p.entryOrder = append(p.entryOrder, e.ID)
	}
	return nil
}

func (p *partition) getTransaction(id ledger.TransactionID) *ledger.Transaction {
	tx, ok := p.transactions[id]
	if !ok {
		return nil
	}
	return &tx
}

// listTransactions orders by economic date, then insertion.
func (p *partition) listTransactions() []ledger.Transaction {
	out := make([]ledger.Transaction, 0, len(p.txOrder))
	for _, id := range p.txOrder {
		if tx, ok := p.transactions[id]; ok {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TransactionDate.Before(out[j].TransactionDate)
	})
	return out
}

func (p *partition) entriesFor(id ledger.TransactionID) []ledger.LedgerEntry {
	var out []ledger.LedgerEntry
	for _, eid := range p.entryOrder {
		if e, ok := p.entries[eid]; ok && e.TransactionID == id {
			out = append(out, e)
		}
	}
	return out
}

func (p *partition) listEntries() []ledger.LedgerEntry {
	out := make([]ledger.LedgerEntry, 0, len(p.entryOrder))
	for _, eid := range p.entryOrder {
		if e, ok := p.entries[eid]; ok {
			out = append(out, e)
		}
	}
	return out
}

func (p *partition) listPosted(period ledger.Period) []ledger.PostedEntry {
	var out []ledger.PostedEntry
	for _, eid := range p.entryOrder {
		e, ok := p.entries[eid]
		if !ok {
			continue
		}
		tx, ok := p.transactions[e.TransactionID]
		if !ok || !period.Contains(tx.TransactionDate) {
			continue
		}
		out = append(out, ledger.PostedEntry{LedgerEntry: e, TransactionDate: tx.TransactionDate})
	}
	return out
}

func (p *partition) insertGst(records []ledger.GstRecord) error {
	for _, r := range records {
		if _, exists := p.gst[r.ID]; exists {
			return &ledger.ValidationError{Field: "id", Reason: "gst record " + r.ID + " already exists"}
		}
	}
	for _, r := range records {
		p.gst[r.ID] = r
		p.gstOrder = append(p.gstOrder, r.ID)
	}
	return nil
}

func (p *partition) listGst(period ledger.Period) []ledger.GstRecord {
	var out []ledger.GstRecord
	for _, id := range p.gstOrder {
		if r, ok := p.gst[id]; ok && period.Contains(r.RecordDate) {
			out = append(out, r)
		}
	}
	return out
}

func (p *partition) saveInvoice(inv ledger.Invoice) {
	if _, exists := p.invoices[inv.ID]; !exists {
		p.invoiceOrder = append(p.invoiceOrder, inv.ID)
	}
	inv.Items = append([]ledger.InvoiceItem(nil), inv.Items...)
	p.invoices[inv.ID] = inv
}

func (p *partition) getInvoice(id ledger.InvoiceID) *ledger.Invoice {
	inv, ok := p.invoices[id]
	if !ok {
		return nil
	}
	inv.Items = append([]ledger.InvoiceItem(nil), inv.Items...)
	return &inv
}

func (p *partition) listInvoices() []ledger.Invoice {
	out := make([]ledger.Invoice, 0, len(p.invoiceOrder))
	for _, id := range p.invoiceOrder {
		if inv := p.getInvoice(id); inv != nil {
			out = append(out, *inv)
		}
	}
	return out
}

func (p *partition) deleteGst(ids []string) {
	for _, id := range ids {
		delete(p.gst, id)
	}
	p.gstOrder = compact(p.gstOrder, func(id string) bool { _, ok := p.gst[id]; return ok })
}

func (p *partition) deleteEntries(ids []string) {
	for _, id := range ids {
		delete(p.entries, id)
	}
	p.entryOrder = compact(p.entryOrder, func(id string) bool { _, ok := p.entries[id]; return ok })
}

func (p *partition) deleteTransactions(ids []ledger.TransactionID) {
	for _, id := range ids {
		delete(p.transactions, id)
	}
	p.txOrder = compact(p.txOrder, func(id ledger.TransactionID) bool { _, ok := p.transactions[id]; return ok })
}

func (p *partition) deleteInvoice(id ledger.InvoiceID) {
	delete(p.invoices, id)
	p.invoiceOrder = compact(p.invoiceOrder, func(i ledger.InvoiceID) bool { _, ok := p.invoices[i]; return ok })
}

func compact[T any](s []T, keep func(T) bool) []T {
	out := s[:0]
	for _, v := range s {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}
