package invoice

import (
	"context"

	"github.com/adnank79d/Wytis-sub002/ledger"
	"go.uber.org/zap"
)

// DeleteResult counts the rows a cascade removed.
type DeleteResult struct {
	InvoiceID     ledger.InvoiceID
	GstRecords    int
	LedgerEntries int
	Transactions  int
}

// Delete removes a draft invoice.
func (s *Service) Delete(ctx context.Context, caller Caller, businessID ledger.BusinessID, id ledger.InvoiceID) (DeleteResult, error) {
	return s.cascade(ctx, caller, businessID, id, "delete", func(inv *ledger.Invoice) error {
		if inv.Status != ledger.StatusDraft {
			return &ledger.ConflictError{InvoiceID: id, Op: "delete", Status: inv.Status}
		}
		return nil
	})
}

// Purge removes an invoice in any state with every row that references it.
// Owner only.
func (s *Service) Purge(ctx context.Context, caller Caller, businessID ledger.BusinessID, id ledger.InvoiceID) (DeleteResult, error) {
	if !caller.IsOwner() {
		return DeleteResult{}, &ledger.ForbiddenError{Op: "purge", Reason: "owner role required"}
	}
	return s.cascade(ctx, caller, businessID, id, "purge", nil)
}

// cascade deletes GstRecords, then LedgerEntries, then Transactions, then the
// invoice, in one unit. Rows are found by their logical source link.
func (s *Service) cascade(ctx context.Context, caller Caller, businessID ledger.BusinessID, id ledger.InvoiceID, op string, guard func(*ledger.Invoice) error) (DeleteResult, error) {
	res := DeleteResult{InvoiceID: id}

	err := s.store.WithTx(ctx, businessID, func(st ledger.Store) error {
		inv, err := requireInvoice(ctx, st, businessID, id)
		if err != nil {
			return err
		}
		if guard != nil {
			if err := guard(inv); err != nil {
				return err
			}
		}

		gst, err := st.ListGstRecords(ctx, businessID, ledger.AllTime)
		if err != nil {
			return err
		}
		var gstIDs []string
		for _, r := range gst {
			if r.SourceType == ledger.SourceInvoice && r.SourceID == string(id) {
				gstIDs = append(gstIDs, r.ID)
			}
		}

		txs, err := st.ListTransactions(ctx, businessID)
		if err != nil {
			return err
		}
		var txIDs []ledger.TransactionID
		var entryIDs []string
		for _, tx := range txs {
			if tx.SourceType != ledger.SourceInvoice || tx.SourceID != string(id) {
				continue
			}
			txIDs = append(txIDs, tx.ID)
			entries, err := st.EntriesFor(ctx, businessID, tx.ID)
			if err != nil {
				return err
			}
			for _, e := range entries {
				entryIDs = append(entryIDs, e.ID)
			}
		}

		if len(gstIDs) > 0 {
			if err := st.DeleteGstRecords(ctx, businessID, gstIDs); err != nil {
				return err
			}
		}
		if len(entryIDs) > 0 {
			if err := st.DeleteLedgerEntries(ctx, businessID, entryIDs); err != nil {
				return err
			}
		}
		if len(txIDs) > 0 {
			if err := st.DeleteTransactions(ctx, businessID, txIDs); err != nil {
				return err
			}
		}
		if err := st.DeleteInvoice(ctx, businessID, id); err != nil {
			return err
		}

		res.GstRecords = len(gstIDs)
		res.LedgerEntries = len(entryIDs)
		res.Transactions = len(txIDs)
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}

	s.logger.Info("invoice deleted",
		zap.String("op", op),
		zap.String("business_id", string(businessID)),
		zap.String("invoice_id", string(id)),
		zap.String("actor_id", caller.ActorID),
		zap.Int("gst_records", res.GstRecords),
		zap.Int("ledger_entries", res.LedgerEntries),
		zap.Int("transactions", res.Transactions),
	)

	// The delete has committed; a failed check is reported, not returned.
	if s.checker != nil {
		if err := s.checker.AfterDelete(ctx, businessID); err != nil {
			s.logger.Error("post-delete integrity check failed",
				zap.String("business_id", string(businessID)),
				zap.String("invoice_id", string(id)),
				zap.Error(err),
			)
		}
	}
	return res, nil
}
