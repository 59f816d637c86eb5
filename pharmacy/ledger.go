/*
ledger.go - Batch ledger operations

PURPOSE:
  The batch list of a medicine is the source of truth for its stock.
  Every quantity change goes through AdjustQuantity or MergeOrAppendBatch,
  and both re-derive CurrentStock from the remaining batches before
  returning. CurrentStock is a cached projection, nothing more.

CRITICAL INVARIANTS:
  1. CurrentStock == sum of batch quantities, after every mutation.
  2. No batch quantity is ever negative: an over-depletion fails with
     InsufficientStockError and leaves the ledger unchanged.
  3. A batch that reaches exactly zero is removed, not kept as an empty
     record.

CASCADE:
  A medicine whose last batch is removed by a depletion is itself deleted
  (identity is not retained once stock is fully consumed). That policy
  lives in pruneIfEmpty so it can be toggled or swapped for a soft-delete
  without touching the adjustment logic.

SEE ALSO:
  - reconcile.go: intake matching on top of these operations
  - receipt.go / sale.go: depletions and reversals
*/
package pharmacy

// batchIndex returns the index of the batch addressed by number, or -1.
// Several lots may share a number (a re-priced or re-dated delivery);
// the one expiring first is addressed, so a depletion and its later
// reversal resolve to the same lot.
func batchIndex(m *Medicine, batchNumber string) int {
	idx := -1
	for i := range m.Batches {
		if m.Batches[i].BatchNumber != batchNumber {
			continue
		}
		if idx < 0 || m.Batches[i].ExpiryDate.Before(m.Batches[idx].ExpiryDate) {
			idx = i
		}
	}
	return idx
}

// FindBatch returns the batch with the given number, or false if the
// medicine holds no such batch.
func FindBatch(m *Medicine, batchNumber string) (*Batch, bool) {
	if idx := batchIndex(m, batchNumber); idx >= 0 {
		return &m.Batches[idx], true
	}
	return nil, false
}

// AdjustQuantity applies batch.Quantity += delta to the named batch.
//
// Fails with NotFoundError if the batch is absent and with
// InsufficientStockError if the result would be negative; in both cases
// the ledger is unchanged. A batch landing on exactly zero is removed.
// CurrentStock is recomputed before returning.
func AdjustQuantity(m *Medicine, batchNumber string, delta int64) error {
	idx := batchIndex(m, batchNumber)
	if idx < 0 {
		return &NotFoundError{Kind: "batch", ID: batchNumber}
	}

	next := m.Batches[idx].Quantity + delta
	if next < 0 {
		return &InsufficientStockError{
			MedicineID:   m.ID,
			MedicineName: m.Name,
			BatchNumber:  batchNumber,
			Available:    m.Batches[idx].Quantity,
			Requested:    -delta,
		}
	}

	if next == 0 {
		m.Batches = append(m.Batches[:idx], m.Batches[idx+1:]...)
	} else {
		m.Batches[idx].Quantity = next
	}

	m.CurrentStock = m.TotalBatchQuantity()
	return nil
}

// MergeOrAppendBatch adds quantity to the lot matching spec exactly
// (batch number, expiry, and price all equal), or appends a new batch
// when no lot matches. CurrentStock is recomputed before returning.
func MergeOrAppendBatch(m *Medicine, spec BatchSpec, quantity int64) {
	for i := range m.Batches {
		if spec.Matches(m.Batches[i]) {
			m.Batches[i].Quantity += quantity
			m.CurrentStock = m.TotalBatchQuantity()
			return
		}
	}
	m.Batches = append(m.Batches, Batch{
		BatchNumber: spec.BatchNumber,
		ExpiryDate:  spec.ExpiryDate,
		UnitPrice:   spec.UnitPrice,
		Quantity:    quantity,
	})
	m.CurrentStock = m.TotalBatchQuantity()
}

// RemoveBatch deletes the named batch outright regardless of quantity
// and recomputes CurrentStock. Returns the removed batch.
func RemoveBatch(m *Medicine, batchNumber string) (Batch, error) {
	idx := batchIndex(m, batchNumber)
	if idx < 0 {
		return Batch{}, &NotFoundError{Kind: "batch", ID: batchNumber}
	}
	removed := m.Batches[idx]
	m.Batches = append(m.Batches[:idx], m.Batches[idx+1:]...)
	m.CurrentStock = m.TotalBatchQuantity()
	return removed, nil
}
