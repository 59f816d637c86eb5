/*
receipt.go - Receipt transaction manager

PURPOSE:
  Turns a requested list of (medicine, batch, quantity) into a validated,
  priced receipt and mutates the batch ledger accordingly. Three entry
  points: Create, Update (reverse-then-apply, edit-in-place), Delete
  (reverse then remove).

FAIL-FAST:
  Every requested line is validated against the ledger before any
  mutation is persisted. Lines that share a batch are validated against
  the working state, not independent stale reads, so two lines cannot
  both pass a check the batch can only satisfy once.

REVERSAL POLICY:
  Restoring a previous receipt's stock is best-effort by default: a line
  whose batch or medicine has since been fully depleted (and pruned) is
  skipped silently. ReversalStrict makes the same situation fail the
  whole edit instead. This is the one documented exception to fail-fast
  propagation, and it is configurable precisely because the silent skip
  can desynchronize stock history from receipts.

CONCURRENCY:
  Each entry point wraps its whole read-validate-mutate sequence in
  TxStore.WithTx, closing the over-depletion race between concurrent
  sales of the same batch.
*/
package pharmacy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReversalPolicy controls what happens when a receipt reversal references
// a batch or medicine that no longer exists.
type ReversalPolicy string

const (
	// ReversalBestEffort silently skips restoration for pruned records.
	ReversalBestEffort ReversalPolicy = "best-effort"

	// ReversalStrict fails the whole reversal instead, blocking the edit.
	ReversalStrict ReversalPolicy = "strict"
)

// LineRequest is one requested depletion.
type LineRequest struct {
	MedicineID  MedicineID
	BatchNumber string
	Quantity    int64
}

// CreateReceiptRequest creates a receipt for a patient.
type CreateReceiptRequest struct {
	PatientID PatientID
	Lines     []LineRequest
}

// ReceiptManager converts line requests into persisted receipts.
type ReceiptManager struct {
	store              TxStore
	policy             ReversalPolicy
	keepEmptyMedicines bool
	now                func() time.Time
}

// ReceiptOption configures a ReceiptManager.
type ReceiptOption func(*ReceiptManager)

// WithReversalPolicy selects strict or best-effort reversal.
func WithReversalPolicy(p ReversalPolicy) ReceiptOption {
	return func(rm *ReceiptManager) { rm.policy = p }
}

// KeepEmptyMedicinesOnSale retains fully depleted medicines instead of
// cascading their deletion.
func KeepEmptyMedicinesOnSale() ReceiptOption {
	return func(rm *ReceiptManager) { rm.keepEmptyMedicines = true }
}

// WithReceiptClock overrides the manager clock (tests).
func WithReceiptClock(now func() time.Time) ReceiptOption {
	return func(rm *ReceiptManager) { rm.now = now }
}

// NewReceiptManager creates a receipt manager over the given store.
func NewReceiptManager(store TxStore, opts ...ReceiptOption) *ReceiptManager {
	rm := &ReceiptManager{
		store:  store,
		policy: ReversalBestEffort,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(rm)
	}
	return rm
}

func validateLineRequests(lines []LineRequest) error {
	if len(lines) == 0 {
		return &ValidationError{Field: "lines", Reason: "at least one line is required"}
	}
	for _, ln := range lines {
		if ln.MedicineID == "" {
			return &ValidationError{Field: "medicineId", Reason: "required"}
		}
		if ln.BatchNumber == "" {
			return &ValidationError{Field: "batchNumber", Reason: "required"}
		}
		if ln.Quantity <= 0 {
			return &ValidationError{Field: "quantity", Reason: "must be a positive number"}
		}
	}
	return nil
}

// Create validates every line, then depletes the ledger and persists the
// receipt, all as one atomic unit.
func (rm *ReceiptManager) Create(ctx context.Context, req CreateReceiptRequest) (*Receipt, error) {
	if req.PatientID == "" {
		return nil, &ValidationError{Field: "patientId", Reason: "required"}
	}
	if err := validateLineRequests(req.Lines); err != nil {
		return nil, err
	}

	var receipt *Receipt
	err := rm.store.WithTx(ctx, func(s Store) error {
		patient, err := s.GetPatient(ctx, req.PatientID)
		if err != nil {
			return err
		}
		if patient == nil {
			return &NotFoundError{Kind: "patient", ID: string(req.PatientID)}
		}

		lines, touched, err := stageDepletion(ctx, s, req.Lines)
		if err != nil {
			return err
		}
		if err := persistTouched(ctx, s, touched, rm.keepEmptyMedicines, rm.now()); err != nil {
			return err
		}

		receipt = &Receipt{
			ID:          ReceiptID(uuid.NewString()),
			PatientID:   req.PatientID,
			Lines:       lines,
			TotalAmount: sumLineTotals(lines),
			ReceiptDate: rm.now(),
		}
		return s.SaveReceipt(ctx, receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Update replaces a receipt's line set in place: the old lines' ledger
// effect is reversed first (per the reversal policy), then the new lines
// are validated and applied exactly as in Create.
func (rm *ReceiptManager) Update(ctx context.Context, id ReceiptID, newLines []LineRequest) (*Receipt, error) {
	if err := validateLineRequests(newLines); err != nil {
		return nil, err
	}

	var receipt *Receipt
	err := rm.store.WithTx(ctx, func(s Store) error {
		existing, err := s.GetReceipt(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return &NotFoundError{Kind: "receipt", ID: string(id)}
		}

		if err := rm.reverseLines(ctx, s, existing.Lines); err != nil {
			return err
		}

		lines, touched, err := stageDepletion(ctx, s, newLines)
		if err != nil {
			return err
		}
		if err := persistTouched(ctx, s, touched, rm.keepEmptyMedicines, rm.now()); err != nil {
			return err
		}

		existing.Lines = lines
		existing.TotalAmount = sumLineTotals(lines)
		receipt = existing
		return s.SaveReceipt(ctx, existing)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Delete reverses every line's effect (per the reversal policy) and
// removes the receipt record.
func (rm *ReceiptManager) Delete(ctx context.Context, id ReceiptID) error {
	return rm.store.WithTx(ctx, func(s Store) error {
		existing, err := s.GetReceipt(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return &NotFoundError{Kind: "receipt", ID: string(id)}
		}

		if err := rm.reverseLines(ctx, s, existing.Lines); err != nil {
			return err
		}
		return s.DeleteReceipt(ctx, id)
	})
}

// Get returns a receipt by id.
func (rm *ReceiptManager) Get(ctx context.Context, id ReceiptID) (*Receipt, error) {
	r, err := rm.store.GetReceipt(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, &NotFoundError{Kind: "receipt", ID: string(id)}
	}
	return r, nil
}

// List returns all receipts.
func (rm *ReceiptManager) List(ctx context.Context) ([]Receipt, error) {
	return rm.store.ListReceipts(ctx)
}

// reverseLines restores stock for previously applied lines. Missing
// medicines or batches are skipped under best-effort and fail the whole
// reversal under strict.
func (rm *ReceiptManager) reverseLines(ctx context.Context, s Store, lines []ReceiptLine) error {
	for _, ln := range lines {
		m, err := s.GetMedicine(ctx, ln.MedicineID)
		if err != nil {
			return err
		}
		if m == nil {
			if rm.policy == ReversalStrict {
				return &NotFoundError{Kind: "medicine", ID: string(ln.MedicineID)}
			}
			continue
		}
		if err := AdjustQuantity(m, ln.BatchNumber, ln.Quantity); err != nil {
			if IsNotFound(err) && rm.policy == ReversalBestEffort {
				continue
			}
			return err
		}
		m.UpdatedAt = rm.now()
		if err := s.SaveMedicine(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// SHARED DEPLETION LOGIC (receipts and sales)
// =============================================================================

// stageDepletion resolves and prices every requested line, applying the
// depletions to in-memory medicine copies only. Nothing is persisted: a
// failure on line N leaves no trace of lines 1..N-1. Returns the priced
// lines and the touched medicines keyed by ID.
func stageDepletion(ctx context.Context, s Store, reqs []LineRequest) ([]ReceiptLine, map[MedicineID]*Medicine, error) {
	touched := make(map[MedicineID]*Medicine)
	lines := make([]ReceiptLine, 0, len(reqs))

	for _, req := range reqs {
		m, ok := touched[req.MedicineID]
		if !ok {
			var err error
			m, err = s.GetMedicine(ctx, req.MedicineID)
			if err != nil {
				return nil, nil, err
			}
			if m == nil {
				return nil, nil, &NotFoundError{Kind: "medicine", ID: string(req.MedicineID)}
			}
			touched[req.MedicineID] = m
		}

		b, ok := FindBatch(m, req.BatchNumber)
		if !ok {
			return nil, nil, &NotFoundError{Kind: "batch", ID: req.BatchNumber}
		}
		if b.Quantity < req.Quantity {
			return nil, nil, &InsufficientStockError{
				MedicineID:   m.ID,
				MedicineName: m.Name,
				BatchNumber:  req.BatchNumber,
				Available:    b.Quantity,
				Requested:    req.Quantity,
			}
		}

		unitPrice := b.UnitPrice
		line := ReceiptLine{
			MedicineID:   m.ID,
			BatchNumber:  req.BatchNumber,
			MedicineName: m.Name,
			Generic:      m.Generic,
			Brand:        m.Brand,
			Quantity:     req.Quantity,
			UnitPrice:    unitPrice,
			LineTotal:    unitPrice.Mul(decimal.NewFromInt(req.Quantity)),
		}

		if err := AdjustQuantity(m, req.BatchNumber, -req.Quantity); err != nil {
			return nil, nil, err
		}
		lines = append(lines, line)
	}
	return lines, touched, nil
}

// persistTouched saves every staged medicine, cascading deletion of the
// ones whose ledgers emptied (unless keepEmpty).
func persistTouched(ctx context.Context, s Store, touched map[MedicineID]*Medicine, keepEmpty bool, now time.Time) error {
	for _, m := range touched {
		m.UpdatedAt = now
		if len(m.Batches) == 0 && !keepEmpty {
			if err := s.DeleteMedicine(ctx, m.ID); err != nil {
				return err
			}
			continue
		}
		if err := s.SaveMedicine(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func sumLineTotals(lines []ReceiptLine) decimal.Decimal {
	total := decimal.Zero
	for _, ln := range lines {
		total = total.Add(ln.LineTotal)
	}
	return total
}
