/*
reconcile.go - Stock reconciliation engine

PURPOSE:
  Resolves incoming stock intake against the existing catalog with a
  three-tier matching policy, in priority order:

    1. Exact match   - name+generic+brand and an identical lot
                       (batch number, expiry, price) -> merge quantities
    2. Partial match - name+generic+brand only -> append a new batch
    3. No match      - create a new medicine with one initial batch

  The same drug concept accumulates stock across repeated deliveries
  while distinct lots (different expiry or price) stay separately
  trackable, which is what lets sales deplete batch by batch.

CONCURRENCY:
  Every operation runs its read-validate-mutate sequence inside
  TxStore.WithTx, so two concurrent intakes or an intake racing a sale
  cannot interleave against stale reads.
*/
package pharmacy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IntakeRequest is one delivery of stock.
type IntakeRequest struct {
	Name    string
	Generic string
	Brand   string

	Category      string
	Form          string
	Strength      string
	MinStockLevel int64

	BatchNumber string
	ExpiryDate  time.Time
	UnitPrice   decimal.Decimal
	Quantity    int64
}

// IntakeOutcome tells the caller which tier matched.
type IntakeOutcome string

const (
	IntakeMerged   IntakeOutcome = "merged"   // exact lot, quantity incremented
	IntakeAppended IntakeOutcome = "appended" // same drug, new batch
	IntakeCreated  IntakeOutcome = "created"  // new medicine
)

// Engine applies intake, batch edits, and batch removals to the catalog.
type Engine struct {
	store TxStore

	// keepEmptyMedicines disables the pruneIfEmpty cascade, retaining
	// zero-batch medicines instead of deleting them.
	keepEmptyMedicines bool

	now func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// KeepEmptyMedicines retains medicines whose last batch was removed,
// instead of the default cascade deletion.
func KeepEmptyMedicines() EngineOption {
	return func(e *Engine) { e.keepEmptyMedicines = true }
}

// WithClock overrides the engine clock (tests).
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a reconciliation engine over the given store.
func NewEngine(store TxStore, opts ...EngineOption) *Engine {
	e := &Engine{store: store, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (r IntakeRequest) validate() error {
	switch {
	case r.Name == "":
		return &ValidationError{Field: "name", Reason: "required"}
	case r.Generic == "":
		return &ValidationError{Field: "generic", Reason: "required"}
	case r.Brand == "":
		return &ValidationError{Field: "brand", Reason: "required"}
	case r.BatchNumber == "":
		return &ValidationError{Field: "batchNumber", Reason: "required"}
	case r.ExpiryDate.IsZero():
		return &ValidationError{Field: "expiryDate", Reason: "required"}
	case r.Quantity <= 0:
		return &ValidationError{Field: "quantity", Reason: "must be a positive number"}
	case r.UnitPrice.IsNegative():
		return &ValidationError{Field: "price", Reason: "must not be negative"}
	}
	return nil
}

// Intake resolves one delivery against the catalog and persists the
// result. Validation failures reject the request before any mutation.
func (e *Engine) Intake(ctx context.Context, req IntakeRequest) (*Medicine, IntakeOutcome, error) {
	if err := req.validate(); err != nil {
		return nil, "", err
	}

	var (
		med     *Medicine
		outcome IntakeOutcome
	)
	err := e.store.WithTx(ctx, func(s Store) error {
		existing, err := s.FindMedicineByIdentity(ctx, req.Name, req.Generic, req.Brand)
		if err != nil {
			return err
		}

		spec := BatchSpec{
			BatchNumber: req.BatchNumber,
			ExpiryDate:  req.ExpiryDate,
			UnitPrice:   req.UnitPrice,
		}

		if existing == nil {
			now := e.now()
			med = &Medicine{
				ID:            MedicineID(uuid.NewString()),
				Name:          req.Name,
				Generic:       req.Generic,
				Brand:         req.Brand,
				Category:      req.Category,
				Form:          req.Form,
				Strength:      req.Strength,
				MinStockLevel: req.MinStockLevel,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			MergeOrAppendBatch(med, spec, req.Quantity)
			outcome = IntakeCreated
			return s.SaveMedicine(ctx, med)
		}

		outcome = IntakeAppended
		for _, b := range existing.Batches {
			if spec.Matches(b) {
				outcome = IntakeMerged
				break
			}
		}
		MergeOrAppendBatch(existing, spec, req.Quantity)
		existing.UpdatedAt = e.now()
		med = existing
		return s.SaveMedicine(ctx, existing)
	})
	if err != nil {
		return nil, "", err
	}
	return med, outcome, nil
}

// BatchUpdate carries optional edits for one batch; nil fields are left
// untouched. Medicine-level generic/brand edits ride along, matching the
// original update surface.
type BatchUpdate struct {
	Generic *string
	Brand   *string

	UnitPrice  *decimal.Decimal
	Quantity   *int64
	ExpiryDate *time.Time
}

// UpdateBatch edits the batch identified by medicine name + batch number
// and recomputes the stock aggregate.
func (e *Engine) UpdateBatch(ctx context.Context, name, batchNumber string, upd BatchUpdate) (*Medicine, error) {
	if name == "" || batchNumber == "" {
		return nil, &ValidationError{Field: "name/batchNumber", Reason: "required"}
	}
	if upd.Quantity != nil && *upd.Quantity < 0 {
		return nil, &ValidationError{Field: "quantity", Reason: "must not be negative"}
	}
	if upd.UnitPrice != nil && upd.UnitPrice.IsNegative() {
		return nil, &ValidationError{Field: "price", Reason: "must not be negative"}
	}

	var med *Medicine
	err := e.store.WithTx(ctx, func(s Store) error {
		m, err := s.FindMedicineByBatch(ctx, name, batchNumber)
		if err != nil {
			return err
		}
		if m == nil {
			return &NotFoundError{Kind: "medicine", ID: name + "/" + batchNumber}
		}

		if upd.Generic != nil {
			m.Generic = *upd.Generic
		}
		if upd.Brand != nil {
			m.Brand = *upd.Brand
		}

		b, ok := FindBatch(m, batchNumber)
		if !ok {
			return &NotFoundError{Kind: "batch", ID: batchNumber}
		}
		if upd.UnitPrice != nil {
			b.UnitPrice = *upd.UnitPrice
		}
		if upd.Quantity != nil {
			b.Quantity = *upd.Quantity
		}
		if upd.ExpiryDate != nil {
			b.ExpiryDate = *upd.ExpiryDate
		}

		m.CurrentStock = m.TotalBatchQuantity()
		m.UpdatedAt = e.now()
		med = m
		return s.SaveMedicine(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	return med, nil
}

// DeleteBatch removes a batch by medicine name + batch number. When the
// last batch goes, the medicine record goes with it (unless the engine
// was built with KeepEmptyMedicines).
func (e *Engine) DeleteBatch(ctx context.Context, name, batchNumber string) (Batch, error) {
	if name == "" || batchNumber == "" {
		return Batch{}, &ValidationError{Field: "name/batchNumber", Reason: "required"}
	}

	var removed Batch
	err := e.store.WithTx(ctx, func(s Store) error {
		m, err := s.FindMedicineByBatch(ctx, name, batchNumber)
		if err != nil {
			return err
		}
		if m == nil {
			return &NotFoundError{Kind: "medicine", ID: name + "/" + batchNumber}
		}

		removed, err = RemoveBatch(m, batchNumber)
		if err != nil {
			return err
		}
		m.UpdatedAt = e.now()
		return e.pruneIfEmpty(ctx, s, m)
	})
	if err != nil {
		return Batch{}, err
	}
	return removed, nil
}

// pruneIfEmpty persists the medicine, or deletes it when its ledger is
// empty and the cascade is enabled. Named so the policy can be replaced
// (soft-delete, archive) without touching the reconciliation logic.
func (e *Engine) pruneIfEmpty(ctx context.Context, s Store, m *Medicine) error {
	if len(m.Batches) == 0 && !e.keepEmptyMedicines {
		return s.DeleteMedicine(ctx, m.ID)
	}
	return s.SaveMedicine(ctx, m)
}
