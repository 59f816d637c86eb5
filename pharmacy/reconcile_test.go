package pharmacy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediset/pharmacy-engine/pharmacy"
	"github.com/mediset/pharmacy-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T, opts ...pharmacy.EngineOption) (*pharmacy.Engine, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return pharmacy.NewEngine(store, opts...), store
}

func paracetamolDelivery(batch string, qty int64, price string) pharmacy.IntakeRequest {
	return pharmacy.IntakeRequest{
		Name:          "Paracetamol",
		Generic:       "Acetaminophen",
		Brand:         "Napa",
		Category:      "Analgesic",
		Form:          "Tablet",
		Strength:      "500mg",
		MinStockLevel: 20,
		BatchNumber:   batch,
		ExpiryDate:    day(2027, 6, 30),
		UnitPrice:     money(price),
		Quantity:      qty,
	}
}

// =============================================================================
// INTAKE: THREE-TIER MATCH
// =============================================================================

func TestIntake_NewMedicine_Created(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	med, outcome, err := engine.Intake(ctx, paracetamolDelivery("B-100", 100, "2.50"))
	require.NoError(t, err)

	assert.Equal(t, pharmacy.IntakeCreated, outcome)
	assert.NotEmpty(t, med.ID)
	assert.Equal(t, int64(100), med.CurrentStock)
	require.Len(t, med.Batches, 1)
	assert.Equal(t, "B-100", med.Batches[0].BatchNumber)
}

func TestIntake_ExactLot_Merged(t *testing.T) {
	// GIVEN: Paracetamol batch B-100 holds 100 units at 2.50
	// WHEN: A second delivery arrives for the same lot with 50 units
	// THEN: Quantities merge into one batch of 150

	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, _, err := engine.Intake(ctx, paracetamolDelivery("B-100", 100, "2.50"))
	require.NoError(t, err)

	med, outcome, err := engine.Intake(ctx, paracetamolDelivery("B-100", 50, "2.50"))
	require.NoError(t, err)

	assert.Equal(t, pharmacy.IntakeMerged, outcome)
	require.Len(t, med.Batches, 1)
	assert.Equal(t, int64(150), med.Batches[0].Quantity)
	assert.Equal(t, int64(150), med.CurrentStock)
}

func TestIntake_SameDrug_NewBatch_Appended(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	first, _, err := engine.Intake(ctx, paracetamolDelivery("B-100", 100, "2.50"))
	require.NoError(t, err)

	med, outcome, err := engine.Intake(ctx, paracetamolDelivery("B-200", 50, "2.75"))
	require.NoError(t, err)

	assert.Equal(t, pharmacy.IntakeAppended, outcome)
	assert.Equal(t, first.ID, med.ID, "same drug concept, same record")
	assert.Len(t, med.Batches, 2)
	assert.Equal(t, int64(150), med.CurrentStock)
}

func TestIntake_SameBatchNumberDifferentPrice_Appended(t *testing.T) {
	// A price change makes it a different lot even under the same number.
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, _, err := engine.Intake(ctx, paracetamolDelivery("B-100", 100, "2.50"))
	require.NoError(t, err)

	med, outcome, err := engine.Intake(ctx, paracetamolDelivery("B-100", 50, "3.00"))
	require.NoError(t, err)

	assert.Equal(t, pharmacy.IntakeAppended, outcome)
	assert.Len(t, med.Batches, 2)
}

func TestIntake_DifferentBrand_NewMedicine(t *testing.T) {
	// Identity is (name, generic, brand); a different brand is a new record.
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	first, _, err := engine.Intake(ctx, paracetamolDelivery("B-100", 100, "2.50"))
	require.NoError(t, err)

	other := paracetamolDelivery("B-100", 50, "2.50")
	other.Brand = "Ace"
	med, outcome, err := engine.Intake(ctx, other)
	require.NoError(t, err)

	assert.Equal(t, pharmacy.IntakeCreated, outcome)
	assert.NotEqual(t, first.ID, med.ID)
}

func TestIntake_Validation(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*pharmacy.IntakeRequest)
	}{
		{"missing name", func(r *pharmacy.IntakeRequest) { r.Name = "" }},
		{"missing generic", func(r *pharmacy.IntakeRequest) { r.Generic = "" }},
		{"missing batch number", func(r *pharmacy.IntakeRequest) { r.BatchNumber = "" }},
		{"zero quantity", func(r *pharmacy.IntakeRequest) { r.Quantity = 0 }},
		{"negative quantity", func(r *pharmacy.IntakeRequest) { r.Quantity = -5 }},
		{"negative price", func(r *pharmacy.IntakeRequest) { r.UnitPrice = money("-1") }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := paracetamolDelivery("B-100", 100, "2.50")
			tc.mutate(&req)

			_, _, err := engine.Intake(ctx, req)

			require.Error(t, err)
			assert.ErrorIs(t, err, pharmacy.ErrValidation)
		})
	}

	// Nothing persisted by the rejected requests
	meds, err := store.ListMedicines(ctx)
	require.NoError(t, err)
	assert.Empty(t, meds)
}

// =============================================================================
// BATCH UPDATE
// =============================================================================

func TestUpdateBatch_RecomputesStock(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, _, err := engine.Intake(ctx, paracetamolDelivery("B-100", 100, "2.50"))
	require.NoError(t, err)
	_, _, err = engine.Intake(ctx, paracetamolDelivery("B-200", 50, "2.75"))
	require.NoError(t, err)

	qty := int64(80)
	price := money("2.60")
	med, err := engine.UpdateBatch(ctx, "Paracetamol", "B-100", pharmacy.BatchUpdate{
		Quantity:  &qty,
		UnitPrice: &price,
	})
	require.NoError(t, err)

	b, ok := pharmacy.FindBatch(med, "B-100")
	require.True(t, ok)
	assert.Equal(t, int64(80), b.Quantity)
	assert.True(t, b.UnitPrice.Equal(money("2.60")))
	assert.Equal(t, int64(130), med.CurrentStock, "aggregate recomputed from batches")
}

func TestUpdateBatch_MedicineFieldsRideAlong(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, _, err := engine.Intake(ctx, paracetamolDelivery("B-100", 100, "2.50"))
	require.NoError(t, err)

	generic := "Paracetamolum"
	med, err := engine.UpdateBatch(ctx, "Paracetamol", "B-100", pharmacy.BatchUpdate{
		Generic: &generic,
	})
	require.NoError(t, err)

	assert.Equal(t, "Paracetamolum", med.Generic)
}

func TestUpdateBatch_NegativeQuantity_Rejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, _, err := engine.Intake(ctx, paracetamolDelivery("B-100", 100, "2.50"))
	require.NoError(t, err)

	qty := int64(-1)
	_, err = engine.UpdateBatch(ctx, "Paracetamol", "B-100", pharmacy.BatchUpdate{Quantity: &qty})

	require.Error(t, err)
	assert.ErrorIs(t, err, pharmacy.ErrValidation)
}

func TestUpdateBatch_UnknownBatch_NotFound(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, _, err := engine.Intake(ctx, paracetamolDelivery("B-100", 100, "2.50"))
	require.NoError(t, err)

	qty := int64(10)
	_, err = engine.UpdateBatch(ctx, "Paracetamol", "B-404", pharmacy.BatchUpdate{Quantity: &qty})

	require.Error(t, err)
	assert.True(t, pharmacy.IsNotFound(err))
}

// =============================================================================
// BATCH DELETE + PRUNE CASCADE
// =============================================================================

func TestDeleteBatch_KeepsMedicineWithRemainingBatches(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	med, _, err := engine.Intake(ctx, paracetamolDelivery("B-100", 100, "2.50"))
	require.NoError(t, err)
	_, _, err = engine.Intake(ctx, paracetamolDelivery("B-200", 50, "2.75"))
	require.NoError(t, err)

	removed, err := engine.DeleteBatch(ctx, "Paracetamol", "B-100")
	require.NoError(t, err)
	assert.Equal(t, int64(100), removed.Quantity)

	after, err := engine.Medicine(ctx, med.ID)
	require.NoError(t, err)
	assert.Len(t, after.Batches, 1)
	assert.Equal(t, int64(50), after.CurrentStock)
}

func TestDeleteBatch_LastBatch_DeletesMedicine(t *testing.T) {
	// GIVEN: A medicine with a single batch
	// WHEN: That batch is deleted
	// THEN: The medicine record is gone too

	engine, store := newTestEngine(t)
	ctx := context.Background()

	med, _, err := engine.Intake(ctx, paracetamolDelivery("B-100", 100, "2.50"))
	require.NoError(t, err)

	_, err = engine.DeleteBatch(ctx, "Paracetamol", "B-100")
	require.NoError(t, err)

	gone, err := store.GetMedicine(ctx, med.ID)
	require.NoError(t, err)
	assert.Nil(t, gone, "last batch removal cascades to the medicine")
}

func TestDeleteBatch_LastBatch_KeepEmptyMedicines(t *testing.T) {
	engine, store := newTestEngine(t, pharmacy.KeepEmptyMedicines())
	ctx := context.Background()

	med, _, err := engine.Intake(ctx, paracetamolDelivery("B-100", 100, "2.50"))
	require.NoError(t, err)

	_, err = engine.DeleteBatch(ctx, "Paracetamol", "B-100")
	require.NoError(t, err)

	kept, err := store.GetMedicine(ctx, med.ID)
	require.NoError(t, err)
	require.NotNil(t, kept, "cascade disabled")
	assert.Empty(t, kept.Batches)
	assert.Equal(t, int64(0), kept.CurrentStock)
}

func TestDeleteBatch_CaseInsensitiveName(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, _, err := engine.Intake(ctx, paracetamolDelivery("B-100", 100, "2.50"))
	require.NoError(t, err)

	_, err = engine.DeleteBatch(ctx, "paracetamol", "B-100")
	assert.NoError(t, err, "name lookup is case-insensitive")
}

// =============================================================================
// CATALOG QUERIES
// =============================================================================

func TestMedicinesByName_Variants(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, _, err := engine.Intake(ctx, paracetamolDelivery("B-100", 100, "2.50"))
	require.NoError(t, err)

	extra := paracetamolDelivery("B-200", 10, "4.00")
	extra.Name = "Paracetamol Extra"
	_, _, err = engine.Intake(ctx, extra)
	require.NoError(t, err)

	other := paracetamolDelivery("B-300", 10, "1.00")
	other.Name = "Ibuprofen"
	other.Generic = "Ibuprofen"
	_, _, err = engine.Intake(ctx, other)
	require.NoError(t, err)

	meds, err := engine.MedicinesByName(ctx, "paracetamol")
	require.NoError(t, err)
	require.Len(t, meds, 2, "exact match plus word-prefix variants")
	assert.Equal(t, "Paracetamol", meds[0].Name)
	assert.Equal(t, "Paracetamol Extra", meds[1].Name)
}

func TestMedicinesByBrand_Substring(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, _, err := engine.Intake(ctx, paracetamolDelivery("B-100", 100, "2.50"))
	require.NoError(t, err)

	meds, err := engine.MedicinesByBrand(ctx, "nap")
	require.NoError(t, err)
	require.Len(t, meds, 1)
	assert.Equal(t, "Napa", meds[0].Brand)
}

// =============================================================================
// STOCK FLAGS
// =============================================================================

func TestIsLowStock_AtThreshold(t *testing.T) {
	m := &pharmacy.Medicine{MinStockLevel: 20, CurrentStock: 20}
	assert.True(t, m.IsLowStock(), "at the threshold counts as low")

	m.CurrentStock = 21
	assert.False(t, m.IsLowStock())
}

func TestHasExpiredBatch_Boundary(t *testing.T) {
	now := day(2026, 9, 1)
	m := testMedicine(
		pharmacy.Batch{BatchNumber: "B-1", ExpiryDate: day(2026, 9, 1), Quantity: 5},
	)

	assert.True(t, m.HasExpiredBatch(now), "expiry at now counts as expired")
	assert.False(t, m.HasExpiredBatch(day(2026, 8, 31)))
}
