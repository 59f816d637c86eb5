package pharmacy_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediset/pharmacy-engine/pharmacy"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testMedicine(batches ...pharmacy.Batch) *pharmacy.Medicine {
	m := &pharmacy.Medicine{
		ID:      "med-1",
		Name:    "Paracetamol",
		Generic: "Acetaminophen",
		Brand:   "Napa",
		Batches: batches,
	}
	m.CurrentStock = m.TotalBatchQuantity()
	return m
}

// =============================================================================
// ADJUST QUANTITY
// =============================================================================

func TestAdjustQuantity_Deplete(t *testing.T) {
	m := testMedicine(
		pharmacy.Batch{BatchNumber: "B-100", ExpiryDate: day(2027, 1, 1), UnitPrice: money("2.50"), Quantity: 100},
		pharmacy.Batch{BatchNumber: "B-200", ExpiryDate: day(2027, 6, 1), UnitPrice: money("2.75"), Quantity: 50},
	)

	err := pharmacy.AdjustQuantity(m, "B-100", -30)
	require.NoError(t, err)

	b, ok := pharmacy.FindBatch(m, "B-100")
	require.True(t, ok)
	assert.Equal(t, int64(70), b.Quantity)
	assert.Equal(t, int64(120), m.CurrentStock, "stock must track batch sum")
	assert.Equal(t, m.TotalBatchQuantity(), m.CurrentStock)
}

func TestAdjustQuantity_Restore(t *testing.T) {
	m := testMedicine(
		pharmacy.Batch{BatchNumber: "B-100", ExpiryDate: day(2027, 1, 1), UnitPrice: money("2.50"), Quantity: 70},
	)

	err := pharmacy.AdjustQuantity(m, "B-100", 30)
	require.NoError(t, err)

	assert.Equal(t, int64(100), m.CurrentStock)
}

func TestAdjustQuantity_ExactDepletion_RemovesBatch(t *testing.T) {
	// GIVEN: A batch with exactly 40 units
	// WHEN: 40 units are depleted
	// THEN: The batch disappears rather than lingering at zero

	m := testMedicine(
		pharmacy.Batch{BatchNumber: "B-100", ExpiryDate: day(2027, 1, 1), UnitPrice: money("2.50"), Quantity: 40},
		pharmacy.Batch{BatchNumber: "B-200", ExpiryDate: day(2027, 6, 1), UnitPrice: money("2.75"), Quantity: 10},
	)

	err := pharmacy.AdjustQuantity(m, "B-100", -40)
	require.NoError(t, err)

	_, ok := pharmacy.FindBatch(m, "B-100")
	assert.False(t, ok, "zero-quantity batch must be removed")
	assert.Len(t, m.Batches, 1)
	assert.Equal(t, int64(10), m.CurrentStock)
}

func TestAdjustQuantity_Overdraw_Rejected(t *testing.T) {
	m := testMedicine(
		pharmacy.Batch{BatchNumber: "B-100", ExpiryDate: day(2027, 1, 1), UnitPrice: money("2.50"), Quantity: 10},
	)

	err := pharmacy.AdjustQuantity(m, "B-100", -11)

	require.Error(t, err)
	var stockErr *pharmacy.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(10), stockErr.Available)
	assert.Equal(t, int64(11), stockErr.Requested)
	assert.ErrorIs(t, err, pharmacy.ErrInsufficientStock)

	// Ledger untouched on rejection
	b, ok := pharmacy.FindBatch(m, "B-100")
	require.True(t, ok)
	assert.Equal(t, int64(10), b.Quantity)
	assert.Equal(t, int64(10), m.CurrentStock)
}

func TestAdjustQuantity_UnknownBatch_NotFound(t *testing.T) {
	m := testMedicine(
		pharmacy.Batch{BatchNumber: "B-100", ExpiryDate: day(2027, 1, 1), UnitPrice: money("2.50"), Quantity: 10},
	)

	err := pharmacy.AdjustQuantity(m, "B-999", -1)

	require.Error(t, err)
	assert.True(t, pharmacy.IsNotFound(err))
}

func TestAdjustQuantity_DuplicateNumbers_EarliestExpiryTargeted(t *testing.T) {
	// GIVEN: Two lots sharing a batch number from a re-priced delivery
	// WHEN: That number is depleted and then restored
	// THEN: Both operations resolve to the lot expiring first

	m := testMedicine(
		pharmacy.Batch{BatchNumber: "B-100", ExpiryDate: day(2027, 6, 1), UnitPrice: money("3.00"), Quantity: 50},
		pharmacy.Batch{BatchNumber: "B-100", ExpiryDate: day(2027, 1, 1), UnitPrice: money("2.50"), Quantity: 40},
	)

	require.NoError(t, pharmacy.AdjustQuantity(m, "B-100", -30))

	b, ok := pharmacy.FindBatch(m, "B-100")
	require.True(t, ok)
	assert.True(t, b.UnitPrice.Equal(money("2.50")), "earlier-expiring lot absorbs the depletion")
	assert.Equal(t, int64(10), b.Quantity)
	assert.Equal(t, int64(60), m.CurrentStock)

	require.NoError(t, pharmacy.AdjustQuantity(m, "B-100", 30))
	assert.Equal(t, int64(40), b.Quantity, "reversal lands on the same lot")
}

func TestRemoveBatch_DuplicateNumbers_EarliestExpiryRemoved(t *testing.T) {
	m := testMedicine(
		pharmacy.Batch{BatchNumber: "B-100", ExpiryDate: day(2027, 6, 1), UnitPrice: money("3.00"), Quantity: 50},
		pharmacy.Batch{BatchNumber: "B-100", ExpiryDate: day(2027, 1, 1), UnitPrice: money("2.50"), Quantity: 40},
	)

	removed, err := pharmacy.RemoveBatch(m, "B-100")
	require.NoError(t, err)

	assert.True(t, removed.UnitPrice.Equal(money("2.50")))
	require.Len(t, m.Batches, 1)
	assert.Equal(t, int64(50), m.CurrentStock)
}

// =============================================================================
// MERGE OR APPEND
// =============================================================================

func TestMergeOrAppendBatch_ExactLot_Merges(t *testing.T) {
	m := testMedicine(
		pharmacy.Batch{BatchNumber: "B-100", ExpiryDate: day(2027, 1, 1), UnitPrice: money("2.50"), Quantity: 100},
	)

	pharmacy.MergeOrAppendBatch(m, pharmacy.BatchSpec{
		BatchNumber: "B-100",
		ExpiryDate:  day(2027, 1, 1),
		UnitPrice:   money("2.50"),
	}, 50)

	require.Len(t, m.Batches, 1, "same lot must merge, not duplicate")
	assert.Equal(t, int64(150), m.Batches[0].Quantity)
	assert.Equal(t, int64(150), m.CurrentStock)
}

func TestMergeOrAppendBatch_SameNumberDifferentPrice_Appends(t *testing.T) {
	// Same batch number but a different price is a different lot.
	m := testMedicine(
		pharmacy.Batch{BatchNumber: "B-100", ExpiryDate: day(2027, 1, 1), UnitPrice: money("2.50"), Quantity: 100},
	)

	pharmacy.MergeOrAppendBatch(m, pharmacy.BatchSpec{
		BatchNumber: "B-100",
		ExpiryDate:  day(2027, 1, 1),
		UnitPrice:   money("3.00"),
	}, 50)

	assert.Len(t, m.Batches, 2)
	assert.Equal(t, int64(150), m.CurrentStock)
}

func TestMergeOrAppendBatch_NewNumber_Appends(t *testing.T) {
	m := testMedicine(
		pharmacy.Batch{BatchNumber: "B-100", ExpiryDate: day(2027, 1, 1), UnitPrice: money("2.50"), Quantity: 100},
	)

	pharmacy.MergeOrAppendBatch(m, pharmacy.BatchSpec{
		BatchNumber: "B-200",
		ExpiryDate:  day(2027, 6, 1),
		UnitPrice:   money("2.75"),
	}, 25)

	assert.Len(t, m.Batches, 2)
	assert.Equal(t, int64(125), m.CurrentStock)
}

// =============================================================================
// REMOVE BATCH
// =============================================================================

func TestRemoveBatch(t *testing.T) {
	m := testMedicine(
		pharmacy.Batch{BatchNumber: "B-100", ExpiryDate: day(2027, 1, 1), UnitPrice: money("2.50"), Quantity: 100},
		pharmacy.Batch{BatchNumber: "B-200", ExpiryDate: day(2027, 6, 1), UnitPrice: money("2.75"), Quantity: 50},
	)

	removed, err := pharmacy.RemoveBatch(m, "B-100")
	require.NoError(t, err)

	assert.Equal(t, "B-100", removed.BatchNumber)
	assert.Equal(t, int64(100), removed.Quantity)
	assert.Len(t, m.Batches, 1)
	assert.Equal(t, int64(50), m.CurrentStock)
}

func TestRemoveBatch_Unknown_NotFound(t *testing.T) {
	m := testMedicine()

	_, err := pharmacy.RemoveBatch(m, "B-404")

	require.Error(t, err)
	assert.True(t, pharmacy.IsNotFound(err))
}

// =============================================================================
// SALE NUMBER FORMAT
// =============================================================================

func TestFormatSaleNumber(t *testing.T) {
	d := day(2026, 3, 9)

	assert.Equal(t, "SALE-20260309-0001", pharmacy.FormatSaleNumber(d, 1))
	assert.Equal(t, "SALE-20260309-0042", pharmacy.FormatSaleNumber(d, 42))
	assert.Equal(t, "SALE-20260309-10000", pharmacy.FormatSaleNumber(d, 10000))
}
