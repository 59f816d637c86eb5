package pharmacy_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediset/pharmacy-engine/pharmacy"
	"github.com/mediset/pharmacy-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// reportFixture seeds a small pharmacy: two medicines (one low, one
// expired), one receipt and two sales on known dates.
type reportFixture struct {
	store    *sqlite.Store
	reporter *pharmacy.Reporter
	now      time.Time
}

func newReportFixture(t *testing.T) *reportFixture {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	engine := pharmacy.NewEngine(store, pharmacy.WithClock(clock))
	ctx := context.Background()

	// Plenty of stock, far expiry
	med, _, err := engine.Intake(ctx, paracetamolDelivery("B-100", 100, "2.50"))
	require.NoError(t, err)

	// Low stock (min level 20, holding 5) with an already expired batch
	low := paracetamolDelivery("B-900", 5, "1.00")
	low.Name, low.Generic, low.Brand = "Amoxicillin", "Amoxicillin", "Amoxil"
	low.ExpiryDate = day(2026, 1, 1)
	_, _, err = engine.Intake(ctx, low)
	require.NoError(t, err)

	// One patient, one receipt today
	patient, err := pharmacy.NewPatientRegistry(store).Register(ctx,
		pharmacy.RegisterPatientRequest{Name: "Karima Begum", Phone: "01711-000009"})
	require.NoError(t, err)

	receipts := pharmacy.NewReceiptManager(store, pharmacy.WithReceiptClock(clock))
	_, err = receipts.Create(ctx, pharmacy.CreateReceiptRequest{
		PatientID: patient.ID,
		Lines:     []pharmacy.LineRequest{{MedicineID: med.ID, BatchNumber: "B-100", Quantity: 2}},
	})
	require.NoError(t, err)

	// One sale yesterday, one today
	sales := pharmacy.NewSaleManager(store, pharmacy.WithSaleClock(func() time.Time { return now.AddDate(0, 0, -1) }))
	_, err = sales.Create(ctx, pharmacy.CreateSaleRequest{
		CustomerName:  "Walk-in",
		Items:         []pharmacy.LineRequest{{MedicineID: med.ID, BatchNumber: "B-100", Quantity: 4}}, // 10.00
		PaymentMethod: pharmacy.PaymentCash,
	})
	require.NoError(t, err)

	salesToday := pharmacy.NewSaleManager(store, pharmacy.WithSaleClock(clock))
	_, err = salesToday.Create(ctx, pharmacy.CreateSaleRequest{
		CustomerName:  "Walk-in",
		Items:         []pharmacy.LineRequest{{MedicineID: med.ID, BatchNumber: "B-100", Quantity: 8}}, // 20.00
		PaymentMethod: pharmacy.PaymentCard,
	})
	require.NoError(t, err)

	return &reportFixture{
		store:    store,
		reporter: pharmacy.NewReporter(store).WithClock(clock),
		now:      now,
	}
}

// =============================================================================
// DASHBOARD
// =============================================================================

func TestDashboard(t *testing.T) {
	f := newReportFixture(t)

	stats, err := f.reporter.Dashboard(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.TotalMedicines)
	assert.Equal(t, 1, stats.LowStockMedicines)
	assert.Equal(t, 1, stats.ExpiredMedicines)

	assert.Equal(t, 1, stats.TotalReceipts)
	assert.Equal(t, 1, stats.TodayReceipts)

	assert.Equal(t, 1, stats.TodaySales)
	assert.True(t, stats.TodayRevenue.Equal(money("20")), "only today's sale counts")
	assert.Equal(t, 2, stats.TotalSales)
	assert.True(t, stats.TotalRevenue.Equal(money("30")))
}

// =============================================================================
// SALES RANGE
// =============================================================================

func TestSalesInRange(t *testing.T) {
	f := newReportFixture(t)
	ctx := context.Background()

	from := pharmacy.StartOfDay(f.now.AddDate(0, 0, -1))
	to := pharmacy.StartOfDay(f.now) // half-open: excludes today

	stats, err := f.reporter.SalesInRange(ctx, from, to)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Count)
	assert.True(t, stats.Revenue.Equal(money("10")))
}

func TestSalesInRange_InvertedRange_Rejected(t *testing.T) {
	f := newReportFixture(t)

	_, err := f.reporter.SalesInRange(context.Background(), f.now, f.now.AddDate(0, 0, -1))

	require.Error(t, err)
	assert.ErrorIs(t, err, pharmacy.ErrValidation)
}

// =============================================================================
// STOCK LISTS
// =============================================================================

func TestLowStock(t *testing.T) {
	f := newReportFixture(t)

	meds, err := f.reporter.LowStock(context.Background())
	require.NoError(t, err)

	require.Len(t, meds, 1)
	assert.Equal(t, "Amoxicillin", meds[0].Name)
}

func TestExpired(t *testing.T) {
	f := newReportFixture(t)

	meds, err := f.reporter.Expired(context.Background())
	require.NoError(t, err)

	require.Len(t, meds, 1)
	assert.Equal(t, "Amoxicillin", meds[0].Name)
}
