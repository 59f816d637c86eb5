/*
report.go - Read-only rollups over the ledger and transaction history

Everything here computes from persisted state as of "now" or a caller
supplied range; nothing mutates. Low-stock and expiry flags derive from
the same ledger the write path maintains, so they are consistent with
CurrentStock by construction.
*/
package pharmacy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DashboardStats is the rollup behind the dashboard endpoint.
type DashboardStats struct {
	TotalMedicines    int
	LowStockMedicines int
	ExpiredMedicines  int

	TotalReceipts int
	TodayReceipts int

	TodaySales        int
	TodayRevenue      decimal.Decimal
	TotalSales        int
	TotalRevenue      decimal.Decimal
}

// SalesStats summarizes sales over an arbitrary range.
type SalesStats struct {
	From    time.Time
	To      time.Time
	Count   int
	Revenue decimal.Decimal
}

// Reporter computes dashboard and sales rollups.
type Reporter struct {
	store Store
	now   func() time.Time
}

// NewReporter creates a reporter over the given store.
func NewReporter(store Store) *Reporter {
	return &Reporter{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// WithReporterClock overrides the reporter clock (tests).
func (r *Reporter) WithClock(now func() time.Time) *Reporter {
	r.now = now
	return r
}

// StartOfDay truncates t to midnight in its location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Dashboard computes the stats as of now.
func (r *Reporter) Dashboard(ctx context.Context) (*DashboardStats, error) {
	now := r.now()
	dayStart := StartOfDay(now)
	dayEnd := dayStart.Add(24 * time.Hour)

	meds, err := r.store.ListMedicines(ctx)
	if err != nil {
		return nil, err
	}

	stats := &DashboardStats{
		TotalMedicines: len(meds),
		TodayRevenue:   decimal.Zero,
		TotalRevenue:   decimal.Zero,
	}
	for i := range meds {
		if meds[i].IsLowStock() {
			stats.LowStockMedicines++
		}
		if meds[i].HasExpiredBatch(now) {
			stats.ExpiredMedicines++
		}
	}

	if stats.TotalReceipts, err = r.store.CountReceiptsInRange(ctx, time.Time{}, farFuture); err != nil {
		return nil, err
	}
	if stats.TodayReceipts, err = r.store.CountReceiptsInRange(ctx, dayStart, dayEnd); err != nil {
		return nil, err
	}

	today, err := r.store.SumSalesInRange(ctx, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	stats.TodaySales = today.Count
	stats.TodayRevenue = today.Revenue

	all, err := r.store.SumSalesInRange(ctx, time.Time{}, farFuture)
	if err != nil {
		return nil, err
	}
	stats.TotalSales = all.Count
	stats.TotalRevenue = all.Revenue

	return stats, nil
}

// SalesInRange summarizes sales with SaleDate in [from, to).
func (r *Reporter) SalesInRange(ctx context.Context, from, to time.Time) (*SalesStats, error) {
	if to.Before(from) {
		return nil, &ValidationError{Field: "range", Reason: "end before start"}
	}
	total, err := r.store.SumSalesInRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return &SalesStats{From: from, To: to, Count: total.Count, Revenue: total.Revenue}, nil
}

// LowStock returns the medicines at or below their reorder level.
func (r *Reporter) LowStock(ctx context.Context) ([]Medicine, error) {
	meds, err := r.store.ListMedicines(ctx)
	if err != nil {
		return nil, err
	}
	var low []Medicine
	for i := range meds {
		if meds[i].IsLowStock() {
			low = append(low, meds[i])
		}
	}
	return low, nil
}

// Expired returns the medicines holding at least one expired batch.
func (r *Reporter) Expired(ctx context.Context) ([]Medicine, error) {
	meds, err := r.store.ListMedicines(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now()
	var expired []Medicine
	for i := range meds {
		if meds[i].HasExpiredBatch(now) {
			expired = append(expired, meds[i])
		}
	}
	return expired, nil
}

// farFuture bounds open-ended range queries.
var farFuture = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
