/*
sale.go - Pharmacy counter sales

PURPOSE:
  The counter variant of a receipt: same depletion semantics, plus
  subtotal/tax/discount arithmetic and a daily sequential sale number.

SALE NUMBERING:
  SALE-YYYYMMDD-NNNN, reset each calendar day. The sequence comes from
  SaleStore.NextSaleNumber, an atomic per-day counter incremented inside
  the same transaction that persists the sale. A count-then-format read
  would let two concurrent creates mint the same number.
*/
package pharmacy

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateSaleRequest creates a counter sale.
type CreateSaleRequest struct {
	CustomerName  string
	CustomerPhone string
	Items         []LineRequest
	Tax           decimal.Decimal
	Discount      decimal.Decimal
	PaymentMethod PaymentMethod
	SoldBy        string
}

// SaleManager converts sale requests into numbered, persisted sales.
type SaleManager struct {
	store              TxStore
	keepEmptyMedicines bool
	now                func() time.Time
}

// SaleOption configures a SaleManager.
type SaleOption func(*SaleManager)

// WithSaleClock overrides the manager clock (tests).
func WithSaleClock(now func() time.Time) SaleOption {
	return func(sm *SaleManager) { sm.now = now }
}

// KeepEmptyMedicinesOnCounterSale retains medicines a sale fully drains
// instead of pruning them.
func KeepEmptyMedicinesOnCounterSale() SaleOption {
	return func(sm *SaleManager) { sm.keepEmptyMedicines = true }
}

// NewSaleManager creates a sale manager over the given store.
func NewSaleManager(store TxStore, opts ...SaleOption) *SaleManager {
	sm := &SaleManager{store: store, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

func validPaymentMethod(m PaymentMethod) bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentInsurance, PaymentCredit:
		return true
	}
	return false
}

// Create validates and applies the depletion, computes totals, assigns
// the sale number, and persists the sale - one atomic unit.
func (sm *SaleManager) Create(ctx context.Context, req CreateSaleRequest) (*Sale, error) {
	if req.CustomerName == "" {
		return nil, &ValidationError{Field: "customerName", Reason: "required"}
	}
	if !validPaymentMethod(req.PaymentMethod) {
		return nil, &ValidationError{Field: "paymentMethod", Reason: "must be cash, card, insurance, or credit"}
	}
	if req.Tax.IsNegative() {
		return nil, &ValidationError{Field: "tax", Reason: "must not be negative"}
	}
	if req.Discount.IsNegative() {
		return nil, &ValidationError{Field: "discount", Reason: "must not be negative"}
	}
	if err := validateLineRequests(req.Items); err != nil {
		return nil, err
	}

	var sale *Sale
	err := sm.store.WithTx(ctx, func(s Store) error {
		lines, touched, err := stageDepletion(ctx, s, req.Items)
		if err != nil {
			return err
		}

		subtotal := sumLineTotals(lines)
		total := subtotal.Add(req.Tax).Sub(req.Discount)
		if total.IsNegative() {
			return &ValidationError{Field: "discount", Reason: "exceeds subtotal plus tax"}
		}

		now := sm.now()
		if err := persistTouched(ctx, s, touched, sm.keepEmptyMedicines, now); err != nil {
			return err
		}

		seq, err := s.NextSaleNumber(ctx, now)
		if err != nil {
			return err
		}

		items := make([]SaleItem, len(lines))
		for i, ln := range lines {
			items[i] = SaleItem(ln)
		}

		sale = &Sale{
			ID:            SaleID(uuid.NewString()),
			SaleNumber:    FormatSaleNumber(now, seq),
			CustomerName:  req.CustomerName,
			CustomerPhone: req.CustomerPhone,
			Items:         items,
			Subtotal:      subtotal,
			Tax:           req.Tax,
			Discount:      req.Discount,
			Total:         total,
			PaymentMethod: req.PaymentMethod,
			SoldBy:        req.SoldBy,
			SaleDate:      now,
		}
		return s.SaveSale(ctx, sale)
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

// Get returns a sale by id.
func (sm *SaleManager) Get(ctx context.Context, id SaleID) (*Sale, error) {
	s, err := sm.store.GetSale(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, &NotFoundError{Kind: "sale", ID: string(id)}
	}
	return s, nil
}

// ListInRange returns sales with SaleDate in [from, to).
func (sm *SaleManager) ListInRange(ctx context.Context, from, to time.Time) ([]Sale, error) {
	return sm.store.ListSalesInRange(ctx, from, to)
}
