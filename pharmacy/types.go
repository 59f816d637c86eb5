/*
Package pharmacy provides the core stock-keeping engine of the hospital
backend.

KEY CONCEPTS IN THIS FILE (types.go):
  - Medicine: a drug concept identified by (name, generic, brand), owning
    a list of Batches. Its CurrentStock is a derived aggregate, always
    recomputed as the sum of batch quantities - never written on its own.
  - Batch: a trackable lot (batch number, expiry, unit price, quantity).
  - Receipt: a priced transaction depleting batches, with prices captured
    at transaction time so later catalog edits never alter history.
  - Sale: the pharmacy counter variant of a receipt, with subtotal, tax,
    discount, and a daily sequential sale number.

DESIGN PRINCIPLES:
  1. Derived aggregates: CurrentStock mirrors the batch ledger, nothing else.
  2. Precision: money uses decimal.Decimal to avoid floating-point drift.
  3. Snapshots: receipt and sale lines denormalize the medicine identity
     and capture the unit price at creation time.

SEE ALSO:
  - ledger.go: batch quantity adjustments and the stock invariant
  - reconcile.go: intake matching (merge, append, or create)
  - receipt.go: receipt create/update/delete with ledger reversal
  - sale.go: pharmacy sales and sale numbering
*/
package pharmacy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type MedicineID string
type ReceiptID string
type SaleID string
type PatientID string

// =============================================================================
// MEDICINE & BATCH - The stock ledger
// =============================================================================

// Batch is one lot of a medicine. Unique within a medicine by BatchNumber.
// Quantity is never negative; a batch that reaches zero is removed from
// the ledger rather than kept as an empty record.
type Batch struct {
	BatchNumber string
	ExpiryDate  time.Time
	UnitPrice   decimal.Decimal
	Quantity    int64
}

// BatchSpec identifies a batch for intake matching. Two specs are the
// same lot only when batch number, expiry, and price all match exactly.
type BatchSpec struct {
	BatchNumber string
	ExpiryDate  time.Time
	UnitPrice   decimal.Decimal
}

// Matches reports whether an existing batch is the same lot as the spec.
func (s BatchSpec) Matches(b Batch) bool {
	return b.BatchNumber == s.BatchNumber &&
		b.ExpiryDate.Equal(s.ExpiryDate) &&
		b.UnitPrice.Equal(s.UnitPrice)
}

// Medicine is a drug concept plus its batch ledger.
//
// INVARIANT: CurrentStock == sum of Batches[i].Quantity after every
// mutation. The ledger functions maintain this; nothing else may write
// CurrentStock.
type Medicine struct {
	ID      MedicineID
	Name    string
	Generic string
	Brand   string

	// Classification (optional catalog fields).
	Category string
	Form     string
	Strength string

	MinStockLevel int64
	CurrentStock  int64
	Batches       []Batch

	// Version supports optimistic concurrency checks in stores that
	// implement them. Incremented on every successful save.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TotalBatchQuantity sums the ledger. Used to recompute CurrentStock and
// by tests to assert the stock invariant.
func (m *Medicine) TotalBatchQuantity() int64 {
	var total int64
	for _, b := range m.Batches {
		total += b.Quantity
	}
	return total
}

// IsLowStock reports whether stock has fallen to or below the reorder level.
func (m *Medicine) IsLowStock() bool {
	return m.CurrentStock <= m.MinStockLevel
}

// HasExpiredBatch reports whether any batch expired at or before now.
func (m *Medicine) HasExpiredBatch(now time.Time) bool {
	for _, b := range m.Batches {
		if !b.ExpiryDate.After(now) {
			return true
		}
	}
	return false
}

// =============================================================================
// RECEIPT - Recorded depletion with captured pricing
// =============================================================================

// ReceiptLine is one depleted batch within a receipt. The medicine identity
// is a denormalized snapshot and UnitPrice is the batch price at creation
// time, so editing the catalog later never rewrites history.
type ReceiptLine struct {
	MedicineID  MedicineID
	BatchNumber string

	// Snapshot of the medicine identity at transaction time.
	MedicineName string
	Generic      string
	Brand        string

	Quantity  int64
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// Receipt records one transaction against the ledger.
//
// INVARIANT: TotalAmount == sum of Lines[i].LineTotal, and each
// LineTotal == UnitPrice * Quantity.
type Receipt struct {
	ID          ReceiptID
	PatientID   PatientID
	Lines       []ReceiptLine
	TotalAmount decimal.Decimal
	ReceiptDate time.Time
}

// =============================================================================
// SALE - Pharmacy counter variant of a receipt
// =============================================================================

type PaymentMethod string

const (
	PaymentCash      PaymentMethod = "cash"
	PaymentCard      PaymentMethod = "card"
	PaymentInsurance PaymentMethod = "insurance"
	PaymentCredit    PaymentMethod = "credit"
)

// SaleItem mirrors ReceiptLine for pharmacy sales.
type SaleItem struct {
	MedicineID  MedicineID
	BatchNumber string

	MedicineName string
	Generic      string
	Brand        string

	Quantity  int64
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// Sale is a counter sale with tax and discount on top of the item subtotal.
// SaleNumber is assigned at persist time (SALE-YYYYMMDD-NNNN, daily reset)
// from an atomic per-day counter, never from a count-then-format read.
type Sale struct {
	ID         SaleID
	SaleNumber string

	CustomerName  string
	CustomerPhone string

	Items    []SaleItem
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal

	PaymentMethod PaymentMethod
	SoldBy        string
	SaleDate      time.Time
}

// FormatSaleNumber renders the daily sequence as SALE-YYYYMMDD-NNNN.
func FormatSaleNumber(day time.Time, seq int) string {
	return fmt.Sprintf("SALE-%s-%04d", day.Format("20060102"), seq)
}

// =============================================================================
// PATIENT - Carried only as far as the core needs it
// =============================================================================

// Patient is the receipt counterparty. Phone numbers are unique.
type Patient struct {
	ID        PatientID
	Name      string
	Phone     string
	Age       int
	Gender    string
	Address   string
	CreatedAt time.Time
}
