/*
store.go - Persistence contract consumed by the engine

PURPOSE:
  Defines the narrow interface between the stock engine and the database.
  Different implementations can use SQLite or in-memory storage; the
  engine only sees these contracts.

TRANSACTIONAL BOUNDARY:
  Every read-validate-mutate sequence in the engine runs inside
  TxStore.WithTx. Two concurrent sales must never both pass a stock check
  against a stale read; the store either serializes them (database
  transaction) or rejects one (version check -> ErrConcurrentModification).

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store
  - pharmacy/store: in-memory store for tests
*/
package pharmacy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MedicineStore persists medicines together with their batch ledgers.
// Get/Find return (nil, nil) when the record is absent; callers decide
// whether that is a NotFoundError.
type MedicineStore interface {
	GetMedicine(ctx context.Context, id MedicineID) (*Medicine, error)

	// FindMedicineByIdentity looks up the drug concept by its natural key.
	FindMedicineByIdentity(ctx context.Context, name, generic, brand string) (*Medicine, error)

	// FindMedicineByBatch locates the medicine holding a named batch.
	FindMedicineByBatch(ctx context.Context, name, batchNumber string) (*Medicine, error)

	ListMedicines(ctx context.Context) ([]Medicine, error)

	// SaveMedicine upserts the medicine and replaces its batch list.
	// Implementations with version support return ErrConcurrentModification
	// when the stored version no longer matches.
	SaveMedicine(ctx context.Context, m *Medicine) error

	DeleteMedicine(ctx context.Context, id MedicineID) error
}

// ReceiptStore persists receipts.
type ReceiptStore interface {
	GetReceipt(ctx context.Context, id ReceiptID) (*Receipt, error)
	ListReceipts(ctx context.Context) ([]Receipt, error)
	SaveReceipt(ctx context.Context, r *Receipt) error
	DeleteReceipt(ctx context.Context, id ReceiptID) error
	CountReceiptsInRange(ctx context.Context, from, to time.Time) (int, error)
}

// SaleStore persists pharmacy sales and owns the daily sale counter.
type SaleStore interface {
	GetSale(ctx context.Context, id SaleID) (*Sale, error)
	ListSalesInRange(ctx context.Context, from, to time.Time) ([]Sale, error)
	SaveSale(ctx context.Context, s *Sale) error
	CountSalesInRange(ctx context.Context, from, to time.Time) (int, error)
	SumSalesInRange(ctx context.Context, from, to time.Time) (SalesTotal, error)

	// NextSaleNumber atomically increments and returns the counter for the
	// given calendar day. Must be called inside the same transaction as
	// SaveSale so two concurrent sales cannot share a number.
	NextSaleNumber(ctx context.Context, day time.Time) (int, error)
}

// PatientStore persists patients. Phone numbers are unique;
// implementations return DuplicateIdentityError on collision.
type PatientStore interface {
	GetPatient(ctx context.Context, id PatientID) (*Patient, error)
	FindPatientByPhone(ctx context.Context, phone string) (*Patient, error)
	ListPatients(ctx context.Context) ([]Patient, error)
	SavePatient(ctx context.Context, p *Patient) error
	DeletePatient(ctx context.Context, id PatientID) error
}

// SalesTotal is the aggregate a range query returns.
type SalesTotal struct {
	Count   int
	Revenue decimal.Decimal
}

// Store is the full persistence surface the engine composes over.
type Store interface {
	MedicineStore
	ReceiptStore
	SaleStore
	PatientStore
}

// TxStore wraps Store with transaction support.
//
// WithTx executes fn against a Store view whose operations are one atomic
// unit: if fn returns an error nothing is applied, otherwise everything
// is. The engine wraps every validate-then-mutate sequence in WithTx.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
