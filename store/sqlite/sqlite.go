/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements pharmacy.TxStore plus the user table backing the API's auth
  layer. In production the same patterns apply to PostgreSQL - only minor
  SQL dialect differences.

TRANSACTIONAL BOUNDARY:
  WithTx wraps a database transaction; every engine operation runs its
  whole read-validate-mutate sequence inside one. On top of that,
  SaveMedicine guards updates with a version column: a conflicting writer
  gets pharmacy.ErrConcurrentModification instead of silently clobbering
  a stale read.

SALE NUMBERING:
  sale_counters(day, counter) is upserted atomically; calling
  NextSaleNumber inside the sale's transaction guarantees strictly
  increasing, gap-free numbers per calendar day.

KEY TABLES:
  medicines + batches:       the stock ledger (current_stock is the cached
                             sum of batch quantities)
  receipts + receipt_lines:  dispensing history with denormalized snapshots
  sales + sale_items:        pharmacy sales with captured pricing
  sale_counters:             per-day atomic sale sequence
  patients, users:           receipt counterparties and API identities

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/pharmacy.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := pharmacy.NewEngine(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - pharmacy/store.go: Interface definitions
  - pharmacy/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/mediset/pharmacy-engine/pharmacy"
)

// Store implements pharmacy.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS medicines (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		generic TEXT NOT NULL,
		brand TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		form TEXT NOT NULL DEFAULT '',
		strength TEXT NOT NULL DEFAULT '',
		min_stock_level INTEGER NOT NULL DEFAULT 0,
		current_stock INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- One drug concept per (name, generic, brand)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_medicines_identity
		ON medicines(name, generic, brand);

	-- A batch number alone is not a lot identity: a re-priced or re-dated
	-- delivery of the same number lands as a separate row.
	CREATE TABLE IF NOT EXISTS batches (
		medicine_id TEXT NOT NULL REFERENCES medicines(id) ON DELETE CASCADE,
		batch_number TEXT NOT NULL,
		expiry_date TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		PRIMARY KEY (medicine_id, batch_number, expiry_date, unit_price)
	);

	CREATE INDEX IF NOT EXISTS idx_batches_expiry ON batches(expiry_date);
	CREATE INDEX IF NOT EXISTS idx_batches_number ON batches(batch_number);

	CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL UNIQUE,
		age INTEGER NOT NULL DEFAULT 0,
		gender TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS receipts (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		receipt_date TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_receipts_date ON receipts(receipt_date);

	CREATE TABLE IF NOT EXISTS receipt_lines (
		receipt_id TEXT NOT NULL REFERENCES receipts(id) ON DELETE CASCADE,
		line_no INTEGER NOT NULL,
		medicine_id TEXT NOT NULL,
		batch_number TEXT NOT NULL,
		medicine_name TEXT NOT NULL,
		generic TEXT NOT NULL,
		brand TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL,
		line_total TEXT NOT NULL,
		PRIMARY KEY (receipt_id, line_no)
	);

	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		sale_number TEXT NOT NULL UNIQUE,
		customer_name TEXT NOT NULL,
		customer_phone TEXT NOT NULL DEFAULT '',
		subtotal TEXT NOT NULL,
		tax TEXT NOT NULL,
		discount TEXT NOT NULL,
		total TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		sold_by TEXT NOT NULL DEFAULT '',
		sale_date TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sales_date ON sales(sale_date);

	CREATE TABLE IF NOT EXISTS sale_items (
		sale_id TEXT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
		line_no INTEGER NOT NULL,
		medicine_id TEXT NOT NULL,
		batch_number TEXT NOT NULL,
		medicine_name TEXT NOT NULL,
		generic TEXT NOT NULL,
		brand TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL,
		line_total TEXT NOT NULL,
		PRIMARY KEY (sale_id, line_no)
	);

	-- Atomic per-day sale sequence
	CREATE TABLE IF NOT EXISTS sale_counters (
		day TEXT PRIMARY KEY,
		counter INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so every query helper
// can run standalone or inside WithTx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONS (pharmacy.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction. Any error from fn
// rolls the whole transaction back.
func (s *Store) WithTx(ctx context.Context, fn func(pharmacy.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx, parent: s}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return storageErr("commit transaction", err)
	}
	return nil
}

// txStore routes every Store call through the enclosing *sql.Tx.
type txStore struct {
	q      *sql.Tx
	parent *Store
}

func (ts *txStore) GetMedicine(ctx context.Context, id pharmacy.MedicineID) (*pharmacy.Medicine, error) {
	return ts.parent.getMedicine(ctx, ts.q, id)
}
func (ts *txStore) FindMedicineByIdentity(ctx context.Context, name, generic, brand string) (*pharmacy.Medicine, error) {
	return ts.parent.findMedicineByIdentity(ctx, ts.q, name, generic, brand)
}
func (ts *txStore) FindMedicineByBatch(ctx context.Context, name, batchNumber string) (*pharmacy.Medicine, error) {
	return ts.parent.findMedicineByBatch(ctx, ts.q, name, batchNumber)
}
func (ts *txStore) ListMedicines(ctx context.Context) ([]pharmacy.Medicine, error) {
	return ts.parent.listMedicines(ctx, ts.q)
}
func (ts *txStore) SaveMedicine(ctx context.Context, m *pharmacy.Medicine) error {
	return ts.parent.saveMedicine(ctx, ts.q, m)
}
func (ts *txStore) DeleteMedicine(ctx context.Context, id pharmacy.MedicineID) error {
	return ts.parent.deleteMedicine(ctx, ts.q, id)
}
func (ts *txStore) GetReceipt(ctx context.Context, id pharmacy.ReceiptID) (*pharmacy.Receipt, error) {
	return ts.parent.getReceipt(ctx, ts.q, id)
}
func (ts *txStore) ListReceipts(ctx context.Context) ([]pharmacy.Receipt, error) {
	return ts.parent.listReceipts(ctx, ts.q)
}
func (ts *txStore) SaveReceipt(ctx context.Context, r *pharmacy.Receipt) error {
	return ts.parent.saveReceipt(ctx, ts.q, r)
}
func (ts *txStore) DeleteReceipt(ctx context.Context, id pharmacy.ReceiptID) error {
	return ts.parent.deleteReceipt(ctx, ts.q, id)
}
func (ts *txStore) CountReceiptsInRange(ctx context.Context, from, to time.Time) (int, error) {
	return ts.parent.countReceiptsInRange(ctx, ts.q, from, to)
}
func (ts *txStore) GetSale(ctx context.Context, id pharmacy.SaleID) (*pharmacy.Sale, error) {
	return ts.parent.getSale(ctx, ts.q, id)
}
func (ts *txStore) ListSalesInRange(ctx context.Context, from, to time.Time) ([]pharmacy.Sale, error) {
	return ts.parent.listSalesInRange(ctx, ts.q, from, to)
}
func (ts *txStore) SaveSale(ctx context.Context, sale *pharmacy.Sale) error {
	return ts.parent.saveSale(ctx, ts.q, sale)
}
func (ts *txStore) CountSalesInRange(ctx context.Context, from, to time.Time) (int, error) {
	return ts.parent.countSalesInRange(ctx, ts.q, from, to)
}
func (ts *txStore) SumSalesInRange(ctx context.Context, from, to time.Time) (pharmacy.SalesTotal, error) {
	return ts.parent.sumSalesInRange(ctx, ts.q, from, to)
}
func (ts *txStore) NextSaleNumber(ctx context.Context, day time.Time) (int, error) {
	return ts.parent.nextSaleNumber(ctx, ts.q, day)
}
func (ts *txStore) GetPatient(ctx context.Context, id pharmacy.PatientID) (*pharmacy.Patient, error) {
	return ts.parent.getPatient(ctx, ts.q, id)
}
func (ts *txStore) FindPatientByPhone(ctx context.Context, phone string) (*pharmacy.Patient, error) {
	return ts.parent.findPatientByPhone(ctx, ts.q, phone)
}
func (ts *txStore) ListPatients(ctx context.Context) ([]pharmacy.Patient, error) {
	return ts.parent.listPatients(ctx, ts.q)
}
func (ts *txStore) SavePatient(ctx context.Context, p *pharmacy.Patient) error {
	return ts.parent.savePatient(ctx, ts.q, p)
}
func (ts *txStore) DeletePatient(ctx context.Context, id pharmacy.PatientID) error {
	return ts.parent.deletePatient(ctx, ts.q, id)
}

// =============================================================================
// MEDICINES
// =============================================================================

func (s *Store) GetMedicine(ctx context.Context, id pharmacy.MedicineID) (*pharmacy.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getMedicine(ctx, s.db, id)
}

func (s *Store) getMedicine(ctx context.Context, q dbtx, id pharmacy.MedicineID) (*pharmacy.Medicine, error) {
	return s.queryOneMedicine(ctx, q, `WHERE id = ?`, string(id))
}

func (s *Store) FindMedicineByIdentity(ctx context.Context, name, generic, brand string) (*pharmacy.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findMedicineByIdentity(ctx, s.db, name, generic, brand)
}

func (s *Store) findMedicineByIdentity(ctx context.Context, q dbtx, name, generic, brand string) (*pharmacy.Medicine, error) {
	return s.queryOneMedicine(ctx, q, `WHERE name = ? AND generic = ? AND brand = ?`, name, generic, brand)
}

func (s *Store) FindMedicineByBatch(ctx context.Context, name, batchNumber string) (*pharmacy.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findMedicineByBatch(ctx, s.db, name, batchNumber)
}

func (s *Store) findMedicineByBatch(ctx context.Context, q dbtx, name, batchNumber string) (*pharmacy.Medicine, error) {
	return s.queryOneMedicine(ctx, q,
		`WHERE name = ? COLLATE NOCASE
		   AND id IN (SELECT medicine_id FROM batches WHERE batch_number = ?)`,
		name, batchNumber)
}

func (s *Store) queryOneMedicine(ctx context.Context, q dbtx, where string, args ...any) (*pharmacy.Medicine, error) {
	query := `
		SELECT id, name, generic, brand, category, form, strength,
		       min_stock_level, current_stock, version, created_at, updated_at
		FROM medicines ` + where + ` LIMIT 1`

	var (
		m                    pharmacy.Medicine
		createdAt, updatedAt string
	)
	err := q.QueryRowContext(ctx, query, args...).Scan(
		&m.ID, &m.Name, &m.Generic, &m.Brand, &m.Category, &m.Form, &m.Strength,
		&m.MinStockLevel, &m.CurrentStock, &m.Version, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("query medicine", err)
	}

	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)

	if m.Batches, err = s.loadBatches(ctx, q, m.ID); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) loadBatches(ctx context.Context, q dbtx, id pharmacy.MedicineID) ([]pharmacy.Batch, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT batch_number, expiry_date, unit_price, quantity
		 FROM batches WHERE medicine_id = ? ORDER BY expiry_date ASC, batch_number ASC`,
		string(id))
	if err != nil {
		return nil, storageErr("query batches", err)
	}
	defer rows.Close()

	var batches []pharmacy.Batch
	for rows.Next() {
		var (
			b             pharmacy.Batch
			expiry, price string
		)
		if err := rows.Scan(&b.BatchNumber, &expiry, &price, &b.Quantity); err != nil {
			return nil, storageErr("scan batch", err)
		}
		b.ExpiryDate = parseTime(expiry)
		b.UnitPrice = parseDecimal(price)
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (s *Store) ListMedicines(ctx context.Context) ([]pharmacy.Medicine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listMedicines(ctx, s.db)
}

func (s *Store) listMedicines(ctx context.Context, q dbtx) ([]pharmacy.Medicine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, name, generic, brand, category, form, strength,
		       min_stock_level, current_stock, version, created_at, updated_at
		FROM medicines ORDER BY name ASC`)
	if err != nil {
		return nil, storageErr("query medicines", err)
	}
	defer rows.Close()

	var meds []pharmacy.Medicine
	for rows.Next() {
		var (
			m                    pharmacy.Medicine
			createdAt, updatedAt string
		)
		if err := rows.Scan(
			&m.ID, &m.Name, &m.Generic, &m.Brand, &m.Category, &m.Form, &m.Strength,
			&m.MinStockLevel, &m.CurrentStock, &m.Version, &createdAt, &updatedAt,
		); err != nil {
			return nil, storageErr("scan medicine", err)
		}
		m.CreatedAt = parseTime(createdAt)
		m.UpdatedAt = parseTime(updatedAt)
		meds = append(meds, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range meds {
		if meds[i].Batches, err = s.loadBatches(ctx, q, meds[i].ID); err != nil {
			return nil, err
		}
	}
	return meds, nil
}

func (s *Store) SaveMedicine(ctx context.Context, m *pharmacy.Medicine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveMedicine(ctx, s.db, m)
}

// saveMedicine upserts the medicine record and replaces its batch list.
// Updates are version-guarded: a stale in-memory copy loses with
// ErrConcurrentModification instead of clobbering a concurrent write.
func (s *Store) saveMedicine(ctx context.Context, q dbtx, m *pharmacy.Medicine) error {
	if m.Version == 0 {
		_, err := q.ExecContext(ctx, `
			INSERT INTO medicines
			(id, name, generic, brand, category, form, strength,
			 min_stock_level, current_stock, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
			string(m.ID), m.Name, m.Generic, m.Brand, m.Category, m.Form, m.Strength,
			m.MinStockLevel, m.CurrentStock,
			formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return &pharmacy.DuplicateIdentityError{
					Kind: "medicine",
					Key:  m.Name + "/" + m.Generic + "/" + m.Brand,
				}
			}
			return storageErr("insert medicine", err)
		}
		m.Version = 1
	} else {
		res, err := q.ExecContext(ctx, `
			UPDATE medicines SET
				name = ?, generic = ?, brand = ?, category = ?, form = ?, strength = ?,
				min_stock_level = ?, current_stock = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`,
			m.Name, m.Generic, m.Brand, m.Category, m.Form, m.Strength,
			m.MinStockLevel, m.CurrentStock, formatTime(m.UpdatedAt),
			string(m.ID), m.Version,
		)
		if err != nil {
			return storageErr("update medicine", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return storageErr("update medicine", err)
		}
		if affected == 0 {
			return pharmacy.ErrConcurrentModification
		}
		m.Version++
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM batches WHERE medicine_id = ?`, string(m.ID)); err != nil {
		return storageErr("replace batches", err)
	}
	for _, b := range m.Batches {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO batches (medicine_id, batch_number, expiry_date, unit_price, quantity)
			VALUES (?, ?, ?, ?, ?)`,
			string(m.ID), b.BatchNumber, formatTime(b.ExpiryDate), b.UnitPrice.String(), b.Quantity,
		); err != nil {
			if isUniqueConstraintError(err) {
				return &pharmacy.DuplicateIdentityError{Kind: "batch", Key: b.BatchNumber}
			}
			return storageErr("insert batch", err)
		}
	}
	return nil
}

func (s *Store) DeleteMedicine(ctx context.Context, id pharmacy.MedicineID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteMedicine(ctx, s.db, id)
}

func (s *Store) deleteMedicine(ctx context.Context, q dbtx, id pharmacy.MedicineID) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM medicines WHERE id = ?`, string(id)); err != nil {
		return storageErr("delete medicine", err)
	}
	return nil
}

// =============================================================================
// RECEIPTS
// =============================================================================

func (s *Store) GetReceipt(ctx context.Context, id pharmacy.ReceiptID) (*pharmacy.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getReceipt(ctx, s.db, id)
}

func (s *Store) getReceipt(ctx context.Context, q dbtx, id pharmacy.ReceiptID) (*pharmacy.Receipt, error) {
	var (
		r           pharmacy.Receipt
		total, date string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, patient_id, total_amount, receipt_date FROM receipts WHERE id = ?`,
		string(id),
	).Scan(&r.ID, &r.PatientID, &total, &date)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("query receipt", err)
	}
	r.TotalAmount = parseDecimal(total)
	r.ReceiptDate = parseTime(date)

	if r.Lines, err = s.loadReceiptLines(ctx, q, id); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) loadReceiptLines(ctx context.Context, q dbtx, id pharmacy.ReceiptID) ([]pharmacy.ReceiptLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT medicine_id, batch_number, medicine_name, generic, brand,
		       quantity, unit_price, line_total
		FROM receipt_lines WHERE receipt_id = ? ORDER BY line_no ASC`,
		string(id))
	if err != nil {
		return nil, storageErr("query receipt lines", err)
	}
	defer rows.Close()

	var lines []pharmacy.ReceiptLine
	for rows.Next() {
		var (
			ln               pharmacy.ReceiptLine
			price, lineTotal string
		)
		if err := rows.Scan(&ln.MedicineID, &ln.BatchNumber, &ln.MedicineName,
			&ln.Generic, &ln.Brand, &ln.Quantity, &price, &lineTotal); err != nil {
			return nil, storageErr("scan receipt line", err)
		}
		ln.UnitPrice = parseDecimal(price)
		ln.LineTotal = parseDecimal(lineTotal)
		lines = append(lines, ln)
	}
	return lines, rows.Err()
}

func (s *Store) ListReceipts(ctx context.Context) ([]pharmacy.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listReceipts(ctx, s.db)
}

func (s *Store) listReceipts(ctx context.Context, q dbtx) ([]pharmacy.Receipt, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM receipts ORDER BY receipt_date ASC`)
	if err != nil {
		return nil, storageErr("query receipts", err)
	}
	defer rows.Close()

	var ids []pharmacy.ReceiptID
	for rows.Next() {
		var id pharmacy.ReceiptID
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan receipt id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	receipts := make([]pharmacy.Receipt, 0, len(ids))
	for _, id := range ids {
		r, err := s.getReceipt(ctx, q, id)
		if err != nil {
			return nil, err
		}
		if r != nil {
			receipts = append(receipts, *r)
		}
	}
	return receipts, nil
}

func (s *Store) SaveReceipt(ctx context.Context, r *pharmacy.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveReceipt(ctx, s.db, r)
}

func (s *Store) saveReceipt(ctx context.Context, q dbtx, r *pharmacy.Receipt) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO receipts (id, patient_id, total_amount, receipt_date)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			patient_id = excluded.patient_id,
			total_amount = excluded.total_amount,
			receipt_date = excluded.receipt_date`,
		string(r.ID), string(r.PatientID), r.TotalAmount.String(), formatTime(r.ReceiptDate),
	)
	if err != nil {
		return storageErr("save receipt", err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM receipt_lines WHERE receipt_id = ?`, string(r.ID)); err != nil {
		return storageErr("replace receipt lines", err)
	}
	for i, ln := range r.Lines {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO receipt_lines
			(receipt_id, line_no, medicine_id, batch_number, medicine_name, generic, brand,
			 quantity, unit_price, line_total)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(r.ID), i, string(ln.MedicineID), ln.BatchNumber, ln.MedicineName,
			ln.Generic, ln.Brand, ln.Quantity, ln.UnitPrice.String(), ln.LineTotal.String(),
		); err != nil {
			return storageErr("insert receipt line", err)
		}
	}
	return nil
}

func (s *Store) DeleteReceipt(ctx context.Context, id pharmacy.ReceiptID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteReceipt(ctx, s.db, id)
}

func (s *Store) deleteReceipt(ctx context.Context, q dbtx, id pharmacy.ReceiptID) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM receipts WHERE id = ?`, string(id)); err != nil {
		return storageErr("delete receipt", err)
	}
	return nil
}

func (s *Store) CountReceiptsInRange(ctx context.Context, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countReceiptsInRange(ctx, s.db, from, to)
}

func (s *Store) countReceiptsInRange(ctx context.Context, q dbtx, from, to time.Time) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM receipts WHERE receipt_date >= ? AND receipt_date < ?`,
		formatTime(from), formatTime(to),
	).Scan(&count)
	if err != nil {
		return 0, storageErr("count receipts", err)
	}
	return count, nil
}

// =============================================================================
// SALES
// =============================================================================

func (s *Store) GetSale(ctx context.Context, id pharmacy.SaleID) (*pharmacy.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSale(ctx, s.db, id)
}

func (s *Store) getSale(ctx context.Context, q dbtx, id pharmacy.SaleID) (*pharmacy.Sale, error) {
	var (
		sale                                 pharmacy.Sale
		subtotal, tax, discount, total, date string
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, sale_number, customer_name, customer_phone,
		       subtotal, tax, discount, total, payment_method, sold_by, sale_date
		FROM sales WHERE id = ?`,
		string(id),
	).Scan(&sale.ID, &sale.SaleNumber, &sale.CustomerName, &sale.CustomerPhone,
		&subtotal, &tax, &discount, &total, &sale.PaymentMethod, &sale.SoldBy, &date)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("query sale", err)
	}
	sale.Subtotal = parseDecimal(subtotal)
	sale.Tax = parseDecimal(tax)
	sale.Discount = parseDecimal(discount)
	sale.Total = parseDecimal(total)
	sale.SaleDate = parseTime(date)

	if sale.Items, err = s.loadSaleItems(ctx, q, id); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) loadSaleItems(ctx context.Context, q dbtx, id pharmacy.SaleID) ([]pharmacy.SaleItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT medicine_id, batch_number, medicine_name, generic, brand,
		       quantity, unit_price, line_total
		FROM sale_items WHERE sale_id = ? ORDER BY line_no ASC`,
		string(id))
	if err != nil {
		return nil, storageErr("query sale items", err)
	}
	defer rows.Close()

	var items []pharmacy.SaleItem
	for rows.Next() {
		var (
			it               pharmacy.SaleItem
			price, lineTotal string
		)
		if err := rows.Scan(&it.MedicineID, &it.BatchNumber, &it.MedicineName,
			&it.Generic, &it.Brand, &it.Quantity, &price, &lineTotal); err != nil {
			return nil, storageErr("scan sale item", err)
		}
		it.UnitPrice = parseDecimal(price)
		it.LineTotal = parseDecimal(lineTotal)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *Store) ListSalesInRange(ctx context.Context, from, to time.Time) ([]pharmacy.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listSalesInRange(ctx, s.db, from, to)
}

func (s *Store) listSalesInRange(ctx context.Context, q dbtx, from, to time.Time) ([]pharmacy.Sale, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id FROM sales WHERE sale_date >= ? AND sale_date < ? ORDER BY sale_date ASC`,
		formatTime(from), formatTime(to))
	if err != nil {
		return nil, storageErr("query sales", err)
	}
	defer rows.Close()

	var ids []pharmacy.SaleID
	for rows.Next() {
		var id pharmacy.SaleID
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan sale id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sales := make([]pharmacy.Sale, 0, len(ids))
	for _, id := range ids {
		sale, err := s.getSale(ctx, q, id)
		if err != nil {
			return nil, err
		}
		if sale != nil {
			sales = append(sales, *sale)
		}
	}
	return sales, nil
}

func (s *Store) SaveSale(ctx context.Context, sale *pharmacy.Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveSale(ctx, s.db, sale)
}

func (s *Store) saveSale(ctx context.Context, q dbtx, sale *pharmacy.Sale) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO sales
		(id, sale_number, customer_name, customer_phone, subtotal, tax, discount, total,
		 payment_method, sold_by, sale_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(sale.ID), sale.SaleNumber, sale.CustomerName, sale.CustomerPhone,
		sale.Subtotal.String(), sale.Tax.String(), sale.Discount.String(), sale.Total.String(),
		string(sale.PaymentMethod), sale.SoldBy, formatTime(sale.SaleDate),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &pharmacy.DuplicateIdentityError{Kind: "sale_number", Key: sale.SaleNumber}
		}
		return storageErr("insert sale", err)
	}

	for i, it := range sale.Items {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO sale_items
			(sale_id, line_no, medicine_id, batch_number, medicine_name, generic, brand,
			 quantity, unit_price, line_total)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(sale.ID), i, string(it.MedicineID), it.BatchNumber, it.MedicineName,
			it.Generic, it.Brand, it.Quantity, it.UnitPrice.String(), it.LineTotal.String(),
		); err != nil {
			return storageErr("insert sale item", err)
		}
	}
	return nil
}

func (s *Store) CountSalesInRange(ctx context.Context, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countSalesInRange(ctx, s.db, from, to)
}

func (s *Store) countSalesInRange(ctx context.Context, q dbtx, from, to time.Time) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sales WHERE sale_date >= ? AND sale_date < ?`,
		formatTime(from), formatTime(to),
	).Scan(&count)
	if err != nil {
		return 0, storageErr("count sales", err)
	}
	return count, nil
}

func (s *Store) SumSalesInRange(ctx context.Context, from, to time.Time) (pharmacy.SalesTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sumSalesInRange(ctx, s.db, from, to)
}

// sumSalesInRange sums decimal totals in Go rather than SQL; totals are
// stored as text to keep exact decimal precision.
func (s *Store) sumSalesInRange(ctx context.Context, q dbtx, from, to time.Time) (pharmacy.SalesTotal, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT total FROM sales WHERE sale_date >= ? AND sale_date < ?`,
		formatTime(from), formatTime(to))
	if err != nil {
		return pharmacy.SalesTotal{}, storageErr("sum sales", err)
	}
	defer rows.Close()

	total := pharmacy.SalesTotal{Revenue: decimal.Zero}
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return pharmacy.SalesTotal{}, storageErr("scan sale total", err)
		}
		total.Count++
		total.Revenue = total.Revenue.Add(parseDecimal(amount))
	}
	return total, rows.Err()
}

func (s *Store) NextSaleNumber(ctx context.Context, day time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSaleNumber(ctx, s.db, day)
}

func (s *Store) nextSaleNumber(ctx context.Context, q dbtx, day time.Time) (int, error) {
	var counter int
	err := q.QueryRowContext(ctx, `
		INSERT INTO sale_counters (day, counter) VALUES (?, 1)
		ON CONFLICT(day) DO UPDATE SET counter = counter + 1
		RETURNING counter`,
		day.Format("2006-01-02"),
	).Scan(&counter)
	if err != nil {
		return 0, storageErr("next sale number", err)
	}
	return counter, nil
}

// =============================================================================
// PATIENTS
// =============================================================================

func (s *Store) GetPatient(ctx context.Context, id pharmacy.PatientID) (*pharmacy.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPatient(ctx, s.db, id)
}

func (s *Store) getPatient(ctx context.Context, q dbtx, id pharmacy.PatientID) (*pharmacy.Patient, error) {
	return s.queryOnePatient(ctx, q, `WHERE id = ?`, string(id))
}

func (s *Store) FindPatientByPhone(ctx context.Context, phone string) (*pharmacy.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findPatientByPhone(ctx, s.db, phone)
}

func (s *Store) findPatientByPhone(ctx context.Context, q dbtx, phone string) (*pharmacy.Patient, error) {
	return s.queryOnePatient(ctx, q, `WHERE phone = ?`, phone)
}

func (s *Store) queryOnePatient(ctx context.Context, q dbtx, where string, args ...any) (*pharmacy.Patient, error) {
	var (
		p         pharmacy.Patient
		createdAt string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, name, phone, age, gender, address, created_at FROM patients `+where,
		args...,
	).Scan(&p.ID, &p.Name, &p.Phone, &p.Age, &p.Gender, &p.Address, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("query patient", err)
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func (s *Store) ListPatients(ctx context.Context) ([]pharmacy.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listPatients(ctx, s.db)
}

func (s *Store) listPatients(ctx context.Context, q dbtx) ([]pharmacy.Patient, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, name, phone, age, gender, address, created_at FROM patients ORDER BY name ASC`)
	if err != nil {
		return nil, storageErr("query patients", err)
	}
	defer rows.Close()

	var patients []pharmacy.Patient
	for rows.Next() {
		var (
			p         pharmacy.Patient
			createdAt string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Phone, &p.Age, &p.Gender, &p.Address, &createdAt); err != nil {
			return nil, storageErr("scan patient", err)
		}
		p.CreatedAt = parseTime(createdAt)
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

func (s *Store) SavePatient(ctx context.Context, p *pharmacy.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savePatient(ctx, s.db, p)
}

func (s *Store) savePatient(ctx context.Context, q dbtx, p *pharmacy.Patient) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO patients (id, name, phone, age, gender, address, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			age = excluded.age,
			gender = excluded.gender,
			address = excluded.address`,
		string(p.ID), p.Name, p.Phone, p.Age, p.Gender, p.Address, formatTime(p.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &pharmacy.DuplicateIdentityError{Kind: "patient_phone", Key: p.Phone}
		}
		return storageErr("save patient", err)
	}
	return nil
}

func (s *Store) DeletePatient(ctx context.Context, id pharmacy.PatientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deletePatient(ctx, s.db, id)
}

func (s *Store) deletePatient(ctx context.Context, q dbtx, id pharmacy.PatientID) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM patients WHERE id = ?`, string(id)); err != nil {
		return storageErr("delete patient", err)
	}
	return nil
}

// =============================================================================
// USERS (API identities, outside the core Store contract)
// =============================================================================

// User is an API identity with a bcrypt password hash.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// SaveUser inserts a user, rejecting username or email collisions.
func (s *Store) SaveUser(ctx context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, strings.ToLower(u.Email), u.PasswordHash, u.Role, formatTime(u.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &pharmacy.DuplicateIdentityError{Kind: "user", Key: u.Username}
		}
		return storageErr("save user", err)
	}
	return nil
}

// GetUserByUsername returns a user, or nil when absent.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		u         User
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, role, created_at FROM users WHERE username = ?`,
		username,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("query user", err)
	}
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed-width so the TEXT columns compare in time order.
// RFC3339Nano drops trailing fraction zeros, which makes "…00.5Z" sort
// before "…00Z" and misplaces fractional timestamps at range bounds.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, pharmacy.ErrStorageUnavailable, err)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
