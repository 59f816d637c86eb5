// Package store provides an in-memory Store implementation (for testing/dev).
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mediset/pharmacy-engine/pharmacy"
)

// Memory implements pharmacy.TxStore with copy-on-write transactions:
// WithTx snapshots the whole state and restores it when fn fails, so a
// failed multi-step mutation leaves nothing behind.
type Memory struct {
	mu           sync.RWMutex
	medicines    map[pharmacy.MedicineID]pharmacy.Medicine
	receipts     map[pharmacy.ReceiptID]pharmacy.Receipt
	sales        map[pharmacy.SaleID]pharmacy.Sale
	patients     map[pharmacy.PatientID]pharmacy.Patient
	saleCounters map[string]int
}

func NewMemory() *Memory {
	return &Memory{
		medicines:    make(map[pharmacy.MedicineID]pharmacy.Medicine),
		receipts:     make(map[pharmacy.ReceiptID]pharmacy.Receipt),
		sales:        make(map[pharmacy.SaleID]pharmacy.Sale),
		patients:     make(map[pharmacy.PatientID]pharmacy.Patient),
		saleCounters: make(map[string]int),
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (m *Memory) WithTx(_ context.Context, fn func(pharmacy.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshotLocked()
	if err := fn(&txView{m}); err != nil {
		m.restoreLocked(snap)
		return err
	}
	return nil
}

type memState struct {
	medicines    map[pharmacy.MedicineID]pharmacy.Medicine
	receipts     map[pharmacy.ReceiptID]pharmacy.Receipt
	sales        map[pharmacy.SaleID]pharmacy.Sale
	patients     map[pharmacy.PatientID]pharmacy.Patient
	saleCounters map[string]int
}

func (m *Memory) snapshotLocked() memState {
	s := memState{
		medicines:    make(map[pharmacy.MedicineID]pharmacy.Medicine, len(m.medicines)),
		receipts:     make(map[pharmacy.ReceiptID]pharmacy.Receipt, len(m.receipts)),
		sales:        make(map[pharmacy.SaleID]pharmacy.Sale, len(m.sales)),
		patients:     make(map[pharmacy.PatientID]pharmacy.Patient, len(m.patients)),
		saleCounters: make(map[string]int, len(m.saleCounters)),
	}
	for k, v := range m.medicines {
		s.medicines[k] = cloneMedicine(v)
	}
	for k, v := range m.receipts {
		s.receipts[k] = cloneReceipt(v)
	}
	for k, v := range m.sales {
		s.sales[k] = cloneSale(v)
	}
	for k, v := range m.patients {
		s.patients[k] = v
	}
	for k, v := range m.saleCounters {
		s.saleCounters[k] = v
	}
	return s
}

func (m *Memory) restoreLocked(s memState) {
	m.medicines = s.medicines
	m.receipts = s.receipts
	m.sales = s.sales
	m.patients = s.patients
	m.saleCounters = s.saleCounters
}

// txView runs against state already guarded by the outer WithTx lock.
type txView struct{ m *Memory }

// =============================================================================
// MEDICINES
// =============================================================================

func (m *Memory) GetMedicine(ctx context.Context, id pharmacy.MedicineID) (*pharmacy.Medicine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getMedicineLocked(id)
}

func (t *txView) GetMedicine(_ context.Context, id pharmacy.MedicineID) (*pharmacy.Medicine, error) {
	return t.m.getMedicineLocked(id)
}

func (m *Memory) getMedicineLocked(id pharmacy.MedicineID) (*pharmacy.Medicine, error) {
	med, ok := m.medicines[id]
	if !ok {
		return nil, nil
	}
	out := cloneMedicine(med)
	return &out, nil
}

func (m *Memory) FindMedicineByIdentity(ctx context.Context, name, generic, brand string) (*pharmacy.Medicine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findByIdentityLocked(name, generic, brand)
}

func (t *txView) FindMedicineByIdentity(_ context.Context, name, generic, brand string) (*pharmacy.Medicine, error) {
	return t.m.findByIdentityLocked(name, generic, brand)
}

func (m *Memory) findByIdentityLocked(name, generic, brand string) (*pharmacy.Medicine, error) {
	for _, med := range m.medicines {
		if med.Name == name && med.Generic == generic && med.Brand == brand {
			out := cloneMedicine(med)
			return &out, nil
		}
	}
	return nil, nil
}

func (m *Memory) FindMedicineByBatch(ctx context.Context, name, batchNumber string) (*pharmacy.Medicine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findByBatchLocked(name, batchNumber)
}

func (t *txView) FindMedicineByBatch(_ context.Context, name, batchNumber string) (*pharmacy.Medicine, error) {
	return t.m.findByBatchLocked(name, batchNumber)
}

func (m *Memory) findByBatchLocked(name, batchNumber string) (*pharmacy.Medicine, error) {
	for _, med := range m.medicines {
		if !strings.EqualFold(med.Name, name) {
			continue
		}
		for _, b := range med.Batches {
			if b.BatchNumber == batchNumber {
				out := cloneMedicine(med)
				return &out, nil
			}
		}
	}
	return nil, nil
}

func (m *Memory) ListMedicines(ctx context.Context) ([]pharmacy.Medicine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listMedicinesLocked()
}

func (t *txView) ListMedicines(_ context.Context) ([]pharmacy.Medicine, error) {
	return t.m.listMedicinesLocked()
}

func (m *Memory) listMedicinesLocked() ([]pharmacy.Medicine, error) {
	out := make([]pharmacy.Medicine, 0, len(m.medicines))
	for _, med := range m.medicines {
		out = append(out, cloneMedicine(med))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) SaveMedicine(ctx context.Context, med *pharmacy.Medicine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveMedicineLocked(med)
}

func (t *txView) SaveMedicine(_ context.Context, med *pharmacy.Medicine) error {
	return t.m.saveMedicineLocked(med)
}

func (m *Memory) saveMedicineLocked(med *pharmacy.Medicine) error {
	med.Version++
	m.medicines[med.ID] = cloneMedicine(*med)
	return nil
}

func (m *Memory) DeleteMedicine(ctx context.Context, id pharmacy.MedicineID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.medicines, id)
	return nil
}

func (t *txView) DeleteMedicine(_ context.Context, id pharmacy.MedicineID) error {
	delete(t.m.medicines, id)
	return nil
}

// =============================================================================
// RECEIPTS
// =============================================================================

func (m *Memory) GetReceipt(ctx context.Context, id pharmacy.ReceiptID) (*pharmacy.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getReceiptLocked(id)
}

func (t *txView) GetReceipt(_ context.Context, id pharmacy.ReceiptID) (*pharmacy.Receipt, error) {
	return t.m.getReceiptLocked(id)
}

func (m *Memory) getReceiptLocked(id pharmacy.ReceiptID) (*pharmacy.Receipt, error) {
	r, ok := m.receipts[id]
	if !ok {
		return nil, nil
	}
	out := cloneReceipt(r)
	return &out, nil
}

func (m *Memory) ListReceipts(ctx context.Context) ([]pharmacy.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listReceiptsLocked()
}

func (t *txView) ListReceipts(_ context.Context) ([]pharmacy.Receipt, error) {
	return t.m.listReceiptsLocked()
}

func (m *Memory) listReceiptsLocked() ([]pharmacy.Receipt, error) {
	out := make([]pharmacy.Receipt, 0, len(m.receipts))
	for _, r := range m.receipts {
		out = append(out, cloneReceipt(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceiptDate.Before(out[j].ReceiptDate) })
	return out, nil
}

func (m *Memory) SaveReceipt(ctx context.Context, r *pharmacy.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts[r.ID] = cloneReceipt(*r)
	return nil
}

func (t *txView) SaveReceipt(_ context.Context, r *pharmacy.Receipt) error {
	t.m.receipts[r.ID] = cloneReceipt(*r)
	return nil
}

func (m *Memory) DeleteReceipt(ctx context.Context, id pharmacy.ReceiptID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.receipts, id)
	return nil
}

func (t *txView) DeleteReceipt(_ context.Context, id pharmacy.ReceiptID) error {
	delete(t.m.receipts, id)
	return nil
}

func (m *Memory) CountReceiptsInRange(ctx context.Context, from, to time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countReceiptsLocked(from, to)
}

func (t *txView) CountReceiptsInRange(_ context.Context, from, to time.Time) (int, error) {
	return t.m.countReceiptsLocked(from, to)
}

func (m *Memory) countReceiptsLocked(from, to time.Time) (int, error) {
	count := 0
	for _, r := range m.receipts {
		if inRange(r.ReceiptDate, from, to) {
			count++
		}
	}
	return count, nil
}

// =============================================================================
// SALES
// =============================================================================

func (m *Memory) GetSale(ctx context.Context, id pharmacy.SaleID) (*pharmacy.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSaleLocked(id)
}

func (t *txView) GetSale(_ context.Context, id pharmacy.SaleID) (*pharmacy.Sale, error) {
	return t.m.getSaleLocked(id)
}

func (m *Memory) getSaleLocked(id pharmacy.SaleID) (*pharmacy.Sale, error) {
	s, ok := m.sales[id]
	if !ok {
		return nil, nil
	}
	out := cloneSale(s)
	return &out, nil
}

func (m *Memory) ListSalesInRange(ctx context.Context, from, to time.Time) ([]pharmacy.Sale, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listSalesLocked(from, to)
}

func (t *txView) ListSalesInRange(_ context.Context, from, to time.Time) ([]pharmacy.Sale, error) {
	return t.m.listSalesLocked(from, to)
}

func (m *Memory) listSalesLocked(from, to time.Time) ([]pharmacy.Sale, error) {
	var out []pharmacy.Sale
	for _, s := range m.sales {
		if inRange(s.SaleDate, from, to) {
			out = append(out, cloneSale(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SaleDate.Before(out[j].SaleDate) })
	return out, nil
}

func (m *Memory) SaveSale(ctx context.Context, s *pharmacy.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sales[s.ID] = cloneSale(*s)
	return nil
}

func (t *txView) SaveSale(_ context.Context, s *pharmacy.Sale) error {
	t.m.sales[s.ID] = cloneSale(*s)
	return nil
}

func (m *Memory) CountSalesInRange(ctx context.Context, from, to time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count, _, err := m.sumSalesLocked(from, to)
	return count, err
}

func (t *txView) CountSalesInRange(_ context.Context, from, to time.Time) (int, error) {
	count, _, err := t.m.sumSalesLocked(from, to)
	return count, err
}

func (m *Memory) SumSalesInRange(ctx context.Context, from, to time.Time) (pharmacy.SalesTotal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count, revenue, err := m.sumSalesLocked(from, to)
	return pharmacy.SalesTotal{Count: count, Revenue: revenue}, err
}

func (t *txView) SumSalesInRange(_ context.Context, from, to time.Time) (pharmacy.SalesTotal, error) {
	count, revenue, err := t.m.sumSalesLocked(from, to)
	return pharmacy.SalesTotal{Count: count, Revenue: revenue}, err
}

func (m *Memory) sumSalesLocked(from, to time.Time) (int, decimal.Decimal, error) {
	count := 0
	revenue := decimal.Zero
	for _, s := range m.sales {
		if inRange(s.SaleDate, from, to) {
			count++
			revenue = revenue.Add(s.Total)
		}
	}
	return count, revenue, nil
}

func (m *Memory) NextSaleNumber(ctx context.Context, day time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextSaleNumberLocked(day)
}

func (t *txView) NextSaleNumber(_ context.Context, day time.Time) (int, error) {
	return t.m.nextSaleNumberLocked(day)
}

func (m *Memory) nextSaleNumberLocked(day time.Time) (int, error) {
	key := day.Format("2006-01-02")
	m.saleCounters[key]++
	return m.saleCounters[key], nil
}

// =============================================================================
// PATIENTS
// =============================================================================

func (m *Memory) GetPatient(ctx context.Context, id pharmacy.PatientID) (*pharmacy.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPatientLocked(id)
}

func (t *txView) GetPatient(_ context.Context, id pharmacy.PatientID) (*pharmacy.Patient, error) {
	return t.m.getPatientLocked(id)
}

func (m *Memory) getPatientLocked(id pharmacy.PatientID) (*pharmacy.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) FindPatientByPhone(ctx context.Context, phone string) (*pharmacy.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findPatientByPhoneLocked(phone)
}

func (t *txView) FindPatientByPhone(_ context.Context, phone string) (*pharmacy.Patient, error) {
	return t.m.findPatientByPhoneLocked(phone)
}

func (m *Memory) findPatientByPhoneLocked(phone string) (*pharmacy.Patient, error) {
	for _, p := range m.patients {
		if p.Phone == phone {
			out := p
			return &out, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListPatients(ctx context.Context) ([]pharmacy.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPatientsLocked()
}

func (t *txView) ListPatients(_ context.Context) ([]pharmacy.Patient, error) {
	return t.m.listPatientsLocked()
}

func (m *Memory) listPatientsLocked() ([]pharmacy.Patient, error) {
	out := make([]pharmacy.Patient, 0, len(m.patients))
	for _, p := range m.patients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Memory) SavePatient(ctx context.Context, p *pharmacy.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = *p
	return nil
}

func (t *txView) SavePatient(_ context.Context, p *pharmacy.Patient) error {
	t.m.patients[p.ID] = *p
	return nil
}

func (m *Memory) DeletePatient(ctx context.Context, id pharmacy.PatientID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.patients, id)
	return nil
}

func (t *txView) DeletePatient(_ context.Context, id pharmacy.PatientID) error {
	delete(t.m.patients, id)
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// inRange is [from, to). A zero from means open start.
func inRange(at, from, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	return at.Before(to)
}

func cloneMedicine(m pharmacy.Medicine) pharmacy.Medicine {
	out := m
	out.Batches = append([]pharmacy.Batch(nil), m.Batches...)
	return out
}

func cloneReceipt(r pharmacy.Receipt) pharmacy.Receipt {
	out := r
	out.Lines = append([]pharmacy.ReceiptLine(nil), r.Lines...)
	return out
}

func cloneSale(s pharmacy.Sale) pharmacy.Sale {
	out := s
	out.Items = append([]pharmacy.SaleItem(nil), s.Items...)
	return out
}
