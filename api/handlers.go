/*
handlers.go - HTTP API handlers for the pharmacy stock engine

PURPOSE:
  Exposes the stock reconciliation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Medicines:
    GET    /api/medicines                         List (filter: ?name= ?generic= ?brand=)
    POST   /api/medicines                         Record a stock delivery (intake)
    GET    /api/medicines/low-stock               Medicines at or under minimum level
    GET    /api/medicines/expired                 Medicines holding an expired batch
    GET    /api/medicines/{id}                    Get one medicine
    PUT    /api/medicines/{name}/batches/{batch}  Edit a batch in place
    DELETE /api/medicines/{name}/batches/{batch}  Remove a batch

  Receipts:
    GET    /api/receipts         List all receipts
    POST   /api/receipts         Dispense against the ledger
    GET    /api/receipts/{id}    Get one receipt
    PUT    /api/receipts/{id}    Replace lines (reverse then re-apply)
    DELETE /api/receipts/{id}    Delete and restore stock

  Sales:
    GET    /api/sales            List (filter: ?from= &to=, YYYY-MM-DD)
    POST   /api/sales            Record a counter sale
    GET    /api/sales/stats      Count and revenue over a range
    GET    /api/sales/{id}       Get one sale

  Patients:
    GET/POST /api/patients, GET/DELETE /api/patients/{id}

  Dashboard:
    GET    /api/dashboard        Operational rollup

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (engine, managers, reporter)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Domain errors map to HTTP status via their sentinel:
  - 400: validation, insufficient stock
  - 404: medicine/batch/receipt/sale/patient not found
  - 409: duplicate identity, concurrent modification
  - 503: storage unavailable
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Token issuing and verification
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mediset/pharmacy-engine/pharmacy"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *pharmacy.Engine
	Receipts *pharmacy.ReceiptManager
	Sales    *pharmacy.SaleManager
	Patients *pharmacy.PatientRegistry
	Reporter *pharmacy.Reporter

	log *logrus.Logger
}

// NewHandler wires the domain services over one transactional store.
func NewHandler(store pharmacy.TxStore, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.New()
	}
	return &Handler{
		Engine:   pharmacy.NewEngine(store),
		Receipts: pharmacy.NewReceiptManager(store),
		Sales:    pharmacy.NewSaleManager(store),
		Patients: pharmacy.NewPatientRegistry(store),
		Reporter: pharmacy.NewReporter(store),
		log:      log,
	}
}

// =============================================================================
// MEDICINE HANDLERS
// =============================================================================

// Intake records a stock delivery.
func (h *Handler) Intake(w http.ResponseWriter, r *http.Request) {
	var req IntakeRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	expiry, err := time.Parse("2006-01-02", req.ExpiryDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid expiry_date format (use YYYY-MM-DD)", err)
		return
	}
	price, err := parseMoney(req.UnitPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid unit_price", err)
		return
	}

	med, outcome, err := h.Engine.Intake(r.Context(), pharmacy.IntakeRequest{
		Name:          req.Name,
		Generic:       req.Generic,
		Brand:         req.Brand,
		Category:      req.Category,
		Form:          req.Form,
		Strength:      req.Strength,
		MinStockLevel: req.MinStockLevel,
		BatchNumber:   req.BatchNumber,
		ExpiryDate:    expiry,
		UnitPrice:     price,
		Quantity:      req.Quantity,
	})
	if err != nil {
		h.writeDomainError(w, r, "intake failed", err)
		return
	}

	status := http.StatusOK
	if outcome == pharmacy.IntakeCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, IntakeResponse{
		Outcome:  string(outcome),
		Medicine: toMedicineDTO(med),
	})
}

// ListMedicines returns the catalog, optionally filtered by
// ?name=, ?generic= or ?brand=.
func (h *Handler) ListMedicines(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var (
		meds []pharmacy.Medicine
		err  error
	)
	q := r.URL.Query()
	switch {
	case q.Get("name") != "":
		meds, err = h.Engine.MedicinesByName(ctx, q.Get("name"))
	case q.Get("generic") != "":
		meds, err = h.Engine.MedicinesByGeneric(ctx, q.Get("generic"))
	case q.Get("brand") != "":
		meds, err = h.Engine.MedicinesByBrand(ctx, q.Get("brand"))
	default:
		meds, err = h.Engine.Medicines(ctx)
	}
	if err != nil {
		h.writeDomainError(w, r, "failed to list medicines", err)
		return
	}

	dtos := make([]MedicineDTO, len(meds))
	for i := range meds {
		dtos[i] = toMedicineDTO(&meds[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetMedicine returns a single medicine by ID.
func (h *Handler) GetMedicine(w http.ResponseWriter, r *http.Request) {
	id := pharmacy.MedicineID(chi.URLParam(r, "id"))

	med, err := h.Engine.Medicine(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "failed to get medicine", err)
		return
	}
	writeJSON(w, http.StatusOK, toMedicineDTO(med))
}

// LowStockMedicines returns medicines at or under their minimum level.
func (h *Handler) LowStockMedicines(w http.ResponseWriter, r *http.Request) {
	meds, err := h.Reporter.LowStock(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "failed to list low stock", err)
		return
	}
	dtos := make([]MedicineDTO, len(meds))
	for i := range meds {
		dtos[i] = toMedicineDTO(&meds[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ExpiredMedicines returns medicines holding at least one expired batch.
func (h *Handler) ExpiredMedicines(w http.ResponseWriter, r *http.Request) {
	meds, err := h.Reporter.Expired(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "failed to list expired", err)
		return
	}
	dtos := make([]MedicineDTO, len(meds))
	for i := range meds {
		dtos[i] = toMedicineDTO(&meds[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdateBatch edits one batch in place. The medicine is addressed by
// name, the batch by number, matching how deliveries are keyed.
func (h *Handler) UpdateBatch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	batch := chi.URLParam(r, "batch")

	var req BatchUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	upd := pharmacy.BatchUpdate{
		Generic:  req.Generic,
		Brand:    req.Brand,
		Quantity: req.Quantity,
	}
	if req.UnitPrice != nil {
		price, err := parseMoney(*req.UnitPrice)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid unit_price", err)
			return
		}
		upd.UnitPrice = &price
	}
	if req.ExpiryDate != nil {
		expiry, err := time.Parse("2006-01-02", *req.ExpiryDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid expiry_date format (use YYYY-MM-DD)", err)
			return
		}
		upd.ExpiryDate = &expiry
	}

	med, err := h.Engine.UpdateBatch(r.Context(), name, batch, upd)
	if err != nil {
		h.writeDomainError(w, r, "failed to update batch", err)
		return
	}
	writeJSON(w, http.StatusOK, toMedicineDTO(med))
}

// DeleteBatch removes a batch outright. Removing the last batch also
// removes the medicine.
func (h *Handler) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	batch := chi.URLParam(r, "batch")

	removed, err := h.Engine.DeleteBatch(r.Context(), name, batch)
	if err != nil {
		h.writeDomainError(w, r, "failed to delete batch", err)
		return
	}
	writeJSON(w, http.StatusOK, BatchDTO{
		BatchNumber: removed.BatchNumber,
		ExpiryDate:  removed.ExpiryDate.Format("2006-01-02"),
		UnitPrice:   removed.UnitPrice.String(),
		Quantity:    removed.Quantity,
	})
}

// =============================================================================
// RECEIPT HANDLERS
// =============================================================================

// CreateReceipt dispenses the requested lines against the ledger.
func (h *Handler) CreateReceipt(w http.ResponseWriter, r *http.Request) {
	var req CreateReceiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	receipt, err := h.Receipts.Create(r.Context(), pharmacy.CreateReceiptRequest{
		PatientID: pharmacy.PatientID(req.PatientID),
		Lines:     toLineRequests(req.Lines),
	})
	if err != nil {
		h.writeDomainError(w, r, "failed to create receipt", err)
		return
	}
	writeJSON(w, http.StatusCreated, toReceiptDTO(receipt))
}

// ListReceipts returns all receipts.
func (h *Handler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := h.Receipts.List(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "failed to list receipts", err)
		return
	}
	dtos := make([]ReceiptDTO, len(receipts))
	for i := range receipts {
		dtos[i] = toReceiptDTO(&receipts[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetReceipt returns a single receipt.
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	id := pharmacy.ReceiptID(chi.URLParam(r, "id"))

	receipt, err := h.Receipts.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "failed to get receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, toReceiptDTO(receipt))
}

// UpdateReceipt replaces a receipt's lines, restoring the old depletion
// first so stock reflects only the new lines.
func (h *Handler) UpdateReceipt(w http.ResponseWriter, r *http.Request) {
	id := pharmacy.ReceiptID(chi.URLParam(r, "id"))

	var req CreateReceiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	receipt, err := h.Receipts.Update(r.Context(), id, toLineRequests(req.Lines))
	if err != nil {
		h.writeDomainError(w, r, "failed to update receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, toReceiptDTO(receipt))
}

// DeleteReceipt deletes a receipt and restores its stock.
func (h *Handler) DeleteReceipt(w http.ResponseWriter, r *http.Request) {
	id := pharmacy.ReceiptID(chi.URLParam(r, "id"))

	if err := h.Receipts.Delete(r.Context(), id); err != nil {
		h.writeDomainError(w, r, "failed to delete receipt", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

// CreateSale records a counter sale.
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req CreateSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tax, err := parseMoney(req.Tax)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid tax", err)
		return
	}
	discount, err := parseMoney(req.Discount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid discount", err)
		return
	}

	sale, err := h.Sales.Create(r.Context(), pharmacy.CreateSaleRequest{
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Items:         toLineRequests(req.Items),
		Tax:           tax,
		Discount:      discount,
		PaymentMethod: pharmacy.PaymentMethod(req.PaymentMethod),
		SoldBy:        req.SoldBy,
	})
	if err != nil {
		h.writeDomainError(w, r, "failed to create sale", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSaleDTO(sale))
}

// ListSales returns sales, filtered by ?from= and ?to= (YYYY-MM-DD,
// inclusive of both days).
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRangeQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	sales, err := h.Sales.ListInRange(r.Context(), from, to)
	if err != nil {
		h.writeDomainError(w, r, "failed to list sales", err)
		return
	}
	dtos := make([]SaleDTO, len(sales))
	for i := range sales {
		dtos[i] = toSaleDTO(&sales[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSale returns a single sale.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	id := pharmacy.SaleID(chi.URLParam(r, "id"))

	sale, err := h.Sales.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "failed to get sale", err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(sale))
}

// SalesStats returns count and revenue for a range.
func (h *Handler) SalesStats(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRangeQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date range", err)
		return
	}

	stats, err := h.Reporter.SalesInRange(r.Context(), from, to)
	if err != nil {
		h.writeDomainError(w, r, "failed to compute sales stats", err)
		return
	}
	writeJSON(w, http.StatusOK, SalesStatsDTO{
		From:    stats.From.Format(time.RFC3339),
		To:      stats.To.Format(time.RFC3339),
		Count:   stats.Count,
		Revenue: stats.Revenue.String(),
	})
}

// =============================================================================
// PATIENT HANDLERS
// =============================================================================

// RegisterPatient registers a patient.
func (h *Handler) RegisterPatient(w http.ResponseWriter, r *http.Request) {
	var req RegisterPatientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	patient, err := h.Patients.Register(r.Context(), pharmacy.RegisterPatientRequest{
		Name:    req.Name,
		Phone:   req.Phone,
		Age:     req.Age,
		Gender:  req.Gender,
		Address: req.Address,
	})
	if err != nil {
		h.writeDomainError(w, r, "failed to register patient", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPatientDTO(patient))
}

// ListPatients returns all patients.
func (h *Handler) ListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.Patients.List(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "failed to list patients", err)
		return
	}
	dtos := make([]PatientDTO, len(patients))
	for i := range patients {
		dtos[i] = toPatientDTO(&patients[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPatient returns a single patient.
func (h *Handler) GetPatient(w http.ResponseWriter, r *http.Request) {
	id := pharmacy.PatientID(chi.URLParam(r, "id"))

	patient, err := h.Patients.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "failed to get patient", err)
		return
	}
	writeJSON(w, http.StatusOK, toPatientDTO(patient))
}

// DeletePatient removes a patient record.
func (h *Handler) DeletePatient(w http.ResponseWriter, r *http.Request) {
	id := pharmacy.PatientID(chi.URLParam(r, "id"))

	if err := h.Patients.Delete(r.Context(), id); err != nil {
		h.writeDomainError(w, r, "failed to delete patient", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// DASHBOARD
// =============================================================================

// Dashboard returns the operational rollup.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Reporter.Dashboard(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "failed to compute dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, DashboardDTO{
		TotalMedicines: stats.TotalMedicines,
		LowStockCount:  stats.LowStockMedicines,
		ExpiredCount:   stats.ExpiredMedicines,
		TotalReceipts:  stats.TotalReceipts,
		TodaysReceipts: stats.TodayReceipts,
		TodaysSales:    stats.TodaySales,
		TodaysRevenue:  stats.TodayRevenue.String(),
		TotalSales:     stats.TotalSales,
		TotalRevenue:   stats.TotalRevenue.String(),
	})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain sentinels to HTTP status codes and logs
// server-side failures.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	switch {
	case pharmacy.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, pharmacy.ErrDuplicateIdentity),
		errors.Is(err, pharmacy.ErrConcurrentModification):
		writeError(w, http.StatusConflict, message, err)
	case errors.Is(err, pharmacy.ErrValidation),
		errors.Is(err, pharmacy.ErrInsufficientStock):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, pharmacy.ErrStorageUnavailable):
		h.log.WithError(err).WithField("path", r.URL.Path).Error("storage unavailable")
		writeError(w, http.StatusServiceUnavailable, message, err)
	default:
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func parseMoney(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// parseRangeQuery reads ?from= and ?to= as YYYY-MM-DD. Both days are
// inclusive: "to" is advanced to the next midnight because ranges are
// half-open internally. Absent bounds default to all of history.
func parseRangeQuery(r *http.Request) (from, to time.Time, err error) {
	to = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse("2006-01-02", v); err != nil {
			return from, to, err
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		var d time.Time
		if d, err = time.Parse("2006-01-02", v); err != nil {
			return from, to, err
		}
		to = d.AddDate(0, 0, 1)
	}
	return from, to, nil
}
