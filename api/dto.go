/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Medicines:
    MedicineDTO, BatchDTO, IntakeRequestDTO, BatchUpdateRequest

  Receipts:
    ReceiptDTO, ReceiptLineDTO, LineRequestDTO, CreateReceiptRequest

  Sales:
    SaleDTO, SaleItemDTO, CreateSaleRequest, SalesStatsDTO

  Patients:
    PatientDTO, RegisterPatientRequest

  Dashboard:
    DashboardDTO

  Auth:
    RegisterUserRequest, LoginRequest, AuthResponse

MONEY:
  Prices and totals cross the wire as decimal strings ("12.50"), never
  floats. shopspring/decimal marshals to a JSON number by default, so the
  DTOs format explicitly.

SEE ALSO:
  - handlers.go: Uses these types
  - auth.go: Auth request/response flow
*/
package api

import (
	"time"

	"github.com/mediset/pharmacy-engine/pharmacy"
)

// =============================================================================
// MEDICINE TYPES
// =============================================================================

// BatchDTO represents one stock batch in API responses.
type BatchDTO struct {
	BatchNumber string `json:"batch_number"`
	ExpiryDate  string `json:"expiry_date"`
	UnitPrice   string `json:"unit_price"`
	Quantity    int64  `json:"quantity"`
}

// MedicineDTO represents a medicine with its batch ledger.
type MedicineDTO struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Generic       string     `json:"generic"`
	Brand         string     `json:"brand"`
	Category      string     `json:"category,omitempty"`
	Form          string     `json:"form,omitempty"`
	Strength      string     `json:"strength,omitempty"`
	MinStockLevel int64      `json:"min_stock_level"`
	CurrentStock  int64      `json:"current_stock"`
	LowStock      bool       `json:"low_stock"`
	Batches       []BatchDTO `json:"batches"`
	CreatedAt     string     `json:"created_at,omitempty"`
	UpdatedAt     string     `json:"updated_at,omitempty"`
}

// IntakeRequestDTO is the request to record a stock delivery.
type IntakeRequestDTO struct {
	Name          string `json:"name"`
	Generic       string `json:"generic"`
	Brand         string `json:"brand"`
	Category      string `json:"category"`
	Form          string `json:"form"`
	Strength      string `json:"strength"`
	MinStockLevel int64  `json:"min_stock_level"`
	BatchNumber   string `json:"batch_number"`
	ExpiryDate    string `json:"expiry_date"`
	UnitPrice     string `json:"unit_price"`
	Quantity      int64  `json:"quantity"`
}

// IntakeResponse reports how a delivery was reconciled into the ledger.
type IntakeResponse struct {
	Outcome  string      `json:"outcome"` // merged | appended | created
	Medicine MedicineDTO `json:"medicine"`
}

// BatchUpdateRequest carries optional field overrides for a batch.
// Absent fields are left unchanged.
type BatchUpdateRequest struct {
	Generic    *string `json:"generic,omitempty"`
	Brand      *string `json:"brand,omitempty"`
	UnitPrice  *string `json:"unit_price,omitempty"`
	Quantity   *int64  `json:"quantity,omitempty"`
	ExpiryDate *string `json:"expiry_date,omitempty"`
}

// =============================================================================
// RECEIPT TYPES
// =============================================================================

// LineRequestDTO names a batch and quantity to dispense.
type LineRequestDTO struct {
	MedicineID  string `json:"medicine_id"`
	BatchNumber string `json:"batch_number"`
	Quantity    int64  `json:"quantity"`
}

// ReceiptLineDTO is a dispensed line with captured pricing.
type ReceiptLineDTO struct {
	MedicineID   string `json:"medicine_id"`
	BatchNumber  string `json:"batch_number"`
	MedicineName string `json:"medicine_name"`
	Generic      string `json:"generic,omitempty"`
	Brand        string `json:"brand,omitempty"`
	Quantity     int64  `json:"quantity"`
	UnitPrice    string `json:"unit_price"`
	LineTotal    string `json:"line_total"`
}

// ReceiptDTO represents a dispensing receipt.
type ReceiptDTO struct {
	ID          string           `json:"id"`
	PatientID   string           `json:"patient_id"`
	Lines       []ReceiptLineDTO `json:"lines"`
	TotalAmount string           `json:"total_amount"`
	ReceiptDate string           `json:"receipt_date"`
}

// CreateReceiptRequest creates or replaces a receipt's lines.
type CreateReceiptRequest struct {
	PatientID string           `json:"patient_id"`
	Lines     []LineRequestDTO `json:"lines"`
}

// =============================================================================
// SALE TYPES
// =============================================================================

// SaleItemDTO mirrors ReceiptLineDTO for counter sales.
type SaleItemDTO struct {
	MedicineID   string `json:"medicine_id"`
	BatchNumber  string `json:"batch_number"`
	MedicineName string `json:"medicine_name"`
	Generic      string `json:"generic,omitempty"`
	Brand        string `json:"brand,omitempty"`
	Quantity     int64  `json:"quantity"`
	UnitPrice    string `json:"unit_price"`
	LineTotal    string `json:"line_total"`
}

// SaleDTO represents a completed counter sale.
type SaleDTO struct {
	ID            string        `json:"id"`
	SaleNumber    string        `json:"sale_number"`
	CustomerName  string        `json:"customer_name"`
	CustomerPhone string        `json:"customer_phone,omitempty"`
	Items         []SaleItemDTO `json:"items"`
	Subtotal      string        `json:"subtotal"`
	Tax           string        `json:"tax"`
	Discount      string        `json:"discount"`
	Total         string        `json:"total"`
	PaymentMethod string        `json:"payment_method"`
	SoldBy        string        `json:"sold_by,omitempty"`
	SaleDate      string        `json:"sale_date"`
}

// CreateSaleRequest records a counter sale.
type CreateSaleRequest struct {
	CustomerName  string           `json:"customer_name"`
	CustomerPhone string           `json:"customer_phone"`
	Items         []LineRequestDTO `json:"items"`
	Tax           string           `json:"tax"`
	Discount      string           `json:"discount"`
	PaymentMethod string           `json:"payment_method"`
	SoldBy        string           `json:"sold_by"`
}

// SalesStatsDTO summarizes sales over a date range.
type SalesStatsDTO struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Count   int    `json:"count"`
	Revenue string `json:"revenue"`
}

// =============================================================================
// PATIENT TYPES
// =============================================================================

// PatientDTO represents a registered patient.
type PatientDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Age       int    `json:"age,omitempty"`
	Gender    string `json:"gender,omitempty"`
	Address   string `json:"address,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// RegisterPatientRequest registers a patient.
type RegisterPatientRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Age     int    `json:"age"`
	Gender  string `json:"gender"`
	Address string `json:"address"`
}

// =============================================================================
// DASHBOARD TYPES
// =============================================================================

// DashboardDTO is the operational overview for the front desk.
type DashboardDTO struct {
	TotalMedicines  int    `json:"total_medicines"`
	LowStockCount   int    `json:"low_stock_count"`
	ExpiredCount    int    `json:"expired_count"`
	TotalReceipts   int    `json:"total_receipts"`
	TodaysReceipts  int    `json:"todays_receipts"`
	TodaysSales     int    `json:"todays_sales"`
	TodaysRevenue   string `json:"todays_revenue"`
	TotalSales      int    `json:"total_sales"`
	TotalRevenue    string `json:"total_revenue"`
}

// =============================================================================
// AUTH TYPES
// =============================================================================

// RegisterUserRequest creates an API account.
type RegisterUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// LoginRequest authenticates an API account.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse carries the signed token back to the client.
type AuthResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// MAPPING HELPERS
// =============================================================================

func toMedicineDTO(m *pharmacy.Medicine) MedicineDTO {
	batches := make([]BatchDTO, len(m.Batches))
	for i, b := range m.Batches {
		batches[i] = BatchDTO{
			BatchNumber: b.BatchNumber,
			ExpiryDate:  b.ExpiryDate.Format("2006-01-02"),
			UnitPrice:   b.UnitPrice.String(),
			Quantity:    b.Quantity,
		}
	}
	return MedicineDTO{
		ID:            string(m.ID),
		Name:          m.Name,
		Generic:       m.Generic,
		Brand:         m.Brand,
		Category:      m.Category,
		Form:          m.Form,
		Strength:      m.Strength,
		MinStockLevel: m.MinStockLevel,
		CurrentStock:  m.CurrentStock,
		LowStock:      m.IsLowStock(),
		Batches:       batches,
		CreatedAt:     m.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     m.UpdatedAt.Format(time.RFC3339),
	}
}

func toReceiptDTO(r *pharmacy.Receipt) ReceiptDTO {
	lines := make([]ReceiptLineDTO, len(r.Lines))
	for i, ln := range r.Lines {
		lines[i] = ReceiptLineDTO{
			MedicineID:   string(ln.MedicineID),
			BatchNumber:  ln.BatchNumber,
			MedicineName: ln.MedicineName,
			Generic:      ln.Generic,
			Brand:        ln.Brand,
			Quantity:     ln.Quantity,
			UnitPrice:    ln.UnitPrice.String(),
			LineTotal:    ln.LineTotal.String(),
		}
	}
	return ReceiptDTO{
		ID:          string(r.ID),
		PatientID:   string(r.PatientID),
		Lines:       lines,
		TotalAmount: r.TotalAmount.String(),
		ReceiptDate: r.ReceiptDate.Format(time.RFC3339),
	}
}

func toSaleDTO(s *pharmacy.Sale) SaleDTO {
	items := make([]SaleItemDTO, len(s.Items))
	for i, it := range s.Items {
		items[i] = SaleItemDTO{
			MedicineID:   string(it.MedicineID),
			BatchNumber:  it.BatchNumber,
			MedicineName: it.MedicineName,
			Generic:      it.Generic,
			Brand:        it.Brand,
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPrice.String(),
			LineTotal:    it.LineTotal.String(),
		}
	}
	return SaleDTO{
		ID:            string(s.ID),
		SaleNumber:    s.SaleNumber,
		CustomerName:  s.CustomerName,
		CustomerPhone: s.CustomerPhone,
		Items:         items,
		Subtotal:      s.Subtotal.String(),
		Tax:           s.Tax.String(),
		Discount:      s.Discount.String(),
		Total:         s.Total.String(),
		PaymentMethod: string(s.PaymentMethod),
		SoldBy:        s.SoldBy,
		SaleDate:      s.SaleDate.Format(time.RFC3339),
	}
}

func toPatientDTO(p *pharmacy.Patient) PatientDTO {
	return PatientDTO{
		ID:        string(p.ID),
		Name:      p.Name,
		Phone:     p.Phone,
		Age:       p.Age,
		Gender:    p.Gender,
		Address:   p.Address,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
}

func toLineRequests(dtos []LineRequestDTO) []pharmacy.LineRequest {
	reqs := make([]pharmacy.LineRequest, len(dtos))
	for i, d := range dtos {
		reqs[i] = pharmacy.LineRequest{
			MedicineID:  pharmacy.MedicineID(d.MedicineID),
			BatchNumber: d.BatchNumber,
			Quantity:    d.Quantity,
		}
	}
	return reqs
}
