/*
handlers_test.go - HTTP-level tests over the full router

Each test spins up the real router with a SQLite in-memory store and an
authenticated session, then drives the API the way a frontend would.
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediset/pharmacy-engine/api"
	"github.com/mediset/pharmacy-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type apiFixture struct {
	router http.Handler
	token  string
}

func newAPIFixture(t *testing.T) *apiFixture {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	handler := api.NewHandler(store, log)
	auth := api.NewAuth(store, "test-secret", log)
	f := &apiFixture{router: api.NewRouter(handler, auth, log)}

	// Register an admin session for the protected routes
	resp := f.do(t, http.MethodPost, "/api/auth/register", map[string]any{
		"username": "admin",
		"email":    "admin@example.com",
		"password": "s3cret",
		"role":     "admin",
	})
	require.Equal(t, http.StatusCreated, resp.Code)

	var authResp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &authResp))
	require.NotEmpty(t, authResp.Token)
	f.token = authResp.Token

	return f
}

// do issues a request, attaching the session token when present.
func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) intake(t *testing.T, batch string, qty int64, price string) map[string]any {
	resp := f.do(t, http.MethodPost, "/api/medicines", map[string]any{
		"name":            "Paracetamol",
		"generic":         "Acetaminophen",
		"brand":           "Napa",
		"min_stock_level": 20,
		"batch_number":    batch,
		"expiry_date":     "2027-06-30",
		"unit_price":      price,
		"quantity":        qty,
	})
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, resp.Code, resp.Body.String())

	var out struct {
		Outcome  string         `json:"outcome"`
		Medicine map[string]any `json:"medicine"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out))
	return out.Medicine
}

func (f *apiFixture) registerPatient(t *testing.T) string {
	resp := f.do(t, http.MethodPost, "/api/patients", map[string]any{
		"name":  "Rahim Uddin",
		"phone": "01711-000001",
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var patient struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &patient))
	return patient.ID
}

// =============================================================================
// AUTH
// =============================================================================

func TestAuth_ProtectedRoutesRequireToken(t *testing.T) {
	f := newAPIFixture(t)

	anon := &apiFixture{router: f.router} // no token
	resp := anon.do(t, http.MethodGet, "/api/medicines", nil)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuth_LoginFlow(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/auth/login", map[string]any{
		"username": "admin",
		"password": "s3cret",
	})
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = f.do(t, http.MethodPost, "/api/auth/login", map[string]any{
		"username": "admin",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = f.do(t, http.MethodPost, "/api/auth/login", map[string]any{
		"username": "ghost",
		"password": "s3cret",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.Code, "unknown user looks like bad password")
}

func TestAuth_DuplicateUsername_Conflict(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/auth/register", map[string]any{
		"username": "admin",
		"email":    "second@example.com",
		"password": "pw",
	})
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestAuth_BatchDeleteNeedsRole(t *testing.T) {
	f := newAPIFixture(t)
	f.intake(t, "B-100", 100, "2.50")

	// A plain staff session may not delete batches
	resp := f.do(t, http.MethodPost, "/api/auth/register", map[string]any{
		"username": "clerk",
		"email":    "clerk@example.com",
		"password": "pw",
	})
	require.Equal(t, http.StatusCreated, resp.Code)
	var authResp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &authResp))

	staff := &apiFixture{router: f.router, token: authResp.Token}
	resp = staff.do(t, http.MethodDelete, "/api/medicines/Paracetamol/batches/B-100", nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	// The admin session may
	resp = f.do(t, http.MethodDelete, "/api/medicines/Paracetamol/batches/B-100", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}

// =============================================================================
// MEDICINES
// =============================================================================

func TestMedicines_IntakeAndQuery(t *testing.T) {
	f := newAPIFixture(t)

	med := f.intake(t, "B-100", 100, "2.50")
	f.intake(t, "B-100", 50, "2.50") // same lot merges

	resp := f.do(t, http.MethodGet, fmt.Sprintf("/api/medicines/%s", med["id"]), nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var got struct {
		CurrentStock int64            `json:"current_stock"`
		Batches      []map[string]any `json:"batches"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.Equal(t, int64(150), got.CurrentStock)
	assert.Len(t, got.Batches, 1)

	resp = f.do(t, http.MethodGet, "/api/medicines?name=paracetamol", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	assert.Len(t, list, 1)
}

func TestMedicines_IntakeValidation(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodPost, "/api/medicines", map[string]any{
		"name":         "Paracetamol",
		"generic":      "Acetaminophen",
		"brand":        "Napa",
		"batch_number": "B-100",
		"expiry_date":  "2027-06-30",
		"unit_price":   "2.50",
		"quantity":     0,
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestMedicines_GetUnknown_NotFound(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(t, http.MethodGet, "/api/medicines/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestMedicines_UpdateBatch(t *testing.T) {
	f := newAPIFixture(t)
	f.intake(t, "B-100", 100, "2.50")

	resp := f.do(t, http.MethodPut, "/api/medicines/Paracetamol/batches/B-100", map[string]any{
		"quantity":   80,
		"unit_price": "2.60",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var got struct {
		CurrentStock int64 `json:"current_stock"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.Equal(t, int64(80), got.CurrentStock)
}

// =============================================================================
// RECEIPTS
// =============================================================================

func TestReceipts_Lifecycle(t *testing.T) {
	f := newAPIFixture(t)
	med := f.intake(t, "B-100", 100, "2.50")
	patientID := f.registerPatient(t)

	// Create
	resp := f.do(t, http.MethodPost, "/api/receipts", map[string]any{
		"patient_id": patientID,
		"lines": []map[string]any{
			{"medicine_id": med["id"], "batch_number": "B-100", "quantity": 30},
		},
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var receipt struct {
		ID          string `json:"id"`
		TotalAmount string `json:"total_amount"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &receipt))
	assert.Equal(t, "75", receipt.TotalAmount)

	// Update to fewer units
	resp = f.do(t, http.MethodPut, "/api/receipts/"+receipt.ID, map[string]any{
		"lines": []map[string]any{
			{"medicine_id": med["id"], "batch_number": "B-100", "quantity": 10},
		},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	// Stock reflects only the new depletion
	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/medicines/%s", med["id"]), nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var got struct {
		CurrentStock int64 `json:"current_stock"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.Equal(t, int64(90), got.CurrentStock)

	// Delete restores everything
	resp = f.do(t, http.MethodDelete, "/api/receipts/"+receipt.ID, nil)
	require.Equal(t, http.StatusNoContent, resp.Code)

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/medicines/%s", med["id"]), nil)
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	assert.Equal(t, int64(100), got.CurrentStock)
}

func TestReceipts_InsufficientStock_BadRequest(t *testing.T) {
	f := newAPIFixture(t)
	med := f.intake(t, "B-100", 10, "2.50")
	patientID := f.registerPatient(t)

	resp := f.do(t, http.MethodPost, "/api/receipts", map[string]any{
		"patient_id": patientID,
		"lines": []map[string]any{
			{"medicine_id": med["id"], "batch_number": "B-100", "quantity": 11},
		},
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

// =============================================================================
// SALES AND DASHBOARD
// =============================================================================

func TestSales_CreateAndStats(t *testing.T) {
	f := newAPIFixture(t)
	med := f.intake(t, "B-100", 100, "2.50")

	resp := f.do(t, http.MethodPost, "/api/sales", map[string]any{
		"customer_name":  "Walk-in",
		"payment_method": "cash",
		"tax":            "1.00",
		"discount":       "0.50",
		"items": []map[string]any{
			{"medicine_id": med["id"], "batch_number": "B-100", "quantity": 4},
		},
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	var sale struct {
		SaleNumber string `json:"sale_number"`
		Total      string `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &sale))
	assert.Regexp(t, `^SALE-\d{8}-0001$`, sale.SaleNumber)
	assert.Equal(t, "10.5", sale.Total)

	resp = f.do(t, http.MethodGet, "/api/sales/stats", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var stats struct {
		Count   int    `json:"count"`
		Revenue string `json:"revenue"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, "10.5", stats.Revenue)
}

func TestSales_BadPaymentMethod_BadRequest(t *testing.T) {
	f := newAPIFixture(t)
	med := f.intake(t, "B-100", 100, "2.50")

	resp := f.do(t, http.MethodPost, "/api/sales", map[string]any{
		"customer_name":  "Walk-in",
		"payment_method": "barter",
		"items": []map[string]any{
			{"medicine_id": med["id"], "batch_number": "B-100", "quantity": 1},
		},
	})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestDashboard(t *testing.T) {
	f := newAPIFixture(t)
	med := f.intake(t, "B-100", 100, "2.50")
	patientID := f.registerPatient(t)

	resp := f.do(t, http.MethodPost, "/api/receipts", map[string]any{
		"patient_id": patientID,
		"lines": []map[string]any{
			{"medicine_id": med["id"], "batch_number": "B-100", "quantity": 2},
		},
	})
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = f.do(t, http.MethodGet, "/api/dashboard", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var dash struct {
		TotalMedicines int `json:"total_medicines"`
		TotalReceipts  int `json:"total_receipts"`
		TodaysReceipts int `json:"todays_receipts"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &dash))
	assert.Equal(t, 1, dash.TotalMedicines)
	assert.Equal(t, 1, dash.TotalReceipts)
	assert.Equal(t, 1, dash.TodaysReceipts)
}

func TestHealthz_Public(t *testing.T) {
	f := newAPIFixture(t)

	anon := &apiFixture{router: f.router}
	resp := anon.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}
