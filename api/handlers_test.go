/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- The Douala → Yaoundé flow end to end over HTTP
- Request validation (400 with field details)
- Error mapping (404 / 409 / 400)
- Bank account balance refresh
- Health and metrics endpoints
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/fleet-ledger/fleet"
	"github.com/fleetops/fleet-ledger/fleet/store"
	"github.com/fleetops/fleet-ledger/service"
)

// =============================================================================
// HELPERS
// =============================================================================

var testNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func fcfa(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type testAPI struct {
	t      *testing.T
	router http.Handler
	svc    *service.Service
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	n := 0
	svc := service.New(store.NewMemory(),
		service.WithClock(fleet.FixedClock(testNow)),
		service.WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }),
	)
	h := NewHandler(svc, nil)
	return &testAPI{t: t, router: NewRouter(h, RouterOptions{}), svc: svc}
}

func (a *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

// mustDo asserts the status and decodes the body into out (when non-nil).
func (a *testAPI) mustDo(method, path string, body any, status int, out any) {
	a.t.Helper()
	rec := a.do(method, path, body)
	require.Equal(a.t, status, rec.Code, "%s %s: %s", method, path, rec.Body.String())
	if out != nil {
		require.NoError(a.t, json.Unmarshal(rec.Body.Bytes(), out))
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// seed creates TR1, RM1, a driver and a planned Douala → Yaoundé trip.
func (a *testAPI) seed() (fleet.Driver, fleet.Trip) {
	a.t.Helper()
	var tractor, trailer fleet.Truck
	a.mustDo("POST", "/api/trucks", map[string]any{"immatriculation": "LT-123-AB", "type": "tractor"}, http.StatusCreated, &tractor)
	a.mustDo("POST", "/api/trucks", map[string]any{"immatriculation": "LT-456-CD", "type": "trailer"}, http.StatusCreated, &trailer)

	var driver fleet.Driver
	a.mustDo("POST", "/api/drivers", map[string]any{"prenom": "Jean", "nom": "Mbarga"}, http.StatusCreated, &driver)

	var trip fleet.Trip
	a.mustDo("POST", "/api/trips", map[string]any{
		"camionId":    tractor.ID,
		"remorqueId":  trailer.ID,
		"chauffeurId": driver.ID,
		"origine":     "Douala",
		"destination": "Yaoundé",
		"dateDepart":  "2025-03-10",
		"recette":     "450000",
	}, http.StatusCreated, &trip)
	return driver, trip
}

// =============================================================================
// END TO END
// =============================================================================

func TestTripFlow_DoualaOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	driver, trip := a.seed()
	assert.Equal(t, fleet.TripPlanned, trip.Status)

	var expense fleet.Expense
	a.mustDo("POST", "/api/expenses", map[string]any{
		"trajetId": trip.ID, "camionId": trip.TractorID, "categorie": "carburant", "montant": "85000", "date": "2025-03-11",
	}, http.StatusCreated, &expense)

	tripPath := "/api/trips/" + string(trip.ID)
	a.mustDo("POST", tripPath+"/transition", map[string]any{"statut": "ongoing"}, http.StatusOK, nil)

	var out service.TransitionOutcome
	a.mustDo("POST", tripPath+"/transition", map[string]any{"statut": "completed"}, http.StatusOK, &out)
	require.NotNil(t, out.Entry)
	assert.Equal(t, trip.ID, out.Entry.SourceTripID)
	assert.Equal(t, fleet.TripCompleted, out.Trip.Status)

	// Second completion is refused: terminal.
	rec := a.do("POST", tripPath+"/transition", map[string]any{"statut": "completed"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	var ledger fleet.Ledger
	a.mustDo("GET", "/api/drivers/"+string(driver.ID)+"/ledger", nil, http.StatusOK, &ledger)
	assert.True(t, ledger.Inflows.Equal(fcfa(450000)), "inflows %s", ledger.Inflows)
	assert.True(t, ledger.Outflows.Equal(fcfa(85000)))
	assert.True(t, ledger.Balance.Equal(fcfa(365000)))

	var settlement fleet.Settlement
	a.mustDo("GET", tripPath+"/settlement", nil, http.StatusOK, &settlement)
	assert.True(t, settlement.Solde.Equal(fcfa(365000)))

	var invoiceable []fleet.Trip
	a.mustDo("GET", "/api/trips/invoiceable", nil, http.StatusOK, &invoiceable)
	require.Len(t, invoiceable, 1)

	var totals fleet.FleetTotals
	a.mustDo("GET", "/api/trips/settlement", nil, http.StatusOK, &totals)
	assert.Equal(t, 1, totals.Trips)
	assert.True(t, totals.Solde.Equal(fcfa(365000)))
}

func TestInvoicePayment_OverHTTP(t *testing.T) {
	a := newTestAPI(t)
	_, trip := a.seed()

	var inv InvoiceDTO
	a.mustDo("POST", "/api/invoices", map[string]any{
		"numero": "FAC-001", "trajetId": trip.ID, "montantHT": "168000", "montantTTC": "200000",
	}, http.StatusCreated, &inv)
	assert.Equal(t, fleet.InvoicePending, inv.Status)
	assert.True(t, inv.BalanceDue.Equal(fcfa(200000)))

	var partial PaymentDTO
	a.mustDo("POST", "/api/invoices/"+string(inv.ID)+"/payments", map[string]any{"montant": "50000"}, http.StatusOK, &partial)
	assert.Equal(t, fleet.InvoicePending, partial.Invoice.Status)
	assert.True(t, partial.Invoice.BalanceDue.Equal(fcfa(150000)), "due %s", partial.Invoice.BalanceDue)

	var out PaymentDTO
	a.mustDo("POST", "/api/invoices/"+string(inv.ID)+"/payments", map[string]any{"montant": "150000"}, http.StatusOK, &out)
	assert.Equal(t, fleet.InvoicePaid, out.Invoice.Status)
	assert.True(t, out.Invoice.BalanceDue.IsZero())
	require.NotNil(t, out.Trip)
	assert.True(t, out.Trip.Recette.Equal(fcfa(200000)))

	var got InvoiceDTO
	a.mustDo("GET", "/api/invoices/"+string(inv.ID), nil, http.StatusOK, &got)
	assert.True(t, got.BalanceDue.IsZero())

	rec := a.do("DELETE", "/api/trips/"+string(trip.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decodeError(t, rec).Details, string(inv.ID))
}

// =============================================================================
// VALIDATION + ERROR MAPPING
// =============================================================================

func TestValidation(t *testing.T) {
	a := newTestAPI(t)

	tests := []struct {
		name  string
		path  string
		body  any
		field string
	}{
		{"trip without origin", "/api/trips", map[string]any{"chauffeurId": "D1", "destination": "Kribi", "dateDepart": "2025-03-10"}, "origine"},
		{"trip without departure", "/api/trips", map[string]any{"chauffeurId": "D1", "origine": "Douala", "destination": "Kribi"}, "dateDepart"},
		{"negative revenue", "/api/trips", map[string]any{"chauffeurId": "D1", "origine": "Douala", "destination": "Kribi", "dateDepart": "2025-03-10", "recette": "-1"}, "recette"},
		{"unknown truck type", "/api/trucks", map[string]any{"immatriculation": "X", "type": "van"}, "type"},
		{"zero payment", "/api/invoices/F1/payments", map[string]any{"montant": "0"}, "montant"},
		{"invoice without target", "/api/invoices", map[string]any{"numero": "FAC-1"}, "trajetId"},
		{"unknown status", "/api/trips/T1/transition", map[string]any{"statut": "lost"}, "statut"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do("POST", tt.path, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			resp := decodeError(t, rec)
			assert.Equal(t, "Validation failed", resp.Error)
			assert.Contains(t, resp.Details, tt.field)
		})
	}

	rec := a.do("POST", "/api/trips", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	a := newTestAPI(t)
	driver, trip := a.seed()

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"unknown trip", "GET", "/api/trips/ghost", nil, http.StatusNotFound},
		{"unknown driver ledger", "GET", "/api/drivers/ghost/ledger", nil, http.StatusNotFound},
		{"skipped step", "POST", "/api/trips/" + string(trip.ID) + "/transition", map[string]any{"statut": "completed"}, http.StatusBadRequest},
		{"regression", "POST", "/api/trips/" + string(trip.ID) + "/transition", map[string]any{"statut": "planned"}, http.StatusBadRequest},
		{"driver on active trip", "DELETE", "/api/drivers/" + string(driver.ID), nil, http.StatusConflict},
		{"truck on active trip", "DELETE", "/api/trucks/" + string(trip.TractorID), nil, http.StatusConflict},
		{"trip for unknown driver", "POST", "/api/trips", map[string]any{
			"chauffeurId": "ghost", "origine": "Douala", "destination": "Kribi", "dateDepart": "2025-03-10",
		}, http.StatusNotFound},
		{"update unknown trip", "PUT", "/api/trips/ghost", map[string]any{}, http.StatusNotFound},
		{"bad truck filter", "GET", "/api/trucks/available?type=van", nil, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeError(t, rec).Error)
		})
	}
}

func TestAvailability_OverHTTP(t *testing.T) {
	a := newTestAPI(t)
	_, trip := a.seed()

	var trucks []fleet.Truck
	a.mustDo("GET", "/api/trucks/available", nil, http.StatusOK, &trucks)
	assert.Empty(t, trucks)

	a.mustDo("POST", "/api/trips/"+string(trip.ID)+"/transition", map[string]any{"statut": "cancelled"}, http.StatusOK, nil)

	a.mustDo("GET", "/api/trucks/available?type=trailer", nil, http.StatusOK, &trucks)
	require.Len(t, trucks, 1)
	assert.Equal(t, trip.TrailerID, trucks[0].ID)

	var drivers []fleet.Driver
	a.mustDo("GET", "/api/drivers/available", nil, http.StatusOK, &drivers)
	assert.Len(t, drivers, 1)
}

// =============================================================================
// DRIVERS + BANK
// =============================================================================

func TestManualTransactions_OverHTTP(t *testing.T) {
	a := newTestAPI(t)
	driver, _ := a.seed()
	base := "/api/drivers/" + string(driver.ID)

	var m fleet.ManualTransaction
	a.mustDo("POST", base+"/transactions", map[string]any{"type": "outflow", "montant": "5000", "description": "Avance"}, http.StatusCreated, &m)
	assert.Equal(t, "2025-03-14", m.Date.String())

	var ledger fleet.Ledger
	a.mustDo("GET", base+"/ledger", nil, http.StatusOK, &ledger)
	assert.True(t, ledger.Balance.Equal(fcfa(-5000)))

	a.mustDo("DELETE", base+"/transactions/"+string(m.ID), nil, http.StatusNoContent, nil)
	a.mustDo("DELETE", base+"/transactions/"+string(m.ID), nil, http.StatusNotFound, nil)

	var updated fleet.Driver
	a.mustDo("PUT", base, map[string]any{"prenom": "Jean", "nom": "Mbarga", "telephone": "+237 690 00 00 00"}, http.StatusOK, &updated)
	assert.Equal(t, "+237 690 00 00 00", updated.Phone)
}

func TestBankAccount_OverHTTP(t *testing.T) {
	a := newTestAPI(t)

	var acc fleet.BankAccount
	a.mustDo("POST", "/api/bank-accounts", map[string]any{"nom": "Compte courant", "soldeInitial": "5000000"}, http.StatusCreated, &acc)
	base := "/api/bank-accounts/" + string(acc.ID)

	a.mustDo("POST", base+"/transactions", map[string]any{"type": "deposit", "montant": "450000"}, http.StatusCreated, nil)
	var fee fleet.BankTransaction
	a.mustDo("POST", base+"/transactions", map[string]any{"type": "withdrawal", "montant": "85000"}, http.StatusCreated, &fee)

	var dto AccountDTO
	a.mustDo("GET", base, nil, http.StatusOK, &dto)
	assert.True(t, dto.Balance.Equal(fcfa(5365000)), "balance %s", dto.Balance)
	assert.True(t, dto.CachedBalance.Equal(dto.Balance))
	assert.Len(t, dto.Transactions, 2)

	a.mustDo("DELETE", base, nil, http.StatusConflict, nil)
	a.mustDo("DELETE", "/api/bank-accounts/other/transactions/"+string(fee.ID), nil, http.StatusNotFound, nil)
	a.mustDo("DELETE", base+"/transactions/"+string(fee.ID), nil, http.StatusNoContent, nil)

	a.mustDo("GET", base, nil, http.StatusOK, &dto)
	assert.True(t, dto.CachedBalance.Equal(fcfa(5450000)))
}

// =============================================================================
// OPERATIONAL ENDPOINTS
// =============================================================================

func TestHealthAndMetrics(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do("GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")

	rec = a.do("GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Security headers from the secure middleware.
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

type failingPinger struct{ *store.Memory }

func (failingPinger) Ping(context.Context) error { return fmt.Errorf("database is locked") }

func TestHealth_StoreDown(t *testing.T) {
	svc := service.New(failingPinger{store.NewMemory()})
	router := NewRouter(NewHandler(svc, nil), RouterOptions{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimit(t *testing.T) {
	svc := service.New(store.NewMemory())
	router := NewRouter(NewHandler(svc, nil), RouterOptions{RateLimit: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/healthz", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
