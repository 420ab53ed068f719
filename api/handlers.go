/*
handlers.go - HTTP API handlers for the fleet ledger

PURPOSE:
  Exposes the service over REST. Handles request decoding, validation and
  JSON responses; every rule lives in the service and fleet packages.

ENDPOINTS:
  Trips:
    GET    /api/trips                    List trips
    POST   /api/trips                    Create a planned trip
    GET    /api/trips/invoiceable        Trips no invoice references yet
    GET    /api/trips/settlement         Fleet-wide settlement
    GET    /api/trips/{id}               Trip details
    PUT    /api/trips/{id}               Update trip fields (not status)
    DELETE /api/trips/{id}               Delete (refused while invoiced)
    POST   /api/trips/{id}/transition    Change status
    GET    /api/trips/{id}/settlement    Trip settlement

  Drivers:
    GET    /api/drivers/{id}/ledger      Merged driver ledger
    POST   /api/drivers/{id}/transactions        Add manual entry
    DELETE /api/drivers/{id}/transactions/{txId} Remove manual entry

  Invoices:
    GET    /api/invoices/{id}            Invoice with the balance still due
    POST   /api/invoices/{id}/payments   Record a payment

  Bank:
    GET    /api/bank-accounts/{id}       Account with recomputed balance
    POST   /api/bank-accounts/{id}/transactions

REQUEST FLOW:
  1. Decode JSON body
  2. Validate tags
  3. Call the service
  4. Serialize response
  5. Map errors to a status

ERROR HANDLING:
  Errors are returned as JSON {"error", "details"}:
  - 400: Validation errors, invalid or skipped transitions
  - 404: Unknown record
  - 409: Terminal trip, deletion blocked by references
  - 500: Anything else (logged)

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fleetops/fleet-ledger/fleet"
	"github.com/fleetops/fleet-ledger/service"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	svc      *service.Service
	logger   *zap.Logger
	validate *validator.Validate

	mu              sync.RWMutex
	currentScenario string
}

// NewHandler creates a handler over svc.
func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		svc:      svc,
		logger:   logger,
		validate: newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails on an empty tag name.
	_ = v.RegisterValidation("positive_decimal", func(fl validator.FieldLevel) bool {
		d, ok := decimalField(fl)
		return ok && d.IsPositive()
	})
	_ = v.RegisterValidation("nonneg_decimal", func(fl validator.FieldLevel) bool {
		d, ok := decimalField(fl)
		return ok && !d.IsNegative()
	})
	return v
}

func decimalField(fl validator.FieldLevel) (decimal.Decimal, bool) {
	switch v := fl.Field().Interface().(type) {
	case decimal.Decimal:
		return v, true
	case *decimal.Decimal:
		if v == nil {
			return decimal.Zero, false
		}
		return *v, true
	default:
		return decimal.Zero, false
	}
}

// =============================================================================
// TRIP ENDPOINTS
// =============================================================================

func (h *Handler) ListTrips(w http.ResponseWriter, r *http.Request) {
	trips, err := h.svc.Store().ListTrips(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(trips))
}

func (h *Handler) GetTrip(w http.ResponseWriter, r *http.Request) {
	trip, err := h.svc.Store().GetTrip(r.Context(), fleet.TripID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (h *Handler) CreateTrip(w http.ResponseWriter, r *http.Request) {
	var req TripRequest
	if !h.decode(w, r, &req) {
		return
	}
	trip, err := h.svc.SaveTrip(r.Context(), req.toTrip(""))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, trip)
}

func (h *Handler) UpdateTrip(w http.ResponseWriter, r *http.Request) {
	id := fleet.TripID(chi.URLParam(r, "id"))
	if _, err := h.svc.Store().GetTrip(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	var req TripRequest
	if !h.decode(w, r, &req) {
		return
	}
	trip, err := h.svc.SaveTrip(r.Context(), req.toTrip(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

func (h *Handler) DeleteTrip(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteTrip(r.Context(), fleet.TripID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TransitionTrip changes a trip's status. Completion also returns the
// driver entry it appended, if any.
func (h *Handler) TransitionTrip(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.svc.TransitionTrip(r.Context(), fleet.TripID(chi.URLParam(r, "id")), fleet.TripStatus(req.Status))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetTripSettlement(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.TripSettlement(r.Context(), fleet.TripID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) GetFleetSettlement(w http.ResponseWriter, r *http.Request) {
	totals, err := h.svc.FleetSettlement(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if totals.PerTrip == nil {
		totals.PerTrip = []fleet.Settlement{}
	}
	writeJSON(w, http.StatusOK, totals)
}

func (h *Handler) ListInvoiceableTrips(w http.ResponseWriter, r *http.Request) {
	trips, err := h.svc.InvoiceableTrips(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(trips))
}

// =============================================================================
// DRIVER ENDPOINTS
// =============================================================================

func (h *Handler) ListDrivers(w http.ResponseWriter, r *http.Request) {
	drivers, err := h.svc.Store().ListDrivers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(drivers))
}

func (h *Handler) GetDriver(w http.ResponseWriter, r *http.Request) {
	driver, err := h.svc.Store().GetDriver(r.Context(), fleet.DriverID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, driver)
}

func (h *Handler) CreateDriver(w http.ResponseWriter, r *http.Request) {
	var req DriverRequest
	if !h.decode(w, r, &req) {
		return
	}
	driver, err := h.svc.SaveDriver(r.Context(), req.toDriver(""))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, driver)
}

func (h *Handler) UpdateDriver(w http.ResponseWriter, r *http.Request) {
	id := fleet.DriverID(chi.URLParam(r, "id"))
	if _, err := h.svc.Store().GetDriver(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	var req DriverRequest
	if !h.decode(w, r, &req) {
		return
	}
	driver, err := h.svc.SaveDriver(r.Context(), req.toDriver(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, driver)
}

func (h *Handler) DeleteDriver(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteDriver(r.Context(), fleet.DriverID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListAvailableDrivers(w http.ResponseWriter, r *http.Request) {
	drivers, err := h.svc.AvailableDrivers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(drivers))
}

func (h *Handler) GetDriverLedger(w http.ResponseWriter, r *http.Request) {
	l, err := h.svc.DriverLedger(r.Context(), fleet.DriverID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if l.Entries == nil {
		l.Entries = []fleet.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *Handler) AddManualTransaction(w http.ResponseWriter, r *http.Request) {
	var req ManualTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	m, err := h.svc.AddManualTransaction(r.Context(), fleet.DriverID(chi.URLParam(r, "id")), fleet.ManualTransaction{
		Type:        fleet.FlowType(req.Type),
		Amount:      req.Amount,
		Date:        req.Date,
		Description: req.Description,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) DeleteManualTransaction(w http.ResponseWriter, r *http.Request) {
	err := h.svc.DeleteManualTransaction(r.Context(),
		fleet.DriverID(chi.URLParam(r, "id")),
		fleet.ManualTxID(chi.URLParam(r, "txId")),
	)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// EXPENSE ENDPOINTS
// =============================================================================

func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	expenses, err := h.svc.Store().ListExpenses(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(expenses))
}

func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	var req ExpenseRequest
	if !h.decode(w, r, &req) {
		return
	}
	e, err := h.svc.SaveExpense(r.Context(), req.toExpense(""))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (h *Handler) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	id := fleet.ExpenseID(chi.URLParam(r, "id"))
	if _, err := h.svc.Store().GetExpense(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	var req ExpenseRequest
	if !h.decode(w, r, &req) {
		return
	}
	e, err := h.svc.SaveExpense(r.Context(), req.toExpense(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteExpense(r.Context(), fleet.ExpenseID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// INVOICE ENDPOINTS
// =============================================================================

func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.svc.Store().ListInvoices(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]InvoiceDTO, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, toInvoiceDTO(inv))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.svc.Store().GetInvoice(r.Context(), fleet.InvoiceID(chi.URLParam(r, "id")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req InvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}
	inv, err := h.svc.SaveInvoice(r.Context(), req.toInvoice(""))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDTO(inv))
}

func (h *Handler) UpdateInvoice(w http.ResponseWriter, r *http.Request) {
	id := fleet.InvoiceID(chi.URLParam(r, "id"))
	existing, err := h.svc.Store().GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req InvoiceRequest
	if !h.decode(w, r, &req) {
		return
	}
	inv := req.toInvoice(id)
	inv.PaidDate = existing.PaidDate
	inv, err = h.svc.SaveInvoice(r.Context(), inv)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

func (h *Handler) DeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteInvoice(r.Context(), fleet.InvoiceID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordPayment adds a payment and returns the invoice and its trip's
// resynchronized revenue.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !h.decode(w, r, &req) {
		return
	}
	out, err := h.svc.RecordInvoicePayment(r.Context(), fleet.InvoiceID(chi.URLParam(r, "id")), req.Amount, req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentDTO{Invoice: toInvoiceDTO(out.Invoice), Trip: out.Trip})
}

// =============================================================================
// TRUCK ENDPOINTS
// =============================================================================

func (h *Handler) ListTrucks(w http.ResponseWriter, r *http.Request) {
	trucks, err := h.svc.Store().ListTrucks(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(trucks))
}

func (h *Handler) CreateTruck(w http.ResponseWriter, r *http.Request) {
	var req TruckRequest
	if !h.decode(w, r, &req) {
		return
	}
	truck, err := h.svc.SaveTruck(r.Context(), req.toTruck(""))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, truck)
}

func (h *Handler) UpdateTruck(w http.ResponseWriter, r *http.Request) {
	id := fleet.TruckID(chi.URLParam(r, "id"))
	if _, err := h.svc.Store().GetTruck(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	var req TruckRequest
	if !h.decode(w, r, &req) {
		return
	}
	truck, err := h.svc.SaveTruck(r.Context(), req.toTruck(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, truck)
}

func (h *Handler) DeleteTruck(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteTruck(r.Context(), fleet.TruckID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAvailableTrucks accepts ?type=tractor|trailer; no filter lists both.
func (h *Handler) ListAvailableTrucks(w http.ResponseWriter, r *http.Request) {
	truckType := fleet.TruckType(r.URL.Query().Get("type"))
	if truckType != "" && truckType != fleet.TruckTractor && truckType != fleet.TruckTrailer {
		writeError(w, http.StatusBadRequest, "Invalid truck type", fmt.Errorf("unknown type %q", truckType))
		return
	}
	trucks, err := h.svc.AvailableTrucks(r.Context(), truckType)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(trucks))
}

// =============================================================================
// BANK ENDPOINTS
// =============================================================================

func (h *Handler) ListBankAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.svc.Store().ListBankAccounts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(accounts))
}

func (h *Handler) GetBankAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := fleet.AccountID(chi.URLParam(r, "id"))
	acc, err := h.svc.Store().GetBankAccount(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	balance, err := h.svc.AccountBalance(ctx, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	all, err := h.svc.Store().ListBankTransactions(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dto := AccountDTO{BankAccount: acc, Balance: balance, Transactions: []fleet.BankTransaction{}}
	for _, tx := range all {
		if tx.AccountID == id {
			dto.Transactions = append(dto.Transactions, tx)
		}
	}
	writeJSON(w, http.StatusOK, dto)
}

func (h *Handler) CreateBankAccount(w http.ResponseWriter, r *http.Request) {
	var req BankAccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	acc, err := h.svc.SaveBankAccount(r.Context(), fleet.BankAccount{
		Name:           req.Name,
		Bank:           req.Bank,
		Number:         req.Number,
		InitialBalance: req.InitialBalance,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

func (h *Handler) UpdateBankAccount(w http.ResponseWriter, r *http.Request) {
	id := fleet.AccountID(chi.URLParam(r, "id"))
	if _, err := h.svc.Store().GetBankAccount(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	var req BankAccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	acc, err := h.svc.SaveBankAccount(r.Context(), fleet.BankAccount{
		ID:             id,
		Name:           req.Name,
		Bank:           req.Bank,
		Number:         req.Number,
		InitialBalance: req.InitialBalance,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (h *Handler) DeleteBankAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteBankAccount(r.Context(), fleet.AccountID(chi.URLParam(r, "id"))); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateBankTransaction(w http.ResponseWriter, r *http.Request) {
	var req BankTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	tx, err := h.svc.SaveBankTransaction(r.Context(), fleet.BankTransaction{
		AccountID:   fleet.AccountID(chi.URLParam(r, "id")),
		Type:        fleet.BankTxType(req.Type),
		Amount:      req.Amount,
		Date:        req.Date,
		Description: req.Description,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// DeleteBankTransaction checks the transaction belongs to the account in
// the path before removing it.
func (h *Handler) DeleteBankTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	txID := fleet.BankTxID(chi.URLParam(r, "txId"))
	tx, err := h.svc.Store().GetBankTransaction(ctx, txID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if tx.AccountID != fleet.AccountID(chi.URLParam(r, "id")) {
		h.fail(w, r, &fleet.MissingReferenceError{Kind: "bank transaction", ID: string(txID)})
		return
	}
	if err := h.svc.DeleteBankTransaction(ctx, txID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads and validates the body into dst. On failure it has already
// written the 400 response.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeError(w, http.StatusBadRequest, "Validation failed", validationDetails(verrs))
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func validationDetails(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// fail maps a service error to its status code.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case fleet.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case fleet.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	case fleet.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		h.logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

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

// nonNil keeps empty collections rendering as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
