/*
dto.go - Request and response bodies of the HTTP API

PURPOSE:
  Decouples the JSON contract from the fleet records. Request types carry
  validator tags; handlers convert them into fleet records and hand them to
  the service, which owns every business rule.

NAMING CONVENTION:
  - *Request: request bodies
  - *DTO: response shapes that are not plain fleet records

VALIDATION:
  Tags are checked by go-playground/validator before any service call.
  Money uses two custom tags:
    positive_decimal  > 0
    nonneg_decimal    >= 0
  A missing date means "today" for the service, except where required.

SEE ALSO:
  - handlers.go: decode() runs the validator
  - fleet/types.go: the records these map to
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/fleetops/fleet-ledger/fleet"
)

// =============================================================================
// TRIPS
// =============================================================================

type TripRequest struct {
	TractorID     string           `json:"camionId"`
	TrailerID     string           `json:"remorqueId"`
	DriverID      string           `json:"chauffeurId" validate:"required"`
	Origin        string           `json:"origine" validate:"required"`
	Destination   string           `json:"destination" validate:"required"`
	DepartureDate fleet.Date       `json:"dateDepart" validate:"required"`
	ArrivalDate   *fleet.Date      `json:"dateArrivee"`
	Recette       decimal.Decimal  `json:"recette" validate:"nonneg_decimal"`
	Prefinancing  *decimal.Decimal `json:"prefinancement" validate:"omitempty,nonneg_decimal"`
}

func (r TripRequest) toTrip(id fleet.TripID) fleet.Trip {
	return fleet.Trip{
		ID:            id,
		TractorID:     fleet.TruckID(r.TractorID),
		TrailerID:     fleet.TruckID(r.TrailerID),
		DriverID:      fleet.DriverID(r.DriverID),
		Origin:        r.Origin,
		Destination:   r.Destination,
		DepartureDate: r.DepartureDate,
		ArrivalDate:   r.ArrivalDate,
		Recette:       r.Recette,
		Prefinancing:  r.Prefinancing,
	}
}

type TransitionRequest struct {
	Status string `json:"statut" validate:"required,oneof=planned ongoing completed cancelled"`
}

// =============================================================================
// DRIVERS
// =============================================================================

type DriverRequest struct {
	FirstName     string `json:"prenom" validate:"required"`
	LastName      string `json:"nom" validate:"required"`
	Phone         string `json:"telephone"`
	LicenseNumber string `json:"numeroPermis"`
}

func (r DriverRequest) toDriver(id fleet.DriverID) fleet.Driver {
	return fleet.Driver{
		ID:            id,
		FirstName:     r.FirstName,
		LastName:      r.LastName,
		Phone:         r.Phone,
		LicenseNumber: r.LicenseNumber,
	}
}

type ManualTransactionRequest struct {
	Type        string          `json:"type" validate:"required,oneof=inflow outflow"`
	Amount      decimal.Decimal `json:"montant" validate:"positive_decimal"`
	Date        fleet.Date      `json:"date"`
	Description string          `json:"description" validate:"max=500"`
}

// =============================================================================
// EXPENSES
// =============================================================================

type ExpenseRequest struct {
	TruckID     string          `json:"camionId"`
	TripID      string          `json:"trajetId"`
	DriverID    string          `json:"chauffeurId"`
	SupplierID  string          `json:"fournisseurId"`
	Category    string          `json:"categorie" validate:"required"`
	SubCategory string          `json:"sousCategorie"`
	Amount      decimal.Decimal `json:"montant" validate:"nonneg_decimal"`
	Date        fleet.Date      `json:"date"`
	Description string          `json:"description" validate:"max=500"`
}

func (r ExpenseRequest) toExpense(id fleet.ExpenseID) fleet.Expense {
	return fleet.Expense{
		ID:          id,
		TruckID:     fleet.TruckID(r.TruckID),
		TripID:      fleet.TripID(r.TripID),
		DriverID:    fleet.DriverID(r.DriverID),
		SupplierID:  fleet.SupplierID(r.SupplierID),
		Category:    r.Category,
		SubCategory: r.SubCategory,
		Amount:      r.Amount,
		Date:        r.Date,
		Description: r.Description,
	}
}

// =============================================================================
// INVOICES
// =============================================================================

type InvoiceRequest struct {
	Number      string          `json:"numero" validate:"required"`
	TripID      string          `json:"trajetId" validate:"required_without=ExpenseID,excluded_with=ExpenseID"`
	ExpenseID   string          `json:"depenseId"`
	AmountHT    decimal.Decimal `json:"montantHT" validate:"nonneg_decimal"`
	AmountTTC   decimal.Decimal `json:"montantTTC" validate:"nonneg_decimal"`
	MontantPaye decimal.Decimal `json:"montantPaye" validate:"nonneg_decimal"`
	IssueDate   fleet.Date      `json:"dateEmission"`
	DueDate     *fleet.Date     `json:"dateEcheance"`
}

// toInvoice derives the status from the paid amount.
func (r InvoiceRequest) toInvoice(id fleet.InvoiceID) fleet.Invoice {
	inv := fleet.Invoice{
		ID:          id,
		Number:      r.Number,
		TripID:      fleet.TripID(r.TripID),
		ExpenseID:   fleet.ExpenseID(r.ExpenseID),
		Status:      fleet.InvoicePending,
		AmountHT:    r.AmountHT,
		AmountTTC:   r.AmountTTC,
		MontantPaye: r.MontantPaye,
		IssueDate:   r.IssueDate,
		DueDate:     r.DueDate,
	}
	if inv.AmountTTC.IsPositive() && !inv.MontantPaye.LessThan(inv.AmountTTC) {
		inv.Status = fleet.InvoicePaid
	}
	return inv
}

type PaymentRequest struct {
	Amount decimal.Decimal `json:"montant" validate:"positive_decimal"`
	Date   fleet.Date      `json:"date"`
}

// =============================================================================
// TRUCKS
// =============================================================================

type TruckRequest struct {
	Plate    string `json:"immatriculation" validate:"required"`
	Type     string `json:"type" validate:"required,oneof=tractor trailer"`
	Status   string `json:"statut" validate:"omitempty,oneof=active inactive"`
	DriverID string `json:"chauffeurId"`
	OwnerID  string `json:"proprietaireId"`
}

func (r TruckRequest) toTruck(id fleet.TruckID) fleet.Truck {
	return fleet.Truck{
		ID:       id,
		Plate:    r.Plate,
		Type:     fleet.TruckType(r.Type),
		Status:   fleet.TruckStatus(r.Status),
		DriverID: fleet.DriverID(r.DriverID),
		OwnerID:  r.OwnerID,
	}
}

// =============================================================================
// BANK
// =============================================================================

type BankAccountRequest struct {
	Name           string          `json:"nom" validate:"required"`
	Bank           string          `json:"banque"`
	Number         string          `json:"numeroCompte"`
	InitialBalance decimal.Decimal `json:"soldeInitial"`
}

type BankTransactionRequest struct {
	Type        string          `json:"type" validate:"required,oneof=deposit withdrawal transfer debit fee"`
	Amount      decimal.Decimal `json:"montant" validate:"positive_decimal"`
	Date        fleet.Date      `json:"date"`
	Description string          `json:"description" validate:"max=500"`
}

// InvoiceDTO adds what remains to be paid on the invoice.
type InvoiceDTO struct {
	fleet.Invoice
	BalanceDue decimal.Decimal `json:"resteAPayer"`
}

func toInvoiceDTO(inv fleet.Invoice) InvoiceDTO {
	return InvoiceDTO{Invoice: inv, BalanceDue: inv.BalanceDue()}
}

// PaymentDTO is the payment outcome as rendered by the API.
type PaymentDTO struct {
	Invoice InvoiceDTO  `json:"facture"`
	Trip    *fleet.Trip `json:"trajet,omitempty"`
}

// AccountDTO is an account with its balance recomputed from transactions.
type AccountDTO struct {
	fleet.BankAccount
	Balance      decimal.Decimal         `json:"soldeCalcule"`
	Transactions []fleet.BankTransaction `json:"transactions"`
}

// =============================================================================
// SCENARIOS + ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
