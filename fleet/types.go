/*
Package fleet provides the derivation and reconciliation core of the fleet ledger.

PURPOSE:
  Turns independently-editable records (trips, expenses, invoices, manual
  driver entries, bank movements) into consistent financial views: driver
  balances, trip settlement, account balances. Every figure is recomputed
  from the raw collections; nothing here keeps a running total.

KEY CONCEPTS IN THIS FILE (types.go):
  - Trip: a haul from origin to destination, driven by one driver
  - Expense: money spent on a truck, optionally linked to a trip/driver
  - Driver: profile + ManualTransaction list entered by the user
  - Invoice: billing document for a trip (or an expense), possibly partially paid
  - BankAccount / BankTransaction: account movements
  - Truck: tractor or trailer unit

PURITY:
  Functions in this package perform no I/O, never mutate their inputs and
  never cache across calls. The service package loads collections, calls
  into this package and persists whatever it returns.

SEE ALSO:
  - lifecycle.go: Trip status state machine
  - ledger.go: Driver ledger derivation and idempotent completion append
  - settlement.go, invoice.go: Trip settlement and invoice reconciliation
  - availability.go: Busy checks and deletion guards
  - bank.go: Account balance derivation
*/
package fleet

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// Identifiers are opaque strings, one type per entity.
type (
	TripID     string
	DriverID   string
	TruckID    string
	ExpenseID  string
	InvoiceID  string
	AccountID  string
	BankTxID   string
	ManualTxID string
	SupplierID string // referenced by expenses, not managed here
)

// =============================================================================
// TRIP
// =============================================================================

// TripStatus is the lifecycle state of a trip (see lifecycle.go).
type TripStatus string

const (
	TripPlanned   TripStatus = "planned"
	TripOngoing   TripStatus = "ongoing"
	TripCompleted TripStatus = "completed"
	TripCancelled TripStatus = "cancelled"
)

// Trip is a single haul. Recette is the settled revenue; once invoices exist
// it is a cache synchronized from their paid amounts (see invoice.go).
type Trip struct {
	ID            TripID           `json:"id"`
	TractorID     TruckID          `json:"camionId,omitempty"`
	TrailerID     TruckID          `json:"remorqueId,omitempty"`
	DriverID      DriverID         `json:"chauffeurId"`
	Origin        string           `json:"origine"`
	Destination   string           `json:"destination"`
	DepartureDate Date             `json:"dateDepart"`
	ArrivalDate   *Date            `json:"dateArrivee,omitempty"`
	Recette       decimal.Decimal  `json:"recette"`
	Prefinancing  *decimal.Decimal `json:"prefinancement,omitempty"`
	Status        TripStatus       `json:"statut"`
}

// UsesTruck reports whether the truck is the trip's tractor or trailer.
func (t Trip) UsesTruck(id TruckID) bool {
	return id != "" && (t.TractorID == id || t.TrailerID == id)
}

// PrefinancingAmount returns the prefinancing or zero.
func (t Trip) PrefinancingAmount() decimal.Decimal {
	if t.Prefinancing == nil {
		return decimal.Zero
	}
	return *t.Prefinancing
}

// Route renders "Origin → Destination".
func (t Trip) Route() string {
	return RouteLabel(t.Origin, t.Destination)
}

// RouteLabel is the canonical origin/destination pair used in descriptions.
func RouteLabel(origin, destination string) string {
	return origin + " → " + destination
}

// Validate checks the invariants the core assumes were enforced upstream.
func (t Trip) Validate() error {
	if t.DriverID == "" {
		return &ValidationError{Field: "chauffeurId", Message: "driver is required"}
	}
	if !t.Status.IsValid() {
		return &ValidationError{Field: "statut", Message: "unknown status " + string(t.Status)}
	}
	if t.Recette.IsNegative() {
		return &ValidationError{Field: "recette", Message: "revenue cannot be negative"}
	}
	if t.Prefinancing != nil && t.Prefinancing.IsNegative() {
		return &ValidationError{Field: "prefinancement", Message: "prefinancing cannot be negative"}
	}
	if t.ArrivalDate != nil && !t.DepartureDate.IsZero() && t.ArrivalDate.Before(t.DepartureDate) {
		return &ValidationError{Field: "dateArrivee", Message: "arrival before departure"}
	}
	return nil
}

// =============================================================================
// EXPENSE
// =============================================================================

// Expense is a cost booked on a truck, optionally tied to a trip and a driver.
// It counts against every driver it reaches, once.
type Expense struct {
	ID          ExpenseID       `json:"id"`
	TruckID     TruckID         `json:"camionId"`
	TripID      TripID          `json:"trajetId,omitempty"`
	DriverID    DriverID        `json:"chauffeurId,omitempty"`
	SupplierID  SupplierID      `json:"fournisseurId,omitempty"`
	Category    string          `json:"categorie"`
	SubCategory string          `json:"sousCategorie,omitempty"`
	Amount      decimal.Decimal `json:"montant"`
	Date        Date            `json:"date"`
	Description string          `json:"description"`
}

// =============================================================================
// DRIVER + MANUAL TRANSACTIONS
// =============================================================================

// FlowType is the direction of a driver ledger entry.
type FlowType string

const (
	FlowInflow  FlowType = "inflow"
	FlowOutflow FlowType = "outflow"
)

func (f FlowType) IsValid() bool { return f == FlowInflow || f == FlowOutflow }

// ManualTransaction is an entry stored on the driver. SourceTripID is set on
// entries appended by trip completion and empty on user-entered ones.
type ManualTransaction struct {
	ID           ManualTxID      `json:"id"`
	Type         FlowType        `json:"type"`
	Amount       decimal.Decimal `json:"montant"`
	Date         Date            `json:"date"`
	Description  string          `json:"description"`
	SourceTripID TripID          `json:"sourceTripId,omitempty"`
}

// Driver owns its manual transaction list; everything else in its ledger is derived.
type Driver struct {
	ID                 DriverID            `json:"id"`
	FirstName          string              `json:"prenom"`
	LastName           string              `json:"nom"`
	Phone              string              `json:"telephone,omitempty"`
	LicenseNumber      string              `json:"numeroPermis,omitempty"`
	ManualTransactions []ManualTransaction `json:"transactions"`
}

// =============================================================================
// INVOICE
// =============================================================================

// InvoiceStatus is pending until the TTC amount is fully paid.
type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "pending"
	InvoicePaid    InvoiceStatus = "paid"
)

// Invoice bills either a trip or an expense. Its paid amount feeds the
// trip's Recette.
type Invoice struct {
	ID          InvoiceID       `json:"id"`
	Number      string          `json:"numero"`
	TripID      TripID          `json:"trajetId,omitempty"`
	ExpenseID   ExpenseID       `json:"depenseId,omitempty"`
	Status      InvoiceStatus   `json:"statut"`
	AmountHT    decimal.Decimal `json:"montantHT"`
	AmountTTC   decimal.Decimal `json:"montantTTC"`
	MontantPaye decimal.Decimal `json:"montantPaye"`
	IssueDate   Date            `json:"dateEmission"`
	DueDate     *Date           `json:"dateEcheance,omitempty"`
	PaidDate    *Date           `json:"datePaiement,omitempty"`
}

// =============================================================================
// BANK
// =============================================================================

// BankAccount carries CachedBalance (soldeActuel) for display only.
// The authoritative value is AccountBalance over the transaction list.
type BankAccount struct {
	ID             AccountID       `json:"id"`
	Name           string          `json:"nom"`
	Bank           string          `json:"banque,omitempty"`
	Number         string          `json:"numeroCompte,omitempty"`
	InitialBalance decimal.Decimal `json:"soldeInitial"`
	CachedBalance  decimal.Decimal `json:"soldeActuel"`
}

// BankTxType decides the sign of a bank transaction (see bank.go).
type BankTxType string

const (
	BankDeposit    BankTxType = "deposit"
	BankWithdrawal BankTxType = "withdrawal"
	BankTransfer   BankTxType = "transfer"
	BankDebit      BankTxType = "debit"
	BankFee        BankTxType = "fee"
)

// BankTransaction is one movement on an account.
type BankTransaction struct {
	ID          BankTxID        `json:"id"`
	AccountID   AccountID       `json:"compteId"`
	Type        BankTxType      `json:"type"`
	Amount      decimal.Decimal `json:"montant"`
	Date        Date            `json:"date"`
	Description string          `json:"description,omitempty"`
}

// =============================================================================
// TRUCK
// =============================================================================

type TruckType string

const (
	TruckTractor TruckType = "tractor"
	TruckTrailer TruckType = "trailer"
)

type TruckStatus string

const (
	TruckActive   TruckStatus = "active"
	TruckInactive TruckStatus = "inactive"
)

// Truck status is set manually; busy-ness is derived from trips.
type Truck struct {
	ID       TruckID     `json:"id"`
	Plate    string      `json:"immatriculation"`
	Type     TruckType   `json:"type"`
	Status   TruckStatus `json:"statut"`
	DriverID DriverID    `json:"chauffeurId,omitempty"`
	OwnerID  string      `json:"proprietaireId,omitempty"`
}
