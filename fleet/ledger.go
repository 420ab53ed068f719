/*
ledger.go - Driver ledger derivation

PURPOSE:
  A driver's balance is the union of three independent sources:
    1. completed trips driven by the driver   (inflow  = recette)
    2. expenses linked to the driver or to one of the driver's trips (outflow)
    3. manual entries stored on the driver     (inflow or outflow)
  The merged ledger is derived fresh on every call. It is never persisted;
  only the manual list on the driver is.

CRITICAL INVARIANTS:
  1. Balance = Inflows - Outflows, exactly.
  2. No double counting: an expense that both names the driver and belongs
     to one of the driver's trips appears once; a completion entry whose
     trip row is already present is folded into that row.
  3. At most one completion entry per trip: AppendCompletion is a set-insert
     keyed by SourceTripID.

COMPLETION ENTRIES:
  Completing a trip appends an inflow to the driver's manual list (see
  lifecycle.go). Only entries tagged with SourceTripID are folded into
  their trip row. Entries written before the tag existed are matched by
  their content (description containing "Origin → Destination" and amount
  equal to the trip revenue), but only to suppress a second append: in
  the ledger they stay ordinary manual inflows, since a user entry can
  carry the same route and amount.

SEE ALSO:
  - lifecycle.go: produces LedgerAppend
  - cache/ledger_cache.go: materialized copies are invalidated, never patched
*/
package fleet

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER ENTRY - One row of the merged view
// =============================================================================

type EntrySource string

const (
	SourceTrip    EntrySource = "trip"
	SourceExpense EntrySource = "expense"
	SourceManual  EntrySource = "manual"
)

// LedgerEntry is a derived row; ReferenceID points at the record it came from.
type LedgerEntry struct {
	ID          string          `json:"id"`
	Source      EntrySource     `json:"source"`
	ReferenceID string          `json:"referenceId"`
	Type        FlowType        `json:"type"`
	Amount      decimal.Decimal `json:"montant"`
	Date        Date            `json:"date"`
	Description string          `json:"description"`
}

// Ledger is the derived view of one driver.
type Ledger struct {
	DriverID DriverID        `json:"chauffeurId"`
	Inflows  decimal.Decimal `json:"entrees"`
	Outflows decimal.Decimal `json:"sorties"`
	Balance  decimal.Decimal `json:"solde"`
	Entries  []LedgerEntry   `json:"transactions"`
}

// =============================================================================
// DERIVATION
// =============================================================================

// DriverLedger merges the driver's trips, expenses and manual entries.
func DriverLedger(driver Driver, trips []Trip, expenses []Expense) Ledger {
	var (
		inflows  = decimal.Zero
		outflows = decimal.Zero
		entries  []LedgerEntry
	)

	driverTrips := make(map[TripID]bool)
	var completed []Trip
	for _, t := range trips {
		if t.DriverID != driver.ID {
			continue
		}
		driverTrips[t.ID] = true
		if t.Status == TripCompleted {
			completed = append(completed, t)
		}
	}

	// 1. Completed trips
	for _, t := range completed {
		inflows = inflows.Add(t.Recette)
		entries = append(entries, LedgerEntry{
			ID:          "trip-" + string(t.ID),
			Source:      SourceTrip,
			ReferenceID: string(t.ID),
			Type:        FlowInflow,
			Amount:      t.Recette,
			Date:        tripLedgerDate(t),
			Description: "Trip " + t.Route(),
		})
	}

	// 2. Expenses, each at most once
	for _, e := range expenses {
		if e.DriverID != driver.ID && !(e.TripID != "" && driverTrips[e.TripID]) {
			continue
		}
		outflows = outflows.Add(e.Amount)
		entries = append(entries, LedgerEntry{
			ID:          "expense-" + string(e.ID),
			Source:      SourceExpense,
			ReferenceID: string(e.ID),
			Type:        FlowOutflow,
			Amount:      e.Amount,
			Date:        e.Date,
			Description: expenseDescription(e),
		})
	}

	// 3. Manual entries, minus completion entries already represented by a trip row
	for _, m := range driver.ManualTransactions {
		if coveredByTrip(m, completed) {
			continue
		}
		switch m.Type {
		case FlowInflow:
			inflows = inflows.Add(m.Amount)
		case FlowOutflow:
			outflows = outflows.Add(m.Amount)
		default:
			continue
		}
		entries = append(entries, LedgerEntry{
			ID:          "manual-" + string(m.ID),
			Source:      SourceManual,
			ReferenceID: string(m.ID),
			Type:        m.Type,
			Amount:      m.Amount,
			Date:        m.Date,
			Description: m.Description,
		})
	}

	// Newest first; ties keep source order (trip, expense, manual).
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date.After(entries[j].Date)
	})

	return Ledger{
		DriverID: driver.ID,
		Inflows:  inflows,
		Outflows: outflows,
		Balance:  inflows.Sub(outflows),
		Entries:  entries,
	}
}

// AffectedDrivers lists the drivers whose ledger an expense contributes to.
func AffectedDrivers(e Expense, trips []Trip) []DriverID {
	var out []DriverID
	if e.DriverID != "" {
		out = append(out, e.DriverID)
	}
	if e.TripID != "" {
		if t, ok := findTrip(e.TripID, trips); ok && t.DriverID != "" && t.DriverID != e.DriverID {
			out = append(out, t.DriverID)
		}
	}
	return out
}

func tripLedgerDate(t Trip) Date {
	if t.ArrivalDate != nil {
		return *t.ArrivalDate
	}
	return t.DepartureDate
}

func expenseDescription(e Expense) string {
	if e.Description != "" {
		return e.Description
	}
	if e.SubCategory != "" {
		return e.Category + " / " + e.SubCategory
	}
	return e.Category
}

func coveredByTrip(m ManualTransaction, completed []Trip) bool {
	if m.Type != FlowInflow {
		return false
	}
	if m.SourceTripID == "" {
		return false
	}
	for _, t := range completed {
		if m.SourceTripID == t.ID {
			return true
		}
	}
	return false
}

// matchesCompletion recognizes the completion entry of a trip: tagged by
// SourceTripID, or (untagged, historical) by route + amount.
func matchesCompletion(m ManualTransaction, tripID TripID, key DerivationKey) bool {
	if m.SourceTripID != "" {
		return m.SourceTripID == tripID
	}
	return strings.Contains(m.Description, key.Route()) && m.Amount.Equal(key.Recette)
}

// =============================================================================
// IDEMPOTENT APPEND
// =============================================================================

// HasCompletionEntry reports whether the driver already holds the entry
// described by intent.
func HasCompletionEntry(driver Driver, intent LedgerAppend) bool {
	for _, m := range driver.ManualTransactions {
		if m.Type == FlowInflow && matchesCompletion(m, intent.TripID, intent.Key) {
			return true
		}
	}
	return false
}

// AppendCompletion returns a copy of driver with the completion entry added,
// and true; or the unchanged driver and false when the entry already exists.
// newID is only called when an entry is actually appended.
func AppendCompletion(driver Driver, intent LedgerAppend, newID func() ManualTxID) (Driver, bool) {
	if HasCompletionEntry(driver, intent) {
		return driver, false
	}
	out := driver
	out.ManualTransactions = make([]ManualTransaction, 0, len(driver.ManualTransactions)+1)
	out.ManualTransactions = append(out.ManualTransactions, driver.ManualTransactions...)
	out.ManualTransactions = append(out.ManualTransactions, intent.Transaction(newID()))
	return out, true
}
