package fleet

import "github.com/shopspring/decimal"

// =============================================================================
// SETTLEMENT - Net financial outcome of a single trip
// =============================================================================

// Settlement is the financial snapshot of one trip.
// Solde = Recette - Prefinancement - Expenses, and may be negative.
type Settlement struct {
	TripID         TripID          `json:"trajetId"`
	Recette        decimal.Decimal `json:"recette"`
	Prefinancement decimal.Decimal `json:"prefinancement"`
	Expenses       decimal.Decimal `json:"depenses"`
	Solde          decimal.Decimal `json:"solde"`
	ExpensesCount  int             `json:"nombreDepenses"`
}

// TripStats computes the settlement of trip. When invoices is non-nil the
// revenue is the paid amount aggregated over them; a nil slice falls back
// to the trip's stored Recette.
func TripStats(trip Trip, expenses []Expense, invoices []Invoice) Settlement {
	spent := decimal.Zero
	count := 0
	for _, e := range expenses {
		if e.TripID == trip.ID {
			spent = spent.Add(e.Amount)
			count++
		}
	}

	recette := trip.Recette
	if invoices != nil {
		recette = PaidAmountForTrip(trip.ID, invoices)
	}
	prefinancing := trip.PrefinancingAmount()

	return Settlement{
		TripID:         trip.ID,
		Recette:        recette,
		Prefinancement: prefinancing,
		Expenses:       spent,
		Solde:          recette.Sub(prefinancing).Sub(spent),
		ExpensesCount:  count,
	}
}

// TripStatsByID looks the trip up first.
func TripStatsByID(tripID TripID, trips []Trip, expenses []Expense, invoices []Invoice) (Settlement, error) {
	trip, ok := findTrip(tripID, trips)
	if !ok {
		return Settlement{}, missing("trip", string(tripID))
	}
	return TripStats(trip, expenses, invoices), nil
}

// FleetTotals sums the settlements of every non-cancelled trip. Trips
// without invoices contribute their stored Recette.
type FleetTotals struct {
	Trips          int             `json:"trajets"`
	Recette        decimal.Decimal `json:"recette"`
	Prefinancement decimal.Decimal `json:"prefinancement"`
	Expenses       decimal.Decimal `json:"depenses"`
	Solde          decimal.Decimal `json:"solde"`
	PerTrip        []Settlement    `json:"parTrajet"`
}

func FleetSettlement(trips []Trip, expenses []Expense, invoices []Invoice) FleetTotals {
	totals := FleetTotals{
		Recette:        decimal.Zero,
		Prefinancement: decimal.Zero,
		Expenses:       decimal.Zero,
		Solde:          decimal.Zero,
	}
	for _, t := range trips {
		if t.Status == TripCancelled {
			continue
		}
		s := TripStats(t, expenses, InvoicesForTrip(t.ID, invoices))
		totals.Trips++
		totals.Recette = totals.Recette.Add(s.Recette)
		totals.Prefinancement = totals.Prefinancement.Add(s.Prefinancement)
		totals.Expenses = totals.Expenses.Add(s.Expenses)
		totals.Solde = totals.Solde.Add(s.Solde)
		totals.PerTrip = append(totals.PerTrip, s)
	}
	return totals
}
