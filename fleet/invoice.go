/*
invoice.go - Invoice-to-trip payment reconciliation

PURPOSE:
  A trip's effective revenue is the cash actually received on its invoices,
  not the amount contracted. Several invoices may bill the same trip
  (partial billing); their paid amounts are summed.

CACHE CONTRACT:
  Trip.Recette is treated as a cache once invoices exist: OnInvoicePayment
  recomputes it from PaidAmountForTrip every time a payment is recorded,
  never by adding the payment to the previous value.

EXAMPLE:
  invoices: paid 100,000 / partially paid 50,000 / pending 0
  PaidAmountForTrip = 150,000 (order independent)
*/
package fleet

import "github.com/shopspring/decimal"

// PaidAmountForTrip sums MontantPaye over the invoices referencing the trip.
func PaidAmountForTrip(tripID TripID, invoices []Invoice) decimal.Decimal {
	total := decimal.Zero
	for _, inv := range invoices {
		if inv.TripID == tripID {
			total = total.Add(inv.MontantPaye)
		}
	}
	return total
}

// InvoicesForTrip returns the invoices referencing the trip, or nil when
// there are none, so TripStats falls back to the stored Recette.
func InvoicesForTrip(tripID TripID, invoices []Invoice) []Invoice {
	var out []Invoice
	for _, inv := range invoices {
		if inv.TripID == tripID {
			out = append(out, inv)
		}
	}
	return out
}

// OnInvoicePayment returns the referenced trip with Recette resynchronized
// from all of its invoices. invoice replaces its copy in invoices (or is
// added when absent) so a stale collection cannot hide the new payment.
func OnInvoicePayment(invoice Invoice, trips []Trip, invoices []Invoice) (Trip, error) {
	if invoice.TripID == "" {
		return Trip{}, missing("trip", "")
	}
	trip, ok := findTrip(invoice.TripID, trips)
	if !ok {
		return Trip{}, missing("trip", string(invoice.TripID))
	}
	trip.Recette = PaidAmountForTrip(trip.ID, withInvoice(invoices, invoice))
	return trip, nil
}

// InvoiceableTrips lists trips with revenue and no invoice yet. Advisory:
// a trip may still receive further invoices later.
func InvoiceableTrips(trips []Trip, invoices []Invoice) []Trip {
	billed := make(map[TripID]bool, len(invoices))
	for _, inv := range invoices {
		if inv.TripID != "" {
			billed[inv.TripID] = true
		}
	}
	var out []Trip
	for _, t := range trips {
		if t.Recette.IsPositive() && !billed[t.ID] {
			out = append(out, t)
		}
	}
	return out
}

// BalanceDue is what remains to be paid, never negative.
func (inv Invoice) BalanceDue() decimal.Decimal {
	due := inv.AmountTTC.Sub(inv.MontantPaye)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

// ApplyPayment returns a copy of inv with amount added to MontantPaye.
// The invoice becomes paid once the TTC amount is covered.
func ApplyPayment(inv Invoice, amount decimal.Decimal, on Date) Invoice {
	out := inv
	out.MontantPaye = inv.MontantPaye.Add(amount)
	if !out.MontantPaye.LessThan(out.AmountTTC) {
		out.Status = InvoicePaid
		out.PaidDate = on.Ptr()
	} else {
		out.Status = InvoicePending
	}
	return out
}

func withInvoice(invoices []Invoice, inv Invoice) []Invoice {
	out := make([]Invoice, 0, len(invoices)+1)
	replaced := false
	for _, existing := range invoices {
		if existing.ID == inv.ID {
			out = append(out, inv)
			replaced = true
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, inv)
	}
	return out
}

func findTrip(id TripID, trips []Trip) (Trip, bool) {
	for _, t := range trips {
		if t.ID == id {
			return t, true
		}
	}
	return Trip{}, false
}
