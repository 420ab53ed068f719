package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fleetops/fleet-ledger/fleet"
	"github.com/fleetops/fleet-ledger/metrics"
)

// =============================================================================
// INVOICES - Every change resynchronizes the trip's revenue
// =============================================================================

// PaymentOutcome is the paid invoice and, when it bills a trip, the trip
// with its recomputed revenue.
type PaymentOutcome struct {
	Invoice fleet.Invoice `json:"facture"`
	Trip    *fleet.Trip   `json:"trajet,omitempty"`
}

// RecordInvoicePayment adds amount to the invoice's paid total.
// This is TRANSACTIONAL: the invoice and the trip revenue recomputed from
// all of the trip's invoices are written together.
func (s *Service) RecordInvoicePayment(ctx context.Context, invoiceID fleet.InvoiceID, amount decimal.Decimal, on fleet.Date) (PaymentOutcome, error) {
	if !amount.IsPositive() {
		return PaymentOutcome{}, validation("montant", "payment must be positive")
	}
	if on.IsZero() {
		on = s.Today()
	}

	var out PaymentOutcome
	err := s.write(ctx, func(tx fleet.Store) error {
		inv, err := tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		paid := fleet.ApplyPayment(inv, amount, on)
		if err := tx.SaveInvoice(ctx, paid); err != nil {
			return err
		}
		out.Invoice = paid

		if paid.TripID == "" {
			return nil
		}
		trips, err := tx.ListTrips(ctx)
		if err != nil {
			return err
		}
		invoices, err := tx.ListInvoices(ctx)
		if err != nil {
			return err
		}
		trip, err := fleet.OnInvoicePayment(paid, trips, invoices)
		if err != nil {
			return err
		}
		if err := tx.SaveTrip(ctx, trip); err != nil {
			return err
		}
		out.Trip = &trip
		return nil
	})
	if err != nil {
		return PaymentOutcome{}, err
	}

	if out.Trip != nil {
		s.invalidate(ctx, out.Trip.DriverID)
	}
	s.logger.Info("invoice payment recorded",
		zap.String("invoice_id", string(invoiceID)),
		zap.String("amount", amount.String()),
		zap.String("status", string(out.Invoice.Status)),
	)
	return out, nil
}

// SaveInvoice creates or updates an invoice. The revenue of the billed
// trip (and of the previously billed trip, if it changed) is recomputed.
func (s *Service) SaveInvoice(ctx context.Context, inv fleet.Invoice) (fleet.Invoice, error) {
	if err := validateInvoice(inv); err != nil {
		return fleet.Invoice{}, err
	}
	if inv.IssueDate.IsZero() {
		inv.IssueDate = s.Today()
	}
	if inv.Status == "" {
		inv.Status = fleet.InvoicePending
	}

	var touched []fleet.Trip
	err := s.write(ctx, func(tx fleet.Store) error {
		if inv.ID == "" {
			inv.ID = fleet.InvoiceID(s.newID())
		}
		tripIDs := []fleet.TripID{inv.TripID}
		if previous, err := tx.GetInvoice(ctx, inv.ID); err == nil {
			if previous.TripID != inv.TripID {
				tripIDs = append(tripIDs, previous.TripID)
			}
		} else if !errors.Is(err, fleet.ErrMissingReference) {
			return err
		}
		if inv.TripID != "" {
			if _, err := tx.GetTrip(ctx, inv.TripID); err != nil {
				return err
			}
		}
		if err := tx.SaveInvoice(ctx, inv); err != nil {
			return err
		}
		var err error
		touched, err = resyncTrips(ctx, tx, tripIDs...)
		return err
	})
	if err != nil {
		return fleet.Invoice{}, err
	}

	s.invalidateTrips(ctx, touched)
	s.logger.Info("invoice saved",
		zap.String("invoice_id", string(inv.ID)),
		zap.String("trip_id", string(inv.TripID)),
	)
	return inv, nil
}

// DeleteInvoice removes an invoice and recomputes its trip's revenue from
// the invoices that remain.
func (s *Service) DeleteInvoice(ctx context.Context, id fleet.InvoiceID) error {
	var touched []fleet.Trip
	err := s.write(ctx, func(tx fleet.Store) error {
		inv, err := tx.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteInvoice(ctx, id); err != nil {
			return err
		}
		touched, err = resyncTrips(ctx, tx, inv.TripID)
		return err
	})
	if err != nil {
		return err
	}

	s.invalidateTrips(ctx, touched)
	s.logger.Info("invoice deleted", zap.String("invoice_id", string(id)))
	return nil
}

// resyncTrips sets Recette = paid aggregate for each trip that still has
// invoices. A trip left with none keeps its last revenue.
func resyncTrips(ctx context.Context, tx fleet.Store, tripIDs ...fleet.TripID) ([]fleet.Trip, error) {
	defer metrics.ObserveDerivation("invoice_resync", time.Now())

	invoices, err := tx.ListInvoices(ctx)
	if err != nil {
		return nil, err
	}
	var out []fleet.Trip
	for _, id := range tripIDs {
		if id == "" {
			continue
		}
		billed := fleet.InvoicesForTrip(id, invoices)
		if billed == nil {
			continue
		}
		trip, err := tx.GetTrip(ctx, id)
		if errors.Is(err, fleet.ErrMissingReference) {
			continue
		}
		if err != nil {
			return nil, err
		}
		trip.Recette = fleet.PaidAmountForTrip(id, billed)
		if err := tx.SaveTrip(ctx, trip); err != nil {
			return nil, err
		}
		out = append(out, trip)
	}
	return out, nil
}

func (s *Service) invalidateTrips(ctx context.Context, trips []fleet.Trip) {
	ids := make([]fleet.DriverID, 0, len(trips))
	for _, t := range trips {
		ids = append(ids, t.DriverID)
	}
	s.invalidate(ctx, ids...)
}

func validateInvoice(inv fleet.Invoice) error {
	if inv.Status != "" && inv.Status != fleet.InvoicePending && inv.Status != fleet.InvoicePaid {
		return validation("statut", "unknown invoice status "+string(inv.Status))
	}
	for field, v := range map[string]decimal.Decimal{
		"montantHT":   inv.AmountHT,
		"montantTTC":  inv.AmountTTC,
		"montantPaye": inv.MontantPaye,
	} {
		if v.IsNegative() {
			return validation(field, "amount cannot be negative")
		}
	}
	if inv.TripID != "" && inv.ExpenseID != "" {
		return validation("trajetId", "an invoice bills either a trip or an expense")
	}
	return nil
}
