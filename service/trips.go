package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fleetops/fleet-ledger/fleet"
	"github.com/fleetops/fleet-ledger/metrics"
)

// =============================================================================
// TRIP TRANSITIONS - The critical transactional operation
// =============================================================================

// TransitionOutcome reports what a transition changed.
type TransitionOutcome struct {
	Trip fleet.Trip `json:"trajet"`
	// Entry is the completion entry appended to the driver, nil when none
	// was needed or one already existed.
	Entry *fleet.ManualTransaction `json:"ecriture,omitempty"`
	// Duplicate is true when completion found its entry already present.
	Duplicate bool `json:"doublon"`
}

// TransitionTrip moves a trip to target.
// This is TRANSACTIONAL:
//   - Re-reads the trip so the terminal-state guard sees committed state
//   - Persists the updated trip
//   - On completion, appends the driver's inflow entry at most once
//
// If ANY step fails, ALL changes are rolled back.
func (s *Service) TransitionTrip(ctx context.Context, tripID fleet.TripID, target fleet.TripStatus) (TransitionOutcome, error) {
	var (
		out  TransitionOutcome
		from fleet.TripStatus
	)

	err := s.write(ctx, func(tx fleet.Store) error {
		trip, err := tx.GetTrip(ctx, tripID)
		if err != nil {
			return err
		}
		from = trip.Status

		res, err := s.lifecycle.RequestTransition(trip, target)
		if err != nil {
			return err
		}
		if err := tx.SaveTrip(ctx, res.Trip); err != nil {
			return err
		}
		out.Trip = res.Trip

		if res.LedgerAppend == nil {
			return nil
		}

		driver, err := tx.GetDriver(ctx, res.LedgerAppend.DriverID)
		if err != nil {
			return fmt.Errorf("completion entry: %w", err)
		}
		updated, appended := fleet.AppendCompletion(driver, *res.LedgerAppend, func() fleet.ManualTxID {
			return fleet.ManualTxID(s.newID())
		})
		if !appended {
			out.Duplicate = true
			return nil
		}
		if err := tx.SaveDriver(ctx, updated); err != nil {
			return err
		}
		entry := updated.ManualTransactions[len(updated.ManualTransactions)-1]
		out.Entry = &entry
		return nil
	})

	if err != nil {
		if from == "" {
			var terr *fleet.TransitionError
			if errors.As(err, &terr) {
				from = terr.From
			}
		}
		metrics.ObserveTransition(string(from), string(target), metrics.ResultRejected)
		s.logger.Info("trip transition rejected",
			zap.String("trip_id", string(tripID)),
			zap.String("from", string(from)),
			zap.String("to", string(target)),
			zap.Error(err),
		)
		return TransitionOutcome{}, err
	}

	metrics.ObserveTransition(string(from), string(target), metrics.ResultOK)
	switch {
	case out.Entry != nil:
		metrics.ObserveLedgerAppend(metrics.AppendAppended)
	case out.Duplicate:
		metrics.ObserveLedgerAppend(metrics.AppendDuplicate)
	}
	s.invalidate(ctx, out.Trip.DriverID)

	s.logger.Info("trip transitioned",
		zap.String("trip_id", string(tripID)),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
		zap.Bool("ledger_appended", out.Entry != nil),
		zap.Bool("ledger_duplicate", out.Duplicate),
	)
	return out, nil
}

// =============================================================================
// TRIP RECORDS
// =============================================================================

// SaveTrip creates or updates a trip. New trips start planned; status only
// changes through TransitionTrip, and a completed trip cannot change driver.
// A trip that commits its driver or trucks is refused when another active
// trip already holds them.
func (s *Service) SaveTrip(ctx context.Context, trip fleet.Trip) (fleet.Trip, error) {
	var previous *fleet.Trip

	err := s.write(ctx, func(tx fleet.Store) error {
		if trip.ID == "" {
			trip.ID = fleet.TripID(s.newID())
		}

		existing, err := tx.GetTrip(ctx, trip.ID)
		switch {
		case err == nil:
			previous = &existing
			if trip.Status == "" {
				trip.Status = existing.Status
			}
			if trip.Status != existing.Status {
				return validation("statut", "status changes go through transitions")
			}
			// The completion entry lives on the original driver's list.
			if existing.Status == fleet.TripCompleted && trip.DriverID != existing.DriverID {
				return validation("chauffeurId", "a completed trip keeps its driver")
			}
		case errors.Is(err, fleet.ErrMissingReference):
			if trip.Status == "" {
				trip.Status = fleet.TripPlanned
			}
			if trip.Status != fleet.TripPlanned {
				return validation("statut", "new trips start planned")
			}
		default:
			return err
		}

		if err := trip.Validate(); err != nil {
			return err
		}
		if _, err := tx.GetDriver(ctx, trip.DriverID); err != nil {
			return err
		}
		for _, id := range []fleet.TruckID{trip.TractorID, trip.TrailerID} {
			if id == "" {
				continue
			}
			if _, err := tx.GetTruck(ctx, id); err != nil {
				return err
			}
		}

		if trip.Status.IsActive() {
			trips, err := tx.ListTrips(ctx)
			if err != nil {
				return err
			}
			if err := checkCommitments(trip, previous, trips); err != nil {
				return err
			}
		}

		return tx.SaveTrip(ctx, trip)
	})
	if err != nil {
		return fleet.Trip{}, err
	}

	drivers := []fleet.DriverID{trip.DriverID}
	if previous != nil {
		drivers = append(drivers, previous.DriverID)
	}
	s.invalidate(ctx, drivers...)

	s.logger.Info("trip saved",
		zap.String("trip_id", string(trip.ID)),
		zap.String("driver_id", string(trip.DriverID)),
		zap.Bool("created", previous == nil),
	)
	return trip, nil
}

// checkCommitments counts the trip in its new version; any resource it
// holds with a count above one is shared with another active trip.
func checkCommitments(trip fleet.Trip, previous *fleet.Trip, trips []fleet.Trip) error {
	idx := fleet.NewActivityIndex(trips)
	if previous != nil {
		idx.Replace(*previous, trip)
	} else {
		idx.Track(trip)
	}
	if idx.ActiveTrips(trip.DriverID) > 1 {
		return validation("chauffeurId", "driver is already on an active trip")
	}
	if trip.TractorID != "" && idx.TruckTrips(trip.TractorID) > 1 {
		return validation("camionId", "tractor is already on an active trip")
	}
	if trip.TrailerID != "" && idx.TruckTrips(trip.TrailerID) > 1 {
		return validation("remorqueId", "trailer is already on an active trip")
	}
	return nil
}

// DeleteTrip removes a trip no invoice references.
func (s *Service) DeleteTrip(ctx context.Context, tripID fleet.TripID) error {
	var trip fleet.Trip
	err := s.write(ctx, func(tx fleet.Store) error {
		var err error
		if trip, err = tx.GetTrip(ctx, tripID); err != nil {
			return err
		}
		invoices, err := tx.ListInvoices(ctx)
		if err != nil {
			return err
		}
		if err := blocked(fleet.CanDeleteTrip(tripID, invoices), "trip"); err != nil {
			return err
		}
		return tx.DeleteTrip(ctx, tripID)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, trip.DriverID)
	s.logger.Info("trip deleted", zap.String("trip_id", string(tripID)))
	return nil
}

// =============================================================================
// TRUCKS
// =============================================================================

func (s *Service) SaveTruck(ctx context.Context, truck fleet.Truck) (fleet.Truck, error) {
	if truck.ID == "" {
		truck.ID = fleet.TruckID(s.newID())
	}
	if truck.Status == "" {
		truck.Status = fleet.TruckActive
	}
	if truck.Type != fleet.TruckTractor && truck.Type != fleet.TruckTrailer {
		return fleet.Truck{}, validation("type", "unknown truck type "+string(truck.Type))
	}
	if truck.Status != fleet.TruckActive && truck.Status != fleet.TruckInactive {
		return fleet.Truck{}, validation("statut", "unknown truck status "+string(truck.Status))
	}

	if err := s.write(ctx, func(tx fleet.Store) error { return tx.SaveTruck(ctx, truck) }); err != nil {
		return fleet.Truck{}, err
	}
	s.logger.Info("truck saved", zap.String("truck_id", string(truck.ID)))
	return truck, nil
}

// DeleteTruck removes a truck no active trip uses.
func (s *Service) DeleteTruck(ctx context.Context, truckID fleet.TruckID) error {
	err := s.write(ctx, func(tx fleet.Store) error {
		if _, err := tx.GetTruck(ctx, truckID); err != nil {
			return err
		}
		trips, err := tx.ListTrips(ctx)
		if err != nil {
			return err
		}
		if err := blocked(fleet.CanDeleteTruck(truckID, trips), "truck"); err != nil {
			return err
		}
		return tx.DeleteTruck(ctx, truckID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("truck deleted", zap.String("truck_id", string(truckID)))
	return nil
}

// =============================================================================
// READS
// =============================================================================

// TripSettlement computes a trip's settlement. Invoices are supplied only
// when some reference the trip; otherwise the stored Recette stands.
func (s *Service) TripSettlement(ctx context.Context, tripID fleet.TripID) (fleet.Settlement, error) {
	defer metrics.ObserveDerivation("trip_settlement", time.Now())

	trips, err := s.store.ListTrips(ctx)
	if err != nil {
		return fleet.Settlement{}, err
	}
	expenses, err := s.store.ListExpenses(ctx)
	if err != nil {
		return fleet.Settlement{}, err
	}
	invoices, err := s.store.ListInvoices(ctx)
	if err != nil {
		return fleet.Settlement{}, err
	}
	return fleet.TripStatsByID(tripID, trips, expenses, fleet.InvoicesForTrip(tripID, invoices))
}

func (s *Service) FleetSettlement(ctx context.Context) (fleet.FleetTotals, error) {
	defer metrics.ObserveDerivation("fleet_settlement", time.Now())

	trips, err := s.store.ListTrips(ctx)
	if err != nil {
		return fleet.FleetTotals{}, err
	}
	expenses, err := s.store.ListExpenses(ctx)
	if err != nil {
		return fleet.FleetTotals{}, err
	}
	invoices, err := s.store.ListInvoices(ctx)
	if err != nil {
		return fleet.FleetTotals{}, err
	}
	return fleet.FleetSettlement(trips, expenses, invoices), nil
}

func (s *Service) InvoiceableTrips(ctx context.Context) ([]fleet.Trip, error) {
	trips, err := s.store.ListTrips(ctx)
	if err != nil {
		return nil, err
	}
	invoices, err := s.store.ListInvoices(ctx)
	if err != nil {
		return nil, err
	}
	return fleet.InvoiceableTrips(trips, invoices), nil
}

// AvailableTrucks lists active, unassigned trucks of the type (any when empty).
func (s *Service) AvailableTrucks(ctx context.Context, truckType fleet.TruckType) ([]fleet.Truck, error) {
	trucks, err := s.store.ListTrucks(ctx)
	if err != nil {
		return nil, err
	}
	trips, err := s.store.ListTrips(ctx)
	if err != nil {
		return nil, err
	}
	return fleet.AvailableTrucks(trucks, trips, truckType), nil
}

func (s *Service) AvailableDrivers(ctx context.Context) ([]fleet.Driver, error) {
	drivers, err := s.store.ListDrivers(ctx)
	if err != nil {
		return nil, err
	}
	trips, err := s.store.ListTrips(ctx)
	if err != nil {
		return nil, err
	}
	return fleet.AvailableDrivers(drivers, trips), nil
}
