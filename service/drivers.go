package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fleetops/fleet-ledger/fleet"
	"github.com/fleetops/fleet-ledger/metrics"
)

// =============================================================================
// DRIVERS
// =============================================================================

// SaveDriver creates a driver or updates its profile. The manual list of an
// existing driver is kept: entries change only through Add/DeleteManualTransaction
// and trip completion.
func (s *Service) SaveDriver(ctx context.Context, driver fleet.Driver) (fleet.Driver, error) {
	if driver.FirstName == "" && driver.LastName == "" {
		return fleet.Driver{}, validation("nom", "driver name is required")
	}

	err := s.write(ctx, func(tx fleet.Store) error {
		if driver.ID == "" {
			driver.ID = fleet.DriverID(s.newID())
		}
		existing, err := tx.GetDriver(ctx, driver.ID)
		switch {
		case err == nil:
			driver.ManualTransactions = existing.ManualTransactions
		case errors.Is(err, fleet.ErrMissingReference):
			if err := validateManual(driver.ManualTransactions); err != nil {
				return err
			}
		default:
			return err
		}
		return tx.SaveDriver(ctx, driver)
	})
	if err != nil {
		return fleet.Driver{}, err
	}

	s.invalidate(ctx, driver.ID)
	s.logger.Info("driver saved", zap.String("driver_id", string(driver.ID)))
	return driver, nil
}

// DeleteDriver removes a driver with no planned or ongoing trip.
func (s *Service) DeleteDriver(ctx context.Context, driverID fleet.DriverID) error {
	err := s.write(ctx, func(tx fleet.Store) error {
		if _, err := tx.GetDriver(ctx, driverID); err != nil {
			return err
		}
		trips, err := tx.ListTrips(ctx)
		if err != nil {
			return err
		}
		if err := blocked(fleet.CanDeleteDriver(driverID, trips), "driver"); err != nil {
			return err
		}
		return tx.DeleteDriver(ctx, driverID)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, driverID)
	s.logger.Info("driver deleted", zap.String("driver_id", string(driverID)))
	return nil
}

// AddManualTransaction appends a user-entered entry to the driver's list.
// User entries never carry a source trip.
func (s *Service) AddManualTransaction(ctx context.Context, driverID fleet.DriverID, m fleet.ManualTransaction) (fleet.ManualTransaction, error) {
	m.SourceTripID = ""
	if m.Date.IsZero() {
		m.Date = s.Today()
	}
	if err := validateManual([]fleet.ManualTransaction{m}); err != nil {
		return fleet.ManualTransaction{}, err
	}

	err := s.write(ctx, func(tx fleet.Store) error {
		driver, err := tx.GetDriver(ctx, driverID)
		if err != nil {
			return err
		}
		if m.ID == "" {
			m.ID = fleet.ManualTxID(s.newID())
		}
		driver.ManualTransactions = append(driver.ManualTransactions, m)
		return tx.SaveDriver(ctx, driver)
	})
	if err != nil {
		return fleet.ManualTransaction{}, err
	}

	s.invalidate(ctx, driverID)
	s.logger.Info("manual transaction added",
		zap.String("driver_id", string(driverID)),
		zap.String("type", string(m.Type)),
		zap.String("amount", m.Amount.String()),
	)
	return m, nil
}

// DeleteManualTransaction removes one entry from the driver's list.
func (s *Service) DeleteManualTransaction(ctx context.Context, driverID fleet.DriverID, txID fleet.ManualTxID) error {
	err := s.write(ctx, func(tx fleet.Store) error {
		driver, err := tx.GetDriver(ctx, driverID)
		if err != nil {
			return err
		}
		kept := make([]fleet.ManualTransaction, 0, len(driver.ManualTransactions))
		for _, m := range driver.ManualTransactions {
			if m.ID != txID {
				kept = append(kept, m)
			}
		}
		if len(kept) == len(driver.ManualTransactions) {
			return &fleet.MissingReferenceError{Kind: "manual transaction", ID: string(txID)}
		}
		driver.ManualTransactions = kept
		return tx.SaveDriver(ctx, driver)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, driverID)
	s.logger.Info("manual transaction deleted",
		zap.String("driver_id", string(driverID)),
		zap.String("transaction_id", string(txID)),
	)
	return nil
}

func validateManual(entries []fleet.ManualTransaction) error {
	for _, m := range entries {
		if !m.Type.IsValid() {
			return validation("type", "unknown flow type "+string(m.Type))
		}
		if !m.Amount.IsPositive() {
			return validation("montant", "amount must be positive")
		}
	}
	return nil
}

// =============================================================================
// DRIVER LEDGER - Cache-aside read
// =============================================================================

// DriverLedger returns the merged ledger of a driver.
func (s *Service) DriverLedger(ctx context.Context, driverID fleet.DriverID) (fleet.Ledger, error) {
	var version uint64
	if s.views != nil {
		version = s.viewVersion(driverID)
		l, ok, err := s.views.Get(ctx, driverID)
		switch {
		case err != nil:
			metrics.ObserveViewCache(metrics.CacheError)
			s.logger.Warn("view cache read failed", zap.Error(err))
		case ok:
			metrics.ObserveViewCache(metrics.CacheHit)
			return l, nil
		default:
			metrics.ObserveViewCache(metrics.CacheMiss)
		}
	}

	l, err := s.deriveLedger(ctx, driverID)
	if err != nil {
		return fleet.Ledger{}, err
	}

	if s.views != nil {
		s.storeView(ctx, l, version)
	}
	return l, nil
}

func (s *Service) deriveLedger(ctx context.Context, driverID fleet.DriverID) (fleet.Ledger, error) {
	defer metrics.ObserveDerivation("driver_ledger", time.Now())

	driver, err := s.store.GetDriver(ctx, driverID)
	if err != nil {
		return fleet.Ledger{}, err
	}
	trips, err := s.store.ListTrips(ctx)
	if err != nil {
		return fleet.Ledger{}, err
	}
	expenses, err := s.store.ListExpenses(ctx)
	if err != nil {
		return fleet.Ledger{}, err
	}
	return fleet.DriverLedger(driver, trips, expenses), nil
}

// =============================================================================
// EXPENSES
// =============================================================================

// SaveExpense creates or updates an expense and invalidates the ledgers it
// contributes to, before and after the change.
func (s *Service) SaveExpense(ctx context.Context, e fleet.Expense) (fleet.Expense, error) {
	if e.Amount.IsNegative() {
		return fleet.Expense{}, validation("montant", "amount cannot be negative")
	}
	if e.Date.IsZero() {
		e.Date = s.Today()
	}

	var affected []fleet.DriverID
	err := s.write(ctx, func(tx fleet.Store) error {
		if e.ID == "" {
			e.ID = fleet.ExpenseID(s.newID())
		}
		trips, err := tx.ListTrips(ctx)
		if err != nil {
			return err
		}
		if previous, err := tx.GetExpense(ctx, e.ID); err == nil {
			affected = append(affected, fleet.AffectedDrivers(previous, trips)...)
		} else if !errors.Is(err, fleet.ErrMissingReference) {
			return err
		}
		affected = append(affected, fleet.AffectedDrivers(e, trips)...)
		return tx.SaveExpense(ctx, e)
	})
	if err != nil {
		return fleet.Expense{}, err
	}

	s.invalidate(ctx, affected...)
	s.logger.Info("expense saved",
		zap.String("expense_id", string(e.ID)),
		zap.String("trip_id", string(e.TripID)),
		zap.String("amount", e.Amount.String()),
	)
	return e, nil
}

// DeleteExpense removes an expense. The derived ledgers need no cleanup;
// only cached copies are dropped.
func (s *Service) DeleteExpense(ctx context.Context, id fleet.ExpenseID) error {
	var affected []fleet.DriverID
	err := s.write(ctx, func(tx fleet.Store) error {
		e, err := tx.GetExpense(ctx, id)
		if err != nil {
			return err
		}
		trips, err := tx.ListTrips(ctx)
		if err != nil {
			return err
		}
		affected = fleet.AffectedDrivers(e, trips)
		return tx.DeleteExpense(ctx, id)
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, affected...)
	s.logger.Info("expense deleted", zap.String("expense_id", string(id)))
	return nil
}
