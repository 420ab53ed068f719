// Package storetest holds behaviour every fleet.TxStore implementation must
// share. Implementations call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/fleet-ledger/fleet"
)

// Run exercises newStore against the collection and transaction contract.
// newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) fleet.TxStore) {
	t.Run("TripRoundTrip", func(t *testing.T) { testTripRoundTrip(t, newStore(t)) })
	t.Run("MissingReference", func(t *testing.T) { testMissingReference(t, newStore(t)) })
	t.Run("DriverManualList", func(t *testing.T) { testDriverManualList(t, newStore(t)) })
	t.Run("ListOrderedByID", func(t *testing.T) { testListOrdered(t, newStore(t)) })
	t.Run("InvoiceAndBank", func(t *testing.T) { testInvoiceAndBank(t, newStore(t)) })
	t.Run("WithTxCommit", func(t *testing.T) { testWithTxCommit(t, newStore(t)) })
	t.Run("WithTxRollback", func(t *testing.T) { testWithTxRollback(t, newStore(t)) })
	t.Run("Reset", func(t *testing.T) { testReset(t, newStore(t)) })
}

func amount(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func sampleTrip(id fleet.TripID) fleet.Trip {
	pre := amount(100000)
	return fleet.Trip{
		ID:            id,
		TractorID:     "TR1",
		TrailerID:     "RM1",
		DriverID:      "D1",
		Origin:        "Douala",
		Destination:   "Yaoundé",
		DepartureDate: fleet.MustParseDate("2025-03-10"),
		Recette:       amount(450000),
		Prefinancing:  &pre,
		Status:        fleet.TripPlanned,
	}
}

func testTripRoundTrip(t *testing.T, s fleet.TxStore) {
	ctx := context.Background()
	trip := sampleTrip("T1")
	require.NoError(t, s.SaveTrip(ctx, trip))

	got, err := s.GetTrip(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, trip.Origin, got.Origin)
	assert.Equal(t, "2025-03-10", got.DepartureDate.String())
	assert.Nil(t, got.ArrivalDate)
	assert.True(t, got.Recette.Equal(trip.Recette))
	require.NotNil(t, got.Prefinancing)
	assert.True(t, got.Prefinancing.Equal(amount(100000)))

	// Upsert replaces
	trip.Status = fleet.TripCompleted
	trip.ArrivalDate = fleet.MustParseDate("2025-03-11").Ptr()
	trip.Prefinancing = nil
	require.NoError(t, s.SaveTrip(ctx, trip))

	got, err = s.GetTrip(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, fleet.TripCompleted, got.Status)
	require.NotNil(t, got.ArrivalDate)
	assert.Equal(t, "2025-03-11", got.ArrivalDate.String())
	assert.Nil(t, got.Prefinancing)

	trips, err := s.ListTrips(ctx)
	require.NoError(t, err)
	assert.Len(t, trips, 1)

	require.NoError(t, s.DeleteTrip(ctx, "T1"))
	_, err = s.GetTrip(ctx, "T1")
	assert.ErrorIs(t, err, fleet.ErrMissingReference)
}

func testMissingReference(t *testing.T, s fleet.TxStore) {
	ctx := context.Background()

	_, err := s.GetDriver(ctx, "ghost")
	var mr *fleet.MissingReferenceError
	require.ErrorAs(t, err, &mr)
	assert.Equal(t, "driver", mr.Kind)

	assert.ErrorIs(t, s.DeleteExpense(ctx, "ghost"), fleet.ErrMissingReference)
	assert.ErrorIs(t, s.DeleteBankAccount(ctx, "ghost"), fleet.ErrMissingReference)
	_, err = s.GetInvoice(ctx, "ghost")
	assert.ErrorIs(t, err, fleet.ErrMissingReference)
	_, err = s.GetBankTransaction(ctx, "ghost")
	assert.ErrorIs(t, err, fleet.ErrMissingReference)
}

func testDriverManualList(t *testing.T, s fleet.TxStore) {
	ctx := context.Background()
	driver := fleet.Driver{
		ID: "D1", FirstName: "Jean", LastName: "Mbarga",
		ManualTransactions: []fleet.ManualTransaction{
			{ID: "m2", Type: fleet.FlowOutflow, Amount: amount(5000), Date: fleet.MustParseDate("2025-03-02"), Description: "Avance"},
			{ID: "m1", Type: fleet.FlowInflow, Amount: amount(450000), Date: fleet.MustParseDate("2025-03-14"),
				Description: fleet.CompletionDescription("Douala", "Yaoundé", amount(450000)), SourceTripID: "T1"},
		},
	}
	require.NoError(t, s.SaveDriver(ctx, driver))

	got, err := s.GetDriver(ctx, "D1")
	require.NoError(t, err)
	require.Len(t, got.ManualTransactions, 2)
	// Insertion order is preserved, not id order.
	assert.Equal(t, fleet.ManualTxID("m2"), got.ManualTransactions[0].ID)
	assert.Equal(t, fleet.TripID("T1"), got.ManualTransactions[1].SourceTripID)

	// Mutating the returned slice must not leak into the store.
	got.ManualTransactions[0].Description = "changed"
	again, err := s.GetDriver(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, "Avance", again.ManualTransactions[0].Description)

	// SaveDriver replaces the whole list.
	driver.ManualTransactions = driver.ManualTransactions[1:]
	require.NoError(t, s.SaveDriver(ctx, driver))
	drivers, err := s.ListDrivers(ctx)
	require.NoError(t, err)
	require.Len(t, drivers, 1)
	require.Len(t, drivers[0].ManualTransactions, 1)
	assert.Equal(t, fleet.ManualTxID("m1"), drivers[0].ManualTransactions[0].ID)

	require.NoError(t, s.DeleteDriver(ctx, "D1"))
	drivers, err = s.ListDrivers(ctx)
	require.NoError(t, err)
	assert.Empty(t, drivers)
}

func testListOrdered(t *testing.T, s fleet.TxStore) {
	ctx := context.Background()
	for _, id := range []fleet.TruckID{"TR3", "TR1", "TR2"} {
		require.NoError(t, s.SaveTruck(ctx, fleet.Truck{ID: id, Type: fleet.TruckTractor, Status: fleet.TruckActive}))
	}
	trucks, err := s.ListTrucks(ctx)
	require.NoError(t, err)
	require.Len(t, trucks, 3)
	assert.Equal(t, fleet.TruckID("TR1"), trucks[0].ID)
	assert.Equal(t, fleet.TruckID("TR3"), trucks[2].ID)
}

func testInvoiceAndBank(t *testing.T, s fleet.TxStore) {
	ctx := context.Background()
	inv := fleet.Invoice{
		ID: "F1", Number: "FAC-001", TripID: "T1", Status: fleet.InvoicePaid,
		AmountHT: amount(84000), AmountTTC: amount(100000), MontantPaye: amount(100000),
		IssueDate: fleet.MustParseDate("2025-03-15"), PaidDate: fleet.MustParseDate("2025-03-20").Ptr(),
	}
	require.NoError(t, s.SaveInvoice(ctx, inv))
	gotInv, err := s.GetInvoice(ctx, "F1")
	require.NoError(t, err)
	assert.True(t, gotInv.MontantPaye.Equal(amount(100000)))
	assert.Nil(t, gotInv.DueDate)
	require.NotNil(t, gotInv.PaidDate)
	assert.Equal(t, "2025-03-20", gotInv.PaidDate.String())

	acc := fleet.BankAccount{ID: "A1", Name: "Compte courant", InitialBalance: amount(5000000), CachedBalance: amount(5000000)}
	require.NoError(t, s.SaveBankAccount(ctx, acc))
	tx := fleet.BankTransaction{ID: "B1", AccountID: "A1", Type: fleet.BankDeposit, Amount: amount(450000), Date: fleet.MustParseDate("2025-03-21")}
	require.NoError(t, s.SaveBankTransaction(ctx, tx))

	txs, err := s.ListBankTransactions(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, fleet.AccountBalance(acc, txs).Equal(amount(5450000)))
}

func testWithTxCommit(t *testing.T, s fleet.TxStore) {
	ctx := context.Background()
	err := s.WithTx(ctx, func(tx fleet.Store) error {
		if err := tx.SaveTrip(ctx, sampleTrip("T1")); err != nil {
			return err
		}
		return tx.SaveDriver(ctx, fleet.Driver{ID: "D1"})
	})
	require.NoError(t, err)

	_, err = s.GetTrip(ctx, "T1")
	assert.NoError(t, err)
	_, err = s.GetDriver(ctx, "D1")
	assert.NoError(t, err)
}

func testWithTxRollback(t *testing.T, s fleet.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.SaveTrip(ctx, sampleTrip("T1")))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx fleet.Store) error {
		completed := sampleTrip("T1")
		completed.Status = fleet.TripCompleted
		if err := tx.SaveTrip(ctx, completed); err != nil {
			return err
		}
		if err := tx.SaveDriver(ctx, fleet.Driver{ID: "D1"}); err != nil {
			return err
		}
		// Reads inside the transaction see its own writes.
		got, err := tx.GetTrip(ctx, "T1")
		if err != nil {
			return err
		}
		if got.Status != fleet.TripCompleted {
			return errors.New("write not visible inside transaction")
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetTrip(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, fleet.TripPlanned, got.Status)
	_, err = s.GetDriver(ctx, "D1")
	assert.ErrorIs(t, err, fleet.ErrMissingReference)
}

func testReset(t *testing.T, s fleet.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.SaveTrip(ctx, sampleTrip("T1")))
	require.NoError(t, s.SaveExpense(ctx, fleet.Expense{ID: "E1", TripID: "T1", Amount: amount(1000)}))
	require.NoError(t, s.SaveDriver(ctx, fleet.Driver{ID: "D1", ManualTransactions: []fleet.ManualTransaction{{ID: "m1", Type: fleet.FlowInflow, Amount: amount(1)}}}))

	require.NoError(t, s.Reset(ctx))

	trips, err := s.ListTrips(ctx)
	require.NoError(t, err)
	assert.Empty(t, trips)
	expenses, err := s.ListExpenses(ctx)
	require.NoError(t, err)
	assert.Empty(t, expenses)
	drivers, err := s.ListDrivers(ctx)
	require.NoError(t, err)
	assert.Empty(t, drivers)
}
