package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetops/fleet-ledger/fleet"
	"github.com/fleetops/fleet-ledger/fleet/store"
	"github.com/fleetops/fleet-ledger/service"
)

// =============================================================================
// FIXTURES
// =============================================================================

func fcfa(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

var testNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func seqIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

// fakeViews is an in-process ViewCache that records invalidations.
type fakeViews struct {
	mu          sync.Mutex
	ledgers     map[fleet.DriverID]fleet.Ledger
	invalidated []fleet.DriverID
	gets, hits  int
}

func newFakeViews() *fakeViews {
	return &fakeViews{ledgers: map[fleet.DriverID]fleet.Ledger{}}
}

func (f *fakeViews) Get(_ context.Context, id fleet.DriverID) (fleet.Ledger, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	l, ok := f.ledgers[id]
	if ok {
		f.hits++
	}
	return l, ok, nil
}

func (f *fakeViews) Put(_ context.Context, l fleet.Ledger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ledgers[l.DriverID] = l
	return nil
}

func (f *fakeViews) Invalidate(_ context.Context, ids ...fleet.DriverID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.ledgers, id)
		f.invalidated = append(f.invalidated, id)
	}
	return nil
}

func (f *fakeViews) Flush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ledgers = map[fleet.DriverID]fleet.Ledger{}
	return nil
}

type fixture struct {
	ctx   context.Context
	svc   *service.Service
	store *store.Memory
	views *fakeViews
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	views := newFakeViews()
	svc := service.New(st,
		service.WithClock(fleet.FixedClock(testNow)),
		service.WithIDGenerator(seqIDs()),
		service.WithViewCache(views),
	)
	return &fixture{ctx: context.Background(), svc: svc, store: st, views: views}
}

// seedDouala creates tractor TR1, trailer RM1, driver D1 and the planned
// Douala → Yaoundé trip T1 worth 450 000 FCFA.
func (f *fixture) seedDouala(t *testing.T) fleet.Trip {
	t.Helper()
	_, err := f.svc.SaveTruck(f.ctx, fleet.Truck{ID: "TR1", Plate: "LT-123-AB", Type: fleet.TruckTractor})
	require.NoError(t, err)
	_, err = f.svc.SaveTruck(f.ctx, fleet.Truck{ID: "RM1", Plate: "LT-456-CD", Type: fleet.TruckTrailer})
	require.NoError(t, err)
	_, err = f.svc.SaveDriver(f.ctx, fleet.Driver{ID: "D1", FirstName: "Jean", LastName: "Mbarga"})
	require.NoError(t, err)

	trip, err := f.svc.SaveTrip(f.ctx, fleet.Trip{
		ID:            "T1",
		TractorID:     "TR1",
		TrailerID:     "RM1",
		DriverID:      "D1",
		Origin:        "Douala",
		Destination:   "Yaoundé",
		DepartureDate: fleet.NewDate(2025, time.March, 10),
		Recette:       fcfa(450000),
	})
	require.NoError(t, err)
	return trip
}

// =============================================================================
// TRIP TRANSITIONS
// =============================================================================

func TestTransitionTrip_CompletionAppendsOnce(t *testing.T) {
	f := newFixture(t)
	trip := f.seedDouala(t)
	assert.Equal(t, fleet.TripPlanned, trip.Status)

	out, err := f.svc.TransitionTrip(f.ctx, "T1", fleet.TripOngoing)
	require.NoError(t, err)
	assert.Nil(t, out.Entry)

	out, err = f.svc.TransitionTrip(f.ctx, "T1", fleet.TripCompleted)
	require.NoError(t, err)
	require.NotNil(t, out.Entry)
	assert.Equal(t, fleet.TripID("T1"), out.Entry.SourceTripID)
	assert.True(t, out.Entry.Amount.Equal(fcfa(450000)))
	require.NotNil(t, out.Trip.ArrivalDate)
	assert.Equal(t, "2025-03-14", out.Trip.ArrivalDate.String())

	// Terminal: a second completion is refused and nothing is appended.
	_, err = f.svc.TransitionTrip(f.ctx, "T1", fleet.TripCompleted)
	assert.ErrorIs(t, err, fleet.ErrTerminalState)

	driver, err := f.store.GetDriver(f.ctx, "D1")
	require.NoError(t, err)
	require.Len(t, driver.ManualTransactions, 1)

	l, err := f.svc.DriverLedger(f.ctx, "D1")
	require.NoError(t, err)
	assert.True(t, l.Inflows.Equal(fcfa(450000)), "revenue counted once, got %s", l.Inflows)
	assert.True(t, l.Balance.Equal(fcfa(450000)))
}

func TestTransitionTrip_ExistingEntryIsDuplicate(t *testing.T) {
	f := newFixture(t)
	f.seedDouala(t)
	_, err := f.svc.TransitionTrip(f.ctx, "T1", fleet.TripOngoing)
	require.NoError(t, err)

	// Legacy untagged entry with the completion content.
	driver, err := f.store.GetDriver(f.ctx, "D1")
	require.NoError(t, err)
	driver.ManualTransactions = append(driver.ManualTransactions, fleet.ManualTransaction{
		ID: "legacy", Type: fleet.FlowInflow, Amount: fcfa(450000), Date: fleet.NewDate(2025, time.March, 13),
		Description: fleet.CompletionDescription("Douala", "Yaoundé", fcfa(450000)),
	})
	require.NoError(t, f.store.SaveDriver(f.ctx, driver))

	out, err := f.svc.TransitionTrip(f.ctx, "T1", fleet.TripCompleted)
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
	assert.Nil(t, out.Entry)

	driver, err = f.store.GetDriver(f.ctx, "D1")
	require.NoError(t, err)
	assert.Len(t, driver.ManualTransactions, 1)
}

func TestTransitionTrip_RejectionsLeaveStoreUntouched(t *testing.T) {
	f := newFixture(t)
	f.seedDouala(t)

	_, err := f.svc.TransitionTrip(f.ctx, "T1", fleet.TripCompleted)
	assert.ErrorIs(t, err, fleet.ErrSkippedStep)
	assert.True(t, fleet.IsClientError(err))

	_, err = f.svc.TransitionTrip(f.ctx, "T1", fleet.TripPlanned)
	assert.ErrorIs(t, err, fleet.ErrInvalidTransition)

	_, err = f.svc.TransitionTrip(f.ctx, "ghost", fleet.TripOngoing)
	assert.ErrorIs(t, err, fleet.ErrMissingReference)

	trip, err := f.store.GetTrip(f.ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, fleet.TripPlanned, trip.Status)
}

func TestTransitionTrip_MissingDriverRollsBackStatus(t *testing.T) {
	f := newFixture(t)
	f.seedDouala(t)
	_, err := f.svc.TransitionTrip(f.ctx, "T1", fleet.TripOngoing)
	require.NoError(t, err)

	// Remove the driver behind the service's back.
	require.NoError(t, f.store.DeleteDriver(f.ctx, "D1"))

	_, err = f.svc.TransitionTrip(f.ctx, "T1", fleet.TripCompleted)
	require.ErrorIs(t, err, fleet.ErrMissingReference)

	trip, err := f.store.GetTrip(f.ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, fleet.TripOngoing, trip.Status)
	assert.Nil(t, trip.ArrivalDate)
}

func TestTransitionTrip_CancelFreesResources(t *testing.T) {
	f := newFixture(t)
	f.seedDouala(t)

	drivers, err := f.svc.AvailableDrivers(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, drivers)

	_, err = f.svc.TransitionTrip(f.ctx, "T1", fleet.TripCancelled)
	require.NoError(t, err)

	drivers, err = f.svc.AvailableDrivers(f.ctx)
	require.NoError(t, err)
	require.Len(t, drivers, 1)
	trucks, err := f.svc.AvailableTrucks(f.ctx, fleet.TruckTractor)
	require.NoError(t, err)
	require.Len(t, trucks, 1)
	assert.Equal(t, fleet.TruckID("TR1"), trucks[0].ID)
}

// =============================================================================
// TRIP RECORDS
// =============================================================================

func TestSaveTrip_Rules(t *testing.T) {
	f := newFixture(t)
	f.seedDouala(t)

	t.Run("new trips start planned", func(t *testing.T) {
		_, err := f.svc.SaveTrip(f.ctx, fleet.Trip{ID: "T9", DriverID: "D1", Origin: "Douala", Destination: "Kribi",
			DepartureDate: fleet.NewDate(2025, time.March, 20), Status: fleet.TripCompleted})
		assert.ErrorIs(t, err, fleet.ErrValidation)
	})

	t.Run("status does not change through save", func(t *testing.T) {
		trip, err := f.store.GetTrip(f.ctx, "T1")
		require.NoError(t, err)
		trip.Status = fleet.TripOngoing
		_, err = f.svc.SaveTrip(f.ctx, trip)
		assert.ErrorIs(t, err, fleet.ErrValidation)
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := f.svc.SaveTrip(f.ctx, fleet.Trip{DriverID: "ghost", Origin: "Douala", Destination: "Kribi",
			DepartureDate: fleet.NewDate(2025, time.March, 20)})
		assert.ErrorIs(t, err, fleet.ErrMissingReference)
	})

	t.Run("busy tractor", func(t *testing.T) {
		_, err := f.svc.SaveDriver(f.ctx, fleet.Driver{ID: "D2", FirstName: "Paul", LastName: "Ndzi"})
		require.NoError(t, err)
		_, err = f.svc.SaveTrip(f.ctx, fleet.Trip{DriverID: "D2", TractorID: "TR1", Origin: "Douala", Destination: "Kribi",
			DepartureDate: fleet.NewDate(2025, time.March, 20)})
		var verr *fleet.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "camionId", verr.Field)
	})

	t.Run("editing an active trip keeps its own commitments", func(t *testing.T) {
		trip, err := f.store.GetTrip(f.ctx, "T1")
		require.NoError(t, err)
		trip.Destination = "Bafoussam"
		saved, err := f.svc.SaveTrip(f.ctx, trip)
		require.NoError(t, err)
		assert.Equal(t, "Bafoussam", saved.Destination)
	})
}

func TestSaveTrip_CompletedTripKeepsDriver(t *testing.T) {
	f := newFixture(t)
	f.seedDouala(t)
	_, err := f.svc.SaveDriver(f.ctx, fleet.Driver{ID: "D2", FirstName: "Paul", LastName: "Ndzi"})
	require.NoError(t, err)
	_, err = f.svc.TransitionTrip(f.ctx, "T1", fleet.TripOngoing)
	require.NoError(t, err)
	_, err = f.svc.TransitionTrip(f.ctx, "T1", fleet.TripCompleted)
	require.NoError(t, err)

	trip, err := f.store.GetTrip(f.ctx, "T1")
	require.NoError(t, err)
	trip.DriverID = "D2"
	_, err = f.svc.SaveTrip(f.ctx, trip)
	var verr *fleet.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "chauffeurId", verr.Field)

	// The trip's revenue is still credited exactly once across the fleet.
	l1, err := f.svc.DriverLedger(f.ctx, "D1")
	require.NoError(t, err)
	l2, err := f.svc.DriverLedger(f.ctx, "D2")
	require.NoError(t, err)
	assert.True(t, l1.Inflows.Add(l2.Inflows).Equal(fcfa(450000)), "D1 %s D2 %s", l1.Inflows, l2.Inflows)

	// Other edits on the completed trip still go through.
	trip.DriverID = "D1"
	trip.Destination = "Bafoussam"
	saved, err := f.svc.SaveTrip(f.ctx, trip)
	require.NoError(t, err)
	assert.Equal(t, "Bafoussam", saved.Destination)
}

func TestDeleteGuards(t *testing.T) {
	f := newFixture(t)
	f.seedDouala(t)

	err := f.svc.DeleteDriver(f.ctx, "D1")
	assert.ErrorIs(t, err, fleet.ErrDeletionBlocked)
	assert.True(t, fleet.IsConflict(err))

	assert.ErrorIs(t, f.svc.DeleteTruck(f.ctx, "TR1"), fleet.ErrDeletionBlocked)

	_, err = f.svc.SaveInvoice(f.ctx, fleet.Invoice{ID: "F1", Number: "FAC-001", TripID: "T1", AmountTTC: fcfa(450000)})
	require.NoError(t, err)

	var blocked *fleet.DeletionBlockedError
	require.ErrorAs(t, f.svc.DeleteTrip(f.ctx, "T1"), &blocked)
	assert.Equal(t, []string{"F1"}, blocked.References)

	require.NoError(t, f.svc.DeleteInvoice(f.ctx, "F1"))
	require.NoError(t, f.svc.DeleteTrip(f.ctx, "T1"))
	require.NoError(t, f.svc.DeleteTruck(f.ctx, "TR1"))
	require.NoError(t, f.svc.DeleteDriver(f.ctx, "D1"))
}

// =============================================================================
// INVOICES
// =============================================================================

func TestInvoices_ResyncTripRevenue(t *testing.T) {
	f := newFixture(t)
	f.seedDouala(t)

	_, err := f.svc.SaveInvoice(f.ctx, fleet.Invoice{ID: "F1", Number: "FAC-001", TripID: "T1",
		AmountTTC: fcfa(300000), MontantPaye: fcfa(100000)})
	require.NoError(t, err)
	_, err = f.svc.SaveInvoice(f.ctx, fleet.Invoice{ID: "F2", Number: "FAC-002", TripID: "T1",
		AmountTTC: fcfa(150000), MontantPaye: fcfa(50000)})
	require.NoError(t, err)

	trip, err := f.store.GetTrip(f.ctx, "T1")
	require.NoError(t, err)
	assert.True(t, trip.Recette.Equal(fcfa(150000)), "recette %s", trip.Recette)

	out, err := f.svc.RecordInvoicePayment(f.ctx, "F1", fcfa(30000), fleet.Date{})
	require.NoError(t, err)
	require.NotNil(t, out.Trip)
	assert.True(t, out.Trip.Recette.Equal(fcfa(180000)))
	assert.Equal(t, fleet.InvoicePending, out.Invoice.Status)

	settlement, err := f.svc.TripSettlement(f.ctx, "T1")
	require.NoError(t, err)
	assert.True(t, settlement.Recette.Equal(fcfa(180000)))

	// Deleting one invoice resyncs from the remaining one.
	require.NoError(t, f.svc.DeleteInvoice(f.ctx, "F1"))
	trip, err = f.store.GetTrip(f.ctx, "T1")
	require.NoError(t, err)
	assert.True(t, trip.Recette.Equal(fcfa(50000)))

	// Deleting the last one leaves the revenue as it was.
	require.NoError(t, f.svc.DeleteInvoice(f.ctx, "F2"))
	trip, err = f.store.GetTrip(f.ctx, "T1")
	require.NoError(t, err)
	assert.True(t, trip.Recette.Equal(fcfa(50000)))
}

func TestRecordInvoicePayment_SettlesInvoice(t *testing.T) {
	f := newFixture(t)
	f.seedDouala(t)
	_, err := f.svc.SaveInvoice(f.ctx, fleet.Invoice{ID: "F1", Number: "FAC-001", TripID: "T1", AmountTTC: fcfa(450000)})
	require.NoError(t, err)

	out, err := f.svc.RecordInvoicePayment(f.ctx, "F1", fcfa(450000), fleet.Date{})
	require.NoError(t, err)
	assert.Equal(t, fleet.InvoicePaid, out.Invoice.Status)
	require.NotNil(t, out.Invoice.PaidDate)
	assert.Equal(t, "2025-03-14", out.Invoice.PaidDate.String())

	_, err = f.svc.RecordInvoicePayment(f.ctx, "F1", fcfa(0), fleet.Date{})
	assert.ErrorIs(t, err, fleet.ErrValidation)
	_, err = f.svc.RecordInvoicePayment(f.ctx, "ghost", fcfa(1), fleet.Date{})
	assert.ErrorIs(t, err, fleet.ErrMissingReference)
}

func TestSaveInvoice_UnknownTrip(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SaveInvoice(f.ctx, fleet.Invoice{Number: "FAC-001", TripID: "ghost"})
	assert.ErrorIs(t, err, fleet.ErrMissingReference)

	invoices, err := f.store.ListInvoices(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, invoices)
}

// =============================================================================
// DRIVER LEDGER + VIEW CACHE
// =============================================================================

func TestDriverLedger_CacheAside(t *testing.T) {
	f := newFixture(t)
	f.seedDouala(t)

	l, err := f.svc.DriverLedger(f.ctx, "D1")
	require.NoError(t, err)
	assert.True(t, l.Balance.IsZero())

	_, err = f.svc.DriverLedger(f.ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.views.hits)

	// An expense on the driver's trip invalidates the cached ledger.
	_, err = f.svc.SaveExpense(f.ctx, fleet.Expense{TripID: "T1", TruckID: "TR1", Category: "carburant", Amount: fcfa(85000)})
	require.NoError(t, err)
	assert.Contains(t, f.views.invalidated, fleet.DriverID("D1"))

	l, err = f.svc.DriverLedger(f.ctx, "D1")
	require.NoError(t, err)
	assert.True(t, l.Outflows.Equal(fcfa(85000)))
	assert.True(t, l.Balance.Equal(fcfa(-85000)))
}

// racingStore runs a write the first time expenses are listed, after the
// snapshot has been taken.
type racingStore struct {
	*store.Memory
	during func()
}

func (r *racingStore) ListExpenses(ctx context.Context) ([]fleet.Expense, error) {
	list, err := r.Memory.ListExpenses(ctx)
	if fn := r.during; fn != nil {
		r.during = nil
		fn()
	}
	return list, err
}

func TestDriverLedger_WriteDuringDerivationIsNotCached(t *testing.T) {
	ctx := context.Background()
	st := &racingStore{Memory: store.NewMemory()}
	views := newFakeViews()
	svc := service.New(st,
		service.WithClock(fleet.FixedClock(testNow)),
		service.WithIDGenerator(seqIDs()),
		service.WithViewCache(views),
	)
	_, err := svc.SaveDriver(ctx, fleet.Driver{ID: "D1", FirstName: "Jean", LastName: "Mbarga"})
	require.NoError(t, err)
	_, err = svc.SaveExpense(ctx, fleet.Expense{ID: "E1", DriverID: "D1", Category: "repas", Amount: fcfa(1000)})
	require.NoError(t, err)

	st.during = func() { require.NoError(t, svc.DeleteExpense(ctx, "E1")) }

	// This read saw the expense; it may return it but must not cache it.
	stale, err := svc.DriverLedger(ctx, "D1")
	require.NoError(t, err)
	assert.True(t, stale.Outflows.Equal(fcfa(1000)))
	_, cached, _ := views.Get(ctx, "D1")
	assert.False(t, cached)

	l, err := svc.DriverLedger(ctx, "D1")
	require.NoError(t, err)
	assert.True(t, l.Outflows.IsZero(), "outflows %s", l.Outflows)
	assert.Empty(t, l.Entries)

	// With no write in between, the fresh view is cached again.
	_, cached, _ = views.Get(ctx, "D1")
	assert.True(t, cached)
}

func TestManualTransactions(t *testing.T) {
	f := newFixture(t)
	f.seedDouala(t)

	bonus, err := f.svc.AddManualTransaction(f.ctx, "D1", fleet.ManualTransaction{
		Type: fleet.FlowInflow, Amount: fcfa(20000), Description: "Prime", SourceTripID: "T1",
	})
	require.NoError(t, err)
	assert.Empty(t, bonus.SourceTripID)
	assert.Equal(t, "2025-03-14", bonus.Date.String())

	_, err = f.svc.AddManualTransaction(f.ctx, "D1", fleet.ManualTransaction{Type: "gift", Amount: fcfa(1)})
	assert.ErrorIs(t, err, fleet.ErrValidation)
	_, err = f.svc.AddManualTransaction(f.ctx, "D1", fleet.ManualTransaction{Type: fleet.FlowOutflow, Amount: fcfa(-1)})
	assert.ErrorIs(t, err, fleet.ErrValidation)

	// Profile updates keep the list.
	_, err = f.svc.SaveDriver(f.ctx, fleet.Driver{ID: "D1", FirstName: "Jean", LastName: "Mbarga", Phone: "+237 690 00 00 00"})
	require.NoError(t, err)
	l, err := f.svc.DriverLedger(f.ctx, "D1")
	require.NoError(t, err)
	assert.True(t, l.Inflows.Equal(fcfa(20000)))

	require.NoError(t, f.svc.DeleteManualTransaction(f.ctx, "D1", bonus.ID))
	assert.ErrorIs(t, f.svc.DeleteManualTransaction(f.ctx, "D1", bonus.ID), fleet.ErrMissingReference)

	l, err = f.svc.DriverLedger(f.ctx, "D1")
	require.NoError(t, err)
	assert.True(t, l.Inflows.IsZero())
}

func TestSaveExpense_MovesBetweenDrivers(t *testing.T) {
	f := newFixture(t)
	f.seedDouala(t)
	_, err := f.svc.SaveDriver(f.ctx, fleet.Driver{ID: "D2", FirstName: "Paul", LastName: "Ndzi"})
	require.NoError(t, err)

	e, err := f.svc.SaveExpense(f.ctx, fleet.Expense{DriverID: "D1", Category: "repas", Amount: fcfa(5000)})
	require.NoError(t, err)
	f.views.invalidated = nil

	e.DriverID = "D2"
	_, err = f.svc.SaveExpense(f.ctx, e)
	require.NoError(t, err)
	assert.ElementsMatch(t, []fleet.DriverID{"D1", "D2"}, f.views.invalidated)

	l1, err := f.svc.DriverLedger(f.ctx, "D1")
	require.NoError(t, err)
	assert.True(t, l1.Outflows.IsZero())
	l2, err := f.svc.DriverLedger(f.ctx, "D2")
	require.NoError(t, err)
	assert.True(t, l2.Outflows.Equal(fcfa(5000)))

	require.NoError(t, f.svc.DeleteExpense(f.ctx, e.ID))
	assert.ErrorIs(t, f.svc.DeleteExpense(f.ctx, e.ID), fleet.ErrMissingReference)
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func TestFleetSettlement_Douala(t *testing.T) {
	f := newFixture(t)
	f.seedDouala(t)
	_, err := f.svc.SaveExpense(f.ctx, fleet.Expense{TripID: "T1", TruckID: "TR1", Category: "carburant", Amount: fcfa(85000)})
	require.NoError(t, err)

	s, err := f.svc.TripSettlement(f.ctx, "T1")
	require.NoError(t, err)
	assert.True(t, s.Recette.Equal(fcfa(450000)))
	assert.True(t, s.Solde.Equal(fcfa(365000)), "solde %s", s.Solde)

	totals, err := f.svc.FleetSettlement(f.ctx)
	require.NoError(t, err)
	assert.True(t, totals.Recette.Equal(fcfa(450000)))

	_, err = f.svc.TripSettlement(f.ctx, "ghost")
	assert.ErrorIs(t, err, fleet.ErrMissingReference)
}

// =============================================================================
// BANK
// =============================================================================

func TestBank_CachedBalanceFollowsTransactions(t *testing.T) {
	f := newFixture(t)

	acc, err := f.svc.SaveBankAccount(f.ctx, fleet.BankAccount{ID: "A1", Name: "Compte courant",
		InitialBalance: fcfa(5000000), CachedBalance: fcfa(1)})
	require.NoError(t, err)
	assert.True(t, acc.CachedBalance.Equal(fcfa(5000000)))

	_, err = f.svc.SaveBankTransaction(f.ctx, fleet.BankTransaction{AccountID: "A1", Type: fleet.BankDeposit, Amount: fcfa(450000)})
	require.NoError(t, err)
	fee, err := f.svc.SaveBankTransaction(f.ctx, fleet.BankTransaction{AccountID: "A1", Type: fleet.BankWithdrawal, Amount: fcfa(85000)})
	require.NoError(t, err)

	stored, err := f.store.GetBankAccount(f.ctx, "A1")
	require.NoError(t, err)
	assert.True(t, stored.CachedBalance.Equal(fcfa(5365000)), "balance %s", stored.CachedBalance)

	balance, err := f.svc.AccountBalance(f.ctx, "A1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(stored.CachedBalance))

	// Moving a transaction to another account refreshes both.
	_, err = f.svc.SaveBankAccount(f.ctx, fleet.BankAccount{ID: "A2", Name: "Épargne"})
	require.NoError(t, err)
	fee.AccountID = "A2"
	_, err = f.svc.SaveBankTransaction(f.ctx, fee)
	require.NoError(t, err)

	a1, err := f.store.GetBankAccount(f.ctx, "A1")
	require.NoError(t, err)
	assert.True(t, a1.CachedBalance.Equal(fcfa(5450000)))
	a2, err := f.store.GetBankAccount(f.ctx, "A2")
	require.NoError(t, err)
	assert.True(t, a2.CachedBalance.Equal(fcfa(-85000)))

	assert.ErrorIs(t, f.svc.DeleteBankAccount(f.ctx, "A2"), fleet.ErrDeletionBlocked)
	require.NoError(t, f.svc.DeleteBankTransaction(f.ctx, fee.ID))
	a2, err = f.store.GetBankAccount(f.ctx, "A2")
	require.NoError(t, err)
	assert.True(t, a2.CachedBalance.IsZero())
	require.NoError(t, f.svc.DeleteBankAccount(f.ctx, "A2"))
}

func TestBank_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SaveBankTransaction(f.ctx, fleet.BankTransaction{AccountID: "A1", Type: "gift", Amount: fcfa(1)})
	assert.ErrorIs(t, err, fleet.ErrValidation)
	_, err = f.svc.SaveBankTransaction(f.ctx, fleet.BankTransaction{AccountID: "A1", Type: fleet.BankFee, Amount: fcfa(0)})
	assert.ErrorIs(t, err, fleet.ErrValidation)
	_, err = f.svc.SaveBankTransaction(f.ctx, fleet.BankTransaction{AccountID: "ghost", Type: fleet.BankFee, Amount: fcfa(10)})
	assert.ErrorIs(t, err, fleet.ErrMissingReference)
}

// =============================================================================
// CONCURRENCY + RESET
// =============================================================================

func TestTransitionTrip_ConcurrentCompletionsAppendOnce(t *testing.T) {
	f := newFixture(t)
	f.seedDouala(t)
	_, err := f.svc.TransitionTrip(f.ctx, "T1", fleet.TripOngoing)
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, term int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.TransitionTrip(f.ctx, "T1", fleet.TripCompleted)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, fleet.ErrTerminalState):
				term++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, 7, term)
	driver, err := f.store.GetDriver(f.ctx, "D1")
	require.NoError(t, err)
	assert.Len(t, driver.ManualTransactions, 1)
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	f.seedDouala(t)
	_, err := f.svc.DriverLedger(f.ctx, "D1")
	require.NoError(t, err)

	require.NoError(t, f.svc.Reset(f.ctx))

	trips, err := f.store.ListTrips(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, trips)
	assert.Empty(t, f.views.ledgers)
}
