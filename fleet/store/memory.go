// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/fleetops/fleet-ledger/fleet"
)

// =============================================================================
// TABLE - One keyed collection
// =============================================================================

type table[K ~string, V any] struct {
	kind string
	rows map[K]V
}

func newTable[K ~string, V any](kind string) table[K, V] {
	return table[K, V]{kind: kind, rows: make(map[K]V)}
}

func (t table[K, V]) list() []V {
	keys := make([]K, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]V, 0, len(keys))
	for _, k := range keys {
		out = append(out, t.rows[k])
	}
	return out
}

func (t table[K, V]) get(id K) (V, error) {
	v, ok := t.rows[id]
	if !ok {
		var zero V
		return zero, &fleet.MissingReferenceError{Kind: t.kind, ID: string(id)}
	}
	return v, nil
}

func (t table[K, V]) put(id K, v V) { t.rows[id] = v }

func (t table[K, V]) remove(id K) error {
	if _, ok := t.rows[id]; !ok {
		return &fleet.MissingReferenceError{Kind: t.kind, ID: string(id)}
	}
	delete(t.rows, id)
	return nil
}

func (t table[K, V]) clone() table[K, V] {
	c := newTable[K, V](t.kind)
	for k, v := range t.rows {
		c.rows[k] = v
	}
	return c
}

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	data tables
}

type tables struct {
	trips    table[fleet.TripID, fleet.Trip]
	expenses table[fleet.ExpenseID, fleet.Expense]
	drivers  table[fleet.DriverID, fleet.Driver]
	invoices table[fleet.InvoiceID, fleet.Invoice]
	trucks   table[fleet.TruckID, fleet.Truck]
	accounts table[fleet.AccountID, fleet.BankAccount]
	bankTxs  table[fleet.BankTxID, fleet.BankTransaction]
}

func newTables() tables {
	return tables{
		trips:    newTable[fleet.TripID, fleet.Trip]("trip"),
		expenses: newTable[fleet.ExpenseID, fleet.Expense]("expense"),
		drivers:  newTable[fleet.DriverID, fleet.Driver]("driver"),
		invoices: newTable[fleet.InvoiceID, fleet.Invoice]("invoice"),
		trucks:   newTable[fleet.TruckID, fleet.Truck]("truck"),
		accounts: newTable[fleet.AccountID, fleet.BankAccount]("account"),
		bankTxs:  newTable[fleet.BankTxID, fleet.BankTransaction]("bank transaction"),
	}
}

func (t tables) snapshot() tables {
	return tables{
		trips:    t.trips.clone(),
		expenses: t.expenses.clone(),
		drivers:  t.drivers.clone(),
		invoices: t.invoices.clone(),
		trucks:   t.trucks.clone(),
		accounts: t.accounts.clone(),
		bankTxs:  t.bankTxs.clone(),
	}
}

func NewMemory() *Memory {
	return &Memory{data: newTables()}
}

var _ fleet.TxStore = (*Memory)(nil)

func read[V any](m *Memory, fn func(tables) (V, error)) (V, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.data)
}

func write(m *Memory, fn func(tables) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.data)
}

// Drivers are stored with their own copy of the manual list so callers
// appending to a returned slice cannot alias stored state.
func copyDriver(d fleet.Driver) fleet.Driver {
	d.ManualTransactions = append([]fleet.ManualTransaction(nil), d.ManualTransactions...)
	return d
}

// =============================================================================
// COLLECTIONS
// =============================================================================

func (m *Memory) ListTrips(_ context.Context) ([]fleet.Trip, error) {
	return read(m, func(t tables) ([]fleet.Trip, error) { return t.trips.list(), nil })
}

func (m *Memory) GetTrip(_ context.Context, id fleet.TripID) (fleet.Trip, error) {
	return read(m, func(t tables) (fleet.Trip, error) { return t.trips.get(id) })
}

func (m *Memory) SaveTrip(_ context.Context, trip fleet.Trip) error {
	return write(m, func(t tables) error { t.trips.put(trip.ID, trip); return nil })
}

func (m *Memory) DeleteTrip(_ context.Context, id fleet.TripID) error {
	return write(m, func(t tables) error { return t.trips.remove(id) })
}

func (m *Memory) ListExpenses(_ context.Context) ([]fleet.Expense, error) {
	return read(m, func(t tables) ([]fleet.Expense, error) { return t.expenses.list(), nil })
}

func (m *Memory) GetExpense(_ context.Context, id fleet.ExpenseID) (fleet.Expense, error) {
	return read(m, func(t tables) (fleet.Expense, error) { return t.expenses.get(id) })
}

func (m *Memory) SaveExpense(_ context.Context, e fleet.Expense) error {
	return write(m, func(t tables) error { t.expenses.put(e.ID, e); return nil })
}

func (m *Memory) DeleteExpense(_ context.Context, id fleet.ExpenseID) error {
	return write(m, func(t tables) error { return t.expenses.remove(id) })
}

func (m *Memory) ListDrivers(_ context.Context) ([]fleet.Driver, error) {
	return read(m, func(t tables) ([]fleet.Driver, error) {
		out := t.drivers.list()
		for i := range out {
			out[i] = copyDriver(out[i])
		}
		return out, nil
	})
}

func (m *Memory) GetDriver(_ context.Context, id fleet.DriverID) (fleet.Driver, error) {
	return read(m, func(t tables) (fleet.Driver, error) {
		d, err := t.drivers.get(id)
		return copyDriver(d), err
	})
}

func (m *Memory) SaveDriver(_ context.Context, d fleet.Driver) error {
	return write(m, func(t tables) error { t.drivers.put(d.ID, copyDriver(d)); return nil })
}

func (m *Memory) DeleteDriver(_ context.Context, id fleet.DriverID) error {
	return write(m, func(t tables) error { return t.drivers.remove(id) })
}

func (m *Memory) ListInvoices(_ context.Context) ([]fleet.Invoice, error) {
	return read(m, func(t tables) ([]fleet.Invoice, error) { return t.invoices.list(), nil })
}

func (m *Memory) GetInvoice(_ context.Context, id fleet.InvoiceID) (fleet.Invoice, error) {
	return read(m, func(t tables) (fleet.Invoice, error) { return t.invoices.get(id) })
}

func (m *Memory) SaveInvoice(_ context.Context, inv fleet.Invoice) error {
	return write(m, func(t tables) error { t.invoices.put(inv.ID, inv); return nil })
}

func (m *Memory) DeleteInvoice(_ context.Context, id fleet.InvoiceID) error {
	return write(m, func(t tables) error { return t.invoices.remove(id) })
}

func (m *Memory) ListTrucks(_ context.Context) ([]fleet.Truck, error) {
	return read(m, func(t tables) ([]fleet.Truck, error) { return t.trucks.list(), nil })
}

func (m *Memory) GetTruck(_ context.Context, id fleet.TruckID) (fleet.Truck, error) {
	return read(m, func(t tables) (fleet.Truck, error) { return t.trucks.get(id) })
}

func (m *Memory) SaveTruck(_ context.Context, tr fleet.Truck) error {
	return write(m, func(t tables) error { t.trucks.put(tr.ID, tr); return nil })
}

func (m *Memory) DeleteTruck(_ context.Context, id fleet.TruckID) error {
	return write(m, func(t tables) error { return t.trucks.remove(id) })
}

func (m *Memory) ListBankAccounts(_ context.Context) ([]fleet.BankAccount, error) {
	return read(m, func(t tables) ([]fleet.BankAccount, error) { return t.accounts.list(), nil })
}

func (m *Memory) GetBankAccount(_ context.Context, id fleet.AccountID) (fleet.BankAccount, error) {
	return read(m, func(t tables) (fleet.BankAccount, error) { return t.accounts.get(id) })
}

func (m *Memory) SaveBankAccount(_ context.Context, a fleet.BankAccount) error {
	return write(m, func(t tables) error { t.accounts.put(a.ID, a); return nil })
}

func (m *Memory) DeleteBankAccount(_ context.Context, id fleet.AccountID) error {
	return write(m, func(t tables) error { return t.accounts.remove(id) })
}

func (m *Memory) ListBankTransactions(_ context.Context) ([]fleet.BankTransaction, error) {
	return read(m, func(t tables) ([]fleet.BankTransaction, error) { return t.bankTxs.list(), nil })
}

func (m *Memory) GetBankTransaction(_ context.Context, id fleet.BankTxID) (fleet.BankTransaction, error) {
	return read(m, func(t tables) (fleet.BankTransaction, error) { return t.bankTxs.get(id) })
}

func (m *Memory) SaveBankTransaction(_ context.Context, tx fleet.BankTransaction) error {
	return write(m, func(t tables) error { t.bankTxs.put(tx.ID, tx); return nil })
}

func (m *Memory) DeleteBankTransaction(_ context.Context, id fleet.BankTxID) error {
	return write(m, func(t tables) error { return t.bankTxs.remove(id) })
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = newTables()
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn against an unlocked view of the store.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(fleet.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.snapshot()
	view := &Memory{data: m.data}

	if err := fn(view); err != nil {
		m.data = snapshot
		return err
	}
	// Reset may have swapped the view's tables.
	m.data = view.data
	return nil
}
