/*
store.go - Persistence interface for the entity collections

PURPOSE:
  Defines the boundary between the pure core and whatever keeps the
  records. The core itself never calls a Store; the service package loads
  collections through it, derives, and writes results back.

KEY INTERFACES:
  Store:   Per-collection list/get/save/delete
  TxStore: Store + WithTx for all-or-nothing multi-record writes

LOOKUPS:
  Get* on an unknown id returns a *MissingReferenceError.
  List* returns records ordered by id (stable for tests and views).

IMPLEMENTATIONS:
  - fleet/store/memory.go: In-memory for tests and development
  - store/sqlite/sqlite.go: SQLite
*/
package fleet

import "context"

type TripStore interface {
	ListTrips(ctx context.Context) ([]Trip, error)
	GetTrip(ctx context.Context, id TripID) (Trip, error)
	SaveTrip(ctx context.Context, t Trip) error
	DeleteTrip(ctx context.Context, id TripID) error
}

type ExpenseStore interface {
	ListExpenses(ctx context.Context) ([]Expense, error)
	GetExpense(ctx context.Context, id ExpenseID) (Expense, error)
	SaveExpense(ctx context.Context, e Expense) error
	DeleteExpense(ctx context.Context, id ExpenseID) error
}

// DriverStore persists drivers together with their manual transactions.
// SaveDriver replaces the whole manual list.
type DriverStore interface {
	ListDrivers(ctx context.Context) ([]Driver, error)
	GetDriver(ctx context.Context, id DriverID) (Driver, error)
	SaveDriver(ctx context.Context, d Driver) error
	DeleteDriver(ctx context.Context, id DriverID) error
}

type InvoiceStore interface {
	ListInvoices(ctx context.Context) ([]Invoice, error)
	GetInvoice(ctx context.Context, id InvoiceID) (Invoice, error)
	SaveInvoice(ctx context.Context, inv Invoice) error
	DeleteInvoice(ctx context.Context, id InvoiceID) error
}

type TruckStore interface {
	ListTrucks(ctx context.Context) ([]Truck, error)
	GetTruck(ctx context.Context, id TruckID) (Truck, error)
	SaveTruck(ctx context.Context, t Truck) error
	DeleteTruck(ctx context.Context, id TruckID) error
}

type BankStore interface {
	ListBankAccounts(ctx context.Context) ([]BankAccount, error)
	GetBankAccount(ctx context.Context, id AccountID) (BankAccount, error)
	SaveBankAccount(ctx context.Context, a BankAccount) error
	DeleteBankAccount(ctx context.Context, id AccountID) error

	ListBankTransactions(ctx context.Context) ([]BankTransaction, error)
	GetBankTransaction(ctx context.Context, id BankTxID) (BankTransaction, error)
	SaveBankTransaction(ctx context.Context, tx BankTransaction) error
	DeleteBankTransaction(ctx context.Context, id BankTxID) error
}

// Store is the full set of collections.
type Store interface {
	TripStore
	ExpenseStore
	DriverStore
	InvoiceStore
	TruckStore
	BankStore

	// Reset removes every record. Used by demo scenarios.
	Reset(ctx context.Context) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the given Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
