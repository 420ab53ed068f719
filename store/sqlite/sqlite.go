/*
Package sqlite provides a SQLite-backed implementation of fleet.TxStore.

PURPOSE:
  Persists the raw collections (trips, expenses, drivers with their manual
  transactions, invoices, trucks, bank accounts and bank transactions).
  Nothing derived is stored except BankAccount.CachedBalance, which the
  service refreshes after every bank transaction change.

KEY TABLES:
  trips, expenses, invoices, trucks:  One row per record
  drivers:                            Driver profile
  driver_transactions:                Manual list, ordered by position
  bank_accounts, bank_transactions:   Accounts and their movements

MONEY AND DATES:
  Amounts are stored as TEXT (decimal.Decimal string form) so no value is
  ever rounded through a float. Dates are TEXT in YYYY-MM-DD form, NULL when
  unset.

COMPLETION UNIQUENESS:
  idx_driver_tx_source_trip forbids two completion entries for the same
  (driver, trip). It backs the set-insert done in fleet.AppendCompletion.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, which also
  keeps ":memory:" databases shared across calls.

USAGE:
  store, err := sqlite.New("./data/fleet.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - fleet/store.go: Interface definitions
  - fleet/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/fleetops/fleet-ledger/fleet"
)

// Store implements fleet.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ fleet.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trips (
		id TEXT PRIMARY KEY,
		tractor_id TEXT NOT NULL DEFAULT '',
		trailer_id TEXT NOT NULL DEFAULT '',
		driver_id TEXT NOT NULL,
		origin TEXT NOT NULL DEFAULT '',
		destination TEXT NOT NULL DEFAULT '',
		departure_date TEXT,
		arrival_date TEXT,
		recette TEXT NOT NULL DEFAULT '0',
		prefinancing TEXT,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trips_driver ON trips(driver_id);
	CREATE INDEX IF NOT EXISTS idx_trips_status ON trips(status);

	CREATE TABLE IF NOT EXISTS expenses (
		id TEXT PRIMARY KEY,
		truck_id TEXT NOT NULL DEFAULT '',
		trip_id TEXT NOT NULL DEFAULT '',
		driver_id TEXT NOT NULL DEFAULT '',
		supplier_id TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		sub_category TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		date TEXT,
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_expenses_trip ON expenses(trip_id);
	CREATE INDEX IF NOT EXISTS idx_expenses_driver ON expenses(driver_id);

	CREATE TABLE IF NOT EXISTS drivers (
		id TEXT PRIMARY KEY,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		license_number TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS driver_transactions (
		driver_id TEXT NOT NULL REFERENCES drivers(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		date TEXT,
		description TEXT NOT NULL DEFAULT '',
		source_trip_id TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (driver_id, position)
	);

	-- At most one completion entry per (driver, trip)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_driver_tx_source_trip
		ON driver_transactions(driver_id, source_trip_id)
		WHERE source_trip_id != '';

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL DEFAULT '',
		trip_id TEXT NOT NULL DEFAULT '',
		expense_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		amount_ht TEXT NOT NULL DEFAULT '0',
		amount_ttc TEXT NOT NULL DEFAULT '0',
		montant_paye TEXT NOT NULL DEFAULT '0',
		issue_date TEXT,
		due_date TEXT,
		paid_date TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_trip ON invoices(trip_id);

	CREATE TABLE IF NOT EXISTS trucks (
		id TEXT PRIMARY KEY,
		plate TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		driver_id TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS bank_accounts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		bank TEXT NOT NULL DEFAULT '',
		number TEXT NOT NULL DEFAULT '',
		initial_balance TEXT NOT NULL DEFAULT '0',
		cached_balance TEXT NOT NULL DEFAULT '0'
	);

	CREATE TABLE IF NOT EXISTS bank_transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		date TEXT,
		description TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_bank_transactions_account ON bank_transactions(account_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOCKING - Store methods lock, then delegate to an unlocked conn
// =============================================================================

func read[T any](s *Store, fn func(c conn) (T, error)) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(conn{q: s.db, db: s.db})
}

func write(s *Store, fn func(c conn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(conn{q: s.db, db: s.db})
}

func (s *Store) ListTrips(ctx context.Context) ([]fleet.Trip, error) {
	return read(s, func(c conn) ([]fleet.Trip, error) { return c.ListTrips(ctx) })
}

func (s *Store) GetTrip(ctx context.Context, id fleet.TripID) (fleet.Trip, error) {
	return read(s, func(c conn) (fleet.Trip, error) { return c.GetTrip(ctx, id) })
}

func (s *Store) SaveTrip(ctx context.Context, t fleet.Trip) error {
	return write(s, func(c conn) error { return c.SaveTrip(ctx, t) })
}

func (s *Store) DeleteTrip(ctx context.Context, id fleet.TripID) error {
	return write(s, func(c conn) error { return c.DeleteTrip(ctx, id) })
}

func (s *Store) ListExpenses(ctx context.Context) ([]fleet.Expense, error) {
	return read(s, func(c conn) ([]fleet.Expense, error) { return c.ListExpenses(ctx) })
}

func (s *Store) GetExpense(ctx context.Context, id fleet.ExpenseID) (fleet.Expense, error) {
	return read(s, func(c conn) (fleet.Expense, error) { return c.GetExpense(ctx, id) })
}

func (s *Store) SaveExpense(ctx context.Context, e fleet.Expense) error {
	return write(s, func(c conn) error { return c.SaveExpense(ctx, e) })
}

func (s *Store) DeleteExpense(ctx context.Context, id fleet.ExpenseID) error {
	return write(s, func(c conn) error { return c.DeleteExpense(ctx, id) })
}

func (s *Store) ListDrivers(ctx context.Context) ([]fleet.Driver, error) {
	return read(s, func(c conn) ([]fleet.Driver, error) { return c.ListDrivers(ctx) })
}

func (s *Store) GetDriver(ctx context.Context, id fleet.DriverID) (fleet.Driver, error) {
	return read(s, func(c conn) (fleet.Driver, error) { return c.GetDriver(ctx, id) })
}

func (s *Store) SaveDriver(ctx context.Context, d fleet.Driver) error {
	return write(s, func(c conn) error { return c.SaveDriver(ctx, d) })
}

func (s *Store) DeleteDriver(ctx context.Context, id fleet.DriverID) error {
	return write(s, func(c conn) error { return c.DeleteDriver(ctx, id) })
}

func (s *Store) ListInvoices(ctx context.Context) ([]fleet.Invoice, error) {
	return read(s, func(c conn) ([]fleet.Invoice, error) { return c.ListInvoices(ctx) })
}

func (s *Store) GetInvoice(ctx context.Context, id fleet.InvoiceID) (fleet.Invoice, error) {
	return read(s, func(c conn) (fleet.Invoice, error) { return c.GetInvoice(ctx, id) })
}

func (s *Store) SaveInvoice(ctx context.Context, inv fleet.Invoice) error {
	return write(s, func(c conn) error { return c.SaveInvoice(ctx, inv) })
}

func (s *Store) DeleteInvoice(ctx context.Context, id fleet.InvoiceID) error {
	return write(s, func(c conn) error { return c.DeleteInvoice(ctx, id) })
}

func (s *Store) ListTrucks(ctx context.Context) ([]fleet.Truck, error) {
	return read(s, func(c conn) ([]fleet.Truck, error) { return c.ListTrucks(ctx) })
}

func (s *Store) GetTruck(ctx context.Context, id fleet.TruckID) (fleet.Truck, error) {
	return read(s, func(c conn) (fleet.Truck, error) { return c.GetTruck(ctx, id) })
}

func (s *Store) SaveTruck(ctx context.Context, t fleet.Truck) error {
	return write(s, func(c conn) error { return c.SaveTruck(ctx, t) })
}

func (s *Store) DeleteTruck(ctx context.Context, id fleet.TruckID) error {
	return write(s, func(c conn) error { return c.DeleteTruck(ctx, id) })
}

func (s *Store) ListBankAccounts(ctx context.Context) ([]fleet.BankAccount, error) {
	return read(s, func(c conn) ([]fleet.BankAccount, error) { return c.ListBankAccounts(ctx) })
}

func (s *Store) GetBankAccount(ctx context.Context, id fleet.AccountID) (fleet.BankAccount, error) {
	return read(s, func(c conn) (fleet.BankAccount, error) { return c.GetBankAccount(ctx, id) })
}

func (s *Store) SaveBankAccount(ctx context.Context, a fleet.BankAccount) error {
	return write(s, func(c conn) error { return c.SaveBankAccount(ctx, a) })
}

func (s *Store) DeleteBankAccount(ctx context.Context, id fleet.AccountID) error {
	return write(s, func(c conn) error { return c.DeleteBankAccount(ctx, id) })
}

func (s *Store) ListBankTransactions(ctx context.Context) ([]fleet.BankTransaction, error) {
	return read(s, func(c conn) ([]fleet.BankTransaction, error) { return c.ListBankTransactions(ctx) })
}

func (s *Store) GetBankTransaction(ctx context.Context, id fleet.BankTxID) (fleet.BankTransaction, error) {
	return read(s, func(c conn) (fleet.BankTransaction, error) { return c.GetBankTransaction(ctx, id) })
}

func (s *Store) SaveBankTransaction(ctx context.Context, tx fleet.BankTransaction) error {
	return write(s, func(c conn) error { return c.SaveBankTransaction(ctx, tx) })
}

func (s *Store) DeleteBankTransaction(ctx context.Context, id fleet.BankTxID) error {
	return write(s, func(c conn) error { return c.DeleteBankTransaction(ctx, id) })
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	return write(s, func(c conn) error { return c.Reset(ctx) })
}

// =============================================================================
// TRANSACTIONAL STORE (fleet.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store fleet.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(conn{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// CONN - Unlocked queries against a *sql.DB or a *sql.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// conn implements fleet.Store. db is set only outside a transaction and is
// used to open one for multi-statement writes.
type conn struct {
	q  querier
	db *sql.DB
}

// atomic runs fn in a transaction unless c already is one.
func (c conn) atomic(ctx context.Context, fn func(c conn) error) error {
	if c.db == nil {
		return fn(c)
	}
	sqlTx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(conn{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func queryAll[T any](ctx context.Context, q querier, scan func(scanner) (T, error), query string, args ...any) ([]T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func queryOne[T any](ctx context.Context, q querier, kind, id string, scan func(scanner) (T, error), query string) (T, error) {
	v, err := scan(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return v, &fleet.MissingReferenceError{Kind: kind, ID: id}
	}
	return v, err
}

func deleteByID(ctx context.Context, q querier, table, kind, id string) error {
	res, err := q.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", kind, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &fleet.MissingReferenceError{Kind: kind, ID: id}
	}
	return nil
}

// =============================================================================
// TRIPS
// =============================================================================

const tripColumns = `id, tractor_id, trailer_id, driver_id, origin, destination,
	departure_date, arrival_date, recette, prefinancing, status`

func scanTrip(row scanner) (fleet.Trip, error) {
	var (
		t            fleet.Trip
		arrival      fleet.Date
		prefinancing decimal.NullDecimal
	)
	err := row.Scan(&t.ID, &t.TractorID, &t.TrailerID, &t.DriverID, &t.Origin, &t.Destination,
		&t.DepartureDate, &arrival, &t.Recette, &prefinancing, &t.Status)
	if err != nil {
		return t, err
	}
	if !arrival.IsZero() {
		t.ArrivalDate = &arrival
	}
	if prefinancing.Valid {
		t.Prefinancing = &prefinancing.Decimal
	}
	return t, nil
}

func (c conn) ListTrips(ctx context.Context) ([]fleet.Trip, error) {
	return queryAll(ctx, c.q, scanTrip, "SELECT "+tripColumns+" FROM trips ORDER BY id")
}

func (c conn) GetTrip(ctx context.Context, id fleet.TripID) (fleet.Trip, error) {
	return queryOne(ctx, c.q, "trip", string(id), scanTrip, "SELECT "+tripColumns+" FROM trips WHERE id = ?")
}

func (c conn) SaveTrip(ctx context.Context, t fleet.Trip) error {
	query := `
		INSERT INTO trips (` + tripColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tractor_id = excluded.tractor_id,
			trailer_id = excluded.trailer_id,
			driver_id = excluded.driver_id,
			origin = excluded.origin,
			destination = excluded.destination,
			departure_date = excluded.departure_date,
			arrival_date = excluded.arrival_date,
			recette = excluded.recette,
			prefinancing = excluded.prefinancing,
			status = excluded.status
	`
	_, err := c.q.ExecContext(ctx, query,
		t.ID, t.TractorID, t.TrailerID, t.DriverID, t.Origin, t.Destination,
		t.DepartureDate, nullDate(t.ArrivalDate), t.Recette, nullDecimal(t.Prefinancing), t.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to save trip: %w", err)
	}
	return nil
}

func (c conn) DeleteTrip(ctx context.Context, id fleet.TripID) error {
	return deleteByID(ctx, c.q, "trips", "trip", string(id))
}

// =============================================================================
// EXPENSES
// =============================================================================

const expenseColumns = `id, truck_id, trip_id, driver_id, supplier_id, category, sub_category,
	amount, date, description`

func scanExpense(row scanner) (fleet.Expense, error) {
	var e fleet.Expense
	err := row.Scan(&e.ID, &e.TruckID, &e.TripID, &e.DriverID, &e.SupplierID, &e.Category,
		&e.SubCategory, &e.Amount, &e.Date, &e.Description)
	return e, err
}

func (c conn) ListExpenses(ctx context.Context) ([]fleet.Expense, error) {
	return queryAll(ctx, c.q, scanExpense, "SELECT "+expenseColumns+" FROM expenses ORDER BY id")
}

func (c conn) GetExpense(ctx context.Context, id fleet.ExpenseID) (fleet.Expense, error) {
	return queryOne(ctx, c.q, "expense", string(id), scanExpense, "SELECT "+expenseColumns+" FROM expenses WHERE id = ?")
}

func (c conn) SaveExpense(ctx context.Context, e fleet.Expense) error {
	query := `
		INSERT INTO expenses (` + expenseColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			truck_id = excluded.truck_id,
			trip_id = excluded.trip_id,
			driver_id = excluded.driver_id,
			supplier_id = excluded.supplier_id,
			category = excluded.category,
			sub_category = excluded.sub_category,
			amount = excluded.amount,
			date = excluded.date,
			description = excluded.description
	`
	_, err := c.q.ExecContext(ctx, query,
		e.ID, e.TruckID, e.TripID, e.DriverID, e.SupplierID, e.Category, e.SubCategory,
		e.Amount, e.Date, e.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to save expense: %w", err)
	}
	return nil
}

func (c conn) DeleteExpense(ctx context.Context, id fleet.ExpenseID) error {
	return deleteByID(ctx, c.q, "expenses", "expense", string(id))
}

// =============================================================================
// DRIVERS + MANUAL TRANSACTIONS
// =============================================================================

const driverColumns = `id, first_name, last_name, phone, license_number`

func scanDriver(row scanner) (fleet.Driver, error) {
	var d fleet.Driver
	err := row.Scan(&d.ID, &d.FirstName, &d.LastName, &d.Phone, &d.LicenseNumber)
	return d, err
}

type driverTx struct {
	driverID fleet.DriverID
	tx       fleet.ManualTransaction
}

func scanDriverTx(row scanner) (driverTx, error) {
	var r driverTx
	err := row.Scan(&r.driverID, &r.tx.ID, &r.tx.Type, &r.tx.Amount, &r.tx.Date,
		&r.tx.Description, &r.tx.SourceTripID)
	return r, err
}

const driverTxSelect = `SELECT driver_id, id, type, amount, date, description, source_trip_id
	FROM driver_transactions`

func (c conn) ListDrivers(ctx context.Context) ([]fleet.Driver, error) {
	drivers, err := queryAll(ctx, c.q, scanDriver, "SELECT "+driverColumns+" FROM drivers ORDER BY id")
	if err != nil {
		return nil, err
	}
	txs, err := queryAll(ctx, c.q, scanDriverTx, driverTxSelect+" ORDER BY driver_id, position")
	if err != nil {
		return nil, err
	}

	byDriver := make(map[fleet.DriverID][]fleet.ManualTransaction)
	for _, r := range txs {
		byDriver[r.driverID] = append(byDriver[r.driverID], r.tx)
	}
	for i := range drivers {
		drivers[i].ManualTransactions = byDriver[drivers[i].ID]
	}
	return drivers, nil
}

func (c conn) GetDriver(ctx context.Context, id fleet.DriverID) (fleet.Driver, error) {
	d, err := queryOne(ctx, c.q, "driver", string(id), scanDriver, "SELECT "+driverColumns+" FROM drivers WHERE id = ?")
	if err != nil {
		return d, err
	}
	txs, err := queryAll(ctx, c.q, scanDriverTx, driverTxSelect+" WHERE driver_id = ? ORDER BY position", id)
	if err != nil {
		return d, err
	}
	for _, r := range txs {
		d.ManualTransactions = append(d.ManualTransactions, r.tx)
	}
	return d, nil
}

// SaveDriver upserts the profile and rewrites the manual list in one transaction.
func (c conn) SaveDriver(ctx context.Context, d fleet.Driver) error {
	return c.atomic(ctx, func(c conn) error {
		query := `
			INSERT INTO drivers (` + driverColumns + `)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				first_name = excluded.first_name,
				last_name = excluded.last_name,
				phone = excluded.phone,
				license_number = excluded.license_number
		`
		if _, err := c.q.ExecContext(ctx, query, d.ID, d.FirstName, d.LastName, d.Phone, d.LicenseNumber); err != nil {
			return fmt.Errorf("failed to save driver: %w", err)
		}
		if _, err := c.q.ExecContext(ctx, "DELETE FROM driver_transactions WHERE driver_id = ?", d.ID); err != nil {
			return fmt.Errorf("failed to clear driver transactions: %w", err)
		}

		insert := `
			INSERT INTO driver_transactions
			(driver_id, position, id, type, amount, date, description, source_trip_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		for i, m := range d.ManualTransactions {
			_, err := c.q.ExecContext(ctx, insert,
				d.ID, i, m.ID, m.Type, m.Amount, m.Date, m.Description, m.SourceTripID,
			)
			if err != nil {
				if isUniqueConstraintError(err) {
					return &fleet.ValidationError{
						Field:   "transactions",
						Message: "duplicate completion entry for trip " + string(m.SourceTripID),
					}
				}
				return fmt.Errorf("failed to save driver transaction: %w", err)
			}
		}
		return nil
	})
}

func (c conn) DeleteDriver(ctx context.Context, id fleet.DriverID) error {
	return deleteByID(ctx, c.q, "drivers", "driver", string(id))
}

// =============================================================================
// INVOICES
// =============================================================================

const invoiceColumns = `id, number, trip_id, expense_id, status, amount_ht, amount_ttc,
	montant_paye, issue_date, due_date, paid_date`

func scanInvoice(row scanner) (fleet.Invoice, error) {
	var (
		inv       fleet.Invoice
		due, paid fleet.Date
	)
	err := row.Scan(&inv.ID, &inv.Number, &inv.TripID, &inv.ExpenseID, &inv.Status,
		&inv.AmountHT, &inv.AmountTTC, &inv.MontantPaye, &inv.IssueDate, &due, &paid)
	if err != nil {
		return inv, err
	}
	if !due.IsZero() {
		inv.DueDate = &due
	}
	if !paid.IsZero() {
		inv.PaidDate = &paid
	}
	return inv, nil
}

func (c conn) ListInvoices(ctx context.Context) ([]fleet.Invoice, error) {
	return queryAll(ctx, c.q, scanInvoice, "SELECT "+invoiceColumns+" FROM invoices ORDER BY id")
}

func (c conn) GetInvoice(ctx context.Context, id fleet.InvoiceID) (fleet.Invoice, error) {
	return queryOne(ctx, c.q, "invoice", string(id), scanInvoice, "SELECT "+invoiceColumns+" FROM invoices WHERE id = ?")
}

func (c conn) SaveInvoice(ctx context.Context, inv fleet.Invoice) error {
	query := `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			number = excluded.number,
			trip_id = excluded.trip_id,
			expense_id = excluded.expense_id,
			status = excluded.status,
			amount_ht = excluded.amount_ht,
			amount_ttc = excluded.amount_ttc,
			montant_paye = excluded.montant_paye,
			issue_date = excluded.issue_date,
			due_date = excluded.due_date,
			paid_date = excluded.paid_date
	`
	_, err := c.q.ExecContext(ctx, query,
		inv.ID, inv.Number, inv.TripID, inv.ExpenseID, inv.Status,
		inv.AmountHT, inv.AmountTTC, inv.MontantPaye,
		inv.IssueDate, nullDate(inv.DueDate), nullDate(inv.PaidDate),
	)
	if err != nil {
		return fmt.Errorf("failed to save invoice: %w", err)
	}
	return nil
}

func (c conn) DeleteInvoice(ctx context.Context, id fleet.InvoiceID) error {
	return deleteByID(ctx, c.q, "invoices", "invoice", string(id))
}

// =============================================================================
// TRUCKS
// =============================================================================

const truckColumns = `id, plate, type, status, driver_id, owner_id`

func scanTruck(row scanner) (fleet.Truck, error) {
	var t fleet.Truck
	err := row.Scan(&t.ID, &t.Plate, &t.Type, &t.Status, &t.DriverID, &t.OwnerID)
	return t, err
}

func (c conn) ListTrucks(ctx context.Context) ([]fleet.Truck, error) {
	return queryAll(ctx, c.q, scanTruck, "SELECT "+truckColumns+" FROM trucks ORDER BY id")
}

func (c conn) GetTruck(ctx context.Context, id fleet.TruckID) (fleet.Truck, error) {
	return queryOne(ctx, c.q, "truck", string(id), scanTruck, "SELECT "+truckColumns+" FROM trucks WHERE id = ?")
}

func (c conn) SaveTruck(ctx context.Context, t fleet.Truck) error {
	query := `
		INSERT INTO trucks (` + truckColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			plate = excluded.plate,
			type = excluded.type,
			status = excluded.status,
			driver_id = excluded.driver_id,
			owner_id = excluded.owner_id
	`
	_, err := c.q.ExecContext(ctx, query, t.ID, t.Plate, t.Type, t.Status, t.DriverID, t.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to save truck: %w", err)
	}
	return nil
}

func (c conn) DeleteTruck(ctx context.Context, id fleet.TruckID) error {
	return deleteByID(ctx, c.q, "trucks", "truck", string(id))
}

// =============================================================================
// BANK
// =============================================================================

const accountColumns = `id, name, bank, number, initial_balance, cached_balance`

func scanAccount(row scanner) (fleet.BankAccount, error) {
	var a fleet.BankAccount
	err := row.Scan(&a.ID, &a.Name, &a.Bank, &a.Number, &a.InitialBalance, &a.CachedBalance)
	return a, err
}

func (c conn) ListBankAccounts(ctx context.Context) ([]fleet.BankAccount, error) {
	return queryAll(ctx, c.q, scanAccount, "SELECT "+accountColumns+" FROM bank_accounts ORDER BY id")
}

func (c conn) GetBankAccount(ctx context.Context, id fleet.AccountID) (fleet.BankAccount, error) {
	return queryOne(ctx, c.q, "account", string(id), scanAccount, "SELECT "+accountColumns+" FROM bank_accounts WHERE id = ?")
}

func (c conn) SaveBankAccount(ctx context.Context, a fleet.BankAccount) error {
	query := `
		INSERT INTO bank_accounts (` + accountColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			bank = excluded.bank,
			number = excluded.number,
			initial_balance = excluded.initial_balance,
			cached_balance = excluded.cached_balance
	`
	_, err := c.q.ExecContext(ctx, query, a.ID, a.Name, a.Bank, a.Number, a.InitialBalance, a.CachedBalance)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (c conn) DeleteBankAccount(ctx context.Context, id fleet.AccountID) error {
	return deleteByID(ctx, c.q, "bank_accounts", "account", string(id))
}

const bankTxColumns = `id, account_id, type, amount, date, description`

func scanBankTx(row scanner) (fleet.BankTransaction, error) {
	var tx fleet.BankTransaction
	err := row.Scan(&tx.ID, &tx.AccountID, &tx.Type, &tx.Amount, &tx.Date, &tx.Description)
	return tx, err
}

func (c conn) ListBankTransactions(ctx context.Context) ([]fleet.BankTransaction, error) {
	return queryAll(ctx, c.q, scanBankTx, "SELECT "+bankTxColumns+" FROM bank_transactions ORDER BY id")
}

func (c conn) GetBankTransaction(ctx context.Context, id fleet.BankTxID) (fleet.BankTransaction, error) {
	return queryOne(ctx, c.q, "bank transaction", string(id), scanBankTx, "SELECT "+bankTxColumns+" FROM bank_transactions WHERE id = ?")
}

func (c conn) SaveBankTransaction(ctx context.Context, tx fleet.BankTransaction) error {
	query := `
		INSERT INTO bank_transactions (` + bankTxColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account_id = excluded.account_id,
			type = excluded.type,
			amount = excluded.amount,
			date = excluded.date,
			description = excluded.description
	`
	_, err := c.q.ExecContext(ctx, query, tx.ID, tx.AccountID, tx.Type, tx.Amount, tx.Date, tx.Description)
	if err != nil {
		return fmt.Errorf("failed to save bank transaction: %w", err)
	}
	return nil
}

func (c conn) DeleteBankTransaction(ctx context.Context, id fleet.BankTxID) error {
	return deleteByID(ctx, c.q, "bank_transactions", "bank transaction", string(id))
}

// =============================================================================
// UTILITIES
// =============================================================================

func (c conn) Reset(ctx context.Context) error {
	tables := []string{
		"driver_transactions", "drivers", "trips", "expenses", "invoices",
		"trucks", "bank_transactions", "bank_accounts",
	}
	return c.atomic(ctx, func(c conn) error {
		for _, table := range tables {
			if _, err := c.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return err
			}
		}
		return nil
	})
}

// Helper functions

func nullDate(d *fleet.Date) any {
	if d == nil {
		return nil
	}
	return *d
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
