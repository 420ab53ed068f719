/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Populates the store with realistic fleet data. Scenarios are YAML files
  embedded from scenarios/; each one is replayed through the service so
  trips reach their status by real transitions, invoices resynchronize
  their trip and bank accounts refresh their cached balance.

AVAILABLE SCENARIOS:
  douala-yaounde:       planned → ongoing → completed, one fuel expense
  partial-billing:      three invoices paid 100 000 / 50 000 / 0
  bank-reconciliation:  5 000 000 + 450 000 - 85 000

HOW SCENARIOS WORK:
  1. Reset the store (and cached views)
  2. Trucks, drivers
  3. Trips, saved planned, then walked through their transitions
  4. Expenses
  5. Invoices, then their payments
  6. Bank accounts, then their transactions

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "douala-yaounde"}

ADDING NEW SCENARIOS:
  Drop a new .yaml file in scenarios/. The id field is the scenario id.

NOTE:
  Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: error mapping shared by these handlers
  - service/: every write goes through it
*/
package api

import (
	"context"
	"embed"
	"fmt"
	"net/http"
	"path"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fleetops/fleet-ledger/fleet"
	"github.com/fleetops/fleet-ledger/service"
)

//go:embed scenarios/*.yaml
var scenarioFiles embed.FS

// =============================================================================
// SCENARIO FILE FORMAT
// =============================================================================

// Scenario is one fixture file. Money and dates are strings so the YAML
// stays exact.
type Scenario struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Order       int    `yaml:"order"`

	Trucks []struct {
		ID     string `yaml:"id"`
		Plate  string `yaml:"plate"`
		Type   string `yaml:"type"`
		Status string `yaml:"status"`
	} `yaml:"trucks"`

	Drivers []struct {
		ID        string `yaml:"id"`
		FirstName string `yaml:"first_name"`
		LastName  string `yaml:"last_name"`
		Phone     string `yaml:"phone"`
		License   string `yaml:"license"`
	} `yaml:"drivers"`

	Trips []struct {
		ID           string   `yaml:"id"`
		Tractor      string   `yaml:"tractor"`
		Trailer      string   `yaml:"trailer"`
		Driver       string   `yaml:"driver"`
		Origin       string   `yaml:"origin"`
		Destination  string   `yaml:"destination"`
		Departure    string   `yaml:"departure"`
		Recette      string   `yaml:"recette"`
		Prefinancing string   `yaml:"prefinancing"`
		Transitions  []string `yaml:"transitions"`
	} `yaml:"trips"`

	Expenses []struct {
		ID          string `yaml:"id"`
		Trip        string `yaml:"trip"`
		Truck       string `yaml:"truck"`
		Driver      string `yaml:"driver"`
		Category    string `yaml:"category"`
		Amount      string `yaml:"amount"`
		Date        string `yaml:"date"`
		Description string `yaml:"description"`
	} `yaml:"expenses"`

	Invoices []struct {
		ID        string `yaml:"id"`
		Number    string `yaml:"number"`
		Trip      string `yaml:"trip"`
		AmountHT  string `yaml:"amount_ht"`
		AmountTTC string `yaml:"amount_ttc"`
		Paid      string `yaml:"paid"`
		Issued    string `yaml:"issued"`
		Payments  []struct {
			Amount string `yaml:"amount"`
			Date   string `yaml:"date"`
		} `yaml:"payments"`
	} `yaml:"invoices"`

	Accounts []struct {
		ID           string `yaml:"id"`
		Name         string `yaml:"name"`
		Bank         string `yaml:"bank"`
		Number       string `yaml:"number"`
		Initial      string `yaml:"initial"`
		Transactions []struct {
			ID          string `yaml:"id"`
			Type        string `yaml:"type"`
			Amount      string `yaml:"amount"`
			Date        string `yaml:"date"`
			Description string `yaml:"description"`
		} `yaml:"transactions"`
	} `yaml:"accounts"`
}

// LoadScenarios parses every embedded fixture, ordered for display.
func LoadScenarios() ([]Scenario, error) {
	entries, err := scenarioFiles.ReadDir("scenarios")
	if err != nil {
		return nil, err
	}
	var out []Scenario
	for _, e := range entries {
		data, err := scenarioFiles.ReadFile(path.Join("scenarios", e.Name()))
		if err != nil {
			return nil, err
		}
		var sc Scenario
		if err := yaml.Unmarshal(data, &sc); err != nil {
			return nil, fmt.Errorf("scenario %s: %w", e.Name(), err)
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func findScenario(id string) (Scenario, bool, error) {
	all, err := LoadScenarios()
	if err != nil {
		return Scenario{}, false, err
	}
	for _, sc := range all {
		if sc.ID == id {
			return sc, true, nil
		}
	}
	return Scenario{}, false, nil
}

// =============================================================================
// HANDLERS
// =============================================================================

func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	all, err := LoadScenarios()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]ScenarioDTO, 0, len(all))
	for _, sc := range all {
		out = append(out, ScenarioDTO{ID: sc.ID, Name: sc.Name, Description: sc.Description})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetCurrentScenario returns the last loaded scenario, or null.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	sc, ok, err := findScenario(current)
	if err != nil || !ok {
		writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
		return
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: sc.ID, Name: sc.Name, Description: sc.Description})
}

// LoadScenario resets the store and replays a fixture.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	sc, ok, err := findScenario(req.ScenarioID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("no scenario %q", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentScenario = ""

	if err := h.svc.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	if err := ApplyScenario(r.Context(), h.svc, sc); err != nil {
		h.logger.Error("scenario load failed", zap.String("scenario", sc.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	h.currentScenario = sc.ID
	h.logger.Info("scenario loaded", zap.String("scenario", sc.ID))

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": sc.ID})
}

func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.svc.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// REPLAY
// =============================================================================

// ApplyScenario writes sc through svc. It does not reset first.
func ApplyScenario(ctx context.Context, svc *service.Service, sc Scenario) error {
	p := &parser{}

	for _, t := range sc.Trucks {
		if _, err := svc.SaveTruck(ctx, fleet.Truck{
			ID:     fleet.TruckID(t.ID),
			Plate:  t.Plate,
			Type:   fleet.TruckType(t.Type),
			Status: fleet.TruckStatus(t.Status),
		}); err != nil {
			return fmt.Errorf("truck %s: %w", t.ID, err)
		}
	}

	for _, d := range sc.Drivers {
		if _, err := svc.SaveDriver(ctx, fleet.Driver{
			ID:            fleet.DriverID(d.ID),
			FirstName:     d.FirstName,
			LastName:      d.LastName,
			Phone:         d.Phone,
			LicenseNumber: d.License,
		}); err != nil {
			return fmt.Errorf("driver %s: %w", d.ID, err)
		}
	}

	for _, t := range sc.Trips {
		trip := fleet.Trip{
			ID:            fleet.TripID(t.ID),
			TractorID:     fleet.TruckID(t.Tractor),
			TrailerID:     fleet.TruckID(t.Trailer),
			DriverID:      fleet.DriverID(t.Driver),
			Origin:        t.Origin,
			Destination:   t.Destination,
			DepartureDate: p.date(t.Departure),
			Recette:       p.money(t.Recette),
		}
		if t.Prefinancing != "" {
			pre := p.money(t.Prefinancing)
			trip.Prefinancing = &pre
		}
		if p.err != nil {
			return fmt.Errorf("trip %s: %w", t.ID, p.err)
		}
		if _, err := svc.SaveTrip(ctx, trip); err != nil {
			return fmt.Errorf("trip %s: %w", t.ID, err)
		}
		for _, status := range t.Transitions {
			if _, err := svc.TransitionTrip(ctx, trip.ID, fleet.TripStatus(status)); err != nil {
				return fmt.Errorf("trip %s -> %s: %w", t.ID, status, err)
			}
		}
	}

	for _, e := range sc.Expenses {
		expense := fleet.Expense{
			ID:          fleet.ExpenseID(e.ID),
			TripID:      fleet.TripID(e.Trip),
			TruckID:     fleet.TruckID(e.Truck),
			DriverID:    fleet.DriverID(e.Driver),
			Category:    e.Category,
			Amount:      p.money(e.Amount),
			Date:        p.date(e.Date),
			Description: e.Description,
		}
		if p.err != nil {
			return fmt.Errorf("expense %s: %w", e.ID, p.err)
		}
		if _, err := svc.SaveExpense(ctx, expense); err != nil {
			return fmt.Errorf("expense %s: %w", e.ID, err)
		}
	}

	for _, i := range sc.Invoices {
		inv := fleet.Invoice{
			ID:          fleet.InvoiceID(i.ID),
			Number:      i.Number,
			TripID:      fleet.TripID(i.Trip),
			Status:      fleet.InvoicePending,
			AmountHT:    p.money(i.AmountHT),
			AmountTTC:   p.money(i.AmountTTC),
			MontantPaye: p.money(i.Paid),
			IssueDate:   p.date(i.Issued),
		}
		if p.err != nil {
			return fmt.Errorf("invoice %s: %w", i.ID, p.err)
		}
		if _, err := svc.SaveInvoice(ctx, inv); err != nil {
			return fmt.Errorf("invoice %s: %w", i.ID, err)
		}
		for _, pay := range i.Payments {
			amount, on := p.money(pay.Amount), p.date(pay.Date)
			if p.err != nil {
				return fmt.Errorf("invoice %s payment: %w", i.ID, p.err)
			}
			if _, err := svc.RecordInvoicePayment(ctx, inv.ID, amount, on); err != nil {
				return fmt.Errorf("invoice %s payment: %w", i.ID, err)
			}
		}
	}

	for _, a := range sc.Accounts {
		acc := fleet.BankAccount{
			ID:             fleet.AccountID(a.ID),
			Name:           a.Name,
			Bank:           a.Bank,
			Number:         a.Number,
			InitialBalance: p.money(a.Initial),
		}
		if p.err != nil {
			return fmt.Errorf("account %s: %w", a.ID, p.err)
		}
		if _, err := svc.SaveBankAccount(ctx, acc); err != nil {
			return fmt.Errorf("account %s: %w", a.ID, err)
		}
		for _, tx := range a.Transactions {
			btx := fleet.BankTransaction{
				ID:          fleet.BankTxID(tx.ID),
				AccountID:   acc.ID,
				Type:        fleet.BankTxType(tx.Type),
				Amount:      p.money(tx.Amount),
				Date:        p.date(tx.Date),
				Description: tx.Description,
			}
			if p.err != nil {
				return fmt.Errorf("bank transaction %s: %w", tx.ID, p.err)
			}
			if _, err := svc.SaveBankTransaction(ctx, btx); err != nil {
				return fmt.Errorf("bank transaction %s: %w", tx.ID, err)
			}
		}
	}

	return nil
}

// parser keeps the first conversion error so field lists stay flat.
type parser struct{ err error }

func (p *parser) money(s string) decimal.Decimal {
	if s == "" || p.err != nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		p.err = err
		return decimal.Zero
	}
	return d
}

func (p *parser) date(s string) fleet.Date {
	if s == "" || p.err != nil {
		return fleet.Date{}
	}
	d, err := fleet.ParseDate(s)
	if err != nil {
		p.err = err
		return fleet.Date{}
	}
	return d
}
