/*
lifecycle.go - Trip status state machine

PURPOSE:
  Decides whether a requested status change is legal and, on completion,
  produces the ledger append the caller must apply to the driver.

STATE TABLE:
  ┌──────────┐      ┌─────────┐      ┌───────────┐
  │ planned  │ ───▶ │ ongoing │ ───▶ │ completed │  (terminal)
  └──────────┘      └─────────┘      └───────────┘
        │                │
        └──────┬─────────┘
               ▼
         ┌───────────┐
         │ cancelled │  (terminal)
         └───────────┘

REJECTIONS (checked in this order):
  1. current is completed/cancelled      → ErrTerminalState
  2. unknown target, same status, regress → ErrInvalidTransition
  3. planned → completed                  → ErrSkippedStep

COMPLETION SIDE EFFECT:
  ArrivalDate is stamped with today (only if unset). If the trip has a
  driver and positive revenue, a LedgerAppend is returned. The lifecycle
  never touches the driver itself; see AppendCompletion in ledger.go.

SEE ALSO:
  - ledger.go: AppendCompletion applies the LedgerAppend idempotently
  - service/service.go: persists trip + driver atomically
*/
package fleet

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATUS PREDICATES
// =============================================================================

var forwardRank = map[TripStatus]int{
	TripPlanned:   0,
	TripOngoing:   1,
	TripCompleted: 2,
}

func (s TripStatus) IsValid() bool {
	switch s {
	case TripPlanned, TripOngoing, TripCompleted, TripCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is permitted.
func (s TripStatus) IsTerminal() bool {
	return s == TripCompleted || s == TripCancelled
}

// IsActive reports whether the trip commits its truck and driver.
func (s TripStatus) IsActive() bool {
	return s == TripPlanned || s == TripOngoing
}

// CanTransitionTo reports whether s → target is allowed.
func (s TripStatus) CanTransitionTo(target TripStatus) bool {
	return checkTransition(s, target) == nil
}

func checkTransition(from, to TripStatus) error {
	if from.IsTerminal() {
		return ErrTerminalState
	}
	if !to.IsValid() || !from.IsValid() || from == to {
		return ErrInvalidTransition
	}
	if to == TripCancelled {
		return nil
	}
	if forwardRank[to] < forwardRank[from] {
		return ErrInvalidTransition
	}
	if from == TripPlanned && to == TripCompleted {
		return ErrSkippedStep
	}
	return nil
}

// =============================================================================
// LEDGER APPEND INTENT
// =============================================================================

// DerivationKey is the content used by historical completion entries to
// detect an existing append.
type DerivationKey struct {
	Origin      string
	Destination string
	Recette     decimal.Decimal
}

func (k DerivationKey) Route() string { return RouteLabel(k.Origin, k.Destination) }

// LedgerAppend is the instruction to add an inflow to the driver's manual list.
type LedgerAppend struct {
	DriverID    DriverID
	TripID      TripID
	Type        FlowType
	Amount      decimal.Decimal
	Date        Date
	Description string
	Key         DerivationKey
}

// Transaction renders the intent as the ManualTransaction to store.
func (a LedgerAppend) Transaction(id ManualTxID) ManualTransaction {
	return ManualTransaction{
		ID:           id,
		Type:         a.Type,
		Amount:       a.Amount,
		Date:         a.Date,
		Description:  a.Description,
		SourceTripID: a.TripID,
	}
}

// CompletionDescription is the description written on completion entries.
func CompletionDescription(origin, destination string, recette decimal.Decimal) string {
	return fmt.Sprintf("Trip %s completed (revenue %s)", RouteLabel(origin, destination), recette.String())
}

// =============================================================================
// LIFECYCLE
// =============================================================================

type TransitionResult struct {
	Trip         Trip
	LedgerAppend *LedgerAppend
}

// TripLifecycle validates and applies trip status transitions.
type TripLifecycle struct {
	Now Clock
}

func NewTripLifecycle(now Clock) *TripLifecycle {
	return &TripLifecycle{Now: now}
}

// RequestTransition returns the updated copy of trip, or a *TransitionError
// and the zero result. The input trip is never modified.
func (l *TripLifecycle) RequestTransition(trip Trip, target TripStatus) (TransitionResult, error) {
	if err := checkTransition(trip.Status, target); err != nil {
		return TransitionResult{}, &TransitionError{
			TripID: trip.ID,
			From:   trip.Status,
			To:     target,
			Err:    err,
		}
	}

	next := trip
	next.Status = target

	if target != TripCompleted {
		return TransitionResult{Trip: next}, nil
	}

	today := l.Now.Today()
	if trip.ArrivalDate == nil {
		next.ArrivalDate = today.Ptr()
	}

	result := TransitionResult{Trip: next}
	if trip.DriverID != "" && trip.Recette.IsPositive() {
		result.LedgerAppend = &LedgerAppend{
			DriverID:    trip.DriverID,
			TripID:      trip.ID,
			Type:        FlowInflow,
			Amount:      trip.Recette,
			Date:        today,
			Description: CompletionDescription(trip.Origin, trip.Destination, trip.Recette),
			Key: DerivationKey{
				Origin:      trip.Origin,
				Destination: trip.Destination,
				Recette:     trip.Recette,
			},
		}
	}
	return result, nil
}
