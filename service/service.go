/*
Package service orchestrates the fleet core against a store.

PURPOSE:
  The fleet package is pure: it decides, it never persists. This package
  is the caller that loads collections, invokes the core, and writes every
  side effect back inside one store transaction:
    - a completed trip and its driver's completion entry
    - a paid invoice and its trip's resynchronized revenue
    - a bank transaction and its account's refreshed cached balance

WRITE FLOW:
  1. Lock the service (writes are serialized)
  2. Open Store.WithTx
  3. Re-read the records involved (never trust caller copies)
  4. Call the core; any error rolls the transaction back
  5. Persist results
  6. After commit: invalidate affected driver views, log, count

READ FLOW:
  Derived views are computed from fresh collections. DriverLedger goes
  through the optional ViewCache (cache-aside; entries are invalidated on
  writes, never patched). Every invalidation bumps a per-driver view
  generation; a ledger derived under an older generation is returned to
  its caller but never stored.

SEE ALSO:
  - fleet/: the derivation core
  - cache/ledger_cache.go: Redis ViewCache
  - metrics/metrics.go: counters observed here
*/
package service

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fleetops/fleet-ledger/fleet"
	"github.com/fleetops/fleet-ledger/metrics"
)

// ViewCache holds materialized driver ledgers.
type ViewCache interface {
	Get(ctx context.Context, driverID fleet.DriverID) (fleet.Ledger, bool, error)
	Put(ctx context.Context, l fleet.Ledger) error
	Invalidate(ctx context.Context, driverIDs ...fleet.DriverID) error
	Flush(ctx context.Context) error
}

// Service is the entry point for every read and write the API performs.
type Service struct {
	store     fleet.TxStore
	lifecycle *fleet.TripLifecycle
	views     ViewCache
	logger    *zap.Logger
	now       fleet.Clock
	newID     func() string

	mu sync.Mutex

	// viewMu orders view stores against invalidations.
	viewMu    sync.Mutex
	viewGen   map[fleet.DriverID]uint64
	viewEpoch uint64
}

type Option func(*Service)

// WithViewCache enables cache-aside driver ledgers.
func WithViewCache(c ViewCache) Option {
	return func(s *Service) { s.views = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides "today" (completion dates, payment dates).
func WithClock(c fleet.Clock) Option {
	return func(s *Service) { s.now = c }
}

// WithIDGenerator overrides uuid generation for new records.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

func New(store fleet.TxStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		logger:  zap.NewNop(),
		newID:   uuid.NewString,
		viewGen: make(map[fleet.DriverID]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lifecycle = fleet.NewTripLifecycle(s.now)
	return s
}

// Store exposes the underlying store for plain listings.
func (s *Service) Store() fleet.Store { return s.store }

// Today returns the service's current calendar day.
func (s *Service) Today() fleet.Date { return s.now.Today() }

// =============================================================================
// HELPERS
// =============================================================================

// write runs fn in a store transaction while holding the service lock.
func (s *Service) write(ctx context.Context, fn func(tx fleet.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.WithTx(ctx, fn)
}

// invalidate drops cached views. Failures are logged, not returned: the
// write already committed and a stale entry expires with its TTL.
func (s *Service) invalidate(ctx context.Context, driverIDs ...fleet.DriverID) {
	if s.views == nil {
		return
	}
	ids := uniqueDrivers(driverIDs)
	if len(ids) == 0 {
		return
	}

	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	for _, id := range ids {
		s.viewGen[id]++
	}
	if err := s.views.Invalidate(ctx, ids...); err != nil {
		s.logger.Warn("view invalidation failed", zap.Error(err), zap.Any("drivers", ids))
	}
}

// viewVersion identifies the state a driver view is derived from. Both
// terms only grow, so any invalidation or flush changes the sum.
func (s *Service) viewVersion(driverID fleet.DriverID) uint64 {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	return s.viewEpoch + s.viewGen[driverID]
}

// storeView caches l unless the driver was invalidated after version was read.
func (s *Service) storeView(ctx context.Context, l fleet.Ledger, version uint64) {
	s.viewMu.Lock()
	defer s.viewMu.Unlock()
	if s.viewEpoch+s.viewGen[l.DriverID] != version {
		s.logger.Debug("stale view discarded", zap.String("driver_id", string(l.DriverID)))
		return
	}
	if err := s.views.Put(ctx, l); err != nil {
		s.logger.Warn("view cache write failed", zap.Error(err))
	}
}

func uniqueDrivers(ids []fleet.DriverID) []fleet.DriverID {
	seen := make(map[fleet.DriverID]bool, len(ids))
	var out []fleet.DriverID
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// blocked counts a refused deletion and passes the error through.
func blocked(err error, kind string) error {
	if err != nil {
		metrics.ObserveDeletionBlocked(kind)
	}
	return err
}

func validation(field, message string) error {
	return &fleet.ValidationError{Field: field, Message: message}
}

// Reset removes every record and every cached view.
func (s *Service) Reset(ctx context.Context) error {
	if err := s.write(ctx, func(tx fleet.Store) error { return tx.Reset(ctx) }); err != nil {
		return err
	}
	if s.views != nil {
		s.viewMu.Lock()
		s.viewEpoch++
		if err := s.views.Flush(ctx); err != nil {
			s.logger.Warn("view flush failed", zap.Error(err))
		}
		s.viewMu.Unlock()
	}
	s.logger.Info("store reset")
	return nil
}
