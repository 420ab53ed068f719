/*
Package metrics exposes Prometheus collectors for the fleet ledger.

PURPOSE:
  Counts what the service decides (transitions, ledger appends, blocked
  deletions) and times how long derivations take. Collectors are registered
  once on the default registry; every observer is a no-op before Init so
  tests and tools can use the service without touching Prometheus.

METRICS:
  fleet_trip_transitions_total{from,to,result}
  fleet_ledger_appends_total{result}         appended | duplicate
  fleet_deletions_blocked_total{kind}
  fleet_derivation_seconds{view}             driver_ledger | trip_settlement | fleet_settlement | invoice_resync
  fleet_view_cache_total{result}             hit | miss | error
*/
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "fleet_"

	ResultOK       = "ok"
	ResultRejected = "rejected"

	AppendAppended  = "appended"
	AppendDuplicate = "duplicate"

	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

var (
	registerOnce sync.Once

	tripTransitions   *prometheus.CounterVec
	ledgerAppends     *prometheus.CounterVec
	deletionsBlocked  *prometheus.CounterVec
	derivationLatency *prometheus.HistogramVec
	viewCache         *prometheus.CounterVec
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		tripTransitions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "trip_transitions_total",
				Help: "Trip status transition requests by source, target and result",
			},
			[]string{"from", "to", "result"},
		)
		ledgerAppends = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ledger_appends_total",
				Help: "Completion ledger appends by result",
			},
			[]string{"result"},
		)
		deletionsBlocked = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "deletions_blocked_total",
				Help: "Deletions refused because the record is still referenced",
			},
			[]string{"kind"},
		)
		derivationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "derivation_seconds",
				Help:    "Time spent deriving a financial view",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"view"},
		)
		viewCache = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "view_cache_total",
				Help: "Materialized view cache lookups by result",
			},
			[]string{"result"},
		)

		prometheus.MustRegister(
			tripTransitions,
			ledgerAppends,
			deletionsBlocked,
			derivationLatency,
			viewCache,
		)
	})
}

func ObserveTransition(from, to, result string) {
	if tripTransitions == nil {
		return
	}
	tripTransitions.WithLabelValues(from, to, result).Inc()
}

func ObserveLedgerAppend(result string) {
	if ledgerAppends == nil {
		return
	}
	ledgerAppends.WithLabelValues(result).Inc()
}

func ObserveDeletionBlocked(kind string) {
	if deletionsBlocked == nil {
		return
	}
	deletionsBlocked.WithLabelValues(kind).Inc()
}

// ObserveDerivation records the time elapsed since start.
func ObserveDerivation(view string, start time.Time) {
	if derivationLatency == nil {
		return
	}
	derivationLatency.WithLabelValues(view).Observe(time.Since(start).Seconds())
}

func ObserveViewCache(result string) {
	if viewCache == nil {
		return
	}
	viewCache.WithLabelValues(result).Inc()
}
