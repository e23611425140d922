// Package metrics exposes Prometheus collectors for the channel registry and
// the relay server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "collab"
)

// Registry holds the channel registry collectors. A nil *Registry is valid
// and records nothing.
type Registry struct {
	// Migrations counts Migrate calls that installed a new current entry
	Migrations prometheus.Counter

	// Transitions counts entry state transitions
	Transitions *prometheus.CounterVec

	// Entries tracks live entries per state
	Entries *prometheus.GaugeVec

	// SettleDuration measures the time from entry creation to active
	SettleDuration prometheus.Histogram

	// SettleTimeouts counts settle timers that elapsed before the entry became active
	SettleTimeouts prometheus.Counter

	// Settlements counts finished migrations by outcome
	Settlements *prometheus.CounterVec

	// CleanupFailures counts collaborator Destroy calls that failed or panicked
	CleanupFailures *prometheus.CounterVec
}

// NewRegistry creates the registry collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default handler.
func NewRegistry(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	return &Registry{
		Migrations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "migrations_total",
			Help:      "Total number of channel migrations started",
		}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "transitions_total",
			Help:      "Total number of channel entry state transitions",
		}, []string{"from", "to"}),
		Entries: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "entries",
			Help:      "Number of live channel entries by state",
		}, []string{"state"}),
		SettleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "settle_duration_seconds",
			Help:      "Time from entry creation until the entry became active",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		SettleTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "settle_timeouts_total",
			Help:      "Total number of settle timers that elapsed before sync completed",
		}),
		Settlements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "settlements_total",
			Help:      "Total number of finished migrations by outcome",
		}, []string{"outcome"}), // outcome: resolved/superseded/destroyed/failed
		CleanupFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "cleanup_failures_total",
			Help:      "Total number of collaborator destroy calls that failed",
		}, []string{"resource"}), // resource: transport/document/presence
	}
}

func (m *Registry) RecordMigration() {
	if m == nil {
		return
	}
	m.Migrations.Inc()
}

// RecordCreated accounts for a new entry in its initial state.
func (m *Registry) RecordCreated(state string) {
	if m == nil {
		return
	}
	m.Entries.WithLabelValues(state).Inc()
}

// RecordTransition moves one entry from one state gauge to another.
// Entries reaching the terminal state leave the gauge.
func (m *Registry) RecordTransition(from, to string, terminal bool) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
	m.Entries.WithLabelValues(from).Dec()
	if !terminal {
		m.Entries.WithLabelValues(to).Inc()
	}
}

func (m *Registry) RecordSettled(d time.Duration) {
	if m == nil {
		return
	}
	m.SettleDuration.Observe(d.Seconds())
}

func (m *Registry) RecordSettleTimeout() {
	if m == nil {
		return
	}
	m.SettleTimeouts.Inc()
}

func (m *Registry) RecordSettlement(outcome string) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(outcome).Inc()
}

func (m *Registry) RecordCleanupFailure(resource string) {
	if m == nil {
		return
	}
	m.CleanupFailures.WithLabelValues(resource).Inc()
}
