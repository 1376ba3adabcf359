// Package metrics exposes Prometheus collectors for snapshot writes, purges and queued tasks.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the versioning engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Snapshots written by owner type
	SnapshotsWritten *prometheus.CounterVec

	// Mutations that did not produce a snapshot, by owner type and skip reason
	SnapshotsSkipped *prometheus.CounterVec

	// Failed writes by owner type and stage (capture, encode, append, enqueue)
	WriteFailures *prometheus.CounterVec

	// Rows removed by retention purge, by owner type
	SnapshotsPurged *prometheus.CounterVec

	// Duration of a full write including purge
	WriteLatency *prometheus.HistogramVec

	// Queued task outcomes: done, retry, dead_letter
	TaskOutcomes *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// A nil reg creates unregistered collectors, which tests use to avoid
// duplicate registration on the default registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SnapshotsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "versionable_snapshots_written_total",
			Help: "Total snapshots written by owner type",
		}, []string{"owner_type"}),

		SnapshotsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "versionable_snapshots_skipped_total",
			Help: "Total saves that did not produce a snapshot, by owner type and reason",
		}, []string{"owner_type", "reason"}),

		WriteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "versionable_write_failures_total",
			Help: "Total failed snapshot writes by owner type and stage",
		}, []string{"owner_type", "stage"}),

		SnapshotsPurged: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "versionable_snapshots_purged_total",
			Help: "Total snapshots removed by retention purge",
		}, []string{"owner_type"}),

		WriteLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "versionable_write_duration_seconds",
			Help:    "Duration of snapshot writes including retention purge",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"owner_type"}),

		TaskOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "versionable_task_outcomes_total",
			Help: "Total queued snapshot task outcomes",
		}, []string{"outcome"}),
	}
}

// IncrementWritten records a stored snapshot.
func (m *Metrics) IncrementWritten(ownerType string) {
	if m != nil {
		m.SnapshotsWritten.WithLabelValues(ownerType).Inc()
	}
}

// IncrementSkipped records a save the policy declined.
func (m *Metrics) IncrementSkipped(ownerType, reason string) {
	if m != nil {
		m.SnapshotsSkipped.WithLabelValues(ownerType, reason).Inc()
	}
}

// IncrementFailure records a failed write stage.
func (m *Metrics) IncrementFailure(ownerType, stage string) {
	if m != nil {
		m.WriteFailures.WithLabelValues(ownerType, stage).Inc()
	}
}

// AddPurged records rows removed by retention.
func (m *Metrics) AddPurged(ownerType string, n int) {
	if m != nil && n > 0 {
		m.SnapshotsPurged.WithLabelValues(ownerType).Add(float64(n))
	}
}

// ObserveWriteLatency records the duration of one write.
func (m *Metrics) ObserveWriteLatency(ownerType string, d time.Duration) {
	if m != nil {
		m.WriteLatency.WithLabelValues(ownerType).Observe(d.Seconds())
	}
}

// IncrementTaskOutcome records how a queued task finished an attempt.
func (m *Metrics) IncrementTaskOutcome(outcome string) {
	if m != nil {
		m.TaskOutcomes.WithLabelValues(outcome).Inc()
	}
}
