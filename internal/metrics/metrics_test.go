package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.IncrementWritten("user")
	m.IncrementSkipped("user", "empty")
	m.IncrementFailure("user", "append")
	m.AddPurged("user", 3)
	m.ObserveWriteLatency("user", time.Millisecond)
	m.IncrementTaskOutcome("done")
}

func TestCounters(t *testing.T) {
	m := New(nil)

	m.IncrementWritten("user")
	m.IncrementWritten("user")
	m.IncrementSkipped("user", "housekeeping_only")
	m.AddPurged("user", 2)
	m.AddPurged("user", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SnapshotsWritten.WithLabelValues("user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotsSkipped.WithLabelValues("user", "housekeeping_only")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SnapshotsPurged.WithLabelValues("user")))
}

func TestRegistersWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.IncrementTaskOutcome("done")

	n, err := testutil.GatherAndCount(reg, "versionable_task_outcomes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
