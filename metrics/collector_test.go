package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/go-flowctl"
	"github.com/go-i2p/go-flowctl/pool"
)

type fakePoolStats struct{ stats pool.Stats }

func (f fakePoolStats) Stats() pool.Stats { return f.stats }

type fakeMonitorStats struct{ stats flowctl.MonitorStats }

func (f fakeMonitorStats) Stats() flowctl.MonitorStats { return f.stats }

func TestCollectorRegistersCleanly(t *testing.T) {
	c := NewCollector("flowctl")
	registry := prometheus.NewPedanticRegistry()
	require.NoError(t, registry.Register(c))

	// Empty collector scrapes without error.
	families, err := registry.Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
}

func TestCollectorExportsPoolStats(t *testing.T) {
	c := NewCollector("flowctl")
	c.RegisterPool("primary", fakePoolStats{stats: pool.Stats{
		Acquired:  10,
		Reused:    6,
		Created:   3,
		Destroyed: 1,
		Timeouts:  2,
		Failures:  1,
		Available: 2,
		InUse:     1,
		Waiting:   4,
	}})

	expected := `
# HELP flowctl_pool_acquired_total Total successful connection acquisitions
# TYPE flowctl_pool_acquired_total counter
flowctl_pool_acquired_total{pool="primary"} 10
# HELP flowctl_pool_reused_total Acquisitions satisfied from the available set
# TYPE flowctl_pool_reused_total counter
flowctl_pool_reused_total{pool="primary"} 6
# HELP flowctl_pool_reuse_rate Reused connections over created connections
# TYPE flowctl_pool_reuse_rate gauge
flowctl_pool_reuse_rate{pool="primary"} 2
# HELP flowctl_pool_waiting Acquirers queued for a slot
# TYPE flowctl_pool_waiting gauge
flowctl_pool_waiting{pool="primary"} 4
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"flowctl_pool_acquired_total",
		"flowctl_pool_reused_total",
		"flowctl_pool_reuse_rate",
		"flowctl_pool_waiting",
	))
}

func TestCollectorExportsMonitorStats(t *testing.T) {
	c := NewCollector("flowctl")
	c.RegisterMonitor("uplink", fakeMonitorStats{stats: flowctl.MonitorStats{
		WriteAttempts:     100,
		SaturationEvents:  7,
		DrainEvents:       5,
		FailedWrites:      1,
		BytesWritten:      4096,
		BytesRead:         512,
		MaxBufferObserved: 2048,
	}})

	expected := `
# HELP flowctl_monitor_write_attempts_total Write attempts observed
# TYPE flowctl_monitor_write_attempts_total counter
flowctl_monitor_write_attempts_total{monitor="uplink"} 100
# HELP flowctl_monitor_saturation_events_total Writes refused by a saturated sink
# TYPE flowctl_monitor_saturation_events_total counter
flowctl_monitor_saturation_events_total{monitor="uplink"} 7
# HELP flowctl_monitor_max_buffer_observed_bytes High watermark of observed buffer occupancy
# TYPE flowctl_monitor_max_buffer_observed_bytes gauge
flowctl_monitor_max_buffer_observed_bytes{monitor="uplink"} 2048
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"flowctl_monitor_write_attempts_total",
		"flowctl_monitor_saturation_events_total",
		"flowctl_monitor_max_buffer_observed_bytes",
	))
}

func TestCollectorMultipleSources(t *testing.T) {
	c := NewCollector("flowctl")
	c.RegisterPool("east", fakePoolStats{stats: pool.Stats{Acquired: 1}})
	c.RegisterPool("west", fakePoolStats{stats: pool.Stats{Acquired: 2}})

	count := testutil.CollectAndCount(c, "flowctl_pool_acquired_total")
	assert.Equal(t, 2, count, "one series per registered pool")
}
