// Package metrics exposes flowctl monitor and pool statistics as
// Prometheus metrics. The collector reads stats snapshots at scrape
// time; it never mutates or blocks the core components.
package metrics

import (
	"sync"

	"github.com/go-i2p/go-flowctl"
	"github.com/go-i2p/go-flowctl/pool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStatser yields a pool statistics snapshot.
type PoolStatser interface {
	Stats() pool.Stats
}

// MonitorStatser yields a monitor statistics snapshot.
type MonitorStatser interface {
	Stats() flowctl.MonitorStats
}

// Collector implements prometheus.Collector over registered pools and
// monitors. Each is identified by a name label.
type Collector struct {
	mu       sync.RWMutex
	pools    map[string]PoolStatser
	monitors map[string]MonitorStatser

	poolAcquired   *prometheus.Desc
	poolReused     *prometheus.Desc
	poolCreated    *prometheus.Desc
	poolDestroyed  *prometheus.Desc
	poolTimeouts   *prometheus.Desc
	poolFailures   *prometheus.Desc
	poolReuseRate  *prometheus.Desc
	poolAvailable  *prometheus.Desc
	poolInUse      *prometheus.Desc
	poolWaiting    *prometheus.Desc
	monWrites      *prometheus.Desc
	monSaturations *prometheus.Desc
	monDrains      *prometheus.Desc
	monFailed      *prometheus.Desc
	monBytesOut    *prometheus.Desc
	monBytesIn     *prometheus.Desc
	monMaxBuffer   *prometheus.Desc
}

// NewCollector creates an empty collector with the given metric
// namespace.
func NewCollector(namespace string) *Collector {
	poolLabels := []string{"pool"}
	monLabels := []string{"monitor"}

	return &Collector{
		pools:    make(map[string]PoolStatser),
		monitors: make(map[string]MonitorStatser),

		poolAcquired: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "acquired_total"),
			"Total successful connection acquisitions", poolLabels, nil),
		poolReused: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "reused_total"),
			"Acquisitions satisfied from the available set", poolLabels, nil),
		poolCreated: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "created_total"),
			"Connections established by the pool", poolLabels, nil),
		poolDestroyed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "destroyed_total"),
			"Connections closed by the pool", poolLabels, nil),
		poolTimeouts: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "acquire_timeouts_total"),
			"Acquires that failed after the timeout", poolLabels, nil),
		poolFailures: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "establish_failures_total"),
			"Connection establishment failures", poolLabels, nil),
		poolReuseRate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "reuse_rate"),
			"Reused connections over created connections", poolLabels, nil),
		poolAvailable: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "available"),
			"Connections idle in the available set", poolLabels, nil),
		poolInUse: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "in_use"),
			"Connections currently handed out", poolLabels, nil),
		poolWaiting: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "waiting"),
			"Acquirers queued for a slot", poolLabels, nil),

		monWrites: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "monitor", "write_attempts_total"),
			"Write attempts observed", monLabels, nil),
		monSaturations: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "monitor", "saturation_events_total"),
			"Writes refused by a saturated sink", monLabels, nil),
		monDrains: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "monitor", "drain_events_total"),
			"Drain notifications observed", monLabels, nil),
		monFailed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "monitor", "failed_writes_total"),
			"Writes that failed outright", monLabels, nil),
		monBytesOut: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "monitor", "bytes_written_total"),
			"Bytes accepted for transmission", monLabels, nil),
		monBytesIn: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "monitor", "bytes_read_total"),
			"Bytes received on the observed connection", monLabels, nil),
		monMaxBuffer: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "monitor", "max_buffer_observed_bytes"),
			"High watermark of observed buffer occupancy", monLabels, nil),
	}
}

// RegisterPool adds a pool under the given name label.
func (c *Collector) RegisterPool(name string, p PoolStatser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools[name] = p
}

// RegisterMonitor adds a monitor under the given name label.
func (c *Collector) RegisterMonitor(name string, m MonitorStatser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.monitors[name] = m
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.poolAcquired
	ch <- c.poolReused
	ch <- c.poolCreated
	ch <- c.poolDestroyed
	ch <- c.poolTimeouts
	ch <- c.poolFailures
	ch <- c.poolReuseRate
	ch <- c.poolAvailable
	ch <- c.poolInUse
	ch <- c.poolWaiting
	ch <- c.monWrites
	ch <- c.monSaturations
	ch <- c.monDrains
	ch <- c.monFailed
	ch <- c.monBytesOut
	ch <- c.monBytesIn
	ch <- c.monMaxBuffer
}

// Collect implements prometheus.Collector by snapshotting every
// registered source.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for name, p := range c.pools {
		s := p.Stats()
		ch <- prometheus.MustNewConstMetric(c.poolAcquired, prometheus.CounterValue, float64(s.Acquired), name)
		ch <- prometheus.MustNewConstMetric(c.poolReused, prometheus.CounterValue, float64(s.Reused), name)
		ch <- prometheus.MustNewConstMetric(c.poolCreated, prometheus.CounterValue, float64(s.Created), name)
		ch <- prometheus.MustNewConstMetric(c.poolDestroyed, prometheus.CounterValue, float64(s.Destroyed), name)
		ch <- prometheus.MustNewConstMetric(c.poolTimeouts, prometheus.CounterValue, float64(s.Timeouts), name)
		ch <- prometheus.MustNewConstMetric(c.poolFailures, prometheus.CounterValue, float64(s.Failures), name)
		ch <- prometheus.MustNewConstMetric(c.poolReuseRate, prometheus.GaugeValue, s.ReuseRate(), name)
		ch <- prometheus.MustNewConstMetric(c.poolAvailable, prometheus.GaugeValue, float64(s.Available), name)
		ch <- prometheus.MustNewConstMetric(c.poolInUse, prometheus.GaugeValue, float64(s.InUse), name)
		ch <- prometheus.MustNewConstMetric(c.poolWaiting, prometheus.GaugeValue, float64(s.Waiting), name)
	}

	for name, m := range c.monitors {
		s := m.Stats()
		ch <- prometheus.MustNewConstMetric(c.monWrites, prometheus.CounterValue, float64(s.WriteAttempts), name)
		ch <- prometheus.MustNewConstMetric(c.monSaturations, prometheus.CounterValue, float64(s.SaturationEvents), name)
		ch <- prometheus.MustNewConstMetric(c.monDrains, prometheus.CounterValue, float64(s.DrainEvents), name)
		ch <- prometheus.MustNewConstMetric(c.monFailed, prometheus.CounterValue, float64(s.FailedWrites), name)
		ch <- prometheus.MustNewConstMetric(c.monBytesOut, prometheus.CounterValue, float64(s.BytesWritten), name)
		ch <- prometheus.MustNewConstMetric(c.monBytesIn, prometheus.CounterValue, float64(s.BytesRead), name)
		ch <- prometheus.MustNewConstMetric(c.monMaxBuffer, prometheus.GaugeValue, float64(s.MaxBufferObserved), name)
	}
}
