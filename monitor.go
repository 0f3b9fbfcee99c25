package flowctl

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-i2p/go-flowctl/internal"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

// BufferSample is a point-in-time observation of a sink's buffer.
// Immutable once recorded.
type BufferSample struct {
	// Timestamp is when the sample was taken.
	Timestamp time.Time
	// OccupiedBytes is the buffered-but-not-transmitted byte count.
	OccupiedBytes int64
	// CapacityBytes is the sink's declared capacity.
	CapacityBytes int64
	// Utilization is OccupiedBytes/CapacityBytes clamped to [0, 1],
	// zero when capacity is zero.
	Utilization float64
	// Saturated is true when Utilization reached the configured
	// saturation threshold at sample time.
	Saturated bool
}

// MonitorStats holds the monitor's monotonic counters plus the
// max-buffer-observed watermark. Snapshot type, safe to copy.
type MonitorStats struct {
	WriteAttempts     int64
	SaturationEvents  int64
	DrainEvents       int64
	FailedWrites      int64
	BytesWritten      int64
	BytesRead         int64
	MaxBufferObserved int64
	// DroppedEvents counts events discarded because a subscriber's
	// channel was full.
	DroppedEvents int64
}

// BackpressureMonitor passively observes a sink's buffer occupancy over
// time. It classifies saturation against a configured threshold, keeps a
// bounded sample history, and publishes Saturated/Drained events to
// subscribers. The periodic sampler runs on a fixed cadence independent
// of write activity so that buffer state between writes remains visible.
type BackpressureMonitor struct {
	sink   Sink
	config *MonitorConfig
	clk    clock.Clock

	mu          sync.Mutex
	history     *internal.Ring[BufferSample]
	stats       MonitorStats
	subscribers map[chan Event]struct{}
	running     bool
	stopCh      chan struct{}

	wg sync.WaitGroup

	logger *logger.Logger
}

// NewBackpressureMonitor creates a monitor observing the given sink.
// A nil config selects the defaults from NewMonitorConfig. The monitor
// registers itself for the sink's drain notifications; call Start to
// begin periodic sampling.
func NewBackpressureMonitor(sink Sink, config *MonitorConfig) (*BackpressureMonitor, error) {
	return NewBackpressureMonitorWithClock(sink, config, clock.New())
}

// NewBackpressureMonitorWithClock is NewBackpressureMonitor with an
// injected clock, for deterministic cadence in tests.
func NewBackpressureMonitorWithClock(sink Sink, config *MonitorConfig, clk clock.Clock) (*BackpressureMonitor, error) {
	if sink == nil {
		return nil, oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			Errorf("sink cannot be nil")
	}

	if config == nil {
		config = NewMonitorConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			Wrapf(err, "monitor config validation failed")
	}

	m := &BackpressureMonitor{
		sink:        sink,
		config:      config,
		clk:         clk,
		history:     internal.NewRing[BufferSample](config.HistorySize),
		subscribers: make(map[chan Event]struct{}),
		logger:      log,
	}

	sink.NotifyDrain(m.RecordDrain)

	return m, nil
}

// Sample reads the sink's occupancy and capacity, records the derived
// sample in history, and returns it.
func (m *BackpressureMonitor) Sample() BufferSample {
	occupied := m.sink.OccupiedBytes()
	capacity := m.sink.BufferCapacity()

	sample := BufferSample{
		Timestamp:     m.clk.Now(),
		OccupiedBytes: occupied,
		CapacityBytes: capacity,
		Utilization:   utilization(occupied, capacity),
	}
	sample.Saturated = sample.Utilization >= m.config.SaturationThreshold

	m.mu.Lock()
	m.history.Append(sample)
	if occupied > m.stats.MaxBufferObserved {
		m.stats.MaxBufferObserved = occupied
	}
	m.mu.Unlock()

	return sample
}

// IsSaturated returns the saturation flag of the most recent sample if it
// is fresher than the configured staleness bound, otherwise it takes a
// fresh sample first.
func (m *BackpressureMonitor) IsSaturated() bool {
	m.mu.Lock()
	latest, ok := m.history.Latest()
	m.mu.Unlock()

	if ok && m.clk.Now().Sub(latest.Timestamp) < m.config.StalenessBound {
		return latest.Saturated
	}
	return m.Sample().Saturated
}

// RecordWrite updates the monitor's counters for a write attempt. A
// refused write (accepted=false) increments the saturation counter and
// publishes a SaturatedEvent carrying the sink's current occupancy.
func (m *BackpressureMonitor) RecordWrite(bytesAttempted int64, accepted bool) {
	m.mu.Lock()
	m.stats.WriteAttempts++
	if accepted {
		m.stats.BytesWritten += bytesAttempted
		m.mu.Unlock()
		return
	}
	m.stats.SaturationEvents++
	m.mu.Unlock()

	occupied := m.sink.OccupiedBytes()
	capacity := m.sink.BufferCapacity()

	m.mu.Lock()
	if occupied > m.stats.MaxBufferObserved {
		m.stats.MaxBufferObserved = occupied
	}
	m.mu.Unlock()

	m.publish(SaturatedEvent{
		OccupiedBytes: occupied,
		CapacityBytes: capacity,
		Timestamp:     m.clk.Now(),
	})
}

// RecordWriteError counts a write that failed outright, such as a write
// on a closed sink.
func (m *BackpressureMonitor) RecordWriteError() {
	m.mu.Lock()
	m.stats.WriteAttempts++
	m.stats.FailedWrites++
	m.mu.Unlock()
}

// RecordRead accumulates bytes received on the observed connection.
func (m *BackpressureMonitor) RecordRead(n int64) {
	m.mu.Lock()
	m.stats.BytesRead += n
	m.mu.Unlock()
}

// RecordDrain counts a drain notification and publishes a DrainedEvent.
// The monitor registers this with the sink's drain observers itself.
func (m *BackpressureMonitor) RecordDrain() {
	m.mu.Lock()
	m.stats.DrainEvents++
	m.mu.Unlock()

	m.publish(DrainedEvent{
		OccupiedBytes: m.sink.OccupiedBytes(),
		Timestamp:     m.clk.Now(),
	})
}

// History returns the retained samples oldest-first. The returned slice
// is a copy; callers never observe later mutation.
func (m *BackpressureMonitor) History() []BufferSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.Snapshot()
}

// Stats returns a snapshot of the monitor's counters.
func (m *BackpressureMonitor) Stats() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Subscribe returns a channel receiving future Saturated/Drained events.
// Events are dropped, not blocked on, when the channel is full. Callers
// release the subscription with Unsubscribe.
func (m *BackpressureMonitor) Subscribe() <-chan Event {
	ch := make(chan Event, m.config.EventBuffer)
	m.mu.Lock()
	m.subscribers[ch] = struct{}{}
	m.mu.Unlock()
	return ch
}

// Unsubscribe removes the subscription and closes its channel.
func (m *BackpressureMonitor) Unsubscribe(ch <-chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subscribers {
		if sub == ch {
			delete(m.subscribers, sub)
			close(sub)
			return
		}
	}
}

// Start launches the periodic sampler. Calling Start on a running
// monitor is a no-op.
func (m *BackpressureMonitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	stopCh := m.stopCh
	m.mu.Unlock()

	m.wg.Add(1)
	go m.sampleLoop(stopCh)

	m.logger.WithFields(logrus.Fields{
		"interval": m.config.SampleInterval,
	}).Debug("Backpressure sampler started")
}

// Stop cancels the periodic sampler and waits for it to exit. No sampler
// activity occurs after Stop returns. Idempotent.
func (m *BackpressureMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Debug("Backpressure sampler stopped")
}

// sampleLoop runs the fixed-cadence sampling until stopped.
func (m *BackpressureMonitor) sampleLoop(stopCh chan struct{}) {
	defer m.wg.Done()

	ticker := m.clk.Ticker(m.config.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

// publish delivers an event to all subscribers without blocking. Full
// subscriber channels drop the event and increment the dropped counter.
// Sends happen under the lock so a concurrent Unsubscribe cannot close a
// channel mid-delivery.
func (m *BackpressureMonitor) publish(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for sub := range m.subscribers {
		select {
		case sub <- ev:
		default:
			m.stats.DroppedEvents++
		}
	}
}

// utilization computes occupied/capacity clamped to [0, 1], zero when
// capacity is zero.
func utilization(occupied, capacity int64) float64 {
	if capacity <= 0 {
		return 0
	}
	u := float64(occupied) / float64(capacity)
	if u < 0 {
		return 0
	}
	if u > 1 {
		return 1
	}
	return u
}
