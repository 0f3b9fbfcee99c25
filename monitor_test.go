package flowctl

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackpressureMonitorValidation(t *testing.T) {
	_, err := NewBackpressureMonitor(nil, nil)
	require.Error(t, err)

	sink := newMockSink(1000)
	_, err = NewBackpressureMonitor(sink, NewMonitorConfig().WithSaturationThreshold(1.5))
	require.Error(t, err)

	m, err := NewBackpressureMonitor(sink, nil)
	require.NoError(t, err)
	require.NotNil(t, m)
}

func TestMonitorSampleUtilization(t *testing.T) {
	tests := []struct {
		name          string
		occupied      int64
		capacity      int64
		wantUtil      float64
		wantSaturated bool
	}{
		{"empty buffer", 0, 1000, 0.0, false},
		{"half full", 500, 1000, 0.5, false},
		{"at threshold", 800, 1000, 0.8, true},
		{"completely full", 1000, 1000, 1.0, true},
		{"over capacity clamps to one", 1500, 1000, 1.0, true},
		{"zero capacity reads as idle", 100, 0, 0.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := newMockSink(tt.capacity)
			sink.setOccupied(tt.occupied)

			m, err := NewBackpressureMonitor(sink, nil)
			require.NoError(t, err)

			sample := m.Sample()
			assert.InDelta(t, tt.wantUtil, sample.Utilization, 1e-9)
			assert.Equal(t, tt.wantSaturated, sample.Saturated)
			assert.Equal(t, tt.occupied, sample.OccupiedBytes)
			assert.Equal(t, tt.capacity, sample.CapacityBytes)
		})
	}
}

func TestMonitorIsSaturatedStaleness(t *testing.T) {
	mock := clock.NewMock()
	sink := newMockSink(1000)
	sink.setOccupied(900)

	m, err := NewBackpressureMonitorWithClock(sink, nil, mock)
	require.NoError(t, err)

	// No history yet: IsSaturated takes a fresh sample.
	assert.True(t, m.IsSaturated())
	require.Len(t, m.History(), 1)

	// The buffer empties but the sample is still fresh, so the cached
	// answer is served.
	sink.setOccupied(0)
	assert.True(t, m.IsSaturated())
	require.Len(t, m.History(), 1)

	// Past the staleness bound a fresh sample is taken.
	mock.Add(NewMonitorConfig().StalenessBound + time.Millisecond)
	assert.False(t, m.IsSaturated())
	require.Len(t, m.History(), 2)
}

func TestMonitorHistoryBounded(t *testing.T) {
	sink := newMockSink(1000)
	m, err := NewBackpressureMonitor(sink, NewMonitorConfig().WithHistorySize(5))
	require.NoError(t, err)

	for i := 0; i < 12; i++ {
		sink.setOccupied(int64(i * 10))
		m.Sample()
	}

	history := m.History()
	require.Len(t, history, 5)

	// Oldest-first, oldest entries evicted.
	for i, sample := range history {
		assert.Equal(t, int64((7+i)*10), sample.OccupiedBytes)
	}
}

func TestMonitorRecordWrite(t *testing.T) {
	sink := newMockSink(1000)
	m, err := NewBackpressureMonitor(sink, nil)
	require.NoError(t, err)

	m.RecordWrite(100, true)
	m.RecordWrite(50, true)
	m.RecordWrite(25, false)
	m.RecordWriteError()
	m.RecordRead(40)

	stats := m.Stats()
	assert.Equal(t, int64(4), stats.WriteAttempts)
	assert.Equal(t, int64(150), stats.BytesWritten, "refused bytes are not counted as written")
	assert.Equal(t, int64(1), stats.SaturationEvents)
	assert.Equal(t, int64(1), stats.FailedWrites)
	assert.Equal(t, int64(40), stats.BytesRead)
}

func TestMonitorMaxBufferObserved(t *testing.T) {
	sink := newMockSink(1000)
	m, err := NewBackpressureMonitor(sink, nil)
	require.NoError(t, err)

	sink.setOccupied(300)
	m.Sample()
	sink.setOccupied(700)
	m.Sample()
	sink.setOccupied(200)
	m.Sample()

	assert.Equal(t, int64(700), m.Stats().MaxBufferObserved)
}

func TestMonitorPublishesEvents(t *testing.T) {
	sink := newMockSink(1000)
	m, err := NewBackpressureMonitor(sink, nil)
	require.NoError(t, err)

	events := m.Subscribe()

	sink.setOccupied(950)
	m.RecordWrite(10, false)

	select {
	case ev := <-events:
		sat, ok := ev.(SaturatedEvent)
		require.True(t, ok, "refused write publishes a SaturatedEvent")
		assert.Equal(t, int64(950), sat.OccupiedBytes)
		assert.Equal(t, int64(1000), sat.CapacityBytes)
	case <-time.After(time.Second):
		t.Fatal("no event after refused write")
	}

	sink.setOccupied(100)
	sink.fireDrain()

	select {
	case ev := <-events:
		drained, ok := ev.(DrainedEvent)
		require.True(t, ok, "drain notification publishes a DrainedEvent")
		assert.Equal(t, int64(100), drained.OccupiedBytes)
	case <-time.After(time.Second):
		t.Fatal("no event after drain")
	}

	m.Unsubscribe(events)

	// Unsubscribe closes the channel.
	_, open := <-events
	assert.False(t, open)
}

func TestMonitorDropsEventsWhenSubscriberFull(t *testing.T) {
	sink := newMockSink(1000)
	m, err := NewBackpressureMonitor(sink, NewMonitorConfig().WithEventBuffer(1))
	require.NoError(t, err)

	events := m.Subscribe()

	sink.setOccupied(950)
	m.RecordWrite(10, false)
	m.RecordWrite(10, false)
	m.RecordWrite(10, false)

	assert.Equal(t, int64(2), m.Stats().DroppedEvents)
	assert.Len(t, events, 1)
	m.Unsubscribe(events)
}

func TestMonitorPeriodicSampling(t *testing.T) {
	mock := clock.NewMock()
	sink := newMockSink(1000)

	config := NewMonitorConfig().WithSampleInterval(100 * time.Millisecond)
	m, err := NewBackpressureMonitorWithClock(sink, config, mock)
	require.NoError(t, err)

	m.Start()
	m.Start() // second Start is a no-op

	// Let the sampler goroutine set up its ticker before moving the clock.
	time.Sleep(10 * time.Millisecond)

	sink.setOccupied(400)
	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool {
		return len(m.History()) == 1
	}, time.Second, time.Millisecond)

	sink.setOccupied(600)
	mock.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool {
		return len(m.History()) == 2
	}, time.Second, time.Millisecond)

	history := m.History()
	assert.Equal(t, int64(400), history[0].OccupiedBytes)
	assert.Equal(t, int64(600), history[1].OccupiedBytes)

	m.Stop()
	m.Stop() // second Stop is a no-op

	// No sampler activity after Stop.
	mock.Add(time.Second)
	assert.Len(t, m.History(), 2)
}
