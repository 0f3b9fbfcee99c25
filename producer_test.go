package flowctl

import (
	"bytes"
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// producerFixture wires a producer over a mock sink with a generous
// nominal rate so pacing never dominates test time.
func producerFixture(t *testing.T, nominal float64) (*mockSink, *BackpressureMonitor, *Producer) {
	t.Helper()

	sink := newMockSink(1 << 20)
	w, err := NewFlowControlledWriter(sink)
	require.NoError(t, err)

	m, err := NewBackpressureMonitor(sink, nil)
	require.NoError(t, err)

	p, err := NewProducer(w, m, NewAIMDConfig(nominal))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	return sink, m, p
}

func TestNewProducerValidation(t *testing.T) {
	sink := newMockSink(1024)
	w, err := NewFlowControlledWriter(sink)
	require.NoError(t, err)
	m, err := NewBackpressureMonitor(sink, nil)
	require.NoError(t, err)

	_, err = NewProducer(nil, m, NewAIMDConfig(1000))
	require.Error(t, err)

	_, err = NewProducer(w, nil, NewAIMDConfig(1000))
	require.Error(t, err)

	_, err = NewProducer(w, m, nil)
	require.Error(t, err)
}

func TestProducerSendsInOrder(t *testing.T) {
	sink, m, p := producerFixture(t, 1<<20)

	ctx := context.Background()
	require.NoError(t, p.Send(ctx, []byte("one")))
	require.NoError(t, p.Send(ctx, []byte("two")))
	require.NoError(t, p.Send(ctx, []byte("three")))
	require.NoError(t, p.Send(ctx, nil), "empty payload is a no-op")

	sink.mu.Lock()
	sent := sink.sent
	sink.mu.Unlock()

	require.Len(t, sent, 3)
	assert.True(t, bytes.Equal(sent[0], []byte("one")))
	assert.True(t, bytes.Equal(sent[1], []byte("two")))
	assert.True(t, bytes.Equal(sent[2], []byte("three")))

	assert.Equal(t, int64(3), m.Stats().WriteAttempts)
	assert.Equal(t, int64(11), m.Stats().BytesWritten)
}

func TestProducerRetriesAfterDrain(t *testing.T) {
	sink, m, p := producerFixture(t, 1<<20)

	sink.setRefuse(true)

	// Release the producer after a short hold, firing drains until the
	// send lands so the retry cannot miss the notification.
	done := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		sink.setRefuse(false)
		for {
			select {
			case <-done:
				return
			default:
				sink.fireDrain()
				time.Sleep(5 * time.Millisecond)
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, p.Send(ctx, []byte("delayed payload")))
	close(done)

	sink.mu.Lock()
	sent := sink.sent
	sink.mu.Unlock()

	require.Len(t, sent, 1, "payload submitted exactly once despite the retry")
	assert.True(t, bytes.Equal(sent[0], []byte("delayed payload")))
	assert.GreaterOrEqual(t, m.Stats().SaturationEvents, int64(1))
}

func TestProducerSendContextCancelled(t *testing.T) {
	sink, _, p := producerFixture(t, 1<<20)

	sink.setRefuse(true)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := p.Send(ctx, []byte("never lands"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestProducerSendClosedSink(t *testing.T) {
	sink, m, p := producerFixture(t, 1<<20)

	require.NoError(t, sink.Close())

	err := p.Send(context.Background(), []byte("too late"))
	require.Error(t, err)
	assert.True(t, IsSinkClosed(err))
	assert.Equal(t, int64(1), m.Stats().FailedWrites)
}

func TestProducerRateFollowsEvents(t *testing.T) {
	sink, m, p := producerFixture(t, 1000)

	require.Equal(t, 1000.0, p.Rate())

	// A refused write publishes a SaturatedEvent; the adjust loop halves
	// the rate.
	sink.setOccupied(950)
	m.RecordWrite(10, false)
	require.Eventually(t, func() bool {
		return p.Rate() == 500.0
	}, time.Second, time.Millisecond)

	// A drain raises it back by the increase factor.
	sink.fireDrain()
	require.Eventually(t, func() bool {
		return math.Abs(p.Rate()-600.0) < 1e-6
	}, time.Second, time.Millisecond)
}

func TestProducerRejectsOversizedPayload(t *testing.T) {
	sink := newMockSink(1024)
	w, err := NewFlowControlledWriter(sink)
	require.NoError(t, err)
	m, err := NewBackpressureMonitor(sink, nil)
	require.NoError(t, err)
	p, err := NewProducer(w, m, NewAIMDConfig(1<<20))
	require.NoError(t, err)
	defer p.Close()

	// No context deadline: a payload that can never fit must fail right
	// away instead of waiting for a drain that cannot help.
	err = p.Send(context.Background(), make([]byte, 2048))
	require.Error(t, err)
	assert.True(t, IsPayloadTooLarge(err))
	assert.Equal(t, int64(0), m.Stats().WriteAttempts, "rejected payload never reaches the sink")

	// A payload that exactly fits is still fine.
	require.NoError(t, p.Send(context.Background(), make([]byte, 1024)))
}

func TestProducerCloseIdempotent(t *testing.T) {
	_, _, p := producerFixture(t, 1000)
	p.Close()
	p.Close()
}

func TestProducerPacesLargePayloads(t *testing.T) {
	// Burst equals the nominal rate, so a payload larger than the burst
	// is split across limiter waits and still lands intact.
	sink, _, p := producerFixture(t, 1<<20)

	payload := make([]byte, (1<<20)+512)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Send(ctx, payload))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.sent, 1)
	assert.Len(t, sink.sent[0], len(payload))
}
