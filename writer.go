package flowctl

import (
	"context"
	"sync"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

// WriteResult reports the outcome of a single flow-controlled write.
// Accepted is false when the sink signaled saturation; the caller must
// stop sending until a drain notification arrives.
type WriteResult struct {
	Accepted bool
}

// WriterStats holds the writer's monotonic counters. Snapshot type,
// safe to copy.
type WriterStats struct {
	// WriteAttempts counts every Write call, accepted or not.
	WriteAttempts int64
	// BytesSubmitted accumulates the payload bytes of every attempt.
	BytesSubmitted int64
	// SaturationEvents counts writes the sink did not accept.
	SaturationEvents int64
	// FailedWrites counts writes rejected with an error.
	FailedWrites int64
}

// drainWaiter is a one-shot drain registration.
type drainWaiter struct {
	fn func()
}

// FlowControlledWriter decorates a Sink with write accounting and drain
// notification plumbing. It never patches or replaces the sink; all
// behavior is added by composition around the injected handle.
type FlowControlledWriter struct {
	sink Sink

	mu      sync.Mutex
	stats   WriterStats
	oneShot []*drainWaiter

	logger *logger.Logger
}

// NewFlowControlledWriter wraps the given sink.
func NewFlowControlledWriter(sink Sink) (*FlowControlledWriter, error) {
	if sink == nil {
		return nil, oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			Errorf("sink cannot be nil")
	}

	w := &FlowControlledWriter{
		sink:   sink,
		logger: log,
	}
	sink.NotifyDrain(w.handleDrain)
	return w, nil
}

// Write hands payload to the sink and reports whether it was accepted.
// Accepted=false means the sink is saturated and the caller should wait
// for a drain notification before writing again. A write on a closed
// sink fails with a SINK_CLOSED error and buffers nothing.
func (w *FlowControlledWriter) Write(payload []byte) (WriteResult, error) {
	w.mu.Lock()
	w.stats.WriteAttempts++
	w.stats.BytesSubmitted += int64(len(payload))
	w.mu.Unlock()

	accepted, err := w.sink.Send(payload)
	if err != nil {
		w.mu.Lock()
		w.stats.FailedWrites++
		w.mu.Unlock()
		return WriteResult{}, err
	}

	if !accepted {
		w.mu.Lock()
		w.stats.SaturationEvents++
		saturations := w.stats.SaturationEvents
		w.mu.Unlock()

		w.logger.WithFields(logrus.Fields{
			"payload_len": len(payload),
			"occupied":    w.sink.OccupiedBytes(),
			"capacity":    w.sink.BufferCapacity(),
			"saturations": saturations,
		}).Debug("Write not accepted, sink saturated")
	}

	return WriteResult{Accepted: accepted}, nil
}

// OnDrain registers fn to run when the sink drains. With persistent=true
// the registration survives and fires once per saturation episode; with
// persistent=false it fires for the next drain only and is then
// discarded.
func (w *FlowControlledWriter) OnDrain(fn func(), persistent bool) {
	if fn == nil {
		return
	}
	if persistent {
		w.sink.NotifyDrain(fn)
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.oneShot = append(w.oneShot, &drainWaiter{fn: fn})
}

// AwaitDrain blocks until the sink's next drain notification or until the
// context is done, whichever comes first.
func (w *FlowControlledWriter) AwaitDrain(ctx context.Context) error {
	drained := make(chan struct{})
	w.OnDrain(func() { close(drained) }, false)

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the writer's counters.
func (w *FlowControlledWriter) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Sink returns the wrapped sink handle.
func (w *FlowControlledWriter) Sink() Sink {
	return w.sink
}

// handleDrain dispatches the sink's drain signal to one-shot waiters.
func (w *FlowControlledWriter) handleDrain() {
	w.mu.Lock()
	waiters := w.oneShot
	w.oneShot = nil
	w.mu.Unlock()

	for _, waiter := range waiters {
		waiter.fn()
	}
}
