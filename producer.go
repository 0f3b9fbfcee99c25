package flowctl

import (
	"context"
	"sync"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Producer drives a FlowControlledWriter at an adaptively controlled
// rate. Submission is paced by a token-bucket limiter whose limit is
// retuned by the AIMD controller: each SaturatedEvent from the monitor
// cuts the rate, each DrainedEvent raises it back toward nominal. When
// the sink refuses a write the producer suspends until the next drain
// notification, then resubmits.
type Producer struct {
	writer  *FlowControlledWriter
	monitor *BackpressureMonitor
	ctrl    *AIMDController
	limiter *rate.Limiter
	burst   int

	events <-chan Event
	wg     sync.WaitGroup
	once   sync.Once

	logger *logger.Logger
}

// NewProducer wires a producer over the given writer and monitor with
// the given rate policy. The producer subscribes to the monitor's events
// and keeps retuning its limiter until Close is called.
func NewProducer(writer *FlowControlledWriter, monitor *BackpressureMonitor, config *AIMDConfig) (*Producer, error) {
	if writer == nil || monitor == nil {
		return nil, oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			Errorf("writer and monitor cannot be nil")
	}

	ctrl, err := NewAIMDController(config)
	if err != nil {
		return nil, err
	}

	p := &Producer{
		writer:  writer,
		monitor: monitor,
		ctrl:    ctrl,
		limiter: rate.NewLimiter(rate.Limit(config.NominalRate), config.Burst),
		burst:   config.Burst,
		events:  monitor.Subscribe(),
		logger:  log,
	}

	p.wg.Add(1)
	go p.adjustLoop()

	return p, nil
}

// Send submits payload through the flow-controlled writer, pacing to the
// current adaptive rate. If the sink refuses the write, Send suspends
// until the sink drains and then retries; cancellation of ctx aborts the
// wait. A payload larger than the sink's buffer capacity can never be
// accepted and fails immediately with PAYLOAD_TOO_LARGE instead of
// waiting for a drain that cannot help. Submission order on a single
// producer is preserved.
func (p *Producer) Send(ctx context.Context, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}

	if capacity := p.writer.Sink().BufferCapacity(); int64(len(payload)) > capacity {
		return oops.
			Code(CodePayloadTooLarge).
			In("flowctl").
			With("payload_len", len(payload)).
			With("capacity", capacity).
			Errorf("payload exceeds sink buffer capacity")
	}

	for {
		if err := p.waitTokens(ctx, len(payload)); err != nil {
			return err
		}

		res, err := p.writer.Write(payload)
		if err != nil {
			p.monitor.RecordWriteError()
			return err
		}
		p.monitor.RecordWrite(int64(len(payload)), res.Accepted)

		if res.Accepted {
			return nil
		}

		if err := p.writer.AwaitDrain(ctx); err != nil {
			return err
		}
	}
}

// Rate returns the current adaptive send rate in bytes per second.
func (p *Producer) Rate() float64 {
	return p.ctrl.Rate()
}

// Close detaches the producer from the monitor's event stream and stops
// rate adjustment. Idempotent. The writer and monitor remain usable.
func (p *Producer) Close() {
	p.once.Do(func() {
		p.monitor.Unsubscribe(p.events)
	})
	p.wg.Wait()
}

// waitTokens reserves n bytes worth of tokens, splitting requests larger
// than the configured burst.
func (p *Producer) waitTokens(ctx context.Context, n int) error {
	for n > 0 {
		take := n
		if take > p.burst {
			take = p.burst
		}
		if err := p.limiter.WaitN(ctx, take); err != nil {
			return err
		}
		n -= take
	}
	return nil
}

// adjustLoop consumes monitor events and retunes the limiter until the
// subscription closes.
func (p *Producer) adjustLoop() {
	defer p.wg.Done()

	for ev := range p.events {
		switch ev.(type) {
		case SaturatedEvent:
			newRate := p.ctrl.OnSaturated()
			p.limiter.SetLimit(rate.Limit(newRate))
		case DrainedEvent:
			newRate := p.ctrl.OnDrained()
			p.limiter.SetLimit(rate.Limit(newRate))
		default:
			p.logger.WithFields(logrus.Fields{
				"event": ev,
			}).Warn("unknown monitor event")
		}
	}
}
