package flowctl

import (
	"net"
	"sync"
	"time"

	"github.com/go-i2p/go-flowctl/internal"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

// BufferedSink adapts a net.Conn to the Sink contract. Payloads are held
// in a bounded in-memory queue and transmitted to the connection in
// submission order by a background flusher goroutine.
//
// Send buffers the payload when it fits within the remaining capacity and
// returns accepted=false once occupancy has reached the configured
// high-water mark; a payload that does not fit at all is not buffered and
// also reported as not accepted. Occupancy therefore never exceeds the
// declared capacity. Drain observers fire once per saturation episode,
// after occupancy has fallen back to the low-water mark.
type BufferedSink struct {
	// underlying is the wrapped network connection
	underlying net.Conn

	// config contains the buffering and watermark policy
	config *SinkConfig

	// metrics tracks cumulative connection counters
	metrics *internal.ConnMetrics

	// mu guards the queue, occupancy, and episode state
	mu   sync.Mutex
	cond *sync.Cond

	// queue holds pending payloads in submission order
	queue [][]byte

	// occupied is the total bytes currently buffered
	occupied int64

	// saturated marks an in-progress saturation episode
	saturated bool

	// drainFns are persistent drain observers
	drainFns []func()

	closed  bool
	sendErr error

	// done is closed when the flusher goroutine exits
	done chan struct{}

	// logger for sink events
	logger *logger.Logger
}

// NewBufferedSink creates a BufferedSink over the given connection and
// starts its flusher. A nil config selects the defaults from
// NewSinkConfig.
func NewBufferedSink(conn net.Conn, config *SinkConfig) (*BufferedSink, error) {
	if conn == nil {
		return nil, oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			Errorf("underlying connection cannot be nil")
	}

	if config == nil {
		config = NewSinkConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, oops.
			Code(CodeInvalidConfig).
			In("flowctl").
			Wrapf(err, "sink config validation failed")
	}

	bs := &BufferedSink{
		underlying: conn,
		config:     config,
		metrics:    internal.NewConnMetrics(),
		done:       make(chan struct{}),
		logger:     log,
	}
	bs.cond = sync.NewCond(&bs.mu)

	go bs.flushLoop()

	bs.logger.WithFields(logrus.Fields{
		"capacity":   config.BufferCapacity,
		"high_water": config.HighWaterMark,
		"low_water":  config.LowWaterMark,
	}).Debug("BufferedSink created")

	return bs, nil
}

// Send buffers p for ordered transmission. Acceptance is all-or-nothing:
// accepted=true means p was enqueued in full, accepted=false means
// nothing was buffered and the caller should pause until the next drain
// notification. A send is refused when occupancy has already reached the
// high-water mark or when p does not fit within the remaining capacity.
// A closed sink fails with a SINK_CLOSED error and buffers nothing.
func (bs *BufferedSink) Send(p []byte) (bool, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.closed {
		return false, oops.
			Code(CodeSinkClosed).
			In("flowctl").
			With("payload_len", len(p)).
			Errorf("send on closed sink")
	}

	free := bs.config.BufferCapacity - bs.occupied
	if bs.occupied >= bs.config.HighWaterMark || int64(len(p)) > free {
		bs.saturated = true
		bs.logger.WithFields(logrus.Fields{
			"payload_len": len(p),
			"free":        free,
			"occupied":    bs.occupied,
		}).Debug("Payload refused, sink saturated")
		return false, nil
	}

	buf := make([]byte, len(p))
	copy(buf, p)
	bs.queue = append(bs.queue, buf)
	bs.occupied += int64(len(p))
	bs.cond.Signal()

	// Crossing the high-water mark opens a saturation episode even though
	// this payload itself was accepted; the drain observers re-arm once
	// occupancy falls back to the low-water mark.
	if bs.occupied >= bs.config.HighWaterMark {
		bs.saturated = true
	}
	return true, nil
}

// OccupiedBytes returns the bytes currently buffered.
func (bs *BufferedSink) OccupiedBytes() int64 {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.occupied
}

// BufferCapacity returns the configured buffer capacity.
func (bs *BufferedSink) BufferCapacity() int64 {
	return bs.config.BufferCapacity
}

// NotifyDrain registers a persistent drain observer. Observers fire at
// most once per saturation episode and must not block.
func (bs *BufferedSink) NotifyDrain(fn func()) {
	if fn == nil {
		return
	}
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.drainFns = append(bs.drainFns, fn)
}

// Read reads received data from the underlying connection and tracks the
// bytes-read counter. Reads bypass the write buffer entirely.
func (bs *BufferedSink) Read(b []byte) (int, error) {
	n, err := bs.underlying.Read(b)
	if n > 0 {
		bs.metrics.AddBytesRead(int64(n))
	}
	if err != nil {
		return n, oops.
			Code(CodeSendFailed).
			In("flowctl").
			With("remote_addr", bs.underlying.RemoteAddr().String()).
			Wrapf(err, "underlying connection read failed")
	}
	return n, nil
}

// Metrics returns cumulative bytes read, bytes written, and reuse count.
func (bs *BufferedSink) Metrics() (bytesRead, bytesWritten, reuseCount int64) {
	return bs.metrics.GetStats()
}

// RemoteAddr returns the remote address of the underlying connection.
func (bs *BufferedSink) RemoteAddr() net.Addr {
	return bs.underlying.RemoteAddr()
}

// Close stops the flusher, discards buffered data, and closes the
// underlying connection. It is idempotent.
func (bs *BufferedSink) Close() error {
	bs.mu.Lock()
	if bs.closed {
		bs.mu.Unlock()
		return nil
	}
	bs.closed = true
	bs.queue = nil
	bs.occupied = 0
	bs.cond.Broadcast()
	bs.mu.Unlock()

	<-bs.done

	bs.logger.Debug("Closing BufferedSink")

	if err := bs.underlying.Close(); err != nil {
		return oops.
			Code(CodeCloseFailed).
			In("flowctl").
			Wrapf(err, "failed to close underlying connection")
	}
	return nil
}

// flushLoop transmits buffered payloads in order until the sink closes.
func (bs *BufferedSink) flushLoop() {
	defer close(bs.done)

	for {
		payload, ok := bs.nextPayload()
		if !ok {
			return
		}

		if err := bs.transmit(payload); err != nil {
			bs.failPending(err)
			return
		}

		bs.completeFlush(int64(len(payload)))
	}
}

// nextPayload blocks until a payload is queued or the sink closes.
func (bs *BufferedSink) nextPayload() ([]byte, bool) {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	for len(bs.queue) == 0 && !bs.closed {
		bs.cond.Wait()
	}
	if bs.closed {
		return nil, false
	}

	payload := bs.queue[0]
	bs.queue = bs.queue[1:]
	return payload, true
}

// transmit writes one payload to the underlying connection, chunked to
// the configured flush size, honoring the write timeout.
func (bs *BufferedSink) transmit(payload []byte) error {
	if bs.config.WriteTimeout > 0 {
		deadline := time.Now().Add(bs.config.WriteTimeout)
		if err := bs.underlying.SetWriteDeadline(deadline); err != nil {
			return oops.
				Code(CodeSendFailed).
				In("flowctl").
				With("timeout", bs.config.WriteTimeout).
				Wrapf(err, "failed to set write deadline")
		}
	}

	chunk := bs.config.FlushChunkSize
	for off := int64(0); off < int64(len(payload)); off += chunk {
		end := off + chunk
		if end > int64(len(payload)) {
			end = int64(len(payload))
		}
		if _, err := bs.underlying.Write(payload[off:end]); err != nil {
			return oops.
				Code(CodeSendFailed).
				In("flowctl").
				With("remote_addr", bs.underlying.RemoteAddr().String()).
				With("payload_len", len(payload)).
				Wrapf(err, "underlying connection write failed")
		}
	}

	bs.metrics.AddBytesWritten(int64(len(payload)))
	return nil
}

// completeFlush updates occupancy after a successful transmit and fires
// drain observers when a saturation episode ends. A close may have
// raced the transmit and already zeroed the occupancy; in that case the
// decrement is skipped and no observers fire.
func (bs *BufferedSink) completeFlush(n int64) {
	bs.mu.Lock()
	if bs.closed {
		bs.mu.Unlock()
		return
	}
	bs.occupied -= n
	var fns []func()
	if bs.saturated && bs.occupied <= bs.config.LowWaterMark {
		bs.saturated = false
		fns = make([]func(), len(bs.drainFns))
		copy(fns, bs.drainFns)
	}
	bs.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	if fns != nil {
		bs.logger.WithFields(logrus.Fields{
			"occupied":  bs.OccupiedBytes(),
			"observers": len(fns),
		}).Debug("Buffer drained")
	}
}

// failPending marks the sink failed after a transmit error. Subsequent
// sends report the sink as closed.
func (bs *BufferedSink) failPending(err error) {
	bs.mu.Lock()
	bs.closed = true
	bs.sendErr = err
	bs.queue = nil
	bs.occupied = 0
	bs.mu.Unlock()

	bs.logger.WithError(err).Error("BufferedSink flush failed, sink closed")

	if closeErr := bs.underlying.Close(); closeErr != nil {
		bs.logger.WithError(closeErr).Warn("failed to close underlying connection after flush failure")
	}
}

// Err returns the transmit error that closed the sink, if any.
func (bs *BufferedSink) Err() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.sendErr
}
