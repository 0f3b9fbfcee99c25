package pool

import (
	"sync"
	"time"

	"github.com/go-i2p/go-flowctl"
	"github.com/go-i2p/go-flowctl/internal"
	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
)

// PooledConn is a pool-managed connection: an opaque id, a lifecycle
// state, cumulative counters, and the flow-controlled sink it wraps.
// While pool-managed it is a member of exactly one of the pool's
// available or in-use sets; its counters are mutated only by whichever
// component currently holds it.
type PooledConn struct {
	// id is the connection's opaque identity
	id string

	// target is the remote endpoint this connection was dialed to
	target string

	// sink is the transport handle, bound once established
	sink flowctl.Sink

	// state tracks the connection lifecycle
	state internal.ConnState

	// stateMutex protects state transitions
	stateMutex sync.RWMutex

	// metrics tracks cumulative per-connection counters
	metrics *internal.ConnMetrics

	// lastUsed and establishedAt are maintained by the pool under its
	// own lock
	lastUsed      time.Time
	establishedAt time.Time
}

// newPooledConn creates a connection record in the Created state.
func newPooledConn(target string) *PooledConn {
	return &PooledConn{
		id:      uuid.New().String(),
		target:  target,
		state:   internal.StateCreated,
		metrics: internal.NewConnMetrics(),
	}
}

// ID returns the connection's opaque identity.
func (c *PooledConn) ID() string {
	return c.id
}

// Target returns the remote endpoint the connection was dialed to.
func (c *PooledConn) Target() string {
	return c.target
}

// Sink returns the flow-controlled transport handle. Nil until the
// connection is established.
func (c *PooledConn) Sink() flowctl.Sink {
	return c.sink
}

// State returns the current lifecycle state.
func (c *PooledConn) State() internal.ConnState {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()
	return c.state
}

// Healthy reports whether the connection is established and usable:
// connected, not closed, not mid-handshake.
func (c *PooledConn) Healthy() bool {
	return c.State() == internal.StateConnected
}

// Metrics returns cumulative bytes read, bytes written, and reuse count.
func (c *PooledConn) Metrics() (bytesRead, bytesWritten, reuseCount int64) {
	return c.metrics.GetStats()
}

// Age returns the time elapsed since the connection record was created.
func (c *PooledConn) Age() time.Duration {
	return c.metrics.Age()
}

// Close transitions the connection to Closed and closes its sink.
// Idempotent.
func (c *PooledConn) Close() error {
	c.stateMutex.Lock()
	if c.state == internal.StateClosed {
		c.stateMutex.Unlock()
		return nil
	}
	old := c.state
	c.state = internal.StateClosed
	c.stateMutex.Unlock()

	log.WithFields(logrus.Fields{
		"conn_id":   c.id,
		"target":    c.target,
		"old_state": old.String(),
	}).Debug("Closing pooled connection")

	if c.sink == nil {
		return nil
	}
	if err := c.sink.Close(); err != nil {
		return oops.
			Code(CodeEstablishFailed).
			In("pool").
			With("conn_id", c.id).
			With("target", c.target).
			Wrapf(err, "failed to close connection sink")
	}
	return nil
}

// bind attaches the established sink and moves the connection to the
// Connected state.
func (c *PooledConn) bind(sink flowctl.Sink) {
	c.sink = sink
	c.setState(internal.StateConnected)
}

// setState sets the lifecycle state in a thread-safe manner.
func (c *PooledConn) setState(newState internal.ConnState) {
	c.stateMutex.Lock()
	oldState := c.state
	c.state = newState
	c.stateMutex.Unlock()

	log.WithFields(logrus.Fields{
		"conn_id":   c.id,
		"old_state": oldState.String(),
		"new_state": newState.String(),
	}).Debug("Connection state changed")
}
