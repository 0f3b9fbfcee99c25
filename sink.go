package flowctl

// Sink is the write side of a transport connection as seen by the flow
// control layer. Implementations buffer submitted payloads and transmit
// them in submission order.
//
// Send hands a payload to the sink. The boolean result is the flow control
// signal: false means the sink's buffer has reached or exceeded its
// high-water mark and the caller should stop sending until a drain
// notification arrives. Acceptance is all-or-nothing: a false result with
// a nil error means nothing was buffered, so the caller may resubmit the
// same payload after the drain without duplicating data.
//
// OccupiedBytes and BufferCapacity report the sink's current buffer
// occupancy and its configured capacity. Both are atomic snapshots safe
// for concurrent use with Send.
//
// NotifyDrain registers a persistent observer invoked once per saturation
// episode when the buffer has drained back below the sink's resume level.
// Observers must not block; long work should be handed off.
type Sink interface {
	Send(p []byte) (accepted bool, err error)
	OccupiedBytes() int64
	BufferCapacity() int64
	NotifyDrain(fn func())
	Close() error
}
