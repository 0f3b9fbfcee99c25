package flowctl

import (
	"time"
)

// Event is a backpressure notification published by a
// BackpressureMonitor. Concrete types are SaturatedEvent and
// DrainedEvent.
type Event interface {
	// When returns the time the event was observed.
	When() time.Time
}

// SaturatedEvent is published when a write is refused by the sink.
type SaturatedEvent struct {
	// OccupiedBytes is the sink occupancy at the time of refusal.
	OccupiedBytes int64
	// CapacityBytes is the sink's configured capacity.
	CapacityBytes int64
	// Timestamp is when the refusal was observed.
	Timestamp time.Time
}

// When returns the event timestamp.
func (e SaturatedEvent) When() time.Time { return e.Timestamp }

// DrainedEvent is published when the sink reports its buffer has drained
// and writes are invited again.
type DrainedEvent struct {
	// OccupiedBytes is the sink occupancy after the drain.
	OccupiedBytes int64
	// Timestamp is when the drain was observed.
	Timestamp time.Time
}

// When returns the event timestamp.
func (e DrainedEvent) When() time.Time { return e.Timestamp }
